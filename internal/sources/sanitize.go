package sources

import (
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	plainPolicyOnce sync.Once
	plainPolicy     *bluemonday.Policy
)

// PlainText strips every tag from provider text (Brave wraps matches in
// <strong>, tweets arrive entity-encoded), decodes entities and collapses
// whitespace.
func PlainText(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	plainPolicyOnce.Do(func() {
		plainPolicy = bluemonday.StrictPolicy()
	})
	out := html.UnescapeString(plainPolicy.Sanitize(s))
	return strings.Join(strings.Fields(out), " ")
}
