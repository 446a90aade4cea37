// Package sources holds the source record shared by the search clients,
// the pipeline and the store.
package sources

import (
	"sort"
	"time"
)

// Type identifies where a source came from.
type Type string

const (
	TypeWeb     Type = "web"
	TypeTwitter Type = "twitter"
)

// Source is one collected reference.
type Source struct {
	URL            string                 `json:"url"`
	Title          string                 `json:"title"`
	Content        string                 `json:"content"`
	RelevanceScore float64                `json:"relevance_score"`
	SourceType     Type                   `json:"source_type"`
	Timestamp      *time.Time             `json:"timestamp,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// Rerank drops sources whose canonical URL was already seen, keeping the
// higher scored one, sorts by relevance and caps the result at limit.
// A non-positive limit keeps everything.
func Rerank(in []Source, limit int) []Source {
	best := make(map[string]int, len(in))
	out := make([]Source, 0, len(in))
	for _, s := range in {
		key, err := CanonicalURL(s.URL)
		if err != nil {
			continue
		}
		if i, ok := best[key]; ok {
			if s.RelevanceScore > out[i].RelevanceScore {
				out[i] = s
			}
			continue
		}
		best[key] = len(out)
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RelevanceScore > out[j].RelevanceScore
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Review is a user's verdict on collected sources.
type Review struct {
	Included     []string `json:"included"`
	Excluded     []string `json:"excluded"`
	RerankedURLs []string `json:"reranked_urls"`
}

// ApplyReview keeps the sources the user did not exclude and, when
// Included is non-empty, only those. The result follows RerankedURLs first,
// then the original order.
func ApplyReview(all []Source, r Review) []Source {
	excluded := toSet(r.Excluded)
	included := toSet(r.Included)
	kept := make(map[string]Source, len(all))
	order := make([]string, 0, len(all))
	for _, s := range all {
		if _, ok := excluded[s.URL]; ok {
			continue
		}
		if len(included) > 0 {
			if _, ok := included[s.URL]; !ok {
				continue
			}
		}
		if _, dup := kept[s.URL]; dup {
			continue
		}
		kept[s.URL] = s
		order = append(order, s.URL)
	}

	out := make([]Source, 0, len(kept))
	for _, u := range r.RerankedURLs {
		if s, ok := kept[u]; ok {
			out = append(out, s)
			delete(kept, u)
		}
	}
	for _, u := range order {
		if s, ok := kept[u]; ok {
			out = append(out, s)
		}
	}
	return out
}

func toSet(in []string) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for _, s := range in {
		out[s] = struct{}{}
	}
	return out
}
