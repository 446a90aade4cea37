package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/vizier/internal/llm"
	"github.com/mohammad-safakhou/vizier/internal/sources"
	"github.com/mohammad-safakhou/vizier/internal/store"
)

func refinePrompt(text string) []llm.Message {
	return []llm.Message{
		{Role: "system", Content: "You are a research query refinement assistant. Improve the clarity and specificity of research queries. Reply with the refined query only."},
		{Role: "user", Content: "Please refine this research query: " + text},
	}
}

func routingPrompt(text string, web, twitter bool) []llm.Message {
	return []llm.Message{
		{Role: "system", Content: fmt.Sprintf(`You route research queries to source providers.
Available providers: web=%t, twitter=%t.
Reply with a JSON object: {"use_web": bool, "use_twitter": bool, "web_query": string, "web_queries": [string], "twitter_query": string, "reason": string}.
web_queries may hold up to %d alternative web phrasings that cover other angles of the question.
Keep provider queries short and keyword focused.`, web, twitter, maxWebQueries-1)},
		{Role: "user", Content: text},
	}
}

func draftPrompt(q store.QueryRecord, final []sources.Source) []llm.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Research question: %s\n\nSources:\n", queryText(q))
	for i, s := range final {
		fmt.Fprintf(&b, "[%d] %s (%s)\n%s\n\n", i+1, s.Title, s.URL, s.Content)
	}
	b.WriteString("Write a well structured markdown report answering the question. Cite sources inline as [n].")
	return []llm.Message{
		{Role: "system", Content: "You are a careful research writer. Only state what the sources support."},
		{Role: "user", Content: b.String()},
	}
}

// parseRouting accepts the model's JSON, tolerating a fenced code block.
func parseRouting(raw string) (store.Routing, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	var r store.Routing
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &r); err != nil {
		return store.Routing{}, fmt.Errorf("parse routing: %w", err)
	}
	return r, nil
}
