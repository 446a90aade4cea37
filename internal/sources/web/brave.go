package web

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mohammad-safakhou/vizier/internal/httpclient"
	"github.com/mohammad-safakhou/vizier/internal/sources"
)

const braveURL = "https://api.search.brave.com/res/v1/web/search"

// Brave queries the Brave Search web endpoint.
type Brave struct {
	apiKey  string
	baseURL string
	http    *httpclient.Client
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
			PageAge     string `json:"page_age"`
		} `json:"results"`
	} `json:"web"`
}

func (b *Brave) Search(ctx context.Context, query string, limit int) ([]sources.Source, error) {
	q := url.Values{}
	q.Set("q", query)
	if limit > 0 {
		q.Set("count", strconv.Itoa(limit))
	}
	var raw braveResponse
	headers := map[string]string{"X-Subscription-Token": b.apiKey}
	if err := b.http.DoJSON(ctx, http.MethodGet, b.baseURL+"?"+q.Encode(), headers, nil, &raw); err != nil {
		return nil, err
	}
	items := raw.Web.Results
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	out := make([]sources.Source, 0, len(items))
	for i, it := range items {
		src := sources.Source{
			URL:            it.URL,
			Title:          sources.PlainText(it.Title),
			Content:        sources.PlainText(it.Description),
			RelevanceScore: positionScore(i, len(items)),
			SourceType:     sources.TypeWeb,
			Metadata:       map[string]interface{}{"provider": string(BraveProvider), "query": query},
		}
		if ts, ok := parsePageAge(it.PageAge); ok {
			src.Timestamp = &ts
		}
		out = append(out, src)
	}
	return out, nil
}

var _ Searcher = (*Brave)(nil)

func parsePageAge(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}
