package web

import (
	"context"
	"net/http"

	"github.com/mohammad-safakhou/vizier/internal/httpclient"
	"github.com/mohammad-safakhou/vizier/internal/sources"
)

const serperURL = "https://google.serper.dev/search"

// Serper queries google.serper.dev.
type Serper struct {
	apiKey  string
	baseURL string
	http    *httpclient.Client
}

type serperResponse struct {
	Organic []struct {
		Title    string `json:"title"`
		Link     string `json:"link"`
		Snippet  string `json:"snippet"`
		Date     string `json:"date"`
		Position int    `json:"position"`
	} `json:"organic"`
}

func (s *Serper) Search(ctx context.Context, query string, limit int) ([]sources.Source, error) {
	var raw serperResponse
	headers := map[string]string{"X-API-KEY": s.apiKey}
	body := map[string]any{"q": query, "num": limit}
	if err := s.http.DoJSON(ctx, http.MethodPost, s.baseURL, headers, body, &raw); err != nil {
		return nil, err
	}
	items := raw.Organic
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	out := make([]sources.Source, 0, len(items))
	for i, it := range items {
		src := sources.Source{
			URL:            it.Link,
			Title:          sources.PlainText(it.Title),
			Content:        sources.PlainText(it.Snippet),
			RelevanceScore: positionScore(i, len(items)),
			SourceType:     sources.TypeWeb,
			Metadata:       map[string]interface{}{"provider": string(SerperProvider), "query": query},
		}
		if it.Date != "" {
			src.Metadata["date"] = it.Date
		}
		out = append(out, src)
	}
	return out, nil
}

var _ Searcher = (*Serper)(nil)
