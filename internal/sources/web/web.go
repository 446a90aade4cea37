// Package web searches the open web through Serper or Brave.
package web

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/vizier/internal/httpclient"
	"github.com/mohammad-safakhou/vizier/internal/sources"
	"golang.org/x/sync/errgroup"
)

// Searcher returns up to limit sources for one query.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]sources.Source, error)
}

type Provider string

const (
	SerperProvider Provider = "serper"
	BraveProvider  Provider = "brave"
)

var ErrUnsupportedProvider = errors.New("unsupported web search provider")

// Config selects and configures a provider. BaseURL overrides the
// provider's endpoint.
type Config struct {
	Provider Provider
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
	Retries  int
}

// NewSearcher builds the configured provider.
func NewSearcher(cfg Config) (Searcher, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: api key is required", cfg.Provider)
	}
	hc := httpclient.New(cfg.Timeout, cfg.Retries, 0)
	switch cfg.Provider {
	case SerperProvider:
		return &Serper{apiKey: cfg.APIKey, baseURL: orDefault(cfg.BaseURL, serperURL), http: hc}, nil
	case BraveProvider:
		return &Brave{apiKey: cfg.APIKey, baseURL: orDefault(cfg.BaseURL, braveURL), http: hc}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, cfg.Provider)
	}
}

// SearchAll runs queries concurrently and concatenates results in query
// order. The first failure cancels the rest.
func SearchAll(ctx context.Context, s Searcher, queries []string, limit int) ([]sources.Source, error) {
	results := make([][]sources.Source, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			res, err := s.Search(gctx, q, limit)
			if err != nil {
				return fmt.Errorf("search %q: %w", q, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var out []sources.Source
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

// positionScore gives earlier results a higher relevance in (0, 1].
func positionScore(i, n int) float64 {
	if n <= 0 {
		return 0
	}
	return 1 - float64(i)/float64(n)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
