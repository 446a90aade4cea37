// Package twitter collects posts from the X API v2 recent search endpoint.
package twitter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mohammad-safakhou/vizier/internal/httpclient"
	"github.com/mohammad-safakhou/vizier/internal/sources"
)

const defaultBaseURL = "https://api.twitter.com/2"

// Config configures the client. MinEngagement drops posts whose
// likes+retweets+replies fall below it.
type Config struct {
	BearerToken   string
	BaseURL       string
	Lang          string
	MinEngagement int
	Timeout       time.Duration
	Retries       int
}

// Client searches recent posts.
type Client struct {
	cfg  Config
	http *httpclient.Client
}

func New(cfg Config) (*Client, error) {
	if cfg.BearerToken == "" {
		return nil, errors.New("twitter: bearer token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: httpclient.New(cfg.Timeout, cfg.Retries, 0)}, nil
}

type metrics struct {
	RetweetCount int `json:"retweet_count"`
	ReplyCount   int `json:"reply_count"`
	LikeCount    int `json:"like_count"`
	QuoteCount   int `json:"quote_count"`
}

func (m metrics) engagement() int {
	return m.LikeCount + m.RetweetCount + m.ReplyCount + m.QuoteCount
}

type searchResponse struct {
	Data []struct {
		ID            string    `json:"id"`
		Text          string    `json:"text"`
		AuthorID      string    `json:"author_id"`
		CreatedAt     time.Time `json:"created_at"`
		PublicMetrics metrics   `json:"public_metrics"`
	} `json:"data"`
	Includes struct {
		Users []struct {
			ID       string `json:"id"`
			Username string `json:"username"`
			Name     string `json:"name"`
		} `json:"users"`
	} `json:"includes"`
}

// BuildQuery appends the operators every search uses: no retweets and the
// configured language.
func (c *Client) BuildQuery(q string) string {
	parts := []string{strings.TrimSpace(q), "-is:retweet"}
	if c.cfg.Lang != "" {
		parts = append(parts, "lang:"+c.cfg.Lang)
	}
	return strings.Join(parts, " ")
}

// Search returns up to limit posts for query scored by relative engagement.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]sources.Source, error) {
	v := url.Values{}
	v.Set("query", c.BuildQuery(query))
	v.Set("max_results", strconv.Itoa(clamp(limit, 10, 100)))
	v.Set("tweet.fields", "created_at,public_metrics,author_id")
	v.Set("expansions", "author_id")
	v.Set("user.fields", "username,name")

	var raw searchResponse
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.BearerToken}
	if err := c.http.DoJSON(ctx, http.MethodGet, c.cfg.BaseURL+"/tweets/search/recent?"+v.Encode(), headers, nil, &raw); err != nil {
		return nil, fmt.Errorf("recent search: %w", err)
	}

	users := make(map[string]string, len(raw.Includes.Users))
	for _, u := range raw.Includes.Users {
		users[u.ID] = u.Username
	}
	top := 0
	for _, t := range raw.Data {
		if e := t.PublicMetrics.engagement(); e > top {
			top = e
		}
	}

	out := make([]sources.Source, 0, len(raw.Data))
	for _, t := range raw.Data {
		eng := t.PublicMetrics.engagement()
		if eng < c.cfg.MinEngagement {
			continue
		}
		username := users[t.AuthorID]
		if username == "" {
			username = "i"
		}
		created := t.CreatedAt
		score := 0.0
		if top > 0 {
			score = float64(eng) / float64(top)
		}
		out = append(out, sources.Source{
			URL:            fmt.Sprintf("https://x.com/%s/status/%s", username, t.ID),
			Title:          "@" + username,
			Content:        sources.PlainText(t.Text),
			RelevanceScore: score,
			SourceType:     sources.TypeTwitter,
			Timestamp:      &created,
			Metadata: map[string]interface{}{
				"tweet_id": t.ID,
				"likes":    t.PublicMetrics.LikeCount,
				"retweets": t.PublicMetrics.RetweetCount,
				"replies":  t.PublicMetrics.ReplyCount,
			},
		})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
