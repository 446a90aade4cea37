package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/vizier/internal/broadcast"
	"github.com/mohammad-safakhou/vizier/internal/llm"
	"github.com/mohammad-safakhou/vizier/internal/sources"
	"github.com/mohammad-safakhou/vizier/internal/sources/web"
	"github.com/mohammad-safakhou/vizier/internal/stage"
	"github.com/mohammad-safakhou/vizier/internal/store"
	"github.com/mohammad-safakhou/vizier/internal/tracker"
)

// maxWebQueries caps how many phrasings one web search step runs.
const maxWebQueries = 3

// CreateQuery stores a new query and starts tracking it.
func (p *Pipeline) CreateQuery(ctx context.Context, userID, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: query is required", ErrInvalid)
	}
	id, err := p.store.CreateQuery(ctx, userID, text)
	if err != nil {
		return "", err
	}
	if _, err := p.tracker.Create(ctx, stage.KindQuery, id); err != nil {
		p.failQuery(ctx, id, err)
		return "", err
	}
	return id, nil
}

// GetQuery returns the caller's query.
func (p *Pipeline) GetQuery(ctx context.Context, userID, id string) (store.QueryRecord, error) {
	return p.store.GetQuery(ctx, id, userID)
}

// QueryState returns the tracked stage of the caller's query.
func (p *Pipeline) QueryState(ctx context.Context, userID, id string) (tracker.State, error) {
	if _, err := p.store.GetQuery(ctx, id, userID); err != nil {
		return tracker.State{}, err
	}
	return p.tracker.CurrentState(ctx, id)
}

// QueryHistory returns every accepted transition of the caller's query.
func (p *Pipeline) QueryHistory(ctx context.Context, userID, id string) ([]tracker.Transition, error) {
	if _, err := p.store.GetQuery(ctx, id, userID); err != nil {
		return nil, err
	}
	return p.tracker.History(ctx, id)
}

// SubscribeQuery opens a progress stream for the caller's query.
func (p *Pipeline) SubscribeQuery(ctx context.Context, userID, id string) (*broadcast.Subscription, error) {
	if _, err := p.store.GetQuery(ctx, id, userID); err != nil {
		return nil, err
	}
	return p.tracker.Subscribe(ctx, id)
}

// Refine asks the LLM for a sharper version of the query.
func (p *Pipeline) Refine(ctx context.Context, userID, id string) (string, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.Refine")
	defer span.End()

	q, err := p.store.GetQuery(ctx, id, userID)
	if err != nil {
		return "", err
	}
	if err := p.claim(id); err != nil {
		return "", err
	}
	defer p.inflight.Delete(id)
	if err := p.enter(ctx, id, stage.RefinementStarted, map[string]interface{}{}); err != nil {
		return "", err
	}
	p.setQueryStatus(ctx, id, store.QueryStatusRefining)

	refined, err := p.llm.Complete(ctx, llm.Request{Messages: refinePrompt(q.QueryText)})
	if err != nil {
		err = upstream("refine", err)
		p.failQuery(ctx, id, err)
		return "", err
	}
	if err := p.store.UpdateRefinedQuery(ctx, id, refined); err != nil {
		p.failQuery(ctx, id, err)
		return "", err
	}
	if _, err := p.tracker.Advance(ctx, id, stage.RefinementCompleted, map[string]interface{}{"refined_query": refined}); err != nil {
		return "", err
	}
	p.setQueryStatus(ctx, id, store.QueryStatusPending)
	return refined, nil
}

// CollectSources validates the query is ready, enters routing and runs the
// rest of collection in the background.
func (p *Pipeline) CollectSources(ctx context.Context, userID, id string) error {
	q, err := p.store.GetQuery(ctx, id, userID)
	if err != nil {
		return err
	}
	if err := p.claim(id); err != nil {
		return err
	}
	if _, err := p.require(ctx, stage.KindQuery, id, stage.RefinementCompleted, stage.RoutingStarted); err != nil {
		p.inflight.Delete(id)
		return err
	}
	if err := p.enter(ctx, id, stage.RoutingStarted, map[string]interface{}{}); err != nil {
		p.inflight.Delete(id)
		return err
	}
	p.setQueryStatus(ctx, id, store.QueryStatusCollecting)

	p.background("Pipeline.CollectSources", id, func(ctx context.Context) error {
		if err := p.collect(ctx, q); err != nil {
			p.failQuery(ctx, id, err)
			return err
		}
		return nil
	})
	return nil
}

func (p *Pipeline) collect(ctx context.Context, q store.QueryRecord) error {
	id := q.ID
	text := queryText(q)

	routing, err := p.route(ctx, text)
	if err != nil {
		return err
	}
	if err := p.store.SaveRouting(ctx, id, routing); err != nil {
		return err
	}
	if _, err := p.tracker.Advance(ctx, id, stage.RoutingCompleted, map[string]interface{}{"routing": routingPayload(routing)}); err != nil {
		return err
	}

	webFound, err := p.search(ctx, id, "web", p.web, routing.UseWeb, routing.WebQueries,
		stage.WebSearchStarted, stage.WebSearchCompleted)
	if err != nil {
		return err
	}
	twitterFound, err := p.search(ctx, id, "twitter", p.twitter, routing.UseTwitter, []string{routing.TwitterQuery},
		stage.TwitterSearchStarted, stage.TwitterSearchCompleted)
	if err != nil {
		return err
	}

	if _, err := p.tracker.Advance(ctx, id, stage.SourceRerankStarted, map[string]interface{}{"candidates": len(webFound) + len(twitterFound)}); err != nil {
		return err
	}
	webFound = sources.Rerank(webFound, p.sourceLimit)
	twitterFound = sources.Rerank(twitterFound, p.sourceLimit)
	counts := map[string]interface{}{"web_count": len(webFound), "twitter_count": len(twitterFound)}
	if _, err := p.tracker.Advance(ctx, id, stage.SourceRerankCompleted, counts); err != nil {
		return err
	}
	if err := p.store.SaveSources(ctx, id, webFound, twitterFound); err != nil {
		return err
	}
	_, err = p.tracker.Advance(ctx, id, stage.SourceReviewReady, counts)
	return err
}

// route asks the LLM which providers to use, then switches off any that
// are not configured.
func (p *Pipeline) route(ctx context.Context, text string) (store.Routing, error) {
	raw, err := p.llm.Complete(ctx, llm.Request{Messages: routingPrompt(text, p.web != nil, p.twitter != nil), JSON: true})
	if err != nil {
		return store.Routing{}, upstream("routing", err)
	}
	r, err := parseRouting(raw)
	if err != nil {
		return store.Routing{}, upstream("routing", err)
	}
	r.UseWeb = r.UseWeb && p.web != nil
	r.UseTwitter = r.UseTwitter && p.twitter != nil
	if r.WebQuery == "" {
		r.WebQuery = text
	}
	r.WebQueries = webQueries(r.WebQuery, r.WebQueries)
	if r.TwitterQuery == "" {
		r.TwitterQuery = text
	}
	return r, nil
}

// webQueries puts primary first, drops blanks and repeats, and keeps at
// most maxWebQueries entries.
func webQueries(primary string, extra []string) []string {
	out := make([]string, 0, maxWebQueries)
	seen := make(map[string]bool, maxWebQueries)
	for _, q := range append([]string{primary}, extra...) {
		q = strings.TrimSpace(q)
		key := strings.ToLower(q)
		if q == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
		if len(out) == maxWebQueries {
			break
		}
	}
	return out
}

// search runs one provider between its started and completed stages,
// fanning out over queries. A provider routed off still passes through both
// stages, marked skipped.
func (p *Pipeline) search(ctx context.Context, id, name string, s Searcher, enabled bool, queries []string, started, completed stage.Stage) ([]sources.Source, error) {
	payload := map[string]interface{}{"skipped": !enabled, "queries": queries}
	if len(queries) > 0 {
		payload["query"] = queries[0]
	}
	if _, err := p.tracker.Advance(ctx, id, started, payload); err != nil {
		return nil, err
	}
	if !enabled {
		_, err := p.tracker.Advance(ctx, id, completed, map[string]interface{}{"count": 0, "skipped": true})
		return nil, err
	}
	found, err := web.SearchAll(ctx, s, queries, p.sourceLimit)
	if err != nil {
		return nil, upstream(name+" search", err)
	}
	_, err = p.tracker.Advance(ctx, id, completed, map[string]interface{}{"count": len(found), "skipped": false})
	return found, err
}

func routingPayload(r store.Routing) map[string]interface{} {
	return map[string]interface{}{
		"use_web":       r.UseWeb,
		"use_twitter":   r.UseTwitter,
		"web_query":     r.WebQuery,
		"web_queries":   r.WebQueries,
		"twitter_query": r.TwitterQuery,
		"reason":        r.Reason,
	}
}

// SubmitReview applies the user's source review and stores the final set.
func (p *Pipeline) SubmitReview(ctx context.Context, userID, id string, review sources.Review) ([]sources.Source, error) {
	q, err := p.store.GetQuery(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if _, err := p.require(ctx, stage.KindQuery, id, stage.SourceReviewReady); err != nil {
		return nil, err
	}
	all := append(append([]sources.Source{}, q.WebSources...), q.TwitterSources...)
	final := sources.ApplyReview(all, review)
	if len(final) == 0 {
		return nil, fmt.Errorf("%w: review leaves no sources", ErrInvalid)
	}
	if err := p.store.SaveFinalSources(ctx, id, final); err != nil {
		return nil, err
	}
	if _, err := p.tracker.Advance(ctx, id, stage.SourceReviewCompleted, map[string]interface{}{"source_count": len(final)}); err != nil {
		return nil, err
	}
	return final, nil
}
