package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/vizier/internal/broadcast"
	"github.com/mohammad-safakhou/vizier/internal/llm"
	"github.com/mohammad-safakhou/vizier/internal/stage"
	"github.com/mohammad-safakhou/vizier/internal/store"
	"github.com/mohammad-safakhou/vizier/internal/tracker"
)

// GenerateDraft creates a draft for a reviewed query and writes it in the
// background. It returns the new draft id.
func (p *Pipeline) GenerateDraft(ctx context.Context, userID, queryID string) (string, error) {
	if strings.TrimSpace(queryID) == "" {
		return "", fmt.Errorf("%w: query_id is required", ErrInvalid)
	}
	q, err := p.store.GetQuery(ctx, queryID, userID)
	if err != nil {
		return "", err
	}
	if err := p.claim(queryID); err != nil {
		return "", err
	}
	release := true
	defer func() {
		if release {
			p.inflight.Delete(queryID)
		}
	}()
	if _, err := p.require(ctx, stage.KindQuery, queryID, stage.SourceReviewCompleted); err != nil {
		return "", err
	}

	draftID, err := p.store.CreateDraft(ctx, queryID, userID)
	if err != nil {
		return "", err
	}
	if _, err := p.tracker.Create(ctx, stage.KindDraft, draftID); err != nil {
		p.abandonDraft(ctx, draftID, err)
		return "", err
	}
	if _, err := p.tracker.Advance(ctx, queryID, stage.WritingStarted, map[string]interface{}{"draft_id": draftID}); err != nil {
		p.abandonDraft(ctx, draftID, err)
		return "", err
	}
	p.setQueryStatus(ctx, queryID, store.QueryStatusWriting)

	release = false
	p.background("Pipeline.GenerateDraft", queryID, func(ctx context.Context) error {
		if err := p.write(ctx, q, draftID); err != nil {
			p.abandonDraft(ctx, draftID, err)
			p.failQuery(ctx, queryID, err)
			return err
		}
		return nil
	})
	return draftID, nil
}

// abandonDraft marks a draft that will never be written as failed.
func (p *Pipeline) abandonDraft(ctx context.Context, draftID string, cause error) {
	p.logger.Printf("draft %s abandoned: %v", draftID, cause)
	if err := p.store.SetDraftStatus(ctx, draftID, store.DraftStatusFailed, nil); err != nil {
		p.logger.Printf("mark draft %s failed: %v", draftID, err)
	}
}

func (p *Pipeline) write(ctx context.Context, q store.QueryRecord, draftID string) error {
	content, err := p.llm.Complete(ctx, llm.Request{Messages: draftPrompt(q, q.FinalSources)})
	if err != nil {
		return upstream("write draft", err)
	}
	if err := p.store.SaveDraftContent(ctx, draftID, content); err != nil {
		return err
	}
	if _, err := p.tracker.Advance(ctx, draftID, stage.DraftCompleted, map[string]interface{}{"length": len(content)}); err != nil {
		return err
	}
	if _, err := p.tracker.Advance(ctx, q.ID, stage.DraftReady, map[string]interface{}{"draft_id": draftID}); err != nil {
		return err
	}
	p.setQueryStatus(ctx, q.ID, store.QueryStatusDraftReady)
	return nil
}

// GetDraft returns the caller's draft.
func (p *Pipeline) GetDraft(ctx context.Context, userID, id string) (store.DraftRecord, error) {
	return p.store.GetDraft(ctx, id, userID)
}

// DraftState returns the tracked stage of the caller's draft.
func (p *Pipeline) DraftState(ctx context.Context, userID, id string) (tracker.State, error) {
	if _, err := p.store.GetDraft(ctx, id, userID); err != nil {
		return tracker.State{}, err
	}
	return p.tracker.CurrentState(ctx, id)
}

// SubscribeDraft opens a progress stream for the caller's draft.
func (p *Pipeline) SubscribeDraft(ctx context.Context, userID, id string) (*broadcast.Subscription, error) {
	if _, err := p.store.GetDraft(ctx, id, userID); err != nil {
		return nil, err
	}
	return p.tracker.Subscribe(ctx, id)
}

// AcceptDraft accepts a completed draft and completes its query.
func (p *Pipeline) AcceptDraft(ctx context.Context, userID, id string) error {
	d, err := p.store.GetDraft(ctx, id, userID)
	if err != nil {
		return err
	}
	// The draft turns terminal first, so the query must already be able to
	// take draft_approved.
	if _, err := p.require(ctx, stage.KindQuery, d.QueryID, stage.DraftReady); err != nil {
		return err
	}
	if _, err := p.tracker.Advance(ctx, id, stage.DraftAccepted, map[string]interface{}{}); err != nil {
		return err
	}
	if err := p.store.SetDraftStatus(ctx, id, store.DraftStatusAccepted, nil); err != nil {
		p.logger.Printf("set draft %s accepted: %v", id, err)
	}
	if _, err := p.tracker.Advance(ctx, d.QueryID, stage.DraftApproved, map[string]interface{}{"draft_id": id}); err != nil {
		return err
	}
	if _, err := p.tracker.Advance(ctx, d.QueryID, stage.Completed, map[string]interface{}{"draft_id": id}); err != nil {
		return err
	}
	p.setQueryStatus(ctx, d.QueryID, store.QueryStatusCompleted)
	return nil
}

// RejectDraft rejects a completed draft with feedback. The query stays at
// draft_ready.
func (p *Pipeline) RejectDraft(ctx context.Context, userID, id, feedback string) error {
	d, err := p.store.GetDraft(ctx, id, userID)
	if err != nil {
		return err
	}
	if _, err := p.require(ctx, stage.KindQuery, d.QueryID, stage.DraftReady); err != nil {
		return err
	}
	if _, err := p.tracker.Advance(ctx, id, stage.DraftRejected, map[string]interface{}{"feedback": feedback}); err != nil {
		return err
	}
	if err := p.store.SetDraftStatus(ctx, id, store.DraftStatusRejected, &feedback); err != nil {
		return err
	}
	return nil
}
