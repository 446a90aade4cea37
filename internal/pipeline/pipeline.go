// Package pipeline drives a research query from submission to an accepted
// draft, advancing the stage tracker as each step completes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mohammad-safakhou/vizier/internal/llm"
	"github.com/mohammad-safakhou/vizier/internal/sources"
	"github.com/mohammad-safakhou/vizier/internal/stage"
	"github.com/mohammad-safakhou/vizier/internal/store"
	"github.com/mohammad-safakhou/vizier/internal/tracker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	// ErrInvalid marks a request the caller must fix.
	ErrInvalid = errors.New("invalid request")
	// ErrUpstream marks a failed LLM or search provider call.
	ErrUpstream = errors.New("upstream provider failed")
	// ErrInProgress is returned when a background step already runs for the process.
	ErrInProgress = errors.New("step already in progress")
)

var tracer = otel.Tracer("vizier/internal/pipeline")

// Store is the persistence the pipeline needs.
type Store interface {
	CreateQuery(ctx context.Context, userID, text string) (string, error)
	GetQuery(ctx context.Context, id, userID string) (store.QueryRecord, error)
	SetQueryStatus(ctx context.Context, id, status string) error
	FailQuery(ctx context.Context, id string, cause error) error
	UpdateRefinedQuery(ctx context.Context, id, refined string) error
	SaveRouting(ctx context.Context, id string, r store.Routing) error
	SaveSources(ctx context.Context, id string, web, twitter []sources.Source) error
	SaveFinalSources(ctx context.Context, id string, final []sources.Source) error
	CreateDraft(ctx context.Context, queryID, userID string) (string, error)
	GetDraft(ctx context.Context, id, userID string) (store.DraftRecord, error)
	SaveDraftContent(ctx context.Context, id, content string) error
	SetDraftStatus(ctx context.Context, id, status string, feedback *string) error
}

// Searcher is a source provider.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]sources.Source, error)
}

// Options wires a Pipeline. Web and Twitter may be nil; routing never
// selects a provider that is not configured.
type Options struct {
	Store       Store
	Tracker     *tracker.Tracker
	LLM         llm.Completer
	Web         Searcher
	Twitter     Searcher
	StepTimeout time.Duration
	// SourceLimit caps each provider's results after rerank.
	SourceLimit int
	Logger      *log.Logger
}

type Pipeline struct {
	store   Store
	tracker *tracker.Tracker
	llm     llm.Completer
	web     Searcher
	twitter Searcher

	stepTimeout time.Duration
	sourceLimit int
	logger      *log.Logger

	base     context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	inflight sync.Map
}

func New(opts Options) (*Pipeline, error) {
	if opts.Store == nil || opts.Tracker == nil || opts.LLM == nil {
		return nil, errors.New("pipeline: store, tracker and llm are required")
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = 15 * time.Minute
	}
	if opts.SourceLimit <= 0 {
		opts.SourceLimit = 10
	}
	if opts.Logger == nil {
		opts.Logger = log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags)
	}
	base, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		store:       opts.Store,
		tracker:     opts.Tracker,
		llm:         opts.LLM,
		web:         opts.Web,
		twitter:     opts.Twitter,
		stepTimeout: opts.StepTimeout,
		sourceLimit: opts.SourceLimit,
		logger:      opts.Logger,
		base:        base,
		cancel:      cancel,
	}, nil
}

// Wait blocks until every background step has returned.
func (p *Pipeline) Wait() { p.wg.Wait() }

// Close cancels running background steps and waits for them.
func (p *Pipeline) Close() {
	p.cancel()
	p.wg.Wait()
}

// claim reserves id for one background step; release with p.inflight.Delete.
func (p *Pipeline) claim(id string) error {
	if _, busy := p.inflight.LoadOrStore(id, struct{}{}); busy {
		return fmt.Errorf("%w: %s", ErrInProgress, id)
	}
	return nil
}

// background runs fn detached from the request with the step timeout and
// releases the claim on id when done.
func (p *Pipeline) background(name, id string, fn func(ctx context.Context) error) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.inflight.Delete(id)
		ctx, cancel := context.WithTimeout(p.base, p.stepTimeout)
		defer cancel()
		ctx, span := tracer.Start(ctx, name)
		defer span.End()
		span.SetAttributes(attribute.String("process_id", id))
		if err := fn(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			p.logger.Printf("%s %s failed: %v", name, id, err)
		}
	}()
}

// enter advances id to a *_started stage unless it is already there, so a
// step that failed midway can be retried.
func (p *Pipeline) enter(ctx context.Context, id string, s stage.Stage, payload map[string]interface{}) error {
	st, err := p.tracker.CurrentState(ctx, id)
	if err != nil {
		return err
	}
	if st.CurrentStage == s {
		return nil
	}
	_, err = p.tracker.Advance(ctx, id, s, payload)
	return err
}

// require fails with an illegal transition error unless id is at want.
func (p *Pipeline) require(ctx context.Context, kind stage.Kind, id string, want ...stage.Stage) (tracker.State, error) {
	st, err := p.tracker.CurrentState(ctx, id)
	if err != nil {
		return st, err
	}
	if st.Terminal {
		return st, fmt.Errorf("%w: %s %s", stage.ErrAlreadyTerminal, kind, id)
	}
	for _, w := range want {
		if st.CurrentStage == w {
			return st, nil
		}
	}
	return st, &stage.TransitionError{Kind: kind, From: st.CurrentStage, To: want[0]}
}

func upstream(step string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUpstream, step, err)
}

// failQuery records cause on the query row; the tracked stage is left where
// it was.
func (p *Pipeline) failQuery(ctx context.Context, id string, cause error) {
	if err := p.store.FailQuery(ctx, id, cause); err != nil {
		p.logger.Printf("mark query %s failed: %v", id, err)
	}
}

func (p *Pipeline) setQueryStatus(ctx context.Context, id, status string) {
	if err := p.store.SetQueryStatus(ctx, id, status); err != nil {
		p.logger.Printf("set query %s status %s: %v", id, status, err)
	}
}

func queryText(q store.QueryRecord) string {
	if q.RefinedQuery != nil && *q.RefinedQuery != "" {
		return *q.RefinedQuery
	}
	return q.QueryText
}
