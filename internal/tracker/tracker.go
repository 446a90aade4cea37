package tracker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/vizier/internal/broadcast"
	"github.com/mohammad-safakhou/vizier/internal/stage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
)

// ErrProcessExists is returned by Create when the id is already tracked.
var ErrProcessExists = errors.New("process already exists")

var tracer = otel.Tracer("vizier/internal/tracker")

// Transition is one accepted history entry.
type Transition struct {
	Stage     stage.Stage            `json:"stage"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"data"`
}

// Process is the tracked record of one query or draft.
type Process struct {
	ID           string       `json:"id"`
	Kind         stage.Kind   `json:"kind"`
	CurrentStage stage.Stage  `json:"current_stage"`
	Terminal     bool         `json:"terminal"`
	History      []Transition `json:"history"`
	CreatedAt    time.Time    `json:"created_at"`
}

// State is a point-in-time view of a process.
type State struct {
	ProcessID    string                 `json:"process_id"`
	Kind         stage.Kind             `json:"kind"`
	CurrentStage stage.Stage            `json:"current_stage"`
	Terminal     bool                   `json:"terminal"`
	LastPayload  map[string]interface{} `json:"last_payload"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// Record is what a Mirror receives for every accepted transition.
type Record struct {
	ProcessID string
	Kind      stage.Kind
	Seq       int
	Terminal  bool
	Transition
}

// Repository persists processes. AppendTransition must be atomic: either the
// history row and the current stage are both written or neither is.
type Repository interface {
	CreateProcess(ctx context.Context, p Process) error
	AppendTransition(ctx context.Context, processID string, seq int, t Transition, terminal bool) error
	LoadProcess(ctx context.Context, processID string) (Process, bool, error)
}

// Mirror receives accepted transitions after they are committed. Mirror
// failures are logged and never undo a transition.
type Mirror interface {
	MirrorTransition(ctx context.Context, rec Record) error
}

// Options configures a Tracker. Broadcaster is required.
type Options struct {
	Repository  Repository
	Broadcaster *broadcast.Broadcaster
	Mirror      Mirror
	Logger      *log.Logger
	Now         func() time.Time
	// IdleTTL is how long an unwatched, non-terminal process stays resident
	// after its last access. It only applies with a Repository, since
	// evicted processes are reloaded from it on demand.
	IdleTTL time.Duration
}

// DefaultIdleTTL is used when Options.IdleTTL is zero.
const DefaultIdleTTL = 10 * time.Minute

// Tracker owns the authoritative stage of every tracked process.
type Tracker struct {
	mu      sync.RWMutex
	entries map[string]*entry
	loads   singleflight.Group

	repo    Repository
	bc      *broadcast.Broadcaster
	mirror  Mirror
	logger  *log.Logger
	now     func() time.Time
	idleTTL time.Duration
}

type entry struct {
	mu      sync.Mutex
	proc    Process
	evicted bool
	used    time.Time
}

// New builds a Tracker. Without a Repository every process lives in memory
// for the lifetime of the Tracker.
func New(opts Options) (*Tracker, error) {
	if opts.Broadcaster == nil {
		return nil, errors.New("tracker: broadcaster is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.New(log.Writer(), "[TRACKER] ", log.LstdFlags)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = DefaultIdleTTL
	}
	return &Tracker{
		entries: make(map[string]*entry),
		repo:    opts.Repository,
		bc:      opts.Broadcaster,
		mirror:  opts.Mirror,
		logger:  opts.Logger,
		now:     opts.Now,
		idleTTL: opts.IdleTTL,
	}, nil
}

// Create starts tracking a new process of the given kind. An empty id gets
// a fresh UUID.
func (t *Tracker) Create(ctx context.Context, kind stage.Kind, id string) (Process, error) {
	initial, err := stage.Initial(kind)
	if err != nil {
		return Process{}, err
	}
	if id == "" {
		id = uuid.NewString()
	}
	now := t.now().UTC()
	p := Process{
		ID:           id,
		Kind:         kind,
		CurrentStage: initial,
		History:      []Transition{{Stage: initial, Timestamp: now, Payload: map[string]interface{}{}}},
		CreatedAt:    now,
	}

	// The entry is published locked so concurrent callers wait for the
	// write instead of observing an unpersisted process.
	e := &entry{proc: p, used: now}
	e.mu.Lock()
	defer e.mu.Unlock()
	t.mu.Lock()
	if _, ok := t.entries[id]; ok {
		t.mu.Unlock()
		return Process{}, fmt.Errorf("%w: %s", ErrProcessExists, id)
	}
	t.entries[id] = e
	t.mu.Unlock()

	if t.repo != nil {
		if err := t.repo.CreateProcess(ctx, p); err != nil {
			t.mu.Lock()
			delete(t.entries, id)
			t.mu.Unlock()
			e.evicted = true
			return Process{}, fmt.Errorf("persist process: %w", err)
		}
	}
	t.bc.Register(id, latestEvent(p))
	return p.clone(), nil
}

// Advance moves a process to next. Only an immediate successor of the
// current stage is accepted; a rejected call leaves the process untouched.
func (t *Tracker) Advance(ctx context.Context, id string, next stage.Stage, payload map[string]interface{}) (broadcast.Event, error) {
	ctx, span := tracer.Start(ctx, "Tracker.Advance")
	defer span.End()
	span.SetAttributes(attribute.String("process_id", id), attribute.String("stage", string(next)))

	var out broadcast.Event
	err := t.withEntry(ctx, id, func(e *entry) error {
		p := &e.proc
		if p.Terminal {
			recordRejected(ctx, p.Kind, "already_terminal")
			return fmt.Errorf("%w: %s %s is at %s", stage.ErrAlreadyTerminal, p.Kind, id, p.CurrentStage)
		}
		if err := stage.CheckTransition(p.Kind, p.CurrentStage, next); err != nil {
			t.logger.Printf("REJECTED transition for %s %s: %v", p.Kind, id, err)
			recordRejected(ctx, p.Kind, "illegal_transition")
			return err
		}

		tr := Transition{Stage: next, Timestamp: t.now().UTC(), Payload: clonePayload(payload)}
		terminal := stage.IsTerminal(p.Kind, next)
		seq := len(p.History)
		if t.repo != nil {
			if err := t.repo.AppendTransition(ctx, id, seq, tr, terminal); err != nil {
				return fmt.Errorf("persist transition: %w", err)
			}
		}
		p.History = append(p.History, tr)
		p.CurrentStage = next
		p.Terminal = terminal

		out = latestEvent(*p)
		if err := t.bc.Publish(id, out); err != nil {
			t.logger.Printf("publish %s %s: %v", id, next, err)
		}
		if t.mirror != nil {
			rec := Record{ProcessID: id, Kind: p.Kind, Seq: seq, Terminal: terminal, Transition: tr}
			if err := t.mirror.MirrorTransition(ctx, rec); err != nil {
				t.logger.Printf("mirror %s %s: %v", id, next, err)
			}
		}
		recordTransition(ctx, p.Kind, next)

		if terminal && t.repo != nil {
			t.mu.Lock()
			delete(t.entries, id)
			t.mu.Unlock()
			e.evicted = true
			t.bc.Unregister(id)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return broadcast.Event{}, err
	}
	return out, nil
}

// CurrentState returns the current stage, terminal flag and last payload.
func (t *Tracker) CurrentState(ctx context.Context, id string) (State, error) {
	var st State
	err := t.withEntry(ctx, id, func(e *entry) error {
		last := e.proc.History[len(e.proc.History)-1]
		st = State{
			ProcessID:    e.proc.ID,
			Kind:         e.proc.Kind,
			CurrentStage: e.proc.CurrentStage,
			Terminal:     e.proc.Terminal,
			LastPayload:  clonePayload(last.Payload),
			UpdatedAt:    last.Timestamp,
		}
		return nil
	})
	return st, err
}

// Get returns a copy of the full process including its history.
func (t *Tracker) Get(ctx context.Context, id string) (Process, error) {
	var p Process
	err := t.withEntry(ctx, id, func(e *entry) error {
		p = e.proc.clone()
		return nil
	})
	return p, err
}

// History returns the ordered transitions of id.
func (t *Tracker) History(ctx context.Context, id string) ([]Transition, error) {
	p, err := t.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return p.History, nil
}

// Subscribe opens a progress stream for id. The process lock is held while
// the replay event is taken, so the replay always precedes the next
// transition.
func (t *Tracker) Subscribe(ctx context.Context, id string) (*broadcast.Subscription, error) {
	var sub *broadcast.Subscription
	err := t.withEntry(ctx, id, func(e *entry) error {
		t.bc.Register(id, latestEvent(e.proc))
		s, err := t.bc.Subscribe(id)
		if err != nil {
			return err
		}
		sub = s
		if e.proc.Terminal && t.repo != nil {
			t.bc.Unregister(id)
		}
		return nil
	})
	return sub, err
}

func (t *Tracker) withEntry(ctx context.Context, id string, fn func(*entry) error) error {
	for {
		e, err := t.lookup(ctx, id)
		if err != nil {
			return err
		}
		e.mu.Lock()
		if e.evicted {
			e.mu.Unlock()
			continue
		}
		err = fn(e)
		e.used = t.now()
		e.mu.Unlock()
		return err
	}
}

// lookup finds an in-memory entry or loads it from the repository.
// Terminal processes loaded from the repository are not cached.
func (t *Tracker) lookup(ctx context.Context, id string) (*entry, error) {
	t.mu.RLock()
	e, ok := t.entries[id]
	t.mu.RUnlock()
	if ok {
		return e, nil
	}
	if t.repo == nil {
		return nil, fmt.Errorf("%w: %s", stage.ErrUnknownProcess, id)
	}

	v, err, _ := t.loads.Do(id, func() (interface{}, error) {
		t.mu.RLock()
		e, ok := t.entries[id]
		t.mu.RUnlock()
		if ok {
			return e, nil
		}
		p, found, err := t.repo.LoadProcess(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load process: %w", err)
		}
		if !found || len(p.History) == 0 {
			return nil, fmt.Errorf("%w: %s", stage.ErrUnknownProcess, id)
		}
		e = &entry{proc: p, used: t.now()}
		if p.Terminal {
			return e, nil
		}
		t.mu.Lock()
		if existing, ok := t.entries[id]; ok {
			e = existing
		} else {
			t.entries[id] = e
			t.bc.Register(id, latestEvent(p))
		}
		t.mu.Unlock()
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*entry), nil
}

// EvictIdle drops resident processes that are not terminal, have no
// subscribers and have not been touched for the idle TTL. Their broadcast
// topics are released too. It is a no-op without a Repository. It returns
// the number of evicted processes.
func (t *Tracker) EvictIdle() int {
	if t.repo == nil {
		return 0
	}
	t.mu.RLock()
	candidates := make([]*entry, 0, len(t.entries))
	for _, e := range t.entries {
		candidates = append(candidates, e)
	}
	t.mu.RUnlock()

	cutoff := t.now().Add(-t.idleTTL)
	evicted := 0
	for _, e := range candidates {
		// Same lock order as Advance: entry first, then the map.
		e.mu.Lock()
		id := e.proc.ID
		if e.evicted || !e.used.Before(cutoff) || t.bc.Subscribers(id) > 0 {
			e.mu.Unlock()
			continue
		}
		t.mu.Lock()
		if t.entries[id] == e {
			delete(t.entries, id)
		}
		t.mu.Unlock()
		e.evicted = true
		t.bc.Unregister(id)
		e.mu.Unlock()
		evicted++
	}
	return evicted
}

// Resident reports how many processes are held in memory.
func (t *Tracker) Resident() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// RunEvictor calls EvictIdle every interval until ctx is done.
func (t *Tracker) RunEvictor(ctx context.Context, interval time.Duration) {
	if t.repo == nil {
		return
	}
	if interval <= 0 {
		interval = t.idleTTL / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := t.EvictIdle(); n > 0 {
				t.logger.Printf("evicted %d idle processes, %d resident", n, t.Resident())
			}
		}
	}
}

func latestEvent(p Process) broadcast.Event {
	last := p.History[len(p.History)-1]
	return broadcast.Event{
		Stage:     last.Stage,
		Timestamp: last.Timestamp,
		Data:      clonePayload(last.Payload),
		Terminal:  p.Terminal,
	}
}

func (p Process) clone() Process {
	out := p
	out.History = make([]Transition, len(p.History))
	for i, tr := range p.History {
		tr.Payload = clonePayload(tr.Payload)
		out.History[i] = tr
	}
	return out
}

// clonePayload copies the top level so callers cannot mutate history.
func clonePayload(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
