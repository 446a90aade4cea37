package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/vizier/internal/stage"
)

// OverflowPolicy decides what happens when a subscriber's queue is full.
type OverflowPolicy string

const (
	// OverflowDisconnect closes the slow subscriber with ErrSlowConsumer.
	OverflowDisconnect OverflowPolicy = "disconnect"
	// OverflowDropOldest discards the oldest queued event to make room.
	OverflowDropOldest OverflowPolicy = "drop_oldest"
)

// DefaultQueueSize bounds each subscriber's pending events.
const DefaultQueueSize = 16

var (
	// ErrSlowConsumer is reported by a subscription closed on queue overflow.
	ErrSlowConsumer = errors.New("subscriber queue overflow")
	// ErrClosed is returned by Subscribe after the broadcaster shut down.
	ErrClosed = errors.New("broadcaster closed")
)

// Event is one stage transition as streamed to clients.
type Event struct {
	Stage     stage.Stage            `json:"stage"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	// Terminal marks the final event of a process; never serialised.
	Terminal bool `json:"-"`
}

// Options configures a Broadcaster.
type Options struct {
	QueueSize int
	Overflow  OverflowPolicy
	Logger    *log.Logger
}

// ParseOverflowPolicy maps a config value to a policy; empty means disconnect.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch OverflowPolicy(strings.TrimSpace(s)) {
	case "", OverflowDisconnect:
		return OverflowDisconnect, nil
	case OverflowDropOldest:
		return OverflowDropOldest, nil
	default:
		return "", fmt.Errorf("unknown overflow policy %q", s)
	}
}

// Broadcaster fans out stage events to per-process subscriber sets.
type Broadcaster struct {
	mu     sync.Mutex
	topics map[string]*topic
	closed bool

	queueSize int
	overflow  OverflowPolicy
	logger    *log.Logger
}

type topic struct {
	mu       sync.Mutex
	last     Event
	terminal bool
	subs     map[*Subscription]struct{}
}

// New builds a Broadcaster with defaults applied to zero-valued options.
func New(opts Options) *Broadcaster {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Overflow == "" {
		opts.Overflow = OverflowDisconnect
	}
	if opts.Logger == nil {
		opts.Logger = log.New(log.Writer(), "[STREAM] ", log.LstdFlags)
	}
	return &Broadcaster{
		topics:    make(map[string]*topic),
		queueSize: opts.QueueSize,
		overflow:  opts.Overflow,
		logger:    opts.Logger,
	}
}

// Register creates or refreshes the topic for a process with its latest
// event. Registering a terminal event closes any existing subscribers.
func (b *Broadcaster) Register(processID string, latest Event) {
	b.mu.Lock()
	t, ok := b.topics[processID]
	if !ok {
		t = &topic{subs: make(map[*Subscription]struct{})}
		b.topics[processID] = t
	}
	b.mu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = latest
	t.terminal = latest.Terminal
	if t.terminal {
		b.closeAllLocked(t, nil)
	}
}

// Unregister drops a process topic, closing whatever is still subscribed.
func (b *Broadcaster) Unregister(processID string) {
	b.mu.Lock()
	t, ok := b.topics[processID]
	delete(b.topics, processID)
	b.mu.Unlock()
	if !ok {
		return
	}
	t.mu.Lock()
	b.closeAllLocked(t, nil)
	t.mu.Unlock()
}

// Subscribe opens a subscription whose first event is the latest known
// state of the process. Subscribing to a terminal process yields that one
// event and a closed channel.
func (b *Broadcaster) Subscribe(processID string) (*Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	t, ok := b.topics[processID]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", stage.ErrUnknownProcess, processID)
	}

	sub := &Subscription{
		id:        uuid.NewString(),
		processID: processID,
		ch:        make(chan Event, b.queueSize),
		b:         b,
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	sub.ch <- t.last
	if t.terminal {
		sub.finish(nil)
		return sub, nil
	}
	t.subs[sub] = struct{}{}
	recordSubscribers(context.Background(), processID, 1)
	return sub, nil
}

// Publish delivers ev to every current subscriber of processID without
// blocking on any of them. A terminal event is delivered and then every
// subscriber is closed.
func (b *Broadcaster) Publish(processID string, ev Event) error {
	b.mu.Lock()
	t, ok := b.topics[processID]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", stage.ErrUnknownProcess, processID)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = ev
	for sub := range t.subs {
		if b.enqueue(sub, ev) {
			continue
		}
		b.logger.Printf("subscriber %s of %s overflowed (%d queued), closing", sub.id, processID, b.queueSize)
		recordEvicted(context.Background(), processID)
		delete(t.subs, sub)
		recordSubscribers(context.Background(), processID, -1)
		sub.finish(ErrSlowConsumer)
	}
	if ev.Terminal {
		t.terminal = true
		b.closeAllLocked(t, nil)
	}
	return nil
}

// enqueue must be called with the topic lock held; producers never race
// each other, so after a drop there is always room for one send.
func (b *Broadcaster) enqueue(sub *Subscription, ev Event) bool {
	select {
	case sub.ch <- ev:
		return true
	default:
	}
	if b.overflow != OverflowDropOldest {
		return false
	}
	select {
	case <-sub.ch:
		recordDropped(context.Background(), sub.processID)
	default:
	}
	select {
	case sub.ch <- ev:
		return true
	default:
		return false
	}
}

// Unsubscribe removes sub from its fan-out set and closes it. It is
// idempotent and safe after terminal cleanup.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	t, ok := b.topics[sub.processID]
	b.mu.Unlock()
	if !ok {
		sub.finish(nil)
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.subs[sub]; ok {
		delete(t.subs, sub)
		recordSubscribers(context.Background(), sub.processID, -1)
	}
	sub.finish(nil)
}

// Subscribers reports how many channels currently observe processID.
func (b *Broadcaster) Subscribers(processID string) int {
	b.mu.Lock()
	t, ok := b.topics[processID]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Close shuts every topic down; later Subscribe calls fail with ErrClosed.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	topics := make([]*topic, 0, len(b.topics))
	for _, t := range b.topics {
		topics = append(topics, t)
	}
	b.mu.Unlock()

	for _, t := range topics {
		t.mu.Lock()
		b.closeAllLocked(t, ErrClosed)
		t.mu.Unlock()
	}
}

func (b *Broadcaster) closeAllLocked(t *topic, reason error) {
	for sub := range t.subs {
		delete(t.subs, sub)
		recordSubscribers(context.Background(), sub.processID, -1)
		sub.finish(reason)
	}
}

// Subscription is one client's independent delivery path.
type Subscription struct {
	id        string
	processID string
	ch        chan Event
	b         *Broadcaster

	once sync.Once
	mu   sync.Mutex
	err  error
}

// ID returns the subscription identifier used in logs.
func (s *Subscription) ID() string { return s.id }

// ProcessID returns the observed process.
func (s *Subscription) ProcessID() string { return s.processID }

// Events yields queued events in history order; it is closed when the
// stream completes or the subscription is dropped.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Err reports why the subscription closed; nil means normal completion.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close unsubscribes; equivalent to Broadcaster.Unsubscribe.
func (s *Subscription) Close() { s.b.Unsubscribe(s) }

func (s *Subscription) finish(reason error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = reason
		s.mu.Unlock()
		close(s.ch)
	})
}
