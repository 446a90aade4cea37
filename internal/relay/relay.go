// Package relay mirrors accepted stage transitions onto a Redis stream for
// consumers outside this process.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/vizier/internal/tracker"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultStream  = "vizier:stage_transitions"
	DefaultMaxLen  = 10000
	EventType      = "stage.transition"
	PayloadVersion = "v1"
)

// XAdder is the subset of redis.Cmdable the relay needs.
type XAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// Relay implements tracker.Mirror over a Redis stream.
type Relay struct {
	client XAdder
	stream string
	maxLen int64
}

var _ tracker.Mirror = (*Relay)(nil)

// New builds a Relay; empty stream and non-positive maxLen take the defaults.
func New(client XAdder, stream string, maxLen int64) (*Relay, error) {
	if client == nil {
		return nil, errors.New("relay: redis client is required")
	}
	if stream == "" {
		stream = DefaultStream
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	return &Relay{client: client, stream: stream, maxLen: maxLen}, nil
}

// MirrorTransition appends rec to the stream with approximate trimming.
func (r *Relay) MirrorTransition(ctx context.Context, rec tracker.Record) error {
	data, err := json.Marshal(TransitionData{
		ProcessID: rec.ProcessID,
		Kind:      string(rec.Kind),
		Seq:       rec.Seq,
		Stage:     string(rec.Stage),
		Terminal:  rec.Terminal,
		Timestamp: rec.Timestamp,
		Data:      rec.Payload,
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	env := Envelope{
		EventID:        uuid.NewString(),
		EventType:      EventType,
		OccurredAt:     rec.Timestamp.UTC(),
		PayloadVersion: PayloadVersion,
		Data:           data,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}
	if err := env.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}

	_, err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]interface{}{"envelope": raw},
	}).Result()
	if err != nil {
		recordFailure(ctx)
		return fmt.Errorf("xadd %s: %w", r.stream, err)
	}
	recordPublished(ctx)
	return nil
}
