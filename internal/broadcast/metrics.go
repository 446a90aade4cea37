package broadcast

import (
	"context"
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce       sync.Once
	subscribersGauge  otelmetric.Int64UpDownCounter
	droppedEvents     otelmetric.Int64Counter
	evictedSubscriber otelmetric.Int64Counter
)

func initMetrics() {
	meter := otel.Meter("vizier/broadcast")
	var err error
	subscribersGauge, err = meter.Int64UpDownCounter(
		"stream_subscribers",
		otelmetric.WithDescription("Open progress stream subscriptions"),
	)
	if err != nil {
		log.Printf("broadcast metrics init: stream_subscribers: %v", err)
	}
	droppedEvents, err = meter.Int64Counter(
		"stream_events_dropped_total",
		otelmetric.WithDescription("Events discarded by the drop_oldest overflow policy"),
	)
	if err != nil {
		log.Printf("broadcast metrics init: stream_events_dropped_total: %v", err)
	}
	evictedSubscriber, err = meter.Int64Counter(
		"stream_subscribers_evicted_total",
		otelmetric.WithDescription("Subscribers closed because their queue overflowed"),
	)
	if err != nil {
		log.Printf("broadcast metrics init: stream_subscribers_evicted_total: %v", err)
	}
}

// Process ids are unbounded, so they stay out of metric attributes.
func recordSubscribers(ctx context.Context, _ string, delta int64) {
	metricsOnce.Do(initMetrics)
	if subscribersGauge != nil {
		subscribersGauge.Add(ctx, delta)
	}
}

func recordDropped(ctx context.Context, _ string) {
	metricsOnce.Do(initMetrics)
	if droppedEvents != nil {
		droppedEvents.Add(ctx, 1)
	}
}

func recordEvicted(ctx context.Context, _ string) {
	metricsOnce.Do(initMetrics)
	if evictedSubscriber != nil {
		evictedSubscriber.Add(ctx, 1)
	}
}
