package tracker

import (
	"context"
	"log"
	"sync"

	"github.com/mohammad-safakhou/vizier/internal/stage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce        sync.Once
	transitionsCounter otelmetric.Int64Counter
	rejectionsCounter  otelmetric.Int64Counter
)

func initMetrics() {
	meter := otel.Meter("vizier/tracker")
	var err error
	transitionsCounter, err = meter.Int64Counter(
		"stage_transitions_total",
		otelmetric.WithDescription("Accepted stage transitions by kind and stage"),
	)
	if err != nil {
		log.Printf("tracker metrics init: stage_transitions_total: %v", err)
	}
	rejectionsCounter, err = meter.Int64Counter(
		"stage_transitions_rejected_total",
		otelmetric.WithDescription("Rejected stage transitions by kind and reason"),
	)
	if err != nil {
		log.Printf("tracker metrics init: stage_transitions_rejected_total: %v", err)
	}
}

func recordTransition(ctx context.Context, kind stage.Kind, s stage.Stage) {
	metricsOnce.Do(initMetrics)
	if transitionsCounter == nil {
		return
	}
	transitionsCounter.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("stage", string(s)),
	))
}

func recordRejected(ctx context.Context, kind stage.Kind, reason string) {
	metricsOnce.Do(initMetrics)
	if rejectionsCounter == nil {
		return
	}
	rejectionsCounter.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("reason", reason),
	))
}
