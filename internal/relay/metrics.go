package relay

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce    sync.Once
	publishedCount metric.Int64Counter
	failedCount    metric.Int64Counter
)

func initMetrics() {
	meter := otel.Meter("vizier/relay")
	publishedCount, _ = meter.Int64Counter("relay_published_total")
	failedCount, _ = meter.Int64Counter("relay_failures_total")
}

func recordPublished(ctx context.Context) {
	metricsOnce.Do(initMetrics)
	if publishedCount != nil {
		publishedCount.Add(ctx, 1)
	}
}

func recordFailure(ctx context.Context) {
	metricsOnce.Do(initMetrics)
	if failedCount != nil {
		failedCount.Add(ctx, 1)
	}
}
