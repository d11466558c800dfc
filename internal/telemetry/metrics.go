package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	meter = otel.Meter("docqa-platform")

	jobsProcessed metric.Int64Counter
	jobsFailed    metric.Int64Counter
	chunksStored  metric.Int64Counter
)

func init() {
	jobsProcessed, _ = meter.Int64Counter("jobs_processed_total",
		metric.WithDescription("Jobs completed successfully, by queue"))
	jobsFailed, _ = meter.Int64Counter("jobs_failed_total",
		metric.WithDescription("Jobs that ended in a terminal failure, by queue"))
	chunksStored, _ = meter.Int64Counter("chunks_stored_total",
		metric.WithDescription("Chunks persisted by the embedding pipeline"))
}

func RecordJobProcessed(ctx context.Context, queue string) {
	jobsProcessed.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", queue)))
}

func RecordJobFailed(ctx context.Context, queue string) {
	jobsFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", queue)))
}

func RecordChunksStored(ctx context.Context, provider string, count int) {
	chunksStored.Add(ctx, int64(count), metric.WithAttributes(attribute.String("provider", provider)))
}
