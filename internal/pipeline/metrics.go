package pipeline

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	chunksProcessed metric.Int64Counter
	chunksFailed    metric.Int64Counter
	synthSeconds    metric.Float64Histogram
	chapterSeconds  metric.Float64Histogram
}

func newMetrics() *metrics {
	meter := otel.Meter("github.com/versolabs/verso-core/pipeline")

	chunksProcessed, _ := meter.Int64Counter("verso_chunks_processed_total",
		metric.WithDescription("Chunks synthesized and verified successfully"))
	chunksFailed, _ := meter.Int64Counter("verso_chunks_failed_total",
		metric.WithDescription("Chunks that failed synthesis or verification"))
	synthSeconds, _ := meter.Float64Histogram("verso_synthesis_seconds",
		metric.WithDescription("Wall time of individual synthesis calls"))
	chapterSeconds, _ := meter.Float64Histogram("verso_chapter_seconds",
		metric.WithDescription("Wall time of full chapter runs"))

	return &metrics{
		chunksProcessed: chunksProcessed,
		chunksFailed:    chunksFailed,
		synthSeconds:    synthSeconds,
		chapterSeconds:  chapterSeconds,
	}
}
