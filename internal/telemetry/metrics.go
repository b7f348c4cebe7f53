package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application metrics
type Metrics struct {
	ChunksProduced    metric.Int64Counter
	RetrievalDuration metric.Float64Histogram
	EvaluationRuns    metric.Int64Counter
	ScoringFailures   metric.Int64Counter
	TokensUsed        metric.Int64Counter
	IngestDuration    metric.Float64Histogram
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the process-wide metrics set, created on first use.
// Without a configured meter provider the instruments are no-ops, and
// on initialization failure it returns nil, which every recorder
// tolerates.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics, _ = InitMetrics()
	})
	return defaultMetrics
}

// InitMetrics initializes all application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("rag-content-pipeline")

	chunksProduced, err := meter.Int64Counter(
		"chunker.chunks.produced",
		metric.WithDescription("Total chunks produced by the chunker"),
	)
	if err != nil {
		return nil, err
	}

	retrievalDuration, err := meter.Float64Histogram(
		"retrieval.duration",
		metric.WithDescription("Similarity search duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	evaluationRuns, err := meter.Int64Counter(
		"evaluator.runs.total",
		metric.WithDescription("Evaluation runs by terminal status"),
	)
	if err != nil {
		return nil, err
	}

	scoringFailures, err := meter.Int64Counter(
		"evaluator.scoring.failures",
		metric.WithDescription("Metric computations degraded to null"),
	)
	if err != nil {
		return nil, err
	}

	tokensUsed, err := meter.Int64Counter(
		"generator.tokens.used",
		metric.WithDescription("Total generation tokens used"),
	)
	if err != nil {
		return nil, err
	}

	ingestDuration, err := meter.Float64Histogram(
		"ingest.duration",
		metric.WithDescription("Document ingestion duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		ChunksProduced:    chunksProduced,
		RetrievalDuration: retrievalDuration,
		EvaluationRuns:    evaluationRuns,
		ScoringFailures:   scoringFailures,
		TokensUsed:        tokensUsed,
		IngestDuration:    ingestDuration,
	}, nil
}

// RecordChunks records chunker output volume
func (m *Metrics) RecordChunks(count int64, strategy string) {
	if m == nil {
		return
	}
	m.ChunksProduced.Add(context.Background(), count, metric.WithAttributes(
		attribute.String("chunker.strategy", strategy),
	))
}

// RecordRetrieval records similarity search latency
func (m *Metrics) RecordRetrieval(duration float64, category string, hits int) {
	if m == nil {
		return
	}
	m.RetrievalDuration.Record(context.Background(), duration, metric.WithAttributes(
		attribute.String("retrieval.category", category),
		attribute.Int("retrieval.hits", hits),
	))
}

// RecordEvaluationRun records a terminal evaluation run
func (m *Metrics) RecordEvaluationRun(status string) {
	if m == nil {
		return
	}
	m.EvaluationRuns.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("experiment.status", status),
	))
}

// RecordScoringFailure records one metric degraded to null
func (m *Metrics) RecordScoringFailure(metricName string) {
	if m == nil {
		return
	}
	m.ScoringFailures.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("metric.name", metricName),
	))
}

// RecordTokensUsed records generation token usage
func (m *Metrics) RecordTokensUsed(tokens int64, model string) {
	if m == nil {
		return
	}
	m.TokensUsed.Add(context.Background(), tokens, metric.WithAttributes(
		attribute.String("generator.model", model),
	))
}

// RecordIngest records document ingestion duration
func (m *Metrics) RecordIngest(duration float64, status string) {
	if m == nil {
		return
	}
	m.IngestDuration.Record(context.Background(), duration, metric.WithAttributes(
		attribute.String("ingest.status", status),
	))
}
