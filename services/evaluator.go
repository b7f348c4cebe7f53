package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"rag-content-pipeline/internal/logger"
	"rag-content-pipeline/internal/telemetry"
	"rag-content-pipeline/models"

	"github.com/montanaflynn/stats"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// EvaluatorService runs batches of test questions through the retrieval
// pipeline, scores each case, and aggregates the results per experiment.
type EvaluatorService struct {
	retriever   *RetrieverService
	generator   Generator
	scorer      *MetricScorer
	experiments ExperimentStore
	workers     int
}

// NewEvaluatorService creates an evaluator. workers bounds the per-run
// worker pool over independent test cases.
func NewEvaluatorService(retriever *RetrieverService, generator Generator, experiments ExperimentStore, workers int) *EvaluatorService {
	if workers <= 0 {
		workers = 4
	}
	return &EvaluatorService{
		retriever:   retriever,
		generator:   generator,
		scorer:      NewMetricScorer(generator),
		experiments: experiments,
		workers:     workers,
	}
}

var answerOptions = GenerationOptions{Temperature: 0.2, MaxTokens: 1024}

// Run executes one evaluation of the experiment over the given test cases.
// The pending->running transition is a storage-level compare-and-swap, so a
// second caller racing on the same experiment gets InvalidStateError. Any
// error while filling or persisting aborts the run and marks the experiment
// failed; partial per-case work is not committed.
func (es *EvaluatorService) Run(ctx context.Context, experimentID primitive.ObjectID, cases []models.TestCase) (*models.Experiment, error) {
	tracer := otel.Tracer("evaluator")
	ctx, span := tracer.Start(ctx, "evaluator.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("experiment.id", experimentID.Hex()),
		attribute.Int("experiment.cases", len(cases)),
	)

	exp, err := es.experiments.Get(ctx, experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load experiment: %w", err)
	}

	started, err := es.experiments.TryStart(ctx, experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to start experiment: %w", err)
	}
	if !started {
		current, getErr := es.experiments.Get(ctx, experimentID)
		status := exp.Status
		if getErr == nil {
			status = current.Status
		}
		return nil, &InvalidStateError{ExperimentID: experimentID.Hex(), Status: status}
	}

	now := time.Now()
	exp.Status = models.ExperimentRunning
	exp.StartedAt = &now

	results := make([]models.EvaluationResult, len(cases))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(es.workers)
	for i, tc := range cases {
		g.Go(func() error {
			res, caseErr := es.evaluateCase(gctx, exp, i, tc)
			if caseErr != nil {
				return caseErr
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, es.fail(ctx, exp, err)
	}

	if err := es.experiments.SaveResults(ctx, results); err != nil {
		return nil, es.fail(ctx, exp, fmt.Errorf("failed to persist results: %w", err))
	}

	exp.Metrics = aggregate(results)
	exp.Status = models.ExperimentCompleted
	done := time.Now()
	exp.CompletedAt = &done
	if err := es.experiments.Update(ctx, exp); err != nil {
		return nil, fmt.Errorf("failed to complete experiment: %w", err)
	}
	telemetry.Default().RecordEvaluationRun(models.ExperimentCompleted)

	logger.Info("evaluation completed",
		"experiment", exp.Name,
		"cases", len(cases),
		"status", exp.Status)
	return exp, nil
}

// RunFromStore loads the experiment's test set and runs the evaluation.
// This is the entry point for queued runs, where only the ID travels.
func (es *EvaluatorService) RunFromStore(ctx context.Context, experimentID primitive.ObjectID) (*models.Experiment, error) {
	exp, err := es.experiments.Get(ctx, experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load experiment: %w", err)
	}
	cases, err := es.experiments.TestCases(ctx, exp.TestSetName)
	if err != nil {
		return nil, fmt.Errorf("failed to load test set %q: %w", exp.TestSetName, err)
	}
	if len(cases) == 0 {
		return nil, fmt.Errorf("test set %q has no cases", exp.TestSetName)
	}
	return es.Run(ctx, experimentID, cases)
}

// fail marks the experiment failed with the error message preserved for
// diagnosis. No automatic retries; callers may resubmit a fresh run.
func (es *EvaluatorService) fail(ctx context.Context, exp *models.Experiment, cause error) error {
	exp.Status = models.ExperimentFailed
	exp.ErrorMessage = cause.Error()
	done := time.Now()
	exp.CompletedAt = &done
	if err := es.experiments.Update(ctx, exp); err != nil {
		logger.Error("failed to mark experiment failed", "experiment", exp.ID.Hex(), "error", err)
	}
	telemetry.Default().RecordEvaluationRun(models.ExperimentFailed)
	return &RunFailure{ExperimentID: exp.ID.Hex(), Err: cause}
}

// evaluateCase fills in the answer and contexts when the case lacks them,
// then scores the four metric dimensions. Scoring failures degrade to nil
// metrics; retrieval and generation failures abort the run.
func (es *EvaluatorService) evaluateCase(ctx context.Context, exp *models.Experiment, index int, tc models.TestCase) (models.EvaluationResult, error) {
	answer := tc.Answer
	contexts := tc.Contexts

	start := time.Now()
	if answer == "" || len(contexts) == 0 {
		hits, err := es.retriever.Search(ctx, models.RetrievalQuery{
			Text:                tc.Question,
			TopK:                exp.TopK,
			SimilarityThreshold: exp.SimilarityThreshold,
			Category:            exp.Category,
		})
		switch {
		case IsNoRelevantResults(err):
			// An unanswerable question is itself signal for the
			// configuration under test; score it on an empty context.
			logger.Warn("no relevant context for test case",
				"experiment", exp.Name, "case", index)
			contexts = nil
		case err != nil:
			return models.EvaluationResult{}, fmt.Errorf("retrieval for case %d failed: %w", index, err)
		default:
			contexts = make([]string, 0, len(hits))
			for _, h := range hits {
				contexts = append(contexts, h.ChunkText)
			}
		}

		prompt := buildAnswerPrompt(exp.InstructionTemplate, tc.Question, contexts)
		answer, err = es.generator.Complete(ctx, prompt, answerOptions)
		if err != nil {
			return models.EvaluationResult{}, fmt.Errorf("generation for case %d failed: %w", index, err)
		}
	}
	latency := time.Since(start)

	result := models.EvaluationResult{
		ExperimentID: exp.ID,
		CaseIndex:    index,
		Question:     tc.Question,
		Answer:       answer,
		Contexts:     contexts,
		GroundTruth:  tc.GroundTruth,
		LatencyMS:    float64(latency.Microseconds()) / 1000.0,
		CreatedAt:    time.Now(),
	}

	result.Faithfulness = es.score(ctx, exp, index, func() (*float64, error) {
		return es.scorer.Faithfulness(ctx, answer, contexts)
	})
	result.AnswerRelevancy = es.score(ctx, exp, index, func() (*float64, error) {
		return es.scorer.AnswerRelevancy(ctx, tc.Question, answer)
	})
	if tc.GroundTruth != "" {
		result.ContextRecall = es.score(ctx, exp, index, func() (*float64, error) {
			return es.scorer.ContextRecall(ctx, tc.GroundTruth, contexts)
		})
		result.ContextPrecision = es.score(ctx, exp, index, func() (*float64, error) {
			return es.scorer.ContextPrecision(ctx, tc.Question, tc.GroundTruth, contexts)
		})
	}

	return result, nil
}

// score absorbs per-metric failures into a nil value. A metric that cannot
// be computed is stored as null, never as 0.
func (es *EvaluatorService) score(ctx context.Context, exp *models.Experiment, index int, fn func() (*float64, error)) *float64 {
	v, err := fn()
	if err != nil {
		name := "unknown"
		var se *ScoringError
		if errors.As(err, &se) {
			name = se.Metric
		}
		telemetry.Default().RecordScoringFailure(name)
		logger.Warn("metric scoring degraded to null",
			"experiment", exp.Name, "case", index, "error", err)
		return nil
	}
	return v
}

// aggregate reduces case results into experiment metrics: mean over non-null
// values per metric, nil when no case produced a value.
func aggregate(results []models.EvaluationResult) models.ExperimentMetrics {
	var faith, relevancy, recall, precision, latencies []float64
	for _, r := range results {
		if r.Faithfulness != nil {
			faith = append(faith, *r.Faithfulness)
		}
		if r.AnswerRelevancy != nil {
			relevancy = append(relevancy, *r.AnswerRelevancy)
		}
		if r.ContextRecall != nil {
			recall = append(recall, *r.ContextRecall)
		}
		if r.ContextPrecision != nil {
			precision = append(precision, *r.ContextPrecision)
		}
		latencies = append(latencies, r.LatencyMS)
	}

	return models.ExperimentMetrics{
		AvgFaithfulness:     meanOrNil(faith),
		AvgAnswerRelevancy:  meanOrNil(relevancy),
		AvgContextRecall:    meanOrNil(recall),
		AvgContextPrecision: meanOrNil(precision),
		AvgLatencyMS:        meanOrNil(latencies),
		TotalQueries:        len(results),
	}
}

func meanOrNil(values []float64) *float64 {
	m, err := stats.Mean(values)
	if err != nil {
		return nil
	}
	return &m
}

// buildAnswerPrompt renders the experiment's instruction template around the
// question and retrieved contexts. Templates may reference {context} and
// {question}; without placeholders the sections are appended.
func buildAnswerPrompt(template, question string, contexts []string) string {
	contextBlock := joinContexts(contexts)
	if template == "" {
		return fmt.Sprintf("Based on the following context:\n\n%s\n\nPlease answer this question: %s", contextBlock, question)
	}
	if strings.Contains(template, "{context}") || strings.Contains(template, "{question}") {
		out := strings.ReplaceAll(template, "{context}", contextBlock)
		return strings.ReplaceAll(out, "{question}", question)
	}
	return fmt.Sprintf("%s\n\n%s\n\nQuestion: %s", template, contextBlock, question)
}
