package services

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MetricScorer computes the four quality metrics by asking the Generator to
// act as a judge. Every raw score passes through safeMetric so the rest of
// the pipeline only ever sees a valid value or nil.
type MetricScorer struct {
	generator Generator
}

// NewMetricScorer creates a scorer backed by the given generator.
func NewMetricScorer(generator Generator) *MetricScorer {
	return &MetricScorer{generator: generator}
}

var judgeOptions = GenerationOptions{Temperature: 0, MaxTokens: 16}

// Faithfulness scores whether the answer follows from the given contexts.
func (ms *MetricScorer) Faithfulness(ctx context.Context, answer string, contexts []string) (*float64, error) {
	prompt := fmt.Sprintf(
		"Rate from 0.0 to 1.0 how well the answer is supported by the context. "+
			"Only statements present in the context count as supported. "+
			"Reply with a single number.\n\nContext:\n%s\n\nAnswer:\n%s\n\nScore:",
		joinContexts(contexts), answer)
	return ms.judge(ctx, "faithfulness", prompt)
}

// AnswerRelevancy scores whether the answer addresses the question.
func (ms *MetricScorer) AnswerRelevancy(ctx context.Context, question, answer string) (*float64, error) {
	prompt := fmt.Sprintf(
		"Rate from 0.0 to 1.0 how directly the answer addresses the question. "+
			"Reply with a single number.\n\nQuestion:\n%s\n\nAnswer:\n%s\n\nScore:",
		question, answer)
	return ms.judge(ctx, "answer_relevancy", prompt)
}

// ContextRecall scores whether the retrieved context covers the ground
// truth. Requires ground truth.
func (ms *MetricScorer) ContextRecall(ctx context.Context, groundTruth string, contexts []string) (*float64, error) {
	prompt := fmt.Sprintf(
		"Rate from 0.0 to 1.0 how much of the expected answer is covered by the context. "+
			"Reply with a single number.\n\nExpected answer:\n%s\n\nContext:\n%s\n\nScore:",
		groundTruth, joinContexts(contexts))
	return ms.judge(ctx, "context_recall", prompt)
}

// ContextPrecision scores the proportion of retrieved context that is
// relevant to the ground truth. Requires ground truth.
func (ms *MetricScorer) ContextPrecision(ctx context.Context, question, groundTruth string, contexts []string) (*float64, error) {
	prompt := fmt.Sprintf(
		"Rate from 0.0 to 1.0 what fraction of the context passages are relevant "+
			"to answering the question, given the expected answer. "+
			"Reply with a single number.\n\nQuestion:\n%s\n\nExpected answer:\n%s\n\nContext:\n%s\n\nScore:",
		question, groundTruth, joinContexts(contexts))
	return ms.judge(ctx, "context_precision", prompt)
}

func (ms *MetricScorer) judge(ctx context.Context, metric, prompt string) (*float64, error) {
	reply, err := ms.generator.Complete(ctx, prompt, judgeOptions)
	if err != nil {
		return nil, &ScoringError{Metric: metric, Err: err}
	}
	score, err := parseScore(reply)
	return safeMetric(metric, score, err)
}

// safeMetric maps NaN, infinities, and scorer failures to a nil metric at
// the boundary. Valid scores are clamped into [0,1].
func safeMetric(metric string, v float64, err error) (*float64, error) {
	if err != nil {
		return nil, &ScoringError{Metric: metric, Err: err}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, &ScoringError{Metric: metric, Err: fmt.Errorf("scorer produced %v", v)}
	}
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return &v, nil
}

// parseScore extracts the first numeric token from a judge reply.
func parseScore(reply string) (float64, error) {
	for _, field := range strings.Fields(reply) {
		token := strings.Trim(field, ".,;:%()[]")
		if token == "" {
			continue
		}
		if v, err := strconv.ParseFloat(token, 64); err == nil {
			return v, nil
		}
	}
	return 0, fmt.Errorf("no numeric score in reply %q", truncate(reply, 80))
}

func joinContexts(contexts []string) string {
	if len(contexts) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for i, c := range contexts {
		fmt.Fprintf(&b, "Context %d:\n%s\n\n", i+1, c)
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
