package services

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"rag-content-pipeline/models"
)

// fakeExperimentStore is an in-memory ExperimentStore with the same CAS
// semantics as the Mongo implementation.
type fakeExperimentStore struct {
	mu          sync.Mutex
	experiments map[primitive.ObjectID]*models.Experiment
	results     []models.EvaluationResult
	testCases   map[string][]models.TestCase
}

func newFakeExperimentStore() *fakeExperimentStore {
	return &fakeExperimentStore{
		experiments: make(map[primitive.ObjectID]*models.Experiment),
		testCases:   make(map[string][]models.TestCase),
	}
}

func (f *fakeExperimentStore) Create(ctx context.Context, exp *models.Experiment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if exp.ID.IsZero() {
		exp.ID = primitive.NewObjectID()
	}
	if exp.Status == "" {
		exp.Status = models.ExperimentPending
	}
	cp := *exp
	f.experiments[exp.ID] = &cp
	return nil
}

func (f *fakeExperimentStore) Get(ctx context.Context, id primitive.ObjectID) (*models.Experiment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	exp, ok := f.experiments[id]
	if !ok {
		return nil, errors.New("experiment not found")
	}
	cp := *exp
	return &cp, nil
}

func (f *fakeExperimentStore) Update(ctx context.Context, exp *models.Experiment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.experiments[exp.ID]; !ok {
		return errors.New("experiment not found")
	}
	cp := *exp
	f.experiments[exp.ID] = &cp
	return nil
}

func (f *fakeExperimentStore) TryStart(ctx context.Context, id primitive.ObjectID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	exp, ok := f.experiments[id]
	if !ok || exp.Status != models.ExperimentPending {
		return false, nil
	}
	exp.Status = models.ExperimentRunning
	return true, nil
}

func (f *fakeExperimentStore) SaveResults(ctx context.Context, results []models.EvaluationResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, results...)
	return nil
}

func (f *fakeExperimentStore) ListByStatus(ctx context.Context, status string) ([]models.Experiment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Experiment
	for _, exp := range f.experiments {
		if exp.Status == status {
			out = append(out, *exp)
		}
	}
	return out, nil
}

func (f *fakeExperimentStore) ListCompleted(ctx context.Context) ([]models.Experiment, error) {
	return f.ListByStatus(ctx, models.ExperimentCompleted)
}

func (f *fakeExperimentStore) ResultsFor(ctx context.Context, id primitive.ObjectID) ([]models.EvaluationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.EvaluationResult
	for _, r := range f.results {
		if r.ExperimentID == id {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeExperimentStore) TestCases(ctx context.Context, testSetName string) ([]models.TestCase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.testCases[testSetName], nil
}

func (f *fakeExperimentStore) TestSetNames(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for name := range f.testCases {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeExperimentStore) SaveTestCases(ctx context.Context, cases []models.TestCase) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tc := range cases {
		f.testCases[tc.TestSetName] = append(f.testCases[tc.TestSetName], tc)
	}
	return nil
}

// scriptedGenerator answers generation prompts with a fixed string and pops
// judge replies from a script, in call order.
type scriptedGenerator struct {
	mu           sync.Mutex
	answer       string
	answerErr    error
	judgeReplies []string
	judgeIdx     int
}

func (g *scriptedGenerator) Complete(ctx context.Context, prompt string, opts GenerationOptions) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if strings.HasSuffix(prompt, "Score:") {
		if g.judgeIdx < len(g.judgeReplies) {
			reply := g.judgeReplies[g.judgeIdx]
			g.judgeIdx++
			return reply, nil
		}
		return "0.5", nil
	}
	if g.answerErr != nil {
		return "", g.answerErr
	}
	if g.answer == "" {
		return "a generated answer", nil
	}
	return g.answer, nil
}

func newEvaluatorForTest(store *fakeExperimentStore, gen Generator, hits []models.RetrievedChunk) *EvaluatorService {
	retriever := NewRetrieverService(&fakeEmbedder{}, &fakeChunkStore{hits: hits}, nil)
	return NewEvaluatorService(retriever, gen, store, 1)
}

func pendingExperiment(t *testing.T, store *fakeExperimentStore) *models.Experiment {
	t.Helper()
	exp := &models.Experiment{
		Name:                "exp-1",
		ChunkingConfig:      models.ChunkingConfig{Strategy: models.StrategyFixed, ChunkSize: 100, Overlap: 10},
		TestSetName:         "set-1",
		TopK:                3,
		SimilarityThreshold: 0.5,
	}
	if err := store.Create(context.Background(), exp); err != nil {
		t.Fatalf("create: %v", err)
	}
	return exp
}

func approx(t *testing.T, name string, got *float64, want float64) {
	t.Helper()
	if got == nil {
		t.Fatalf("%s: expected %v, got nil", name, want)
	}
	if math.Abs(*got-want) > 1e-9 {
		t.Fatalf("%s: expected %v, got %v", name, want, *got)
	}
}

func TestRunCompletesWithAggregatedMetrics(t *testing.T) {
	store := newFakeExperimentStore()
	exp := pendingExperiment(t, store)

	// Pre-answered cases skip retrieval and generation entirely.
	cases := []models.TestCase{
		{Question: "q1", Answer: "a1", Contexts: []string{"c1"}, GroundTruth: "g1"},
		{Question: "q2", Answer: "a2", Contexts: []string{"c2"}, GroundTruth: "g2"},
	}
	// Per case: faithfulness, relevancy, recall, precision.
	gen := &scriptedGenerator{judgeReplies: []string{
		"0.8", "0.6", "1.0", "0.4",
		"0.6", "0.8", "0.8", "0.2",
	}}

	es := newEvaluatorForTest(store, gen, nil)
	result, err := es.Run(context.Background(), exp.ID, cases)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Status != models.ExperimentCompleted {
		t.Fatalf("expected completed, got %s", result.Status)
	}
	if result.Metrics.TotalQueries != 2 {
		t.Fatalf("expected 2 queries, got %d", result.Metrics.TotalQueries)
	}
	approx(t, "faithfulness", result.Metrics.AvgFaithfulness, 0.7)
	approx(t, "answer_relevancy", result.Metrics.AvgAnswerRelevancy, 0.7)
	approx(t, "context_recall", result.Metrics.AvgContextRecall, 0.9)
	approx(t, "context_precision", result.Metrics.AvgContextPrecision, 0.3)
	if result.StartedAt == nil || result.CompletedAt == nil {
		t.Fatalf("timestamps not set")
	}

	saved, _ := store.ResultsFor(context.Background(), exp.ID)
	if len(saved) != 2 {
		t.Fatalf("expected 2 persisted results, got %d", len(saved))
	}
}

func TestRunAggregationSkipsNullMetrics(t *testing.T) {
	store := newFakeExperimentStore()
	exp := pendingExperiment(t, store)

	cases := []models.TestCase{
		{Question: "q1", Answer: "a1", Contexts: []string{"c1"}},
		{Question: "q2", Answer: "a2", Contexts: []string{"c2"}},
		{Question: "q3", Answer: "a3", Contexts: []string{"c3"}},
	}
	// No ground truth, so only faithfulness and relevancy are judged. The
	// middle faithfulness reply has no numeric token and degrades to null.
	gen := &scriptedGenerator{judgeReplies: []string{
		"0.8", "0.5",
		"unable to judge", "0.5",
		"0.6", "0.5",
	}}

	es := newEvaluatorForTest(store, gen, nil)
	result, err := es.Run(context.Background(), exp.ID, cases)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Null is excluded from the mean, not treated as zero.
	approx(t, "faithfulness", result.Metrics.AvgFaithfulness, 0.7)
	if result.Metrics.AvgContextRecall != nil || result.Metrics.AvgContextPrecision != nil {
		t.Fatalf("ground-truth metrics must be nil without ground truth")
	}

	saved, _ := store.ResultsFor(context.Background(), exp.ID)
	nulls := 0
	for _, r := range saved {
		if r.Faithfulness == nil {
			nulls++
		}
	}
	if nulls != 1 {
		t.Fatalf("expected exactly one null faithfulness, got %d", nulls)
	}
}

func TestRunAtMostOnce(t *testing.T) {
	store := newFakeExperimentStore()
	exp := pendingExperiment(t, store)
	cases := []models.TestCase{{Question: "q", Answer: "a", Contexts: []string{"c"}}}

	es := newEvaluatorForTest(store, &scriptedGenerator{}, nil)
	if _, err := es.Run(context.Background(), exp.ID, cases); err != nil {
		t.Fatalf("first run: %v", err)
	}

	_, err := es.Run(context.Background(), exp.ID, cases)
	var stateErr *InvalidStateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected InvalidStateError, got %T: %v", err, err)
	}
	if stateErr.Status != models.ExperimentCompleted {
		t.Fatalf("expected status completed in error, got %q", stateErr.Status)
	}
}

func TestRunGenerationFailureMarksFailed(t *testing.T) {
	store := newFakeExperimentStore()
	exp := pendingExperiment(t, store)

	hits := []models.RetrievedChunk{{ChunkText: "ctx", Score: 0.9}}
	gen := &scriptedGenerator{answerErr: errors.New("model unavailable")}

	es := newEvaluatorForTest(store, gen, hits)
	_, err := es.Run(context.Background(), exp.ID, []models.TestCase{{Question: "q"}})

	var failure *RunFailure
	if !errors.As(err, &failure) {
		t.Fatalf("expected RunFailure, got %T: %v", err, err)
	}

	current, _ := store.Get(context.Background(), exp.ID)
	if current.Status != models.ExperimentFailed {
		t.Fatalf("expected failed status, got %s", current.Status)
	}
	if current.ErrorMessage == "" {
		t.Fatalf("error message must be preserved")
	}
}

func TestRunContinuesOnEmptyRetrieval(t *testing.T) {
	store := newFakeExperimentStore()
	exp := pendingExperiment(t, store)

	// No hits at all: the retriever reports NoRelevantResultsError, which
	// the evaluator treats as an empty context, not a run failure.
	gen := &scriptedGenerator{answer: "I do not know", judgeReplies: []string{"0.1", "0.2"}}
	es := newEvaluatorForTest(store, gen, nil)

	result, err := es.Run(context.Background(), exp.ID, []models.TestCase{{Question: "q"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != models.ExperimentCompleted {
		t.Fatalf("expected completed, got %s", result.Status)
	}

	saved, _ := store.ResultsFor(context.Background(), exp.ID)
	if len(saved) != 1 {
		t.Fatalf("expected 1 result, got %d", len(saved))
	}
	if len(saved[0].Contexts) != 0 {
		t.Fatalf("expected empty contexts, got %v", saved[0].Contexts)
	}
	if saved[0].Answer != "I do not know" {
		t.Fatalf("unexpected answer %q", saved[0].Answer)
	}
}

func TestRunFromStoreLoadsTestSet(t *testing.T) {
	store := newFakeExperimentStore()
	exp := pendingExperiment(t, store)
	store.SaveTestCases(context.Background(), []models.TestCase{
		{TestSetName: "set-1", Question: "q1", Answer: "a1", Contexts: []string{"c1"}},
	})

	es := newEvaluatorForTest(store, &scriptedGenerator{}, nil)
	result, err := es.RunFromStore(context.Background(), exp.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Metrics.TotalQueries != 1 {
		t.Fatalf("expected 1 query, got %d", result.Metrics.TotalQueries)
	}
}

func TestRunFromStoreEmptyTestSet(t *testing.T) {
	store := newFakeExperimentStore()
	exp := pendingExperiment(t, store)

	es := newEvaluatorForTest(store, &scriptedGenerator{}, nil)
	if _, err := es.RunFromStore(context.Background(), exp.ID); err == nil {
		t.Fatalf("expected error for empty test set")
	}

	// The experiment must still be runnable; nothing was started.
	current, _ := store.Get(context.Background(), exp.ID)
	if current.Status != models.ExperimentPending {
		t.Fatalf("expected pending, got %s", current.Status)
	}
}

func TestBuildAnswerPrompt(t *testing.T) {
	contexts := []string{"first chunk", "second chunk"}

	withPlaceholders := buildAnswerPrompt("Use {context} to answer {question}", "why?", contexts)
	if strings.Contains(withPlaceholders, "{context}") || strings.Contains(withPlaceholders, "{question}") {
		t.Fatalf("placeholders not substituted: %q", withPlaceholders)
	}
	if !strings.Contains(withPlaceholders, "first chunk") || !strings.Contains(withPlaceholders, "why?") {
		t.Fatalf("prompt missing substituted content: %q", withPlaceholders)
	}

	plain := buildAnswerPrompt("Answer concisely.", "why?", contexts)
	if !strings.Contains(plain, "Answer concisely.") || !strings.Contains(plain, "Question: why?") {
		t.Fatalf("template not prepended: %q", plain)
	}

	empty := buildAnswerPrompt("", "why?", contexts)
	if !strings.Contains(empty, "Based on the following context") {
		t.Fatalf("default prompt missing: %q", empty)
	}
}
