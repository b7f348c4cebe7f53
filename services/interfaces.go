package services

import (
	"context"

	"rag-content-pipeline/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// EmbeddingProvider converts text into a fixed-dimension vector,
// deterministic for the same text and model.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// GenerationOptions tune a single completion call.
type GenerationOptions struct {
	Temperature float32
	MaxTokens   int
}

// Generator produces text conditioned on a prompt.
type Generator interface {
	Complete(ctx context.Context, prompt string, opts GenerationOptions) (string, error)
}

// ChunkStore persists indexed chunks and answers similarity queries. The
// store owns its read consistency; callers supply timeouts via ctx.
type ChunkStore interface {
	Persist(ctx context.Context, chunks []models.Chunk, embeddings [][]float32, title, category string) error
	QuerySimilar(ctx context.Context, embedding []float32, topK int, threshold float64, category string) ([]models.RetrievedChunk, error)
	Categories(ctx context.Context) ([]string, error)
	DeleteByDocument(ctx context.Context, sourceDocID string) error
}

// DocumentStore tracks source documents through the ingestion lifecycle.
type DocumentStore interface {
	Create(ctx context.Context, doc *models.Document) error
	Get(ctx context.Context, id primitive.ObjectID) (*models.Document, error)
	Update(ctx context.Context, doc *models.Document) error
	MarkFailed(ctx context.Context, id primitive.ObjectID, reason string) error
	List(ctx context.Context, category string) ([]models.Document, error)
	Delete(ctx context.Context, id primitive.ObjectID) error
}

// ExperimentStore persists experiments and their per-case results. TryStart
// is the atomic pending->running compare-and-swap upholding the
// at-most-one-run invariant across processes.
type ExperimentStore interface {
	Create(ctx context.Context, exp *models.Experiment) error
	Get(ctx context.Context, id primitive.ObjectID) (*models.Experiment, error)
	Update(ctx context.Context, exp *models.Experiment) error
	TryStart(ctx context.Context, id primitive.ObjectID) (bool, error)
	SaveResults(ctx context.Context, results []models.EvaluationResult) error
	ListByStatus(ctx context.Context, status string) ([]models.Experiment, error)
	ListCompleted(ctx context.Context) ([]models.Experiment, error)
	ResultsFor(ctx context.Context, id primitive.ObjectID) ([]models.EvaluationResult, error)
	TestCases(ctx context.Context, testSetName string) ([]models.TestCase, error)
	TestSetNames(ctx context.Context) ([]string, error)
	SaveTestCases(ctx context.Context, cases []models.TestCase) error
}
