package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"rag-content-pipeline/internal/logger"
	"rag-content-pipeline/models"
	"rag-content-pipeline/services"
)

const (
	TaskIngestDocument     = "document:ingest"
	TaskEvaluateExperiment = "experiment:evaluate"
)

type IngestPayload struct {
	DocumentID string                `json:"document_id"`
	Config     models.ChunkingConfig `json:"config"`
}

type EvaluatePayload struct {
	ExperimentID string `json:"experiment_id"`
}

// Task creators
func NewIngestTask(documentID string, cfg models.ChunkingConfig) (*asynq.Task, error) {
	payload, err := json.Marshal(IngestPayload{DocumentID: documentID, Config: cfg})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskIngestDocument,
		payload,
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
		asynq.Queue("critical"),
	), nil
}

func NewEvaluateTask(experimentID string) (*asynq.Task, error) {
	payload, err := json.Marshal(EvaluatePayload{ExperimentID: experimentID})
	if err != nil {
		return nil, err
	}

	// No retry: the status machine only allows one pending->running
	// transition, so a requeued run would be rejected anyway.
	return asynq.NewTask(
		TaskEvaluateExperiment,
		payload,
		asynq.MaxRetry(0),
		asynq.Timeout(30*time.Minute),
		asynq.Queue("default"),
	), nil
}

// TaskProcessor owns the worker-side handlers.
type TaskProcessor struct {
	ingest    *services.IngestService
	evaluator *services.EvaluatorService
	documents services.DocumentStore
}

func NewTaskProcessor(ingest *services.IngestService, evaluator *services.EvaluatorService, documents services.DocumentStore) *TaskProcessor {
	return &TaskProcessor{
		ingest:    ingest,
		evaluator: evaluator,
		documents: documents,
	}
}

func (p *TaskProcessor) ProcessIngest(ctx context.Context, t *asynq.Task) error {
	var payload IngestPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	id, err := primitive.ObjectIDFromHex(payload.DocumentID)
	if err != nil {
		return fmt.Errorf("bad document id %q: %w", payload.DocumentID, asynq.SkipRetry)
	}

	doc, err := p.documents.Get(ctx, id)
	if err != nil {
		return err
	}

	logger.Info("ingesting document", "document_id", payload.DocumentID, "title", doc.Title)
	return p.ingest.Ingest(ctx, doc, payload.Config)
}

func (p *TaskProcessor) ProcessEvaluate(ctx context.Context, t *asynq.Task) error {
	var payload EvaluatePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	id, err := primitive.ObjectIDFromHex(payload.ExperimentID)
	if err != nil {
		return fmt.Errorf("bad experiment id %q: %w", payload.ExperimentID, asynq.SkipRetry)
	}

	logger.Info("running experiment evaluation", "experiment_id", payload.ExperimentID)

	_, err = p.evaluator.RunFromStore(ctx, id)
	var stateErr *services.InvalidStateError
	if errors.As(err, &stateErr) {
		// Another worker got there first; nothing to retry.
		logger.Warn("experiment not pending, skipping", "experiment_id", payload.ExperimentID, "status", stateErr.Status)
		return nil
	}
	return err
}
