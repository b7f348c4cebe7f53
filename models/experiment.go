package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Experiment status values. running is entered exactly once; completed and
// failed are terminal.
const (
	ExperimentPending   = "pending"
	ExperimentRunning   = "running"
	ExperimentCompleted = "completed"
	ExperimentFailed    = "failed"
)

// TestCase is one evaluation question. Answer and Contexts are filled by the
// evaluation run when absent. GroundTruth is optional; without it only
// faithfulness and answer relevancy can be scored.
type TestCase struct {
	ID          primitive.ObjectID `json:"id,omitempty" bson:"_id,omitempty"`
	TestSetName string             `json:"test_set_name" bson:"test_set_name"`
	Question    string             `json:"question" bson:"question"`
	Answer      string             `json:"answer,omitempty" bson:"answer,omitempty"`
	Contexts    []string           `json:"contexts,omitempty" bson:"contexts,omitempty"`
	GroundTruth string             `json:"ground_truth,omitempty" bson:"ground_truth,omitempty"`
}

// ExperimentMetrics holds aggregated quality metrics for a completed run.
// Nil means no case produced a value for that metric, which is distinct
// from a measured zero.
type ExperimentMetrics struct {
	AvgFaithfulness     *float64 `json:"avg_faithfulness" bson:"avg_faithfulness"`
	AvgAnswerRelevancy  *float64 `json:"avg_answer_relevancy" bson:"avg_answer_relevancy"`
	AvgContextRecall    *float64 `json:"avg_context_recall" bson:"avg_context_recall"`
	AvgContextPrecision *float64 `json:"avg_context_precision" bson:"avg_context_precision"`
	AvgLatencyMS        *float64 `json:"avg_latency_ms" bson:"avg_latency_ms"`
	TotalQueries        int      `json:"total_queries" bson:"total_queries"`
}

// Experiment is one chunking + prompt configuration under evaluation.
type Experiment struct {
	ID                  primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Name                string             `json:"name" bson:"name"`
	ChunkingConfig      ChunkingConfig     `json:"chunking_config" bson:"chunking_config"`
	InstructionVersion  string             `json:"instruction_version" bson:"instruction_version"`
	InstructionTemplate string             `json:"instruction_template" bson:"instruction_template"`
	TestSetName         string             `json:"test_set_name" bson:"test_set_name"`
	Category            string             `json:"category,omitempty" bson:"category,omitempty"`
	TopK                int                `json:"top_k" bson:"top_k"`
	SimilarityThreshold float64            `json:"similarity_threshold" bson:"similarity_threshold"`
	Status              string             `json:"status" bson:"status"`
	ErrorMessage        string             `json:"error_message,omitempty" bson:"error_message,omitempty"`
	Metrics             ExperimentMetrics  `json:"metrics" bson:"metrics"`
	CreatedAt           time.Time          `json:"created_at" bson:"created_at"`
	StartedAt           *time.Time         `json:"started_at,omitempty" bson:"started_at,omitempty"`
	CompletedAt         *time.Time         `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
}

// EvaluationResult is one row per test case per experiment, immutable once
// written. Metric pointers are nil when the metric could not be computed.
type EvaluationResult struct {
	ID               primitive.ObjectID `json:"id,omitempty" bson:"_id,omitempty"`
	ExperimentID     primitive.ObjectID `json:"experiment_id" bson:"experiment_id"`
	CaseIndex        int                `json:"case_index" bson:"case_index"`
	Question         string             `json:"question" bson:"question"`
	Answer           string             `json:"answer" bson:"answer"`
	Contexts         []string           `json:"contexts" bson:"contexts"`
	GroundTruth      string             `json:"ground_truth,omitempty" bson:"ground_truth,omitempty"`
	Faithfulness     *float64           `json:"faithfulness" bson:"faithfulness"`
	AnswerRelevancy  *float64           `json:"answer_relevancy" bson:"answer_relevancy"`
	ContextRecall    *float64           `json:"context_recall" bson:"context_recall"`
	ContextPrecision *float64           `json:"context_precision" bson:"context_precision"`
	LatencyMS        float64            `json:"latency_ms" bson:"latency_ms"`
	CreatedAt        time.Time          `json:"created_at" bson:"created_at"`
}
