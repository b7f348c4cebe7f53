package models

// MetricName identifies one of the four quality metrics.
type MetricName string

const (
	MetricFaithfulness     MetricName = "faithfulness"
	MetricAnswerRelevancy  MetricName = "answer_relevancy"
	MetricContextRecall    MetricName = "context_recall"
	MetricContextPrecision MetricName = "context_precision"
)

// MetricNames in reporting order.
var MetricNames = []MetricName{
	MetricFaithfulness,
	MetricAnswerRelevancy,
	MetricContextRecall,
	MetricContextPrecision,
}

// RankedExperiment is one experiment's standing for a single metric.
type RankedExperiment struct {
	ExperimentID   string  `json:"experiment_id"`
	ExperimentName string  `json:"experiment_name"`
	Value          float64 `json:"value"`
	TotalQueries   int     `json:"total_queries"`
}

// Comparison ranks a set of experiments per metric. Winner entries are nil
// when no experiment has a non-null value for that metric. Derived view,
// never persisted.
type Comparison struct {
	Winners map[MetricName]*RankedExperiment  `json:"winners"`
	Ranked  map[MetricName][]RankedExperiment `json:"ranked"`
}

// Recommendation kinds.
const (
	RecommendBestStrategy  = "best_chunk_strategy"
	RecommendBestPrompt    = "best_prompt_version"
	RecommendLowPerforming = "low_performing_strategy"
)

// Recommendation is one actionable finding derived from completed experiments.
type Recommendation struct {
	Kind   string  `json:"kind"`
	Name   string  `json:"name"`
	Score  float64 `json:"score"`
	Detail string  `json:"detail,omitempty"`
}

// CoverageReport measures how much of the strategy x test-set cross-product
// has been explored by at least one completed experiment.
type CoverageReport struct {
	FilledCells int     `json:"filled_cells"`
	TotalCells  int     `json:"total_cells"`
	Percent     float64 `json:"percent"`
}
