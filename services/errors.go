package services

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigurationError rejects invalid chunking parameters before any work
// begins; no partial output is ever produced after one.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid chunking configuration: %s %s", e.Field, e.Reason)
}

// NoRelevantResultsError means retrieval found nothing above the similarity
// threshold. It is recoverable; callers that want "no results is fine" must
// catch it explicitly. AvailableCategories helps the caller present guidance.
type NoRelevantResultsError struct {
	Query               string
	Threshold           float64
	AvailableCategories []string
}

func (e *NoRelevantResultsError) Error() string {
	if len(e.AvailableCategories) == 0 {
		return fmt.Sprintf("no indexed content matched %q above threshold %.2f", e.Query, e.Threshold)
	}
	return fmt.Sprintf("no indexed content matched %q above threshold %.2f; available topics: %s",
		e.Query, e.Threshold, strings.Join(e.AvailableCategories, ", "))
}

// InvalidStateError signals an illegal experiment transition, e.g. running
// an experiment that is not pending.
type InvalidStateError struct {
	ExperimentID string
	Status       string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("experiment %s cannot be started from status %q", e.ExperimentID, e.Status)
}

// ScoringError means one metric for one case could not be computed. It
// degrades to a null metric and never aborts the batch.
type ScoringError struct {
	Metric string
	Err    error
}

func (e *ScoringError) Error() string {
	return fmt.Sprintf("scoring %s failed: %v", e.Metric, e.Err)
}

func (e *ScoringError) Unwrap() error { return e.Err }

// RunFailure wraps an unexpected error during an evaluation run. The whole
// experiment transitions to failed with the message preserved.
type RunFailure struct {
	ExperimentID string
	Err          error
}

func (e *RunFailure) Error() string {
	return fmt.Sprintf("evaluation run %s failed: %v", e.ExperimentID, e.Err)
}

func (e *RunFailure) Unwrap() error { return e.Err }

// IsNoRelevantResults reports whether err is a NoRelevantResultsError.
func IsNoRelevantResults(err error) bool {
	var nre *NoRelevantResultsError
	return errors.As(err, &nre)
}
