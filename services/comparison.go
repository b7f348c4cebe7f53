package services

import (
	"fmt"
	"sort"

	"rag-content-pipeline/models"

	"github.com/montanaflynn/stats"
)

// AnalysisService derives comparisons, recommendations, and coverage from a
// set of experiments. All views are computed on demand, never persisted.
type AnalysisService struct{}

// NewAnalysisService creates an analysis service.
func NewAnalysisService() *AnalysisService {
	return &AnalysisService{}
}

func metricValue(m models.ExperimentMetrics, name models.MetricName) *float64 {
	switch name {
	case models.MetricFaithfulness:
		return m.AvgFaithfulness
	case models.MetricAnswerRelevancy:
		return m.AvgAnswerRelevancy
	case models.MetricContextRecall:
		return m.AvgContextRecall
	case models.MetricContextPrecision:
		return m.AvgContextPrecision
	}
	return nil
}

// Compare ranks experiments per metric. Experiments with a null value for a
// metric are ignored for that metric; ties go to the larger total_queries,
// then to the earliest created_at. A metric nobody measured has a nil winner.
func (as *AnalysisService) Compare(experiments []models.Experiment) models.Comparison {
	cmp := models.Comparison{
		Winners: make(map[models.MetricName]*models.RankedExperiment, len(models.MetricNames)),
		Ranked:  make(map[models.MetricName][]models.RankedExperiment, len(models.MetricNames)),
	}

	for _, metric := range models.MetricNames {
		type candidate struct {
			exp   models.Experiment
			value float64
		}
		var candidates []candidate
		for _, exp := range experiments {
			if v := metricValue(exp.Metrics, metric); v != nil {
				candidates = append(candidates, candidate{exp: exp, value: *v})
			}
		}

		sort.SliceStable(candidates, func(i, j int) bool {
			if candidates[i].value != candidates[j].value {
				return candidates[i].value > candidates[j].value
			}
			if candidates[i].exp.Metrics.TotalQueries != candidates[j].exp.Metrics.TotalQueries {
				return candidates[i].exp.Metrics.TotalQueries > candidates[j].exp.Metrics.TotalQueries
			}
			return candidates[i].exp.CreatedAt.Before(candidates[j].exp.CreatedAt)
		})

		ranked := make([]models.RankedExperiment, 0, len(candidates))
		for _, c := range candidates {
			ranked = append(ranked, models.RankedExperiment{
				ExperimentID:   c.exp.ID.Hex(),
				ExperimentName: c.exp.Name,
				Value:          c.value,
				TotalQueries:   c.exp.Metrics.TotalQueries,
			})
		}
		cmp.Ranked[metric] = ranked
		if len(ranked) > 0 {
			winner := ranked[0]
			cmp.Winners[metric] = &winner
		} else {
			cmp.Winners[metric] = nil
		}
	}

	return cmp
}

// overallScore is the mean of an experiment's non-null metric averages.
// Missing metrics are excluded from the average, not treated as zero.
func overallScore(m models.ExperimentMetrics) (float64, bool) {
	var values []float64
	for _, metric := range models.MetricNames {
		if v := metricValue(m, metric); v != nil {
			values = append(values, *v)
		}
	}
	mean, err := stats.Mean(values)
	if err != nil {
		return 0, false
	}
	return mean, true
}

const lowFaithfulnessThreshold = 0.5

// Recommend groups completed experiments by chunking strategy and by
// instruction version, reports the best of each, and flags low-performing
// strategies (deduplicated by name).
func (as *AnalysisService) Recommend(experiments []models.Experiment) []models.Recommendation {
	byStrategy := make(map[string][]float64)
	byPrompt := make(map[string][]float64)
	lowPerforming := make(map[string]float64)

	for _, exp := range experiments {
		if exp.Status != models.ExperimentCompleted {
			continue
		}
		if score, ok := overallScore(exp.Metrics); ok {
			strategy := string(exp.ChunkingConfig.Strategy)
			byStrategy[strategy] = append(byStrategy[strategy], score)
			if exp.InstructionVersion != "" {
				byPrompt[exp.InstructionVersion] = append(byPrompt[exp.InstructionVersion], score)
			}
		}
		if f := exp.Metrics.AvgFaithfulness; f != nil && *f < lowFaithfulnessThreshold {
			strategy := string(exp.ChunkingConfig.Strategy)
			if worst, seen := lowPerforming[strategy]; !seen || *f < worst {
				lowPerforming[strategy] = *f
			}
		}
	}

	var recs []models.Recommendation
	if name, score, ok := bestGroup(byStrategy); ok {
		recs = append(recs, models.Recommendation{
			Kind:   models.RecommendBestStrategy,
			Name:   name,
			Score:  score,
			Detail: fmt.Sprintf("highest mean overall score across %d run(s)", len(byStrategy[name])),
		})
	}
	if name, score, ok := bestGroup(byPrompt); ok {
		recs = append(recs, models.Recommendation{
			Kind:   models.RecommendBestPrompt,
			Name:   name,
			Score:  score,
			Detail: fmt.Sprintf("highest mean overall score across %d run(s)", len(byPrompt[name])),
		})
	}

	flagged := make([]string, 0, len(lowPerforming))
	for name := range lowPerforming {
		flagged = append(flagged, name)
	}
	sort.Strings(flagged)
	for _, name := range flagged {
		recs = append(recs, models.Recommendation{
			Kind:   models.RecommendLowPerforming,
			Name:   name,
			Score:  lowPerforming[name],
			Detail: fmt.Sprintf("avg_faithfulness below %.1f", lowFaithfulnessThreshold),
		})
	}

	return recs
}

func bestGroup(groups map[string][]float64) (string, float64, bool) {
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	best := ""
	bestScore := 0.0
	found := false
	for _, name := range names {
		mean, err := stats.Mean(groups[name])
		if err != nil {
			continue
		}
		if !found || mean > bestScore {
			best = name
			bestScore = mean
			found = true
		}
	}
	return best, bestScore, found
}

// Coverage reports how many (strategy, test_set) cells have at least one
// completed experiment, over the full cross-product of strategies and test
// sets seen across the given experiments. Zero when either dimension is
// empty.
func (as *AnalysisService) Coverage(experiments []models.Experiment) models.CoverageReport {
	strategies := make(map[string]bool)
	testSets := make(map[string]bool)
	filled := make(map[string]bool)

	for _, exp := range experiments {
		strategy := string(exp.ChunkingConfig.Strategy)
		strategies[strategy] = true
		if exp.TestSetName != "" {
			testSets[exp.TestSetName] = true
		}
		if exp.Status == models.ExperimentCompleted && exp.TestSetName != "" {
			filled[strategy+"\x00"+exp.TestSetName] = true
		}
	}

	total := len(strategies) * len(testSets)
	if total == 0 {
		return models.CoverageReport{}
	}
	return models.CoverageReport{
		FilledCells: len(filled),
		TotalCells:  total,
		Percent:     float64(len(filled)) / float64(total) * 100,
	}
}
