package services

import (
	"bytes"
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"rag-content-pipeline/models"
)

// ExportService renders experiment results and cross-experiment comparisons
// as Excel workbooks.
type ExportService struct {
	experiments ExperimentStore
	analysis    *AnalysisService
}

func NewExportService(experiments ExperimentStore, analysis *AnalysisService) *ExportService {
	return &ExportService{experiments: experiments, analysis: analysis}
}

// ExportExperiment builds a workbook with one sheet of per-case results and
// one summary sheet of aggregated metrics.
func (es *ExportService) ExportExperiment(ctx context.Context, id primitive.ObjectID) (*bytes.Buffer, string, error) {
	exp, err := es.experiments.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	results, err := es.experiments.ResultsFor(ctx, id)
	if err != nil {
		return nil, "", err
	}

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Results"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	headers := []string{
		"Case", "Question", "Answer", "Ground Truth",
		"Faithfulness", "Answer Relevancy", "Context Recall", "Context Precision",
		"Latency (ms)", "Contexts",
	}
	for i, header := range headers {
		cell := fmt.Sprintf("%c1", 'A'+i)
		f.SetCellValue(sheetName, cell, header)
	}

	for rowIdx, res := range results {
		row := rowIdx + 2
		f.SetCellValue(sheetName, fmt.Sprintf("A%d", row), res.CaseIndex)
		f.SetCellValue(sheetName, fmt.Sprintf("B%d", row), res.Question)
		f.SetCellValue(sheetName, fmt.Sprintf("C%d", row), res.Answer)
		f.SetCellValue(sheetName, fmt.Sprintf("D%d", row), res.GroundTruth)
		setMetricCell(f, sheetName, fmt.Sprintf("E%d", row), res.Faithfulness)
		setMetricCell(f, sheetName, fmt.Sprintf("F%d", row), res.AnswerRelevancy)
		setMetricCell(f, sheetName, fmt.Sprintf("G%d", row), res.ContextRecall)
		setMetricCell(f, sheetName, fmt.Sprintf("H%d", row), res.ContextPrecision)
		f.SetCellValue(sheetName, fmt.Sprintf("I%d", row), res.LatencyMS)
		f.SetCellValue(sheetName, fmt.Sprintf("J%d", row), len(res.Contexts))
	}

	if err := es.writeSummarySheet(f, exp); err != nil {
		return nil, "", err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, "", fmt.Errorf("failed to write workbook: %w", err)
	}
	filename := fmt.Sprintf("experiment_%s.xlsx", exp.Name)
	return buf, filename, nil
}

func (es *ExportService) writeSummarySheet(f *excelize.File, exp *models.Experiment) error {
	sheetName := "Summary"
	if _, err := f.NewSheet(sheetName); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}

	summaryData := [][]interface{}{
		{"Experiment", exp.Name},
		{"Status", exp.Status},
		{"Strategy", string(exp.ChunkingConfig.Strategy)},
		{"Chunk Size", exp.ChunkingConfig.ChunkSize},
		{"Overlap", exp.ChunkingConfig.Overlap},
		{"Instruction Version", exp.InstructionVersion},
		{"Test Set", exp.TestSetName},
		{"Top K", exp.TopK},
		{"Similarity Threshold", exp.SimilarityThreshold},
		{"Created", exp.CreatedAt.Format("2006-01-02 15:04:05")},
		{"", ""},
		{"Aggregated Metrics", ""},
		{"Total Queries", exp.Metrics.TotalQueries},
		{"Avg Faithfulness", metricString(exp.Metrics.AvgFaithfulness)},
		{"Avg Answer Relevancy", metricString(exp.Metrics.AvgAnswerRelevancy)},
		{"Avg Context Recall", metricString(exp.Metrics.AvgContextRecall)},
		{"Avg Context Precision", metricString(exp.Metrics.AvgContextPrecision)},
		{"Avg Latency (ms)", metricString(exp.Metrics.AvgLatencyMS)},
	}

	for i, row := range summaryData {
		for j, cell := range row {
			cellRef := fmt.Sprintf("%c%d", 'A'+j, i+1)
			f.SetCellValue(sheetName, cellRef, cell)
		}
	}
	return nil
}

// ExportComparison builds a workbook ranking all completed experiments per
// metric, plus the per-metric winners and the coverage summary.
func (es *ExportService) ExportComparison(ctx context.Context) (*bytes.Buffer, string, error) {
	experiments, err := es.experiments.ListCompleted(ctx)
	if err != nil {
		return nil, "", err
	}
	comparison := es.analysis.Compare(experiments)
	coverage := es.analysis.Coverage(experiments)

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Comparison"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	headers := []string{"Metric", "Rank", "Experiment", "Value", "Total Queries"}
	for i, header := range headers {
		f.SetCellValue(sheetName, fmt.Sprintf("%c1", 'A'+i), header)
	}

	row := 2
	for _, metric := range models.MetricNames {
		for rank, ranked := range comparison.Ranked[metric] {
			f.SetCellValue(sheetName, fmt.Sprintf("A%d", row), string(metric))
			f.SetCellValue(sheetName, fmt.Sprintf("B%d", row), rank+1)
			f.SetCellValue(sheetName, fmt.Sprintf("C%d", row), ranked.ExperimentName)
			f.SetCellValue(sheetName, fmt.Sprintf("D%d", row), ranked.Value)
			f.SetCellValue(sheetName, fmt.Sprintf("E%d", row), ranked.TotalQueries)
			row++
		}
	}

	winnersSheet := "Winners"
	if _, err := f.NewSheet(winnersSheet); err != nil {
		return nil, "", fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetCellValue(winnersSheet, "A1", "Metric")
	f.SetCellValue(winnersSheet, "B1", "Winner")
	f.SetCellValue(winnersSheet, "C1", "Value")
	row = 2
	for _, metric := range models.MetricNames {
		f.SetCellValue(winnersSheet, fmt.Sprintf("A%d", row), string(metric))
		if winner := comparison.Winners[metric]; winner != nil {
			f.SetCellValue(winnersSheet, fmt.Sprintf("B%d", row), winner.ExperimentName)
			f.SetCellValue(winnersSheet, fmt.Sprintf("C%d", row), winner.Value)
		} else {
			f.SetCellValue(winnersSheet, fmt.Sprintf("B%d", row), "n/a")
		}
		row++
	}

	row += 2
	f.SetCellValue(winnersSheet, fmt.Sprintf("A%d", row), "Coverage")
	f.SetCellValue(winnersSheet, fmt.Sprintf("B%d", row),
		fmt.Sprintf("%d/%d cells (%.1f%%)", coverage.FilledCells, coverage.TotalCells, coverage.Percent))

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, "", fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf, "experiment_comparison.xlsx", nil
}

func setMetricCell(f *excelize.File, sheet, cell string, v *float64) {
	if v == nil {
		f.SetCellValue(sheet, cell, "n/a")
		return
	}
	f.SetCellValue(sheet, cell, *v)
}

func metricString(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.4f", *v)
}
