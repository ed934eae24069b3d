package eval

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

const (
	summarySheet = "Summary"
	resultsSheet = "Results"
)

var resultsHeader = []any{
	"Query", "Mode", "Category", "K", "Passed", "First Relevant", "RR", "Term Recall",
	"Latency (ms)", "Error", "Top Chunk", "Top Type", "Top Product",
}

// WriteXLSX writes the report as a workbook with a Summary sheet of
// aggregate metrics and a Results sheet with one row per case.
func WriteXLSX(r *Report, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("naming summary sheet: %w", err)
	}
	summary := [][]any{
		{"Dataset", r.Dataset},
		{"Total", r.TotalTests},
		{"Passed", r.Passed},
		{"Failed", r.Failed},
		{"Errors", r.Errors},
	}
	for _, k := range RetrievalKValues {
		summary = append(summary, []any{fmt.Sprintf("Hit@%d", k), r.Metrics.HitAtK[k]})
	}
	summary = append(summary,
		[]any{"MRR", r.Metrics.MRR},
		[]any{"Term Recall", r.Metrics.AvgTermRecall},
		[]any{"Run Time (s)", r.RunTime.Seconds()},
	)
	if err := writeRows(f, summarySheet, summary); err != nil {
		return err
	}

	if _, err := f.NewSheet(resultsSheet); err != nil {
		return fmt.Errorf("creating results sheet: %w", err)
	}
	rows := [][]any{resultsHeader}
	for _, res := range r.Results {
		mode := res.Case.Mode
		if mode == "" {
			mode = ModeVector
		}
		row := []any{
			res.Case.Query, mode, res.Case.Category, res.Case.K, res.Passed,
			res.FirstRelevant, res.ReciprocalRank, res.TermRecall,
			res.Latency.Milliseconds(), res.Error,
		}
		if len(res.Retrieved) > 0 {
			top := res.Retrieved[0]
			row = append(row, top.ChunkID, top.ChunkType, top.ProductNumber)
		} else {
			row = append(row, "", "", "")
		}
		rows = append(rows, row)
	}
	if err := writeRows(f, resultsSheet, rows); err != nil {
		return err
	}

	if !strings.HasSuffix(strings.ToLower(path), ".xlsx") {
		path += ".xlsx"
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving workbook: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("writing %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
