package eval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/brunobiangulo/labelgraph/retrieval"
	"github.com/brunobiangulo/labelgraph/store"
)

// DefaultK is used for cases that leave K unset.
const DefaultK = 5

// Searcher is the retrieval surface the evaluator drives.
// *retrieval.Engine satisfies it.
type Searcher interface {
	VectorSearch(ctx context.Context, query string, opts retrieval.VectorOptions) ([]store.SearchResult, error)
	HybridSearch(ctx context.Context, query string, opts retrieval.HybridOptions) (*retrieval.HybridResult, error)
	FindChunksForWeed(ctx context.Context, name string, limit int) ([]store.SearchResult, error)
	FindChunksForCrop(ctx context.Context, name string, limit int) ([]store.SearchResult, error)
}

// Evaluator runs retrieval datasets against a Searcher.
type Evaluator struct {
	searcher Searcher
	defaultK int
}

// NewEvaluator creates a new evaluator. k overrides DefaultK for cases
// without their own K when positive.
func NewEvaluator(s Searcher, k int) *Evaluator {
	if k <= 0 {
		k = DefaultK
	}
	return &Evaluator{searcher: s, defaultK: k}
}

// Report holds the results of an evaluation run.
type Report struct {
	Dataset         string                      `json:"dataset"`
	TotalTests      int                         `json:"total_tests"`
	Passed          int                         `json:"passed"`
	Failed          int                         `json:"failed"`
	Errors          int                         `json:"errors"`
	Metrics         AggregateMetrics            `json:"metrics"`
	CategoryMetrics map[string]AggregateMetrics `json:"category_metrics,omitempty"`
	Results         []CaseResult                `json:"results"`
	RunTime         time.Duration               `json:"run_time"`
}

// AggregateMetrics holds averaged metrics across cases.
type AggregateMetrics struct {
	Count         int             `json:"count"`
	HitAtK        map[int]float64 `json:"hit_at_k"`
	MRR           float64         `json:"mrr"`
	AvgTermRecall float64         `json:"avg_term_recall"`
	AvgLatency    time.Duration   `json:"avg_latency"`
}

// CaseResult is the outcome of one case with its retrieved chunks.
type CaseResult struct {
	Case           Case            `json:"case"`
	Passed         bool            `json:"passed"`
	Error          string          `json:"error,omitempty"`
	Retrieved      []RetrievedItem `json:"retrieved"`
	FirstRelevant  int             `json:"first_relevant"` // 1-based, 0 when none
	ReciprocalRank float64         `json:"reciprocal_rank"`
	TermRecall     float64         `json:"term_recall"`
	HitAtK         map[int]float64 `json:"hit_at_k"`
	Latency        time.Duration   `json:"latency"`
}

// RetrievedItem is a compact view of a retrieved chunk.
type RetrievedItem struct {
	ChunkID       string  `json:"chunk_id"`
	ChunkType     string  `json:"chunk_type"`
	ProductNumber string  `json:"product_number"`
	Score         float64 `json:"score"`
	Relevant      bool    `json:"relevant"`
	Snippet       string  `json:"snippet"`
}

// Run evaluates every case in ds. A failing search is recorded on the
// case and counted, it does not abort the run. Cancelling ctx does.
func (e *Evaluator) Run(ctx context.Context, ds Dataset) (*Report, error) {
	start := time.Now()
	report := &Report{
		Dataset:    ds.Name,
		TotalTests: len(ds.Cases),
	}

	for i, c := range ds.Cases {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res := e.runCase(ctx, c)
		report.Results = append(report.Results, res)
		switch {
		case res.Error != "":
			report.Errors++
			report.Failed++
		case res.Passed:
			report.Passed++
		default:
			report.Failed++
		}

		slog.Info("eval: case complete",
			"case", i+1,
			"total", len(ds.Cases),
			"query", truncate(c.Query, 60),
			"passed", res.Passed,
			"rr", fmt.Sprintf("%.2f", res.ReciprocalRank),
			"latency", res.Latency.Round(time.Millisecond))
	}

	report.Metrics = aggregate(report.Results)
	report.CategoryMetrics = map[string]AggregateMetrics{}
	byCat := map[string][]CaseResult{}
	for _, r := range report.Results {
		cat := r.Case.Category
		if cat == "" {
			cat = "uncategorized"
		}
		byCat[cat] = append(byCat[cat], r)
	}
	for cat, rs := range byCat {
		report.CategoryMetrics[cat] = aggregate(rs)
	}
	report.RunTime = time.Since(start)
	return report, nil
}

func (e *Evaluator) runCase(ctx context.Context, c Case) CaseResult {
	k := c.K
	if k <= 0 {
		k = e.defaultK
	}
	res := CaseResult{Case: c, HitAtK: map[int]float64{}}

	start := time.Now()
	results, err := e.search(ctx, c, k)
	res.Latency = time.Since(start)
	if err != nil {
		res.Error = err.Error()
		for _, kv := range RetrievalKValues {
			res.HitAtK[kv] = 0
		}
		return res
	}

	relevant := make([]bool, len(results))
	for i, r := range results {
		relevant[i] = isRelevant(r, c)
		res.Retrieved = append(res.Retrieved, RetrievedItem{
			ChunkID:       r.ChunkID,
			ChunkType:     r.ChunkType,
			ProductNumber: r.ProductNumber,
			Score:         r.Score,
			Relevant:      relevant[i],
			Snippet:       truncate(r.Text, 120),
		})
		if relevant[i] && res.FirstRelevant == 0 {
			res.FirstRelevant = i + 1
		}
	}
	for _, kv := range RetrievalKValues {
		res.HitAtK[kv] = hitAtK(relevant, kv)
	}
	res.ReciprocalRank = reciprocalRank(relevant)
	res.TermRecall = termRecall(results, c.ExpectedTerms)
	res.Passed = res.FirstRelevant > 0
	return res
}

func (e *Evaluator) search(ctx context.Context, c Case, k int) ([]store.SearchResult, error) {
	switch c.Mode {
	case ModeHybrid:
		hr, err := e.searcher.HybridSearch(ctx, c.Query, retrieval.HybridOptions{K: k})
		if err != nil {
			return nil, err
		}
		return hr.Chunks, nil
	case ModeWeed:
		return e.searcher.FindChunksForWeed(ctx, c.Query, k)
	case ModeCrop:
		return e.searcher.FindChunksForCrop(ctx, c.Query, k)
	default:
		return e.searcher.VectorSearch(ctx, c.Query, retrieval.VectorOptions{K: k})
	}
}

func aggregate(results []CaseResult) AggregateMetrics {
	m := AggregateMetrics{Count: len(results), HitAtK: map[int]float64{}}
	if len(results) == 0 {
		return m
	}
	var latency time.Duration
	for _, r := range results {
		for _, kv := range RetrievalKValues {
			m.HitAtK[kv] += r.HitAtK[kv]
		}
		m.MRR += r.ReciprocalRank
		m.AvgTermRecall += r.TermRecall
		latency += r.Latency
	}
	n := float64(len(results))
	for _, kv := range RetrievalKValues {
		m.HitAtK[kv] /= n
	}
	m.MRR /= n
	m.AvgTermRecall /= n
	m.AvgLatency = latency / time.Duration(len(results))
	return m
}

// FormatReport returns a human-readable summary of the evaluation report.
func FormatReport(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== Evaluation Report: %s ===\n", r.Dataset)
	fmt.Fprintf(&b, "Total: %d | Passed: %d (%.1f%%) | Failed: %d",
		r.TotalTests, r.Passed, passRate(r.Passed, r.TotalTests), r.Failed)
	if r.Errors > 0 {
		fmt.Fprintf(&b, " (%d errors)", r.Errors)
	}
	fmt.Fprintf(&b, "\nRun time: %s\n\n", r.RunTime.Round(time.Millisecond))

	fmt.Fprintf(&b, "Retrieval Metrics:\n")
	for _, k := range RetrievalKValues {
		fmt.Fprintf(&b, "  Hit@%-3d %.1f%%\n", k, r.Metrics.HitAtK[k]*100)
	}
	fmt.Fprintf(&b, "  MRR:          %.3f\n", r.Metrics.MRR)
	fmt.Fprintf(&b, "  Term Recall:  %.2f\n", r.Metrics.AvgTermRecall)
	fmt.Fprintf(&b, "  Avg Latency:  %s\n\n", r.Metrics.AvgLatency.Round(time.Millisecond))

	if len(r.CategoryMetrics) > 0 {
		cats := make([]string, 0, len(r.CategoryMetrics))
		for cat := range r.CategoryMetrics {
			cats = append(cats, cat)
		}
		sort.Strings(cats)

		fmt.Fprintf(&b, "Per-Category Metrics:\n")
		for _, cat := range cats {
			m := r.CategoryMetrics[cat]
			fmt.Fprintf(&b, "  [%s] n=%d Hit@1=%.2f Hit@5=%.2f MRR=%.2f Terms=%.2f\n",
				cat, m.Count, m.HitAtK[1], m.HitAtK[5], m.MRR, m.AvgTermRecall)
		}
		fmt.Fprintln(&b)
	}

	var failed []CaseResult
	for _, res := range r.Results {
		if !res.Passed {
			failed = append(failed, res)
		}
	}
	if len(failed) > 0 {
		fmt.Fprintf(&b, "Failed Cases:\n")
		for _, res := range failed {
			fmt.Fprintf(&b, "  - %q", res.Case.Query)
			if res.Error != "" {
				fmt.Fprintf(&b, " error: %s", res.Error)
			} else {
				fmt.Fprintf(&b, " (%d retrieved, none relevant)", len(res.Retrieved))
			}
			fmt.Fprintln(&b)
		}
	}
	return b.String()
}

func passRate(passed, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(passed) / float64(total) * 100
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
