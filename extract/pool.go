package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/brunobiangulo/labelgraph/parser"
)

// SummaryFile is the name of the run summary written to the output directory.
const SummaryFile = "_extraction_summary.json"

// PoolConfig bounds a directory extraction.
type PoolConfig struct {
	MaxConcurrent int           `json:"max_concurrent" yaml:"max_concurrent"`
	StartDelay    time.Duration `json:"start_delay" yaml:"start_delay"`
	MaxRetries    int           `json:"max_retries" yaml:"max_retries"` // retries after the first attempt
	BaseDelay     time.Duration `json:"base_delay" yaml:"base_delay"`
	MaxBackoff    time.Duration `json:"max_backoff" yaml:"max_backoff"`
	Limit         int           `json:"limit,omitempty" yaml:"limit,omitempty"`
}

// DefaultPoolConfig returns the pacing used against hosted providers.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConcurrent: 1,
		StartDelay:    2500 * time.Millisecond,
		MaxRetries:    5,
		BaseDelay:     2500 * time.Millisecond,
		MaxBackoff:    300 * time.Second,
	}
}

// Backoff is the wait before retry attempt+1 after a quota signal.
func (c PoolConfig) Backoff(attempt int) time.Duration {
	d := c.BaseDelay
	for i := 1; i < attempt && d < c.MaxBackoff; i++ {
		d *= 2
	}
	return min(d, c.MaxBackoff)
}

// Ledger records per-file outcomes outside the output directory.
type Ledger interface {
	Record(ctx context.Context, runID string, r Result) error
}

// Summary is written to SummaryFile after a run.
type Summary struct {
	RunID        string   `json:"run_id"`
	Timestamp    string   `json:"timestamp"`
	Model        string   `json:"model"`
	TotalFiles   int      `json:"total_files"`
	Succeeded    int      `json:"succeeded"`
	Errors       int      `json:"errors"`
	Timeouts     int      `json:"timeouts"`
	RateLimited  int      `json:"rate_limited"`
	Skipped      int      `json:"skipped"`
	ErrorDetails []Result `json:"error_details"`
	// RetryFiles lists timed out and rate limited files for a later run.
	RetryFiles []string `json:"retry_files"`
	Results    []Result `json:"-"`
}

// Pool runs extractions across files with start spacing and retries.
type Pool struct {
	extractor *Extractor
	parsers   *parser.Registry
	cfg       PoolConfig
	ledger    Ledger
	sleep     func(context.Context, time.Duration) error
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithLedger records every result in l.
func WithLedger(l Ledger) PoolOption { return func(p *Pool) { p.ledger = l } }

// WithRegistry sets the parsers used for non-markdown inputs.
func WithRegistry(r *parser.Registry) PoolOption { return func(p *Pool) { p.parsers = r } }

// NewPool creates a pool. Zero counts and delays take DefaultPoolConfig
// values, except StartDelay where zero disables start spacing.
func NewPool(e *Extractor, cfg PoolConfig, opts ...PoolOption) *Pool {
	def := DefaultPoolConfig()
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.StartDelay < 0 {
		cfg.StartDelay = 0
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	p := &Pool{extractor: e, cfg: cfg, sleep: sleepCtx}
	for _, o := range opts {
		o(p)
	}
	if p.parsers == nil {
		p.parsers = parser.NewRegistry()
	}
	return p
}

// WithLimit returns a copy of the pool that processes at most n files
// per run; n <= 0 keeps the configured limit.
func (p *Pool) WithLimit(n int) *Pool {
	if n <= 0 {
		return p
	}
	c := *p
	c.cfg.Limit = n
	return &c
}

// InputFiles lists the extractable files of dir in name order, skipping
// names that start with an underscore.
func (p *Pool) InputFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, "_") {
			continue
		}
		path := filepath.Join(dir, name)
		if p.parsers.Supports(path) {
			files = append(files, path)
		}
	}
	slices.Sort(files)
	return files, nil
}

// Run extracts every input file of inDir into outDir and writes the run
// summary. Files whose output already exists are skipped.
func (p *Pool) Run(ctx context.Context, inDir, outDir string) (*Summary, error) {
	files, err := p.InputFiles(inDir)
	if err != nil {
		return nil, err
	}
	if p.cfg.Limit > 0 && len(files) > p.cfg.Limit {
		files = files[:p.cfg.Limit]
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", outDir, err)
	}

	runID := uuid.NewString()
	start := time.Now()
	slog.Info("extract: starting run",
		"run", runID,
		"files", len(files),
		"model", p.extractor.Model(),
		"concurrency", p.cfg.MaxConcurrent,
		"start_delay", p.cfg.StartDelay)

	var limiter *rate.Limiter
	if p.cfg.StartDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(p.cfg.StartDelay), 1)
	} else {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		sem       = make(chan struct{}, p.cfg.MaxConcurrent)
		results   = make([]Result, len(files))
		completed int
		total     = len(files)
	)

	for i, f := range files {
		output := OutputPath(f, outDir)
		if OutputExists(output) {
			results[i] = Result{File: filepath.Base(f), Status: StatusSkipped, Reason: ReasonOutputExists}
			p.record(ctx, runID, results[i])
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return nil, ctx.Err()
		}
		if err := limiter.Wait(ctx); err != nil {
			<-sem
			wg.Wait()
			return nil, err
		}

		wg.Add(1)
		go func(i int, input, output string) {
			defer wg.Done()
			defer func() { <-sem }()

			fileStart := time.Now()
			res := p.extractWithRetry(ctx, input, output)
			results[i] = res
			p.record(ctx, runID, res)

			mu.Lock()
			completed++
			n := completed
			mu.Unlock()
			slog.Info("extract: file processed",
				"progress", fmt.Sprintf("%d/%d", n, total),
				"file", res.File,
				"status", res.Status,
				"attempts", res.Attempts,
				"elapsed", time.Since(fileStart).Round(time.Millisecond))
		}(i, f, output)
	}
	wg.Wait()

	sum := summarize(runID, p.extractor.Model(), results)
	if err := writeJSON(filepath.Join(outDir, SummaryFile), sum); err != nil {
		return sum, fmt.Errorf("writing summary: %w", err)
	}
	slog.Info("extract: run complete",
		"run", runID,
		"succeeded", sum.Succeeded,
		"errors", sum.Errors,
		"timeouts", sum.Timeouts,
		"rate_limited", sum.RateLimited,
		"skipped", sum.Skipped,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return sum, nil
}

// ExtractOne extracts a single file with the pool's retry policy.
func (p *Pool) ExtractOne(ctx context.Context, input, output string) Result {
	return p.extractWithRetry(ctx, input, output)
}

// extractWithRetry retries a file while the provider signals quota
// exhaustion, backing off exponentially. A file gets one initial attempt
// plus up to MaxRetries retries.
func (p *Pool) extractWithRetry(ctx context.Context, input, output string) Result {
	var res Result
	attempts := p.cfg.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		res = p.extractor.ExtractFile(ctx, p.parsers, input, output)
		res.Attempts = attempt
		if res.Status != StatusRateLimited || attempt == attempts {
			return res
		}
		backoff := p.cfg.Backoff(attempt)
		slog.Warn("extract: rate limited, backing off",
			"file", res.File, "attempt", attempt, "backoff", backoff)
		if err := p.sleep(ctx, backoff); err != nil {
			res.Status = StatusError
			res.Error = err.Error()
			return res
		}
	}
	return res
}

func (p *Pool) record(ctx context.Context, runID string, r Result) {
	if p.ledger == nil {
		return
	}
	if err := p.ledger.Record(ctx, runID, r); err != nil {
		slog.Warn("extract: ledger write failed", "file", r.File, "error", err)
	}
}

func summarize(runID, model string, results []Result) *Summary {
	s := &Summary{
		RunID:        runID,
		Timestamp:    time.Now().Format(time.RFC3339),
		Model:        model,
		TotalFiles:   len(results),
		ErrorDetails: []Result{},
		RetryFiles:   []string{},
		Results:      results,
	}
	for _, r := range results {
		switch r.Status {
		case StatusSuccess:
			s.Succeeded++
		case StatusSkipped:
			s.Skipped++
		case StatusTimeout:
			s.Timeouts++
			s.RetryFiles = append(s.RetryFiles, r.File)
		case StatusRateLimited:
			s.RateLimited++
			s.RetryFiles = append(s.RetryFiles, r.File)
		default:
			s.Errors++
			s.ErrorDetails = append(s.ErrorDetails, r)
		}
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
