package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/brunobiangulo/labelgraph/graph"
	"github.com/brunobiangulo/labelgraph/llm"
	"github.com/brunobiangulo/labelgraph/parser"
)

// Status is the outcome of extracting one file.
type Status string

const (
	StatusSuccess     Status = "success"
	StatusError       Status = "error"
	StatusSkipped     Status = "skipped"
	StatusTimeout     Status = "timeout"
	StatusRateLimited Status = "rate_limited"
)

// Skip reasons.
const (
	ReasonTooShort     = "content too short"
	ReasonOutputExists = "output exists"
)

// Result describes one file's extraction.
type Result struct {
	File     string `json:"file"`
	Status   Status `json:"status"`
	Reason   string `json:"reason,omitempty"`
	Error    string `json:"error,omitempty"`
	Crops    int    `json:"crops,omitempty"`
	Weeds    int    `json:"weeds,omitempty"`
	Entries  int    `json:"entries,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
}

// OutputPath is where the extraction of input is written inside outDir.
func OutputPath(input, outDir string) string {
	name := filepath.Base(input)
	if strings.HasSuffix(strings.ToLower(name), ".docling.json") {
		name = name[:len(name)-len(".docling.json")]
	} else {
		name = strings.TrimSuffix(name, filepath.Ext(name))
	}
	return filepath.Join(outDir, name+".json")
}

// OutputExists reports whether a plain or gzipped output already exists.
func OutputExists(output string) bool {
	for _, p := range []string{output, output + ".gz"} {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}

// ReadContent returns the text handed to the model for a file. Markdown is
// used as is; other formats are normalised first.
func ReadContent(ctx context.Context, reg *parser.Registry, path string) (string, error) {
	if parser.FormatOf(path) == "md" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	p, err := reg.ForPath(path)
	if err != nil {
		return "", err
	}
	doc, err := p.Parse(ctx, path)
	if err != nil {
		return "", err
	}
	if doc.ProductNumber == "" {
		doc.ProductNumber = parser.ProductNumberFromFilename(path)
	}
	return doc.Markdown(), nil
}

// ExtractFile extracts one input file into output. It makes a single
// model call; retries belong to the pool.
func (e *Extractor) ExtractFile(ctx context.Context, reg *parser.Registry, input, output string) Result {
	res := Result{File: filepath.Base(input), Attempts: 1}

	content, err := ReadContent(ctx, reg, input)
	if err != nil {
		res.Status = StatusError
		res.Error = err.Error()
		return res
	}
	if len(strings.TrimSpace(content)) < MinContentChars {
		res.Status = StatusSkipped
		res.Reason = ReasonTooShort
		return res
	}

	label, err := e.Extract(ctx, content)
	if err != nil {
		res.Status = classify(err)
		res.Error = err.Error()
		return res
	}

	label.Metadata = &graph.LabelMetadata{
		SourceFile:  res.File,
		ExtractedAt: time.Now().Format(time.RFC3339),
		Model:       e.model,
	}
	if err := writeJSON(output, label); err != nil {
		res.Status = StatusError
		res.Error = err.Error()
		return res
	}

	res.Status = StatusSuccess
	res.Crops = len(label.RegisteredCrops)
	res.Weeds = len(label.RegisteredWeeds)
	res.Entries = len(label.WeedControlEntries)
	return res
}

func classify(err error) Status {
	switch {
	case errors.Is(err, ErrTimeout):
		return StatusTimeout
	case isQuotaError(err):
		return StatusRateLimited
	default:
		return StatusError
	}
}

// quotaSignals are substrings of provider errors that mean the request
// should be retried later.
var quotaSignals = []string{"quota", "rate limit", "rate-limit", "429", "too many requests"}

func isQuotaError(err error) bool {
	if errors.Is(err, llm.ErrRateLimited) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range quotaSignals {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
