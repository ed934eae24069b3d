package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/brunobiangulo/labelgraph/parser"
	"github.com/brunobiangulo/labelgraph/store"
)

// EntityStore is the subset of the graph store the entity loader writes to.
type EntityStore interface {
	UpsertHerbicide(ctx context.Context, h store.Herbicide) error
	AddActiveConstituent(ctx context.Context, productNumber, name, chemicalGroup string) error
	LinkModeOfAction(ctx context.Context, productNumber, group string) (bool, error)
	UpsertCrop(ctx context.Context, c store.Crop) error
	LinkRegisteredFor(ctx context.Context, productNumber, crop string) error
	UpsertWeed(ctx context.Context, w store.Weed) error
	UpsertControl(ctx context.Context, c store.Control) error
	LinkState(ctx context.Context, productNumber, code string) (bool, error)
	LinkLabel(ctx context.Context, productNumber string) (bool, error)
}

// LoadStats counts what one label contributed.
type LoadStats struct {
	ProductNumber     string `json:"product_number"`
	Herbicide         int    `json:"herbicide"`
	Crops             int    `json:"crops"`
	Weeds             int    `json:"weeds"`
	ControlsRels      int    `json:"controls_rels"`
	RegisteredForRels int    `json:"registered_for_rels"`
}

// FileError records a file that could not be loaded.
type FileError struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

// DirectoryStats aggregates a directory load.
type DirectoryStats struct {
	FilesProcessed    int         `json:"files_processed"`
	Herbicides        int         `json:"herbicides"`
	Crops             int         `json:"crops"`
	Weeds             int         `json:"weeds"`
	ControlsRels      int         `json:"controls_rels"`
	RegisteredForRels int         `json:"registered_for_rels"`
	Errors            []FileError `json:"errors,omitempty"`
}

// EntityLoader merges extracted labels into herbicide, weed and crop nodes.
type EntityLoader struct {
	store EntityStore
}

// NewEntityLoader creates an entity loader over s.
func NewEntityLoader(s EntityStore) *EntityLoader {
	return &EntityLoader{store: s}
}

// LoadLabel merges one label. Every write is an upsert, so loading the
// same label twice leaves the graph unchanged.
func (l *EntityLoader) LoadLabel(ctx context.Context, label HerbicideLabel) (*LoadStats, error) {
	pn := strings.TrimSpace(label.ProductNumber)
	if pn == "" {
		return nil, fmt.Errorf("%w: label has no product number", parser.ErrMalformed)
	}
	stats := &LoadStats{ProductNumber: pn}

	if err := l.store.UpsertHerbicide(ctx, store.Herbicide{
		ProductNumber:      pn,
		ProductName:        label.ProductName,
		ActiveConstituent:  label.ActiveConstituent,
		ChemicalGroup:      label.ChemicalGroup,
		WithholdingPeriod:  label.WithholdingPeriod,
		ApplicationMethods: label.ApplicationMethods,
	}); err != nil {
		return nil, fmt.Errorf("upserting herbicide %s: %w", pn, err)
	}
	stats.Herbicide = 1

	if label.ActiveConstituent != "" {
		if err := l.store.AddActiveConstituent(ctx, pn, label.ActiveConstituent, label.ChemicalGroup); err != nil {
			return nil, fmt.Errorf("linking active constituent: %w", err)
		}
	}

	if moa := strings.ToUpper(strings.TrimSpace(label.ModeOfActionGroup)); moa != "" {
		ok, err := l.store.LinkModeOfAction(ctx, pn, moa)
		if err != nil {
			return nil, fmt.Errorf("linking mode of action: %w", err)
		}
		if !ok {
			slog.Warn("entities: unknown mode of action group", "product", pn, "group", moa)
		}
	}

	for _, name := range label.RegisteredCrops {
		key := NormalizeCrop(name)
		if key == "" {
			continue
		}
		if err := l.store.UpsertCrop(ctx, store.Crop{Name: key, DisplayName: name}); err != nil {
			return nil, fmt.Errorf("upserting crop %q: %w", key, err)
		}
		if err := l.store.LinkRegisteredFor(ctx, pn, key); err != nil {
			return nil, fmt.Errorf("linking crop %q: %w", key, err)
		}
		stats.Crops++
		stats.RegisteredForRels++
	}

	for _, name := range label.RegisteredWeeds {
		key := NormalizeWeed(name)
		if key == "" {
			continue
		}
		if err := l.store.UpsertWeed(ctx, store.Weed{CommonName: key, DisplayName: name}); err != nil {
			return nil, fmt.Errorf("upserting weed %q: %w", key, err)
		}
		stats.Weeds++
	}

	for _, e := range label.WeedControlEntries {
		weed, crop := NormalizeWeed(e.WeedCommonName), NormalizeCrop(e.Crop)
		if weed == "" || crop == "" {
			continue
		}
		if err := l.store.UpsertWeed(ctx, store.Weed{
			CommonName:     weed,
			DisplayName:    e.WeedCommonName,
			ScientificName: e.WeedScientificName,
		}); err != nil {
			return nil, fmt.Errorf("upserting weed %q: %w", weed, err)
		}
		if err := l.store.UpsertCrop(ctx, store.Crop{Name: crop, DisplayName: e.Crop}); err != nil {
			return nil, fmt.Errorf("upserting crop %q: %w", crop, err)
		}

		states := make([]string, 0, len(e.States))
		for _, s := range e.States {
			if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
				states = append(states, s)
			}
		}
		if err := l.store.UpsertControl(ctx, store.Control{
			ProductNumber:     pn,
			Weed:              weed,
			Crop:              crop,
			RatePerHa:         e.RatePerHa,
			ApplicationTiming: e.ApplicationTiming,
			ControlLevel:      e.ControlLevel,
			CriticalComments:  e.CriticalComments,
			States:            states,
		}); err != nil {
			return nil, err
		}
		stats.ControlsRels++

		for _, s := range states {
			if _, err := l.store.LinkState(ctx, pn, s); err != nil {
				return nil, fmt.Errorf("linking state %s: %w", s, err)
			}
		}
	}

	if _, err := l.store.LinkLabel(ctx, pn); err != nil {
		return nil, fmt.Errorf("linking label document: %w", err)
	}
	return stats, nil
}

// LoadFile reads an extracted label JSON file and merges it. A missing
// product number is taken from the file name.
func (l *EntityLoader) LoadFile(ctx context.Context, path string) (*LoadStats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading label: %w", err)
	}
	var label HerbicideLabel
	if err := json.Unmarshal(data, &label); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", parser.ErrMalformed, filepath.Base(path), err)
	}
	if label.ProductNumber == "" {
		label.ProductNumber = parser.ProductNumberFromFilename(path)
	}
	return l.LoadLabel(ctx, label)
}

// LoadDirectory merges every *.json label in dir, skipping files whose
// name starts with an underscore. A limit of zero loads everything.
// Per-file failures are collected and loading continues.
func (l *EntityLoader) LoadDirectory(ctx context.Context, dir string, limit int) (*DirectoryStats, error) {
	files, err := LabelFiles(dir)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}

	start := time.Now()
	slog.Info("entities: loading directory", "dir", dir, "files", len(files))

	summary := &DirectoryStats{}
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		stats, err := l.LoadFile(ctx, f)
		if err != nil {
			slog.Warn("entities: file failed", "file", filepath.Base(f), "error", err)
			summary.Errors = append(summary.Errors, FileError{File: filepath.Base(f), Error: err.Error()})
			continue
		}
		summary.FilesProcessed++
		summary.Herbicides += stats.Herbicide
		summary.Crops += stats.Crops
		summary.Weeds += stats.Weeds
		summary.ControlsRels += stats.ControlsRels
		summary.RegisteredForRels += stats.RegisteredForRels
		slog.Debug("entities: file loaded",
			"progress", fmt.Sprintf("%d/%d", i+1, len(files)),
			"product", stats.ProductNumber,
			"controls", stats.ControlsRels)
	}

	slog.Info("entities: directory loaded",
		"files", summary.FilesProcessed,
		"errors", len(summary.Errors),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return summary, nil
}

// LabelFiles lists the label JSON files of dir in name order.
func LabelFiles(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(matches))
	for _, m := range matches {
		base := filepath.Base(m)
		if strings.HasPrefix(base, "_") || strings.HasSuffix(base, ".docling.json") {
			continue
		}
		files = append(files, m)
	}
	slices.Sort(files)
	return files, nil
}
