// Command eval measures retrieval quality against an ingested label graph.
//
// Usage:
//
//	go run ./cmd/eval --config labelgraph.yaml
//	go run ./cmd/eval --dataset queries.yaml --k 5 --xlsx report.xlsx
//	go run ./cmd/eval --labels ./labels --output report.json
//
// Without --dataset the built-in label smoke queries are run.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/brunobiangulo/labelgraph"
	"github.com/brunobiangulo/labelgraph/eval"
)

func main() {
	var (
		configPath  = flag.String("config", "labelgraph.yaml", "Path to YAML config (missing file = defaults)")
		dbPath      = flag.String("db", "", "SQLite database path override")
		datasetPath = flag.String("dataset", "", "Path to YAML dataset (default: built-in queries)")
		labelsDir   = flag.String("labels", "", "Ingest this directory of labels before evaluating")
		k           = flag.Int("k", eval.DefaultK, "Results per query for cases without their own k")
		outputFile  = flag.String("output", "", "Path to write JSON report")
		xlsxFile    = flag.String("xlsx", "", "Path to write XLSX report")
		verbose     = flag.Bool("verbose", false, "Debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	_ = godotenv.Load()

	cfg, err := labelgraph.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	cfg.ApplyEnv()
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	ds := eval.DefaultDataset()
	if *datasetPath != "" {
		ds, err = eval.LoadDataset(*datasetPath)
		if err != nil {
			log.Fatalf("loading dataset: %v", err)
		}
	}

	engine, err := labelgraph.New(cfg)
	if err != nil {
		log.Fatalf("creating engine: %v", err)
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *labelsDir != "" {
		stats, err := engine.IngestDirectory(ctx, *labelsDir, 0)
		if err != nil {
			log.Fatalf("ingesting labels: %v", err)
		}
		slog.Info("eval: labels ingested", "files", stats.FilesProcessed, "chunks", stats.TotalChunks)
	}

	slog.Info("eval: starting", "dataset", ds.Name, "cases", len(ds.Cases), "k", *k)
	report, err := eval.NewEvaluator(engine.Retriever(), *k).Run(ctx, ds)
	if err != nil {
		log.Fatalf("evaluation failed: %v", err)
	}

	fmt.Print(eval.FormatReport(report))

	if *outputFile != "" {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			log.Fatalf("encoding report: %v", err)
		}
		if err := os.WriteFile(*outputFile, data, 0644); err != nil {
			log.Fatalf("writing report: %v", err)
		}
		slog.Info("eval: report written", "path", *outputFile)
	}
	if *xlsxFile != "" {
		if err := eval.WriteXLSX(report, *xlsxFile); err != nil {
			log.Fatalf("writing xlsx: %v", err)
		}
		slog.Info("eval: workbook written", "path", *xlsxFile)
	}

	if report.Errors > 0 {
		engine.Close()
		os.Exit(1)
	}
}
