package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/labelgraph/loader"
)

var (
	ingestLimit int
	ingestWatch bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file-or-dir]",
	Short: "Chunk, embed and link label documents",
	Long: `Loads docling JSON, markdown, PDF or spreadsheet labels into the graph.
A directory is loaded file by file; with --watch, new and rewritten files
are loaded as they appear until interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

var loadEntitiesCmd = &cobra.Command{
	Use:   "load-entities [file-or-dir]",
	Short: "Merge extracted label JSON into herbicide, weed and crop nodes",
	Args:  cobra.ExactArgs(1),
	RunE:  runLoadEntities,
}

func init() {
	ingestCmd.Flags().IntVarP(&ingestLimit, "limit", "n", 0, "maximum files to load (0 = all)")
	ingestCmd.Flags().BoolVarP(&ingestWatch, "watch", "w", false, "keep loading files written to the directory")
	loadEntitiesCmd.Flags().IntVarP(&ingestLimit, "limit", "n", 0, "maximum files to load (0 = all)")
	rootCmd.AddCommand(ingestCmd, loadEntitiesCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	path := args[0]
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if ingestWatch && !info.IsDir() {
		return fmt.Errorf("--watch needs a directory, got %s", path)
	}

	e, err := openEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !info.IsDir() {
		stats, err := e.Ingest(ctx, path)
		if err != nil {
			return fmt.Errorf("ingest failed: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd, stats)
		}
		printLoadStats(cmd, stats)
		return nil
	}

	stats, err := e.IngestDirectory(ctx, path, ingestLimit)
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}
	if jsonOutput {
		if err := printJSON(cmd, stats); err != nil {
			return err
		}
	} else {
		cmd.Printf("Run %s: %d files, %d chunks, %d NEXT, %d MENTIONS\n",
			stats.RunID, stats.FilesProcessed, stats.TotalChunks, stats.TotalNextRels, stats.TotalMentions)
		for _, f := range stats.Empty {
			cmd.Printf("  empty: %s\n", f)
		}
		for _, f := range stats.Superseded {
			cmd.Printf("  superseded: %s\n", f)
		}
		for _, fe := range stats.Errors {
			cmd.Printf("  error: %s: %s\n", fe.File, fe.Error)
		}
	}

	if !ingestWatch {
		return nil
	}
	cmd.Printf("Watching %s (Ctrl-C to stop)\n", path)
	return e.Watch(ctx, path, func(file string, stats *loader.Stats, err error) {
		if err != nil {
			cmd.PrintErrf("  error: %s: %v\n", file, err)
			return
		}
		printLoadStats(cmd, stats)
	})
}

func printLoadStats(cmd *cobra.Command, s *loader.Stats) {
	if s.Empty {
		cmd.Printf("%s: skipped (%s)\n", s.SourceFile, s.Reason)
		return
	}
	cmd.Printf("%s [%s]: %d chunks, %d NEXT, %d weed / %d crop mentions, %d pruned\n",
		s.SourceFile, s.ProductNumber, s.Chunks, s.NextRels, s.MentionsWeeds, s.MentionsCrops, s.Pruned)
}

func runLoadEntities(cmd *cobra.Command, args []string) error {
	path := args[0]
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	e, err := openEngine()
	if err != nil {
		return err
	}
	defer e.Close()
	ctx := context.Background()

	if !info.IsDir() {
		stats, err := e.LoadEntities(ctx, path)
		if err != nil {
			return fmt.Errorf("entity load failed: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd, stats)
		}
		cmd.Printf("%s: %d crops, %d weeds, %d CONTROLS, %d REGISTERED_FOR\n",
			stats.ProductNumber, stats.Crops, stats.Weeds, stats.ControlsRels, stats.RegisteredForRels)
		return nil
	}

	stats, err := e.LoadEntitiesDirectory(ctx, path, ingestLimit)
	if err != nil {
		return fmt.Errorf("entity load failed: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd, stats)
	}
	cmd.Printf("%d files: %d herbicides, %d crops, %d weeds, %d CONTROLS, %d REGISTERED_FOR\n",
		stats.FilesProcessed, stats.Herbicides, stats.Crops, stats.Weeds, stats.ControlsRels, stats.RegisteredForRels)
	for _, fe := range stats.Errors {
		cmd.Printf("  error: %s: %s\n", fe.File, fe.Error)
	}
	return nil
}
