package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/labelgraph/extract"
)

var extractLimit int

var extractCmd = &cobra.Command{
	Use:   "extract [input] [output]",
	Short: "Extract structured weed control data from label text",
	Long: `Sends each label (markdown, docling JSON, PDF or spreadsheet) to the chat
model and writes one JSON file per label. Given directories, files whose
output already exists are skipped and a run summary is written to
` + extract.SummaryFile + ` in the output directory.`,
	Args: cobra.ExactArgs(2),
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().IntVarP(&extractLimit, "limit", "n", 0, "maximum files to process (0 = all)")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	input, output := args[0], args[1]
	info, err := os.Stat(input)
	if err != nil {
		return err
	}

	e, err := openEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !info.IsDir() {
		res, err := e.ExtractFile(ctx, input, output)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd, res)
		}
		printResult(cmd, res)
		if res.Status != extract.StatusSuccess && res.Status != extract.StatusSkipped {
			return errors.New("extraction did not succeed")
		}
		return nil
	}

	if extractLimit > 0 {
		cmd.Printf("Limiting to %d files\n", extractLimit)
	}
	summary, err := e.Extract(ctx, input, output, extractLimit)
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd, summary)
	}

	cmd.Println("EXTRACTION COMPLETE")
	cmd.Printf("  Total files:  %d\n", summary.TotalFiles)
	cmd.Printf("  Success:      %d\n", summary.Succeeded)
	cmd.Printf("  Errors:       %d\n", summary.Errors)
	cmd.Printf("  Timeouts:     %d\n", summary.Timeouts)
	cmd.Printf("  Rate limited: %d\n", summary.RateLimited)
	cmd.Printf("  Skipped:      %d\n", summary.Skipped)
	if n := len(summary.RetryFiles); n > 0 {
		cmd.Printf("\n%d files need retry (timeouts/rate limits). Run again to retry.\n", n)
	}
	return nil
}

func printResult(cmd *cobra.Command, r extract.Result) {
	switch r.Status {
	case extract.StatusSuccess:
		cmd.Printf("%s: %d crops, %d weeds, %d entries\n", r.File, r.Crops, r.Weeds, r.Entries)
	case extract.StatusSkipped:
		cmd.Printf("%s: skipped (%s)\n", r.File, r.Reason)
	default:
		cmd.Printf("%s: %s: %s\n", r.File, r.Status, r.Error)
	}
}
