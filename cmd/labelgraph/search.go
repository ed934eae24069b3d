package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/labelgraph/retrieval"
	"github.com/brunobiangulo/labelgraph/store"
)

var (
	searchK       int
	searchType    string
	searchProduct string
	hybridNoGraph bool
	windowSize    int
	chunksLimit   int
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Semantic search over label chunks",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

var hybridCmd = &cobra.Command{
	Use:   "hybrid [query]",
	Short: "Semantic search expanded through the graph",
	Long: `Runs a vector search and, unless --no-graph is set, attaches the previous
and next chunk of every hit, the weeds and crops they mention and the
herbicides registered to control those weeds.`,
	Args: cobra.ExactArgs(1),
	RunE: runHybrid,
}

var windowCmd = &cobra.Command{
	Use:   "window [chunk-id]",
	Short: "Show a chunk with its neighbours along the NEXT chain",
	Args:  cobra.ExactArgs(1),
	RunE:  runWindow,
}

var chunksCmd = &cobra.Command{
	Use:       "chunks [weed|crop] [name]",
	Short:     "Find chunks that mention a weed or crop",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"weed", "crop"},
	RunE:      runChunks,
}

func init() {
	for _, c := range []*cobra.Command{searchCmd, hybridCmd} {
		c.Flags().IntVarP(&searchK, "k", "k", retrieval.DefaultK, "number of chunks")
		c.Flags().StringVarP(&searchType, "type", "t", "", "filter by chunk type")
		c.Flags().StringVarP(&searchProduct, "product", "p", "", "filter by product number")
	}
	hybridCmd.Flags().BoolVar(&hybridNoGraph, "no-graph", false, "skip graph expansion")
	windowCmd.Flags().IntVarP(&windowSize, "size", "s", 1, "chunks on each side (1-3)")
	chunksCmd.Flags().IntVarP(&chunksLimit, "limit", "n", retrieval.DefaultEntityLimit, "maximum results")
	rootCmd.AddCommand(searchCmd, hybridCmd, windowCmd, chunksCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	e, err := openEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	results, err := e.Retriever().VectorSearch(context.Background(), args[0], retrieval.VectorOptions{
		K: searchK, ChunkType: searchType, Product: searchProduct,
	})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd, results)
	}
	printResults(cmd, results)
	return nil
}

func runHybrid(cmd *cobra.Command, args []string) error {
	e, err := openEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	res, err := e.Retriever().HybridSearch(context.Background(), args[0], retrieval.HybridOptions{
		K: searchK, ExpandGraph: !hybridNoGraph, ChunkType: searchType, Product: searchProduct,
	})
	if err != nil {
		return fmt.Errorf("hybrid search failed: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd, res)
	}

	printResults(cmd, res.Chunks)
	if res.Graph == nil {
		return nil
	}
	if len(res.Graph.Mentions) > 0 {
		cmd.Println("Mentions:")
		for _, m := range res.Graph.Mentions {
			cmd.Printf("  %s %s (%d chunks)\n", m.EntityType, m.EntityName, len(m.ChunkIDs))
		}
	}
	if len(res.Graph.Herbicides) > 0 {
		cmd.Println("Herbicides controlling mentioned weeds:")
		for _, h := range res.Graph.Herbicides {
			cmd.Printf("  %s (%s) - Group %s, %s in %s\n", h.Herbicide, h.ProductNumber, h.MOAGroup, h.Weed, h.Crop)
		}
	}
	return nil
}

func runWindow(cmd *cobra.Command, args []string) error {
	size, err := retrieval.ParseWindowSize(windowSize)
	if err != nil {
		return err
	}
	e, err := openEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	win, err := e.Retriever().ContextWindow(context.Background(), args[0], size)
	if err != nil {
		return err
	}
	if win == nil {
		return fmt.Errorf("chunk %s not found", args[0])
	}
	if jsonOutput {
		return printJSON(cmd, win)
	}
	for _, c := range win.Before {
		cmd.Printf("[%d] %s\n%s\n\n", c.SequenceOrder, c.ChunkID, c.Text)
	}
	cmd.Printf(">>> [%d] %s\n%s\n\n", win.Center.SequenceOrder, win.Center.ChunkID, win.Center.Text)
	for _, c := range win.After {
		cmd.Printf("[%d] %s\n%s\n\n", c.SequenceOrder, c.ChunkID, c.Text)
	}
	return nil
}

func runChunks(cmd *cobra.Command, args []string) error {
	var kind string
	switch args[0] {
	case "weed", "crop":
		kind = args[0]
	default:
		return errors.New("first argument must be 'weed' or 'crop'")
	}
	e, err := openEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	find := e.Retriever().FindChunksForWeed
	if kind == "crop" {
		find = e.Retriever().FindChunksForCrop
	}
	results, err := find(context.Background(), args[1], chunksLimit)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd, results)
	}
	printResults(cmd, results)
	return nil
}

func printResults(cmd *cobra.Command, results []store.SearchResult) {
	if len(results) == 0 {
		cmd.Println("No results found.")
		return
	}
	for i, r := range results {
		name := r.ProductName
		if name == "" {
			name = r.ProductNumber
		}
		cmd.Printf("  [%d] %s %s (%.3f)\n", i+1, r.ChunkID, name, r.Score)
		cmd.Printf("      %s | %s\n", r.ChunkType, r.ParentSection)
		cmd.Printf("      %s\n\n", snippet(r.Text, 200))
	}
}

func snippet(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
