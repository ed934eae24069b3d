package main

import (
	"context"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/labelgraph/tools"
)

var (
	queryCrop       string
	queryState      string
	queryExcludeMOA string
)

var queryCmd = &cobra.Command{
	Use:   "query [weed|crop|herbicide] [name]",
	Short: "Query structured herbicide data for an entity",
	Long: `Answers from the entity graph:
  weed       herbicides that control the weed (filter with --crop, --state, --exclude-moa)
  crop       herbicides registered for the crop (filter with --state)
  herbicide  product details by name or APVMA number`,
	Args: cobra.MinimumNArgs(2),
	RunE: runQuery,
}

var rotationCmd = &cobra.Command{
	Use:   "rotation [current-moa] [crop] [weed]",
	Short: "Find herbicides with a different mode of action",
	Args:  cobra.ExactArgs(3),
	RunE:  runRotation,
}

var statsCmd = &cobra.Command{
	Use:   "stats [question]",
	Short: "Graph counts, or answer a statistics question",
	Long: `Without arguments, prints node and relationship counts and the most
connected weeds and crops. With a question such as "How many herbicides
control annual ryegrass?" or "most common MOA groups", answers it from
the graph.`,
	RunE: runStats,
}

func init() {
	queryCmd.Flags().StringVar(&queryCrop, "crop", "", "restrict weed queries to a crop")
	queryCmd.Flags().StringVar(&queryState, "state", "", "Australian state code (NSW, VIC, ...)")
	queryCmd.Flags().StringVar(&queryExcludeMOA, "exclude-moa", "", "mode of action group to exclude from weed queries")
	rootCmd.AddCommand(queryCmd, rotationCmd, statsCmd)
}

// entityQuery turns CLI arguments into a typed entity query. Names may
// span several arguments.
func entityQuery(args []string) (tools.EntityQuery, error) {
	in := tools.GraphQueryInput{
		EntityType: args[0],
		EntityName: strings.Join(args[1:], " "),
		Crop:       queryCrop,
		State:      queryState,
		ExcludeMOA: queryExcludeMOA,
	}
	return in.Query()
}

func runQuery(cmd *cobra.Command, args []string) error {
	q, err := entityQuery(args)
	if err != nil {
		return err
	}
	e, err := openEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	out, err := e.Tools().GraphQuery(context.Background(), q)
	if err != nil {
		return err
	}
	cmd.Println(out)
	return nil
}

func runRotation(cmd *cobra.Command, args []string) error {
	e, err := openEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	out, err := e.Tools().RotationOptions(context.Background(), args[0], args[1], args[2])
	if err != nil {
		return err
	}
	cmd.Println(out)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	e, err := openEngine()
	if err != nil {
		return err
	}
	defer e.Close()
	ctx := context.Background()

	if len(args) > 0 {
		out, err := e.Tools().GraphStats(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		cmd.Println(out)
		return nil
	}

	stats, err := e.Stats(ctx)
	if err != nil {
		return err
	}
	summary, err := e.Summary(ctx)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd, map[string]any{"counts": stats, "summary": summary})
	}

	cmd.Println("Nodes:")
	for _, k := range sortedKeys(stats.Nodes) {
		cmd.Printf("  %-20s %d\n", k, stats.Nodes[k])
	}
	cmd.Println("Relationships:")
	for _, k := range sortedKeys(stats.Relationships) {
		cmd.Printf("  %-20s %d\n", k, stats.Relationships[k])
	}
	cmd.Printf("Embeddings: %d\n", stats.Embeddings)
	cmd.Println("Top weeds:")
	for _, w := range summary.TopWeeds {
		cmd.Printf("  %s (%d)\n", w.Name, w.Count)
	}
	cmd.Println("Top crops:")
	for _, c := range summary.TopCrops {
		cmd.Printf("  %s (%d)\n", c.Name, c.Count)
	}
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
