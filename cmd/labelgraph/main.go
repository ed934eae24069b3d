// Command labelgraph ingests herbicide labels into the graph and queries it.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/brunobiangulo/labelgraph"
)

var (
	configPath string
	dbPath     string
	verbose    bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "labelgraph",
	Short: "Herbicide label knowledge graph",
	Long: `labelgraph loads Australian herbicide labels into a SQLite knowledge graph
and answers questions over it with hybrid vector and graph retrieval.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			slog.Warn("loading .env", "error", err)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "labelgraph.yaml", "config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output JSON")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openEngine builds the engine from the config file, environment and flags.
func openEngine() (*labelgraph.Engine, error) {
	cfg, err := labelgraph.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	cfg.ApplyEnv()
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	return labelgraph.New(cfg)
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
