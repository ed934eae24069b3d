package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var mcpPort int

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the label tools over the Model Context Protocol",
	Long: `Starts an MCP server exposing vector_search, graph_query, hybrid_search,
rotation_options and graph_stats.

By default the server speaks JSON-RPC over stdio. Use --port to serve the
streamable HTTP transport instead.

Claude Desktop configuration (claude_desktop_config.json):
  {
    "mcpServers": {
      "labelgraph": {
        "command": "/path/to/labelgraph",
        "args": ["mcp", "--config", "/path/to/labelgraph.yaml"]
      }
    }
  }`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	mcpCmd.Flags().IntVarP(&mcpPort, "port", "p", 0, "HTTP port (0 = use stdio)")
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, _ []string) error {
	e, err := openEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if mcpPort == 0 {
		slog.Info("mcp: serving on stdio")
		return e.MCP().Run(ctx)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", mcpPort),
		Handler:           e.MCP().Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	slog.Info("mcp: serving streamable HTTP", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
