package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/brunobiangulo/labelgraph"
)

func main() {
	configPath := flag.String("config", "labelgraph.yaml", "Path to config file (YAML)")
	addr := flag.String("addr", ":8080", "Listen address")
	verbose := flag.Bool("verbose", false, "Debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})))

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("loading .env", "error", err)
	}

	cfg, err := labelgraph.LoadConfig(*configPath)
	if err != nil {
		slog.Error("loading config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	cfg.ApplyEnv()

	apiKey := os.Getenv("LABELGRAPH_API_KEY")
	corsOrigins := os.Getenv("LABELGRAPH_CORS_ORIGINS")

	engine, err := labelgraph.New(cfg)
	if err != nil {
		slog.Error("creating engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	mux := http.NewServeMux()
	newHandler(engine.Retriever(), engine, engine.Tools()).routes(mux)
	mux.Handle("/mcp", engine.MCP().Handler())

	// Middleware chain: recovery -> cors -> auth -> logging -> mux
	var handler http.Handler = mux
	handler = logMiddleware(handler)
	handler = authMiddleware(apiKey, handler)
	handler = corsMiddleware(corsOrigins, handler)
	handler = recoveryMiddleware(handler)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // MCP streams and long ingests
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}
