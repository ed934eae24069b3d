package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/brunobiangulo/labelgraph/graph"
	"github.com/brunobiangulo/labelgraph/loader"
	"github.com/brunobiangulo/labelgraph/retrieval"
	"github.com/brunobiangulo/labelgraph/store"
	"github.com/brunobiangulo/labelgraph/tools"
)

// maxK bounds k and limit parameters of search requests.
const maxK = 100

// searcher is the retrieval surface the handlers expose.
type searcher interface {
	VectorSearch(ctx context.Context, query string, opts retrieval.VectorOptions) ([]store.SearchResult, error)
	HybridSearch(ctx context.Context, query string, opts retrieval.HybridOptions) (*retrieval.HybridResult, error)
	ContextWindow(ctx context.Context, chunkID string, size retrieval.WindowSize) (*retrieval.Window, error)
	FindChunksForWeed(ctx context.Context, name string, limit int) ([]store.SearchResult, error)
	FindChunksForCrop(ctx context.Context, name string, limit int) ([]store.SearchResult, error)
}

// ingester writes documents and reports graph counts.
type ingester interface {
	Ingest(ctx context.Context, path string) (*loader.Stats, error)
	LoadEntities(ctx context.Context, path string) (*graph.LoadStats, error)
	Stats(ctx context.Context) (*store.GraphStats, error)
}

type handler struct {
	search searcher
	ingest ingester
	tools  *tools.Toolset
}

func newHandler(s searcher, i ingester, t *tools.Toolset) *handler {
	return &handler{search: s, ingest: i, tools: t}
}

func (h *handler) routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /ingest", h.handleIngest)
	mux.HandleFunc("POST /entities", h.handleLoadEntities)
	mux.HandleFunc("POST /search", h.handleVectorSearch)
	mux.HandleFunc("POST /hybrid", h.handleHybridSearch)
	mux.HandleFunc("GET /chunks/{id}/window", h.handleWindow)
	mux.HandleFunc("GET /weeds/{name}/chunks", h.handleEntityChunks(h.search.FindChunksForWeed))
	mux.HandleFunc("GET /crops/{name}/chunks", h.handleEntityChunks(h.search.FindChunksForCrop))
	mux.HandleFunc("POST /tools/vector_search", h.handleToolVectorSearch)
	mux.HandleFunc("POST /tools/graph_query", h.handleToolGraphQuery)
	mux.HandleFunc("POST /tools/hybrid_search", h.handleToolHybridSearch)
	mux.HandleFunc("POST /tools/rotation_options", h.handleToolRotation)
	mux.HandleFunc("POST /tools/graph_stats", h.handleToolGraphStats)
	mux.HandleFunc("GET /stats", h.handleStats)
	mux.HandleFunc("GET /health", h.handleHealth)
}

// POST /ingest
// Loads a label document (docling JSON, markdown, PDF or spreadsheet) by path.
func (h *handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	path, ok := decodePath(w, r)
	if !ok {
		return
	}
	stats, err := h.ingest.Ingest(ctx, path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "ingestion failed")
		slog.Error("ingest error", "path", path, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// POST /entities
// Merges one extracted label JSON file into the entity graph.
func (h *handler) handleLoadEntities(w http.ResponseWriter, r *http.Request) {
	path, ok := decodePath(w, r)
	if !ok {
		return
	}
	stats, err := h.ingest.LoadEntities(r.Context(), path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "entity load failed")
		slog.Error("entity load error", "path", path, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// decodePath reads {"path": ...} and checks it names an existing file.
func decodePath(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return "", false
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return "", false
	}
	absPath, err := filepath.Abs(req.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid path")
		return "", false
	}
	info, err := os.Stat(absPath)
	if err != nil || info.IsDir() {
		writeError(w, http.StatusBadRequest, "path must be an existing file")
		return "", false
	}
	return absPath, true
}

type searchRequest struct {
	Query       string `json:"query"`
	K           int    `json:"k,omitempty"`
	ChunkType   string `json:"chunk_type,omitempty"`
	Product     string `json:"product,omitempty"`
	ExpandGraph *bool  `json:"expand_graph,omitempty"`
}

func decodeSearch(w http.ResponseWriter, r *http.Request) (searchRequest, bool) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return req, false
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return req, false
	}
	if req.K < 0 || req.K > maxK {
		req.K = 0 // use default
	}
	return req, true
}

// POST /search
func (h *handler) handleVectorSearch(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSearch(w, r)
	if !ok {
		return
	}
	results, err := h.search.VectorSearch(r.Context(), req.Query, retrieval.VectorOptions{
		K: req.K, ChunkType: req.ChunkType, Product: req.Product,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed")
		slog.Error("search error", "query", req.Query, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// POST /hybrid
func (h *handler) handleHybridSearch(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSearch(w, r)
	if !ok {
		return
	}
	res, err := h.search.HybridSearch(r.Context(), req.Query, retrieval.HybridOptions{
		K:           req.K,
		ExpandGraph: req.ExpandGraph == nil || *req.ExpandGraph,
		ChunkType:   req.ChunkType,
		Product:     req.Product,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "hybrid search failed")
		slog.Error("hybrid search error", "query", req.Query, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /chunks/{id}/window?size=N
func (h *handler) handleWindow(w http.ResponseWriter, r *http.Request) {
	n := 1
	if v := r.URL.Query().Get("size"); v != "" {
		var err error
		if n, err = strconv.Atoi(v); err != nil {
			writeError(w, http.StatusBadRequest, "size must be an integer")
			return
		}
	}
	size, err := retrieval.ParseWindowSize(n)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	win, err := h.search.ContextWindow(r.Context(), r.PathValue("id"), size)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "window lookup failed")
		slog.Error("window error", "chunk_id", r.PathValue("id"), "error", err)
		return
	}
	if win == nil {
		writeError(w, http.StatusNotFound, "chunk not found")
		return
	}
	writeJSON(w, http.StatusOK, win)
}

// GET /weeds/{name}/chunks and GET /crops/{name}/chunks
func (h *handler) handleEntityChunks(find func(context.Context, string, int) ([]store.SearchResult, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := retrieval.DefaultEntityLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 || n > maxK {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = n
		}
		results, err := find(r.Context(), r.PathValue("name"), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "entity search failed")
			slog.Error("entity chunks error", "name", r.PathValue("name"), "error", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": results})
	}
}

// POST /tools/vector_search
func (h *handler) handleToolVectorSearch(w http.ResponseWriter, r *http.Request) {
	var in tools.VectorSearchInput
	if !decodeTool(w, r, &in) {
		return
	}
	out, err := h.tools.VectorSearch(r.Context(), in.Query, in.K, in.ChunkType)
	writeTool(w, "vector_search", out, err)
}

// POST /tools/graph_query
func (h *handler) handleToolGraphQuery(w http.ResponseWriter, r *http.Request) {
	var in tools.GraphQueryInput
	if !decodeTool(w, r, &in) {
		return
	}
	q, err := in.Query()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := h.tools.GraphQuery(r.Context(), q)
	writeTool(w, "graph_query", out, err)
}

// POST /tools/hybrid_search
func (h *handler) handleToolHybridSearch(w http.ResponseWriter, r *http.Request) {
	var in tools.HybridSearchInput
	if !decodeTool(w, r, &in) {
		return
	}
	out, err := h.tools.HybridSearch(r.Context(), in.Query, in.K, in.Expand())
	writeTool(w, "hybrid_search", out, err)
}

// POST /tools/rotation_options
func (h *handler) handleToolRotation(w http.ResponseWriter, r *http.Request) {
	var in tools.RotationInput
	if !decodeTool(w, r, &in) {
		return
	}
	out, err := h.tools.RotationOptions(r.Context(), in.CurrentMOA, in.Crop, in.Weed)
	writeTool(w, "rotation_options", out, err)
}

// POST /tools/graph_stats
func (h *handler) handleToolGraphStats(w http.ResponseWriter, r *http.Request) {
	var in tools.GraphStatsInput
	if !decodeTool(w, r, &in) {
		return
	}
	out, err := h.tools.GraphStats(r.Context(), in.Question)
	writeTool(w, "graph_stats", out, err)
}

func decodeTool(w http.ResponseWriter, r *http.Request, in any) bool {
	if err := json.NewDecoder(r.Body).Decode(in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func writeTool(w http.ResponseWriter, name, out string, err error) {
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		writeError(w, status, name+" failed")
		slog.Error("tool error", "tool", name, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": out})
}

// GET /stats
func (h *handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.ingest.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count graph")
		slog.Error("stats error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
