package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/labelgraph/graph"
	"github.com/brunobiangulo/labelgraph/loader"
	"github.com/brunobiangulo/labelgraph/retrieval"
	"github.com/brunobiangulo/labelgraph/store"
	"github.com/brunobiangulo/labelgraph/tools"
)

type fakeSearch struct {
	vectorOpts retrieval.VectorOptions
	hybridOpts retrieval.HybridOptions
	window     *retrieval.Window
	limit      int
	err        error
}

func (f *fakeSearch) VectorSearch(ctx context.Context, query string, opts retrieval.VectorOptions) ([]store.SearchResult, error) {
	f.vectorOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	return []store.SearchResult{{
		Chunk:       store.Chunk{ChunkID: "31209-2", Text: "Annual ryegrass 2.5 L/ha", ChunkType: "weed_table", ProductNumber: "31209"},
		ProductName: "BOXER GOLD",
		Score:       0.9,
	}}, nil
}

func (f *fakeSearch) HybridSearch(ctx context.Context, query string, opts retrieval.HybridOptions) (*retrieval.HybridResult, error) {
	f.hybridOpts = opts
	return &retrieval.HybridResult{Chunks: []store.SearchResult{}}, f.err
}

func (f *fakeSearch) ContextWindow(ctx context.Context, chunkID string, size retrieval.WindowSize) (*retrieval.Window, error) {
	return f.window, f.err
}

func (f *fakeSearch) FindChunksForWeed(ctx context.Context, name string, limit int) ([]store.SearchResult, error) {
	f.limit = limit
	return []store.SearchResult{}, f.err
}

func (f *fakeSearch) FindChunksForCrop(ctx context.Context, name string, limit int) ([]store.SearchResult, error) {
	f.limit = limit
	return []store.SearchResult{}, f.err
}

type fakeIngest struct {
	path string
}

func (f *fakeIngest) Ingest(ctx context.Context, path string) (*loader.Stats, error) {
	f.path = path
	return &loader.Stats{ProductNumber: "31209", Chunks: 5, NextRels: 4}, nil
}

func (f *fakeIngest) LoadEntities(ctx context.Context, path string) (*graph.LoadStats, error) {
	f.path = path
	return &graph.LoadStats{ProductNumber: "31209", Herbicide: 1}, nil
}

func (f *fakeIngest) Stats(ctx context.Context) (*store.GraphStats, error) {
	return &store.GraphStats{Nodes: map[string]int{"Chunk": 5}}, nil
}

func newTestServer(t *testing.T, s *fakeSearch, i *fakeIngest) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	newHandler(s, i, tools.New(s, nil)).routes(mux)
	srv := httptest.NewServer(logMiddleware(mux))
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestIngestHandler(t *testing.T) {
	ing := &fakeIngest{}
	srv := newTestServer(t, &fakeSearch{}, ing)

	path := filepath.Join(t.TempDir(), "ELBL31209.docling.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"tables":[]}`), 0644))

	resp, out := post(t, srv.URL+"/ingest", `{"path":"`+path+`"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(5), out["chunks"])
	assert.Equal(t, path, ing.path)
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))

	resp, out = post(t, srv.URL+"/ingest", `{"path":"`+filepath.Dir(path)+`"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "path must be an existing file", out["error"])

	resp, _ = post(t, srv.URL+"/entities", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSearchHandlers(t *testing.T) {
	s := &fakeSearch{}
	srv := newTestServer(t, s, &fakeIngest{})

	resp, out := post(t, srv.URL+"/search", `{"query":"ryegrass","k":500,"chunk_type":"weed_table"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, out["results"], 1)
	assert.Equal(t, 0, s.vectorOpts.K, "out of range k falls back to the default")
	assert.Equal(t, "weed_table", s.vectorOpts.ChunkType)

	resp, _ = post(t, srv.URL+"/hybrid", `{"query":"ryegrass"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, s.hybridOpts.ExpandGraph, "expansion defaults to on")

	post(t, srv.URL+"/hybrid", `{"query":"ryegrass","expand_graph":false}`)
	assert.False(t, s.hybridOpts.ExpandGraph)

	resp, out = post(t, srv.URL+"/search", `{"k":3}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "query is required", out["error"])

	s.err = errors.New("boom")
	resp, _ = post(t, srv.URL+"/search", `{"query":"x"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestWindowHandler(t *testing.T) {
	s := &fakeSearch{}
	srv := newTestServer(t, s, &fakeIngest{})

	resp, err := http.Get(srv.URL + "/chunks/31209-2/window?size=4")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/chunks/missing/window")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	s.window = &retrieval.Window{Center: store.Chunk{ChunkID: "31209-2"}, Before: []store.Chunk{}, After: []store.Chunk{}}
	resp, err = http.Get(srv.URL + "/chunks/31209-2/window?size=2")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEntityChunksHandler(t *testing.T) {
	s := &fakeSearch{}
	srv := newTestServer(t, s, &fakeIngest{})

	resp, err := http.Get(srv.URL + "/weeds/ryegrass/chunks")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, retrieval.DefaultEntityLimit, s.limit)

	resp, err = http.Get(srv.URL + "/crops/wheat/chunks?limit=3")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 3, s.limit)

	resp, err = http.Get(srv.URL + "/crops/wheat/chunks?limit=0")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestToolHandlers(t *testing.T) {
	srv := newTestServer(t, &fakeSearch{}, &fakeIngest{})

	resp, out := post(t, srv.URL+"/tools/vector_search", `{"query":"ryegrass"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result, _ := out["result"].(string)
	assert.True(t, strings.HasPrefix(result, "Found 1 relevant chunks:"))
	assert.Contains(t, result, "Product: BOXER GOLD (31209)")

	resp, out = post(t, srv.URL+"/tools/graph_query", `{"entity_type":"pest","entity_name":"x"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "unknown entity type: pest. Use 'weed', 'crop', or 'herbicide'", out["error"])
}

func TestAuthMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := authMiddleware("secret", ok)

	tests := []struct {
		path   string
		auth   string
		status int
	}{
		{"/health", "", http.StatusOK},
		{"/search", "", http.StatusUnauthorized},
		{"/search", "Bearer wrong", http.StatusUnauthorized},
		{"/search", "Bearer secret", http.StatusOK},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.path, nil)
		if tt.auth != "" {
			req.Header.Set("Authorization", tt.auth)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, tt.status, rec.Code, "%s %q", tt.path, tt.auth)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	h := recoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
