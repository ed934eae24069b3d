//go:build cgo

package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/labelgraph/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"), 4)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// writeDocling writes a docling extraction with one table per markdown block.
func writeDocling(t *testing.T, dir, product string, blocks ...string) string {
	t.Helper()
	var tables []map[string]any
	for i, md := range blocks {
		tables = append(tables, map[string]any{
			"id":           fmt.Sprintf("#/tables/%d", i),
			"markdown":     md,
			"rows":         [][]string{},
			"column_count": 3,
		})
	}
	data, err := json.Marshal(map[string]any{"tables": tables})
	require.NoError(t, err)
	path := filepath.Join(dir, "ELBL"+product+".docling.json")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

var fiveBlocks = []string{
	"| Product Name | BOXER GOLD |",
	"| Situation | Weeds | Rate | Critical comments |",
	"| Wheat | Annual ryegrass | 2.5 L/ha |",
	"| Barley | Wild radish suppression |",
	"| Storage and disposal | keep cool |",
}

func TestLoadFileFiveChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertWeed(ctx, store.Weed{CommonName: "annual ryegrass"}))
	require.NoError(t, s.UpsertCrop(ctx, store.Crop{Name: "wheat"}))

	path := writeDocling(t, t.TempDir(), "31209", fiveBlocks...)
	l := New(s, &fakeEmbedder{})

	stats, err := l.LoadFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Chunks)
	assert.Equal(t, 4, stats.NextRels)
	assert.Equal(t, 1, stats.MentionsWeeds)
	assert.Equal(t, 1, stats.MentionsCrops)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Nodes["Document"])
	assert.Equal(t, 5, st.Nodes["Chunk"])
	assert.Equal(t, 4, st.Relationships["NEXT"])
	assert.Equal(t, 2, st.Relationships["MENTIONS"])
	assert.Equal(t, 5, st.Embeddings)

	chunks, err := s.ChunksByProduct(ctx, "31209")
	require.NoError(t, err)
	for i, c := range chunks {
		assert.Equal(t, i, c.SequenceOrder)
	}

	// Reloading changes nothing.
	_, err = l.LoadFile(ctx, path)
	require.NoError(t, err)
	again, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, st, again)
}

func TestReloadPrunesStaleChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	dir := t.TempDir()
	l := New(s, &fakeEmbedder{})

	_, err := l.LoadFile(ctx, writeDocling(t, dir, "31209", fiveBlocks...))
	require.NoError(t, err)

	stats, err := l.LoadFile(ctx, writeDocling(t, dir, "31209", fiveBlocks[:3]...))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Pruned)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Nodes["Chunk"])
	assert.Equal(t, 2, st.Relationships["NEXT"])
	assert.Equal(t, 3, st.Embeddings)

	doc, err := s.GetDocument(ctx, "31209")
	require.NoError(t, err)
	assert.Equal(t, 3, doc.ChunkCount)
}

func TestLoadLinksExistingHerbicide(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertHerbicide(ctx, store.Herbicide{ProductNumber: "31209", ProductName: "BOXER GOLD"}))

	_, err := New(s, &fakeEmbedder{}).LoadFile(ctx, writeDocling(t, t.TempDir(), "31209", fiveBlocks...))
	require.NoError(t, err)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Relationships["HAS_LABEL"])
}

func TestLoadDirectoryCollectsErrors(t *testing.T) {
	for _, concurrency := range []int{0, 3} {
		t.Run(fmt.Sprintf("concurrency=%d", concurrency), func(t *testing.T) {
			s := newTestStore(t)
			dir := t.TempDir()
			writeDocling(t, dir, "10001", fiveBlocks...)
			writeDocling(t, dir, "10002", fiveBlocks[:2]...)
			writeDocling(t, dir, "10003", "| a | b |")
			require.NoError(t, os.WriteFile(filepath.Join(dir, "ELBL10004.docling.json"), []byte(`{"tables": [`), 0644))
			require.NoError(t, os.WriteFile(filepath.Join(dir, "_run.json"), []byte(`{}`), 0644))

			run, err := New(s, &fakeEmbedder{}).LoadDirectory(context.Background(), dir, DirectoryOptions{Concurrency: concurrency})
			require.NoError(t, err)
			assert.NotEmpty(t, run.RunID)
			assert.Equal(t, 2, run.FilesProcessed)
			assert.Equal(t, 7, run.TotalChunks)
			assert.Equal(t, 5, run.TotalNextRels)
			assert.Equal(t, []string{"ELBL10003.docling.json"}, run.Empty)
			require.Len(t, run.Errors, 1)
			assert.Equal(t, "ELBL10004.docling.json", run.Errors[0].File)
		})
	}
}

func TestLoadDirectoryOneRenditionPerProduct(t *testing.T) {
	for _, concurrency := range []int{0, 3} {
		t.Run(fmt.Sprintf("concurrency=%d", concurrency), func(t *testing.T) {
			s := newTestStore(t)
			dir := t.TempDir()
			writeDocling(t, dir, "10001", fiveBlocks...)
			short := writeDocling(t, t.TempDir(), "10001", fiveBlocks[:2]...)
			data, err := os.ReadFile(short)
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(filepath.Join(dir, "ELBL10001.json"), data, 0644))

			run, err := New(s, &fakeEmbedder{}).LoadDirectory(context.Background(), dir, DirectoryOptions{Concurrency: concurrency})
			require.NoError(t, err)
			assert.Equal(t, 1, run.FilesProcessed)
			assert.Equal(t, 5, run.TotalChunks)
			assert.Equal(t, 4, run.TotalNextRels)
			assert.Equal(t, []string{"ELBL10001.json"}, run.Superseded)
			assert.Empty(t, run.Errors)

			st, err := s.Stats(context.Background())
			require.NoError(t, err)
			assert.Equal(t, run.TotalChunks, st.Nodes["Chunk"])
			assert.Equal(t, run.TotalNextRels, st.Relationships["NEXT"])
		})
	}
}

func TestLoadDirectoryLimit(t *testing.T) {
	s := newTestStore(t)
	dir := t.TempDir()
	writeDocling(t, dir, "10001", fiveBlocks...)
	writeDocling(t, dir, "10002", fiveBlocks...)

	run, err := New(s, &fakeEmbedder{}).LoadDirectory(context.Background(), dir, DirectoryOptions{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, run.FilesProcessed)
}

func TestWatchLoadsNewFiles(t *testing.T) {
	s := newTestStore(t)
	dir := t.TempDir()
	l := New(s, &fakeEmbedder{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loaded := make(chan *Stats, 1)
	done := make(chan error, 1)
	go func() {
		done <- l.Watch(ctx, dir, func(path string, stats *Stats, err error) {
			if err == nil {
				loaded <- stats
			}
		})
	}()

	// Give the watcher time to register.
	time.Sleep(200 * time.Millisecond)
	writeDocling(t, dir, "31209", fiveBlocks...)

	select {
	case stats := <-loaded:
		assert.Equal(t, 5, stats.Chunks)
	case <-time.After(10 * time.Second):
		t.Fatal("watched file was not loaded")
	}

	cancel()
	require.NoError(t, <-done)
}
