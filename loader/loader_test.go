package loader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/labelgraph/parser"
	"github.com/brunobiangulo/labelgraph/store"
)

// recordingStore captures every write in call order.
type recordingStore struct {
	calls  []string
	chunks []store.Chunk
	vecs   [][]float32
}

func (s *recordingStore) UpsertDocument(ctx context.Context, doc store.Document) error {
	s.calls = append(s.calls, fmt.Sprintf("document:%s:%d", doc.ProductNumber, doc.ChunkCount))
	return nil
}

func (s *recordingStore) LinkLabel(ctx context.Context, pn string) (bool, error) {
	s.calls = append(s.calls, "label:"+pn)
	return false, nil
}

func (s *recordingStore) UpsertChunk(ctx context.Context, c store.Chunk, emb []float32) error {
	s.calls = append(s.calls, "chunk:"+c.ChunkID)
	s.chunks = append(s.chunks, c)
	s.vecs = append(s.vecs, emb)
	return nil
}

func (s *recordingStore) LinkNext(ctx context.Context, from, to string) error {
	s.calls = append(s.calls, "next:"+from+">"+to)
	return nil
}

func (s *recordingStore) LinkWeedMentions(ctx context.Context, chunkID, key string) (int, error) {
	s.calls = append(s.calls, "weed:"+key)
	return 1, nil
}

func (s *recordingStore) LinkCropMentions(ctx context.Context, chunkID, key string) (int, error) {
	s.calls = append(s.calls, "crop:"+key)
	return 2, nil
}

func (s *recordingStore) PruneChunks(ctx context.Context, pn string, keep []string) (int, error) {
	s.calls = append(s.calls, fmt.Sprintf("prune:%s:%d", pn, len(keep)))
	return 0, nil
}

type fakeEmbedder struct {
	texts [][]string
	err   error
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.texts = append(f.texts, texts)
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, float32(i), 0, 0}
	}
	return out, nil
}

func labelDoc(tables ...string) *parser.Document {
	doc := &parser.Document{SourcePath: "labels/ELBL31209.docling.json", ProductNumber: "31209"}
	for i, md := range tables {
		doc.Tables = append(doc.Tables, parser.Table{ID: fmt.Sprintf("t%d", i), Markdown: md, ColumnCount: 3})
	}
	return doc
}

func TestLoadDocumentWriteOrder(t *testing.T) {
	s := &recordingStore{}
	e := &fakeEmbedder{}
	l := New(s, e)

	stats, err := l.LoadDocument(context.Background(), labelDoc(
		"| Situation | Weeds | Rate |",
		"| Annual ryegrass in wheat | 2 L/ha |",
	))
	require.NoError(t, err)

	require.Len(t, s.chunks, 2)
	first, second := s.chunks[0].ChunkID, s.chunks[1].ChunkID
	assert.Equal(t, []string{
		"document:31209:2",
		"label:31209",
		"chunk:" + first,
		"chunk:" + second,
		"next:" + first + ">" + second,
		"weed:ryegrass",
		"crop:wheat",
		"prune:31209:2",
	}, s.calls)

	assert.Equal(t, &Stats{
		ProductNumber: "31209",
		SourceFile:    "ELBL31209.docling.json",
		Chunks:        2,
		NextRels:      1,
		MentionsWeeds: 1,
		MentionsCrops: 2,
	}, stats)

	// Embedded text is contextualized; stored text is not.
	require.Len(t, e.texts, 1)
	assert.Contains(t, e.texts[0][0], "[Product: 31209]")
	assert.NotContains(t, s.chunks[0].Text, "[Product:")
	assert.Equal(t, float32(1), s.vecs[1][1])
}

func TestLoadDocumentEmpty(t *testing.T) {
	s := &recordingStore{}
	e := &fakeEmbedder{}
	stats, err := New(s, e).LoadDocument(context.Background(), labelDoc("| a | b |"))
	require.NoError(t, err)
	assert.True(t, stats.Empty)
	assert.Equal(t, ReasonNoChunks, stats.Reason)
	assert.Empty(t, s.calls, "nothing is written for an empty document")
	assert.Empty(t, e.texts)
}

func TestLoadDocumentEmbeddingFailure(t *testing.T) {
	s := &recordingStore{}
	_, err := New(s, &fakeEmbedder{err: errors.New("provider down")}).
		LoadDocument(context.Background(), labelDoc("| Storage and disposal | keep cool |"))
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.Empty(t, s.calls)
}

func TestLoadDocumentRequiresProduct(t *testing.T) {
	doc := labelDoc("| Storage and disposal | keep cool |")
	doc.ProductNumber = ""
	_, err := New(&recordingStore{}, &fakeEmbedder{}).LoadDocument(context.Background(), doc)
	assert.ErrorIs(t, err, parser.ErrMalformed)
}

func TestSourceFiles(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"ELBL2.docling.json", "ELBL1.json", "_summary.json", "notes.csv", "ELBL3.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("{}"), 0644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.json"), 0755))

	files, err := New(&recordingStore{}, &fakeEmbedder{}).SourceFiles(dir)
	require.NoError(t, err)
	var names []string
	for _, f := range files {
		names = append(names, filepath.Base(f))
	}
	assert.Equal(t, []string{"ELBL1.json", "ELBL2.docling.json", "ELBL3.md"}, names)
}

func TestSourceFilesPrefersDocling(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"ELBL1.md", "ELBL1.json", "ELBL1.docling.json", "ELBL2.pdf", "ELBL2.txt", "ELBL3.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("{}"), 0644))
	}

	files, superseded, err := New(&recordingStore{}, &fakeEmbedder{}).sourceFiles(dir)
	require.NoError(t, err)
	var names []string
	for _, f := range files {
		names = append(names, filepath.Base(f))
	}
	assert.Equal(t, []string{"ELBL1.docling.json", "ELBL2.pdf", "ELBL3.md"}, names)

	var dropped []string
	for _, f := range superseded {
		dropped = append(dropped, filepath.Base(f))
	}
	assert.Equal(t, []string{"ELBL1.json", "ELBL1.md", "ELBL2.txt"}, dropped)
}

func TestWatchTarget(t *testing.T) {
	l := New(&recordingStore{}, &fakeEmbedder{})
	tests := []struct {
		name string
		ev   fsnotify.Event
		want bool
	}{
		{"create docling", fsnotify.Event{Name: "/d/ELBL1.docling.json", Op: fsnotify.Create}, true},
		{"write pdf", fsnotify.Event{Name: "/d/ELBL1.pdf", Op: fsnotify.Write}, true},
		{"remove", fsnotify.Event{Name: "/d/ELBL1.docling.json", Op: fsnotify.Remove}, false},
		{"chmod", fsnotify.Event{Name: "/d/ELBL1.docling.json", Op: fsnotify.Chmod}, false},
		{"unsupported", fsnotify.Event{Name: "/d/readme.docx", Op: fsnotify.Create}, false},
		{"summary file", fsnotify.Event{Name: "/d/_extraction_summary.json", Op: fsnotify.Create}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := l.watchTarget(tt.ev)
			assert.Equal(t, tt.want, ok)
		})
	}
}
