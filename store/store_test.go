//go:build cgo

package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath, 4) // dim=4 for test vectors
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// loadChunks writes a document with n chunks linked by NEXT edges. Chunk i
// gets the basis vector e(i mod 4).
func loadChunks(t *testing.T, s *Store, product string, n int) []Chunk {
	t.Helper()
	ctx := context.Background()
	if err := s.UpsertDocument(ctx, Document{ProductNumber: product, SourceFile: product + ".docling.json", ChunkCount: n}); err != nil {
		t.Fatalf("upserting document: %v", err)
	}
	chunks := make([]Chunk, n)
	for i := range chunks {
		chunks[i] = Chunk{
			ChunkID:       fmt.Sprintf("%s-t%d-abcd%04d", product, i, i),
			Text:          fmt.Sprintf("chunk %d of %s about annual ryegrass in wheat", i, product),
			ChunkType:     "table",
			SequenceOrder: i,
			TableID:       fmt.Sprintf("t%d", i),
			RowCount:      3,
			ColumnCount:   3,
			Headers:       []string{"Crop", "Weed", "Rate"},
			ProductNumber: product,
			SourceFile:    product + ".docling.json",
		}
		if err := s.UpsertChunk(ctx, chunks[i], basis(i%4)); err != nil {
			t.Fatalf("upserting chunk %d: %v", i, err)
		}
		if i > 0 {
			if err := s.LinkNext(ctx, chunks[i-1].ChunkID, chunks[i].ChunkID); err != nil {
				t.Fatalf("linking next: %v", err)
			}
		}
	}
	return chunks
}

func basis(i int) []float32 {
	v := make([]float32, 4)
	v[i] = 1
	return v
}

// ---------------------------------------------------------------------------
// Schema / construction
// ---------------------------------------------------------------------------

func TestNew(t *testing.T) {
	s := newTestStore(t)
	if s.EmbeddingDim() != 4 {
		t.Fatalf("expected embedding dim 4, got %d", s.EmbeddingDim())
	}
	if s.DB() == nil {
		t.Fatal("expected non-nil *sql.DB")
	}
}

func TestNewCreatesParentDir(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sub", "dir", "test.db")
	s, err := New(dbPath, 4)
	if err != nil {
		t.Fatalf("creating store in nested dir: %v", err)
	}
	s.Close()
}

func TestReopenKeepsSeeds(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath, 4)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	s.Close()

	s, err = New(dbPath, 4)
	if err != nil {
		t.Fatalf("reopening store: %v", err)
	}
	defer s.Close()

	stats, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if got := stats.Nodes["State"]; got != 8 {
		t.Errorf("states: got %d, want 8", got)
	}
	if got := stats.Nodes["ModeOfAction"]; got != len(ModesOfAction) {
		t.Errorf("modes of action: got %d, want %d", got, len(ModesOfAction))
	}
}

// ---------------------------------------------------------------------------
// Documents and chunks
// ---------------------------------------------------------------------------

func TestGetDocumentNotFound(t *testing.T) {
	s := newTestStore(t)
	doc, err := s.GetDocument(context.Background(), "99999")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc != nil {
		t.Fatalf("expected nil document, got %+v", doc)
	}
}

func TestUpsertChunkIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	loadChunks(t, s, "31209", 5)
	loadChunks(t, s, "31209", 5)

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if got := stats.Nodes["Document"]; got != 1 {
		t.Errorf("documents: got %d, want 1", got)
	}
	if got := stats.Nodes["Chunk"]; got != 5 {
		t.Errorf("chunks: got %d, want 5", got)
	}
	if got := stats.Relationships["NEXT"]; got != 4 {
		t.Errorf("next edges: got %d, want 4", got)
	}
	if stats.Embeddings != 5 {
		t.Errorf("embeddings: got %d, want 5", stats.Embeddings)
	}

	chunks, err := s.ChunksByProduct(ctx, "31209")
	if err != nil {
		t.Fatalf("chunks by product: %v", err)
	}
	for i, c := range chunks {
		if c.SequenceOrder != i {
			t.Errorf("chunk %d: sequence %d", i, c.SequenceOrder)
		}
		if len(c.Headers) != 3 {
			t.Errorf("chunk %d: headers %v", i, c.Headers)
		}
	}
}

func TestUpsertChunkDimensionMismatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.UpsertDocument(ctx, Document{ProductNumber: "1", SourceFile: "1.json"}); err != nil {
		t.Fatalf("upserting document: %v", err)
	}
	err := s.UpsertChunk(ctx, Chunk{ChunkID: "1-t-x", ProductNumber: "1", Text: "x", ChunkType: "table"}, []float32{1, 2})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestPruneChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	chunks := loadChunks(t, s, "31209", 4)

	removed, err := s.PruneChunks(ctx, "31209", []string{chunks[0].ChunkID, chunks[1].ChunkID})
	if err != nil {
		t.Fatalf("pruning: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed: got %d, want 2", removed)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Nodes["Chunk"] != 2 || stats.Embeddings != 2 {
		t.Errorf("after prune: chunks=%d embeddings=%d", stats.Nodes["Chunk"], stats.Embeddings)
	}
	if got := stats.Relationships["NEXT"]; got != 1 {
		t.Errorf("next edges after prune: got %d, want 1", got)
	}
}

// ---------------------------------------------------------------------------
// Vector search
// ---------------------------------------------------------------------------

func TestVectorSearchEmptyCorpus(t *testing.T) {
	s := newTestStore(t)
	results, err := s.VectorSearch(context.Background(), basis(0), 5, VectorFilter{})
	if err != nil {
		t.Fatalf("vector search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
}

func TestVectorSearchKLargerThanCorpus(t *testing.T) {
	s := newTestStore(t)
	loadChunks(t, s, "31209", 3)

	results, err := s.VectorSearch(context.Background(), basis(1), 50, VectorFilter{})
	if err != nil {
		t.Fatalf("vector search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].SequenceOrder != 1 {
		t.Errorf("nearest chunk: got sequence %d, want 1", results[0].SequenceOrder)
	}
	if math.Abs(results[0].Score-1.0) > 1e-6 {
		t.Errorf("exact match score: got %f, want 1.0", results[0].Score)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not sorted by score at %d", i)
		}
	}
}

func TestVectorSearchFiltered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	loadChunks(t, s, "31209", 3)
	loadChunks(t, s, "58001", 3)

	results, err := s.VectorSearch(ctx, basis(0), 10, VectorFilter{Product: "58001"})
	if err != nil {
		t.Fatalf("vector search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for _, r := range results {
		if r.ProductNumber != "58001" {
			t.Errorf("unexpected product %s", r.ProductNumber)
		}
	}

	results, err = s.VectorSearch(ctx, basis(0), 10, VectorFilter{ChunkType: "weed_table"})
	if err != nil {
		t.Fatalf("vector search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no weed_table results, got %d", len(results))
	}
}

func TestVectorSearchProductName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	loadChunks(t, s, "31209", 2)
	if err := s.UpsertHerbicide(ctx, Herbicide{ProductNumber: "31209", ProductName: "Boxer Gold"}); err != nil {
		t.Fatalf("upserting herbicide: %v", err)
	}
	if ok, err := s.LinkLabel(ctx, "31209"); err != nil || !ok {
		t.Fatalf("linking label: ok=%v err=%v", ok, err)
	}

	results, err := s.VectorSearch(ctx, basis(0), 1, VectorFilter{})
	if err != nil {
		t.Fatalf("vector search: %v", err)
	}
	if len(results) != 1 || results[0].ProductName != "Boxer Gold" {
		t.Fatalf("expected product name Boxer Gold, got %+v", results)
	}
}

// ---------------------------------------------------------------------------
// Graph expansion
// ---------------------------------------------------------------------------

func TestNeighbours(t *testing.T) {
	s := newTestStore(t)
	chunks := loadChunks(t, s, "31209", 3)

	got, err := s.Neighbours(context.Background(), []string{chunks[0].ChunkID, chunks[1].ChunkID})
	if err != nil {
		t.Fatalf("neighbours: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Previous != nil {
		t.Errorf("first chunk should have no previous")
	}
	if got[0].Next == nil || got[0].Next.ChunkID != chunks[1].ChunkID {
		t.Errorf("first chunk next: %+v", got[0].Next)
	}
	if got[1].Previous == nil || got[1].Previous.ChunkID != chunks[0].ChunkID {
		t.Errorf("second chunk previous: %+v", got[1].Previous)
	}
}

func TestMentionsAggregate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	chunks := loadChunks(t, s, "31209", 2)

	if err := s.UpsertWeed(ctx, Weed{CommonName: "annual ryegrass", DisplayName: "Annual Ryegrass"}); err != nil {
		t.Fatalf("upserting weed: %v", err)
	}
	if err := s.UpsertWeed(ctx, Weed{CommonName: "wild radish"}); err != nil {
		t.Fatalf("upserting weed: %v", err)
	}

	for _, c := range chunks {
		n, err := s.LinkWeedMentions(ctx, c.ChunkID, "ryegrass")
		if err != nil {
			t.Fatalf("linking mentions: %v", err)
		}
		if n != 1 {
			t.Errorf("matched: got %d, want 1", n)
		}
	}
	n, err := s.LinkWeedMentions(ctx, chunks[0].ChunkID, "wildradish")
	if err != nil || n != 1 {
		t.Fatalf("space-insensitive match: n=%d err=%v", n, err)
	}

	mentions, err := s.Mentions(ctx, []string{chunks[0].ChunkID, chunks[1].ChunkID})
	if err != nil {
		t.Fatalf("mentions: %v", err)
	}
	if len(mentions) != 2 {
		t.Fatalf("expected 2 mentioned entities, got %d", len(mentions))
	}
	if mentions[0].EntityName != "annual ryegrass" || len(mentions[0].ChunkIDs) != 2 {
		t.Errorf("ryegrass mention: %+v", mentions[0])
	}
}

func TestHerbicideControlsFromChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	chunks := loadChunks(t, s, "31209", 1)
	seedHerbicide(t, s, "31209", "Boxer Gold", "K", "annual ryegrass", "wheat")
	if _, err := s.LinkLabel(ctx, "31209"); err != nil {
		t.Fatalf("linking label: %v", err)
	}

	got, err := s.HerbicideControls(ctx, []string{chunks[0].ChunkID}, 10)
	if err != nil {
		t.Fatalf("herbicide controls: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 control, got %d", len(got))
	}
	if got[0].Herbicide != "Boxer Gold" || got[0].MOAGroup != "K" || got[0].Weed != "annual ryegrass" {
		t.Errorf("unexpected control: %+v", got[0])
	}
}

func TestWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	chunks := loadChunks(t, s, "31209", 7)

	before, center, after, err := s.Window(ctx, chunks[3].ChunkID, 2)
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if center == nil || center.ChunkID != chunks[3].ChunkID {
		t.Fatalf("center: %+v", center)
	}
	if len(before) != 2 || before[0].SequenceOrder != 1 || before[1].SequenceOrder != 2 {
		t.Errorf("before: %+v", before)
	}
	if len(after) != 2 || after[0].SequenceOrder != 4 || after[1].SequenceOrder != 5 {
		t.Errorf("after: %+v", after)
	}

	_, center, _, err = s.Window(ctx, "missing", 1)
	if err != nil || center != nil {
		t.Errorf("missing chunk: center=%v err=%v", center, err)
	}
}

func TestChunksContaining(t *testing.T) {
	s := newTestStore(t)
	loadChunks(t, s, "31209", 3)

	got, err := s.ChunksContaining(context.Background(), "ANNUAL RYEGRASS", 2)
	if err != nil {
		t.Fatalf("chunks containing: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(got))
	}
}

func TestLikeWildcardsMatchLiterally(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	chunks := loadChunks(t, s, "31209", 2)

	for _, w := range []string{"wild_oats", "wild radish"} {
		if err := s.UpsertWeed(ctx, Weed{CommonName: w}); err != nil {
			t.Fatalf("upserting weed: %v", err)
		}
	}
	// "_" would match any single character, "wild radish" included.
	n, err := s.LinkWeedMentions(ctx, chunks[0].ChunkID, "wild_")
	if err != nil || n != 1 {
		t.Fatalf("linking wild_: n=%d err=%v", n, err)
	}
	if n, err := s.LinkWeedMentions(ctx, chunks[1].ChunkID, "%"); err != nil || n != 0 {
		t.Errorf("linking %%: n=%d err=%v", n, err)
	}

	got, err := s.ChunksMentioning(ctx, "weed", "d_r", 10)
	if err != nil || len(got) != 0 {
		t.Errorf("mentioning d_r: %d results, err=%v", len(got), err)
	}
	got, err = s.ChunksMentioning(ctx, "weed", "wild_o", 10)
	if err != nil || len(got) != 1 {
		t.Errorf("mentioning wild_o: %d results, err=%v", len(got), err)
	}

	for _, term := range []string{"%", "chunk_0", `annual\ryegrass`} {
		got, err := s.ChunksContaining(ctx, term, 10)
		if err != nil {
			t.Fatalf("containing %q: %v", term, err)
		}
		if len(got) != 0 {
			t.Errorf("containing %q matched %d chunks", term, len(got))
		}
	}
}

func TestLikePattern(t *testing.T) {
	tests := []struct{ in, pattern, term string }{
		{" Annual Ryegrass ", "annual ryegrass", "annualryegrass"},
		{"50%_off", `50\%\_off`, `50\%\_off`},
		{`a\b`, `a\\b`, `a\\b`},
	}
	for _, tt := range tests {
		if got := likePattern(tt.in); got != tt.pattern {
			t.Errorf("likePattern(%q) = %q, want %q", tt.in, got, tt.pattern)
		}
		if got := likeTerm(tt.in); got != tt.term {
			t.Errorf("likeTerm(%q) = %q, want %q", tt.in, got, tt.term)
		}
	}
}
