package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// ErrDimensionMismatch is returned when an embedding does not match the
// dimension the vector index was created with.
var ErrDimensionMismatch = errors.New("labelgraph: vector index dimension mismatch")

// Document is a loaded label document. It shares its key with the
// Herbicide node of the same product.
type Document struct {
	ProductNumber string `json:"product_number"`
	SourceFile    string `json:"source_file"`
	ChunkCount    int    `json:"chunk_count"`
	LoadedAt      string `json:"loaded_at"`
}

// Chunk is a retrieval unit cut from one table block of a label.
type Chunk struct {
	ChunkID       string   `json:"chunk_id"`
	Text          string   `json:"text"`
	ChunkType     string   `json:"chunk_type"`
	SequenceOrder int      `json:"sequence_order"`
	ParentSection string   `json:"parent_section,omitempty"`
	TableID       string   `json:"table_id"`
	RowCount      int      `json:"row_count"`
	ColumnCount   int      `json:"column_count"`
	Headers       []string `json:"headers,omitempty"`
	PageNumber    int      `json:"page_number,omitempty"`
	ProductNumber string   `json:"product_number"`
	SourceFile    string   `json:"source_file"`
}

// SearchResult is a chunk returned by a retrieval query, joined with
// the product name of its herbicide when one is known.
type SearchResult struct {
	Chunk
	ProductName string  `json:"product_name"`
	Score       float64 `json:"score"`
}

// Store wraps the SQLite database holding the label graph.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

// New opens (or creates) a SQLite database at the given path and
// initialises the graph schema and the sqlite-vec chunk index.
func New(dbPath string, embeddingDim int) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, embeddingDim: embeddingDim}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// --- helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// placeholders returns "?, ?, ?" for n parameters.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern lower-cases s and escapes LIKE wildcards. Queries using it
// declare ESCAPE '\'.
func likePattern(s string) string {
	return likeEscaper.Replace(strings.ToLower(strings.TrimSpace(s)))
}

// likeTerm normalises a lookup key for the space-insensitive containment
// match used by entity lookups.
func likeTerm(s string) string {
	return likeEscaper.Replace(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", ""))
}

func encodeStrings(v []string) string {
	if len(v) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func decodeStrings(raw sql.NullString) []string {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw.String), &out); err != nil {
		return nil
	}
	return out
}

// chunkColumns is the select list matched by scanChunk. Callers alias the
// chunks table as c.
const chunkColumns = `c.chunk_id, c.text, c.chunk_type, c.sequence_order,
	COALESCE(c.parent_section, ''), COALESCE(c.table_id, ''), c.row_count, c.column_count,
	c.headers, COALESCE(c.page_number, 0), c.product_number, COALESCE(c.source_file, '')`

type scanner interface {
	Scan(dest ...any) error
}

func scanChunk(row scanner, c *Chunk, extra ...any) error {
	var headers sql.NullString
	dest := []any{&c.ChunkID, &c.Text, &c.ChunkType, &c.SequenceOrder,
		&c.ParentSection, &c.TableID, &c.RowCount, &c.ColumnCount,
		&headers, &c.PageNumber, &c.ProductNumber, &c.SourceFile}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return err
	}
	c.Headers = decodeStrings(headers)
	return nil
}
