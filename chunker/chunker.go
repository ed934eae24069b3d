package chunker

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/brunobiangulo/labelgraph/parser"
	"github.com/brunobiangulo/labelgraph/store"
)

// Chunk types.
const (
	TypeWeedTable  = "weed_table"
	TypeDirections = "directions"
	TypeMetadata   = "metadata"
	TypeTable      = "table"
)

// Config controls the chunking behaviour.
type Config struct {
	MaxTokens    int           // Word-count limit before a table is split.
	MinChars     int           // Blocks with less trimmed text are dropped.
	Rules        []SectionRule // Ordered section rules; first match wins.
	WeedKeywords []string      // First-column keywords that mark a weed table.
}

// Chunker converts normalised label documents into store-ready chunks.
type Chunker struct {
	cfg Config
}

// New returns a Chunker with the given configuration.
// Zero-value fields are replaced with defaults.
func New(cfg Config) *Chunker {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 512
	}
	if cfg.MinChars == 0 {
		cfg.MinChars = 20
	}
	if cfg.Rules == nil {
		cfg.Rules = DefaultSectionRules
	}
	if cfg.WeedKeywords == nil {
		cfg.WeedKeywords = DefaultWeedKeywords
	}
	return &Chunker{cfg: cfg}
}

// Chunks yields the document's chunks in sequence order. Each range over
// the returned sequence starts afresh, so it can be consumed repeatedly.
func (c *Chunker) Chunks(doc *parser.Document) iter.Seq[store.Chunk] {
	return func(yield func(store.Chunk) bool) {
		seq := 0
		current := ""
		source := doc.SourceFile()

		for _, t := range doc.Tables {
			if t.Markdown == "" && len(t.Rows) == 0 {
				continue
			}

			section := classifyText(c.cfg.Rules, blockText(t), t.ColumnCount)
			if section != SectionGeneral {
				current = section
			}
			typ := chunkType(isWeedTable(t.Rows, c.cfg.WeedKeywords), current, t.ColumnCount)

			var headers []string
			if len(t.Rows) > 0 && t.ColumnCount >= 3 {
				headers = slices.Clone(t.Rows[0])
			}

			text := t.Markdown
			if text == "" {
				text = joinRows(t.Rows)
			}
			if len(strings.TrimSpace(text)) < c.cfg.MinChars {
				continue
			}

			tableID := t.ID
			if tableID == "" {
				tableID = fmt.Sprintf("table-%d", seq)
			}
			hash := shortHash(fmt.Sprintf("%s-%s-%d", doc.ProductNumber, tableID, seq))

			base := store.Chunk{
				ChunkType:     typ,
				ParentSection: current,
				TableID:       tableID,
				ColumnCount:   t.ColumnCount,
				Headers:       headers,
				PageNumber:    t.Page,
				ProductNumber: doc.ProductNumber,
				SourceFile:    source,
			}

			if estimateTokens(text) > c.cfg.MaxTokens && len(t.Rows) > 3 {
				for i, part := range splitRows(t.Rows, headers != nil, estimateTokens(text), c.cfg.MaxTokens) {
					ch := base
					ch.ChunkID = fmt.Sprintf("%s-%s-part%d-%s", doc.ProductNumber, tableID, i, hash)
					ch.Text = partText(headers, part)
					ch.RowCount = len(part)
					ch.SequenceOrder = seq
					seq++
					if !yield(ch) {
						return
					}
				}
				continue
			}

			ch := base
			ch.ChunkID = fmt.Sprintf("%s-%s-%s", doc.ProductNumber, tableID, hash)
			ch.Text = text
			ch.RowCount = t.RowCount
			ch.SequenceOrder = seq
			seq++
			if !yield(ch) {
				return
			}
		}
	}
}

// All collects every chunk of a document.
func (c *Chunker) All(doc *parser.Document) []store.Chunk {
	return slices.Collect(c.Chunks(doc))
}

// Contextualize returns the text that is embedded for a chunk: the raw
// text prefixed with product, section and type markers. The stored text
// stays unprefixed.
func Contextualize(c store.Chunk) string {
	var parts []string
	if c.ProductNumber != "" {
		parts = append(parts, "[Product: "+c.ProductNumber+"]")
	}
	if c.ParentSection != "" {
		parts = append(parts, "[Section: "+c.ParentSection+"]")
	}
	switch c.ChunkType {
	case TypeWeedTable:
		parts = append(parts, "[Weed Control Table]")
	case TypeDirections:
		parts = append(parts, "[Directions for Use]")
	}
	parts = append(parts, c.Text)
	return strings.Join(parts, " ")
}

// splitRows groups the data rows so each group stays near maxTokens.
// Group size is ceil(rows / ceil(estimated / maxTokens)).
func splitRows(rows [][]string, hasHeader bool, estimated, maxTokens int) [][][]string {
	data := rows
	if hasHeader {
		data = rows[1:]
	}
	if len(data) == 0 {
		return nil
	}
	groups := ceilDiv(estimated, maxTokens)
	size := max(1, ceilDiv(len(data), groups))
	return slices.Collect(slices.Chunk(data, size))
}

func partText(headers []string, rows [][]string) string {
	body := joinRows(rows)
	if headers == nil {
		return body
	}
	return strings.Join(headers, " | ") + "\n" + body
}

func joinRows(rows [][]string) string {
	lines := make([]string, len(rows))
	for i, r := range rows {
		lines[i] = strings.Join(r, " | ")
	}
	return strings.Join(lines, "\n")
}

// estimateTokens approximates tokens by counting words.
func estimateTokens(text string) int {
	return len(strings.Fields(text))
}

func shortHash(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])[:8]
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 1
	}
	return (a + b - 1) / b
}
