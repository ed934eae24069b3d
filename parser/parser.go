package parser

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// ErrMalformed is returned when a source document cannot be decoded.
var ErrMalformed = errors.New("labelgraph: malformed document")

// Document is the normalised form of a label: ordered table blocks plus
// free text, tagged with the product it belongs to.
type Document struct {
	SourcePath    string            `json:"source_path"`
	ProductNumber string            `json:"product_number"`
	Tables        []Table           `json:"tables"`
	TextItems     []TextItem        `json:"text_items,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Table is one table block as produced by a layout extractor.
type Table struct {
	ID          string     `json:"id"`
	Title       string     `json:"title,omitempty"`
	Markdown    string     `json:"markdown,omitempty"`
	Rows        [][]string `json:"rows"`
	RowCount    int        `json:"row_count"`
	ColumnCount int        `json:"column_count"`
	Page        int        `json:"page,omitempty"`
}

// TextItem is a non-table text block (heading, paragraph, list item).
type TextItem struct {
	Label string `json:"label"`
	Text  string `json:"text"`
	Page  int    `json:"page,omitempty"`
}

// SourceFile returns the base name of the source path.
func (d *Document) SourceFile() string {
	return filepath.Base(d.SourcePath)
}

// Markdown renders the document as markdown with a metadata header. It is
// the input handed to structured extraction.
func (d *Document) Markdown() string {
	var b strings.Builder
	b.WriteString("---\n")
	fmt.Fprintf(&b, "product_number: %q\n", d.ProductNumber)
	fmt.Fprintf(&b, "source_file: %q\n", d.SourceFile())
	for _, k := range sortedKeys(d.Metadata) {
		fmt.Fprintf(&b, "%s: %q\n", k, d.Metadata[k])
	}
	b.WriteString("---\n\n")

	for _, t := range d.TextItems {
		if strings.EqualFold(t.Label, "SECTION_HEADER") {
			b.WriteString("## ")
		}
		b.WriteString(t.Text)
		b.WriteString("\n\n")
	}
	for _, t := range d.Tables {
		if t.Title != "" {
			b.WriteString("### " + t.Title + "\n\n")
		}
		if t.Markdown != "" {
			b.WriteString(t.Markdown)
		} else {
			b.WriteString(RowsToMarkdown(t.Rows))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Parser can normalise a specific document format.
type Parser interface {
	Parse(ctx context.Context, path string) (*Document, error)
	SupportedFormats() []string
}

// ProductNumberFromFilename derives the APVMA product number from a label
// file name such as ELBL31209.docling.json.
func ProductNumberFromFilename(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, "."+FormatOf(path))
	base = strings.ReplaceAll(base, "ELBL", "")
	base = strings.ReplaceAll(base, ".docling", "")
	return base
}

// RowsToMarkdown renders rows as a pipe table, treating the first row as
// the header.
func RowsToMarkdown(rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("| " + strings.Join(rows[0], " | ") + " |\n")
	sep := make([]string, len(rows[0]))
	for i := range sep {
		sep[i] = "---"
	}
	b.WriteString("| " + strings.Join(sep, " | ") + " |\n")
	for _, r := range rows[1:] {
		cells := make([]string, len(r))
		for i, c := range r {
			cells[i] = strings.ReplaceAll(strings.TrimSpace(c), "\n", " ")
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	return b.String()
}

// cellString renders a decoded JSON cell. Numbers use the shortest exact
// form and null becomes the empty string.
func cellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

func maxColumns(rows [][]string) int {
	n := 0
	for _, r := range rows {
		if len(r) > n {
			n = len(r)
		}
	}
	return n
}

func sortedKeys(m map[string]string) []string {
	return slices.Sorted(maps.Keys(m))
}
