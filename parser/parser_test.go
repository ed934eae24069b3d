package parser

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

// ---------------------------------------------------------------------------
// Registry tests
// ---------------------------------------------------------------------------

func TestRegistryBuiltInParsers(t *testing.T) {
	reg := NewRegistry()

	for _, format := range []string{"docling.json", "pdf", "xlsx", "md", "txt"} {
		t.Run(format, func(t *testing.T) {
			p, err := reg.Get(format)
			if err != nil {
				t.Fatalf("Get(%q) returned error: %v", format, err)
			}
			if !slices.Contains(p.SupportedFormats(), format) {
				t.Errorf("parser for %q does not list it in SupportedFormats(): %v", format, p.SupportedFormats())
			}
		})
	}
}

func TestRegistryUnknown(t *testing.T) {
	reg := NewRegistry()
	for _, f := range []string{"docx", "json", "csv", ""} {
		if p, err := reg.Get(f); err == nil {
			t.Errorf("Get(%q) expected error, got parser %T", f, p)
		}
	}
}

func TestFormatOf(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"data/ELBL31209.docling.json", "docling.json"},
		{"ELBL31209.DOCLING.JSON", "docling.json"},
		{"labels/ELBL31209.pdf", "pdf"},
		{"31209.json", "json"},
		{"notes.md", "md"},
	}
	for _, tt := range tests {
		if got := FormatOf(tt.path); got != tt.want {
			t.Errorf("FormatOf(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestProductNumberFromFilename(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"data/docling/ELBL31209.docling.json", "31209"},
		{"ELBL58001.pdf", "58001"},
		{"ELBL60001.md", "60001"},
		{"12345.xlsx", "12345"},
	}
	for _, tt := range tests {
		if got := ProductNumberFromFilename(tt.path); got != tt.want {
			t.Errorf("ProductNumberFromFilename(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Docling
// ---------------------------------------------------------------------------

const doclingSample = `{
  "source_path": "labels/ELBL31209.pdf",
  "metadata": {"page_count": 4, "format": "pdf", "filesize": null},
  "text_items": [{"label": "SECTION_HEADER", "text": "DIRECTIONS FOR USE", "bbox": {"page": 2}}],
  "tables": [
    {
      "id": "#/tables/0",
      "title": null,
      "row_count": 3,
      "column_count": 3,
      "rows": [["Crop", "Weed", "Rate"], ["Wheat", "Annual ryegrass", 2.5], ["Barley", null, 100]],
      "markdown": null,
      "bbox": {"page": 2}
    },
    {"id": null, "rows": [["a", "b"]], "markdown": "| a | b |"}
  ]
}`

func TestDecodeDocling(t *testing.T) {
	doc, err := DecodeDocling([]byte(doclingSample))
	if err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(doc.Tables) != 2 {
		t.Fatalf("expected 2 tables, got %d", len(doc.Tables))
	}

	tbl := doc.Tables[0]
	if tbl.ID != "#/tables/0" || tbl.Page != 2 {
		t.Errorf("table identity: id=%q page=%d", tbl.ID, tbl.Page)
	}
	if got := tbl.Rows[1][2]; got != "2.5" {
		t.Errorf("float cell: got %q, want 2.5", got)
	}
	if got := tbl.Rows[2][2]; got != "100" {
		t.Errorf("integral cell: got %q, want 100", got)
	}
	if got := tbl.Rows[2][1]; got != "" {
		t.Errorf("null cell: got %q, want empty", got)
	}

	// Missing counts are derived from the rows.
	if doc.Tables[1].RowCount != 1 || doc.Tables[1].ColumnCount != 2 {
		t.Errorf("derived counts: %+v", doc.Tables[1])
	}
	if doc.Metadata["page_count"] != "4" {
		t.Errorf("metadata page_count: %q", doc.Metadata["page_count"])
	}
	if _, ok := doc.Metadata["filesize"]; ok {
		t.Error("null metadata should be dropped")
	}
	if len(doc.TextItems) != 1 || doc.TextItems[0].Page != 2 {
		t.Errorf("text items: %+v", doc.TextItems)
	}
}

func TestDecodeDoclingMalformed(t *testing.T) {
	_, err := DecodeDocling([]byte(`{"tables": [`))
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestDoclingParserSetsProduct(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ELBL31209.docling.json")
	if err := os.WriteFile(path, []byte(doclingSample), 0644); err != nil {
		t.Fatal(err)
	}
	doc, err := (&DoclingParser{}).Parse(context.Background(), path)
	if err != nil {
		t.Fatalf("parsing: %v", err)
	}
	if doc.ProductNumber != "31209" || doc.SourceFile() != "ELBL31209.docling.json" {
		t.Errorf("product=%q source=%q", doc.ProductNumber, doc.SourceFile())
	}
}

// ---------------------------------------------------------------------------
// Markdown
// ---------------------------------------------------------------------------

func TestDecodeMarkdown(t *testing.T) {
	content := `---
product_number: "31209"
source_file: "ELBL31209.pdf"
pages: 4
---

# BOXER GOLD
GROUP K HERBICIDE

## Directions for Use
| Crop | Weed | Rate |
| --- | --- | --- |
| Wheat | Annual ryegrass | 2.5 L/ha |

Trailing paragraph.
`
	doc, err := DecodeMarkdown(content)
	if err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if doc.ProductNumber != "31209" {
		t.Errorf("product number: %q", doc.ProductNumber)
	}
	if doc.Metadata["pages"] != "4" {
		t.Errorf("pages: %q", doc.Metadata["pages"])
	}
	if len(doc.Tables) != 1 {
		t.Fatalf("expected 1 table, got %d", len(doc.Tables))
	}
	tbl := doc.Tables[0]
	if tbl.Title != "Directions for Use" || tbl.RowCount != 2 || tbl.ColumnCount != 3 {
		t.Errorf("table: %+v", tbl)
	}
	if len(doc.TextItems) != 4 {
		t.Errorf("text items: %+v", doc.TextItems)
	}
}

func TestMarkdownRoundTripsThroughDocument(t *testing.T) {
	doc := &Document{
		SourcePath:    "ELBL31209.docling.json",
		ProductNumber: "31209",
		Tables: []Table{{
			ID:   "t1",
			Rows: [][]string{{"Crop", "Rate"}, {"Wheat", "2.5 L/ha"}},
		}},
	}
	md := doc.Markdown()
	if !strings.HasPrefix(md, "---\nproduct_number: \"31209\"") {
		t.Errorf("missing front matter: %q", md)
	}
	if !strings.Contains(md, "| Wheat | 2.5 L/ha |") {
		t.Errorf("missing table row: %q", md)
	}

	back, err := DecodeMarkdown(md)
	if err != nil {
		t.Fatalf("decoding rendered markdown: %v", err)
	}
	if back.ProductNumber != "31209" || len(back.Tables) != 1 {
		t.Errorf("decoded: %+v", back)
	}
}

// ---------------------------------------------------------------------------
// PDF metadata and XLSX
// ---------------------------------------------------------------------------

func TestFirstPageMetadata(t *testing.T) {
	text := "BOXER GOLD HERBICIDE\nActive Constituents: 800 g/L prosulfocarb\n120 g/L S-metolachlor\nMode of Action\nGROUP K HERBICIDE\nAPVMA Approval No: 31209 / 54321\nCAUTION"
	meta := firstPageMetadata(text)

	want := map[string]string{
		"product_name":         "BOXER GOLD HERBICIDE",
		"apvma_number":         "31209",
		"active_constituent":   "800 g/L prosulfocarb",
		"mode_of_action_group": "K",
		"signal_heading":       "CAUTION",
	}
	for k, v := range want {
		if meta[k] != v {
			t.Errorf("%s: got %q, want %q", k, meta[k], v)
		}
	}
}

func TestPageRows(t *testing.T) {
	rows := pageRows("Crop    Weed     Rate\nWheat\tRyegrass\t2.5 L/ha\n\n")
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if len(rows[0]) != 3 || rows[1][1] != "Ryegrass" {
		t.Errorf("rows: %v", rows)
	}
}

func TestXLSXParser(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ELBL31209.xlsx")
	f := excelize.NewFile()
	rows := [][]any{{"Crop", "Weed", "Rate"}, {"Wheat", "Annual ryegrass", "2.5 L/ha"}}
	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow("Sheet1", cell, &r); err != nil {
			t.Fatalf("writing row: %v", err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("saving: %v", err)
	}

	doc, err := (&XLSXParser{}).Parse(context.Background(), path)
	if err != nil {
		t.Fatalf("parsing: %v", err)
	}
	if doc.ProductNumber != "31209" || len(doc.Tables) != 1 {
		t.Fatalf("doc: %+v", doc)
	}
	if doc.Tables[0].ColumnCount != 3 || doc.Tables[0].RowCount != 2 {
		t.Errorf("table: %+v", doc.Tables[0])
	}
}

func TestTextParser(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ELBL31209.txt")
	content := "BOXER GOLD\n\n| Crop | Weed | Rate |\n| --- | --- | --- |\n| Wheat | Annual ryegrass | 2.5 L/ha |\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	doc, err := (&TextParser{}).Parse(context.Background(), path)
	if err != nil {
		t.Fatalf("parsing: %v", err)
	}
	if doc.ProductNumber != "31209" || doc.SourceFile() != "ELBL31209.txt" {
		t.Errorf("doc: %+v", doc)
	}
	if len(doc.Tables) != 1 || doc.Tables[0].RowCount != 2 {
		t.Fatalf("tables: %+v", doc.Tables)
	}
}
