package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// DoclingParser reads the JSON written by the docling layout extractor.
type DoclingParser struct{}

func (p *DoclingParser) SupportedFormats() []string { return []string{"docling.json"} }

type doclingBBox struct {
	Page int `json:"page"`
}

type doclingTable struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Markdown    string       `json:"markdown"`
	Rows        [][]any      `json:"rows"`
	RowCount    int          `json:"row_count"`
	ColumnCount int          `json:"column_count"`
	BBox        *doclingBBox `json:"bbox"`
}

type doclingTextItem struct {
	Label string       `json:"label"`
	Text  string       `json:"text"`
	BBox  *doclingBBox `json:"bbox"`
}

type doclingFile struct {
	SourcePath string            `json:"source_path"`
	Metadata   map[string]any    `json:"metadata"`
	TextItems  []doclingTextItem `json:"text_items"`
	Tables     []doclingTable    `json:"tables"`
}

func (p *DoclingParser) Parse(ctx context.Context, path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading docling output: %w", err)
	}
	doc, err := DecodeDocling(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	doc.SourcePath = path
	doc.ProductNumber = ProductNumberFromFilename(path)
	return doc, nil
}

// DecodeDocling normalises a docling JSON payload. Cells may be strings,
// numbers or null. The caller sets the source path and product number.
func DecodeDocling(data []byte) (*Document, error) {
	var raw doclingFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	doc := &Document{Metadata: make(map[string]string)}
	for k, v := range raw.Metadata {
		if v != nil {
			doc.Metadata[k] = cellString(v)
		}
	}

	for _, ti := range raw.TextItems {
		item := TextItem{Label: ti.Label, Text: ti.Text}
		if ti.BBox != nil {
			item.Page = ti.BBox.Page
		}
		doc.TextItems = append(doc.TextItems, item)
	}

	for _, t := range raw.Tables {
		rows := make([][]string, len(t.Rows))
		for i, r := range t.Rows {
			cells := make([]string, len(r))
			for j, c := range r {
				cells[j] = cellString(c)
			}
			rows[i] = cells
		}
		table := Table{
			ID:          t.ID,
			Title:       t.Title,
			Markdown:    t.Markdown,
			Rows:        rows,
			RowCount:    t.RowCount,
			ColumnCount: t.ColumnCount,
		}
		if table.RowCount == 0 {
			table.RowCount = len(rows)
		}
		if table.ColumnCount == 0 {
			table.ColumnCount = maxColumns(rows)
		}
		if t.BBox != nil {
			table.Page = t.BBox.Page
		}
		doc.Tables = append(doc.Tables, table)
	}
	return doc, nil
}
