package parser

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// XLSXParser normalises spreadsheet exports of label tables. Each sheet
// becomes one block.
type XLSXParser struct{}

func (p *XLSXParser) SupportedFormats() []string { return []string{"xlsx"} }

func (p *XLSXParser) Parse(ctx context.Context, path string) (*Document, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening XLSX: %v", ErrMalformed, err)
	}
	defer f.Close()

	doc := &Document{
		SourcePath:    path,
		ProductNumber: ProductNumberFromFilename(path),
		Metadata:      map[string]string{"format": "xlsx"},
	}

	for i, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}
		doc.Tables = append(doc.Tables, Table{
			ID:          fmt.Sprintf("sheet-%d", i+1),
			Title:       sheet,
			Markdown:    RowsToMarkdown(rows),
			Rows:        rows,
			RowCount:    len(rows),
			ColumnCount: maxColumns(rows),
		})
	}

	if len(doc.Tables) == 0 {
		return nil, fmt.Errorf("%w: no data found in XLSX", ErrMalformed)
	}
	return doc, nil
}
