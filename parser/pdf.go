package parser

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFParser is the local fallback normaliser for label PDFs. Each page
// becomes one block; lines with aligned columns become rows.
type PDFParser struct{}

func (p *PDFParser) SupportedFormats() []string { return []string{"pdf"} }

var (
	apvmaRe     = regexp.MustCompile(`(\d{4,6})\s*/\s*\d+`)
	labelNameRe = regexp.MustCompile(`Label Name:\s*\n?\s*(.+?)(?:\n|Signal)`)
	activeRe    = regexp.MustCompile(`(?is)Active Constituents?:\s*(.+?)(?:\nMode of Action|$)`)
	moaGroupRe  = regexp.MustCompile(`GROUP\s+([A-Z0-9]+)\s+HERBICIDE`)
	signalRe    = regexp.MustCompile(`(DANGEROUS POISON|POISON|CAUTION|WARNING)`)
	columnGapRe = regexp.MustCompile(`\t+|\s{2,}`)
)

func (p *PDFParser) Parse(ctx context.Context, path string) (*Document, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening PDF: %v", ErrMalformed, err)
	}
	defer f.Close()

	doc := &Document{
		SourcePath:    path,
		ProductNumber: ProductNumberFromFilename(path),
		Metadata:      make(map[string]string),
	}

	totalPages := reader.NumPage()
	for i := 1; i <= totalPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		if i == 1 {
			for k, v := range firstPageMetadata(text) {
				doc.Metadata[k] = v
			}
		}

		rows := pageRows(text)
		doc.Tables = append(doc.Tables, Table{
			ID:          fmt.Sprintf("page-%d", i),
			Markdown:    text,
			Rows:        rows,
			RowCount:    len(rows),
			ColumnCount: maxColumns(rows),
			Page:        i,
		})
	}
	doc.Metadata["page_count"] = fmt.Sprintf("%d", totalPages)

	return doc, nil
}

// pageRows splits page text into rows, one per line, with cells separated
// by runs of whitespace.
func pageRows(text string) [][]string {
	var rows [][]string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var cells []string
		for _, c := range columnGapRe.Split(line, -1) {
			if c = strings.TrimSpace(c); c != "" {
				cells = append(cells, c)
			}
		}
		rows = append(rows, cells)
	}
	return rows
}

// firstPageMetadata pulls product identity fields from the first page.
func firstPageMetadata(text string) map[string]string {
	meta := make(map[string]string)

	lines := strings.Split(text, "\n")
	for _, line := range lines[:min(10, len(lines))] {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)
		if strings.Contains(lower, "product name:") || strings.Contains(lower, "apvma") || strings.Contains(lower, "label name:") {
			continue
		}
		if len(line) > 5 && line == strings.ToUpper(line) && strings.ToLower(line) != line {
			meta["product_name"] = line
			break
		}
	}

	if m := labelNameRe.FindStringSubmatch(text); m != nil {
		meta["product_name"] = strings.TrimSpace(m[1])
	}
	if m := apvmaRe.FindStringSubmatch(text); m != nil {
		meta["apvma_number"] = m[1]
	}
	if m := activeRe.FindStringSubmatch(text); m != nil {
		meta["active_constituent"] = strings.TrimSpace(strings.SplitN(strings.TrimSpace(m[1]), "\n", 2)[0])
	}
	if m := moaGroupRe.FindStringSubmatch(text); m != nil {
		meta["mode_of_action_group"] = m[1]
	}
	if m := signalRe.FindStringSubmatch(text); m != nil {
		meta["signal_heading"] = m[1]
	}
	return meta
}
