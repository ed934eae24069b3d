package parser

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// MarkdownParser reads parsed label markdown: an optional YAML front
// matter block followed by text and pipe tables.
type MarkdownParser struct{}

func (p *MarkdownParser) SupportedFormats() []string { return []string{"md"} }

func (p *MarkdownParser) Parse(ctx context.Context, path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading markdown: %w", err)
	}
	doc, err := DecodeMarkdown(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	doc.SourcePath = path
	if doc.ProductNumber == "" {
		doc.ProductNumber = ProductNumberFromFilename(path)
	}
	return doc, nil
}

// SplitFrontMatter separates a leading "---" YAML block from the body.
func SplitFrontMatter(content string) (map[string]string, string, error) {
	if !strings.HasPrefix(content, "---\n") {
		return nil, content, nil
	}
	rest := content[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return nil, content, nil
	}

	var raw map[string]any
	if err := yaml.Unmarshal([]byte(rest[:end]), &raw); err != nil {
		return nil, "", fmt.Errorf("%w: front matter: %v", ErrMalformed, err)
	}
	meta := make(map[string]string, len(raw))
	for k, v := range raw {
		if v != nil {
			meta[k] = fmt.Sprint(v)
		}
	}

	body := rest[end+len("\n---"):]
	return meta, strings.TrimLeft(body, "-\n"), nil
}

// DecodeMarkdown turns markdown into a Document. Consecutive pipe-table
// lines form one table block; everything else becomes text items.
func DecodeMarkdown(content string) (*Document, error) {
	meta, body, err := SplitFrontMatter(content)
	if err != nil {
		return nil, err
	}
	doc := &Document{Metadata: meta}
	if pn := meta["product_number"]; pn != "" {
		doc.ProductNumber = pn
	}

	var table []string
	var title string
	flush := func() {
		if len(table) == 0 {
			return
		}
		rows := pipeRows(table)
		doc.Tables = append(doc.Tables, Table{
			ID:          fmt.Sprintf("table-%d", len(doc.Tables)+1),
			Title:       title,
			Markdown:    strings.Join(table, "\n"),
			Rows:        rows,
			RowCount:    len(rows),
			ColumnCount: maxColumns(rows),
		})
		table = nil
	}

	sc := bufio.NewScanner(strings.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "|") {
			table = append(table, line)
			continue
		}
		flush()
		if line == "" {
			continue
		}
		label := "TEXT"
		if strings.HasPrefix(line, "#") {
			label = "SECTION_HEADER"
			line = strings.TrimSpace(strings.TrimLeft(line, "#"))
			title = line
		}
		doc.TextItems = append(doc.TextItems, TextItem{Label: label, Text: line})
	}
	flush()
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return doc, nil
}

// pipeRows splits pipe-table lines into cells, dropping separator rows.
func pipeRows(lines []string) [][]string {
	var rows [][]string
	for _, l := range lines {
		l = strings.Trim(l, "|")
		cells := strings.Split(l, "|")
		sep := true
		for i, c := range cells {
			cells[i] = strings.TrimSpace(c)
			if strings.Trim(cells[i], ":-") != "" {
				sep = false
			}
		}
		if sep {
			continue
		}
		rows = append(rows, cells)
	}
	return rows
}
