package parser

import (
	"context"
	"fmt"
	"os"
)

// TextParser handles plain text label exports (.txt). They are read like
// markdown without front matter: pipe-delimited lines become table blocks.
type TextParser struct{}

func (p *TextParser) SupportedFormats() []string { return []string{"txt"} }

func (p *TextParser) Parse(ctx context.Context, path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading text file: %w", err)
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
