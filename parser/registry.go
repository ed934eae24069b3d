package parser

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

// Registry maps file formats to parsers.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry returns a registry with the built-in normalizers.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	for _, p := range []Parser{&DoclingParser{}, &PDFParser{}, &XLSXParser{}, &MarkdownParser{}, &TextParser{}} {
		for _, f := range p.SupportedFormats() {
			r.parsers[f] = p
		}
	}
	return r
}

// Get returns the parser for a format.
func (r *Registry) Get(format string) (Parser, error) {
	p, ok := r.parsers[format]
	if !ok {
		return nil, fmt.Errorf("no parser for format: %s", format)
	}
	return p, nil
}

// ForPath returns the parser for a file based on its name.
func (r *Registry) ForPath(path string) (Parser, error) {
	return r.Get(FormatOf(path))
}

// Register adds or replaces the parser for a format.
func (r *Registry) Register(format string, p Parser) {
	r.parsers[format] = p
}

// Formats lists the registered formats.
func (r *Registry) Formats() []string {
	out := make([]string, 0, len(r.parsers))
	for f := range r.parsers {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}

// Supports reports whether a file can be parsed by some registered parser.
func (r *Registry) Supports(path string) bool {
	_, ok := r.parsers[FormatOf(path)]
	return ok
}

// FormatOf returns the format key for a file name. Docling output keeps its
// compound extension so it can be told apart from other JSON.
func FormatOf(path string) string {
	name := strings.ToLower(filepath.Base(path))
	if strings.HasSuffix(name, ".docling.json") {
		return "docling.json"
	}
	return strings.TrimPrefix(filepath.Ext(name), ".")
}
