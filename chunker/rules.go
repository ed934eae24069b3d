package chunker

import (
	"regexp"
	"strings"

	"github.com/brunobiangulo/labelgraph/parser"
)

// Section labels assigned by classification.
const (
	SectionProductIdentity   = "product_identity"
	SectionClaims            = "claims"
	SectionResistanceWarning = "resistance_warning"
	SectionDirections        = "directions_for_use"
	SectionWeedTable         = "weed_table"
	SectionWithholding       = "withholding_period"
	SectionCompatibility     = "compatibility"
	SectionSafety            = "safety"
	SectionStorage           = "storage"
	SectionMetadata          = "metadata"
	SectionGeneral           = "general"
)

// SectionRule maps a text pattern to a section label.
type SectionRule struct {
	Section string
	Pattern *regexp.Regexp
}

// DefaultSectionRules is evaluated in order and the first match wins.
// Broad patterns such as the directions keywords sit after the narrower
// identity, claims and resistance patterns they would otherwise shadow.
var DefaultSectionRules = []SectionRule{
	{SectionProductIdentity, regexp.MustCompile(`(?i)label\s*name|product\s*name|apvma`)},
	{SectionClaims, regexp.MustCompile(`(?i)statement\s*of\s*claims|claim`)},
	{SectionResistanceWarning, regexp.MustCompile(`(?i)resistance\s*warning|group\s*[a-z]\s*herbicide`)},
	{SectionDirections, regexp.MustCompile(`(?i)situation|crop|weeds|rate|critical\s*comments`)},
	{SectionWeedTable, regexp.MustCompile(`(?i)weed\s*table|weeds?\s*controlled`)},
	{SectionWithholding, regexp.MustCompile(`(?i)withholding|whp|harvest`)},
	{SectionCompatibility, regexp.MustCompile(`(?i)compatib|tank\s*mix|mixing`)},
	{SectionSafety, regexp.MustCompile(`(?i)safety|first\s*aid|poison|hazard`)},
	{SectionStorage, regexp.MustCompile(`(?i)storage|disposal|container`)},
}

// DefaultWeedKeywords mark a weed table when found in the first column.
var DefaultWeedKeywords = []string{"weed", "grass", "thistle", "dock", "clover", "ryegrass"}

var ratePattern = regexp.MustCompile(`(?i)\d+\s*(mL|g|L)/ha`)

// classifyText returns the section of the first matching rule, falling
// back on the column count when nothing matches.
func classifyText(rules []SectionRule, text string, columns int) string {
	for _, r := range rules {
		if r.Pattern.MatchString(text) {
			return r.Section
		}
	}
	switch {
	case columns >= 4:
		return SectionDirections
	case columns == 2:
		return SectionMetadata
	}
	return SectionGeneral
}

// blockText is the text used for classification: the markdown, or the
// cells joined by spaces.
func blockText(t parser.Table) string {
	if t.Markdown != "" {
		return t.Markdown
	}
	parts := make([]string, 0, len(t.Rows))
	for _, r := range t.Rows {
		parts = append(parts, strings.Join(r, " "))
	}
	return strings.Join(parts, " ")
}

// isWeedTable reports whether a block lists weeds with rates: at least
// three rows, and within the first five either a weed keyword in the
// first column or a per-hectare rate in any cell.
func isWeedTable(rows [][]string, keywords []string) bool {
	if len(rows) < 3 {
		return false
	}
	for _, row := range rows[:min(5, len(rows))] {
		if len(row) == 0 {
			continue
		}
		first := strings.ToLower(row[0])
		for _, kw := range keywords {
			if strings.Contains(first, kw) {
				return true
			}
		}
		for _, cell := range row {
			if ratePattern.MatchString(cell) {
				return true
			}
		}
	}
	return false
}

// chunkType applies the type precedence: weed table, then the carried
// section, then the column count.
func chunkType(weedTable bool, section string, columns int) string {
	switch {
	case weedTable:
		return TypeWeedTable
	case section == SectionDirections:
		return TypeDirections
	case section == SectionMetadata || columns <= 2:
		return TypeMetadata
	}
	return TypeTable
}
