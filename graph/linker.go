package graph

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultWeedPatterns are matched against lower-cased chunk text.
var DefaultWeedPatterns = []string{
	`ryegrass`,
	`capeweed`,
	`wild\s*radish`,
	`wild\s*oats?`,
	`brome\s*grass`,
	`barley\s*grass`,
	`clover`,
	`dock`,
	`thistle`,
	`fumitory`,
	`fat\s*hen`,
	`charlock`,
	`sow\s*thistle`,
	`skeleton\s*weed`,
	`turnip\s*weed`,
	`shepherd'?s?\s*purse`,
	`wireweed`,
	`medic`,
	`marshmallow`,
	`sorrel`,
	`deadnettle`,
	`chickweed`,
	`pigweed`,
	`amaranth`,
	`burr`,
	`caltrop`,
	`bindweed`,
	`fleabane`,
}

// DefaultCropPatterns are matched against lower-cased chunk text.
var DefaultCropPatterns = []string{
	`wheat`,
	`barley`,
	`canola`,
	`lupins?`,
	`oats?`,
	`triticale`,
	`pasture`,
	`fallow`,
	`chickpea`,
	`lentils?`,
	`field\s*pea`,
	`faba\s*bean`,
	`vetch`,
	`cereal`,
	`grain\s*legume`,
}

// Mentions holds the lookup keys found in a chunk. Keys are lower-cased,
// whitespace-free, de-duplicated and sorted.
type Mentions struct {
	Weeds []string `json:"weeds"`
	Crops []string `json:"crops"`
}

// Empty reports whether nothing was found.
func (m Mentions) Empty() bool { return len(m.Weeds) == 0 && len(m.Crops) == 0 }

// Patterns is the YAML shape of a pattern override file.
type Patterns struct {
	Weeds []string `yaml:"weeds"`
	Crops []string `yaml:"crops"`
}

// Linker finds weed and crop mentions in free text.
type Linker struct {
	weeds []*regexp.Regexp
	crops []*regexp.Regexp
}

// NewLinker compiles the given pattern lists. Nil lists fall back to the
// defaults; an empty non-nil list disables that entity type.
func NewLinker(p Patterns) (*Linker, error) {
	if p.Weeds == nil {
		p.Weeds = DefaultWeedPatterns
	}
	if p.Crops == nil {
		p.Crops = DefaultCropPatterns
	}
	weeds, err := compileAll(p.Weeds)
	if err != nil {
		return nil, fmt.Errorf("weed patterns: %w", err)
	}
	crops, err := compileAll(p.Crops)
	if err != nil {
		return nil, fmt.Errorf("crop patterns: %w", err)
	}
	return &Linker{weeds: weeds, crops: crops}, nil
}

// DefaultLinker returns a linker over the built-in pattern lists.
func DefaultLinker() *Linker {
	l, err := NewLinker(Patterns{})
	if err != nil {
		panic(err)
	}
	return l
}

// LoadPatterns reads a YAML override of the form
// {weeds: [...], crops: [...]}. Omitted keys keep the defaults.
func LoadPatterns(path string) (Patterns, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Patterns{}, fmt.Errorf("reading patterns: %w", err)
	}
	var p Patterns
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Patterns{}, fmt.Errorf("parsing patterns %s: %w", path, err)
	}
	return p, nil
}

// Extend adds literal catalog names to the pattern lists. Names already
// covered by an existing pattern are still added; Link de-duplicates.
func (l *Linker) Extend(weeds, crops []string) {
	l.weeds = append(l.weeds, literals(weeds)...)
	l.crops = append(l.crops, literals(crops)...)
}

// Link returns the mention keys found in text. Each pattern contributes
// at most its first match.
func (l *Linker) Link(text string) Mentions {
	lower := strings.ToLower(text)
	return Mentions{
		Weeds: match(l.weeds, lower),
		Crops: match(l.crops, lower),
	}
}

// NormalizeKey lower-cases s and strips all whitespace.
func NormalizeKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "")
}

func match(patterns []*regexp.Regexp, text string) []string {
	var keys []string
	for _, re := range patterns {
		if m := re.FindString(text); m != "" {
			if k := NormalizeKey(m); k != "" {
				keys = append(keys, k)
			}
		}
	}
	slices.Sort(keys)
	return slices.Compact(keys)
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compiling %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func literals(names []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		out = append(out, regexp.MustCompile(regexp.QuoteMeta(n)))
	}
	return out
}
