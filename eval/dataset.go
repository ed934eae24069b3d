package eval

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Search modes a case can run under.
const (
	ModeVector = "vector"
	ModeHybrid = "hybrid"
	ModeWeed   = "weed"
	ModeCrop   = "crop"
)

// Dataset is a collection of retrieval cases.
type Dataset struct {
	Name  string `json:"name" yaml:"name"`
	Cases []Case `json:"cases" yaml:"cases"`
}

// Case is one query with what a relevant chunk looks like. A chunk is
// relevant when it satisfies every non-empty expectation; terms may hold
// pipe-separated alternatives ("ryegrass|lolium").
type Case struct {
	Query              string   `json:"query" yaml:"query"`
	Mode               string   `json:"mode,omitempty" yaml:"mode,omitempty"` // vector (default), hybrid, weed, crop
	K                  int      `json:"k,omitempty" yaml:"k,omitempty"`
	Category           string   `json:"category,omitempty" yaml:"category,omitempty"`
	ExpectedChunkTypes []string `json:"expected_chunk_types,omitempty" yaml:"expected_chunk_types,omitempty"`
	ExpectedProducts   []string `json:"expected_products,omitempty" yaml:"expected_products,omitempty"`
	ExpectedTerms      []string `json:"expected_terms,omitempty" yaml:"expected_terms,omitempty"`
}

// DefaultDataset returns the label smoke queries: rate lookups, crop
// application and resistance management, plus entity lookups.
func DefaultDataset() Dataset {
	return Dataset{
		Name: "Herbicide label retrieval",
		Cases: []Case{
			{
				Query:              "ryegrass control rates",
				K:                  2,
				Category:           "weed-rates",
				ExpectedChunkTypes: []string{"weed_table"},
				ExpectedTerms:      []string{"ryegrass"},
			},
			{
				Query:              "wheat herbicide application",
				K:                  2,
				Category:           "crop-application",
				ExpectedChunkTypes: []string{"weed_table", "directions"},
				ExpectedTerms:      []string{"wheat"},
			},
			{
				Query:         "herbicide resistance management groups",
				K:             2,
				Category:      "resistance",
				ExpectedTerms: []string{"resistance", "group"},
			},
			{
				Query:              "annual ryegrass",
				Mode:               ModeWeed,
				K:                  5,
				Category:           "entity",
				ExpectedChunkTypes: []string{"weed_table"},
				ExpectedTerms:      []string{"ryegrass"},
			},
			{
				Query:         "wheat",
				Mode:          ModeCrop,
				K:             5,
				Category:      "entity",
				ExpectedTerms: []string{"wheat"},
			},
			{
				Query:         "withholding period grazing",
				Mode:          ModeHybrid,
				K:             3,
				Category:      "directions",
				ExpectedTerms: []string{"withholding|graz"},
			},
		},
	}
}

// LoadDataset reads a YAML dataset and checks every case.
func LoadDataset(path string) (Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Dataset{}, fmt.Errorf("reading dataset: %w", err)
	}
	var ds Dataset
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return Dataset{}, fmt.Errorf("parsing dataset %s: %w", path, err)
	}
	if ds.Name == "" {
		ds.Name = path
	}
	for i, c := range ds.Cases {
		if c.Query == "" {
			return Dataset{}, fmt.Errorf("dataset %s: case %d has no query", path, i+1)
		}
		switch c.Mode {
		case "", ModeVector, ModeHybrid, ModeWeed, ModeCrop:
		default:
			return Dataset{}, fmt.Errorf("dataset %s: case %d: unknown mode %q", path, i+1, c.Mode)
		}
	}
	return ds, nil
}
