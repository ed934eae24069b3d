package graph

import "strings"

// HerbicideLabel is the structured record extracted from one product label.
type HerbicideLabel struct {
	ProductNumber      string             `json:"product_number"`
	ProductName        string             `json:"product_name"`
	ActiveConstituent  string             `json:"active_constituent"`
	ChemicalGroup      string             `json:"chemical_group,omitempty"`
	ModeOfActionGroup  string             `json:"mode_of_action_group"`
	RegisteredCrops    []string           `json:"registered_crops"`
	RegisteredWeeds    []string           `json:"registered_weeds"`
	WeedControlEntries []WeedControlEntry `json:"weed_control_entries"`
	ApplicationMethods []string           `json:"application_methods,omitempty"`
	StateRestrictions  []string           `json:"state_restrictions,omitempty"`
	WithholdingPeriod  string             `json:"withholding_period,omitempty"`
	CompatibleProducts []string           `json:"compatible_products,omitempty"`
	Metadata           *LabelMetadata     `json:"_metadata,omitempty"`
}

// WeedControlEntry is one crop and weed row of the directions table.
type WeedControlEntry struct {
	Crop               string   `json:"crop"`
	ApplicationTiming  string   `json:"application_timing,omitempty"`
	WeedCommonName     string   `json:"weed_common_name"`
	WeedScientificName string   `json:"weed_scientific_name,omitempty"`
	States             []string `json:"states"`
	RatePerHa          string   `json:"rate_per_ha"`
	CriticalComments   string   `json:"critical_comments,omitempty"`
	ControlLevel       string   `json:"control_level,omitempty"`
}

// LabelMetadata records where an extracted label came from.
type LabelMetadata struct {
	SourceFile  string `json:"source_file"`
	ExtractedAt string `json:"extracted_at"`
	Model       string `json:"model"`
}

// NormalizeCrop is the crop node key.
func NormalizeCrop(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NormalizeWeed is the weed node key. Possessives are folded so
// "Paterson's curse" and "Patersons curse" share a node.
func NormalizeWeed(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "'s", "s")
}
