package store

import (
	"context"
	"fmt"
	"strings"
)

// Herbicide is a registered product, keyed by its APVMA product number.
type Herbicide struct {
	ProductNumber      string   `json:"product_number"`
	ProductName        string   `json:"product_name"`
	ActiveConstituent  string   `json:"active_constituent,omitempty"`
	ChemicalGroup      string   `json:"chemical_group,omitempty"`
	WithholdingPeriod  string   `json:"withholding_period,omitempty"`
	ApplicationMethods []string `json:"application_methods,omitempty"`
}

// Weed is keyed by its normalised common name.
type Weed struct {
	CommonName     string `json:"common_name"`
	DisplayName    string `json:"display_name,omitempty"`
	ScientificName string `json:"scientific_name,omitempty"`
}

// Crop is keyed by its normalised name.
type Crop struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
}

// Control is the CONTROLS edge between a herbicide and a weed in one crop.
type Control struct {
	ProductNumber     string   `json:"product_number"`
	Weed              string   `json:"weed"`
	Crop              string   `json:"crop"`
	RatePerHa         string   `json:"rate_per_ha,omitempty"`
	ApplicationTiming string   `json:"application_timing,omitempty"`
	ControlLevel      string   `json:"control_level"`
	CriticalComments  string   `json:"critical_comments,omitempty"`
	States            []string `json:"states,omitempty"`
}

// --- Entity operations ---

// UpsertHerbicide merges a herbicide node on its product number.
func (s *Store) UpsertHerbicide(ctx context.Context, h Herbicide) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO herbicides (product_number, product_name, active_constituent, chemical_group,
			withholding_period, application_methods, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(product_number) DO UPDATE SET
			product_name = excluded.product_name,
			active_constituent = excluded.active_constituent,
			chemical_group = excluded.chemical_group,
			withholding_period = excluded.withholding_period,
			application_methods = excluded.application_methods,
			updated_at = CURRENT_TIMESTAMP
	`, h.ProductNumber, h.ProductName, nullString(h.ActiveConstituent), nullString(h.ChemicalGroup),
		nullString(h.WithholdingPeriod), encodeStrings(h.ApplicationMethods))
	if err != nil {
		return fmt.Errorf("upserting herbicide %s: %w", h.ProductNumber, err)
	}
	return nil
}

// HerbicideExists reports whether a herbicide node has been loaded.
func (s *Store) HerbicideExists(ctx context.Context, productNumber string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM herbicides WHERE product_number = ?)", productNumber).Scan(&exists)
	return exists, err
}

// AddActiveConstituent merges the active constituent and its CONTAINS edge.
func (s *Store) AddActiveConstituent(ctx context.Context, productNumber, name, chemicalGroup string) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO active_constituents (name, chemical_group) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET
			chemical_group = COALESCE(excluded.chemical_group, active_constituents.chemical_group)
	`, name, nullString(chemicalGroup)); err != nil {
		return fmt.Errorf("upserting active constituent %q: %w", name, err)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO herbicide_actives (product_number, active_name) VALUES (?, ?)
		ON CONFLICT DO NOTHING
	`, productNumber, name)
	return err
}

// LinkModeOfAction creates HAS_MODE_OF_ACTION to an existing group.
// Reports false when the group is not one of the seeded groups.
func (s *Store) LinkModeOfAction(ctx context.Context, productNumber, group string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO herbicide_moa (product_number, moa_group)
		SELECT ?, moa_group FROM modes_of_action WHERE moa_group = ?
		ON CONFLICT DO NOTHING
	`, productNumber, strings.ToUpper(strings.TrimSpace(group)))
	if err != nil {
		return false, fmt.Errorf("linking mode of action %q: %w", group, err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		return true, nil
	}
	var exists bool
	err = s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM modes_of_action WHERE moa_group = ?)",
		strings.ToUpper(strings.TrimSpace(group))).Scan(&exists)
	return exists, err
}

// UpsertCrop merges a crop node. The display name is kept from the first
// load that provided one.
func (s *Store) UpsertCrop(ctx context.Context, c Crop) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO crops (name, display_name) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET
			display_name = COALESCE(crops.display_name, excluded.display_name)
	`, c.Name, nullString(c.DisplayName))
	return err
}

// LinkRegisteredFor creates the REGISTERED_FOR edge to a crop.
func (s *Store) LinkRegisteredFor(ctx context.Context, productNumber, crop string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO herbicide_crops (product_number, crop_name) VALUES (?, ?)
		ON CONFLICT DO NOTHING
	`, productNumber, crop)
	return err
}

// UpsertWeed merges a weed node, filling display and scientific names
// only where they are still unset.
func (s *Store) UpsertWeed(ctx context.Context, w Weed) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO weeds (common_name, display_name, scientific_name) VALUES (?, ?, ?)
		ON CONFLICT(common_name) DO UPDATE SET
			display_name = COALESCE(weeds.display_name, excluded.display_name),
			scientific_name = COALESCE(weeds.scientific_name, excluded.scientific_name)
	`, w.CommonName, nullString(w.DisplayName), nullString(w.ScientificName))
	return err
}

// UpsertControl merges the CONTROLS edge keyed by (herbicide, weed, crop).
func (s *Store) UpsertControl(ctx context.Context, c Control) error {
	level := c.ControlLevel
	if level == "" {
		level = "control"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO controls (product_number, weed_name, crop, rate_per_ha, application_timing,
			control_level, critical_comments, states)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(product_number, weed_name, crop) DO UPDATE SET
			rate_per_ha = excluded.rate_per_ha,
			application_timing = excluded.application_timing,
			control_level = excluded.control_level,
			critical_comments = excluded.critical_comments,
			states = excluded.states
	`, c.ProductNumber, c.Weed, c.Crop, nullString(c.RatePerHa), nullString(c.ApplicationTiming),
		level, nullString(c.CriticalComments), encodeStrings(c.States))
	if err != nil {
		return fmt.Errorf("upserting control %s/%s/%s: %w", c.ProductNumber, c.Weed, c.Crop, err)
	}
	return nil
}

// LinkState creates REGISTERED_IN to an existing state. Reports false for
// unknown state codes.
func (s *Store) LinkState(ctx context.Context, productNumber, code string) (bool, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO herbicide_states (product_number, state_code)
		SELECT ?, code FROM states WHERE code = ?
		ON CONFLICT DO NOTHING
	`, productNumber, code)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}
	var exists bool
	err = s.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM states WHERE code = ?)", code).Scan(&exists)
	return exists, err
}
