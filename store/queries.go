package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// WeedControl is one herbicide/weed/crop control record.
type WeedControl struct {
	Herbicide         string   `json:"herbicide"`
	ProductNumber     string   `json:"product_number"`
	ActiveConstituent string   `json:"active"`
	MOAGroup          string   `json:"moa_group"`
	Weed              string   `json:"weed"`
	WeedScientific    string   `json:"weed_scientific,omitempty"`
	Crop              string   `json:"crop"`
	Rate              string   `json:"rate"`
	Timing            string   `json:"timing,omitempty"`
	ControlLevel      string   `json:"control_level"`
	States            []string `json:"states,omitempty"`
	Comments          string   `json:"comments,omitempty"`
}

// WeedFilter narrows HerbicidesForWeed. ExcludeMOA drops herbicides of
// that group, which is how rotation candidates are found.
type WeedFilter struct {
	Crop       string
	State      string
	ExcludeMOA string
}

// CropRegistration is a herbicide registered for a crop.
type CropRegistration struct {
	Herbicide         string   `json:"herbicide"`
	ProductNumber     string   `json:"product_number"`
	ActiveConstituent string   `json:"active"`
	MOAGroup          string   `json:"moa_group"`
	WeedsControlled   []string `json:"weeds_controlled"`
}

// RotationOption is a herbicide usable when rotating away from a group.
type RotationOption struct {
	Herbicide         string `json:"herbicide"`
	ProductNumber     string `json:"product_number"`
	ActiveConstituent string `json:"active"`
	Rate              string `json:"rate"`
	Timing            string `json:"timing,omitempty"`
	ControlLevel      string `json:"control_level"`
}

// RotationGroup collects the rotation options of one mode of action group.
type RotationGroup struct {
	Group       string           `json:"moa_group"`
	Description string           `json:"moa_description"`
	Options     []RotationOption `json:"options"`
}

// ControlSummary is a compact CONTROLS record on a herbicide.
type ControlSummary struct {
	Weed   string `json:"weed"`
	Crop   string `json:"crop"`
	Rate   string `json:"rate"`
	Timing string `json:"timing,omitempty"`
}

// HerbicideDetails is the full record of one herbicide.
type HerbicideDetails struct {
	Herbicide
	MOAGroup         string           `json:"moa_group"`
	MOADescription   string           `json:"moa_description"`
	RegisteredCrops  []string         `json:"registered_crops"`
	WeedControls     []ControlSummary `json:"weed_controls"`
	RegisteredStates []string         `json:"registered_states"`
}

// EntityMatch is a weed or crop returned by a name search.
type EntityMatch struct {
	Name           string `json:"name"`
	DisplayName    string `json:"display_name,omitempty"`
	ScientificName string `json:"scientific_name,omitempty"`
	HerbicideCount int    `json:"herbicide_count"`
}

// NameCount pairs an entity name with a count.
type NameCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// GraphSummary is an overview of the entity graph.
type GraphSummary struct {
	Herbicides int         `json:"total_herbicides"`
	Crops      int         `json:"total_crops"`
	Weeds      int         `json:"total_weeds"`
	Controls   int         `json:"total_controls"`
	TopWeeds   []NameCount `json:"top_weeds"`
	TopCrops   []NameCount `json:"top_crops"`
}

// searchLimit caps SearchWeeds and SearchCrops.
const searchLimit = 20

// --- Entity queries ---

// HerbicidesForWeed finds herbicides controlling a weed, matched by
// containment on its common or display name.
func (s *Store) HerbicidesForWeed(ctx context.Context, weed string, f WeedFilter) ([]WeedControl, error) {
	term := likePattern(weed)
	query := `
		SELECT h.product_name, h.product_number, COALESCE(h.active_constituent, ''),
			COALESCE(hm.moa_group, ''), w.common_name, COALESCE(w.scientific_name, ''),
			ct.crop, COALESCE(ct.rate_per_ha, ''), COALESCE(ct.application_timing, ''),
			COALESCE(ct.control_level, 'control'), ct.states, COALESCE(ct.critical_comments, '')
		FROM controls ct
		JOIN herbicides h ON h.product_number = ct.product_number
		JOIN weeds w ON w.common_name = ct.weed_name
		LEFT JOIN herbicide_moa hm ON hm.product_number = h.product_number
		WHERE (lower(w.common_name) LIKE '%' || ? || '%' ESCAPE '\'
		    OR lower(COALESCE(w.display_name, '')) LIKE '%' || ? || '%' ESCAPE '\')`
	args := []any{term, term}

	if f.Crop != "" {
		query += ` AND lower(ct.crop) LIKE '%' || ? || '%' ESCAPE '\'`
		args = append(args, likePattern(f.Crop))
	}
	if f.State != "" {
		query += ` AND EXISTS (SELECT 1 FROM json_each(ct.states) WHERE upper(json_each.value) = ?)`
		args = append(args, strings.ToUpper(strings.TrimSpace(f.State)))
	}
	if f.ExcludeMOA != "" {
		query += ` AND COALESCE(hm.moa_group, '') <> ?`
		args = append(args, strings.ToUpper(strings.TrimSpace(f.ExcludeMOA)))
	}
	query += ` ORDER BY h.product_name, ct.crop`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("herbicides for weed %q: %w", weed, err)
	}
	defer rows.Close()

	var out []WeedControl
	for rows.Next() {
		var wc WeedControl
		var states sql.NullString
		if err := rows.Scan(&wc.Herbicide, &wc.ProductNumber, &wc.ActiveConstituent,
			&wc.MOAGroup, &wc.Weed, &wc.WeedScientific, &wc.Crop, &wc.Rate, &wc.Timing,
			&wc.ControlLevel, &states, &wc.Comments); err != nil {
			return nil, err
		}
		wc.States = decodeStrings(states)
		out = append(out, wc)
	}
	return out, rows.Err()
}

// HerbicidesForCrop finds herbicides registered for a crop, each with the
// weeds it controls in that crop.
func (s *Store) HerbicidesForCrop(ctx context.Context, crop, state string) ([]CropRegistration, error) {
	term := likePattern(crop)
	query := `
		SELECT h.product_name, h.product_number, COALESCE(h.active_constituent, ''),
			COALESCE(hm.moa_group, ''),
			(SELECT json_group_array(DISTINCT ct.weed_name) FROM controls ct
			 WHERE ct.product_number = h.product_number AND lower(ct.crop) LIKE '%' || ? || '%' ESCAPE '\')
		FROM herbicides h
		LEFT JOIN herbicide_moa hm ON hm.product_number = h.product_number
		WHERE EXISTS (
			SELECT 1 FROM herbicide_crops hc
			WHERE hc.product_number = h.product_number AND hc.crop_name LIKE '%' || ? || '%' ESCAPE '\')`
	args := []any{term, term}
	if state != "" {
		query += ` AND EXISTS (SELECT 1 FROM herbicide_states hs
			WHERE hs.product_number = h.product_number AND hs.state_code = ?)`
		args = append(args, strings.ToUpper(strings.TrimSpace(state)))
	}
	query += ` ORDER BY h.product_name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("herbicides for crop %q: %w", crop, err)
	}
	defer rows.Close()

	var out []CropRegistration
	for rows.Next() {
		var cr CropRegistration
		var weeds sql.NullString
		if err := rows.Scan(&cr.Herbicide, &cr.ProductNumber, &cr.ActiveConstituent,
			&cr.MOAGroup, &weeds); err != nil {
			return nil, err
		}
		cr.WeedsControlled = decodeStrings(weeds)
		out = append(out, cr)
	}
	return out, rows.Err()
}

// RotationOptions groups the herbicides that control weed in crop by mode
// of action, leaving out the current group.
func (s *Store) RotationOptions(ctx context.Context, currentMOA, crop, weed string) ([]RotationGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT hm.moa_group, m.description, h.product_name, h.product_number,
			COALESCE(h.active_constituent, ''), COALESCE(ct.rate_per_ha, ''),
			COALESCE(ct.application_timing, ''), COALESCE(ct.control_level, 'control')
		FROM controls ct
		JOIN herbicides h ON h.product_number = ct.product_number
		JOIN weeds w ON w.common_name = ct.weed_name
		JOIN herbicide_moa hm ON hm.product_number = h.product_number
		JOIN modes_of_action m ON m.moa_group = hm.moa_group
		WHERE (lower(w.common_name) LIKE '%' || ? || '%' ESCAPE '\'
		    OR lower(COALESCE(w.display_name, '')) LIKE '%' || ? || '%' ESCAPE '\')
		  AND lower(ct.crop) LIKE '%' || ? || '%' ESCAPE '\'
		  AND hm.moa_group <> ?
		ORDER BY hm.moa_group, h.product_name
	`, likePattern(weed), likePattern(weed),
		likePattern(crop), strings.ToUpper(strings.TrimSpace(currentMOA)))
	if err != nil {
		return nil, fmt.Errorf("rotation options: %w", err)
	}
	defer rows.Close()

	var groups []RotationGroup
	for rows.Next() {
		var group, desc string
		var opt RotationOption
		if err := rows.Scan(&group, &desc, &opt.Herbicide, &opt.ProductNumber,
			&opt.ActiveConstituent, &opt.Rate, &opt.Timing, &opt.ControlLevel); err != nil {
			return nil, err
		}
		if n := len(groups); n == 0 || groups[n-1].Group != group {
			groups = append(groups, RotationGroup{Group: group, Description: desc})
		}
		last := &groups[len(groups)-1]
		last.Options = append(last.Options, opt)
	}
	return groups, rows.Err()
}

// HerbicideDetails returns everything known about one herbicide, or nil
// when the product number is unknown.
func (s *Store) HerbicideDetails(ctx context.Context, productNumber string) (*HerbicideDetails, error) {
	d := &HerbicideDetails{}
	var active, group, withholding, methods sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT h.product_number, h.product_name, h.active_constituent, h.chemical_group,
			h.withholding_period, h.application_methods,
			COALESCE(hm.moa_group, ''), COALESCE(m.description, '')
		FROM herbicides h
		LEFT JOIN herbicide_moa hm ON hm.product_number = h.product_number
		LEFT JOIN modes_of_action m ON m.moa_group = hm.moa_group
		WHERE h.product_number = ?
	`, productNumber).Scan(&d.ProductNumber, &d.ProductName, &active, &group,
		&withholding, &methods, &d.MOAGroup, &d.MOADescription)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	d.ActiveConstituent = active.String
	d.ChemicalGroup = group.String
	d.WithholdingPeriod = withholding.String
	d.ApplicationMethods = decodeStrings(methods)

	d.RegisteredCrops, err = s.names(ctx, `
		SELECT COALESCE(c.display_name, c.name) FROM herbicide_crops hc
		JOIN crops c ON c.name = hc.crop_name
		WHERE hc.product_number = ? ORDER BY c.name`, productNumber)
	if err != nil {
		return nil, fmt.Errorf("registered crops: %w", err)
	}

	d.RegisteredStates, err = s.names(ctx,
		"SELECT state_code FROM herbicide_states WHERE product_number = ? ORDER BY state_code", productNumber)
	if err != nil {
		return nil, fmt.Errorf("registered states: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT weed_name, crop, COALESCE(rate_per_ha, ''), COALESCE(application_timing, '')
		FROM controls WHERE product_number = ? ORDER BY weed_name, crop
	`, productNumber)
	if err != nil {
		return nil, fmt.Errorf("weed controls: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var cs ControlSummary
		if err := rows.Scan(&cs.Weed, &cs.Crop, &cs.Rate, &cs.Timing); err != nil {
			return nil, err
		}
		d.WeedControls = append(d.WeedControls, cs)
	}
	return d, rows.Err()
}

// FindHerbicide resolves a product number or a product name fragment to
// a product number. Returns "" when nothing matches.
func (s *Store) FindHerbicide(ctx context.Context, nameOrNumber string) (string, error) {
	var pn string
	err := s.db.QueryRowContext(ctx, `
		SELECT product_number FROM herbicides
		WHERE product_number = ? OR lower(product_name) LIKE '%' || ? || '%' ESCAPE '\'
		ORDER BY product_number = ? DESC, product_name
		LIMIT 1
	`, nameOrNumber, likePattern(nameOrNumber), nameOrNumber).Scan(&pn)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return pn, err
}

// SearchWeeds finds weeds by common, display or scientific name.
func (s *Store) SearchWeeds(ctx context.Context, term string) ([]EntityMatch, error) {
	return s.searchEntities(ctx, `
		SELECT w.common_name, COALESCE(w.display_name, ''), COALESCE(w.scientific_name, ''),
			COUNT(DISTINCT ct.product_number)
		FROM weeds w
		LEFT JOIN controls ct ON ct.weed_name = w.common_name
		WHERE lower(w.common_name) LIKE '%' || ? || '%' ESCAPE '\'
		   OR lower(COALESCE(w.display_name, '')) LIKE '%' || ? || '%' ESCAPE '\'
		   OR lower(COALESCE(w.scientific_name, '')) LIKE '%' || ? || '%' ESCAPE '\'
		GROUP BY w.common_name
		ORDER BY w.common_name
		LIMIT ?
	`, term, 3)
}

// SearchCrops finds crops by name or display name.
func (s *Store) SearchCrops(ctx context.Context, term string) ([]EntityMatch, error) {
	return s.searchEntities(ctx, `
		SELECT c.name, COALESCE(c.display_name, ''), '',
			COUNT(DISTINCT hc.product_number)
		FROM crops c
		LEFT JOIN herbicide_crops hc ON hc.crop_name = c.name
		WHERE lower(c.name) LIKE '%' || ? || '%' ESCAPE '\'
		   OR lower(COALESCE(c.display_name, '')) LIKE '%' || ? || '%' ESCAPE '\'
		GROUP BY c.name
		ORDER BY c.name
		LIMIT ?
	`, term, 2)
}

func (s *Store) searchEntities(ctx context.Context, query, term string, termArgs int) ([]EntityMatch, error) {
	t := likePattern(term)
	args := make([]any, 0, termArgs+1)
	for i := 0; i < termArgs; i++ {
		args = append(args, t)
	}
	args = append(args, searchLimit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EntityMatch
	for rows.Next() {
		var m EntityMatch
		if err := rows.Scan(&m.Name, &m.DisplayName, &m.ScientificName, &m.HerbicideCount); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GraphSummary returns entity totals and the most connected weeds and crops.
func (s *Store) GraphSummary(ctx context.Context) (*GraphSummary, error) {
	sum := &GraphSummary{}
	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM herbicides", &sum.Herbicides},
		{"SELECT COUNT(*) FROM crops", &sum.Crops},
		{"SELECT COUNT(*) FROM weeds", &sum.Weeds},
		{"SELECT COUNT(*) FROM controls", &sum.Controls},
	}
	for _, q := range counts {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", q.query, err)
		}
	}

	var err error
	if sum.TopWeeds, err = s.TopWeeds(ctx, 10); err != nil {
		return nil, err
	}
	sum.TopCrops, err = s.nameCounts(ctx, `
		SELECT crop_name, COUNT(DISTINCT product_number) AS n
		FROM herbicide_crops GROUP BY crop_name
		ORDER BY n DESC, crop_name LIMIT ?`, 10)
	if err != nil {
		return nil, err
	}
	return sum, nil
}

// --- Canned statistics ---

// CountHerbicidesControlling counts distinct herbicides with a CONTROLS
// edge to a weed matching name.
func (s *Store) CountHerbicidesControlling(ctx context.Context, weed string) (int, error) {
	var n int
	t := likePattern(weed)
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT ct.product_number)
		FROM controls ct JOIN weeds w ON w.common_name = ct.weed_name
		WHERE lower(w.common_name) LIKE '%' || ? || '%' ESCAPE '\'
		   OR lower(COALESCE(w.display_name, '')) LIKE '%' || ? || '%' ESCAPE '\'
	`, t, t).Scan(&n)
	return n, err
}

// HerbicideCount returns the number of herbicide nodes.
func (s *Store) HerbicideCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM herbicides").Scan(&n)
	return n, err
}

// TopModesOfAction ranks groups by the number of herbicides using them.
func (s *Store) TopModesOfAction(ctx context.Context, limit int) ([]NameCount, error) {
	return s.nameCounts(ctx, `
		SELECT moa_group, COUNT(*) AS n FROM herbicide_moa
		GROUP BY moa_group ORDER BY n DESC, moa_group LIMIT ?`, limit)
}

// TopWeeds ranks weeds by the number of herbicides controlling them.
func (s *Store) TopWeeds(ctx context.Context, limit int) ([]NameCount, error) {
	return s.nameCounts(ctx, `
		SELECT weed_name, COUNT(DISTINCT product_number) AS n
		FROM controls GROUP BY weed_name
		ORDER BY n DESC, weed_name LIMIT ?`, limit)
}

func (s *Store) nameCounts(ctx context.Context, query string, limit int) ([]NameCount, error) {
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []NameCount
	for rows.Next() {
		var nc NameCount
		if err := rows.Scan(&nc.Name, &nc.Count); err != nil {
			return nil, err
		}
		out = append(out, nc)
	}
	return out, rows.Err()
}
