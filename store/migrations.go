package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// migration represents a single schema migration.
type migration struct {
	version     int
	description string
	apply       func(tx *sql.Tx) error
}

// ModeOfAction is a herbicide resistance group.
type ModeOfAction struct {
	Group           string   `json:"group"`
	Description     string   `json:"description"`
	ChemicalClasses []string `json:"chemical_classes"`
}

// State is an Australian state or territory a label can be registered in.
type State struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// States lists the jurisdictions seeded into the graph.
var States = []State{
	{"NSW", "New South Wales"},
	{"VIC", "Victoria"},
	{"QLD", "Queensland"},
	{"SA", "South Australia"},
	{"WA", "Western Australia"},
	{"TAS", "Tasmania"},
	{"NT", "Northern Territory"},
	{"ACT", "Australian Capital Territory"},
}

// ModesOfAction lists the herbicide resistance groups seeded into the graph.
var ModesOfAction = []ModeOfAction{
	{"A", "Inhibition of acetyl CoA carboxylase (ACCase inhibitors)", []string{"Fops", "Dims", "Dens"}},
	{"B", "Inhibition of acetolactate synthase (ALS inhibitors)", []string{"Sulfonylureas", "Imidazolinones", "Triazolopyrimidines"}},
	{"C", "Inhibition of photosynthesis at PSII", []string{"Triazines", "Ureas", "Nitriles"}},
	{"D", "Inhibition of photosynthesis at PSI", []string{"Bipyridyliums"}},
	{"E", "Inhibition of protoporphyrinogen oxidase (PPO)", []string{"Diphenyl ethers", "Oxadiazoles"}},
	{"F", "Bleaching: Inhibition of carotenoid biosynthesis", []string{"Triketones", "Isoxazoles", "Pyridazinones"}},
	{"G", "Inhibition of EPSP synthase", []string{"Glycines (glyphosate)"}},
	{"H", "Inhibition of glutamine synthetase", []string{"Phosphinic acids (glufosinate)"}},
	{"I", "Inhibition of DHP synthase", []string{"Carbamates"}},
	{"J", "Inhibition of microtubule assembly", []string{"Dinitroanilines", "Benzamides"}},
	{"K", "Inhibition of cell division / VLCFA inhibitors", []string{"Chloroacetamides", "Oxyacetamides"}},
	{"L", "Inhibition of cell wall synthesis", []string{"Nitriles", "Benzamides"}},
	{"M", "Uncouplers", []string{"Dinitrophenols"}},
	{"N", "Inhibition of lipid synthesis (not ACCase)", []string{"Thiocarbamates", "Phosphorodithioates"}},
	{"O", "Synthetic auxins (IAA mimics)", []string{"Phenoxy acids", "Benzoic acids", "Pyridine carboxylic acids"}},
	{"P", "Inhibition of auxin transport", []string{"Phthalamates", "Semicarbazones"}},
	{"Q", "Unknown mode of action", []string{"Various"}},
	{"R", "Inhibition of dihydropteroate synthase", []string{"Sulfonamides"}},
	{"Z", "Unknown / not classified", []string{"Various"}},
}

// migrations is the ordered list of all schema migrations.
// New migrations are appended at the end; never modify existing entries.
var migrations = []migration{
	{
		version:     1,
		description: "initial schema (applied via schemaSQL)",
		apply:       func(tx *sql.Tx) error { return nil },
	},
	{
		version:     2,
		description: "seed states",
		apply: func(tx *sql.Tx) error {
			for _, st := range States {
				if _, err := tx.Exec(`
					INSERT INTO states (code, name) VALUES (?, ?)
					ON CONFLICT(code) DO UPDATE SET name = excluded.name
				`, st.Code, st.Name); err != nil {
					return fmt.Errorf("seeding state %s: %w", st.Code, err)
				}
			}
			return nil
		},
	},
	{
		version:     3,
		description: "seed mode of action groups",
		apply: func(tx *sql.Tx) error {
			for _, m := range ModesOfAction {
				if _, err := tx.Exec(`
					INSERT INTO modes_of_action (moa_group, description, chemical_classes) VALUES (?, ?, ?)
					ON CONFLICT(moa_group) DO UPDATE SET
						description = excluded.description,
						chemical_classes = excluded.chemical_classes
				`, m.Group, m.Description, encodeStrings(m.ChemicalClasses)); err != nil {
					return fmt.Errorf("seeding group %s: %w", m.Group, err)
				}
			}
			return nil
		},
	},
}

// Migrate runs all pending schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	row := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		slog.Info("store: applying migration", "version", m.version, "description", m.description)

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}

		if err := m.apply(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", m.version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_version (version, description) VALUES (?, ?)",
			m.version, m.description); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", m.version, err)
		}
	}

	return nil
}
