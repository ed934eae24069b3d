package store

import (
	"context"
	"fmt"
)

// GraphStats holds node and relationship counts per label.
type GraphStats struct {
	Nodes         map[string]int `json:"nodes"`
	Relationships map[string]int `json:"relationships"`
	Embeddings    int            `json:"embeddings"`
}

// Stats counts every node label and relationship type in the graph.
func (s *Store) Stats(ctx context.Context) (*GraphStats, error) {
	stats := &GraphStats{
		Nodes:         make(map[string]int),
		Relationships: make(map[string]int),
	}

	nodes := []struct {
		label string
		query string
	}{
		{"Herbicide", "SELECT COUNT(*) FROM herbicides"},
		{"Crop", "SELECT COUNT(*) FROM crops"},
		{"Weed", "SELECT COUNT(*) FROM weeds"},
		{"ActiveConstituent", "SELECT COUNT(*) FROM active_constituents"},
		{"ModeOfAction", "SELECT COUNT(*) FROM modes_of_action"},
		{"State", "SELECT COUNT(*) FROM states"},
		{"Document", "SELECT COUNT(*) FROM documents"},
		{"Chunk", "SELECT COUNT(*) FROM chunks"},
	}
	rels := []struct {
		label string
		query string
	}{
		{"CONTROLS", "SELECT COUNT(*) FROM controls"},
		{"REGISTERED_FOR", "SELECT COUNT(*) FROM herbicide_crops"},
		{"CONTAINS", "SELECT COUNT(*) FROM herbicide_actives"},
		{"HAS_MODE_OF_ACTION", "SELECT COUNT(*) FROM herbicide_moa"},
		{"REGISTERED_IN", "SELECT COUNT(*) FROM herbicide_states"},
		{"HAS_LABEL", "SELECT COUNT(*) FROM has_label"},
		{"NEXT", "SELECT COUNT(*) FROM next_edges"},
		{"MENTIONS", "SELECT COUNT(*) FROM mentions"},
	}

	for _, q := range nodes {
		var n int
		if err := s.db.QueryRowContext(ctx, q.query).Scan(&n); err != nil {
			return nil, fmt.Errorf("counting %s: %w", q.label, err)
		}
		stats.Nodes[q.label] = n
	}
	for _, q := range rels {
		var n int
		if err := s.db.QueryRowContext(ctx, q.query).Scan(&n); err != nil {
			return nil, fmt.Errorf("counting %s: %w", q.label, err)
		}
		stats.Relationships[q.label] = n
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM vec_chunks").Scan(&stats.Embeddings); err != nil {
		return nil, fmt.Errorf("counting embeddings: %w", err)
	}
	return stats, nil
}
