package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// MaxK is the largest k the vec0 KNN query accepts.
const MaxK = 4096

// productJoin resolves a chunk's product name through its document's
// HAS_LABEL edge.
const productJoin = `
	LEFT JOIN has_label hl ON hl.document = c.product_number
	LEFT JOIN herbicides h ON h.product_number = hl.herbicide`

// VectorFilter narrows a vector search. Empty fields do not filter.
type VectorFilter struct {
	ChunkType string
	Product   string
}

// ChunkNeighbours holds the chunks one NEXT hop either side of a chunk.
type ChunkNeighbours struct {
	ChunkID  string `json:"chunk_id"`
	Previous *Chunk `json:"previous,omitempty"`
	Next     *Chunk `json:"next,omitempty"`
}

// Mention aggregates the MENTIONS edges pointing at one entity.
type Mention struct {
	EntityType string   `json:"entity_type"`
	EntityName string   `json:"entity_name"`
	ChunkIDs   []string `json:"chunk_ids"`
}

// HerbicideControl is a CONTROLS record reached from a chunk's label.
type HerbicideControl struct {
	Herbicide         string `json:"herbicide"`
	ProductNumber     string `json:"product_number"`
	ActiveConstituent string `json:"active_constituent,omitempty"`
	MOAGroup          string `json:"moa_group,omitempty"`
	Weed              string `json:"weed"`
	Crop              string `json:"crop"`
	Rate              string `json:"rate,omitempty"`
}

// --- Vector search ---

// VectorSearch returns the k chunks nearest to the query embedding by
// cosine distance. Score is 1 - distance. With a filter the search is an
// exact scan over the matching chunks, so filtered results are never
// starved by the KNN limit.
func (s *Store) VectorSearch(ctx context.Context, queryEmbedding []float32, k int, filter VectorFilter) ([]SearchResult, error) {
	if len(queryEmbedding) != s.embeddingDim {
		return nil, fmt.Errorf("%w: query has %d, index expects %d",
			ErrDimensionMismatch, len(queryEmbedding), s.embeddingDim)
	}
	if k <= 0 {
		return nil, nil
	}
	if k > MaxK {
		k = MaxK
	}

	var rows *sql.Rows
	var err error
	if filter.ChunkType == "" && filter.Product == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+chunkColumns+`, v.distance, COALESCE(h.product_name, '')
			FROM vec_chunks v
			JOIN chunks c ON c.id = v.chunk_rowid`+productJoin+`
			WHERE v.embedding MATCH ? AND k = ?
			ORDER BY v.distance
		`, serializeFloat32(queryEmbedding), k)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+chunkColumns+`, vec_distance_cosine(v.embedding, ?) AS distance, COALESCE(h.product_name, '')
			FROM chunks c
			JOIN vec_chunks v ON v.chunk_rowid = c.id`+productJoin+`
			WHERE (? = '' OR c.chunk_type = ?)
			  AND (? = '' OR c.product_number = ?)
			ORDER BY distance
			LIMIT ?
		`, serializeFloat32(queryEmbedding),
			filter.ChunkType, filter.ChunkType, filter.Product, filter.Product, k)
	}
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var distance float64
		if err := scanChunk(rows, &r.Chunk, &distance, &r.ProductName); err != nil {
			return nil, err
		}
		r.Score = 1.0 - distance
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- Graph expansion ---

// Neighbours returns the previous and next chunk of each given chunk.
func (s *Store) Neighbours(ctx context.Context, chunkIDs []string) ([]ChunkNeighbours, error) {
	out := make([]ChunkNeighbours, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		prev, err := s.adjacent(ctx, `
			SELECT `+chunkColumns+` FROM next_edges n
			JOIN chunks c ON c.chunk_id = n.from_chunk
			WHERE n.to_chunk = ?`, id)
		if err != nil {
			return nil, fmt.Errorf("previous of %s: %w", id, err)
		}
		next, err := s.adjacent(ctx, `
			SELECT `+chunkColumns+` FROM next_edges n
			JOIN chunks c ON c.chunk_id = n.to_chunk
			WHERE n.from_chunk = ?`, id)
		if err != nil {
			return nil, fmt.Errorf("next of %s: %w", id, err)
		}
		out = append(out, ChunkNeighbours{ChunkID: id, Previous: prev, Next: next})
	}
	return out, nil
}

func (s *Store) adjacent(ctx context.Context, query, id string) (*Chunk, error) {
	var c Chunk
	if err := scanChunk(s.db.QueryRowContext(ctx, query, id), &c); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// Mentions aggregates the entities mentioned by the given chunks.
func (s *Store) Mentions(ctx context.Context, chunkIDs []string) ([]Mention, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_type, entity_name, json_group_array(chunk_id)
		FROM mentions
		WHERE chunk_id IN (`+placeholders(len(chunkIDs))+`)
		GROUP BY entity_type, entity_name
		ORDER BY entity_type, entity_name
	`, stringArgs(chunkIDs)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Mention
	for rows.Next() {
		var m Mention
		var ids string
		if err := rows.Scan(&m.EntityType, &m.EntityName, &ids); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(ids), &m.ChunkIDs); err != nil {
			return nil, fmt.Errorf("decoding mention chunk ids: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// HerbicideControls follows Document <- HAS_LABEL <- Herbicide -> CONTROLS
// from the given chunks and returns up to limit control records.
func (s *Store) HerbicideControls(ctx context.Context, chunkIDs []string, limit int) ([]HerbicideControl, error) {
	if len(chunkIDs) == 0 || limit <= 0 {
		return nil, nil
	}
	args := append(stringArgs(chunkIDs), limit)
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT h.product_name, h.product_number, COALESCE(h.active_constituent, ''),
			COALESCE(hm.moa_group, ''), ct.weed_name, ct.crop, COALESCE(ct.rate_per_ha, '')
		FROM chunks c
		JOIN has_label hl ON hl.document = c.product_number
		JOIN herbicides h ON h.product_number = hl.herbicide
		JOIN controls ct ON ct.product_number = h.product_number
		LEFT JOIN herbicide_moa hm ON hm.product_number = h.product_number
		WHERE c.chunk_id IN (`+placeholders(len(chunkIDs))+`)
		ORDER BY h.product_name, ct.weed_name, ct.crop
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HerbicideControl
	for rows.Next() {
		var hc HerbicideControl
		if err := rows.Scan(&hc.Herbicide, &hc.ProductNumber, &hc.ActiveConstituent,
			&hc.MOAGroup, &hc.Weed, &hc.Crop, &hc.Rate); err != nil {
			return nil, err
		}
		out = append(out, hc)
	}
	return out, rows.Err()
}

// --- Context window ---

// Window walks up to hops NEXT edges either side of a chunk. The center is
// nil when the chunk does not exist.
func (s *Store) Window(ctx context.Context, chunkID string, hops int) (before []Chunk, center *Chunk, after []Chunk, err error) {
	center, err = s.GetChunk(ctx, chunkID)
	if err != nil || center == nil {
		return nil, nil, nil, err
	}

	after, err = s.walk(ctx, `
		WITH RECURSIVE walk(chunk_id, depth) AS (
			SELECT to_chunk, 1 FROM next_edges WHERE from_chunk = ?
			UNION ALL
			SELECT n.to_chunk, w.depth + 1 FROM next_edges n
			JOIN walk w ON n.from_chunk = w.chunk_id
			WHERE w.depth < ?
		)
		SELECT `+chunkColumns+` FROM walk JOIN chunks c ON c.chunk_id = walk.chunk_id
		ORDER BY walk.depth
	`, chunkID, hops)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("walking forward: %w", err)
	}

	before, err = s.walk(ctx, `
		WITH RECURSIVE walk(chunk_id, depth) AS (
			SELECT from_chunk, 1 FROM next_edges WHERE to_chunk = ?
			UNION ALL
			SELECT n.from_chunk, w.depth + 1 FROM next_edges n
			JOIN walk w ON n.to_chunk = w.chunk_id
			WHERE w.depth < ?
		)
		SELECT `+chunkColumns+` FROM walk JOIN chunks c ON c.chunk_id = walk.chunk_id
		ORDER BY walk.depth DESC
	`, chunkID, hops)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("walking backward: %w", err)
	}
	return before, center, after, nil
}

func (s *Store) walk(ctx context.Context, query, chunkID string, hops int) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, query, chunkID, hops)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		if err := scanChunk(rows, &c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- Entity-anchored lookups ---

// ChunksMentioning returns chunks with a MENTIONS edge to an entity whose
// name contains name, ignoring case and spaces.
func (s *Store) ChunksMentioning(ctx context.Context, entityType, name string, limit int) ([]SearchResult, error) {
	return s.searchChunks(ctx, `
		SELECT DISTINCT `+chunkColumns+`, COALESCE(h.product_name, '')
		FROM mentions m
		JOIN chunks c ON c.chunk_id = m.chunk_id`+productJoin+`
		WHERE m.entity_type = ?
		  AND replace(lower(m.entity_name), ' ', '') LIKE '%' || ? || '%' ESCAPE '\'
		ORDER BY c.product_number, c.sequence_order
		LIMIT ?
	`, entityType, likeTerm(name), limit)
}

// ChunksContaining returns chunks whose text contains term, ignoring case.
func (s *Store) ChunksContaining(ctx context.Context, term string, limit int) ([]SearchResult, error) {
	return s.searchChunks(ctx, `
		SELECT `+chunkColumns+`, COALESCE(h.product_name, '')
		FROM chunks c`+productJoin+`
		WHERE lower(c.text) LIKE '%' || ? || '%' ESCAPE '\'
		ORDER BY c.product_number, c.sequence_order
		LIMIT ?
	`, likePattern(term), limit)
}

func (s *Store) searchChunks(ctx context.Context, query string, args ...any) ([]SearchResult, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := scanChunk(rows, &r.Chunk, &r.ProductName); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func stringArgs(v []string) []any {
	args := make([]any, len(v))
	for i, s := range v {
		args[i] = s
	}
	return args
}
