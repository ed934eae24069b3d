package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// --- Document operations ---

// UpsertDocument merges a document node on its product number.
func (s *Store) UpsertDocument(ctx context.Context, doc Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (product_number, source_file, chunk_count, loaded_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(product_number) DO UPDATE SET
			source_file = excluded.source_file,
			chunk_count = excluded.chunk_count,
			loaded_at = CURRENT_TIMESTAMP
	`, doc.ProductNumber, doc.SourceFile, doc.ChunkCount)
	return err
}

// GetDocument returns the document for a product, or nil when none is loaded.
func (s *Store) GetDocument(ctx context.Context, productNumber string) (*Document, error) {
	doc := &Document{}
	err := s.db.QueryRowContext(ctx, `
		SELECT product_number, source_file, chunk_count, loaded_at
		FROM documents WHERE product_number = ?
	`, productNumber).Scan(&doc.ProductNumber, &doc.SourceFile, &doc.ChunkCount, &doc.LoadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// LinkLabel creates the HAS_LABEL edge between a herbicide and the
// document of the same product. It reports whether both nodes exist;
// a missing side is not an error.
func (s *Store) LinkLabel(ctx context.Context, productNumber string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO has_label (herbicide, document)
		SELECT h.product_number, d.product_number
		FROM herbicides h
		JOIN documents d ON d.product_number = h.product_number
		WHERE h.product_number = ?
		ON CONFLICT(herbicide, document) DO NOTHING
	`, productNumber)
	if err != nil {
		return false, fmt.Errorf("linking label %s: %w", productNumber, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}
	var exists bool
	err = s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM has_label WHERE herbicide = ?)", productNumber).Scan(&exists)
	return exists, err
}

// --- Chunk operations ---

// UpsertChunk merges a chunk on its chunk_id and replaces its embedding.
// The chunk's outgoing NEXT edge and its MENTIONS are cleared so that the
// caller can re-create them for this load.
func (s *Store) UpsertChunk(ctx context.Context, c Chunk, embedding []float32) error {
	if embedding != nil && len(embedding) != s.embeddingDim {
		return fmt.Errorf("%w: chunk %s has %d, index expects %d",
			ErrDimensionMismatch, c.ChunkID, len(embedding), s.embeddingDim)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		var rowid int64
		err := tx.QueryRowContext(ctx, `
			INSERT INTO chunks (chunk_id, product_number, text, chunk_type, sequence_order,
				parent_section, table_id, row_count, column_count, headers, page_number, source_file)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(chunk_id) DO UPDATE SET
				product_number = excluded.product_number,
				text = excluded.text,
				chunk_type = excluded.chunk_type,
				sequence_order = excluded.sequence_order,
				parent_section = excluded.parent_section,
				table_id = excluded.table_id,
				row_count = excluded.row_count,
				column_count = excluded.column_count,
				headers = excluded.headers,
				page_number = excluded.page_number,
				source_file = excluded.source_file
			RETURNING id
		`, c.ChunkID, c.ProductNumber, c.Text, c.ChunkType, c.SequenceOrder,
			nullString(c.ParentSection), c.TableID, c.RowCount, c.ColumnCount,
			encodeStrings(c.Headers), nullInt(c.PageNumber), c.SourceFile).Scan(&rowid)
		if err != nil {
			return fmt.Errorf("upserting chunk %s: %w", c.ChunkID, err)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM next_edges WHERE from_chunk = ?", c.ChunkID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM mentions WHERE chunk_id = ?", c.ChunkID); err != nil {
			return err
		}

		if embedding == nil {
			return nil
		}
		// vec0 has no upsert; replace the row explicitly.
		if _, err := tx.ExecContext(ctx, "DELETE FROM vec_chunks WHERE chunk_rowid = ?", rowid); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO vec_chunks (chunk_rowid, embedding) VALUES (?, ?)",
			rowid, serializeFloat32(embedding)); err != nil {
			return fmt.Errorf("inserting embedding for %s: %w", c.ChunkID, err)
		}
		return nil
	})
}

// GetChunk returns a chunk by its chunk_id, or nil when it does not exist.
func (s *Store) GetChunk(ctx context.Context, chunkID string) (*Chunk, error) {
	var c Chunk
	row := s.db.QueryRowContext(ctx, "SELECT "+chunkColumns+" FROM chunks c WHERE c.chunk_id = ?", chunkID)
	if err := scanChunk(row, &c); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// ChunksByProduct returns a document's chunks in sequence order.
func (s *Store) ChunksByProduct(ctx context.Context, productNumber string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+chunkColumns+" FROM chunks c WHERE c.product_number = ? ORDER BY c.sequence_order",
		productNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := scanChunk(rows, &c); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// PruneChunks deletes the product's chunks whose ids are not in keep,
// together with their embeddings and edges. Returns the number removed.
func (s *Store) PruneChunks(ctx context.Context, productNumber string, keep []string) (int, error) {
	where := "product_number = ?"
	args := []any{productNumber}
	if len(keep) > 0 {
		where += " AND chunk_id NOT IN (" + placeholders(len(keep)) + ")"
		for _, id := range keep {
			args = append(args, id)
		}
	}

	var removed int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM vec_chunks WHERE chunk_rowid IN (SELECT id FROM chunks WHERE "+where+")",
			args...); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE "+where, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		removed = int(n)
		return err
	})
	return removed, err
}

// --- Edge operations ---

// LinkNext merges the NEXT edge from one chunk to the following chunk.
func (s *Store) LinkNext(ctx context.Context, fromChunk, toChunk string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO next_edges (from_chunk, to_chunk) VALUES (?, ?)
		ON CONFLICT(from_chunk) DO UPDATE SET to_chunk = excluded.to_chunk
	`, fromChunk, toChunk)
	return err
}

// LinkWeedMentions merges MENTIONS edges from a chunk to every weed whose
// common or display name contains key, ignoring case and spaces. Returns
// the number of weeds matched.
func (s *Store) LinkWeedMentions(ctx context.Context, chunkID, key string) (int, error) {
	return s.linkMentions(ctx, chunkID, "weed", `
		SELECT common_name FROM weeds
		WHERE replace(lower(common_name), ' ', '') LIKE '%' || ? || '%' ESCAPE '\'
		   OR replace(lower(COALESCE(display_name, '')), ' ', '') LIKE '%' || ? || '%' ESCAPE '\'
	`, key)
}

// LinkCropMentions is the crop counterpart of LinkWeedMentions.
func (s *Store) LinkCropMentions(ctx context.Context, chunkID, key string) (int, error) {
	return s.linkMentions(ctx, chunkID, "crop", `
		SELECT name FROM crops
		WHERE replace(lower(name), ' ', '') LIKE '%' || ? || '%' ESCAPE '\'
		   OR replace(lower(COALESCE(display_name, '')), ' ', '') LIKE '%' || ? || '%' ESCAPE '\'
	`, key)
}

func (s *Store) linkMentions(ctx context.Context, chunkID, entityType, match, key string) (int, error) {
	term := likeTerm(key)
	if term == "" {
		return 0, nil
	}

	var matched int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, match, term, term)
		if err != nil {
			return err
		}
		var names []string
		for rows.Next() {
			var n string
			if err := rows.Scan(&n); err != nil {
				rows.Close()
				return err
			}
			names = append(names, n)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, n := range names {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO mentions (chunk_id, entity_type, entity_name) VALUES (?, ?, ?)
				ON CONFLICT DO NOTHING
			`, chunkID, entityType, n); err != nil {
				return err
			}
		}
		matched = len(names)
		return nil
	})
	return matched, err
}

// EntityNames returns every weed and crop name in the catalog. Used to
// extend the linker's pattern lists.
func (s *Store) EntityNames(ctx context.Context) (weeds, crops []string, err error) {
	weeds, err = s.names(ctx, "SELECT common_name FROM weeds ORDER BY common_name")
	if err != nil {
		return nil, nil, err
	}
	crops, err = s.names(ctx, "SELECT name FROM crops ORDER BY name")
	if err != nil {
		return nil, nil, err
	}
	return weeds, crops, nil
}

func (s *Store) names(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n != 0}
}
