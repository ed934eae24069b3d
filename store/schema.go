package store

import "fmt"

// schemaSQL returns the DDL for all tables. embeddingDim controls the
// vec0 virtual table dimension.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- Entity nodes keyed by their natural keys
CREATE TABLE IF NOT EXISTS herbicides (
    product_number TEXT PRIMARY KEY,
    product_name TEXT NOT NULL DEFAULT '',
    active_constituent TEXT,
    chemical_group TEXT,
    withholding_period TEXT,
    application_methods JSON,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS active_constituents (
    name TEXT PRIMARY KEY,
    chemical_group TEXT
);

CREATE TABLE IF NOT EXISTS modes_of_action (
    moa_group TEXT PRIMARY KEY,
    description TEXT NOT NULL DEFAULT '',
    chemical_classes JSON
);

CREATE TABLE IF NOT EXISTS crops (
    name TEXT PRIMARY KEY,
    display_name TEXT
);

CREATE TABLE IF NOT EXISTS weeds (
    common_name TEXT PRIMARY KEY,
    display_name TEXT,
    scientific_name TEXT
);

CREATE TABLE IF NOT EXISTS states (
    code TEXT PRIMARY KEY,
    name TEXT NOT NULL
);

-- Entity relationships
CREATE TABLE IF NOT EXISTS herbicide_actives (
    product_number TEXT NOT NULL REFERENCES herbicides(product_number) ON DELETE CASCADE,
    active_name TEXT NOT NULL REFERENCES active_constituents(name) ON DELETE CASCADE,
    PRIMARY KEY (product_number, active_name)
);

CREATE TABLE IF NOT EXISTS herbicide_moa (
    product_number TEXT NOT NULL REFERENCES herbicides(product_number) ON DELETE CASCADE,
    moa_group TEXT NOT NULL REFERENCES modes_of_action(moa_group),
    PRIMARY KEY (product_number, moa_group)
);

CREATE TABLE IF NOT EXISTS herbicide_crops (
    product_number TEXT NOT NULL REFERENCES herbicides(product_number) ON DELETE CASCADE,
    crop_name TEXT NOT NULL REFERENCES crops(name) ON DELETE CASCADE,
    PRIMARY KEY (product_number, crop_name)
);

CREATE TABLE IF NOT EXISTS herbicide_states (
    product_number TEXT NOT NULL REFERENCES herbicides(product_number) ON DELETE CASCADE,
    state_code TEXT NOT NULL REFERENCES states(code),
    PRIMARY KEY (product_number, state_code)
);

-- CONTROLS is keyed per crop
CREATE TABLE IF NOT EXISTS controls (
    id INTEGER PRIMARY KEY,
    product_number TEXT NOT NULL REFERENCES herbicides(product_number) ON DELETE CASCADE,
    weed_name TEXT NOT NULL REFERENCES weeds(common_name) ON DELETE CASCADE,
    crop TEXT NOT NULL,
    rate_per_ha TEXT,
    application_timing TEXT,
    control_level TEXT DEFAULT 'control',
    critical_comments TEXT,
    states JSON,
    UNIQUE (product_number, weed_name, crop)
);

-- Label documents and their chunks
CREATE TABLE IF NOT EXISTS documents (
    product_number TEXT PRIMARY KEY,
    source_file TEXT NOT NULL,
    chunk_count INTEGER NOT NULL DEFAULT 0,
    loaded_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS has_label (
    herbicide TEXT NOT NULL REFERENCES herbicides(product_number) ON DELETE CASCADE,
    document TEXT NOT NULL REFERENCES documents(product_number) ON DELETE CASCADE,
    PRIMARY KEY (herbicide, document)
);

CREATE TABLE IF NOT EXISTS chunks (
    id INTEGER PRIMARY KEY,
    chunk_id TEXT NOT NULL UNIQUE,
    product_number TEXT NOT NULL REFERENCES documents(product_number) ON DELETE CASCADE,
    text TEXT NOT NULL,
    chunk_type TEXT NOT NULL,
    sequence_order INTEGER NOT NULL,
    parent_section TEXT,
    table_id TEXT,
    row_count INTEGER NOT NULL DEFAULT 0,
    column_count INTEGER NOT NULL DEFAULT 0,
    headers JSON,
    page_number INTEGER,
    source_file TEXT
);

-- Chunk embeddings via sqlite-vec, keyed by chunks.id
CREATE VIRTUAL TABLE IF NOT EXISTS vec_chunks USING vec0(
    chunk_rowid INTEGER PRIMARY KEY,
    embedding float[%d] distance_metric=cosine
);

-- NEXT: one outgoing edge per chunk
CREATE TABLE IF NOT EXISTS next_edges (
    from_chunk TEXT PRIMARY KEY REFERENCES chunks(chunk_id) ON DELETE CASCADE,
    to_chunk TEXT NOT NULL REFERENCES chunks(chunk_id) ON DELETE CASCADE
);

-- MENTIONS: chunk to weed/crop lookups
CREATE TABLE IF NOT EXISTS mentions (
    chunk_id TEXT NOT NULL REFERENCES chunks(chunk_id) ON DELETE CASCADE,
    entity_type TEXT NOT NULL CHECK (entity_type IN ('weed', 'crop')),
    entity_name TEXT NOT NULL,
    PRIMARY KEY (chunk_id, entity_type, entity_name)
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_herbicides_name ON herbicides(product_name);
CREATE INDEX IF NOT EXISTS idx_weeds_scientific ON weeds(scientific_name);
CREATE INDEX IF NOT EXISTS idx_actives_group ON active_constituents(chemical_group);
CREATE INDEX IF NOT EXISTS idx_controls_weed ON controls(weed_name);
CREATE INDEX IF NOT EXISTS idx_chunks_product ON chunks(product_number, sequence_order);
CREATE INDEX IF NOT EXISTS idx_chunks_type ON chunks(chunk_type);
CREATE INDEX IF NOT EXISTS idx_next_to ON next_edges(to_chunk);
CREATE INDEX IF NOT EXISTS idx_mentions_entity ON mentions(entity_type, entity_name);
`, embeddingDim)
}
