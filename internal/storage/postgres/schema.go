package postgres

import "github.com/nbursa/latent-journey-sub000/internal/storage"

var migrations = []storage.Migration{
	{
		Version: 1,
		Name:    "events",
		Up: `
CREATE TABLE IF NOT EXISTS events (
    ts DOUBLE PRECISION PRIMARY KEY,
    id TEXT NOT NULL,
    source TEXT NOT NULL,
    content TEXT NOT NULL DEFAULT '',
    facets JSONB NOT NULL DEFAULT '{}'::jsonb,
    tags JSONB NOT NULL DEFAULT '[]'::jsonb,
    embedding BYTEA,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_events_source ON events(source);
`,
		Down: `DROP TABLE IF EXISTS events;`,
	},
	{
		Version: 2,
		Name:    "embeddings",
		Up: `
CREATE TABLE IF NOT EXISTS embeddings (
    ts DOUBLE PRECISION PRIMARY KEY REFERENCES events(ts) ON DELETE CASCADE,
    vector BYTEA NOT NULL,
    dimension INTEGER NOT NULL,
    confidence DOUBLE PRECISION NOT NULL,
    source TEXT NOT NULL,
    origin TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_embeddings_origin ON embeddings(origin);
`,
		Down: `DROP TABLE IF EXISTS embeddings;`,
	},
}

// migrationPgvector adds the vector column used by Nearest. Applied only
// when the vector extension could be created. Embeddings are always
// 128-dimensional, so the column is typed and indexable.
const migrationPgvector = `
DO $$
BEGIN
    IF NOT EXISTS (
        SELECT 1 FROM information_schema.columns
        WHERE table_name = 'embeddings' AND column_name = 'embedding_vec'
    ) THEN
        ALTER TABLE embeddings ADD COLUMN embedding_vec vector(128);
    END IF;
END
$$;

CREATE INDEX IF NOT EXISTS idx_embeddings_vec_cosine
    ON embeddings USING hnsw (embedding_vec vector_cosine_ops);
`
