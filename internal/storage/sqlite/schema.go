package sqlite

import "github.com/nbursa/latent-journey-sub000/internal/storage"

// migrations builds the event log schema. Timestamps are the identity key.
var migrations = []storage.Migration{
	{
		Version: 1,
		Name:    "events",
		Up: `
CREATE TABLE IF NOT EXISTS events (
    ts REAL PRIMARY KEY,
    id TEXT NOT NULL,
    source TEXT NOT NULL,
    content TEXT NOT NULL DEFAULT '',
    facets TEXT NOT NULL DEFAULT '{}',
    tags TEXT NOT NULL DEFAULT '[]',
    embedding BLOB,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
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
    ts REAL PRIMARY KEY REFERENCES events(ts) ON DELETE CASCADE,
    vector BLOB NOT NULL,
    dimension INTEGER NOT NULL,
    confidence REAL NOT NULL,
    source TEXT NOT NULL,
    origin TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_embeddings_origin ON embeddings(origin);
`,
		Down: `DROP TABLE IF EXISTS embeddings;`,
	},
}
