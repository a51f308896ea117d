// Package sqlite provides the SQLite event log used for offline operation.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nbursa/latent-journey-sub000/internal/storage"
	"github.com/nbursa/latent-journey-sub000/pkg/types"
)

// maxLimit caps Recent and Since.
const maxLimit = 10000

const eventColumns = `ts, id, source, content, facets, tags, embedding`

// EventStore implements storage.EventLog using SQLite.
type EventStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ storage.EventLog = (*EventStore)(nil)

// NewEventStore opens (or creates) the database at dsn and migrates it. If
// the open fails because of stale WAL files left by a crashed process, the
// files are removed and the open retried once.
func NewEventStore(ctx context.Context, dsn string, logger *slog.Logger) (*EventStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := openEventStore(ctx, dsn, logger)
	if err == nil {
		return store, nil
	}
	if !isRecoverableWALError(err) {
		return nil, err
	}

	dbPath := dbPathFromDSN(dsn)
	if dbPath == "" || !isWALStale(dbPath) {
		return nil, err
	}
	removeStaleWAL(dbPath, logger)

	store, retryErr := openEventStore(ctx, dsn, logger)
	if retryErr != nil {
		return nil, goerr.Wrap(retryErr, "open after WAL recovery", goerr.V("original", err.Error()))
	}
	logger.Warn("sqlite: recovered from stale WAL files", "path", dbPath)
	return store, nil
}

func openEventStore(ctx context.Context, dsn string, logger *slog.Logger) (*EventStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, goerr.Wrap(err, "open database", goerr.V("dsn", dsn))
	}

	// One writer at a time; WAL lets readers proceed alongside it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, goerr.Wrap(err, "configure database", goerr.V("pragma", pragma))
		}
	}

	migrator, err := storage.NewMigrator(ctx, db, storage.DialectSQLite, migrations)
	if err != nil {
		db.Close()
		return nil, err
	}
	applied, err := migrator.Up(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}
	if applied > 0 {
		logger.Debug("sqlite: applied migrations", "count", applied)
	}

	return &EventStore{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *EventStore) Close() error {
	return s.db.Close()
}

// Append inserts events in one transaction; existing timestamps are skipped.
func (s *EventStore) Append(ctx context.Context, events ...types.MemoryEvent) (int, error) {
	for _, ev := range events {
		if err := storage.ValidateEvent(ev); err != nil {
			return 0, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, goerr.Wrap(err, "begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ts) DO NOTHING
	`)
	if err != nil {
		return 0, goerr.Wrap(err, "prepare insert")
	}
	defer stmt.Close()

	inserted := 0
	for _, ev := range events {
		ev = storage.EnsureID(ev)
		facets, tags, err := encodeEvent(ev)
		if err != nil {
			return 0, err
		}
		var vec []byte
		if ev.HasEmbedding() {
			vec = storage.EncodeVector(ev.Embedding)
		}

		res, err := stmt.ExecContext(ctx, ev.Timestamp, ev.ID, string(ev.Source), ev.Content, facets, tags, vec)
		if err != nil {
			return 0, goerr.Wrap(err, "insert event", goerr.V("ts", ev.Timestamp))
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, goerr.Wrap(err, "commit events")
	}
	return inserted, nil
}

// Recent returns up to limit events, newest first.
func (s *EventStore) Recent(ctx context.Context, limit int) ([]types.MemoryEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events ORDER BY ts DESC LIMIT ?`,
		storage.ClampLimit(limit, maxLimit))
	if err != nil {
		return nil, goerr.Wrap(err, "query recent events")
	}
	return scanEvents(rows)
}

// Since returns the oldest limit events after ts, ordered newest first.
func (s *EventStore) Since(ctx context.Context, ts float64, limit int) ([]types.MemoryEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE ts > ? ORDER BY ts ASC LIMIT ?`,
		ts, storage.ClampLimit(limit, maxLimit))
	if err != nil {
		return nil, goerr.Wrap(err, "query events since", goerr.V("ts", ts))
	}
	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	reverse(events)
	return events, nil
}

// Get returns the event at ts.
func (s *EventStore) Get(ctx context.Context, ts float64) (types.MemoryEvent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM events WHERE ts = ?`, ts)
	if err != nil {
		return types.MemoryEvent{}, goerr.Wrap(err, "query event", goerr.V("ts", ts))
	}
	events, err := scanEvents(rows)
	if err != nil {
		return types.MemoryEvent{}, err
	}
	if len(events) == 0 {
		return types.MemoryEvent{}, goerr.Wrap(storage.ErrNotFound, "get event", goerr.V("ts", ts))
	}
	return events[0], nil
}

// Count returns the number of stored events.
func (s *EventStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, goerr.Wrap(err, "count events")
	}
	return n, nil
}

// StoreEmbedding upserts emb for the event at emb.Timestamp.
func (s *EventStore) StoreEmbedding(ctx context.Context, emb types.Embedding) error {
	if err := storage.ValidateEmbedding(emb); err != nil {
		return err
	}

	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM events WHERE ts = ?`, emb.Timestamp).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return goerr.Wrap(storage.ErrNotFound, "store embedding for unknown event", goerr.V("ts", emb.Timestamp))
	}
	if err != nil {
		return goerr.Wrap(err, "look up event", goerr.V("ts", emb.Timestamp))
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO embeddings (ts, vector, dimension, confidence, source, origin, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(ts) DO UPDATE SET
			vector = excluded.vector,
			dimension = excluded.dimension,
			confidence = excluded.confidence,
			source = excluded.source,
			origin = excluded.origin,
			updated_at = CURRENT_TIMESTAMP
	`, emb.Timestamp, storage.EncodeVector(emb.Vector), len(emb.Vector), emb.Confidence, string(emb.Source), string(emb.Origin))
	if err != nil {
		return goerr.Wrap(err, "store embedding", goerr.V("ts", emb.Timestamp))
	}
	return nil
}

// GetEmbedding returns the stored embedding for ts.
func (s *EventStore) GetEmbedding(ctx context.Context, ts float64) (types.Embedding, error) {
	var (
		blob       []byte
		dimension  int
		confidence float64
		source     string
		origin     string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT vector, dimension, confidence, source, origin FROM embeddings WHERE ts = ?`, ts,
	).Scan(&blob, &dimension, &confidence, &source, &origin)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Embedding{}, goerr.Wrap(storage.ErrNotFound, "get embedding", goerr.V("ts", ts))
	}
	if err != nil {
		return types.Embedding{}, goerr.Wrap(err, "query embedding", goerr.V("ts", ts))
	}

	vec, err := storage.DecodeVector(blob, dimension)
	if err != nil {
		return types.Embedding{}, goerr.Wrap(err, "decode embedding", goerr.V("ts", ts))
	}
	return types.Embedding{
		Vector:     vec,
		Confidence: confidence,
		Source:     types.Source(source),
		Timestamp:  ts,
		Origin:     types.Origin(origin),
	}, nil
}

func encodeEvent(ev types.MemoryEvent) (facets, tags string, err error) {
	f, err := json.Marshal(ev.Facets)
	if err != nil {
		return "", "", goerr.Wrap(err, "encode facets", goerr.V("ts", ev.Timestamp))
	}
	t := ev.Tags
	if t == nil {
		t = []string{}
	}
	tb, err := json.Marshal(t)
	if err != nil {
		return "", "", goerr.Wrap(err, "encode tags", goerr.V("ts", ev.Timestamp))
	}
	return string(f), string(tb), nil
}

func scanEvents(rows *sql.Rows) ([]types.MemoryEvent, error) {
	defer rows.Close()

	var events []types.MemoryEvent
	for rows.Next() {
		var (
			ev             types.MemoryEvent
			source         string
			facets, tags   string
			embeddingBytes []byte
		)
		if err := rows.Scan(&ev.Timestamp, &ev.ID, &source, &ev.Content, &facets, &tags, &embeddingBytes); err != nil {
			return nil, goerr.Wrap(err, "scan event")
		}
		ev.Source = types.Source(source)
		if err := json.Unmarshal([]byte(facets), &ev.Facets); err != nil {
			return nil, goerr.Wrap(err, "decode facets", goerr.V("ts", ev.Timestamp))
		}
		if err := json.Unmarshal([]byte(tags), &ev.Tags); err != nil {
			return nil, goerr.Wrap(err, "decode tags", goerr.V("ts", ev.Timestamp))
		}
		if len(ev.Tags) == 0 {
			ev.Tags = nil
		}
		if len(embeddingBytes) > 0 {
			vec, err := storage.DecodeVector(embeddingBytes, len(embeddingBytes)/8)
			if err != nil {
				return nil, goerr.Wrap(err, "decode event embedding", goerr.V("ts", ev.Timestamp))
			}
			ev.Embedding = vec
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "iterate events")
	}
	return events, nil
}

func reverse(events []types.MemoryEvent) {
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
}
