package storage

import (
	"context"
	"database/sql"
	"sort"

	"github.com/m-mizutani/goerr/v2"
)

// Migration is one schema step. Up and Down may each hold several
// statements.
type Migration struct {
	Version uint
	Name    string
	Up      string
	Down    string
}

// Dialect selects the bind parameter style of the schema_migrations queries.
type Dialect int

const (
	// DialectSQLite uses ? placeholders.
	DialectSQLite Dialect = iota
	// DialectPostgres uses $1 placeholders.
	DialectPostgres
)

// Migrator applies versioned migrations, tracking the current version in a
// schema_migrations table.
type Migrator struct {
	db         *sql.DB
	dialect    Dialect
	migrations []Migration
}

// NewMigrator creates a migrator and ensures the tracking table exists.
func NewMigrator(ctx context.Context, db *sql.DB, dialect Dialect, migrations []Migration) (*Migrator, error) {
	if db == nil {
		return nil, goerr.New("migrations: database connection is required")
	}

	sorted := append([]Migration(nil), migrations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	m := &Migrator{db: db, dialect: dialect, migrations: sorted}
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return nil, goerr.Wrap(err, "migrations: create schema table")
	}
	return m, nil
}

func (m *Migrator) bind(query string) string {
	if m.dialect == DialectPostgres {
		return replacePlaceholder(query)
	}
	return query
}

// replacePlaceholder turns the single ? of the tracking queries into $1.
func replacePlaceholder(query string) string {
	out := make([]byte, 0, len(query)+1)
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			out = append(out, '$', '1')
			continue
		}
		out = append(out, query[i])
	}
	return string(out)
}

// Up applies all pending migrations in ascending version order and returns
// how many ran.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	current, err := m.Version(ctx)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, mig := range m.migrations {
		if mig.Version <= current {
			continue
		}
		if _, err := m.db.ExecContext(ctx, mig.Up); err != nil {
			return applied, goerr.Wrap(err, "migrations: apply",
				goerr.V("version", mig.Version), goerr.V("name", mig.Name))
		}
		if _, err := m.db.ExecContext(ctx, m.bind("INSERT INTO schema_migrations (version) VALUES (?)"), mig.Version); err != nil {
			return applied, goerr.Wrap(err, "migrations: record version", goerr.V("version", mig.Version))
		}
		applied++
	}
	return applied, nil
}

// Down rolls back every applied migration in descending version order.
func (m *Migrator) Down(ctx context.Context) error {
	current, err := m.Version(ctx)
	if err != nil {
		return err
	}

	for i := len(m.migrations) - 1; i >= 0; i-- {
		mig := m.migrations[i]
		if mig.Version > current {
			continue
		}
		if mig.Down != "" {
			if _, err := m.db.ExecContext(ctx, mig.Down); err != nil {
				return goerr.Wrap(err, "migrations: roll back",
					goerr.V("version", mig.Version), goerr.V("name", mig.Name))
			}
		}
		if _, err := m.db.ExecContext(ctx, m.bind("DELETE FROM schema_migrations WHERE version = ?"), mig.Version); err != nil {
			return goerr.Wrap(err, "migrations: remove version", goerr.V("version", mig.Version))
		}
	}
	return nil
}

// Version returns the highest applied version, 0 when none has run.
func (m *Migrator) Version(ctx context.Context) (uint, error) {
	var version uint
	err := m.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, goerr.Wrap(err, "migrations: query version")
	}
	return version, nil
}
