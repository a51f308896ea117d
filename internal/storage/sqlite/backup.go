package sqlite

import (
	"context"
	"database/sql"
	"os"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// Backup writes a consistent point-in-time copy of the database to destPath
// using VACUUM INTO, which handles WAL mode. destPath must not exist.
func (s *EventStore) Backup(ctx context.Context, destPath string) error {
	if _, err := os.Stat(destPath); err == nil {
		return goerr.New("backup target already exists", goerr.V("path", destPath))
	}

	quoted := "'" + strings.ReplaceAll(destPath, "'", "''") + "'"
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO "+quoted); err != nil {
		return goerr.Wrap(err, "backup database", goerr.V("path", destPath))
	}
	s.logger.Info("sqlite: backup written", "path", destPath)
	return nil
}

// VerifyBackup runs SQLite's integrity check against the file at path.
func VerifyBackup(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return goerr.Wrap(err, "open backup", goerr.V("path", path))
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return goerr.Wrap(err, "run integrity check", goerr.V("path", path))
	}
	if result != "ok" {
		return goerr.New("integrity check failed", goerr.V("path", path), goerr.V("result", result))
	}
	return nil
}
