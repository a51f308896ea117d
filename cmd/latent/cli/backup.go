package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"

	"github.com/nbursa/latent-journey-sub000/internal/notify"
	"github.com/nbursa/latent-journey-sub000/internal/storage/sqlite"
)

var backupCmd = &cobra.Command{
	Use:   "backup [dest-file]",
	Short: "Write a verified copy of the local SQLite event log",
	Long: `backup copies the SQLite event log under the data path. Without a
destination the copy goes to <data-path>/backups/events-<timestamp>.db.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		dest := filepath.Join(cfg.Storage.DataPath, "backups",
			fmt.Sprintf("events-%s.db", time.Now().UTC().Format("20060102-150405")))
		if len(args) == 1 {
			dest = args[0]
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return goerr.Wrap(err, "create backup directory", goerr.V("path", filepath.Dir(dest)))
		}

		store, err := sqlite.NewEventStore(ctx, filepath.Join(cfg.Storage.DataPath, sqliteFile), logger)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Backup(ctx, dest); err != nil {
			return err
		}
		if err := sqlite.VerifyBackup(ctx, dest); err != nil {
			return err
		}
		if err := notify.NewEventWriter(cfg.Storage.DataPath).Notify(notify.BackupWritten, 0, 0); err != nil {
			logger.Warn("failed to announce backup", "error", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), dest)
		return nil
	},
}
