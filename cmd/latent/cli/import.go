package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"

	"github.com/nbursa/latent-journey-sub000/internal/notify"
	"github.com/nbursa/latent-journey-sub000/pkg/types"
)

const importBatchSize = 500

var importCmd = &cobra.Command{
	Use:   "import [events-file]",
	Short: "Load a JSON file of events into the local event log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return goerr.Wrap(err, "read events file", goerr.V("path", args[0]))
		}
		events, err := decodeEventFile(data)
		if err != nil {
			return goerr.Wrap(err, "decode events file", goerr.V("path", args[0]))
		}

		log, err := openEventLog(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer log.Close()

		inserted := 0
		for start := 0; start < len(events); start += importBatchSize {
			end := min(start+importBatchSize, len(events))
			n, err := log.Append(ctx, events[start:end]...)
			if err != nil {
				return err
			}
			inserted += n
		}

		total, err := log.Count(ctx)
		if err != nil {
			return err
		}
		if inserted > 0 {
			newest := 0.0
			for _, ev := range events {
				newest = max(newest, ev.Timestamp)
			}
			// Wake any watcher reading the same log.
			if err := notify.NewEventWriter(cfg.Storage.DataPath).Notify(notify.EventsAppended, inserted, newest); err != nil {
				logger.Warn("failed to notify watchers", "error", err)
			}
		}

		logger.Info("import complete", "file", args[0], "read", len(events), "inserted", inserted)
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d of %d events (%d stored)\n", inserted, len(events), total)
		return nil
	},
}

// decodeEventFile accepts a JSON array of events or an {"events": [...]}
// envelope.
func decodeEventFile(data []byte) ([]types.MemoryEvent, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var events []types.MemoryEvent
		if err := json.Unmarshal(data, &events); err != nil {
			return nil, err
		}
		return events, nil
	}

	var envelope struct {
		Events []types.MemoryEvent `json:"events"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, err
	}
	return envelope.Events, nil
}
