package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nbursa/latent-journey-sub000/internal/engine"
	"github.com/nbursa/latent-journey-sub000/internal/notify"
	"github.com/nbursa/latent-journey-sub000/internal/remote"
	"github.com/nbursa/latent-journey-sub000/internal/waypoint"
	"github.com/nbursa/latent-journey-sub000/pkg/types"
)

var (
	watchExplore bool
	watchK       int
	watchDims    int
	watchPersist bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the event source and ingest new events as they arrive",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		p, err := newPipeline(ctx, cfg, logger, watchPersist)
		if err != nil {
			return err
		}
		defer p.Close()

		// The synchronizer follows the newest selection as events arrive.
		synchronizer := waypoint.New(p.store, waypoint.Options{
			GuardTimeout: cfg.Timeline.GuardTimeout,
			Tick:         cfg.Timeline.Tick,
			Logger:       logger,
		})
		defer synchronizer.Close()

		opts := engine.WatcherOptions{
			PollInterval: cfg.Events.PollInterval,
			Logger:       logger,
			OnIngest: func(ctx context.Context, added []types.MemoryEvent) {
				logger.Info("new events",
					"count", len(added),
					"newest", added[0].Timestamp,
					"total", p.store.Len(),
					"scrub", synchronizer.Scrub())
				if !watchExplore {
					return
				}
				if _, err := p.explorer.Run(ctx, watchK, watchDims); err != nil && !errors.Is(err, engine.ErrSuperseded) {
					logger.Warn("exploration failed", "error", err)
				}
			},
		}
		if cfg.Events.FeedURL != "" {
			opts.Feed = remote.NewFeedSubscriber(remote.FeedOptions{URL: cfg.Events.FeedURL, Logger: logger})
		}

		watcher := engine.NewWatcher(p.store, opts)
		if err := watcher.Start(ctx); err != nil {
			return err
		}

		// Imports from other processes announce themselves through the data path.
		if cfg.Events.Source == "sqlite" {
			changes := notify.NewEventWatcher(cfg.Storage.DataPath, func(notify.Event) { watcher.Trigger() }, notify.WatcherOptions{
				Types:    []string{notify.EventsAppended},
				Coalesce: 250 * time.Millisecond,
				Logger:   logger,
			})
			if err := changes.Start(); err != nil {
				logger.Warn("event log change notifications disabled", "error", err)
			} else {
				defer changes.Stop()
			}
		}

		// Wait for interrupt signal
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		select {
		case <-sigChan:
		case <-ctx.Done():
		}
		logger.Info("shutting down gracefully")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := watcher.Shutdown(shutdownCtx); err != nil {
			logger.Warn("error shutting down watcher", "error", err)
		}

		stats := watcher.Stats()
		logger.Info("watch finished",
			"ingestions", stats.Ingestions,
			"added", stats.Added,
			"failures", stats.Failures)
		return nil
	},
}

func init() {
	watchCmd.Flags().BoolVar(&watchExplore, "explore", false, "Re-run the exploration pipeline after each batch")
	watchCmd.Flags().IntVar(&watchK, "k", engine.DefaultK, "Number of clusters when exploring")
	watchCmd.Flags().IntVarP(&watchDims, "dims", "d", engine.DefaultDims, "Projection dimensions when exploring")
	watchCmd.Flags().BoolVar(&watchPersist, "persist", false, "Store events and embeddings in the local event log")
}
