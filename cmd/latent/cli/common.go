package cli

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"

	"github.com/nbursa/latent-journey-sub000/internal/config"
	"github.com/nbursa/latent-journey-sub000/internal/embedding"
	"github.com/nbursa/latent-journey-sub000/internal/engine"
	"github.com/nbursa/latent-journey-sub000/internal/projection"
	"github.com/nbursa/latent-journey-sub000/internal/remote"
	"github.com/nbursa/latent-journey-sub000/internal/storage"
	"github.com/nbursa/latent-journey-sub000/internal/storage/postgres"
	"github.com/nbursa/latent-journey-sub000/internal/storage/sqlite"
	"github.com/nbursa/latent-journey-sub000/internal/timeline"
)

const sqliteFile = "events.db"

var errUnknownFormat = goerr.New("unknown output format")

func breakerConfig(c *config.Config) remote.BreakerConfig {
	return remote.BreakerConfig{
		MaxFailures:          c.Breaker.MaxFailures,
		Timeout:              c.Breaker.Timeout,
		HalfOpenMaxSuccesses: c.Breaker.HalfOpenMaxSuccesses,
	}
}

// newEmbedder builds the configured remote embedder; nil means
// deterministic-only.
func newEmbedder(c *config.Config, logger *slog.Logger) remote.Embedder {
	opts := remote.Options{
		BaseURL:   c.Embedding.URL,
		Timeout:   c.Embedding.Timeout,
		RateLimit: c.Embedding.RateLimit,
		RateBurst: c.Embedding.RateBurst,
		Breaker:   breakerConfig(c),
		Logger:    logger,
	}
	switch c.Embedding.Provider {
	case "ollama":
		return remote.NewOllamaClient(remote.OllamaOptions{Options: opts, Model: c.Embedding.Model})
	case "none":
		return nil
	default:
		return remote.NewEmbeddingClient(opts)
	}
}

func newReductionClient(c *config.Config, logger *slog.Logger) *remote.ReductionClient {
	return remote.NewReductionClient(remote.ReductionOptions{
		Options: remote.Options{
			BaseURL: c.Reduction.URL,
			Timeout: c.Reduction.Timeout,
			Breaker: breakerConfig(c),
			Logger:  logger,
		},
		Method: c.Reduction.Method,
	})
}

func newEventSourceClient(c *config.Config, logger *slog.Logger) *remote.EventSourceClient {
	return remote.NewEventSourceClient(remote.Options{
		BaseURL: c.Events.URL,
		Timeout: c.Events.Timeout,
		Breaker: breakerConfig(c),
		Logger:  logger,
	})
}

// openEventLog opens the persistent event log: postgres when a DSN is
// configured for it, SQLite under the data path otherwise.
func openEventLog(ctx context.Context, c *config.Config, logger *slog.Logger) (storage.EventLog, error) {
	if c.Events.Source == "postgres" {
		return postgres.NewEventStore(ctx, c.Storage.PostgresDSN, logger)
	}
	if err := os.MkdirAll(c.Storage.DataPath, 0o755); err != nil {
		return nil, goerr.Wrap(err, "create data directory", goerr.V("path", c.Storage.DataPath))
	}
	return sqlite.NewEventStore(ctx, filepath.Join(c.Storage.DataPath, sqliteFile), logger)
}

// openEventSource returns the configured event source and a function that
// releases it.
func openEventSource(ctx context.Context, c *config.Config, logger *slog.Logger) (timeline.EventSource, func(), error) {
	switch c.Events.Source {
	case "sqlite", "postgres":
		log, err := openEventLog(ctx, c, logger)
		if err != nil {
			return nil, nil, err
		}
		return log, func() { _ = log.Close() }, nil
	default:
		return newEventSourceClient(c, logger), func() {}, nil
	}
}

type pipeline struct {
	store    *timeline.Store
	explorer *engine.Explorer
	reducer  *projection.Reducer
	release  func()
}

func (p *pipeline) Close() {
	p.reducer.Close()
	p.release()
}

// newPipeline builds the store and explorer from configuration. persist
// mirrors every run into the local event log.
func newPipeline(ctx context.Context, c *config.Config, logger *slog.Logger, persist bool) (*pipeline, error) {
	source, release, err := openEventSource(ctx, c, logger)
	if err != nil {
		return nil, err
	}

	resolver := embedding.NewResolver(newEmbedder(c, logger), embedding.NewCache(c.Embedding.CacheSize), logger)
	resolver.SetPreferReal(c.Embedding.PreferReal)

	reducer, err := projection.NewReducer(newReductionClient(c, logger), c.Reduction.CacheSize, logger)
	if err != nil {
		release()
		return nil, err
	}

	store := timeline.NewStore(source, timeline.Options{
		Capacity:     c.Timeline.Capacity,
		InitialLimit: c.Events.InitialLimit,
		Logger:       logger,
	})

	opts := engine.ExplorerOptions{Concurrency: c.Embedding.Concurrency, Logger: logger}
	if persist && c.Events.Source == "remote" {
		log, err := openEventLog(ctx, c, logger)
		if err != nil {
			reducer.Close()
			release()
			return nil, err
		}
		opts.Log = log
		inner := release
		release = func() {
			_ = log.Close()
			inner()
		}
	}

	explorer, err := engine.NewExplorer(store, resolver, reducer, opts)
	if err != nil {
		reducer.Close()
		release()
		return nil, err
	}
	return &pipeline{store: store, explorer: explorer, reducer: reducer, release: release}, nil
}

func writeOutput(w io.Writer, format string, v any) error {
	switch format {
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return goerr.Wrap(err, "encode yaml")
		}
		return enc.Close()
	default:
		return goerr.Wrap(errUnknownFormat, "write output", goerr.V("format", format))
	}
}
