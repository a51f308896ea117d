// Package engine wires the exploration pipeline: embeddings are resolved for
// the events held by a timeline store, projected, clustered and grouped into
// a Snapshot. A Watcher keeps the store current.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/nbursa/latent-journey-sub000/internal/cluster"
	"github.com/nbursa/latent-journey-sub000/internal/embedding"
	"github.com/nbursa/latent-journey-sub000/internal/index"
	"github.com/nbursa/latent-journey-sub000/internal/projection"
	"github.com/nbursa/latent-journey-sub000/internal/semantic"
	"github.com/nbursa/latent-journey-sub000/internal/storage"
	"github.com/nbursa/latent-journey-sub000/internal/timeline"
	"github.com/nbursa/latent-journey-sub000/pkg/types"
)

const (
	DefaultK    = 5
	DefaultDims = 3
)

// ErrSuperseded is returned by Run when a newer run started before it
// finished. The returned snapshot is complete but was not published.
var ErrSuperseded = goerr.New("run superseded by a newer one")

// ExplorerOptions configures an Explorer. Zero values take defaults.
type ExplorerOptions struct {
	Concurrency int
	// Rand seeds clustering; tests pass a fixed source.
	Rand *rand.Rand
	// Log, when set, receives the events and resolved embeddings of every run.
	Log    storage.EventLog
	Logger *slog.Logger
}

// Degraded counts the places a run used a local fallback.
type Degraded struct {
	DeterministicEmbeddings int  `json:"deterministic_embeddings" yaml:"deterministic_embeddings"`
	ReductionFallback       bool `json:"reduction_fallback" yaml:"reduction_fallback"`
	IndexRejected           int  `json:"index_rejected" yaml:"index_rejected"`
	PersistFailures         int  `json:"persist_failures" yaml:"persist_failures"`
}

// Snapshot is the result of one pipeline run.
type Snapshot struct {
	Generation uint64                  `json:"generation" yaml:"generation"`
	CreatedAt  time.Time               `json:"created_at" yaml:"created_at"`
	Events     []types.MemoryEvent     `json:"events" yaml:"events"`
	Embeddings []types.Embedding       `json:"embeddings" yaml:"embeddings"`
	Projection projection.Result       `json:"projection" yaml:"projection"`
	Clusters   []types.Cluster         `json:"clusters" yaml:"clusters"`
	Groups     []types.SemanticGroup   `json:"groups" yaml:"groups"`
	Degraded   Degraded                `json:"degraded" yaml:"degraded"`
	Stats      embedding.ResolverStats `json:"resolver" yaml:"resolver"`
}

// Explorer runs the pipeline over a timeline store.
type Explorer struct {
	store    *timeline.Store
	resolver *embedding.Resolver
	fetcher  *embedding.BatchFetcher
	reducer  *projection.Reducer
	clusters *cluster.Engine
	grouper  semantic.Grouper
	index    *index.Index
	opts     ExplorerOptions

	generation atomic.Uint64

	mu     sync.RWMutex
	latest *Snapshot
}

// NewExplorer creates an explorer. The resolver is shared by every run, so
// its prefer-real flag applies process-wide.
func NewExplorer(store *timeline.Store, resolver *embedding.Resolver, reducer *projection.Reducer, opts ExplorerOptions) (*Explorer, error) {
	if store == nil || resolver == nil || reducer == nil {
		return nil, goerr.New("explorer requires a store, a resolver and a reducer")
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = embedding.DefaultConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	idx, err := index.New()
	if err != nil {
		return nil, err
	}

	fetcher := embedding.NewBatchFetcher(resolver, opts.Logger)
	return &Explorer{
		store:    store,
		resolver: resolver,
		fetcher:  fetcher,
		reducer:  reducer,
		clusters: cluster.NewEngine(fetcher, cluster.Options{
			Concurrency: opts.Concurrency,
			Rand:        opts.Rand,
			Logger:      opts.Logger,
		}),
		index: idx,
		opts:  opts,
	}, nil
}

// Store returns the timeline store the explorer reads.
func (e *Explorer) Store() *timeline.Store { return e.store }

// Resolver returns the shared embedding resolver.
func (e *Explorer) Resolver() *embedding.Resolver { return e.resolver }

// Index returns the embedding index filled by runs.
func (e *Explorer) Index() *index.Index { return e.index }

// Latest returns the most recent published snapshot, or nil before the first
// run completes.
func (e *Explorer) Latest() *Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.latest
}

// Run resolves, projects, clusters and groups the store's current events.
// A run that is overtaken by a newer one returns ErrSuperseded and leaves
// the published snapshot alone.
func (e *Explorer) Run(ctx context.Context, k, dims int) (*Snapshot, error) {
	gen := e.generation.Add(1)
	logger := e.opts.Logger.With("generation", gen)

	if k < 1 {
		k = DefaultK
	}
	if dims == 0 {
		dims = DefaultDims
	}

	events := e.store.Events()
	snap := &Snapshot{Generation: gen, Events: events}

	snap.Embeddings = e.fetcher.ResolveMany(ctx, events, e.opts.Concurrency)
	if err := ctx.Err(); err != nil {
		return nil, goerr.Wrap(err, "resolve embeddings")
	}
	for i, emb := range snap.Embeddings {
		if emb.Origin == types.OriginDeterministic {
			snap.Degraded.DeterministicEmbeddings++
		}
		if err := e.index.Add(ctx, events[i], emb); err != nil {
			if !errors.Is(err, index.ErrZeroVector) {
				logger.Warn("failed to index embedding", "ts", emb.Timestamp, "error", err)
			}
			snap.Degraded.IndexRejected++
		}
	}

	if e.opts.Log != nil {
		snap.Degraded.PersistFailures = e.persist(ctx, logger, events, snap.Embeddings)
	}

	snap.Projection = e.reducer.Reduce(ctx, snap.Embeddings, dims)
	snap.Degraded.ReductionFallback = snap.Projection.Fallback

	snap.Clusters = e.clusters.ClusterEmbeddings(events, snap.Embeddings, k)
	snap.Groups = e.grouper.Group(events)
	snap.Stats = e.resolver.Stats()
	snap.CreatedAt = time.Now()

	if err := ctx.Err(); err != nil {
		return nil, goerr.Wrap(err, "explore run cancelled")
	}

	if !e.publish(snap) {
		logger.Debug("discarding superseded snapshot")
		return snap, goerr.Wrap(ErrSuperseded, "publish snapshot", goerr.V("generation", gen))
	}

	logger.Info("exploration complete",
		"events", len(events),
		"clusters", len(snap.Clusters),
		"groups", len(snap.Groups),
		"deterministic", snap.Degraded.DeterministicEmbeddings,
		"reduction_fallback", snap.Degraded.ReductionFallback)
	return snap, nil
}

// publish installs snap unless a newer run has started.
func (e *Explorer) publish(snap *Snapshot) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if snap.Generation != e.generation.Load() {
		return false
	}
	e.latest = snap
	return true
}

// persist writes events and embeddings to the event log, returning the
// number of embeddings that could not be stored.
func (e *Explorer) persist(ctx context.Context, logger *slog.Logger, events []types.MemoryEvent, embeddings []types.Embedding) int {
	if _, err := e.opts.Log.Append(ctx, events...); err != nil {
		logger.Warn("failed to persist events", "count", len(events), "error", err)
		return len(embeddings)
	}

	failures := 0
	for _, emb := range embeddings {
		if err := e.opts.Log.StoreEmbedding(ctx, emb); err != nil {
			logger.Warn("failed to persist embedding", "ts", emb.Timestamp, "error", err)
			failures++
		}
	}
	return failures
}

// Reset clears the store, the resolver cache and the index. The next run
// starts from a fresh Initialize.
func (e *Explorer) Reset() error {
	e.generation.Add(1)
	e.store.Reset()
	e.resolver.Cache().Clear()

	e.mu.Lock()
	e.latest = nil
	e.mu.Unlock()

	return e.index.Reset()
}
