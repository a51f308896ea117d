package embedding

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/nbursa/latent-journey-sub000/internal/remote"
	"github.com/nbursa/latent-journey-sub000/pkg/types"
)

// providedConfidence is used for event-supplied and remote vectors when no
// confidence is reported.
const providedConfidence = 0.8

// Resolver resolves an event's embedding: a vector the event carries wins,
// then the cache, then the remote service when prefer-real is on, and finally
// the deterministic embedder. Resolve never fails; degradations show up in
// the returned Origin and in Stats.
type Resolver struct {
	remote     remote.Embedder
	cache      *Cache
	det        Deterministic
	logger     *slog.Logger
	preferReal atomic.Bool

	provided  atomic.Uint64
	cacheHits atomic.Uint64
	remoteOK  atomic.Uint64
	fallbacks atomic.Uint64
	local     atomic.Uint64
}

// ResolverStats counts how embeddings were produced.
type ResolverStats struct {
	Provided      uint64 `json:"provided" yaml:"provided"`
	CacheHits     uint64 `json:"cache_hits" yaml:"cache_hits"`
	Remote        uint64 `json:"remote" yaml:"remote"`
	Fallbacks     uint64 `json:"fallbacks" yaml:"fallbacks"`
	Deterministic uint64 `json:"deterministic" yaml:"deterministic"`
}

// NewResolver creates a resolver. A nil embedder disables remote calls; a nil
// cache gets a default-sized one. Prefer-real starts enabled.
func NewResolver(embedder remote.Embedder, cache *Cache, logger *slog.Logger) *Resolver {
	if cache == nil {
		cache = NewCache(DefaultCacheSize)
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{remote: embedder, cache: cache, logger: logger}
	r.preferReal.Store(true)
	return r
}

// SetPreferReal toggles whether the remote service is consulted.
func (r *Resolver) SetPreferReal(on bool) { r.preferReal.Store(on) }

// PreferReal reports the current mode.
func (r *Resolver) PreferReal() bool { return r.preferReal.Load() }

// Cache returns the underlying cache.
func (r *Resolver) Cache() *Cache { return r.cache }

// Resolve returns the embedding for ev.
func (r *Resolver) Resolve(ctx context.Context, ev types.MemoryEvent) types.Embedding {
	if ev.HasEmbedding() {
		r.provided.Add(1)
		return types.Embedding{
			Vector:     Normalize(ev.Embedding),
			Confidence: clamp01(ev.Facets.ConfidenceOr(providedConfidence)),
			Source:     ev.Source,
			Timestamp:  ev.Timestamp,
			Origin:     types.OriginProvided,
		}
	}

	key := ev.Key()
	if emb, ok := r.cache.Get(key); ok {
		r.cacheHits.Add(1)
		return emb
	}

	if r.remote == nil || !r.PreferReal() {
		emb := r.det.Embed(ev)
		r.local.Add(1)
		r.cache.Put(key, emb)
		return emb
	}

	vec, err := r.remote.Embed(ctx, ev.Text(), ev.Facets)
	if err != nil {
		r.fallbacks.Add(1)
		r.logger.Warn("remote embedding failed, using deterministic fallback",
			"ts", ev.Timestamp, "source", ev.Source, "error", err)
		// Not cached, so a later call retries the service.
		return r.det.Embed(ev)
	}

	conf := ev.Facets.ConfidenceOr(providedConfidence)
	if vec.Confidence != nil {
		conf = *vec.Confidence
	}
	if len(vec.Values) != types.Dimensions {
		r.logger.Debug("remote embedding width adjusted",
			"ts", ev.Timestamp, "got", len(vec.Values), "want", types.Dimensions)
	}

	emb := types.Embedding{
		Vector:     Normalize(vec.Values),
		Confidence: clamp01(conf),
		Source:     ev.Source,
		Timestamp:  ev.Timestamp,
		Origin:     types.OriginRemote,
	}
	r.remoteOK.Add(1)
	r.cache.Put(key, emb)
	return emb
}

// Stats returns the production counters since creation.
func (r *Resolver) Stats() ResolverStats {
	return ResolverStats{
		Provided:      r.provided.Load(),
		CacheHits:     r.cacheHits.Load(),
		Remote:        r.remoteOK.Load(),
		Fallbacks:     r.fallbacks.Load(),
		Deterministic: r.local.Load(),
	}
}
