// Package projection reduces 128-dimensional embeddings to 2D or 3D points
// for display. The remote reduction service is preferred; any failure
// degrades to truncation, which keeps the first components of each vector.
package projection

import (
	"context"
	"encoding/binary"
	"log/slog"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/ristretto"
	"github.com/m-mizutani/goerr/v2"

	"github.com/nbursa/latent-journey-sub000/pkg/types"
)

// Supported output widths.
const (
	MinDims = 2
	MaxDims = 3
)

// DefaultCacheSize is the number of projections memoized when unset.
const DefaultCacheSize = 256

// Remote is implemented by remote.ReductionClient.
type Remote interface {
	Reduce(ctx context.Context, vectors [][]float64, dims int) ([][]float64, error)
}

// Result is one projection run.
type Result struct {
	Points [][]float64 `json:"points" yaml:"points"`
	Dims   int         `json:"dims" yaml:"dims"`
	// Fallback is set when truncation replaced the remote projection.
	Fallback bool `json:"fallback" yaml:"fallback"`
	Cached   bool `json:"cached" yaml:"cached"`
}

// Reducer projects embeddings. Remote results are memoized by a digest of
// the input vectors and the target width.
type Reducer struct {
	remote Remote
	cache  *ristretto.Cache
	logger *slog.Logger
}

// NewReducer creates a reducer. A nil remote always truncates. cacheSize < 1
// uses DefaultCacheSize.
func NewReducer(remote Remote, cacheSize int64, logger *slog.Logger) (*Reducer, error) {
	if cacheSize < 1 {
		cacheSize = DefaultCacheSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        cacheSize * 10,
		MaxCost:            cacheSize,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "create projection cache", goerr.V("size", cacheSize))
	}

	return &Reducer{remote: remote, cache: cache, logger: logger}, nil
}

// Close releases the cache's background goroutines.
func (r *Reducer) Close() {
	r.cache.Close()
}

// ClampDims forces dims into [MinDims, MaxDims].
func ClampDims(dims int) int {
	if dims < MinDims {
		return MinDims
	}
	if dims > MaxDims {
		return MaxDims
	}
	return dims
}

// Reduce projects the embeddings' vectors to targetDims components.
func (r *Reducer) Reduce(ctx context.Context, embeddings []types.Embedding, targetDims int) Result {
	vectors := make([][]float64, len(embeddings))
	for i, e := range embeddings {
		vectors[i] = e.Vector
	}
	return r.ReduceVectors(ctx, vectors, targetDims)
}

// ReduceVectors is Reduce over raw vectors. Empty input returns an empty
// result without contacting the service.
func (r *Reducer) ReduceVectors(ctx context.Context, vectors [][]float64, targetDims int) Result {
	dims := ClampDims(targetDims)
	if len(vectors) == 0 {
		return Result{Points: [][]float64{}, Dims: dims}
	}

	if r.remote == nil {
		return Result{Points: Truncate(vectors, dims), Dims: dims, Fallback: true}
	}

	key := digest(vectors, dims)
	if cached, ok := r.cache.Get(key); ok {
		if points, ok := cached.([][]float64); ok {
			return Result{Points: copyPoints(points), Dims: dims, Cached: true}
		}
	}

	points, err := r.remote.Reduce(ctx, vectors, dims)
	if err == nil {
		err = checkShape(points, len(vectors), dims)
	}
	if err != nil {
		r.logger.Warn("remote reduction failed, truncating",
			"vectors", len(vectors), "dims", dims, "error", err)
		return Result{Points: Truncate(vectors, dims), Dims: dims, Fallback: true}
	}

	r.cache.Set(key, copyPoints(points), 1)
	r.cache.Wait()
	return Result{Points: points, Dims: dims}
}

// Truncate keeps the first dims components of every vector, zero padding
// vectors that are shorter.
func Truncate(vectors [][]float64, dims int) [][]float64 {
	out := make([][]float64, len(vectors))
	for i, v := range vectors {
		p := make([]float64, dims)
		copy(p, v)
		out[i] = p
	}
	return out
}

func checkShape(points [][]float64, n, dims int) error {
	if len(points) != n {
		return goerr.New("reduced row count mismatch", goerr.V("want", n), goerr.V("got", len(points)))
	}
	for i, p := range points {
		if len(p) != dims {
			return goerr.New("reduced row width mismatch", goerr.V("row", i), goerr.V("got", len(p)))
		}
	}
	return nil
}

// digest hashes dims and every component bit pattern.
func digest(vectors [][]float64, dims int) uint64 {
	h := xxhash.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(dims))
	_, _ = h.Write(buf[:])
	for _, v := range vectors {
		binary.LittleEndian.PutUint64(buf[:], uint64(len(v)))
		_, _ = h.Write(buf[:])
		for _, f := range v {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
			_, _ = h.Write(buf[:])
		}
	}
	return h.Sum64()
}

func copyPoints(points [][]float64) [][]float64 {
	out := make([][]float64, len(points))
	for i, p := range points {
		out[i] = append([]float64(nil), p...)
	}
	return out
}
