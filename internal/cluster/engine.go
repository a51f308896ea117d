// Package cluster groups events with k-means over their embeddings and gives
// each cluster a heuristic label.
package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/nbursa/latent-journey-sub000/pkg/types"
)

// Defaults for the iteration loop.
const (
	DefaultMaxIterations = 50
	DefaultTolerance     = 0.01
)

// Palette colors clusters by output index, wrapping around.
var Palette = []string{
	"#00ff88", "#ff6b6b", "#4ecdc4", "#ffd93d", "#a78bfa",
	"#f472b6", "#60a5fa", "#fb923c", "#34d399", "#e879f9",
}

// Fetcher is satisfied by *embedding.BatchFetcher.
type Fetcher interface {
	ResolveMany(ctx context.Context, events []types.MemoryEvent, concurrency int) []types.Embedding
}

// Options configures an Engine. Zero values take defaults.
type Options struct {
	Concurrency   int
	MaxIterations int
	Tolerance     float64
	// Rand seeds centroid initialization; tests pass a fixed source.
	Rand   *rand.Rand
	Logger *slog.Logger
}

// Engine runs k-means clustering.
type Engine struct {
	fetcher Fetcher
	opts    Options

	mu  sync.Mutex // guards rng
	rng *rand.Rand
}

// NewEngine creates an engine resolving embeddings through fetcher.
func NewEngine(fetcher Fetcher, opts Options) *Engine {
	if opts.MaxIterations < 1 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultTolerance
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Engine{fetcher: fetcher, opts: opts, rng: rng}
}

// Cluster partitions events into at most k non-empty clusters. k < 1 is
// treated as 1. Embeddings are resolved once up front.
func (e *Engine) Cluster(ctx context.Context, events []types.MemoryEvent, k int) []types.Cluster {
	if len(events) == 0 {
		return []types.Cluster{}
	}
	if k < 1 {
		k = 1
	}

	return e.ClusterEmbeddings(events, e.fetcher.ResolveMany(ctx, events, e.opts.Concurrency), k)
}

// ClusterEmbeddings is Cluster over embeddings the caller already resolved,
// one per event in the same order.
func (e *Engine) ClusterEmbeddings(events []types.MemoryEvent, embs []types.Embedding, k int) []types.Cluster {
	if len(events) == 0 || len(embs) != len(events) {
		return []types.Cluster{}
	}
	if k < 1 {
		k = 1
	}

	vectors := make([][]float64, len(embs))
	for i, emb := range embs {
		vectors[i] = emb.Vector
	}

	e.mu.Lock()
	assign, centroids, iters := KMeans(vectors, k, e.rng, e.opts.MaxIterations, e.opts.Tolerance)
	e.mu.Unlock()

	members := make([][]types.MemoryEvent, k)
	for i, c := range assign {
		members[c] = append(members[c], events[i])
	}

	out := make([]types.Cluster, 0, k)
	for c := 0; c < k; c++ {
		if len(members[c]) == 0 {
			continue
		}
		n := len(out)
		out = append(out, types.Cluster{
			ID:       fmt.Sprintf("cluster-%d", n),
			Centroid: centroids[c],
			Members:  members[c],
			Label:    Label(members[c]),
			Color:    Palette[n%len(Palette)],
			Size:     len(members[c]),
		})
	}

	e.opts.Logger.Debug("clustered events",
		"events", len(events), "k", k, "clusters", len(out), "iterations", iters)
	return out
}

// KMeans assigns every vector to one of k centroids. Centroids start
// uniformly in [-1,1]; ties in distance go to the lower cluster index; an
// empty cluster keeps its previous centroid. It stops after maxIter rounds or
// once no centroid moves by tol or more.
func KMeans(vectors [][]float64, k int, rng *rand.Rand, maxIter int, tol float64) (assign []int, centroids [][]float64, iterations int) {
	assign = make([]int, len(vectors))
	if len(vectors) == 0 || k < 1 {
		return assign, nil, 0
	}

	dim := 0
	for _, v := range vectors {
		if len(v) > dim {
			dim = len(v)
		}
	}

	centroids = make([][]float64, k)
	for c := range centroids {
		centroids[c] = make([]float64, dim)
		for d := range centroids[c] {
			centroids[c][d] = rng.Float64()*2 - 1
		}
	}

	for iterations = 1; iterations <= maxIter; iterations++ {
		for i, v := range vectors {
			best, bestDist := 0, math.Inf(1)
			for c, centroid := range centroids {
				if d := distance(v, centroid); d < bestDist {
					best, bestDist = c, d
				}
			}
			assign[i] = best
		}

		sums := make([][]float64, k)
		counts := make([]int, k)
		for i, v := range vectors {
			c := assign[i]
			if sums[c] == nil {
				sums[c] = make([]float64, dim)
			}
			for d, x := range v {
				sums[c][d] += x
			}
			counts[c]++
		}

		converged := true
		for c := range centroids {
			if counts[c] == 0 {
				continue
			}
			next := make([]float64, dim)
			for d := range next {
				next[d] = sums[c][d] / float64(counts[c])
			}
			if distance(next, centroids[c]) >= tol {
				converged = false
			}
			centroids[c] = next
		}
		if converged {
			break
		}
	}
	if iterations > maxIter {
		iterations = maxIter
	}
	return assign, centroids, iterations
}

// distance is Euclidean; missing components count as zero.
func distance(a, b []float64) float64 {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		var x, y float64
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		sum += (x - y) * (x - y)
	}
	return math.Sqrt(sum)
}

// Label names a cluster "<majority source> (<most frequent facet key>)".
// Count ties resolve to the lexicographically smallest value; members
// without facets yield "<source> (none)".
func Label(members []types.MemoryEvent) string {
	sources := make(map[string]int)
	keys := make(map[string]int)
	for _, m := range members {
		sources[string(m.Source)]++
		for _, k := range m.Facets.Keys() {
			keys[k]++
		}
	}

	key := mostFrequent(keys)
	if key == "" {
		key = "none"
	}
	return fmt.Sprintf("%s (%s)", mostFrequent(sources), key)
}

func mostFrequent(counts map[string]int) string {
	names := make([]string, 0, len(counts))
	for n := range counts {
		names = append(names, n)
	}
	sort.Strings(names)

	best, bestCount := "", 0
	for _, n := range names {
		if counts[n] > bestCount {
			best, bestCount = n, counts[n]
		}
	}
	return best
}
