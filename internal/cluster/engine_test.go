package cluster

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbursa/latent-journey-sub000/internal/embedding"
	"github.com/nbursa/latent-journey-sub000/internal/logging"
	"github.com/nbursa/latent-journey-sub000/pkg/types"
)

func localEngine(seed int64) *Engine {
	resolver := embedding.NewResolver(nil, nil, logging.Discard())
	fetcher := embedding.NewBatchFetcher(resolver, logging.Discard())
	return NewEngine(fetcher, Options{Rand: rand.New(rand.NewSource(seed)), Logger: logging.Discard()})
}

func tenEvents() []types.MemoryEvent {
	sources := []types.Source{types.SourceVision, types.SourceSpeech, types.SourceShortTerm, types.SourceLongTerm}
	events := make([]types.MemoryEvent, 10)
	for i := range events {
		var f types.Facets
		f.Set(types.FacetValence, types.NumberFacet(float64(i)/10))
		events[i] = types.MemoryEvent{
			Timestamp: float64(1000 + i),
			Source:    sources[i%len(sources)],
			Content:   "event",
			Facets:    f,
		}
	}
	return events
}

func TestCluster_TenEventsThreeClusters(t *testing.T) {
	events := tenEvents()
	clusters := localEngine(7).Cluster(context.Background(), events, 3)

	require.NotEmpty(t, clusters)
	assert.LessOrEqual(t, len(clusters), 3)

	seen := make(map[float64]int)
	total := 0
	for i, c := range clusters {
		assert.Positive(t, c.Size)
		assert.Equal(t, c.Size, len(c.Members))
		assert.Equal(t, Palette[i], c.Color)
		assert.Len(t, c.Centroid, types.Dimensions)
		total += c.Size
		for _, m := range c.Members {
			seen[m.Timestamp]++
		}
	}
	assert.Equal(t, len(events), total, "every event lands in exactly one cluster")
	for _, ev := range events {
		assert.Equal(t, 1, seen[ev.Timestamp])
	}
}

func TestCluster_IDsAreSequential(t *testing.T) {
	clusters := localEngine(3).Cluster(context.Background(), tenEvents(), 4)
	for i, c := range clusters {
		assert.Equal(t, fmt.Sprintf("cluster-%d", i), c.ID)
	}
}

func TestCluster_ReproducibleWithSeed(t *testing.T) {
	a := localEngine(42).Cluster(context.Background(), tenEvents(), 3)
	b := localEngine(42).Cluster(context.Background(), tenEvents(), 3)
	assert.Equal(t, a, b)
}

func TestCluster_EdgeCases(t *testing.T) {
	e := localEngine(1)

	assert.Empty(t, e.Cluster(context.Background(), nil, 3))

	one := e.Cluster(context.Background(), tenEvents(), 0)
	require.Len(t, one, 1, "k < 1 behaves as k = 1")
	assert.Equal(t, 10, one[0].Size)

	many := e.Cluster(context.Background(), tenEvents()[:2], 8)
	total := 0
	for _, c := range many {
		total += c.Size
	}
	assert.Equal(t, 2, total, "k larger than the input is allowed")
	assert.LessOrEqual(t, len(many), 2)
}

func TestClusterEmbeddings_MatchesCluster(t *testing.T) {
	events := tenEvents()
	resolver := embedding.NewResolver(nil, nil, logging.Discard())
	embs := embedding.NewBatchFetcher(resolver, logging.Discard()).ResolveMany(context.Background(), events, 0)

	direct := localEngine(9).Cluster(context.Background(), events, 3)
	precomputed := localEngine(9).ClusterEmbeddings(events, embs, 3)
	assert.Equal(t, direct, precomputed)

	assert.Empty(t, localEngine(9).ClusterEmbeddings(events, embs[:4], 3), "length mismatch yields nothing")
}

func TestKMeans_SeparatesObviousGroups(t *testing.T) {
	vectors := [][]float64{{0, 0}, {0.1, 0}, {0, 0.1}, {10, 10}, {10.1, 10}, {10, 10.1}}
	// Initial centroids land in [-1,1], so the far group is captured once
	// the near centroid has moved.
	assign, centroids, _ := KMeans(vectors, 2, rand.New(rand.NewSource(5)), 50, 0.01)

	require.Len(t, centroids, 2)
	assert.Equal(t, assign[0], assign[1])
	assert.Equal(t, assign[0], assign[2])
	assert.Equal(t, assign[3], assign[4])
	assert.Equal(t, assign[3], assign[5])
}

func TestKMeans_EmptyClusterKeepsCentroid(t *testing.T) {
	vectors := [][]float64{{0.5, 0.5}}
	rng := rand.New(rand.NewSource(11))
	initial := rand.New(rand.NewSource(11))
	want := [][]float64{
		{initial.Float64()*2 - 1, initial.Float64()*2 - 1},
		{initial.Float64()*2 - 1, initial.Float64()*2 - 1},
		{initial.Float64()*2 - 1, initial.Float64()*2 - 1},
	}

	assign, centroids, _ := KMeans(vectors, 3, rng, 50, 0.01)
	for c := range centroids {
		if c == assign[0] {
			assert.Equal(t, []float64{0.5, 0.5}, centroids[c])
			continue
		}
		assert.Equal(t, want[c], centroids[c], "unused centroid %d unchanged", c)
	}
}

func TestDistance_MissingComponentsAreZero(t *testing.T) {
	assert.Equal(t, 5.0, distance([]float64{3}, []float64{0, 4}))
	assert.Equal(t, distance([]float64{1, 0}, []float64{0, 0}), distance([]float64{0, 1}, []float64{0, 0}))
}

func TestLabel(t *testing.T) {
	withKeys := func(src types.Source, keys ...string) types.MemoryEvent {
		var f types.Facets
		for _, k := range keys {
			f.Set(k, types.StringFacet("x"))
		}
		return types.MemoryEvent{Source: src, Facets: f}
	}

	tests := []struct {
		name    string
		members []types.MemoryEvent
		want    string
	}{
		{
			"majority source and key",
			[]types.MemoryEvent{
				withKeys(types.SourceSpeech, types.FacetSpeechIntent),
				withKeys(types.SourceSpeech, types.FacetSpeechIntent, types.FacetVisionObject),
				withKeys(types.SourceVision, types.FacetVisionObject),
				withKeys(types.SourceSpeech, types.FacetSpeechIntent),
			},
			"speech (speech.intent)",
		},
		{
			"ties resolve lexicographically",
			[]types.MemoryEvent{
				withKeys(types.SourceVision, "zeta"),
				withKeys(types.SourceSpeech, "alpha"),
			},
			"speech (alpha)",
		},
		{
			"no facets",
			[]types.MemoryEvent{withKeys(types.SourceLongTerm)},
			"ltm (none)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Label(tt.members))
		})
	}
}
