package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbursa/latent-journey-sub000/internal/embedding"
	"github.com/nbursa/latent-journey-sub000/internal/logging"
	"github.com/nbursa/latent-journey-sub000/internal/projection"
	"github.com/nbursa/latent-journey-sub000/internal/remote"
	"github.com/nbursa/latent-journey-sub000/internal/storage/sqlite"
	"github.com/nbursa/latent-journey-sub000/internal/timeline"
	"github.com/nbursa/latent-journey-sub000/pkg/types"
)

// memorySource is an in-memory timeline.EventSource holding events
// newest first.
type memorySource struct {
	mu     sync.Mutex
	events []types.MemoryEvent
	err    error
}

func (m *memorySource) Recent(_ context.Context, limit int) ([]types.MemoryEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := m.events
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return append([]types.MemoryEvent(nil), out...), nil
}

func (m *memorySource) Since(_ context.Context, ts float64, _ int) ([]types.MemoryEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []types.MemoryEvent
	for _, ev := range m.events {
		if ev.Timestamp > ts {
			out = append(out, ev)
		}
	}
	return out, nil
}

// push prepends ev, keeping newest-first order for increasing timestamps.
func (m *memorySource) push(ev types.MemoryEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append([]types.MemoryEvent{ev}, m.events...)
}

func sampleEvents(n int) []types.MemoryEvent {
	sources := []types.Source{types.SourceVision, types.SourceSpeech, types.SourceShortTerm}
	out := make([]types.MemoryEvent, 0, n)
	for i := n; i >= 1; i-- {
		out = append(out, types.MemoryEvent{
			Timestamp: 1000 + float64(i),
			Source:    sources[i%len(sources)],
			Content:   "event",
			Facets:    types.Facets{Valence: types.Float(float64(i) / float64(n))},
		})
	}
	return out
}

func newExplorer(t *testing.T, src timeline.EventSource, embedder remote.Embedder, opts ExplorerOptions) *Explorer {
	t.Helper()
	store := timeline.NewStore(src, timeline.Options{Logger: logging.Discard()})
	require.NoError(t, store.Initialize(context.Background()))

	reducer, err := projection.NewReducer(nil, 0, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(reducer.Close)

	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(7))
	}
	opts.Logger = logging.Discard()
	resolver := embedding.NewResolver(embedder, embedding.NewCache(0), logging.Discard())

	ex, err := NewExplorer(store, resolver, reducer, opts)
	require.NoError(t, err)
	return ex
}

func TestExplorer_Run(t *testing.T) {
	src := &memorySource{events: sampleEvents(10)}
	ex := newExplorer(t, src, nil, ExplorerOptions{})

	snap, err := ex.Run(context.Background(), 3, 2)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), snap.Generation)
	assert.Len(t, snap.Events, 10)
	assert.Len(t, snap.Embeddings, 10)
	assert.Equal(t, 10, snap.Degraded.DeterministicEmbeddings)
	assert.True(t, snap.Degraded.ReductionFallback)
	assert.Equal(t, 2, snap.Projection.Dims)
	require.Len(t, snap.Projection.Points, 10)
	for _, p := range snap.Projection.Points {
		assert.Len(t, p, 2)
	}

	total := 0
	for _, c := range snap.Clusters {
		total += c.Size
	}
	assert.Equal(t, 10, total, "every event lands in exactly one cluster")
	assert.LessOrEqual(t, len(snap.Clusters), 3)
	assert.NotEmpty(t, snap.Groups)

	assert.Same(t, snap, ex.Latest())
	assert.Equal(t, 10, ex.Index().Count())
}

func TestExplorer_EmptyStore(t *testing.T) {
	ex := newExplorer(t, &memorySource{}, nil, ExplorerOptions{})

	snap, err := ex.Run(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Empty(t, snap.Events)
	assert.Empty(t, snap.Clusters)
	assert.Empty(t, snap.Groups)
	assert.Equal(t, DefaultDims, snap.Projection.Dims)
}

// gateEmbedder blocks its first call until release is closed.
type gateEmbedder struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gateEmbedder) Embed(_ context.Context, _ string, _ types.Facets) (remote.Vector, error) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return remote.Vector{Values: []float64{1, 0, 0}}, nil
}

func (g *gateEmbedder) Ping(context.Context) error { return nil }

func TestExplorer_SupersededRunIsNotPublished(t *testing.T) {
	src := &memorySource{events: sampleEvents(1)}
	gate := &gateEmbedder{entered: make(chan struct{}), release: make(chan struct{})}
	ex := newExplorer(t, src, gate, ExplorerOptions{Concurrency: 1})

	type result struct {
		snap *Snapshot
		err  error
	}
	first := make(chan result, 1)
	go func() {
		snap, err := ex.Run(context.Background(), 1, 2)
		first <- result{snap, err}
	}()
	<-gate.entered

	// The second run must not reach the blocked embedder.
	ex.Resolver().SetPreferReal(false)
	second, err := ex.Run(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), second.Generation)

	close(gate.release)
	r := <-first
	require.Error(t, r.err)
	assert.True(t, errors.Is(r.err, ErrSuperseded))
	assert.Equal(t, uint64(1), r.snap.Generation)

	assert.Same(t, second, ex.Latest())
}

func TestExplorer_CancelledRun(t *testing.T) {
	ex := newExplorer(t, &memorySource{events: sampleEvents(3)}, nil, ExplorerOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ex.Run(ctx, 2, 2)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, ex.Latest())
}

func TestExplorer_PersistsToEventLog(t *testing.T) {
	ctx := context.Background()
	log, err := sqlite.NewEventStore(ctx, ":memory:", logging.Discard())
	require.NoError(t, err)
	defer log.Close()

	ex := newExplorer(t, &memorySource{events: sampleEvents(4)}, nil, ExplorerOptions{Log: log})
	snap, err := ex.Run(ctx, 2, 2)
	require.NoError(t, err)
	assert.Zero(t, snap.Degraded.PersistFailures)

	count, err := log.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	stored, err := log.GetEmbedding(ctx, snap.Embeddings[0].Timestamp)
	require.NoError(t, err)
	assert.Equal(t, snap.Embeddings[0], stored)
}

func TestExplorer_Reset(t *testing.T) {
	ex := newExplorer(t, &memorySource{events: sampleEvents(3)}, nil, ExplorerOptions{})
	_, err := ex.Run(context.Background(), 2, 2)
	require.NoError(t, err)

	require.NoError(t, ex.Reset())
	assert.Nil(t, ex.Latest())
	assert.Zero(t, ex.Store().Len())
	assert.Zero(t, ex.Index().Count())
	assert.Zero(t, ex.Resolver().Cache().Len())
}

func TestNewExplorer_RequiresComponents(t *testing.T) {
	_, err := NewExplorer(nil, nil, nil, ExplorerOptions{})
	assert.Error(t, err)
}
