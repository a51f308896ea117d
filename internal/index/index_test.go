package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbursa/latent-journey-sub000/pkg/types"
)

func entry(ts float64, src types.Source, vec ...float64) (types.MemoryEvent, types.Embedding) {
	ev := types.MemoryEvent{Timestamp: ts, Source: src, Content: "c"}
	return ev, types.Embedding{Vector: vec, Source: src, Timestamp: ts, Origin: types.OriginDeterministic}
}

func TestIndex_AddAndBySource(t *testing.T) {
	idx, err := New()
	require.NoError(t, err)
	ctx := context.Background()

	for _, e := range []struct {
		ts  float64
		src types.Source
	}{{1, types.SourceVision}, {3, types.SourceVision}, {2, types.SourceSpeech}} {
		ev, emb := entry(e.ts, e.src, 1, 0)
		require.NoError(t, idx.Add(ctx, ev, emb))
	}

	assert.Equal(t, 3, idx.Count())
	vision := idx.BySource(types.SourceVision)
	require.Len(t, vision, 2)
	assert.Equal(t, 3.0, vision[0].Event.Timestamp)
	assert.Empty(t, idx.BySource(types.SourceLongTerm))
	assert.Len(t, idx.All(), 3)
}

func TestIndex_AddReplaces(t *testing.T) {
	idx, err := New()
	require.NoError(t, err)
	ctx := context.Background()

	ev, emb := entry(1, types.SourceVision, 1, 0)
	require.NoError(t, idx.Add(ctx, ev, emb))
	require.NoError(t, idx.Add(ctx, ev, emb))
	assert.Equal(t, 1, idx.Count())
}

func TestIndex_Similar(t *testing.T) {
	idx, err := New()
	require.NoError(t, err)
	ctx := context.Background()

	east, embEast := entry(1, types.SourceVision, 1, 0)
	north, embNorth := entry(2, types.SourceVision, 0, 1)
	nearEast, embNearEast := entry(3, types.SourceSpeech, 0.9, 0.1)
	for _, p := range []struct {
		ev  types.MemoryEvent
		emb types.Embedding
	}{{east, embEast}, {north, embNorth}, {nearEast, embNearEast}} {
		require.NoError(t, idx.Add(ctx, p.ev, p.emb))
	}

	got, err := idx.Similar(ctx, []float64{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1.0, got[0].Event.Timestamp)
	assert.Equal(t, 3.0, got[1].Event.Timestamp)
	assert.Greater(t, got[0].Similarity, got[1].Similarity)

	all, err := idx.Similar(ctx, []float64{1, 0}, 50)
	require.NoError(t, err)
	assert.Len(t, all, 3, "n is clamped to the collection size")
}

func TestIndex_ZeroVectorRejected(t *testing.T) {
	idx, err := New()
	require.NoError(t, err)

	ev, emb := entry(1, types.SourceVision, 0, 0)
	assert.ErrorIs(t, idx.Add(context.Background(), ev, emb), ErrZeroVector)

	_, err = idx.Similar(context.Background(), []float64{0, 0}, 1)
	assert.ErrorIs(t, err, ErrZeroVector)
}

func TestIndex_Reset(t *testing.T) {
	idx, err := New()
	require.NoError(t, err)
	ctx := context.Background()

	ev, emb := entry(1, types.SourceVision, 1, 1)
	require.NoError(t, idx.Add(ctx, ev, emb))
	require.NoError(t, idx.Reset())

	assert.Zero(t, idx.Count())
	got, err := idx.Similar(ctx, []float64{1, 1}, 3)
	require.NoError(t, err)
	assert.Empty(t, got)
}
