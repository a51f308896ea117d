package projection

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbursa/latent-journey-sub000/internal/logging"
	"github.com/nbursa/latent-journey-sub000/pkg/types"
)

type fakeRemote struct {
	calls int
	out   [][]float64
	err   error
}

func (f *fakeRemote) Reduce(_ context.Context, vectors [][]float64, dims int) ([][]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.out != nil {
		return f.out, nil
	}
	out := make([][]float64, len(vectors))
	for i := range vectors {
		out[i] = make([]float64, dims)
		out[i][0] = float64(i) + 100
	}
	return out, nil
}

func newReducer(t *testing.T, remote Remote) *Reducer {
	t.Helper()
	r, err := NewReducer(remote, 0, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func embeddings(vectors ...[]float64) []types.Embedding {
	out := make([]types.Embedding, len(vectors))
	for i, v := range vectors {
		out[i] = types.Embedding{Vector: v}
	}
	return out
}

func TestReduce_FallbackFidelity(t *testing.T) {
	r := newReducer(t, &fakeRemote{err: errors.New("unreachable")})

	res := r.Reduce(context.Background(), embeddings(
		[]float64{1, 2, 3, 4},
		[]float64{5},
	), 3)

	assert.True(t, res.Fallback)
	assert.Equal(t, 3, res.Dims)
	assert.Equal(t, [][]float64{{1, 2, 3}, {5, 0, 0}}, res.Points)
}

func TestReduce_EmptyInputSkipsRemote(t *testing.T) {
	fake := &fakeRemote{}
	r := newReducer(t, fake)

	res := r.Reduce(context.Background(), nil, 2)
	assert.Empty(t, res.Points)
	assert.NotNil(t, res.Points)
	assert.Zero(t, fake.calls)
}

func TestReduce_MismatchedResponseFallsBack(t *testing.T) {
	tests := []struct {
		name string
		out  [][]float64
	}{
		{"too few rows", [][]float64{{1, 1}}},
		{"wrong width", [][]float64{{1, 1, 1}, {2, 2, 2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newReducer(t, &fakeRemote{out: tt.out})
			res := r.Reduce(context.Background(), embeddings([]float64{7, 8, 9}, []float64{1, 2, 3}), 2)
			assert.True(t, res.Fallback)
			assert.Equal(t, [][]float64{{7, 8}, {1, 2}}, res.Points)
		})
	}
}

func TestReduce_RemoteResultIsCached(t *testing.T) {
	fake := &fakeRemote{}
	r := newReducer(t, fake)
	in := embeddings([]float64{1, 2, 3}, []float64{4, 5, 6})

	first := r.Reduce(context.Background(), in, 2)
	second := r.Reduce(context.Background(), in, 2)

	assert.False(t, first.Fallback)
	assert.Equal(t, [][]float64{{100, 0}, {101, 0}}, first.Points)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Points, second.Points)
	assert.Equal(t, 1, fake.calls)

	third := r.Reduce(context.Background(), in, 3)
	assert.False(t, third.Cached, "width is part of the cache key")
	assert.Equal(t, 2, fake.calls)
}

func TestReduce_DimsClamped(t *testing.T) {
	r := newReducer(t, nil)
	in := embeddings([]float64{1, 2, 3, 4})

	assert.Equal(t, 2, r.Reduce(context.Background(), in, 1).Dims)
	assert.Equal(t, 3, r.Reduce(context.Background(), in, 9).Dims)
	assert.Equal(t, [][]float64{{1, 2, 3}}, r.Reduce(context.Background(), in, 9).Points)
}

func TestTruncate_DoesNotAlias(t *testing.T) {
	in := [][]float64{{1, 2, 3}}
	out := Truncate(in, 2)
	out[0][0] = 99
	assert.Equal(t, 1.0, in[0][0])
}
