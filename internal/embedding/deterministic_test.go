package embedding

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbursa/latent-journey-sub000/pkg/types"
)

func TestHash(t *testing.T) {
	tests := []struct {
		in   string
		want int32
	}{
		{"", 0},
		{"a", 97},
		{"ab", 97*31 + 98},
		{"hello", 99162322},
		{"polygenelubricants", math.MinInt32},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Hash(tt.in), tt.in)
	}
}

func TestHash_UTF16CodeUnits(t *testing.T) {
	// U+1F600 is a surrogate pair: 0xD83D 0xDE00.
	want := int32(0xD83D)*31 + int32(0xDE00)
	assert.Equal(t, want, Hash("\U0001F600"))
}

func TestFormatTimestamp(t *testing.T) {
	assert.Equal(t, "1000", formatTimestamp(1000))
	assert.Equal(t, "1000.5", formatTimestamp(1000.5))
	assert.Equal(t, "1700000000123", formatTimestamp(1.700000000123e12))
}

func speechEvent() types.MemoryEvent {
	var f types.Facets
	f.Set(types.FacetSpeechIntent, types.StringFacet("greeting"))
	f.Set(types.FacetValence, types.NumberFacet(0.8))
	f.Set(types.FacetArousal, types.NumberFacet(0.4))
	return types.MemoryEvent{Timestamp: 1000, Source: types.SourceSpeech, Content: "Hello", Facets: f}
}

func TestDeterministic_IsDeterministic(t *testing.T) {
	ev := speechEvent()
	a := Deterministic{}.Embed(ev)
	b := Deterministic{}.Embed(ev.Clone())

	require.Len(t, a.Vector, types.Dimensions)
	assert.Equal(t, a, b)
	assert.Equal(t, types.OriginDeterministic, a.Origin)
	assert.Equal(t, 0.5, a.Confidence)
}

func TestDeterministic_Bands(t *testing.T) {
	ev := speechEvent()
	v := Deterministic{}.Embed(ev).Vector

	lower := Hash("hello")
	assert.InDelta(t, math.Sin(float64(lower)*0.01), v[0], 1e-12, "content is lowercased")
	assert.InDelta(t, math.Sin(float64(Hash("greeting"))*2*0.01), v[31], 1e-12)
	assert.InDelta(t, 0.8*math.Sin(55*0.1), v[55], 1e-12)
	assert.InDelta(t, 0.4*math.Cos(65*0.1), v[65], 1e-12)
	assert.InDelta(t, math.Sin(float64(Hash("speech"))*0.01), v[70], 1e-12)
	assert.InDelta(t, math.Sin(float64(Hash("1000"))*0.01), v[90], 1e-12)
	assert.InDelta(t, math.Sin(1000*0.001*101+6)*0.1, v[100], 1e-12)

	for i := 80; i < 90; i++ {
		assert.Zero(t, v[i], "memory band is empty for speech")
	}
}

func TestDeterministic_AbsentFacetsAreZero(t *testing.T) {
	ev := types.MemoryEvent{Timestamp: 5, Source: types.SourceLongTerm, Content: "recall"}
	v := Deterministic{}.Embed(ev).Vector

	for i := 30; i < 70; i++ {
		assert.Zero(t, v[i], "dimension %d", i)
	}
	assert.InDelta(t, math.Cos(float64(Hash("recall"))*0.01), v[80], 1e-12, "memory band set for ltm")
}

func TestDeterministic_ConfidenceFromFacet(t *testing.T) {
	ev := speechEvent()
	ev.Facets.Set(types.FacetConfidence, types.NumberFacet(0.93))
	assert.Equal(t, 0.93, Deterministic{}.Embed(ev).Confidence)

	ev.Facets.Set(types.FacetConfidence, types.NumberFacet(7))
	assert.Equal(t, 1.0, Deterministic{}.Embed(ev).Confidence)
}

func TestDeterministic_DistinguishesEvents(t *testing.T) {
	a := Deterministic{}.Embed(types.MemoryEvent{Timestamp: 1, Source: types.SourceVision, Content: "cat"})
	b := Deterministic{}.Embed(types.MemoryEvent{Timestamp: 2, Source: types.SourceVision, Content: "cat"})
	assert.NotEqual(t, a.Vector, b.Vector)
}

func TestNormalize(t *testing.T) {
	short := Normalize([]float64{1, 2})
	require.Len(t, short, types.Dimensions)
	assert.Equal(t, 2.0, short[1])
	assert.Zero(t, short[2])

	long := make([]float64, 300)
	long[127] = 9
	long[128] = 10
	out := Normalize(long)
	require.Len(t, out, types.Dimensions)
	assert.Equal(t, 9.0, out[127])
}
