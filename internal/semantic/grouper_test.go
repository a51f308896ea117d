package semantic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbursa/latent-journey-sub000/pkg/types"
)

func event(ts float64, src types.Source, valence *float64) types.MemoryEvent {
	var f types.Facets
	if valence != nil {
		f.Set(types.FacetValence, types.NumberFacet(*valence))
	}
	return types.MemoryEvent{Timestamp: ts, Source: src, Facets: f}
}

func groupByID(groups []types.SemanticGroup) map[string]types.SemanticGroup {
	out := make(map[string]types.SemanticGroup, len(groups))
	for _, g := range groups {
		out[g.ID] = g
	}
	return out
}

func timestamps(members []types.MemoryEvent) []float64 {
	out := make([]float64, len(members))
	for i, m := range members {
		out[i] = m.Timestamp
	}
	return out
}

func TestGroup_Empty(t *testing.T) {
	groups := Grouper{}.Group(nil)
	assert.NotNil(t, groups)
	assert.Empty(t, groups)
}

func TestGroup_SourceOrder(t *testing.T) {
	events := []types.MemoryEvent{
		event(1, types.SourceLongTerm, nil),
		event(2, types.SourceSpeech, nil),
		event(3, types.SourceVision, nil),
	}
	groups := Grouper{}.Group(events)

	require.GreaterOrEqual(t, len(groups), 3)
	assert.Equal(t, "source-vision", groups[0].ID)
	assert.Equal(t, "source-speech", groups[1].ID)
	assert.Equal(t, "source-ltm", groups[2].ID)
}

func TestGroup_TimeTertiles(t *testing.T) {
	events := []types.MemoryEvent{
		event(100, types.SourceVision, nil),
		event(70, types.SourceVision, nil),
		event(50, types.SourceVision, nil),
		event(10, types.SourceVision, nil),
		event(0, types.SourceVision, nil),
	}
	byID := groupByID(Grouper{}.Group(events))

	assert.Equal(t, []float64{100, 70}, timestamps(byID["time-recent"].Members))
	assert.Equal(t, []float64{50}, timestamps(byID["time-middle"].Members))
	assert.Equal(t, []float64{10, 0}, timestamps(byID["time-old"].Members))
}

func TestGroup_DegenerateRangeIsRecent(t *testing.T) {
	events := []types.MemoryEvent{
		event(5, types.SourceVision, nil),
		event(5, types.SourceSpeech, nil),
	}
	byID := groupByID(Grouper{}.Group(events))

	assert.Len(t, byID["time-recent"].Members, 2)
	_, ok := byID["time-middle"]
	assert.False(t, ok, "empty buckets are not emitted")
	_, ok = byID["time-old"]
	assert.False(t, ok)
}

func TestGroup_Valence(t *testing.T) {
	low, mid, high := 0.1, 0.5, 0.9
	edgeLow, edgeHigh := 0.3, 0.7
	events := []types.MemoryEvent{
		event(1, types.SourceSpeech, &low),
		event(2, types.SourceSpeech, &mid),
		event(3, types.SourceSpeech, &high),
		event(4, types.SourceSpeech, &edgeLow),
		event(5, types.SourceSpeech, &edgeHigh),
		event(6, types.SourceSpeech, nil),
	}
	byID := groupByID(Grouper{}.Group(events))

	assert.Equal(t, []float64{1}, timestamps(byID["emotion-negative"].Members))
	assert.Equal(t, []float64{3}, timestamps(byID["emotion-positive"].Members))
	assert.Equal(t, []float64{2, 4, 5, 6}, timestamps(byID["emotion-neutral"].Members))
}

func TestGroup_EveryEventInThreeGroups(t *testing.T) {
	v := 0.9
	events := []types.MemoryEvent{
		event(1, types.SourceVision, &v),
		event(2, types.SourceSpeech, nil),
		event(9, types.SourceShortTerm, nil),
	}
	counts := make(map[float64]int)
	for _, g := range (Grouper{}).Group(events) {
		for _, m := range g.Members {
			counts[m.Timestamp]++
		}
	}
	for _, ev := range events {
		assert.Equal(t, 3, counts[ev.Timestamp])
	}
}
