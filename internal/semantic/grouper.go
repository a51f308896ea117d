// Package semantic tags events with overlapping rule-based groups: by source,
// by relative age and by emotional valence.
package semantic

import (
	"sort"

	"github.com/nbursa/latent-journey-sub000/pkg/types"
)

// Valence thresholds. Events without a valence facet count as neutral.
const (
	NegativeBelow  = 0.3
	PositiveAbove  = 0.7
	DefaultValence = 0.5
)

var sourceColors = map[types.Source]string{
	types.SourceVision:    "#00ff88",
	types.SourceSpeech:    "#4ecdc4",
	types.SourceShortTerm: "#ffd93d",
	types.SourceLongTerm:  "#a78bfa",
}

// Grouper builds semantic groups. The zero value is ready to use.
type Grouper struct{}

// Group returns the non-empty groups for events. Groups overlap: every event
// belongs to one source group, one time group and one valence group.
func (Grouper) Group(events []types.MemoryEvent) []types.SemanticGroup {
	if len(events) == 0 {
		return []types.SemanticGroup{}
	}

	groups := bySource(events)
	groups = append(groups, byTime(events)...)
	groups = append(groups, byValence(events)...)
	return groups
}

func bySource(events []types.MemoryEvent) []types.SemanticGroup {
	buckets := make(map[types.Source][]types.MemoryEvent)
	for _, ev := range events {
		buckets[ev.Source] = append(buckets[ev.Source], ev)
	}

	order := append([]types.Source(nil), types.Sources...)
	var extra []types.Source
	for src := range buckets {
		if !src.Valid() {
			extra = append(extra, src)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	order = append(order, extra...)

	var out []types.SemanticGroup
	for _, src := range order {
		members := buckets[src]
		if len(members) == 0 {
			continue
		}
		color, ok := sourceColors[src]
		if !ok {
			color = "#9ca3af"
		}
		out = append(out, types.SemanticGroup{
			ID:          "source-" + string(src),
			Name:        src.DisplayName(),
			Description: "Events captured from " + src.DisplayName(),
			Members:     members,
			Keywords:    []string{string(src)},
			Color:       color,
		})
	}
	return out
}

// byTime splits the timestamp range into three equal-width intervals. A
// degenerate range puts everything in "Recent".
func byTime(events []types.MemoryEvent) []types.SemanticGroup {
	sorted := append([]types.MemoryEvent(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })
	lo, hi := sorted[0].Timestamp, sorted[len(sorted)-1].Timestamp
	span := hi - lo

	var recent, middle, old []types.MemoryEvent
	for _, ev := range events {
		if span <= 0 {
			recent = append(recent, ev)
			continue
		}
		pos := (ev.Timestamp - lo) / span
		switch {
		case pos >= 2.0/3.0:
			recent = append(recent, ev)
		case pos >= 1.0/3.0:
			middle = append(middle, ev)
		default:
			old = append(old, ev)
		}
	}

	var out []types.SemanticGroup
	add := func(id, name, desc string, members []types.MemoryEvent, color string) {
		if len(members) > 0 {
			out = append(out, types.SemanticGroup{
				ID: id, Name: name, Description: desc,
				Members: members, Keywords: []string{"time", id[len("time-"):]}, Color: color,
			})
		}
	}
	add("time-recent", "Recent", "Newest third of the timeline", recent, "#60a5fa")
	add("time-middle", "Middle", "Middle third of the timeline", middle, "#818cf8")
	add("time-old", "Old", "Oldest third of the timeline", old, "#6b7280")
	return out
}

// Valence classifies v as negative, positive or neutral.
func Valence(v float64) string {
	switch {
	case v < NegativeBelow:
		return "negative"
	case v > PositiveAbove:
		return "positive"
	default:
		return "neutral"
	}
}

func byValence(events []types.MemoryEvent) []types.SemanticGroup {
	buckets := make(map[string][]types.MemoryEvent)
	for _, ev := range events {
		class := Valence(ev.Facets.ValenceOr(DefaultValence))
		buckets[class] = append(buckets[class], ev)
	}

	meta := []struct{ class, name, desc, color string }{
		{"positive", "Positive", "Events with high emotional valence", "#34d399"},
		{"neutral", "Neutral", "Events with moderate or unknown valence", "#fbbf24"},
		{"negative", "Negative", "Events with low emotional valence", "#f87171"},
	}

	var out []types.SemanticGroup
	for _, m := range meta {
		if len(buckets[m.class]) == 0 {
			continue
		}
		out = append(out, types.SemanticGroup{
			ID:          "emotion-" + m.class,
			Name:        m.name,
			Description: m.desc,
			Members:     buckets[m.class],
			Keywords:    []string{"emotion", m.class},
			Color:       m.color,
		})
	}
	return out
}
