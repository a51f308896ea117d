package types

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// MemoryEvent is a single perception or thought record on the timeline.
// Timestamp is the identity key within a store.
type MemoryEvent struct {
	ID        string    `json:"id,omitempty" yaml:"id,omitempty"`               // Optional stable identifier (uuid)
	Timestamp float64   `json:"ts" yaml:"ts"`                                   // Seconds since epoch, used as identity
	Source    Source    `json:"source" yaml:"source"`                           // Modality the event came from
	Facets    Facets    `json:"facets" yaml:"facets"`                           // Named attributes (affect.valence, speech.transcript, ...)
	Content   string    `json:"content,omitempty" yaml:"content,omitempty"`     // Free text
	Tags      []string  `json:"tags,omitempty" yaml:"tags,omitempty"`           // Set of tags
	Embedding []float64 `json:"embedding,omitempty" yaml:"embedding,omitempty"` // Pre-computed embedding, if the producer supplied one
}

// Key returns the composite identity used for embedding caches.
func (e MemoryEvent) Key() EventKey {
	return EventKey{Timestamp: e.Timestamp, Source: e.Source, Content: e.Content}
}

// HasEmbedding reports whether the event already carries a vector.
func (e MemoryEvent) HasEmbedding() bool {
	return len(e.Embedding) > 0
}

// Text returns the text best describing the event for remote embedding:
// content, then the transcript, then the detected object.
func (e MemoryEvent) Text() string {
	if e.Content != "" {
		return e.Content
	}
	if e.Facets.Transcript != nil {
		return *e.Facets.Transcript
	}
	if e.Facets.VisionObject != nil {
		return *e.Facets.VisionObject
	}
	return ""
}

// HasTag reports whether tag is present.
func (e MemoryEvent) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (e MemoryEvent) Clone() MemoryEvent {
	out := e
	out.Facets = e.Facets.Clone()
	if e.Tags != nil {
		out.Tags = append([]string(nil), e.Tags...)
	}
	if e.Embedding != nil {
		out.Embedding = append([]float64(nil), e.Embedding...)
	}
	return out
}

// UnmarshalJSON accepts "ts" or "timestamp", normalises the source and
// de-duplicates tags.
func (e *MemoryEvent) UnmarshalJSON(data []byte) error {
	type alias MemoryEvent
	var aux struct {
		alias
		Timestamp *float64 `json:"timestamp" yaml:"timestamp"`
		Source    string   `json:"source" yaml:"source"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*e = MemoryEvent(aux.alias)
	if aux.Timestamp != nil && e.Timestamp == 0 {
		e.Timestamp = *aux.Timestamp
	}
	if src, err := ParseSource(aux.Source); err == nil {
		e.Source = src
	} else {
		e.Source = Source(strings.ToLower(aux.Source))
	}
	e.Tags = dedupTags(e.Tags)
	return nil
}

func dedupTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := tags[:0]
	for _, t := range tags {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// EventKey is the composite identity (timestamp, source, content).
type EventKey struct {
	Timestamp float64
	Source    Source
	Content   string
}

// String renders the key, stable across runs.
func (k EventKey) String() string {
	return strconv.FormatFloat(k.Timestamp, 'f', -1, 64) + "|" + string(k.Source) + "|" + k.Content
}

// Origin records how an Embedding was produced.
type Origin string

// Embedding origin constants
const (
	// OriginProvided means the event carried its own vector
	OriginProvided Origin = "provided"

	// OriginRemote means the remote embedding service produced the vector
	OriginRemote Origin = "remote"

	// OriginDeterministic means the local hash embedder produced the vector
	OriginDeterministic Origin = "deterministic"
)

// Embedding is an event's position in latent space. Never mutated after
// creation.
type Embedding struct {
	Vector     []float64 `json:"vector" yaml:"vector"`
	Confidence float64   `json:"confidence" yaml:"confidence"`
	Source     Source    `json:"source" yaml:"source"`
	Timestamp  float64   `json:"ts" yaml:"ts"`
	Origin     Origin    `json:"origin" yaml:"origin"`
}

// Cluster is one k-means cluster. Recomputed on every run.
type Cluster struct {
	ID       string        `json:"id" yaml:"id"`
	Centroid []float64     `json:"centroid" yaml:"centroid"`
	Members  []MemoryEvent `json:"members" yaml:"members"`
	Label    string        `json:"label" yaml:"label"`
	Color    string        `json:"color" yaml:"color"`
	Size     int           `json:"size" yaml:"size"`
}

// SemanticGroup is a rule-based tag over events. Groups may overlap.
type SemanticGroup struct {
	ID          string        `json:"id" yaml:"id"`
	Name        string        `json:"name" yaml:"name"`
	Description string        `json:"description" yaml:"description"`
	Members     []MemoryEvent `json:"members" yaml:"members"`
	Keywords    []string      `json:"keywords" yaml:"keywords"`
	Color       string        `json:"color" yaml:"color"`
}
