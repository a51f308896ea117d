// Package types defines the core data structures for the latent-journey
// engine: perception events, their embeddings, and the clusters and semantic
// groups derived from them.
package types

import (
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// Dimensions is the fixed width of every Embedding vector.
const Dimensions = 128

// Source is the modality an event originated from.
type Source string

// Source modality constants
const (
	// SourceVision is a camera observation
	SourceVision Source = "vision"

	// SourceSpeech is a transcribed utterance
	SourceSpeech Source = "speech"

	// SourceShortTerm is a derived short-term-memory record
	SourceShortTerm Source = "stm"

	// SourceLongTerm is a consolidated long-term-memory record
	SourceLongTerm Source = "ltm"
)

// Sources lists every known source in display order.
var Sources = []Source{SourceVision, SourceSpeech, SourceShortTerm, SourceLongTerm}

// ErrUnknownSource is returned by ParseSource for unrecognised values.
var ErrUnknownSource = goerr.New("unknown event source")

// ParseSource converts a wire value to a Source. Both the short form
// ("stm") and the long form ("short-term-memory") are accepted.
func ParseSource(s string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "vision":
		return SourceVision, nil
	case "speech":
		return SourceSpeech, nil
	case "stm", "short-term-memory", "short_term_memory":
		return SourceShortTerm, nil
	case "ltm", "long-term-memory", "long_term_memory":
		return SourceLongTerm, nil
	}
	return "", goerr.Wrap(ErrUnknownSource, "parse source", goerr.V("source", s))
}

// IsMemory reports whether the source is one of the memory tiers.
func (s Source) IsMemory() bool {
	return s == SourceShortTerm || s == SourceLongTerm
}

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceVision, SourceSpeech, SourceShortTerm, SourceLongTerm:
		return true
	}
	return false
}

// DisplayName returns a human readable name used in labels.
func (s Source) DisplayName() string {
	switch s {
	case SourceVision:
		return "Vision"
	case SourceSpeech:
		return "Speech"
	case SourceShortTerm:
		return "Short-term memory"
	case SourceLongTerm:
		return "Long-term memory"
	}
	return string(s)
}
