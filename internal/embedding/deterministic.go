// Package embedding turns memory events into 128-dimensional vectors.
//
// The Deterministic embedder is pure and total, so it doubles as the fallback
// for every remote failure. Resolver layers a cache and the remote service on
// top of it, and BatchFetcher resolves many events in bounded windows.
package embedding

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/nbursa/latent-journey-sub000/pkg/types"
)

// Band boundaries of the deterministic vector.
const (
	contentEnd  = 30
	intentEnd   = 50
	valenceEnd  = 60
	arousalEnd  = 70
	sourceEnd   = 80
	memoryEnd   = 90
	timeEnd     = 100
	noiseAmp    = 0.1
	hashScale   = 0.01
	angleScale  = 0.1
	timeScale   = 0.001
	defaultConf = 0.5
)

// Hash is the 32-bit string hash h = h*31 + c over UTF-16 code units with
// two's complement wraparound.
func Hash(s string) int32 {
	var h int32
	for _, c := range utf16.Encode([]rune(s)) {
		h = h*31 + int32(c)
	}
	return h
}

// Deterministic derives an embedding from event fields alone.
type Deterministic struct{}

// Embed returns the vector for ev. Identical events always produce identical
// vectors; absent facets contribute zeros.
func (Deterministic) Embed(ev types.MemoryEvent) types.Embedding {
	v := make([]float64, types.Dimensions)

	contentHash := Hash(strings.ToLower(ev.Content))
	hashBand(v, 0, contentEnd, contentHash, math.Sin)

	if ev.Facets.Intent != nil {
		hashBand(v, contentEnd, intentEnd, Hash(*ev.Facets.Intent), math.Sin)
	}

	valence := ev.Facets.ValenceOr(0)
	for i := intentEnd; i < valenceEnd; i++ {
		v[i] = valence * math.Sin(float64(i)*angleScale)
	}

	arousal := ev.Facets.ArousalOr(0)
	for i := valenceEnd; i < arousalEnd; i++ {
		v[i] = arousal * math.Cos(float64(i)*angleScale)
	}

	hashBand(v, arousalEnd, sourceEnd, Hash(string(ev.Source)), math.Sin)

	if ev.Source.IsMemory() {
		hashBand(v, sourceEnd, memoryEnd, contentHash, math.Cos)
	}

	hashBand(v, memoryEnd, timeEnd, Hash(formatTimestamp(ev.Timestamp)), math.Sin)

	seed := float64(len(ev.Source))
	for i := timeEnd; i < types.Dimensions; i++ {
		v[i] = math.Sin(ev.Timestamp*timeScale*float64(i+1)+seed) * noiseAmp
	}

	return types.Embedding{
		Vector:     v,
		Confidence: clamp01(ev.Facets.ConfidenceOr(defaultConf)),
		Source:     ev.Source,
		Timestamp:  ev.Timestamp,
		Origin:     types.OriginDeterministic,
	}
}

// hashBand fills v[from:to] with wave(h * (j+1) * 0.01), j counting from 0
// within the band.
func hashBand(v []float64, from, to int, h int32, wave func(float64) float64) {
	for j := 0; j < to-from; j++ {
		v[from+j] = wave(float64(h) * float64(j+1) * hashScale)
	}
}

// formatTimestamp renders ts in shortest round-trip form without an exponent,
// so 1000 becomes "1000".
func formatTimestamp(ts float64) string {
	return strconv.FormatFloat(ts, 'f', -1, 64)
}

func clamp01(f float64) float64 {
	switch {
	case math.IsNaN(f):
		return defaultConf
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

// Normalize zero-pads or truncates vec to types.Dimensions entries and
// returns a fresh slice.
func Normalize(vec []float64) []float64 {
	out := make([]float64, types.Dimensions)
	copy(out, vec)
	return out
}
