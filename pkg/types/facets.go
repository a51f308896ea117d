package types

import (
	"encoding/json"
	"sort"
	"strconv"

	"github.com/m-mizutani/goerr/v2"
)

// Known facet keys. Anything else lands in Facets.Other.
const (
	FacetValence          = "affect.valence"
	FacetArousal          = "affect.arousal"
	FacetConfidence       = "confidence"
	FacetSpeechIntent     = "speech.intent"
	FacetSpeechTranscript = "speech.transcript"
	FacetSpeechSentiment  = "speech.sentiment"
	FacetVisionObject     = "vision.object"
	FacetDominantColor    = "color.dominant"
)

type facetKind uint8

const (
	facetNone facetKind = iota
	facetString
	facetNumber
)

// FacetValue is a string or a number.
type FacetValue struct {
	kind facetKind
	str  string
	num  float64
}

// StringFacet wraps a string value.
func StringFacet(s string) FacetValue { return FacetValue{kind: facetString, str: s} }

// NumberFacet wraps a numeric value.
func NumberFacet(f float64) FacetValue { return FacetValue{kind: facetNumber, num: f} }

// IsZero reports whether the value holds nothing.
func (v FacetValue) IsZero() bool { return v.kind == facetNone }

// IsNumber reports whether the value is numeric.
func (v FacetValue) IsNumber() bool { return v.kind == facetNumber }

// Str returns the string form and whether the value is a string.
func (v FacetValue) Str() (string, bool) { return v.str, v.kind == facetString }

// Num returns the numeric form and whether the value is a number.
func (v FacetValue) Num() (float64, bool) { return v.num, v.kind == facetNumber }

// String renders the value for display and hashing.
func (v FacetValue) String() string {
	switch v.kind {
	case facetString:
		return v.str
	case facetNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	}
	return ""
}

// MarshalJSON implements json.Marshaler.
func (v FacetValue) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case facetString:
		return json.Marshal(v.str)
	case facetNumber:
		return json.Marshal(v.num)
	}
	return []byte("null"), nil
}

// MarshalYAML writes the bare string or number.
func (v FacetValue) MarshalYAML() (any, error) {
	switch v.kind {
	case facetString:
		return v.str, nil
	case facetNumber:
		return v.num, nil
	}
	return nil, nil
}

// UnmarshalJSON implements json.Unmarshaler. Booleans become 0/1; arrays and
// objects are kept as their raw JSON text.
func (v *FacetValue) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return goerr.Wrap(err, "decode facet value")
	}
	switch t := raw.(type) {
	case nil:
		*v = FacetValue{}
	case string:
		*v = StringFacet(t)
	case float64:
		*v = NumberFacet(t)
	case bool:
		if t {
			*v = NumberFacet(1)
		} else {
			*v = NumberFacet(0)
		}
	default:
		*v = StringFacet(string(data))
	}
	return nil
}

// Facets holds the named attributes of an event. Well-known facets are typed
// fields; unknown keys are kept in Other so newer producers stay compatible.
type Facets struct {
	Valence       *float64 // affect.valence
	Arousal       *float64 // affect.arousal
	Confidence    *float64 // confidence
	Intent        *string  // speech.intent
	Transcript    *string  // speech.transcript
	Sentiment     *string  // speech.sentiment
	VisionObject  *string  // vision.object
	DominantColor *string  // color.dominant

	Other map[string]FacetValue
}

// Float returns a pointer to f, for building facet literals.
func Float(f float64) *float64 { return &f }

// Text returns a pointer to s, for building facet literals.
func Text(s string) *string { return &s }

// ValenceOr returns the valence facet or def when absent.
func (f Facets) ValenceOr(def float64) float64 {
	if f.Valence == nil {
		return def
	}
	return *f.Valence
}

// ArousalOr returns the arousal facet or def when absent.
func (f Facets) ArousalOr(def float64) float64 {
	if f.Arousal == nil {
		return def
	}
	return *f.Arousal
}

// ConfidenceOr returns the confidence facet or def when absent.
func (f Facets) ConfidenceOr(def float64) float64 {
	if f.Confidence == nil {
		return def
	}
	return *f.Confidence
}

func (f *Facets) numberField(key string) **float64 {
	switch key {
	case FacetValence:
		return &f.Valence
	case FacetArousal:
		return &f.Arousal
	case FacetConfidence:
		return &f.Confidence
	}
	return nil
}

func (f *Facets) stringField(key string) **string {
	switch key {
	case FacetSpeechIntent:
		return &f.Intent
	case FacetSpeechTranscript:
		return &f.Transcript
	case FacetSpeechSentiment:
		return &f.Sentiment
	case FacetVisionObject:
		return &f.VisionObject
	case FacetDominantColor:
		return &f.DominantColor
	}
	return nil
}

// Set stores a value under key. Numeric facets given as numeric strings are
// parsed; values that do not fit a typed field go to Other.
func (f *Facets) Set(key string, v FacetValue) {
	if v.IsZero() {
		f.Delete(key)
		return
	}
	if p := f.numberField(key); p != nil {
		if n, ok := v.Num(); ok {
			*p = Float(n)
			return
		}
		if s, ok := v.Str(); ok {
			if n, err := strconv.ParseFloat(s, 64); err == nil {
				*p = Float(n)
				return
			}
		}
	}
	if p := f.stringField(key); p != nil {
		*p = Text(v.String())
		return
	}
	if f.Other == nil {
		f.Other = make(map[string]FacetValue)
	}
	f.Other[key] = v
}

// Delete removes key from the facet set.
func (f *Facets) Delete(key string) {
	if p := f.numberField(key); p != nil {
		*p = nil
	}
	if p := f.stringField(key); p != nil {
		*p = nil
	}
	delete(f.Other, key)
}

// Get returns the value stored under key.
func (f Facets) Get(key string) (FacetValue, bool) {
	if p := f.numberField(key); p != nil && *p != nil {
		return NumberFacet(**p), true
	}
	if p := f.stringField(key); p != nil && *p != nil {
		return StringFacet(**p), true
	}
	v, ok := f.Other[key]
	return v, ok
}

// Keys lists every present key in sorted order.
func (f Facets) Keys() []string {
	keys := make([]string, 0, len(f.Other)+8)
	for _, k := range []string{FacetValence, FacetArousal, FacetConfidence} {
		if *f.numberField(k) != nil {
			keys = append(keys, k)
		}
	}
	for _, k := range []string{FacetSpeechIntent, FacetSpeechTranscript, FacetSpeechSentiment, FacetVisionObject, FacetDominantColor} {
		if *f.stringField(k) != nil {
			keys = append(keys, k)
		}
	}
	for k := range f.Other {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of present facets.
func (f Facets) Len() int { return len(f.Keys()) }

// Map flattens the facets into a key/value map, the wire shape.
func (f Facets) Map() map[string]FacetValue {
	out := make(map[string]FacetValue, len(f.Other)+8)
	for _, k := range f.Keys() {
		v, _ := f.Get(k)
		out[k] = v
	}
	return out
}

// Clone returns a deep copy.
func (f Facets) Clone() Facets {
	var out Facets
	for k, v := range f.Map() {
		out.Set(k, v)
	}
	return out
}

// MarshalJSON writes the facets as a flat JSON object.
func (f Facets) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Map())
}

// MarshalYAML writes the facets as a flat mapping.
func (f Facets) MarshalYAML() (any, error) {
	return f.Map(), nil
}

// UnmarshalJSON reads a flat JSON object.
func (f *Facets) UnmarshalJSON(data []byte) error {
	var raw map[string]FacetValue
	if err := json.Unmarshal(data, &raw); err != nil {
		return goerr.Wrap(err, "decode facets")
	}
	*f = Facets{}
	for k, v := range raw {
		f.Set(k, v)
	}
	return nil
}
