// Package index keeps resolved embeddings searchable by source and by
// cosine similarity, backed by an in-process chromem-go collection.
package index

import (
	"context"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	chromem "github.com/philippgille/chromem-go"

	"github.com/nbursa/latent-journey-sub000/pkg/types"
)

const collectionName = "embeddings"

// ErrZeroVector is returned for embeddings without direction.
var ErrZeroVector = goerr.New("embedding has zero magnitude")

// Entry is one indexed event.
type Entry struct {
	Event      types.MemoryEvent `json:"event" yaml:"event"`
	Embedding  types.Embedding   `json:"embedding" yaml:"embedding"`
	Similarity float32           `json:"similarity,omitempty" yaml:"similarity,omitempty"`
}

// Index stores embeddings by event identity.
type Index struct {
	mu      sync.RWMutex
	db      *chromem.DB
	col     *chromem.Collection
	entries map[string]Entry
}

// New creates an empty in-memory index.
func New() (*Index, error) {
	idx := &Index{}
	if err := idx.reset(); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *Index) reset() error {
	db := chromem.NewDB()
	col, err := db.CreateCollection(collectionName, nil, nil)
	if err != nil {
		return goerr.Wrap(err, "create collection")
	}
	idx.db, idx.col = db, col
	idx.entries = make(map[string]Entry)
	return nil
}

// Add indexes ev under its identity, replacing a previous entry.
func (idx *Index) Add(ctx context.Context, ev types.MemoryEvent, emb types.Embedding) error {
	if magnitude(emb.Vector) == 0 {
		return goerr.Wrap(ErrZeroVector, "index event", goerr.V("ts", ev.Timestamp))
	}

	id := ev.Key().String()
	vec := make([]float32, len(emb.Vector))
	for i, f := range emb.Vector {
		vec[i] = float32(f)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	err := idx.col.AddDocument(ctx, chromem.Document{
		ID: id,
		Metadata: map[string]string{
			"source": string(ev.Source),
			"ts":     strconv.FormatFloat(ev.Timestamp, 'f', -1, 64),
			"origin": string(emb.Origin),
		},
		Embedding: vec,
		Content:   ev.Text(),
	})
	if err != nil {
		return goerr.Wrap(err, "add document", goerr.V("id", id))
	}
	idx.entries[id] = Entry{Event: ev.Clone(), Embedding: emb}
	return nil
}

// Count returns the number of indexed events.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// All returns every entry, newest first.
func (idx *Index) All() []Entry {
	return idx.filter(func(Entry) bool { return true })
}

// BySource returns the entries of one source, newest first.
func (idx *Index) BySource(src types.Source) []Entry {
	return idx.filter(func(e Entry) bool { return e.Event.Source == src })
}

func (idx *Index) filter(keep func(Entry) bool) []Entry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]Entry, 0)
	for _, e := range idx.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Event.Timestamp > out[j].Event.Timestamp })
	return out
}

// Similar returns up to n entries most similar to vector, best first.
func (idx *Index) Similar(ctx context.Context, vector []float64, n int) ([]Entry, error) {
	if magnitude(vector) == 0 {
		return nil, goerr.Wrap(ErrZeroVector, "similarity query")
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if count := idx.col.Count(); n > count {
		n = count
	}
	if n < 1 {
		return []Entry{}, nil
	}

	query := make([]float32, len(vector))
	for i, f := range vector {
		query[i] = float32(f)
	}
	results, err := idx.col.QueryEmbedding(ctx, query, n, nil, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "query embeddings", goerr.V("n", n))
	}

	out := make([]Entry, 0, len(results))
	for _, r := range results {
		e, ok := idx.entries[r.ID]
		if !ok {
			continue
		}
		e.Similarity = r.Similarity
		out = append(out, e)
	}
	return out, nil
}

// Reset drops every entry.
func (idx *Index) Reset() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.reset()
}

func magnitude(v []float64) float64 {
	var sum float64
	for _, f := range v {
		sum += f * f
	}
	return math.Sqrt(sum)
}
