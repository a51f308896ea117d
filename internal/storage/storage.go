// Package storage defines the persistent event log used for offline
// operation. Implementations live in the sqlite and postgres subpackages and
// satisfy timeline.EventSource, so a store can feed the explorer directly.
package storage

import (
	"context"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/nbursa/latent-journey-sub000/pkg/types"
)

var (
	// ErrNotFound indicates that the requested event or embedding does not exist.
	ErrNotFound = goerr.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = goerr.New("invalid input")
)

// EventLog persists memory events keyed by timestamp, plus the embeddings
// resolved for them.
type EventLog interface {
	// Append inserts events, ignoring timestamps already stored. It returns
	// the number of rows inserted.
	Append(ctx context.Context, events ...types.MemoryEvent) (int, error)

	// Recent returns up to limit events, newest first.
	Recent(ctx context.Context, limit int) ([]types.MemoryEvent, error)

	// Since returns up to limit events with a timestamp strictly after ts,
	// newest first. When more than limit match, the oldest ones are returned
	// so repeated calls walk forward without gaps.
	Since(ctx context.Context, ts float64, limit int) ([]types.MemoryEvent, error)

	// Get returns the event stored at ts or ErrNotFound.
	Get(ctx context.Context, ts float64) (types.MemoryEvent, error)

	// Count returns the number of stored events.
	Count(ctx context.Context) (int, error)

	// StoreEmbedding upserts the embedding of the event at emb.Timestamp.
	StoreEmbedding(ctx context.Context, emb types.Embedding) error

	// GetEmbedding returns the stored embedding for ts or ErrNotFound.
	GetEmbedding(ctx context.Context, ts float64) (types.Embedding, error)

	Close() error
}

// ValidateEvent rejects events that cannot be stored.
func ValidateEvent(ev types.MemoryEvent) error {
	if ev.Timestamp <= 0 {
		return goerr.Wrap(ErrInvalidInput, "timestamp must be positive", goerr.V("ts", ev.Timestamp))
	}
	if ev.Source == "" {
		return goerr.Wrap(ErrInvalidInput, "source is required", goerr.V("ts", ev.Timestamp))
	}
	return nil
}

// ValidateEmbedding rejects embeddings that cannot be stored.
func ValidateEmbedding(emb types.Embedding) error {
	if len(emb.Vector) == 0 {
		return goerr.Wrap(ErrInvalidInput, "embedding vector cannot be empty", goerr.V("ts", emb.Timestamp))
	}
	return nil
}

// ClampLimit bounds a caller-supplied limit to [1, max]; limit < 1 yields max.
func ClampLimit(limit, max int) int {
	if limit < 1 || limit > max {
		return max
	}
	return limit
}

// EnsureID assigns a uuid to events stored without one.
func EnsureID(ev types.MemoryEvent) types.MemoryEvent {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	return ev
}
