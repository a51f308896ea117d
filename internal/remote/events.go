package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/nbursa/latent-journey-sub000/pkg/types"
)

// EventSourceClient reads memory events from GET /memory. The service returns
// events newest-first, either as a bare array or wrapped as {"events": [...]}.
type EventSourceClient struct {
	base
}

// NewEventSourceClient creates a client. Defaults: http://localhost:8082, 30s timeout.
func NewEventSourceClient(opts Options) *EventSourceClient {
	return &EventSourceClient{base: newBase("events", opts, "http://localhost:8082", 30*time.Second)}
}

// Recent returns up to limit of the newest events.
func (c *EventSourceClient) Recent(ctx context.Context, limit int) ([]types.MemoryEvent, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.fetch(ctx, q)
}

// Since returns up to limit events with a timestamp strictly after ts.
func (c *EventSourceClient) Since(ctx context.Context, ts float64, limit int) ([]types.MemoryEvent, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	q.Set("since_timestamp", strconv.FormatFloat(ts, 'f', -1, 64))

	events, err := c.fetch(ctx, q)
	if err != nil {
		return nil, err
	}
	// Older services ignore since_timestamp.
	kept := events[:0]
	for _, ev := range events {
		if ev.Timestamp > ts {
			kept = append(kept, ev)
		}
	}
	return kept, nil
}

// Ping checks GET /ping.
func (c *EventSourceClient) Ping(ctx context.Context) error {
	return c.ping(ctx, "/ping")
}

func (c *EventSourceClient) fetch(ctx context.Context, q url.Values) ([]types.MemoryEvent, error) {
	path := "/memory"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}
	return decodeEvents(raw)
}

func decodeEvents(raw json.RawMessage) ([]types.MemoryEvent, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var events []types.MemoryEvent
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return nil, goerr.Wrap(ErrBadResponse, "decode event array", goerr.V("cause", err.Error()))
		}
		return events, nil
	}

	var wrapped struct {
		Events []types.MemoryEvent `json:"events"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, goerr.Wrap(ErrBadResponse, "decode event envelope", goerr.V("cause", err.Error()))
	}
	return wrapped.Events, nil
}
