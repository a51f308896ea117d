package remote

import (
	"context"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/nbursa/latent-journey-sub000/pkg/types"
)

// Vector is a remote embedding before it is normalized to the engine's width.
type Vector struct {
	Values []float64
	// Confidence is nil when the service did not report one.
	Confidence *float64
}

// Embedder is implemented by every remote embedding backend.
type Embedder interface {
	Embed(ctx context.Context, text string, facets types.Facets) (Vector, error)
	Ping(ctx context.Context) error
}

// EmbeddingClient talks to the embedding service's POST /embed endpoint.
type EmbeddingClient struct {
	base
}

type embedRequest struct {
	Text   string       `json:"text"`
	Facets types.Facets `json:"facets"`
}

type embedResponse struct {
	Embedding  []float64 `json:"embedding"`
	Vector     []float64 `json:"vector"`
	Confidence *float64  `json:"confidence"`
}

// NewEmbeddingClient creates a client. Defaults: http://localhost:8081, 5s timeout.
func NewEmbeddingClient(opts Options) *EmbeddingClient {
	return &EmbeddingClient{base: newBase("embedding", opts, "http://localhost:8081", 5*time.Second)}
}

// Embed requests a vector for text. Either the "embedding" or the "vector"
// field of the response is accepted; a response with neither is ErrBadResponse.
func (c *EmbeddingClient) Embed(ctx context.Context, text string, facets types.Facets) (Vector, error) {
	var resp embedResponse
	if err := c.doJSON(ctx, http.MethodPost, "/embed", embedRequest{Text: text, Facets: facets}, &resp); err != nil {
		return Vector{}, err
	}

	values := resp.Embedding
	if len(values) == 0 {
		values = resp.Vector
	}
	if len(values) == 0 {
		return Vector{}, goerr.Wrap(ErrBadResponse, "response carries no vector", goerr.V("service", c.name))
	}
	return Vector{Values: values, Confidence: resp.Confidence}, nil
}

// Ping checks GET /ping.
func (c *EmbeddingClient) Ping(ctx context.Context) error {
	return c.ping(ctx, "/ping")
}
