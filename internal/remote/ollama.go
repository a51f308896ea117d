package remote

import (
	"context"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/nbursa/latent-journey-sub000/pkg/types"
)

// OllamaClient produces embeddings through Ollama's /api/embed endpoint.
// Facets are not sent; Ollama embeds text only.
type OllamaClient struct {
	base
	model string
}

// OllamaOptions extends Options with the embedding model name.
type OllamaOptions struct {
	Options
	// Model defaults to nomic-embed-text.
	Model string
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// The embeddings field is a 2D array; the first row is used.
type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// NewOllamaClient creates a client. Defaults: http://localhost:11434, 5s timeout.
func NewOllamaClient(opts OllamaOptions) *OllamaClient {
	if opts.Model == "" {
		opts.Model = "nomic-embed-text"
	}
	return &OllamaClient{
		base:  newBase("ollama", opts.Options, "http://localhost:11434", 5*time.Second),
		model: opts.Model,
	}
}

// Model returns the configured embedding model.
func (c *OllamaClient) Model() string { return c.model }

// Embed returns the model's embedding for text.
func (c *OllamaClient) Embed(ctx context.Context, text string, _ types.Facets) (Vector, error) {
	var resp ollamaEmbedResponse
	req := ollamaEmbedRequest{Model: c.model, Input: text}
	if err := c.doJSON(ctx, http.MethodPost, "/api/embed", req, &resp); err != nil {
		return Vector{}, err
	}

	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
		return Vector{}, goerr.Wrap(ErrBadResponse, "no embeddings returned", goerr.V("model", c.model))
	}

	values := make([]float64, len(resp.Embeddings[0]))
	for i, v := range resp.Embeddings[0] {
		values[i] = float64(v)
	}
	return Vector{Values: values}, nil
}

// ListModels returns the names of the locally available models.
func (c *OllamaClient) ListModels(ctx context.Context) ([]string, error) {
	var resp ollamaTagsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/tags", nil, &resp); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// Ping checks that Ollama answers /api/tags.
func (c *OllamaClient) Ping(ctx context.Context) error {
	_, err := c.ListModels(ctx)
	return err
}
