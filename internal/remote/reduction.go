package remote

import (
	"context"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// ReductionClient talks to POST /reduce-dimensions.
type ReductionClient struct {
	base
	method string
}

// ReductionOptions extends Options with the reduction method.
type ReductionOptions struct {
	Options
	// Method is forwarded as-is; the service defaults to pca.
	Method string
}

type reduceRequest struct {
	Vectors          [][]float64 `json:"vectors"`
	TargetDimensions int         `json:"target_dimensions"`
	Method           string      `json:"method,omitempty"`
}

type reduceResponse struct {
	ReducedVectors [][]float64 `json:"reduced_vectors"`
}

// NewReductionClient creates a client. Defaults: http://localhost:8081, 30s timeout, pca.
func NewReductionClient(opts ReductionOptions) *ReductionClient {
	if opts.Method == "" {
		opts.Method = "pca"
	}
	return &ReductionClient{
		base:   newBase("reduction", opts.Options, "http://localhost:8081", 30*time.Second),
		method: opts.Method,
	}
}

// Reduce projects vectors to dims components. The response must contain one
// row per input with exactly dims entries, otherwise ErrBadResponse is returned.
func (c *ReductionClient) Reduce(ctx context.Context, vectors [][]float64, dims int) ([][]float64, error) {
	var resp reduceResponse
	req := reduceRequest{Vectors: vectors, TargetDimensions: dims, Method: c.method}
	if err := c.doJSON(ctx, http.MethodPost, "/reduce-dimensions", req, &resp); err != nil {
		return nil, err
	}

	if len(resp.ReducedVectors) != len(vectors) {
		return nil, goerr.Wrap(ErrBadResponse, "row count mismatch",
			goerr.V("want", len(vectors)), goerr.V("got", len(resp.ReducedVectors)))
	}
	for i, row := range resp.ReducedVectors {
		if len(row) != dims {
			return nil, goerr.Wrap(ErrBadResponse, "row width mismatch",
				goerr.V("row", i), goerr.V("want", dims), goerr.V("got", len(row)))
		}
	}
	return resp.ReducedVectors, nil
}

// Ping checks GET /ping.
func (c *ReductionClient) Ping(ctx context.Context) error {
	return c.ping(ctx, "/ping")
}
