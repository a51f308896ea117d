// Package remote holds the HTTP and websocket clients for the services the
// engine delegates to: the embedding service (or Ollama), the dimensionality
// reduction service, the memory event source and its live feed.
//
// Every HTTP call goes through a circuit breaker, an optional outbound rate
// limiter and carries an X-Request-ID header.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/time/rate"
)

// ErrBadResponse is returned for non-2xx statuses and payloads that do not
// have the expected shape.
var ErrBadResponse = goerr.New("bad response from remote service")

// RequestIDHeader carries a per-request uuid to the remote service.
const RequestIDHeader = "X-Request-ID"

// maxErrorBody caps how much of an error response is kept for logging.
const maxErrorBody = 512

// Options configures the shared HTTP plumbing of every client.
type Options struct {
	BaseURL string
	Timeout time.Duration

	// RateLimit is requests per second; 0 disables limiting.
	RateLimit float64
	RateBurst int

	Breaker    BreakerConfig
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// base is embedded by the concrete clients.
type base struct {
	name    string
	baseURL string
	timeout time.Duration
	client  *http.Client
	breaker *CircuitBreaker
	limiter *rate.Limiter
	logger  *slog.Logger
}

func newBase(name string, opts Options, defaultURL string, defaultTimeout time.Duration) base {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	logger := opts.Logger.With("service", name)
	return base{
		name:    name,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		timeout: opts.Timeout,
		client:  opts.HTTPClient,
		breaker: NewCircuitBreaker(name, opts.Breaker, logger),
		limiter: limiter,
		logger:  logger,
	}
}

// BaseURL returns the service root the client talks to.
func (b *base) BaseURL() string { return b.baseURL }

// Breaker exposes the client's circuit breaker.
func (b *base) Breaker() *CircuitBreaker { return b.breaker }

// doJSON performs one breaker-protected request. A nil in skips the body, a
// nil out discards the response.
func (b *base) doJSON(ctx context.Context, method, path string, in, out any) error {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return goerr.Wrap(err, "rate limiter wait", goerr.V("service", b.name))
		}
	}

	_, err := b.breaker.Execute(ctx, func() (interface{}, error) {
		return nil, b.roundTrip(ctx, method, path, in, out)
	})
	return err
}

func (b *base) roundTrip(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return goerr.Wrap(err, "marshal request", goerr.V("path", path))
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, body)
	if err != nil {
		return goerr.Wrap(err, "create request", goerr.V("path", path))
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	reqID := uuid.NewString()
	req.Header.Set(RequestIDHeader, reqID)

	resp, err := b.client.Do(req)
	if err != nil {
		return goerr.Wrap(err, "send request",
			goerr.V("service", b.name), goerr.V("path", path), goerr.V("request_id", reqID))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return goerr.Wrap(ErrBadResponse, "unexpected status",
			goerr.V("service", b.name), goerr.V("path", path),
			goerr.V("status", resp.StatusCode), goerr.V("body", string(snippet)),
			goerr.V("request_id", reqID))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return goerr.Wrap(ErrBadResponse, "decode response",
			goerr.V("service", b.name), goerr.V("path", path),
			goerr.V("cause", err.Error()), goerr.V("request_id", reqID))
	}
	return nil
}

// ping issues GET path and reports only reachability.
func (b *base) ping(ctx context.Context, path string) error {
	err := b.doJSON(ctx, http.MethodGet, path, nil, nil)
	if err != nil && !errors.Is(err, ErrCircuitOpen) {
		b.logger.Debug("ping failed", "path", path, "error", err)
	}
	return err
}
