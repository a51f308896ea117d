package remote

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"nhooyr.io/websocket" //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
)

// Feed message types that announce new memory events.
const (
	FeedVisionObservation = "vision.observation"
	FeedSpeechTranscript  = "speech.transcript"
	FeedEgoThought        = "ego.thought"
	FeedSentienceToken    = "sentience.token"
)

// Notification is one message pushed by the live feed.
type Notification struct {
	Type string          `json:"type"`
	Ts   float64         `json:"ts,omitempty"`
	Raw  json.RawMessage `json:"-"`
}

// TriggersIngestion reports whether the message announces new events.
// Keepalive ("ping") and "connection" messages do not.
func (n Notification) TriggersIngestion() bool {
	switch n.Type {
	case FeedVisionObservation, FeedSpeechTranscript, FeedEgoThought, FeedSentienceToken:
		return true
	default:
		return false
	}
}

// FeedSubscriber keeps a websocket connection to the live event feed open
// and reconnects with exponential backoff until its context ends.
type FeedSubscriber struct {
	url        string
	logger     *slog.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
}

// FeedOptions configures a FeedSubscriber.
type FeedOptions struct {
	URL        string
	Logger     *slog.Logger
	MinBackoff time.Duration // default 1s
	MaxBackoff time.Duration // default 30s
}

// NewFeedSubscriber creates a subscriber for the ws:// or wss:// URL.
func NewFeedSubscriber(opts FeedOptions) *FeedSubscriber {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = time.Second
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = 30 * time.Second
	}
	return &FeedSubscriber{
		url:        opts.URL,
		logger:     opts.Logger.With("service", "feed"),
		minBackoff: opts.MinBackoff,
		maxBackoff: opts.MaxBackoff,
	}
}

// Run delivers every ingestion-triggering notification to handle. It blocks
// until ctx is cancelled and then returns ctx.Err().
func (s *FeedSubscriber) Run(ctx context.Context, handle func(context.Context, Notification)) error {
	backoff := s.minBackoff
	for {
		connected, err := s.session(ctx, handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = s.minBackoff
		}
		s.logger.Warn("feed disconnected, reconnecting", "error", err, "backoff", backoff)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		backoff *= 2
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
	}
}

// session runs one connection; connected reports whether the dial succeeded.
func (s *FeedSubscriber) session(ctx context.Context, handle func(context.Context, Notification)) (connected bool, err error) {
	conn, _, err := websocket.Dial(ctx, s.url, nil) //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	if err != nil {
		return false, goerr.Wrap(err, "dial feed", goerr.V("url", s.url))
	}
	defer conn.Close(websocket.StatusNormalClosure, "") //nolint:errcheck
	s.logger.Info("feed connected", "url", s.url)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return true, err
			}
			return true, goerr.Wrap(err, "read feed")
		}

		n, err := ParseNotification(data)
		if err != nil {
			s.logger.Debug("skipping malformed feed message", "error", err)
			continue
		}
		if !n.TriggersIngestion() {
			continue
		}
		handle(ctx, n)
	}
}

// ParseNotification decodes one feed message.
func ParseNotification(data []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return Notification{}, goerr.Wrap(ErrBadResponse, "decode feed message", goerr.V("cause", err.Error()))
	}
	n.Raw = append(json.RawMessage(nil), data...)
	return n, nil
}
