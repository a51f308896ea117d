package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/nbursa/latent-journey-sub000/internal/remote"
	"github.com/nbursa/latent-journey-sub000/internal/timeline"
	"github.com/nbursa/latent-journey-sub000/pkg/types"
)

// DefaultPollInterval is used when WatcherOptions.PollInterval is unset.
const DefaultPollInterval = 2 * time.Second

var (
	ErrWatcherStarted    = goerr.New("watcher already started")
	ErrWatcherNotStarted = goerr.New("watcher not started")
)

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	// PollInterval between incremental ingestions; negative disables polling.
	PollInterval time.Duration
	// Feed, when set, triggers an ingestion for every event notification.
	Feed *remote.FeedSubscriber
	// OnIngest is called from the ingestion goroutine with each non-empty batch.
	OnIngest func(ctx context.Context, added []types.MemoryEvent)
	Logger   *slog.Logger
}

// WatcherStats counts ingestion activity.
type WatcherStats struct {
	Ingestions uint64 `json:"ingestions"`
	Added      uint64 `json:"added"`
	Failures   uint64 `json:"failures"`
	Dropped    uint64 `json:"dropped_triggers"`
}

// Watcher keeps a timeline store current by polling its source and by
// reacting to live feed notifications.
type Watcher struct {
	store *timeline.Store
	opts  WatcherOptions

	triggers chan struct{}

	mu       sync.Mutex
	started  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopping atomic.Bool

	ingestions atomic.Uint64
	added      atomic.Uint64
	failures   atomic.Uint64
	dropped    atomic.Uint64
}

// NewWatcher creates a watcher over store.
func NewWatcher(store *timeline.Store, opts WatcherOptions) *Watcher {
	if opts.PollInterval == 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Watcher{
		store: store,
		opts:  opts,
		// One pending trigger is enough: an ingestion reads everything past
		// the watermark.
		triggers: make(chan struct{}, 1),
	}
}

// Start initializes the store and launches the ingestion loop and, when
// configured, the feed subscriber. The loops run until Shutdown or until ctx
// is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return ErrWatcherStarted
	}
	if err := w.store.Initialize(ctx); err != nil {
		return goerr.Wrap(err, "initialize store")
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.stopping.Store(false)

	w.wg.Add(1)
	go w.loop(runCtx)

	if w.opts.Feed != nil {
		w.wg.Add(1)
		go w.listen(runCtx)
	}

	w.started = true
	w.opts.Logger.Info("watcher started",
		"events", w.store.Len(),
		"poll_interval", w.opts.PollInterval,
		"feed", w.opts.Feed != nil)
	return nil
}

// Trigger requests an ingestion without blocking. It returns false when the
// watcher is stopping or a request is already pending.
func (w *Watcher) Trigger() bool {
	if w.stopping.Load() {
		return false
	}
	select {
	case w.triggers <- struct{}{}:
		return true
	default:
		w.dropped.Add(1)
		return false
	}
}

// Shutdown stops the loops and waits for them, bounded by ctx.
func (w *Watcher) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return ErrWatcherNotStarted
	}
	w.stopping.Store(true)
	w.cancel()
	w.started = false
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.opts.Logger.Info("watcher stopped")
		return nil
	case <-ctx.Done():
		return goerr.Wrap(ctx.Err(), "waiting for watcher to stop")
	}
}

// Stats returns a copy of the ingestion counters.
func (w *Watcher) Stats() WatcherStats {
	return WatcherStats{
		Ingestions: w.ingestions.Load(),
		Added:      w.added.Load(),
		Failures:   w.failures.Load(),
		Dropped:    w.dropped.Load(),
	}
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	var tick <-chan time.Time
	if w.opts.PollInterval > 0 {
		ticker := time.NewTicker(w.opts.PollInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			w.ingest(ctx)
		case <-w.triggers:
			w.ingest(ctx)
		}
	}
}

func (w *Watcher) ingest(ctx context.Context) {
	w.ingestions.Add(1)
	added, err := w.store.IngestIncremental(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		w.failures.Add(1)
		w.opts.Logger.Warn("incremental ingestion failed", "error", err)
		return
	}
	if len(added) == 0 {
		return
	}

	w.added.Add(uint64(len(added)))
	w.opts.Logger.Debug("ingested events", "count", len(added), "watermark", w.store.Watermark())
	if w.opts.OnIngest != nil {
		w.opts.OnIngest(ctx, added)
	}
}

func (w *Watcher) listen(ctx context.Context) {
	defer w.wg.Done()

	err := w.opts.Feed.Run(ctx, func(_ context.Context, n remote.Notification) {
		if n.TriggersIngestion() {
			w.Trigger()
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		w.opts.Logger.Warn("live feed stopped", "error", err)
	}
}
