package notify

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/m-mizutani/goerr/v2"
)

// WatcherOptions configures an EventWatcher.
type WatcherOptions struct {
	// Types limits delivery to these notification types; empty delivers all.
	Types []string
	// Coalesce merges notifications of one type that arrive within the window
	// into a single callback. Zero delivers each notification as it arrives.
	Coalesce time.Duration
	Logger   *slog.Logger
}

// EventWatcher consumes notification files from {dataPath}/events/ and hands
// them to a callback. Consumed files are removed.
type EventWatcher struct {
	dir      string
	callback func(Event)
	types    map[string]bool
	coalesce time.Duration
	logger   *slog.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}

	mu      sync.Mutex
	pending map[string]Event
	timer   *time.Timer
}

// NewEventWatcher creates a watcher for {dataPath}/events/.
func NewEventWatcher(dataPath string, callback func(Event), opts WatcherOptions) *EventWatcher {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	var types map[string]bool
	if len(opts.Types) > 0 {
		types = make(map[string]bool, len(opts.Types))
		for _, t := range opts.Types {
			types[t] = true
		}
	}
	return &EventWatcher{
		dir:      filepath.Join(dataPath, notifyDir),
		callback: callback,
		types:    types,
		coalesce: opts.Coalesce,
		logger:   opts.Logger,
		done:     make(chan struct{}),
		pending:  make(map[string]Event),
	}
}

// Start delivers the backlog already on disk, one merged notification per
// type, then watches for new files until Stop.
func (ew *EventWatcher) Start() error {
	if err := os.MkdirAll(ew.dir, 0o700); err != nil {
		return goerr.Wrap(err, "notify: create directory", goerr.V("dir", ew.dir))
	}

	ew.drainBacklog()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return goerr.Wrap(err, "notify: create watcher")
	}
	if err := w.Add(ew.dir); err != nil {
		_ = w.Close()
		return goerr.Wrap(err, "notify: watch directory", goerr.V("dir", ew.dir))
	}
	ew.watcher = w

	go ew.loop()
	ew.logger.Info("notify: watching for event log changes", "dir", ew.dir, "coalesce", ew.coalesce)
	return nil
}

// Stop closes the watcher and delivers any notifications still being merged.
func (ew *EventWatcher) Stop() {
	if ew.watcher == nil {
		return
	}
	_ = ew.watcher.Close()
	<-ew.done

	ew.mu.Lock()
	if ew.timer != nil {
		ew.timer.Stop()
	}
	ew.mu.Unlock()
	ew.flush()
}

func (ew *EventWatcher) loop() {
	defer close(ew.done)
	for {
		select {
		case evt, ok := <-ew.watcher.Events:
			if !ok {
				return
			}
			if evt.Op&(fsnotify.Create|fsnotify.Rename) == 0 || !strings.HasSuffix(evt.Name, suffix) {
				continue
			}
			if e, ok := ew.consume(evt.Name); ok {
				ew.deliver(e)
			}
		case err, ok := <-ew.watcher.Errors:
			if !ok {
				return
			}
			ew.logger.Warn("notify: watcher error", "error", err)
		}
	}
}

func (ew *EventWatcher) drainBacklog() {
	entries, err := os.ReadDir(ew.dir)
	if err != nil {
		return
	}
	ew.mu.Lock()
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), suffix) {
			continue
		}
		if e, ok := ew.consume(filepath.Join(ew.dir, entry.Name())); ok {
			ew.merge(e)
		}
	}
	ew.mu.Unlock()
	ew.flush()
}

// consume reads and removes one notification file. Files another process got
// to first, malformed files and filtered types yield false.
func (ew *EventWatcher) consume(path string) (Event, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Event{}, false
	}
	_ = os.Remove(path)

	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		ew.logger.Warn("notify: invalid event file", "file", filepath.Base(path), "error", err)
		return Event{}, false
	}
	if e.Type == "" || (ew.types != nil && !ew.types[e.Type]) {
		return Event{}, false
	}
	return e, true
}

func (ew *EventWatcher) deliver(e Event) {
	if ew.coalesce <= 0 {
		if ew.callback != nil {
			ew.callback(e)
		}
		return
	}

	ew.mu.Lock()
	defer ew.mu.Unlock()
	ew.merge(e)
	if ew.timer == nil {
		ew.timer = time.AfterFunc(ew.coalesce, ew.flush)
	}
}

// merge folds e into the pending notification of its type. Caller holds mu.
func (ew *EventWatcher) merge(e Event) {
	cur, ok := ew.pending[e.Type]
	if !ok {
		ew.pending[e.Type] = e
		return
	}
	cur.Count += e.Count
	if e.Ts > cur.Ts {
		cur.Ts = e.Ts
	}
	if e.Time > cur.Time {
		cur.Time = e.Time
	}
	ew.pending[e.Type] = cur
}

// flush hands every pending notification to the callback in type order.
func (ew *EventWatcher) flush() {
	ew.mu.Lock()
	pending := ew.pending
	ew.pending = make(map[string]Event)
	ew.timer = nil
	ew.mu.Unlock()

	if ew.callback == nil || len(pending) == 0 {
		return
	}
	types := make([]string, 0, len(pending))
	for t := range pending {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		ew.callback(pending[t])
	}
}
