// Package timeline keeps the bounded, newest-first collection of memory
// events the explorer works on, and the watermark cursor used to ingest new
// events from an EventSource without duplicates.
package timeline

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/nbursa/latent-journey-sub000/pkg/types"
)

// Defaults.
const (
	DefaultCapacity     = 500
	DefaultInitialLimit = 200
)

// EventSource produces memory events newest-first.
type EventSource interface {
	// Recent returns up to limit of the newest events.
	Recent(ctx context.Context, limit int) ([]types.MemoryEvent, error)
	// Since returns up to limit events with a timestamp strictly after ts.
	Since(ctx context.Context, ts float64, limit int) ([]types.MemoryEvent, error)
}

// ChangeKind identifies what a Change notification describes.
type ChangeKind int

// Change kinds.
const (
	ChangeReset ChangeKind = iota
	ChangeInitialized
	ChangeIngested
	ChangeAdded
	ChangeSelected
)

// Change is delivered to subscribers after each mutation.
type Change struct {
	Kind        ChangeKind
	Added       []types.MemoryEvent
	Selected    types.MemoryEvent
	HasSelected bool
}

// Options configures a Store.
type Options struct {
	Capacity     int
	InitialLimit int
	Logger       *slog.Logger
}

// Store is the bounded newest-first event collection. All methods are safe
// for concurrent use.
type Store struct {
	source EventSource
	opts   Options
	latch  Latch

	mu          sync.RWMutex
	events      []types.MemoryEvent // newest first
	present     map[float64]struct{}
	watermark   float64
	selected    float64
	hasSelected bool

	subMu  sync.Mutex
	subs   map[int]chan Change
	nextID int
}

// NewStore creates an empty store reading from source.
func NewStore(source EventSource, opts Options) *Store {
	if opts.Capacity < 1 {
		opts.Capacity = DefaultCapacity
	}
	if opts.InitialLimit < 1 {
		opts.InitialLimit = DefaultInitialLimit
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{
		source:  source,
		opts:    opts,
		present: make(map[float64]struct{}),
		subs:    make(map[int]chan Change),
	}
}

// Capacity returns the maximum number of events kept.
func (s *Store) Capacity() int { return s.opts.Capacity }

// Initialize loads the most recent events once. Later calls are no-ops until
// Reset. On a source error the store is left untouched and the error is
// returned.
func (s *Store) Initialize(ctx context.Context) error {
	_, err := s.latch.Do(func() error {
		fetched, err := s.source.Recent(ctx, s.opts.InitialLimit)
		if err != nil {
			return goerr.Wrap(err, "initialize timeline", goerr.V("limit", s.opts.InitialLimit))
		}

		events := newestFirst(fetched, s.opts.Logger)
		present := make(map[float64]struct{}, len(events))
		kept := events[:0]
		for _, ev := range events {
			if _, dup := present[ev.Timestamp]; dup {
				continue
			}
			present[ev.Timestamp] = struct{}{}
			kept = append(kept, withID(ev))
		}

		s.mu.Lock()
		s.events = kept
		s.present = present
		s.watermark = 0
		s.hasSelected = false
		for _, ev := range kept {
			if ev.Timestamp > s.watermark {
				s.watermark = ev.Timestamp
			}
		}
		s.enforceCapacityLocked()
		if len(s.events) > 0 {
			s.selected, s.hasSelected = s.events[0].Timestamp, true
		}
		change := s.selectionChangeLocked(ChangeInitialized)
		change.Added = cloneEvents(s.events)
		s.mu.Unlock()

		s.opts.Logger.Info("timeline initialized", "events", len(kept), "watermark", s.Watermark())
		s.publish(change)
		return nil
	})
	return err
}

// Initialized reports whether Initialize has completed since the last Reset.
func (s *Store) Initialized() bool { return s.latch.Done() }

// IngestIncremental fetches events newer than the watermark and prepends the
// ones not already present. It returns the added events, newest first.
func (s *Store) IngestIncremental(ctx context.Context) ([]types.MemoryEvent, error) {
	wm := s.Watermark()
	fetched, err := s.source.Since(ctx, wm, s.opts.Capacity)
	if err != nil {
		return nil, goerr.Wrap(err, "ingest events", goerr.V("watermark", wm))
	}

	s.mu.Lock()
	var added []types.MemoryEvent
	for _, ev := range fetched {
		if ev.Timestamp > s.watermark {
			s.watermark = ev.Timestamp
		}
		if _, dup := s.present[ev.Timestamp]; dup {
			continue
		}
		s.present[ev.Timestamp] = struct{}{}
		added = append(added, withID(ev))
	}
	if len(added) == 0 {
		s.mu.Unlock()
		return nil, nil
	}

	sortNewestFirst(added)
	s.events = append(cloneEvents(added), s.events...)
	sortNewestFirst(s.events)
	s.enforceCapacityLocked()

	// Events older than the capacity window were evicted in the same step.
	kept := added[:0]
	for _, ev := range added {
		if _, ok := s.present[ev.Timestamp]; ok {
			kept = append(kept, ev)
		}
	}
	added = kept
	if len(added) == 0 {
		s.mu.Unlock()
		return nil, nil
	}
	change := s.selectionChangeLocked(ChangeIngested)
	change.Added = cloneEvents(added)
	s.mu.Unlock()

	s.opts.Logger.Debug("ingested events", "added", len(added), "watermark", s.Watermark())
	s.publish(change)
	return added, nil
}

// Add inserts ev, drops the oldest events beyond capacity and selects ev. An
// event with an already present timestamp replaces the stored one. The
// watermark is left alone: it only tracks what was read from the source.
func (s *Store) Add(ev types.MemoryEvent) {
	ev = withID(ev)

	s.mu.Lock()
	if _, dup := s.present[ev.Timestamp]; dup {
		s.removeLocked(ev.Timestamp)
	}
	s.present[ev.Timestamp] = struct{}{}
	// Newest-first insertion point; live events land at the front.
	i := sort.Search(len(s.events), func(i int) bool { return s.events[i].Timestamp < ev.Timestamp })
	s.events = append(s.events, types.MemoryEvent{})
	copy(s.events[i+1:], s.events[i:])
	s.events[i] = ev
	s.selected, s.hasSelected = ev.Timestamp, true
	s.enforceCapacityLocked()
	change := s.selectionChangeLocked(ChangeAdded)
	change.Added = []types.MemoryEvent{ev.Clone()}
	s.mu.Unlock()

	s.publish(change)
}

// Reset clears all events, the watermark, the selection and the
// initialization latch.
func (s *Store) Reset() {
	s.mu.Lock()
	s.events = nil
	s.present = make(map[float64]struct{})
	s.watermark = 0
	s.hasSelected = false
	s.mu.Unlock()

	s.latch.Reset()
	s.publish(Change{Kind: ChangeReset})
}

// Events returns a copy of the events, newest first.
func (s *Store) Events() []types.MemoryEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneEvents(s.events)
}

// Len returns the number of events held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Watermark returns the largest timestamp read from the source since the
// last Reset.
func (s *Store) Watermark() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.watermark
}

// Get returns the event with timestamp ts.
func (s *Store) Get(ts float64) (types.MemoryEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.present[ts]; !ok {
		return types.MemoryEvent{}, false
	}
	for _, ev := range s.events {
		if ev.Timestamp == ts {
			return ev.Clone(), true
		}
	}
	return types.MemoryEvent{}, false
}

// Selected returns the selected event, if any.
func (s *Store) Selected() (types.MemoryEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasSelected {
		return types.MemoryEvent{}, false
	}
	for _, ev := range s.events {
		if ev.Timestamp == s.selected {
			return ev.Clone(), true
		}
	}
	return types.MemoryEvent{}, false
}

// Select makes the event with timestamp ts the selection. It returns false
// when no such event is held.
func (s *Store) Select(ts float64) bool {
	s.mu.Lock()
	if _, ok := s.present[ts]; !ok {
		s.mu.Unlock()
		return false
	}
	if s.hasSelected && s.selected == ts {
		s.mu.Unlock()
		return true
	}
	s.selected, s.hasSelected = ts, true
	change := s.selectionChangeLocked(ChangeSelected)
	s.mu.Unlock()

	s.publish(change)
	return true
}

// ClearSelection drops the selection and notifies subscribers when there
// was one.
func (s *Store) ClearSelection() {
	s.mu.Lock()
	if !s.hasSelected {
		s.mu.Unlock()
		return
	}
	s.hasSelected = false
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeSelected})
}

// Range returns the smallest and largest timestamps held.
func (s *Store) Range() (lo, hi float64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.events) == 0 {
		return 0, 0, false
	}
	return s.events[len(s.events)-1].Timestamp, s.events[0].Timestamp, true
}

// Subscribe returns a channel of changes and a function that unsubscribes.
// Slow subscribers miss notifications rather than block the store.
func (s *Store) Subscribe() (<-chan Change, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan Change, 32)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
}

func (s *Store) publish(c Change) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- c:
		default:
		}
	}
}

func (s *Store) selectionChangeLocked(kind ChangeKind) Change {
	c := Change{Kind: kind}
	if !s.hasSelected {
		return c
	}
	for _, ev := range s.events {
		if ev.Timestamp == s.selected {
			c.Selected, c.HasSelected = ev.Clone(), true
			break
		}
	}
	return c
}

func (s *Store) enforceCapacityLocked() {
	if len(s.events) <= s.opts.Capacity {
		return
	}
	for _, ev := range s.events[s.opts.Capacity:] {
		delete(s.present, ev.Timestamp)
		if s.hasSelected && ev.Timestamp == s.selected {
			s.hasSelected = false
		}
	}
	s.events = s.events[:s.opts.Capacity:s.opts.Capacity]
}

func (s *Store) removeLocked(ts float64) {
	for i, ev := range s.events {
		if ev.Timestamp == ts {
			s.events = append(s.events[:i], s.events[i+1:]...)
			break
		}
	}
	delete(s.present, ts)
}

// newestFirst returns events ordered by descending timestamp. Sources are
// expected to deliver that order already; violations are logged and sorted.
func newestFirst(events []types.MemoryEvent, logger *slog.Logger) []types.MemoryEvent {
	out := cloneEvents(events)
	for i := 1; i < len(out); i++ {
		if out[i].Timestamp > out[i-1].Timestamp {
			logger.Warn("event source is not newest-first, sorting", "index", i)
			sortNewestFirst(out)
			break
		}
	}
	return out
}

func sortNewestFirst(events []types.MemoryEvent) {
	sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp > events[j].Timestamp })
}

func cloneEvents(events []types.MemoryEvent) []types.MemoryEvent {
	if events == nil {
		return nil
	}
	out := make([]types.MemoryEvent, len(events))
	for i, ev := range events {
		out[i] = ev.Clone()
	}
	return out
}

func withID(ev types.MemoryEvent) types.MemoryEvent {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	return ev
}
