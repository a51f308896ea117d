// Package waypoint keeps a timeline scrub position and the event selection in
// step, drives playback, and manages bookmarked waypoints and the A/B pins.
//
// Moving the scrub selects the nearest event; selecting an event moves the
// scrub. A short guard after each scrub jump keeps the two directions from
// feeding back into each other.
package waypoint

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/nbursa/latent-journey-sub000/internal/timeline"
	"github.com/nbursa/latent-journey-sub000/pkg/types"
)

// Defaults.
const (
	DefaultGuardTimeout = 100 * time.Millisecond
	DefaultTick         = 100 * time.Millisecond
	PlaybackStep        = 0.01
	jumpThreshold       = 1e-3
)

// Timeline is the part of *timeline.Store the synchronizer needs.
type Timeline interface {
	Events() []types.MemoryEvent
	Selected() (types.MemoryEvent, bool)
	Select(ts float64) bool
	Range() (lo, hi float64, ok bool)
	Subscribe() (<-chan timeline.Change, func())
}

// Options configures a Synchronizer.
type Options struct {
	GuardTimeout time.Duration
	Tick         time.Duration
	Logger       *slog.Logger
}

// Synchronizer links a scrub position in [0,1] to a Timeline's selection.
type Synchronizer struct {
	tl   Timeline
	opts Options

	mu         sync.Mutex
	scrub      float64
	guard      bool
	guardTimer *time.Timer
	lastSynced float64
	hasSynced  bool

	playing   bool
	speed     float64
	stopPlay  chan struct{}
	playDone  chan struct{}
	waypoints map[float64]struct{}
	pinA      *types.MemoryEvent
	pinB      *types.MemoryEvent

	unsubscribe func()
	watchDone   chan struct{}
	closed      bool
}

// New creates a synchronizer and starts following tl's selection changes.
func New(tl Timeline, opts Options) *Synchronizer {
	if opts.GuardTimeout <= 0 {
		opts.GuardTimeout = DefaultGuardTimeout
	}
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	changes, unsubscribe := tl.Subscribe()
	s := &Synchronizer{
		tl:          tl,
		opts:        opts,
		waypoints:   make(map[float64]struct{}),
		unsubscribe: unsubscribe,
		watchDone:   make(chan struct{}),
	}
	go s.watch(changes)
	return s
}

func (s *Synchronizer) watch(changes <-chan timeline.Change) {
	defer close(s.watchDone)
	for c := range changes {
		if !c.HasSelected {
			continue
		}
		s.mu.Lock()
		// Skip notifications a later selection has already overtaken.
		cur, ok := s.tl.Selected()
		if ok && cur.Timestamp == c.Selected.Timestamp && (!s.hasSynced || s.lastSynced != cur.Timestamp) {
			s.syncScrubLocked(cur)
		}
		s.mu.Unlock()
	}
}

// Scrub returns the current position in [0,1].
func (s *Synchronizer) Scrub() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scrub
}

// Guarded reports whether a recent scrub jump is still suppressing the
// forward direction.
func (s *Synchronizer) Guarded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.guard
}

// Seek moves the scrub to pos (clamped to [0,1]) and selects the event whose
// timestamp is nearest to the corresponding point of the timeline. The scrub
// is not snapped to that event. While a reverse jump's guard is up only the
// scrub moves.
func (s *Synchronizer) Seek(pos float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seekLocked(pos)
}

func (s *Synchronizer) seekLocked(pos float64) {
	s.scrub = clamp01(pos)
	if s.guard {
		return
	}

	events := s.tl.Events()
	lo, hi, ok := s.tl.Range()
	if !ok || len(events) == 0 {
		return
	}
	target := lo + s.scrub*(hi-lo)

	nearest := events[0]
	best := math.Abs(nearest.Timestamp - target)
	for _, ev := range events[1:] {
		if d := math.Abs(ev.Timestamp - target); d < best {
			nearest, best = ev, d
		}
	}

	if sel, ok := s.tl.Selected(); ok && sel.Timestamp == nearest.Timestamp {
		return
	}
	if s.tl.Select(nearest.Timestamp) {
		// The scrub stays where it was put; recording the event keeps watch
		// from echoing the selection back as a jump.
		s.lastSynced, s.hasSynced = nearest.Timestamp, true
	}
}

// SelectEvent selects ev and moves the scrub to its position.
func (s *Synchronizer) SelectEvent(ev types.MemoryEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sel, ok := s.tl.Selected(); ok && sel.Timestamp == ev.Timestamp && s.hasSynced && s.lastSynced == ev.Timestamp {
		return
	}
	if !s.tl.Select(ev.Timestamp) {
		return
	}
	s.syncScrubLocked(ev)
}

// syncScrubLocked is the reverse direction: jump the scrub to ev's
// normalized position unless guarded or already there.
func (s *Synchronizer) syncScrubLocked(ev types.MemoryEvent) {
	s.lastSynced, s.hasSynced = ev.Timestamp, true
	if s.guard {
		return
	}

	pos := 0.0
	if lo, hi, ok := s.tl.Range(); ok && hi > lo {
		pos = clamp01((ev.Timestamp - lo) / (hi - lo))
	}
	if math.Abs(pos-s.scrub) <= jumpThreshold {
		return
	}

	s.guard = true
	s.scrub = pos
	if s.guardTimer != nil {
		s.guardTimer.Stop()
	}
	s.guardTimer = time.AfterFunc(s.opts.GuardTimeout, func() {
		s.mu.Lock()
		s.guard = false
		s.mu.Unlock()
	})
}

// Play advances the scrub by PlaybackStep*speed every tick until it reaches
// the end. speed <= 0 plays at 1. Playing from the end restarts at 0.
func (s *Synchronizer) Play(speed float64) {
	if speed <= 0 {
		speed = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.speed = speed
	if s.playing {
		return
	}
	if s.scrub >= 1 {
		s.scrub = 0
	}
	s.playing = true
	s.stopPlay = make(chan struct{})
	s.playDone = make(chan struct{})
	go s.playLoop(s.stopPlay, s.playDone)
}

func (s *Synchronizer) playLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.opts.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			next := s.scrub + PlaybackStep*s.speed
			if next >= 1 {
				s.seekLocked(1)
				s.playing = false
				s.mu.Unlock()
				return
			}
			s.seekLocked(next)
			s.mu.Unlock()
		}
	}
}

// Pause stops playback, leaving the scrub where it is.
func (s *Synchronizer) Pause() {
	s.mu.Lock()
	if !s.playing {
		s.mu.Unlock()
		return
	}
	s.playing = false
	stop, done := s.stopPlay, s.playDone
	close(stop)
	s.mu.Unlock()
	<-done
}

// Playing reports whether playback is running.
func (s *Synchronizer) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// ToggleWaypoint flips ts's bookmark and reports whether it is now set.
func (s *Synchronizer) ToggleWaypoint(ts float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.waypoints[ts]; ok {
		delete(s.waypoints, ts)
		return false
	}
	s.waypoints[ts] = struct{}{}
	return true
}

// IsWaypoint reports whether ts is bookmarked.
func (s *Synchronizer) IsWaypoint(ts float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.waypoints[ts]
	return ok
}

// Waypoints returns the bookmarked timestamps in ascending order.
func (s *Synchronizer) Waypoints() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, 0, len(s.waypoints))
	for ts := range s.waypoints {
		out = append(out, ts)
	}
	sort.Float64s(out)
	return out
}

// ClickPin applies one click to the A/B pins: clicking a pinned event unpins
// it, otherwise the event fills A, then B, then replaces A.
func (s *Synchronizer) ClickPin(ev types.MemoryEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pinned := ev.Clone()
	switch {
	case s.pinA != nil && s.pinA.Timestamp == ev.Timestamp:
		s.pinA = nil
	case s.pinB != nil && s.pinB.Timestamp == ev.Timestamp:
		s.pinB = nil
	case s.pinA == nil:
		s.pinA = &pinned
	case s.pinB == nil:
		s.pinB = &pinned
	default:
		s.pinA = &pinned
	}
}

// SetWaypointA pins ev to slot A; nil clears it.
func (s *Synchronizer) SetWaypointA(ev *types.MemoryEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pinA = clonePtr(ev)
}

// SetWaypointB pins ev to slot B; nil clears it.
func (s *Synchronizer) SetWaypointB(ev *types.MemoryEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pinB = clonePtr(ev)
}

// Pins returns copies of the A and B slots.
func (s *Synchronizer) Pins() (a, b *types.MemoryEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clonePtr(s.pinA), clonePtr(s.pinB)
}

// Close stops playback, cancels a pending guard release and stops following
// the timeline. The synchronizer must not be used afterwards.
func (s *Synchronizer) Close() {
	s.Pause()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.guardTimer != nil {
		s.guardTimer.Stop()
	}
	s.mu.Unlock()

	s.unsubscribe()
	<-s.watchDone
}

func clonePtr(ev *types.MemoryEvent) *types.MemoryEvent {
	if ev == nil {
		return nil
	}
	c := ev.Clone()
	return &c
}

func clamp01(f float64) float64 {
	switch {
	case math.IsNaN(f) || f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
