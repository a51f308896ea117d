package waypoint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbursa/latent-journey-sub000/internal/logging"
	"github.com/nbursa/latent-journey-sub000/internal/timeline"
	"github.com/nbursa/latent-journey-sub000/pkg/types"
)

func ev(ts float64) types.MemoryEvent {
	return types.MemoryEvent{Timestamp: ts, Source: types.SourceVision}
}

func setup(t *testing.T, guard time.Duration, stamps ...float64) (*timeline.Store, *Synchronizer) {
	t.Helper()
	store := timeline.NewStore(nil, timeline.Options{Logger: logging.Discard()})
	for _, ts := range stamps {
		store.Add(ev(ts))
	}
	s := New(store, Options{GuardTimeout: guard, Tick: 5 * time.Millisecond, Logger: logging.Discard()})
	t.Cleanup(s.Close)
	return store, s
}

func selectedTS(t *testing.T, store *timeline.Store) float64 {
	t.Helper()
	sel, ok := store.Selected()
	require.True(t, ok)
	return sel.Timestamp
}

func TestSeek_SelectsNearest(t *testing.T) {
	store, s := setup(t, time.Hour, 1000, 1050, 1100)

	s.Seek(0.5)
	assert.Equal(t, 1050.0, selectedTS(t, store))
	assert.Equal(t, 0.5, s.Scrub())
	assert.False(t, s.Guarded(), "no jump needed when the scrub already sits on the event")
}

func TestSeek_Clamps(t *testing.T) {
	store, s := setup(t, time.Hour, 1000, 1100)

	s.Seek(-3)
	assert.Equal(t, 0.0, s.Scrub())
	assert.Equal(t, 1000.0, selectedTS(t, store))
}

func TestSeek_KeepsScrubContinuous(t *testing.T) {
	store, s := setup(t, time.Hour, 0, 100)

	s.Seek(0.3)
	assert.Equal(t, 0.0, selectedTS(t, store))
	assert.Equal(t, 0.3, s.Scrub(), "forward seek does not snap the scrub")
	assert.False(t, s.Guarded())

	s.Seek(0.8)
	assert.Equal(t, 100.0, selectedTS(t, store), "dragging keeps selecting")
	assert.Equal(t, 0.8, s.Scrub())
	assert.False(t, s.Guarded())

	assert.Never(t, func() bool { return s.Scrub() != 0.8 }, 50*time.Millisecond, 5*time.Millisecond,
		"the store's selection change is not echoed back as a jump")
}

func TestReverseJump_GuardsForward(t *testing.T) {
	store, s := setup(t, 20*time.Millisecond, 1000, 1050, 1100)

	s.Seek(0.45)
	require.Equal(t, 1050.0, selectedTS(t, store))
	assert.Equal(t, 0.45, s.Scrub())
	assert.False(t, s.Guarded())

	s.SelectEvent(ev(1100))
	assert.Equal(t, 1.0, s.Scrub(), "scrub jumps to the externally selected event")
	assert.True(t, s.Guarded())

	s.Seek(0)
	assert.Equal(t, 0.0, s.Scrub())
	assert.Equal(t, 1100.0, selectedTS(t, store), "guard suppresses the forward direction")

	assert.Eventually(t, func() bool { return !s.Guarded() }, time.Second, 5*time.Millisecond)
	s.Seek(0)
	assert.Equal(t, 1000.0, selectedTS(t, store))
}

func TestSelectEvent_MovesScrub(t *testing.T) {
	store, s := setup(t, time.Hour, 1000, 1050, 1100)
	s.Seek(0)
	require.Equal(t, 1000.0, selectedTS(t, store))

	s.SelectEvent(ev(1100))
	assert.Equal(t, 1100.0, selectedTS(t, store))
	assert.Equal(t, 1.0, s.Scrub())
	assert.True(t, s.Guarded())
}

func TestSelectEvent_DegenerateRange(t *testing.T) {
	_, s := setup(t, time.Hour, 500)
	s.Seek(0.7)

	s.SelectEvent(ev(500))
	assert.Equal(t, 0.0, s.Scrub())
}

func TestSelectEvent_UnknownEventIgnored(t *testing.T) {
	store, s := setup(t, time.Hour, 1000, 1100)
	s.Seek(0)

	s.SelectEvent(ev(4242))
	assert.Equal(t, 1000.0, selectedTS(t, store))
	assert.Equal(t, 0.0, s.Scrub())
}

func TestFollowsStoreAdds(t *testing.T) {
	store, s := setup(t, time.Millisecond, 1000, 1100)
	s.Seek(0)
	require.Equal(t, 1000.0, selectedTS(t, store))

	store.Add(ev(1200))
	assert.Eventually(t, func() bool { return s.Scrub() == 1 }, time.Second, 5*time.Millisecond)
}

func TestPlay_RunsToEnd(t *testing.T) {
	store, s := setup(t, time.Millisecond, 1000, 1050, 1100)
	s.Seek(0)

	s.Play(10)
	assert.True(t, s.Playing())
	assert.Eventually(t, func() bool { return !s.Playing() }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1.0, s.Scrub())
	assert.Equal(t, 1100.0, selectedTS(t, store))
}

func TestPause(t *testing.T) {
	_, s := setup(t, time.Millisecond, 1000, 1100)
	s.Seek(0)

	s.Play(0.01)
	s.Pause()
	assert.False(t, s.Playing())
	pos := s.Scrub()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, pos, s.Scrub())
}

func TestToggleWaypoint_Involution(t *testing.T) {
	_, s := setup(t, time.Hour)

	assert.True(t, s.ToggleWaypoint(30))
	assert.True(t, s.ToggleWaypoint(10))
	assert.Equal(t, []float64{10, 30}, s.Waypoints())
	assert.True(t, s.IsWaypoint(30))

	assert.False(t, s.ToggleWaypoint(30))
	assert.False(t, s.IsWaypoint(30))
	assert.Equal(t, []float64{10}, s.Waypoints())
}

func TestClickPin_Sequence(t *testing.T) {
	_, s := setup(t, time.Hour)
	x, y, z := ev(1), ev(2), ev(3)

	s.ClickPin(x)
	s.ClickPin(y)
	s.ClickPin(x)

	a, b := s.Pins()
	assert.Nil(t, a, "clicking the event in A clears A")
	require.NotNil(t, b)
	assert.Equal(t, 2.0, b.Timestamp)

	s.ClickPin(z)
	a, _ = s.Pins()
	require.NotNil(t, a)
	assert.Equal(t, 3.0, a.Timestamp, "empty A is filled first")

	s.ClickPin(x)
	a, b = s.Pins()
	assert.Equal(t, 1.0, a.Timestamp, "both full: A is replaced")
	assert.Equal(t, 2.0, b.Timestamp)

	s.ClickPin(y)
	_, b = s.Pins()
	assert.Nil(t, b)
}

func TestSetWaypointAB(t *testing.T) {
	_, s := setup(t, time.Hour)
	x := ev(9)

	s.SetWaypointA(&x)
	s.SetWaypointB(&x)
	a, b := s.Pins()
	assert.Equal(t, 9.0, a.Timestamp)
	assert.Equal(t, 9.0, b.Timestamp)

	s.SetWaypointA(nil)
	a, _ = s.Pins()
	assert.Nil(t, a)
}

func TestClose_Idempotent(t *testing.T) {
	_, s := setup(t, time.Hour, 1, 2)
	s.Play(1)
	s.Close()
	s.Close()
	assert.False(t, s.Playing())
}
