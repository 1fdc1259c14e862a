package scheduler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Scenario 1 from spec.md §8: Enqueue at time 0 A@10, B@5, C@5, D@10;
// advancing to 15 must fire B, C, A, D in that order.
func TestSchedulerOrdering(t *testing.T) {
	s := New()
	s.SetRunning(true)

	s.At(10, Kind(100), 0) // A
	s.At(5, Kind(101), 0)  // B
	s.At(5, Kind(102), 0)  // C
	s.At(10, Kind(103), 0) // D

	var fired []Kind
	for i := 0; i < 15; i++ {
		s.AdvanceTime()
		s.DrainDue(func(ev Event) { fired = append(fired, ev.Kind) })
	}

	require.Equal(t, []Kind{Kind(101), Kind(102), Kind(100), Kind(103)}, fired)
}

func TestNoEventDueAfterDrain(t *testing.T) {
	s := New()
	s.At(3, Stop, 0)
	s.At(3, IpcSyncA, 0)
	s.At(7, IpcSyncC, 0)

	for i := 0; i < 3; i++ {
		s.AdvanceTime()
	}
	s.DrainDue(func(Event) {})

	ev, ok := s.PopDue()
	require.False(t, ok)
	require.Zero(t, ev)
	require.Equal(t, 1, s.Pending())
}

func TestRelativeScheduling(t *testing.T) {
	s := New()
	for i := 0; i < 20; i++ {
		s.AdvanceTime()
	}
	s.After(5, RtcRefresh, 7)

	var got Event
	found := false
	for i := 0; i < 5; i++ {
		s.AdvanceTime()
		s.DrainDue(func(ev Event) {
			got = ev
			found = true
		})
	}
	require.True(t, found)
	require.Equal(t, uint64(25), got.At)
	require.Equal(t, int32(7), got.Data)
}
