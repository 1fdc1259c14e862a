package timer

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nullbrook/ds-core/internal/shared"
)

func newTestState() *shared.State {
	st := shared.New(slog.Default())
	st.Reset()
	return st
}

func TestCounterAdvancesWithElapsedTime(t *testing.T) {
	st := newTestState()
	c := New(VariantA)

	// Prescaler /1, start running.
	c.WriteIO(st, 0x04000102, 0x80)

	for i := 0; i < 100; i++ {
		st.Sched.AdvanceTime()
	}
	c.updateCounter(st, 0)

	require.Equal(t, uint16(100), c.ch[0].counter)
}

func TestRisingEdgeLoadsReload(t *testing.T) {
	st := newTestState()
	c := New(VariantA)

	c.WriteIO(st, 0x04000100, 0x00) // reload low
	c.WriteIO(st, 0x04000101, 0xF0) // reload high = 0xF000

	c.WriteIO(st, 0x04000102, 0x80) // start, prescaler /1
	require.Equal(t, uint16(0xF000), c.ch[0].counter)
}

func TestCascadeIgnoredOnChannelZero(t *testing.T) {
	st := newTestState()
	c := New(VariantA)
	c.WriteIO(st, 0x04000102, 0x84) // attempt to set cascade bit on channel 0
	require.False(t, c.ch[0].cascade)
}

func TestOverflowFiresIRQAndReloads(t *testing.T) {
	st := newTestState()
	c := New(VariantA)

	c.WriteIO(st, 0x04000100, 0xFE) // reload = 0xFFFE
	c.WriteIO(st, 0x04000101, 0xFF)
	c.WriteIO(st, 0x04000102, 0xC0) // start, irq enable, prescaler /1

	var requested []uint32
	requestIRQ := func(bit uint32) { requested = append(requested, bit) }

	st.Sched.AdvanceTime() // counter: 0xFFFE -> 0xFFFF, no wrap yet
	c.CheckOverflow(st, requestIRQ)
	require.Empty(t, requested)

	st.Sched.AdvanceTime() // counter wraps past 0xFFFF to 0x0000
	c.CheckOverflow(st, requestIRQ)
	require.Equal(t, []uint32{shared.IrqTimer0}, requested)
	require.Equal(t, uint16(0xFFFE), c.ch[0].counter)
}

func TestCascadeChannelIncrementsOnLowerOverflow(t *testing.T) {
	st := newTestState()
	c := New(VariantA)

	c.ch[0].startStop = true
	c.ch[0].counter = 0
	c.ch[1].startStop = true
	c.ch[1].cascade = true
	c.ch[1].counter = 5

	var requested []uint32
	// Directly drive the overflow path: channel 0 is at 0 and "just
	// overflowed" when lastIncrementTimestamp equals now.
	c.ch[0].lastIncrementTimestamp = st.Sched.Now()
	c.CheckOverflow(st, func(bit uint32) { requested = append(requested, bit) })

	require.Equal(t, uint16(6), c.ch[1].counter)
}
