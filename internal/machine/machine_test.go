package machine

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nullbrook/ds-core/internal/shared"
)

func newTestMachine() *Machine {
	m := New(slog.Default(), nil)
	m.Reset()
	return m
}

func TestResetArmsSchedulerAndStepAdvancesTime(t *testing.T) {
	m := newTestMachine()
	require.Equal(t, uint64(0), m.st.Sched.Now())

	m.Step()

	require.Equal(t, uint64(1), m.st.Sched.Now())
}

func TestRunFrameReachesVblank(t *testing.T) {
	m := newTestMachine()
	m.st.Sched.SetRunning(true)

	m.RunFrame()

	require.GreaterOrEqual(t, m.ppu.ReadVCount(), uint16(192))
}

func TestRunFrameFiresVblankIrqOnCpuA(t *testing.T) {
	m := newTestMachine()
	m.st.Sched.SetRunning(true)
	m.busA.Write8(0x0400_0004, 0x08) // DISPSTAT: enable vblank IRQ
	m.busA.Write8(0x0400_0208, 1)    // IME
	m.busA.Write32(0x0400_0210, 1<<shared.IrqVBlank, false)

	m.RunFrame()

	require.NotEqual(t, uint32(0), m.busA.PendingIF()&(1<<shared.IrqVBlank))
}

func TestSetKeysInvertsBits(t *testing.T) {
	m := newTestMachine()
	m.SetKeys(0x0001)
	require.Equal(t, uint16(0x03FE), m.st.KeyInput)
}

func TestThreadEventQueueDrainsInOrder(t *testing.T) {
	m := newTestMachine()
	m.st.Sched.SetRunning(false)

	m.PostThreadEvent(ThreadEvent{Kind: ThreadEventStart})
	m.DrainThreadEvents()

	require.True(t, m.st.Sched.Running())
}

func TestThreadEventResetReArmsScheduler(t *testing.T) {
	m := newTestMachine()
	m.Step()
	require.NotEqual(t, uint64(0), m.st.Sched.Now())

	m.PostThreadEvent(ThreadEvent{Kind: ThreadEventReset})
	m.DrainThreadEvents()

	require.Equal(t, uint64(0), m.st.Sched.Now())
}
