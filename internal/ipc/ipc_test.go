package ipc

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nullbrook/ds-core/internal/scheduler"
	"github.com/nullbrook/ds-core/internal/shared"
)

func newTestState() *shared.State {
	st := shared.New(slog.Default())
	st.Reset()
	return st
}

func TestFifoRoundTrip(t *testing.T) {
	st := newTestState()
	i := New()

	// Enable both sides' FIFOs (IPCFIFOCNT bit 15).
	i.WriteIOA(st, 0x04000185, 0x80, true)
	i.WriteIOC(st, 0x04000185, 0x80, true)

	i.WriteIOA(st, 0x04000188, 0x78, false)
	i.WriteIOA(st, 0x04000189, 0x56, false)
	i.WriteIOA(st, 0x0400018A, 0x34, false)
	i.WriteIOA(st, 0x0400018B, 0x12, true)

	require.False(t, i.fifoAtoC.empty())

	var got uint32
	got |= uint32(i.ReadIOC(st, 0x04100000, false))
	got |= uint32(i.ReadIOC(st, 0x04100001, false)) << 8
	got |= uint32(i.ReadIOC(st, 0x04100002, false)) << 16
	got |= uint32(i.ReadIOC(st, 0x04100003, true)) << 24

	require.Equal(t, uint32(0x12345678), got)
	require.True(t, i.fifoAtoC.empty())
}

func TestFifoFullSetsErrorFlag(t *testing.T) {
	st := newTestState()
	i := New()
	i.WriteIOA(st, 0x04000185, 0x80, true)

	for n := 0; n < fifoDepth; n++ {
		i.WriteIOA(st, 0x0400018B, uint8(n), true)
	}
	require.False(t, i.a.fifoError)

	i.WriteIOA(st, 0x0400018B, 0xFF, true)
	require.True(t, i.a.fifoError)
}

func TestSyncIrqRequestedOnPeerEnable(t *testing.T) {
	st := newTestState()
	i := New()

	// CPU-C enables its sync IRQ.
	i.WriteIOC(st, 0x04000181, 1<<6, true)

	// CPU-A fires its send-IRQ bit; since CPU-C has enableIrq set, a
	// zero-delay IpcSyncC event should be scheduled.
	i.WriteIOA(st, 0x04000181, 1<<5, true)

	require.Equal(t, 1, st.Sched.Pending())
	ev, ok := st.Sched.PopDue()
	require.True(t, ok)
	require.Equal(t, scheduler.IpcSyncC, ev.Kind)
}

func TestPartialWriteMirrorsByte(t *testing.T) {
	word, mask := mirrorPartialWrite(0xAA, 0xFF)
	require.Equal(t, uint32(0xAAAAAAAA), word)
	require.Equal(t, uint32(0xFF), mask)
}

func TestPartialWriteMirrorsHalfword(t *testing.T) {
	word, mask := mirrorPartialWrite(0xBEEF, 0xFFFF)
	require.Equal(t, uint32(0xBEEFBEEF), word)
	require.Equal(t, uint32(0xFFFF), mask)
}
