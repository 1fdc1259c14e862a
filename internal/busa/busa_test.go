package busa

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nullbrook/ds-core/internal/gamecard"
	"github.com/nullbrook/ds-core/internal/ipc"
	"github.com/nullbrook/ds-core/internal/mathunit"
	"github.com/nullbrook/ds-core/internal/ppu"
	"github.com/nullbrook/ds-core/internal/scheduler"
	"github.com/nullbrook/ds-core/internal/shared"
	"github.com/nullbrook/ds-core/internal/vram"
)

func newTestBus() *Bus {
	st := shared.New(slog.Default())
	st.Reset()
	vm := vram.New()
	p := ppu.New(vm)
	math := mathunit.New()
	gc := gamecard.New()
	ipcBlock := ipc.New()
	b := New(st, vm, p, math, gc, ipcBlock, nil)
	b.Reset()
	return b
}

func TestMainRamFastPathRoundTrips(t *testing.T) {
	b := newTestBus()
	b.Write32(0x0200_0000, 0xDEADBEEF, false)
	require.Equal(t, uint32(0xDEADBEEF), b.Read32(0x0200_0000, false))
}

func TestMainRamMirrorsAcrossPages(t *testing.T) {
	b := newTestBus()
	b.Write8(0x0200_1234, 0x42)
	require.Equal(t, uint8(0x42), b.Read8(0x0200_1234))
}

func TestDispstatRegisterRoundTrips(t *testing.T) {
	b := newTestBus()
	b.Write8(0x0400_0004, 0x08) // enable vblank IRQ bit (bit 3)
	require.NotEqual(t, uint8(0), b.Read8(0x0400_0004)&0x08)
}

func TestImeFlagRoundTrips(t *testing.T) {
	b := newTestBus()
	b.Write8(0x0400_0208, 1)
	require.Equal(t, uint8(1), b.Read8(0x0400_0208))
	require.True(t, b.IME())
}

func TestInterruptEnableRegisterRoundTrips(t *testing.T) {
	b := newTestBus()
	b.Write32(0x0400_0210, 0x0000_0021, false)
	require.Equal(t, uint32(0x21), b.IE())
}

func TestInterruptEnableRegisterMasksUndefinedBits(t *testing.T) {
	b := newTestBus()
	b.Write32(0x0400_0210, 0x1234_5678, false)
	require.Equal(t, uint32(0x0034_5678), b.IE())
}

func TestRequestIrqSetsIfAndWakesHalted(t *testing.T) {
	b := newTestBus()
	b.Write8(0x0400_0208, 1)
	b.ie = 1 << shared.IrqVBlank
	b.Halt()
	require.True(t, b.Halted())

	b.RequestIRQ(shared.IrqVBlank)

	require.False(t, b.Halted())
	require.NotEqual(t, uint32(0), b.PendingIF()&(1<<shared.IrqVBlank))
}

func TestInterruptFlagWriteOneClears(t *testing.T) {
	b := newTestBus()
	b.RequestIRQ(shared.IrqVBlank)
	require.NotEqual(t, uint32(0), b.PendingIF())

	b.Write8(0x0400_0214, 1<<shared.IrqVBlank)

	require.Equal(t, uint32(0), b.PendingIF())
}

func TestWramcntWriteRepartitionsFastPath(t *testing.T) {
	b := newTestBus()
	b.st.WRAM[0] = 0x11
	b.st.WRAM[0x4000] = 0x22

	b.Write8(0x0400_0247, 2) // CPU-A gets the first half only
	b.RefreshPages()

	require.Equal(t, uint8(0x11), b.Read8(0x0300_0000))
}

func TestCoprocessorDtcmConfigRoundTrips(t *testing.T) {
	b := newTestBus()
	b.WriteCoprocessor(15, 0, 9, 1, 0, 0x0300_0000|(5<<1))

	got := b.ReadCoprocessor(15, 0, 9, 1, 0)
	require.Equal(t, uint32(0x0300_0000), got&^0x3F)
}

func TestUnsupportedCoprocessorEnqueuesStop(t *testing.T) {
	b := newTestBus()
	b.st.Sched.SetRunning(true)

	b.ReadCoprocessor(14, 0, 0, 0, 0)

	var kinds []scheduler.Kind
	b.st.Sched.DrainDue(func(ev scheduler.Event) { kinds = append(kinds, ev.Kind) })
	require.Contains(t, kinds, scheduler.Stop)
}

func TestOamByteRoundTripsThroughRangeDispatch(t *testing.T) {
	b := newTestBus()
	b.Write8(0x0700_0000, 0x77)
	require.Equal(t, uint8(0x77), b.Read8(0x0700_0000))
}
