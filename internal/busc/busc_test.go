package busc

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nullbrook/ds-core/internal/gamecard"
	"github.com/nullbrook/ds-core/internal/ipc"
	"github.com/nullbrook/ds-core/internal/rtc"
	"github.com/nullbrook/ds-core/internal/shared"
	"github.com/nullbrook/ds-core/internal/spi"
)

func newTestBus() *Bus {
	st := shared.New(slog.Default())
	st.Reset()
	r := rtc.New()
	s := spi.New(nil)
	gc := gamecard.New()
	ipcBlock := ipc.New()
	b := New(st, r, s, gc, ipcBlock, nil)
	b.Reset()
	return b
}

func TestMainRamFastPathRoundTrips(t *testing.T) {
	b := newTestBus()
	b.Write32(0x0200_0000, 0xCAFEBABE, false)
	require.Equal(t, uint32(0xCAFEBABE), b.Read32(0x0200_0000, false))
}

func TestFastRamRoundTrips(t *testing.T) {
	b := newTestBus()
	b.Write8(0x0380_0010, 0x9A)
	require.Equal(t, uint8(0x9A), b.Read8(0x0380_0010))
}

func TestWramComplementsCpuA(t *testing.T) {
	b := newTestBus()
	b.st.WRAMCNT = 1 // CPU-A holds the second half, so CPU-C gets the first
	b.RefreshPages()
	b.st.WRAM[0] = 0x55

	require.Equal(t, uint8(0x55), b.Read8(0x0300_0000))
}

func TestGbaSlotOpenBusReturnsAddressLowBits(t *testing.T) {
	b := newTestBus()
	got := b.Read16(0x0800_1234, false)
	require.Equal(t, uint16(0x1234), got)
}

func TestAudioRegisterRangeRoundTrips(t *testing.T) {
	b := newTestBus()
	b.Write8(0x0400_0500, 0x7F) // MASTER_VOLUME
	require.Equal(t, uint8(0x7F), b.Read8(0x0400_0500)&0x7F)
}

func TestImeFlagRoundTrips(t *testing.T) {
	b := newTestBus()
	b.Write8(0x0400_0208, 1)
	require.True(t, b.IME())
}

func TestInterruptEnableRegisterMasksUndefinedBits(t *testing.T) {
	b := newTestBus()
	b.Write32(0x0400_0210, 0x1234_5678, false)
	require.Equal(t, uint32(0x0034_5678), b.IE())
}

func TestRequestIrqWakesHalted(t *testing.T) {
	b := newTestBus()
	b.Write8(0x0400_0208, 1)
	b.ie = 1 << shared.IrqIpcSync
	b.Halt()

	b.RequestIRQ(shared.IrqIpcSync)

	require.False(t, b.Halted())
}
