// Package busc implements CPU-C's address-space controller: the same
// paged fast-access/waitstate shape as busa, scoped to the peripherals
// CPU-C owns (RTC, SPI/touchscreen+firmware, the audio mixer, its own
// DMA/timer/IPC halves, the gamecard command window, and the GBA-slot
// open-bus stub), plus its private 64 KB fast RAM and 16 KB BIOS.
// Grounded on spec.md §4.2 and the teacher's jeebie/memory/mem.go
// region-table dispatch idiom, mirroring busa's structure for the
// CPU-C-specific peripheral set.
package busc

import (
	"fmt"

	"github.com/nullbrook/ds-core/internal/audio"
	"github.com/nullbrook/ds-core/internal/buscommon"
	"github.com/nullbrook/ds-core/internal/dma"
	"github.com/nullbrook/ds-core/internal/gamecard"
	"github.com/nullbrook/ds-core/internal/ipc"
	"github.com/nullbrook/ds-core/internal/rtc"
	"github.com/nullbrook/ds-core/internal/shared"
	"github.com/nullbrook/ds-core/internal/spi"
	"github.com/nullbrook/ds-core/internal/timer"
)

const (
	fastRamSize = 64 * 1024
	biosSize    = 16 * 1024

	rtcRegister = 0x0400_0138
)

// Bus is CPU-C's full address-space controller.
type Bus struct {
	st *shared.State

	pages      buscommon.PageTable
	waitstates buscommon.WaitstateTable

	fastRAM []byte
	bios    []byte

	rtc      *rtc.RTC
	spi      *spi.SPI
	audio    *audio.Mixer
	gamecard *gamecard.Gamecard
	ipc      *ipc.IPC
	dmaCtl   *dma.Controller
	timerCtl *timer.Controller

	ime bool
	ie  uint32
	if_ uint32

	halted bool
}

func New(st *shared.State, r *rtc.RTC, s *spi.SPI, gc *gamecard.Gamecard, ipcBlock *ipc.IPC, biosImage []byte) *Bus {
	b := &Bus{
		st:       st,
		fastRAM:  make([]byte, fastRamSize),
		bios:     make([]byte, biosSize),
		rtc:      r,
		spi:      s,
		gamecard: gc,
		ipc:      ipcBlock,
	}
	if len(biosImage) > 0 {
		copy(b.bios, biosImage)
	}
	b.audio = audio.New(b)
	b.dmaCtl = dma.New(dma.VariantC, b)
	b.timerCtl = timer.New(timer.VariantC)
	b.setupWaitstates()
	return b
}

func (b *Bus) setupWaitstates() {
	for _, width := range []buscommon.Width{buscommon.Width8, buscommon.Width16, buscommon.Width32} {
		b.waitstates.Set(buscommon.AccessData, false, width, 0x2, 0x3, 8)
		b.waitstates.Set(buscommon.AccessData, true, width, 0x2, 0x3, 2)
	}
}

func (b *Bus) Reset() {
	for i := range b.fastRAM {
		b.fastRAM[i] = 0
	}
	b.ime, b.ie, b.if_ = false, 0, 0
	b.halted = false
	b.dmaCtl.Reset()
	b.timerCtl.Reset()
	b.audio.Reset()
	b.RefreshPages()
}

// RefreshPages rebuilds the fast page table from main RAM, shared WRAM
// (per WRAMCNT's CPU-C complement), the private fast RAM, and the BIOS
// mirror.
func (b *Bus) RefreshPages() {
	b.pages.Unmap(0, 0x1000_0000)
	b.pages.Map(0x0200_0000, 0x0300_0000, b.st.MainRAM, true)
	b.mapSharedWram()
	b.pages.Map(0x0380_0000, 0x0380_0000+fastRamSize, b.fastRAM, true)
	b.pages.Map(0xFFFF_0000, 0xFFFF_0000+biosSize, b.bios, true)
}

func (b *Bus) mapSharedWram() {
	// CPU-C's view of the shared 32 KB block is the complement of
	// CPU-A's per spec.md §4.1: whichever half (or all, or none) CPU-A
	// does not hold, CPU-C does, and vice versa.
	switch b.st.WRAMCNT & 0x3 {
	case 0: // CPU-A holds all of it; CPU-C falls back to its own fast RAM
	case 1: // CPU-A has the second half; CPU-C gets the first
		b.pages.Map(0x0300_0000, 0x0300_4000, b.st.WRAM[:0x4000], true)
	case 2: // CPU-A has the first half; CPU-C gets the second
		b.pages.Map(0x0300_0000, 0x0300_4000, b.st.WRAM[0x4000:], true)
	case 3: // CPU-A has no view; CPU-C gets the whole block
		b.pages.Map(0x0300_0000, 0x0300_8000, b.st.WRAM, true)
	}
}

func (b *Bus) Read8(addr uint32) uint8 {
	page, off := b.pages.Lookup(addr)
	if page.Data != nil && page.ByteReadOK {
		return page.Data[off]
	}
	return b.readRange(addr, false)
}

func (b *Bus) Read16(addr uint32, sequential bool) uint16 {
	addr &^= 1
	page, off := b.pages.Lookup(addr)
	if page.Data != nil {
		return uint16(page.Data[off]) | uint16(page.Data[off+1])<<8
	}
	lo := b.readRange(addr, false)
	hi := b.readRange(addr+1, true)
	return uint16(lo) | uint16(hi)<<8
}

func (b *Bus) Read32(addr uint32, sequential bool) uint32 {
	addr &^= 3
	page, off := b.pages.Lookup(addr)
	if page.Data != nil {
		return uint32(page.Data[off]) | uint32(page.Data[off+1])<<8 | uint32(page.Data[off+2])<<16 | uint32(page.Data[off+3])<<24
	}
	b0 := b.readRange(addr, false)
	b1 := b.readRange(addr+1, true)
	b2 := b.readRange(addr+2, true)
	b3 := b.readRange(addr+3, true)
	return uint32(b0) | uint32(b1)<<8 | uint32(b2)<<16 | uint32(b3)<<24
}

func (b *Bus) Write8(addr uint32, value uint8) {
	page, off := b.pages.Lookup(addr)
	if page.Data != nil && page.ByteReadOK {
		page.Data[off] = value
		return
	}
	b.writeRange(addr, value, false)
}

func (b *Bus) Write16(addr uint32, value uint16, sequential bool) {
	addr &^= 1
	page, off := b.pages.Lookup(addr)
	if page.Data != nil {
		page.Data[off], page.Data[off+1] = byte(value), byte(value>>8)
		return
	}
	b.writeRange(addr, byte(value), false)
	b.writeRange(addr+1, byte(value>>8), true)
}

func (b *Bus) Write32(addr uint32, value uint32, sequential bool) {
	addr &^= 3
	page, off := b.pages.Lookup(addr)
	if page.Data != nil {
		page.Data[off], page.Data[off+1], page.Data[off+2], page.Data[off+3] = byte(value), byte(value>>8), byte(value>>16), byte(value>>24)
		return
	}
	b.writeRange(addr, byte(value), false)
	b.writeRange(addr+1, byte(value>>8), true)
	b.writeRange(addr+2, byte(value>>16), true)
	b.writeRange(addr+3, byte(value>>24), true)
}

// ReadByte satisfies audio.BusReader: the mixer reads source samples
// through the same 32-bit address space as everything else on this bus.
func (b *Bus) ReadByte(addr uint32) byte { return b.Read8(addr) }

func (b *Bus) readRange(addr uint32, final bool) uint8 {
	masked := addr & 0x0FFF_FFFF
	switch {
	case masked >= 0x0400_0000 && masked < 0x0500_0000:
		return b.readIO(masked, final)
	case masked >= 0x0800_0000 && masked < 0x0A00_0000:
		return b.readGbaSlotOpenBus(masked)
	case masked >= 0x0A00_0000 && masked < 0x0A01_0000:
		return 0 // GBA-slot SRAM window, unmodeled
	}
	b.st.Log.Warn("busc: read from unmapped address", "addr", fmt.Sprintf("0x%08X", addr))
	return 0
}

func (b *Bus) writeRange(addr uint32, value uint8, final bool) {
	masked := addr & 0x0FFF_FFFF
	switch {
	case masked >= 0x0400_0000 && masked < 0x0500_0000:
		b.writeIO(masked, value, final)
	default:
		b.st.Log.Warn("busc: write to unmapped address", "addr", fmt.Sprintf("0x%08X", addr), "value", fmt.Sprintf("0x%02X", value))
	}
}

// readGbaSlotOpenBus returns the low byte of the half-word formed from
// the access address itself, the standard open-bus behavior for an
// empty GBA slot per spec.md §4.1's gamecard-window notes.
func (b *Bus) readGbaSlotOpenBus(masked uint32) uint8 {
	half := uint16(masked & 0x1FFFF)
	if masked&1 != 0 {
		return uint8(half >> 8)
	}
	return uint8(half)
}

func (b *Bus) readIO(addr uint32, final bool) uint8 {
	switch {
	case addr == rtcRegister:
		return b.rtc.ReadIO()
	case addr >= 0x0400_01C0 && addr <= 0x0400_01C3:
		return b.spi.ReadIO(b.st, addr)
	case addr >= 0x0400_0400 && addr <= 0x0400_05FF:
		return b.audio.ReadIO(addr - 0x0400_0400)
	case addr >= 0x0400_00B0 && addr <= 0x0400_00DF:
		return b.dmaCtl.ReadIO(b.st, addr)
	case addr >= 0x0400_0100 && addr <= 0x0400_010F:
		return b.timerCtl.ReadIO(b.st, addr)
	case addr >= 0x0400_0180 && addr <= 0x0400_018F:
		return b.ipc.ReadIOC(b.st, addr, final)
	case addr >= 0x0410_0000 && addr <= 0x0410_0003:
		return b.ipc.ReadIOC(b.st, addr, final)
	case addr >= 0x0400_01A0 && addr <= 0x0400_01BB:
		return b.gamecard.ReadIO(b.st, addr, final)
	case addr >= 0x0410_0010 && addr <= 0x0410_0013:
		return b.gamecard.ReadIO(b.st, addr, final)
	case addr == 0x0400_0208:
		if b.ime {
			return 1
		}
		return 0
	case addr >= 0x0400_0210 && addr <= 0x0400_0213:
		return uint8(b.ie >> (8 * (addr - 0x0400_0210)))
	case addr >= 0x0400_0214 && addr <= 0x0400_0217:
		return uint8(b.if_ >> (8 * (addr - 0x0400_0214)))
	}
	return 0
}

func (b *Bus) writeIO(addr uint32, value uint8, final bool) {
	switch {
	case addr == rtcRegister:
		b.rtc.WriteIO(b.st, value)
	case addr >= 0x0400_01C0 && addr <= 0x0400_01C3:
		b.spi.WriteIO(b.st, addr, value)
	case addr >= 0x0400_0400 && addr <= 0x0400_05FF:
		b.audio.WriteIO(addr-0x0400_0400, value)
	case addr >= 0x0400_00B0 && addr <= 0x0400_00DF:
		b.dmaCtl.WriteIO(b.st, addr, value)
	case addr >= 0x0400_0100 && addr <= 0x0400_010F:
		b.timerCtl.WriteIO(b.st, addr, value)
	case addr >= 0x0400_0180 && addr <= 0x0400_018F:
		b.ipc.WriteIOC(b.st, addr, value, final)
	case addr >= 0x0410_0000 && addr <= 0x0410_0003:
		b.ipc.WriteIOC(b.st, addr, value, final)
	case addr >= 0x0400_01A0 && addr <= 0x0400_01BB:
		b.gamecard.WriteIO(b.st, addr, value)
	case addr == 0x0400_0208:
		b.ime = value&1 != 0
	case addr >= 0x0400_0210 && addr <= 0x0400_0213:
		b.ie = setByte32(b.ie, value, 8*(addr-0x0400_0210)) & ieValidBits
	case addr >= 0x0400_0214 && addr <= 0x0400_0217:
		b.if_ &^= (uint32(value) << (8 * (addr - 0x0400_0214))) & ieValidBits
	}
}

// ieValidBits masks IE/IF writes down to the bits this machine actually
// defines interrupts for; undefined bits read back as zero regardless of
// what a partial-width write stores.
const ieValidBits = 0x003F7F7F

func setByte32(v uint32, bVal uint8, shift uint32) uint32 {
	mask := uint32(0xFF) << shift
	return (v &^ mask) | uint32(bVal)<<shift
}

func (b *Bus) RequestIRQ(bit uint32) {
	b.if_ |= 1 << bit
	if b.ime && b.ie&(1<<bit) != 0 {
		b.halted = false
	}
}

// RequestDmaIRQ satisfies dma.Bus.
func (b *Bus) RequestDmaIRQ(channel int) {
	b.RequestIRQ(shared.IrqDma0 + uint32(channel))
}

func (b *Bus) CheckDmaTrigger(trigger dma.Trigger) { b.dmaCtl.CheckTrigger(trigger) }
func (b *Bus) CheckTimerOverflow()                 { b.timerCtl.CheckOverflow(b.st, b.RequestIRQ) }

func (b *Bus) IME() bool         { return b.ime }
func (b *Bus) IE() uint32        { return b.ie }
func (b *Bus) PendingIF() uint32 { return b.if_ }
func (b *Bus) Halted() bool      { return b.halted }
func (b *Bus) Halt()             { b.halted = true }

// Audio returns the mixer this bus owns, for the host-facing sample
// accessor and the scheduler's ApuSample handler.
func (b *Bus) Audio() *audio.Mixer { return b.audio }

// WaitCycles returns the waitstate cost of one access at addr, for the
// corestub's instruction-timing loop.
func (b *Bus) WaitCycles(kind buscommon.AccessKind, sequential bool, width buscommon.Width, addr uint32) uint8 {
	return b.waitstates.Cycles(kind, sequential, width, addr)
}

var _ dma.Bus = (*Bus)(nil)
var _ audio.BusReader = (*Bus)(nil)
