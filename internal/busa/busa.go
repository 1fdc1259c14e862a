// Package busa implements CPU-A's address-space controller: the 16-KB
// paged fast-access table, the waitstate table, ITCM/DTCM, and I/O
// dispatch across the PPU, VRAM, math unit, the CPU-A half of IPC/DMA/
// timers, the gamecard, and the coprocessor-15 TCM/cache interface.
// Grounded on spec.md §4.2 and the teacher's jeebie/memory/mem.go
// region-table Read/Write shape, scaled from an 8-bit region index to a
// page-table-backed 28-bit address space.
package busa

import (
	"fmt"

	"github.com/nullbrook/ds-core/internal/buscommon"
	"github.com/nullbrook/ds-core/internal/dma"
	"github.com/nullbrook/ds-core/internal/gamecard"
	"github.com/nullbrook/ds-core/internal/ipc"
	"github.com/nullbrook/ds-core/internal/mathunit"
	"github.com/nullbrook/ds-core/internal/ppu"
	"github.com/nullbrook/ds-core/internal/scheduler"
	"github.com/nullbrook/ds-core/internal/shared"
	"github.com/nullbrook/ds-core/internal/timer"
	"github.com/nullbrook/ds-core/internal/vram"
)

const (
	itcmSize = 32 * 1024
	dtcmSize = 16 * 1024
	biosSize = 32 * 1024
)

// Bus is CPU-A's full address-space controller.
type Bus struct {
	st *shared.State

	pages      buscommon.PageTable
	waitstates buscommon.WaitstateTable

	itcm []byte
	dtcm []byte
	bios []byte

	vram     *vram.Mapper
	ppu      *ppu.PPU
	math     *mathunit.Unit
	gamecard *gamecard.Gamecard
	ipc      *ipc.IPC
	dmaCtl   *dma.Controller
	timerCtl *timer.Controller

	ime bool
	ie  uint32
	if_ uint32

	// Coprocessor-15 state: DTCM/ITCM base+size configuration and the
	// cache-control register. Per spec.md §4.2, only this small register
	// set is implemented; anything else is a fatal stop.
	dtcmBase   uint32
	dtcmSize   uint32
	itcmSize   uint32
	copControl uint32
	halted     bool
}

func New(st *shared.State, vramMapper *vram.Mapper, p *ppu.PPU, math *mathunit.Unit, gc *gamecard.Gamecard, ipcBlock *ipc.IPC, biosImage []byte) *Bus {
	b := &Bus{
		st:       st,
		itcm:     make([]byte, itcmSize),
		dtcm:     make([]byte, dtcmSize),
		bios:     make([]byte, biosSize),
		vram:     vramMapper,
		ppu:      p,
		math:     math,
		gamecard: gc,
		ipc:      ipcBlock,
	}
	if len(biosImage) > 0 {
		copy(b.bios, biosImage)
	}
	b.dmaCtl = dma.New(dma.VariantA, b)
	b.timerCtl = timer.New(timer.VariantA)
	b.setupWaitstates()
	return b
}

func (b *Bus) setupWaitstates() {
	// A coarse approximation of real hardware's region table: main RAM is
	// the slowest region CPU-A regularly touches, everything else this
	// bus reaches directly is effectively zero-wait from the CPU's point
	// of view (the timing-critical waits live in the bus matrix the real
	// hardware arbitrates, which is out of this core's scope).
	for _, width := range []buscommon.Width{buscommon.Width8, buscommon.Width16, buscommon.Width32} {
		b.waitstates.Set(buscommon.AccessData, false, width, 0x2, 0x3, 8)
		b.waitstates.Set(buscommon.AccessData, true, width, 0x2, 0x3, 2)
	}
}

// Reset clears per-CPU RAM and re-maps the page table from the current
// WRAMCNT/VRAM configuration.
func (b *Bus) Reset() {
	for i := range b.itcm {
		b.itcm[i] = 0
	}
	for i := range b.dtcm {
		b.dtcm[i] = 0
	}
	b.ime, b.ie, b.if_ = false, 0, 0
	b.dtcmBase, b.dtcmSize, b.itcmSize = 0, 0, 0
	b.copControl = 0
	b.halted = false
	b.dmaCtl.Reset()
	b.timerCtl.Reset()
	b.RefreshPages()
}

// RefreshPages rebuilds the fast page table from main RAM, shared WRAM
// (per WRAMCNT), ITCM/DTCM, and the BIOS mirror. Scheduled as a
// zero-delay RefreshWramPages event on WRAMCNT writes per spec.md §9's
// "overlapping resource views" design note, rather than mutated inline.
func (b *Bus) RefreshPages() {
	b.pages.Unmap(0, 0x1000_0000)
	b.pages.Map(0x0200_0000, 0x0300_0000, b.st.MainRAM, true)
	b.mapSharedWram()
	b.pages.Map(0xFFFF_0000, 0xFFFF_0000+biosSize, b.bios, true)
}

func (b *Bus) mapSharedWram() {
	switch b.st.WRAMCNT & 0x3 {
	case 0: // CPU-A gets the whole 32 KB
		b.pages.Map(0x0300_0000, 0x0300_8000, b.st.WRAM, true)
	case 1: // second half
		b.pages.Map(0x0300_0000, 0x0300_4000, b.st.WRAM[0x4000:], true)
	case 2: // first half
		b.pages.Map(0x0300_0000, 0x0300_4000, b.st.WRAM[:0x4000], true)
	case 3: // CPU-A has no view; falls through to its own DTCM-sized
		// private RAM at this address range on real hardware, modeled
		// here as simply unmapped (range dispatch returns 0).
	}
}

func (b *Bus) inTCM(addr uint32) ([]byte, int, bool) {
	if b.itcmSize > 0 && addr < b.itcmSize {
		return b.itcm, int(addr) % len(b.itcm), true
	}
	if b.dtcmSize > 0 && addr >= b.dtcmBase && addr < b.dtcmBase+b.dtcmSize {
		return b.dtcm, int(addr-b.dtcmBase) % len(b.dtcm), true
	}
	return nil, 0, false
}

func (b *Bus) Read8(addr uint32) uint8 {
	if data, off, ok := b.inTCM(addr); ok {
		return data[off]
	}
	page, off := b.pages.Lookup(addr)
	if page.Data != nil && page.ByteReadOK {
		return page.Data[off]
	}
	return b.readRange(addr, false)
}

func (b *Bus) Read16(addr uint32, sequential bool) uint16 {
	addr &^= 1
	if data, off, ok := b.inTCM(addr); ok {
		return uint16(data[off]) | uint16(data[off+1])<<8
	}
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
	if data, off, ok := b.inTCM(addr); ok {
		return uint32(data[off]) | uint32(data[off+1])<<8 | uint32(data[off+2])<<16 | uint32(data[off+3])<<24
	}
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
	if data, off, ok := b.inTCM(addr); ok {
		data[off] = value
		return
	}
	page, off := b.pages.Lookup(addr)
	if page.Data != nil && page.ByteReadOK {
		page.Data[off] = value
		return
	}
	b.writeRange(addr, value, false)
}

func (b *Bus) Write16(addr uint32, value uint16, sequential bool) {
	addr &^= 1
	if data, off, ok := b.inTCM(addr); ok {
		data[off], data[off+1] = byte(value), byte(value>>8)
		return
	}
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
	if data, off, ok := b.inTCM(addr); ok {
		data[off], data[off+1], data[off+2], data[off+3] = byte(value), byte(value>>8), byte(value>>16), byte(value>>24)
		return
	}
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

// readRange dispatches an address outside the fast page table by range,
// per spec.md §4.2's bullet list. final marks the last sub-byte access of
// a synthesized wide access.
func (b *Bus) readRange(addr uint32, final bool) uint8 {
	masked := addr & 0x0FFF_FFFF
	switch {
	case masked >= 0x0400_0000 && masked < 0x0500_0000:
		return b.readIO(masked, final)
	case masked >= 0x0500_0000 && masked < 0x0600_0000:
		return b.readPalette(masked)
	case masked >= 0x0600_0000 && masked < 0x0700_0000:
		return b.readVram(masked)
	case masked >= 0x0700_0000 && masked < 0x0800_0000:
		return b.ppu.ReadOAMByte(b.oamEngine(masked), int(masked&0x7FF))
	}
	b.st.Log.Warn("busa: read from unmapped address", "addr", fmt.Sprintf("0x%08X", addr))
	return 0
}

func (b *Bus) writeRange(addr uint32, value uint8, final bool) {
	masked := addr & 0x0FFF_FFFF
	switch {
	case masked >= 0x0400_0000 && masked < 0x0500_0000:
		b.writeIO(masked, value, final)
	case masked >= 0x0500_0000 && masked < 0x0600_0000:
		b.writePalette(masked, value)
	case masked >= 0x0600_0000 && masked < 0x0700_0000:
		b.writeVram(masked, value)
	case masked >= 0x0700_0000 && masked < 0x0800_0000:
		b.ppu.WriteOAMByte(b.oamEngine(masked), int(masked&0x7FF), value)
	default:
		b.st.Log.Warn("busa: write to unmapped address", "addr", fmt.Sprintf("0x%08X", addr), "value", fmt.Sprintf("0x%02X", value))
	}
}

func (b *Bus) oamEngine(masked uint32) ppu.Engine {
	if masked&0x400 != 0 {
		return ppu.EngineB
	}
	return ppu.EngineA
}

func (b *Bus) palEngine(masked uint32) (ppu.Engine, bool) {
	off := masked & 0x7FF
	obj := off&0x200 != 0
	if masked&0x400 != 0 {
		return ppu.EngineB, obj
	}
	return ppu.EngineA, obj
}

func (b *Bus) readPalette(masked uint32) uint8 {
	e, obj := b.palEngine(masked)
	idx := int((masked & 0x3FF) / 2)
	word := b.ppu.ReadPalette(e, obj, idx)
	if masked&1 != 0 {
		return uint8(word >> 8)
	}
	return uint8(word)
}

func (b *Bus) writePalette(masked uint32, value uint8) {
	e, obj := b.palEngine(masked)
	idx := int((masked & 0x3FF) / 2)
	word := b.ppu.ReadPalette(e, obj, idx)
	if masked&1 != 0 {
		word = (word &^ 0xFF00) | uint16(value)<<8
	} else {
		word = (word &^ 0x00FF) | uint16(value)
	}
	b.ppu.WritePalette(e, obj, idx, word)
}

func (b *Bus) vramWindow(masked uint32) (vram.Window, int) {
	off := masked & 0x1F_FFFF
	switch {
	case off < 0x08_0000:
		return vram.WindowEngineABG, int(off)
	case off < 0x0A_0000:
		return vram.WindowEngineBBG, int(off - 0x08_0000)
	case off < 0x0B_0000:
		return vram.WindowEngineAOBJ, int(off - 0x0A_0000)
	case off < 0x0B_8000:
		return vram.WindowEngineBOBJ, int(off - 0x0B_0000)
	default:
		return vram.WindowLCDC, int(off - 0x0B_8000)
	}
}

func (b *Bus) readVram(masked uint32) uint8 {
	w, off := b.vramWindow(masked)
	return b.vram.ReadByte(w, off)
}

func (b *Bus) writeVram(masked uint32, value uint8) {
	w, off := b.vramWindow(masked)
	b.vram.WriteByte(w, off, value)
}

func (b *Bus) readIO(addr uint32, final bool) uint8 {
	switch {
	case addr == 0x0400_0004:
		return uint8(b.ppu.ReadDispstat())
	case addr == 0x0400_0005:
		return uint8(b.ppu.ReadDispstat() >> 8)
	case addr == 0x0400_0006:
		return uint8(b.ppu.ReadVCount())
	case addr == 0x0400_0007:
		return uint8(b.ppu.ReadVCount() >> 8)
	case addr >= 0x0400_0000 && addr <= 0x0400_006F:
		return b.ppu.ReadIO(ppu.EngineA, addr-0x0400_0000)
	case addr >= 0x0400_1000 && addr <= 0x0400_106F:
		return b.ppu.ReadIO(ppu.EngineB, addr-0x0400_1000)
	case addr >= 0x0400_00B0 && addr <= 0x0400_00DF:
		return b.dmaCtl.ReadIO(b.st, addr)
	case addr >= 0x0400_0100 && addr <= 0x0400_010F:
		return b.timerCtl.ReadIO(b.st, addr)
	case addr >= 0x0400_0180 && addr <= 0x0400_018F:
		return b.ipc.ReadIOA(b.st, addr, final)
	case addr >= 0x0410_0000 && addr <= 0x0410_0003:
		return b.ipc.ReadIOA(b.st, addr, final)
	case addr >= 0x0400_01A0 && addr <= 0x0400_01BB:
		return b.gamecard.ReadIO(b.st, addr, final)
	case addr >= 0x0410_0010 && addr <= 0x0410_0013:
		return b.gamecard.ReadIO(b.st, addr, final)
	case addr >= 0x0400_0280 && addr <= 0x0400_02BF:
		return b.math.ReadIO(b.st, addr)
	case addr == 0x0400_0208:
		if b.ime {
			return 1
		}
		return 0
	case addr >= 0x0400_0210 && addr <= 0x0400_0213:
		return uint8(b.ie >> (8 * (addr - 0x0400_0210)))
	case addr >= 0x0400_0214 && addr <= 0x0400_0217:
		return uint8(b.if_ >> (8 * (addr - 0x0400_0214)))
	case addr == 0x0400_0247:
		return b.st.WRAMCNT
	case addr == 0x0400_0241:
		return b.vramControlByte()
	}
	return 0
}

func (b *Bus) vramControlByte() uint8 { return 0 } // VRAMCNT readback is write-only on real hardware

func (b *Bus) writeIO(addr uint32, value uint8, final bool) {
	switch {
	case addr == 0x0400_0004:
		b.ppu.WriteDispstat(setByte16(b.ppu.ReadDispstat(), value, 0))
	case addr == 0x0400_0005:
		b.ppu.WriteDispstat(setByte16(b.ppu.ReadDispstat(), value, 8))
	case addr >= 0x0400_0000 && addr <= 0x0400_006F:
		b.ppu.WriteIO(ppu.EngineA, addr-0x0400_0000, value)
	case addr >= 0x0400_1000 && addr <= 0x0400_106F:
		b.ppu.WriteIO(ppu.EngineB, addr-0x0400_1000, value)
	case addr == 0x0400_0247:
		b.st.WRAMCNT = value & 0x3
		b.st.Sched.After(0, scheduler.RefreshWramPages, 0)
	case addr >= 0x0400_0240 && addr <= 0x0400_024A:
		b.vram.SetControl(vram.Bank(addr-0x0400_0240), value)
		b.st.Sched.After(0, scheduler.RefreshVramPages, 0)
	case addr >= 0x0400_00B0 && addr <= 0x0400_00DF:
		b.dmaCtl.WriteIO(b.st, addr, value)
	case addr >= 0x0400_0100 && addr <= 0x0400_010F:
		b.timerCtl.WriteIO(b.st, addr, value)
	case addr >= 0x0400_0180 && addr <= 0x0400_018F:
		b.ipc.WriteIOA(b.st, addr, value, final)
	case addr >= 0x0410_0000 && addr <= 0x0410_0003:
		b.ipc.WriteIOA(b.st, addr, value, final)
	case addr >= 0x0400_01A0 && addr <= 0x0400_01BB:
		b.gamecard.WriteIO(b.st, addr, value)
	case addr >= 0x0400_0280 && addr <= 0x0400_02BF:
		b.math.WriteIO(b.st, addr, value, final)
	case addr == 0x0400_0208:
		b.ime = value&1 != 0
	case addr >= 0x0400_0210 && addr <= 0x0400_0213:
		b.ie = setByte32(b.ie, value, 8*(addr-0x0400_0210)) & ieValidBits
	case addr >= 0x0400_0214 && addr <= 0x0400_0217:
		b.if_ &^= (uint32(value) << (8 * (addr - 0x0400_0214))) & ieValidBits // write-1-to-clear
	}
}

// ieValidBits masks IE/IF writes down to the bits this machine actually
// defines interrupts for (vblank/hblank/vcount, timer0-3, dma0-3,
// keypad, gamecard, ipc sync/send/recv fifo, gamecard transfer); undefined
// bits read back as zero regardless of what a partial-width write stores.
const ieValidBits = 0x003F7F7F

func setByte16(v uint16, b uint8, shift uint32) uint16 {
	mask := uint16(0xFF) << shift
	return (v &^ mask) | uint16(b)<<shift
}

func setByte32(v uint32, b uint8, shift uint32) uint32 {
	mask := uint32(0xFF) << shift
	return (v &^ mask) | uint32(b)<<shift
}

// RequestIRQ ORs bit into IF and, if IME and the matching IE bit are set,
// marks the CPU as no longer halted (the flag is exposed through Halted).
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

// CheckDmaTrigger forwards a DMA start-condition event from the PPU/
// gamecard to the channel controller.
func (b *Bus) CheckDmaTrigger(trigger dma.Trigger) { b.dmaCtl.CheckTrigger(trigger) }

// CheckTimerOverflow re-validates any timer predicted to have overflowed
// by now, requesting its IRQ if still due.
func (b *Bus) CheckTimerOverflow() { b.timerCtl.CheckOverflow(b.st, b.RequestIRQ) }

// IME/IE/IF accessors let the corestub's interrupt-entry logic read this
// bus's interrupt state without exposing the fields directly.
func (b *Bus) IME() bool    { return b.ime }
func (b *Bus) IE() uint32   { return b.ie }
func (b *Bus) PendingIF() uint32 { return b.if_ }
func (b *Bus) Halted() bool { return b.halted }
func (b *Bus) Halt()        { b.halted = true }

// ReadCoprocessor/WriteCoprocessor implement the CP15 subset spec.md §4.2
// names: main ID/cache-type/TCM-size are fixed read-only values, control
// and the TCM base/size registers are read-write, cache-op writes with
// opcode2/CRm matching 7/0/4 or 7/8/2 halt the CPU, and anything else is
// a fatal stop after logging.
func (b *Bus) ReadCoprocessor(coproc, opcode1, cn, cm, opcode2 uint32) uint32 {
	if coproc != 15 {
		b.fatalStop("coprocessor read", coproc, cn, cm, opcode2)
		return 0
	}
	switch {
	case cn == 0 && cm == 0 && opcode2 == 0:
		return 0x41059461 // fixed main ID value
	case cn == 0 && cm == 0 && opcode2 == 1:
		return 0x0F0D2112 // fixed cache-type value
	case cn == 0 && cm == 0 && opcode2 == 2:
		return 0x00140180 // fixed TCM-size value
	case cn == 9 && cm == 1 && opcode2 == 0:
		return b.dtcmBase | encodeSize(b.dtcmSize)
	case cn == 9 && cm == 1 && opcode2 == 1:
		return encodeSize(b.itcmSize)
	case cn == 1 && cm == 0 && opcode2 == 0:
		return b.copControl
	}
	b.fatalStop("coprocessor read", coproc, cn, cm, opcode2)
	return 0
}

func (b *Bus) WriteCoprocessor(coproc, opcode1, cn, cm, opcode2, value uint32) {
	if coproc != 15 {
		b.fatalStop("coprocessor write", coproc, cn, cm, opcode2)
		return
	}
	switch {
	case cn == 1 && cm == 0 && opcode2 == 0:
		b.copControl = value
	case cn == 9 && cm == 1 && opcode2 == 0:
		b.dtcmBase = value &^ 0xFFF
		b.dtcmSize = 512 << ((value >> 1) & 0x3F)
	case cn == 9 && cm == 1 && opcode2 == 1:
		b.itcmSize = 512 << ((value >> 1) & 0x3F)
	case cn == 7 && ((cm == 0 && opcode2 == 4) || (cm == 8 && opcode2 == 2)):
		b.halted = true
	default:
		b.fatalStop("coprocessor write", coproc, cn, cm, opcode2)
	}
}

func encodeSize(size uint32) uint32 {
	n := uint32(0)
	for (512 << n) < size {
		n++
	}
	return n << 1
}

func (b *Bus) fatalStop(op string, coproc, cn, cm, opcode2 uint32) {
	b.st.Log.Error("fatal stop: unsupported coprocessor access", "op", op, "coproc", coproc, "cn", cn, "cm", cm, "opcode2", opcode2)
	b.st.Sched.After(0, scheduler.Stop, 0)
}

// WaitCycles returns the waitstate cost of one access at addr, for the
// corestub's instruction-timing loop.
func (b *Bus) WaitCycles(kind buscommon.AccessKind, sequential bool, width buscommon.Width, addr uint32) uint8 {
	return b.waitstates.Cycles(kind, sequential, width, addr)
}

var _ dma.Bus = (*Bus)(nil)
