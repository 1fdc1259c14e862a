// Package shared holds the process-wide machine state every subsystem
// needs a reference to: the scheduler, main/work RAM, input latches, and
// the cartridge-bus ownership bits. Per spec.md §9's "cross-component
// references" design note, the machine hands each subsystem a pointer to
// this struct instead of subsystems owning each other, which keeps the
// bus/PPU/scheduler cycle from becoming a Go import cycle.
package shared

import (
	"log/slog"

	"github.com/nullbrook/ds-core/internal/scheduler"
)

const (
	MainRAMSize = 4 * 1024 * 1024
	WRAMSize    = 32 * 1024
)

// Interrupt bit positions shared by both CPUs' IE/IF registers (the low 16
// bits match; CPU-A's IF additionally has a handful of ARM9-only bits
// beyond bit 21 that busa owns directly).
const (
	IrqVBlank      = 0
	IrqHBlank      = 1
	IrqVCount      = 2
	IrqTimer0      = 3
	IrqTimer1      = 4
	IrqTimer2      = 5
	IrqTimer3      = 6
	IrqSerial      = 7
	IrqDma0        = 8
	IrqDma1        = 9
	IrqDma2        = 10
	IrqDma3        = 11
	IrqKeypad      = 12
	IrqGamecard    = 13
	IrqIpcSync     = 16
	IrqIpcSendFifo = 17
	IrqIpcRecvFifo = 18
	IrqGamecardXfr = 19
)

// State is the shared, process-wide slice of machine state described in
// spec.md §3 (a)-(e): main RAM, switchable work RAM, input latches,
// external-memory ownership bits, and (via Sched) currentTime / the event
// heap.
type State struct {
	Sched *scheduler.Scheduler
	Log   *slog.Logger

	MainRAM []byte
	WRAM    []byte

	// WRAMCNT is the 2-bit allocation register controlling how the 32 KB
	// work RAM is split between the two CPUs' page tables.
	WRAMCNT uint8

	// KeyInput/ExtKeyIn are the inverted key-state latches spec.md §3(c)
	// describes; bit clear means "pressed".
	KeyInput uint16
	ExtKeyIn uint8

	// ExMemCnt bit 11 selects which CPU owns the NDS-slot gamecard bus;
	// bit 7 selects which CPU owns the GBA-slot. This is
	// SPEC_FULL.md's supplemented "EXMEMCNT-style ownership register".
	ExMemCnt uint16

	// RequestIRQA/RequestIRQC let shared subsystems (IPC, DMA, timers,
	// RTC, SPI, gamecard) raise an interrupt on whichever CPU they are
	// instantiated for without importing the bus package. Wired by the
	// machine during construction.
	RequestIRQA func(bit uint32)
	RequestIRQC func(bit uint32)
}

// New allocates the shared RAM blocks and an empty scheduler.
func New(log *slog.Logger) *State {
	return &State{
		Sched:   scheduler.New(),
		Log:     log,
		MainRAM: make([]byte, MainRAMSize),
		WRAM:    make([]byte, WRAMSize),
	}
}

// Reset clears RAM, input latches and the scheduler and marks it running;
// the periodic PPU line-start event is re-armed afterwards by the PPU's own
// Reset.
func (s *State) Reset() {
	for i := range s.MainRAM {
		s.MainRAM[i] = 0
	}
	for i := range s.WRAM {
		s.WRAM[i] = 0
	}
	s.WRAMCNT = 0
	s.KeyInput = 0x03FF
	s.ExtKeyIn = 0x3
	s.ExMemCnt = 0
	s.Sched.Reset()
	s.Sched.SetRunning(true)
}

// NdsSlotOwnerIsA reports whether CPU-A currently owns the NDS-slot
// gamecard registers (EXMEMCNT bit 11).
func (s *State) NdsSlotOwnerIsA() bool { return s.ExMemCnt&(1<<11) != 0 }

// GbaSlotOwnerIsA reports whether CPU-A currently owns the GBA-slot.
func (s *State) GbaSlotOwnerIsA() bool { return s.ExMemCnt&(1<<7) != 0 }

func (s *State) irqA(bit uint32) {
	if s.RequestIRQA != nil {
		s.RequestIRQA(bit)
	}
}

func (s *State) irqC(bit uint32) {
	if s.RequestIRQC != nil {
		s.RequestIRQC(bit)
	}
}

// RequestIRQ raises the given interrupt bit on CPU-A, CPU-C, or both,
// depending on which request callbacks are non-nil; components that are
// only relevant to one CPU pass only that bit along by leaving the other
// unused.
func (s *State) RequestIRQ(onA, onC bool, bit uint32) {
	if onA {
		s.irqA(bit)
	}
	if onC {
		s.irqC(bit)
	}
}
