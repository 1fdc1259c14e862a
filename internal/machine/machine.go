// Package machine composes every subsystem into one runnable unit:
// shared state, both CPUs' bus controllers and core stubs, the PPU/VRAM
// pair, audio, and the peripherals owned by each CPU. It drives the
// scheduler's advance-one-unit loop and exposes the host-facing
// load/reset/run/input surface spec.md §4.1 and §6 describe. Grounded on
// spec.md §4.1's run-loop description and the teacher's
// jeebie/backend/headless.go "own state, run N frames" shape, generalized
// from a single-CPU Game Boy loop to the dual-CPU cooperative model.
package machine

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/nullbrook/ds-core/internal/busa"
	"github.com/nullbrook/ds-core/internal/busc"
	"github.com/nullbrook/ds-core/internal/buscommon"
	"github.com/nullbrook/ds-core/internal/corestub"
	"github.com/nullbrook/ds-core/internal/dma"
	"github.com/nullbrook/ds-core/internal/gamecard"
	"github.com/nullbrook/ds-core/internal/ipc"
	"github.com/nullbrook/ds-core/internal/mathunit"
	"github.com/nullbrook/ds-core/internal/ppu"
	"github.com/nullbrook/ds-core/internal/rtc"
	"github.com/nullbrook/ds-core/internal/scheduler"
	"github.com/nullbrook/ds-core/internal/shared"
	"github.com/nullbrook/ds-core/internal/spi"
	"github.com/nullbrook/ds-core/internal/vram"
)

// Machine owns every subsystem and the scheduler-driven run loop tying
// them together.
type Machine struct {
	st *shared.State

	vram     *vram.Mapper
	ppu      *ppu.PPU
	math     *mathunit.Unit
	gamecard *gamecard.Gamecard
	ipc      *ipc.IPC
	rtc      *rtc.RTC
	spi      *spi.SPI

	busA *busa.Bus
	busC *busc.Bus

	coreA corestub.Core
	coreC corestub.Core

	delayA int32
	delayC int32

	key1Table []byte

	mu     sync.Mutex
	events []ThreadEvent
}

// New constructs a machine with an empty cartridge and no BIOS/firmware
// images loaded; call the Load* methods before Reset to run anything
// meaningful.
func New(log *slog.Logger, firmwareImage []byte) *Machine {
	if log == nil {
		log = slog.Default()
	}
	st := shared.New(log)

	m := &Machine{
		st:       st,
		vram:     vram.New(),
		math:     mathunit.New(),
		gamecard: gamecard.New(),
		ipc:      ipc.New(),
		rtc:      rtc.New(),
		spi:      spi.New(firmwareImage),
	}
	m.ppu = ppu.New(m.vram)

	m.busA = busa.New(st, m.vram, m.ppu, m.math, m.gamecard, m.ipc, nil)
	m.busC = busc.New(st, m.rtc, m.spi, m.gamecard, m.ipc, nil)

	st.RequestIRQA = m.busA.RequestIRQ
	st.RequestIRQC = m.busC.RequestIRQ

	m.coreA = corestub.New()
	m.coreC = corestub.New()

	return m
}

// LoadBIOSA/LoadBIOSC install CPU-A's 32 KB or CPU-C's 16 KB BIOS image;
// call before Reset.
func (m *Machine) LoadBIOSA(image []byte) { m.busA = busa.New(m.st, m.vram, m.ppu, m.math, m.gamecard, m.ipc, image); m.rewireA() }
func (m *Machine) LoadBIOSC(image []byte) { m.busC = busc.New(m.st, m.rtc, m.spi, m.gamecard, m.ipc, image); m.rewireC() }

func (m *Machine) rewireA() { m.st.RequestIRQA = m.busA.RequestIRQ }
func (m *Machine) rewireC() { m.st.RequestIRQC = m.busC.RequestIRQ }

// LoadROM installs a gamecard image, optionally with a KEY1 table for
// secure-area decryption; if key1Table is nil, the KEY1 key schedules are
// derived from an all-zero key buffer.
func (m *Machine) LoadROM(rom []byte, key1Table []byte) {
	m.key1Table = key1Table
	m.gamecard.LoadROM(rom, key1Table)
}

// Reset brings every subsystem back to its post-reset state and arms the
// periodic PPU line-start event, matching spec.md §3's "event queue is
// never empty except transiently" invariant.
func (m *Machine) Reset() {
	m.st.Reset()
	m.vram.Reset()
	m.ppu.Reset(m.st)
	m.math.Reset()
	m.gamecard.Reset()
	m.ipc.Reset()
	m.rtc.Reset()
	m.spi.Reset()
	m.busA.Reset()
	m.busC.Reset()
	m.coreA.Reset(0xFFFF0000) // BIOS reset vector
	m.coreC.Reset(0x00000000)
	m.delayA, m.delayC = 0, 0
}

// SetKeys latches the host's key state; spec.md §6 describes the bits as
// inverted (clear means pressed).
func (m *Machine) SetKeys(keys uint16) { m.st.KeyInput = ^keys & 0x03FF }

// SetExtKeys latches the lid/X/Y extended-key bits on EXTKEYIN.
func (m *Machine) SetExtKeys(keys uint8) { m.st.ExtKeyIn = ^keys & 0x3F }

// SetTouch forwards a touchscreen sample to the SPI touchscreen device.
func (m *Machine) SetTouch(x, y uint16, down bool) { m.spi.SetTouch(x, y, down) }

// FrameBuffer returns engine e's most recently rendered 256x192 buffer.
func (m *Machine) FrameBuffer(e ppu.Engine) []uint16 { return m.ppu.FrameBuffer(e) }

// GetSamples drains up to count interleaved stereo samples from the
// audio mixer's ready buffer.
func (m *Machine) GetSamples(count int) []int16 { return m.busC.Audio().GetSamples(count) }

// Running reports whether the scheduler's run loop is still active.
func (m *Machine) Running() bool { return m.st.Sched.Running() }

// Step advances the machine by one scheduler unit: both CPU delay
// counters are checked and decremented, due CPUs execute one corestub
// step, and every event now due at or before the new currentTime is
// drained, per spec.md §4.1/§4.2's run-loop description.
func (m *Machine) Step() {
	m.st.Sched.AdvanceTime()

	if m.delayA <= 0 {
		cycles := m.coreA.Step()
		m.delayA = 1 // CPU-A's delay is pinned to 1 after each cycle
		_ = cycles
	} else {
		m.delayA--
	}

	if m.delayC <= 0 {
		cycles := m.coreC.Step()
		m.delayC = int32(m.busC.WaitCycles(buscommon.AccessCode, false, buscommon.Width16, 0))
		_ = cycles
	} else {
		m.delayC--
	}

	m.st.Sched.DrainDue(m.handleEvent)
}

// RunFrame steps the machine until one full vertical-blank line boundary
// (VCOUNT reaching 192) has been crossed, or the scheduler stops running.
func (m *Machine) RunFrame() {
	sawVblank := false
	for m.st.Sched.Running() && !sawVblank {
		before := m.ppu.ReadVCount()
		m.Step()
		after := m.ppu.ReadVCount()
		if before < 192 && after >= 192 {
			sawVblank = true
		}
	}
}

// handleEvent is the scheduler's single dispatch point: most subsystems
// mutate their own state synchronously inside ReadIO/WriteIO and only
// schedule an event to defer the resulting IRQ/DMA-trigger/periodic-
// rearm; this function performs exactly that deferred half.
func (m *Machine) handleEvent(ev scheduler.Event) {
	switch ev.Kind {
	case scheduler.Stop:
		m.st.Sched.SetRunning(false)

	case scheduler.PpuLineStart:
		before := m.ppu.ReadVCount()
		m.ppu.HandleLineStart(m.st)
		after := m.ppu.ReadVCount()
		if after == 0 && before != 0 {
			m.busA.CheckDmaTrigger(dma.TriggerStartOfDisplay)
		}
		if before < 192 && after >= 192 {
			m.busA.CheckDmaTrigger(dma.TriggerVBlank)
			m.busC.CheckDmaTrigger(dma.TriggerVBlank)
		}
	case scheduler.PpuHBlank:
		m.ppu.HandleHBlank(m.st)
		m.busA.CheckDmaTrigger(dma.TriggerHBlank)
		m.busC.CheckDmaTrigger(dma.TriggerHBlank)

	case scheduler.RefreshWramPages:
		m.busA.RefreshPages()
		m.busC.RefreshPages()
	case scheduler.RefreshVramPages:
		m.vram.Refresh()

	case scheduler.TimerOverflowA:
		m.busA.CheckTimerOverflow()
	case scheduler.TimerOverflowC:
		m.busC.CheckTimerOverflow()

	case scheduler.ApuSample:
		m.busC.Audio().HandleApuSample(m.st)

	case scheduler.RtcRefresh:
		m.rtc.Refresh(m.st, true)

	case scheduler.SpiFinished:
		m.busC.RequestIRQ(shared.IrqSerial)

	case scheduler.GamecardTransferReady:
		if m.st.NdsSlotOwnerIsA() {
			m.busA.CheckDmaTrigger(dma.TriggerDSSlot)
		} else {
			m.busC.CheckDmaTrigger(dma.TriggerDSSlot)
		}
	case scheduler.GamecardCommandComplete:
		m.gamecard.CompleteTransfer()
		if m.st.NdsSlotOwnerIsA() {
			m.busA.RequestIRQ(shared.IrqGamecardXfr)
		} else {
			m.busC.RequestIRQ(shared.IrqGamecardXfr)
		}

	case scheduler.IpcSyncA:
		m.busA.RequestIRQ(shared.IrqIpcSync)
	case scheduler.IpcSyncC:
		m.busC.RequestIRQ(shared.IrqIpcSync)
	case scheduler.IpcSendFifoA:
		m.busA.RequestIRQ(shared.IrqIpcSendFifo)
	case scheduler.IpcSendFifoC:
		m.busC.RequestIRQ(shared.IrqIpcSendFifo)
	case scheduler.IpcRecvFifoA:
		m.busA.RequestIRQ(shared.IrqIpcRecvFifo)
	case scheduler.IpcRecvFifoC:
		m.busC.RequestIRQ(shared.IrqIpcRecvFifo)

	case scheduler.SerialInterrupt:
		m.busC.RequestIRQ(shared.IrqSerial)

	default:
		m.st.Log.Warn("unhandled scheduler event", "kind", ev.Kind.String())
	}
}

// ThreadEvent is a host-thread command queued for the emulator thread to
// apply at the next frame boundary, per spec.md §4.1's "mutex-guarded
// queue drained at frame boundary" concurrency model.
type ThreadEvent struct {
	Kind ThreadEventKind
	Data []byte
}

type ThreadEventKind int

const (
	ThreadEventStart ThreadEventKind = iota
	ThreadEventStop
	ThreadEventReset
	ThreadEventLoadROM
	ThreadEventLoadBIOSA
	ThreadEventLoadBIOSC
	ThreadEventLoadFirmware
	ThreadEventUpdateKeys
)

// PostThreadEvent enqueues a command from any goroutine; it is applied by
// the next DrainThreadEvents call on the emulator's own goroutine.
func (m *Machine) PostThreadEvent(ev ThreadEvent) {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
}

// DrainThreadEvents applies every queued host command in FIFO order; call
// this once per frame from the goroutine that owns Step/RunFrame.
func (m *Machine) DrainThreadEvents() {
	m.mu.Lock()
	pending := m.events
	m.events = nil
	m.mu.Unlock()

	for _, ev := range pending {
		switch ev.Kind {
		case ThreadEventStart:
			m.st.Sched.SetRunning(true)
		case ThreadEventStop:
			m.st.Sched.SetRunning(false)
		case ThreadEventReset:
			m.Reset()
		case ThreadEventLoadROM:
			m.LoadROM(ev.Data, m.key1Table)
		case ThreadEventLoadBIOSA:
			m.LoadBIOSA(ev.Data)
		case ThreadEventLoadBIOSC:
			m.LoadBIOSC(ev.Data)
		case ThreadEventLoadFirmware:
			m.spi = spi.New(ev.Data)
			m.busC = busc.New(m.st, m.rtc, m.spi, m.gamecard, m.ipc, nil)
			m.rewireC()
		case ThreadEventUpdateKeys:
			if len(ev.Data) >= 2 {
				m.SetKeys(uint16(ev.Data[0]) | uint16(ev.Data[1])<<8)
			}
		default:
			m.st.Log.Warn("unhandled thread event", "kind", fmt.Sprintf("%d", ev.Kind))
		}
	}
}
