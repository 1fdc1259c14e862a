// Package corestub defines the seam between the scheduler-driven
// peripheral model this core implements and the ARM instruction
// interpreters for CPU-A/CPU-C, which spec.md treats as externally
// specified and out of this core's budget. Core is the shape
// internal/machine drives; Stub is a placeholder that keeps time moving
// (so the scheduler and peripherals can be exercised and tested) without
// decoding a single instruction. Grounded on the teacher's jeebie/cpu.CPU
// shape (a tiny New/Tick surface), generalized to an interface so a real
// ARM core can be swapped in without touching internal/machine.
package corestub

// Core is what internal/machine needs from a CPU implementation: reset
// to a known boot state, execute approximately one instruction's worth
// of work and report the cycles it cost, and accept a level-sensitive
// IRQ line state recomputed by the bus each time pending interrupts
// change.
type Core interface {
	Reset(entryPoint uint32)
	Step() (cycles uint32)
	SetIRQLine(asserted bool)
	Halted() bool
}

// Stub satisfies Core by burning a fixed number of cycles per Step
// without fetching or decoding anything. It exists so internal/machine,
// the scheduler, and every peripheral can be wired, run, and tested end
// to end before a real ARM interpreter is dropped in behind the same
// interface.
type Stub struct {
	entryPoint  uint32
	irqAsserted bool
	halted      bool
}

// stepCycles approximates the average cost of one ARM instruction at the
// core's rated clock; it is not meant to be cycle-accurate, only to keep
// the scheduler advancing at a plausible rate while no real interpreter
// is present.
const stepCycles = 4

func New() *Stub { return &Stub{} }

func (s *Stub) Reset(entryPoint uint32) {
	s.entryPoint = entryPoint
	s.irqAsserted = false
	s.halted = false
}

func (s *Stub) Step() uint32 {
	if s.halted && !s.irqAsserted {
		return stepCycles
	}
	return stepCycles
}

func (s *Stub) SetIRQLine(asserted bool) {
	s.irqAsserted = asserted
	if asserted {
		s.halted = false
	}
}

func (s *Stub) Halted() bool { return s.halted }

var _ Core = (*Stub)(nil)
