// Package timer implements the four cascadable prescaled timer channels
// replicated on each CPU. Grounded on original_source/src/emulator/timer.cpp
// (KellanClark/ortin): counters advance lazily, recomputed from elapsed
// cycles on read or overflow rather than ticking every cycle.
package timer

import (
	"fmt"

	"github.com/nullbrook/ds-core/internal/scheduler"
	"github.com/nullbrook/ds-core/internal/shared"
)

// Variant selects which scheduler.Kind a channel's overflow event uses;
// the register layout and counting logic are otherwise identical on both
// CPUs.
type Variant int

const (
	VariantA Variant = iota
	VariantC
)

// prescalerShifts maps the 2-bit prescaler select field to a cycle-count
// right-shift: /1, /64, /256, /1024.
var prescalerShifts = [4]uint{0, 6, 8, 10}

type channel struct {
	reload uint16
	counter uint16

	prescaler uint8
	cascade   bool
	irqEnable bool
	startStop bool

	lastIncrementTimestamp uint64
}

// Controller owns one CPU's four timer channels.
type Controller struct {
	variant Variant
	ch      [4]channel
}

func New(variant Variant) *Controller {
	return &Controller{variant: variant}
}

func (c *Controller) Reset() {
	c.ch = [4]channel{}
}

func (c *Controller) overflowKind() scheduler.Kind {
	if c.variant == VariantA {
		return scheduler.TimerOverflowA
	}
	return scheduler.TimerOverflowC
}

// updateCounter brings a non-cascading, running channel's visible counter
// up to the current time by computing elapsed prescaler ticks directly,
// rather than incrementing once per cycle.
func (c *Controller) updateCounter(st *shared.State, n int) {
	ch := &c.ch[n]
	if !ch.startStop || ch.cascade {
		return
	}
	shift := prescalerShifts[ch.prescaler]
	now := st.Sched.Now()
	elapsedTicks := (now - ch.lastIncrementTimestamp) >> shift
	ch.counter += uint16(elapsedTicks)
	ch.lastIncrementTimestamp = (now >> shift) << shift
}

// scheduleOverflow predicts the cycle count at which this channel's
// counter will next wrap past 0xFFFF and schedules an overflow event
// there; the handler re-validates before acting since intervening
// register writes can invalidate the prediction.
func (c *Controller) scheduleOverflow(st *shared.State, n int) uint64 {
	ch := &c.ch[n]
	shift := prescalerShifts[ch.prescaler]
	ticksRemaining := uint64(0x10000 - uint32(ch.counter))
	nextTime := ((st.Sched.Now() >> shift) + ticksRemaining) << shift
	st.Sched.At(nextTime, c.overflowKind(), int32(n))
	return nextTime
}

// CheckOverflow handles a TimerOverflowA/TimerOverflowC event. Channel 0
// can never cascade (there's nothing below it); cascading channels
// increment by exactly one whenever the channel below them overflows,
// chaining as far as consecutive cascade flags allow.
func (c *Controller) CheckOverflow(st *shared.State, requestIRQ func(bit uint32)) {
	overflowed := false
	for n := 0; n < 4; n++ {
		ch := &c.ch[n]
		if !ch.startStop {
			continue
		}

		if ch.cascade {
			if !overflowed {
				continue
			}
			ch.counter++
			if ch.counter != 0 {
				overflowed = false
				continue
			}
			if ch.irqEnable {
				requestIRQ(timerIrqBit(n))
			}
			ch.counter = ch.reload
			continue
		}

		overflowed = false
		c.updateCounter(st, n)
		if ch.counter == 0 && ch.lastIncrementTimestamp == st.Sched.Now() {
			if ch.irqEnable {
				requestIRQ(timerIrqBit(n))
			}
			ch.counter = ch.reload
			c.scheduleOverflow(st, n)
			overflowed = true
		}
	}
}

func timerIrqBit(n int) uint32 {
	return shared.IrqTimer0 + uint32(n)
}

func (ch *channel) cntHi() uint16 {
	var v uint16
	v |= uint16(ch.prescaler) & 0x3
	if ch.cascade {
		v |= 1 << 2
	}
	if ch.irqEnable {
		v |= 1 << 6
	}
	if ch.startStop {
		v |= 1 << 7
	}
	return v
}

// ReadIO services the four TIMn_COUNTER/TIMn_CONTROL register pairs at
// 0x04000100..0x0400010F. Reading a counter's low byte forces a counter
// refresh first, matching the original's "updateCounter before read".
func (c *Controller) ReadIO(st *shared.State, address uint32) uint8 {
	off := address - 0x04000100
	if off >= 16 {
		st.Log.Warn("timer read from unknown register", "addr", fmt.Sprintf("0x%08X", address))
		return 0
	}
	n := int(off / 4)
	field := off % 4
	ch := &c.ch[n]

	switch field {
	case 0:
		c.updateCounter(st, n)
		return uint8(ch.counter)
	case 1:
		c.updateCounter(st, n)
		return uint8(ch.counter >> 8)
	case 2:
		return uint8(ch.cntHi())
	case 3:
		return uint8(ch.cntHi() >> 8)
	}
	return 0
}

// WriteIO services writes to the same register window. Writing the
// control byte re-validates startStop's rising edge (reload the visible
// counter) and channel 0's cascade bit is always forced false since it
// has no channel below it to cascade from.
func (c *Controller) WriteIO(st *shared.State, address uint32, value uint8) {
	off := address - 0x04000100
	if off >= 16 {
		st.Log.Warn("timer write to unknown register", "addr", fmt.Sprintf("0x%08X", address), "value", value)
		return
	}
	n := int(off / 4)
	field := off % 4
	ch := &c.ch[n]

	switch field {
	case 0:
		ch.reload = (ch.reload & 0xFF00) | uint16(value)
	case 1:
		ch.reload = (ch.reload & 0x00FF) | uint16(value)<<8
	case 2:
		wasRunning := ch.startStop

		c.updateCounter(st, n)
		ch.prescaler = value & 0x3
		if n != 0 {
			ch.cascade = value&(1<<2) != 0
		} else {
			ch.cascade = false
		}
		ch.irqEnable = value&(1<<6) != 0
		ch.startStop = value&(1<<7) != 0
		c.updateCounter(st, n)

		if !wasRunning && ch.startStop {
			ch.counter = ch.reload
		}
		if ch.startStop && !ch.cascade {
			c.scheduleOverflow(st, n)
		}
	case 3:
		// high byte of TIMn_CONTROL is unused
	}
}
