// Package mathunit implements CPU-A's hardware divider and integer
// square-root coprocessor. Grounded on
// original_source/src/emulator/nds9/dsmath.cpp (KellanClark/ortin): both
// operations complete instantly but report "busy" until a scheduled
// finish timestamp has passed, recomputed lazily at read time rather than
// via a scheduled callback.
package mathunit

import (
	"fmt"

	"github.com/nullbrook/ds-core/internal/shared"
)

// Unit holds the division and square-root register files. It belongs to
// CPU-A only; CPU-C has no equivalent coprocessor.
type Unit struct {
	divCnt       uint16
	divNumer     int64
	divDenom     int64
	divResult    int64
	divRemResult int64
	divFinishAt  uint64

	sqrtCnt      uint16
	sqrtResult   uint32
	sqrtParam    uint64
	sqrtFinishAt uint64
}

func New() *Unit {
	return &Unit{}
}

func (u *Unit) Reset() { *u = Unit{} }

func (u *Unit) divMode() uint16  { return u.divCnt & 0x3 }
func (u *Unit) sqrtMode() uint16 { return u.sqrtCnt & 0x1 }

// recomputeDiv replicates the C++ divider's three modes, including its
// divide-by-zero and INT_MIN/-1 overflow special cases, which real
// hardware also returns fixed sentinel values for rather than trapping.
func (u *Unit) recomputeDiv() {
	switch u.divMode() {
	case 0: // 32/32 = 32,32
		denom32 := int32(u.divDenom)
		numer32 := int32(u.divNumer)
		switch {
		case denom32 == 0:
			if numer32 > -1 {
				u.divResult = 0x00000000FFFFFFFF
			} else {
				u.divResult = -0x00000000FFFFFFFF // 0xFFFFFFFF00000001 as signed
			}
			u.divRemResult = int64(numer32)
		case numer32 == -0x80000000 && denom32 == -1:
			u.divResult = -0x80000000
			u.divRemResult = 0
		default:
			u.divResult = int64(numer32 / denom32)
			u.divRemResult = int64(numer32 % denom32)
		}
	case 1, 3: // 64/32 = 64,32
		denom32 := int32(u.divDenom)
		switch {
		case denom32 == 0:
			if u.divNumer > -1 {
				u.divResult = -1
			} else {
				u.divResult = 1
			}
			u.divRemResult = u.divNumer
		case u.divNumer == -0x8000000000000000 && denom32 == -1:
			u.divResult = -0x8000000000000000 // wraps to itself, matching hardware
			u.divRemResult = 0
		default:
			u.divResult = u.divNumer / int64(denom32)
			u.divRemResult = u.divNumer % int64(denom32)
		}
	case 2: // 64/64 = 64,64
		switch {
		case u.divDenom == 0:
			if u.divNumer > -1 {
				u.divResult = -1
			} else {
				u.divResult = 1
			}
			u.divRemResult = u.divNumer
		case u.divNumer == -0x8000000000000000 && u.divDenom == -1:
			u.divResult = -0x8000000000000000
			u.divRemResult = 0
		default:
			u.divResult = u.divNumer / u.divDenom
			u.divRemResult = u.divNumer % u.divDenom
		}
	}
}

func (u *Unit) divCycles() uint64 {
	if u.divMode() == 0 {
		return 18
	}
	return 34
}

// floorSqrt64 is a binary-search integer square root, matching the
// original's 64-bit software fallback used when the hardware's x87
// sqrtss shortcut isn't worth reproducing.
func floorSqrt64(n uint64) uint32 {
	if n == 0 {
		return 0
	}
	left, right := uint64(1), n/2+1
	var res uint64
	for left <= right {
		mid := left + (right-left)/2
		if mid <= n/mid {
			left = mid + 1
			res = mid
		} else {
			right = mid - 1
		}
	}
	return uint32(res)
}

func (u *Unit) recomputeSqrt() {
	if u.sqrtMode() != 0 {
		u.sqrtResult = floorSqrt64(u.sqrtParam)
	} else {
		u.sqrtResult = uint32(isqrt32(uint32(u.sqrtParam)))
	}
}

// isqrt32 matches casting through a double for the 32-bit mode, which on
// real hardware and on original_source both round the same way for every
// representable uint32 input.
func isqrt32(n uint32) uint32 {
	if n == 0 {
		return 0
	}
	r := uint32(floorSqrt64(uint64(n)))
	for uint64(r+1)*uint64(r+1) <= uint64(n) {
		r++
	}
	for r > 0 && r*r > n {
		r--
	}
	return r
}

// divBusy/sqrtBusy report busy while the current time has not yet reached
// the stored finish timestamp; they are evaluated lazily at read time
// rather than cleared by a scheduled callback.
func (u *Unit) divBusy(now uint64) bool  { return now < u.divFinishAt }
func (u *Unit) sqrtBusy(now uint64) bool { return now < u.sqrtFinishAt }

func (u *Unit) divCntWord(now uint64) uint16 {
	v := u.divCnt & 0x3
	if u.divBusy(now) {
		v |= 1 << 15
	}
	if u.divDenom == 0 {
		v |= 1 << 14
	}
	return v
}

func (u *Unit) sqrtCntWord(now uint64) uint16 {
	v := u.sqrtCnt & 0x1
	if u.sqrtBusy(now) {
		v |= 1 << 15
	}
	return v
}

// ReadIO services the 0x04000280..0x040002BF divider/sqrt register
// window. Reading DIVCNT/SQRTCNT's high byte re-evaluates the busy flag
// against the current time, matching the original's read-time check.
func (u *Unit) ReadIO(st *shared.State, address uint32) uint8 {
	now := st.Sched.Now()
	switch {
	case address == 0x04000280:
		return uint8(u.divCntWord(now))
	case address == 0x04000281:
		return uint8(u.divCntWord(now) >> 8)
	case address == 0x04000282, address == 0x04000283:
		return 0
	case address >= 0x04000290 && address <= 0x04000297:
		return uint8(uint64(u.divNumer) >> ((address - 0x04000290) * 8))
	case address >= 0x04000298 && address <= 0x0400029F:
		return uint8(uint64(u.divDenom) >> ((address - 0x04000298) * 8))
	case address >= 0x040002A0 && address <= 0x040002A7:
		return uint8(uint64(u.divResult) >> ((address - 0x040002A0) * 8))
	case address >= 0x040002A8 && address <= 0x040002AF:
		return uint8(uint64(u.divRemResult) >> ((address - 0x040002A8) * 8))
	case address == 0x040002B0:
		return uint8(u.sqrtCntWord(now))
	case address == 0x040002B1:
		return uint8(u.sqrtCntWord(now) >> 8)
	case address == 0x040002B2, address == 0x040002B3:
		return 0
	case address >= 0x040002B4 && address <= 0x040002B7:
		return uint8(u.sqrtResult >> ((address - 0x040002B4) * 8))
	case address >= 0x040002B8 && address <= 0x040002BF:
		return uint8(u.sqrtParam >> ((address - 0x040002B8) * 8))
	default:
		st.Log.Warn("mathunit read from unknown register", "addr", fmt.Sprintf("0x%08X", address))
		return 0
	}
}

// WriteIO writes the divider/sqrt register window. Per spec.md's
// supplemented "lazy busy-bit recompute" behavior, the actual division or
// square root is performed immediately on the final byte of a write, with
// only the *visible busy flag* deferred to the stored finish timestamp.
func (u *Unit) WriteIO(st *shared.State, address uint32, value uint8, final bool) {
	switch {
	case address == 0x04000280:
		u.divCnt = (u.divCnt & 0xFF00) | uint16(value&0x03)
	case address == 0x04000281, address == 0x04000282, address == 0x04000283:
		// read-only / unused high byte and padding
	case address >= 0x04000290 && address <= 0x04000297:
		shift := (address - 0x04000290) * 8
		u.divNumer = setByte64(u.divNumer, value, shift)
	case address >= 0x04000298 && address <= 0x0400029F:
		shift := (address - 0x04000298) * 8
		u.divDenom = setByte64(u.divDenom, value, shift)
	case address == 0x040002B0:
		u.sqrtCnt = (u.sqrtCnt & 0xFF00) | uint16(value&0x01)
	case address == 0x040002B1, address == 0x040002B2, address == 0x040002B3:
		// read-only / unused high byte and padding
	case address >= 0x040002B8 && address <= 0x040002BF:
		shift := (address - 0x040002B8) * 8
		u.sqrtParam = uint64(setByte64(int64(u.sqrtParam), value, shift))
	default:
		st.Log.Warn("mathunit write to unknown register", "addr", fmt.Sprintf("0x%08X", address), "value", value)
		return
	}

	if !final {
		return
	}

	switch {
	case address >= 0x04000280 && address <= 0x04000283:
		u.recomputeDiv()
		u.divFinishAt = st.Sched.Now() + u.divCycles()
	case address >= 0x04000290 && address <= 0x0400029F:
		u.recomputeDiv()
		u.divFinishAt = st.Sched.Now() + u.divCycles()
	case address >= 0x040002B0 && address <= 0x040002B3, address >= 0x040002B8 && address <= 0x040002BF:
		u.recomputeSqrt()
		u.sqrtFinishAt = st.Sched.Now() + 13*2
	}
}

func setByte64(v int64, b uint8, shift uint32) int64 {
	mask := int64(0xFF) << shift
	return (v &^ mask) | (int64(b) << shift)
}
