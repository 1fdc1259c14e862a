// Package ppu implements the picture-processing unit: two rendering
// engines producing 256x192 framebuffers from tile, affine, extended-
// affine, large-bitmap, and object layers, composited through windows and
// a simplified blend/master-brightness pass. Grounded on spec.md §4.6 and
// original_source/src/emulator/ppu.cpp (KellanClark/ortin); no pack
// example renders affine/tile console graphics at this granularity, so
// layer compositing follows spec.md directly, styled after the teacher's
// scanline-mode state machine (jeebie/video/gpu.go).
package ppu

import (
	"github.com/nullbrook/ds-core/internal/scheduler"
	"github.com/nullbrook/ds-core/internal/shared"
	"github.com/nullbrook/ds-core/internal/vram"
)

const (
	ScreenWidth  = 256
	ScreenHeight = 192

	linesPerFrame  = 263
	vblankLine     = 192
	cyclesPerLine  = 4260
	hblankOffset   = 3172 // dots 256..355 scaled into this module's time units
)

// Engine identifies engine A or B; the two are otherwise structurally
// identical, per spec.md §9's "per-CPU/per-engine code reuse" note.
type Engine int

const (
	EngineA Engine = iota
	EngineB
)

type affineParams struct {
	pa, pb, pc, pd int16
	refX, refY     int32 // 20.8 fixed-point reference point, latched at VBlank/line 0
	curX, curY     int32 // running accumulator, updated every scanline by pb/pd
}

type engine struct {
	dispcnt uint32

	bgcnt       [4]uint16
	bgHOfs      [4]uint16
	bgVOfs      [4]uint16
	affine      [2]affineParams // indices 0,1 correspond to BG2, BG3
	win0h, win1h uint16
	win0v, win1v uint16
	winin, winout uint16
	mosaic      uint16
	bldcnt      uint16
	bldalpha    uint16
	bldy        uint8
	masterBright uint16

	bgPalette  [256]uint16
	objPalette [256]uint16

	oam [128 * 8]byte

	framebuffer [ScreenWidth * ScreenHeight]uint16
}

func newEngine() *engine { return &engine{} }

func (e *engine) reset() {
	*e = engine{}
	e.dispcnt = 0
}

// PPU owns both rendering engines, the shared VCOUNT/DISPSTAT timing
// state, and the VRAM mapper both engines read tile/map/bitmap data from.
type PPU struct {
	a, b *engine

	vcount  uint16
	dispstat uint16

	vram *vram.Mapper
}

func New(vramMapper *vram.Mapper) *PPU {
	p := &PPU{a: newEngine(), b: newEngine(), vram: vramMapper}
	return p
}

func (p *PPU) Reset(st *shared.State) {
	p.a.reset()
	p.b.reset()
	p.vcount = 0
	p.dispstat = 0
	st.Sched.At(cyclesPerLine, scheduler.PpuLineStart, 0)
}

func (p *PPU) engine(e Engine) *engine {
	if e == EngineA {
		return p.a
	}
	return p.b
}

func (p *PPU) lycMatch() bool { return (p.dispstat>>8)|((p.dispstat>>7)&1)<<8 == p.vcount }

// HandleLineStart advances VCOUNT, updates the VBlank/HBlank status bits,
// latches affine reference points at the top of the frame, renders the
// just-started line's predecessor (line N's pixels are produced once N
// is known to be stable, i.e. one step behind VCOUNT per the teacher's
// render-then-present convention), and re-arms both periodic events.
func (p *PPU) HandleLineStart(st *shared.State) {
	if int(p.vcount) < ScreenHeight {
		p.renderLine(p.a, int(p.vcount))
		p.renderLine(p.b, int(p.vcount))
	}

	p.vcount++
	if p.vcount == vblankLine {
		p.dispstat |= 1 << 0
		st.RequestIRQ(p.dispstat&(1<<3) != 0, p.dispstat&(1<<3) != 0, shared.IrqVBlank)
	}
	if p.vcount == linesPerFrame {
		p.vcount = 0
		p.dispstat &^= 1 << 0
		p.latchAffineReference(p.a)
		p.latchAffineReference(p.b)
	}

	p.dispstat &^= 1 << 1 // clear HBlank while in the active-display portion
	if p.lycMatch() {
		p.dispstat |= 1 << 2
		if p.dispstat&(1<<5) != 0 {
			st.RequestIRQ(true, true, shared.IrqVCount)
		}
	} else {
		p.dispstat &^= 1 << 2
	}

	st.Sched.After(cyclesPerLine, scheduler.PpuLineStart, 0)
	st.Sched.After(hblankOffset, scheduler.PpuHBlank, int32(p.vcount))
}

// HandleHBlank sets the HBlank status bit and requests the HBlank IRQ if
// enabled; it does not itself render (rendering happens at line start so
// a full line's worth of register state is available at once).
func (p *PPU) HandleHBlank(st *shared.State) {
	p.dispstat |= 1 << 1
	if p.dispstat&(1<<4) != 0 {
		st.RequestIRQ(true, true, shared.IrqHBlank)
	}
}

func (p *PPU) latchAffineReference(e *engine) {
	for i := range e.affine {
		e.affine[i].curX = e.affine[i].refX
		e.affine[i].curY = e.affine[i].refY
	}
}

// FrameBuffer returns engine e's 256x192 15-bit-color (plus solid bit in
// bit 15) framebuffer, snapshotted at VBlank per spec.md §5's
// shared-resource policy.
func (p *PPU) FrameBuffer(e Engine) []uint16 { return p.engine(e).framebuffer[:] }
