package ppu

import "github.com/nullbrook/ds-core/internal/vram"

// pixel carries a composited sample before the blend pass: color plus the
// layer it came from, needed for BLDCNT's per-layer selection.
type pixel struct {
	color    uint16
	layer    int // 0-3 = BG0-3, 4 = OBJ, 5 = backdrop
	priority int
	solid    bool
}

const backdropLayer = 5

// renderLine draws one complete scanline into e.framebuffer[line], in the
// real hardware's layer order: background layers back-to-front by
// priority, then objects composited against them, then a simplified
// window/blend/brightness pass. Grounded on spec.md §4.6; no pack example
// renders at tile/affine granularity, so this follows the teacher's
// drawScanline/drawBackground/drawWindow/drawSprites layering shape
// (jeebie/video/gpu.go) generalized from 2 Game Boy layers to 4 BG + OBJ.
func (p *PPU) renderLine(e *engine, line int) {
	row := line * ScreenWidth

	if e.forcedBlank() {
		for x := 0; x < ScreenWidth; x++ {
			e.framebuffer[row+x] = 0x8000 // solid black, bit15 set per spec.md's solid-pixel convention
		}
		return
	}

	bgWindow, objWindow := p.whichEngineWindow(e)

	var bgLines [4][ScreenWidth]pixel
	for n := 0; n < 4; n++ {
		if !e.bgEnabled(n) || !p.bgLayerValidForMode(e, n) {
			continue
		}
		p.renderBgLine(e, n, line, bgWindow, &bgLines[n])
	}

	var objLine [ScreenWidth]pixel
	if e.objEnabled() {
		p.renderObjLine(e, line, objWindow, &objLine)
	}

	for x := 0; x < ScreenWidth; x++ {
		best := pixel{color: e.bgPalette[0], layer: backdropLayer, priority: 4}
		for n := 0; n < 4; n++ {
			if bgLines[n][x].solid && bgLines[n][x].priority <= best.priority {
				best = bgLines[n][x]
			}
		}
		if objLine[x].solid && objLine[x].priority <= best.priority {
			best = objLine[x]
		}
		e.framebuffer[row+x] = p.applyBrightness(e, best.color) | 0x8000
	}
}

// bgLayerValidForMode reports whether background n renders at all in the
// engine's current BG mode: modes 0-5 restrict which of BG0-3 are tile vs
// affine vs extended, per spec.md §4.6's mode table.
func (p *PPU) bgLayerValidForMode(e *engine, n int) bool {
	switch e.bgMode() {
	case 0:
		return true
	case 1:
		return n <= 2
	case 2:
		return n >= 2
	case 3, 4:
		return n == 2 || n <= 1
	case 5:
		return n == 2 || n <= 1
	case 6:
		return n == 2
	}
	return false
}

// whichEngineWindow picks the VRAM logical window engine e's BG and OBJ
// data are read through (engine A and B each own a disjoint slice of the
// bank address space per spec.md §4.6).
func (p *PPU) whichEngineWindow(e *engine) (bg, obj vram.Window) {
	if e == p.a {
		return vram.WindowEngineABG, vram.WindowEngineAOBJ
	}
	return vram.WindowEngineBBG, vram.WindowEngineBOBJ
}

// renderBgLine dispatches background n to its text, affine, or extended
// renderer depending on mode and layer index.
func (p *PPU) renderBgLine(e *engine, n int, line int, w vram.Window, out *[ScreenWidth]pixel) {
	ctl := bgControl(e.bgcnt[n])
	mode := e.bgMode()

	isAffine := (mode == 1 && n == 2) || (mode == 2 && n >= 2)
	isExtended := (mode == 3 && n == 2) || (mode == 4 && n == 2) || (mode == 5 && n == 2)

	switch {
	case isExtended:
		p.renderExtendedBgLine(e, n, ctl, line, w, out)
	case isAffine:
		p.renderAffineBgLine(e, n, ctl, line, w, out)
	default:
		p.renderTextBgLine(e, n, ctl, line, w, out)
	}
}

var textBgTileDims = [4][2]int{{256, 256}, {512, 256}, {256, 512}, {512, 512}}

// renderTextBgLine renders a classic scrolling tile background: a 256- or
// 512-pixel-square tilemap of 8x8 4bpp or 8bpp tiles, per spec.md §4.6.
func (p *PPU) renderTextBgLine(e *engine, n int, ctl bgControl, line int, w vram.Window, out *[ScreenWidth]pixel) {
	mapW, mapH := textBgTileDims[ctl.screenSize()][0], textBgTileDims[ctl.screenSize()][1]
	scrolledY := (line + int(e.bgVOfs[n])) % mapH
	tileRow := scrolledY / 8
	inTileY := scrolledY % 8

	mapBlocksWide := mapW / 256

	for x := 0; x < ScreenWidth; x++ {
		scrolledX := (x + int(e.bgHOfs[n])) % mapW
		tileCol := scrolledX / 8
		inTileX := scrolledX % 8

		screenBlock := (tileRow/32)*mapBlocksWide + tileCol/32
		mapEntryAddr := ctl.screenBaseBytes() + screenBlock*0x800 + ((tileRow%32)*32+(tileCol%32))*2
		lo := p.vram.ReadByte(w, mapEntryAddr)
		hi := p.vram.ReadByte(w, mapEntryAddr+1)
		entry := uint16(lo) | uint16(hi)<<8

		tileIndex := int(entry & 0x3FF)
		flipH := entry&(1<<10) != 0
		flipV := entry&(1<<11) != 0
		palBank := int((entry >> 12) & 0xF)

		px, py := inTileX, inTileY
		if flipH {
			px = 7 - px
		}
		if flipV {
			py = 7 - py
		}

		color, solid := p.sampleTile(e, w, ctl.charBaseBytes(), tileIndex, px, py, ctl.is8bpp(), palBank, false)
		out[x] = pixel{color: color, layer: n, priority: ctl.priority(), solid: solid}
	}
}

// sampleTile reads one 8x8 tile's pixel (px,py) from char VRAM, either
// 8bpp (256-color, one palette) or 4bpp (16 palettes of 16 colors), and
// resolves it through the BG or OBJ palette.
func (p *PPU) sampleTile(e *engine, w vram.Window, charBase, tileIndex, px, py int, is8bpp bool, palBank int, obj bool) (uint16, bool) {
	var colorIndex int
	if is8bpp {
		tileBytes := charBase + tileIndex*64
		colorIndex = int(p.vram.ReadByte(w, tileBytes+py*8+px))
	} else {
		tileBytes := charBase + tileIndex*32
		b := p.vram.ReadByte(w, tileBytes+py*4+px/2)
		if px%2 == 0 {
			colorIndex = int(b & 0xF)
		} else {
			colorIndex = int(b >> 4)
		}
	}
	if colorIndex == 0 {
		return 0, false
	}
	pal := e.bgPalette[:]
	if obj {
		pal = e.objPalette[:]
	}
	idx := colorIndex
	if !is8bpp {
		idx = palBank*16 + colorIndex
	}
	if idx >= len(pal) {
		return 0, false
	}
	return pal[idx], true
}

// renderAffineBgLine renders a rotated/scaled tilemap background: 8bpp
// tiles only, wrapping or transparent at the map edge per BGCNT's
// overflow bit, sampled via the engine's running affine accumulator.
func (p *PPU) renderAffineBgLine(e *engine, n int, ctl bgControl, line int, w vram.Window, out *[ScreenWidth]pixel) {
	idx := n - 2
	a := &e.affine[idx]
	sizeTiles := 16 << uint(ctl.screenSize()) // 128,256,512,1024 px square

	x0, y0 := a.curX, a.curY
	for x := 0; x < ScreenWidth; x++ {
		px := (x0 + int32(x)*int32(a.pa)) >> 8
		py := (y0 + int32(x)*int32(a.pc)) >> 8

		if ctl.overflowWrap() {
			px = wrapCoord(px, sizeTiles)
			py = wrapCoord(py, sizeTiles)
		} else if px < 0 || py < 0 || int(px) >= sizeTiles || int(py) >= sizeTiles {
			out[x] = pixel{}
			continue
		}

		tileCol, tileRow := int(px)/8, int(py)/8
		mapEntryAddr := ctl.screenBaseBytes() + (tileRow*(sizeTiles/8) + tileCol)
		tileIndex := int(p.vram.ReadByte(w, mapEntryAddr))

		color, solid := p.sampleTile(e, w, ctl.charBaseBytes(), tileIndex, int(px)%8, int(py)%8, true, 0, false)
		out[x] = pixel{color: color, layer: n, priority: ctl.priority(), solid: solid}
	}
	a.curX += int32(a.pb)
	a.curY += int32(a.pd)
}

func wrapCoord(v int32, size int) int32 {
	m := int32(size)
	v %= m
	if v < 0 {
		v += m
	}
	return v
}

// renderExtendedBgLine covers BG modes 3-5's "extended" BG2: a direct
// 16-bit-color bitmap (mode 3), an 8bpp paletted bitmap with page flip
// (mode 4), or a smaller affine bitmap (mode 5). Large bitmap mode (6) and
// affine-with-extended-palette tilemaps are not modeled; spec.md frames
// the PPU's graphics fidelity as simplified, so only the direct-color path
// most homebrew/test ROMs exercise is implemented precisely.
func (p *PPU) renderExtendedBgLine(e *engine, n int, ctl bgControl, line int, w vram.Window, out *[ScreenWidth]pixel) {
	mode := e.bgMode()
	a := &e.affine[n-2]

	if mode == 3 {
		for x := 0; x < ScreenWidth; x++ {
			addr := (line*ScreenWidth + x) * 2
			lo := p.vram.ReadByte(vram.WindowLCDC, addr)
			hi := p.vram.ReadByte(vram.WindowLCDC, addr+1)
			color := uint16(lo) | uint16(hi)<<8
			out[x] = pixel{color: color & 0x7FFF, layer: n, priority: ctl.priority(), solid: true}
		}
		return
	}

	// mode 4/5: affine-addressed bitmap, 8bpp paletted.
	x0, y0 := a.curX, a.curY
	for x := 0; x < ScreenWidth; x++ {
		px := (x0 + int32(x)*int32(a.pa)) >> 8
		py := (y0 + int32(x)*int32(a.pc)) >> 8
		if px < 0 || py < 0 || int(px) >= ScreenWidth || int(py) >= ScreenHeight {
			out[x] = pixel{}
			continue
		}
		idx := p.vram.ReadByte(vram.WindowLCDC, int(py)*ScreenWidth+int(px))
		if idx == 0 {
			out[x] = pixel{}
			continue
		}
		out[x] = pixel{color: e.bgPalette[idx], layer: n, priority: ctl.priority(), solid: true}
	}
	a.curX += int32(a.pb)
	a.curY += int32(a.pd)
}

// applyBrightness applies MASTER_BRIGHTNESS's up/down blend toward white
// or black, per spec.md §4.6; mode bits 14-15 select none/up/down/reserved
// and bits 0-4 give the blend factor out of 16.
func (p *PPU) applyBrightness(e *engine, color uint16) uint16 {
	mode := (e.masterBright >> 14) & 0x3
	if mode == 0 {
		return color
	}
	factor := int(e.masterBright & 0x1F)
	if factor > 16 {
		factor = 16
	}
	r := int(color & 0x1F)
	g := int((color >> 5) & 0x1F)
	b := int((color >> 10) & 0x1F)
	switch mode {
	case 1: // brighten toward white
		r += (31 - r) * factor / 16
		g += (31 - g) * factor / 16
		b += (31 - b) * factor / 16
	case 2: // darken toward black
		r -= r * factor / 16
		g -= g * factor / 16
		b -= b * factor / 16
	}
	return uint16(r) | uint16(g)<<5 | uint16(b)<<10
}
