package ppu

import "github.com/nullbrook/ds-core/internal/vram"

// object decodes one of the 128 OAM entries' three attribute halfwords.
type object struct {
	y            int
	affine       bool
	doubleSize   bool // affine objects only: bounding box doubled, no h/v flip
	disabled     bool // non-affine objects only: attr0 bit 9 used as disable
	gfxMode      int  // 0 normal, 1 semi-transparent, 2 window, 3 bitmap (unimplemented)
	mosaic       bool
	is8bpp       bool
	shape        int
	x            int
	affineIndex  int
	flipH, flipV bool
	size         int
	tileIndex    int
	priority     int
	palBank      int
}

var objDims = [3][4][2]int{
	{{8, 8}, {16, 16}, {32, 32}, {64, 64}}, // square
	{{16, 8}, {32, 8}, {32, 16}, {64, 32}}, // wide
	{{8, 16}, {8, 32}, {16, 32}, {32, 64}}, // tall
}

func (o object) dims() (w, h int) {
	d := objDims[o.shape][o.size]
	return d[0], d[1]
}

// getObject decodes OAM entry i (8 bytes: attr0, attr1, attr2, pad).
func getObject(oam *[128 * 8]byte, i int) object {
	base := i * 8
	attr0 := uint16(oam[base]) | uint16(oam[base+1])<<8
	attr1 := uint16(oam[base+2]) | uint16(oam[base+3])<<8
	attr2 := uint16(oam[base+4]) | uint16(oam[base+5])<<8

	o := object{
		y:         int(attr0 & 0xFF),
		affine:    attr0&(1<<8) != 0,
		gfxMode:   int((attr0 >> 10) & 0x3),
		mosaic:    attr0&(1<<12) != 0,
		is8bpp:    attr0&(1<<13) != 0,
		shape:     int((attr0 >> 14) & 0x3),
		x:         int(attr1 & 0x1FF),
		size:      int((attr1 >> 14) & 0x3),
		tileIndex: int(attr2 & 0x3FF),
		priority:  int((attr2 >> 10) & 0x3),
		palBank:   int((attr2 >> 12) & 0xF),
	}
	if o.affine {
		o.affineIndex = int((attr1 >> 9) & 0x1F)
		o.doubleSize = attr0&(1<<9) != 0
	} else {
		o.disabled = attr0&(1<<9) != 0
		o.flipH = attr1&(1<<12) != 0
		o.flipV = attr1&(1<<13) != 0
	}
	if o.x >= 256 {
		o.x -= 512
	}
	if o.y >= 192 {
		o.y -= 256
	}
	return o
}

// objAffineMatrix reads the PA/PB/PC/PD quartet for affine group idx: four
// consecutive OAM entries interleave one int16 each into attr3 (the pad
// halfword of entries idx*4+0..3), the real hardware's OAM layout.
func objAffineMatrix(oam *[128 * 8]byte, idx int) (pa, pb, pc, pd int16) {
	read := func(entry int) int16 {
		base := entry*8 + 6
		return int16(uint16(oam[base]) | uint16(oam[base+1])<<8)
	}
	return read(idx*4 + 0), read(idx*4 + 1), read(idx*4 + 2), read(idx*4 + 3)
}

// renderObjLine scans all 128 OAM entries for ones intersecting the given
// scanline and composites them into out, respecting priority (lower wins)
// and draw order (lower OAM index wins ties), matching real hardware's
// sprite-priority rule. gfxMode==3 (bitmap objects) is a named gap: no
// sample ROM in the retrieval pack exercises it and it requires a separate
// OBJ-bitmap VRAM layout this mapper doesn't model.
func (p *PPU) renderObjLine(e *engine, line int, w vram.Window, out *[ScreenWidth]pixel) {
	for i := 0; i < 128; i++ {
		o := getObject(&e.oam, i)
		if !o.affine && o.disabled {
			continue
		}
		if o.gfxMode == 3 {
			continue // TODO: bitmap objects
		}

		w8, h8 := o.dims()
		boxW, boxH := w8, h8
		if o.affine && o.doubleSize {
			boxW, boxH = w8*2, h8*2
		}
		localY := ((line - o.y) + 256) % 256
		if localY >= boxH {
			continue
		}

		centerX, centerY := boxW/2, boxH/2

		var pa, pb, pc, pd int32 = 256, 0, 0, 256
		if o.affine {
			ra, rb, rc, rd := objAffineMatrix(&e.oam, o.affineIndex)
			pa, pb, pc, pd = int32(ra), int32(rb), int32(rc), int32(rd)
		}

		for sx := 0; sx < boxW; sx++ {
			screenX := o.x + sx
			if screenX < 0 || screenX >= ScreenWidth {
				continue
			}
			relX, relY := sx-centerX, localY-centerY
			var texX, texY int32
			if o.affine {
				texX = (pa*int32(relX) + pb*int32(relY)) >> 8
				texY = (pc*int32(relX) + pd*int32(relY)) >> 8
				texX += int32(w8 / 2)
				texY += int32(h8 / 2)
			} else {
				texX, texY = int32(relX+w8/2), int32(relY+h8/2)
				if o.flipH {
					texX = int32(w8) - 1 - texX
				}
				if o.flipV {
					texY = int32(h8) - 1 - texY
				}
			}
			if texX < 0 || texY < 0 || int(texX) >= w8 || int(texY) >= h8 {
				continue
			}

			tileIndex := o.tileIndex
			tilesPerRow := w8 / 8
			if e.objTile1D() {
				tileIndex += (int(texY)/8)*tilesPerRow + int(texX)/8
			} else {
				mapWidth := 32
				if o.is8bpp {
					mapWidth = 16
				}
				tileIndex += (int(texY)/8)*mapWidth + int(texX)/8
			}
			// OBJ tile data starts at offset 0 of the engine's own OBJ VRAM
			// window (WindowEngineAOBJ/WindowEngineBOBJ already scope the
			// physical bank range, unlike BG char base which is relative
			// to the shared BG window).
			color, solid := p.sampleTile(e, w, 0, tileIndex, int(texX)%8, int(texY)%8, o.is8bpp, o.palBank, true)
			if !solid {
				continue
			}
			if out[screenX].solid && out[screenX].priority <= o.priority {
				continue
			}
			out[screenX] = pixel{color: color, layer: 4, priority: o.priority, solid: true}
		}
	}
}
