package ppu

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nullbrook/ds-core/internal/shared"
	"github.com/nullbrook/ds-core/internal/vram"
)

func newTestPPU() (*PPU, *shared.State) {
	st := shared.New(slog.Default())
	st.Reset()
	p := New(vram.New())
	p.Reset(st)
	return p, st
}

func TestHandleLineStartAdvancesVCount(t *testing.T) {
	p, st := newTestPPU()
	p.HandleLineStart(st)
	require.Equal(t, uint16(1), p.ReadVCount())
}

func TestVBlankFlagSetsAtLine192(t *testing.T) {
	p, st := newTestPPU()
	for i := 0; i < vblankLine; i++ {
		p.HandleLineStart(st)
	}
	require.Equal(t, uint16(vblankLine), p.ReadVCount())
	require.NotZero(t, p.ReadDispstat()&1)
}

func TestVCountWrapsAtEndOfFrame(t *testing.T) {
	p, st := newTestPPU()
	for i := 0; i < linesPerFrame; i++ {
		p.HandleLineStart(st)
	}
	require.Equal(t, uint16(0), p.ReadVCount())
	require.Zero(t, p.ReadDispstat()&1)
}

func TestLycMatchSetsStatusBit(t *testing.T) {
	p, st := newTestPPU()
	p.WriteDispstat(5 << 8) // LYC = 5, VCount-IRQ enable bit 5 not yet set
	for i := 0; i < 5; i++ {
		p.HandleLineStart(st)
	}
	require.NotZero(t, p.ReadDispstat()&(1<<2))
}

func TestHandleHBlankSetsStatusBit(t *testing.T) {
	p, st := newTestPPU()
	p.HandleHBlank(st)
	require.NotZero(t, p.ReadDispstat()&(1<<1))
}

func TestForcedBlankProducesSolidBlackLine(t *testing.T) {
	p, st := newTestPPU()
	_ = st
	p.WriteIO(EngineA, 0, 1<<7) // DISPCNT forced-blank bit
	p.renderLine(p.a, 0)
	fb := p.FrameBuffer(EngineA)
	require.Equal(t, uint16(0x8000), fb[0])
}

func TestTextBackgroundSamplesPalette(t *testing.T) {
	p, _ := newTestPPU()
	e := p.a

	e.dispcnt = 1 << 8 // BG0 enabled, mode 0
	e.bgcnt[0] = 0      // char base 0, screen base 0, 4bpp, 256x256

	// one tile entry at map (0,0): tile index 1, palette bank 0
	p.WriteOAMByte(EngineA, 0, 0) // unrelated; ensures OAM write path works
	vm := p.vram
	vm.SetControl(vram.BankA, 0x80|0x01) // enabled, MST1 -> engine A BG
	vm.Refresh()

	// tilemap entry for tile (0,0) at screen base 0: tile index = 1
	vm.WriteByte(vram.WindowEngineABG, 0, 1)
	vm.WriteByte(vram.WindowEngineABG, 1, 0)

	// tile 1's 4bpp row 0 at char base 0x4000 * 0 + tileIndex*32: pixel 0 = color index 3
	vm.WriteByte(vram.WindowEngineABG, 1*32, 0x03)

	e.bgPalette[3] = 0x1234

	p.renderLine(e, 0)
	fb := p.FrameBuffer(EngineA)
	require.Equal(t, uint16(0x1234)|0x8000, fb[0])
}

func TestObjectDecodeSizeAndPriority(t *testing.T) {
	var oam [128 * 8]byte
	// attr0: y=10, shape=0 (square); attr1: x=20, size=1 (16x16)
	oam[0], oam[1] = 10, 0
	oam[2], oam[3] = 20, 1<<6 // size bits 14-15 -> byte1 bit6-7, size=1 means bit14 set -> oam[3] bit6
	oam[4], oam[5] = 5, 2<<2  // tileIndex=5, priority bits10-11 -> byte5 bits2-3

	o := getObject(&oam, 0)
	require.Equal(t, 10, o.y)
	require.Equal(t, 20, o.x)
	w, h := o.dims()
	require.Equal(t, 16, w)
	require.Equal(t, 16, h)
	require.Equal(t, 2, o.priority)
}

func TestObjectLayerWinsOverLowerPriorityBackground(t *testing.T) {
	p, _ := newTestPPU()
	e := p.a

	e.dispcnt = (1 << 8) | (1 << 12) // BG0 + OBJ enabled
	e.bgcnt[0] = 0
	e.bgPalette[0] = 0x0001 // backdrop

	// OBJ entry 0: at (0,0), 8x8, tile 0, priority 0, 4bpp
	e.oam[0], e.oam[1] = 0, 0
	e.oam[2], e.oam[3] = 0, 0

	vm := p.vram
	vm.SetControl(vram.BankA, 0x80|0x02) // MST2 -> engine A OBJ (bank A or B only)
	vm.Refresh()
	vm.WriteByte(vram.WindowEngineAOBJ, 0, 0x01) // tile 0 row0: pixel0 color index 1
	e.objPalette[1] = 0x7FFF

	p.renderLine(e, 0)
	fb := p.FrameBuffer(EngineA)
	require.Equal(t, uint16(0x7FFF)|0x8000, fb[0])
}
