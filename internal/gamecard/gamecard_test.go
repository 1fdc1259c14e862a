package gamecard

import (
	"encoding/binary"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nullbrook/ds-core/internal/shared"
)

func newTestState() *shared.State {
	st := shared.New(slog.Default())
	st.Reset()
	return st
}

func makeTestROM() []byte {
	rom := make([]byte, 0x8000)
	binary.LittleEndian.PutUint32(rom[0xC:], 0x41414141) // gamecode
	for i := 0; i < 0x1000; i++ {
		binary.LittleEndian.PutUint32(rom[i*4:], uint32(i))
	}
	return rom
}

func writeCommand(g *Gamecard, st *shared.State, cmd uint64) {
	for i := 0; i < 8; i++ {
		g.WriteIO(st, uint32(0x040001A8+i), uint8(cmd>>(i*8)))
	}
	// blockStart rising edge on the ROMCTRL high byte
	g.WriteIO(st, 0x040001A7, 0x80)
}

func TestGetHeaderReturnsFirstWords(t *testing.T) {
	st := newTestState()
	g := New()
	g.LoadROM(makeTestROM(), make([]byte, 0x1048))
	g.Reset()

	writeCommand(g, st, 0) // command 0x00: Get Header

	b0 := g.ReadIO(st, 0x04100010, false)
	b1 := g.ReadIO(st, 0x04100011, false)
	b2 := g.ReadIO(st, 0x04100012, false)
	b3 := g.ReadIO(st, 0x04100013, true)

	got := uint32(b0) | uint32(b1)<<8 | uint32(b2)<<16 | uint32(b3)<<24
	require.Equal(t, uint32(0), got)
}

func TestKey1ActivationSwitchesEncryptionMode(t *testing.T) {
	st := newTestState()
	g := New()
	g.LoadROM(makeTestROM(), make([]byte, 0x1048))
	g.Reset()

	writeCommand(g, st, 0x3C)
	require.Equal(t, encryptionKey1, g.encryptionMode)
}

func TestUnencryptedChipIdCommand(t *testing.T) {
	st := newTestState()
	g := New()
	g.LoadROM(makeTestROM(), make([]byte, 0x1048))
	g.Reset()
	g.chipID = 0xC2

	writeCommand(g, st, 0x90)
	require.Equal(t, uint8(g.chipID), g.ReadIO(st, 0x04100010, false))
}
