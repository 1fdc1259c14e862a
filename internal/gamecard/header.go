package gamecard

import (
	"encoding/binary"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// Header is the parsed subset of the 0x200-byte NDS cartridge header
// spec.md §6 names: the 12-byte name field, the autostart/version bytes,
// and each CPU's ROM-offset/entry/copy-destination/copy-size quartet.
type Header struct {
	Name            string
	Version         uint8
	Autostart       bool
	RomOffsetA      uint32
	EntryA          uint32
	CopyDestA       uint32
	CopySizeA       uint32
	RomOffsetC      uint32
	EntryC          uint32
	CopyDestC       uint32
	CopySizeC       uint32
}

// Header parses the loaded ROM's fixed header fields, matching spec.md
// §6's byte layout; it returns the zero Header if no ROM image (or one
// shorter than the header) is loaded.
func (g *Gamecard) Header() Header {
	if len(g.rom) < 0x40 {
		return Header{}
	}
	r := g.rom
	return Header{
		Name:       decodeHeaderName(r[0x000:0x00C]),
		Version:    r[0x01E],
		Autostart:  r[0x01F]&(1<<2) != 0,
		RomOffsetA: binary.LittleEndian.Uint32(r[0x020:0x024]),
		EntryA:     binary.LittleEndian.Uint32(r[0x024:0x028]),
		CopyDestA:  binary.LittleEndian.Uint32(r[0x028:0x02C]),
		CopySizeA:  binary.LittleEndian.Uint32(r[0x02C:0x030]),
		RomOffsetC: binary.LittleEndian.Uint32(r[0x030:0x034]),
		EntryC:     binary.LittleEndian.Uint32(r[0x034:0x038]),
		CopyDestC:  binary.LittleEndian.Uint32(r[0x038:0x03C]),
		CopySizeC:  binary.LittleEndian.Uint32(r[0x03C:0x040]),
	}
}

// decodeHeaderName normalizes the 12-byte name field to a clean UTF-8
// string. Real headers are ASCII, but homebrew/malformed ROMs sometimes
// carry stray high-bit bytes; charmap.Windows1252 gives every byte value
// a defined rune instead of producing invalid UTF-8, since this is a
// log/display convenience and never feeds back into emulation.
func decodeHeaderName(raw []byte) string {
	trimmed := strings.TrimRight(string(raw), "\x00")
	decoded, err := charmap.Windows1252.NewDecoder().String(trimmed)
	if err != nil {
		return trimmed
	}
	return strings.TrimSpace(decoded)
}

func (h Header) String() string {
	if h.Name == "" {
		return "<no ROM loaded>"
	}
	return h.Name
}
