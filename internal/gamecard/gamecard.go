// Package gamecard implements the NDS-slot cartridge command state machine
// and its KEY1/KEY2 encryption layers. Grounded on
// original_source/src/emulator/cartridge/gamecard.cpp (KellanClark/ortin).
package gamecard

import (
	"encoding/binary"
	"fmt"

	"github.com/nullbrook/ds-core/internal/scheduler"
	"github.com/nullbrook/ds-core/internal/shared"
)

type encryptionMode int

const (
	encryptionUnencrypted encryptionMode = iota
	encryptionKey1
	encryptionKey2
)

// Gamecard owns the ROM image, KEY1 state for level 2/3 (the secure-area
// and post-secure-area key schedules; level 1 guards the command itself
// and is derived but, per the original, left unused after boot), and the
// AUXSPICNT/ROMCTRL/command-word register file shared by both CPUs'
// gamecard bus windows.
type Gamecard struct {
	level1 key1
	level2 key1
	level3 key1

	chipID uint32

	rom     []byte
	romSize int

	auxSpiCnt uint16
	romCtrl   uint32

	nextCommand    uint64
	currentCommand uint64

	key2Seed0Low  uint32
	key2Seed1Low  uint32
	key2Seed0High uint16
	key2Seed1High uint16

	bytesRead          uint32
	dataBlockSizeBytes uint32
	cartridgeReadData  uint32
	encryptionMode     encryptionMode
}

func New() *Gamecard {
	g := &Gamecard{chipID: 0xFFFFFFFF}
	return g
}

// LoadROM installs a cartridge image and derives its KEY1 key schedules
// and chip ID, matching reset()'s secure-area bootstrap.
func (g *Gamecard) LoadROM(rom []byte, key1Table []byte) {
	g.rom = rom
	g.romSize = len(rom)
	if len(rom) >= 0x10 {
		g.chipID = binary.LittleEndian.Uint32(rom[0xC:0x10])
	}

	g.level1.loadKeyBuf(key1Table)
	g.level2.loadKeyBuf(key1Table)
	g.level3.loadKeyBuf(key1Table)

	gamecode := g.chipID
	g.level1.initKeycode(gamecode, 1, 0x8)
	g.level2.initKeycode(gamecode, 2, 0x8)
	g.level3.initKeycode(gamecode, 3, 0x8)

	if len(rom) >= 0x4800 {
		for i := 0; i < 0x800; i += 8 {
			g.encryptBlockInPlace(&g.level3, 0x4000+i)
		}
		g.encryptBlockInPlace(&g.level2, 0x4000)
	}
}

func (g *Gamecard) encryptBlockInPlace(k *key1, offset int) {
	block := binary.LittleEndian.Uint64(g.rom[offset : offset+8])
	k.encrypt(&block)
	binary.LittleEndian.PutUint64(g.rom[offset:offset+8], block)
}

func (g *Gamecard) Reset() {
	g.auxSpiCnt = 0
	g.romCtrl = 0x00800000
	g.key2Seed0Low, g.key2Seed1Low = 0, 0
	g.key2Seed0High, g.key2Seed1High = 0, 0
	g.currentCommand = 0
	g.bytesRead = 0
	g.dataBlockSizeBytes = 0
	g.encryptionMode = encryptionUnencrypted
	g.nextCommand = 0
	g.cartridgeReadData = 0xFFFFFFFF
}

func (g *Gamecard) dataBlockSize() uint8   { return uint8((g.romCtrl >> 24) & 0x7) }
func (g *Gamecard) blockStart() bool       { return g.romCtrl&(1<<31) != 0 }
func (g *Gamecard) transferReadyIRQ() bool { return g.auxSpiCnt&(1<<14) != 0 }

func byteswap64(v uint64) uint64 {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return binary.LittleEndian.Uint64(b[:])
}

// sendCommand latches the pending 8-byte command, decrypts it under KEY1
// if that mode is active, and kicks off the first word of the reply.
func (g *Gamecard) sendCommand(st *shared.State) {
	g.currentCommand = byteswap64(g.nextCommand)
	g.bytesRead = 0

	switch size := g.dataBlockSize(); {
	case size == 0:
		g.dataBlockSizeBytes = 0
	case size == 7:
		g.dataBlockSizeBytes = 4
	default:
		g.dataBlockSizeBytes = 0x100 << size
	}

	if g.encryptionMode == encryptionKey1 {
		g.level2.decrypt(&g.currentCommand)
	}

	g.readMoreData(st)
}

// CompleteTransfer clears ROMCTRL's block_start bit when the scheduled
// GamecardCommandComplete event fires, matching the original's "block
// start clears once the last word of the reply has been produced".
func (g *Gamecard) CompleteTransfer() {
	g.romCtrl &^= 1 << 31
}

// TransferReadyIRQEnabled reports whether AUXSPICNT's transfer-ready IRQ
// bit is set, for the GamecardCommandComplete handler's IRQ request.
func (g *Gamecard) TransferReadyIRQEnabled() bool { return g.transferReadyIRQ() }

// readMoreData produces the next 4-byte reply word for the active
// command and schedules either a transfer-ready or command-complete
// event, matching the original's "all reads are instant" simplification.
func (g *Gamecard) readMoreData(st *shared.State) {
	switch g.encryptionMode {
	case encryptionUnencrypted:
		g.readUnencrypted()
	case encryptionKey1:
		g.readKey1()
	case encryptionKey2:
		g.readKey2()
	}

	if g.bytesRead >= g.dataBlockSizeBytes {
		g.romCtrl &^= 1 << 31
		if g.transferReadyIRQ() {
			st.Sched.After(0, scheduler.GamecardCommandComplete, 0)
		}
	} else {
		st.Sched.After(0, scheduler.GamecardTransferReady, 0)
	}

	g.bytesRead += 4
}

func (g *Gamecard) readUnencrypted() {
	switch g.currentCommand >> 56 {
	case 0x00: // Get Header
		off := int(g.bytesRead & 0xFFF)
		g.cartridgeReadData = g.rom32(off)
	case 0x3C: // Activate KEY1 Encryption Mode
		if g.bytesRead == 0 {
			g.encryptionMode = encryptionKey1
		}
		g.cartridgeReadData = 0xFFFFFFFF
	case 0x90: // Chip ID, unencrypted
		g.cartridgeReadData = g.chipID
	case 0x9F: // Dummy
		g.cartridgeReadData = 0xFFFFFFFF
	default:
		g.cartridgeReadData = 0xFFFFFFFF
	}
}

func (g *Gamecard) readKey1() {
	switch g.currentCommand >> 60 {
	case 0x1: // KEY1 Get ROM Chip ID
		g.cartridgeReadData = g.chipID
	case 0x2: // Get Secure Area Block
		// TODO: the cartFlags2&0x80 "dual secure area block" variant
		// from the original is not implemented; only the common
		// single-block layout is handled.
		if g.bytesRead%0x1018 >= 0x1000 {
			g.cartridgeReadData = 0
		} else {
			off := int((g.currentCommand>>32)&0xF000) + int(g.bytesRead%0x1018)
			g.cartridgeReadData = g.rom32(off)
		}
	case 0x4: // Activate KEY2 Encryption Mode
		g.cartridgeReadData = 0xFFFFFFFF
	case 0xA: // Enter Main Data Mode
		g.encryptionMode = encryptionKey2
		g.cartridgeReadData = 0
	default:
		g.cartridgeReadData = 0
	}
}

func (g *Gamecard) readKey2() {
	switch g.currentCommand >> 56 {
	case 0xB7: // Get Data
		romSizeMax := nextPowerOfTwo(g.romSize)
		address := uint32(g.currentCommand >> 24)
		address = (address & 0xFFFFF000) | (((address + g.bytesRead) & 0xFFF) & uint32(romSizeMax-1))
		if address <= 0x7FFF {
			address = 0x8000 + (address & 0x1FF)
		}
		if int(address) >= g.romSize {
			g.cartridgeReadData = 0xFFFFFFFF
		} else {
			g.cartridgeReadData = g.rom32(int(address))
		}
	case 0xB8: // KEY2 Get ROM Chip ID
		g.cartridgeReadData = g.chipID
	default:
		g.cartridgeReadData = 0xFFFFFFFF
	}
}

func (g *Gamecard) rom32(offset int) uint32 {
	if offset < 0 || offset+4 > len(g.rom) {
		return 0xFFFFFFFF
	}
	return binary.LittleEndian.Uint32(g.rom[offset : offset+4])
}

func nextPowerOfTwo(n int) int {
	if n <= 0 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// ReadIO services the shared AUXSPICNT/ROMCTRL/command/data register
// window, identical on both CPUs' bus maps (both buses forward every access
// here; EXMEMCNT ownership is not checked).
func (g *Gamecard) ReadIO(st *shared.State, address uint32, final bool) uint8 {
	var val uint8
	switch address {
	case 0x040001A0:
		return uint8(g.auxSpiCnt)
	case 0x040001A1:
		return uint8(g.auxSpiCnt >> 8)
	case 0x040001A3:
		return 0
	case 0x040001A4:
		return uint8(g.romCtrl)
	case 0x040001A5:
		return uint8(g.romCtrl >> 8)
	case 0x040001A6:
		return uint8(g.romCtrl >> 16)
	case 0x040001A7:
		return uint8(g.romCtrl >> 24)
	case 0x040001A8, 0x040001A9, 0x040001AA, 0x040001AB, 0x040001AC, 0x040001AD, 0x040001AE, 0x040001AF:
		return uint8(g.nextCommand >> ((address - 0x040001A8) * 8))
	case 0x04100010:
		val = uint8(g.cartridgeReadData)
	case 0x04100011:
		val = uint8(g.cartridgeReadData >> 8)
	case 0x04100012:
		val = uint8(g.cartridgeReadData >> 16)
	case 0x04100013:
		val = uint8(g.cartridgeReadData >> 24)
	default:
		st.Log.Warn("gamecard read from unknown IO register", "addr", fmt.Sprintf("0x%08X", address))
		return 0
	}

	if final && address >= 0x04100010 && address <= 0x04100013 {
		g.readMoreData(st)
	}
	return val
}

// WriteIO services the same window; a 0->1 transition of ROMCTRL's
// blockStart bit (byte 0x040001A7) kicks off the pending command.
func (g *Gamecard) WriteIO(st *shared.State, address uint32, value uint8) {
	switch address {
	case 0x040001A0:
		g.auxSpiCnt = (g.auxSpiCnt & 0xFF00) | uint16(value&0xC3)
	case 0x040001A1:
		g.auxSpiCnt = (g.auxSpiCnt & 0x00FF) | uint16(value&0xE0)<<8
	case 0x040001A3:
		// unused
	case 0x040001A4:
		g.romCtrl = (g.romCtrl &^ 0xFF) | uint32(value)
	case 0x040001A5:
		g.romCtrl = (g.romCtrl &^ 0xFF00) | uint32(value)<<8
	case 0x040001A6:
		g.romCtrl = (g.romCtrl &^ 0xFF0000) | (uint32(value&0x7F)|0x80)<<16
	case 0x040001A7:
		wasStart := g.blockStart()
		g.romCtrl = (g.romCtrl &^ 0xFF000000) | (uint32(value&0xFF)|0x20)<<24
		if g.blockStart() && !wasStart {
			g.sendCommand(st)
		}
	case 0x040001A8, 0x040001A9, 0x040001AA, 0x040001AB, 0x040001AC, 0x040001AD, 0x040001AE, 0x040001AF:
		shift := (address - 0x040001A8) * 8
		mask := uint64(0xFF) << shift
		g.nextCommand = (g.nextCommand &^ mask) | uint64(value)<<shift
	case 0x040001B0, 0x040001B1, 0x040001B2, 0x040001B3:
		shift := (address - 0x040001B0) * 8
		mask := uint32(0xFF) << shift
		g.key2Seed0Low = (g.key2Seed0Low &^ mask) | uint32(value)<<shift
	case 0x040001B4, 0x040001B5, 0x040001B6, 0x040001B7:
		shift := (address - 0x040001B4) * 8
		mask := uint32(0xFF) << shift
		g.key2Seed1Low = (g.key2Seed1Low &^ mask) | uint32(value)<<shift
	case 0x040001B8:
		g.key2Seed0High = uint16(value & 0x7F)
	case 0x040001B9:
		// unused
	case 0x040001BA:
		g.key2Seed1High = uint16(value & 0x7F)
	case 0x040001BB:
		// unused
	default:
		st.Log.Warn("gamecard write to unknown IO register", "addr", fmt.Sprintf("0x%08X", address), "value", value)
	}
}
