// Package spi implements CPU-C's SPI bus, the single shared serial
// transport to the power manager, firmware EEPROM, and resistive
// touchscreen. Grounded on original_source/src/emulator/nds7/spi.cpp
// (KellanClark/ortin).
package spi

import (
	"fmt"

	"github.com/nullbrook/ds-core/internal/scheduler"
	"github.com/nullbrook/ds-core/internal/shared"
)

const (
	deviceSelectPowerManager = 0
	deviceSelectFirmware     = 1
	deviceSelectTouchscreen  = 2
	deviceSelectReserved     = 3
)

type touchscreen struct {
	control   uint8
	xPosition uint16
	yPosition uint16
	penDown   bool
}

func (t *touchscreen) channelSelect() uint8 { return (t.control >> 4) & 0x7 }

// firmware is a flat, addressable EEPROM stub: enough to back a read
// command without modeling the full SPI EEPROM command set (WREN/WRDI/
// status register polling), which spec.md §4.10 scopes out beyond "flat
// addressable EEPROM stub".
type firmware struct {
	data          []byte
	currentAddr   uint32
	addrBytesLeft int
	command       uint8
}

// SPI is the CPU-C-only serial bus controller.
type SPI struct {
	spicnt  uint16
	spidata uint8

	writeNumber int

	touch touchscreen
	fw    firmware
}

func New(firmwareImage []byte) *SPI {
	s := &SPI{}
	s.fw.data = firmwareImage
	s.Reset()
	return s
}

func (s *SPI) Reset() {
	s.spicnt = 0
	s.spidata = 0
	s.writeNumber = 0
	s.touch.xPosition = 0
	s.touch.yPosition = 0
	s.fw.currentAddr = 0
	s.fw.addrBytesLeft = 0
}

func (s *SPI) baudrate() uint8        { return uint8(s.spicnt & 0x3) }
func (s *SPI) busy() bool             { return s.spicnt&(1<<7) != 0 }
func (s *SPI) deviceSelect() uint8    { return uint8((s.spicnt >> 8) & 0x3) }
func (s *SPI) transferSize16() bool   { return s.spicnt&(1<<10) != 0 }
func (s *SPI) chipselectHold() bool   { return s.spicnt&(1<<11) != 0 }
func (s *SPI) interruptRequest() bool { return s.spicnt&(1<<14) != 0 }
func (s *SPI) busEnable() bool        { return s.spicnt&(1<<15) != 0 }

// SetTouch lets the host update the pen position and down state, read out
// of band by the touchscreen device per spec.md §6's host-input contract.
func (s *SPI) SetTouch(x, y uint16, down bool) {
	s.touch.xPosition = x & 0xFFF
	s.touch.yPosition = y & 0xFFF
	s.touch.penDown = down
}

func (s *SPI) ReadIO(st *shared.State, address uint32) uint8 {
	switch address {
	case 0x040001C0:
		return uint8(s.spicnt)
	case 0x040001C1:
		return uint8(s.spicnt >> 8)
	case 0x040001C2:
		return s.spidata
	case 0x040001C3:
		return 0
	default:
		st.Log.Warn("spi read from unknown IO register", "addr", fmt.Sprintf("0x%08X", address))
		return 0
	}
}

func (s *SPI) WriteIO(st *shared.State, address uint32, value uint8) {
	switch address {
	case 0x040001C0:
		s.spicnt = (s.spicnt & 0xFF80) | uint16(value&0x03)
	case 0x040001C1:
		s.spicnt = (s.spicnt & 0x00FF) | uint16(value&0xCF)<<8
	case 0x040001C2:
		s.spidata = value
		if s.busEnable() {
			s.transfer(st)
		}
	case 0x040001C3:
		// unused
	default:
		st.Log.Warn("spi write to unknown IO register", "addr", fmt.Sprintf("0x%08X", address), "value", value)
	}
}

// transfer dispatches the just-written SPIDATA byte to the currently
// selected device and replaces it with that device's reply byte, exactly
// as a real half-duplex SPI shift register would.
func (s *SPI) transfer(st *shared.State) {
	switch s.deviceSelect() {
	case deviceSelectTouchscreen:
		s.transferTouchscreen()
	case deviceSelectFirmware:
		s.transferFirmware()
	case deviceSelectPowerManager:
		s.spidata = 0
	case deviceSelectReserved:
		s.spidata = 0
	}

	if s.chipselectHold() {
		s.writeNumber++
	} else {
		s.writeNumber = 0
		s.fw.command = 0
		s.fw.addrBytesLeft = 0
	}

	if s.interruptRequest() {
		st.Sched.After(0, scheduler.SpiFinished, 0)
	}
}

// transferTouchscreen implements the ADS7843-style protocol: a byte with
// the high bit set is a new control byte selecting a sample channel;
// otherwise the reply is the low or high half of the selected 12-bit
// sample, chosen by writeNumber's parity. This is the literal
// `writeNumber & 1` shortcut spec.md §9 calls out as an open question —
// kept unchanged rather than "fixed" to something that more clearly
// distinguishes low/high bytes across back-to-back transfers.
func (s *SPI) transferTouchscreen() {
	if s.spidata&0x80 != 0 {
		s.touch.control = s.spidata
		s.spidata = 0
	}

	switch s.touch.channelSelect() {
	case 1: // Y position
		if s.writeNumber&1 != 0 {
			s.spidata = uint8(s.touch.yPosition)
		} else {
			s.spidata = uint8(s.touch.yPosition>>8) & 0x0F
		}
	case 5: // X position
		if s.writeNumber&1 != 0 {
			s.spidata = uint8(s.touch.xPosition)
		} else {
			s.spidata = uint8(s.touch.xPosition>>8) & 0x0F
		}
	default:
		s.spidata = 0
	}
}

// Firmware SPI EEPROM opcodes (standard 25-series convention).
const (
	fwCmdReadStatus = 0x05
	fwCmdRead       = 0x03
)

// transferFirmware implements just enough of the 25-series EEPROM command
// set to serve a read: a READ opcode followed by three big-endian address
// bytes, after which every further transferred byte streams the next
// firmware byte and auto-increments the address, matching how the
// firmware loader in spec.md §6 expects to pull the image back out.
func (s *SPI) transferFirmware() {
	if s.fw.addrBytesLeft > 0 {
		s.fw.currentAddr = (s.fw.currentAddr << 8) | uint32(s.spidata)
		s.fw.addrBytesLeft--
		s.spidata = 0
		return
	}

	switch s.fw.command {
	case fwCmdRead:
		if int(s.fw.currentAddr) < len(s.fw.data) {
			s.spidata = s.fw.data[s.fw.currentAddr]
		} else {
			s.spidata = 0xFF
		}
		s.fw.currentAddr++
		return
	case fwCmdReadStatus:
		s.spidata = 0
		return
	}

	s.fw.command = s.spidata
	switch s.fw.command {
	case fwCmdRead:
		s.fw.addrBytesLeft = 3
		s.fw.currentAddr = 0
	}
	s.spidata = 0
}
