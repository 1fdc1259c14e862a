package spi

import (
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

func selectDevice(s *SPI, st *shared.State, device uint8, hold bool) {
	ctrl := device & 0x03 // deviceSelect occupies bits 8-9 of SPICNT
	if hold {
		ctrl |= 0x08 // chipselectHold is bit 11 -> bit 3 of the high byte
	}
	ctrl |= 0x80 // spiBusEnable is bit 15 -> bit 7 of the high byte
	s.WriteIO(st, 0x040001C1, ctrl)
}

func TestTouchscreenControlByteLatches(t *testing.T) {
	st := newTestState()
	s := New(nil)
	selectDevice(s, st, deviceSelectTouchscreen, true)

	s.WriteIO(st, 0x040001C2, 0x80|(1<<4)) // start bit + channel 1 (Y)
	require.Equal(t, uint8(1), s.touch.channelSelect())
}

func TestTouchscreenYPositionSplitAcrossTransfers(t *testing.T) {
	st := newTestState()
	s := New(nil)
	s.SetTouch(0x0AB, 0x0CD, true)
	selectDevice(s, st, deviceSelectTouchscreen, true)

	s.WriteIO(st, 0x040001C2, 0x80|(1<<4)) // select Y channel
	s.WriteIO(st, 0x040001C2, 0x00)        // writeNumber now 1 (odd) -> low byte
	require.Equal(t, uint8(s.touch.yPosition), s.spidata)

	s.WriteIO(st, 0x040001C2, 0x00) // writeNumber now 2 (even) -> high nibble
	require.Equal(t, uint8(s.touch.yPosition>>8)&0x0F, s.spidata)
}

func TestFirmwareReadStreamsBytes(t *testing.T) {
	st := newTestState()
	image := make([]byte, 16)
	for i := range image {
		image[i] = byte(0x10 + i)
	}
	s := New(image)
	selectDevice(s, st, deviceSelectFirmware, true)

	s.WriteIO(st, 0x040001C2, fwCmdRead)
	s.WriteIO(st, 0x040001C2, 0x00) // addr byte 2
	s.WriteIO(st, 0x040001C2, 0x00) // addr byte 1
	s.WriteIO(st, 0x040001C2, 0x00) // addr byte 0 -> address = 0

	s.WriteIO(st, 0x040001C2, 0x00)
	require.Equal(t, image[0], s.spidata)

	s.WriteIO(st, 0x040001C2, 0x00)
	require.Equal(t, image[1], s.spidata)
}

func TestInterruptRequestSchedulesSpiFinished(t *testing.T) {
	st := newTestState()
	s := New(nil)
	pending := st.Sched.Pending()

	s.WriteIO(st, 0x040001C0, 0x00)
	s.WriteIO(st, 0x040001C1, 0x80|0x40) // busEnable + interruptRequest (bit14 -> bit6 of high byte)
	s.WriteIO(st, 0x040001C2, 0x00)

	require.Equal(t, pending+1, st.Sched.Pending())
}

func TestChipselectReleaseResetsWriteNumber(t *testing.T) {
	st := newTestState()
	s := New(nil)
	selectDevice(s, st, deviceSelectTouchscreen, true)
	s.WriteIO(st, 0x040001C2, 0x00)
	require.Equal(t, 1, s.writeNumber)

	selectDevice(s, st, deviceSelectTouchscreen, false)
	s.WriteIO(st, 0x040001C2, 0x00)
	require.Equal(t, 0, s.writeNumber)
}
