package audio

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nullbrook/ds-core/internal/shared"
)

type fakeMemory struct {
	data []byte
}

func (f *fakeMemory) ReadByte(addr uint32) byte {
	if int(addr) >= len(f.data) {
		return 0
	}
	return f.data[addr]
}

func newTestMixer(mem *fakeMemory) (*Mixer, *shared.State) {
	st := shared.New(slog.Default())
	st.Reset()
	m := New(mem)
	m.Reset()
	return m, st
}

func writeChannelReg(m *Mixer, ch int, offset uint32, value uint32) {
	base := uint32(ch) * 0x10
	m.WriteIO(base+offset, uint8(value))
	m.WriteIO(base+offset+1, uint8(value>>8))
	m.WriteIO(base+offset+2, uint8(value>>16))
	m.WriteIO(base+offset+3, uint8(value>>24))
}

func TestChannelStartLatchesSourceAndLength(t *testing.T) {
	mem := &fakeMemory{data: make([]byte, 64)}
	m, _ := newTestMixer(mem)

	writeChannelReg(m, 0, 0x4, 0x100) // SAD
	writeChannelReg(m, 0, 0xC, 2)     // LEN = 2 words = 8 bytes
	writeChannelReg(m, 0, 0x0, 1<<31) // CR: start bit, PCM8, volume mul 0

	ch := &m.channels[0]
	require.True(t, ch.started())
	require.Equal(t, uint32(0x100), ch.currentAddr)
	require.Equal(t, uint32(8), ch.remaining)
}

func TestPCM8ChannelProducesNonZeroSample(t *testing.T) {
	mem := &fakeMemory{data: make([]byte, 64)}
	mem.data[0] = 0x7F // max positive PCM8 sample

	m, st := newTestMixer(mem)
	writeChannelReg(m, 0, 0x4, 0)
	writeChannelReg(m, 0, 0xC, 1)
	writeChannelReg(m, 0, 0x8, 0xFFFF) // timer reload near-max -> short period
	// CR: start, PCM8 (format bits 29-30 = 0), volume mul = 127, pan = 64 (center)
	writeChannelReg(m, 0, 0x0, (1<<31)|(64<<16)|127)

	m.masterEnable = true
	m.masterVolume = 127

	for i := 0; i < 4; i++ {
		m.HandleApuSample(st)
	}

	require.NotEmpty(t, m.active)
}

func TestMasterDisabledProducesSilence(t *testing.T) {
	mem := &fakeMemory{data: make([]byte, 64)}
	m, st := newTestMixer(mem)
	m.masterEnable = false

	m.HandleApuSample(st)

	require.Equal(t, int16(0), m.active[0])
	require.Equal(t, int16(0), m.active[1])
}

func TestBufferSwapsAfter1024Samples(t *testing.T) {
	mem := &fakeMemory{data: make([]byte, 64)}
	m, st := newTestMixer(mem)
	m.masterEnable = false

	for i := 0; i < bufferSamples; i++ {
		m.HandleApuSample(st)
	}

	require.Empty(t, m.active)
	require.Len(t, m.ready, bufferSamples*2)
}

func TestGetSamplesDrainsReadyBuffer(t *testing.T) {
	mem := &fakeMemory{data: make([]byte, 64)}
	m, st := newTestMixer(mem)
	m.masterEnable = false

	for i := 0; i < bufferSamples; i++ {
		m.HandleApuSample(st)
	}

	got := m.GetSamples(10)
	require.Len(t, got, 10)
	require.Len(t, m.ready, bufferSamples*2-10)
}

func TestPSGSquareWaveTogglesWithDuty(t *testing.T) {
	mem := &fakeMemory{data: make([]byte, 64)}
	m, _ := newTestMixer(mem)
	ch := &m.channels[0]
	ch.control = (3 << 29) | (4 << 24) // format=PSG, waveDuty=4
	ch.start()

	high, low := false, false
	for i := 0; i < 8; i++ {
		ch.advance(mem)
		if ch.currentSample > 0 {
			high = true
		} else {
			low = true
		}
	}
	require.True(t, high)
	require.True(t, low)
}
