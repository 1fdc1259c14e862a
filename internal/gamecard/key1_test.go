package gamecard

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Scenario 5 from spec.md §8: KEY1 encrypt/decrypt round-trip.
func TestKey1EncryptDecryptRoundTrip(t *testing.T) {
	var k key1
	table := make([]byte, 0x1048)
	for i := range table {
		table[i] = byte(i * 7)
	}
	k.loadKeyBuf(table)
	k.initKeycode(0x12345678, 3, 0x8)

	original := uint64(0xDEADBEEFCAFEBABE)
	data := original

	k.encrypt(&data)
	require.NotEqual(t, original, data)

	k.decrypt(&data)
	require.Equal(t, original, data)
}

func TestKey1DifferentIdcodesProduceDifferentSchedules(t *testing.T) {
	var a, b key1
	table := make([]byte, 0x1048)
	for i := range table {
		table[i] = byte(i * 3)
	}
	a.loadKeyBuf(table)
	b.loadKeyBuf(table)
	a.initKeycode(0x11111111, 3, 0x8)
	b.initKeycode(0x22222222, 3, 0x8)

	require.NotEqual(t, a.keyBuf, b.keyBuf)
}

func TestByteswap32(t *testing.T) {
	require.Equal(t, uint32(0x78563412), byteswap32(0x12345678))
}
