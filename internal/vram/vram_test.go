package vram

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSingleBankMappingGivesFastPointer(t *testing.T) {
	m := New()
	m.SetControl(BankA, 0x80|0x01) // enable, MST=1 (engine-A BG), offset 0
	m.Refresh()

	bank, _, ok := m.FastPointer(WindowEngineABG, 0)
	require.True(t, ok)
	require.Equal(t, BankA, bank)
}

func TestDisabledBankMapsNothing(t *testing.T) {
	m := New()
	m.Refresh()

	_, _, ok := m.FastPointer(WindowEngineABG, 0)
	require.False(t, ok)
	require.Equal(t, byte(0), m.ReadByte(WindowEngineABG, 0))
}

func TestOverlappingBanksHaveNoFastPointerAndCompose(t *testing.T) {
	m := New()
	m.SetControl(BankA, 0x80|0x01) // MST1, offset 0 -> engine-A BG page 0
	m.SetControl(BankB, 0x80|0x01) // same window, same offset -> overlap
	m.Refresh()

	_, _, ok := m.FastPointer(WindowEngineABG, 0)
	require.False(t, ok)

	m.banks[BankA][0] = 0x0F
	m.banks[BankB][0] = 0xF0
	require.Equal(t, byte(0xFF), m.ReadByte(WindowEngineABG, 0))
}

func TestWriteByteUpdatesAllMappedBanks(t *testing.T) {
	m := New()
	m.SetControl(BankA, 0x80|0x01)
	m.SetControl(BankB, 0x80|0x01)
	m.Refresh()

	m.WriteByte(WindowEngineABG, 5, 0x42)
	require.Equal(t, byte(0x42), m.banks[BankA][5])
	require.Equal(t, byte(0x42), m.banks[BankB][5])
}

func TestRefreshClearsStalePages(t *testing.T) {
	m := New()
	m.SetControl(BankA, 0x80|0x01)
	m.Refresh()
	require.Equal(t, 1, len(m.pages[WindowEngineABG][0].entries))

	m.SetControl(BankA, 0x00) // disable
	m.Refresh()
	require.Equal(t, 0, len(m.pages[WindowEngineABG][0].entries))
}
