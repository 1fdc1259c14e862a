package rtc

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

func TestBcdRoundTrip(t *testing.T) {
	require.Equal(t, uint8(0x59), toBCD(59))
	require.Equal(t, 59, fromBCD(0x59))
	require.Equal(t, uint8(0x00), toBCD(0))
}

func TestReverseBits(t *testing.T) {
	require.Equal(t, uint8(0x80), reverseBits(0x01))
	require.Equal(t, uint8(0xF0), reverseBits(0x0F))
}

// clockByte clocks a single byte (LSB-first, matching the original 3-wire
// protocol) in through the data line; CS must already be held high.
func clockByte(r *RTC, st *shared.State, b uint8) {
	for i := 0; i < 8; i++ {
		bit := (b >> i) & 1
		// clock high, data set
		r.WriteIO(st, 0x04|0x10|0x02|bit)
		// clock low: falling edge shifts the bit in
		r.WriteIO(st, 0x04|0x10|bit)
	}
}

func selectChip(r *RTC, st *shared.State) {
	r.WriteIO(st, 0x04|0x10) // CS high, clock low, write direction
}

func deselectChip(r *RTC, st *shared.State) {
	r.WriteIO(st, 0x10) // CS low
}

func TestStatusRegister1WriteCommandDecodes(t *testing.T) {
	st := newTestState()
	r := New()

	selectChip(r, st)
	// command register byte: fixed code 0b0110, command=0 (status1), write
	clockByte(r, st, 0b0110_0000)

	require.Equal(t, uint8(0), r.command())
	require.False(t, r.parameterReadWrite())
	deselectChip(r, st)
}

func TestWriteStatusRegister2SetsInterrupt1Mode(t *testing.T) {
	st := newTestState()
	r := New()

	selectChip(r, st)
	// command=1 (status2), parameterReadWrite=0 (write)
	clockByte(r, st, reverseBits(0b0110_0010))
	clockByte(r, st, 0x03) // interrupt1Mode = 3 (per-30-second)
	deselectChip(r, st)

	require.Equal(t, uint8(0x03), r.interrupt1Mode())
}

func TestRefreshAdvancesSecond(t *testing.T) {
	r := New()
	r.second = toBCD(58)
	r.minute = toBCD(1)

	r.advanceSecond()
	require.Equal(t, toBCD(59), r.second)

	r.advanceSecond()
	require.Equal(t, toBCD(0), r.second)
	require.Equal(t, toBCD(2), r.minute)
}

func TestRefreshCascadesMinuteIntoHour(t *testing.T) {
	st := newTestState()
	_ = st
	r := New()
	r.second = toBCD(59)
	r.minute = toBCD(59)
	r.hour = toBCD(5)

	r.advanceSecond()
	require.Equal(t, toBCD(0), r.second)
	require.Equal(t, toBCD(0), r.minute)
	require.Equal(t, toBCD(6), r.hour)
}

func TestRefreshRollsOverMidnightToNextDay(t *testing.T) {
	r := New()
	r.second = toBCD(59)
	r.minute = toBCD(59)
	r.hour = toBCD(23)
	r.day = toBCD(15)
	r.weekday = 3

	r.advanceSecond()
	require.Equal(t, toBCD(0), r.hour)
	require.Equal(t, toBCD(16), r.day)
	require.Equal(t, uint8(4), r.weekday)
}

func TestRefreshHandlesLeapFebruary(t *testing.T) {
	r := New()
	r.year = toBCD(24) // 2024, leap year (year&3==0)
	r.month = toBCD(2)
	r.day = toBCD(29)
	r.hour = toBCD(23)
	r.minute = toBCD(59)
	r.second = toBCD(59)

	r.advanceSecond()
	require.Equal(t, toBCD(1), r.day)
	require.Equal(t, toBCD(3), r.month)
}

func TestAlarmMatchRespectsCompareEnableBits(t *testing.T) {
	r := New()
	r.weekday = 2
	r.hour = toBCD(9)
	r.pmAm = false
	r.minute = toBCD(30)

	a := alarm{
		weekday:             5,
		dayCompareEnable:    false, // disabled, so weekday mismatch doesn't block
		hour:                9,
		hourCompareEnable:   true,
		minute:              30,
		minuteCompareEnable: true,
	}
	require.True(t, r.matchesAlarm(&a))

	a.hour = 10
	require.False(t, r.matchesAlarm(&a))
}

func TestSelectedFrequencyInterruptUsesLiteralBitmask(t *testing.T) {
	st := newTestState()
	r := New()
	r.statusRegister2 = 0b0001 // interrupt1Mode = selected frequency
	r.alarm1.frequency = 0x01

	require.NotPanics(t, func() {
		r.refreshInterrupt1(st, st.Sched.Now(), false)
	})
}
