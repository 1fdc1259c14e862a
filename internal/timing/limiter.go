package timing

import "time"

// Limiter controls frame rate timing for emulation.
type Limiter interface {
	// WaitForNextFrame blocks until it's time for the next frame.
	// Returns immediately if timing is behind schedule.
	WaitForNextFrame()

	// Reset resets the timing state, useful after pauses.
	Reset()
}

// NewNoOpLimiter returns a limiter that doesn't limit (for headless mode).
func NewNoOpLimiter() Limiter {
	return &noOpLimiter{}
}

type noOpLimiter struct{}

func (n *noOpLimiter) WaitForNextFrame() {}
func (n *noOpLimiter) Reset()            {}

// Constants for the machine's scheduler timing.
//
// A scanline is 4260 scheduler units (355 dots * 6 units/dot * 2 clocks),
// and a frame is 263 scanlines; UnitsPerSecond is derived from the
// console's ~33.51 MHz system clock at two units per clock.
const (
	UnitsPerScanline = 4260
	LinesPerFrame    = 263
	UnitsPerFrame    = UnitsPerScanline * LinesPerFrame
	UnitsPerSecond   = 2 * 33513982
)

// TargetFPS calculates the exact frame rate implied by the scheduler's unit rate.
func TargetFPS() float64 {
	return float64(UnitsPerSecond) / float64(UnitsPerFrame)
}

// FrameDuration returns the target duration of a single frame.
func FrameDuration() time.Duration {
	return time.Duration(float64(time.Second) / TargetFPS())
}
