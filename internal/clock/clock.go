// Package clock provides the monotonic millisecond clock and one-shot timers
// used to schedule debounce settle checks.
package clock

import "time"

// Clock supplies a monotonic millisecond timestamp and one-shot timers.
type Clock interface {
	// NowMs returns milliseconds on a monotonic scale. Only differences
	// between two values are meaningful.
	NowMs() uint64

	// AfterFunc calls f in its own goroutine after d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop prevents the timer from firing. It returns false if the timer
	// already fired or was already stopped.
	Stop() bool
}

// System is a Clock backed by the Go runtime's monotonic clock.
type System struct {
	start time.Time
}

// NewSystem creates a System clock whose zero is the moment of construction.
func NewSystem() *System {
	return &System{start: time.Now()}
}

// NowMs returns milliseconds since the clock was created.
func (s *System) NowMs() uint64 {
	return uint64(time.Since(s.start).Milliseconds())
}

// AfterFunc wraps time.AfterFunc.
func (s *System) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
