// Package logic contains the pure debounce state machine for a single button.
// This package has NO external dependencies (no GPIO, goroutines, or wall clock).
// Time is always injected as a millisecond timestamp.
package logic

import "time"

// Level is the raw electrical level of an input pin.
type Level uint8

const (
	Low  Level = 0
	High Level = 1
)

func (l Level) String() string {
	if l == High {
		return "HIGH"
	}
	return "LOW"
}

// State represents the confirmed logical state of a button.
type State string

const (
	StatePressed  State = "PRESSED"
	StateReleased State = "RELEASED"
)

// EventType represents a confirmed transition.
type EventType string

const (
	EventPress   EventType = "PRESS"
	EventRelease EventType = "RELEASE"
)

// Event is a confirmed press or release.
type Event struct {
	Type  EventType
	State State
	// Raw is the electrical level that was confirmed.
	Raw Level
	// At is the millisecond timestamp at which confirmation happened.
	At uint64
}

// EventCounts tracks the number of confirmed transitions since construction.
type EventCounts struct {
	Press   int
	Release int
}

// DefaultWindow is the debounce window used when none is configured.
const DefaultWindow = 50 * time.Millisecond

// IsPressedFromRaw normalizes a raw level to a pressed flag.
// Active-low buttons are pressed when the line reads Low.
func IsPressedFromRaw(level Level, activeLow bool) bool {
	if activeLow {
		return level == Low
	}
	return level == High
}

// Elapsed returns now-since in milliseconds. Unsigned subtraction keeps the
// result correct across a wrap of the millisecond counter.
func Elapsed(now, since uint64) uint64 {
	return now - since
}

func stateFor(pressed bool) State {
	if pressed {
		return StatePressed
	}
	return StateReleased
}
