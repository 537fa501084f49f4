// Package gpio provides the pin reader and edge notifier a button is built on.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sweeney/button-sensor/internal/logic"
)

// PullMode selects the internal bias resistor for an input line.
type PullMode int

const (
	// PullNone leaves the line floating for external biasing.
	PullNone PullMode = iota
	PullUp
	PullDown
)

func (p PullMode) String() string {
	switch p {
	case PullNone:
		return "none"
	case PullUp:
		return "up"
	case PullDown:
		return "down"
	}
	return fmt.Sprintf("PullMode(%d)", int(p))
}

// Valid reports whether p is one of the defined pull modes.
func (p PullMode) Valid() bool {
	return p == PullNone || p == PullUp || p == PullDown
}

// ParsePullMode converts "up", "down" or "none" (case-insensitive) to a PullMode.
func ParsePullMode(s string) (PullMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "off", "":
		return PullNone, nil
	case "up":
		return PullUp, nil
	case "down":
		return PullDown, nil
	}
	return PullNone, fmt.Errorf("gpio: unknown pull mode %q", s)
}

// ErrNotRegistered is returned when deregistering a token the notifier does not hold.
var ErrNotRegistered = errors.New("gpio: registration not found")

// Handler receives the firing pin's raw level. It is called asynchronously
// with respect to normal program flow and must return quickly.
type Handler func(level logic.Level)

// Registration identifies one edge handler registration.
type Registration struct {
	Pin int
	id  uint64
}

// Reader configures input lines and reads their raw level.
type Reader interface {
	// Configure requests pin as an input with the given bias.
	Configure(pin int, pull PullMode) error

	// ReadLevel returns the raw electrical level of pin.
	ReadLevel(pin int) (logic.Level, error)
}

// Notifier delivers edge notifications for a pin, in the order the
// transitions occurred.
type Notifier interface {
	// Register installs h for the selected edges of pin.
	Register(pin int, rising, falling bool, h Handler) (Registration, error)

	// Deregister removes a registration. A notification already in flight
	// may still complete after it returns.
	Deregister(reg Registration) error
}

// Chip is a GPIO controller that can both read and notify.
type Chip interface {
	Reader
	Notifier

	// Close releases GPIO resources.
	Close() error
}

// Default chip name on a Raspberry Pi.
const DefaultChip = "gpiochip0"
