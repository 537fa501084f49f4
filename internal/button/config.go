package button

import (
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/button-sensor/internal/gpio"
	"github.com/sweeney/button-sensor/internal/logic"
)

// DispatchPolicy selects where user callbacks run.
type DispatchPolicy int

const (
	// DispatchInline runs callbacks on the goroutine that delivered the edge
	// or fired the settle timer, after the state lock is released.
	DispatchInline DispatchPolicy = iota

	// DispatchQueued hands confirmed events to a worker goroutine owned by
	// the button, keeping the notification path short.
	DispatchQueued
)

func (p DispatchPolicy) String() string {
	switch p {
	case DispatchInline:
		return "inline"
	case DispatchQueued:
		return "queued"
	}
	return fmt.Sprintf("DispatchPolicy(%d)", int(p))
}

// ParseDispatchPolicy converts "inline" or "queued" to a DispatchPolicy.
func ParseDispatchPolicy(s string) (DispatchPolicy, error) {
	switch s {
	case "", "inline":
		return DispatchInline, nil
	case "queued":
		return DispatchQueued, nil
	}
	return DispatchInline, fmt.Errorf("button: unknown dispatch policy %q", s)
}

// Config describes one button. It is copied at construction and never
// changed afterwards.
type Config struct {
	Pin            int
	Pull           gpio.PullMode
	ActiveLow      bool
	DebounceWindow time.Duration

	// OnPress and OnRelease are optional. They take no arguments; callers
	// that need to know which button fired bind that in a closure.
	OnPress   func()
	OnRelease func()

	Dispatch DispatchPolicy
}

// DefaultConfig returns the usual wiring for a button between pin and ground:
// internal pull-up, active low, 50ms window, inline dispatch.
func DefaultConfig(pin int) Config {
	return Config{
		Pin:            pin,
		Pull:           gpio.PullUp,
		ActiveLow:      true,
		DebounceWindow: logic.DefaultWindow,
	}
}

var (
	ErrInvalidPin      = errors.New("pin must be non-negative")
	ErrInvalidPull     = errors.New("pull must be up, down or none")
	ErrPullConflict    = errors.New("pull bias holds the line at its pressed level")
	ErrInvalidDebounce = errors.New("debounce window must be at least 1ms")
	ErrInvalidDispatch = errors.New("dispatch must be inline or queued")
)

// ConfigError reports an invalid Config field. New returns it before
// touching the hardware.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("button config: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Pin < 0 {
		return &ConfigError{Field: "pin", Err: ErrInvalidPin}
	}
	if !c.Pull.Valid() {
		return &ConfigError{Field: "pull", Err: ErrInvalidPull}
	}
	// A pull-up on an active-high button (or pull-down on active-low) idles
	// the line at the pressed level.
	if (c.ActiveLow && c.Pull == gpio.PullDown) || (!c.ActiveLow && c.Pull == gpio.PullUp) {
		return &ConfigError{Field: "pull", Err: fmt.Errorf("%w (pull=%s active_low=%t)", ErrPullConflict, c.Pull, c.ActiveLow)}
	}
	if c.DebounceWindow < time.Millisecond {
		return &ConfigError{Field: "debounce", Err: ErrInvalidDebounce}
	}
	if c.Dispatch != DispatchInline && c.Dispatch != DispatchQueued {
		return &ConfigError{Field: "dispatch", Err: ErrInvalidDispatch}
	}
	return nil
}
