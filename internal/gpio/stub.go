//go:build !linux

package gpio

import (
	"errors"

	"github.com/sweeney/button-sensor/internal/logic"
	"go.uber.org/zap"
)

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// RealChip is not available on non-Linux platforms.
type RealChip struct{}

// NewRealChip returns an error on non-Linux platforms.
func NewRealChip(name string, opts ...Option) (*RealChip, error) {
	return nil, errUnsupported
}

// Option configures a RealChip.
type Option func(*RealChip)

// Configure is not implemented on non-Linux platforms.
func (c *RealChip) Configure(pin int, pull PullMode) error { return errUnsupported }

// ReadLevel is not implemented on non-Linux platforms.
func (c *RealChip) ReadLevel(pin int) (logic.Level, error) { return logic.Low, errUnsupported }

// Register is not implemented on non-Linux platforms.
func (c *RealChip) Register(pin int, rising, falling bool, h Handler) (Registration, error) {
	return Registration{}, errUnsupported
}

// Deregister is not implemented on non-Linux platforms.
func (c *RealChip) Deregister(reg Registration) error { return errUnsupported }

// Close is not implemented on non-Linux platforms.
func (c *RealChip) Close() error {
	return nil
}

// WithLogger is accepted for API parity and ignored.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(*RealChip) {}
}
