//go:build linux

package gpio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"
	"go.uber.org/zap"

	"github.com/sweeney/button-sensor/internal/logic"
)

// RealChip reads and watches lines on a Linux GPIO character device.
// Each line is requested once, as an input with an event handler, and edge
// detection is switched on and off by Register and Deregister.
type RealChip struct {
	chip   *gpiocdev.Chip
	logger *zap.SugaredLogger

	mu       sync.Mutex
	lines    map[int]*gpiocdev.Line
	biases   map[int]gpiocdev.LineBias
	handlers map[int]realHandler
	nextID   uint64
}

type realHandler struct {
	id      uint64
	rising  bool
	falling bool
	h       Handler
}

// Option configures a RealChip.
type Option func(*RealChip)

// WithLogger sets the logger used for event delivery problems.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(c *RealChip) {
		c.logger = logger.Named("gpio")
	}
}

// NewRealChip opens the named GPIO chip, e.g. "gpiochip0".
func NewRealChip(name string, opts ...Option) (*RealChip, error) {
	chip, err := gpiocdev.NewChip(name)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", name, err)
	}
	c := &RealChip{
		chip:     chip,
		logger:   zap.NewNop().Sugar(),
		lines:    make(map[int]*gpiocdev.Line),
		biases:   make(map[int]gpiocdev.LineBias),
		handlers: make(map[int]realHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func biasOption(pull PullMode) (gpiocdev.LineBias, error) {
	switch pull {
	case PullUp:
		return gpiocdev.WithPullUp, nil
	case PullDown:
		return gpiocdev.WithPullDown, nil
	case PullNone:
		return gpiocdev.WithBiasDisabled, nil
	}
	return gpiocdev.WithBiasDisabled, fmt.Errorf("gpio: invalid pull mode %v", pull)
}

// releaseOptions is the line config applied before a line is closed.
func releaseOptions(bias gpiocdev.LineBias) []gpiocdev.LineConfigOption {
	return []gpiocdev.LineConfigOption{gpiocdev.AsInput, gpiocdev.WithoutEdges, bias}
}

// Configure requests pin as an input with the given bias, or reconfigures it
// if it is already held.
func (c *RealChip) Configure(pin int, pull PullMode) error {
	bias, err := biasOption(pull)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if line, ok := c.lines[pin]; ok {
		if err := line.Reconfigure(gpiocdev.AsInput, bias); err != nil {
			return fmt.Errorf("reconfigure pin %d: %w", pin, err)
		}
		c.biases[pin] = bias
		return nil
	}

	line, err := c.chip.RequestLine(pin,
		gpiocdev.AsInput,
		bias,
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) { c.dispatch(pin, evt) }),
	)
	if err != nil {
		return fmt.Errorf("request pin %d: %w", pin, err)
	}
	c.lines[pin] = line
	c.biases[pin] = bias
	return nil
}

// ReadLevel returns the raw level of a configured pin.
func (c *RealChip) ReadLevel(pin int) (logic.Level, error) {
	c.mu.Lock()
	line, ok := c.lines[pin]
	c.mu.Unlock()
	if !ok {
		return logic.Low, fmt.Errorf("read pin %d: not configured", pin)
	}

	v, err := line.Value()
	if err != nil {
		return logic.Low, fmt.Errorf("read pin %d: %w", pin, err)
	}
	if v != 0 {
		return logic.High, nil
	}
	return logic.Low, nil
}

// Register enables edge detection on a configured pin and installs h.
func (c *RealChip) Register(pin int, rising, falling bool, h Handler) (Registration, error) {
	if !rising && !falling {
		return Registration{}, fmt.Errorf("register pin %d: no edges selected", pin)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line, ok := c.lines[pin]
	if !ok {
		return Registration{}, fmt.Errorf("register pin %d: not configured", pin)
	}

	edges := gpiocdev.WithBothEdges
	switch {
	case rising && !falling:
		edges = gpiocdev.WithRisingEdge
	case falling && !rising:
		edges = gpiocdev.WithFallingEdge
	}
	if err := line.Reconfigure(edges); err != nil {
		return Registration{}, fmt.Errorf("enable edges on pin %d: %w", pin, err)
	}

	c.nextID++
	c.handlers[pin] = realHandler{id: c.nextID, rising: rising, falling: falling, h: h}
	return Registration{Pin: pin, id: c.nextID}, nil
}

// Deregister disables edge detection for the registration's pin.
func (c *RealChip) Deregister(reg Registration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.handlers[reg.Pin]
	if !ok || cur.id != reg.id {
		return fmt.Errorf("pin %d: %w", reg.Pin, ErrNotRegistered)
	}
	delete(c.handlers, reg.Pin)

	if line, ok := c.lines[reg.Pin]; ok {
		if err := line.Reconfigure(gpiocdev.WithoutEdges); err != nil {
			return fmt.Errorf("disable edges on pin %d: %w", reg.Pin, err)
		}
	}
	return nil
}

// dispatch runs on the gpiocdev watcher goroutine. Events for one line are
// delivered in kernel order.
func (c *RealChip) dispatch(pin int, evt gpiocdev.LineEvent) {
	c.mu.Lock()
	rh, ok := c.handlers[pin]
	c.mu.Unlock()
	if !ok {
		return
	}

	switch evt.Type {
	case gpiocdev.LineEventRisingEdge:
		if rh.rising {
			rh.h(logic.High)
		}
	case gpiocdev.LineEventFallingEdge:
		if rh.falling {
			rh.h(logic.Low)
		}
	default:
		c.logger.Warnw("unknown line event", "pin", pin, "type", evt.Type)
	}
}

// Close releases all lines and the chip. Each line is left as an input with
// edge detection off and the bias it was configured with, so a released
// button keeps its idle level after the daemon exits.
func (c *RealChip) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for pin, line := range c.lines {
		if err := line.Reconfigure(releaseOptions(c.biases[pin])...); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", pin, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", pin, err))
		}
	}
	c.lines = make(map[int]*gpiocdev.Line)
	c.biases = make(map[int]gpiocdev.LineBias)
	c.handlers = make(map[int]realHandler)

	if c.chip != nil {
		if err := c.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	return errors.Join(errs...)
}
