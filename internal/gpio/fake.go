package gpio

import (
	"fmt"
	"sync"

	"github.com/sweeney/button-sensor/internal/logic"
)

// FakeChip is a test double with scripted pin levels.
// Set drives edges synchronously into registered handlers.
type FakeChip struct {
	mu       sync.Mutex
	levels   map[int]logic.Level
	pulls    map[int]PullMode
	handlers map[int]fakeHandler
	nextID   uint64

	// Registered and Deregistered count calls for assertions.
	Registered   int
	Deregistered int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, ConfigureError and RegisterError, if set, are returned
	// by the corresponding methods.
	ReadError      error
	ConfigureError error
	RegisterError  error
}

type fakeHandler struct {
	id      uint64
	rising  bool
	falling bool
	h       Handler
}

// NewFakeChip creates a FakeChip with the given initial levels.
// Unlisted pins read Low.
func NewFakeChip(levels map[int]logic.Level) *FakeChip {
	f := &FakeChip{
		levels:   make(map[int]logic.Level),
		pulls:    make(map[int]PullMode),
		handlers: make(map[int]fakeHandler),
	}
	for pin, l := range levels {
		f.levels[pin] = l
	}
	return f
}

// Configure records the pull mode for pin.
func (f *FakeChip) Configure(pin int, pull PullMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ConfigureError != nil {
		return f.ConfigureError
	}
	f.pulls[pin] = pull
	return nil
}

// Pull returns the pull mode configured for pin.
func (f *FakeChip) Pull(pin int) (PullMode, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pulls[pin]
	return p, ok
}

// ReadLevel returns the scripted level for pin.
func (f *FakeChip) ReadLevel(pin int) (logic.Level, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadError != nil {
		return logic.Low, f.ReadError
	}
	return f.levels[pin], nil
}

// Register installs h for pin. Only one handler per pin is held; a second
// registration replaces the first.
func (f *FakeChip) Register(pin int, rising, falling bool, h Handler) (Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RegisterError != nil {
		return Registration{}, f.RegisterError
	}
	f.nextID++
	f.handlers[pin] = fakeHandler{id: f.nextID, rising: rising, falling: falling, h: h}
	f.Registered++
	return Registration{Pin: pin, id: f.nextID}, nil
}

// Deregister removes the handler installed by reg.
func (f *FakeChip) Deregister(reg Registration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.handlers[reg.Pin]
	if !ok || cur.id != reg.id {
		return fmt.Errorf("pin %d: %w", reg.Pin, ErrNotRegistered)
	}
	delete(f.handlers, reg.Pin)
	f.Deregistered++
	return nil
}

// IsRegistered reports whether pin currently has a handler.
func (f *FakeChip) IsRegistered(pin int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.handlers[pin]
	return ok
}

// Set changes the level of pin. If the level differs from the current one,
// the registered handler is called for the matching edge on this goroutine.
func (f *FakeChip) Set(pin int, level logic.Level) {
	f.mu.Lock()
	prev := f.levels[pin]
	f.levels[pin] = level
	fh, ok := f.handlers[pin]
	f.mu.Unlock()

	if !ok || prev == level {
		return
	}
	if (level == logic.High && fh.rising) || (level == logic.Low && fh.falling) {
		fh.h(level)
	}
}

// Fire delivers an edge notification for pin without changing its level,
// simulating a notifier that reports a level the line no longer has.
func (f *FakeChip) Fire(pin int, level logic.Level) {
	f.mu.Lock()
	fh, ok := f.handlers[pin]
	f.mu.Unlock()
	if ok {
		fh.h(level)
	}
}

// Close marks the chip as closed.
func (f *FakeChip) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}
