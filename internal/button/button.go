// Package button implements a debounced push button bound to one GPIO line.
//
// Edge notifications arrive asynchronously from the GPIO notifier. Each one
// is recorded by the debounce state machine and arms a settle timer for the
// remainder of the debounce window; the timer (or a matching edge arriving
// after the window, or an explicit Settle call) confirms the transition and
// the matching callback fires exactly once. Callbacks run in the order their
// transitions were confirmed.
//
// Callback panics are recovered, logged and counted. Confirmed state is
// committed before the callback runs, so a failing callback never leaves the
// button inconsistent and never prevents Deinit.
package button

import (
	"bytes"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/sweeney/button-sensor/internal/clock"
	"github.com/sweeney/button-sensor/internal/gpio"
	"github.com/sweeney/button-sensor/internal/logic"
)

// Pins is what a Button needs from the GPIO layer.
type Pins interface {
	gpio.Reader
	gpio.Notifier
}

const defaultQueueSize = 16

// Option configures optional Button behaviour.
type Option func(*Button)

// WithLogger sets the logger used for callback failures and dropped events.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(b *Button) {
		b.logger = logger
	}
}

// WithQueueSize sets the event queue length for DispatchQueued.
func WithQueueSize(n int) Option {
	return func(b *Button) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// Button is a debounced button. All methods are safe for concurrent use.
type Button struct {
	cfg    Config
	pins   Pins
	clk    clock.Clock
	logger *zap.SugaredLogger

	// mu guards the debounce state and timer. Held only for bounded work.
	mu      sync.Mutex
	d       *logic.Debouncer
	enabled bool
	timer   clock.Timer
	gen     uint64
	reg     gpio.Registration

	// pressed mirrors the confirmed state for lock-free queries.
	pressed atomic.Bool
	// live mirrors enabled for the dispatch path.
	live atomic.Bool

	// seq numbers confirmed events under mu.
	seq uint64

	// cbMu serializes callbacks against Deinit. served is the last inline
	// event run; turn lets inline events wait for their predecessors.
	cbMu   sync.Mutex
	served uint64
	turn   *sync.Cond

	// cbGoroutine is the id of the goroutine running a callback, or 0.
	cbGoroutine atomic.Uint64
	failures    atomic.Int64
	dropped     atomic.Int64

	queueSize int
	queue     chan logic.Event
	done      chan struct{}
	wg        sync.WaitGroup
}

// New validates cfg, configures the pin, samples its level to seed the
// confirmed state and registers for both edges. No callback fires for the
// initial sample. A nil clk uses the system clock.
func New(cfg Config, pins Pins, clk clock.Clock, opts ...Option) (*Button, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if pins == nil {
		return nil, errors.New("button: nil pins")
	}
	if clk == nil {
		clk = clock.NewSystem()
	}

	b := &Button{
		cfg:       cfg,
		pins:      pins,
		clk:       clk,
		queueSize: defaultQueueSize,
	}
	b.turn = sync.NewCond(&b.cbMu)
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = zap.NewNop().Sugar()
	}
	b.logger = b.logger.With("pin", cfg.Pin)

	if err := pins.Configure(cfg.Pin, cfg.Pull); err != nil {
		return nil, fmt.Errorf("configure pin %d: %w", cfg.Pin, err)
	}
	level, err := pins.ReadLevel(cfg.Pin)
	if err != nil {
		return nil, fmt.Errorf("sample pin %d: %w", cfg.Pin, err)
	}

	b.d = logic.NewDebouncer(cfg.DebounceWindow, cfg.ActiveLow, level, clk.NowMs())
	b.pressed.Store(b.d.IsPressed())
	b.enabled = true
	b.live.Store(true)

	if cfg.Dispatch == DispatchQueued {
		b.queue = make(chan logic.Event, b.queueSize)
		b.done = make(chan struct{})
		b.wg.Add(1)
		go b.worker()
	}

	reg, err := pins.Register(cfg.Pin, true, true, b.handleEdge)
	if err != nil {
		b.mu.Lock()
		b.enabled = false
		b.mu.Unlock()
		b.live.Store(false)
		if b.done != nil {
			close(b.done)
			b.wg.Wait()
		}
		return nil, fmt.Errorf("register pin %d: %w", cfg.Pin, err)
	}

	b.mu.Lock()
	b.reg = reg
	b.mu.Unlock()

	b.logger.Debugw("button ready",
		"raw", level,
		"state", b.d.State(),
		"active_low", cfg.ActiveLow,
		"pull", cfg.Pull,
		"debounce", cfg.DebounceWindow,
		"dispatch", cfg.Dispatch)

	return b, nil
}

// handleEdge is the notifier callback. It never blocks beyond the state lock.
func (b *Button) handleEdge(level logic.Level) {
	b.mu.Lock()
	if !b.enabled {
		b.mu.Unlock()
		return
	}
	now := b.clk.NowMs()
	ev := b.d.Edge(level, now)
	b.commitLocked(ev)
	b.armLocked(now)
	seq := b.emitLocked(ev)
	b.mu.Unlock()

	b.dispatch(ev, seq)
}

// settleTimer runs when the settle timer for generation gen fires.
func (b *Button) settleTimer(gen uint64) {
	b.mu.Lock()
	if !b.enabled || gen != b.gen {
		b.mu.Unlock()
		return
	}
	b.timer = nil
	ev := b.settleLocked()
	seq := b.emitLocked(ev)
	b.mu.Unlock()

	b.dispatch(ev, seq)
}

// Settle runs the settle check now. Hosts that poll instead of relying on
// timers call it periodically; with timers it is never required.
func (b *Button) Settle() {
	b.mu.Lock()
	if !b.enabled {
		b.mu.Unlock()
		return
	}
	ev := b.settleLocked()
	seq := b.emitLocked(ev)
	b.mu.Unlock()

	b.dispatch(ev, seq)
}

func (b *Button) settleLocked() *logic.Event {
	now := b.clk.NowMs()
	ev := b.d.Settle(now)
	b.commitLocked(ev)
	// Still pending if the timer fired early; re-arm for the rest.
	b.armLocked(now)
	return ev
}

func (b *Button) commitLocked(ev *logic.Event) {
	if ev != nil {
		b.pressed.Store(b.d.IsPressed())
	}
}

// armLocked replaces any settle timer with one for the pending candidate.
func (b *Button) armLocked(now uint64) {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.gen++

	remaining, ok := b.d.Remaining(now)
	if !ok {
		return
	}
	gen := b.gen
	b.timer = b.clk.AfterFunc(remaining, func() { b.settleTimer(gen) })
}

// emitLocked orders a confirmed event. Queued events go onto the queue here,
// so the queue holds them in confirmation order. Inline events get a
// sequence number for dispatch and it is returned; 0 means nothing to run.
func (b *Button) emitLocked(ev *logic.Event) uint64 {
	if ev == nil {
		return 0
	}
	if b.queue != nil {
		select {
		case b.queue <- *ev:
		default:
			b.dropped.Add(1)
			b.logger.Warnw("callback queue full, event dropped", "event", ev.Type)
		}
		return 0
	}
	b.seq++
	return b.seq
}

// dispatch runs an inline event once every earlier one has run. Every
// numbered event passes through here, even after Deinit, so that later
// events are never left waiting.
func (b *Button) dispatch(ev *logic.Event, seq uint64) {
	if seq == 0 {
		return
	}

	b.cbMu.Lock()
	defer b.cbMu.Unlock()
	for b.served+1 != seq {
		b.turn.Wait()
	}
	defer func() {
		b.served = seq
		b.turn.Broadcast()
	}()
	b.invokeLocked(*ev)
}

func (b *Button) worker() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case ev := <-b.queue:
			b.cbMu.Lock()
			b.invokeLocked(ev)
			b.cbMu.Unlock()
		}
	}
}

// invokeLocked runs the callback for ev unless the button has been torn
// down. Checking live under cbMu is what lets Deinit guarantee that no
// callback starts after it returns.
func (b *Button) invokeLocked(ev logic.Event) {
	if !b.live.Load() {
		return
	}

	b.logger.Debugw("confirmed", "event", ev.Type, "raw", ev.Raw, "at_ms", ev.At)

	cb := b.cfg.OnRelease
	if ev.Type == logic.EventPress {
		cb = b.cfg.OnPress
	}
	if cb == nil {
		return
	}

	b.cbGoroutine.Store(goroutineID())
	defer b.cbGoroutine.Store(0)
	b.call(ev.Type, cb)
}

func (b *Button) call(event logic.EventType, cb func()) {
	defer func() {
		if r := recover(); r != nil {
			b.failures.Add(1)
			b.logger.Errorw("callback panicked", "event", event, "panic", r)
		}
	}()
	cb()
}

// goroutineID parses the current goroutine's id from its stack header,
// "goroutine N [...]".
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	field := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(field, ' '); i >= 0 {
		field = field[:i]
	}
	id, _ := strconv.ParseUint(string(field), 10, 64)
	return id
}

// IsPressed returns the confirmed state. It never blocks.
func (b *Button) IsPressed() bool {
	return b.pressed.Load()
}

// IsReleased returns the inverse of IsPressed.
func (b *Button) IsReleased() bool {
	return !b.pressed.Load()
}

// State returns the confirmed state as a logic.State.
func (b *Button) State() logic.State {
	if b.IsPressed() {
		return logic.StatePressed
	}
	return logic.StateReleased
}

// Counts returns the number of confirmed presses and releases.
func (b *Button) Counts() logic.EventCounts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.d.Counts()
}

// Pin returns the configured pin.
func (b *Button) Pin() int {
	return b.cfg.Pin
}

// Enabled reports whether the button is still processing edges.
func (b *Button) Enabled() bool {
	return b.live.Load()
}

// CallbackFailures returns how many callbacks have panicked.
func (b *Button) CallbackFailures() int64 {
	return b.failures.Load()
}

// Dropped returns how many events were dropped because the queue was full.
func (b *Button) Dropped() int64 {
	return b.dropped.Load()
}

// Deinit stops edge processing, deregisters from the notifier and waits for
// a running callback to finish, unless called from inside that callback. After it
// returns no callback starts and the confirmed state is frozen. Calling it
// again is a no-op returning nil.
func (b *Button) Deinit() error {
	b.mu.Lock()
	if !b.enabled {
		b.mu.Unlock()
		return nil
	}
	b.enabled = false
	b.live.Store(false)
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.gen++
	reg := b.reg
	b.mu.Unlock()

	err := b.pins.Deregister(reg)

	if b.done != nil {
		close(b.done)
	}
	// From inside a callback, cbMu is ours and the worker is this goroutine.
	if b.cbGoroutine.Load() != goroutineID() {
		// Wait out a callback that passed its live check.
		b.cbMu.Lock()
		b.cbMu.Unlock()
		b.wg.Wait()
	}

	if err != nil {
		return fmt.Errorf("deregister pin %d: %w", b.cfg.Pin, err)
	}
	return nil
}

// Close implements io.Closer.
func (b *Button) Close() error {
	return b.Deinit()
}
