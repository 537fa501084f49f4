package main

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/button-sensor/internal/button"
	"github.com/sweeney/button-sensor/internal/clock"
	"github.com/sweeney/button-sensor/internal/config"
	"github.com/sweeney/button-sensor/internal/gpio"
	"github.com/sweeney/button-sensor/internal/logic"
	"github.com/sweeney/button-sensor/internal/mqtt"
	"github.com/sweeney/button-sensor/internal/status"
)

// namedButton pairs a running button with its config entry.
type namedButton struct {
	entry config.Button
	btn   *button.Button
}

// monitor owns the set of running buttons. Each button is independent; the
// monitor only builds them, routes their callbacks and tears them down.
type monitor struct {
	pins    button.Pins
	clk     clock.Clock
	pub     mqtt.Publisher
	tracker *status.Tracker
	logger  *zap.SugaredLogger
	now     func() time.Time

	mu      sync.Mutex
	buttons []namedButton
}

func newMonitor(pins button.Pins, clk clock.Clock, pub mqtt.Publisher, tracker *status.Tracker, logger *zap.SugaredLogger) *monitor {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &monitor{
		pins:    pins,
		clk:     clk,
		pub:     pub,
		tracker: tracker,
		logger:  logger,
		now:     time.Now,
	}
}

// start builds one button per entry. If any fails, the ones already built
// are torn down and the error names the failing entry.
func (m *monitor) start(entries []config.Button) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, entry := range entries {
		nb, err := m.build(entry)
		if err != nil {
			m.stopLocked()
			return fmt.Errorf("button %s: %w", entry.Name, err)
		}
		m.buttons = append(m.buttons, nb)
	}
	m.logger.Infow("buttons started", "count", len(m.buttons))
	return nil
}

func (m *monitor) build(entry config.Button) (namedButton, error) {
	cfg, err := entry.ButtonConfig()
	if err != nil {
		return namedButton{}, err
	}

	name, pin := entry.Name, entry.Pin
	cfg.OnPress = func() { m.onEvent(name, pin, logic.EventPress) }
	cfg.OnRelease = func() { m.onEvent(name, pin, logic.EventRelease) }

	// The entry exists before edges are registered, so an event confirmed
	// while New returns is still recorded. Its state is seeded afterwards.
	m.tracker.AddButton(status.ButtonInfo{
		Name:       name,
		Pin:        pin,
		Pull:       cfg.Pull.String(),
		ActiveLow:  cfg.ActiveLow,
		DebounceMs: cfg.DebounceWindow.Milliseconds(),
		Dispatch:   cfg.Dispatch.String(),
	}, "")

	btn, err := button.New(cfg, m.pins, m.clk,
		button.WithLogger(m.logger.Named("button").With("button", name)))
	if err != nil {
		m.tracker.RemoveButton(name)
		return namedButton{}, err
	}
	m.tracker.SeedState(name, btn.State())

	return namedButton{entry: entry, btn: btn}, nil
}

// onEvent is the callback body shared by every button.
func (m *monitor) onEvent(name string, pin int, typ logic.EventType) {
	at := m.now()
	m.tracker.RecordEvent(name, typ, at)

	m.logger.Infow("button event", "button", name, "pin", pin, "event", typ)
	if err := m.pub.Publish(mqtt.ButtonEvent{
		Timestamp: at,
		Button:    name,
		Pin:       pin,
		Type:      typ,
	}); err != nil {
		m.logger.Warnw("publish failed", "button", name, "event", typ, "error", err)
	}
}

// stop deinits every button.
func (m *monitor) stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked()
}

func (m *monitor) stopLocked() error {
	var errs []error
	for _, nb := range m.buttons {
		if err := nb.btn.Deinit(); err != nil {
			errs = append(errs, fmt.Errorf("button %s: %w", nb.entry.Name, err))
		}
		m.tracker.SetEnabled(nb.entry.Name, false)
	}
	m.buttons = nil
	return errors.Join(errs...)
}

// reload replaces every button with the entries from cfg.
func (m *monitor) reload(cfg *config.Config) error {
	if err := m.stop(); err != nil {
		m.logger.Warnw("teardown before reload", "error", err)
	}
	m.tracker.Reset()
	return m.start(cfg.Buttons)
}

// refresh copies per-button counters into the tracker.
func (m *monitor) refresh(conn mqtt.ConnectionStatus) {
	m.mu.Lock()
	for _, nb := range m.buttons {
		m.tracker.SetCallbackFailures(nb.entry.Name, nb.btn.CallbackFailures())
		m.tracker.SetEnabled(nb.entry.Name, nb.btn.Enabled())
		if n := nb.btn.Dropped(); n > 0 {
			m.logger.Warnw("events dropped", "button", nb.entry.Name, "count", n)
		}
	}
	m.mu.Unlock()

	if conn != nil {
		m.tracker.SetMQTTConnected(conn.IsConnected())
	}
}

// count returns the number of running buttons.
func (m *monitor) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buttons)
}

// printState samples each configured pin once and prints its normalized
// state without registering for edges.
func printState(w io.Writer, pins gpio.Reader, entries []config.Button) error {
	for _, entry := range entries {
		cfg, err := entry.ButtonConfig()
		if err != nil {
			return fmt.Errorf("button %s: %w", entry.Name, err)
		}
		if err := pins.Configure(cfg.Pin, cfg.Pull); err != nil {
			return fmt.Errorf("button %s: configure pin %d: %w", entry.Name, cfg.Pin, err)
		}
		level, err := pins.ReadLevel(cfg.Pin)
		if err != nil {
			return fmt.Errorf("button %s: read pin %d: %w", entry.Name, cfg.Pin, err)
		}
		state := logic.StateReleased
		if logic.IsPressedFromRaw(level, cfg.ActiveLow) {
			state = logic.StatePressed
		}
		fmt.Fprintf(w, "%s: %s (pin %d %s)\n", entry.Name, state, cfg.Pin, level)
	}
	return nil
}
