// Package status provides a thread-safe status tracker for the button-monitor daemon.
// It is read by HTTP handlers and by the MQTT lifecycle events.
package status

import (
	"sort"
	"sync"
	"time"

	"github.com/sweeney/button-sensor/internal/logic"
)

// Config contains daemon configuration for display.
type Config struct {
	Chip     string
	Broker   string
	HTTPAddr string
}

// ButtonInfo is the static description of one button.
type ButtonInfo struct {
	Name       string
	Pin        int
	Pull       string
	ActiveLow  bool
	DebounceMs int64
	Dispatch   string
}

// ButtonStatus is the live state of one button.
type ButtonStatus struct {
	ButtonInfo
	State            logic.State
	Counts           logic.EventCounts
	LastEvent        logic.EventType
	LastEventAt      time.Time
	CallbackFailures int64
	Enabled          bool
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Buttons       []ButtonStatus
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Button returns the status of the named button.
func (s Snapshot) Button(name string) (ButtonStatus, bool) {
	for _, b := range s.Buttons {
		if b.Name == name {
			return b, true
		}
	}
	return ButtonStatus{}, false
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu        sync.RWMutex
	startTime time.Time
	cfg       Config
	mqtt      bool
	buttons   map[string]*ButtonStatus
	now       func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		startTime: startTime,
		cfg:       cfg,
		buttons:   make(map[string]*ButtonStatus),
		now:       time.Now,
	}
}

// AddButton registers a button with its initial confirmed state.
// Adding a name again replaces the previous entry, counts included.
func (t *Tracker) AddButton(info ButtonInfo, initial logic.State) {
	t.mu.Lock()
	t.buttons[info.Name] = &ButtonStatus{
		ButtonInfo: info,
		State:      initial,
		Enabled:    true,
	}
	t.mu.Unlock()
}

// SeedState sets the initial state of a button that has not recorded any
// event yet. It reports whether the state was applied.
func (t *Tracker) SeedState(name string, state logic.State) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.buttons[name]
	if !ok || b.LastEvent != "" {
		return false
	}
	b.State = state
	return true
}

// RemoveButton forgets a button.
func (t *Tracker) RemoveButton(name string) {
	t.mu.Lock()
	delete(t.buttons, name)
	t.mu.Unlock()
}

// Reset forgets every button.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.buttons = make(map[string]*ButtonStatus)
	t.mu.Unlock()
}

// RecordEvent applies a confirmed transition for the named button.
// Called from button callbacks, possibly concurrently.
func (t *Tracker) RecordEvent(name string, event logic.EventType, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.buttons[name]
	if !ok {
		return
	}
	b.LastEvent = event
	b.LastEventAt = at
	switch event {
	case logic.EventPress:
		b.State = logic.StatePressed
		b.Counts.Press++
	case logic.EventRelease:
		b.State = logic.StateReleased
		b.Counts.Release++
	}
}

// SetCallbackFailures records the callback failure count for a button.
func (t *Tracker) SetCallbackFailures(name string, n int64) {
	t.mu.Lock()
	if b, ok := t.buttons[name]; ok {
		b.CallbackFailures = n
	}
	t.mu.Unlock()
}

// SetEnabled records whether a button is still processing edges.
func (t *Tracker) SetEnabled(name string, enabled bool) {
	t.mu.Lock()
	if b, ok := t.buttons[name]; ok {
		b.Enabled = enabled
	}
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.mqtt = connected
	t.mu.Unlock()
}

// SetConfig replaces the displayed config, e.g. after a reload.
func (t *Tracker) SetConfig(cfg Config) {
	t.mu.Lock()
	t.cfg = cfg
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state with buttons
// sorted by name. The Now field is set at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := Snapshot{
		StartTime:     t.startTime,
		MQTTConnected: t.mqtt,
		Config:        t.cfg,
		Buttons:       make([]ButtonStatus, 0, len(t.buttons)),
	}
	for _, b := range t.buttons {
		s.Buttons = append(s.Buttons, *b)
	}
	now := t.now
	t.mu.RUnlock()

	sort.Slice(s.Buttons, func(i, j int) bool { return s.Buttons[i].Name < s.Buttons[j].Name })
	s.Now = now()
	return s
}
