package main

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/button-sensor/internal/clock"
	"github.com/sweeney/button-sensor/internal/config"
	"github.com/sweeney/button-sensor/internal/gpio"
	"github.com/sweeney/button-sensor/internal/logic"
	"github.com/sweeney/button-sensor/internal/mqtt"
	"github.com/sweeney/button-sensor/internal/status"
)

var testNow = time.Date(2026, 1, 3, 22, 15, 0, 0, time.UTC)

type harness struct {
	chip    *gpio.FakeChip
	clk     *clock.Fake
	pub     *mqtt.FakePublisher
	tracker *status.Tracker
	m       *monitor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		// doorbell on 17 is active-low and idles HIGH; garage on 27 idles LOW.
		chip:    gpio.NewFakeChip(map[int]logic.Level{17: logic.High, 27: logic.Low}),
		clk:     clock.NewFake(1000),
		pub:     mqtt.NewFakePublisher(),
		tracker: status.NewTracker(testNow, status.Config{Chip: "gpiochip0"}),
	}
	h.m = newMonitor(h.chip, h.clk, h.pub, h.tracker, nil)
	h.m.now = func() time.Time { return testNow }
	t.Cleanup(func() { h.m.stop() })
	return h
}

func entries() []config.Button {
	no := false
	return []config.Button{
		{Name: "doorbell", Pin: 17},
		{Name: "garage", Pin: 27, Pull: "down", ActiveLow: &no, DebounceMs: 20},
	}
}

func TestMonitorStart(t *testing.T) {
	h := newHarness(t)
	if err := h.m.start(entries()); err != nil {
		t.Fatalf("start: %v", err)
	}

	if h.m.count() != 2 {
		t.Fatalf("count = %d, want 2", h.m.count())
	}
	if !h.chip.IsRegistered(17) || !h.chip.IsRegistered(27) {
		t.Error("expected both pins registered")
	}
	if pull, _ := h.chip.Pull(27); pull != gpio.PullDown {
		t.Errorf("pin 27 pull = %v, want down", pull)
	}

	snap := h.tracker.Snapshot()
	if len(snap.Buttons) != 2 {
		t.Fatalf("tracker has %d buttons", len(snap.Buttons))
	}
	g, _ := snap.Button("garage")
	if g.State != logic.StateReleased || g.DebounceMs != 20 || g.ActiveLow || g.Pull != "down" {
		t.Errorf("garage = %+v", g)
	}

	events, _ := h.pub.Snapshot()
	if len(events) != 0 {
		t.Errorf("expected no events on startup, got %d", len(events))
	}
}

func TestMonitorPublishesConfirmedEvents(t *testing.T) {
	h := newHarness(t)
	if err := h.m.start(entries()); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Doorbell is active-low: LOW means pressed.
	h.chip.Set(17, logic.Low)
	h.clk.Advance(10 * time.Millisecond)
	h.chip.Set(17, logic.High)
	h.clk.Advance(5 * time.Millisecond)
	h.chip.Set(17, logic.Low)
	h.clk.Advance(50 * time.Millisecond)

	h.chip.Set(27, logic.High)
	h.clk.Advance(20 * time.Millisecond)

	h.chip.Set(17, logic.High)
	h.clk.Advance(50 * time.Millisecond)

	events, _ := h.pub.Snapshot()
	want := []struct {
		button string
		typ    logic.EventType
	}{
		{"doorbell", logic.EventPress},
		{"garage", logic.EventPress},
		{"doorbell", logic.EventRelease},
	}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(events), len(want), events)
	}
	for i, w := range want {
		if events[i].Button != w.button || events[i].Type != w.typ {
			t.Errorf("event %d = %s %s, want %s %s", i, events[i].Button, events[i].Type, w.button, w.typ)
		}
		if !events[i].Timestamp.Equal(testNow) {
			t.Errorf("event %d timestamp = %v", i, events[i].Timestamp)
		}
	}
	if events[1].Pin != 27 {
		t.Errorf("garage pin = %d", events[1].Pin)
	}

	snap := h.tracker.Snapshot()
	d, _ := snap.Button("doorbell")
	if d.State != logic.StateReleased || d.Counts.Press != 1 || d.Counts.Release != 1 {
		t.Errorf("doorbell = %+v", d)
	}
	g, _ := snap.Button("garage")
	if g.State != logic.StatePressed || g.LastEvent != logic.EventPress {
		t.Errorf("garage = %+v", g)
	}
}

// pressOnRegister confirms a press before Register returns to the button.
type pressOnRegister struct {
	*gpio.FakeChip
	clk *clock.Fake
}

func (p pressOnRegister) Register(pin int, rising, falling bool, h gpio.Handler) (gpio.Registration, error) {
	reg, err := p.FakeChip.Register(pin, rising, falling, h)
	if err == nil {
		p.FakeChip.Set(pin, logic.Low)
		p.clk.Advance(50 * time.Millisecond)
	}
	return reg, err
}

func TestMonitorRecordsEventDuringStart(t *testing.T) {
	h := newHarness(t)
	h.m.pins = pressOnRegister{FakeChip: h.chip, clk: h.clk}

	if err := h.m.start([]config.Button{{Name: "doorbell", Pin: 17}}); err != nil {
		t.Fatalf("start: %v", err)
	}

	d, ok := h.tracker.Snapshot().Button("doorbell")
	if !ok {
		t.Fatal("doorbell missing from tracker")
	}
	if d.State != logic.StatePressed || d.Counts.Press != 1 || d.LastEvent != logic.EventPress {
		t.Errorf("doorbell = %+v, want the press recorded", d)
	}
	events, _ := h.pub.Snapshot()
	if len(events) != 1 || events[0].Type != logic.EventPress {
		t.Errorf("events = %+v", events)
	}
}

func TestMonitorPublishErrorDoesNotStopButton(t *testing.T) {
	h := newHarness(t)
	h.pub.PublishError = errors.New("broker down")
	if err := h.m.start(entries()); err != nil {
		t.Fatalf("start: %v", err)
	}

	h.chip.Set(17, logic.Low)
	h.clk.Advance(50 * time.Millisecond)
	h.chip.Set(17, logic.High)
	h.clk.Advance(50 * time.Millisecond)

	d, _ := h.tracker.Snapshot().Button("doorbell")
	if d.Counts.Press != 1 || d.Counts.Release != 1 {
		t.Errorf("counts = %+v, want 1/1", d.Counts)
	}
}

func TestMonitorStartFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	bad := append(entries(), config.Button{Name: "broken", Pin: 5, Pull: "down"})

	err := h.m.start(bad)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "button broken") {
		t.Errorf("error %q does not name the button", err)
	}
	if h.m.count() != 0 {
		t.Errorf("count = %d after failed start", h.m.count())
	}
	if h.chip.IsRegistered(17) || h.chip.IsRegistered(27) {
		t.Error("earlier buttons were not deregistered")
	}
	if _, ok := h.tracker.Snapshot().Button("broken"); ok {
		t.Error("failed button left in tracker")
	}
}

func TestMonitorStop(t *testing.T) {
	h := newHarness(t)
	if err := h.m.start(entries()); err != nil {
		t.Fatalf("start: %v", err)
	}

	h.chip.Set(17, logic.Low)
	if err := h.m.stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	h.clk.Advance(100 * time.Millisecond)

	events, _ := h.pub.Snapshot()
	if len(events) != 0 {
		t.Errorf("got %d events after stop", len(events))
	}
	if h.chip.Deregistered != 2 {
		t.Errorf("Deregistered = %d, want 2", h.chip.Deregistered)
	}
	d, _ := h.tracker.Snapshot().Button("doorbell")
	if d.Enabled {
		t.Error("doorbell still shown as enabled")
	}
}

func TestMonitorReload(t *testing.T) {
	h := newHarness(t)
	if err := h.m.start(entries()); err != nil {
		t.Fatalf("start: %v", err)
	}

	next := &config.Config{Buttons: []config.Button{{Name: "porch", Pin: 22}}}
	h.chip.Set(22, logic.High)
	if err := h.m.reload(next); err != nil {
		t.Fatalf("reload: %v", err)
	}

	if h.chip.IsRegistered(17) || h.chip.IsRegistered(27) {
		t.Error("old buttons still registered")
	}
	if !h.chip.IsRegistered(22) {
		t.Error("new button not registered")
	}
	snap := h.tracker.Snapshot()
	if len(snap.Buttons) != 1 || snap.Buttons[0].Name != "porch" {
		t.Errorf("tracker buttons = %+v", snap.Buttons)
	}
}

func TestMonitorRefresh(t *testing.T) {
	h := newHarness(t)
	if err := h.m.start(entries()); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.pub.Connected = true

	h.m.refresh(h.pub)

	snap := h.tracker.Snapshot()
	if !snap.MQTTConnected {
		t.Error("MQTTConnected not refreshed")
	}
	for _, b := range snap.Buttons {
		if !b.Enabled || b.CallbackFailures != 0 {
			t.Errorf("%s = %+v", b.Name, b)
		}
	}
}

func TestRunLoopShutdown(t *testing.T) {
	for _, tt := range []struct {
		sig  os.Signal
		want string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
	} {
		t.Run(tt.want, func(t *testing.T) {
			h := newHarness(t)
			if err := h.m.start(entries()); err != nil {
				t.Fatalf("start: %v", err)
			}

			sig := make(chan os.Signal, 1)
			sig <- tt.sig
			if err := runLoop(h.m, h.pub, &config.Config{}, nil, nil, sig); err != nil {
				t.Fatalf("runLoop: %v", err)
			}

			_, sys := h.pub.Snapshot()
			if len(sys) != 1 {
				t.Fatalf("got %d system events, want 1", len(sys))
			}
			if sys[0].Event != "SHUTDOWN" || sys[0].Reason != tt.want || !sys[0].Retained {
				t.Errorf("system event = %+v", sys[0])
			}
			if !strings.Contains(string(sys[0].RawPayload), `"reason":"`+tt.want+`"`) {
				t.Errorf("payload missing reason: %s", sys[0].RawPayload)
			}
			if h.m.count() != 0 {
				t.Error("buttons still running after shutdown")
			}
		})
	}
}

func TestRunLoopReload(t *testing.T) {
	h := newHarness(t)
	if err := h.m.start(entries()); err != nil {
		t.Fatalf("start: %v", err)
	}

	reloads := make(chan *config.Config, 1)
	reloads <- &config.Config{Buttons: []config.Button{{Name: "porch", Pin: 22}}}
	sig := make(chan os.Signal)

	done := make(chan error, 1)
	go func() { done <- runLoop(h.m, h.pub, &config.Config{}, reloads, nil, sig) }()

	deadline := time.After(2 * time.Second)
	for {
		_, sys := h.pub.Snapshot()
		if len(sys) > 0 {
			if sys[0].Event != "RELOAD" || sys[0].Retained {
				t.Errorf("system event = %+v", sys[0])
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("no RELOAD event")
		case <-time.After(5 * time.Millisecond):
		}
	}

	sig <- syscall.SIGTERM
	if err := <-done; err != nil {
		t.Fatalf("runLoop: %v", err)
	}
	if h.chip.IsRegistered(22) {
		t.Error("porch still registered after shutdown")
	}
}

func TestRunLoopTickRefreshes(t *testing.T) {
	h := newHarness(t)
	h.pub.Connected = true

	tick := make(chan time.Time, 1)
	tick <- testNow
	sig := make(chan os.Signal)

	done := make(chan error, 1)
	go func() { done <- runLoop(h.m, h.pub, &config.Config{}, nil, tick, sig) }()

	deadline := time.After(2 * time.Second)
	for !h.tracker.Snapshot().MQTTConnected {
		select {
		case <-deadline:
			t.Fatal("tick did not refresh MQTT status")
		case <-time.After(5 * time.Millisecond):
		}
	}

	sig <- syscall.SIGINT
	if err := <-done; err != nil {
		t.Fatalf("runLoop: %v", err)
	}
}

func TestPrintState(t *testing.T) {
	chip := gpio.NewFakeChip(map[int]logic.Level{17: logic.Low, 27: logic.Low})
	var buf bytes.Buffer

	if err := printState(&buf, chip, entries()); err != nil {
		t.Fatalf("printState: %v", err)
	}

	want := "doorbell: PRESSED (pin 17 LOW)\ngarage: RELEASED (pin 27 LOW)\n"
	if buf.String() != want {
		t.Errorf("output:\n%s\nwant:\n%s", buf.String(), want)
	}
	if chip.IsRegistered(17) || chip.IsRegistered(27) {
		t.Error("printState registered for edges")
	}
}

func TestPrintStateReadError(t *testing.T) {
	chip := gpio.NewFakeChip(nil)
	chip.ReadError = errors.New("line busy")

	err := printState(&bytes.Buffer{}, chip, entries())
	if err == nil || !strings.Contains(err.Error(), "line busy") {
		t.Errorf("err = %v", err)
	}
}

func TestSignalName(t *testing.T) {
	if got := signalName(syscall.SIGHUP); got != "UNKNOWN" {
		t.Errorf("signalName(SIGHUP) = %q", got)
	}
}

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"", "debug", "info", "warn", "error"} {
		if _, err := newLogger(level); err != nil {
			t.Errorf("newLogger(%q): %v", level, err)
		}
	}
	if _, err := newLogger("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}
