package status

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/button-sensor/internal/logic"
)

var doorbell = ButtonInfo{Name: "doorbell", Pin: 17, Pull: "up", ActiveLow: true, DebounceMs: 50, Dispatch: "inline"}

func fixedTracker(start, now time.Time) *Tracker {
	tr := NewTracker(start, Config{Chip: "gpiochip0", Broker: "tcp://localhost:1883", HTTPAddr: ":8080"})
	tr.now = func() time.Time { return now }
	return tr
}

func TestNewTracker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := NewTracker(start, Config{Broker: "tcp://localhost:1883", HTTPAddr: ":8080"})

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Config.HTTPAddr != ":8080" {
		t.Errorf("Config.HTTPAddr: got %q, want %q", snap.Config.HTTPAddr, ":8080")
	}
	if len(snap.Buttons) != 0 {
		t.Errorf("expected no buttons, got %d", len(snap.Buttons))
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
}

func TestRecordEvent(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.AddButton(doorbell, logic.StateReleased)

	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tr.RecordEvent("doorbell", logic.EventPress, at)

	b, ok := tr.Snapshot().Button("doorbell")
	if !ok {
		t.Fatal("doorbell missing from snapshot")
	}
	if b.State != logic.StatePressed {
		t.Errorf("State: got %s, want PRESSED", b.State)
	}
	if b.Counts.Press != 1 || b.Counts.Release != 0 {
		t.Errorf("Counts: got %+v", b.Counts)
	}
	if b.LastEvent != logic.EventPress || !b.LastEventAt.Equal(at) {
		t.Errorf("LastEvent: got %s at %v", b.LastEvent, b.LastEventAt)
	}

	tr.RecordEvent("doorbell", logic.EventRelease, at.Add(time.Second))
	b, _ = tr.Snapshot().Button("doorbell")
	if b.State != logic.StateReleased || b.Counts.Release != 1 {
		t.Errorf("after release: state=%s counts=%+v", b.State, b.Counts)
	}
}

func TestRecordEventUnknownButton(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.RecordEvent("ghost", logic.EventPress, time.Now())
	if len(tr.Snapshot().Buttons) != 0 {
		t.Error("unknown button should not be created by RecordEvent")
	}
}

func TestSeedState(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.AddButton(doorbell, "")

	if !tr.SeedState("doorbell", logic.StateReleased) {
		t.Error("SeedState on a fresh button should apply")
	}
	b, _ := tr.Snapshot().Button("doorbell")
	if b.State != logic.StateReleased {
		t.Errorf("State: got %q, want RELEASED", b.State)
	}

	tr.RecordEvent("doorbell", logic.EventPress, time.Now())
	if tr.SeedState("doorbell", logic.StateReleased) {
		t.Error("SeedState after an event should not apply")
	}
	b, _ = tr.Snapshot().Button("doorbell")
	if b.State != logic.StatePressed || b.Counts.Press != 1 {
		t.Errorf("seed overwrote recorded event: %+v", b)
	}

	if tr.SeedState("ghost", logic.StatePressed) {
		t.Error("SeedState on an unknown button should not apply")
	}
}

func TestSnapshotSortedAndIsolated(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.AddButton(ButtonInfo{Name: "zeta", Pin: 5}, logic.StateReleased)
	tr.AddButton(ButtonInfo{Name: "alpha", Pin: 6}, logic.StatePressed)

	snap := tr.Snapshot()
	if len(snap.Buttons) != 2 || snap.Buttons[0].Name != "alpha" || snap.Buttons[1].Name != "zeta" {
		t.Fatalf("expected sorted [alpha zeta], got %+v", snap.Buttons)
	}

	tr.RecordEvent("alpha", logic.EventRelease, time.Now())
	if snap.Buttons[0].State != logic.StatePressed {
		t.Error("snapshot mutated after later update")
	}
}

func TestRemoveAndReset(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.AddButton(ButtonInfo{Name: "a"}, logic.StateReleased)
	tr.AddButton(ButtonInfo{Name: "b"}, logic.StateReleased)

	tr.RemoveButton("a")
	if _, ok := tr.Snapshot().Button("a"); ok {
		t.Error("a should be removed")
	}
	tr.Reset()
	if len(tr.Snapshot().Buttons) != 0 {
		t.Error("Reset should clear all buttons")
	}
}

func TestSetters(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.AddButton(doorbell, logic.StateReleased)

	tr.SetMQTTConnected(true)
	tr.SetCallbackFailures("doorbell", 3)
	tr.SetEnabled("doorbell", false)
	tr.SetConfig(Config{Broker: "tcp://other:1883"})

	snap := tr.Snapshot()
	b, _ := snap.Button("doorbell")
	if !snap.MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}
	if b.CallbackFailures != 3 {
		t.Errorf("CallbackFailures: got %d, want 3", b.CallbackFailures)
	}
	if b.Enabled {
		t.Error("expected Enabled=false")
	}
	if snap.Config.Broker != "tcp://other:1883" {
		t.Errorf("Config.Broker: got %q", snap.Config.Broker)
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.AddButton(doorbell, logic.StateReleased)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.RecordEvent("doorbell", logic.EventPress, time.Now())
				tr.SetMQTTConnected(j%2 == 0)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = tr.Snapshot()
			}
		}()
	}
	wg.Wait()

	b, _ := tr.Snapshot().Button("doorbell")
	if b.Counts.Press != 1000 {
		t.Errorf("Press count: got %d, want 1000", b.Counts.Press)
	}
}

func TestUptime(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{StartTime: start, Now: start.Add(90 * time.Second)}
	if snap.Uptime() != 90*time.Second {
		t.Errorf("Uptime: got %v, want 90s", snap.Uptime())
	}
}

func TestFormatJSON(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := fixedTracker(start, start.Add(65*time.Second))
	tr.AddButton(doorbell, logic.StateReleased)
	tr.RecordEvent("doorbell", logic.EventPress, start.Add(10*time.Second))
	tr.SetMQTTConnected(true)

	var sj StatusJSON
	data, err := FormatJSON(tr.Snapshot())
	if err != nil {
		t.Fatalf("FormatJSON: %v", err)
	}
	if err := json.Unmarshal(data, &sj); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if sj.Status.Event != "" {
		t.Errorf("Event should be empty for web JSON, got %q", sj.Status.Event)
	}
	if sj.Status.UptimeSeconds != 65 {
		t.Errorf("UptimeSeconds: got %d, want 65", sj.Status.UptimeSeconds)
	}
	if sj.Status.StartTime != "2026-01-01T00:00:00Z" {
		t.Errorf("StartTime: got %q", sj.Status.StartTime)
	}
	if !sj.Status.MQTT.Connected || sj.Status.MQTT.Broker != "tcp://localhost:1883" {
		t.Errorf("MQTT: got %+v", sj.Status.MQTT)
	}
	if len(sj.Status.Buttons) != 1 {
		t.Fatalf("expected 1 button, got %d", len(sj.Status.Buttons))
	}
	b := sj.Status.Buttons[0]
	if b.Name != "doorbell" || b.Pin != 17 || b.State != "PRESSED" {
		t.Errorf("button: got %+v", b)
	}
	if b.Presses != 1 || b.Releases != 0 {
		t.Errorf("counts: got presses=%d releases=%d", b.Presses, b.Releases)
	}
	if b.LastEvent != "PRESS" || b.LastEventAt != "2026-01-01T00:00:10Z" {
		t.Errorf("last event: got %q at %q", b.LastEvent, b.LastEventAt)
	}
}

func TestFormatJSONUnknownState(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.AddButton(doorbell, "")

	var sj StatusJSON
	data, err := FormatJSON(tr.Snapshot())
	if err != nil {
		t.Fatalf("FormatJSON: %v", err)
	}
	if err := json.Unmarshal(data, &sj); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if sj.Status.Buttons[0].State != "UNKNOWN" {
		t.Errorf("State: got %q, want UNKNOWN", sj.Status.Buttons[0].State)
	}
	if sj.Status.Buttons[0].LastEventAt != "" {
		t.Errorf("LastEventAt should be omitted, got %q", sj.Status.Buttons[0].LastEventAt)
	}
}

func TestFormatStatusEvent(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := fixedTracker(start, start)

	var sj StatusJSON
	data, err := FormatStatusEvent(tr.Snapshot(), "SHUTDOWN", "SIGTERM")
	if err != nil {
		t.Fatalf("FormatStatusEvent: %v", err)
	}
	if err := json.Unmarshal(data, &sj); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if sj.Status.Event != "SHUTDOWN" || sj.Status.Reason != "SIGTERM" {
		t.Errorf("event/reason: got %q/%q", sj.Status.Event, sj.Status.Reason)
	}
	if sj.Status.Buttons == nil {
		t.Error("buttons should be an empty array, not null")
	}
}

func TestFormatButtonJSON(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.AddButton(doorbell, logic.StateReleased)
	tr.SetCallbackFailures("doorbell", 2)
	b, _ := tr.Snapshot().Button("doorbell")

	data, err := FormatButtonJSON(b)
	if err != nil {
		t.Fatalf("FormatButtonJSON: %v", err)
	}
	var bj ButtonJSON
	if err := json.Unmarshal(data, &bj); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if bj.Name != "doorbell" || bj.State != "RELEASED" || bj.CallbackFailures != 2 || bj.LastEventAt != "" {
		t.Errorf("got %+v", bj)
	}
}
