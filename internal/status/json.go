package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Buttons       []ButtonJSON `json:"buttons"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Config        ConfigJSON   `json:"config"`
}

// ButtonJSON is the JSON representation of one button.
type ButtonJSON struct {
	Name             string `json:"name"`
	Pin              int    `json:"pin"`
	State            string `json:"state"`
	Enabled          bool   `json:"enabled"`
	Pull             string `json:"pull"`
	ActiveLow        bool   `json:"active_low"`
	DebounceMs       int64  `json:"debounce_ms"`
	Dispatch         string `json:"dispatch"`
	Presses          int    `json:"presses"`
	Releases         int    `json:"releases"`
	LastEvent        string `json:"last_event,omitempty"`
	LastEventAt      string `json:"last_event_at,omitempty"`
	CallbackFailures int64  `json:"callback_failures"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Chip     string `json:"chip"`
	Broker   string `json:"broker"`
	HTTPAddr string `json:"http_addr"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Buttons:       make([]ButtonJSON, 0, len(snap.Buttons)),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			Chip:     snap.Config.Chip,
			Broker:   snap.Config.Broker,
			HTTPAddr: snap.Config.HTTPAddr,
		},
	}

	for _, b := range snap.Buttons {
		inner.Buttons = append(inner.Buttons, buttonJSON(b))
	}
	return inner
}

func buttonJSON(b ButtonStatus) ButtonJSON {
	state := string(b.State)
	if state == "" {
		state = "UNKNOWN"
	}
	bj := ButtonJSON{
		Name:             b.Name,
		Pin:              b.Pin,
		State:            state,
		Enabled:          b.Enabled,
		Pull:             b.Pull,
		ActiveLow:        b.ActiveLow,
		DebounceMs:       b.DebounceMs,
		Dispatch:         b.Dispatch,
		Presses:          b.Counts.Press,
		Releases:         b.Counts.Release,
		LastEvent:        string(b.LastEvent),
		CallbackFailures: b.CallbackFailures,
	}
	if !b.LastEventAt.IsZero() {
		bj.LastEventAt = b.LastEventAt.UTC().Format(time.RFC3339)
	}
	return bj
}

// FormatButtonJSON returns the JSON document for a single button.
func FormatButtonJSON(b ButtonStatus) ([]byte, error) {
	return json.MarshalIndent(buttonJSON(b), "", "  ")
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) ([]byte, error) {
	return json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) ([]byte, error) {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	return json.Marshal(StatusJSON{Status: inner})
}
