// Package mqtt publishes confirmed button events over MQTT, with an
// abstraction for testing.
package mqtt

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/sweeney/button-sensor/internal/logic"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "home/buttons"

// ButtonEvent is one confirmed transition of a named button.
type ButtonEvent struct {
	Timestamp time.Time
	Button    string
	Pin       int
	Type      logic.EventType
}

// State returns the confirmed state the event leads to.
func (e ButtonEvent) State() logic.State {
	if e.Type == logic.EventPress {
		return logic.StatePressed
	}
	return logic.StateReleased
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a button event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event ButtonEvent) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, reload).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "RELOAD"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// EventTopic returns the topic for a button's events.
func EventTopic(prefix, button string) string {
	return strings.TrimSuffix(prefix, "/") + "/" + button + "/events"
}

// SystemTopic returns the topic for lifecycle events.
func SystemTopic(prefix string) string {
	return strings.TrimSuffix(prefix, "/") + "/system"
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Button ButtonPayload `json:"button"`
}

// ButtonPayload contains the button event details.
type ButtonPayload struct {
	Name      string `json:"name"`
	Pin       int    `json:"pin"`
	Event     string `json:"event"`
	State     string `json:"state"`
	Timestamp string `json:"timestamp"`
}

// FormatPayload creates the JSON payload for a button event.
func FormatPayload(event ButtonEvent) ([]byte, error) {
	payload := Payload{
		Button: ButtonPayload{
			Name:      event.Button,
			Pin:       event.Pin,
			Event:     string(event.Type),
			State:     string(event.State()),
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339Nano),
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp,omitempty"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	inner := SystemPayloadInner{
		Event:  event.Event,
		Reason: event.Reason,
	}
	if !event.Timestamp.IsZero() {
		inner.Timestamp = event.Timestamp.UTC().Format(time.RFC3339)
	}
	return json.Marshal(SystemPayload{System: inner})
}
