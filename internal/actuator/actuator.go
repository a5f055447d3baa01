// Package actuator is the boundary with the home-automation host: it
// commands the pump over MQTT, publishes observability gauges, and
// delivers inbound presence and override events. A recording fake backs
// the tests.
package actuator

import (
	"strings"
	"time"
)

// Commander commands the actuator and publishes status gauges.
type Commander interface {
	// SetPump commands the pump relay on or off.
	SetPump(on bool) error

	// PublishStatus publishes the retained status gauges consumed by
	// the host's dashboard pipeline.
	PublishStatus(status Status) error

	Close() error
}

// Status is the observable controller state published after every
// transition.
type Status struct {
	State          string
	PriorityActive bool
	RunSeconds     int
	CycleCount     int
}

// EventKind discriminates inbound host events.
type EventKind string

const (
	EventPresence EventKind = "presence"
	EventEnable   EventKind = "enable"
)

// Event is one inbound host event: a per-room presence change or the
// manual enable/disable control.
type Event struct {
	Kind   EventKind
	Room   string
	Active bool
	At     time.Time
}

// FormatBool renders a boolean as the ON/OFF payload convention.
func FormatBool(on bool) string {
	if on {
		return "ON"
	}

	return "OFF"
}

// ParseBool accepts the payload spellings the host side emits.
func ParseBool(payload string) (bool, bool) {
	switch strings.ToUpper(strings.TrimSpace(payload)) {
	case "ON", "TRUE", "1":
		return true, true
	case "OFF", "FALSE", "0":
		return false, true
	default:
		return false, false
	}
}
