// Package types defines the connection state machine shared by the connector
// layers. State changes flow through a Machine that validates transitions and
// publishes them on a bounded event channel, so supervision logic consumes a
// stream instead of registering callbacks.
package types

import (
	"encoding/json"
	"time"
)

// State is the connection lifecycle position.
type State int

const (
	// StateDisconnected means no transport is up and nothing is trying.
	StateDisconnected State = iota

	// StateConnecting means a dial or handshake is in flight.
	StateConnecting

	// StateConnected means the transport is established and healthy.
	StateConnected

	// StateReconnecting means the transport was lost and a recovery cycle
	// is pending or in flight.
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the state as its lowercase name.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// validTransitions is the full transition relation. Anything absent is a
// programming error, not a runtime condition.
var validTransitions = map[State][]State{
	StateDisconnected: {StateConnecting},
	StateConnecting:   {StateConnected, StateDisconnected},
	StateConnected:    {StateReconnecting, StateDisconnected},
	StateReconnecting: {StateConnecting, StateDisconnected},
}

// ValidTransition reports whether from -> to is part of the lifecycle.
func ValidTransition(from, to State) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// EventKind discriminates entries on the event channel.
type EventKind int

const (
	// EventStateChanged reports a lifecycle transition.
	EventStateChanged EventKind = iota

	// EventServerPush carries a server-initiated payload (a WebSocket
	// notification frame or an SSE event).
	EventServerPush
)

func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "state_changed"
	case EventServerPush:
		return "server_push"
	default:
		return "unknown"
	}
}

// Event is one entry on the connection event stream.
type Event struct {
	Kind    EventKind
	From    State
	To      State
	Err     error
	Payload json.RawMessage
	At      time.Time
}

// Info is a point-in-time snapshot of the machine, shaped for status output.
type Info struct {
	State             State      `json:"state"`
	Connected         bool       `json:"connected"`
	RetryCount        int        `json:"retry_count"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	LastHealthCheckAt *time.Time `json:"last_health_check_at,omitempty"`
	LastError         string     `json:"last_error,omitempty"`
}
