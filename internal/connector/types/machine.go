package types

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lanonasis/memctl-go/internal/faults"
)

// eventBuffer bounds the event channel. A consumer that falls behind loses
// events; publishers never block.
const eventBuffer = 32

// Machine tracks connection state with validated transitions. All methods
// are safe for concurrent use.
type Machine struct {
	mu              sync.RWMutex
	state           State
	lastErr         error
	retryCount      int
	startedAt       *time.Time
	lastHealthCheck *time.Time

	events  chan Event
	dropped int64

	logger *zap.Logger
}

// NewMachine starts in StateDisconnected.
func NewMachine(logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		state:  StateDisconnected,
		events: make(chan Event, eventBuffer),
		logger: logger.With(zap.String("component", "connector.state")),
	}
}

// State returns the current lifecycle position.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Events is the bounded stream of transitions and server pushes.
func (m *Machine) Events() <-chan Event {
	return m.events
}

// TransitionTo moves the machine along the lifecycle. Invalid transitions
// are rejected; they indicate a supervision bug, not a network condition.
func (m *Machine) TransitionTo(to State, cause error) error {
	m.mu.Lock()
	from := m.state
	if from == to {
		m.mu.Unlock()
		return nil
	}
	if !ValidTransition(from, to) {
		m.mu.Unlock()
		return faults.Newf(faults.Validation, "invalid state transition %s -> %s", from, to)
	}

	m.state = to
	switch to {
	case StateConnected:
		now := time.Now()
		m.startedAt = &now
		m.lastErr = nil
		m.retryCount = 0
	case StateDisconnected:
		m.startedAt = nil
		if cause != nil {
			m.lastErr = cause
		}
	default:
		if cause != nil {
			m.lastErr = cause
		}
	}
	m.mu.Unlock()

	m.logger.Debug("Connection state changed",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.Error(cause))
	m.publish(Event{Kind: EventStateChanged, From: from, To: to, Err: cause, At: time.Now()})
	return nil
}

// RecordRetry bumps the retry counter for status reporting.
func (m *Machine) RecordRetry() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retryCount++
}

// RecordHealthCheck stamps a successful probe.
func (m *Machine) RecordHealthCheck() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.lastHealthCheck = &now
}

// PublishPayload forwards a server-initiated payload to the event stream.
func (m *Machine) PublishPayload(payload []byte) {
	m.publish(Event{Kind: EventServerPush, Payload: payload, At: time.Now()})
}

// Info snapshots the machine for status output.
func (m *Machine) Info() Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info := Info{
		State:      m.state,
		Connected:  m.state == StateConnected,
		RetryCount: m.retryCount,
	}
	if m.startedAt != nil {
		t := *m.startedAt
		info.StartedAt = &t
	}
	if m.lastHealthCheck != nil {
		t := *m.lastHealthCheck
		info.LastHealthCheckAt = &t
	}
	if m.lastErr != nil {
		info.LastError = m.lastErr.Error()
	}
	return info
}

// LastError returns the most recent failure, if any.
func (m *Machine) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

func (m *Machine) publish(ev Event) {
	select {
	case m.events <- ev:
	default:
		m.mu.Lock()
		m.dropped++
		n := m.dropped
		m.mu.Unlock()
		if n == 1 || n%100 == 0 {
			m.logger.Warn("Event stream full, dropping events", zap.Int64("dropped", n))
		}
	}
}

// Describe renders the machine for log fields.
func (m *Machine) Describe() string {
	info := m.Info()
	if info.LastError != "" {
		return fmt.Sprintf("%s (retries=%d, last error: %s)", info.State, info.RetryCount, info.LastError)
	}
	return fmt.Sprintf("%s (retries=%d)", info.State, info.RetryCount)
}
