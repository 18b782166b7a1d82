// Package core implements the transport legs the connector can run on: a
// local stdio subprocess, the hosted REST surface with its SSE feed, and the
// persistent WebSocket channel. Every leg satisfies Conn; the legs that speak
// the tool protocol natively also satisfy ToolConn.
package core

import (
	"context"
	"encoding/json"

	"github.com/lanonasis/memctl-go/internal/config"
)

// ToolInfo describes one tool the connected server exposes.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Conn is one live transport leg.
type Conn interface {
	// Mode identifies the leg.
	Mode() config.ConnectionMode

	// HealthCheck probes liveness within the caller's deadline.
	HealthCheck(ctx context.Context) error

	// ServerName is whatever the server called itself during the
	// handshake, or empty for legs without one.
	ServerName() string

	// Events delivers server-initiated payloads. Nil when the leg has no
	// push channel.
	Events() <-chan json.RawMessage

	// Done is closed when the leg dies on its own. Nil when the leg
	// cannot detect its own death and relies on health checks.
	Done() <-chan struct{}

	// Close tears the leg down. Idempotent.
	Close() error
}

// ToolConn is a leg that carries tool traffic natively instead of through
// the REST dispatch table.
type ToolConn interface {
	Conn
	CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error)
	ListTools(ctx context.Context) ([]ToolInfo, error)
}
