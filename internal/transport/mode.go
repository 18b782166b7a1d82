// Package transport holds the low-level connection primitives shared by the
// connector legs: mode selection, the WebSocket frame protocol, and the SSE
// notification stream.
package transport

import (
	"fmt"

	"github.com/lanonasis/memctl-go/internal/config"
	"github.com/lanonasis/memctl-go/internal/faults"
)

// ParseMode validates a user-supplied mode string.
func ParseMode(s string) (config.ConnectionMode, error) {
	switch config.ConnectionMode(s) {
	case config.ModeLocal, config.ModeRemote, config.ModeWebSocket:
		return config.ConnectionMode(s), nil
	case "":
		return "", nil
	default:
		return "", faults.New(faults.Validation,
			fmt.Sprintf("unknown connection mode %q (expected local, remote, or websocket)", s))
	}
}

// ResolveMode picks the effective connection mode: explicit option, then the
// CLI flag, then the persisted preference, then the websocket default.
func ResolveMode(option, flag, persisted config.ConnectionMode) config.ConnectionMode {
	for _, m := range []config.ConnectionMode{option, flag, persisted} {
		if m != "" {
			return m
		}
	}
	return config.DefaultMode
}
