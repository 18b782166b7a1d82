package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/lanonasis/memctl-go/internal/config"
	"github.com/lanonasis/memctl-go/internal/faults"
	"github.com/lanonasis/memctl-go/internal/transport"
)

// WebSocketOptions configures the persistent channel.
type WebSocketOptions struct {
	URL           string
	Header        http.Header
	ClientName    string
	ClientVersion string
}

// WebSocketConn is the persistent duplex leg. Tool calls and notifications
// share one socket, correlated by request ID.
type WebSocketConn struct {
	ws         *transport.WSConn
	url        string
	serverName string
	logger     *zap.Logger
}

// DialWebSocket upgrades the connection and runs the initialize handshake.
// The session is not usable until the server has answered it.
func DialWebSocket(ctx context.Context, opts WebSocketOptions, logger *zap.Logger) (*WebSocketConn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "connector.ws"))

	ws, err := transport.DialWS(ctx, opts.URL, opts.Header, logger)
	if err != nil {
		return nil, err
	}

	params := map[string]any{
		"name":         opts.ClientName,
		"version":      opts.ClientVersion,
		"capabilities": map[string]any{},
	}
	result, err := ws.Call(ctx, "initialize", params)
	if err != nil {
		_ = ws.Close()
		var frameErr *transport.FrameError
		if errors.As(err, &frameErr) {
			return nil, faults.Wrap(faults.Server, "server rejected the initialize handshake", err)
		}
		return nil, err
	}

	conn := &WebSocketConn{
		ws:         ws,
		url:        opts.URL,
		serverName: serverNameFrom(result),
		logger:     logger,
	}
	logger.Info("WebSocket session established",
		zap.String("url", opts.URL),
		zap.String("server_name", conn.serverName))
	return conn, nil
}

// Mode identifies the leg.
func (wc *WebSocketConn) Mode() config.ConnectionMode {
	return config.ModeWebSocket
}

// ServerName is the name reported in the initialize response.
func (wc *WebSocketConn) ServerName() string {
	return wc.serverName
}

// CallTool invokes a tool over the socket. Error frames come back as
// *transport.FrameError so callers see the server's own code and message.
func (wc *WebSocketConn) CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	return wc.ws.Call(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
}

// ListTools asks the server what it exposes.
func (wc *WebSocketConn) ListTools(ctx context.Context) ([]ToolInfo, error) {
	raw, err := wc.ws.Call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Tools []struct {
			Name        string          `json:"name"`
			Description string          `json:"description"`
			InputSchema json.RawMessage `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, faults.Wrap(faults.Server, "failed to parse tool list", err)
	}
	tools := make([]ToolInfo, 0, len(payload.Tools))
	for _, t := range payload.Tools {
		tools = append(tools, ToolInfo{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return tools, nil
}

// HealthCheck sends an application-level ping on the socket.
func (wc *WebSocketConn) HealthCheck(ctx context.Context) error {
	_, err := wc.ws.Call(ctx, "ping", nil)
	return err
}

// Events delivers notification frames.
func (wc *WebSocketConn) Events() <-chan json.RawMessage {
	return wc.ws.Notifications()
}

// Done is closed when the socket drops.
func (wc *WebSocketConn) Done() <-chan struct{} {
	return wc.ws.Done()
}

// Close hangs up. Idempotent.
func (wc *WebSocketConn) Close() error {
	return wc.ws.Close()
}

func serverNameFrom(result json.RawMessage) string {
	var payload struct {
		ServerInfo struct {
			Name string `json:"name"`
		} `json:"serverInfo"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return ""
	}
	if payload.ServerInfo.Name != "" {
		return payload.ServerInfo.Name
	}
	return payload.Name
}
