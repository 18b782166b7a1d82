package core

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lanonasis/memctl-go/internal/config"
	"github.com/lanonasis/memctl-go/internal/restapi"
	"github.com/lanonasis/memctl-go/internal/transport"
)

// remoteHealthPath is probed on connect and by the health monitor.
const remoteHealthPath = "/health"

// remoteDialTimeout bounds the reachability probe so a black-holed host
// cannot stall the connect sequence.
const remoteDialTimeout = 5 * time.Second

// RemoteOptions configures the hosted leg.
type RemoteOptions struct {
	MCPBase string
	SSEBase string
	Scope   string
	Headers restapi.HeaderSource

	// Token rides the SSE URL as a query parameter, which is how the feed
	// authenticates stream consumers.
	Token string
}

// RemoteConn pairs the hosted REST surface with its one-way SSE feed. Tool
// invocations do not travel through this leg; the dispatch layer maps them
// onto REST calls.
type RemoteConn struct {
	rest   *restapi.Client
	sse    *transport.SSEStream
	logger *zap.Logger

	closeOnce sync.Once
}

// DialRemote probes the health endpoint, then subscribes to the event feed.
// Both must succeed for the leg to count as connected.
func DialRemote(ctx context.Context, opts RemoteOptions, logger *zap.Logger) (*RemoteConn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "connector.remote"))

	rest := restapi.NewClient(opts.MCPBase, opts.Scope, opts.Headers, logger)

	probeCtx, cancel := context.WithTimeout(ctx, remoteDialTimeout)
	defer cancel()
	if err := rest.Get(probeCtx, remoteHealthPath, nil); err != nil {
		return nil, err
	}

	sse, err := transport.OpenSSE(ctx, opts.SSEBase, opts.Token, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("Remote session established", zap.String("base", opts.MCPBase))
	return &RemoteConn{rest: rest, sse: sse, logger: logger}, nil
}

// Mode identifies the leg.
func (rc *RemoteConn) Mode() config.ConnectionMode {
	return config.ModeRemote
}

// ServerName is empty; the hosted surface has no handshake.
func (rc *RemoteConn) ServerName() string {
	return ""
}

// HealthCheck probes the hosted health endpoint.
func (rc *RemoteConn) HealthCheck(ctx context.Context) error {
	return rc.rest.Get(ctx, remoteHealthPath, nil)
}

// Events delivers SSE payloads.
func (rc *RemoteConn) Events() <-chan json.RawMessage {
	return rc.sse.Events()
}

// Done is closed when the event stream drops.
func (rc *RemoteConn) Done() <-chan struct{} {
	return rc.sse.Done()
}

// Close tears the event stream down. Idempotent.
func (rc *RemoteConn) Close() error {
	rc.closeOnce.Do(func() {
		_ = rc.sse.Close()
		rc.logger.Debug("Remote session closed")
	})
	return nil
}
