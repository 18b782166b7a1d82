// Package managed supervises one MCP connection: it gates connects on
// authentication, retries transient dial failures with jittered backoff,
// runs the periodic health monitor, and schedules recovery when an
// established transport drops.
package managed

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lanonasis/memctl-go/internal/auth"
	"github.com/lanonasis/memctl-go/internal/config"
	"github.com/lanonasis/memctl-go/internal/connector/core"
	"github.com/lanonasis/memctl-go/internal/connector/types"
	"github.com/lanonasis/memctl-go/internal/faults"
	"github.com/lanonasis/memctl-go/internal/transport"
)

const (
	// DefaultMaxRetries bounds dial retries; total attempts = retries + 1.
	DefaultMaxRetries = 3

	// BaseRetryDelay and MaxRetryDelay bound the connect backoff curve.
	BaseRetryDelay = 1 * time.Second
	MaxRetryDelay  = 10 * time.Second

	// HealthCheckInterval is how often an established connection is probed.
	HealthCheckInterval = 30 * time.Second

	// HealthCheckTimeout bounds a single probe.
	HealthCheckTimeout = 5 * time.Second

	// ReconnectDelay is the fixed wait before recovering a transport that
	// dropped on its own (a closed socket or SSE stream).
	ReconnectDelay = 5 * time.Second

	// dialTimeout bounds one dial attempt end to end.
	dialTimeout = 10 * time.Second
)

// Options shape a single Connect call. Zero values defer to the persisted
// preference and then the websocket default.
type Options struct {
	// Mode is an explicit programmatic choice; it outranks everything.
	Mode config.ConnectionMode

	// FlagMode is the CLI flag value; it outranks the persisted preference.
	FlagMode config.ConnectionMode

	// ServerURL overrides the discovered URL for the selected mode.
	ServerURL string

	// ServerPath and ServerArgs override the persisted local server command.
	ServerPath string
	ServerArgs []string

	MaxRetries int
}

// Metrics receives connector events. The observability collector satisfies
// it; a nil Metrics drops everything.
type Metrics interface {
	ConnectAttempt(mode string)
	ConnectOutcome(mode, outcome string)
	HealthCheck(mode string, healthy bool)
}

// Connector owns at most one live transport leg and the supervision state
// around it.
type Connector struct {
	store     *config.Store
	auth      *auth.Manager
	endpoints auth.EndpointSource
	machine   *types.Machine
	metrics   Metrics
	logger    *zap.Logger

	clientName    string
	clientVersion string

	mu   sync.Mutex
	conn core.Conn
	mode config.ConnectionMode
	url  string

	// closed is set by Disconnect and cleared by Connect; it stops the
	// monitor and any pending reconnect from resurrecting the transport.
	closed bool

	monitorStop chan struct{}
	monitorWG   sync.WaitGroup

	reconnectMu         sync.Mutex
	reconnectInProgress bool
	reconnectTimer      *time.Timer

	// Hooks swapped out by tests.
	sleep          func(ctx context.Context, d time.Duration) error
	jitter         func(d time.Duration) time.Duration
	reconnectDelay time.Duration
	healthInterval time.Duration
}

// New wires a Connector. metrics may be nil.
func New(store *config.Store, authMgr *auth.Manager, endpoints auth.EndpointSource, metrics Metrics, clientName, clientVersion string, logger *zap.Logger) *Connector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connector{
		store:          store,
		auth:           authMgr,
		endpoints:      endpoints,
		machine:        types.NewMachine(logger),
		metrics:        metrics,
		logger:         logger.With(zap.String("component", "connector")),
		clientName:     clientName,
		clientVersion:  clientVersion,
		sleep:          sleepCtx,
		jitter:         applyJitter,
		reconnectDelay: ReconnectDelay,
		healthInterval: HealthCheckInterval,
	}
}

// Machine exposes the state machine for status output and event consumers.
func (c *Connector) Machine() *types.Machine {
	return c.machine
}

// Connect validates authentication, selects the transport mode, and dials
// with bounded retries. Auth failures surface immediately and cause zero
// dial attempts; transient failures are retried with jittered exponential
// backoff up to MaxRetries additional attempts.
func (c *Connector) Connect(ctx context.Context, opts Options) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return faults.Newf(faults.Validation, "already connected in %s mode; disconnect first", c.mode)
	}

	// Auth gate runs before any transport work so a missing or rejected
	// credential never costs a network dial.
	if err := c.auth.EnsureAuthenticated(ctx); err != nil {
		c.logger.Warn("Connect refused: not authenticated", zap.Error(err))
		return err
	}

	doc, err := c.store.Load()
	if err != nil {
		return err
	}
	mode := transport.ResolveMode(opts.Mode, opts.FlagMode, doc.MCPConnectionMode)

	eps, _, err := c.endpoints.Endpoints(ctx)
	if err != nil {
		return err
	}

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	c.closed = false
	if err := c.machine.TransitionTo(types.StateConnecting, nil); err != nil {
		return err
	}

	var conn core.Conn
	var url string
	var lastErr error
	for attempt := 1; attempt <= maxRetries+1; attempt++ {
		if c.metrics != nil {
			c.metrics.ConnectAttempt(string(mode))
		}
		conn, url, lastErr = c.dial(ctx, mode, doc, eps, opts)
		if lastErr == nil {
			break
		}
		class := faults.ClassOf(lastErr)
		c.logger.Warn("Connection attempt failed",
			zap.Int("attempt", attempt),
			zap.String("mode", string(mode)),
			zap.String("error_class", string(class)),
			zap.Error(lastErr))
		if !faults.Retryable(lastErr) || attempt == maxRetries+1 {
			break
		}
		c.machine.RecordRetry()
		delay := c.jitter(backoffDelay(attempt))
		c.logger.Info("Retrying connection",
			zap.Int("next_attempt", attempt+1),
			zap.Duration("delay", delay))
		if err := c.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	if lastErr != nil {
		_ = c.machine.TransitionTo(types.StateDisconnected, lastErr)
		if c.metrics != nil {
			c.metrics.ConnectOutcome(string(mode), "failure")
		}
		return lastErr
	}

	c.conn = conn
	c.mode = mode
	c.url = url
	if err := c.machine.TransitionTo(types.StateConnected, nil); err != nil {
		_ = conn.Close()
		c.conn = nil
		return err
	}
	if c.metrics != nil {
		c.metrics.ConnectOutcome(string(mode), "success")
	}

	// The working mode and URL become the new defaults for the next run.
	c.persistPreference(mode, url, opts)

	c.startMonitor()
	c.watchDone(conn)
	c.pumpEvents(conn)

	c.logger.Info("Connected",
		zap.String("mode", string(mode)),
		zap.String("url", url),
		zap.String("server_name", conn.ServerName()))
	return nil
}

// dial establishes one leg for the selected mode. The returned URL is what
// gets persisted as the preference on success.
func (c *Connector) dial(ctx context.Context, mode config.ConnectionMode, doc *config.Document, eps *config.DiscoveredEndpoints, opts Options) (core.Conn, string, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	switch mode {
	case config.ModeLocal:
		path := opts.ServerPath
		if path == "" {
			path = doc.LocalServerPath
		}
		args := opts.ServerArgs
		if args == nil {
			args = doc.LocalServerArgs
		}
		conn, err := core.DialLocal(dialCtx, core.LocalOptions{
			Path:          path,
			Args:          args,
			ClientName:    c.clientName,
			ClientVersion: c.clientVersion,
		}, c.logger)
		return conn, path, err

	case config.ModeRemote:
		base := opts.ServerURL
		if base == "" {
			base = eps.MCPBase
		}
		cred, err := c.auth.ResolveCredential(ctx)
		if err != nil {
			return nil, "", err
		}
		token := ""
		if cred != nil {
			token = cred.Value
		}
		conn, err := core.DialRemote(dialCtx, core.RemoteOptions{
			MCPBase: base,
			SSEBase: eps.MCPSSEBase,
			Scope:   eps.ProjectScope,
			Headers: c.auth.HeaderSource(),
			Token:   token,
		}, c.logger)
		return conn, base, err

	case config.ModeWebSocket:
		url := opts.ServerURL
		if url == "" {
			url = eps.MCPWSBase
		}
		header, err := c.wsHeader(ctx, eps)
		if err != nil {
			return nil, "", err
		}
		conn, err := core.DialWebSocket(dialCtx, core.WebSocketOptions{
			URL:           url,
			Header:        header,
			ClientName:    c.clientName,
			ClientVersion: c.clientVersion,
		}, c.logger)
		return conn, url, err

	default:
		return nil, "", faults.Newf(faults.Validation, "unknown connection mode %q", mode)
	}
}

// wsHeader builds the golden-contract headers for the WebSocket upgrade.
func (c *Connector) wsHeader(ctx context.Context, eps *config.DiscoveredEndpoints) (http.Header, error) {
	cred, err := c.auth.ResolveCredential(ctx)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if eps.ProjectScope != "" {
		header.Set("X-Project-Scope", eps.ProjectScope)
	}
	if cred != nil {
		if h := cred.Header(); h != nil {
			switch h.Scheme {
			case "apikey":
				header.Set("X-API-Key", h.Value)
			default:
				header.Set("Authorization", "Bearer "+h.Value)
			}
			header.Set("X-Auth-Method", h.Method)
		}
	}
	return header, nil
}

// persistPreference records the working mode and URL as the new defaults.
// Failure to persist never fails the connect.
func (c *Connector) persistPreference(mode config.ConnectionMode, url string, opts Options) {
	_, err := c.store.Update(func(doc *config.Document) error {
		doc.MCPConnectionMode = mode
		if mode == config.ModeLocal {
			doc.LocalServerPath = url
			if opts.ServerArgs != nil {
				doc.LocalServerArgs = opts.ServerArgs
			}
		} else {
			doc.MCPServerURL = url
		}
		return nil
	})
	if err != nil {
		c.logger.Warn("Failed to persist connection preference", zap.Error(err))
	}
}

// Conn returns the live leg, or an error when disconnected. Callers hold it
// only for the duration of one operation.
func (c *Connector) Conn() (core.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, faults.New(faults.Network, "not connected").
			WithRemedy("run 'memctl connect' first")
	}
	return c.conn, nil
}

// Mode reports the active transport mode, or empty when disconnected.
func (c *Connector) Mode() config.ConnectionMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Status snapshots the connection for the status command.
func (c *Connector) Status() Status {
	c.mu.Lock()
	mode := c.mode
	url := c.url
	var serverName string
	if c.conn != nil {
		serverName = c.conn.ServerName()
	}
	c.mu.Unlock()

	return Status{
		Info:       c.machine.Info(),
		Mode:       mode,
		URL:        url,
		ServerName: serverName,
	}
}

// Status is the connector view shaped for CLI output.
type Status struct {
	types.Info
	Mode       config.ConnectionMode `json:"mode,omitempty"`
	URL        string                `json:"url,omitempty"`
	ServerName string                `json:"server_name,omitempty"`
}

// Disconnect stops the monitor and any pending reconnect, closes the leg,
// and leaves the machine Disconnected. Idempotent.
func (c *Connector) Disconnect() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mode = ""
	c.url = ""
	c.mu.Unlock()

	c.cancelReconnect()
	c.stopMonitor(true)

	if conn != nil {
		if err := conn.Close(); err != nil {
			c.logger.Debug("Error closing connection", zap.Error(err))
		}
	}
	if c.machine.State() != types.StateDisconnected {
		_ = c.machine.TransitionTo(types.StateDisconnected, nil)
	}
	return nil
}

// startMonitor launches the periodic health check loop. Caller holds c.mu.
func (c *Connector) startMonitor() {
	c.monitorStop = make(chan struct{})
	stop := c.monitorStop
	c.monitorWG.Add(1)
	go func() {
		defer c.monitorWG.Done()
		ticker := time.NewTicker(c.healthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.runHealthCheck()
			case <-stop:
				return
			}
		}
	}()
}

// stopMonitor halts the health loop. wait joins the goroutine briefly; the
// health-failure path passes false because it runs on the monitor goroutine
// itself, so the join could only ever time out.
func (c *Connector) stopMonitor(wait bool) {
	c.mu.Lock()
	stop := c.monitorStop
	c.monitorStop = nil
	c.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	if !wait {
		return
	}

	done := make(chan struct{})
	go func() {
		c.monitorWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		c.logger.Warn("Health monitor stop timed out")
	}
}

// runHealthCheck probes the live leg and triggers recovery on failure.
func (c *Connector) runHealthCheck() {
	c.mu.Lock()
	conn := c.conn
	mode := c.mode
	c.mu.Unlock()
	if conn == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), HealthCheckTimeout)
	err := conn.HealthCheck(ctx)
	cancel()

	if err == nil {
		c.machine.RecordHealthCheck()
		if c.metrics != nil {
			c.metrics.HealthCheck(string(mode), true)
		}
		c.logger.Debug("Health check passed", zap.String("mode", string(mode)))
		return
	}

	if c.metrics != nil {
		c.metrics.HealthCheck(string(mode), false)
	}
	c.logger.Warn("Health check failed",
		zap.String("mode", string(mode)),
		zap.Error(err))
	c.handleConnectionLoss(err, 0, true)
}

// watchDone schedules recovery when the leg reports its own death (a closed
// WebSocket or a dropped SSE stream). Caller holds c.mu.
func (c *Connector) watchDone(conn core.Conn) {
	done := conn.Done()
	if done == nil {
		return
	}
	go func() {
		<-done
		c.mu.Lock()
		current := c.conn == conn
		closed := c.closed
		c.mu.Unlock()
		if !current || closed {
			return
		}
		c.logger.Warn("Transport closed unexpectedly, scheduling reconnect",
			zap.Duration("delay", c.reconnectDelay))
		c.handleConnectionLoss(fmt.Errorf("transport closed unexpectedly"), c.reconnectDelay, false)
	}()
}

// pumpEvents forwards server-initiated payloads from the leg into the
// machine's event stream. The pump ends when the leg reports Done; payloads
// from a superseded leg are dropped. Caller holds c.mu.
func (c *Connector) pumpEvents(conn core.Conn) {
	ch := conn.Events()
	if ch == nil {
		return
	}
	done := conn.Done()
	go func() {
		for {
			select {
			case <-done:
				return
			case payload := <-ch:
				c.mu.Lock()
				current := c.conn == conn
				c.mu.Unlock()
				if !current {
					return
				}
				c.machine.PublishPayload(payload)
			}
		}
	}()
}

// handleConnectionLoss tears the dead leg down and attempts one recovery
// using the last-known mode and URL, optionally after a fixed delay.
// fromMonitor marks calls running on the monitor goroutine itself.
func (c *Connector) handleConnectionLoss(cause error, delay time.Duration, fromMonitor bool) {
	c.mu.Lock()
	if c.conn == nil || c.closed {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	mode := c.mode
	url := c.url
	c.conn = nil
	c.mu.Unlock()

	_ = c.machine.TransitionTo(types.StateReconnecting, cause)
	c.stopMonitor(!fromMonitor)
	_ = conn.Close()

	run := func() { c.tryReconnect(mode, url) }
	if delay <= 0 {
		go run()
		return
	}

	c.reconnectMu.Lock()
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	c.reconnectTimer = time.AfterFunc(delay, run)
	c.reconnectMu.Unlock()
}

// tryReconnect performs one full reconnect with the last-known parameters.
// Success logs a recovery; failure leaves the connector disconnected and
// surfaces to the caller on next use.
func (c *Connector) tryReconnect(mode config.ConnectionMode, url string) {
	c.reconnectMu.Lock()
	if c.reconnectInProgress {
		c.reconnectMu.Unlock()
		c.logger.Debug("Reconnect already in progress, skipping")
		return
	}
	c.reconnectInProgress = true
	c.reconnectMu.Unlock()
	defer func() {
		c.reconnectMu.Lock()
		c.reconnectInProgress = false
		c.reconnectMu.Unlock()
	}()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*dialTimeout)
	defer cancel()

	opts := Options{Mode: mode}
	if mode == config.ModeLocal {
		opts.ServerPath = url
	} else {
		opts.ServerURL = url
	}
	if err := c.Connect(ctx, opts); err != nil {
		c.logger.Error("Reconnect failed",
			zap.String("mode", string(mode)),
			zap.Error(err))
		if c.machine.State() != types.StateDisconnected {
			_ = c.machine.TransitionTo(types.StateDisconnected, err)
		}
		return
	}
	c.logger.Info("Connection recovered", zap.String("mode", string(mode)))
}

// cancelReconnect stops a pending delayed recovery.
func (c *Connector) cancelReconnect() {
	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

// backoffDelay is the undithered curve: 1s, 2s, 4s, ... capped at 10s.
func backoffDelay(attempt int) time.Duration {
	d := BaseRetryDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= MaxRetryDelay {
			return MaxRetryDelay
		}
	}
	return d
}

// applyJitter spreads a delay by ±25% so synchronized clients do not retap
// a recovering server in lockstep.
func applyJitter(d time.Duration) time.Duration {
	factor := 0.75 + rand.Float64()*0.5 //nolint:gosec // not security-sensitive
	return time.Duration(float64(d) * factor)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
