package managed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lanonasis/memctl-go/internal/auth"
	"github.com/lanonasis/memctl-go/internal/config"
	"github.com/lanonasis/memctl-go/internal/connector/types"
	"github.com/lanonasis/memctl-go/internal/credstore"
	"github.com/lanonasis/memctl-go/internal/discovery"
	"github.com/lanonasis/memctl-go/internal/faults"
	"github.com/lanonasis/memctl-go/internal/transport"
)

type staticEndpoints struct {
	eps *config.DiscoveredEndpoints
}

func (s staticEndpoints) Endpoints(_ context.Context) (*config.DiscoveredEndpoints, discovery.Source, error) {
	return s.eps, discovery.SourceDefault, nil
}

// countingMetrics records connect attempts so tests can assert retry bounds
// and auth short circuits.
type countingMetrics struct {
	mu       sync.Mutex
	attempts int
	outcomes []string
	health   []bool
}

func (m *countingMetrics) ConnectAttempt(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
}

func (m *countingMetrics) ConnectOutcome(_, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *countingMetrics) HealthCheck(_ string, healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.health = append(m.health, healthy)
}

func (m *countingMetrics) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// wsStub is a WebSocket endpoint that answers initialize and ping, counts
// upgrade attempts, and can drop live sockets on demand.
type wsStub struct {
	srv      *httptest.Server
	upgrades atomic.Int32
	failPing atomic.Bool

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newWSStub(t *testing.T) *wsStub {
	t.Helper()
	s := &wsStub{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.upgrades.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		for {
			var f transport.Frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			resp := transport.Frame{ID: f.ID}
			switch f.Method {
			case "initialize":
				resp.Result = json.RawMessage(`{"serverInfo":{"name":"memory-stub","version":"0.1.0"}}`)
			case "ping":
				if s.failPing.Load() {
					resp.Error = &transport.FrameError{Code: -32000, Message: "ping rejected"}
				} else {
					resp.Result = json.RawMessage(`{}`)
				}
			default:
				resp.Error = &transport.FrameError{Code: -32601, Message: "method not found"}
			}
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsStub) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

// PushAll writes a server-initiated frame on every live socket.
func (s *wsStub) PushAll(frame transport.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.WriteJSON(frame)
	}
}

// DropAll closes every live socket from the server side.
func (s *wsStub) DropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.conns = nil
}

// newTestConnector wires a connector over a temp store with a pre-validated
// vendor key, so EnsureAuthenticated trusts the cache and never dials out.
func newTestConnector(t *testing.T, wsURL string, metrics Metrics) (*Connector, *config.Store) {
	t.Helper()
	return newTestConnectorWithLogger(t, wsURL, metrics, zaptest.NewLogger(t))
}

func newTestConnectorWithLogger(t *testing.T, wsURL string, metrics Metrics, logger *zap.Logger) (*Connector, *config.Store) {
	t.Helper()
	t.Setenv("ONASIS_API_KEY", "")
	store := config.NewStore(t.TempDir(), zap.NewNop())

	blob, err := credstore.Encrypt("pk_live1.sk_secret1", "")
	require.NoError(t, err)
	now := time.Now()
	_, err = store.Update(func(doc *config.Document) error {
		doc.VendorKey = blob
		doc.VendorKeyHash = credstore.Hash("pk_live1.sk_secret1")
		doc.AuthMethod = config.AuthVendorKey
		doc.LastKeyValidation = &now
		return nil
	})
	require.NoError(t, err)

	eps := &config.DiscoveredEndpoints{
		AuthBase:     "http://127.0.0.1:1",
		MemoryBase:   "http://127.0.0.1:1",
		MCPBase:      "http://127.0.0.1:1",
		MCPWSBase:    wsURL,
		MCPSSEBase:   "http://127.0.0.1:1",
		ProjectScope: "lanonasis-maas",
	}
	authMgr := auth.NewManager(store, staticEndpoints{eps}, nil, logger)
	c := New(store, authMgr, staticEndpoints{eps}, metrics, "memctl", "test", logger)
	c.sleep = func(context.Context, time.Duration) error { return nil }
	c.jitter = func(d time.Duration) time.Duration { return d }
	c.reconnectDelay = 100 * time.Millisecond
	t.Cleanup(func() { _ = c.Disconnect() })
	return c, store
}

// TestConnect_AuthShortCircuit tests that a connector with zero credentials
// fails fast and performs no network attempts at all.
func TestConnect_AuthShortCircuit(t *testing.T) {
	t.Setenv("ONASIS_API_KEY", "")
	store := config.NewStore(t.TempDir(), zap.NewNop())
	stub := newWSStub(t)
	eps := &config.DiscoveredEndpoints{
		AuthBase:     "http://127.0.0.1:1",
		MemoryBase:   "http://127.0.0.1:1",
		MCPBase:      "http://127.0.0.1:1",
		MCPWSBase:    stub.URL(),
		MCPSSEBase:   "http://127.0.0.1:1",
		ProjectScope: "lanonasis-maas",
	}
	authMgr := auth.NewManager(store, staticEndpoints{eps}, nil, zaptest.NewLogger(t))
	metrics := &countingMetrics{}
	c := New(store, authMgr, staticEndpoints{eps}, metrics, "memctl", "test", zaptest.NewLogger(t))

	err := c.Connect(context.Background(), Options{Mode: config.ModeWebSocket})
	require.Error(t, err)
	assert.Equal(t, faults.AuthRequired, faults.ClassOf(err))
	assert.Zero(t, metrics.Attempts())
	assert.Zero(t, stub.upgrades.Load())
	assert.Equal(t, types.StateDisconnected, c.Machine().State())
}

// TestConnect_RetryBound tests that persistent network failure performs
// exactly maxRetries+1 attempts and returns instead of hanging.
func TestConnect_RetryBound(t *testing.T) {
	metrics := &countingMetrics{}
	c, _ := newTestConnector(t, "ws://127.0.0.1:1", metrics)

	err := c.Connect(context.Background(), Options{Mode: config.ModeWebSocket, MaxRetries: 2})
	require.Error(t, err)
	assert.True(t, faults.Retryable(err), "final error should still be the transient class: %v", err)
	assert.Equal(t, 3, metrics.Attempts())
	assert.Equal(t, types.StateDisconnected, c.Machine().State())
	assert.Equal(t, 2, c.Machine().Info().RetryCount)
}

// TestConnect_WebSocketSuccess tests the handshake path and preference
// persistence.
func TestConnect_WebSocketSuccess(t *testing.T) {
	stub := newWSStub(t)
	metrics := &countingMetrics{}
	c, store := newTestConnector(t, stub.URL(), metrics)

	require.NoError(t, c.Connect(context.Background(), Options{Mode: config.ModeWebSocket}))

	status := c.Status()
	assert.True(t, status.Connected)
	assert.Equal(t, config.ModeWebSocket, status.Mode)
	assert.Equal(t, "memory-stub", status.ServerName)
	assert.Zero(t, status.RetryCount)

	doc, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, config.ModeWebSocket, doc.MCPConnectionMode)
	assert.Equal(t, stub.URL(), doc.MCPServerURL)
}

// TestConnect_ModePrecedence tests explicit option > flag > persisted.
func TestConnect_ModePrecedence(t *testing.T) {
	assert.Equal(t, config.ModeLocal, transport.ResolveMode(config.ModeLocal, config.ModeRemote, config.ModeWebSocket))
	assert.Equal(t, config.ModeRemote, transport.ResolveMode("", config.ModeRemote, config.ModeWebSocket))
	assert.Equal(t, config.ModeLocal, transport.ResolveMode("", "", config.ModeLocal))
	assert.Equal(t, config.DefaultMode, transport.ResolveMode("", "", ""))
}

// TestConnector_ReconnectsAfterServerDrop tests that an unexpected close
// schedules exactly one recovery using the last-known mode and URL.
func TestConnector_ReconnectsAfterServerDrop(t *testing.T) {
	stub := newWSStub(t)
	c, _ := newTestConnector(t, stub.URL(), nil)

	require.NoError(t, c.Connect(context.Background(), Options{Mode: config.ModeWebSocket}))
	require.EqualValues(t, 1, stub.upgrades.Load())

	stub.DropAll()

	require.Eventually(t, func() bool {
		return c.Status().Connected && stub.upgrades.Load() == 2
	}, 3*time.Second, 50*time.Millisecond, "connector never recovered after drop")
}

// TestConnector_DisconnectCancelsReconnect tests that an explicit disconnect
// suppresses the scheduled recovery.
func TestConnector_DisconnectCancelsReconnect(t *testing.T) {
	stub := newWSStub(t)
	c, _ := newTestConnector(t, stub.URL(), nil)
	c.reconnectDelay = 200 * time.Millisecond

	require.NoError(t, c.Connect(context.Background(), Options{Mode: config.ModeWebSocket}))
	stub.DropAll()

	// Wait for the drop to be noticed, then disconnect before the delayed
	// reconnect fires.
	require.Eventually(t, func() bool {
		return c.Machine().State() != types.StateConnected
	}, 2*time.Second, 20*time.Millisecond)
	require.NoError(t, c.Disconnect())

	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, types.StateDisconnected, c.Machine().State())
	assert.EqualValues(t, 1, stub.upgrades.Load())
}

// TestConnector_HealthCheckFailureTriggersRecovery tests the monitor's
// failure path by running one probe against a server whose ping breaks.
func TestConnector_HealthCheckFailureTriggersRecovery(t *testing.T) {
	stub := newWSStub(t)
	metrics := &countingMetrics{}
	c, _ := newTestConnector(t, stub.URL(), metrics)

	require.NoError(t, c.Connect(context.Background(), Options{Mode: config.ModeWebSocket}))

	stub.failPing.Store(true)
	c.runHealthCheck()

	// The failed probe tears the leg down and recovery dials a fresh
	// socket against the same stub.
	require.Eventually(t, func() bool {
		return c.Status().Connected && stub.upgrades.Load() == 2
	}, 3*time.Second, 50*time.Millisecond)

	metrics.mu.Lock()
	health := append([]bool(nil), metrics.health...)
	metrics.mu.Unlock()
	require.NotEmpty(t, health)
	assert.False(t, health[0])
}

// TestConnector_DisconnectIdempotent tests repeated disconnects are safe.
func TestConnector_DisconnectIdempotent(t *testing.T) {
	stub := newWSStub(t)
	c, _ := newTestConnector(t, stub.URL(), nil)

	require.NoError(t, c.Connect(context.Background(), Options{Mode: config.ModeWebSocket}))
	require.NoError(t, c.Disconnect())
	require.NoError(t, c.Disconnect())
	assert.Equal(t, types.StateDisconnected, c.Machine().State())

	_, err := c.Conn()
	require.Error(t, err)
	assert.Equal(t, faults.Network, faults.ClassOf(err))
}

// TestConnect_LocalRequiresExplicitPath tests that local mode refuses to
// guess a server binary location.
func TestConnect_LocalRequiresExplicitPath(t *testing.T) {
	c, _ := newTestConnector(t, "ws://127.0.0.1:1", nil)

	err := c.Connect(context.Background(), Options{Mode: config.ModeLocal})
	require.Error(t, err)
	assert.Equal(t, faults.Validation, faults.ClassOf(err))
	assert.Contains(t, err.Error(), "explicit server executable path")
}

// TestBackoffDelay tests the undithered curve and its cap.
func TestBackoffDelay(t *testing.T) {
	assert.Equal(t, 1*time.Second, backoffDelay(1))
	assert.Equal(t, 2*time.Second, backoffDelay(2))
	assert.Equal(t, 4*time.Second, backoffDelay(3))
	assert.Equal(t, 8*time.Second, backoffDelay(4))
	assert.Equal(t, 10*time.Second, backoffDelay(5))
	assert.Equal(t, 10*time.Second, backoffDelay(9))
}

// TestApplyJitter tests the ±25% spread stays in bounds.
func TestApplyJitter(t *testing.T) {
	for i := 0; i < 200; i++ {
		d := applyJitter(4 * time.Second)
		assert.GreaterOrEqual(t, d, 3*time.Second)
		assert.LessOrEqual(t, d, 5*time.Second)
	}
}

// TestConnector_ServerPushReachesEventStream tests that a notification frame
// from the server lands on the machine's event stream as a server push.
func TestConnector_ServerPushReachesEventStream(t *testing.T) {
	stub := newWSStub(t)
	c, _ := newTestConnector(t, stub.URL(), nil)

	require.NoError(t, c.Connect(context.Background(), Options{Mode: config.ModeWebSocket}))

	stub.PushAll(transport.Frame{Method: "memory/updated", Params: map[string]any{"id": "mem-1"}})

	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-c.Machine().Events():
			if ev.Kind != types.EventServerPush {
				continue
			}
			assert.JSONEq(t, `{"method":"memory/updated","params":{"id":"mem-1"}}`, string(ev.Payload))
			return
		case <-deadline:
			t.Fatal("server push never reached the event stream")
		}
	}
}

// TestConnector_HealthFailureRecoveryWithoutStopWarning tests that teardown
// from the monitor's own goroutine does not wait on itself: recovery runs
// with no "stop timed out" warning.
func TestConnector_HealthFailureRecoveryWithoutStopWarning(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	stub := newWSStub(t)
	c, _ := newTestConnectorWithLogger(t, stub.URL(), nil, zap.New(core))
	c.healthInterval = 50 * time.Millisecond

	require.NoError(t, c.Connect(context.Background(), Options{Mode: config.ModeWebSocket}))
	stub.failPing.Store(true)

	require.Eventually(t, func() bool {
		return stub.upgrades.Load() >= 2
	}, 3*time.Second, 20*time.Millisecond, "monitor never triggered a reconnect")

	stub.failPing.Store(false)
	require.Eventually(t, func() bool {
		return c.Status().Connected
	}, 3*time.Second, 20*time.Millisecond)

	for _, entry := range logs.All() {
		assert.NotEqual(t, "Health monitor stop timed out", entry.Message)
	}
}
