package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/lanonasis/memctl-go/internal/faults"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// wsServer runs handle with the upgraded server-side connection until the
// client hangs up.
func wsServer(t *testing.T, handle func(conn *websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// replyTo answers every request frame via respond, in arrival order.
func replyTo(respond func(f Frame) Frame) func(conn *websocket.Conn) {
	return func(conn *websocket.Conn) {
		for {
			var f Frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			resp := respond(f)
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
		}
	}
}

func dialTest(t *testing.T, url string) *WSConn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, err := DialWS(ctx, url, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func TestWSConn_CallRoundTrip(t *testing.T) {
	methods := make(chan string, 1)
	url := wsServer(t, replyTo(func(f Frame) Frame {
		methods <- f.Method
		return Frame{ID: f.ID, Result: json.RawMessage(`{"tools":[]}`)}
	}))
	ws := dialTest(t, url)

	result, err := ws.Call(context.Background(), "tools/list", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"tools":[]}`, string(result))
	assert.Equal(t, "tools/list", <-methods)
}

func TestWSConn_CorrelatesOutOfOrderResponses(t *testing.T) {
	url := wsServer(t, func(conn *websocket.Conn) {
		var first, second Frame
		if conn.ReadJSON(&first) != nil || conn.ReadJSON(&second) != nil {
			return
		}
		// Answer in reverse arrival order.
		_ = conn.WriteJSON(Frame{ID: second.ID, Result: json.RawMessage(`"second"`)})
		_ = conn.WriteJSON(Frame{ID: first.ID, Result: json.RawMessage(`"first"`)})
	})
	ws := dialTest(t, url)

	type reply struct {
		result json.RawMessage
		err    error
	}
	firstCh := make(chan reply, 1)
	go func() {
		res, err := ws.Call(context.Background(), "slow", nil)
		firstCh <- reply{res, err}
	}()
	// Make sure the slow call is registered before the fast one goes out.
	time.Sleep(50 * time.Millisecond)

	res, err := ws.Call(context.Background(), "fast", nil)
	require.NoError(t, err)
	assert.Equal(t, `"second"`, string(res))

	first := <-firstCh
	require.NoError(t, first.err)
	assert.Equal(t, `"first"`, string(first.result))
}

func TestWSConn_ErrorFramesSurfaceAsErrors(t *testing.T) {
	url := wsServer(t, replyTo(func(f Frame) Frame {
		return Frame{ID: f.ID, Error: &FrameError{Code: -32601, Message: "method not found"}}
	}))
	ws := dialTest(t, url)

	_, err := ws.Call(context.Background(), "nope", nil)
	require.Error(t, err)
	var frameErr *FrameError
	require.ErrorAs(t, err, &frameErr)
	assert.Equal(t, -32601, frameErr.Code)
	assert.Contains(t, err.Error(), "method not found")
}

func TestWSConn_NotificationsBypassCorrelation(t *testing.T) {
	url := wsServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(Frame{
			Method: "memory/created",
			Params: map[string]any{"id": "mem-1"},
		})
		// Keep the connection open until the client leaves.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	ws := dialTest(t, url)

	select {
	case raw := <-ws.Notifications():
		var frame Frame
		require.NoError(t, json.Unmarshal(raw, &frame))
		assert.Equal(t, "memory/created", frame.Method)
	case <-time.After(2 * time.Second):
		t.Fatal("notification never arrived")
	}
}

func TestWSConn_ServerDropFailsPendingCalls(t *testing.T) {
	url := wsServer(t, func(conn *websocket.Conn) {
		var f Frame
		_ = conn.ReadJSON(&f)
		// Hang up without answering.
	})
	ws := dialTest(t, url)

	_, err := ws.Call(context.Background(), "doomed", nil)
	require.Error(t, err)
	assert.Equal(t, faults.Network, faults.ClassOf(err))

	select {
	case <-ws.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done never closed after server drop")
	}
}

func TestWSConn_CallHonorsContext(t *testing.T) {
	url := wsServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	ws := dialTest(t, url)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := ws.Call(ctx, "never-answered", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWSConn_CloseIsIdempotent(t *testing.T) {
	url := wsServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	ws := dialTest(t, url)

	require.NoError(t, ws.Close())
	require.NoError(t, ws.Close())
	assert.NoError(t, ws.Err())

	_, err := ws.Call(context.Background(), "after-close", nil)
	require.Error(t, err)
	assert.Equal(t, faults.Network, faults.ClassOf(err))
}

func TestDialWS_UpgradeHeadersReachServer(t *testing.T) {
	seen := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Clone()
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	header := http.Header{}
	header.Set("Authorization", "Bearer tok-123")
	header.Set("X-Project-Scope", "lanonasis-maas")
	ws, err := DialWS(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), header, zaptest.NewLogger(t))
	require.NoError(t, err)
	ws.Close()

	got := <-seen
	assert.Equal(t, "Bearer tok-123", got.Get("Authorization"))
	assert.Equal(t, "lanonasis-maas", got.Get("X-Project-Scope"))
}

func TestDialWS_RejectionMapsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := DialWS(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), nil, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Equal(t, faults.AuthInvalid, faults.ClassOf(err))
}

func TestDialWS_DeadServerIsNetworkFault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	_, err := DialWS(context.Background(), url, nil, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Equal(t, faults.Network, faults.ClassOf(err))
	assert.True(t, faults.Retryable(err))
}
