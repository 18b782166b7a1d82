package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lanonasis/memctl-go/internal/faults"
)

const (
	// HandshakeTimeout bounds the WebSocket upgrade itself.
	HandshakeTimeout = 10 * time.Second

	// notificationBuffer is how many server-initiated payloads we hold
	// before dropping. Consumers that fall behind lose events, not the
	// connection.
	notificationBuffer = 64
)

// Frame is one JSON message on the wire. Requests carry ID/Method/Params,
// responses echo the ID with Result or Error, and frames without an ID are
// server-initiated notifications.
type Frame struct {
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params any             `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *FrameError     `json:"error,omitempty"`
}

// FrameError is the error object of a failed response frame.
type FrameError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// WSConn is a persistent WebSocket connection with request/response
// correlation. A single reader goroutine routes response frames to their
// waiting callers by ID and forwards notifications to a bounded channel.
type WSConn struct {
	conn   *websocket.Conn
	logger *zap.Logger

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[int64]chan *Frame
	nextID    atomic.Int64

	notifications chan json.RawMessage
	dropped       atomic.Int64

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

// DialWS opens the connection and starts the reader. Credential and tracing
// headers travel on the upgrade request. The caller still has to run the
// initialize handshake before issuing requests.
func DialWS(ctx context.Context, url string, header http.Header, logger *zap.Logger) (*WSConn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dialer := websocket.Dialer{HandshakeTimeout: HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, faults.FromStatus(resp.StatusCode,
				fmt.Sprintf("websocket upgrade to %s rejected with status %d", url, resp.StatusCode))
		}
		return nil, faults.Wrap(faults.Network, fmt.Sprintf("failed to dial %s", url), err)
	}
	ws := &WSConn{
		conn:          conn,
		logger:        logger.With(zap.String("component", "transport.ws")),
		pending:       make(map[int64]chan *Frame),
		notifications: make(chan json.RawMessage, notificationBuffer),
		closed:        make(chan struct{}),
	}
	go ws.readLoop()
	return ws, nil
}

// Call sends a request frame and waits for the response with the same ID.
func (ws *WSConn) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := ws.nextID.Add(1)
	ch := make(chan *Frame, 1)

	ws.pendingMu.Lock()
	ws.pending[id] = ch
	ws.pendingMu.Unlock()
	defer func() {
		ws.pendingMu.Lock()
		delete(ws.pending, id)
		ws.pendingMu.Unlock()
	}()

	if err := ws.write(Frame{ID: id, Method: method, Params: params}); err != nil {
		return nil, faults.Wrap(faults.Network, fmt.Sprintf("failed to send %s request", method), err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-ws.closed:
		return nil, faults.Wrap(faults.Network, "connection closed while waiting for response", ws.closeErr)
	case frame := <-ch:
		if frame.Error != nil {
			return nil, frame.Error
		}
		return frame.Result, nil
	}
}

// Notify sends a frame without an ID and does not wait for anything.
func (ws *WSConn) Notify(method string, params any) error {
	if err := ws.write(Frame{Method: method, Params: params}); err != nil {
		return faults.Wrap(faults.Network, fmt.Sprintf("failed to send %s notification", method), err)
	}
	return nil
}

// Notifications delivers server-initiated payloads. The channel is never
// closed; watch Done for connection loss.
func (ws *WSConn) Notifications() <-chan json.RawMessage {
	return ws.notifications
}

// Done is closed when the connection dies, whether by Close or by a read
// failure.
func (ws *WSConn) Done() <-chan struct{} {
	return ws.closed
}

// Err reports why the connection ended. Nil until Done is closed, and nil
// after a clean local Close.
func (ws *WSConn) Err() error {
	select {
	case <-ws.closed:
		return ws.closeErr
	default:
		return nil
	}
}

// Close shuts the connection down. Safe to call more than once and
// concurrently with in-flight calls, which fail with a network fault.
func (ws *WSConn) Close() error {
	ws.shutdown(nil)
	return nil
}

func (ws *WSConn) write(frame Frame) error {
	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()
	return ws.conn.WriteJSON(frame)
}

func (ws *WSConn) readLoop() {
	for {
		_, data, err := ws.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = nil
			}
			ws.shutdown(err)
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			ws.logger.Debug("Discarding unparseable frame", zap.Error(err))
			continue
		}

		if frame.ID == 0 {
			select {
			case ws.notifications <- json.RawMessage(data):
			default:
				if n := ws.dropped.Add(1); n == 1 || n%100 == 0 {
					ws.logger.Warn("Notification buffer full, dropping events", zap.Int64("dropped", n))
				}
			}
			continue
		}

		ws.pendingMu.Lock()
		ch, ok := ws.pending[frame.ID]
		if ok {
			delete(ws.pending, frame.ID)
		}
		ws.pendingMu.Unlock()
		if !ok {
			ws.logger.Debug("Response for unknown correlation ID", zap.Int64("id", frame.ID))
			continue
		}
		ch <- &frame
	}
}

func (ws *WSConn) shutdown(err error) {
	ws.closeOnce.Do(func() {
		ws.closeErr = err
		ws.writeMu.Lock()
		_ = ws.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		ws.writeMu.Unlock()
		_ = ws.conn.Close()
		close(ws.closed)
	})
}
