package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/lanonasis/memctl-go/internal/faults"
)

// sseBuffer caps the event backlog. Slow consumers lose events rather than
// stalling the read loop.
const sseBuffer = 64

// SSEStream consumes a server-sent-event feed and surfaces the data payloads
// of each event as raw JSON. The stream is one-way; the server pushes,
// nothing goes back up.
type SSEStream struct {
	events  chan json.RawMessage
	dropped atomic.Int64

	cancel context.CancelFunc
	done   chan struct{}
	err    error

	logger *zap.Logger
}

// OpenSSE subscribes to the event feed at base. The credential travels as a
// token query parameter because EventSource-style clients cannot set headers,
// and the server expects the same shape from every consumer.
func OpenSSE(ctx context.Context, base, token string, logger *zap.Logger) (*SSEStream, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	target := base
	if token != "" {
		sep := "?"
		if strings.Contains(base, "?") {
			sep = "&"
		}
		target = base + sep + "token=" + url.QueryEscape(token)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, target, nil)
	if err != nil {
		cancel()
		return nil, faults.Wrap(faults.Validation, "failed to build event stream request", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	// The dial itself honors the caller's deadline; the stream then lives on
	// its own context so it survives after the connect call returns.
	stop := context.AfterFunc(ctx, cancel)
	resp, err := http.DefaultClient.Do(req)
	stop()
	if err != nil {
		cancel()
		return nil, faults.Wrap(faults.Network, fmt.Sprintf("failed to open event stream at %s", base), err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, faults.FromStatus(resp.StatusCode,
			fmt.Sprintf("event stream at %s returned status %d", base, resp.StatusCode))
	}

	st := &SSEStream{
		events: make(chan json.RawMessage, sseBuffer),
		cancel: cancel,
		done:   make(chan struct{}),
		logger: logger.With(zap.String("component", "transport.sse")),
	}
	go st.readLoop(resp)
	return st, nil
}

// Events delivers the data payload of each event. Never closed; watch Done.
func (st *SSEStream) Events() <-chan json.RawMessage {
	return st.events
}

// Done is closed when the stream ends for any reason.
func (st *SSEStream) Done() <-chan struct{} {
	return st.done
}

// Err reports why the stream ended. Nil until Done is closed, and nil after
// a local Close.
func (st *SSEStream) Err() error {
	select {
	case <-st.done:
		return st.err
	default:
		return nil
	}
}

// Close tears the stream down. Idempotent.
func (st *SSEStream) Close() error {
	st.cancel()
	<-st.done
	return nil
}

func (st *SSEStream) readLoop(resp *http.Response) {
	defer resp.Body.Close()
	defer close(st.done)

	var data strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				st.emit(data.String())
				data.Reset()
			}
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// Comments and fields we do not use (event:, id:, retry:).
		}
	}
	if data.Len() > 0 {
		st.emit(data.String())
	}
	if err := scanner.Err(); err != nil && !isCanceled(err) {
		st.err = faults.Wrap(faults.Network, "event stream interrupted", err)
	}
}

func (st *SSEStream) emit(payload string) {
	select {
	case st.events <- json.RawMessage(payload):
	default:
		if n := st.dropped.Add(1); n == 1 || n%100 == 0 {
			st.logger.Warn("Event buffer full, dropping events", zap.Int64("dropped", n))
		}
	}
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed)
}
