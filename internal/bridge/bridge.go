// Package bridge presents one callTool contract over whichever transport is
// active. Local and websocket connections carry tool traffic natively; the
// remote mode maps tool names onto the hosted REST surface through a static
// dispatch table.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	otelcodes "go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lanonasis/memctl-go/internal/auth"
	"github.com/lanonasis/memctl-go/internal/config"
	"github.com/lanonasis/memctl-go/internal/connector/core"
	"github.com/lanonasis/memctl-go/internal/connector/managed"
	"github.com/lanonasis/memctl-go/internal/faults"
	"github.com/lanonasis/memctl-go/internal/history"
	"github.com/lanonasis/memctl-go/internal/index"
	"github.com/lanonasis/memctl-go/internal/restapi"
)

// callTimeout bounds one tool invocation regardless of transport.
const callTimeout = 30 * time.Second

// Metrics receives per-call accounting. Nil drops everything.
type Metrics interface {
	ToolCall(tool, mode string, duration time.Duration, err error)
}

// Tracer opens a span around one tool invocation. Nil disables tracing.
type Tracer interface {
	StartToolSpan(ctx context.Context, tool, mode string) (context.Context, oteltrace.Span)
}

// restRoute maps one tool name onto the hosted REST surface. PathTemplate
// supports a single {id} placeholder filled from the call arguments.
type restRoute struct {
	Method       string
	PathTemplate string
	Description  string

	// argsToQuery sends remaining arguments as query parameters instead of
	// a JSON body (GET and DELETE routes).
	argsToQuery bool
}

// restRoutes is the static dispatch table for remote mode. Paths are
// relative to the discovered memory base.
var restRoutes = map[string]restRoute{
	"create_memory":    {Method: http.MethodPost, PathTemplate: "", Description: "Store a new memory entry"},
	"list_memories":    {Method: http.MethodGet, PathTemplate: "", Description: "List memory entries", argsToQuery: true},
	"get_memory":       {Method: http.MethodGet, PathTemplate: "/{id}", Description: "Fetch one memory entry by id", argsToQuery: true},
	"update_memory":    {Method: http.MethodPut, PathTemplate: "/{id}", Description: "Update a memory entry"},
	"delete_memory":    {Method: http.MethodDelete, PathTemplate: "/{id}", Description: "Delete a memory entry", argsToQuery: true},
	"search_memories":  {Method: http.MethodPost, PathTemplate: "/search", Description: "Full-text search across memories"},
	"get_memory_stats": {Method: http.MethodGet, PathTemplate: "/stats", Description: "Memory usage statistics", argsToQuery: true},
}

// Bridge dispatches tool calls over the live connection.
type Bridge struct {
	connector *managed.Connector
	endpoints auth.EndpointSource
	headers   restapi.HeaderSource
	history   *history.Store
	recall    *index.Recall
	metrics   Metrics
	tracer    Tracer
	logger    *zap.Logger
}

// New wires a Bridge. history, recall, metrics, and tracer may each be nil.
func New(connector *managed.Connector, endpoints auth.EndpointSource, headers restapi.HeaderSource, hist *history.Store, recall *index.Recall, metrics Metrics, tracer Tracer, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		connector: connector,
		endpoints: endpoints,
		headers:   headers,
		history:   hist,
		recall:    recall,
		metrics:   metrics,
		tracer:    tracer,
		logger:    logger.With(zap.String("component", "bridge")),
	}
}

// CallTool invokes one tool over the active transport and returns the raw
// result payload. Unknown tool names in remote mode fail before any network
// I/O. Every invocation lands in the history log; memory-shaped results
// feed the recall cache. Both are best-effort and never fail the call.
func (b *Bridge) CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	mode := b.connector.Mode()

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	var span oteltrace.Span
	if b.tracer != nil {
		ctx, span = b.tracer.StartToolSpan(ctx, name, string(mode))
	}

	start := time.Now()
	var result json.RawMessage
	var err error
	if mode == config.ModeRemote {
		result, err = b.callREST(ctx, name, args)
	} else {
		result, err = b.callNative(ctx, name, args)
	}
	duration := time.Since(start)

	if span != nil {
		if err != nil {
			span.SetStatus(otelcodes.Error, err.Error())
		}
		span.End()
	}

	if b.metrics != nil {
		b.metrics.ToolCall(name, string(mode), duration, err)
	}
	b.record(name, args, mode, err, duration)

	if err != nil {
		return nil, err
	}
	if b.recall != nil {
		if stored := b.recall.HarvestResult(result); stored > 0 {
			b.logger.Debug("Cached memories from tool result",
				zap.String("tool", name),
				zap.Int("stored", stored))
		}
	}
	return result, nil
}

// callNative routes through the protocol-speaking connection.
func (b *Bridge) callNative(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	conn, err := b.connector.Conn()
	if err != nil {
		return nil, err
	}
	tool, ok := conn.(core.ToolConn)
	if !ok {
		return nil, faults.Newf(faults.Validation, "%s connection does not carry tool traffic", conn.Mode())
	}
	return tool.CallTool(ctx, name, args)
}

// callREST maps the tool onto the dispatch table.
func (b *Bridge) callREST(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	route, ok := restRoutes[name]
	if !ok {
		return nil, faults.Newf(faults.UnknownTool,
			"tool %q has no REST mapping; known tools: %s", name, strings.Join(knownTools(), ", "))
	}

	path, remaining, err := route.fillPath(args)
	if err != nil {
		return nil, err
	}

	eps, _, err := b.endpoints.Endpoints(ctx)
	if err != nil {
		return nil, err
	}
	client := restapi.NewClient(eps.MemoryBase, eps.ProjectScope, b.headers, b.logger)

	var body any
	if route.argsToQuery {
		path = appendQuery(path, remaining)
	} else if len(remaining) > 0 {
		body = remaining
	}

	var result json.RawMessage
	if err := client.Do(ctx, route.Method, path, body, &result); err != nil {
		return nil, err
	}
	if result == nil {
		result = json.RawMessage(`{}`)
	}
	return result, nil
}

// fillPath substitutes {id} from the arguments and returns the remaining
// arguments that still need to travel.
func (r restRoute) fillPath(args map[string]any) (string, map[string]any, error) {
	path := r.PathTemplate
	remaining := make(map[string]any, len(args))
	for k, v := range args {
		remaining[k] = v
	}
	if strings.Contains(path, "{id}") {
		id, _ := remaining["id"].(string)
		if id == "" {
			return "", nil, faults.New(faults.Validation, "this tool requires a string \"id\" argument")
		}
		path = strings.ReplaceAll(path, "{id}", url.PathEscape(id))
		delete(remaining, "id")
	}
	return path, remaining, nil
}

func appendQuery(path string, args map[string]any) string {
	if len(args) == 0 {
		return path
	}
	values := url.Values{}
	for k, v := range args {
		values.Set(k, fmt.Sprintf("%v", v))
	}
	return path + "?" + values.Encode()
}

// ListTools returns what the active transport can invoke: the live list for
// protocol connections, the static table for remote mode.
func (b *Bridge) ListTools(ctx context.Context) ([]core.ToolInfo, error) {
	if b.connector.Mode() == config.ModeRemote {
		tools := make([]core.ToolInfo, 0, len(restRoutes))
		for _, name := range knownTools() {
			tools = append(tools, core.ToolInfo{Name: name, Description: restRoutes[name].Description})
		}
		return tools, nil
	}

	conn, err := b.connector.Conn()
	if err != nil {
		return nil, err
	}
	tool, ok := conn.(core.ToolConn)
	if !ok {
		return nil, faults.Newf(faults.Validation, "%s connection does not carry tool traffic", conn.Mode())
	}
	return tool.ListTools(ctx)
}

// record appends the invocation to the local history log.
func (b *Bridge) record(name string, args map[string]any, mode config.ConnectionMode, callErr error, duration time.Duration) {
	if b.history == nil {
		return
	}
	rec := &history.Record{
		Tool:     name,
		Mode:     string(mode),
		OK:       callErr == nil,
		Duration: duration,
	}
	if callErr != nil {
		rec.Error = callErr.Error()
	}
	if len(args) > 0 {
		if encoded, err := json.Marshal(args); err == nil {
			rec.Args = encoded
		}
	}
	if err := b.history.Append(rec); err != nil {
		b.logger.Warn("Failed to record tool invocation", zap.String("tool", name), zap.Error(err))
	}
}

func knownTools() []string {
	names := make([]string, 0, len(restRoutes))
	for name := range restRoutes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
