package core

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	uptransport "github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/lanonasis/memctl-go/internal/config"
	"github.com/lanonasis/memctl-go/internal/faults"
	"github.com/lanonasis/memctl-go/internal/secureenv"
)

// LocalOptions configures the stdio leg. Path is mandatory; nothing guesses
// where a server binary might live.
type LocalOptions struct {
	Path          string
	Args          []string
	Env           map[string]string
	ClientName    string
	ClientVersion string
}

// LocalConn runs the memory server as a child process and speaks the tool
// protocol over its stdio pipes.
type LocalConn struct {
	client     *client.Client
	serverInfo *mcp.InitializeResult
	path       string
	logger     *zap.Logger

	stderrCancel context.CancelFunc
	stderrWG     sync.WaitGroup
	closeOnce    sync.Once
}

// DialLocal spawns the server and completes the initialize handshake. The
// child process runs on a background context so it outlives the dial
// deadline; Close is what stops it.
func DialLocal(ctx context.Context, opts LocalOptions, logger *zap.Logger) (*LocalConn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "connector.local"))

	if opts.Path == "" {
		return nil, faults.New(faults.Validation,
			"local mode requires an explicit server executable path; set local_server_path or pass --server-path")
	}

	envManager := secureenv.NewManager(nil)
	for k, v := range opts.Env {
		envManager.Set(k, v)
	}
	stdioTransport := uptransport.NewStdio(opts.Path, envManager.Build(), opts.Args...)
	mcpClient := client.NewClient(stdioTransport)

	// Persistent context so the subprocess keeps running after the connect
	// deadline has passed.
	if err := mcpClient.Start(context.Background()); err != nil {
		return nil, faults.Wrap(faults.Network,
			fmt.Sprintf("failed to start local server %s", opts.Path), err)
	}

	lc := &LocalConn{
		client: mcpClient,
		path:   opts.Path,
		logger: logger,
	}

	// Capture stderr from the very start so startup failures are visible
	// even when the handshake below times out.
	if stderr := stdioTransport.Stderr(); stderr != nil {
		lc.watchStderr(stderr)
	}

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    opts.ClientName,
		Version: opts.ClientVersion,
	}
	initRequest.Params.Capabilities = mcp.ClientCapabilities{}

	serverInfo, err := mcpClient.Initialize(ctx, initRequest)
	if err != nil {
		_ = lc.Close()
		return nil, faults.Wrap(faults.Network, "initialize handshake with local server failed", err)
	}
	lc.serverInfo = serverInfo

	logger.Info("Local server ready",
		zap.String("path", opts.Path),
		zap.String("server_name", serverInfo.ServerInfo.Name),
		zap.String("server_version", serverInfo.ServerInfo.Version))
	return lc, nil
}

// Mode identifies the leg.
func (lc *LocalConn) Mode() config.ConnectionMode {
	return config.ModeLocal
}

// ServerName is the name the child reported during initialize.
func (lc *LocalConn) ServerName() string {
	if lc.serverInfo == nil {
		return ""
	}
	return lc.serverInfo.ServerInfo.Name
}

// CallTool invokes a tool over stdio. A tool-level failure comes back as an
// error carrying the tool's own message.
func (lc *LocalConn) CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	request := mcp.CallToolRequest{}
	request.Params.Name = name
	request.Params.Arguments = args

	result, err := lc.client.CallTool(ctx, request)
	if err != nil {
		return nil, faults.Wrap(faults.Network, fmt.Sprintf("tool call %s failed", name), err)
	}
	if result.IsError {
		return nil, faults.New(faults.Validation, toolErrorText(result))
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, faults.Wrap(faults.Server, "failed to encode tool result", err)
	}
	return payload, nil
}

// ListTools asks the child what it exposes.
func (lc *LocalConn) ListTools(ctx context.Context) ([]ToolInfo, error) {
	listReq := mcp.ListToolsRequest{}
	result, err := lc.client.ListTools(ctx, listReq)
	if err != nil {
		return nil, faults.Wrap(faults.Network, "failed to list tools", err)
	}
	tools := make([]ToolInfo, 0, len(result.Tools))
	for i := range result.Tools {
		tool := &result.Tools[i]
		schema, err := json.Marshal(tool.InputSchema)
		if err != nil {
			schema = nil
		}
		tools = append(tools, ToolInfo{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}
	return tools, nil
}

// HealthCheck asks for the tool list; a live introspection round trip is the
// strongest signal a stdio child can give.
func (lc *LocalConn) HealthCheck(ctx context.Context) error {
	_, err := lc.ListTools(ctx)
	return err
}

// Events returns nil; stdio servers have no push channel.
func (lc *LocalConn) Events() <-chan json.RawMessage {
	return nil
}

// Done returns nil; child death surfaces through failing health checks.
func (lc *LocalConn) Done() <-chan struct{} {
	return nil
}

// Close stops the child process. Idempotent.
func (lc *LocalConn) Close() error {
	lc.closeOnce.Do(func() {
		if lc.stderrCancel != nil {
			lc.stderrCancel()
		}
		if err := lc.client.Close(); err != nil {
			lc.logger.Debug("Error closing local server", zap.Error(err))
		}
		lc.stderrWG.Wait()
		lc.logger.Debug("Local server stopped", zap.String("path", lc.path))
	})
	return nil
}

func (lc *LocalConn) watchStderr(stderr io.Reader) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.stderrCancel = cancel

	lc.stderrWG.Add(1)
	go func() {
		defer lc.stderrWG.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			lc.logger.Debug("Local server stderr", zap.String("message", line))
		}
	}()
}

func toolErrorText(result *mcp.CallToolResult) string {
	for _, content := range result.Content {
		switch text := content.(type) {
		case mcp.TextContent:
			if text.Text != "" {
				return text.Text
			}
		case *mcp.TextContent:
			if text.Text != "" {
				return text.Text
			}
		}
	}
	return "tool reported an error without detail"
}
