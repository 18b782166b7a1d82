package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/lanonasis/memctl-go/internal/auth"
	"github.com/lanonasis/memctl-go/internal/bridge"
	"github.com/lanonasis/memctl-go/internal/cliout"
	"github.com/lanonasis/memctl-go/internal/config"
	"github.com/lanonasis/memctl-go/internal/connector/managed"
	"github.com/lanonasis/memctl-go/internal/discovery"
	"github.com/lanonasis/memctl-go/internal/faults"
	"github.com/lanonasis/memctl-go/internal/history"
	"github.com/lanonasis/memctl-go/internal/index"
	"github.com/lanonasis/memctl-go/internal/logs"
	"github.com/lanonasis/memctl-go/internal/observability"
	"github.com/lanonasis/memctl-go/internal/secret"
)

// app holds the wired client stack for one command invocation. Commands
// build only the layers they need; session builds the full connector.
type app struct {
	logger    *zap.Logger
	store     *config.Store
	discovery *discovery.Service
	auth      *auth.Manager
}

// newApp wires the credential and discovery layers. longRunning selects the
// console log level default (info for connect, warn for one-shot commands).
func newApp(longRunning bool) (*app, error) {
	logger, err := logs.SetupCommand(longRunning, logLevel, logToFile, logDir)
	if err != nil {
		return nil, fmt.Errorf("setting up logger: %w", err)
	}

	dir, err := config.Dir()
	if err != nil {
		return nil, err
	}

	store := config.NewStore(dir, logger)
	disc := discovery.New(store, logger)
	authMgr := auth.NewManager(store, disc, secret.NewResolver(), logger)

	return &app{
		logger:    logger,
		store:     store,
		discovery: disc,
		auth:      authMgr,
	}, nil
}

func (a *app) close() {
	_ = a.logger.Sync()
}

// session is the full connected stack: connector, tool bridge, and the
// local history and recall stores.
type session struct {
	*app
	metrics   *observability.Collector
	tracing   *observability.Tracing
	connector *managed.Connector
	bridge    *bridge.Bridge
	history   *history.Store
	recall    *index.Recall
}

// newSession wires a session on top of an app. The history and recall
// stores are best-effort: a failure to open them degrades the session
// rather than failing it. A broken --trace-endpoint fails the session;
// silently dropping requested spans would be worse.
func newSession(a *app) (*session, error) {
	metrics := observability.NewCollector(a.logger)
	tracing, err := observability.NewTracing("memctl", version, traceEndpoint, a.logger)
	if err != nil {
		return nil, err
	}
	connector := managed.New(a.store, a.auth, a.discovery, metrics, "memctl", version, a.logger)

	hist, err := history.Open(a.store.Dir(), a.logger)
	if err != nil {
		a.logger.Warn("History store unavailable", zap.Error(err))
		hist = nil
	}
	recall, err := index.Open(a.store.Dir(), a.logger)
	if err != nil {
		a.logger.Warn("Recall index unavailable", zap.Error(err))
		recall = nil
	}

	return &session{
		app:       a,
		metrics:   metrics,
		tracing:   tracing,
		connector: connector,
		bridge:    bridge.New(connector, a.discovery, a.auth.HeaderSource(), hist, recall, metrics, tracing, a.logger),
		history:   hist,
		recall:    recall,
	}, nil
}

func (s *session) close() {
	_ = s.connector.Disconnect()
	if s.history != nil {
		_ = s.history.Close()
	}
	if s.recall != nil {
		_ = s.recall.Close()
	}
	_ = s.tracing.Close(context.Background())
	s.app.close()
}

// formatter builds the output formatter from the global flags.
func formatter() (cliout.Formatter, error) {
	return cliout.New(cliout.ResolveFormat(outputFormat, jsonOutput))
}

// printData renders data through the active formatter to stdout.
func printData(data interface{}) error {
	f, err := formatter()
	if err != nil {
		return err
	}
	out, err := f.Format(data)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func printTable(headers []string, rows [][]string) error {
	f, err := formatter()
	if err != nil {
		return err
	}
	out, err := f.FormatTable(headers, rows)
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

// promptSecret reads a secret from the terminal without echo. Falls back
// to plain line input when stdin is not a terminal (piped input).
func promptSecret(label string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", label)
	if term.IsTerminal(int(syscall.Stdin)) {
		value, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(value), nil
	}
	var value string
	if _, err := fmt.Fscanln(os.Stdin, &value); err != nil {
		return "", err
	}
	return value, nil
}

// parseToolArgs decodes the --args JSON object.
func parseToolArgs(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, faults.Wrap(faults.Validation, "tool arguments must be a JSON object", err)
	}
	return args, nil
}
