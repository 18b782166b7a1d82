package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lanonasis/memctl-go/internal/config"
	"github.com/lanonasis/memctl-go/internal/connector/managed"
	"github.com/lanonasis/memctl-go/internal/connector/types"
	"github.com/lanonasis/memctl-go/internal/transport"
)

var (
	connectMode       string
	connectServerURL  string
	connectLocalPath  string
	connectLocalArgs  []string
	connectMaxRetries int
	metricsListen     string

	connectCmd = &cobra.Command{
		Use:   "connect",
		Short: "Open a long-running connection to the memory service",
		Long: `Connect and stay connected until interrupted. The connection is
health-checked every 30 seconds and re-established automatically after
unexpected drops. The mode used on a successful connect is persisted as
the preference for later commands.`,
		Example: `  memctl connect
  memctl connect --mode websocket
  memctl connect --mode local --local-path ./memory-server
  memctl connect --metrics-listen 127.0.0.1:9464`,
		RunE: runConnect,
	}
)

func init() {
	connectCmd.Flags().StringVar(&connectMode, "mode", "", "Connection mode (local, remote, websocket)")
	connectCmd.Flags().StringVar(&connectServerURL, "server-url", "", "Override the discovered server URL")
	connectCmd.Flags().StringVar(&connectLocalPath, "local-path", "", "Path to a local MCP server binary (local mode)")
	connectCmd.Flags().StringArrayVar(&connectLocalArgs, "local-arg", nil, "Argument for the local MCP server (repeatable)")
	connectCmd.Flags().IntVar(&connectMaxRetries, "max-retries", managed.DefaultMaxRetries, "Connection attempts before giving up")
	connectCmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "Serve prometheus metrics on this address while connected")
}

func runConnect(cmd *cobra.Command, _ []string) error {
	flagMode, err := parseModeFlag(connectMode)
	if err != nil {
		return err
	}

	a, err := newApp(true)
	if err != nil {
		return err
	}
	s, err := newSession(a)
	if err != nil {
		return err
	}
	defer s.close()

	ctx := cmd.Context()

	if metricsListen != "" {
		go func() {
			if err := s.metrics.Serve(metricsListen); err != nil {
				a.logger.Warn("Metrics listener stopped", zap.Error(err))
			}
		}()
	}

	opts := managed.Options{
		FlagMode:   flagMode,
		ServerURL:  connectServerURL,
		ServerPath: connectLocalPath,
		ServerArgs: connectLocalArgs,
		MaxRetries: connectMaxRetries,
	}
	if err := s.connector.Connect(ctx, opts); err != nil {
		return err
	}

	status := s.connector.Status()
	fmt.Printf("Connected (%s) %s\n", status.Mode, status.URL)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	events := s.connector.Machine().Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sigCh:
			fmt.Println("\nDisconnecting")
			return s.connector.Disconnect()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Kind == types.EventStateChanged {
				fmt.Printf("Connection state: %s\n", ev.To)
			}
		}
	}
}

// connectOptions builds the options one-shot commands use: flag mode only,
// everything else from discovery and the persisted preference.
func connectOptions(flagMode config.ConnectionMode) managed.Options {
	return managed.Options{FlagMode: flagMode}
}

func parseModeFlag(raw string) (config.ConnectionMode, error) {
	if raw == "" {
		return "", nil
	}
	return transport.ParseMode(raw)
}
