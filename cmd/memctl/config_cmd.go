package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lanonasis/memctl-go/internal/config"
	"github.com/lanonasis/memctl-go/internal/transport"
)

var (
	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Inspect and change persisted preferences",
	}

	configShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Show the persisted configuration",
		Long:  "Show the stored configuration with credential material redacted.",
		RunE:  runConfigShow,
	}

	configSetModeCmd = &cobra.Command{
		Use:     "set-mode <local|remote|websocket>",
		Short:   "Set the preferred connection mode",
		Args:    cobra.ExactArgs(1),
		Example: `  memctl config set-mode websocket`,
		RunE:    runConfigSetMode,
	}

	configSetLocalServerCmd = &cobra.Command{
		Use:     "set-local-server <path> [args...]",
		Short:   "Set the local MCP server command for local mode",
		Args:    cobra.MinimumNArgs(1),
		Example: `  memctl config set-local-server /usr/local/bin/memory-server --stdio`,
		RunE:    runConfigSetLocalServer,
	}
)

func init() {
	configCmd.AddCommand(configShowCmd, configSetModeCmd, configSetLocalServerCmd)
}

// configView is the redacted shape printed by config show. Secrets never
// leave the store; only their presence is reported.
type configView struct {
	Version         int                         `json:"version" yaml:"version"`
	AuthMethod      string                      `json:"auth_method,omitempty" yaml:"auth_method,omitempty"`
	HasToken        bool                        `json:"has_token" yaml:"has_token"`
	HasVendorKey    bool                        `json:"has_vendor_key" yaml:"has_vendor_key"`
	DeviceID        string                      `json:"device_id" yaml:"device_id"`
	ConnectionMode  config.ConnectionMode       `json:"connection_mode,omitempty" yaml:"connection_mode,omitempty"`
	ServerURL       string                      `json:"server_url,omitempty" yaml:"server_url,omitempty"`
	LocalServerPath string                      `json:"local_server_path,omitempty" yaml:"local_server_path,omitempty"`
	LocalServerArgs []string                    `json:"local_server_args,omitempty" yaml:"local_server_args,omitempty"`
	Endpoints       *config.DiscoveredEndpoints `json:"endpoints,omitempty" yaml:"endpoints,omitempty"`
}

func runConfigShow(_ *cobra.Command, _ []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	doc, err := a.store.Load()
	if err != nil {
		return err
	}

	return printData(configView{
		Version:         doc.Version,
		AuthMethod:      string(doc.AuthMethod),
		HasToken:        doc.Token != "",
		HasVendorKey:    doc.VendorKey != nil,
		DeviceID:        doc.DeviceID,
		ConnectionMode:  doc.MCPConnectionMode,
		ServerURL:       doc.MCPServerURL,
		LocalServerPath: doc.LocalServerPath,
		LocalServerArgs: doc.LocalServerArgs,
		Endpoints:       doc.DiscoveredServices,
	})
}

func runConfigSetMode(_ *cobra.Command, args []string) error {
	mode, err := transport.ParseMode(args[0])
	if err != nil {
		return err
	}

	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	_, err = a.store.Update(func(doc *config.Document) error {
		doc.MCPConnectionMode = mode
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Printf("Preferred mode set to %s\n", mode)
	return nil
}

func runConfigSetLocalServer(_ *cobra.Command, args []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	_, err = a.store.Update(func(doc *config.Document) error {
		doc.LocalServerPath = args[0]
		doc.LocalServerArgs = args[1:]
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Printf("Local server set to %s\n", args[0])
	return nil
}
