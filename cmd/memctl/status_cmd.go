package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/lanonasis/memctl-go/internal/cliout"
	"github.com/lanonasis/memctl-go/internal/config"
)

type statusView struct {
	Authenticated  bool       `json:"authenticated" yaml:"authenticated"`
	AuthMethod     string     `json:"auth_method,omitempty" yaml:"auth_method,omitempty"`
	CredentialKind string     `json:"credential_kind,omitempty" yaml:"credential_kind,omitempty"`
	TokenExpiry    *time.Time `json:"token_expiry,omitempty" yaml:"token_expiry,omitempty"`
	DeviceID       string     `json:"device_id" yaml:"device_id"`

	EndpointSource string `json:"endpoint_source" yaml:"endpoint_source"`
	MemoryBase     string `json:"memory_base" yaml:"memory_base"`
	MCPWSBase      string `json:"mcp_ws_base,omitempty" yaml:"mcp_ws_base,omitempty"`
	ProjectScope   string `json:"project_scope,omitempty" yaml:"project_scope,omitempty"`

	PreferredMode   config.ConnectionMode `json:"preferred_mode,omitempty" yaml:"preferred_mode,omitempty"`
	LocalServerPath string                `json:"local_server_path,omitempty" yaml:"local_server_path,omitempty"`
	ConfigPath      string                `json:"config_path" yaml:"config_path"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show authentication, discovery, and connection preferences",
	Example: `  memctl status
  memctl status --output json`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, _ []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()

	doc, err := a.store.Load()
	if err != nil {
		return err
	}

	view := statusView{
		AuthMethod:    string(doc.AuthMethod),
		TokenExpiry:   doc.TokenExpiry,
		DeviceID:      doc.DeviceID,
		PreferredMode: doc.MCPConnectionMode,
		ConfigPath:    a.store.Path(),
	}
	if doc.LocalServerPath != "" {
		view.LocalServerPath = doc.LocalServerPath
	}

	if cred, err := a.auth.ResolveCredential(ctx); err == nil && cred != nil {
		view.Authenticated = true
		view.CredentialKind = string(cred.Kind)
	}

	eps, source, err := a.discovery.Endpoints(ctx)
	if err == nil {
		view.EndpointSource = string(source)
		view.MemoryBase = eps.MemoryBase
		view.MCPWSBase = eps.MCPWSBase
		view.ProjectScope = eps.ProjectScope
	}

	if cliout.ResolveFormat(outputFormat, jsonOutput) == "table" {
		return printStatusTable(&view)
	}
	return printData(view)
}

func printStatusTable(view *statusView) error {
	rows := [][]string{
		{"Authenticated", boolWord(view.Authenticated)},
		{"Auth method", orDash(view.AuthMethod)},
		{"Credential kind", orDash(view.CredentialKind)},
		{"Endpoint source", orDash(view.EndpointSource)},
		{"Memory API", orDash(view.MemoryBase)},
		{"Preferred mode", orDash(string(view.PreferredMode))},
		{"Config path", view.ConfigPath},
	}
	if view.TokenExpiry != nil {
		rows = append(rows, []string{"Token expiry", view.TokenExpiry.Format(time.RFC3339)})
	}
	return printTable([]string{"Field", "Value"}, rows)
}

func boolWord(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
