// Package config persists the per-user client state: credentials, discovered
// endpoints, transport preferences, and auth bookkeeping. The document is a
// single JSON file replaced atomically under an advisory cross-process lock.
package config

import (
	"time"

	"github.com/google/uuid"

	"github.com/lanonasis/memctl-go/internal/credstore"
)

// CurrentVersion is stamped into every saved document. Loading an older or
// unversioned document migrates it forward in memory; the new version is
// persisted on the next save.
const CurrentVersion = 3

// AuthMethod identifies which credential kind is authoritative.
type AuthMethod string

const (
	AuthJWT       AuthMethod = "jwt"
	AuthVendorKey AuthMethod = "vendor_key"
	AuthOAuth     AuthMethod = "oauth"
)

// ConnectionMode selects the transport for the MCP connection.
type ConnectionMode string

const (
	ModeLocal     ConnectionMode = "local"
	ModeRemote    ConnectionMode = "remote"
	ModeWebSocket ConnectionMode = "websocket"
)

// DefaultMode is used when nothing was requested and nothing is persisted.
const DefaultMode = ModeWebSocket

// DiscoveredEndpoints is the service topology fetched from the well-known
// discovery document, or assembled from environment/default fallback.
type DiscoveredEndpoints struct {
	AuthBase     string `json:"auth_base"`
	MemoryBase   string `json:"memory_base"`
	MCPBase      string `json:"mcp_base"`
	MCPWSBase    string `json:"mcp_ws_base"`
	MCPSSEBase   string `json:"mcp_sse_base"`
	ProjectScope string `json:"project_scope"`
}

// Complete reports whether every endpoint required for normal operation is
// present. Partial discovery documents are rejected, not merged.
func (e *DiscoveredEndpoints) Complete() bool {
	return e != nil &&
		e.AuthBase != "" &&
		e.MemoryBase != "" &&
		e.MCPBase != "" &&
		e.MCPWSBase != "" &&
		e.MCPSSEBase != ""
}

// Document is the on-disk client state. Timestamps are pointers so absent
// values stay absent in JSON instead of becoming the zero time.
type Document struct {
	Version int `json:"version"`

	// Token credentials (jwt or oauth access token).
	Token        string     `json:"token,omitempty"`
	TokenExpiry  *time.Time `json:"tokenExpiry,omitempty"`
	RefreshToken string     `json:"refreshToken,omitempty"`
	AuthMethod   AuthMethod `json:"authMethod,omitempty"`

	// Vendor key, reversibly encrypted and machine-bound.
	VendorKey     *credstore.EncryptedBlob `json:"vendorKey,omitempty"`
	VendorKeyHash string                   `json:"vendorKeyHash,omitempty"`

	DiscoveredServices      *DiscoveredEndpoints `json:"discoveredServices,omitempty"`
	LastServiceDiscovery    *time.Time           `json:"lastServiceDiscovery,omitempty"`
	ManualEndpointOverrides bool                 `json:"manualEndpointOverrides,omitempty"`

	DeviceID string `json:"deviceId"`

	// Auth bookkeeping. LastKeyValidation drives the vendor-key trust cache
	// and offline grace; LastAuthSuccess covers token-path validations.
	AuthFailureCount  int        `json:"authFailureCount,omitempty"`
	LastAuthFailure   *time.Time `json:"lastAuthFailure,omitempty"`
	LastKeyValidation *time.Time `json:"lastKeyValidation,omitempty"`
	LastAuthSuccess   *time.Time `json:"lastAuthSuccess,omitempty"`

	// Transport preferences, persisted after each successful connect.
	MCPConnectionMode ConnectionMode `json:"mcpConnectionMode,omitempty"`
	MCPServerURL      string         `json:"mcpServerUrl,omitempty"`
	LocalServerPath   string         `json:"localServerPath,omitempty"`
	LocalServerArgs   []string       `json:"localServerArgs,omitempty"`

	Verbose bool `json:"verbose,omitempty"`
}

// NewDocument returns a fresh document with a newly minted device identity.
func NewDocument() *Document {
	return &Document{
		Version:  CurrentVersion,
		DeviceID: uuid.NewString(),
	}
}

// Migrate brings the document up to CurrentVersion, filling fields older
// versions lacked. It reports whether anything changed.
func (d *Document) Migrate() bool {
	changed := false
	if d.DeviceID == "" {
		d.DeviceID = uuid.NewString()
		changed = true
	}
	if d.Version < CurrentVersion {
		d.Version = CurrentVersion
		changed = true
	}
	return changed
}

// ClearCredentials removes every credential and auth bookkeeping field.
// Device identity, discovered endpoints, and transport preferences survive a
// logout; they describe the machine, not the user.
func (d *Document) ClearCredentials() {
	d.Token = ""
	d.TokenExpiry = nil
	d.RefreshToken = ""
	d.AuthMethod = ""
	d.VendorKey = nil
	d.VendorKeyHash = ""
	d.AuthFailureCount = 0
	d.LastAuthFailure = nil
	d.LastKeyValidation = nil
	d.LastAuthSuccess = nil
}

// HasCredential reports whether any credential material is stored at all.
func (d *Document) HasCredential() bool {
	return d.Token != "" || d.VendorKey != nil
}
