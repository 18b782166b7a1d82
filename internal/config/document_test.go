package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDocument(t *testing.T) {
	doc := NewDocument()

	assert.Equal(t, CurrentVersion, doc.Version)
	assert.NotEmpty(t, doc.DeviceID)
	assert.NotEqual(t, NewDocument().DeviceID, doc.DeviceID, "device ids are unique")
}

func TestMigrate(t *testing.T) {
	doc := &Document{Version: 1}
	assert.True(t, doc.Migrate())
	assert.Equal(t, CurrentVersion, doc.Version)
	assert.NotEmpty(t, doc.DeviceID, "migration mints a missing device id")

	// Already current: nothing to do.
	assert.False(t, doc.Migrate())
}

func TestClearCredentials(t *testing.T) {
	now := time.Now()
	doc := NewDocument()
	deviceID := doc.DeviceID
	doc.Token = "secret"
	doc.RefreshToken = "refresh"
	doc.TokenExpiry = &now
	doc.AuthMethod = AuthOAuth
	doc.VendorKeyHash = "abc"
	doc.AuthFailureCount = 4
	doc.LastAuthFailure = &now
	doc.MCPConnectionMode = ModeLocal
	doc.DiscoveredServices = &DiscoveredEndpoints{AuthBase: "https://a"}

	doc.ClearCredentials()

	assert.False(t, doc.HasCredential())
	assert.Empty(t, doc.Token)
	assert.Empty(t, doc.RefreshToken)
	assert.Nil(t, doc.TokenExpiry)
	assert.Empty(t, doc.AuthMethod)
	assert.Empty(t, doc.VendorKeyHash)
	assert.Zero(t, doc.AuthFailureCount)
	assert.Nil(t, doc.LastAuthFailure)

	assert.Equal(t, deviceID, doc.DeviceID, "logout keeps the device identity")
	assert.Equal(t, ModeLocal, doc.MCPConnectionMode, "logout keeps transport preference")
	assert.NotNil(t, doc.DiscoveredServices, "logout keeps the endpoint cache")
}

func TestDocument_WireFieldNames(t *testing.T) {
	now := time.Now()
	doc := NewDocument()
	doc.Token = "t"
	doc.TokenExpiry = &now
	doc.AuthMethod = AuthVendorKey
	doc.LastServiceDiscovery = &now
	doc.MCPConnectionMode = ModeRemote
	doc.AuthFailureCount = 1
	doc.LastAuthFailure = &now

	data, err := json.Marshal(doc)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))

	for _, key := range []string{
		"version", "token", "tokenExpiry", "authMethod", "deviceId",
		"lastServiceDiscovery", "mcpConnectionMode", "authFailureCount", "lastAuthFailure",
	} {
		assert.Contains(t, raw, key)
	}
}

func TestDiscoveredEndpoints_Complete(t *testing.T) {
	eps := &DiscoveredEndpoints{
		AuthBase:   "https://api.lanonasis.com/api/v1/auth",
		MemoryBase: "https://api.lanonasis.com/api/v1/memory",
		MCPBase:    "https://mcp.lanonasis.com",
		MCPWSBase:  "wss://mcp.lanonasis.com/ws",
		MCPSSEBase: "https://mcp.lanonasis.com/sse",
	}
	assert.True(t, eps.Complete())

	partial := &DiscoveredEndpoints{AuthBase: "https://a"}
	assert.False(t, partial.Complete())

	var nilEps *DiscoveredEndpoints
	assert.False(t, nilEps.Complete())
}
