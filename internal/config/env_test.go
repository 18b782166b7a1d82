package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvEndpoints_NoneSet(t *testing.T) {
	SetupEnv()
	assert.Nil(t, EnvEndpoints())
}

func TestEnvEndpoints_APIBaseDerivesServiceBases(t *testing.T) {
	SetupEnv()
	t.Setenv("ONASIS_API_BASE", "https://staging.lanonasis.com/")

	eps := EnvEndpoints()
	require.NotNil(t, eps)
	assert.Equal(t, "https://staging.lanonasis.com/api/v1/auth", eps.AuthBase)
	assert.Equal(t, "https://staging.lanonasis.com/api/v1/memory", eps.MemoryBase)
}

func TestEnvEndpoints_IndividualOverrideWins(t *testing.T) {
	SetupEnv()
	t.Setenv("ONASIS_API_BASE", "https://staging.lanonasis.com")
	t.Setenv("ONASIS_AUTH_BASE", "https://auth.elsewhere.dev")
	t.Setenv("ONASIS_MCP_WS_BASE", "wss://mcp.elsewhere.dev/ws")

	eps := EnvEndpoints()
	require.NotNil(t, eps)
	assert.Equal(t, "https://auth.elsewhere.dev", eps.AuthBase)
	assert.Equal(t, "https://staging.lanonasis.com/api/v1/memory", eps.MemoryBase)
	assert.Equal(t, "wss://mcp.elsewhere.dev/ws", eps.MCPWSBase)
}

func TestEnvAPIKey(t *testing.T) {
	SetupEnv()
	assert.Empty(t, EnvAPIKey())

	t.Setenv("ONASIS_API_KEY", "pk_x.sk_y")
	assert.Equal(t, "pk_x.sk_y", EnvAPIKey())
}

func TestEnvSkipDiscovery(t *testing.T) {
	SetupEnv()
	assert.False(t, EnvSkipDiscovery())

	t.Setenv("ONASIS_SKIP_DISCOVERY", "true")
	assert.True(t, EnvSkipDiscovery())
}
