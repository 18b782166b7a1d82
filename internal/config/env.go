package config

import (
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for all environment overrides (ONASIS_API_KEY,
// ONASIS_MCP_WS_BASE, ...).
const EnvPrefix = "ONASIS"

// SetupEnv wires viper to the process environment. Called once from the CLI
// entrypoint before anything reads overrides.
func SetupEnv() {
	viper.SetEnvPrefix(EnvPrefix)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	viper.SetDefault("env", "production")
	viper.SetDefault("skip-discovery", false)
}

// EnvAPIKey returns ONASIS_API_KEY, the lowest-precedence credential source.
func EnvAPIKey() string {
	return viper.GetString("api-key")
}

// EnvDiscoveryURL returns ONASIS_DISCOVERY_URL, prepended to the discovery
// attempt order when set.
func EnvDiscoveryURL() string {
	return viper.GetString("discovery-url")
}

// EnvSkipDiscovery reports whether ONASIS_SKIP_DISCOVERY short-circuits
// network discovery straight to fallback endpoints.
func EnvSkipDiscovery() bool {
	return viper.GetBool("skip-discovery")
}

// EnvTier returns ONASIS_ENV (production by default).
func EnvTier() string {
	return viper.GetString("env")
}

// EnvVaultPassphrase returns ONASIS_VAULT_PASSPHRASE, the optional passphrase
// mixed into the vendor key encryption key. Empty selects the built-in
// default, which still binds the blob to this machine.
func EnvVaultPassphrase() string {
	return viper.GetString("vault-passphrase")
}

// EnvEndpoints assembles endpoint overrides from the environment. Returns
// nil when no endpoint variable is set. ONASIS_API_BASE rewrites the derived
// bases wholesale; individual variables override single endpoints.
func EnvEndpoints() *DiscoveredEndpoints {
	eps := &DiscoveredEndpoints{}
	any := false

	if base := viper.GetString("api-base"); base != "" {
		base = strings.TrimRight(base, "/")
		eps.AuthBase = base + "/api/v1/auth"
		eps.MemoryBase = base + "/api/v1/memory"
		any = true
	}
	if v := viper.GetString("auth-base"); v != "" {
		eps.AuthBase = v
		any = true
	}
	if v := viper.GetString("memory-base"); v != "" {
		eps.MemoryBase = v
		any = true
	}
	if v := viper.GetString("mcp-base"); v != "" {
		eps.MCPBase = v
		any = true
	}
	if v := viper.GetString("mcp-ws-base"); v != "" {
		eps.MCPWSBase = v
		any = true
	}
	if v := viper.GetString("mcp-sse-base"); v != "" {
		eps.MCPSSEBase = v
		any = true
	}
	if v := viper.GetString("project-scope"); v != "" {
		eps.ProjectScope = v
		any = true
	}

	if !any {
		return nil
	}
	return eps
}
