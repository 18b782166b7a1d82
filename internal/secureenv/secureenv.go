// Package secureenv builds the environment for locally spawned server
// processes. The child gets an allowlist of system variables plus whatever
// the caller adds explicitly, never the full parent environment, so stray
// credentials in the shell do not leak into subprocesses.
package secureenv

import (
	"fmt"
	"os"
	"runtime"
	"sort"
)

// defaultUnixPath is used when the parent has no PATH at all, which happens
// under some service managers.
const defaultUnixPath = "/usr/local/bin:/usr/bin:/bin"

// Config controls which variables the child inherits.
type Config struct {
	AllowedSystemVars []string
	CustomVars        map[string]string
}

// DefaultConfig allows the variables a well-behaved server binary needs and
// nothing else.
func DefaultConfig() *Config {
	allowed := []string{
		"PATH",
		"HOME",
		"TMPDIR",
		"TEMP",
		"TMP",
		"SHELL",
		"TERM",
		"LANG",
		"USER",
		"USERNAME",
		"LC_ALL",
		"LC_CTYPE",
		"LC_MESSAGES",
	}
	if runtime.GOOS == "windows" {
		allowed = append(allowed,
			"USERPROFILE",
			"APPDATA",
			"LOCALAPPDATA",
			"SYSTEMROOT",
			"COMSPEC",
		)
	} else {
		allowed = append(allowed,
			"XDG_CONFIG_HOME",
			"XDG_DATA_HOME",
			"XDG_CACHE_HOME",
			"XDG_RUNTIME_DIR",
		)
	}
	return &Config{
		AllowedSystemVars: allowed,
		CustomVars:        make(map[string]string),
	}
}

// Manager assembles child environments from the allowlist.
type Manager struct {
	config *Config
}

// NewManager falls back to DefaultConfig when config is nil.
func NewManager(config *Config) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	if config.CustomVars == nil {
		config.CustomVars = make(map[string]string)
	}
	return &Manager{config: config}
}

// Set adds or overrides a variable the child will receive.
func (m *Manager) Set(key, value string) {
	m.config.CustomVars[key] = value
}

// Build returns the child environment in KEY=VALUE form. Custom variables
// win over inherited ones, and PATH is always present.
func (m *Manager) Build() []string {
	values := make(map[string]string, len(m.config.AllowedSystemVars)+len(m.config.CustomVars))
	for _, key := range m.config.AllowedSystemVars {
		if v, ok := os.LookupEnv(key); ok {
			values[key] = v
		}
	}
	for k, v := range m.config.CustomVars {
		values[k] = v
	}
	if values["PATH"] == "" && runtime.GOOS != "windows" {
		values["PATH"] = defaultUnixPath
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, values[k]))
	}
	return env
}
