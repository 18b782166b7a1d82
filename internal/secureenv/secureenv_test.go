package secureenv

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestBuild_FiltersUnlistedVariables tests that only allowlisted variables reach the child
func TestBuild_FiltersUnlistedVariables(t *testing.T) {
	t.Setenv("ONASIS_API_KEY", "pk_test.sk_test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "super-secret")
	t.Setenv("LANG", "en_US.UTF-8")

	env := NewManager(nil).Build()

	joined := strings.Join(env, "\n")
	assert.NotContains(t, joined, "ONASIS_API_KEY")
	assert.NotContains(t, joined, "AWS_SECRET_ACCESS_KEY")
	assert.Contains(t, env, "LANG=en_US.UTF-8")
}

// TestBuild_CustomVarsWinOverInherited tests explicit variables overriding system ones
func TestBuild_CustomVarsWinOverInherited(t *testing.T) {
	t.Setenv("LANG", "en_US.UTF-8")

	m := NewManager(nil)
	m.Set("LANG", "C")
	m.Set("MEMORY_SERVER_PORT", "9090")
	env := m.Build()

	assert.Contains(t, env, "LANG=C")
	assert.Contains(t, env, "MEMORY_SERVER_PORT=9090")
}

// TestBuild_AlwaysProvidesPath tests the PATH fallback for bare service environments
func TestBuild_AlwaysProvidesPath(t *testing.T) {
	t.Setenv("PATH", "")

	env := NewManager(nil).Build()

	var path string
	for _, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			path = strings.TrimPrefix(kv, "PATH=")
		}
	}
	assert.NotEmpty(t, path)
}

// TestBuild_DeterministicOrder tests that repeated builds agree
func TestBuild_DeterministicOrder(t *testing.T) {
	m := NewManager(nil)
	m.Set("B_VAR", "2")
	m.Set("A_VAR", "1")

	first := m.Build()
	second := m.Build()
	assert.Equal(t, first, second)
}
