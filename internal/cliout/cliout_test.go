package cliout

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/lanonasis/memctl-go/internal/faults"
)

func TestNew(t *testing.T) {
	tests := []struct {
		format  string
		want    interface{}
		wantErr bool
	}{
		{format: "json", want: &JSONFormatter{}},
		{format: "JSON", want: &JSONFormatter{}},
		{format: "yaml", want: &YAMLFormatter{}},
		{format: "table", want: &TableFormatter{}},
		{format: "", want: &TableFormatter{}},
		{format: "xml", wantErr: true},
	}
	for _, tt := range tests {
		t.Run("format_"+tt.format, func(t *testing.T) {
			f, err := New(tt.format)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, f)
		})
	}
}

func TestResolveFormat(t *testing.T) {
	t.Run("flag wins over env", func(t *testing.T) {
		t.Setenv("ONASIS_OUTPUT", "yaml")
		assert.Equal(t, "json", ResolveFormat("json", false))
	})

	t.Run("json alias", func(t *testing.T) {
		assert.Equal(t, "json", ResolveFormat("", true))
	})

	t.Run("env fallback", func(t *testing.T) {
		t.Setenv("ONASIS_OUTPUT", "yaml")
		assert.Equal(t, "yaml", ResolveFormat("", false))
	})

	t.Run("default", func(t *testing.T) {
		t.Setenv("ONASIS_OUTPUT", "")
		assert.Equal(t, "table", ResolveFormat("", false))
	})
}

func TestJSONFormatter_FormatTable(t *testing.T) {
	f := &JSONFormatter{}
	out, err := f.FormatTable([]string{"Tool", "Mode"}, [][]string{
		{"search_memories", "remote"},
		{"create_memory"},
	})
	require.NoError(t, err)

	var rows []map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "search_memories", rows[0]["tool"])
	assert.Equal(t, "remote", rows[0]["mode"])
	assert.Equal(t, "", rows[1]["mode"], "short rows pad with empty strings")
}

func TestYAMLFormatter_Format(t *testing.T) {
	f := &YAMLFormatter{}
	out, err := f.Format(map[string]string{"status": "connected"})
	require.NoError(t, err)

	var parsed map[string]string
	require.NoError(t, yaml.Unmarshal([]byte(out), &parsed))
	assert.Equal(t, "connected", parsed["status"])
}

func TestTableFormatter_EmptyRows(t *testing.T) {
	f := &TableFormatter{}
	out, err := f.FormatTable([]string{"ID"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "No results\n", out)
}

func TestTableFormatter_FormatError(t *testing.T) {
	f := &TableFormatter{}
	serr := StructuredError{
		Code:      "authentication_required",
		Message:   "no credentials configured",
		Remedy:    "run 'memctl login' to authenticate",
		RequestID: "req-123",
	}
	out, err := f.FormatError(serr)
	require.NoError(t, err)
	assert.Contains(t, out, "Error: no credentials configured")
	assert.Contains(t, out, "Try: run 'memctl login'")
	assert.Contains(t, out, "Request ID: req-123")
}

func TestFromError_LiftsFaultClass(t *testing.T) {
	err := faults.New(faults.AuthRequired, "no credentials configured")
	serr := FromError(err)
	assert.Equal(t, "authentication_required", serr.Code)
	assert.Equal(t, "run 'memctl login' to authenticate", serr.Remedy)
}

func TestFromError_PlainError(t *testing.T) {
	serr := FromError(assert.AnError)
	assert.Equal(t, "operation_failed", serr.Code)
	assert.Empty(t, serr.Remedy)
}
