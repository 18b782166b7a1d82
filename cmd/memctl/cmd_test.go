package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanonasis/memctl-go/internal/config"
	"github.com/lanonasis/memctl-go/internal/faults"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"auth required", faults.New(faults.AuthRequired, "no credentials"), ExitCodeAuthError},
		{"auth invalid", faults.New(faults.AuthInvalid, "rejected"), ExitCodeAuthError},
		{"decryption", faults.New(faults.Decryption, "bad blob"), ExitCodeAuthError},
		{"validation", faults.New(faults.Validation, "bad input"), ExitCodeValidation},
		{"unknown tool", faults.New(faults.UnknownTool, "nope"), ExitCodeValidation},
		{"network", faults.New(faults.Network, "refused"), ExitCodeNetwork},
		{"server", faults.New(faults.Server, "http 500"), ExitCodeNetwork},
		{"lock timeout", faults.New(faults.LockTimeout, "busy"), ExitCodeLockTimeout},
		{"plain error", assert.AnError, ExitCodeGeneralError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestParseToolArgs(t *testing.T) {
	args, err := parseToolArgs(`{"query":"deploy","limit":5}`)
	require.NoError(t, err)
	assert.Equal(t, "deploy", args["query"])

	args, err = parseToolArgs("")
	require.NoError(t, err)
	assert.Nil(t, args)

	_, err = parseToolArgs(`["not","an","object"]`)
	require.Error(t, err)
	assert.Equal(t, faults.Validation, faults.ClassOf(err))
}

func TestParseModeFlag(t *testing.T) {
	mode, err := parseModeFlag("")
	require.NoError(t, err)
	assert.Equal(t, config.ConnectionMode(""), mode)

	mode, err = parseModeFlag("websocket")
	require.NoError(t, err)
	assert.Equal(t, config.ModeWebSocket, mode)

	_, err = parseModeFlag("carrier-pigeon")
	require.Error(t, err)
}
