// Package cliout renders command results for terminals and scripts.
// It supports table, JSON and YAML output plus structured errors that
// carry the fault class and remediation line.
package cliout

import (
	"fmt"
	"os"
	"strings"
)

// Formatter converts command results into printable output.
// Implementations are stateless and safe for concurrent use.
type Formatter interface {
	// Format renders a struct, slice, or map.
	Format(data interface{}) (string, error)

	// FormatError renders a structured error.
	FormatError(err StructuredError) (string, error)

	// FormatTable renders rows under the given column headers.
	FormatTable(headers []string, rows [][]string) (string, error)
}

// New creates a formatter for the given format name.
// Supported: table, json, yaml (case-insensitive; empty means table).
func New(format string) (Formatter, error) {
	switch strings.ToLower(format) {
	case "json":
		return &JSONFormatter{Indent: true}, nil
	case "yaml":
		return &YAMLFormatter{}, nil
	case "table", "":
		return &TableFormatter{
			NoColor: os.Getenv("NO_COLOR") == "1",
		}, nil
	default:
		return nil, fmt.Errorf("unknown output format: %s (valid: table, json, yaml)", format)
	}
}

// ResolveFormat determines the output format from flags and environment.
// Priority: --output flag > --json alias > ONASIS_OUTPUT env var > table.
func ResolveFormat(outputFlag string, jsonFlag bool) string {
	if jsonFlag {
		return "json"
	}
	if outputFlag != "" {
		return outputFlag
	}
	if env := os.Getenv("ONASIS_OUTPUT"); env != "" {
		return env
	}
	return "table"
}
