package cliout

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"golang.org/x/term"
)

// TableFormatter renders human-readable output for terminals.
type TableFormatter struct {
	NoColor bool
}

// Format falls back to a plain rendering for non-tabular data.
func (f *TableFormatter) Format(data interface{}) (string, error) {
	return fmt.Sprintf("%v\n", data), nil
}

// FormatError renders the message, the remediation line when present,
// and the request ID for server-side log correlation.
func (f *TableFormatter) FormatError(serr StructuredError) (string, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Error: %s\n", serr.Message)
	if serr.Code != "" {
		fmt.Fprintf(&buf, "  Class: %s\n", serr.Code)
	}
	if serr.Remedy != "" {
		fmt.Fprintf(&buf, "  Try: %s\n", serr.Remedy)
	}
	if serr.RequestID != "" {
		fmt.Fprintf(&buf, "  Request ID: %s\n", serr.RequestID)
	}
	return buf.String(), nil
}

// FormatTable renders rows with tab alignment.
func (f *TableFormatter) FormatTable(headers []string, rows [][]string) (string, error) {
	if len(rows) == 0 {
		return "No results\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, strings.Join(headers, "\t"))

	if f.isTTY() {
		separators := make([]string, len(headers))
		for i := range separators {
			separators[i] = strings.Repeat("-", len(headers[i]))
		}
		fmt.Fprintln(w, strings.Join(separators, "\t"))
	}

	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}

	if err := w.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (f *TableFormatter) isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
