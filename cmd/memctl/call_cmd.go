package main

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	callArgsJSON string
	callMode     string

	callCmd = &cobra.Command{
		Use:   "call <tool>",
		Short: "Invoke a memory tool",
		Long: `Connect, invoke a single memory tool, print the result as JSON, and
disconnect. Arguments are passed as one JSON object via --args.`,
		Example: `  memctl call list_memories
  memctl call create_memory --args '{"title":"Standup","content":"notes..."}'
  memctl call search_memories --args '{"query":"deploy checklist"}' --mode remote`,
		Args: cobra.ExactArgs(1),
		RunE: runCall,
	}
)

func init() {
	callCmd.Flags().StringVar(&callArgsJSON, "args", "", "Tool arguments as a JSON object")
	callCmd.Flags().StringVar(&callMode, "mode", "", "Connection mode (local, remote, websocket)")
}

func runCall(cmd *cobra.Command, args []string) error {
	toolArgs, err := parseToolArgs(callArgsJSON)
	if err != nil {
		return err
	}
	flagMode, err := parseModeFlag(callMode)
	if err != nil {
		return err
	}

	a, err := newApp(false)
	if err != nil {
		return err
	}
	s, err := newSession(a)
	if err != nil {
		return err
	}
	defer s.close()

	ctx := cmd.Context()
	if err := s.connector.Connect(ctx, connectOptions(flagMode)); err != nil {
		return err
	}

	result, err := s.bridge.CallTool(ctx, args[0], toolArgs)
	if err != nil {
		return err
	}
	return printRawJSON(result)
}

// printRawJSON re-indents a raw tool result for the terminal.
func printRawJSON(raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
		return nil
	}
	fmt.Println(buf.String())
	return nil
}
