package main

import (
	"github.com/spf13/cobra"

	"github.com/lanonasis/memctl-go/internal/cliout"
)

var (
	toolsMode string

	toolsCmd = &cobra.Command{
		Use:   "tools",
		Short: "List the available memory tools",
		Example: `  memctl tools
  memctl tools --mode local --output json`,
		RunE: runTools,
	}
)

func init() {
	toolsCmd.Flags().StringVar(&toolsMode, "mode", "", "Connection mode (local, remote, websocket)")
}

func runTools(cmd *cobra.Command, _ []string) error {
	flagMode, err := parseModeFlag(toolsMode)
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

	tools, err := s.bridge.ListTools(ctx)
	if err != nil {
		return err
	}

	if cliout.ResolveFormat(outputFormat, jsonOutput) != "table" {
		return printData(tools)
	}

	rows := make([][]string, 0, len(tools))
	for _, tool := range tools {
		rows = append(rows, []string{tool.Name, tool.Description})
	}
	return printTable([]string{"Tool", "Description"}, rows)
}
