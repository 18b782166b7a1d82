package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lanonasis/memctl-go/internal/cliout"
	"github.com/lanonasis/memctl-go/internal/history"
)

var (
	historyLimit     int
	historyOlderThan time.Duration

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "Show recent tool invocations",
		Long:  "List tool invocations recorded locally, newest first.",
		Example: `  memctl history
  memctl history --limit 10 --output json`,
		RunE: runHistory,
	}

	historyPruneCmd = &cobra.Command{
		Use:     "prune",
		Short:   "Delete old invocation records",
		Example: `  memctl history prune --older-than 720h`,
		RunE:    runHistoryPrune,
	}
)

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", history.DefaultListLimit, "Maximum records to show")
	historyPruneCmd.Flags().DurationVar(&historyOlderThan, "older-than", 30*24*time.Hour, "Delete records older than this duration")
	historyCmd.AddCommand(historyPruneCmd)
}

func openHistory(a *app) (*history.Store, error) {
	return history.Open(a.store.Dir(), a.logger)
}

func runHistory(_ *cobra.Command, _ []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	hist, err := openHistory(a)
	if err != nil {
		return err
	}
	defer hist.Close()

	records, err := hist.List(historyLimit)
	if err != nil {
		return err
	}

	if cliout.ResolveFormat(outputFormat, jsonOutput) != "table" {
		return printData(records)
	}

	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		status := "ok"
		if !rec.OK {
			status = "error"
		}
		rows = append(rows, []string{
			rec.At.Format(time.RFC3339),
			rec.Tool,
			rec.Mode,
			status,
			rec.Duration.Truncate(time.Millisecond).String(),
		})
	}
	return printTable([]string{"Time", "Tool", "Mode", "Status", "Duration"}, rows)
}

func runHistoryPrune(_ *cobra.Command, _ []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	hist, err := openHistory(a)
	if err != nil {
		return err
	}
	defer hist.Close()

	removed, err := hist.Prune(time.Now().Add(-historyOlderThan))
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d records\n", removed)
	return nil
}
