package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lanonasis/memctl-go/internal/cliout"
	"github.com/lanonasis/memctl-go/internal/index"
)

var (
	recallLimit int

	recallCmd = &cobra.Command{
		Use:   "recall <query>",
		Short: "Search previously seen memories offline",
		Long: `Search the local index of memories observed in earlier tool results.
Works without a connection; results reflect what this machine has seen,
not the full remote store.`,
		Example: `  memctl recall "deploy checklist"
  memctl recall standup --limit 5 --output json`,
		Args: cobra.MinimumNArgs(1),
		RunE: runRecall,
	}
)

func init() {
	recallCmd.Flags().IntVar(&recallLimit, "limit", 10, "Maximum hits to show")
}

func runRecall(_ *cobra.Command, args []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	recall, err := index.Open(a.store.Dir(), a.logger)
	if err != nil {
		return err
	}
	defer recall.Close()

	hits, err := recall.Search(strings.Join(args, " "), recallLimit)
	if err != nil {
		return err
	}

	if cliout.ResolveFormat(outputFormat, jsonOutput) != "table" {
		return printData(hits)
	}

	if len(hits) == 0 {
		fmt.Println("No matches")
		return nil
	}
	rows := make([][]string, 0, len(hits))
	for _, hit := range hits {
		rows = append(rows, []string{
			hit.Entry.ID,
			hit.Entry.Title,
			fmt.Sprintf("%.2f", hit.Score),
		})
	}
	return printTable([]string{"ID", "Title", "Score"}, rows)
}
