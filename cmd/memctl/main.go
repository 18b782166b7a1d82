// memctl is the command-line client for the Lanonasis memory service.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/lanonasis/memctl-go/internal/cliout"
	"github.com/lanonasis/memctl-go/internal/config"
)

var (
	logLevel  string
	logToFile bool
	logDir    string

	outputFormat  string
	jsonOutput    bool
	traceEndpoint string

	version = "development" // injected by -ldflags at build time
)

func main() {
	config.SetupEnv()

	rootCmd := &cobra.Command{
		Use:           "memctl",
		Short:         "Client for the Lanonasis memory service",
		Long:          "memctl connects to the hosted memory service over websocket, REST, or a local MCP server, and exposes the memory tools on the command line.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Accept underscore spellings of flag names (log_level, metrics_listen).
	rootCmd.PersistentFlags().SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logToFile, "log-to-file", true, "Enable logging to file under ~/.onasis/logs")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Custom log directory path")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "", "Output format (table, json, yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Shorthand for --output json")
	rootCmd.PersistentFlags().StringVar(&traceEndpoint, "trace-endpoint", "", "OTLP/HTTP endpoint for trace export")

	rootCmd.AddCommand(
		loginCmd,
		logoutCmd,
		statusCmd,
		connectCmd,
		callCmd,
		toolsCmd,
		historyCmd,
		recallCmd,
		configCmd,
		upgradeCmd,
	)

	if err := rootCmd.Execute(); err != nil {
		printError(err)
		os.Exit(exitCode(err))
	}
}

// printError renders err through the active formatter; table output goes to
// stderr so piped JSON stays clean.
func printError(err error) {
	f, ferr := cliout.New(cliout.ResolveFormat(outputFormat, jsonOutput))
	if ferr != nil {
		f = &cliout.TableFormatter{}
	}
	out, rerr := f.FormatError(cliout.FromError(err))
	if rerr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	fmt.Fprint(os.Stderr, out)
}
