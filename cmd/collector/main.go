package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/finbert-ci/collector/pkg/pipeline"
)

var (
	// Global flags
	cfgFile string
	verbose bool

	// Build metadata, set by build flags
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "collector",
	Short: "Reddit sentiment collector for financial communities",
	Long: `Collector runs one ingestion pass over the configured subreddits:
fetches recent submissions, drops already-seen ones, classifies sentiment
with a FinBERT model, and appends the enriched records to a CSV sink.
Recurrence is the invoker's job; the process exits after one run.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional, environment overrides it)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Add subcommands
	rootCmd.AddCommand(runCmd)
}

// Commands are defined in separate files:
// - runCmd in run.go

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Stderr.WriteString("Error: " + err.Error() + "\n")
		os.Exit(pipeline.ExitCode(err))
	}
}
