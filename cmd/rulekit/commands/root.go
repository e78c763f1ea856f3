package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rulekit",
		Short: "Rulekit - Concurrent Rule Evaluation Engine",
		Long: `Rulekit evaluates declarative business rules against runtime facts.

Features:
  - Rules as boolean trees of fact tests with all/any combinators
  - Priority-ordered, concurrent evaluation with short-circuiting
  - Per-run fact memoization with in-flight deduplication
  - Rule documents in YAML or JSON with hot reload
  - SQLite-backed rule sets and run history`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newEvaluateCommand())
	rootCmd.AddCommand(newRulesCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}
