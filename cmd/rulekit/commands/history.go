package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rulekit/rulekit/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded run history",
	}

	cmd.PersistentFlags().StringVar(&dbPath, "db", "rulekit.db", "SQLite database path")

	cmd.AddCommand(newHistoryListCommand(&dbPath))
	cmd.AddCommand(newHistoryEventsCommand(&dbPath))
	cmd.AddCommand(newHistoryPruneCommand(&dbPath))

	return cmd
}

func newHistoryListCommand(dbPath *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withStore(ctx, *dbPath, func(store *stores.SQLiteStore) error {
				runs, err := store.ListRuns(ctx, limit, 0)
				if err != nil {
					return err
				}

				if jsonOutput {
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					return enc.Encode(runs)
				}

				for _, run := range runs {
					fmt.Printf("%s\t%s\t%s\trules=%d events=%d errors=%d %dms\n",
						run.ID, run.StartedAt.Format(time.RFC3339), run.Status,
						run.RuleCount, run.EventCount, run.ErrorCount, run.DurationMs)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")

	return cmd
}

func newHistoryEventsCommand(dbPath *string) *cobra.Command {
	var failuresOnly bool

	cmd := &cobra.Command{
		Use:   "events <run-id>",
		Short: "List the events of a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withStore(ctx, *dbPath, func(store *stores.SQLiteStore) error {
				var outcome *stores.Outcome
				if failuresOnly {
					failure := stores.OutcomeFailure
					outcome = &failure
				}

				events, err := store.ListRunEvents(ctx, args[0], outcome, 1000, 0)
				if err != nil {
					return err
				}

				if jsonOutput {
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					return enc.Encode(events)
				}

				for _, event := range events {
					params := ""
					if event.Params != nil {
						params = " " + *event.Params
					}
					fmt.Printf("%s\t%s\t%s%s\n", event.RuleName, event.Outcome, event.EventType, params)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&failuresOnly, "failures", false, "show only failure events")

	return cmd
}

func newHistoryPruneCommand(dbPath *string) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete runs older than a retention window",
		Example: `  # Delete runs older than 30 days
  rulekit history prune --older-than 720h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withStore(ctx, *dbPath, func(store *stores.SQLiteStore) error {
				pruned, err := store.PruneRuns(ctx, time.Now().Add(-olderThan))
				if err != nil {
					return err
				}
				fmt.Printf("Pruned %d runs\n", pruned)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "retention window")

	return cmd
}
