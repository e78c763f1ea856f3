package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rulekit/rulekit/pkg/loader"
	"github.com/rulekit/rulekit/pkg/stores"
)

func newRulesCommand() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage stored rule sets",
		Long: `Manage named rule sets in the SQLite store.

Stored rule sets keep a serialized copy of the rules, so they can be
reloaded and evaluated without the original document files.`,
	}

	cmd.PersistentFlags().StringVar(&dbPath, "db", "rulekit.db", "SQLite database path")

	cmd.AddCommand(newRulesSaveCommand(&dbPath))
	cmd.AddCommand(newRulesListCommand(&dbPath))
	cmd.AddCommand(newRulesShowCommand(&dbPath))
	cmd.AddCommand(newRulesDeleteCommand(&dbPath))

	return cmd
}

func newRulesSaveCommand(dbPath *string) *cobra.Command {
	var version string

	cmd := &cobra.Command{
		Use:   "save <name> <path>...",
		Short: "Save rule documents as a named rule set",
		Example: `  # Save the checkout rules under the name "checkout"
  rulekit rules save checkout ./rules/checkout.yaml --version 1.0`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name := args[0]

			l := loader.NewLoader(log.Logger)
			rules, err := l.LoadFromPaths(ctx, args[1:])
			if err != nil {
				return err
			}

			set, err := stores.NewRuleSet(name, version, rules)
			if err != nil {
				return err
			}

			return withStore(ctx, *dbPath, func(store *stores.SQLiteStore) error {
				if err := store.SaveRuleSet(ctx, set); err != nil {
					return err
				}
				fmt.Printf("Saved rule set %q with %d rules\n", name, len(rules))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&version, "version", "", "rule set version label")

	return cmd
}

func newRulesListCommand(dbPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored rule sets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withStore(ctx, *dbPath, func(store *stores.SQLiteStore) error {
				sets, err := store.ListRuleSets(ctx, 100, 0)
				if err != nil {
					return err
				}

				if jsonOutput {
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					return enc.Encode(sets)
				}

				for _, set := range sets {
					state := "enabled"
					if !set.Enabled {
						state = "disabled"
					}
					fmt.Printf("%s\tv%s\t%s\tupdated %s\n",
						set.Name, set.Version, state, set.UpdatedAt.Format("2006-01-02 15:04:05"))
				}
				return nil
			})
		},
	}
}

func newRulesShowCommand(dbPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show the rules of a stored rule set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withStore(ctx, *dbPath, func(store *stores.SQLiteStore) error {
				set, err := store.GetRuleSet(ctx, args[0])
				if err != nil {
					return err
				}

				rules, err := set.Decode()
				if err != nil {
					return err
				}

				if jsonOutput {
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					return enc.Encode(rules)
				}

				fmt.Printf("Rule set %q v%s (%d rules)\n", set.Name, set.Version, len(rules))
				for _, rule := range rules {
					fmt.Printf("  %s (priority %d) -> %s\n",
						rule.Name(), rule.Priority(), rule.Event().Type)
				}
				return nil
			})
		},
	}
}

func newRulesDeleteCommand(dbPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a stored rule set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withStore(ctx, *dbPath, func(store *stores.SQLiteStore) error {
				if err := store.DeleteRuleSet(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("Deleted rule set %q\n", args[0])
				return nil
			})
		},
	}
}

// withStore opens, migrates, and closes the store around a unit of work.
func withStore(ctx context.Context, dbPath string, fn func(*stores.SQLiteStore) error) error {
	store, err := stores.NewSQLiteStore(stores.Config{Path: dbPath})
	if err != nil {
		return err
	}
	if err := store.Init(ctx); err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	return fn(store)
}
