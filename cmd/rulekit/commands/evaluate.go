package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rulekit/rulekit/pkg/engine"
	"github.com/rulekit/rulekit/pkg/loader"
	"github.com/rulekit/rulekit/pkg/stores"
)

func newEvaluateCommand() *cobra.Command {
	var (
		factsFile      string
		factPairs      []string
		allowUndefined bool
		dbPath         string
		ruleSet        string
	)

	cmd := &cobra.Command{
		Use:   "evaluate <path>...",
		Short: "Evaluate rules against facts",
		Long: `Load rule documents and evaluate them against runtime facts.

Facts come from a JSON file, inline key=value pairs, or both; inline pairs
win on conflict. Values of inline pairs are parsed as JSON when possible and
fall back to plain strings.`,
		Example: `  # Evaluate a rule file against a facts file
  rulekit evaluate ./rules/checkout.yaml --facts ./facts.json

  # Inline facts
  rulekit evaluate ./rules --fact customerTier=gold --fact cartTotal=120

  # Record the run in a history database
  rulekit evaluate ./rules --facts ./facts.json --db ./rulekit.db`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			l := loader.NewLoader(log.Logger)
			rules, err := l.LoadFromPaths(ctx, args)
			if err != nil {
				return err
			}

			facts, err := collectFacts(factsFile, factPairs)
			if err != nil {
				return err
			}

			eng := engine.NewEngine(engine.Config{
				AllowUndefinedFacts: allowUndefined,
				Logger:              &log.Logger,
			})
			for _, rule := range rules {
				if err := eng.AddRule(rule); err != nil {
					return err
				}
			}

			result, err := eng.Run(ctx, facts)
			if err != nil {
				return err
			}

			if dbPath != "" {
				if err := recordRun(ctx, dbPath, ruleSet, result); err != nil {
					return err
				}
			}

			return printRunResult(result)
		},
	}

	cmd.Flags().StringVarP(&factsFile, "facts", "f", "", "JSON file of runtime facts")
	cmd.Flags().StringArrayVar(&factPairs, "fact", nil, "inline runtime fact (key=value)")
	cmd.Flags().BoolVar(&allowUndefined, "allow-undefined", false, "treat undefined facts as nil instead of errors")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database to record the run in")
	cmd.Flags().StringVar(&ruleSet, "rule-set", "", "rule set name to attribute the run to")

	return cmd
}

// collectFacts merges facts from a JSON file and inline key=value pairs.
func collectFacts(factsFile string, factPairs []string) (map[string]any, error) {
	facts := make(map[string]any)

	if factsFile != "" {
		data, err := os.ReadFile(factsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read facts file: %w", err)
		}
		if err := json.Unmarshal(data, &facts); err != nil {
			return nil, fmt.Errorf("failed to parse facts file: %w", err)
		}
	}

	for _, pair := range factPairs {
		key, raw, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid fact %q, expected key=value", pair)
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		facts[key] = value
	}

	return facts, nil
}

// recordRun persists the run result in the given history database.
func recordRun(ctx context.Context, dbPath, ruleSet string, result *engine.RunResult) error {
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

	return store.RecordRunResult(ctx, ruleSet, result)
}

// printRunResult writes the run outcome to stdout.
func printRunResult(result *engine.RunResult) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Printf("Run %s: %s in %s\n", result.RunID, result.Status, result.Duration)
	for _, event := range result.Events {
		if len(event.Params) > 0 {
			params, err := json.Marshal(event.Params)
			if err != nil {
				return err
			}
			fmt.Printf("  fired: %s %s\n", event.Type, params)
		} else {
			fmt.Printf("  fired: %s\n", event.Type)
		}
	}
	for _, err := range result.Errors {
		fmt.Printf("  error: %v\n", err)
	}
	return nil
}
