package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rulekit/rulekit/pkg/loader"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [path...]",
		Short: "Validate rule document files",
		Long: `Validate rule documents without evaluating them.

This command checks:
  - YAML/JSON syntax validity
  - Document structure (names, events, required fields)
  - Condition tree shape (all/any combinators, leaf tests, known operators
    are checked at evaluation time)`,
		Example: `  # Validate rule files in the current directory
  rulekit validate .

  # Validate a specific file
  rulekit validate ./rules/checkout.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l := loader.NewLoader(log.Logger)

			rules, err := l.LoadFromPaths(cmd.Context(), args)
			if err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}

			fmt.Printf("OK: %d rules across %d paths\n", len(rules), len(args))
			return nil
		},
	}

	return cmd
}
