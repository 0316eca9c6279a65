package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gxo-labs/ruleflow/internal/config"
	"github.com/gxo-labs/ruleflow/internal/module"
)

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <catalog>",
		Short: "Check a rule catalog against the schema and its structural rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			out := cmd.OutOrStdout()
			cat, err := config.LoadCatalogFromFile(path, module.DefaultRegistry)
			if err != nil {
				fmt.Fprintf(out, "Catalog '%s' is invalid:\n%v\n", path, err)
				return &ExitError{Code: ExitFailure}
			}
			steps := 0
			for _, p := range cat.Products {
				steps += len(p.Steps)
			}
			fmt.Fprintf(out, "Catalog '%s' is valid: %d rules, %d products, %d steps.\n",
				path, len(cat.Rules), len(cat.Products), steps)
			return nil
		},
	}
}
