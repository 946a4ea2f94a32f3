package main

import (
	"fmt"

	"github.com/carequery/fhirpath/compiler/parser"
	"github.com/carequery/fhirpath/compiler/sfmt"
	"github.com/spf13/cobra"
)

func newParse() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <expression>",
		Short: "parse an expression and print its canonical form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			expr, err := parser.Parse(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sfmt.AST(expr))
			return nil
		},
	}
}
