package main

import (
	"fmt"

	"github.com/carequery/fhirpath/compiler"
	"github.com/spf13/cobra"
)

func newSQL(flags *rootFlags) *cobra.Command {
	var root, dialectName, codesTable string
	cmd := &cobra.Command{
		Use:   "sql <expression>",
		Short: "translate an expression to SQL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dialect, ok := compiler.Dialect(dialectName)
			if !ok {
				return fmt.Errorf("unknown dialect %q (bigquery or spark)", dialectName)
			}
			env, resolver, err := flags.loadEnvironment(cmd.Context())
			if err != nil {
				return err
			}
			compiled, err := compiler.Compile(env, root, args[0], &compiler.Options{
				Resolver:   resolver,
				CodesTable: codesTable,
			})
			if err != nil {
				return err
			}
			sql, err := compiled.SQL(cmd.Context(), dialect)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sql)
			return nil
		},
	}
	cmd.Flags().StringVarP(&root, "root", "r", "Patient", "root resource type")
	cmd.Flags().StringVarP(&dialectName, "dialect", "d", "bigquery", "SQL dialect: bigquery or spark")
	cmd.Flags().StringVar(&codesTable, "codes-table", "", "value-set codes table for memberOf joins")
	return cmd
}
