package main

import (
	"encoding/json"
	"fmt"

	"github.com/carequery/fhirpath"
	"github.com/spf13/cobra"
)

func newEval(flags *rootFlags) *cobra.Command {
	var resourcePath string
	cmd := &cobra.Command{
		Use:   "eval <expression>",
		Short: "evaluate an expression against a resource file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resource, err := readResource(resourcePath)
			if err != nil {
				return err
			}
			compiled, err := flags.compile(cmd.Context(), resource.ResourceType(), args[0])
			if err != nil {
				return err
			}
			out, err := compiled.Evaluate(cmd.Context(), resource)
			if err != nil {
				return err
			}
			return printCollection(cmd, out)
		},
	}
	cmd.Flags().StringVarP(&resourcePath, "resource", "i", "", "JSON resource file")
	cmd.MarkFlagRequired("resource")
	return cmd
}

func printCollection(cmd *cobra.Command, out fhirpath.Collection) error {
	w := cmd.OutOrStdout()
	for _, v := range out {
		if elem, ok := v.AsElement(); ok {
			b, err := json.Marshal(elem)
			if err != nil {
				return err
			}
			fmt.Fprintln(w, string(b))
			continue
		}
		fmt.Fprintln(w, v.String())
	}
	return nil
}
