package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/carequery/fhirpath"
	"github.com/carequery/fhirpath/compiler"
	"github.com/carequery/fhirpath/schema"
	"github.com/carequery/fhirpath/terminology"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"
)

func newREPL(flags *rootFlags) *cobra.Command {
	var resourcePath string
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "evaluate expressions interactively against a resource",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resource, err := readResource(resourcePath)
			if err != nil {
				return err
			}
			env, resolver, err := flags.loadEnvironment(cmd.Context())
			if err != nil {
				return err
			}
			line := liner.NewLiner()
			defer line.Close()
			line.SetCtrlCAborts(true)
			histfile := filepath.Join(os.TempDir(), ".fhirpath_history")
			if f, err := os.Open(histfile); err == nil {
				line.ReadHistory(f)
				f.Close()
			}
			defer func() {
				if f, err := os.Create(histfile); err == nil {
					line.WriteHistory(f)
					f.Close()
				}
			}()
			fmt.Fprintf(cmd.OutOrStdout(), "evaluating against %s; ctrl-d to exit\n",
				resource.ResourceType())
			for {
				src, err := line.Prompt(resource.ResourceType() + "> ")
				if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
					return nil
				}
				if err != nil {
					return err
				}
				if strings.TrimSpace(src) == "" {
					continue
				}
				line.AppendHistory(src)
				if err := evalLine(cmd, flags, env, resolver, resource, src); err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), err)
				}
			}
		},
	}
	cmd.Flags().StringVarP(&resourcePath, "resource", "i", "", "JSON resource file")
	cmd.MarkFlagRequired("resource")
	return cmd
}

func evalLine(cmd *cobra.Command, flags *rootFlags, env *schema.Environment, resolver terminology.Resolver, resource *fhirpath.Resource, src string) error {
	compiled, err := compiler.Compile(env, resource.ResourceType(), src, &compiler.Options{Resolver: resolver})
	if err != nil {
		return err
	}
	out, err := compiled.Evaluate(cmd.Context(), resource)
	if err != nil {
		return err
	}
	return printCollection(cmd, out)
}
