package main

import (
	"context"
	"fmt"
	"os"

	"github.com/carequery/fhirpath"
	"github.com/carequery/fhirpath/compiler"
	"github.com/carequery/fhirpath/fhirpack"
	"github.com/carequery/fhirpath/pkg/storage"
	"github.com/carequery/fhirpath/schema"
	"github.com/carequery/fhirpath/terminology"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type rootFlags struct {
	packageURI string
	verbose    bool
}

func newRoot() *cobra.Command {
	var flags rootFlags
	cmd := &cobra.Command{
		Use:           "fhirpath",
		Short:         "compile, evaluate, and translate FHIRPath expressions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&flags.packageURI, "package", "p", "",
		"definition package URI (directory, .tgz, or s3://...)")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false,
		"log progress to stderr")
	cmd.AddCommand(
		newParse(),
		newSQL(&flags),
		newEval(&flags),
		newREPL(&flags),
		newServe(&flags),
	)
	return cmd
}

func (f *rootFlags) logger() (*zap.Logger, error) {
	if !f.verbose {
		return zap.NewNop(), nil
	}
	conf := zap.NewDevelopmentConfig()
	return conf.Build()
}

// loadEnvironment loads the definition package named by --package and
// returns the navigation environment plus a local terminology resolver
// over the package's value sets.
func (f *rootFlags) loadEnvironment(ctx context.Context) (*schema.Environment, terminology.Resolver, error) {
	if f.packageURI == "" {
		return nil, nil, fmt.Errorf("no definition package: use --package")
	}
	logger, err := f.logger()
	if err != nil {
		return nil, nil, err
	}
	uri, err := storage.ParseURI(f.packageURI)
	if err != nil {
		return nil, nil, err
	}
	bundle, err := fhirpack.NewLoader(storage.NewEngine(), logger).Load(ctx, uri)
	if err != nil {
		return nil, nil, err
	}
	env, err := bundle.Environment()
	if err != nil {
		return nil, nil, err
	}
	resolver := terminology.Chain{
		terminology.NewLocalResolver(bundle, logger),
		&terminology.ServiceClient{Logger: logger},
	}
	return env, resolver, nil
}

func (f *rootFlags) compile(ctx context.Context, root, src string) (*compiler.CompiledExpression, error) {
	env, resolver, err := f.loadEnvironment(ctx)
	if err != nil {
		return nil, err
	}
	return compiler.Compile(env, root, src, &compiler.Options{Resolver: resolver})
}

func readResource(path string) (*fhirpath.Resource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return fhirpath.ParseResource(data)
}
