package main

import (
	"os/signal"
	"syscall"

	"github.com/carequery/fhirpath/service"
	"github.com/spf13/cobra"
)

func newServe(flags *rootFlags) *cobra.Command {
	var configPath, listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "serve the expression HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf := service.DefaultConfig
			if configPath != "" {
				var err error
				conf, err = service.LoadConfig(configPath)
				if err != nil {
					return err
				}
			}
			if listen != "" {
				conf.Listen = listen
			}
			if flags.packageURI != "" {
				conf.Package = flags.packageURI
			}
			logger, err := service.NewLogger(conf.Logger)
			if err != nil {
				return err
			}
			defer logger.Sync()
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			core, err := service.NewCore(ctx, conf, logger)
			if err != nil {
				return err
			}
			return core.Run(ctx)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address override")
	return cmd
}
