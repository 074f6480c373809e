package main

import (
	"context"
	"os/signal"

	"github.com/spf13/cobra"
)

func newRunCmd(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the host until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := InitializeApp(*opts)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(runContext(cmd), shutdownSignals...)
			defer stop()
			return app.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&opts.ScenarioPath, "scenario", "", "feed simulated filament from this scenario")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics", "", "metrics listen address, overrides [metrics]")
	cmd.Flags().StringVar(&opts.APIAddr, "api", "", "API listen address, overrides [api_server]")
	return cmd
}

// runContext is used when cobra did not provide a context.
func runContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
