package main

import (
	"encoding/json"
	"fmt"
	"os/signal"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"klipper-filament-width/pkg/sim"
)

func newSimulateCmd(opts *Options) *cobra.Command {
	var (
		trace  bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Play a filament scenario in virtual time and summarize it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.ScenarioPath == "" {
				return errors.New("--scenario is required")
			}
			c, err := provideConfigFile(*opts)
			if err != nil {
				return err
			}
			sc, err := sim.LoadScenario(opts.ScenarioPath)
			if err != nil {
				return err
			}
			// Overrides are applied by the runner.
			cfg, err := provideSensorConfig(c, nil)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(runContext(cmd), shutdownSignals...)
			defer stop()
			res, err := sim.NewRunner(sc, cfg, nil).Run(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				payload := map[string]any{"scenario": res.Scenario, "summary": res.Summary}
				if trace {
					payload["trace"] = res.Trace
				}
				return enc.Encode(payload)
			}

			if trace {
				fmt.Fprintf(out, "%8s %10s %8s %8s %5s %5s\n", "time", "position", "measured", "nozzle", "pct", "queue")
				for _, p := range res.Trace {
					fmt.Fprintf(out, "%8.1f %10.2f %8.2f %8.2f %5d %5d\n",
						p.Time, p.Position, p.Measured, p.Nozzle, p.Percent, p.QueueLength)
				}
				fmt.Fprintln(out)
			}
			if res.Scenario != "" {
				fmt.Fprintf(out, "scenario: %s\n", res.Scenario)
			}
			return res.Summary.Write(out)
		},
	}
	cmd.Flags().StringVar(&opts.ScenarioPath, "scenario", "", "scenario file (required)")
	cmd.Flags().BoolVar(&trace, "trace", false, "print the per-second trace")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}
