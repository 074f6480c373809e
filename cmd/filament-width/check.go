package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"klipper-filament-width/pkg/config"
	"klipper-filament-width/pkg/log"
)

func newCheckConfigCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate printer.cfg and print the derived sensor settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := provideConfigFile(*opts)
			if err != nil {
				return err
			}
			cfg, err := config.LoadFilamentWidthConfig(c)
			if err != nil {
				return err
			}
			hc := config.LoadHostConfig(c)
			if err := c.CheckUnusedOptions(); err != nil {
				log.GetLogger("config").WithError(err).Warn("unused options")
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "pin:                  %s\n", cfg.Pin)
			fmt.Fprintf(out, "nominal diameter:     %.3f mm\n", cfg.NominalDiameter)
			fmt.Fprintf(out, "measurement delay:    %.1f mm\n", cfg.MeasurementDelayMM)
			fmt.Fprintf(out, "compensation band:    %.3f - %.3f mm\n", cfg.MinDiameter, cfg.MaxDiameter)
			fmt.Fprintf(out, "enabled at startup:   %t\n", cfg.Enable)
			fmt.Fprintf(out, "per-sample logging:   %t\n", cfg.Logging)
			fmt.Fprintf(out, "metrics address:      %s\n", orDisabled(hc.MetricsAddress))
			fmt.Fprintf(out, "api address:          %s\n", orDisabled(hc.APIAddress))
			return nil
		},
	}
}

func orDisabled(addr string) string {
	if addr == "" {
		return "disabled"
	}
	return addr
}
