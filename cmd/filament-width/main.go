// filament-width runs the filament width compensation host.
//
// Usage:
//
//	filament-width run --config printer.cfg [--scenario s.yaml] [--api :7125] [--metrics :9100]
//	filament-width simulate --config printer.cfg --scenario s.yaml [--trace]
//	filament-width check-config --config printer.cfg
//
// run serves the websocket/HTTP API and Prometheus metrics. Without real
// sensor hardware attached, --scenario feeds simulated filament in real
// time. simulate plays a scenario in virtual time and prints a summary.
package main

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"klipper-filament-width/pkg/log"
)

// Options are the command line settings shared by all commands.
type Options struct {
	ConfigPath   string
	ScenarioPath string
	MetricsAddr  string
	APIAddr      string
	LogFile      string
	LogLevel     string
	LogFormat    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &Options{}
	var logCloser io.Closer

	root := &cobra.Command{
		Use:          "filament-width",
		Short:        "Filament width sensor compensation host",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := setupLogging(opts)
			logCloser = c
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logCloser != nil {
				logCloser.Close()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.ConfigPath, "config", "c", "printer.cfg", "printer configuration file")
	flags.StringVar(&opts.LogFile, "logfile", "", "also write logs to this file, rotated by size")
	flags.StringVar(&opts.LogLevel, "log-level", "", "DEBUG, INFO, WARN or ERROR")
	flags.StringVar(&opts.LogFormat, "log-format", "", "text or json")

	root.AddCommand(
		newRunCmd(opts),
		newSimulateCmd(opts),
		newCheckConfigCmd(opts),
	)
	return root
}

// setupLogging applies the logging flags to the root logger. Flags left
// empty keep the environment configuration.
func setupLogging(opts *Options) (io.Closer, error) {
	root := log.Default()
	if opts.LogLevel != "" {
		root.SetLevel(log.ParseLevel(opts.LogLevel))
	}
	switch opts.LogFormat {
	case "":
	case "json":
		root.SetFormat(log.FormatJSON)
	case "text":
		root.SetFormat(log.FormatText)
	default:
		return nil, errors.Errorf("unknown log format %q", opts.LogFormat)
	}

	if opts.LogFile == "" {
		return nil, nil
	}
	w, err := log.NewFileWriter(log.RotationConfig{Filename: opts.LogFile})
	if err != nil {
		return nil, errors.Wrap(err, "opening log file")
	}
	root.SetWriter(io.MultiWriter(os.Stderr, w))
	root.SetColorize(false)
	return w, nil
}
