package main

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"klipper-filament-width/pkg/api"
	"klipper-filament-width/pkg/config"
	"klipper-filament-width/pkg/filament"
	"klipper-filament-width/pkg/host"
	"klipper-filament-width/pkg/log"
	"klipper-filament-width/pkg/metrics"
	"klipper-filament-width/pkg/reactor"
	"klipper-filament-width/pkg/sim"
)

const shutdownTimeout = 5 * time.Second

// App is a running host with its network endpoints. MetricsServer, API
// and Scenario are nil when not configured.
type App struct {
	Printer       *host.Printer
	Metrics       *metrics.SensorMetrics
	MetricsServer *metrics.Server
	API           *api.Server
	Scenario      *sim.Scenario

	logger *log.Logger
}

// NewApp assembles an App.
func NewApp(p *host.Printer, m *metrics.SensorMetrics, ms *metrics.Server, a *api.Server, sc *sim.Scenario) *App {
	return &App{
		Printer:       p,
		Metrics:       m,
		MetricsServer: ms,
		API:           a,
		Scenario:      sc,
		logger:        log.GetLogger("app"),
	}
}

// Run starts everything and blocks until ctx is done or a component fails.
func (a *App) Run(ctx context.Context) error {
	var metricsErr <-chan error
	if a.MetricsServer != nil {
		metricsErr = a.MetricsServer.StartAsync()
	}
	if a.API != nil {
		if err := a.API.Start(); err != nil {
			a.stop()
			return err
		}
	}
	a.Printer.Start()

	feederErr := make(chan error, 1)
	if a.Scenario != nil {
		feeder := sim.NewFeeder(a.Printer, a.Scenario)
		go func() { feederErr <- feeder.Run(ctx) }()
		a.logger.WithField("scenario", a.Scenario.Name).Info("feeding simulated filament")
	}

	a.logger.Info("host running")
	var err error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case err = <-metricsErr:
	case err = <-feederErr:
		if err == nil {
			// Scenario finished; keep serving until told to stop.
			<-ctx.Done()
		}
	}
	a.stop()
	return err
}

func (a *App) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.API != nil {
		if err := a.API.Stop(ctx); err != nil {
			a.logger.WithError(err).Warn("api server shutdown")
		}
	}
	if a.MetricsServer != nil {
		if err := a.MetricsServer.Shutdown(ctx); err != nil {
			a.logger.WithError(err).Warn("metrics server shutdown")
		}
	}
	if a.Printer.GetKlippyState() != host.StateShutdown {
		a.Printer.Shutdown()
	}
}

func provideConfigFile(opts Options) (*config.Config, error) {
	c, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s", opts.ConfigPath)
	}
	return c, nil
}

func provideScenario(opts Options) (*sim.Scenario, error) {
	if opts.ScenarioPath == "" {
		return nil, nil
	}
	return sim.LoadScenario(opts.ScenarioPath)
}

func provideSensorConfig(c *config.Config, sc *sim.Scenario) (config.FilamentWidthConfig, error) {
	cfg, err := config.LoadFilamentWidthConfig(c)
	if err != nil {
		return cfg, err
	}
	if sc != nil {
		cfg = sc.Apply(cfg)
	}
	return cfg, nil
}

func provideHostConfig(c *config.Config, opts Options) config.HostConfig {
	hc := config.LoadHostConfig(c)
	if opts.MetricsAddr != "" {
		hc.MetricsAddress = opts.MetricsAddr
	}
	if opts.APIAddr != "" {
		hc.APIAddress = opts.APIAddr
	}
	return hc
}

func provideReactor() *reactor.Reactor { return reactor.New() }

func provideObserver(m *metrics.SensorMetrics) filament.Observer { return m }

func provideMetricsServer(hc config.HostConfig, m *metrics.SensorMetrics) *metrics.Server {
	if hc.MetricsAddress == "" {
		return nil
	}
	cfg := metrics.DefaultServerConfig()
	cfg.Address = hc.MetricsAddress
	cfg.Username = hc.MetricsUser
	cfg.Password = hc.MetricsPass
	return metrics.NewServer(m, cfg)
}

func provideAPIServer(hc config.HostConfig, p *host.Printer) *api.Server {
	if hc.APIAddress == "" {
		return nil
	}
	return api.New(api.Config{Addr: hc.APIAddress, Printer: p})
}
