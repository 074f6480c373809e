//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"

	"klipper-filament-width/pkg/host"
	"klipper-filament-width/pkg/metrics"
)

func InitializeApp(opts Options) (*App, error) {
	panic(wire.Build(
		provideConfigFile,
		provideScenario,
		provideSensorConfig,
		provideHostConfig,
		provideReactor,
		metrics.NewSensorMetrics,
		provideObserver,
		host.NewPrinter,
		provideMetricsServer,
		provideAPIServer,
		NewApp,
	))
}
