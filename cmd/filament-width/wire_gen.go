//go:build !wireinject
// +build !wireinject

package main

import (
	"klipper-filament-width/pkg/host"
	"klipper-filament-width/pkg/metrics"
)

func InitializeApp(opts Options) (*App, error) {
	config, err := provideConfigFile(opts)
	if err != nil {
		return nil, err
	}
	scenario, err := provideScenario(opts)
	if err != nil {
		return nil, err
	}
	filamentWidthConfig, err := provideSensorConfig(config, scenario)
	if err != nil {
		return nil, err
	}
	reactor := provideReactor()
	sensorMetrics := metrics.NewSensorMetrics()
	observer := provideObserver(sensorMetrics)
	printer := host.NewPrinter(filamentWidthConfig, reactor, observer)
	hostConfig := provideHostConfig(config, opts)
	server := provideMetricsServer(hostConfig, sensorMetrics)
	apiServer := provideAPIServer(hostConfig, printer)
	app := NewApp(printer, sensorMetrics, server, apiServer, scenario)
	return app, nil
}
