// Filament width sensor metrics
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package metrics exports sensor activity to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "filament_width"

// SensorMetrics holds the collectors of one filament width sensor. It
// satisfies filament.Observer.
type SensorMetrics struct {
	Diameter      prometheus.Gauge
	Multiplier    prometheus.Gauge
	QueueDepth    prometheus.Gauge
	Active        prometheus.Gauge
	Samples       *prometheus.CounterVec
	Compensations *prometheus.CounterVec
	QueueResets   prometheus.Counter

	registry *prometheus.Registry
}

// NewSensorMetrics creates the collectors on a private registry, together
// with the Go runtime and process collectors.
func NewSensorMetrics() *SensorMetrics {
	m := &SensorMetrics{
		Diameter: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "diameter_mm",
			Help:      "Last measured filament diameter in millimeters",
		}),
		Multiplier: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "extrude_percent",
			Help:      "Extrusion multiplier last applied by the sensor",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "delay_queue_depth",
			Help:      "Readings waiting for the extruder to reach them",
		}),
		Active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sensor_active",
			Help:      "1 when compensation is enabled",
		}),
		Samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "ADC samples by what happened to them",
		}, []string{"result"}),
		Compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compensations_total",
			Help:      "Extrusion multiplier updates by reason",
		}, []string{"reason"}),
		QueueResets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_resets_total",
			Help:      "Times the delay queue was cleared",
		}),
		registry: prometheus.NewRegistry(),
	}
	m.Multiplier.Set(100)

	m.registry.MustRegister(
		m.Diameter,
		m.Multiplier,
		m.QueueDepth,
		m.Active,
		m.Samples,
		m.Compensations,
		m.QueueResets,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry holding the sensor collectors.
func (m *SensorMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *SensorMetrics) ObserveSample(diameter float64, result string) {
	m.Diameter.Set(diameter)
	m.Samples.WithLabelValues(result).Inc()
}

func (m *SensorMetrics) ObserveCompensation(reason string, percent int) {
	m.Multiplier.Set(float64(percent))
	m.Compensations.WithLabelValues(reason).Inc()
	switch reason {
	case "absent", "reset", "disabled":
		m.QueueResets.Inc()
	}
}

func (m *SensorMetrics) ObserveQueue(depth int) {
	m.QueueDepth.Set(float64(depth))
}

func (m *SensorMetrics) ObserveActive(active bool) {
	if active {
		m.Active.Set(1)
		return
	}
	m.Active.Set(0)
}
