// Filament width sensor
//
// Reads an analog width sensor, delays each reading by the distance
// between the sensor and the nozzle, and adjusts the extrusion multiplier
// (M221) to compensate for diameter variations.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package filament

import (
	"klipper-filament-width/pkg/config"
	"klipper-filament-width/pkg/gcode"
	"klipper-filament-width/pkg/log"
	"klipper-filament-width/pkg/reactor"
)

// ADC sampling parameters of the sensor pin.
const (
	ADCReportTime  = 0.500
	ADCSampleTime  = 0.001
	ADCSampleCount = 8
)

// Sample outcomes reported to the Observer.
const (
	SampleQueued   = "queued"
	SampleSkipped  = "skipped"
	SampleInactive = "inactive"
)

// Scheduler is the periodic timer facility of the host.
type Scheduler interface {
	RegisterTimer(callback reactor.TimerCallback, waketime float64) *reactor.Timer
	UpdateTimer(timer *reactor.Timer, waketime float64)
}

// Observer receives sensor activity, typically for metrics export.
type Observer interface {
	ObserveSample(diameter float64, result string)
	ObserveCompensation(reason string, percent int)
	ObserveQueue(depth int)
	ObserveActive(active bool)
}

type nopObserver struct{}

func (nopObserver) ObserveSample(float64, string) {}
func (nopObserver) ObserveCompensation(string, int) {}
func (nopObserver) ObserveQueue(int) {}
func (nopObserver) ObserveActive(bool) {}

// Sensor is the filament_width_sensor host module. All methods must be
// called from the reactor loop.
type Sensor struct {
	cfg config.FilamentWidthConfig

	state      State
	queue      DelayQueue
	sampler    *Sampler
	controller *Controller

	sched  Scheduler
	timer  *reactor.Timer
	active bool

	observer Observer
	logger   *log.Logger
}

// NewSensor creates the sensor and registers its (unarmed) update timer.
func NewSensor(cfg config.FilamentWidthConfig, sched Scheduler, extruder Extruder) *Sensor {
	s := &Sensor{
		cfg:      cfg,
		sched:    sched,
		active:   cfg.Enable,
		observer: nopObserver{},
		logger:   log.GetLogger("filament_width_sensor"),
	}
	s.sampler = NewSampler(&s.state, &s.queue, extruder, cfg.MeasurementDelayMM)
	s.controller = NewController(cfg, &s.state, &s.queue, extruder)
	s.controller.OnOutcome(s.observeOutcome)
	s.timer = sched.RegisterTimer(s.updateEvent, reactor.NEVER)

	s.logger.WithFields(log.Fields{
		"pin":      cfg.Pin,
		"nominal":  cfg.NominalDiameter,
		"delay_mm": cfg.MeasurementDelayMM,
		"min":      cfg.MinDiameter,
		"max":      cfg.MaxDiameter,
	}).Info("sensor configured")
	return s
}

// SetObserver installs o, replacing the previous observer.
func (s *Sensor) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	s.observer = o
	o.ObserveActive(s.active)
	o.ObserveQueue(s.queue.Len())
}

// HandleReady starts the extrude factor update timer.
func (s *Sensor) HandleReady() {
	s.sched.UpdateTimer(s.timer, reactor.NOW)
}

// HandleADC processes one ADC report.
func (s *Sensor) HandleADC(readTime, raw float64) {
	if !s.active {
		d := s.sampler.Measure(raw)
		s.observer.ObserveSample(d, SampleInactive)
		return
	}

	res := s.sampler.Sample(raw)
	outcome := SampleSkipped
	if res.Queued {
		outcome = SampleQueued
	}
	s.observer.ObserveSample(res.Diameter, outcome)
	s.observer.ObserveQueue(s.queue.Len())

	if s.cfg.Logging {
		s.logger.WithFields(log.Fields{
			"read_time": readTime,
			"diameter":  res.Diameter,
			"target":    res.Target,
			"queued":    res.Queued,
		}).Debug("sample")
	}
}

func (s *Sensor) updateEvent(eventtime float64) float64 {
	if !s.active {
		return eventtime + ControlPeriod
	}
	return s.controller.Step(eventtime)
}

func (s *Sensor) observeOutcome(o Outcome) {
	s.observer.ObserveCompensation(string(o.Reason), o.Percent)
	s.observer.ObserveQueue(s.queue.Len())
}

// Enable resumes queueing and compensation.
func (s *Sensor) Enable() {
	if s.active {
		return
	}
	s.active = true
	s.observer.ObserveActive(true)
	s.logger.Info("enabled")
}

// Disable stops compensation, drops pending readings and restores 100%.
func (s *Sensor) Disable() {
	if !s.active {
		return
	}
	s.active = false
	s.queue.Clear()
	s.controller.Neutralize(ReasonDisabled)
	s.observer.ObserveActive(false)
	s.logger.Info("disabled")
}

// Reset drops pending readings and restores 100%.
func (s *Sensor) Reset() {
	s.queue.Clear()
	s.controller.Neutralize(ReasonReset)
	s.logger.Info("reset")
}

// IsActive reports whether compensation is enabled.
func (s *Sensor) IsActive() bool {
	return s.active
}

// LastDiameter returns the most recent measurement in mm.
func (s *Sensor) LastDiameter() float64 {
	return s.state.LastDiameter
}

// QueueLength returns the number of pending readings.
func (s *Sensor) QueueLength() int {
	return s.queue.Len()
}

// PendingReadings returns the queued readings, oldest first.
func (s *Sensor) PendingReadings() []DiameterReading {
	return s.queue.Readings()
}

// ExtrudePercent returns the last emitted multiplier.
func (s *Sensor) ExtrudePercent() int {
	return s.controller.LastPercent()
}

// QueryStatus returns the M407 response.
func (s *Sensor) QueryStatus() string {
	return QueryStatus(&s.state)
}

// GetStatus returns the sensor state for API queries.
func (s *Sensor) GetStatus() map[string]any {
	return map[string]any{
		"Diameter":        s.state.LastDiameter,
		"is_active":       s.active,
		"queue_length":    s.queue.Len(),
		"extrude_percent": s.controller.LastPercent(),
	}
}

// RegisterCommands installs the sensor's G-code commands.
func (s *Sensor) RegisterCommands(d *gcode.Dispatcher) {
	query := func(map[string]string) (string, error) { return s.QueryStatus(), nil }
	enable := func(map[string]string) (string, error) {
		s.Enable()
		return "Filament width sensor Turned On", nil
	}
	disable := func(map[string]string) (string, error) {
		s.Disable()
		return "Filament width sensor Turned Off", nil
	}

	d.RegisterCommand("M407", query, "Show measured filament diameter")
	d.RegisterCommand("QUERY_FILAMENT_WIDTH", query, "Report the filament width in mm")
	d.RegisterCommand("M405", enable, "")
	d.RegisterCommand("ENABLE_FILAMENT_WIDTH_SENSOR", enable, "Enable the filament width sensor")
	d.RegisterCommand("M406", disable, "")
	d.RegisterCommand("DISABLE_FILAMENT_WIDTH_SENSOR", disable, "Disable the filament width sensor")
	d.RegisterCommand("RESET_FILAMENT_WIDTH_SENSOR", func(map[string]string) (string, error) {
		s.Reset()
		return "Filament width measurements cleared!", nil
	}, "Clear the filament width delay queue")
}
