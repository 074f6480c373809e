package sim

import (
	"context"

	"github.com/pkg/errors"

	"klipper-filament-width/pkg/config"
	"klipper-filament-width/pkg/filament"
	"klipper-filament-width/pkg/host"
	"klipper-filament-width/pkg/log"
	"klipper-filament-width/pkg/reactor"
)

// MoveInterval is the virtual time between extrusion moves.
const MoveInterval = 0.125

// TracePoint is the host state right after a controller tick.
type TracePoint struct {
	Time     float64 `json:"time"`
	Position float64 `json:"position"`
	// Measured is the last diameter read by the sensor.
	Measured float64 `json:"measured"`
	// Nozzle is the diameter of the filament entering the nozzle.
	Nozzle      float64 `json:"nozzle"`
	Percent     int     `json:"percent"`
	QueueLength int     `json:"queue_length"`
}

// Result is the outcome of a simulated run.
type Result struct {
	Scenario string
	Trace    []TracePoint
	Summary  Summary
}

// Runner plays a scenario against a host on a manual clock.
type Runner struct {
	scenario *Scenario
	cfg      config.FilamentWidthConfig
	clock    *reactor.ManualClock
	printer  *host.Printer
	recorder *recorder
	trace    []TracePoint
	logger   *log.Logger
}

// NewRunner builds a host for the scenario. cfg is the printer.cfg sensor
// configuration before scenario overrides; observer may be nil.
func NewRunner(sc *Scenario, cfg config.FilamentWidthConfig, observer filament.Observer) *Runner {
	cfg = sc.Apply(cfg)
	clock := reactor.NewManualClock(0)
	rec := &recorder{next: observer, reasons: map[string]int{}}
	return &Runner{
		scenario: sc,
		cfg:      cfg,
		clock:    clock,
		printer:  host.NewPrinter(cfg, reactor.NewWithClock(clock), rec),
		recorder: rec,
		logger:   log.GetLogger("sim"),
	}
}

// Printer returns the simulated host.
func (r *Runner) Printer() *host.Printer { return r.printer }

// Config returns the effective sensor configuration.
func (r *Runner) Config() config.FilamentWidthConfig { return r.cfg }

// Run plays the scenario to its end or until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	rc := r.printer.Reactor()
	sensor := r.printer.Sensor()
	extruder := r.printer.Extruder()

	r.printer.Ready()
	rc.RegisterTimer(func(eventtime float64) float64 {
		raw := RawFromDiameter(r.scenario.DiameterAt(extruder.Position()))
		sensor.HandleADC(eventtime, raw)
		return eventtime + filament.ADCReportTime
	}, reactor.NOW)
	rc.RegisterTimer(func(eventtime float64) float64 {
		if !r.scenario.Paused(eventtime) {
			extruder.Extrude(r.scenario.SpeedMMS * MoveInterval)
		}
		return eventtime + MoveInterval
	}, reactor.NOW)
	rc.RegisterTimer(func(eventtime float64) float64 {
		r.record(eventtime)
		return eventtime + filament.ControlPeriod
	}, reactor.NOW)

	r.logger.WithFields(log.Fields{
		"scenario": r.scenario.Name,
		"duration": r.scenario.DurationS,
		"speed":    r.scenario.SpeedMMS,
	}).Info("simulation started")

	for now := r.clock.Monotonic(); now <= r.scenario.DurationS; now = r.clock.Monotonic() {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrapf(err, "simulation stopped at %.3fs", now)
		}
		next := rc.Step(now)
		if next >= reactor.NEVER {
			break
		}
		r.clock.Set(next)
	}

	res := &Result{
		Scenario: r.scenario.Name,
		Trace:    r.trace,
		Summary:  Summarize(r.trace, r.recorder.reasons, r.cfg.NominalDiameter),
	}
	r.logger.WithFields(log.Fields{
		"points":        len(r.trace),
		"compensations": res.Summary.Compensations,
	}).Info("simulation finished")
	return res, nil
}

func (r *Runner) record(eventtime float64) {
	sensor := r.printer.Sensor()
	pos := r.printer.Extruder().Position()
	r.trace = append(r.trace, TracePoint{
		Time:        eventtime,
		Position:    pos,
		Measured:    sensor.LastDiameter(),
		Nozzle:      r.scenario.DiameterAt(pos - r.cfg.MeasurementDelayMM),
		Percent:     sensor.ExtrudePercent(),
		QueueLength: sensor.QueueLength(),
	})
}

// recorder counts compensation reasons and forwards everything to next.
type recorder struct {
	next    filament.Observer
	reasons map[string]int
}

func (r *recorder) ObserveSample(diameter float64, result string) {
	if r.next != nil {
		r.next.ObserveSample(diameter, result)
	}
}

func (r *recorder) ObserveCompensation(reason string, percent int) {
	r.reasons[reason]++
	if r.next != nil {
		r.next.ObserveCompensation(reason, percent)
	}
}

func (r *recorder) ObserveQueue(depth int) {
	if r.next != nil {
		r.next.ObserveQueue(depth)
	}
}

func (r *recorder) ObserveActive(active bool) {
	if r.next != nil {
		r.next.ObserveActive(active)
	}
}
