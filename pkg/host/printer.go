// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package host composes the reactor, the command dispatcher, the extruder
// state and the filament width sensor into a running printer host.
package host

import (
	"sync"
	"time"

	"klipper-filament-width/pkg/config"
	hosterrors "klipper-filament-width/pkg/errors"
	"klipper-filament-width/pkg/filament"
	"klipper-filament-width/pkg/gcode"
	"klipper-filament-width/pkg/log"
	"klipper-filament-width/pkg/reactor"
)

// Host states reported to API clients.
const (
	StateStartup  = "startup"
	StateReady    = "ready"
	StateShutdown = "shutdown"
)

// DefaultCallTimeout bounds how long a caller waits for the loop.
const DefaultCallTimeout = 5 * time.Second

// Printer owns the sensor and everything it talks to. Methods documented
// as loop-only must run on the reactor loop; everything else may be called
// from any goroutine.
type Printer struct {
	reactor    *reactor.Reactor
	dispatcher *gcode.Dispatcher
	extruder   *gcode.Extruder
	sensor     *filament.Sensor

	mu    sync.RWMutex
	state string

	callTimeout time.Duration
	logger      *log.Logger
}

// NewPrinter builds the host objects and registers all commands. The
// observer may be nil.
func NewPrinter(cfg config.FilamentWidthConfig, r *reactor.Reactor, observer filament.Observer) *Printer {
	p := &Printer{
		reactor:     r,
		dispatcher:  gcode.NewDispatcher(),
		extruder:    gcode.NewExtruder(),
		state:       StateStartup,
		callTimeout: DefaultCallTimeout,
		logger:      log.GetLogger("host"),
	}
	p.extruder.RegisterCommands(p.dispatcher)
	p.sensor = filament.NewSensor(cfg, r, p.extruder)
	if observer != nil {
		p.sensor.SetObserver(observer)
	}
	p.sensor.RegisterCommands(p.dispatcher)
	return p
}

// Reactor returns the event loop.
func (p *Printer) Reactor() *reactor.Reactor { return p.reactor }

// Sensor returns the width sensor. Loop-only.
func (p *Printer) Sensor() *filament.Sensor { return p.sensor }

// Extruder returns the extrusion state. Loop-only.
func (p *Printer) Extruder() *gcode.Extruder { return p.extruder }

// Dispatcher returns the command dispatcher. Loop-only.
func (p *Printer) Dispatcher() *gcode.Dispatcher { return p.dispatcher }

// Ready fires the ready event. Loop-only, or before the loop runs.
func (p *Printer) Ready() {
	p.sensor.HandleReady()
	p.setState(StateReady)
	p.logger.Info("host ready")
}

// Start fires the ready event and runs the reactor loop.
func (p *Printer) Start() {
	p.Ready()
	p.reactor.Run()
}

// Shutdown stops the loop and waits for it to exit.
func (p *Printer) Shutdown() {
	p.setState(StateShutdown)
	p.reactor.End()
	p.reactor.Wait()
	p.logger.Info("host shut down")
}

func (p *Printer) setState(state string) {
	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
}

// SubmitADC delivers an ADC report to the sensor on the loop.
func (p *Printer) SubmitADC(readTime, raw float64) error {
	return p.reactor.Post(func(float64) {
		p.sensor.HandleADC(readTime, raw)
	})
}

// SubmitReading delivers an ADC report whose value depends on the
// extruder position at the time it is taken on the loop.
func (p *Printer) SubmitReading(readTime float64, read func(position float64) float64) error {
	return p.reactor.Post(func(float64) {
		p.sensor.HandleADC(readTime, read(p.extruder.Position()))
	})
}

// SubmitExtrude feeds delta mm of commanded filament on the loop.
func (p *Printer) SubmitExtrude(delta float64) error {
	return p.reactor.Post(func(float64) {
		p.extruder.Extrude(delta)
	})
}

// call runs fn on the loop and waits for its result.
func (p *Printer) call(op string, fn func(eventtime float64) interface{}) (interface{}, error) {
	timedOut := &struct{}{}
	res := p.reactor.RegisterAsyncCallback(fn).Wait(p.callTimeout, timedOut)
	if res == timedOut {
		return nil, hosterrors.RuntimeTimeoutError(op)
	}
	if res == nil {
		return nil, hosterrors.RuntimeError(op + ": host is not running")
	}
	return res, nil
}

type scriptResult struct {
	out string
	err error
}

// ExecuteGCode runs a script on the loop.
func (p *Printer) ExecuteGCode(script string) (string, error) {
	res, err := p.call("gcode script", func(float64) interface{} {
		out, err := p.dispatcher.RunScript(script)
		return scriptResult{out: out, err: err}
	})
	if err != nil {
		return "", err
	}
	r := res.(scriptResult)
	return r.out, r.err
}

// GetObjectsList returns the queryable objects.
func (p *Printer) GetObjectsList() []string {
	return []string{"filament_width_sensor", "gcode_move", "webhooks"}
}

// GetObjectStatus returns a snapshot of one object taken on the loop.
func (p *Printer) GetObjectStatus(name string, attrs []string) map[string]any {
	var status map[string]any
	switch name {
	case "webhooks":
		status = map[string]any{"state": p.GetKlippyState()}
	case "filament_width_sensor", "gcode_move":
		res, err := p.call("status query", func(float64) interface{} {
			if name == "gcode_move" {
				return p.extruder.GetStatus()
			}
			return p.sensor.GetStatus()
		})
		if err != nil {
			p.logger.WithError(err).WithField("object", name).Warn("status query failed")
			return nil
		}
		status = res.(map[string]any)
	default:
		return nil
	}
	return filterAttrs(status, attrs)
}

// GetKlippyState returns the host state.
func (p *Printer) GetKlippyState() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func filterAttrs(status map[string]any, attrs []string) map[string]any {
	if len(attrs) == 0 {
		return status
	}
	filtered := make(map[string]any, len(attrs))
	for _, a := range attrs {
		if v, ok := status[a]; ok {
			filtered[a] = v
		}
	}
	return filtered
}
