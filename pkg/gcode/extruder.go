package gcode

import (
	"fmt"
	"strconv"

	hosterrors "klipper-filament-width/pkg/errors"
)

// Extruder tracks the E axis of the toolhead and the extrusion multiplier.
// Positions in lastPosition are physical filament lengths; G-code E values
// are scaled by extrudeFactor on the way in.
//
// Extruder has no locking. It is owned by the reactor loop.
type Extruder struct {
	absoluteExtrude bool

	basePosition float64
	lastPosition float64

	speed         float64 // mm/s
	speedFactor   float64
	extrudeFactor float64

	// onMove observes every E move with the physical delta.
	onMove func(delta float64)
}

// NewExtruder creates an extruder in absolute extrusion mode at position 0.
func NewExtruder() *Extruder {
	return &Extruder{
		absoluteExtrude: true,
		speed:           25.0,
		speedFactor:     1.0 / 60.0,
		extrudeFactor:   1.0,
	}
}

// OnMove installs an observer for extrusion moves.
func (e *Extruder) OnMove(fn func(delta float64)) {
	e.onMove = fn
}

// Position returns the physical extruder position in mm. This is the
// toolhead E coordinate the width sensor schedules readings against.
func (e *Extruder) Position() float64 {
	return e.lastPosition
}

// GCodePosition returns the E position in G-code coordinates.
func (e *Extruder) GCodePosition() float64 {
	return (e.lastPosition - e.basePosition) / e.extrudeFactor
}

// ExtrudeFactor returns the multiplier as a fraction (1.0 = 100%).
func (e *Extruder) ExtrudeFactor() float64 {
	return e.extrudeFactor
}

// Speed returns the last commanded feed rate in mm/s.
func (e *Extruder) Speed() float64 {
	return e.speed
}

// SetExtrusionPercent applies an M221 override. The G-code E position is
// preserved across the change by rebasing.
func (e *Extruder) SetExtrusionPercent(pct float64) error {
	if pct <= 0 {
		return hosterrors.GCodeInvalidParameterError("M221", "S", strconv.FormatFloat(pct, 'f', -1, 64), "must be above 0")
	}
	newFactor := pct / 100.0
	gcodeE := (e.lastPosition - e.basePosition) / e.extrudeFactor
	e.basePosition = e.lastPosition - gcodeE*newFactor
	e.extrudeFactor = newFactor
	return nil
}

// Extrude feeds delta mm of commanded filament, scaled by the multiplier,
// regardless of the extrusion mode. It returns the physical length moved.
func (e *Extruder) Extrude(delta float64) float64 {
	physical := delta * e.extrudeFactor
	e.move(e.lastPosition + physical)
	return physical
}

func (e *Extruder) move(target float64) {
	delta := target - e.lastPosition
	e.lastPosition = target
	if e.onMove != nil && delta != 0 {
		e.onMove(delta)
	}
}

// RegisterCommands installs the extrusion commands on d.
func (e *Extruder) RegisterCommands(d *Dispatcher) {
	d.RegisterCommand("G0", e.cmdG1, "")
	d.RegisterCommand("G1", e.cmdG1, "")
	d.RegisterCommand("G92", e.cmdG92, "")
	d.RegisterCommand("M82", func(map[string]string) (string, error) { e.absoluteExtrude = true; return "", nil }, "")
	d.RegisterCommand("M83", func(map[string]string) (string, error) { e.absoluteExtrude = false; return "", nil }, "")
	d.RegisterCommand("M221", e.cmdM221, "")
	d.RegisterCommand("M114", e.cmdM114, "")
}

func (e *Extruder) cmdG1(args map[string]string) (string, error) {
	if raw, ok := args["E"]; ok {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return "", hosterrors.GCodeInvalidParameterError("G1", "E", raw, "not a number")
		}
		v *= e.extrudeFactor
		if e.absoluteExtrude {
			e.move(v + e.basePosition)
		} else {
			e.move(e.lastPosition + v)
		}
	}
	if raw, ok := args["F"]; ok {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || f <= 0.0 {
			return "", hosterrors.GCodeInvalidParameterError("G1", "F", raw, "must be a positive speed")
		}
		e.speed = f * e.speedFactor
	}
	return "", nil
}

// cmdG92 sets the G-code E position without moving the extruder.
func (e *Extruder) cmdG92(args map[string]string) (string, error) {
	v, err := FloatArg("G92", args, "E", 0)
	if err != nil {
		return "", err
	}
	e.basePosition = e.lastPosition - v*e.extrudeFactor
	return "", nil
}

func (e *Extruder) cmdM221(args map[string]string) (string, error) {
	pct, err := FloatArg("M221", args, "S", 100)
	if err != nil {
		return "", err
	}
	return "", e.SetExtrusionPercent(pct)
}

func (e *Extruder) cmdM114(args map[string]string) (string, error) {
	return fmt.Sprintf("E:%.3f", e.GCodePosition()), nil
}

// GetStatus returns the extrusion state for API queries.
func (e *Extruder) GetStatus() map[string]any {
	return map[string]any{
		"extrude_factor":   e.extrudeFactor,
		"absolute_extrude": e.absoluteExtrude,
		"speed":            e.speed,
		"position":         e.lastPosition,
		"gcode_position":   e.GCodePosition(),
	}
}
