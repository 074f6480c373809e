package filament

import (
	"math"

	"klipper-filament-width/pkg/config"
	"klipper-filament-width/pkg/log"
)

// ControlPeriod is the interval between controller steps in seconds.
const ControlPeriod = 1.0

// NominalPercent is the multiplier that applies no compensation.
const NominalPercent = 100

// ExtrusionOverride accepts an extrusion multiplier in percent.
type ExtrusionOverride interface {
	SetExtrusionPercent(pct float64) error
}

// Extruder is the toolhead collaborator of the sensor.
type Extruder interface {
	PositionSource
	ExtrusionOverride
}

// Reason explains a controller decision.
type Reason string

const (
	ReasonNone      Reason = ""
	ReasonInBand    Reason = "in_band"
	ReasonOutOfBand Reason = "out_of_band"
	ReasonAbsent    Reason = "absent"
	ReasonReset     Reason = "reset"
	ReasonDisabled  Reason = "disabled"
)

// Outcome is the result of one controller step. Percent is only
// meaningful when Reason is not ReasonNone.
type Outcome struct {
	Reason   Reason
	Percent  int
	Position float64
	Reading  DiameterReading
}

// Emitted reports whether the step changed the multiplier.
func (o Outcome) Emitted() bool {
	return o.Reason != ReasonNone
}

// Controller drains due readings from the delay queue and turns them into
// extrusion multipliers.
type Controller struct {
	cfg      config.FilamentWidthConfig
	state    *State
	queue    *DelayQueue
	extruder Extruder

	lastPercent int
	onOutcome   func(Outcome)
	logger      *log.Logger
}

// NewController creates a controller sharing state and queue with the
// sampler.
func NewController(cfg config.FilamentWidthConfig, state *State, queue *DelayQueue, extruder Extruder) *Controller {
	return &Controller{
		cfg:         cfg,
		state:       state,
		queue:       queue,
		extruder:    extruder,
		lastPercent: NominalPercent,
		logger:      log.GetLogger("filament_width_sensor"),
	}
}

// OnOutcome installs an observer called after every step that emitted a
// multiplier.
func (c *Controller) OnOutcome(fn func(Outcome)) {
	c.onOutcome = fn
}

// LastPercent returns the last multiplier emitted, 100 before any.
func (c *Controller) LastPercent() int {
	return c.lastPercent
}

// Step runs one control cycle and returns the time of the next one.
func (c *Controller) Step(now float64) float64 {
	o := c.Tick()
	if o.Emitted() && c.onOutcome != nil {
		c.onOutcome(o)
	}
	return now + ControlPeriod
}

// Tick runs one control cycle. At most one reading is consumed.
func (c *Controller) Tick() Outcome {
	epos := c.extruder.Position()
	o := Outcome{Position: epos}

	if !c.state.Present() {
		c.queue.Clear()
		o.Reason = ReasonAbsent
		o.Percent = NominalPercent
		c.emit(o)
		return o
	}

	front, ok := c.queue.PeekFront()
	if !ok || front.Position > epos {
		return o
	}
	o.Reading = c.queue.PopFront()

	d := o.Reading.Diameter
	if d >= c.cfg.MinDiameter && d <= c.cfg.MaxDiameter {
		o.Reason = ReasonInBand
		o.Percent = int(math.RoundToEven(c.cfg.NominalDiameter / d * 100))
	} else {
		o.Reason = ReasonOutOfBand
		o.Percent = NominalPercent
	}
	c.emit(o)
	return o
}

// Neutralize sets the multiplier back to 100% for reason.
func (c *Controller) Neutralize(reason Reason) Outcome {
	o := Outcome{Reason: reason, Percent: NominalPercent, Position: c.extruder.Position()}
	c.emit(o)
	if c.onOutcome != nil {
		c.onOutcome(o)
	}
	return o
}

func (c *Controller) emit(o Outcome) {
	if err := c.extruder.SetExtrusionPercent(float64(o.Percent)); err != nil {
		c.logger.WithError(err).WithField("percent", o.Percent).Error("extrusion override rejected")
		return
	}
	if o.Percent != c.lastPercent {
		c.logger.WithFields(log.Fields{
			"percent":  o.Percent,
			"reason":   string(o.Reason),
			"position": o.Position,
		}).Debug("extrusion multiplier changed")
	}
	c.lastPercent = o.Percent
}
