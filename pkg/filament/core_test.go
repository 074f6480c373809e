package filament

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klipper-filament-width/pkg/config"
)

type fakeExtruder struct {
	pos      float64
	percents []float64
}

func (f *fakeExtruder) Position() float64 { return f.pos }

func (f *fakeExtruder) SetExtrusionPercent(pct float64) error {
	f.percents = append(f.percents, pct)
	return nil
}

func (f *fakeExtruder) last() float64 {
	if len(f.percents) == 0 {
		return math.NaN()
	}
	return f.percents[len(f.percents)-1]
}

type core struct {
	state      State
	queue      DelayQueue
	extruder   *fakeExtruder
	sampler    *Sampler
	controller *Controller
}

func newCore(delayMM float64) *core {
	c := &core{extruder: &fakeExtruder{}}
	cfg := config.NewFilamentWidthConfig("analog5", 1.75, delayMM/10, 0.3)
	c.sampler = NewSampler(&c.state, &c.queue, c.extruder, delayMM)
	c.controller = NewController(cfg, &c.state, &c.queue, c.extruder)
	return c
}

func TestDiameterRange(t *testing.T) {
	for _, raw := range []float64{-3, -0.1, 0, 0.000001, 0.2, 0.349, 0.5, 0.99999, 1, 7} {
		d := Diameter(raw)
		assert.GreaterOrEqual(t, d, 0.0, "raw %v", raw)
		assert.LessOrEqual(t, d, 5.0, "raw %v", raw)
		assert.InDelta(t, d, math.Round(d*100)/100, 1e-12, "raw %v not two decimals", raw)
	}
	assert.Equal(t, 0.0, Diameter(-1))
	assert.Equal(t, 5.0, Diameter(2))
	assert.Equal(t, 1.75, Diameter(0.35))
	assert.Equal(t, 1.7, Diameter(0.34))
}

func TestDiameterRoundsToTwoDecimals(t *testing.T) {
	// 0.3451 * 5 = 1.7255
	assert.Equal(t, 1.73, Diameter(0.3451))
	// 0.3449 * 5 = 1.7245
	assert.Equal(t, 1.72, Diameter(0.3449))
}

func TestSamplerUpdatesLastDiameter(t *testing.T) {
	c := newCore(50)
	res := c.sampler.Sample(0.35)
	assert.Equal(t, 1.75, res.Diameter)
	assert.Equal(t, 1.75, c.state.LastDiameter)

	c.sampler.Measure(0.05)
	assert.Equal(t, 0.25, c.state.LastDiameter)
}

func TestSamplerSpacingPolicy(t *testing.T) {
	c := newCore(50)

	res := c.sampler.Sample(0.35)
	require.True(t, res.Queued, "first sample on an empty queue is always queued")
	assert.Equal(t, 50.0, res.Target)

	c.extruder.pos = 9.99
	assert.False(t, c.sampler.Sample(0.35).Queued)

	c.extruder.pos = 10
	assert.True(t, c.sampler.Sample(0.35).Queued, "exactly 10mm later is accepted")

	c.extruder.pos = 15
	assert.False(t, c.sampler.Sample(0.35).Queued)

	assert.Equal(t, []DiameterReading{{50, 1.75}, {60, 1.75}}, c.queue.Readings())
}

func TestSamplerSpacingInvariant(t *testing.T) {
	c := newCore(30)
	steps := []float64{0.5, 3, 0.1, 7.5, 12, 0, 0, 2.2, 9.9, 0.3, 15, 4, 4, 4, 1}
	for i := 0; i < 200; i++ {
		c.extruder.pos += steps[i%len(steps)]
		c.sampler.Sample(0.3 + float64(i%7)*0.01)
	}

	readings := c.queue.Readings()
	require.Greater(t, len(readings), 2)
	for i := 1; i < len(readings); i++ {
		assert.GreaterOrEqual(t, readings[i].Position-readings[i-1].Position, MeasurementIntervalMM)
	}
}

func TestControllerStepAlwaysReturnsNextPeriod(t *testing.T) {
	c := newCore(50)
	assert.Equal(t, 11.0, c.controller.Step(10))
	c.sampler.Sample(0.35)
	assert.Equal(t, 12.5, c.controller.Step(11.5))
}

func TestControllerInBandCompensation(t *testing.T) {
	c := newCore(0)
	c.state.LastDiameter = 1.70
	c.queue.Append(DiameterReading{Position: 0, Diameter: 1.70})

	o := c.controller.Tick()
	assert.Equal(t, ReasonInBand, o.Reason)
	assert.Equal(t, 103, o.Percent)
	assert.Equal(t, 103.0, c.extruder.last())
	assert.Equal(t, 103, c.controller.LastPercent())
}

func TestControllerOutOfBandFallback(t *testing.T) {
	c := newCore(0)
	c.state.LastDiameter = 2.5
	c.queue.Append(DiameterReading{Position: 0, Diameter: 2.5})

	o := c.controller.Tick()
	assert.Equal(t, ReasonOutOfBand, o.Reason)
	assert.Equal(t, 100.0, c.extruder.last())
}

func TestControllerBandIsInclusive(t *testing.T) {
	c := newCore(0)
	c.state.LastDiameter = 1.75
	c.queue.Append(DiameterReading{Position: 0, Diameter: 2.05})
	c.queue.Append(DiameterReading{Position: 0, Diameter: 1.45})

	assert.Equal(t, ReasonInBand, c.controller.Tick().Reason)
	assert.Equal(t, 85.0, c.extruder.last())
	assert.Equal(t, ReasonInBand, c.controller.Tick().Reason)
	assert.Equal(t, 121.0, c.extruder.last())
}

func TestControllerPopsAtMostOnePerTick(t *testing.T) {
	c := newCore(0)
	c.state.LastDiameter = 1.75
	for i := 0; i < 3; i++ {
		c.queue.Append(DiameterReading{Position: float64(i * 10), Diameter: 1.70})
	}
	c.extruder.pos = 100

	c.controller.Tick()
	assert.Equal(t, 2, c.queue.Len())
	c.controller.Tick()
	assert.Equal(t, 1, c.queue.Len())
}

func TestControllerDelaySemantics(t *testing.T) {
	c := newCore(0)
	c.state.LastDiameter = 1.75
	c.queue.Append(DiameterReading{Position: 42, Diameter: 1.70})

	for _, pos := range []float64{0, 20, 41.999} {
		c.extruder.pos = pos
		o := c.controller.Tick()
		assert.False(t, o.Emitted(), "position %v", pos)
		assert.Equal(t, 1, c.queue.Len())
	}
	assert.Empty(t, c.extruder.percents, "no output while waiting")

	c.extruder.pos = 42
	assert.Equal(t, ReasonInBand, c.controller.Tick().Reason)
	assert.Equal(t, 0, c.queue.Len())
}

func TestControllerAbsenceResetIsIdempotent(t *testing.T) {
	c := newCore(50)
	c.sampler.Sample(0.35)
	c.extruder.pos = 10
	c.sampler.Sample(0.35)
	require.Equal(t, 2, c.queue.Len())

	c.sampler.Measure(0.1) // 0.5mm, at the threshold
	for i := 0; i < 3; i++ {
		o := c.controller.Tick()
		assert.Equal(t, ReasonAbsent, o.Reason)
		assert.Equal(t, 0, c.queue.Len())
		assert.Equal(t, 100.0, c.extruder.last())
	}
	assert.Len(t, c.extruder.percents, 3)
}

func TestEndToEndNominalFilament(t *testing.T) {
	c := newCore(50)

	c.sampler.Sample(0.35)
	require.Equal(t, []DiameterReading{{50, 1.75}}, c.queue.Readings())

	now := 0.0
	for _, pos := range []float64{0, 10, 25, 49.9} {
		c.extruder.pos = pos
		now = c.controller.Step(now)
	}
	assert.Empty(t, c.extruder.percents)

	c.extruder.pos = 50
	c.controller.Step(now)
	assert.Equal(t, []float64{100}, c.extruder.percents)
	assert.Equal(t, 0, c.queue.Len())
}

func TestQueryStatus(t *testing.T) {
	var s State
	assert.Equal(t, "Filament NOT present", QueryStatus(&s))

	s.LastDiameter = 1.75
	assert.Equal(t, "Filament dia (measured mm): 1.75", QueryStatus(&s))

	s.LastDiameter = 1.7
	assert.Contains(t, QueryStatus(&s), "1.70")
}

func TestDelayQueue(t *testing.T) {
	var q DelayQueue
	_, ok := q.PeekFront()
	assert.False(t, ok)
	_, ok = q.PeekBack()
	assert.False(t, ok)

	q.Append(DiameterReading{10, 1.7})
	q.Append(DiameterReading{20, 1.8})
	front, _ := q.PeekFront()
	back, _ := q.PeekBack()
	assert.Equal(t, 10.0, front.Position)
	assert.Equal(t, 20.0, back.Position)

	assert.Equal(t, DiameterReading{10, 1.7}, q.PopFront())
	assert.Equal(t, 1, q.Len())

	q.Clear()
	assert.Equal(t, 0, q.Len())
	assert.Empty(t, q.Readings())
}
