package filament

import "math"

const (
	// MeasurementIntervalMM is the minimum extruder travel between queued
	// readings.
	MeasurementIntervalMM = 10.0

	// PresenceThreshold is the diameter at or below which no filament is
	// assumed to be loaded.
	PresenceThreshold = 0.5

	rawMin  = 0.00001
	rawMax  = 0.99999
	rawToMM = 5.0
)

// State is the last measured diameter. It has one writer, the sampler,
// and is only touched from the reactor loop.
type State struct {
	LastDiameter float64
}

// Present reports whether the last reading indicates loaded filament.
func (s *State) Present() bool {
	return s.LastDiameter > PresenceThreshold
}

// Diameter converts a normalized ADC value to millimeters. The input is
// clamped to [0.00001, 0.99999], scaled by 5 and rounded half away from
// zero to two decimals.
func Diameter(raw float64) float64 {
	clamped := math.Max(rawMin, math.Min(rawMax, raw))
	return math.Round(clamped*rawToMM*100) / 100
}

// PositionSource reports the current extruder position in mm.
type PositionSource interface {
	Position() float64
}

// SampleResult describes what the sampler did with one reading.
type SampleResult struct {
	Diameter float64
	Target   float64 // extruder position at which the reading applies
	Queued   bool
}

// Sampler converts ADC samples to diameters and schedules them on the
// delay queue.
type Sampler struct {
	state    *State
	queue    *DelayQueue
	extruder PositionSource
	delayMM  float64
}

// NewSampler creates a sampler writing to state and queue.
func NewSampler(state *State, queue *DelayQueue, extruder PositionSource, delayMM float64) *Sampler {
	return &Sampler{state: state, queue: queue, extruder: extruder, delayMM: delayMM}
}

// Measure updates the last diameter without queueing.
func (s *Sampler) Measure(raw float64) float64 {
	d := Diameter(raw)
	s.state.LastDiameter = d
	return d
}

// Sample measures raw and queues the reading at the current extruder
// position plus the measurement delay, at most one per
// MeasurementIntervalMM of target travel.
func (s *Sampler) Sample(raw float64) SampleResult {
	d := s.Measure(raw)
	target := s.extruder.Position() + s.delayMM
	res := SampleResult{Diameter: d, Target: target}

	back, ok := s.queue.PeekBack()
	if !ok || back.Position+MeasurementIntervalMM <= target {
		s.queue.Append(DiameterReading{Position: target, Diameter: d})
		res.Queued = true
	}
	return res
}
