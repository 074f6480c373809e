// Package sim drives the filament width sensor from a described filament
// instead of real hardware, either in virtual time or against the wall
// clock.
package sim

import (
	"bytes"
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"klipper-filament-width/pkg/config"
	hosterrors "klipper-filament-width/pkg/errors"
)

// Segment is a stretch of filament with a constant diameter. A diameter of
// zero means no filament.
type Segment struct {
	LengthMM   float64 `yaml:"length_mm"`
	DiameterMM float64 `yaml:"diameter_mm"`
}

// Pause is a time window in which the extruder stands still.
type Pause struct {
	StartS float64 `yaml:"start_s"`
	EndS   float64 `yaml:"end_s"`
}

// SensorOverrides replace values from printer.cfg when set.
type SensorOverrides struct {
	NominalDiameter    *float64 `yaml:"nominal_diameter"`
	MeasurementDelayCM *float64 `yaml:"measurement_delay_cm"`
	MaxDifference      *float64 `yaml:"max_difference"`
	Enable             *bool    `yaml:"enable"`
}

// Scenario describes one simulated print. Filament coordinates start at
// the sensor: the piece at coordinate x passes the sensor when the
// extruder position is x.
type Scenario struct {
	Name      string          `yaml:"name"`
	SpeedMMS  float64         `yaml:"speed_mm_s"`
	DurationS float64         `yaml:"duration_s"`
	Segments  []Segment       `yaml:"segments"`
	Pauses    []Pause         `yaml:"pauses"`
	Sensor    SensorOverrides `yaml:"sensor"`
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading scenario %s", path)
	}
	sc, err := ParseScenario(data)
	if err != nil {
		return nil, errors.Wrapf(err, "scenario %s", path)
	}
	return sc, nil
}

// ParseScenario decodes YAML scenario data. Unknown keys are rejected.
func ParseScenario(data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		return nil, hosterrors.Wrap(err, hosterrors.ErrModuleSimulation, "invalid scenario yaml")
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate reports every problem of the scenario.
func (s *Scenario) Validate() error {
	var result error
	fail := func(format string, args ...interface{}) {
		result = multierror.Append(result, hosterrors.SimulationError(fmt.Sprintf(format, args...)))
	}

	if s.SpeedMMS <= 0 {
		fail("speed_mm_s must be above 0")
	}
	if s.DurationS <= 0 {
		fail("duration_s must be above 0")
	}
	if len(s.Segments) == 0 {
		fail("at least one segment is required")
	}
	for i, seg := range s.Segments {
		if seg.LengthMM <= 0 {
			fail("segment %d: length_mm must be above 0", i)
		}
		if seg.DiameterMM < 0 {
			fail("segment %d: diameter_mm must not be negative", i)
		}
	}
	for i, p := range s.Pauses {
		if p.StartS < 0 || p.EndS <= p.StartS {
			fail("pause %d: need 0 <= start_s < end_s", i)
		}
	}
	return result
}

// Apply returns cfg with the scenario's sensor overrides applied.
func (s *Scenario) Apply(cfg config.FilamentWidthConfig) config.FilamentWidthConfig {
	nominal := cfg.NominalDiameter
	delayCM := cfg.MeasurementDelayMM / 10
	maxDiff := cfg.MaxDifference
	if v := s.Sensor.NominalDiameter; v != nil {
		nominal = *v
	}
	if v := s.Sensor.MeasurementDelayCM; v != nil {
		delayCM = *v
	}
	if v := s.Sensor.MaxDifference; v != nil {
		maxDiff = *v
	}

	out := config.NewFilamentWidthConfig(cfg.Pin, nominal, delayCM, maxDiff)
	out.Enable = cfg.Enable
	out.Logging = cfg.Logging
	if v := s.Sensor.Enable; v != nil {
		out.Enable = *v
	}
	return out
}

// DiameterAt returns the filament diameter at coordinate x. Coordinates
// before the profile use the first segment and coordinates past its end
// use the last one.
func (s *Scenario) DiameterAt(x float64) float64 {
	if len(s.Segments) == 0 {
		return 0
	}
	if x < 0 {
		return s.Segments[0].DiameterMM
	}
	end := 0.0
	for _, seg := range s.Segments {
		end += seg.LengthMM
		if x < end {
			return seg.DiameterMM
		}
	}
	return s.Segments[len(s.Segments)-1].DiameterMM
}

// Paused reports whether the extruder stands still at time t.
func (s *Scenario) Paused(t float64) bool {
	for _, p := range s.Pauses {
		if t >= p.StartS && t < p.EndS {
			return true
		}
	}
	return false
}

// RawFromDiameter converts a diameter to the normalized ADC value the
// sensor would report for it.
func RawFromDiameter(d float64) float64 {
	return d / 5.0
}
