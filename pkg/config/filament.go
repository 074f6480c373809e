package config

import (
	"github.com/hashicorp/go-multierror"
)

// FilamentWidthSection is the printer.cfg section of the width sensor.
const FilamentWidthSection = "filament_width_sensor"

// FilamentWidthConfig is the immutable sensor configuration.
type FilamentWidthConfig struct {
	Pin                string
	NominalDiameter    float64 // mm
	MeasurementDelayMM float64 // sensor to nozzle distance, mm
	MaxDifference      float64 // tolerance, mm
	MinDiameter        float64
	MaxDiameter        float64
	Enable             bool
	Logging            bool
}

// NewFilamentWidthConfig derives the tolerance band from the given values.
func NewFilamentWidthConfig(pin string, nominal, delayCM, maxDifference float64) FilamentWidthConfig {
	return FilamentWidthConfig{
		Pin:                pin,
		NominalDiameter:    nominal,
		MeasurementDelayMM: delayCM * 10,
		MaxDifference:      maxDifference,
		MinDiameter:        nominal - maxDifference,
		MaxDiameter:        nominal + maxDifference,
		Enable:             true,
	}
}

// LoadFilamentWidthConfig reads [filament_width_sensor]. Every invalid or
// missing option is reported, not just the first.
func LoadFilamentWidthConfig(c *Config) (FilamentWidthConfig, error) {
	sec, err := c.GetSection(FilamentWidthSection)
	if err != nil {
		return FilamentWidthConfig{}, err
	}

	var result error
	collect := func(err error) {
		if err != nil {
			result = multierror.Append(result, err)
		}
	}

	pin, err := sec.Get("pin")
	collect(err)
	nominal, err := sec.GetFloatWithBounds("default_nominal_filament_dia", Above(1.0))
	collect(err)
	delayCM, err := sec.GetFloatWithBounds("measurement_delay_cm", Min(0))
	collect(err)
	maxDiff, err := sec.GetFloatWithBounds("max_difference", Above(0))
	collect(err)
	enable, err := sec.GetBool("enable", true)
	collect(err)
	logging, err := sec.GetBool("logging", false)
	collect(err)

	if result != nil {
		return FilamentWidthConfig{}, result
	}

	cfg := NewFilamentWidthConfig(pin, nominal, delayCM, maxDiff)
	cfg.Enable = enable
	cfg.Logging = logging
	return cfg, nil
}

// HostConfig holds the optional network endpoints of the host.
type HostConfig struct {
	MetricsAddress string
	MetricsUser    string
	MetricsPass    string
	APIAddress     string
}

// LoadHostConfig reads the optional [metrics] and [api_server] sections.
// A missing section leaves its address empty, which disables the endpoint.
func LoadHostConfig(c *Config) HostConfig {
	var hc HostConfig
	if sec := c.GetSectionOptional("metrics"); sec != nil {
		hc.MetricsAddress, _ = sec.Get("address", ":9100")
		hc.MetricsUser, _ = sec.Get("username", "")
		hc.MetricsPass, _ = sec.Get("password", "")
	}
	if sec := c.GetSectionOptional("api_server"); sec != nil {
		hc.APIAddress, _ = sec.Get("address", ":7125")
	}
	return hc
}
