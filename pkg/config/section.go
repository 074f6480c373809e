package config

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	hosterrors "klipper-filament-width/pkg/errors"
)

// Section provides access to a config section with access tracking.
type Section struct {
	name    string
	options map[string]string

	mu       sync.RWMutex
	accessed map[string]struct{}
}

func newSection(name string, options map[string]string) *Section {
	opts := make(map[string]string, len(options))
	for k, v := range options {
		opts[strings.ToLower(k)] = v
	}
	return &Section{
		name:     name,
		options:  opts,
		accessed: make(map[string]struct{}),
	}
}

// GetName returns the section name.
func (s *Section) GetName() string {
	return s.name
}

func (s *Section) markAccessed(option string) {
	s.mu.Lock()
	s.accessed[strings.ToLower(option)] = struct{}{}
	s.mu.Unlock()
}

// GetUnusedOptions returns a sorted list of options that were not accessed.
func (s *Section) GetUnusedOptions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []string
	for opt := range s.options {
		if _, ok := s.accessed[opt]; !ok {
			result = append(result, opt)
		}
	}
	sort.Strings(result)
	return result
}

// HasOption checks if an option exists in this section.
func (s *Section) HasOption(option string) bool {
	_, ok := s.options[strings.ToLower(option)]
	return ok
}

// lookup returns the raw value for option, falling back to the first
// fallback if given.
func (s *Section) lookup(option string, hasFallback bool) (string, bool, error) {
	if v, ok := s.options[strings.ToLower(option)]; ok {
		s.markAccessed(option)
		return v, true, nil
	}
	if hasFallback {
		s.markAccessed(option)
		return "", false, nil
	}
	return "", false, hosterrors.ConfigOptionError(s.name, option)
}

// Get returns a string option value.
// If a fallback is provided and the option doesn't exist, returns the fallback.
func (s *Section) Get(option string, fallback ...string) (string, error) {
	v, found, err := s.lookup(option, len(fallback) > 0)
	if err != nil {
		return "", err
	}
	if !found {
		return fallback[0], nil
	}
	return v, nil
}

// GetInt returns an integer option value.
func (s *Section) GetInt(option string, fallback ...int) (int, error) {
	v, found, err := s.lookup(option, len(fallback) > 0)
	if err != nil {
		return 0, err
	}
	if !found {
		return fallback[0], nil
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, hosterrors.ConfigTypeError(s.name, option, v, "integer")
	}
	return i, nil
}

// GetFloat returns a float64 option value.
func (s *Section) GetFloat(option string, fallback ...float64) (float64, error) {
	v, found, err := s.lookup(option, len(fallback) > 0)
	if err != nil {
		return 0, err
	}
	if !found {
		return fallback[0], nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, hosterrors.ConfigTypeError(s.name, option, v, "float")
	}
	return f, nil
}

// FloatBounds specifies bounds for GetFloatWithBounds.
type FloatBounds struct {
	MinVal *float64 // minimum value (>=)
	MaxVal *float64 // maximum value (<=)
	Above  *float64 // must be above this value (>)
	Below  *float64 // must be below this value (<)
}

// Min, Max, Above and Below build single-constraint bounds.
func Min(v float64) FloatBounds   { return FloatBounds{MinVal: &v} }
func Max(v float64) FloatBounds   { return FloatBounds{MaxVal: &v} }
func Above(v float64) FloatBounds { return FloatBounds{Above: &v} }
func Below(v float64) FloatBounds { return FloatBounds{Below: &v} }

// GetFloatWithBounds returns a float64 option value with bounds checking,
// following Klipper's getfloat(minval, maxval, above, below).
func (s *Section) GetFloatWithBounds(option string, bounds FloatBounds, fallback ...float64) (float64, error) {
	v, err := s.GetFloat(option, fallback...)
	if err != nil {
		return 0, err
	}
	format := func(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
	switch {
	case bounds.MinVal != nil && v < *bounds.MinVal:
		return 0, hosterrors.ConfigValidationError(s.name, option, "must have minimum of "+format(*bounds.MinVal))
	case bounds.MaxVal != nil && v > *bounds.MaxVal:
		return 0, hosterrors.ConfigValidationError(s.name, option, "must have maximum of "+format(*bounds.MaxVal))
	case bounds.Above != nil && v <= *bounds.Above:
		return 0, hosterrors.ConfigValidationError(s.name, option, "must be above "+format(*bounds.Above))
	case bounds.Below != nil && v >= *bounds.Below:
		return 0, hosterrors.ConfigValidationError(s.name, option, "must be below "+format(*bounds.Below))
	}
	return v, nil
}

// GetBool returns a boolean option value.
// Accepts: 1, true, yes, on (true) and 0, false, no, off (false).
func (s *Section) GetBool(option string, fallback ...bool) (bool, error) {
	v, found, err := s.lookup(option, len(fallback) > 0)
	if err != nil {
		return false, err
	}
	if !found {
		return fallback[0], nil
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, hosterrors.ConfigTypeError(s.name, option, v, "boolean")
}
