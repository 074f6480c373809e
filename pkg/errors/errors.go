// Unified error handling for the filament width host
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Configuration errors
	ErrConfigSection    ErrorCode = "CONFIG_SECTION"
	ErrConfigOption     ErrorCode = "CONFIG_OPTION"
	ErrConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrConfigType       ErrorCode = "CONFIG_TYPE"

	// G-code errors
	ErrGCodeParse        ErrorCode = "GCODE_PARSE"
	ErrGCodeUnknownCmd   ErrorCode = "GCODE_UNKNOWN_CMD"
	ErrGCodeMissingParam ErrorCode = "GCODE_MISSING_PARAM"
	ErrGCodeInvalidParam ErrorCode = "GCODE_INVALID_PARAM"

	// Runtime errors
	ErrRuntime        ErrorCode = "RUNTIME"
	ErrRuntimeInit    ErrorCode = "RUNTIME_INIT"
	ErrRuntimeTimeout ErrorCode = "RUNTIME_TIMEOUT"

	// Module errors
	ErrModuleFilamentWidth ErrorCode = "MODULE_FILAMENT_WIDTH"
	ErrModuleSimulation    ErrorCode = "MODULE_SIMULATION"
)

// HostError is the unified error type for the host.
type HostError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Section is the config section or command context
	Section string

	// Option is the config option or command parameter
	Option string

	// Err wraps the underlying error
	Err error
}

// Error implements the error interface
func (e *HostError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *HostError) Unwrap() error {
	return e.Err
}

// SetSection sets the context section
func (e *HostError) SetSection(section string) *HostError {
	e.Section = section
	return e
}

// SetOption sets the config option
func (e *HostError) SetOption(option string) *HostError {
	e.Option = option
	return e
}

// New creates a new HostError
func New(code ErrorCode, message string) *HostError {
	return &HostError{Code: code, Message: message}
}

// Wrap wraps an existing error with a code and message
func Wrap(err error, code ErrorCode, message string) *HostError {
	return &HostError{Code: code, Message: message, Err: err}
}

// Config errors

// ConfigSectionError creates an error for a missing config section
func ConfigSectionError(section string) *HostError {
	return New(ErrConfigSection, fmt.Sprintf("section '%s' not found", section)).
		SetSection(section)
}

// ConfigOptionError creates an error for a missing config option
func ConfigOptionError(section, option string) *HostError {
	return New(ErrConfigOption, fmt.Sprintf("option '%s' in section '%s' must be specified", option, section)).
		SetSection(section).
		SetOption(option)
}

// ConfigValidationError creates an error for a value that fails a constraint
func ConfigValidationError(section, option, reason string) *HostError {
	return New(ErrConfigValidation, fmt.Sprintf("option '%s' in section '%s': %s", option, section, reason)).
		SetSection(section).
		SetOption(option)
}

// ConfigTypeError creates an error for a value that cannot be converted
func ConfigTypeError(section, option, value, targetType string) *HostError {
	return New(ErrConfigType, fmt.Sprintf("option '%s' in section '%s': unable to parse '%s' as %s", option, section, value, targetType)).
		SetSection(section).
		SetOption(option)
}

// G-code errors

// GCodeParseError creates an error for a malformed command line
func GCodeParseError(line, reason string) *HostError {
	return New(ErrGCodeParse, fmt.Sprintf("unable to parse '%s': %s", line, reason))
}

// GCodeUnknownCommandError creates an error for an unregistered command
func GCodeUnknownCommandError(command string) *HostError {
	return New(ErrGCodeUnknownCmd, fmt.Sprintf("unknown command: %s", command)).
		SetSection(command)
}

// GCodeMissingParameterError creates an error for a missing parameter
func GCodeMissingParameterError(command, param string) *HostError {
	return New(ErrGCodeMissingParam, fmt.Sprintf("%s requires parameter %s", command, param)).
		SetSection(command).
		SetOption(param)
}

// GCodeInvalidParameterError creates an error for an unusable parameter value
func GCodeInvalidParameterError(command, param, value, reason string) *HostError {
	return New(ErrGCodeInvalidParam, fmt.Sprintf("%s: invalid %s=%s (%s)", command, param, value, reason)).
		SetSection(command).
		SetOption(param)
}

// Runtime errors

// RuntimeError creates a general runtime error
func RuntimeError(message string) *HostError {
	return New(ErrRuntime, message)
}

// RuntimeErrorInit creates an error for a component that failed to start
func RuntimeErrorInit(component, reason string) *HostError {
	return New(ErrRuntimeInit, fmt.Sprintf("failed to initialize %s: %s", component, reason))
}

// RuntimeTimeoutError creates an error for an operation that did not complete in time
func RuntimeTimeoutError(operation string) *HostError {
	return New(ErrRuntimeTimeout, fmt.Sprintf("%s timed out", operation))
}

// Module errors

// FilamentWidthError creates a filament_width_sensor module error
func FilamentWidthError(message string) *HostError {
	return New(ErrModuleFilamentWidth, message)
}

// SimulationError creates a simulation module error
func SimulationError(message string) *HostError {
	return New(ErrModuleSimulation, message)
}

// Is checks if any error in the chain carries the given code
func Is(err error, code ErrorCode) bool {
	var hostErr *HostError
	for err != nil {
		if !stderrors.As(err, &hostErr) {
			return false
		}
		if hostErr.Code == code {
			return true
		}
		err = hostErr.Err
	}
	return false
}

// IsConfig checks if error is a config error
func IsConfig(err error) bool {
	return Is(err, ErrConfigSection) ||
		Is(err, ErrConfigOption) ||
		Is(err, ErrConfigValidation) ||
		Is(err, ErrConfigType)
}

// IsGCode checks if error is a G-code error
func IsGCode(err error) bool {
	return Is(err, ErrGCodeParse) ||
		Is(err, ErrGCodeUnknownCmd) ||
		Is(err, ErrGCodeMissingParam) ||
		Is(err, ErrGCodeInvalidParam)
}
