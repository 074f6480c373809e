// Package gcode provides the host command surface: a line parser, a
// command dispatcher and the extrusion state the width sensor adjusts.
package gcode

import (
	"regexp"
	"strconv"
	"strings"

	hosterrors "klipper-filament-width/pkg/errors"
)

// Command is a parsed G-code line.
type Command struct {
	Name string
	Args map[string]string
	Raw  string
}

var reParenComment = regexp.MustCompile(`\([^)]*\)`)

// ParseLine parses classic ("G1 E5 F300") and extended
// ("SET_X VALUE=1") command lines. Blank lines and pure comments return
// a nil command.
func ParseLine(line string) (*Command, error) {
	ln := strings.TrimSpace(line)
	if idx := strings.IndexByte(ln, ';'); idx >= 0 {
		ln = ln[:idx]
	}
	ln = strings.TrimSpace(reParenComment.ReplaceAllString(ln, " "))
	if ln == "" {
		return nil, nil
	}

	fields := strings.Fields(ln)
	name := strings.ToUpper(fields[0])
	args := map[string]string{}
	for _, f := range fields[1:] {
		if strings.Contains(f, "=") {
			kv := strings.SplitN(f, "=", 2)
			k := strings.ToUpper(strings.TrimSpace(kv[0]))
			if k == "" {
				return nil, hosterrors.GCodeParseError(line, "empty parameter name")
			}
			args[k] = strings.TrimSpace(kv[1])
			continue
		}
		if len(f) < 2 {
			return nil, hosterrors.GCodeParseError(line, "parameter "+f+" has no value")
		}
		args[strings.ToUpper(f[:1])] = f[1:]
	}
	return &Command{Name: name, Args: args, Raw: line}, nil
}

// FloatArg returns the float value of key, or def when absent.
func FloatArg(cmd string, args map[string]string, key string, def float64) (float64, error) {
	raw, ok := args[strings.ToUpper(key)]
	if !ok {
		return def, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, hosterrors.GCodeInvalidParameterError(cmd, key, raw, "not a number")
	}
	return f, nil
}

// RequireFloatArg is FloatArg for mandatory parameters.
func RequireFloatArg(cmd string, args map[string]string, key string) (float64, error) {
	if _, ok := args[strings.ToUpper(key)]; !ok {
		return 0, hosterrors.GCodeMissingParameterError(cmd, key)
	}
	return FloatArg(cmd, args, key, 0)
}
