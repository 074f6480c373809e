// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package gcode

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	hosterrors "klipper-filament-width/pkg/errors"
	"klipper-filament-width/pkg/log"
)

// CommandHandler is a function that handles a G-code command.
type CommandHandler func(args map[string]string) (string, error)

// Dispatcher maps command names to handlers and keeps their help text.
type Dispatcher struct {
	mu           sync.RWMutex
	commands     map[string]CommandHandler
	commandHelp  map[string]string
	commandOrder []string // sorted, for HELP output

	logger *log.Logger
}

// NewDispatcher creates a dispatcher with the built-in HELP command.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{
		commands:    make(map[string]CommandHandler),
		commandHelp: make(map[string]string),
		logger:      log.GetLogger("gcode"),
	}
	d.RegisterCommand("HELP", d.cmdHelp, "Report available extended G-Code commands")
	return d
}

// RegisterCommand registers a command handler with help text. Registering
// an existing name replaces its handler.
func (d *Dispatcher) RegisterCommand(name string, handler CommandHandler, help string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	name = strings.ToUpper(name)
	if _, exists := d.commands[name]; !exists {
		d.commandOrder = append(d.commandOrder, name)
		sort.Strings(d.commandOrder)
	}
	d.commands[name] = handler
	d.commandHelp[name] = help
}

// UnregisterCommand removes a command handler.
func (d *Dispatcher) UnregisterCommand(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	name = strings.ToUpper(name)
	delete(d.commands, name)
	delete(d.commandHelp, name)
	for i, n := range d.commandOrder {
		if n == name {
			d.commandOrder = append(d.commandOrder[:i], d.commandOrder[i+1:]...)
			break
		}
	}
}

// HasCommand reports whether name is registered.
func (d *Dispatcher) HasCommand(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.commands[strings.ToUpper(name)]
	return ok
}

// HandleCommand executes a registered command.
func (d *Dispatcher) HandleCommand(name string, args map[string]string) (string, error) {
	d.mu.RLock()
	handler, ok := d.commands[strings.ToUpper(name)]
	d.mu.RUnlock()

	if !ok {
		return "", hosterrors.GCodeUnknownCommandError(name)
	}
	return handler(args)
}

// Run parses and executes a single line. Blank lines produce no output.
func (d *Dispatcher) Run(line string) (string, error) {
	cmd, err := ParseLine(line)
	if err != nil || cmd == nil {
		return "", err
	}
	out, err := d.HandleCommand(cmd.Name, cmd.Args)
	if err != nil {
		d.logger.WithField("command", cmd.Name).WithError(err).Debug("command failed")
	}
	return out, err
}

// RunScript executes each line of a multi-line script, stopping at the
// first error. Responses are joined with newlines.
func (d *Dispatcher) RunScript(script string) (string, error) {
	var responses []string
	for _, line := range strings.Split(script, "\n") {
		out, err := d.Run(line)
		if err != nil {
			return strings.Join(responses, "\n"), err
		}
		if out != "" {
			responses = append(responses, out)
		}
	}
	return strings.Join(responses, "\n"), nil
}

// Commands returns the registered command names in sorted order.
func (d *Dispatcher) Commands() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.commandOrder...)
}

func (d *Dispatcher) cmdHelp(args map[string]string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var sb strings.Builder
	sb.WriteString("Available extended commands:")
	for _, name := range d.commandOrder {
		help := d.commandHelp[name]
		if help == "" {
			continue
		}
		fmt.Fprintf(&sb, "\n%-16s: %s", name, help)
	}
	return sb.String(), nil
}
