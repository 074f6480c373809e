// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package config parses Klipper-style printer.cfg files with access tracking
// so unused sections and options can be reported after the host starts.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	hosterrors "klipper-filament-width/pkg/errors"
)

// Config provides access to a configuration file with access tracking.
type Config struct {
	mu       sync.RWMutex
	sections map[string]*Section
	order    []string // Maintains section order

	accessedSections map[string]struct{}
}

// New creates a new empty Config.
func New() *Config {
	return &Config{
		sections:         make(map[string]*Section),
		accessedSections: make(map[string]struct{}),
	}
}

// Load reads a configuration file and returns a Config.
// Supports [include path] directives for including other config files.
func Load(path string) (*Config, error) {
	c := New()
	if err := c.parseFile(path, make(map[string]bool)); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadString parses a configuration from a string. Include directives are
// not allowed since there is no base directory to resolve them against.
func LoadString(data string) (*Config, error) {
	c := New()
	if err := c.parse(strings.NewReader(data), "<string>", nil); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) parseFile(path string, visited map[string]bool) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return hosterrors.Wrap(err, hosterrors.ErrConfigSection, "invalid config path "+path)
	}
	if visited[abs] {
		return hosterrors.New(hosterrors.ErrConfigSection, "recursive include: "+path)
	}
	visited[abs] = true
	defer func() { visited[abs] = false }()

	f, err := os.Open(abs)
	if err != nil {
		return hosterrors.Wrap(err, hosterrors.ErrConfigSection, "unable to open "+path)
	}
	defer f.Close()

	dir := filepath.Dir(abs)
	return c.parse(f, path, func(pattern string) error {
		glob := filepath.Join(dir, pattern)
		matches, err := filepath.Glob(glob)
		if err != nil {
			return hosterrors.Wrap(err, hosterrors.ErrConfigSection, fmt.Sprintf("invalid include pattern %q", pattern))
		}
		sort.Strings(matches)
		if len(matches) == 0 && !strings.ContainsAny(glob, "*?[") {
			return hosterrors.New(hosterrors.ErrConfigSection, "include file does not exist: "+glob)
		}
		for _, m := range matches {
			if err := c.parseFile(m, visited); err != nil {
				return err
			}
		}
		return nil
	})
}

// parse reads sections and options from r. include is nil when include
// directives are not permitted.
func (c *Config) parse(r io.Reader, name string, include func(pattern string) error) error {
	var currentSection string
	var currentOptions map[string]string

	flush := func() {
		if currentSection != "" {
			c.addSection(currentSection, currentOptions)
		}
		currentSection = ""
		currentOptions = nil
	}

	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// SAVE_CONFIG blocks are parsed as regular config.
		if strings.HasPrefix(line, "#*#") {
			line = strings.TrimSpace(line[3:])
		} else if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			flush()
			header := strings.TrimSpace(line[1 : len(line)-1])
			if header == "" {
				return hosterrors.New(hosterrors.ErrConfigSection,
					fmt.Sprintf("empty section header at line %d in %s", lineNum, name))
			}
			if strings.HasPrefix(header, "include ") {
				pattern := strings.TrimSpace(header[len("include "):])
				if include == nil || pattern == "" {
					return hosterrors.New(hosterrors.ErrConfigSection,
						fmt.Sprintf("unusable include at line %d in %s", lineNum, name))
				}
				if err := include(pattern); err != nil {
					return err
				}
				continue
			}
			currentSection = header
			currentOptions = make(map[string]string)
			continue
		}

		// Options before the first section are ignored
		if currentSection == "" {
			continue
		}

		key, value, ok := splitOption(line)
		if !ok {
			continue
		}
		currentOptions[key] = value
	}
	flush()

	if err := scanner.Err(); err != nil {
		return hosterrors.Wrap(err, hosterrors.ErrConfigSection, "error reading "+name)
	}
	return nil
}

// splitOption splits "key: value" or "key = value" on whichever delimiter
// comes first, so values such as ":9100" survive.
func splitOption(line string) (string, string, bool) {
	idx := strings.IndexAny(line, ":=")
	if idx < 0 {
		return "", "", false
	}
	key := strings.TrimSpace(line[:idx])
	if key == "" {
		return "", "", false
	}
	return key, strings.TrimSpace(line[idx+1:]), true
}

// addSection adds a section to the config, merging with an earlier one of
// the same name.
func (c *Config) addSection(name string, options map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.sections[name]; ok {
		for k, v := range options {
			existing.options[strings.ToLower(k)] = v
		}
		return
	}
	c.sections[name] = newSection(name, options)
	c.order = append(c.order, name)
}

// GetSection returns a Section by name, or error if not found.
func (c *Config) GetSection(name string) (*Section, error) {
	sec := c.GetSectionOptional(name)
	if sec == nil {
		return nil, hosterrors.ConfigSectionError(name)
	}
	return sec, nil
}

// GetSectionOptional returns a Section if it exists, or nil if not.
func (c *Config) GetSectionOptional(name string) *Section {
	c.mu.Lock()
	defer c.mu.Unlock()

	sec, ok := c.sections[name]
	if ok {
		c.accessedSections[name] = struct{}{}
	}
	return sec
}

// HasSection checks if a section exists.
func (c *Config) HasSection(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.sections[name]
	return ok
}

// GetSectionNames returns all section names in order.
func (c *Config) GetSectionNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]string, len(c.order))
	copy(result, c.order)
	return result
}

// GetUnusedSections returns a list of sections that were not accessed.
func (c *Config) GetUnusedSections() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var result []string
	for name := range c.sections {
		if _, ok := c.accessedSections[name]; !ok {
			result = append(result, name)
		}
	}
	sort.Strings(result)
	return result
}

// CheckUnusedOptions returns an error if any accessed section has options
// that nothing read.
func (c *Config) CheckUnusedOptions() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var problems []string
	for name := range c.accessedSections {
		unused := c.sections[name].GetUnusedOptions()
		if len(unused) > 0 {
			sort.Strings(unused)
			problems = append(problems, fmt.Sprintf("[%s]: unused options %v", name, unused))
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return hosterrors.New(hosterrors.ErrConfigOption, strings.Join(problems, "; "))
	}
	return nil
}
