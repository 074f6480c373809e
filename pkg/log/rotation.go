// Log file rotation for the filament width host
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"io"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	hosterrors "klipper-filament-width/pkg/errors"
)

// RotationConfig configures log file rotation.
type RotationConfig struct {
	// Filename is the path to the log file.
	Filename string

	// MaxSize is the maximum size in megabytes before rotation.
	// Default is 10 MB.
	MaxSize int

	// MaxBackups is the maximum number of old log files to retain.
	// Default is 5.
	MaxBackups int

	// MaxAgeDays removes backups older than this many days. Zero keeps them.
	MaxAgeDays int

	// Compress determines if rotated files should be gzipped.
	Compress bool
}

// NewFileWriter returns a size-rotated log file writer.
func NewFileWriter(cfg RotationConfig) (io.WriteCloser, error) {
	if cfg.Filename == "" {
		return nil, hosterrors.RuntimeErrorInit("log file", "filename is required")
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Filename), 0o755); err != nil {
		return nil, hosterrors.Wrap(err, hosterrors.ErrRuntimeInit, "create log directory")
	}
	return &lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}, nil
}

// NewFileLogger creates a logger that writes only to a rotating file.
func NewFileLogger(prefix string, cfg RotationConfig) (*Logger, io.Closer, error) {
	w, err := NewFileWriter(cfg)
	if err != nil {
		return nil, nil, err
	}
	logger := New(prefix)
	logger.SetWriter(w)
	logger.SetColorize(false)
	return logger, w, nil
}

// NewConsoleAndFileLogger creates a logger that writes to stderr and a rotating file.
func NewConsoleAndFileLogger(prefix string, cfg RotationConfig) (*Logger, io.Closer, error) {
	w, err := NewFileWriter(cfg)
	if err != nil {
		return nil, nil, err
	}
	logger := New(prefix)
	logger.SetWriter(io.MultiWriter(os.Stderr, w))
	// Escape codes would end up in the file.
	logger.SetColorize(false)
	return logger, w, nil
}
