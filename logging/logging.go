// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging builds the slog loggers used across the monitor.
//
// Default output is human-readable text on stderr, following CLI
// conventions. File logging writes JSON alongside stderr so aggregated
// systems get machine-parseable entries while the terminal stays
// readable.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config configures logger construction. The zero value produces an
// Info-level text logger on stderr.
type Config struct {
	// Level is the minimum level: "debug", "info", "warn", or "error".
	// Unrecognized values fall back to "info".
	Level string `json:"level" yaml:"level"`

	// Service is attached to every entry as the "service" attribute.
	Service string `json:"service" yaml:"service"`

	// LogDir enables JSON file logging to "{service}_{date}.log" in the
	// given directory, created with 0750 if missing. Supports a leading
	// "~" for the home directory.
	LogDir string `json:"log_dir" yaml:"log_dir"`

	// JSON switches the stderr output to JSON. File output is always JSON.
	JSON bool `json:"json" yaml:"json"`

	// Quiet disables stderr output. Useful for daemons whose stderr is
	// not monitored; file logging still applies.
	Quiet bool `json:"quiet" yaml:"quiet"`
}

// New builds a logger from the configuration.
//
// Description:
//
//	Assembles the stderr and file handlers named by the config into one
//	slog.Logger. The returned close function releases the log file; it
//	is safe to call when no file is open.
//
// Outputs:
//
//	*slog.Logger - The configured logger.
//	func() error - Cleanup to call on shutdown.
//
// Example:
//
//	logger, closeLogs := logging.New(logging.Config{Service: "monitor-demo"})
//	defer closeLogs()
//
// Thread Safety: The returned logger is safe for concurrent use.
func New(cfg Config) (*slog.Logger, func() error) {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handlers []slog.Handler
	if !cfg.Quiet {
		if cfg.JSON {
			handlers = append(handlers, slog.NewJSONHandler(os.Stderr, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(os.Stderr, opts))
		}
	}

	closeFn := func() error { return nil }
	if cfg.LogDir != "" {
		if file, err := openLogFile(cfg); err == nil {
			handlers = append(handlers, slog.NewJSONHandler(file, opts))
			closeFn = file.Close
		}
		// A failed file open degrades to stderr-only; logging must not
		// take the process down.
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = slog.DiscardHandler
	case 1:
		handler = handlers[0]
	default:
		handler = multiHandler(handlers)
	}

	if cfg.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", cfg.Service)})
	}
	return slog.New(handler), closeFn
}

// openLogFile creates the dated log file for appending.
func openLogFile(cfg Config) (*os.File, error) {
	dir := expandPath(cfg.LogDir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	service := cfg.Service
	if service == "" {
		service = "monitor"
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	return os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
}

// parseLevel maps a config string onto a slog level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// expandPath resolves a leading ~ to the home directory.
func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// multiHandler fans one record out to several handlers.
type multiHandler []slog.Handler

func (h multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, hh := range h {
		if hh.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, hh := range h {
		if hh.Enabled(ctx, r.Level) {
			if err := hh.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (h multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(multiHandler, len(h))
	for i, hh := range h {
		out[i] = hh.WithAttrs(attrs)
	}
	return out
}

func (h multiHandler) WithGroup(name string) slog.Handler {
	out := make(multiHandler, len(h))
	for i, hh := range h {
		out[i] = hh.WithGroup(name)
	}
	return out
}
