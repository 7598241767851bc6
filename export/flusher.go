// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package export

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/aleutian-monitor/metrics"
)

// FlusherConfig holds the flush loop settings.
type FlusherConfig struct {
	// Interval is the time between flush ticks. Default: 60 seconds.
	Interval time.Duration

	// ExportTimeout bounds the exporter call on each tick. Default: 10 seconds.
	ExportTimeout time.Duration
}

// DefaultFlusherConfig returns the production defaults.
func DefaultFlusherConfig() FlusherConfig {
	return FlusherConfig{
		Interval:      60 * time.Second,
		ExportTimeout: 10 * time.Second,
	}
}

// Flusher drives the periodic metric export loop.
//
// Description:
//
//	Start spawns a background goroutine that, every Interval, collects the
//	registry (running gauge callbacks and draining the buffer) and hands
//	the batch to the exporter under a bounded timeout. Export errors,
//	including timeouts, are logged and skipped: the loop continues at the
//	next tick, never retries within a tick, and never crashes the process.
//	Stop signals the loop, performs one best-effort final flush, and
//	waits for the goroutine to exit.
//
// Thread Safety: Start and Stop are safe for concurrent use; the flusher
// may be restarted after Stop.
type Flusher struct {
	registry *metrics.Registry
	exporter Exporter
	cfg      FlusherConfig
	logger   *slog.Logger

	// errLog throttles export-failure logging so a dead backend does not
	// flood the host application's logs.
	errLog *rate.Limiter

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewFlusher creates a stopped flusher. Zero config fields fall back to
// DefaultFlusherConfig values; a nil logger falls back to slog.Default().
func NewFlusher(registry *metrics.Registry, exporter Exporter, cfg FlusherConfig, logger *slog.Logger) (*Flusher, error) {
	if registry == nil {
		return nil, ErrNilRegistry
	}
	if exporter == nil {
		return nil, ErrNilExporter
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultFlusherConfig().Interval
	}
	if cfg.ExportTimeout <= 0 {
		cfg.ExportTimeout = DefaultFlusherConfig().ExportTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Flusher{
		registry: registry,
		exporter: exporter,
		cfg:      cfg,
		logger:   logger,
		errLog:   rate.NewLimiter(rate.Every(time.Minute), 1),
	}, nil
}

// Start begins the background flush loop. Returns ErrAlreadyRunning if
// the loop is active. The loop stops when Stop is called or ctx is
// cancelled.
func (f *Flusher) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return ErrAlreadyRunning
	}
	f.running = true
	f.done = make(chan struct{})
	f.mu.Unlock()

	f.logger.Info("metric flush loop starting",
		"interval", f.cfg.Interval.String(),
		"export_timeout", f.cfg.ExportTimeout.String(),
	)

	f.wg.Add(1)
	go f.runLoop(ctx)
	return nil
}

// Stop terminates the loop and waits for it to exit. A final flush is
// attempted on the way out; its failure is logged, not returned. There
// is no durability promise across shutdown. Safe to call when stopped.
func (f *Flusher) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	f.running = false
	close(f.done)
	f.mu.Unlock()

	f.wg.Wait()
	f.logger.Info("metric flush loop stopped")
}

// runLoop is the background goroutine body.
func (f *Flusher) runLoop(ctx context.Context) {
	defer f.wg.Done()

	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.finalFlush()
			return
		case <-f.done:
			f.finalFlush()
			return
		case <-ticker.C:
			f.flushOnce(ctx)
		}
	}
}

// flushOnce performs one collect + export cycle. All failures terminate
// inside this method.
func (f *Flusher) flushOnce(ctx context.Context) {
	points := f.registry.Collect(ctx)
	if len(points) == 0 {
		return
	}

	exportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.cfg.ExportTimeout)
	defer cancel()

	if err := f.exporter.Export(exportCtx, points); err != nil {
		if f.errLog.Allow() {
			f.logger.Warn("metric export failed, dropping batch",
				"points", len(points),
				"error", err,
			)
		}
		return
	}

	f.logger.Debug("metric batch flushed", "points", len(points))
}

// finalFlush is the best-effort drain on shutdown. It uses a fresh
// context so an already-cancelled loop context cannot skip it.
func (f *Flusher) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), f.cfg.ExportTimeout)
	defer cancel()
	f.flushOnce(ctx)
}
