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
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/aleutian-monitor/metrics"
)

// captureExporter records every exported batch and can be told to fail.
type captureExporter struct {
	mu      sync.Mutex
	batches [][]metrics.DataPoint
	err     error
}

func (c *captureExporter) Export(_ context.Context, points []metrics.DataPoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	batch := make([]metrics.DataPoint, len(points))
	copy(batch, points)
	c.batches = append(c.batches, batch)
	return nil
}

func (c *captureExporter) batchCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

func (c *captureExporter) pointCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, b := range c.batches {
		n += len(b)
	}
	return n
}

func (c *captureExporter) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestNewFlusher_Validation(t *testing.T) {
	registry := metrics.NewRegistry(discardLogger())

	_, err := NewFlusher(nil, &captureExporter{}, FlusherConfig{}, nil)
	assert.ErrorIs(t, err, ErrNilRegistry)

	_, err = NewFlusher(registry, nil, FlusherConfig{}, nil)
	assert.ErrorIs(t, err, ErrNilExporter)

	f, err := NewFlusher(registry, &captureExporter{}, FlusherConfig{}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultFlusherConfig().Interval, f.cfg.Interval)
	assert.Equal(t, DefaultFlusherConfig().ExportTimeout, f.cfg.ExportTimeout)
}

func TestFlusher_StartTwice(t *testing.T) {
	registry := metrics.NewRegistry(discardLogger())
	f, err := NewFlusher(registry, &captureExporter{}, FlusherConfig{Interval: time.Hour}, discardLogger())
	require.NoError(t, err)

	require.NoError(t, f.Start(context.Background()))
	defer f.Stop()

	assert.ErrorIs(t, f.Start(context.Background()), ErrAlreadyRunning)
}

func TestFlusher_PeriodicExport(t *testing.T) {
	registry := metrics.NewRegistry(discardLogger())
	counter, err := registry.Counter("ticks", "tick counter", "1")
	require.NoError(t, err)

	exporter := &captureExporter{}
	f, err := NewFlusher(registry, exporter, FlusherConfig{Interval: 10 * time.Millisecond}, discardLogger())
	require.NoError(t, err)

	require.NoError(t, counter.Add(1, nil))
	require.NoError(t, f.Start(context.Background()))

	// At least one tick should drain the buffered point.
	require.Eventually(t, func() bool { return exporter.pointCount() >= 1 },
		2*time.Second, 5*time.Millisecond)

	f.Stop()
}

// TestFlusher_ExportFailureKeepsLoopRunning: a persistently failing
// exporter must not stop the loop; once it recovers, new batches flow.
func TestFlusher_ExportFailureKeepsLoopRunning(t *testing.T) {
	registry := metrics.NewRegistry(discardLogger())
	counter, err := registry.Counter("events", "events", "1")
	require.NoError(t, err)

	exporter := &captureExporter{}
	exporter.setErr(errors.New("backend unreachable"))

	f, err := NewFlusher(registry, exporter, FlusherConfig{Interval: 10 * time.Millisecond}, discardLogger())
	require.NoError(t, err)
	require.NoError(t, f.Start(context.Background()))
	defer f.Stop()

	// Feed points across several failing ticks.
	deadline := time.After(100 * time.Millisecond)
feed:
	for {
		select {
		case <-deadline:
			break feed
		default:
			require.NoError(t, counter.Add(1, nil))
			time.Sleep(5 * time.Millisecond)
		}
	}
	assert.Equal(t, 0, exporter.batchCount())

	// Recover the backend; the loop must still be alive and exporting.
	exporter.setErr(nil)
	require.NoError(t, counter.Add(1, nil))
	require.Eventually(t, func() bool { return exporter.batchCount() >= 1 },
		2*time.Second, 5*time.Millisecond)
}

// TestFlusher_StopFinalFlush: points buffered but not yet ticked out are
// flushed best-effort on Stop.
func TestFlusher_StopFinalFlush(t *testing.T) {
	registry := metrics.NewRegistry(discardLogger())
	counter, err := registry.Counter("pending", "pending", "1")
	require.NoError(t, err)

	exporter := &captureExporter{}
	f, err := NewFlusher(registry, exporter, FlusherConfig{Interval: time.Hour}, discardLogger())
	require.NoError(t, err)
	require.NoError(t, f.Start(context.Background()))

	require.NoError(t, counter.Add(5, nil))
	f.Stop()

	require.Equal(t, 1, exporter.batchCount())
	assert.Equal(t, 1, exporter.pointCount())
	assert.Equal(t, 0, registry.Pending())
}

func TestFlusher_StopIdempotent(t *testing.T) {
	registry := metrics.NewRegistry(discardLogger())
	f, err := NewFlusher(registry, &captureExporter{}, FlusherConfig{Interval: time.Hour}, discardLogger())
	require.NoError(t, err)

	require.NoError(t, f.Start(context.Background()))
	f.Stop()
	f.Stop() // no-op, must not panic or block

	// Restart after Stop is allowed.
	require.NoError(t, f.Start(context.Background()))
	f.Stop()
}

func TestFlusher_ContextCancelStopsLoop(t *testing.T) {
	registry := metrics.NewRegistry(discardLogger())
	counter, err := registry.Counter("late", "late", "1")
	require.NoError(t, err)

	exporter := &captureExporter{}
	f, err := NewFlusher(registry, exporter, FlusherConfig{Interval: time.Hour}, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.Start(ctx))

	require.NoError(t, counter.Add(1, nil))
	cancel()

	// Cancellation triggers the final best-effort flush.
	require.Eventually(t, func() bool { return exporter.pointCount() == 1 },
		2*time.Second, 5*time.Millisecond)

	f.Stop()
}
