// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package export ships buffered metric data points to remote backends on a
// periodic schedule. Delivery is best effort: a failed tick is logged and
// skipped, never retried within the tick and never surfaced to the host
// application.
package export

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/aleutian-monitor/metrics"
)

// Exporter pushes one drained batch of data points to a backend.
//
// Implementations must honor ctx cancellation; the flush loop bounds every
// Export call with a per-tick timeout.
type Exporter interface {
	Export(ctx context.Context, points []metrics.DataPoint) error
}

// ExporterFunc adapts a function to the Exporter interface.
type ExporterFunc func(ctx context.Context, points []metrics.DataPoint) error

// Export implements Exporter.
func (f ExporterFunc) Export(ctx context.Context, points []metrics.DataPoint) error {
	return f(ctx, points)
}

// LogExporter writes every batch through slog. It is the development
// stand-in for a remote backend and the mirror target when batch logging
// is enabled alongside remote write.
type LogExporter struct {
	logger *slog.Logger
}

// NewLogExporter creates a log exporter. A nil logger falls back to
// slog.Default().
func NewLogExporter(logger *slog.Logger) *LogExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogExporter{logger: logger}
}

// Export implements Exporter by logging each data point at debug level.
func (e *LogExporter) Export(ctx context.Context, points []metrics.DataPoint) error {
	for _, p := range points {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.logger.DebugContext(ctx, "metric data point",
			"name", p.Name,
			"kind", p.Kind.String(),
			"unit", p.Unit,
			"value", p.Value,
			"attributes", p.Attributes.StringMap(),
			"time", p.Time,
		)
	}
	e.logger.InfoContext(ctx, "metric batch exported", "points", len(points))
	return nil
}

// MultiExporter fans one batch out to several exporters concurrently.
type MultiExporter struct {
	exporters []Exporter
}

// NewMultiExporter combines exporters. Nil entries are dropped.
func NewMultiExporter(exporters ...Exporter) *MultiExporter {
	kept := make([]Exporter, 0, len(exporters))
	for _, e := range exporters {
		if e != nil {
			kept = append(kept, e)
		}
	}
	return &MultiExporter{exporters: kept}
}

// Export implements Exporter. All exporters receive the batch and the
// first failure, if any, is returned. One slow or failing backend does
// not stop delivery to the others.
func (m *MultiExporter) Export(ctx context.Context, points []metrics.DataPoint) error {
	// Plain errgroup, not WithContext: one failing backend must not cancel
	// the sibling exports.
	var g errgroup.Group
	for _, e := range m.exporters {
		g.Go(func() error {
			return e.Export(ctx, points)
		})
	}
	return g.Wait()
}
