// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package metrics implements the in-process metric registry for the
// Aleutian monitoring pipeline.
//
// The registry owns named instruments (counters, histograms, and
// callback-driven gauges) and an export buffer. Recording a value appends
// a data point to the buffer; the export loop drains the buffer atomically
// on each flush tick. No network calls happen on the recording path.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Kind identifies the instrument type behind a data point.
type Kind int

const (
	// KindCounter is a monotonically increasing sum.
	KindCounter Kind = iota
	// KindHistogram is a distribution sample.
	KindHistogram
	// KindGauge is a point-in-time observation pulled from a callback.
	KindGauge
)

// String returns a readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindCounter:
		return "counter"
	case KindHistogram:
		return "histogram"
	case KindGauge:
		return "gauge"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// DataPoint is a single buffered metric value ready for export.
type DataPoint struct {
	// Name is the registered instrument name.
	Name string
	// Unit is the instrument unit string (e.g. "ms", "%", "1").
	Unit string
	// Kind is the instrument type that produced the point.
	Kind Kind
	// Value is the recorded or observed value.
	Value float64
	// Attributes is the attribute set recorded with the value. May be nil.
	Attributes Attributes
	// Time is when the value was recorded.
	Time time.Time
}

// Observation is one gauge reading returned by a GaugeCallback.
type Observation struct {
	Value      float64
	Attributes Attributes
}

// GaugeCallback produces the current gauge readings. It is invoked
// synchronously by Collect on every flush tick and must be fast and
// side-effect free. Returning an error skips this gauge for the tick
// without affecting other instruments.
type GaugeCallback func(ctx context.Context) ([]Observation, error)

// instrument is the shared descriptor behind every handle.
type instrument struct {
	name        string
	description string
	unit        string
	kind        Kind
}

// Registry holds named instruments and the export buffer.
//
// Description:
//
//	One Registry exists per pipeline. Instrument names are unique across
//	all kinds; registering a duplicate fails with ErrDuplicateInstrument
//	and leaves the existing instrument untouched. Recording is an
//	in-memory append guarded by a mutex; Collect drains the buffer
//	atomically for the export loop.
//
// Thread Safety: Safe for concurrent use.
type Registry struct {
	logger *slog.Logger

	mu          sync.Mutex
	instruments map[string]*instrument
	gauges      []*Gauge
	buffer      []DataPoint

	// now is replaceable in tests.
	now func() time.Time
}

// NewRegistry creates an empty registry. A nil logger falls back to
// slog.Default().
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:      logger,
		instruments: make(map[string]*instrument),
		now:         time.Now,
	}
}

// =============================================================================
// Instrument Registration
// =============================================================================

// register validates the name and claims it, or reports the conflict.
func (r *Registry) register(name, description, unit string, kind Kind) (*instrument, error) {
	if name == "" {
		return nil, ErrEmptyName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.instruments[name]; ok {
		return nil, fmt.Errorf("%w: %q already registered as %s", ErrDuplicateInstrument, name, existing.kind)
	}

	inst := &instrument{name: name, description: description, unit: unit, kind: kind}
	r.instruments[name] = inst
	return inst, nil
}

// Counter registers a monotonic counter instrument.
//
// Description:
//
//	Returns a handle whose Add appends increments to the export buffer.
//	Fails with ErrDuplicateInstrument if the name is taken.
//
// Inputs:
//
//	name - Unique instrument name (e.g. "http.server.requests.total").
//	description - Human-readable description for the backend.
//	unit - Unit string (e.g. "1", "{request}").
//
// Outputs:
//
//	*Counter - Handle for recording increments.
//	error - ErrEmptyName or ErrDuplicateInstrument.
func (r *Registry) Counter(name, description, unit string) (*Counter, error) {
	inst, err := r.register(name, description, unit, KindCounter)
	if err != nil {
		return nil, err
	}
	return &Counter{registry: r, inst: inst}, nil
}

// Histogram registers a distribution instrument.
//
// Values are recorded as-is: the registry applies no range checks or
// clamping. Duration-style histograms are non-negative by caller
// convention only.
func (r *Registry) Histogram(name, description, unit string) (*Histogram, error) {
	inst, err := r.register(name, description, unit, KindHistogram)
	if err != nil {
		return nil, err
	}
	return &Histogram{registry: r, inst: inst}, nil
}

// Gauge registers an observable gauge backed by a callback.
//
// Description:
//
//	The callback is invoked at flush time by Collect; its observations are
//	appended to the export buffer alongside directly recorded values. A
//	failing callback is logged and skipped for that tick only. It never
//	aborts the collection of other instruments.
//
// Outputs:
//
//	*Gauge - Registration handle (informational; gauges are pull-only).
//	error - ErrEmptyName, ErrNilCallback, or ErrDuplicateInstrument.
func (r *Registry) Gauge(name, description, unit string, callback GaugeCallback) (*Gauge, error) {
	if callback == nil {
		return nil, ErrNilCallback
	}
	inst, err := r.register(name, description, unit, KindGauge)
	if err != nil {
		return nil, err
	}
	g := &Gauge{inst: inst, callback: callback}

	r.mu.Lock()
	r.gauges = append(r.gauges, g)
	r.mu.Unlock()

	return g, nil
}

// =============================================================================
// Instrument Handles
// =============================================================================

// Counter is a monotonic counter handle.
type Counter struct {
	registry *Registry
	inst     *instrument
}

// Add records a non-negative increment with the given attributes.
// A negative delta is rejected with ErrNegativeDelta and nothing is
// recorded.
func (c *Counter) Add(delta float64, attrs Attributes) error {
	if delta < 0 {
		return fmt.Errorf("%w: %s got %v", ErrNegativeDelta, c.inst.name, delta)
	}
	c.registry.append(c.inst, delta, attrs)
	return nil
}

// Name returns the registered instrument name.
func (c *Counter) Name() string { return c.inst.name }

// Histogram is a distribution sample handle.
type Histogram struct {
	registry *Registry
	inst     *instrument
}

// Record appends a sample with the given attributes. The value is stored
// as-is; negative values are accepted.
func (h *Histogram) Record(value float64, attrs Attributes) {
	h.registry.append(h.inst, value, attrs)
}

// Name returns the registered instrument name.
func (h *Histogram) Name() string { return h.inst.name }

// Gauge is an observable gauge registration.
type Gauge struct {
	inst     *instrument
	callback GaugeCallback
}

// Name returns the registered instrument name.
func (g *Gauge) Name() string { return g.inst.name }

// append buffers one data point for export.
func (r *Registry) append(inst *instrument, value float64, attrs Attributes) {
	point := DataPoint{
		Name:       inst.name,
		Unit:       inst.unit,
		Kind:       inst.kind,
		Value:      value,
		Attributes: attrs.Clone(),
		Time:       r.now(),
	}

	r.mu.Lock()
	r.buffer = append(r.buffer, point)
	r.mu.Unlock()
}

// =============================================================================
// Collection
// =============================================================================

// Collect runs every gauge callback and drains the export buffer.
//
// Description:
//
//	Called by the export loop once per flush tick. Gauge callbacks run
//	outside the registry lock; an error or panic in one callback is logged
//	against that instrument and the remaining gauges still run (a broken
//	gauge must never stop the export cycle). The buffer swap is atomic:
//	values recorded concurrently with Collect land in the next tick.
//
// Outputs:
//
//	[]DataPoint - All buffered points, in recording order per instrument.
func (r *Registry) Collect(ctx context.Context) []DataPoint {
	r.mu.Lock()
	gauges := make([]*Gauge, len(r.gauges))
	copy(gauges, r.gauges)
	r.mu.Unlock()

	for _, g := range gauges {
		r.observe(ctx, g)
	}

	r.mu.Lock()
	points := r.buffer
	r.buffer = nil
	r.mu.Unlock()

	return points
}

// Pending returns the number of buffered data points. Intended for
// shutdown diagnostics and tests.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffer)
}

// observe invokes a single gauge callback with panic isolation.
func (r *Registry) observe(ctx context.Context, g *Gauge) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("gauge callback panicked",
				"instrument", g.inst.name,
				"panic", fmt.Sprint(rec),
			)
		}
	}()

	obs, err := g.callback(ctx)
	if err != nil {
		r.logger.Warn("gauge callback failed",
			"instrument", g.inst.name,
			"error", err,
		)
		return
	}

	for _, o := range obs {
		r.append(g.inst, o.Value, o.Attributes)
	}
}
