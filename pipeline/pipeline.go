// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline is the application-facing telemetry façade. It owns the
// metric registry, the active-session tracker, the trace bootstrap, and the
// background flush loop, and exposes tracking calls and HTTP middleware on
// top of them.
//
// Without a connection string the pipeline runs disabled: construction
// succeeds and every call is a safe no-op, so instrumented code needs no
// credential awareness.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/aleutian-monitor/export"
	"github.com/AleutianAI/aleutian-monitor/metrics"
	"github.com/AleutianAI/aleutian-monitor/sessions"
	"github.com/AleutianAI/aleutian-monitor/system"
	"github.com/AleutianAI/aleutian-monitor/tracing"
)

const tracerName = "monitor.pipeline"

// Standard instrument names. These match the wire names emitted by the
// exporters (the remote-write exporter sanitizes dots to underscores).
const (
	instrRequestDuration = "http.server.request.duration"
	instrRequestsTotal   = "http.server.requests.total"
	instrDBQueryDuration = "db.query.duration"
	instrSessionEvents   = "app.user.sessions"
	instrActiveUsers     = "app.users.active"
)

// Pipeline is the telemetry façade.
//
// Thread Safety: All methods are safe for concurrent use.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger

	enabled bool

	registry *metrics.Registry
	tracker  *sessions.Tracker
	flusher  *export.Flusher

	requestDuration *metrics.Histogram
	requestsTotal   *metrics.Counter
	dbQueryDuration *metrics.Histogram
	sessionEvents   *metrics.Counter

	identity       IdentityProvider
	tracerShutdown func(context.Context) error
}

// Option customizes pipeline construction.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	exporter export.Exporter
	identity IdentityProvider
	sampler  system.Sampler
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithExporter replaces the connection-string exporter. A pipeline built
// with an injected exporter is enabled even without a connection string.
func WithExporter(e export.Exporter) Option {
	return func(o *options) { o.exporter = e }
}

// WithIdentityProvider sets the request identity source used by the
// HTTP middlewares.
func WithIdentityProvider(p IdentityProvider) Option {
	return func(o *options) { o.identity = p }
}

// WithSampler replaces the host resource sampler.
func WithSampler(s system.Sampler) Option {
	return func(o *options) { o.sampler = s }
}

// New builds and starts a pipeline.
//
// Description:
//
//	Parses the connection string, builds the metric registry with the
//	standard instruments, registers the active-user and host gauges,
//	initializes the global tracer provider, and starts the background
//	flush loop. With an empty connection string (and no injected
//	exporter) the returned pipeline is disabled: construction succeeds
//	and every method is a no-op.
//
// Inputs:
//
//	ctx - Lifecycle context. Cancelling it stops the flush loop.
//	cfg - Pipeline configuration. Use DefaultConfig() for sensible defaults.
//	opts - Optional overrides (logger, exporter, identity provider, sampler).
//
// Outputs:
//
//	*Pipeline - The running (or disabled) pipeline.
//	error - Non-nil on a malformed connection string or wiring failure.
//
// Example:
//
//	p, err := pipeline.New(ctx, pipeline.DefaultConfig())
//	if err != nil {
//	    return fmt.Errorf("init monitoring: %w", err)
//	}
//	defer p.Shutdown(context.Background())
//
// Thread Safety: Call once at application startup.
func New(ctx context.Context, cfg Config, opts ...Option) (*Pipeline, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	conn, err := parseConnectionString(cfg.ConnectionString)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.ConnectionString) == "" && o.exporter == nil {
		o.logger.Info("monitoring disabled: no connection string configured")
		return &Pipeline{cfg: cfg, logger: o.logger, identity: o.identity}, nil
	}

	p := &Pipeline{
		cfg:      cfg,
		logger:   o.logger,
		enabled:  true,
		registry: metrics.NewRegistry(o.logger),
		tracker:  sessions.NewTracker(cfg.SessionTimeout.Std()),
		identity: o.identity,
	}

	if err := p.registerInstruments(o.sampler); err != nil {
		return nil, err
	}

	shutdown, err := tracing.Init(ctx, p.tracingConfig(conn))
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	p.tracerShutdown = shutdown

	exporter, err := p.buildExporter(o.exporter, conn)
	if err != nil {
		return nil, err
	}

	flusher, err := export.NewFlusher(p.registry, exporter, export.FlusherConfig{
		Interval:      cfg.FlushInterval.Std(),
		ExportTimeout: cfg.ExportTimeout.Std(),
	}, o.logger)
	if err != nil {
		return nil, err
	}
	if err := flusher.Start(ctx); err != nil {
		return nil, err
	}
	p.flusher = flusher

	o.logger.Info("monitoring pipeline started",
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
		"flush_interval", cfg.FlushInterval.String(),
	)
	return p, nil
}

// registerInstruments creates the standard instruments and gauges.
func (p *Pipeline) registerInstruments(sampler system.Sampler) error {
	var err error
	if p.requestDuration, err = p.registry.Histogram(instrRequestDuration, "HTTP request duration", "ms"); err != nil {
		return err
	}
	if p.requestsTotal, err = p.registry.Counter(instrRequestsTotal, "HTTP requests served", "1"); err != nil {
		return err
	}
	if p.dbQueryDuration, err = p.registry.Histogram(instrDBQueryDuration, "Database query duration", "ms"); err != nil {
		return err
	}
	if p.sessionEvents, err = p.registry.Counter(instrSessionEvents, "User session events", "1"); err != nil {
		return err
	}

	tracker := p.tracker
	if _, err = p.registry.Gauge(instrActiveUsers, "Distinct active users in the session window", "1",
		func(context.Context) ([]metrics.Observation, error) {
			return []metrics.Observation{{Value: float64(tracker.Count())}}, nil
		}); err != nil {
		return err
	}

	if !p.cfg.DisableSystemGauges {
		if sampler == nil {
			sampler = system.NewHostSampler()
		}
		if err := system.RegisterGauges(p.registry, sampler); err != nil {
			return err
		}
	}
	return nil
}

// tracingConfig maps the pipeline config onto the tracing bootstrap.
func (p *Pipeline) tracingConfig(conn connection) tracing.Config {
	tc := tracing.Config{
		ServiceName:    p.cfg.ServiceName,
		ServiceVersion: p.cfg.ServiceVersion,
		Environment:    p.cfg.Environment,
		Exporter:       p.cfg.TraceExporter,
		Endpoint:       conn.Endpoint,
		Insecure:       true,
		SampleRate:     p.cfg.SampleRate,
	}
	if tc.Exporter == "otlp" && conn.Endpoint == "" {
		// A metrics-only credential: no span receiver to talk to.
		tc.Exporter = "none"
	}
	if conn.Token != "" {
		tc.Headers = map[string]string{"authorization": "Bearer " + conn.Token}
	}
	return tc
}

// buildExporter assembles the metric export chain.
func (p *Pipeline) buildExporter(injected export.Exporter, conn connection) (export.Exporter, error) {
	var chain []export.Exporter

	if injected != nil {
		chain = append(chain, injected)
	} else if conn.MetricsURL != "" {
		rw, err := export.NewRemoteWriteExporter(export.RemoteWriteConfig{
			URL:         conn.MetricsURL,
			ServiceName: p.cfg.ServiceName,
			Environment: p.cfg.Environment,
		})
		if err != nil {
			return nil, err
		}
		chain = append(chain, rw)
	}

	if p.cfg.LogMetrics || len(chain) == 0 {
		chain = append(chain, export.NewLogExporter(p.logger))
	}

	if len(chain) == 1 {
		return chain[0], nil
	}
	return export.NewMultiExporter(chain...), nil
}

// Enabled reports whether the pipeline is exporting telemetry.
func (p *Pipeline) Enabled() bool {
	return p.enabled
}

// ActiveUsers returns the distinct identities seen within the session
// window. Zero on a disabled pipeline.
func (p *Pipeline) ActiveUsers() int {
	if !p.enabled {
		return 0
	}
	return p.tracker.Count()
}

// Shutdown stops the flush loop (with a final best-effort flush) and
// shuts down the tracer provider. Safe on a disabled pipeline.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	if !p.enabled {
		return nil
	}
	p.flusher.Stop()
	if p.tracerShutdown != nil {
		if err := p.tracerShutdown(ctx); err != nil {
			return fmt.Errorf("tracer shutdown: %w", err)
		}
	}
	return nil
}

// TrackCustomEvent records a named application event as a span.
//
// Description:
//
//	Opens a span named after the event carrying the stringified
//	properties and a generated event.id, then closes it immediately.
//	No-op on a disabled pipeline. Never returns an error; internal
//	failures are logged only.
//
// Inputs:
//
//	ctx - Context. A contained span becomes the event's parent.
//	name - Event name (e.g. "report_generated").
//	properties - Optional event attributes. May be nil.
//
// Thread Safety: Safe for concurrent use.
func (p *Pipeline) TrackCustomEvent(ctx context.Context, name string, properties metrics.Attributes) {
	if !p.enabled || name == "" {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	attrs := properties.OTel()
	attrs = append(attrs, attribute.String("event.id", uuid.NewString()))

	_, span := tracing.StartSpan(ctx, tracerName, name, trace.WithAttributes(attrs...))
	span.End()
}

// TrackDatabaseQuery records one query execution into the
// db.query.duration histogram.
//
// Inputs:
//
//	ctx - Context (reserved for future span correlation).
//	name - Logical query name (e.g. "users.select_by_id").
//	duration - Query wall time.
//	success - Whether the query succeeded.
//
// Thread Safety: Safe for concurrent use.
func (p *Pipeline) TrackDatabaseQuery(_ context.Context, name string, duration time.Duration, success bool) {
	if !p.enabled {
		return
	}
	p.dbQueryDuration.Record(durationMillis(duration), metrics.Attributes{
		"db.query.name":    name,
		"db.query.success": success,
	})
}

// TrackUserSession records a session lifecycle event for an identity.
//
// Description:
//
//	Touches the active-session tracker (feeding the app.users.active
//	gauge), tags the current span with the configured identity attribute
//	keys, opens a user_session_<event> span carrying the identity, a
//	generated session.event.id, and the caller's properties, and
//	increments the app.user.sessions counter. Empty identities are
//	ignored.
//
// Inputs:
//
//	ctx - Context. A contained span is tagged with the identity.
//	identity - Stable opaque user identifier.
//	eventType - Lifecycle event name (e.g. "login", "logout", "refresh").
//	properties - Optional extra attributes (e.g. "client.ip"). May be nil.
//
// Thread Safety: Safe for concurrent use.
func (p *Pipeline) TrackUserSession(ctx context.Context, identity, eventType string, properties metrics.Attributes) {
	if !p.enabled || identity == "" {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	p.tracker.Touch(identity)

	idAttrs := p.identityAttributes(identity)
	tracing.SetSpanAttributes(tracing.SpanFromContext(ctx), idAttrs...)

	attrs := properties.OTel()
	attrs = append(attrs, idAttrs...)
	attrs = append(attrs,
		attribute.String("session.event", eventType),
		attribute.String("session.event.id", uuid.NewString()),
	)

	_, span := tracing.StartSpan(ctx, tracerName, "user_session_"+eventType, trace.WithAttributes(attrs...))
	span.End()

	if err := p.sessionEvents.Add(1, metrics.Attributes{"session.event": eventType}); err != nil {
		p.logger.Warn("session counter increment failed", "error", err)
	}
}

// ObserveError records an application error and returns it unchanged.
//
// Description:
//
//	Opens an unhandled_error span carrying the error type and message,
//	records the error on it, and hands the same error value back so the
//	call can sit inline in a return statement. Nil errors pass through
//	untouched; a disabled pipeline returns the error without recording.
//
// Example:
//
//	if err := store.Save(ctx, doc); err != nil {
//	    return p.ObserveError(ctx, err)
//	}
//
// Thread Safety: Safe for concurrent use.
func (p *Pipeline) ObserveError(ctx context.Context, err error) error {
	if err == nil || !p.enabled {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	_, span := tracing.StartSpan(ctx, tracerName, "unhandled_error",
		trace.WithAttributes(
			attribute.String("error.kind", fmt.Sprintf("%T", err)),
			attribute.String("error.message", err.Error()),
		),
	)
	tracing.RecordError(span, err)
	span.End()

	return err
}

// identityAttributes expands one identity across the configured keys.
func (p *Pipeline) identityAttributes(identity string) []attribute.KeyValue {
	keys := p.cfg.IdentityAttributeKeys
	if len(keys) == 0 {
		keys = []string{"enduser.id"}
	}
	attrs := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, attribute.String(k, identity))
	}
	return attrs
}

// durationMillis converts a duration to fractional milliseconds.
func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
