// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"net/http"
	"time"

	"github.com/AleutianAI/aleutian-monitor/metrics"
	"github.com/AleutianAI/aleutian-monitor/tracing"
)

// IdentityProvider resolves the authenticated identity of a request.
// Implementations return ("", false) for anonymous requests.
type IdentityProvider interface {
	CurrentIdentity(r *http.Request) (string, bool)
}

// IdentityProviderFunc adapts a function to the IdentityProvider interface.
type IdentityProviderFunc func(r *http.Request) (string, bool)

// CurrentIdentity implements IdentityProvider.
func (f IdentityProviderFunc) CurrentIdentity(r *http.Request) (string, bool) {
	return f(r)
}

// statusResponseWriter wraps http.ResponseWriter to capture the status code.
type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func newStatusResponseWriter(w http.ResponseWriter) *statusResponseWriter {
	return &statusResponseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// WriteHeader captures the status code before writing.
func (w *statusResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// Write writes data and sets status to 200 if not already set.
func (w *statusResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.statusCode = http.StatusOK
		w.written = true
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap returns the underlying ResponseWriter for middleware compatibility.
func (w *statusResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Middleware instruments an http.Handler chain.
//
// Description:
//
//	Wraps each request: captures the start time, resolves the identity
//	through the configured IdentityProvider (feeding the active-user
//	tracker and tagging the current span), and on every exit path,
//	including handler panics, records the duration into
//	http.server.request.duration and increments
//	http.server.requests.total. A panic is recorded as status 500 and
//	re-panicked unchanged so the server's own recovery still runs. On a
//	disabled pipeline the middleware passes requests through untouched.
//
// Example:
//
//	mux := http.NewServeMux()
//	mux.HandleFunc("GET /api/query", handleQuery)
//	http.ListenAndServe(":8080", p.Middleware()(mux))
//
// Thread Safety: Safe for concurrent use.
func (p *Pipeline) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !p.enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := newStatusResponseWriter(w)

			p.touchRequestIdentity(r)

			defer func() {
				status := sw.statusCode
				if rec := recover(); rec != nil {
					status = http.StatusInternalServerError
					p.recordRequest(r.Method, routeOf(r), status, time.Since(start))
					panic(rec)
				}
				p.recordRequest(r.Method, routeOf(r), status, time.Since(start))
			}()

			next.ServeHTTP(sw, r)
		})
	}
}

// recordRequest feeds one finished request into the standard instruments.
func (p *Pipeline) recordRequest(method, route string, status int, elapsed time.Duration) {
	p.requestDuration.Record(durationMillis(elapsed), metrics.Attributes{
		"http.method":      method,
		"http.route":       route,
		"http.status_code": status,
	})
	if err := p.requestsTotal.Add(1, metrics.Attributes{
		"http.method":      method,
		"http.status_code": status,
	}); err != nil {
		p.logger.Warn("request counter increment failed", "error", err)
	}
}

// touchRequestIdentity resolves and registers the request identity.
func (p *Pipeline) touchRequestIdentity(r *http.Request) {
	if p.identity == nil {
		return
	}
	identity, ok := p.identity.CurrentIdentity(r)
	if !ok || identity == "" {
		return
	}
	p.tracker.Touch(identity)
	tracing.SetSpanAttributes(
		tracing.SpanFromContext(r.Context()),
		p.identityAttributes(identity)...,
	)
}

// routeOf prefers the mux pattern over the raw path so that metric
// cardinality stays bounded on parameterized routes.
func routeOf(r *http.Request) string {
	if r.Pattern != "" {
		return r.Pattern
	}
	return r.URL.Path
}
