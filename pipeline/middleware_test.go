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
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware_RecordsRequest(t *testing.T) {
	p, exporter := newTestPipeline(t, testConfig())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	handler := p.Middleware()(mux)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users/42", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, p.Shutdown(context.Background()))

	durations := exporter.byName("http.server.request.duration")
	require.Len(t, durations, 1)
	assert.Equal(t, http.MethodGet, durations[0].Attributes["http.method"])
	assert.Equal(t, "GET /api/users/{id}", durations[0].Attributes["http.route"])
	assert.Equal(t, http.StatusOK, durations[0].Attributes["http.status_code"])
	assert.GreaterOrEqual(t, durations[0].Value, 0.0)

	counts := exporter.byName("http.server.requests.total")
	require.Len(t, counts, 1)
	assert.Equal(t, 1.0, counts[0].Value)
	assert.Equal(t, http.MethodGet, counts[0].Attributes["http.method"])
	// The counter carries no route label.
	assert.NotContains(t, counts[0].Attributes, "http.route")
}

func TestMiddleware_ErrorStatus(t *testing.T) {
	p, exporter := newTestPipeline(t, testConfig())

	handler := p.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/submit", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	require.NoError(t, p.Shutdown(context.Background()))

	durations := exporter.byName("http.server.request.duration")
	require.Len(t, durations, 1)
	assert.Equal(t, http.StatusServiceUnavailable, durations[0].Attributes["http.status_code"])
	// No mux pattern: the raw path is the route label.
	assert.Equal(t, "/submit", durations[0].Attributes["http.route"])
}

// TestMiddleware_PanicRecordsAndRepanics: a handler panic must be
// recorded as a 500 and then propagate unchanged.
func TestMiddleware_PanicRecordsAndRepanics(t *testing.T) {
	p, exporter := newTestPipeline(t, testConfig())

	handler := p.Middleware()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("handler exploded")
	}))

	rec := httptest.NewRecorder()
	assert.PanicsWithValue(t, "handler exploded", func() {
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	})

	require.NoError(t, p.Shutdown(context.Background()))

	durations := exporter.byName("http.server.request.duration")
	require.Len(t, durations, 1)
	assert.Equal(t, http.StatusInternalServerError, durations[0].Attributes["http.status_code"])

	counts := exporter.byName("http.server.requests.total")
	require.Len(t, counts, 1)
	assert.Equal(t, http.StatusInternalServerError, counts[0].Attributes["http.status_code"])
}

func TestMiddleware_IdentityProvider(t *testing.T) {
	provider := IdentityProviderFunc(func(r *http.Request) (string, bool) {
		user := r.Header.Get("X-User")
		return user, user != ""
	})

	p, _ := newTestPipeline(t, testConfig(), WithIdentityProvider(provider))
	defer p.Shutdown(context.Background())

	handler := p.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	authed := httptest.NewRequest(http.MethodGet, "/", nil)
	authed.Header.Set("X-User", "user-1")
	handler.ServeHTTP(httptest.NewRecorder(), authed)
	handler.ServeHTTP(httptest.NewRecorder(), authed)

	anon := httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(httptest.NewRecorder(), anon)

	assert.Equal(t, 1, p.ActiveUsers())
}

func TestMiddleware_DisabledPassthrough(t *testing.T) {
	p, err := New(context.Background(), testConfig(), WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)
	require.False(t, p.Enabled())

	var called bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	p.Middleware()(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.True(t, called)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
