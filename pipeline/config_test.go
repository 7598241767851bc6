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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConnectionString(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    connection
		wantErr bool
	}{
		{
			name: "full credential",
			in:   "endpoint=collector:4317;metrics_url=https://mimir.example.com/api/v1/push;token=abc123",
			want: connection{
				Endpoint:   "collector:4317",
				MetricsURL: "https://mimir.example.com/api/v1/push",
				Token:      "abc123",
			},
		},
		{
			name: "metrics only",
			in:   "metrics_url=http://localhost:9009/api/v1/push",
			want: connection{MetricsURL: "http://localhost:9009/api/v1/push"},
		},
		{
			name: "endpoint only",
			in:   "endpoint=localhost:4317",
			want: connection{Endpoint: "localhost:4317"},
		},
		{
			name: "empty is the disabled state",
			in:   "",
			want: connection{},
		},
		{
			name: "whitespace and case tolerated",
			in:   " Endpoint = collector:4317 ; METRICS_URL=http://m/push ",
			want: connection{Endpoint: "collector:4317", MetricsURL: "http://m/push"},
		},
		{
			name: "unknown keys ignored",
			in:   "endpoint=collector:4317;ingestion_region=westus2",
			want: connection{Endpoint: "collector:4317"},
		},
		{
			name: "trailing semicolon tolerated",
			in:   "endpoint=collector:4317;",
			want: connection{Endpoint: "collector:4317"},
		},
		{
			name:    "segment without equals",
			in:      "endpoint=collector:4317;garbage",
			wantErr: true,
		},
		{
			name:    "no recognized keys",
			in:      "region=westus2",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseConnectionString(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConnectionString)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Setenv("MONITOR_CONNECTION_STRING", "")
	t.Setenv("ALEUTIAN_ENV", "")

	cfg := DefaultConfig()
	assert.Empty(t, cfg.ConnectionString)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 60*time.Second, cfg.FlushInterval.Std())
	assert.Equal(t, 10*time.Second, cfg.ExportTimeout.Std())
	assert.Equal(t, 15*time.Minute, cfg.SessionTimeout.Std())
	assert.Equal(t, 1.0, cfg.SampleRate)
	assert.Equal(t, []string{"enduser.id"}, cfg.IdentityAttributeKeys)
}

func TestDefaultConfig_EnvOverride(t *testing.T) {
	t.Setenv("MONITOR_CONNECTION_STRING", "endpoint=collector:4317")
	t.Setenv("ALEUTIAN_ENV", "production")

	cfg := DefaultConfig()
	assert.Equal(t, "endpoint=collector:4317", cfg.ConnectionString)
	assert.Equal(t, "production", cfg.Environment)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitor.yaml")
	content := `
service_name: orchestrator
connection_string: "metrics_url=http://localhost:9009/api/v1/push"
flush_interval: 30s
session_timeout: 5m
identity_attribute_keys:
  - enduser.id
  - ai.user.id
log_metrics: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "orchestrator", cfg.ServiceName)
	assert.Equal(t, "metrics_url=http://localhost:9009/api/v1/push", cfg.ConnectionString)
	assert.Equal(t, 30*time.Second, cfg.FlushInterval.Std())
	assert.Equal(t, 5*time.Minute, cfg.SessionTimeout.Std())
	assert.Equal(t, []string{"enduser.id", "ai.user.id"}, cfg.IdentityAttributeKeys)
	assert.True(t, cfg.LogMetrics)

	// Fields absent from the file keep their defaults.
	assert.Equal(t, 10*time.Second, cfg.ExportTimeout.Std())
	assert.Equal(t, "1.0.0", cfg.ServiceVersion)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
