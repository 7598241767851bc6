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
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that parses from "60s"-style strings in
// YAML config files.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// String implements fmt.Stringer.
func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config controls the telemetry pipeline.
//
// All fields have sensible defaults via DefaultConfig().
type Config struct {
	// ConnectionString is the single backend credential, semicolon-separated
	// key=value pairs:
	//
	//	endpoint=collector:4317;metrics_url=https://mimir.example.com/api/v1/push;token=abc123
	//
	// Recognized keys: "endpoint" (OTLP span receiver), "metrics_url"
	// (Prometheus remote-write URL), "token" (optional bearer token for the
	// OTLP connection). An empty string disables the pipeline entirely:
	// every tracking call becomes a safe no-op.
	ConnectionString string `json:"connection_string" yaml:"connection_string"`

	// ServiceName identifies this service in spans and metric labels.
	ServiceName string `json:"service_name" yaml:"service_name"`

	// ServiceVersion is the version string for this service.
	ServiceVersion string `json:"service_version" yaml:"service_version"`

	// Environment identifies the deployment environment (development, production).
	Environment string `json:"environment" yaml:"environment"`

	// FlushInterval is the time between metric export ticks. Default: 60s.
	FlushInterval Duration `json:"flush_interval" yaml:"flush_interval"`

	// ExportTimeout bounds each export call. Default: 10s.
	ExportTimeout Duration `json:"export_timeout" yaml:"export_timeout"`

	// SessionTimeout is the active-user window. Default: 15m.
	SessionTimeout Duration `json:"session_timeout" yaml:"session_timeout"`

	// TraceExporter selects the span exporter: "otlp", "stdout", or "none".
	TraceExporter string `json:"trace_exporter" yaml:"trace_exporter"`

	// SampleRate is the fraction of traces to sample in [0, 1].
	SampleRate float64 `json:"sample_rate" yaml:"sample_rate"`

	// IdentityAttributeKeys are the span attribute keys that carry the
	// request identity. Default: ["enduser.id"]. Backends that expect
	// vendor aliases (e.g. "ai.user.id") add them here.
	IdentityAttributeKeys []string `json:"identity_attribute_keys" yaml:"identity_attribute_keys"`

	// LogMetrics mirrors every exported batch to the logger at debug level.
	LogMetrics bool `json:"log_metrics" yaml:"log_metrics"`

	// DisableSystemGauges turns off host CPU/memory/disk gauges.
	DisableSystemGauges bool `json:"disable_system_gauges" yaml:"disable_system_gauges"`
}

// DefaultConfig returns opinionated defaults.
//
// Environment variables override defaults where applicable:
//   - MONITOR_CONNECTION_STRING: backend credential
//   - ALEUTIAN_ENV: environment name
//   - OTEL_TRACES_EXPORTER: span exporter type
func DefaultConfig() Config {
	return Config{
		ConnectionString:      os.Getenv("MONITOR_CONNECTION_STRING"),
		ServiceName:           "aleutian-monitor",
		ServiceVersion:        "1.0.0",
		Environment:           getEnvOr("ALEUTIAN_ENV", "development"),
		FlushInterval:         Duration(60 * time.Second),
		ExportTimeout:         Duration(10 * time.Second),
		SessionTimeout:        Duration(15 * time.Minute),
		TraceExporter:         getEnvOr("OTEL_TRACES_EXPORTER", "otlp"),
		SampleRate:            1.0,
		IdentityAttributeKeys: []string{"enduser.id"},
	}
}

// LoadConfig reads a YAML file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// connection is the parsed form of Config.ConnectionString.
type connection struct {
	Endpoint   string
	MetricsURL string
	Token      string
}

// parseConnectionString splits the credential into its parts. An empty
// input returns a zero connection and no error; that is the disabled
// state, decided by the caller.
func parseConnectionString(s string) (connection, error) {
	var conn connection
	s = strings.TrimSpace(s)
	if s == "" {
		return conn, nil
	}

	for _, pair := range strings.Split(s, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return connection{}, fmt.Errorf("%w: segment %q is not key=value", ErrInvalidConnectionString, pair)
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "endpoint":
			conn.Endpoint = strings.TrimSpace(value)
		case "metrics_url":
			conn.MetricsURL = strings.TrimSpace(value)
		case "token":
			conn.Token = strings.TrimSpace(value)
		default:
			// Unknown keys are tolerated for forward compatibility.
		}
	}

	if conn.Endpoint == "" && conn.MetricsURL == "" {
		return connection{}, fmt.Errorf("%w: need at least endpoint or metrics_url", ErrInvalidConnectionString)
	}
	return conn, nil
}

// getEnvOr returns the environment variable value or the fallback.
func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
