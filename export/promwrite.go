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
	"fmt"
	"sort"
	"strings"

	"github.com/eryajf/promwrite"

	"github.com/AleutianAI/aleutian-monitor/metrics"
)

// RemoteWriteConfig configures the Prometheus remote-write exporter.
type RemoteWriteConfig struct {
	// URL is the remote-write endpoint (e.g. "https://mimir.example.com/api/v1/push").
	URL string

	// ServiceName is attached to every series as the "service" label.
	ServiceName string

	// Environment is attached to every series as the "environment" label.
	Environment string

	// ExtraLabels are additional constant labels for every series.
	ExtraLabels map[string]string
}

// RemoteWriteExporter pushes metric data points to a Prometheus
// remote-write backend.
//
// Description:
//
//	Each data point becomes one time series sample: the instrument name is
//	sanitized into a Prometheus metric name, attributes become labels
//	(values stringified), and the sample keeps the data point's original
//	timestamp. Counters and histograms arrive as raw deltas/samples; any
//	aggregation beyond that is the backend's concern.
//
// Thread Safety: Safe for concurrent use.
type RemoteWriteExporter struct {
	cfg    RemoteWriteConfig
	client *promwrite.Client
}

// NewRemoteWriteExporter creates an exporter for the configured endpoint.
func NewRemoteWriteExporter(cfg RemoteWriteConfig) (*RemoteWriteExporter, error) {
	if cfg.URL == "" {
		return nil, ErrMissingURL
	}
	return &RemoteWriteExporter{
		cfg:    cfg,
		client: promwrite.NewClient(cfg.URL),
	}, nil
}

// Export implements Exporter.
func (e *RemoteWriteExporter) Export(ctx context.Context, points []metrics.DataPoint) error {
	if len(points) == 0 {
		return nil
	}

	req := &promwrite.WriteRequest{
		TimeSeries: e.convert(points),
	}

	if _, err := e.client.Write(ctx, req); err != nil {
		return fmt.Errorf("remote write failed: %w", err)
	}
	return nil
}

// convert maps data points onto promwrite time series.
func (e *RemoteWriteExporter) convert(points []metrics.DataPoint) []promwrite.TimeSeries {
	series := make([]promwrite.TimeSeries, 0, len(points))

	for _, p := range points {
		labels := make([]promwrite.Label, 0, 3+len(e.cfg.ExtraLabels)+len(p.Attributes))
		labels = append(labels, promwrite.Label{Name: "__name__", Value: SanitizeMetricName(p.Name)})

		if e.cfg.ServiceName != "" {
			labels = append(labels, promwrite.Label{Name: "service", Value: e.cfg.ServiceName})
		}
		if e.cfg.Environment != "" {
			labels = append(labels, promwrite.Label{Name: "environment", Value: e.cfg.Environment})
		}
		for k, v := range e.cfg.ExtraLabels {
			labels = append(labels, promwrite.Label{Name: SanitizeLabelName(k), Value: v})
		}
		for k, v := range p.Attributes.StringMap() {
			labels = append(labels, promwrite.Label{Name: SanitizeLabelName(k), Value: v})
		}

		// Stable label order keeps series identity deterministic across
		// ticks; __name__ sorts first among the names used here.
		sort.Slice(labels, func(i, j int) bool { return labels[i].Name < labels[j].Name })

		series = append(series, promwrite.TimeSeries{
			Labels: labels,
			Sample: promwrite.Sample{
				Time:  p.Time,
				Value: p.Value,
			},
		})
	}

	return series
}

// SanitizeMetricName rewrites an instrument name into the Prometheus
// metric-name alphabet: runs of characters outside [a-zA-Z0-9_:] become a
// single underscore ("http.server.request.duration" ->
// "http_server_request_duration").
func SanitizeMetricName(name string) string {
	return sanitize(name, true)
}

// SanitizeLabelName rewrites an attribute key into the Prometheus
// label-name alphabet [a-zA-Z0-9_].
func SanitizeLabelName(name string) string {
	return sanitize(name, false)
}

func sanitize(name string, allowColon bool) string {
	var b strings.Builder
	b.Grow(len(name))

	lastUnderscore := false
	for i, r := range name {
		ok := r == '_' ||
			(r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9' && i > 0) ||
			(allowColon && r == ':')
		if ok {
			b.WriteRune(r)
			lastUnderscore = r == '_'
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}

	out := b.String()
	if out == "" {
		return "_"
	}
	return out
}
