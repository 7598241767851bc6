// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package system samples host resource utilization and feeds it to the
// metric registry through observable gauges.
package system

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/AleutianAI/aleutian-monitor/metrics"
)

// Sampler reads host utilization percentages. Implementations return
// values in [0, 100].
type Sampler interface {
	CPUPercent(ctx context.Context) (float64, error)
	MemoryPercent(ctx context.Context) (float64, error)
	DiskPercent(ctx context.Context) (float64, error)
}

// HostSampler reads utilization from the local host via gopsutil.
type HostSampler struct {
	// DiskPath is the mount point measured for disk usage. Default: "/".
	DiskPath string
}

// NewHostSampler creates a sampler for the local host.
func NewHostSampler() *HostSampler {
	return &HostSampler{DiskPath: "/"}
}

// CPUPercent returns the instantaneous CPU utilization across all cores.
func (s *HostSampler) CPUPercent(ctx context.Context) (float64, error) {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, fmt.Errorf("sample cpu: %w", err)
	}
	if len(percents) == 0 {
		return 0, fmt.Errorf("sample cpu: no data")
	}
	return percents[0], nil
}

// MemoryPercent returns the fraction of physical memory in use.
func (s *HostSampler) MemoryPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("sample memory: %w", err)
	}
	return vm.UsedPercent, nil
}

// DiskPercent returns the used fraction of the configured mount point.
func (s *HostSampler) DiskPercent(ctx context.Context) (float64, error) {
	path := s.DiskPath
	if path == "" {
		path = "/"
	}
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("sample disk %s: %w", path, err)
	}
	return usage.UsedPercent, nil
}

// RegisterGauges registers the host utilization gauges on the registry.
//
// Description:
//
//	Registers system.cpu.usage, system.memory.usage, and system.disk.usage
//	as observable gauges backed by the sampler. Each gauge is sampled on
//	every registry collection; a sampler failure surfaces as a gauge
//	callback error and is handled by the registry (logged, point skipped).
//
// Inputs:
//
//	registry - The metric registry to register on.
//	sampler - The utilization source. Typically NewHostSampler().
//
// Outputs:
//
//	error - Non-nil if any gauge name is already registered.
//
// Thread Safety: Call once during pipeline construction.
func RegisterGauges(registry *metrics.Registry, sampler Sampler) error {
	gauges := []struct {
		name        string
		description string
		read        func(ctx context.Context) (float64, error)
	}{
		{"system.cpu.usage", "Host CPU utilization", sampler.CPUPercent},
		{"system.memory.usage", "Host memory utilization", sampler.MemoryPercent},
		{"system.disk.usage", "Host disk utilization", sampler.DiskPercent},
	}

	for _, g := range gauges {
		read := g.read
		_, err := registry.Gauge(g.name, g.description, "%", func(ctx context.Context) ([]metrics.Observation, error) {
			v, err := read(ctx)
			if err != nil {
				return nil, err
			}
			return []metrics.Observation{{Value: v}}, nil
		})
		if err != nil {
			return fmt.Errorf("register %s: %w", g.name, err)
		}
	}
	return nil
}
