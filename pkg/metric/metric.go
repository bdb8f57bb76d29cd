// Copyright 2025 Alibaba Group Holding Ltd.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metric samples identity and load of the host running the mission computer.
package metric

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"strings"
	"time"

	"github.com/alibaba/opensandbox/missiond/pkg/log"
)

// Unknown replaces any system info field the host cannot report.
const Unknown = "unknown"

// DefaultLoadWindow is the CPU averaging window of a load snapshot.
const DefaultLoadWindow = time.Second

var errNoCPUSample = errors.New("no cpu sample returned")

// SystemInfoSnapshot describes the host. Fields are never empty.
type SystemInfoSnapshot struct {
	OperatingSystem string `json:"operating_system"`
	OSVersion       string `json:"os_version"`
	CPUType         string `json:"cpu_type"`
	CPUCores        int    `json:"cpu_cores"`
	MemorySize      string `json:"memory_size"`
}

// LoadSnapshot is the host utilization over one measurement window.
type LoadSnapshot struct {
	CPUUsage    float64 `json:"cpu_usage"`
	MemoryUsage float64 `json:"memory_usage"`

	// Measured is the wall-clock time spent taking the snapshot. It is part of
	// the task period: a 20s task whose snapshot took 1s sleeps 19s afterwards.
	Measured time.Duration `json:"-"`
}

// Source queries a HostProvider.
type Source struct {
	provider HostProvider
}

// New returns a Source over provider, or over gopsutil when provider is nil.
func New(provider HostProvider) *Source {
	if provider == nil {
		provider = GopsutilProvider{}
	}
	return &Source{provider: provider}
}

// SystemInfo never fails: each field that cannot be read becomes Unknown.
func (s *Source) SystemInfo(ctx context.Context) SystemInfoSnapshot {
	info := SystemInfoSnapshot{
		OperatingSystem: Unknown,
		OSVersion:       Unknown,
		CPUType:         Unknown,
		CPUCores:        runtime.NumCPU(),
		MemorySize:      Unknown,
	}

	if hostInfo, err := s.provider.HostInfo(ctx); err != nil {
		log.Warn("system info: failed to read host identity: %v", err)
	} else if hostInfo != nil {
		info.OperatingSystem = orUnknown(hostInfo.OS)
		info.OSVersion = orUnknown(osVersion(hostInfo.Platform, hostInfo.PlatformVersion, hostInfo.KernelVersion))
	}

	if cpus, err := s.provider.CPUInfo(ctx); err != nil {
		log.Warn("system info: failed to read cpu identity: %v", err)
	} else if len(cpus) > 0 {
		info.CPUType = orUnknown(cpus[0].ModelName)
	}

	if cores, err := s.provider.LogicalCores(ctx); err != nil {
		log.Warn("system info: failed to count cpu cores: %v", err)
	} else if cores > 0 {
		info.CPUCores = cores
	}
	if info.CPUCores < 1 {
		info.CPUCores = 1
	}

	if vm, err := s.provider.VirtualMemory(ctx); err != nil {
		log.Warn("system info: failed to read memory size: %v", err)
	} else if vm != nil && vm.Total > 0 {
		info.MemorySize = fmt.Sprintf("%d kB", vm.Total/1024)
	}

	return info
}

// LoadSnapshot blocks for window while averaging CPU utilization, then reads
// memory utilization. The returned Measured is counted toward the caller's period.
func (s *Source) LoadSnapshot(ctx context.Context, window time.Duration) (LoadSnapshot, error) {
	if window <= 0 {
		window = DefaultLoadWindow
	}
	start := time.Now()

	cpuPercent, err := s.provider.CPUPercent(ctx, window)
	if err != nil {
		return LoadSnapshot{}, fmt.Errorf("failed to get CPU percent: %w", err)
	}

	vm, err := s.provider.VirtualMemory(ctx)
	if err != nil {
		return LoadSnapshot{}, fmt.Errorf("failed to get memory info: %w", err)
	}
	if vm == nil {
		return LoadSnapshot{}, errors.New("failed to get memory info: empty result")
	}

	return LoadSnapshot{
		CPUUsage:    percent(cpuPercent),
		MemoryUsage: percent(vm.UsedPercent),
		Measured:    time.Since(start),
	}, nil
}

func osVersion(platform, platformVersion, kernelVersion string) string {
	version := strings.TrimSpace(strings.Join([]string{platform, platformVersion}, " "))
	if version == "" {
		return kernelVersion
	}
	if kernelVersion != "" {
		version += " (kernel " + kernelVersion + ")"
	}
	return version
}

func orUnknown(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return Unknown
	}
	return v
}

// percent clamps to [0,100] and rounds to two decimals.
func percent(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		v = 100
	}
	return math.Round(v*100) / 100
}
