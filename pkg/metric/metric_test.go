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

package metric

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/host"
	"github.com/shirou/gopsutil/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	hostInfo    *host.InfoStat
	hostErr     error
	cpuInfo     []cpu.InfoStat
	cpuInfoErr  error
	cores       int
	coresErr    error
	vm          *mem.VirtualMemoryStat
	vmErr       error
	cpuPercent  float64
	cpuErr      error
	sleepWindow bool
}

func (f *fakeProvider) HostInfo(context.Context) (*host.InfoStat, error) {
	return f.hostInfo, f.hostErr
}

func (f *fakeProvider) CPUInfo(context.Context) ([]cpu.InfoStat, error) {
	return f.cpuInfo, f.cpuInfoErr
}

func (f *fakeProvider) LogicalCores(context.Context) (int, error) {
	return f.cores, f.coresErr
}

func (f *fakeProvider) VirtualMemory(context.Context) (*mem.VirtualMemoryStat, error) {
	return f.vm, f.vmErr
}

func (f *fakeProvider) CPUPercent(ctx context.Context, window time.Duration) (float64, error) {
	if f.sleepWindow {
		select {
		case <-time.After(window):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return f.cpuPercent, f.cpuErr
}

func healthyProvider() *fakeProvider {
	return &fakeProvider{
		hostInfo: &host.InfoStat{OS: "linux", Platform: "ubuntu", PlatformVersion: "24.04", KernelVersion: "6.8.0"},
		cpuInfo:  []cpu.InfoStat{{ModelName: "Mars Rad-Hard Core"}},
		cores:    8,
		vm:       &mem.VirtualMemoryStat{Total: 16 * 1024 * 1024 * 1024, UsedPercent: 42.4242},
	}
}

func TestSystemInfoHealthy(t *testing.T) {
	src := New(healthyProvider())

	info := src.SystemInfo(context.Background())

	assert.Equal(t, "linux", info.OperatingSystem)
	assert.Equal(t, "ubuntu 24.04 (kernel 6.8.0)", info.OSVersion)
	assert.Equal(t, "Mars Rad-Hard Core", info.CPUType)
	assert.Equal(t, 8, info.CPUCores)
	assert.Equal(t, "16777216 kB", info.MemorySize)
}

func TestSystemInfoSubstitutesUnknownPerField(t *testing.T) {
	provider := healthyProvider()
	provider.cpuInfoErr = errors.New("no /proc/cpuinfo")
	provider.vmErr = errors.New("no /proc/meminfo")

	info := New(provider).SystemInfo(context.Background())

	assert.Equal(t, "linux", info.OperatingSystem, "healthy fields survive a partial failure")
	assert.Equal(t, Unknown, info.CPUType)
	assert.Equal(t, Unknown, info.MemorySize)
	assert.Equal(t, 8, info.CPUCores)
}

func TestSystemInfoAllUnavailable(t *testing.T) {
	boom := errors.New("unavailable")
	provider := &fakeProvider{hostErr: boom, cpuInfoErr: boom, coresErr: boom, vmErr: boom}

	info := New(provider).SystemInfo(context.Background())

	assert.Equal(t, Unknown, info.OperatingSystem)
	assert.Equal(t, Unknown, info.OSVersion)
	assert.Equal(t, Unknown, info.CPUType)
	assert.Equal(t, Unknown, info.MemorySize)
	assert.GreaterOrEqual(t, info.CPUCores, 1)
}

func TestSystemInfoKernelOnlyVersion(t *testing.T) {
	provider := healthyProvider()
	provider.hostInfo = &host.InfoStat{OS: "linux", KernelVersion: "6.18.44"}

	info := New(provider).SystemInfo(context.Background())
	assert.Equal(t, "6.18.44", info.OSVersion)
}

func TestLoadSnapshotRoundsAndClamps(t *testing.T) {
	provider := healthyProvider()
	provider.cpuPercent = 104.5

	snapshot, err := New(provider).LoadSnapshot(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 100.0, snapshot.CPUUsage)
	assert.Equal(t, 42.42, snapshot.MemoryUsage)
}

func TestLoadSnapshotMeasuresWindow(t *testing.T) {
	provider := healthyProvider()
	provider.sleepWindow = true
	provider.cpuPercent = 12.5

	window := 80 * time.Millisecond
	snapshot, err := New(provider).LoadSnapshot(context.Background(), window)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, snapshot.Measured, window)
	assert.Less(t, snapshot.Measured, window+500*time.Millisecond)
}

func TestLoadSnapshotErrors(t *testing.T) {
	provider := healthyProvider()
	provider.cpuErr = errors.New("cpu stat missing")

	_, err := New(provider).LoadSnapshot(context.Background(), time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CPU percent")

	provider = healthyProvider()
	provider.vmErr = errors.New("meminfo missing")
	_, err = New(provider).LoadSnapshot(context.Background(), time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "memory info")
}

// TestGopsutilHost exercises the real host provider end-to-end.
func TestGopsutilHost(t *testing.T) {
	src := New(nil)

	info := src.SystemInfo(context.Background())
	assert.NotEmpty(t, info.OperatingSystem)
	assert.GreaterOrEqual(t, info.CPUCores, 1)

	snapshot, err := src.LoadSnapshot(context.Background(), 200*time.Millisecond)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, snapshot.CPUUsage, 0.0)
	assert.LessOrEqual(t, snapshot.CPUUsage, 100.0)
	assert.Greater(t, snapshot.MemoryUsage, 0.0)
	assert.LessOrEqual(t, snapshot.MemoryUsage, 100.0)
	assert.GreaterOrEqual(t, snapshot.Measured, 200*time.Millisecond)
}
