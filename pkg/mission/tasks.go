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

// Package mission wires the sources of the mission computer into periodic tasks.
package mission

import (
	"context"
	"fmt"
	"io"

	"github.com/alibaba/opensandbox/missiond/pkg/metric"
	"github.com/alibaba/opensandbox/missiond/pkg/sensor"
	"github.com/alibaba/opensandbox/missiond/pkg/sink"
	"github.com/alibaba/opensandbox/missiond/pkg/task"
)

const (
	SensorTask     = "sensor"
	SystemInfoTask = "system-info"
	LoadTask       = "load"
)

// Names lists the canonical tasks in start order.
func Names() []string {
	return []string{SensorTask, SystemInfoTask, LoadTask}
}

// Sources are the data producers a set of tasks draws from.
type Sources struct {
	Sensor *sensor.Source
	Metric *metric.Source
}

// NewSources builds fresh sources. A nil provider reads the local host.
func NewSources(provider metric.HostProvider) Sources {
	return Sources{
		Sensor: sensor.New(),
		Metric: metric.New(provider),
	}
}

// Tasks builds the canonical specs on top of one shared set of sources.
func Tasks(cfg Config, src Sources) []task.Spec {
	specs := make([]task.Spec, 0, len(Names()))
	for _, name := range Names() {
		spec, err := Lookup(cfg, name, src)
		if err != nil {
			// Names and Lookup are out of sync.
			panic(err)
		}
		specs = append(specs, spec)
	}
	return specs
}

// Lookup builds the spec of a single task.
func Lookup(cfg Config, name string, src Sources) (task.Spec, error) {
	spec := task.Spec{Name: name, Timeout: cfg.TickTimeout}

	switch name {
	case SensorTask:
		spec.Period = cfg.SensorInterval
		spec.Produce = func(context.Context) (any, error) {
			return src.Sensor.Sample(), nil
		}
	case SystemInfoTask:
		spec.Period = cfg.InfoInterval
		spec.Produce = func(ctx context.Context) (any, error) {
			return src.Metric.SystemInfo(ctx), nil
		}
	case LoadTask:
		spec.Period = cfg.LoadInterval
		spec.Produce = func(ctx context.Context) (any, error) {
			snapshot, err := src.Metric.LoadSnapshot(ctx, cfg.LoadWindow)
			if err != nil {
				return nil, err
			}
			return snapshot, nil
		}
	default:
		return task.Spec{}, fmt.Errorf("unknown task %q", name)
	}
	return spec, nil
}

// RunWorker runs a single task with its own sources and writes one record per
// line to w. It is the body of an isolated worker process.
func RunWorker(ctx context.Context, cfg Config, name string, w io.Writer) error {
	spec, err := Lookup(cfg, name, NewSources(nil))
	if err != nil {
		return err
	}
	r, err := task.NewRunner(spec, sink.NewLineSink(w))
	if err != nil {
		return err
	}
	return r.Run(ctx)
}
