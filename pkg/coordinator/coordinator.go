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

// Package coordinator starts periodic tasks under a topology and manages their lifecycle.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/alibaba/opensandbox/missiond/pkg/log"
	"github.com/alibaba/opensandbox/missiond/pkg/sink"
	"github.com/alibaba/opensandbox/missiond/pkg/task"
	"github.com/alibaba/opensandbox/missiond/pkg/util/safego"
)

// RunIDEnv carries the coordinator run id into worker processes.
const RunIDEnv = "MISSIOND_RUN_ID"

var defaultRestartBackoff = wait.Backoff{
	Steps:    6,
	Duration: time.Second,
	Factor:   2,
	Jitter:   0.1,
	Cap:      time.Minute,
}

// Coordinator starts one worker per task spec.
type Coordinator struct {
	sink     sink.Sink
	launcher Launcher
	grace    time.Duration
	backoff  wait.Backoff
}

type Option func(*Coordinator)

// WithLauncher sets how worker processes are created.
func WithLauncher(l Launcher) Option {
	return func(c *Coordinator) {
		c.launcher = l
	}
}

// WithGracePeriod bounds how long a stopped worker process may take to exit before it is killed.
func WithGracePeriod(d time.Duration) Option {
	return func(c *Coordinator) {
		c.grace = d
	}
}

// WithRestartBackoff sets the delay before a crashed worker process is restarted.
func WithRestartBackoff(b wait.Backoff) Option {
	return func(c *Coordinator) {
		c.backoff = b
	}
}

// New creates a coordinator that emits every record to out.
func New(out sink.Sink, opts ...Option) *Coordinator {
	c := &Coordinator{
		sink:    out,
		grace:   5 * time.Second,
		backoff: defaultRestartBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Group is the set of workers of one run.
type Group struct {
	runID    string
	topology Topology
	size     int
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	runners  []*task.Runner

	mu   sync.Mutex
	errs []error
}

// Run starts the tasks and blocks until all of them stop.
func (c *Coordinator) Run(ctx context.Context, topology Topology, specs []task.Spec) error {
	g, err := c.Start(ctx, topology, specs)
	if err != nil {
		return err
	}
	return g.Wait()
}

// Start launches one worker per spec. Workers run until ctx is cancelled or Stop is called.
func (c *Coordinator) Start(ctx context.Context, topology Topology, specs []task.Spec) (*Group, error) {
	if c.sink == nil {
		return nil, errors.New("coordinator: sink is required")
	}
	if len(specs) == 0 {
		return nil, errors.New("coordinator: no tasks to run")
	}
	seen := make(map[string]struct{}, len(specs))
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[spec.Name]; dup {
			return nil, fmt.Errorf("coordinator: duplicate task %s", spec.Name)
		}
		seen[spec.Name] = struct{}{}
	}

	ctx, cancel := context.WithCancel(ctx)
	g := &Group{
		runID:    strings.ReplaceAll(uuid.New().String(), "-", ""),
		topology: topology,
		size:     len(specs),
		cancel:   cancel,
	}

	switch topology {
	case Threads:
		if err := c.startThreads(ctx, g, specs); err != nil {
			cancel()
			return nil, err
		}
	case Processes:
		launcher := c.launcher
		if launcher == nil {
			l, err := NewExecLauncher()
			if err != nil {
				cancel()
				return nil, err
			}
			launcher = l
		}
		c.startProcesses(ctx, g, launcher, specs)
	default:
		cancel()
		return nil, &ConfigError{Setting: "topology", Value: string(topology), Reason: "want threads or processes"}
	}

	log.Info("run %s started %d tasks as %s", g.runID, len(specs), topology)
	return g, nil
}

func (c *Coordinator) startThreads(ctx context.Context, g *Group, specs []task.Spec) error {
	for _, spec := range specs {
		r, err := task.NewRunner(spec, c.sink)
		if err != nil {
			return err
		}
		g.runners = append(g.runners, r)
	}

	for _, r := range g.runners {
		g.wg.Add(1)
		safego.Go(func() {
			defer g.wg.Done()
			if err := r.Run(ctx); err != nil {
				g.addErr(fmt.Errorf("task %s: %w", r.Name(), err))
			}
		})
	}
	return nil
}

func (c *Coordinator) startProcesses(ctx context.Context, g *Group, launcher Launcher, specs []task.Spec) {
	for _, spec := range specs {
		w := &processWorker{
			spec:     spec,
			runID:    g.runID,
			sink:     c.sink,
			launcher: launcher,
			grace:    c.grace,
			backoff:  c.backoff,
		}
		g.wg.Add(1)
		safego.Go(func() {
			defer g.wg.Done()
			w.supervise(ctx)
		})
	}
}

func (g *Group) addErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.errs = append(g.errs, err)
}

// Wait blocks until every worker has stopped.
func (g *Group) Wait() error {
	g.wg.Wait()
	g.cancel()

	g.mu.Lock()
	defer g.mu.Unlock()
	return errors.Join(g.errs...)
}

// Stop cancels every worker. Wait still has to be called to observe their exit.
func (g *Group) Stop() {
	g.cancel()
}

func (g *Group) RunID() string { return g.runID }

func (g *Group) Topology() Topology { return g.topology }

// Size is the number of workers, one per task.
func (g *Group) Size() int { return g.size }

// Runners lists the in-process runners. It is empty for the Processes topology.
func (g *Group) Runners() []*task.Runner {
	return append([]*task.Runner(nil), g.runners...)
}
