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

// Package task runs a producer on a fixed cadence and emits its records.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alibaba/opensandbox/missiond/pkg/log"
	"github.com/alibaba/opensandbox/missiond/pkg/sink"
	"github.com/alibaba/opensandbox/missiond/pkg/util/safego"
)

// Runner drives one Spec: sample, emit, sleep, forever until cancelled.
// A failed tick is logged and retried one period later.
type Runner struct {
	spec Spec
	sink sink.Sink

	state     atomic.Int32
	ticks     atomic.Int64
	emitted   atomic.Int64
	failures  atomic.Int64
	lastSleep atomic.Int64

	// closed when a sample abandoned at its deadline finally returns.
	abandoned chan struct{}

	mu   sync.RWMutex
	last any
}

// NewRunner validates spec and binds it to out.
func NewRunner(spec Spec, out sink.Sink) (*Runner, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("task %s: sink is required", spec.Name)
	}
	return &Runner{spec: spec, sink: out}, nil
}

// Run blocks until ctx is cancelled. Cancellation is observed only between
// ticks; an in-flight sample or emit always completes. It returns nil once cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.setState(Idle)
	log.Info("task %s started with period %s", r.spec.Name, r.spec.Period)

	for {
		if ctx.Err() != nil {
			break
		}

		started := time.Now()
		wait := r.spec.Period
		err := r.tick(ctx)
		r.ticks.Add(1)
		if err != nil {
			r.failures.Add(1)
			log.Error("%v; retrying in %s", err, r.spec.Period)
		} else {
			wait = remaining(r.spec.Period, time.Since(started))
		}

		r.setState(Sleeping)
		r.lastSleep.Store(int64(wait))
		if !sleep(ctx, wait) {
			break
		}
	}

	r.setState(Cancelled)
	log.Info("task %s cancelled after %d ticks (%d failed)", r.spec.Name, r.ticks.Load(), r.failures.Load())
	return nil
}

func (r *Runner) tick(ctx context.Context) error {
	// steps run detached from cancellation so a stop request never preempts them.
	stepCtx := context.WithoutCancel(ctx)

	r.setState(Sampling)
	record, err := r.sample(stepCtx)
	if err == nil && record == nil {
		err = errors.New("producer returned no record")
	}
	if err != nil {
		return &SourceError{Task: r.spec.Name, Err: err}
	}

	// emitting is never abandoned, so the sink sees this task's records one at a
	// time and in generation order.
	r.setState(Emitting)
	err = safego.Call(func() error {
		return r.sink.Emit(stepCtx, r.spec.Name, record)
	})
	if err != nil {
		return &SinkError{Task: r.spec.Name, Err: err}
	}

	r.mu.Lock()
	r.last = record
	r.mu.Unlock()
	r.emitted.Add(1)
	return nil
}

// sample runs the producer with panics turned into errors. With a Timeout the
// producer is abandoned at the deadline and its late result is dropped; no new
// sample starts until the abandoned one has returned.
func (r *Runner) sample(ctx context.Context) (any, error) {
	produce := func(ctx context.Context) (record any, err error) {
		err = safego.Call(func() error {
			var err error
			record, err = r.spec.Produce(ctx)
			return err
		})
		return record, err
	}
	if r.spec.Timeout <= 0 {
		return produce(ctx)
	}

	if r.abandoned != nil {
		select {
		case <-r.abandoned:
			r.abandoned = nil
		default:
			return nil, fmt.Errorf("%w: previous sample still running", ErrTickTimeout)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.spec.Timeout)
	defer cancel()

	type result struct {
		record any
		err    error
	}
	done := make(chan result, 1)
	finished := make(chan struct{})
	safego.Go(func() {
		defer close(finished)
		record, err := produce(ctx)
		done <- result{record: record, err: err}
	})

	select {
	case res := <-done:
		return res.record, res.err
	case <-ctx.Done():
		r.abandoned = finished
		return nil, fmt.Errorf("%w after %s", ErrTickTimeout, r.spec.Timeout)
	}
}

// remaining is the sleep that keeps a tick's wall-clock length equal to period.
func remaining(period, elapsed time.Duration) time.Duration {
	if elapsed >= period {
		return 0
	}
	return period - elapsed
}

// sleep waits for d and reports false when ctx is cancelled first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (r *Runner) setState(s State) {
	r.state.Store(int32(s))
}

func (r *Runner) Name() string { return r.spec.Name }

func (r *Runner) Period() time.Duration { return r.spec.Period }

// State reports the current phase of the loop.
func (r *Runner) State() State {
	return State(r.state.Load())
}

// Ticks counts completed ticks, successful or not.
func (r *Runner) Ticks() int64 { return r.ticks.Load() }

// Emitted counts records handed to the sink.
func (r *Runner) Emitted() int64 { return r.emitted.Load() }

// Failures counts ticks lost to a SourceError or SinkError.
func (r *Runner) Failures() int64 { return r.failures.Load() }

// LastSleep is the wait chosen after the most recent tick.
func (r *Runner) LastSleep() time.Duration {
	return time.Duration(r.lastSleep.Load())
}

// Last returns the record of the most recent successful tick, or nil.
func (r *Runner) Last() any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.last
}
