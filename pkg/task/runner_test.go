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

package task

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alibaba/opensandbox/missiond/pkg/sink"
)

type collectSink struct {
	mu      sync.Mutex
	records []any
	err     error
}

func (c *collectSink) Emit(_ context.Context, _ string, record any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.records = append(c.records, record)
	return nil
}

func (c *collectSink) snapshot() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.records...)
}

func counter() Producer {
	var n atomic.Int64
	return func(context.Context) (any, error) {
		return n.Add(1), nil
	}
}

func startRunner(t *testing.T, r *Runner) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func waitDone(t *testing.T, done <-chan error, within time.Duration) {
	t.Helper()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(within):
		t.Fatalf("runner did not stop within %s", within)
	}
}

func TestNewRunnerValidates(t *testing.T) {
	out := &collectSink{}
	cases := []Spec{
		{Period: time.Second, Produce: counter()},
		{Name: "sensor", Period: time.Second},
		{Name: "sensor", Produce: counter()},
		{Name: "sensor", Period: -time.Second, Produce: counter()},
		{Name: "sensor", Period: time.Second, Produce: counter(), Timeout: -1},
	}
	for _, spec := range cases {
		_, err := NewRunner(spec, out)
		assert.Error(t, err, "%+v", spec)
	}

	_, err := NewRunner(Spec{Name: "sensor", Period: time.Second, Produce: counter()}, nil)
	assert.Error(t, err)

	r, err := NewRunner(Spec{Name: "sensor", Period: time.Second, Produce: counter()}, out)
	require.NoError(t, err)
	assert.Equal(t, "sensor", r.Name())
	assert.Equal(t, time.Second, r.Period())
	assert.Equal(t, Idle, r.State())
}

func TestRunnerEmitsInGenerationOrder(t *testing.T) {
	out := &collectSink{}
	r, err := NewRunner(Spec{Name: "sensor", Period: 10 * time.Millisecond, Produce: counter()}, out)
	require.NoError(t, err)

	cancel, done := startRunner(t, r)
	require.Eventually(t, func() bool { return r.Emitted() >= 5 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	waitDone(t, done, time.Second)

	records := out.snapshot()
	require.GreaterOrEqual(t, len(records), 5)
	for i, record := range records {
		assert.Equal(t, int64(i+1), record)
	}
	assert.Equal(t, records[len(records)-1], r.Last())
	assert.Equal(t, Cancelled, r.State())
	assert.Zero(t, r.Failures())
}

func TestRunnerFailSoft(t *testing.T) {
	out := &collectSink{}
	var calls atomic.Int64
	failing := func(context.Context) (any, error) {
		calls.Add(1)
		return nil, errors.New("sensor offline")
	}
	period := 20 * time.Millisecond
	r, err := NewRunner(Spec{Name: "sensor", Period: period, Produce: failing}, out)
	require.NoError(t, err)

	cancel, done := startRunner(t, r)
	const n = 5
	time.Sleep(n*period + 60*time.Millisecond)

	select {
	case <-done:
		t.Fatal("runner stopped on a failing source")
	default:
	}
	assert.GreaterOrEqual(t, r.Ticks(), int64(n))
	assert.Equal(t, r.Ticks(), r.Failures())
	assert.Empty(t, out.snapshot())
	assert.Nil(t, r.Last())

	cancel()
	waitDone(t, done, time.Second)
}

func TestRunnerRecoversFromPanic(t *testing.T) {
	out := &collectSink{}
	var calls atomic.Int64
	flaky := func(context.Context) (any, error) {
		if calls.Add(1) == 1 {
			panic("sensor bus fault")
		}
		return "ok", nil
	}
	r, err := NewRunner(Spec{Name: "sensor", Period: 10 * time.Millisecond, Produce: flaky}, out)
	require.NoError(t, err)

	cancel, done := startRunner(t, r)
	require.Eventually(t, func() bool { return r.Emitted() >= 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	waitDone(t, done, time.Second)

	assert.Equal(t, int64(1), r.Failures())
}

func TestRunnerSinkErrorIsNotFatal(t *testing.T) {
	out := &collectSink{err: errors.New("stdout closed")}
	r, err := NewRunner(Spec{Name: "load", Period: 10 * time.Millisecond, Produce: counter()}, out)
	require.NoError(t, err)

	cancel, done := startRunner(t, r)
	require.Eventually(t, func() bool { return r.Failures() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	waitDone(t, done, time.Second)

	assert.Zero(t, r.Emitted())
}

func TestTickErrorClassification(t *testing.T) {
	r, err := NewRunner(Spec{Name: "load", Period: time.Second, Produce: func(context.Context) (any, error) {
		return nil, errors.New("cpu stat missing")
	}}, &collectSink{})
	require.NoError(t, err)

	var sourceErr *SourceError
	require.ErrorAs(t, r.tick(context.Background()), &sourceErr)
	assert.Equal(t, "load", sourceErr.Task)

	r, err = NewRunner(Spec{Name: "load", Period: time.Second, Produce: counter()}, &collectSink{err: errors.New("broken pipe")})
	require.NoError(t, err)

	var sinkErr *SinkError
	require.ErrorAs(t, r.tick(context.Background()), &sinkErr)
	assert.Contains(t, sinkErr.Error(), "broken pipe")

	r, err = NewRunner(Spec{Name: "load", Period: time.Second, Produce: func(context.Context) (any, error) {
		return nil, nil
	}}, &collectSink{})
	require.NoError(t, err)
	require.ErrorAs(t, r.tick(context.Background()), &sourceErr)
}

func TestRunnerCompensatesMeasurementWindow(t *testing.T) {
	period := 200 * time.Millisecond
	window := 60 * time.Millisecond

	var mu sync.Mutex
	var starts []time.Time
	measuring := func(context.Context) (any, error) {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		time.Sleep(window)
		return "load", nil
	}
	r, err := NewRunner(Spec{Name: "load", Period: period, Produce: measuring}, &collectSink{})
	require.NoError(t, err)

	cancel, done := startRunner(t, r)
	require.Eventually(t, func() bool { return r.Emitted() >= 3 }, 3*time.Second, 5*time.Millisecond)
	cancel()
	waitDone(t, done, time.Second)

	sleep := r.LastSleep()
	assert.InDelta(t, float64(period-window), float64(sleep), float64(40*time.Millisecond))

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(starts); i++ {
		gap := starts[i].Sub(starts[i-1])
		assert.InDelta(t, float64(period), float64(gap), float64(50*time.Millisecond), "tick %d", i)
	}
}

func TestRunnerCancelDuringSleeping(t *testing.T) {
	out := &collectSink{}
	r, err := NewRunner(Spec{Name: "system-info", Period: 10 * time.Second, Produce: counter()}, out)
	require.NoError(t, err)

	cancel, done := startRunner(t, r)
	require.Eventually(t, func() bool { return r.State() == Sleeping }, time.Second, time.Millisecond)

	cancel()
	waitDone(t, done, 200*time.Millisecond)
	assert.Equal(t, Cancelled, r.State())
	assert.Len(t, out.snapshot(), 1)
}

func TestRunnerCancelDuringSamplingCompletesStep(t *testing.T) {
	out := &collectSink{}
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	blocking := func(ctx context.Context) (any, error) {
		once.Do(func() { close(entered) })
		<-release
		return "reading", ctx.Err()
	}
	r, err := NewRunner(Spec{Name: "sensor", Period: 10 * time.Second, Produce: blocking}, out)
	require.NoError(t, err)

	cancel, done := startRunner(t, r)
	<-entered
	assert.Equal(t, Sampling, r.State())

	cancel()
	select {
	case <-done:
		t.Fatal("cancellation preempted an in-flight sample")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	waitDone(t, done, time.Second)

	assert.Equal(t, []any{"reading"}, out.snapshot(), "the in-flight step emits before stopping")
	assert.Equal(t, int64(1), r.Emitted())
	assert.Equal(t, Cancelled, r.State())
}

func TestRunnerTickTimeout(t *testing.T) {
	stuck := func(ctx context.Context) (any, error) {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return "late", nil
	}
	out := &collectSink{}
	r, err := NewRunner(Spec{Name: "load", Period: 20 * time.Millisecond, Timeout: 30 * time.Millisecond, Produce: stuck}, out)
	require.NoError(t, err)

	tickErr := r.tick(context.Background())
	require.ErrorIs(t, tickErr, ErrTickTimeout)

	cancel, done := startRunner(t, r)
	require.Eventually(t, func() bool { return r.Failures() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	waitDone(t, done, time.Second)
	assert.Empty(t, out.snapshot())
}

type slowFirstSink struct {
	collectSink
	delay   time.Duration
	calls   atomic.Int64
	active  atomic.Int32
	overlap atomic.Bool
}

func (s *slowFirstSink) Emit(ctx context.Context, task string, record any) error {
	if s.active.Add(1) > 1 {
		s.overlap.Store(true)
	}
	defer s.active.Add(-1)
	if s.calls.Add(1) == 1 {
		time.Sleep(s.delay)
	}
	return s.collectSink.Emit(ctx, task, record)
}

func TestRunnerTickTimeoutKeepsEmitOrder(t *testing.T) {
	out := &slowFirstSink{delay: 150 * time.Millisecond}
	r, err := NewRunner(Spec{Name: "sensor", Period: 20 * time.Millisecond, Timeout: 30 * time.Millisecond, Produce: counter()}, out)
	require.NoError(t, err)

	cancel, done := startRunner(t, r)
	require.Eventually(t, func() bool { return r.Emitted() >= 6 }, 3*time.Second, 5*time.Millisecond)
	cancel()
	waitDone(t, done, time.Second)

	records := out.snapshot()
	require.GreaterOrEqual(t, len(records), 6)
	for i, record := range records {
		assert.Equal(t, int64(i+1), record)
	}
	assert.False(t, out.overlap.Load())
	assert.Zero(t, r.Failures())
}

func TestRunnerDoesNotStackStuckSamples(t *testing.T) {
	release := make(chan struct{})
	var calls, running, peak atomic.Int32
	stuck := func(context.Context) (any, error) {
		calls.Add(1)
		n := running.Add(1)
		defer running.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		return "late", nil
	}
	out := &collectSink{}
	r, err := NewRunner(Spec{Name: "load", Period: 10 * time.Millisecond, Timeout: 10 * time.Millisecond, Produce: stuck}, out)
	require.NoError(t, err)

	cancel, done := startRunner(t, r)
	require.Eventually(t, func() bool { return r.Failures() >= 5 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	close(release)
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	waitDone(t, done, time.Second)

	assert.Equal(t, int32(1), peak.Load())
	for _, record := range out.snapshot() {
		assert.Equal(t, "late", record)
	}
}

func TestRunnerAlreadyCancelled(t *testing.T) {
	r, err := NewRunner(Spec{Name: "sensor", Period: time.Second, Produce: counter()}, sink.NewLatest())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, r.Run(ctx))
	assert.Zero(t, r.Ticks())
	assert.Equal(t, Cancelled, r.State())
}

func TestRemaining(t *testing.T) {
	assert.Equal(t, 19*time.Second, remaining(20*time.Second, time.Second))
	assert.Equal(t, time.Duration(0), remaining(20*time.Second, 25*time.Second))
	assert.Equal(t, time.Duration(0), remaining(time.Second, time.Second))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "sampling", Sampling.String())
	assert.Equal(t, "emitting", Emitting.String())
	assert.Equal(t, "sleeping", Sleeping.String())
	assert.Equal(t, "cancelled", Cancelled.String())
	assert.Equal(t, "state(9)", State(9).String())
}
