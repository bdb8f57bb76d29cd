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
	"fmt"
	"time"
)

// State is a phase of the runner loop.
type State int32

const (
	Idle State = iota
	Sampling
	Emitting
	Sleeping
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sampling:
		return "sampling"
	case Emitting:
		return "emitting"
	case Sleeping:
		return "sleeping"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Producer returns one fully-populated record.
type Producer func(ctx context.Context) (any, error)

// Spec binds a producer to its emission period.
type Spec struct {
	Name    string
	Period  time.Duration
	Produce Producer

	// Timeout bounds the Sampling step. Zero disables it.
	Timeout time.Duration
}

// Validate checks the spec can drive a runner.
func (s Spec) Validate() error {
	switch {
	case s.Name == "":
		return errors.New("task name is required")
	case s.Produce == nil:
		return fmt.Errorf("task %s: producer is required", s.Name)
	case s.Period <= 0:
		return fmt.Errorf("task %s: period must be positive, got %s", s.Name, s.Period)
	case s.Timeout < 0:
		return fmt.Errorf("task %s: timeout must not be negative, got %s", s.Name, s.Timeout)
	}
	return nil
}

// ErrTickTimeout is wrapped by errors of samples that exceeded Spec.Timeout.
var ErrTickTimeout = errors.New("tick deadline exceeded")

// SourceError reports a producer that failed to deliver a record.
type SourceError struct {
	Task string
	Err  error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("task %s: source failed: %v", e.Task, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// SinkError reports a record that could not be emitted.
type SinkError struct {
	Task string
	Err  error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("task %s: emit failed: %v", e.Task, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }
