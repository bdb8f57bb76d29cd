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

// Package sink writes telemetry records to their destination.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Sink accepts one fully-formed record at a time. Implementations must be safe
// for concurrent use and must never interleave two records.
type Sink interface {
	Emit(ctx context.Context, task string, record any) error
}

const recordIndent = "    "

// WriterSink writes indented records separated by a blank line.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) Emit(_ context.Context, task string, record any) error {
	data, err := json.MarshalIndent(record, "", recordIndent)
	if err != nil {
		return fmt.Errorf("failed to encode %s record: %w", task, err)
	}
	return s.write(append(data, '\n', '\n'))
}

func (s *WriterSink) write(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.w.Write(payload)
	if err == nil && n != len(payload) {
		err = io.ErrShortWrite
	}
	return err
}

// LineSink writes one compact JSON record per line. Worker processes use it to
// hand records to their parent.
type LineSink struct {
	WriterSink
}

func NewLineSink(w io.Writer) *LineSink {
	return &LineSink{WriterSink: WriterSink{w: w}}
}

func (s *LineSink) Emit(_ context.Context, task string, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode %s record: %w", task, err)
	}
	return s.write(append(data, '\n'))
}

type multi []Sink

// Multi fans a record out to every sink. All sinks are attempted.
func Multi(sinks ...Sink) Sink {
	return multi(sinks)
}

func (m multi) Emit(ctx context.Context, task string, record any) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, task, record); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
