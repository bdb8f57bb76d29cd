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

package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Entry is the latest record of one task.
type Entry struct {
	Task      string          `json:"task"`
	Record    json.RawMessage `json:"record"`
	Timestamp int64           `json:"timestamp"`
}

// Latest keeps the last record of every task and broadcasts new ones.
type Latest struct {
	mu          sync.RWMutex
	entries     map[string]Entry
	subscribers map[chan Entry]struct{}
}

func NewLatest() *Latest {
	return &Latest{
		entries:     make(map[string]Entry),
		subscribers: make(map[chan Entry]struct{}),
	}
}

func (l *Latest) Emit(_ context.Context, task string, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode %s record: %w", task, err)
	}
	entry := Entry{Task: task, Record: data, Timestamp: time.Now().UnixMilli()}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[task] = entry
	for ch := range l.subscribers {
		// slow subscribers drop records rather than stall the runners.
		select {
		case ch <- entry:
		default:
		}
	}
	return nil
}

// Snapshot returns a copy of the latest entry per task.
func (l *Latest) Snapshot() map[string]Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]Entry, len(l.entries))
	for k, v := range l.entries {
		out[k] = v
	}
	return out
}

// Subscribe returns a channel of new entries and a cancel func that closes it.
func (l *Latest) Subscribe(buffer int) (<-chan Entry, func()) {
	ch := make(chan Entry, buffer)

	l.mu.Lock()
	l.subscribers[ch] = struct{}{}
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subscribers, ch)
			l.mu.Unlock()
			close(ch)
		})
	}
}
