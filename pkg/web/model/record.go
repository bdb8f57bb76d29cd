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

package model

import (
	"encoding/json"

	"github.com/alibaba/opensandbox/missiond/pkg/sink"
)

type RecordStreamEventType string

const (
	StreamEventTypeRecord RecordStreamEventType = "record"
	StreamEventTypePing   RecordStreamEventType = "ping"
)

// RecordStreamEvent is emitted to clients over SSE.
type RecordStreamEvent struct {
	Type      RecordStreamEventType `json:"type"`
	Task      string                `json:"task,omitempty"`
	Record    json.RawMessage       `json:"record,omitempty"`
	Timestamp int64                 `json:"timestamp"`
}

func NewRecordEvent(entry sink.Entry) RecordStreamEvent {
	return RecordStreamEvent{
		Type:      StreamEventTypeRecord,
		Task:      entry.Task,
		Record:    entry.Record,
		Timestamp: entry.Timestamp,
	}
}

func (e RecordStreamEvent) ToJSON() []byte {
	bytes, _ := json.Marshal(e) //nolint:errchkjson
	return bytes
}
