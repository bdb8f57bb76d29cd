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
	"time"

	"github.com/alibaba/opensandbox/missiond/pkg/metric"
)

// HostMetrics is an on-demand reading of the host
type HostMetrics struct {
	SystemInfo metric.SystemInfoSnapshot `json:"system_info"`
	Load       *metric.LoadSnapshot      `json:"load,omitempty"`
	LoadError  string                    `json:"load_error,omitempty"`
	Timestamp  int64                     `json:"timestamp"`
}

func NewHostMetrics() *HostMetrics {
	return &HostMetrics{
		Timestamp: time.Now().UnixMilli(),
	}
}
