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

package coordinator

import (
	"fmt"
	"strings"

	"github.com/alibaba/opensandbox/missiond/pkg/log"
)

// Topology selects how tasks share (or do not share) an address space.
type Topology string

const (
	// Threads runs every task as a goroutine of the current process.
	Threads Topology = "threads"
	// Processes runs every task in its own worker process.
	Processes Topology = "processes"
)

// DefaultTopology is used when the selection is missing or invalid.
const DefaultTopology = Threads

// ConfigError reports an unusable startup setting.
type ConfigError struct {
	Setting string
	Value   string
	Reason  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Setting, e.Value, e.Reason)
}

// ParseTopology accepts threads/thread/shared and processes/process/isolated.
func ParseTopology(value string) (Topology, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "threads", "thread", "shared":
		return Threads, nil
	case "processes", "process", "isolated":
		return Processes, nil
	case "":
		return DefaultTopology, &ConfigError{Setting: "topology", Value: value, Reason: "no topology selected"}
	default:
		return DefaultTopology, &ConfigError{Setting: "topology", Value: value, Reason: "want threads or processes"}
	}
}

// ResolveTopology never fails: an invalid value logs a warning and yields DefaultTopology.
func ResolveTopology(value string) Topology {
	topology, err := ParseTopology(value)
	if err != nil {
		log.Warn("%v; falling back to %s", err, DefaultTopology)
	}
	return topology
}
