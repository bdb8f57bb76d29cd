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

package flag

import "time"

var (
	// Topology selects threads (shared process) or processes (isolated workers).
	Topology string

	// SensorInterval is the period of the environment sensor task.
	SensorInterval time.Duration

	// InfoInterval is the period of the system info task.
	InfoInterval time.Duration

	// LoadInterval is the period of the host load task.
	LoadInterval time.Duration

	// LoadWindow is the CPU averaging window inside each load tick.
	LoadWindow time.Duration

	// TickTimeout bounds one sample; 0 disables it.
	TickTimeout time.Duration

	// Output is where records go: "stdout" or a file opened in append mode.
	Output string

	// ServerPort enables the HTTP status surface when positive.
	ServerPort int

	// ServerLogLevel controls the log verbosity.
	ServerLogLevel int

	// LogFile is where diagnostics go; empty means stderr.
	LogFile string

	// ServerAccessToken guards the status surface when set.
	ServerAccessToken string

	// ApiGracefulShutdownTimeout bounds HTTP shutdown and worker process exit.
	ApiGracefulShutdownTimeout time.Duration

	// Worker, when set, runs only the named task and writes records as JSON lines.
	Worker string
)
