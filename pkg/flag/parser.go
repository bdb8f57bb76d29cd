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

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alibaba/opensandbox/missiond/pkg/log"
	"github.com/alibaba/opensandbox/missiond/pkg/mission"
)

const (
	topologyEnv                = "MISSIOND_TOPOLOGY"
	outputEnv                  = "MISSIOND_OUTPUT"
	portEnv                    = "MISSIOND_PORT"
	accessTokenEnv             = "MISSIOND_ACCESS_TOKEN"
	sensorIntervalEnv          = "MISSIOND_SENSOR_INTERVAL"
	infoIntervalEnv            = "MISSIOND_INFO_INTERVAL"
	loadIntervalEnv            = "MISSIOND_LOAD_INTERVAL"
	loadWindowEnv              = "MISSIOND_LOAD_WINDOW"
	tickTimeoutEnv             = "MISSIOND_TICK_TIMEOUT"
	gracefulShutdownTimeoutEnv = "MISSIOND_GRACE_SHUTDOWN"
)

// InitFlags registers CLI flags with env overrides and parses os.Args.
func InitFlags() {
	register(flag.CommandLine)

	// Parse flags - these will override environment variables if provided
	flag.Parse()

	log.Info("topology is: %s", Topology)
	log.Info("intervals are: sensor=%s info=%s load=%s (window %s)", SensorInterval, InfoInterval, LoadInterval, LoadWindow)
}

func register(fs *flag.FlagSet) {
	// Set default values
	defaults := mission.DefaultConfig()
	Topology = "threads"
	SensorInterval = defaults.SensorInterval
	InfoInterval = defaults.InfoInterval
	LoadInterval = defaults.LoadInterval
	LoadWindow = defaults.LoadWindow
	TickTimeout = 0
	Output = "stdout"
	ServerPort = 0
	ServerLogLevel = 6
	LogFile = ""
	ServerAccessToken = ""
	ApiGracefulShutdownTimeout = 5 * time.Second
	Worker = ""

	// First, set default values from environment variables
	stringFromEnv(topologyEnv, &Topology)
	stringFromEnv(outputEnv, &Output)
	stringFromEnv(accessTokenEnv, &ServerAccessToken)
	stringFromEnv(log.LogFileEnvKey, &LogFile)
	intFromEnv(portEnv, &ServerPort)
	durationFromEnv(sensorIntervalEnv, &SensorInterval)
	durationFromEnv(infoIntervalEnv, &InfoInterval)
	durationFromEnv(loadIntervalEnv, &LoadInterval)
	durationFromEnv(loadWindowEnv, &LoadWindow)
	durationFromEnv(tickTimeoutEnv, &TickTimeout)
	durationFromEnv(gracefulShutdownTimeoutEnv, &ApiGracefulShutdownTimeout)

	// Then define flags with current values as defaults
	fs.StringVar(&Topology, "topology", Topology, "Execution topology: threads (shared process) or processes (isolated workers)")
	fs.DurationVar(&SensorInterval, "sensor-interval", SensorInterval, "Environment sensor sampling period")
	fs.DurationVar(&InfoInterval, "info-interval", InfoInterval, "System info sampling period")
	fs.DurationVar(&LoadInterval, "load-interval", LoadInterval, "Host load sampling period")
	fs.DurationVar(&LoadWindow, "load-window", LoadWindow, "CPU averaging window of a load sample, counted toward the load period")
	fs.DurationVar(&TickTimeout, "tick-timeout", TickTimeout, "Deadline for a single sample (0 disables)")
	fs.StringVar(&Output, "output", Output, "Record destination: stdout or a file path")
	fs.IntVar(&ServerPort, "port", ServerPort, "Status HTTP port (0 disables the status server)")
	fs.IntVar(&ServerLogLevel, "log-level", ServerLogLevel, "Log level (0=LevelEmergency, 1=LevelAlert, 2=LevelCritical, 3=LevelError, 4=LevelWarning, 5=LevelNotice, 6=LevelInformational, 7=LevelDebug, default: 6)")
	fs.StringVar(&LogFile, "log-file", LogFile, "Diagnostic log destination: stderr, stdout or a file path")
	fs.StringVar(&ServerAccessToken, "access-token", ServerAccessToken, "Access token for the status HTTP API")
	fs.DurationVar(&ApiGracefulShutdownTimeout, "graceful-shutdown-timeout", ApiGracefulShutdownTimeout, "Shutdown timeout for the status server and worker processes")
	fs.StringVar(&Worker, "worker", Worker, "Run a single task as an isolated worker (used internally by the processes topology)")
}

// MissionConfig returns the task cadence with invalid values replaced by defaults.
func MissionConfig() mission.Config {
	return mission.Config{
		SensorInterval: SensorInterval,
		InfoInterval:   InfoInterval,
		LoadInterval:   LoadInterval,
		LoadWindow:     LoadWindow,
		TickTimeout:    TickTimeout,
	}.Sanitize()
}

// WorkerArgs forwards the settings a worker process needs.
func WorkerArgs() []string {
	cfg := MissionConfig()
	args := []string{
		"--sensor-interval=" + cfg.SensorInterval.String(),
		"--info-interval=" + cfg.InfoInterval.String(),
		"--load-interval=" + cfg.LoadInterval.String(),
		"--load-window=" + cfg.LoadWindow.String(),
		"--tick-timeout=" + cfg.TickTimeout.String(),
		fmt.Sprintf("--log-level=%d", ServerLogLevel),
	}
	if LogFile != "" && LogFile != "stdout" {
		args = append(args, "--log-file="+LogFile)
	}
	return args
}

func stringFromEnv(key string, target *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func intFromEnv(key string, target *int) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn("ignoring %s=%q: %v", key, v, err)
		return
	}
	*target = n
}

func durationFromEnv(key string, target *time.Duration) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn("ignoring %s=%q: %v", key, v, err)
		return
	}
	*target = d
}
