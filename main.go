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

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs/maxprocs"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/retry"

	"github.com/alibaba/opensandbox/missiond/pkg/coordinator"
	"github.com/alibaba/opensandbox/missiond/pkg/flag"
	"github.com/alibaba/opensandbox/missiond/pkg/log"
	"github.com/alibaba/opensandbox/missiond/pkg/mission"
	"github.com/alibaba/opensandbox/missiond/pkg/sink"
	"github.com/alibaba/opensandbox/missiond/pkg/util/safego"
	"github.com/alibaba/opensandbox/missiond/pkg/web"
	"github.com/alibaba/opensandbox/missiond/pkg/web/controller"
)

// main starts the mission computer telemetry loop.
func main() {
	flag.InitFlags()

	log.SetLevel(flag.ServerLogLevel)
	logFile := flag.LogFile
	if flag.Worker != "" && logFile == "stdout" {
		// a worker's stdout carries its records.
		logFile = "stderr"
	}
	if logFile != "" {
		if err := log.SetOutput(logFile); err != nil {
			log.Warn("failed to open log file %s: %v; logging to the previous output", logFile, err)
		}
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	safego.InitPanicLogger(ctx)

	cfg := flag.MissionConfig()

	if flag.Worker != "" {
		log.Info("worker %s started for run %s", flag.Worker, os.Getenv(coordinator.RunIDEnv))
		if err := mission.RunWorker(ctx, cfg, flag.Worker, os.Stdout); err != nil {
			log.Error("worker %s failed: %v", flag.Worker, err)
			os.Exit(1)
		}
		return
	}

	out, closeOut := openOutput(flag.Output)
	defer closeOut()

	latest := sink.NewLatest()
	records := sink.Multi(sink.NewWriterSink(out), latest)
	sources := mission.NewSources(nil)

	if flag.ServerPort > 0 {
		controller.Init(latest, sources.Metric)
		server := &http.Server{
			Addr:    fmt.Sprintf(":%d", flag.ServerPort),
			Handler: web.NewRouter(flag.ServerAccessToken),
		}
		safego.Go(func() {
			log.Info("missiond status server listening on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("failed to start status server: %v", err)
			}
		})
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), flag.ApiGracefulShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Warn("status server shutdown: %v", err)
			}
		}()
	}

	topology := coordinator.ResolveTopology(flag.Topology)
	opts := []coordinator.Option{coordinator.WithGracePeriod(flag.ApiGracefulShutdownTimeout)}
	if topology == coordinator.Processes {
		launcher, err := coordinator.NewExecLauncher(flag.WorkerArgs()...)
		if err != nil {
			log.Warn("%v; falling back to %s", err, coordinator.Threads)
			topology = coordinator.Threads
		} else {
			opts = append(opts, coordinator.WithLauncher(launcher))
		}
	}

	if err := coordinator.New(records, opts...).Run(ctx, topology, mission.Tasks(cfg, sources)); err != nil {
		log.Error("mission computer stopped: %v", err)
		return
	}
	log.Info("mission computer stopped")
}

// outputBackoff covers output volumes that show up shortly after start.
var outputBackoff = wait.Backoff{
	Steps:    3,
	Duration: 100 * time.Millisecond,
	Factor:   2.0,
}

// openOutput falls back to stdout when the output file cannot be opened.
func openOutput(path string) (io.Writer, func()) {
	if path == "" || path == "stdout" || path == "-" {
		return os.Stdout, func() {}
	}

	var f *os.File
	err := retry.OnError(outputBackoff, func(err error) bool {
		log.Warn("failed to open output %s, retrying: %v", path, err)
		return true
	}, func() error {
		var err error
		f, err = os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		return err
	})
	if err != nil {
		log.Warn("failed to open output %s: %v; writing records to stdout", path, err)
		return os.Stdout, func() {}
	}
	return f, func() {
		if err := f.Close(); err != nil {
			log.Warn("failed to close output %s: %v", path, err)
		}
	}
}
