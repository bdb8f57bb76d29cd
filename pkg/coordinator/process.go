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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/alibaba/opensandbox/missiond/pkg/log"
	"github.com/alibaba/opensandbox/missiond/pkg/sink"
	"github.com/alibaba/opensandbox/missiond/pkg/task"
)

// WorkerFlag names the flag that turns the binary into a single-task worker.
const WorkerFlag = "worker"

const maxRecordSize = 1 << 20

// Launcher builds the command of an isolated worker. The worker must write one
// JSON record per line to stdout and stop its task on SIGTERM.
type Launcher interface {
	Command(ctx context.Context, spec task.Spec, runID string) (*exec.Cmd, error)
}

// ExecLauncher re-executes a binary in worker mode.
type ExecLauncher struct {
	// Path of the worker binary.
	Path string
	// Args are appended after the worker flag, e.g. forwarded intervals.
	Args []string
	// Env is appended to the current environment.
	Env []string
}

// NewExecLauncher re-executes the current binary.
func NewExecLauncher(args ...string) (*ExecLauncher, error) {
	path, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve worker binary: %w", err)
	}
	return &ExecLauncher{Path: path, Args: args}, nil
}

func (l *ExecLauncher) Command(ctx context.Context, spec task.Spec, runID string) (*exec.Cmd, error) {
	if l.Path == "" {
		return nil, errors.New("worker binary path is empty")
	}
	args := append([]string{fmt.Sprintf("--%s=%s", WorkerFlag, spec.Name)}, l.Args...)

	cmd := exec.CommandContext(ctx, l.Path, args...)
	cmd.Env = append(os.Environ(), l.Env...)
	cmd.Env = append(cmd.Env, RunIDEnv+"="+runID)
	return cmd, nil
}

// processWorker keeps one worker process alive for the lifetime of ctx.
type processWorker struct {
	spec     task.Spec
	runID    string
	sink     sink.Sink
	launcher Launcher
	grace    time.Duration
	backoff  wait.Backoff
}

func (w *processWorker) supervise(ctx context.Context) {
	backoff := w.backoff
	for {
		started := time.Now()
		err := w.runOnce(ctx)
		if ctx.Err() != nil {
			log.Info("worker %s stopped", w.spec.Name)
			return
		}

		// a worker that stayed up for a while starts over with a short delay.
		if time.Since(started) > backoff.Cap && backoff.Cap > 0 {
			backoff = w.backoff
		}
		delay := backoff.Step()
		log.Error("worker %s exited unexpectedly: %v; restarting in %s", w.spec.Name, err, delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info("worker %s stopped", w.spec.Name)
			return
		case <-timer.C:
		}
	}
}

// runOnce starts the worker process and forwards its records until it exits.
func (w *processWorker) runOnce(ctx context.Context) error {
	cmd, err := w.launcher.Command(ctx, w.spec, w.runID)
	if err != nil {
		return err
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	prepareWorkerCommand(cmd, w.grace)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	log.Info("worker %s started as pid %d", w.spec.Name, cmd.Process.Pid)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64<<10), maxRecordSize)
	for scanner.Scan() {
		w.forward(ctx, scanner.Bytes())
	}
	scanErr := scanner.Err()

	err = cmd.Wait()
	if scanErr != nil {
		return fmt.Errorf("failed to read worker output: %w", scanErr)
	}
	if err != nil {
		return err
	}
	return errors.New("worker exited")
}

func (w *processWorker) forward(ctx context.Context, line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	if !json.Valid(line) {
		log.Warn("worker %s: dropping malformed record %q", w.spec.Name, line)
		return
	}

	record := json.RawMessage(bytes.Clone(line))
	if err := w.sink.Emit(context.WithoutCancel(ctx), w.spec.Name, record); err != nil {
		log.Error("%v", &task.SinkError{Task: w.spec.Name, Err: err})
	}
}
