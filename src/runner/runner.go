// Copyright (c) 2026 Khaled Abbas
//
// This source code is licensed under the Business Source License 1.1.
//
// Change Date: 4 years after the first public release of this version.
// Change License: MIT
//
// On the Change Date, this version of the code automatically converts
// to the MIT License. Prior to that date, use is subject to the
// Additional Use Grant. See the LICENSE file for details.

package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/google/uuid"

	"resqenv/src/logging"
	"resqenv/src/model"
	"resqenv/src/provisioner"
	"resqenv/src/repository"
)

// Extra wall-clock slack granted to the in-container timeout before the
// outer context gives up on the exec.
const timeoutOverhead = 15 * time.Second

// Outcome is the raw result of one test-suite execution.
type Outcome struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
}

// Runner executes a task's test script inside a provisioned runtime.
type Runner struct {
	cli *client.Client
}

func New(cli *client.Client) *Runner {
	return &Runner{cli: cli}
}

// Run writes the test script into the workdir under a random name, executes
// it inside the runtime with a wall-clock timeout, and captures its output.
// The in-container process tree is killed on timeout; the outcome then
// reports TimedOut instead of an exit code.
func (r *Runner) Run(ctx context.Context, repo *repository.Repository, rt *provisioner.Runtime, testScript string, timeout time.Duration) (Outcome, error) {
	secret := uuid.New().String()
	script, sentinel := InsertSecret(testScript, secret)

	scriptName := uuid.New().String() + ".py"
	scriptPath := filepath.Join(repo.Path, scriptName)
	if err := os.WriteFile(scriptPath, []byte(script), 0o644); err != nil {
		return Outcome{}, &model.RunnerError{TaskID: repo.TaskID, Err: err}
	}
	defer os.Remove(scriptPath)

	workdir, err := rt.ContainerPath(repo.Path)
	if err != nil {
		return Outcome{}, &model.RunnerError{TaskID: repo.TaskID, Err: err}
	}

	cmd := []string{"python", scriptName}
	execCtx := ctx
	if timeout > 0 {
		// `timeout -k` kills the whole process tree inside the container;
		// the outer deadline only fences the docker exec itself.
		secsVal := int(timeout.Round(time.Second) / time.Second)
		if secsVal < 1 {
			secsVal = 1
		}
		secs := strconv.Itoa(secsVal)
		cmd = append([]string{"timeout", "-k", "5", secs}, cmd...)

		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, timeout+timeoutOverhead)
		defer cancel()
	}

	started := time.Now()
	exitCode, stdout, stderr, err := provisioner.ExecCapture(execCtx, r.cli, rt.ContainerID, container.ExecOptions{
		WorkingDir: workdir,
		Cmd:        cmd,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Outcome{TimedOut: true, Stdout: stdout, Stderr: stderr}, nil
		}
		return Outcome{}, &model.RunnerError{TaskID: repo.TaskID, Err: err}
	}

	if timedOutExit(exitCode, time.Since(started), timeout) {
		logging.Log(fmt.Sprintf("Test run for task %s timed out after %s", repo.TaskID, timeout), slog.LevelInfo)
		return Outcome{TimedOut: true, Stdout: stdout, Stderr: stderr}, nil
	}

	if sentinel {
		seen := strings.Contains(stdout, secret)
		stdout = stripSecret(stdout, secret)
		if exitCode == 0 && !seen {
			// The script exited 0 without reaching its own exit path, which
			// means something short-circuited it. Count that as a failure.
			return Outcome{ExitCode: 1, Stdout: stdout, Stderr: stderr}, nil
		}
	}

	return Outcome{ExitCode: exitCode, Stdout: stdout, Stderr: stderr}, nil
}

// timedOutExit reports whether an exit code came from the in-container
// timeout. 124 is `timeout` expiring on its own; 137 (128+SIGKILL) is its
// `-k` escalation, but SIGKILL is also how the kernel OOM killer ends a
// process under the container memory limit, so 137 only counts as a timeout
// once the full budget has actually elapsed.
func timedOutExit(exitCode int, elapsed, timeout time.Duration) bool {
	if timeout <= 0 {
		return false
	}
	if exitCode == 124 {
		return true
	}
	return exitCode == 137 && elapsed >= timeout
}

func stripSecret(output, secret string) string {
	lines := strings.Split(output, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.TrimSpace(line) == secret {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}
