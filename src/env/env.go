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

package env

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/client"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"resqenv/src/dataset"
	"resqenv/src/logging"
	"resqenv/src/model"
	"resqenv/src/provisioner"
	"resqenv/src/repository"
	"resqenv/src/runner"
)

// Workspace materializes a task's codebase and applies submission patches
// to it.
type Workspace interface {
	Materialize(ctx context.Context, task model.TaskRecord, taskDir string) (*repository.Repository, error)
	Apply(ctx context.Context, repo *repository.Repository, patch string) error
}

// RuntimeProvider builds or reuses the runtime environment for a task's
// dependency spec.
type RuntimeProvider interface {
	Provision(ctx context.Context, task model.TaskRecord) (*provisioner.Runtime, error)
}

// TestRunner executes a test script against a patched workdir.
type TestRunner interface {
	Run(ctx context.Context, repo *repository.Repository, rt *provisioner.Runtime, testScript string, timeout time.Duration) (runner.Outcome, error)
}

// Options configures a submission environment.
type Options struct {
	TempDir string
	Timeout time.Duration
	Persist bool
}

// Env evaluates submissions against benchmark tasks. Environment state
// (workdirs, runtimes) lives under TempDir; per-task locks serialize
// concurrent submissions that share a task id.
type Env struct {
	ds       *dataset.Dataset
	tempRoot string
	timeout  time.Duration
	persist  bool

	workspace Workspace
	provider  RuntimeProvider
	tester    TestRunner

	prov  *provisioner.Provisioner
	locks *KeyedMutex
	stats *RunStats

	processedCounter metric.Float64Counter
	failedCounter    metric.Float64Counter
}

// New constructs a submission environment backed by docker runtimes and git
// workdirs under opts.TempDir.
func New(ctx context.Context, ds *dataset.Dataset, cli *client.Client, opts Options) (*Env, error) {
	tempRoot, err := filepath.Abs(filepath.Join(opts.TempDir, "workspace"))
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(tempRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}

	prov := provisioner.New(cli, tempRoot, opts.Persist)
	if err := prov.EnsureNetwork(ctx); err != nil {
		return nil, err
	}

	e := &Env{
		ds:        ds,
		tempRoot:  tempRoot,
		timeout:   opts.Timeout,
		persist:   opts.Persist,
		workspace: gitWorkspace{},
		provider:  prov,
		tester:    runner.New(cli),
		prov:      prov,
		locks:     NewKeyedMutex(),
		stats:     NewRunStats(uuid.New().String()),
	}
	e.processedCounter, _ = logging.InitializeFloatCounter("env_submissions_total",
		"Total number of submissions evaluated", "Submission")
	e.failedCounter, _ = logging.InitializeFloatCounter("env_submissions_failed",
		"Number of submissions that did not pass", "Submission")
	return e, nil
}

// Stats exposes the live run statistics.
func (e *Env) Stats() *RunStats { return e.stats }

// Close tears down runtimes built by this process when persistence is
// disabled. Persisted environments stay behind for future runs.
func (e *Env) Close(ctx context.Context) {
	if e.prov != nil {
		e.prov.Teardown(ctx)
	}
}

// Step evaluates one submission synchronously. The returned error is
// non-nil only for a submission referencing an unknown task id; every
// pipeline failure is folded into the result instead.
func (e *Env) Step(ctx context.Context, sub model.Submission) (model.SubmissionResult, error) {
	task, ok := e.ds.Get(sub.ID)
	if !ok {
		return model.SubmissionResult{}, fmt.Errorf("submission references unknown task id %q", sub.ID)
	}
	return e.evaluate(ctx, task, sub), nil
}

// StepBatch evaluates submissions concurrently on a bounded worker pool.
// Exactly one result is produced per input, re-associable by id; the order
// of the returned slice follows completion, not input. Unknown task ids
// fail the whole call before any evaluation starts. The optional progress
// callback fires once per completed submission.
func (e *Env) StepBatch(ctx context.Context, subs []model.Submission, nWorkers int, progress func(model.SubmissionResult)) ([]model.SubmissionResult, error) {
	var unknown []string
	for _, sub := range subs {
		if _, ok := e.ds.Get(sub.ID); !ok {
			unknown = append(unknown, sub.ID)
		}
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("batch references unknown task ids: %s", strings.Join(unknown, ", "))
	}

	if nWorkers < 1 {
		nWorkers = 1
	}

	jobs := make(chan model.Submission)
	out := make(chan model.SubmissionResult)

	var wg sync.WaitGroup
	for i := 0; i < nWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sub := range jobs {
				task, _ := e.ds.Get(sub.ID)
				out <- e.evaluate(ctx, task, sub)
			}
		}()
	}

	go func() {
		for _, sub := range subs {
			jobs <- sub
		}
		close(jobs)
	}()
	go func() {
		wg.Wait()
		close(out)
	}()

	results := make([]model.SubmissionResult, 0, len(subs))
	for result := range out {
		if progress != nil {
			progress(result)
		}
		results = append(results, result)
	}
	return results, nil
}

// evaluate runs the five pipeline stages in strict sequence under the
// task's lock. Any stage failure short-circuits into a failed result.
func (e *Env) evaluate(ctx context.Context, task model.TaskRecord, sub model.Submission) model.SubmissionResult {
	unlock := e.locks.Lock(task.ID)
	defer unlock()

	e.stats.Started()
	taskDir := filepath.Join(e.tempRoot, task.ID)

	stage := model.StageMaterializing
	repo, err := e.workspace.Materialize(ctx, task, taskDir)
	if err != nil {
		return e.finish(ctx, sub.ID, stage, runner.Outcome{}, err)
	}
	if !e.persist {
		defer repo.Remove()
	}

	stage = model.StagePatching
	if err := e.workspace.Apply(ctx, repo, sub.Patch); err != nil {
		return e.finish(ctx, sub.ID, stage, runner.Outcome{}, err)
	}

	stage = model.StageProvisioning
	rt, err := e.provider.Provision(ctx, task)
	if err != nil {
		return e.finish(ctx, sub.ID, stage, runner.Outcome{}, err)
	}

	stage = model.StageTesting
	outcome, err := e.tester.Run(ctx, repo, rt, task.TestScript, e.timeout)
	if err != nil {
		return e.finish(ctx, sub.ID, stage, runner.Outcome{}, err)
	}

	return e.finish(ctx, sub.ID, model.StageDone, outcome, nil)
}

func (e *Env) finish(ctx context.Context, id string, stage model.Stage, outcome runner.Outcome, err error) model.SubmissionResult {
	result := Synthesize(id, outcome, err)
	e.stats.Record(result)

	if e.processedCounter != nil {
		e.processedCounter.Add(ctx, 1)
	}
	if !result.Success && e.failedCounter != nil {
		e.failedCounter.Add(ctx, 1)
	}

	if err != nil {
		logging.Log(fmt.Sprintf("Submission %s failed at stage %s: %v", id, stage, err), slog.LevelInfo)
	} else {
		logging.Log(fmt.Sprintf("Submission %s finished: %s", id, result.Message), slog.LevelInfo)
	}
	return result
}

// gitWorkspace is the production Workspace backed by the repository package.
type gitWorkspace struct{}

func (gitWorkspace) Materialize(ctx context.Context, task model.TaskRecord, taskDir string) (*repository.Repository, error) {
	return repository.Materialize(ctx, task, taskDir)
}

func (gitWorkspace) Apply(ctx context.Context, repo *repository.Repository, patch string) error {
	return repo.ApplyPatch(ctx, patch)
}
