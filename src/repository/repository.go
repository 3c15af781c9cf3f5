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

package repository

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"resqenv/src/logging"
	"resqenv/src/model"
)

// Repository is a materialized checkout of one task's codebase inside the
// task's subtree of the environment temp root.
type Repository struct {
	TaskID  string
	RepoURL string
	TaskDir string
	Path    string
}

// Materialize ensures taskDir contains the task's repository checked out at
// its base commit. An existing clone is reused and forced back to a clean
// state, so reuse across runs is idempotent.
func Materialize(ctx context.Context, task model.TaskRecord, taskDir string) (*Repository, error) {
	if err := os.MkdirAll(taskDir, 0o755); err != nil {
		return nil, &model.MaterializationError{TaskID: task.ID, Err: err}
	}

	repo := &Repository{
		TaskID:  task.ID,
		RepoURL: task.RepoURL,
		TaskDir: taskDir,
		Path:    filepath.Join(taskDir, repoName(task.RepoURL)),
	}

	if _, err := os.Stat(filepath.Join(repo.Path, ".git")); err != nil {
		if _, stderr, err := runGit(ctx, "", "clone", task.RepoURL, repo.Path); err != nil {
			return nil, &model.MaterializationError{TaskID: task.ID, Output: stderr, Err: err}
		}
	}

	// Force the checkout back to the base commit and drop anything a prior
	// evaluation left behind. This is what makes persisted workdirs safe to
	// reuse: the tree is byte-identical before every patch application.
	if _, stderr, err := runGit(ctx, repo.Path, "reset", "--hard", task.BaseCommit); err != nil {
		return nil, &model.MaterializationError{TaskID: task.ID, Output: stderr, Err: err}
	}
	if _, stderr, err := runGit(ctx, repo.Path, "clean", "-fdx"); err != nil {
		return nil, &model.MaterializationError{TaskID: task.ID, Output: stderr, Err: err}
	}

	return repo, nil
}

// Remove deletes the task's materialized subtree. Used when persistence is
// disabled.
func (r *Repository) Remove() error {
	return os.RemoveAll(r.TaskDir)
}

// ApplyPatch applies a unified diff to the checkout. The patch is validated
// with `git apply --check` first so a non-applying patch never leaves a
// partial mutation behind.
func (r *Repository) ApplyPatch(ctx context.Context, patch string) error {
	if strings.TrimSpace(patch) == "" {
		return &model.ApplyError{TaskID: r.TaskID, Output: "empty patch", Err: fmt.Errorf("empty patch")}
	}

	formatted := FilterBinaryHunks(patch)
	if !strings.HasSuffix(formatted, "\n") {
		formatted += "\n"
	}

	patchPath := filepath.Join(r.TaskDir, "submission.patch")
	if err := os.WriteFile(patchPath, []byte(formatted), 0o644); err != nil {
		return &model.ApplyError{TaskID: r.TaskID, Output: err.Error(), Err: err}
	}
	defer os.Remove(patchPath)

	if _, stderr, err := runGit(ctx, r.Path, "apply", "--check", "--whitespace=fix", "-v", patchPath); err != nil {
		return &model.ApplyError{TaskID: r.TaskID, Output: stderr, Err: err}
	}
	if _, stderr, err := runGit(ctx, r.Path, "apply", "--whitespace=fix", "-v", patchPath); err != nil {
		return &model.ApplyError{TaskID: r.TaskID, Output: stderr, Err: err}
	}

	logging.Log(fmt.Sprintf("Applied patch to task %s (%d files)", r.TaskID, len(ModifiedFiles(formatted))), slog.LevelDebug)
	return nil
}

func repoName(repoURL string) string {
	name := strings.TrimSuffix(repoURL, "/")
	name = name[strings.LastIndex(name, "/")+1:]
	return strings.TrimSuffix(name, ".git")
}

func runGit(ctx context.Context, dir string, args ...string) (string, string, error) {
	full := args
	if dir != "" {
		full = append([]string{"-C", dir}, args...)
	}
	cmd := exec.CommandContext(ctx, "git", full...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		logging.Log(fmt.Sprintf("git %s failed: %v: %s", strings.Join(args, " "), err, stderr.String()), slog.LevelDebug)
		return stdout.String(), stderr.String(), fmt.Errorf("git %s: %w", args[0], err)
	}
	return stdout.String(), stderr.String(), nil
}
