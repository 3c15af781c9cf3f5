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
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resqenv/src/model"
)

const goodPatch = `diff --git a/a.py b/a.py
--- a/a.py
+++ b/a.py
@@ -1,2 +1,2 @@
 def f():
-    return 1
+    return 2
`

const badContextPatch = `diff --git a/a.py b/a.py
--- a/a.py
+++ b/a.py
@@ -1,2 +1,2 @@
 def f():
-    return 99
+    return 2
`

const missingFilePatch = `diff --git a/nope.py b/nope.py
--- a/nope.py
+++ b/nope.py
@@ -1,1 +1,1 @@
-gone
+here
`

// initOriginRepo builds a local git repository with one committed file so
// materialization can clone it without any network access.
func initOriginRepo(t *testing.T) (string, string) {
	t.Helper()
	ctx := context.Background()

	origin := filepath.Join(t.TempDir(), "repo")
	_, stderr, err := runGit(ctx, "", "init", origin)
	require.NoError(t, err, stderr)

	require.NoError(t, os.WriteFile(filepath.Join(origin, "a.py"), []byte("def f():\n    return 1\n"), 0o644))
	_, stderr, err = runGit(ctx, origin, "add", ".")
	require.NoError(t, err, stderr)
	_, stderr, err = runGit(ctx, origin,
		"-c", "user.email=ci@example.com",
		"-c", "user.name=ci",
		"-c", "commit.gpgsign=false",
		"commit", "-m", "base")
	require.NoError(t, err, stderr)

	head, stderr, err := runGit(ctx, origin, "rev-parse", "HEAD")
	require.NoError(t, err, stderr)
	return origin, strings.TrimSpace(head)
}

func originTask(origin, commit string) model.TaskRecord {
	return model.TaskRecord{
		ID:                 "0_0",
		RepoURL:            origin,
		BaseCommit:         commit,
		TestScript:         "import sys\nsys.exit(0)\n",
		TestbedEnvironment: "python 3.9",
	}
}

func TestMaterializeIdempotentReuse(t *testing.T) {
	ctx := context.Background()
	origin, commit := initOriginRepo(t)
	taskDir := filepath.Join(t.TempDir(), "0_0")

	repo, err := Materialize(ctx, originTask(origin, commit), taskDir)
	require.NoError(t, err)
	first, err := HashTree(repo.Path)
	require.NoError(t, err)

	// Dirty the checkout the way a prior evaluation would: reuse must come
	// back byte-identical.
	require.NoError(t, os.WriteFile(filepath.Join(repo.Path, "a.py"), []byte("junk\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(repo.Path, "leftover.txt"), []byte("stray\n"), 0o644))

	repo, err = Materialize(ctx, originTask(origin, commit), taskDir)
	require.NoError(t, err)
	second, err := HashTree(repo.Path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.NoFileExists(t, filepath.Join(repo.Path, "leftover.txt"))
}

func TestMaterializeUnreachableRepo(t *testing.T) {
	ctx := context.Background()
	task := originTask(filepath.Join(t.TempDir(), "does-not-exist"), "abc123")

	_, err := Materialize(ctx, task, filepath.Join(t.TempDir(), "0_0"))
	var matErr *model.MaterializationError
	require.True(t, errors.As(err, &matErr))
	assert.Equal(t, "0_0", matErr.TaskID)
}

func TestApplyPatchRejectsWithoutPartialMutation(t *testing.T) {
	ctx := context.Background()
	origin, commit := initOriginRepo(t)

	repo, err := Materialize(ctx, originTask(origin, commit), filepath.Join(t.TempDir(), "0_0"))
	require.NoError(t, err)
	baseline, err := HashTree(repo.Path)
	require.NoError(t, err)

	tests := []struct {
		name  string
		patch string
	}{
		{"context mismatch", badContextPatch},
		{"missing file", missingFilePatch},
		{"empty patch", ""},
		{"garbage diff", "this is not a diff\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := repo.ApplyPatch(ctx, tc.patch)
			var applyErr *model.ApplyError
			require.True(t, errors.As(err, &applyErr))
			assert.Equal(t, "0_0", applyErr.TaskID)

			after, err := HashTree(repo.Path)
			require.NoError(t, err)
			assert.Equal(t, baseline, after, "rejected patch must leave the workdir untouched")
		})
	}
}

func TestApplyPatchEmptyPatchDiagnostic(t *testing.T) {
	ctx := context.Background()
	origin, commit := initOriginRepo(t)

	repo, err := Materialize(ctx, originTask(origin, commit), filepath.Join(t.TempDir(), "0_0"))
	require.NoError(t, err)

	err = repo.ApplyPatch(ctx, "   \n")
	var applyErr *model.ApplyError
	require.True(t, errors.As(err, &applyErr))
	assert.Equal(t, "empty patch", applyErr.Output)
}

func TestApplyPatchAppliesCleanDiff(t *testing.T) {
	ctx := context.Background()
	origin, commit := initOriginRepo(t)
	taskDir := filepath.Join(t.TempDir(), "0_0")

	repo, err := Materialize(ctx, originTask(origin, commit), taskDir)
	require.NoError(t, err)
	baseline, err := HashTree(repo.Path)
	require.NoError(t, err)

	require.NoError(t, repo.ApplyPatch(ctx, goodPatch))
	content, err := os.ReadFile(filepath.Join(repo.Path, "a.py"))
	require.NoError(t, err)
	assert.Equal(t, "def f():\n    return 2\n", string(content))

	// The patch file itself must not linger in the task dir.
	assert.NoFileExists(t, filepath.Join(repo.TaskDir, "submission.patch"))

	// Re-materializing restores the pristine tree for the next submission.
	repo, err = Materialize(ctx, originTask(origin, commit), taskDir)
	require.NoError(t, err)
	restored, err := HashTree(repo.Path)
	require.NoError(t, err)
	assert.Equal(t, baseline, restored)
}
