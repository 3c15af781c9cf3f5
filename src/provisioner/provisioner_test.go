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

package provisioner

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resqenv/src/model"
)

func task(env, requirements string) model.TaskRecord {
	return model.TaskRecord{
		ID:                 "0_0",
		RepoURL:            "https://example.com/owner/repo",
		BaseCommit:         "abc123",
		TestScript:         "import sys\nsys.exit(0)\n",
		TestbedEnvironment: env,
		RequirementsTxt:    requirements,
	}
}

func TestEnvKeyDeterministic(t *testing.T) {
	a := EnvKey(task("python 3.9", "pytest\n"))
	b := EnvKey(task("python 3.9", "pytest\n"))
	assert.Equal(t, a, b)
	assert.Len(t, a, 12)
}

func TestEnvKeyDistinctSpecsNeverCollide(t *testing.T) {
	base := EnvKey(task("python 3.9", "pytest\n"))
	assert.NotEqual(t, base, EnvKey(task("python 3.10", "pytest\n")))
	assert.NotEqual(t, base, EnvKey(task("python 3.9", "pytest\nnumpy\n")))

	// The separator keeps (env, requirements) pairs unambiguous.
	assert.NotEqual(t, EnvKey(task("python 3.9x", "y")), EnvKey(task("python 3.9", "xy")))
}

func TestEnvName(t *testing.T) {
	name := EnvName("deadbeef0123")
	assert.Equal(t, "resq_env_deadbeef0123", name)
}

func TestBaseImage(t *testing.T) {
	assert.Equal(t, "python:3.9-slim", BaseImage("python 3.9"))
	assert.Equal(t, "python:3.11-slim", BaseImage("python3.11"))
	assert.Equal(t, "python:3.9-slim", BaseImage(""))

	t.Setenv("RESQ_BASE_IMAGE", "registry.local/python:custom")
	assert.Equal(t, "registry.local/python:custom", BaseImage("python 3.9"))
}

func TestRuntimeContainerPath(t *testing.T) {
	root := t.TempDir()
	rt := &Runtime{Key: "k", tempRoot: root}

	inner, err := rt.ContainerPath(filepath.Join(root, "0_0", "repo"))
	require.NoError(t, err)
	assert.Equal(t, "/workspace/0_0/repo", inner)

	_, err = rt.ContainerPath("/somewhere/else")
	assert.Error(t, err)
}

func TestEnvStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewEnvStore(dir, "envs")

	got, err := store.Get("missing")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, store.Add("key1", "resq_env_aaa"))
	require.NoError(t, store.Add("key2", "resq_env_bbb"))

	got, err = store.Get("key1")
	require.NoError(t, err)
	assert.Equal(t, "resq_env_aaa", got)

	removed, err := store.Remove("key1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = store.Remove("key1")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestEnvStorePersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, NewEnvStore(dir, "envs").Add("key", "resq_env_ccc"))

	reopened := NewEnvStore(dir, "envs")
	got, err := reopened.Get("key")
	require.NoError(t, err)
	assert.Equal(t, "resq_env_ccc", got)

	entries, err := reopened.Entries()
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
