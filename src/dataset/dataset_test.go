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

package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resqenv/src/model"
)

func record(id string) model.TaskRecord {
	return model.TaskRecord{
		ID:                 id,
		RepoURL:            "https://example.com/owner/repo",
		BaseCommit:         "abc123",
		TestScript:         "import sys\nsys.exit(0)\n",
		TestbedEnvironment: "python 3.9",
	}
}

func TestNewIndexesByID(t *testing.T) {
	ds, err := New([]model.TaskRecord{record("0_0"), record("0_1")})
	require.NoError(t, err)
	assert.Equal(t, 2, ds.Len())

	rec, ok := ds.Get("0_1")
	require.True(t, ok)
	assert.Equal(t, "0_1", rec.ID)

	_, ok = ds.Get("missing")
	assert.False(t, ok)
}

func TestNewRejectsDuplicatesAndInvalid(t *testing.T) {
	_, err := New([]model.TaskRecord{record("0_0"), record("0_0")})
	assert.ErrorContains(t, err, "duplicate task id")

	bad := record("0_2")
	bad.BaseCommit = ""
	_, err = New([]model.TaskRecord{bad})
	assert.Error(t, err)
}

func TestFromJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dataset.json")
	payload := `[
		{
			"id": "0_0",
			"repo_url": "https://example.com/owner/repo",
			"instruction": "rename the thing",
			"base_commit": "abc123",
			"test_script": "import sys\nsys.exit(0)\n",
			"testbed_environment": "python 3.9",
			"requirements_txt": "pytest\n",
			"solution_commit": "def456",
			"solution_patch": "diff --git a/x b/x\n",
			"modified_files": {"x": "content"},
			"language": "python"
		}
	]`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o644))

	ds, err := FromJSON(path)
	require.NoError(t, err)
	require.Equal(t, 1, ds.Len())

	rec, ok := ds.Get("0_0")
	require.True(t, ok)
	assert.Equal(t, "pytest\n", rec.RequirementsTxt)
	assert.Equal(t, "rename the thing", rec.Instruction)
}

func TestFromJSONErrors(t *testing.T) {
	_, err := FromJSON(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err = FromJSON(path)
	assert.Error(t, err)
}
