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

package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRecord() TaskRecord {
	return TaskRecord{
		ID:                 "0_0",
		RepoURL:            "https://example.com/owner/repo",
		BaseCommit:         "abc123",
		TestScript:         "import sys\nsys.exit(0)\n",
		TestbedEnvironment: "python 3.9",
	}
}

func TestTaskRecordValidate(t *testing.T) {
	require.NoError(t, validRecord().Validate())

	tests := []struct {
		name   string
		mutate func(*TaskRecord)
	}{
		{"missing id", func(r *TaskRecord) { r.ID = "" }},
		{"missing repo url", func(r *TaskRecord) { r.RepoURL = "" }},
		{"missing base commit", func(r *TaskRecord) { r.BaseCommit = "" }},
		{"missing test script", func(r *TaskRecord) { r.TestScript = "" }},
		{"missing testbed environment", func(r *TaskRecord) { r.TestbedEnvironment = "" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := validRecord()
			tc.mutate(&rec)
			assert.Error(t, rec.Validate())
		})
	}
}

func TestNewSubmission(t *testing.T) {
	sub, err := NewSubmission("0_0", "diff --git a/x b/x\n")
	require.NoError(t, err)
	assert.Equal(t, "0_0", sub.ID)

	_, err = NewSubmission("", "patch")
	assert.Error(t, err)
}

func TestStageErrorsUnwrap(t *testing.T) {
	cause := fmt.Errorf("boom")

	var applyErr *ApplyError
	wrapped := fmt.Errorf("pipeline: %w", &ApplyError{TaskID: "0_0", Err: cause})
	require.True(t, errors.As(wrapped, &applyErr))
	assert.Equal(t, "0_0", applyErr.TaskID)
	assert.ErrorIs(t, applyErr, cause)

	var provErr *ProvisioningError
	wrapped = fmt.Errorf("pipeline: %w", &ProvisioningError{Key: "deadbeef", Err: cause})
	require.True(t, errors.As(wrapped, &provErr))
	assert.Equal(t, "deadbeef", provErr.Key)
}
