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

import "fmt"

// MaterializationError means the task's codebase could not be fetched or
// checked out at the base commit.
type MaterializationError struct {
	TaskID string
	Output string
	Err    error
}

func (e *MaterializationError) Error() string {
	return fmt.Sprintf("materialize task %s: %v", e.TaskID, e.Err)
}

func (e *MaterializationError) Unwrap() error { return e.Err }

// ApplyError means the submitted patch does not apply cleanly to the
// materialized workdir. Output carries git's hunk-level diagnostics.
type ApplyError struct {
	TaskID string
	Output string
	Err    error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply patch for task %s: %v", e.TaskID, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// ProvisioningError means the runtime environment for a dependency spec
// could not be built. Key is the deterministic environment key.
type ProvisioningError struct {
	Key    string
	Output string
	Err    error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provision runtime %s: %v", e.Key, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// RunnerError means the test process could not be launched or its output
// could not be collected. A failing test suite is not a RunnerError.
type RunnerError struct {
	TaskID string
	Err    error
}

func (e *RunnerError) Error() string {
	return fmt.Sprintf("run tests for task %s: %v", e.TaskID, e.Err)
}

func (e *RunnerError) Unwrap() error { return e.Err }
