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

// Stage tracks where a submission is in its evaluation pipeline.
type Stage string

const (
	StagePending       Stage = "pending"
	StageMaterializing Stage = "materializing"
	StagePatching      Stage = "patching"
	StageProvisioning  Stage = "provisioning"
	StageTesting       Stage = "testing"
	StageDone          Stage = "done"
	StageFailed        Stage = "failed"
)

// Terminal verdict messages. The synthesizer maps every reachable pipeline
// outcome onto exactly one of these.
const (
	MessagePass             = "PASS"
	MessageFail             = "FAIL"
	MessageTimeout          = "TIMEOUT"
	MessageApplyError       = "APPLY_ERROR"
	MessageProvisionError   = "PROVISION_ERROR"
	MessageMaterializeError = "MATERIALIZE_ERROR"
	MessageRunnerError      = "RUNNER_ERROR"
)

// TaskRecord is one entry of the benchmark dataset. Records are created at
// dataset load and read-only afterwards.
type TaskRecord struct {
	ID                 string            `json:"id"`
	RepoURL            string            `json:"repo_url"`
	Instruction        string            `json:"instruction"`
	BaseCommit         string            `json:"base_commit"`
	TestScript         string            `json:"test_script"`
	TestbedEnvironment string            `json:"testbed_environment"`
	RequirementsTxt    string            `json:"requirements_txt"`
	SolutionCommit     string            `json:"solution_commit"`
	SolutionPatch      string            `json:"solution_patch"`
	ModifiedFiles      map[string]string `json:"modified_files"`
	Language           string            `json:"language"`
}

// Validate checks the fields the evaluation pipeline cannot run without.
func (t TaskRecord) Validate() error {
	switch {
	case t.ID == "":
		return fmt.Errorf("task record missing id")
	case t.RepoURL == "":
		return fmt.Errorf("task %s: missing repo_url", t.ID)
	case t.BaseCommit == "":
		return fmt.Errorf("task %s: missing base_commit", t.ID)
	case t.TestScript == "":
		return fmt.Errorf("task %s: missing test_script", t.ID)
	case t.TestbedEnvironment == "":
		return fmt.Errorf("task %s: missing testbed_environment", t.ID)
	}
	return nil
}

// Submission is a candidate patch for one task. The id must match a known
// TaskRecord.
type Submission struct {
	ID    string `json:"id"`
	Patch string `json:"patch"`
}

// NewSubmission validates required fields at construction.
func NewSubmission(id, patch string) (Submission, error) {
	if id == "" {
		return Submission{}, fmt.Errorf("submission missing id")
	}
	return Submission{ID: id, Patch: patch}, nil
}

// SubmissionResult is the immutable verdict for one submission. ID echoes
// the submission's id so batch output is re-associable to its input.
type SubmissionResult struct {
	ID                string `json:"id"`
	Success           bool   `json:"success"`
	Message           string `json:"message"`
	TestSuiteFeedback string `json:"test_suite_feedback"`
}
