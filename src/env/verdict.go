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
	"errors"
	"unicode/utf8"

	"resqenv/src/model"
	"resqenv/src/runner"
)

// feedbackLimit caps how much raw test output a result carries.
const feedbackLimit = 20000

// Synthesize maps the terminal condition of one evaluation onto a
// SubmissionResult. Every reachable outcome of every pipeline stage lands on
// exactly one message; no error escapes as an error.
func Synthesize(id string, outcome runner.Outcome, err error) model.SubmissionResult {
	if err != nil {
		return synthesizeError(id, err)
	}

	if outcome.TimedOut {
		// Partial output captured before the kill is often the only clue to
		// where the suite hung.
		return model.SubmissionResult{
			ID:                id,
			Success:           false,
			Message:           model.MessageTimeout,
			TestSuiteFeedback: truncate(outcome.Stdout + outcome.Stderr),
		}
	}
	if outcome.ExitCode == 0 {
		return model.SubmissionResult{ID: id, Success: true, Message: model.MessagePass}
	}
	return model.SubmissionResult{
		ID:                id,
		Success:           false,
		Message:           model.MessageFail,
		TestSuiteFeedback: truncate(outcome.Stdout + outcome.Stderr),
	}
}

func synthesizeError(id string, err error) model.SubmissionResult {
	result := model.SubmissionResult{ID: id, Success: false}

	var applyErr *model.ApplyError
	var matErr *model.MaterializationError
	var provErr *model.ProvisioningError
	var runErr *model.RunnerError

	switch {
	case errors.As(err, &applyErr):
		result.Message = model.MessageApplyError
		result.TestSuiteFeedback = truncate(applyErr.Output)
	case errors.As(err, &matErr):
		result.Message = model.MessageMaterializeError
		result.TestSuiteFeedback = truncate(matErr.Output)
	case errors.As(err, &provErr):
		result.Message = model.MessageProvisionError
		result.TestSuiteFeedback = truncate(provErr.Output)
	case errors.As(err, &runErr):
		result.Message = model.MessageRunnerError
		result.TestSuiteFeedback = truncate(runErr.Error())
	default:
		result.Message = model.MessageRunnerError
		result.TestSuiteFeedback = truncate(err.Error())
	}
	return result
}

func truncate(s string) string {
	if len(s) <= feedbackLimit {
		return s
	}
	// Back off to a rune boundary so the cut never produces invalid UTF-8
	// in the serialized result.
	cut := feedbackLimit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n... [output truncated]"
}
