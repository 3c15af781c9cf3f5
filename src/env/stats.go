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
	"sync"
	"time"

	"resqenv/src/logging"
	"resqenv/src/model"
)

// StatsSnapshot is the JSON shape served by the status endpoint.
type StatsSnapshot struct {
	RunID                string    `json:"run_id"`
	StartTime            time.Time `json:"start_time"`
	Uptime               string    `json:"uptime"`
	SubmissionsProcessed uint64    `json:"submissions_processed"`
	SubmissionsPassed    uint64    `json:"submissions_passed"`
	SubmissionsFailed    uint64    `json:"submissions_failed"`
	InFlight             uint64    `json:"in_flight"`
}

// RunStats tracks the live state of an evaluation run.
type RunStats struct {
	mu       sync.RWMutex
	snapshot StatsSnapshot
}

func NewRunStats(runID string) *RunStats {
	return &RunStats{snapshot: StatsSnapshot{
		RunID:     runID,
		StartTime: time.Now(),
	}}
}

func (s *RunStats) Started() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.InFlight++
}

func (s *RunStats) Record(result model.SubmissionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.SubmissionsProcessed++
	if s.snapshot.InFlight > 0 {
		s.snapshot.InFlight--
	}
	if result.Success {
		s.snapshot.SubmissionsPassed++
	} else {
		s.snapshot.SubmissionsFailed++
	}

	logging.UpdateSpanValue("env_submissions_total", float64(s.snapshot.SubmissionsProcessed))
	logging.UpdateSpanValue("env_submissions_passed", float64(s.snapshot.SubmissionsPassed))
	logging.UpdateSpanValue("env_submissions_failed", float64(s.snapshot.SubmissionsFailed))
}

// Snapshot returns the current statistics with uptime filled in.
func (s *RunStats) Snapshot() StatsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.snapshot
	snap.Uptime = time.Since(s.snapshot.StartTime).Truncate(time.Second).String()
	return snap
}
