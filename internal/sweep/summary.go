package sweep

import (
	"time"

	"ifgsweep/internal/reconcile"
)

// Run status values recorded in run history.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// RunInfo identifies a sweep run.
type RunInfo struct {
	ID         string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	IFGVersion string    `json:"ifg_version"`
	Threshold  int       `json:"count_to_blacklist"`
	DryRun     bool      `json:"dry_run"`
}

// Counts tallies records at each pipeline stage.
type Counts struct {
	Configs     int `json:"configs"`
	Produced    int `json:"produced"`
	Blacklisted int `json:"blacklisted"`
	Missing     int `json:"missing"`
	FailedJobs  int `json:"failed_jobs"`
	Candidates  int `json:"candidates"`
	Skipped     int `json:"skipped"`
	Collisions  int `json:"collisions"`
}

// Summary is the outcome of one run.
type Summary struct {
	RunInfo
	FinishedAt time.Time `json:"finished_at"`
	Counts     Counts    `json:"counts"`
	Status     string    `json:"status"`
	// FailureKind is services.FailureKind of the run error, "ok" on success.
	FailureKind string `json:"failure_kind"`
	Error       string `json:"error,omitempty"`
	// Candidates are the configs handed to the emitter.
	Candidates []reconcile.Entry `json:"-"`
}

// CandidateKeys returns the candidate keys in emission order.
func (s Summary) CandidateKeys() []string {
	keys := make([]string, 0, len(s.Candidates))
	for _, entry := range s.Candidates {
		keys = append(keys, entry.Key.String())
	}
	return keys
}

// Duration returns the wall time of the run.
func (s Summary) Duration() time.Duration {
	if s.FinishedAt.IsZero() || s.StartedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
