package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ifgsweep/internal/sweep"
)

// Run is a recorded sweep summary.
type Run struct {
	ID          string       `json:"run_id"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  time.Time    `json:"finished_at"`
	IFGVersion  string       `json:"ifg_version"`
	Threshold   int          `json:"count_to_blacklist"`
	DryRun      bool         `json:"dry_run"`
	Status      string       `json:"status"`
	FailureKind string       `json:"failure_kind"`
	Error       string       `json:"error,omitempty"`
	Counts      sweep.Counts `json:"counts"`
}

// RecordRun inserts or replaces the run row for summary.ID.
func (s *Store) RecordRun(ctx context.Context, summary sweep.Summary) error {
	var finished any
	if !summary.FinishedAt.IsZero() {
		finished = summary.FinishedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO runs (
            run_id, started_at, finished_at, ifg_version, threshold, dry_run, status, failure_kind, error_message,
            configs, produced, blacklisted, missing, failed_jobs, candidates, skipped, collisions
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		summary.ID,
		summary.StartedAt.UTC().Format(time.RFC3339Nano),
		finished,
		summary.IFGVersion,
		summary.Threshold,
		boolToInt(summary.DryRun),
		summary.Status,
		summary.FailureKind,
		nullableString(summary.Error),
		summary.Counts.Configs,
		summary.Counts.Produced,
		summary.Counts.Blacklisted,
		summary.Counts.Missing,
		summary.Counts.FailedJobs,
		summary.Counts.Candidates,
		summary.Counts.Skipped,
		summary.Counts.Collisions,
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", summary.ID, err)
	}
	return nil
}

// ListRuns returns runs newest first. A limit of zero or less returns all runs.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT run_id, started_at, finished_at, ifg_version, threshold, dry_run, status, failure_kind, error_message,
            configs, produced, blacklisted, missing, failed_jobs, candidates, skipped, collisions
        FROM runs ORDER BY started_at DESC, run_id`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r         Run
			started   string
			finished  sql.NullString
			errorText sql.NullString
			dryRun    int
		)
		if err := rows.Scan(&r.ID, &started, &finished, &r.IFGVersion, &r.Threshold, &dryRun, &r.Status, &r.FailureKind, &errorText,
			&r.Counts.Configs, &r.Counts.Produced, &r.Counts.Blacklisted, &r.Counts.Missing,
			&r.Counts.FailedJobs, &r.Counts.Candidates, &r.Counts.Skipped, &r.Counts.Collisions); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = parseTime(started)
		r.FinishedAt = parseTime(finished.String)
		r.Error = errorText.String
		r.DryRun = dryRun != 0
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
