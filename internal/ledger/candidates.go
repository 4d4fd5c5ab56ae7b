package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ifgsweep/internal/reconcile"
	"ifgsweep/internal/sweep"
)

// Candidate is a configuration recorded as a blacklist candidate.
type Candidate struct {
	Key          string    `json:"key"`
	IFGVersion   string    `json:"ifg_version"`
	RecordIndex  string    `json:"record_index,omitempty"`
	RecordID     string    `json:"record_id,omitempty"`
	MasterScenes []string  `json:"master_scenes"`
	SlaveScenes  []string  `json:"slave_scenes"`
	FirstRunID   string    `json:"first_run_id"`
	FirstSeenAt  time.Time `json:"first_seen_at"`
	LastRunID    string    `json:"last_run_id"`
	LastSeenAt   time.Time `json:"last_seen_at"`
	TimesSeen    int       `json:"times_seen"`
}

// Emit upserts every candidate by key. Re-emitting the same run leaves
// times_seen unchanged; a new run bumps it and refreshes last_seen.
func (s *Store) Emit(ctx context.Context, run sweep.RunInfo, candidates []reconcile.Entry) error {
	if len(candidates) == 0 {
		return nil
	}
	seenAt := run.StartedAt.UTC()
	if seenAt.IsZero() {
		seenAt = time.Now().UTC()
	}
	timestamp := seenAt.Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin emit tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO candidates (
            scene_key, ifg_version, record_index, record_id, master_scenes, slave_scenes,
            first_run_id, first_seen_at, last_run_id, last_seen_at, times_seen
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
        ON CONFLICT(scene_key) DO UPDATE SET
            ifg_version = excluded.ifg_version,
            record_index = excluded.record_index,
            record_id = excluded.record_id,
            times_seen = candidates.times_seen + CASE WHEN candidates.last_run_id = excluded.last_run_id THEN 0 ELSE 1 END,
            last_run_id = excluded.last_run_id,
            last_seen_at = excluded.last_seen_at`)
	if err != nil {
		return fmt.Errorf("prepare candidate upsert: %w", err)
	}
	defer stmt.Close()

	for _, entry := range candidates {
		canon := entry.Pair.Canonical()
		master, err := json.Marshal(canon.Primary)
		if err != nil {
			return fmt.Errorf("marshal master scenes: %w", err)
		}
		slave, err := json.Marshal(canon.Secondary)
		if err != nil {
			return fmt.Errorf("marshal slave scenes: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			entry.Key.String(),
			run.IFGVersion,
			nullableString(entry.Record.Index),
			nullableString(entry.Record.ID),
			string(master),
			string(slave),
			run.ID,
			timestamp,
			run.ID,
			timestamp,
		); err != nil {
			return fmt.Errorf("upsert candidate %s: %w", entry.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit emit: %w", err)
	}
	return nil
}

// ListCandidates returns candidates ordered by most recently seen.
// A limit of zero or less returns every candidate.
func (s *Store) ListCandidates(ctx context.Context, limit int) ([]Candidate, error) {
	query := `SELECT scene_key, ifg_version, record_index, record_id, master_scenes, slave_scenes,
            first_run_id, first_seen_at, last_run_id, last_seen_at, times_seen
        FROM candidates ORDER BY last_seen_at DESC, scene_key`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return out, nil
}

// GetCandidate returns the candidate stored under key.
func (s *Store) GetCandidate(ctx context.Context, key string) (Candidate, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT scene_key, ifg_version, record_index, record_id, master_scenes, slave_scenes,
            first_run_id, first_seen_at, last_run_id, last_seen_at, times_seen
        FROM candidates WHERE scene_key = ?`, key)
	c, err := scanCandidate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Candidate{}, false, nil
	}
	if err != nil {
		return Candidate{}, false, err
	}
	return c, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCandidate(row scanner) (Candidate, error) {
	var (
		c                   Candidate
		index, id           sql.NullString
		master, slave       string
		firstSeen, lastSeen string
	)
	if err := row.Scan(&c.Key, &c.IFGVersion, &index, &id, &master, &slave,
		&c.FirstRunID, &firstSeen, &c.LastRunID, &lastSeen, &c.TimesSeen); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Candidate{}, err
		}
		return Candidate{}, fmt.Errorf("scan candidate: %w", err)
	}
	c.RecordIndex = index.String
	c.RecordID = id.String
	if err := json.Unmarshal([]byte(master), &c.MasterScenes); err != nil {
		return Candidate{}, fmt.Errorf("decode master scenes for %s: %w", c.Key, err)
	}
	if err := json.Unmarshal([]byte(slave), &c.SlaveScenes); err != nil {
		return Candidate{}, fmt.Errorf("decode slave scenes for %s: %w", c.Key, err)
	}
	c.FirstSeenAt = parseTime(firstSeen)
	c.LastSeenAt = parseTime(lastSeen)
	return c, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
