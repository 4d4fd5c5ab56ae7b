package ledger

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"ifgsweep/internal/reconcile"
	"ifgsweep/internal/scenekey"
	"ifgsweep/internal/search"
	"ifgsweep/internal/sweep"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "nested", "ledger.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func entry(t *testing.T, id string, master, slave []string) reconcile.Entry {
	t.Helper()
	pair := scenekey.ScenePair{Primary: master, Secondary: slave}
	key, err := scenekey.Derive(pair)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	return reconcile.Entry{Key: key, Pair: pair, Record: search.Record{Index: "grq_v1_ifg-cfg", ID: id, Source: json.RawMessage(`{}`)}}
}

func TestEmitIsIdempotentByKey(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	first := sweep.RunInfo{ID: "run-1", StartedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), IFGVersion: "v1"}
	candidates := []reconcile.Entry{
		entry(t, "cfg-1", []string{"B", "A"}, []string{"C"}),
		entry(t, "cfg-2", []string{"D"}, []string{"E"}),
	}

	for i := 0; i < 3; i++ {
		if err := store.Emit(ctx, first, candidates); err != nil {
			t.Fatalf("Emit #%d: %v", i, err)
		}
	}
	list, err := store.ListCandidates(ctx, 0)
	if err != nil {
		t.Fatalf("ListCandidates: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(list))
	}
	for _, c := range list {
		if c.TimesSeen != 1 {
			t.Fatalf("re-emitting a run should not bump times_seen: %+v", c)
		}
	}

	second := sweep.RunInfo{ID: "run-2", StartedAt: first.StartedAt.Add(time.Hour), IFGVersion: "v1"}
	if err := store.Emit(ctx, second, candidates[:1]); err != nil {
		t.Fatalf("Emit second run: %v", err)
	}
	got, ok, err := store.GetCandidate(ctx, candidates[0].Key.String())
	if err != nil || !ok {
		t.Fatalf("GetCandidate: ok=%v err=%v", ok, err)
	}
	if got.TimesSeen != 2 || got.FirstRunID != "run-1" || got.LastRunID != "run-2" {
		t.Fatalf("unexpected candidate after second run: %+v", got)
	}
	if !got.LastSeenAt.Equal(second.StartedAt) || !got.FirstSeenAt.Equal(first.StartedAt) {
		t.Fatalf("unexpected timestamps: first=%s last=%s", got.FirstSeenAt, got.LastSeenAt)
	}
	if diff := cmp.Diff([]string{"A", "B"}, got.MasterScenes); diff != "" {
		t.Fatalf("master scenes should be stored canonical (-want +got):\n%s", diff)
	}

	list, err = store.ListCandidates(ctx, 1)
	if err != nil {
		t.Fatalf("ListCandidates limit: %v", err)
	}
	if len(list) != 1 || list[0].Key != candidates[0].Key.String() {
		t.Fatalf("expected most recently seen candidate first, got %+v", list)
	}

	if _, ok, err := store.GetCandidate(ctx, "absent"); ok || err != nil {
		t.Fatalf("GetCandidate(absent) ok=%v err=%v", ok, err)
	}
}

func TestRecordRunRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	older := sweep.Summary{
		RunInfo:     sweep.RunInfo{ID: "old", StartedAt: start, IFGVersion: "v1", Threshold: 3},
		FinishedAt:  start.Add(time.Minute),
		Status:      sweep.StatusFailed,
		FailureKind: "query_failure",
		Error:       "boom",
	}
	newer := sweep.Summary{
		RunInfo:     sweep.RunInfo{ID: "new", StartedAt: start.Add(time.Hour), IFGVersion: "v2", Threshold: 5, DryRun: true},
		FinishedAt:  start.Add(time.Hour + time.Minute),
		Counts:      sweep.Counts{Configs: 10, Produced: 6, Blacklisted: 1, Missing: 3, FailedJobs: 2, Candidates: 2, Skipped: 1},
		Status:      sweep.StatusSucceeded,
		FailureKind: "ok",
	}
	for _, s := range []sweep.Summary{older, newer} {
		if err := store.RecordRun(ctx, s); err != nil {
			t.Fatalf("RecordRun: %v", err)
		}
	}
	if err := store.RecordRun(ctx, newer); err != nil {
		t.Fatalf("RecordRun replace: %v", err)
	}

	runs, err := store.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	want := Run{
		ID:          "new",
		StartedAt:   newer.StartedAt,
		FinishedAt:  newer.FinishedAt,
		IFGVersion:  "v2",
		Threshold:   5,
		DryRun:      true,
		Status:      sweep.StatusSucceeded,
		FailureKind: "ok",
		Counts:      newer.Counts,
	}
	if diff := cmp.Diff(want, runs[0]); diff != "" {
		t.Fatalf("newest run mismatch (-want +got):\n%s", diff)
	}
	if runs[1].Error != "boom" || runs[1].FailureKind != "query_failure" {
		t.Fatalf("unexpected older run: %+v", runs[1])
	}
}

func TestOpenReappliesMigrationsIdempotently(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	for i := 0; i < 2; i++ {
		store, err := Open(path)
		if err != nil {
			t.Fatalf("Open #%d: %v", i, err)
		}
		if store.Path() != path {
			t.Fatalf("Path = %q", store.Path())
		}
		var version int
		if err := store.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
			t.Fatalf("user_version: %v", err)
		}
		if version != 1 {
			t.Fatalf("user_version = %d, want 1", version)
		}
		store.Close()
	}
	if _, err := Open(" "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestEmitNoCandidates(t *testing.T) {
	store := openTestStore(t)
	if err := store.Emit(context.Background(), sweep.RunInfo{ID: "r"}, nil); err != nil {
		t.Fatalf("Emit(nil): %v", err)
	}
}
