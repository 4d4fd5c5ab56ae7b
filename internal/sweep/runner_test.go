package sweep_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/go-cmp/cmp"

	"ifgsweep/internal/config"
	"ifgsweep/internal/reconcile"
	"ifgsweep/internal/runctx"
	"ifgsweep/internal/search"
	"ifgsweep/internal/services"
	"ifgsweep/internal/sweep"
	"ifgsweep/internal/testsupport"
)

const jobType = "job:job-sciflo-s1-ifg:develop"

type fixture struct {
	cfg    *config.Config
	grq    *testsupport.FakeIndex
	mozart *testsupport.FakeIndex
}

// newFixture seeds the three-config scenario: config1 has a failed job,
// config2 is produced, config3 is missing but never failed enough.
func newFixture(t *testing.T, opts ...testsupport.ConfigOption) fixture {
	t.Helper()
	grq := testsupport.NewFakeIndex(t)
	mozart := testsupport.NewFakeIndex(t)
	grq.Add("grq_v1_ifg-cfg",
		testsupport.SceneDoc("grq_v1_ifg-cfg", "config1", []string{"A", "B"}, []string{"C"}),
		testsupport.SceneDoc("grq_v1_ifg-cfg", "config2", []string{"D"}, []string{"E"}),
		testsupport.SceneDoc("grq_v1_ifg-cfg", "config3", []string{"F"}, []string{"G"}),
	)
	grq.Add("grq_*_ifg", testsupport.SceneDoc("grq_v1_ifg", "ifg2", []string{"D"}, []string{"E"}))
	mozart.Add("grq_*_ifg",
		testsupport.JobDoc("job1", jobType, 5, []string{"B", "A"}, []string{"C"}),
		testsupport.JobDoc("job3", jobType, 1, []string{"F"}, []string{"G"}),
	)
	opts = append([]testsupport.ConfigOption{testsupport.WithEndpoints(grq.URL(), mozart.URL())}, opts...)
	return fixture{cfg: testsupport.NewConfig(t, opts...), grq: grq, mozart: mozart}
}

type recordingEmitter struct {
	calls int
	run   sweep.RunInfo
	keys  []string
	err   error
}

func (e *recordingEmitter) Emit(_ context.Context, run sweep.RunInfo, candidates []reconcile.Entry) error {
	e.calls++
	e.run = run
	e.keys = e.keys[:0]
	for _, c := range candidates {
		e.keys = append(e.keys, c.Record.ID)
	}
	return e.err
}

type recordingRecorder struct {
	summaries []sweep.Summary
}

func (r *recordingRecorder) RecordRun(_ context.Context, s sweep.Summary) error {
	r.summaries = append(r.summaries, s)
	return nil
}

func candidateIDs(s sweep.Summary) []string {
	ids := make([]string, 0, len(s.Candidates))
	for _, c := range s.Candidates {
		ids = append(ids, c.Record.ID)
	}
	return ids
}

var defaultContext = runctx.Context{IFGVersion: "v1", CountToBlacklist: 3}

func TestRunEmitsFailedMissingConfigs(t *testing.T) {
	fx := newFixture(t)
	store := testsupport.MustOpenLedger(t, fx.cfg)
	runner, err := sweep.NewRunner(fx.cfg, sweep.WithEmitter(store), sweep.WithRecorder(store))
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	summary, err := runner.Run(context.Background(), defaultContext, sweep.Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	wantCounts := sweep.Counts{Configs: 3, Produced: 1, Blacklisted: 0, Missing: 2, FailedJobs: 1, Candidates: 1}
	if diff := cmp.Diff(wantCounts, summary.Counts); diff != "" {
		t.Fatalf("counts mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"config1"}, candidateIDs(summary)); diff != "" {
		t.Fatalf("candidates mismatch (-want +got):\n%s", diff)
	}
	if summary.Status != sweep.StatusSucceeded || summary.FailureKind != "ok" {
		t.Fatalf("unexpected status %q kind %q", summary.Status, summary.FailureKind)
	}

	ctx := context.Background()
	candidates, err := store.ListCandidates(ctx, 0)
	if err != nil {
		t.Fatalf("ListCandidates: %v", err)
	}
	if len(candidates) != 1 || candidates[0].RecordID != "config1" || candidates[0].FirstRunID != summary.ID {
		t.Fatalf("unexpected ledger candidates: %+v", candidates)
	}
	runs, err := store.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != summary.ID || runs[0].Counts != wantCounts {
		t.Fatalf("unexpected runs: %+v", runs)
	}

	// A second run reports the same candidate and bumps times_seen once.
	second, err := runner.Run(ctx, defaultContext, sweep.Options{})
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if diff := cmp.Diff(summary.CandidateKeys(), second.CandidateKeys()); diff != "" {
		t.Fatalf("rerun candidates differ (-first +second):\n%s", diff)
	}
	got, ok, err := store.GetCandidate(ctx, summary.CandidateKeys()[0])
	if err != nil || !ok {
		t.Fatalf("GetCandidate ok=%v err=%v", ok, err)
	}
	if got.TimesSeen != 2 || got.LastRunID != second.ID {
		t.Fatalf("unexpected candidate after rerun: %+v", got)
	}
}

func TestRunDryRunSkipsEmitter(t *testing.T) {
	fx := newFixture(t)
	emitter := &recordingEmitter{}
	runner, err := sweep.NewRunner(fx.cfg, sweep.WithEmitter(emitter))
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	summary, err := runner.Run(context.Background(), defaultContext, sweep.Options{DryRun: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if emitter.calls != 0 {
		t.Fatalf("dry run called emitter %d times", emitter.calls)
	}
	if !summary.DryRun || summary.Counts.Candidates != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	summary, err = runner.Run(context.Background(), defaultContext, sweep.Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if emitter.calls != 1 || emitter.run.ID != summary.ID {
		t.Fatalf("emitter calls=%d run=%+v", emitter.calls, emitter.run)
	}
	if diff := cmp.Diff([]string{"config1"}, emitter.keys); diff != "" {
		t.Fatalf("emitted mismatch (-want +got):\n%s", diff)
	}
}

func TestRunSkipsFilterWhenNothingMissing(t *testing.T) {
	grq := testsupport.NewFakeIndex(t)
	mozart := testsupport.NewFakeIndex(t)
	grq.Add("grq_v1_ifg-cfg", testsupport.SceneDoc("grq_v1_ifg-cfg", "config1", []string{"A"}, []string{"B"}))
	grq.Add("grq_*_ifg-blacklist", testsupport.SceneDoc("grq_v1_ifg-blacklist", "bl1", []string{"A"}, []string{"B"}))
	cfg := testsupport.NewConfig(t, testsupport.WithEndpoints(grq.URL(), mozart.URL()))

	runner, err := sweep.NewRunner(cfg)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	summary, err := runner.Run(context.Background(), defaultContext, sweep.Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Counts.Missing != 0 || summary.Counts.Candidates != 0 {
		t.Fatalf("unexpected counts: %+v", summary.Counts)
	}
	if n := len(mozart.Requests()); n != 0 {
		t.Fatalf("expected no job queries, got %d", n)
	}
}

func TestRunQueryFailureIsRecorded(t *testing.T) {
	fx := newFixture(t)
	fx.cfg.Search.MaxRetries = 0
	fx.grq.FailNext("grq_*_ifg", http.StatusInternalServerError)
	recorder := &recordingRecorder{}
	emitter := &recordingEmitter{}
	runner, err := sweep.NewRunner(fx.cfg, sweep.WithEmitter(emitter), sweep.WithRecorder(recorder))
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	summary, err := runner.Run(context.Background(), defaultContext, sweep.Options{})
	if !errors.Is(err, services.ErrQueryFailure) {
		t.Fatalf("expected ErrQueryFailure, got %v", err)
	}
	if emitter.calls != 0 {
		t.Fatal("emitter must not run after a failed stage")
	}
	if summary.Status != sweep.StatusFailed || summary.FailureKind != "query_failure" {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(recorder.summaries) != 1 || recorder.summaries[0].Error == "" {
		t.Fatalf("expected failed run to be recorded, got %+v", recorder.summaries)
	}
}

func TestRunMalformedAbortFailsRun(t *testing.T) {
	fx := newFixture(t, testsupport.WithPolicies(config.CollisionKeepLast, config.MalformedAbort))
	fx.grq.Add("grq_v1_ifg-cfg", testsupport.Doc{
		Index:  "grq_v1_ifg-cfg",
		ID:     "broken",
		Source: map[string]any{"metadata": map[string]any{"master_scenes": []any{"X"}}},
	})
	runner, err := sweep.NewRunner(fx.cfg)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	_, err = runner.Run(context.Background(), defaultContext, sweep.Options{})
	if !errors.Is(err, services.ErrMalformedRecord) {
		t.Fatalf("expected ErrMalformedRecord, got %v", err)
	}
}

func TestRunMalformedSkipCountsRecord(t *testing.T) {
	fx := newFixture(t)
	fx.grq.Add("grq_v1_ifg-cfg", testsupport.Doc{
		Index:  "grq_v1_ifg-cfg",
		ID:     "broken",
		Source: map[string]any{"metadata": map[string]any{"slave_scenes": []any{"X"}}},
	})
	runner, err := sweep.NewRunner(fx.cfg)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	summary, err := runner.Run(context.Background(), defaultContext, sweep.Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Counts.Skipped != 1 || summary.Counts.Candidates != 1 {
		t.Fatalf("unexpected counts: %+v", summary.Counts)
	}
}

func TestRunRejectsInvalidContext(t *testing.T) {
	fx := newFixture(t)
	recorder := &recordingRecorder{}
	runner, err := sweep.NewRunner(fx.cfg, sweep.WithRecorder(recorder))
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	_, err = runner.Run(context.Background(), runctx.Context{IFGVersion: "v1"}, sweep.Options{})
	if !errors.Is(err, services.ErrContextLoad) {
		t.Fatalf("expected ErrContextLoad, got %v", err)
	}
	if len(fx.grq.Requests()) != 0 {
		t.Fatal("no queries should be issued for an invalid context")
	}
	if len(recorder.summaries) != 1 || recorder.summaries[0].FailureKind != "context_load" {
		t.Fatalf("unexpected recorded summaries: %+v", recorder.summaries)
	}
}

func TestRunRefusesWhenLocked(t *testing.T) {
	fx := newFixture(t)
	if err := fx.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	held := flock.New(fx.cfg.LockPath())
	ok, err := held.TryLock()
	if err != nil || !ok {
		t.Fatalf("TryLock ok=%v err=%v", ok, err)
	}
	t.Cleanup(func() { _ = held.Unlock() })

	recorder := &recordingRecorder{}
	runner, err := sweep.NewRunner(fx.cfg, sweep.WithRecorder(recorder))
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	_, err = runner.Run(context.Background(), defaultContext, sweep.Options{})
	if !errors.Is(err, sweep.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if len(recorder.summaries) != 0 {
		t.Fatal("a refused run must not be recorded")
	}
}

type slowSearcher struct{}

func (slowSearcher) Search(ctx context.Context, _ string, _ search.Query) ([]search.Record, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRunDeadlineIsTimeout(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	runner, err := sweep.NewRunner(cfg, sweep.WithSearchers(slowSearcher{}, slowSearcher{}))
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	summary, err := runner.Run(ctx, defaultContext, sweep.Options{})
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if summary.FailureKind != "timeout" {
		t.Fatalf("failure kind = %q", summary.FailureKind)
	}
}

// cancelAfterSearcher returns no hits and cancels the run once cancelOn has
// been queried.
type cancelAfterSearcher struct {
	cancelOn string
	cancel   context.CancelFunc
	calls    int
}

func (s *cancelAfterSearcher) Search(_ context.Context, pattern string, _ search.Query) ([]search.Record, error) {
	s.calls++
	if pattern == s.cancelOn {
		s.cancel()
	}
	return nil, nil
}

func TestRunStopsAtReconcileWhenCancelled(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	grq := &cancelAfterSearcher{cancelOn: cfg.Collections.Blacklist, cancel: cancel}
	mozart := &cancelAfterSearcher{}
	emitter := &recordingEmitter{}
	runner, err := sweep.NewRunner(cfg, sweep.WithSearchers(grq, mozart), sweep.WithEmitter(emitter))
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	summary, err := runner.Run(ctx, defaultContext, sweep.Options{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if grq.calls != 3 || mozart.calls != 0 || emitter.calls != 0 {
		t.Fatalf("run continued past reconcile: grq=%d mozart=%d emit=%d", grq.calls, mozart.calls, emitter.calls)
	}
	if summary.Status == sweep.StatusSucceeded {
		t.Fatalf("cancelled run reported %q", summary.Status)
	}
}
