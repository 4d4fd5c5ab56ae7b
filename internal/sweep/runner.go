package sweep

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ifgsweep/internal/config"
	"ifgsweep/internal/logging"
	"ifgsweep/internal/reconcile"
	"ifgsweep/internal/runctx"
	"ifgsweep/internal/scenekey"
	"ifgsweep/internal/search"
	"ifgsweep/internal/services"
	"ifgsweep/internal/telemetry"
)

// Stage names used in logs, spans, and wrapped errors.
const (
	StageFetch     = "fetch"
	StageIndex     = "index"
	StageReconcile = "reconcile"
	StageFilter    = "filter"
	StageEmit      = "emit"
)

// Emitter receives the final candidates of a run. Implementations must be
// idempotent by key so a re-run is safe.
type Emitter interface {
	Emit(ctx context.Context, run RunInfo, candidates []reconcile.Entry) error
}

// Recorder persists run summaries.
type Recorder interface {
	RecordRun(ctx context.Context, summary Summary) error
}

// Options controls a single run.
type Options struct {
	// DryRun computes candidates without calling the emitter.
	DryRun bool
}

// Runner wires the search clients, indexer, and filter into one pipeline.
type Runner struct {
	cfg      *config.Config
	grq      reconcile.Searcher
	mozart   reconcile.Searcher
	emitter  Emitter
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// Option customizes a Runner.
type Option func(*Runner)

// WithEmitter sets the emitter called with the final candidates.
func WithEmitter(e Emitter) Option {
	return func(r *Runner) { r.emitter = e }
}

// WithRecorder sets where run summaries are persisted.
func WithRecorder(rec Recorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithSearchers replaces the index clients built from config.
func WithSearchers(grq, mozart reconcile.Searcher) Option {
	return func(r *Runner) {
		r.grq = grq
		r.mozart = mozart
	}
}

// NewRunner builds search clients for the GRQ and Mozart endpoints in cfg.
func NewRunner(cfg *config.Config, opts ...Option) (*Runner, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "sweep", "new runner", "config is nil", nil)
	}
	r := &Runner{
		cfg:    cfg,
		logger: logging.NewNop(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.NewComponentLogger(r.logger, "sweep")

	if r.grq == nil {
		client, err := search.New(searchConfig(cfg, cfg.GRQ.URL), search.WithLogger(r.logger))
		if err != nil {
			return nil, err
		}
		r.grq = client
	}
	if r.mozart == nil {
		client, err := search.New(searchConfig(cfg, cfg.Mozart.URL), search.WithLogger(r.logger))
		if err != nil {
			return nil, err
		}
		r.mozart = client
	}
	return r, nil
}

func searchConfig(cfg *config.Config, baseURL string) search.Config {
	return search.Config{
		BaseURL:            baseURL,
		PageSize:           cfg.Search.PageSize,
		Timeout:            cfg.RequestTimeout(),
		MaxRetries:         cfg.Search.MaxRetries,
		InitialBackoff:     cfg.InitialBackoff(),
		MaxBackoff:         cfg.MaxBackoff(),
		Concurrency:        cfg.Search.Concurrency,
		MaxPages:           cfg.Search.MaxPages,
		InsecureSkipVerify: cfg.Search.InsecureSkipVerify,
	}
}

// Run executes fetch, index, reconcile, filter, and emit in order. Any stage
// error aborts the run. The returned summary is populated as far as the run
// got, and is recorded even when the run fails.
func (r *Runner) Run(ctx context.Context, rc runctx.Context, opts Options) (Summary, error) {
	summary := Summary{RunInfo: RunInfo{
		ID:         r.newID(),
		StartedAt:  r.now().UTC(),
		IFGVersion: rc.IFGVersion,
		Threshold:  rc.CountToBlacklist,
		DryRun:     opts.DryRun,
	}}
	ctx = services.WithRunID(ctx, summary.ID)
	logger := logging.WithContext(ctx, r.logger)

	if err := rc.Validate(); err != nil {
		err = services.Wrap(services.ErrContextLoad, "sweep", "run context", "", err)
		return r.finish(ctx, summary, err), err
	}
	if err := r.cfg.EnsureDirectories(); err != nil {
		err = services.Wrap(services.ErrConfiguration, "sweep", "state directory", "", err)
		return r.finish(ctx, summary, err), err
	}
	lock, err := acquireLock(r.cfg.LockPath())
	if err != nil {
		return summary, err
	}
	defer func() {
		if unlockErr := lock.Unlock(); unlockErr != nil {
			logger.Warn("failed to release run lock", logging.Error(unlockErr))
		}
	}()

	sc := telemetry.StartSpan(ctx, "sweep.Run", trace.WithAttributes(
		attribute.String("sweep.run_id", summary.ID),
		attribute.String("sweep.ifg_version", rc.IFGVersion),
		attribute.Int("sweep.threshold", rc.CountToBlacklist),
	))
	defer sc.End()
	ctx = sc.Context()

	logger.Info("sweep started",
		logging.String(logging.FieldEventType, "sweep_start"),
		logging.String("ifg_version", rc.IFGVersion),
		logging.Int("count_to_blacklist", rc.CountToBlacklist),
		logging.Bool("dry_run", opts.DryRun),
	)

	err = r.pipeline(ctx, rc, opts, &summary)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
		err = services.Wrap(services.ErrTimeout, "sweep", "run", "deadline exceeded", err)
	}
	if err != nil {
		sc.RecordError(err)
		sc.Span().SetStatus(codes.Error, err.Error())
	}
	return r.finish(ctx, summary, err), err
}

func (r *Runner) pipeline(ctx context.Context, rc runctx.Context, opts Options, summary *Summary) error {
	var configsRaw, producedRaw, blacklistRaw []search.Record
	err := r.stage(ctx, StageFetch, func(ctx context.Context) error {
		var err error
		if configsRaw, err = r.grq.Search(ctx, r.cfg.ConfigsPattern(rc.IFGVersion), search.MatchAll()); err != nil {
			return err
		}
		if producedRaw, err = r.grq.Search(ctx, r.cfg.Collections.Produced, search.MatchAll()); err != nil {
			return err
		}
		blacklistRaw, err = r.grq.Search(ctx, r.cfg.Collections.Blacklist, search.MatchAll())
		return err
	})
	if err != nil {
		return err
	}

	var configs, produced, blacklisted *reconcile.Index
	err = r.stage(ctx, StageIndex, func(ctx context.Context) error {
		indexer := reconcile.Indexer{
			CollisionPolicy: r.cfg.Reconcile.CollisionPolicy,
			MalformedPolicy: r.cfg.Reconcile.MalformedPolicy,
			Paths:           scenekey.DefaultPaths,
			Logger:          r.logger,
		}
		var err error
		if configs, err = indexer.Index(services.WithCollection(ctx, r.cfg.ConfigsPattern(rc.IFGVersion)), "configs", configsRaw); err != nil {
			return err
		}
		if produced, err = indexer.Index(services.WithCollection(ctx, r.cfg.Collections.Produced), "produced", producedRaw); err != nil {
			return err
		}
		blacklisted, err = indexer.Index(services.WithCollection(ctx, r.cfg.Collections.Blacklist), "blacklist", blacklistRaw)
		return err
	})
	if err != nil {
		return err
	}
	summary.Counts.Configs = configs.Len()
	summary.Counts.Produced = produced.Len()
	summary.Counts.Blacklisted = blacklisted.Len()
	summary.Counts.Skipped = configs.Skipped + produced.Skipped + blacklisted.Skipped
	summary.Counts.Collisions = configs.Collisions + produced.Collisions + blacklisted.Collisions

	var missing []reconcile.Entry
	err = r.stage(ctx, StageReconcile, func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		missing = reconcile.Reconcile(configs, produced, blacklisted)
		return nil
	})
	if err != nil {
		return err
	}
	summary.Counts.Missing = len(missing)

	var candidates []reconcile.Entry
	err = r.stage(ctx, StageFilter, func(ctx context.Context) error {
		if len(missing) == 0 {
			return nil
		}
		filter := reconcile.FailureFilter{
			Client:          r.mozart,
			Pattern:         r.cfg.Collections.Jobs,
			JobType:         r.cfg.Jobs.JobType,
			MalformedPolicy: r.cfg.Reconcile.MalformedPolicy,
			Logger:          r.logger,
		}
		failed, err := filter.FailedJobs(ctx, rc.CountToBlacklist)
		if err != nil {
			return err
		}
		summary.Counts.FailedJobs = len(failed)
		candidates = reconcile.Match(missing, failed)
		return nil
	})
	if err != nil {
		return err
	}
	summary.Counts.Candidates = len(candidates)
	summary.Candidates = candidates

	if opts.DryRun || r.emitter == nil {
		logging.WithContext(ctx, r.logger).Info("emit skipped",
			logging.Bool("dry_run", opts.DryRun),
			logging.Int("candidate_count", len(candidates)),
		)
		return nil
	}
	return r.stage(ctx, StageEmit, func(ctx context.Context) error {
		return r.emitter.Emit(ctx, summary.RunInfo, candidates)
	})
}

// stage runs fn with the stage name in context, logging start and outcome.
// Errors not already carrying a sentinel marker are wrapped as transient.
func (r *Runner) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx = services.WithStage(ctx, name)
	sc := telemetry.StartSpan(ctx, "sweep."+name)
	defer sc.End()
	ctx = sc.Context()

	logger := logging.WithContext(ctx, r.logger)
	start := time.Now()
	logger.Debug("stage started", logging.String(logging.FieldEventType, "stage_start"))
	if err := fn(ctx); err != nil {
		sc.RecordError(err)
		logging.ErrorWithContext(logger, "stage failed", "stage_failed",
			logging.Error(err),
			logging.Duration("elapsed", time.Since(start)),
			logging.String(logging.FieldErrorHint, hintFor(err)),
		)
		if services.FailureKind(err) == "failed" {
			return services.Wrap(services.ErrTransient, name, "", "", err)
		}
		return err
	}
	logger.Debug("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func (r *Runner) finish(ctx context.Context, summary Summary, err error) Summary {
	summary.FinishedAt = r.now().UTC()
	summary.FailureKind = services.FailureKind(err)
	logger := logging.WithContext(ctx, r.logger)
	if err != nil {
		summary.Status = StatusFailed
		summary.Error = err.Error()
	} else {
		summary.Status = StatusSucceeded
		logger.Info("sweep completed",
			logging.String(logging.FieldEventType, "sweep_complete"),
			logging.Int("configs", summary.Counts.Configs),
			logging.Int("produced", summary.Counts.Produced),
			logging.Int("blacklisted", summary.Counts.Blacklisted),
			logging.Int("missing", summary.Counts.Missing),
			logging.Int("failed_jobs", summary.Counts.FailedJobs),
			logging.Int("candidates", summary.Counts.Candidates),
			logging.Duration("elapsed", summary.Duration()),
		)
	}
	if r.recorder != nil {
		// Recording uses a fresh context so a cancelled run is still recorded.
		recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if recErr := r.recorder.RecordRun(recordCtx, summary); recErr != nil {
			logging.WarnWithContext(logger, "failed to record run", "run_record_failed",
				logging.Error(recErr),
				logging.String(logging.FieldImpact, "run missing from history"),
				logging.String(logging.FieldErrorHint, "check the ledger database path and permissions"),
			)
		}
	}
	return summary
}

func hintFor(err error) string {
	switch services.FailureKind(err) {
	case "query_failure":
		return "check index reachability and the configured base URLs"
	case "malformed_record":
		return "inspect the record or set reconcile.malformed_policy = \"skip\""
	case "validation":
		return "inspect duplicate records or relax reconcile.collision_policy"
	case "timeout":
		return "raise --timeout or search.request_timeout"
	default:
		return "check logs for details"
	}
}
