package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ifgsweep/internal/ledger"
	"ifgsweep/internal/logging"
	"ifgsweep/internal/notifications"
	"ifgsweep/internal/runctx"
	"ifgsweep/internal/sweep"
	"ifgsweep/internal/telemetry"
)

type runOptions struct {
	contextPath string
	threshold   int
	ifgVersion  string
	dryRun      bool
	jsonOutput  bool
	timeout     time.Duration
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one sweep and print the blacklist candidates",
		Long: `Run fetches every ifg-cfg record for the run's ifg_version, drops those
whose interferogram was produced or already blacklisted, and keeps the rest
whose processing job failed at least count_to_blacklist times.

The run context is read from --context (JSON, or YAML by extension). The
--version and --threshold flags override its fields.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd, ctx, opts)
		},
	}

	cmd.Flags().StringVar(&opts.contextPath, "context", "", "Run context file (defaults to context.path from config)")
	cmd.Flags().IntVar(&opts.threshold, "threshold", 0, "Override count_to_blacklist")
	cmd.Flags().StringVar(&opts.ifgVersion, "version", "", "Override ifg_version")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Compute candidates without recording them")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Print the run summary as JSON")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Abort the run after this duration (0 disables)")
	return cmd
}

func runSweep(cmd *cobra.Command, ctx *commandContext, opts runOptions) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := ctx.logger()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	rc, err := loadRunContext(opts, cfg.Context.Path)
	if err != nil {
		return err
	}

	runCtx := cmd.Context()
	if runCtx == nil {
		runCtx = context.Background()
	}
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, opts.timeout)
		defer cancel()
	}

	tel, err := telemetry.Setup(runCtx, cfg.Tracing, version)
	if err != nil {
		logging.WarnWithContext(logger, "tracing disabled", "tracing_setup_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "no spans exported for this run"),
			logging.String(logging.FieldErrorHint, "check tracing.endpoint"),
		)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", logging.Error(err))
		}
	}()

	runnerOpts := []sweep.Option{sweep.WithLogger(logger)}
	if cfg.Ledger.Enabled {
		store, err := ledger.Open(cfg.Ledger.Path)
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		defer store.Close()
		runnerOpts = append(runnerOpts, sweep.WithEmitter(store), sweep.WithRecorder(store))
	}

	runner, err := sweep.NewRunner(cfg, runnerOpts...)
	if err != nil {
		return err
	}
	summary, runErr := runner.Run(runCtx, rc, sweep.Options{DryRun: opts.dryRun})
	if errors.Is(runErr, sweep.ErrLocked) {
		return runErr
	}
	notifySummary(cmd.Context(), notifications.NewService(cfg), logger, summary, runErr)

	if opts.jsonOutput {
		if err := writeJSON(cmd, newSummaryView(summary)); err != nil {
			return err
		}
	} else {
		printSummary(cmd.OutOrStdout(), summary)
	}
	return runErr
}

// notifySummary publishes the run outcome. Delivery failures are logged and
// never change the command's exit status.
func notifySummary(ctx context.Context, svc notifications.Service, logger *slog.Logger, summary sweep.Summary, runErr error) {
	if ctx == nil {
		ctx = context.Background()
	}
	// The run context may already be cancelled; give delivery its own deadline.
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()

	var err error
	if runErr != nil {
		err = svc.NotifyRunFailed(notifyCtx, summary)
	} else {
		err = svc.NotifyRunCompleted(notifyCtx, summary)
	}
	if err != nil {
		logging.WarnWithContext(logger, "notification failed", "notification_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "run outcome not delivered to ntfy"),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
		)
	}
}

// loadRunContext reads the context file and applies flag overrides. When both
// overrides are given a missing file is not an error.
func loadRunContext(opts runOptions, configured string) (runctx.Context, error) {
	path := strings.TrimSpace(opts.contextPath)
	if path == "" {
		path = configured
	}
	rc, err := runctx.Load(path)
	if err != nil {
		overridesComplete := strings.TrimSpace(opts.ifgVersion) != "" && opts.threshold != 0
		if !overridesComplete || !errors.Is(err, fs.ErrNotExist) {
			return runctx.Context{}, err
		}
		rc = runctx.Context{}
	}
	return rc.WithOverrides(opts.ifgVersion, opts.threshold)
}

type candidateView struct {
	Key          string   `json:"key"`
	Index        string   `json:"index,omitempty"`
	ID           string   `json:"id,omitempty"`
	MasterScenes []string `json:"master_scenes"`
	SlaveScenes  []string `json:"slave_scenes"`
}

type summaryView struct {
	sweep.Summary
	DurationMS int64           `json:"duration_ms"`
	Candidates []candidateView `json:"candidates"`
}

func newSummaryView(summary sweep.Summary) summaryView {
	view := summaryView{
		Summary:    summary,
		DurationMS: summary.Duration().Milliseconds(),
		Candidates: make([]candidateView, 0, len(summary.Candidates)),
	}
	for _, entry := range summary.Candidates {
		canon := entry.Pair.Canonical()
		view.Candidates = append(view.Candidates, candidateView{
			Key:          entry.Key.String(),
			Index:        entry.Record.Index,
			ID:           entry.Record.ID,
			MasterScenes: canon.Primary,
			SlaveScenes:  canon.Secondary,
		})
	}
	return view
}

func printSummary(out io.Writer, summary sweep.Summary) {
	styled := isTerminal(out)
	fmt.Fprintf(out, "Run %s  ifg_version=%s  count_to_blacklist=%d  dry_run=%s\n",
		summary.ID, summary.IFGVersion, summary.Threshold, yesNo(summary.DryRun))

	counts := summary.Counts
	fmt.Fprintln(out, renderTable(tableSpec{
		Headers: []string{"Stage", "Records"},
		Rows: [][]string{
			{"configs", strconv.Itoa(counts.Configs)},
			{"produced", strconv.Itoa(counts.Produced)},
			{"blacklisted", strconv.Itoa(counts.Blacklisted)},
			{"missing", strconv.Itoa(counts.Missing)},
			{"failed jobs", strconv.Itoa(counts.FailedJobs)},
			{"candidates", strconv.Itoa(counts.Candidates)},
			{"skipped (malformed)", strconv.Itoa(counts.Skipped)},
			{"key collisions", strconv.Itoa(counts.Collisions)},
		},
		Aligns: []columnAlignment{alignLeft, alignRight},
	}, styled))

	if len(summary.Candidates) > 0 {
		rows := make([][]string, 0, len(summary.Candidates))
		for _, entry := range summary.Candidates {
			canon := entry.Pair.Canonical()
			rows = append(rows, []string{
				entry.Key.String(),
				entry.Record.Label(),
				strings.Join(canon.Primary, ", "),
				strings.Join(canon.Secondary, ", "),
			})
		}
		fmt.Fprintln(out, renderTable(tableSpec{
			Title:   "Blacklist candidates",
			Headers: []string{"Key", "Record", "Master scenes", "Slave scenes"},
			Rows:    rows,
		}, styled))
	}

	if summary.Status == sweep.StatusSucceeded {
		msg := fmt.Sprintf("%d candidate(s) in %s", counts.Candidates, summary.Duration().Round(time.Millisecond))
		if summary.DryRun {
			msg += " (dry run, nothing recorded)"
		}
		fmt.Fprintln(out, statusLine(true, msg, styled))
		return
	}
	fmt.Fprintln(out, statusLine(false, summary.FailureKind+": "+summary.Error, styled))
}
