package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"ifgsweep/internal/ledger"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var showCandidates bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded runs or blacklist candidates from the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !cfg.Ledger.Enabled {
				return errors.New("ledger is disabled (set ledger.enabled = true)")
			}
			store, err := ledger.Open(cfg.Ledger.Path)
			if err != nil {
				return fmt.Errorf("open ledger: %w", err)
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			styled := isTerminal(out)
			if showCandidates {
				candidates, err := store.ListCandidates(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if jsonOutput {
					if candidates == nil {
						candidates = []ledger.Candidate{}
					}
					return writeJSON(cmd, candidates)
				}
				if len(candidates) == 0 {
					fmt.Fprintln(out, "No candidates recorded")
					return nil
				}
				fmt.Fprintln(out, renderTable(candidateTable(candidates), styled))
				return nil
			}

			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				if runs == nil {
					runs = []ledger.Run{}
				}
				return writeJSON(cmd, runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			fmt.Fprintln(out, renderTable(runTable(runs), styled))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum rows to show (0 for all)")
	cmd.Flags().BoolVar(&showCandidates, "candidates", false, "List blacklist candidates instead of runs")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print as JSON")
	return cmd
}

func runTable(runs []ledger.Run) tableSpec {
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		duration := "-"
		if !run.FinishedAt.IsZero() {
			duration = run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
		}
		status := run.Status
		if run.DryRun {
			status += " (dry run)"
		}
		rows = append(rows, []string{
			run.ID,
			formatTime(run.StartedAt),
			run.IFGVersion,
			strconv.Itoa(run.Threshold),
			status,
			run.FailureKind,
			strconv.Itoa(run.Counts.Missing),
			strconv.Itoa(run.Counts.Candidates),
			duration,
		})
	}
	return tableSpec{
		Headers: []string{"Run", "Started", "Version", "Threshold", "Status", "Result", "Missing", "Candidates", "Duration"},
		Rows:    rows,
		Aligns:  []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignRight, alignRight, alignRight},
	}
}

func candidateTable(candidates []ledger.Candidate) tableSpec {
	rows := make([][]string, 0, len(candidates))
	for _, c := range candidates {
		rows = append(rows, []string{
			c.Key,
			c.IFGVersion,
			c.RecordID,
			strconv.Itoa(c.TimesSeen),
			formatTime(c.FirstSeenAt),
			formatTime(c.LastSeenAt),
		})
	}
	return tableSpec{
		Headers: []string{"Key", "Version", "Record", "Seen", "First seen", "Last seen"},
		Rows:    rows,
		Aligns:  []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight},
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
