package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"ifgsweep/internal/preflight"
	"ifgsweep/internal/runctx"
)

const checkLabelWidth = 16

func newCheckCommand(ctx *commandContext) *cobra.Command {
	var ifgVersion string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify the state directory, ledger, and index clusters are usable",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("ensure directories: %w", err)
			}
			version := strings.TrimSpace(ifgVersion)
			if version == "" {
				if rc, err := runctx.Load(cfg.Context.Path); err == nil {
					version = rc.IFGVersion
				}
			}

			results := preflight.RunAll(cmd.Context(), cfg, version)
			if jsonOutput {
				if err := writeJSON(cmd, results); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				colorize := isTerminal(out)
				for _, r := range results {
					fmt.Fprintln(out, statusLine(r.Passed, fmt.Sprintf("%-*s %s", checkLabelWidth, r.Name+":", r.Detail), colorize))
				}
			}
			if preflight.Failed(results) {
				return errors.New("one or more checks failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&ifgVersion, "version", "", "ifg_version whose configuration collection is probed")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")
	return cmd
}
