/*
Copyright © 2025 dotlessone
*/
package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dotlessone/texvault/internal/orchestrate"
	"github.com/dotlessone/texvault/pkg/config"
	"github.com/dotlessone/texvault/pkg/exitcode"
	"github.com/dotlessone/texvault/pkg/logger"
)

// reconcileCmd runs the full pass pipeline described by a manifest.
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run reconciliation passes against the store",
	Long: `Reconcile scans the candidate roots once per pass, decides delete,
deploy, conflict, or unmapped for every candidate, and finishes with the
verification suite. Passes execute in manifest order; each writes its own
append-only decision log.`,
	RunE: runReconcile,
}

func init() {
	reconcileCmd.Flags().StringP("manifest", "m", "passes.toml", "Path to the pass manifest")
	reconcileCmd.Flags().Bool("dry-run", false, "Log decisions without touching the filesystem")
	reconcileCmd.Flags().Bool("skip-verify", false, "Skip the verification suite after the passes")
	reconcileCmd.Flags().Bool("no-repair", false, "Report missing alias copies instead of restoring them")
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	manifestPath, _ := cmd.Flags().GetString("manifest")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	skipVerify, _ := cmd.Flags().GetBool("skip-verify")
	noRepair, _ := cmd.Flags().GetBool("no-repair")

	manifest, err := orchestrate.LoadManifest(manifestPath)
	if err != nil {
		return exitWith(exitcode.ValidationError, err)
	}

	orch := &orchestrate.Orchestrator{
		Manifest:      manifest,
		Workers:       resolveWorkers(cmd),
		ProgressEvery: progressEvery(),
		DryRun:        dryRun,
		SkipVerify:    skipVerify,
		NoRepair:      noRepair,
	}

	result, err := orch.Run(cmd.Context())
	if err != nil {
		var pferr *orchestrate.PreflightError
		if errors.As(err, &pferr) {
			return exitWith(exitcode.PreconditionError, err)
		}
		return exitWith(exitcode.FileSystemError, err)
	}

	out := cmd.OutOrStdout()
	for _, pass := range result.Passes {
		fmt.Fprintln(out, pass.Summary)
	}
	printFindings(cmd, result)

	if !result.Findings.Clean() && !skipVerify {
		return exitWith(exitcode.ValidationError, errors.New("store verification reported findings"))
	}
	return nil
}

// resolveWorkers layers the --workers flag over the configured default.
func resolveWorkers(cmd *cobra.Command) int {
	if n, err := cmd.Flags().GetInt("workers"); err == nil && n > 0 {
		return n
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return 0
	}
	return cfg.EffectiveWorkers()
}

// progressEvery reads the configured progress cadence; zero falls back to the
// dispatcher default.
func progressEvery() int {
	cfg, err := config.LoadConfig()
	if err != nil {
		return 0
	}
	return cfg.Progress.Every
}

func printFindings(cmd *cobra.Command, result *orchestrate.RunReport) {
	if result.SkipVerify {
		return
	}
	f := result.Findings
	if f.Clean() {
		logger.Info("store verified clean",
			logger.Int("repaired", f.RepairedCopies),
			logger.Int("pruned_dirs", result.PrunedDirs))
		return
	}
	logger.Warn("store verification reported findings",
		logger.Int("uncovered", f.Uncovered),
		logger.Int("duplicate_names", f.DuplicateNames),
		logger.Int("missing_assets", f.MissingAssets),
		logger.Int("missing_aliases", f.MissingAliases),
		logger.Int("unmapped_residents", f.UnmappedResidents),
		logger.String("log", result.VerifyLog))
}

// exitError carries a process exit code alongside the underlying failure.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitWith(code int, err error) error {
	return &exitError{code: code, err: err}
}

// exitCodeFor maps a command error to a process exit code.
func exitCodeFor(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitcode.GeneralError
}
