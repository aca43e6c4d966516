/*
Copyright © 2025 dotlessone
*/
package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/dotlessone/texvault/internal/orchestrate"
	"github.com/dotlessone/texvault/pkg/exitcode"
)

// verifyCmd audits the store without running any reconciliation pass.
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Audit the store against the ledger and evidence tables",
	Long: `Verify checks ledger coverage, asset name uniqueness, reference
completeness, and alias integrity. Missing alias copies are restored from
their content siblings unless --no-repair is set.`,
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().StringP("manifest", "m", "passes.toml", "Path to the pass manifest")
	verifyCmd.Flags().Bool("no-repair", false, "Report missing alias copies instead of restoring them")
}

func runVerify(cmd *cobra.Command, _ []string) error {
	manifestPath, _ := cmd.Flags().GetString("manifest")
	noRepair, _ := cmd.Flags().GetBool("no-repair")

	manifest, err := orchestrate.LoadManifest(manifestPath)
	if err != nil {
		return exitWith(exitcode.ValidationError, err)
	}

	// A manifest with zero passes is invalid, but verify never executes
	// them; it only loads their tables to know the mapped digest universe.
	orch := &orchestrate.Orchestrator{
		Manifest: manifest,
		Workers:  resolveWorkers(cmd),
		NoRepair: noRepair,
	}

	result, err := orch.VerifyOnly(cmd.Context())
	if err != nil {
		var pferr *orchestrate.PreflightError
		if errors.As(err, &pferr) {
			return exitWith(exitcode.PreconditionError, err)
		}
		return exitWith(exitcode.FileSystemError, err)
	}

	printFindings(cmd, result)
	if !result.Findings.Clean() {
		return exitWith(exitcode.ValidationError, errors.New("store verification reported findings"))
	}
	return nil
}
