package orchestrate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dotlessone/texvault/internal/reconcile"
	"github.com/dotlessone/texvault/internal/report"
	"github.com/dotlessone/texvault/internal/scanner"
	"github.com/dotlessone/texvault/internal/verify"
	"github.com/dotlessone/texvault/pkg/evidence"
	"github.com/dotlessone/texvault/pkg/logger"
	"github.com/dotlessone/texvault/pkg/store"
)

// PreflightError marks a failure detected before any mutation. A run that
// fails preflight leaves the store and the candidate roots untouched.
type PreflightError struct {
	Err error
}

func (e *PreflightError) Error() string { return e.Err.Error() }
func (e *PreflightError) Unwrap() error { return e.Err }

// PassOutcome pairs a pass id with its counts.
type PassOutcome struct {
	Spec    PassSpec
	Counts  reconcile.Counts
	Summary string
}

// RunReport is the aggregate result of one orchestrated run.
type RunReport struct {
	Passes        []PassOutcome
	Findings      verify.Findings
	PrunedDirs    int
	VerifyLog     string
	DryRun        bool
	SkipVerify    bool
	RepairApplied bool
}

// Orchestrator executes a manifest end to end: preflight, one store scan,
// ordered passes, verification, and candidate root cleanup.
type Orchestrator struct {
	Manifest      *Manifest
	Workers       int
	ProgressEvery int
	DryRun        bool
	SkipVerify    bool
	NoRepair      bool
}

// inputs holds everything preflight loaded, so the pass loop never touches a
// file that was not proven readable up front.
type inputs struct {
	tables    []*evidence.Table
	ledger    evidence.Ledger
	reference evidence.Reference
	policy    evidence.Policy
}

// Preflight loads and validates every input the run will need. It performs no
// mutation.
func (o *Orchestrator) Preflight(ctx context.Context) (*inputs, error) {
	m := o.Manifest

	if info, err := os.Stat(m.StoreRoot); err != nil || !info.IsDir() {
		return nil, &PreflightError{Err: fmt.Errorf("store root %s is not a directory", m.StoreRoot)}
	}
	for _, root := range m.CandidateRoots {
		if info, err := os.Stat(root); err != nil || !info.IsDir() {
			return nil, &PreflightError{Err: fmt.Errorf("candidate root %s is not a directory", root)}
		}
	}

	in := &inputs{}

	cfg := evidence.DefaultPolicyConfig()
	if m.Policy != "" {
		loaded, err := evidence.LoadPolicyConfig(m.Policy)
		if err != nil {
			return nil, &PreflightError{Err: fmt.Errorf("load policy: %w", err)}
		}
		cfg = loaded
	}
	policy, err := evidence.NewRegoPolicy(ctx, cfg)
	if err != nil {
		return nil, &PreflightError{Err: fmt.Errorf("compile policy: %w", err)}
	}
	in.policy = policy

	for _, pass := range m.Passes {
		table, rejected, err := evidence.Load(pass.Evidence, pass.ID, in.policy)
		if err != nil {
			return nil, &PreflightError{Err: fmt.Errorf("pass %s: %w", pass.ID, err)}
		}
		if len(rejected) > 0 {
			logger.Warn("evidence rows rejected",
				logger.String("pass", pass.ID),
				logger.Int("rejected", len(rejected)))
		}
		in.tables = append(in.tables, table)
	}

	if m.Ledger != "" {
		ledger, err := evidence.LoadLedger(m.Ledger)
		if err != nil {
			return nil, &PreflightError{Err: fmt.Errorf("load ledger: %w", err)}
		}
		in.ledger = ledger
	}
	if m.Reference != "" {
		reference, err := evidence.LoadReference(m.Reference)
		if err != nil {
			return nil, &PreflightError{Err: fmt.Errorf("load reference: %w", err)}
		}
		in.reference = reference
	}

	return in, nil
}

// VerifyOnly runs the verification suite against the current store without
// executing any pass. Tables are still loaded; they define the mapped digest
// universe the checks compare against.
func (o *Orchestrator) VerifyOnly(ctx context.Context) (*RunReport, error) {
	m := o.Manifest

	in, err := o.Preflight(ctx)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(m.LogDir, 0o750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	index, err := store.Scan(ctx, m.StoreRoot, m.Extensions, o.Workers)
	if err != nil {
		return nil, fmt.Errorf("scan store: %w", err)
	}

	// Candidate roots still count for name collisions even when no pass runs.
	sc := &scanner.Scanner{
		Roots:             m.CandidateRoots,
		StoreRoot:         m.StoreRoot,
		ExcludeSubstrings: m.ExcludeSubstrings,
		ExcludePatterns:   m.ExcludePatterns,
		Extensions:        m.Extensions,
	}
	candidates, err := sc.Discover()
	if err != nil {
		return nil, fmt.Errorf("discover candidates: %w", err)
	}

	verifyLog := filepath.Join(m.LogDir, "verify.log")
	sink, err := report.NewSink(verifyLog)
	if err != nil {
		return nil, fmt.Errorf("open verify log: %w", err)
	}
	defer func() { _ = sink.Close() }()

	checker := &verify.Checker{
		Index:      index,
		StoreRoot:  m.StoreRoot,
		Tables:     in.tables,
		Ledger:     in.ledger,
		Reference:  in.reference,
		Candidates: candidates,
		Sink:       sink,
		Repair:     !o.NoRepair,
	}
	findings, err := checker.Run(ctx)
	sink.Flush()
	if err != nil {
		return nil, fmt.Errorf("verify store: %w", err)
	}

	return &RunReport{
		Findings:      findings,
		VerifyLog:     verifyLog,
		RepairApplied: checker.Repair,
	}, nil
}

// Run executes the full pipeline described by the manifest.
func (o *Orchestrator) Run(ctx context.Context) (*RunReport, error) {
	m := o.Manifest

	in, err := o.Preflight(ctx)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(m.LogDir, 0o750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	logger.Info("scanning store", logger.String("root", m.StoreRoot))
	index, err := store.Scan(ctx, m.StoreRoot, m.Extensions, o.Workers)
	if err != nil {
		return nil, fmt.Errorf("scan store: %w", err)
	}
	logger.Info("store scanned", logger.Int("files", index.Files()))

	reportOut := &RunReport{DryRun: o.DryRun, SkipVerify: o.SkipVerify}

	sc := &scanner.Scanner{
		Roots:             m.CandidateRoots,
		StoreRoot:         m.StoreRoot,
		ExcludeSubstrings: m.ExcludeSubstrings,
		ExcludePatterns:   m.ExcludePatterns,
		Extensions:        m.Extensions,
	}

	for i, pass := range m.Passes {
		if err := ctx.Err(); err != nil {
			return reportOut, err
		}

		// Rediscover before each pass: earlier passes delete and move
		// candidates, so the survivor set shrinks as the run progresses.
		candidates, err := sc.Discover()
		if err != nil {
			return reportOut, fmt.Errorf("pass %s: discover candidates: %w", pass.ID, err)
		}

		sink, err := report.NewSink(filepath.Join(m.LogDir, pass.ID+".log"))
		if err != nil {
			return reportOut, fmt.Errorf("pass %s: open log: %w", pass.ID, err)
		}

		logger.Info("pass starting",
			logger.String("pass", pass.ID),
			logger.Int("candidates", len(candidates)),
			logger.Bool("conflict_check", pass.ConflictCheck),
			logger.Bool("dry_run", o.DryRun))

		engine := reconcile.New(in.tables[i], index, pass.ConflictCheck, sink)
		engine.ProgressEvery = o.ProgressEvery
		counts := engine.Run(ctx, candidates, o.Workers, o.DryRun)

		summary, err := report.RenderSummary(report.PassSummary{
			Pass:       pass.ID,
			Candidates: counts.Candidates,
			Deleted:    counts.Deleted,
			Deployed:   counts.Deployed,
			Conflicted: counts.Conflicted,
			Unmapped:   counts.Unmapped,
			Skipped:    counts.Skipped,
		})
		if err != nil {
			_ = sink.Close()
			return reportOut, fmt.Errorf("pass %s: render summary: %w", pass.ID, err)
		}
		sink.Line("%s", summary)

		if !o.SkipVerify {
			// Each pass ends with the full verification suite; collisions are
			// judged against the candidates that survived this pass.
			survivors, err := sc.Discover()
			if err != nil {
				_ = sink.Close()
				return reportOut, fmt.Errorf("pass %s: rescan candidates: %w", pass.ID, err)
			}
			checker := &verify.Checker{
				Index:      index,
				StoreRoot:  m.StoreRoot,
				Tables:     in.tables,
				Ledger:     in.ledger,
				Reference:  in.reference,
				Candidates: survivors,
				Sink:       sink,
				Repair:     !o.DryRun && !o.NoRepair,
			}
			findings, err := checker.Run(ctx)
			if err != nil {
				_ = sink.Close()
				return reportOut, fmt.Errorf("pass %s: verify store: %w", pass.ID, err)
			}
			reportOut.Findings = findings
			reportOut.VerifyLog = filepath.Join(m.LogDir, pass.ID+".log")
			reportOut.RepairApplied = checker.Repair
		}

		sink.Flush()
		if err := sink.Close(); err != nil {
			logger.Warn("closing pass log", logger.Err(err))
		}
		reportOut.Passes = append(reportOut.Passes, PassOutcome{Spec: pass, Counts: counts, Summary: summary})
	}

	if !o.DryRun {
		for _, root := range m.CandidateRoots {
			reportOut.PrunedDirs += scanner.PruneEmptyDirs(root)
		}
	}

	return reportOut, nil
}
