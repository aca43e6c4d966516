// Package reconcile implements the per-candidate decision state machine and
// the store mutations it commits.
package reconcile

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/dotlessone/texvault/internal/report"
	"github.com/dotlessone/texvault/internal/scanner"
	"github.com/dotlessone/texvault/pkg/digest"
	"github.com/dotlessone/texvault/pkg/evidence"
	"github.com/dotlessone/texvault/pkg/logger"
	"github.com/dotlessone/texvault/pkg/safeio"
	"github.com/dotlessone/texvault/pkg/store"
	"github.com/dotlessone/texvault/pkg/work"
)

// Counts summarizes one pass over the candidate set.
type Counts struct {
	Candidates int
	Deleted    int
	Deployed   int
	Conflicted int
	Unmapped   int
	Skipped    int
}

// Engine reconciles candidates against one evidence table and the shared
// store index. One Engine instance serves one pass; the index outlives it.
type Engine struct {
	table         *evidence.Table
	index         *store.Index
	storeRoot     string
	conflictCheck bool
	sink          *report.Sink

	// ProgressEvery is passed through to the dispatcher; zero keeps its
	// default cadence.
	ProgressEvery int

	// mu guards the critical section: decision reads of the index plus the
	// full move/copy/delete and index update for one candidate's alias set.
	// Two workers must never race to create the same destination or
	// double-delete a redundant candidate.
	mu     sync.Mutex
	counts Counts
}

// New creates an engine for one pass. The store root comes from the index;
// engine and index must agree on it.
func New(table *evidence.Table, index *store.Index, conflictCheck bool, sink *report.Sink) *Engine {
	return &Engine{
		table:         table,
		index:         index,
		storeRoot:     index.Root(),
		conflictCheck: conflictCheck,
		sink:          sink,
	}
}

// Run reconciles all candidates on a bounded worker pool and returns the pass
// counts. Per-candidate errors never abort the pass.
func (e *Engine) Run(ctx context.Context, candidates []scanner.Candidate, workers int, dryRun bool) Counts {
	e.mu.Lock()
	e.counts = Counts{Candidates: len(candidates)}
	e.mu.Unlock()

	items := make([]work.Item, len(candidates))
	byID := make(map[string]scanner.Candidate, len(candidates))
	for i, c := range candidates {
		items[i] = work.Item{ID: c.Path, Path: c.Path}
		byID[c.Path] = c
	}

	processor := &candidateProcessor{engine: e, byID: byID}
	dispatcher := work.NewDispatcher(work.DispatcherConfig{
		MaxWorkers:    workers,
		ProgressEvery: e.ProgressEvery,
		DryRun:        dryRun,
	}, processor)

	summary, _ := dispatcher.Execute(ctx, items)
	logger.Info("pass reconciliation finished",
		logger.String("table", e.table.ID),
		logger.Int("candidates", summary.TotalItems),
		logger.Int("failed", summary.Failed))

	e.sink.Flush()

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counts
}

// candidateProcessor adapts the engine to the dispatcher. Errors are reduced
// to log lines at this boundary; they never cross it.
type candidateProcessor struct {
	engine *Engine
	byID   map[string]scanner.Candidate
}

func (p *candidateProcessor) Process(ctx context.Context, item *work.Item, dryRun bool) work.Result {
	candidate := p.byID[item.ID]
	action, err := p.engine.reconcileOne(candidate, dryRun)
	if err != nil {
		p.engine.recordSkip(candidate, err)
		return work.Result{ItemID: item.ID, Success: false, Error: err.Error()}
	}
	return work.Result{ItemID: item.ID, Success: true, Output: string(action)}
}

// reconcileOne runs the decision state machine for one candidate. The digest
// is computed outside the critical section; everything that reads or mutates
// shared state happens inside it.
func (e *Engine) reconcileOne(c scanner.Candidate, dryRun bool) (report.Action, error) {
	d, err := digest.File(c.Path)
	if err != nil {
		return report.ActionSkipped, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Redundant input: content and every alias name already in the store.
	if e.index.Has(d) && e.index.AllAliasesPresent(d, e.table) {
		if !dryRun {
			if err := os.Remove(c.Path); err != nil {
				return report.ActionSkipped, fmt.Errorf("delete redundant candidate: %w", err)
			}
		}
		e.sink.Record(report.Record{
			Action:    report.ActionDelete,
			Candidate: c.Rel,
			Digest:    d.String(),
			Detail:    "all mapped assets already exist",
		})
		e.counts.Deleted++
		return report.ActionDelete, nil
	}

	if e.table.Has(d) {
		return e.deploy(c, d, dryRun)
	}

	// Unmapped: leave untouched. Kept out of the pass log; early passes see
	// mostly unmapped candidates and later passes will claim them.
	logger.Debug("unmapped candidate", logger.String("path", c.Rel), logger.String("digest", d.String()))
	e.counts.Unmapped++
	return report.ActionUnmapped, nil
}

// deploy moves the candidate to its deterministic primary alias and fills in
// the remaining alias copies. Caller holds e.mu.
func (e *Engine) deploy(c scanner.Candidate, d digest.Digest, dryRun bool) (report.Action, error) {
	primary, _ := e.table.Primary(d)
	ext := filepath.Ext(c.Path)
	primaryPath := filepath.Join(e.storeRoot, primary+ext)
	if err := safeio.EnsureContained(e.storeRoot, primaryPath); err != nil {
		return report.ActionSkipped, err
	}

	existing, err := destinationDigest(primaryPath)
	if err != nil {
		return report.ActionSkipped, fmt.Errorf("read destination %s: %w", primaryPath, err)
	}

	switch {
	case existing != "" && existing != d && e.conflictCheck:
		return e.quarantine(c, d, existing, primary, ext, dryRun)

	case existing != "" && existing != d:
		// Differing digest already at the destination but this pass does not
		// adjudicate conflicts. Never overwrite; leave the candidate for a
		// conflict-checking pass or manual review.
		e.sink.Record(report.Record{
			Action:    report.ActionSkipped,
			Candidate: c.Rel,
			Digest:    d.String(),
			Detail:    fmt.Sprintf("destination %s occupied by digest %s", primary+ext, existing),
		})
		e.counts.Skipped++
		return report.ActionSkipped, nil

	case existing == "":
		if !dryRun {
			if err := safeio.EnsureParentDir(primaryPath); err != nil {
				return report.ActionSkipped, err
			}
			if err := moveFile(c.Path, primaryPath); err != nil {
				return report.ActionSkipped, fmt.Errorf("move to primary: %w", err)
			}
			e.index.Add(d, primaryPath)
		}
		e.sink.Record(report.Record{
			Action:      report.ActionDeploy,
			Candidate:   c.Rel,
			Destination: primary + ext,
			Digest:      d.String(),
		})

	default:
		// Identical content already holds the primary path; the candidate
		// only needs to feed the missing alias copies.
		if !dryRun {
			if err := os.Remove(c.Path); err != nil {
				return report.ActionSkipped, fmt.Errorf("delete satisfied candidate: %w", err)
			}
		}
		e.sink.Record(report.Record{
			Action:      report.ActionDeploy,
			Candidate:   c.Rel,
			Destination: primary + ext,
			Digest:      d.String(),
		})
	}
	e.counts.Deployed++

	for _, alias := range e.table.Aliases(d) {
		if evidence.Fold(alias) == evidence.Fold(primary) {
			continue
		}
		aliasPath := filepath.Join(e.storeRoot, alias+ext)
		if err := safeio.EnsureContained(e.storeRoot, aliasPath); err != nil {
			logger.Warn("alias path rejected", logger.String("alias", alias), logger.Err(err))
			continue
		}
		if _, err := os.Stat(aliasPath); err == nil {
			continue // copy only if absent, never overwrite
		}
		if !dryRun {
			if err := safeio.EnsureParentDir(aliasPath); err != nil {
				logger.Warn("alias copy failed", logger.String("alias", alias), logger.Err(err))
				continue
			}
			if err := copyFile(primaryPath, aliasPath); err != nil {
				logger.Warn("alias copy failed", logger.String("alias", alias), logger.Err(err))
				continue
			}
			e.index.Add(d, aliasPath)
		}
		e.sink.Record(report.Record{
			Action:      report.ActionCopy,
			Candidate:   primary + ext,
			Destination: alias + ext,
			Digest:      d.String(),
		})
	}

	return report.ActionDeploy, nil
}

// quarantine moves a conflicting candidate into the store's quarantine
// directory under a disambiguated name. The occupied destination is never
// touched. Caller holds e.mu.
func (e *Engine) quarantine(c scanner.Candidate, d, found digest.Digest, primary, ext string, dryRun bool) (report.Action, error) {
	qdir, err := store.QuarantineDir(e.storeRoot)
	if err != nil {
		return report.ActionSkipped, err
	}

	var dest string
	for n := 1; ; n++ {
		dest = filepath.Join(qdir, fmt.Sprintf("%s-[%d]%s", primary, n, ext))
		if _, err := os.Stat(dest); os.IsNotExist(err) {
			break
		}
	}

	if !dryRun {
		if err := moveFile(c.Path, dest); err != nil {
			return report.ActionSkipped, fmt.Errorf("quarantine candidate: %w", err)
		}
	}

	e.sink.Record(report.Record{
		Action:      report.ActionConflict,
		Candidate:   c.Rel,
		Destination: filepath.ToSlash(filepath.Join(store.QuarantineDirName, filepath.Base(dest))),
		Digest:      d.String(),
		FoundDigest: found.String(),
	})
	e.counts.Conflicted++
	return report.ActionConflict, nil
}

func (e *Engine) recordSkip(c scanner.Candidate, err error) {
	logger.Error("candidate skipped", logger.String("path", c.Rel), logger.Err(err))
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink.Record(report.Record{
		Action:    report.ActionSkipped,
		Candidate: c.Rel,
		Detail:    err.Error(),
	})
	e.counts.Skipped++
}

// destinationDigest returns the digest of the file at path, or "" when no
// file exists there.
func destinationDigest(path string) (digest.Digest, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return digest.File(path)
}

// moveFile renames src to dst, falling back to copy-and-remove across
// filesystem boundaries.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) // #nosec G304 -- paths are containment-checked store locations
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644) // #nosec G304
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		// A partial file at a canonical path would be protected by the
		// no-overwrite rule forever; never leave one behind.
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return nil
}
