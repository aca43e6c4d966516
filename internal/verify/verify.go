// Package verify audits a content store after reconciliation: ledger
// coverage, name uniqueness, reference completeness, and alias integrity.
package verify

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dotlessone/texvault/internal/report"
	"github.com/dotlessone/texvault/internal/scanner"
	"github.com/dotlessone/texvault/pkg/digest"
	"github.com/dotlessone/texvault/pkg/evidence"
	"github.com/dotlessone/texvault/pkg/logger"
	"github.com/dotlessone/texvault/pkg/safeio"
	"github.com/dotlessone/texvault/pkg/store"
)

// Findings aggregates the outcome of one verification run. A clean store
// yields the zero value.
type Findings struct {
	Uncovered         int // store digests absent from the ledger
	DuplicateNames    int // folded asset names held by more than one file
	MissingAssets     int // reference names with no store file
	RepairedCopies    int // alias copies restored during repair
	MissingAliases    int // alias copies found absent (repaired or not)
	UnmappedResidents int // store files whose digest no table maps
}

// Clean reports whether the store passed every check.
func (f Findings) Clean() bool {
	return f.Uncovered == 0 && f.DuplicateNames == 0 && f.MissingAssets == 0 &&
		f.MissingAliases == 0 && f.UnmappedResidents == 0
}

// Checker runs the verification suite against a scanned store index.
type Checker struct {
	Index     *store.Index
	StoreRoot string
	Tables    []*evidence.Table
	Ledger    evidence.Ledger
	Reference evidence.Reference
	// Candidates are the surviving files outside the store; their names are
	// checked for collisions against store names.
	Candidates []scanner.Candidate
	Sink       *report.Sink
	Repair     bool // restore missing alias copies instead of only reporting them
}

// Run executes all four checks. The read-only checks run concurrently; the
// alias integrity check runs last because repair mutates the store and the
// index. Findings are reported through the sink in deterministic order.
func (c *Checker) Run(ctx context.Context) (Findings, error) {
	var findings Findings
	var uncovered, duplicates, missing []string

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		uncovered = c.checkCoverage(gctx)
		return nil
	})
	g.Go(func() error {
		duplicates = c.checkDuplicateNames(gctx)
		return nil
	})
	g.Go(func() error {
		missing = c.checkCompleteness(gctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		return findings, err
	}

	for _, line := range uncovered {
		c.Sink.Line("[UNCOVERED] %s", line)
	}
	for _, line := range duplicates {
		c.Sink.Line("[DUPLICATE] %s", line)
	}
	for _, line := range missing {
		c.Sink.Line("[MISSING] %s", line)
	}
	findings.Uncovered = len(uncovered)
	findings.DuplicateNames = len(duplicates)
	findings.MissingAssets = len(missing)

	if err := c.checkAliases(ctx, &findings); err != nil {
		return findings, err
	}

	logger.Info("verification finished",
		logger.Int("uncovered", findings.Uncovered),
		logger.Int("duplicate_names", findings.DuplicateNames),
		logger.Int("missing_assets", findings.MissingAssets),
		logger.Int("missing_aliases", findings.MissingAliases),
		logger.Int("repaired", findings.RepairedCopies),
		logger.Int("unmapped_residents", findings.UnmappedResidents))
	return findings, nil
}

// checkCoverage finds store digests the ledger does not vouch for. It reads
// the live index rather than rescanning the store; every store mutation also
// updates the index, so the two agree at this point.
func (c *Checker) checkCoverage(ctx context.Context) []string {
	var out []string
	for _, d := range c.Index.Digests() {
		if ctx.Err() != nil {
			return out
		}
		if c.Ledger.Has(d) {
			continue
		}
		paths := c.Index.Paths(d)
		out = append(out, fmt.Sprintf("%s (digest: %s)", c.relNames(paths), d))
	}
	sort.Strings(out)
	return out
}

// checkDuplicateNames finds folded asset names claimed twice: by more than one
// store file, or by a store file and a surviving candidate with differing
// content. Names must be unique regardless of case.
func (c *Checker) checkDuplicateNames(ctx context.Context) []string {
	byName := make(map[string][]string)
	nameDigest := make(map[string]digest.Digest)
	for _, d := range c.Index.Digests() {
		if ctx.Err() != nil {
			return nil
		}
		for _, p := range c.Index.Paths(d) {
			name := evidence.Fold(evidence.StripExt(filepath.Base(p)))
			byName[name] = append(byName[name], p)
			nameDigest[name] = d
		}
	}

	var out []string
	for name, paths := range byName {
		if len(paths) < 2 {
			continue
		}
		sort.Strings(paths)
		out = append(out, fmt.Sprintf("%s held by %s", name, c.relNames(paths)))
	}

	for _, cand := range c.Candidates {
		if ctx.Err() != nil {
			return out
		}
		name := evidence.Fold(evidence.StripExt(filepath.Base(cand.Path)))
		storeDigest, ok := nameDigest[name]
		if !ok {
			continue
		}
		candDigest, err := digest.File(cand.Path)
		if err != nil {
			logger.Warn("skipping unreadable candidate", logger.String("path", cand.Rel), logger.Err(err))
			continue
		}
		if candDigest == storeDigest {
			continue
		}
		out = append(out, fmt.Sprintf("%s held in store (digest: %s) and by candidate %s (digest: %s)",
			name, storeDigest, cand.Rel, candDigest))
	}
	sort.Strings(out)
	return out
}

// checkCompleteness finds reference assets with no file in the store.
func (c *Checker) checkCompleteness(ctx context.Context) []string {
	present := make(map[string]bool)
	for name := range c.Index.NameSet() {
		present[evidence.StripExt(name)] = true
	}
	var out []string
	for folded, entry := range c.Reference {
		if ctx.Err() != nil {
			return out
		}
		if present[folded] {
			continue
		}
		if entry.Width > 0 && entry.Height > 0 {
			out = append(out, fmt.Sprintf("%s (%dx%d)", entry.Name, entry.Width, entry.Height))
		} else {
			out = append(out, entry.Name)
		}
	}
	sort.Strings(out)
	return out
}

// checkAliases walks every mapped digest present in the store and verifies
// that every alias file exists. With Repair set, absent aliases are restored
// by copying an existing sibling. Store files whose digest no table maps are
// reported as unmapped residents.
func (c *Checker) checkAliases(ctx context.Context, findings *Findings) error {
	mapped := make(map[digest.Digest]*evidence.Table)
	for _, table := range c.Tables {
		for _, d := range table.Digests() {
			if _, ok := mapped[d]; !ok {
				mapped[d] = table
			}
		}
	}

	for _, d := range c.Index.Digests() {
		if err := ctx.Err(); err != nil {
			return err
		}
		table, ok := mapped[d]
		if !ok {
			for _, p := range c.Index.Paths(d) {
				c.Sink.Line("[UNMAPPED-RESIDENT] %s (digest: %s)", c.rel(p), d)
			}
			findings.UnmappedResidents += len(c.Index.Paths(d))
			continue
		}

		source := c.Index.Paths(d)[0]
		ext := filepath.Ext(source)
		for _, alias := range table.Aliases(d) {
			aliasPath := filepath.Join(c.StoreRoot, alias+ext)
			if err := safeio.EnsureContained(c.StoreRoot, aliasPath); err != nil {
				return err
			}
			if _, err := os.Stat(aliasPath); err == nil {
				continue
			}
			findings.MissingAliases++
			if !c.Repair {
				c.Sink.Line("[MISSING-ALIAS] %s (digest: %s)", alias+ext, d)
				continue
			}
			if err := restoreCopy(source, aliasPath); err != nil {
				return fmt.Errorf("restore %s: %w", alias+ext, err)
			}
			c.Index.Add(d, aliasPath)
			findings.RepairedCopies++
			c.Sink.Line("[REPAIRED] %s <- %s (digest: %s)", alias+ext, c.rel(source), d)
		}
	}
	return nil
}

func (c *Checker) rel(path string) string {
	if r, err := filepath.Rel(c.StoreRoot, path); err == nil {
		return filepath.ToSlash(r)
	}
	return filepath.ToSlash(path)
}

func (c *Checker) relNames(paths []string) string {
	rels := make([]string, len(paths))
	for i, p := range paths {
		rels[i] = c.rel(p)
	}
	return strings.Join(rels, ", ")
}

func restoreCopy(src, dst string) error {
	in, err := os.Open(src) // #nosec G304 -- containment-checked store path
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
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return nil
}
