// Package store maintains the digest index of the canonical store: the single
// directory tree treated as ground truth output.
package store

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dotlessone/texvault/pkg/digest"
	"github.com/dotlessone/texvault/pkg/evidence"
	"github.com/dotlessone/texvault/pkg/logger"
)

// QuarantineDirName is the store subdirectory holding conflicting candidates
// pending manual review. It is never part of the index.
const QuarantineDirName = "conflicted"

// Index maps content digests to the store paths currently holding that
// content. It is rebuilt at the start of each run and mutated incrementally as
// files are written; it is never re-scanned mid-pass. Index is not
// goroutine-safe: the reconciler serializes all mutation inside its critical
// section.
type Index struct {
	root     string
	byDigest map[digest.Digest][]string
	files    int
}

// NewIndex returns an empty index rooted at root.
func NewIndex(root string) *Index {
	return &Index{root: root, byDigest: make(map[digest.Digest][]string)}
}

// Root returns the store root the index describes.
func (ix *Index) Root() string {
	return ix.root
}

// Scan hashes every file under root (quarantine excluded) and builds the
// index. Hashing runs in parallel, bounded by workers. Any store-file read
// error is fatal: an index built from partial reads cannot be trusted.
func Scan(ctx context.Context, root string, extensions []string, workers int) (*Index, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if InQuarantine(root, path) {
				return filepath.SkipDir
			}
			return nil
		}
		if !matchesExtension(path, extensions) {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan store %s: %w", root, err)
	}

	ix := NewIndex(root)
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			d, err := digest.File(path)
			if err != nil {
				return err
			}
			mu.Lock()
			ix.add(d, path)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("scan store %s: %w", root, err)
	}

	ix.sortPaths()
	logger.Info("store index built",
		logger.String("root", root),
		logger.Int("files", ix.files),
		logger.Int("digests", len(ix.byDigest)))
	return ix, nil
}

func (ix *Index) add(d digest.Digest, path string) {
	ix.byDigest[d] = append(ix.byDigest[d], path)
	ix.files++
}

// sortPaths fixes per-digest path order after a parallel scan so iteration is
// deterministic.
func (ix *Index) sortPaths() {
	for _, paths := range ix.byDigest {
		sort.Strings(paths)
	}
}

// Add records a newly written store file.
func (ix *Index) Add(d digest.Digest, path string) {
	ix.add(d, path)
}

// Has reports whether any store file currently holds content with digest d.
func (ix *Index) Has(d digest.Digest) bool {
	return len(ix.byDigest[d]) > 0
}

// Paths returns the store paths holding digest d.
func (ix *Index) Paths(d digest.Digest) []string {
	paths := ix.byDigest[d]
	out := make([]string, len(paths))
	copy(out, paths)
	return out
}

// Names returns the folded, extension-stripped basenames present for d.
func (ix *Index) Names(d digest.Digest) map[string]bool {
	names := make(map[string]bool, len(ix.byDigest[d]))
	for _, p := range ix.byDigest[d] {
		names[evidence.Fold(evidence.StripExt(filepath.Base(p)))] = true
	}
	return names
}

// AllAliasesPresent reports whether every alias name the table maps d to
// already exists in the index. Only then is a candidate with digest d pure
// redundant input, safe to discard.
func (ix *Index) AllAliasesPresent(d digest.Digest, table *evidence.Table) bool {
	aliases := table.Aliases(d)
	if len(aliases) == 0 {
		return false
	}
	present := ix.Names(d)
	for _, alias := range aliases {
		if !present[evidence.Fold(alias)] {
			return false
		}
	}
	return true
}

// NameSet returns folded filename (with extension) to path for every indexed
// file, used by the duplicate-name and completeness checks. On fold collisions
// the lexicographically first path wins, keeping output deterministic.
func (ix *Index) NameSet() map[string]string {
	names := make(map[string]string, ix.files)
	for _, paths := range ix.byDigest {
		for _, p := range paths {
			key := evidence.Fold(filepath.Base(p))
			if prev, ok := names[key]; !ok || p < prev {
				names[key] = p
			}
		}
	}
	return names
}

// Digests returns every indexed digest in sorted order.
func (ix *Index) Digests() []digest.Digest {
	out := make([]digest.Digest, 0, len(ix.byDigest))
	for d := range ix.byDigest {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Files returns the number of indexed files.
func (ix *Index) Files() int {
	return ix.files
}

func matchesExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, want := range extensions {
		if ext == strings.ToLower(want) {
			return true
		}
	}
	return false
}

// InQuarantine reports whether path sits under the store's quarantine
// directory.
func InQuarantine(storeRoot, path string) bool {
	q := filepath.Join(storeRoot, QuarantineDirName)
	rel, err := filepath.Rel(q, path)
	if err != nil {
		return false
	}
	return rel == "." || !strings.HasPrefix(rel, "..")
}

// QuarantineDir returns the quarantine directory for a store root, creating it
// on demand.
func QuarantineDir(storeRoot string) (string, error) {
	q := filepath.Join(storeRoot, QuarantineDirName)
	if err := os.MkdirAll(q, 0o750); err != nil {
		return "", fmt.Errorf("create quarantine dir: %w", err)
	}
	return q, nil
}
