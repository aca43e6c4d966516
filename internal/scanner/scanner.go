// Package scanner discovers candidate assets: transient source files outside
// the canonical store that the reconciler will classify, deploy, or discard.
package scanner

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/dotlessone/texvault/pkg/evidence"
	"github.com/dotlessone/texvault/pkg/logger"
)

// Candidate is one discovered source file.
type Candidate struct {
	Path string // absolute or root-joined path
	Rel  string // slash-separated path relative to its candidate root
}

// Scanner enumerates candidate files under one or more roots, excluding the
// store subtree, substring exclusion rules, glob patterns, and ignore files.
type Scanner struct {
	Roots             []string
	StoreRoot         string
	ExcludeSubstrings []string
	ExcludePatterns   []string // doublestar globs matched against the root-relative path
	Extensions        []string // lowercase, with dot; empty admits everything
}

// Discover walks the candidate roots once and returns candidates in
// deterministic sorted order. Unreadable directories are logged and skipped;
// only a completely unreadable root is an error.
func (s *Scanner) Discover() ([]Candidate, error) {
	storeAbs, err := filepath.Abs(s.StoreRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve store root: %w", err)
	}

	excludes := make([]string, len(s.ExcludeSubstrings))
	for i, sub := range s.ExcludeSubstrings {
		excludes[i] = evidence.Fold(filepath.ToSlash(sub))
	}

	for _, pattern := range s.ExcludePatterns {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid exclude pattern %q", pattern)
		}
	}

	var candidates []Candidate
	for _, root := range s.Roots {
		found, err := s.walkRoot(root, storeAbs, excludes)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, found...)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Path < candidates[j].Path
	})

	logger.Info("candidate scan complete",
		logger.Int("roots", len(s.Roots)),
		logger.Int("candidates", len(candidates)))
	return candidates, nil
}

func (s *Scanner) walkRoot(root, storeAbs string, excludes []string) ([]Candidate, error) {
	ignore, err := newIgnoreMatcher(root)
	if err != nil {
		return nil, fmt.Errorf("load ignore patterns for %s: %w", root, err)
	}

	var out []Candidate
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return fmt.Errorf("candidate root %s: %w", root, err)
			}
			logger.Warn("skipping unreadable path", logger.String("path", path), logger.Err(err))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		abs, absErr := filepath.Abs(path)
		if absErr == nil && insideDir(storeAbs, abs) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if excludedBySubstring(rel, excludes) || s.excludedByPattern(rel+"/") || ignore.isIgnored(path, true) {
				return filepath.SkipDir
			}
			return nil
		}

		if !s.matchesExtension(path) {
			return nil
		}
		if excludedBySubstring(rel, excludes) || s.excludedByPattern(rel) || ignore.isIgnored(path, false) {
			return nil
		}

		out = append(out, Candidate{Path: path, Rel: rel})
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return out, nil
}

func (s *Scanner) matchesExtension(path string) bool {
	if len(s.Extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, want := range s.Extensions {
		if ext == strings.ToLower(want) {
			return true
		}
	}
	return false
}

// excludedBySubstring applies the case-folded path-substring exclusion rules.
func excludedBySubstring(rel string, excludes []string) bool {
	if len(excludes) == 0 {
		return false
	}
	folded := evidence.Fold(rel)
	for _, sub := range excludes {
		if strings.Contains(folded, sub) {
			return true
		}
	}
	return false
}

func (s *Scanner) excludedByPattern(rel string) bool {
	for _, pattern := range s.ExcludePatterns {
		if ok, _ := doublestar.Match(pattern, strings.TrimSuffix(rel, "/")); ok {
			return true
		}
	}
	return false
}

// insideDir reports whether path is dir or sits below it.
func insideDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || !strings.HasPrefix(rel, "..")
}
