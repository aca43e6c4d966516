package scanner

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5/osfs"
	gitignore "github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// IgnoreFileName is the per-root ignore file honored during candidate
// discovery, using gitignore syntax.
const IgnoreFileName = ".texvaultignore"

// ignoreMatcher layers ignore patterns the way git does:
// 1. .gitignore files under the candidate root (foundation)
// 2. .texvaultignore at the candidate root (overrides)
// 3. ~/.texvault/.texvaultignore (user overrides)
type ignoreMatcher struct {
	root    string
	matcher gitignore.Matcher
}

func newIgnoreMatcher(root string) (*ignoreMatcher, error) {
	fs := osfs.New(root)

	var allPatterns []gitignore.Pattern

	// ReadPatterns with nil reads .gitignore files throughout the tree
	if gitPatterns, err := gitignore.ReadPatterns(fs, nil); err == nil {
		allPatterns = append(allPatterns, gitPatterns...)
	}

	if patterns, err := readIgnoreFile(filepath.Join(root, IgnoreFileName)); err == nil {
		for _, pattern := range patterns {
			allPatterns = append(allPatterns, gitignore.ParsePattern(pattern, nil))
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userIgnorePath := filepath.Join(homeDir, ".texvault", IgnoreFileName)
		if patterns, err := readIgnoreFile(userIgnorePath); err == nil {
			for _, pattern := range patterns {
				allPatterns = append(allPatterns, gitignore.ParsePattern(pattern, nil))
			}
		}
	}

	return &ignoreMatcher{
		root:    root,
		matcher: gitignore.NewMatcher(allPatterns),
	}, nil
}

// readIgnoreFile reads patterns from a .texvaultignore file
func readIgnoreFile(path string) ([]string, error) {
	cleaned := filepath.Clean(path)
	if !strings.HasSuffix(cleaned, string(os.PathSeparator)+IgnoreFileName) {
		return nil, os.ErrInvalid
	}
	content, err := os.ReadFile(cleaned) // #nosec G304 -- restricted to ignore files by the suffix check
	if err != nil {
		return nil, err
	}

	var patterns []string
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}

	return patterns, nil
}

// isIgnored checks a path relative to the matcher's root.
func (m *ignoreMatcher) isIgnored(path string, isDir bool) bool {
	relPath, err := filepath.Rel(m.root, path)
	if err != nil {
		relPath = path
	}
	parts := splitPath(filepath.ToSlash(relPath))
	if len(parts) == 0 {
		return false
	}
	return m.matcher.Match(parts, isDir)
}

// splitPath converts a slash-separated path into components for go-git matching
func splitPath(path string) []string {
	if path == "" || path == "." {
		return []string{}
	}
	path = strings.TrimPrefix(path, "/")

	parts := strings.Split(path, "/")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if part != "" && part != "." {
			result = append(result, part)
		}
	}
	return result
}
