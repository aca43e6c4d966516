package scanner

import (
	"os"
	"path/filepath"
	"sort"
)

// PruneEmptyDirs removes directories under root that contain no files,
// deepest first. The root itself is never removed. Removal failures are
// ignored; a directory that gained a file since the walk simply stays.
func PruneEmptyDirs(root string) int {
	var dirs []string
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() && path != root {
			dirs = append(dirs, path)
		}
		return nil
	})

	// Deepest paths sort last; remove in reverse so children go before
	// parents.
	sort.Strings(dirs)
	removed := 0
	for i := len(dirs) - 1; i >= 0; i-- {
		if err := os.Remove(dirs[i]); err == nil {
			removed++
		}
	}
	return removed
}
