package file

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Sweep removes spool files left behind in dir, typically by a crashed process.
// Files named in keep (active sessions) and files modified after now-olderThan are left alone.
// It returns the paths that were removed.
func Sweep(dir string, keep map[string]bool, olderThan time.Duration) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list spool directory: %w", err)
	}

	cutoff := time.Now().Add(-olderThan)
	var removed []string
	for _, entry := range entries {
		if entry.IsDir() || keep[entry.Name()] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue // raced with a concurrent removal
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := removeFile(path); err != nil {
			return removed, err
		}
		removed = append(removed, path)
	}
	return removed, nil
}
