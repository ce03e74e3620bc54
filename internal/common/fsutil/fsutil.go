// Package fsutil holds the path helpers shared by config resolution, artifact
// discovery and the manager's sanity checks.
package fsutil

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ExpandHome expands a leading '~' to the user's home directory.
func ExpandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
}

// Resolve expands '~' and anchors a relative path at baseDir. An empty
// baseDir leaves relative paths relative. Empty input stays empty.
func Resolve(path, baseDir string) (string, error) {
	if path == "" {
		return "", nil
	}
	v, err := ExpandHome(path)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(v) && baseDir != "" {
		v = filepath.Join(baseDir, v)
	}
	return filepath.Clean(v), nil
}

// IsFile reports whether path exists and is not a directory.
func IsFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}

// Size returns the on-disk size of path in bytes, summing regular files when
// path is a directory. Unreadable paths count as 0.
func Size(path string) int64 {
	if path == "" {
		return 0
	}
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	if !fi.IsDir() {
		return fi.Size()
	}
	var total int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
