package archive

import (
	"context"
	"io/fs"
	"path"
	"strings"
)

// ListEntries returns every archive-relative entry path, in fs.WalkDir
// order (top-down, directory by directory), which need not be the order the
// entries are stored in the archive.
func (m *Manager) ListEntries(ctx context.Context, archivePath string) ([]string, error) {
	fsys, closer, err := openArchive(ctx, archivePath)
	if err != nil {
		return nil, err
	}
	defer closer()

	var entries []string
	err = fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if p == "." {
			return nil
		}
		entries = append(entries, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// LongestCommonPrefixDepth returns the number of leading path components
// shared by every entry pathname. Used by the repository indexer's
// strip_components heuristic.
func LongestCommonPrefixDepth(entries []string) int {
	if len(entries) == 0 {
		return 0
	}
	var common []string
	for i, e := range entries {
		parts := splitClean(e)
		if i == 0 {
			common = parts
			continue
		}
		common = commonPrefix(common, parts)
		if len(common) == 0 {
			break
		}
	}
	return len(common)
}

func splitClean(p string) []string {
	p = path.Clean(p)
	if p == "." || p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func commonPrefix(a, b []string) []string {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return a[:i]
}
