// Package archive streams compressed tar-family archives and extracts a
// selected sub-tree onto the live filesystem, or a single named entry. It is
// the implementation of the archive I/O component of the transactional
// package lifecycle engine.
package archive

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mholt/archives"
)

// Manager extracts content out of .starpack archives.
type Manager struct{}

// NewManager creates an archive Manager.
func NewManager() *Manager {
	return &Manager{}
}

// stripPathComponents strips leading "." and empty components, then the
// given number of remaining leading components.
func stripPathComponents(rel string, strip int) string {
	parts := strings.Split(rel, "/")
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" || p == "." {
			continue
		}
		kept = append(kept, p)
	}
	if strip >= len(kept) {
		return ""
	}
	return filepath.Join(kept[strip:]...)
}

// ExtractSubtree extracts every entry under sectionPrefix into destDir,
// stripping the section prefix and then strip leading path components from
// the remainder. Hardlink targets inside the archive are rewritten through
// the same transform so the extracted tree is self-consistent. Existing
// destination entries whose filetype (directory vs non-directory) disagrees
// with the incoming entry are removed before writing; matching types are
// overwritten. Individual entry errors are logged as warnings and do not
// abort the walk; the call only fails if the archive could not be read to
// completion.
func (m *Manager) ExtractSubtree(ctx context.Context, archivePath, sectionPrefix, destDir string, strip int) error {
	fsys, closer, err := openArchive(ctx, archivePath)
	if err != nil {
		return err
	}
	defer closer()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	prefix := strings.TrimSuffix(sectionPrefix, "/")
	if prefix != "" {
		prefix += "/"
	}

	// Extraction is a single top-down fs.WalkDir pass in the walk's
	// directory-listing order, which need not be the order entries are
	// stored in the archive. There is no pre-pass over the entries, so a
	// hardlink is resolved against whatever has already been written.
	var warnings []string
	walkFn := func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == "." {
			return nil
		}
		if prefix != "" && !strings.HasPrefix(path, prefix) {
			return nil
		}
		rel := strings.TrimPrefix(path, prefix)
		if rel == "" {
			return nil
		}
		target := stripPathComponents(rel, strip)
		if target == "" {
			return nil
		}
		destPath := filepath.Join(destDir, target)
		if err := m.extractOneEntry(fsys, path, destPath, d, prefix, strip, destDir); err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", path, err))
		}
		return nil
	}

	if err := fs.WalkDir(fsys, ".", walkFn); err != nil {
		return fmt.Errorf("failed to walk archive: %w", err)
	}
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "warning: extracting %s: %s\n", archivePath, w)
	}
	return nil
}

// ExtractEntry extracts the first entry whose path equals entryName or
// "./"+entryName, writing it to destDir/basename(entryName).
func (m *Manager) ExtractEntry(ctx context.Context, archivePath, entryName, destDir string) error {
	fsys, closer, err := openArchive(ctx, archivePath)
	if err != nil {
		return err
	}
	defer closer()

	var found string
	want := entryName
	wantDot := "./" + entryName
	_ = fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil || found != "" {
			return nil
		}
		if path == want || path == wantDot {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if found == "" {
		return fmt.Errorf("entry %q not found in archive %s", entryName, archivePath)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	src, err := fsys.Open(found)
	if err != nil {
		return fmt.Errorf("failed to open entry %s: %w", found, err)
	}
	defer func() { _ = src.Close() }()

	destPath := filepath.Join(destDir, filepath.Base(entryName))
	dst, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", destPath, err)
	}
	defer func() { _ = dst.Close() }()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to copy entry %s: %w", found, err)
	}
	return nil
}

func openArchive(ctx context.Context, archivePath string) (fs.FS, func(), error) {
	fsys, err := archives.FileSystem(ctx, archivePath, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open archive %s: %w", archivePath, err)
	}
	closer := func() {}
	if c, ok := fsys.(io.Closer); ok {
		closer = func() { _ = c.Close() }
	}
	return fsys, closer, nil
}

// extractOneEntry writes a single archive entry to destPath, handling the
// pre-extraction type-conflict policy and hardlink rewriting.
func (m *Manager) extractOneEntry(fsys fs.FS, archivePath, destPath string, d fs.DirEntry, prefix string, strip int, destDir string) error {
	if err := resolveTypeConflict(destPath, d.IsDir()); err != nil {
		return err
	}

	if d.IsDir() {
		return os.MkdirAll(destPath, 0o755)
	}

	info, err := d.Info()
	if err != nil {
		return fmt.Errorf("stat entry: %w", err)
	}

	if linkTarget, ok := hardlinkTarget(info); ok {
		rewritten := rewriteHardlink(linkTarget, prefix, strip, destDir)
		if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return err
		}
		_ = os.Remove(destPath)
		if err := os.Link(rewritten, destPath); err != nil {
			// Target may not exist yet (archive order); fall back to a copy
			// from the archive entry itself if it's a regular file.
			return copyRegularEntry(fsys, archivePath, destPath, info)
		}
		return nil
	}

	if info.Mode()&os.ModeSymlink != 0 {
		return writeSymlink(fsys, archivePath, destPath)
	}

	return copyRegularEntry(fsys, archivePath, destPath, info)
}

// resolveTypeConflict removes an existing destination entry whose filetype
// disagrees with the incoming entry; matching types are left for overwrite.
func resolveTypeConflict(destPath string, incomingIsDir bool) error {
	st, err := os.Lstat(destPath)
	if err != nil {
		return nil // nothing there yet
	}
	if st.IsDir() != incomingIsDir {
		return os.RemoveAll(destPath)
	}
	return nil
}

// hardlinkTarget reports the archive-internal link target for a hardlink
// entry, if the underlying fs.FileInfo exposes one. mholt/archives surfaces
// hardlinks as regular files with a Sys() providing the link name; we probe
// for that without hard-depending on the concrete type.
func hardlinkTarget(info fs.FileInfo) (string, bool) {
	type linkNamer interface{ LinkName() string }
	if ln, ok := info.Sys().(linkNamer); ok {
		if name := ln.LinkName(); name != "" {
			return name, true
		}
	}
	return "", false
}

func rewriteHardlink(linkName, prefix string, strip int, destDir string) string {
	rel := strings.TrimPrefix(linkName, prefix)
	target := stripPathComponents(rel, strip)
	return filepath.Join(destDir, target)
}

func writeSymlink(fsys fs.FS, archivePath, destPath string) error {
	f, err := fsys.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open symlink entry: %w", err)
	}
	defer func() { _ = f.Close() }()
	linkTarget, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read symlink target: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	_ = os.Remove(destPath)
	return os.Symlink(string(linkTarget), destPath)
}

func copyRegularEntry(fsys fs.FS, archivePath, destPath string, info fs.FileInfo) error {
	src, err := fsys.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open entry: %w", err)
	}
	defer func() { _ = src.Close() }()

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	dst, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create %s: %w", destPath, err)
	}
	defer func() { _ = dst.Close() }()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copy %s: %w", destPath, err)
	}
	_ = os.Chmod(destPath, info.Mode().Perm())
	_ = os.Chtimes(destPath, info.ModTime(), info.ModTime())
	return nil
}
