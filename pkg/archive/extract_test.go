package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mholt/archives"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildFixtureArchive lays out a source/files/<name>/... tree with a regular
// file, a symlink, and a hardlink, then archives it the same way the
// teacher's own Manager.Create does (FilesFromDisk + CompressedArchive{Gz,
// Tar}), returning the archive's path.
func buildFixtureArchive(t *testing.T) string {
	t.Helper()
	tempDir := t.TempDir()
	sourceDir := filepath.Join(tempDir, "source")

	pkgDir := filepath.Join(sourceDir, "files", "demopkg")
	require.NoError(t, os.MkdirAll(filepath.Join(pkgDir, "bin"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(pkgDir, "etc"), 0o755))

	appPath := filepath.Join(pkgDir, "bin", "app")
	require.NoError(t, os.WriteFile(appPath, []byte("binary"), 0o755))
	require.NoError(t, os.Symlink("app", filepath.Join(pkgDir, "bin", "app-link")))

	confPath := filepath.Join(pkgDir, "etc", "app.conf")
	require.NoError(t, os.WriteFile(confPath, []byte("config"), 0o644))
	require.NoError(t, os.Link(confPath, filepath.Join(pkgDir, "etc", "app-hardlink")))

	archivePath := filepath.Join(tempDir, "demopkg.tar.gz")
	ctx := context.Background()

	archiveFiles, err := archives.FilesFromDisk(ctx, nil, map[string]string{
		sourceDir + string(os.PathSeparator): "",
	})
	require.NoError(t, err)

	out, err := os.Create(archivePath)
	require.NoError(t, err)
	defer func() { _ = out.Close() }()

	format := archives.CompressedArchive{
		Compression: archives.Gz{},
		Archival:    archives.Tar{},
	}
	require.NoError(t, format.Archive(ctx, out, archiveFiles))

	return archivePath
}

func TestExtractSubtreeRoundTripsSymlinkAndHardlinkThroughWrapperDir(t *testing.T) {
	archivePath := buildFixtureArchive(t)
	destDir := t.TempDir()

	m := NewManager()
	require.NoError(t, m.ExtractSubtree(context.Background(), archivePath, "files/", destDir, 1))

	appData, err := os.ReadFile(filepath.Join(destDir, "bin", "app"))
	require.NoError(t, err)
	assert.Equal(t, "binary", string(appData))

	linkInfo, err := os.Lstat(filepath.Join(destDir, "bin", "app-link"))
	require.NoError(t, err)
	assert.True(t, linkInfo.Mode()&os.ModeSymlink != 0)
	target, err := os.Readlink(filepath.Join(destDir, "bin", "app-link"))
	require.NoError(t, err)
	assert.Equal(t, "app", target)

	confData, err := os.ReadFile(filepath.Join(destDir, "etc", "app.conf"))
	require.NoError(t, err)
	assert.Equal(t, "config", string(confData))

	hardlinkData, err := os.ReadFile(filepath.Join(destDir, "etc", "app-hardlink"))
	require.NoError(t, err)
	assert.Equal(t, "config", string(hardlinkData))
}

func TestExtractEntryExtractsSingleNamedFile(t *testing.T) {
	archivePath := buildFixtureArchive(t)
	destDir := t.TempDir()

	m := NewManager()
	require.NoError(t, m.ExtractEntry(context.Background(), archivePath, "files/demopkg/etc/app.conf", destDir))

	data, err := os.ReadFile(filepath.Join(destDir, "app.conf"))
	require.NoError(t, err)
	assert.Equal(t, "config", string(data))
}
