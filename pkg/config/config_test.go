package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cperrin88/starpack/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathsResolution(t *testing.T) {
	p := New("/srv/root")
	assert.Equal(t, "/srv/root/etc/starpack/repos.conf", p.ReposConf())
	assert.Equal(t, "/srv/root/etc/starpack/keys/starpack.gpg", p.KeyringPath())
	assert.Equal(t, "/srv/root/etc/starpack/hooks/foo", p.HooksDir("foo"))
	assert.Equal(t, "/srv/root/var/lib/starpack/installed.db", p.InstalledDB())
	assert.Equal(t, "/srv/root/var/lib/starpack/cache", p.CacheDir())
}

func TestLoadReposSkipsBlankAndCommentLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "repos.conf")
	content := "# comment\n\nhttps://repo.example\nhttps://other.example/\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	repos, err := LoadRepos(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://repo.example/", "https://other.example/"}, repos)
}

func TestLoadReposMissingFile(t *testing.T) {
	_, err := LoadRepos(filepath.Join(t.TempDir(), "missing.conf"))
	assert.ErrorIs(t, err, errs.ErrNoRepositories)
}

func TestLoadReposEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "repos.conf")
	require.NoError(t, os.WriteFile(path, []byte("# nothing here\n"), 0o644))

	_, err := LoadRepos(path)
	assert.ErrorIs(t, err, errs.ErrNoRepositories)
}

func TestSaveAndLoadReposRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "repos.conf")
	want := []string{"https://a.example/", "https://b.example/"}

	require.NoError(t, SaveRepos(path, want))

	got, err := LoadRepos(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSanitizeURLForCache(t *testing.T) {
	assert.Equal(t, "https___repo.example_", SanitizeURLForCache("https://repo.example/"))
	assert.Equal(t, "a-b.c123", SanitizeURLForCache("a-b.c123"))
}

func TestManifestAndArchiveCachePaths(t *testing.T) {
	p := New("/srv/root")
	assert.Equal(t, "/srv/root/var/lib/starpack/cache/https___repo.example_repo.db.yaml", p.ManifestCachePath("https://repo.example/"))
	assert.Equal(t, "/srv/root/var/lib/starpack/cache/foo-1.0.0.starpack", p.ArchiveCachePath("foo-1.0.0.starpack"))
	assert.Equal(t, "/srv/root/var/lib/starpack/cache/foo-1.0.0.starpack.sig", p.SigCachePath("foo-1.0.0.starpack"))
}
