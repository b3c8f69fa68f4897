package orchestrator

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/mholt/archives"
	"github.com/stretchr/testify/require"
)

// requireGPG skips the calling test when no gpg binary is on PATH.
func requireGPG(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("gpg")
	if err != nil {
		t.Skip("gpg not installed")
	}
	return path
}

// gpgFixture owns a throwaway GNUPGHOME with one generated signing key,
// used to produce real detached signatures for end-to-end orchestrator
// tests without ever shelling out to a network keyserver.
type gpgFixture struct {
	t         *testing.T
	gpgPath   string
	gnupgHome string
}

func newGPGFixture(t *testing.T) *gpgFixture {
	t.Helper()
	gpgPath := requireGPG(t)
	gnupgHome := t.TempDir()
	require.NoError(t, os.Chmod(gnupgHome, 0o700))

	f := &gpgFixture{t: t, gpgPath: gpgPath, gnupgHome: gnupgHome}

	params := "%no-protection\n" +
		"Key-Type: RSA\n" +
		"Key-Length: 2048\n" +
		"Name-Real: Test Signer\n" +
		"Name-Email: test@example.com\n" +
		"Expire-Date: 0\n" +
		"%commit\n"
	paramsPath := filepath.Join(gnupgHome, "key-params")
	require.NoError(t, os.WriteFile(paramsPath, []byte(params), 0o600))
	f.run("--batch", "--gen-key", paramsPath)

	return f
}

func (f *gpgFixture) run(args ...string) []byte {
	f.t.Helper()
	cmd := exec.Command(f.gpgPath, args...)
	cmd.Env = append(os.Environ(), "GNUPGHOME="+f.gnupgHome)
	out, err := cmd.CombinedOutput()
	require.NoError(f.t, err, "gpg %v: %s", args, out)
	return out
}

// exportPublicKeyInto imports this fixture's armored public key straight
// into the starpack keyring at keyringPath with gpg --import, so the key is
// already present before Verify ever runs.
func (f *gpgFixture) exportPublicKeyInto(keyringPath string) {
	f.t.Helper()
	armored := f.run("--batch", "--armor", "--export", "test@example.com")

	ascPath := filepath.Join(f.t.TempDir(), "pub.asc")
	require.NoError(f.t, os.WriteFile(ascPath, armored, 0o644))

	require.NoError(f.t, os.MkdirAll(filepath.Dir(keyringPath), 0o700))
	cmd := exec.Command(f.gpgPath, "--no-default-keyring", "--keyring", keyringPath, "--import", ascPath)
	out, err := cmd.CombinedOutput()
	require.NoError(f.t, err, "gpg import: %s", out)
}

// detachSign produces a detached signature file alongside targetPath and
// returns its path.
func (f *gpgFixture) detachSign(targetPath string) string {
	f.t.Helper()
	sigPath := targetPath + ".sig"
	f.run("--batch", "--yes", "--local-user", "test@example.com", "--detach-sign", "--output", sigPath, targetPath)
	return sigPath
}

// buildPackageArchive lays out files under a files/ subtree with no wrapper
// directory (strip_components 0) and archives it the same way the archive
// package's own fixture builder does, via FilesFromDisk + CompressedArchive.
func buildPackageArchive(t *testing.T, name string, files map[string]string) string {
	t.Helper()
	tempDir := t.TempDir()
	sourceDir := filepath.Join(tempDir, "source")
	for rel, content := range files {
		full := filepath.Join(sourceDir, "files", rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}

	archivePath := filepath.Join(tempDir, name+".starpack")
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

func mustReadFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}
