// Package config loads repos.conf and resolves the fixed filesystem layout
// under an install root described in spec section 6.
package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/cperrin88/starpack/pkg/errs"
)

// Paths resolves the fixed set of locations starpack reads and writes
// under a given install root.
type Paths struct {
	InstallRoot string
}

// New builds a Paths rooted at installRoot.
func New(installRoot string) Paths {
	return Paths{InstallRoot: installRoot}
}

// ReposConf returns <installRoot>/etc/starpack/repos.conf.
func (p Paths) ReposConf() string {
	return filepath.Join(p.InstallRoot, "etc", "starpack", "repos.conf")
}

// KeyringPath returns <installRoot>/etc/starpack/keys/starpack.gpg.
func (p Paths) KeyringPath() string {
	return filepath.Join(p.InstallRoot, "etc", "starpack", "keys", "starpack.gpg")
}

// HooksDir returns <installRoot>/etc/starpack/hooks/<pkg>.
func (p Paths) HooksDir(pkg string) string {
	return filepath.Join(p.InstallRoot, "etc", "starpack", "hooks", pkg)
}

// InstalledDB returns <installRoot>/var/lib/starpack/installed.db.
func (p Paths) InstalledDB() string {
	return filepath.Join(p.InstallRoot, "var", "lib", "starpack", "installed.db")
}

// CacheDir returns <installRoot>/var/lib/starpack/cache.
func (p Paths) CacheDir() string {
	return filepath.Join(p.InstallRoot, "var", "lib", "starpack", "cache")
}

// UniversalHooksDir is host-only: it is never relative to an install root.
const UniversalHooksDir = "/etc/starpack.d/universal-hooks"

// LoadRepos reads repos.conf: one base URL per line, '#'-prefixed lines and
// blank lines ignored. Missing file is reported via ErrNoRepositories.
func LoadRepos(path string) ([]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, errs.ErrNoRepositories
	}
	if err != nil {
		return nil, errs.Wrap(err, "failed to open repos.conf")
	}
	defer func() { _ = f.Close() }()

	var repos []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.HasSuffix(line, "/") {
			line += "/"
		}
		repos = append(repos, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.Wrap(err, "failed to read repos.conf")
	}
	if len(repos) == 0 {
		return nil, errs.ErrNoRepositories
	}
	return repos, nil
}

// SaveRepos writes repos, one URL per line, overwriting any existing file.
func SaveRepos(path string, repos []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errs.Wrap(err, "failed to create repos.conf directory")
	}
	var b strings.Builder
	for _, r := range repos {
		b.WriteString(r)
		b.WriteString("\n")
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return errs.Wrap(err, "failed to write repos.conf")
	}
	return nil
}

// SanitizeURLForCache produces a filesystem-safe prefix for a repository
// URL's cached manifest, e.g. "https://repo.example/" ->
// "https___repo.example_".
func SanitizeURLForCache(url string) string {
	var b strings.Builder
	for _, r := range url {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// ManifestCachePath returns the cache path for repoURL's manifest.
func (p Paths) ManifestCachePath(repoURL string) string {
	return filepath.Join(p.CacheDir(), SanitizeURLForCache(repoURL)+"repo.db.yaml")
}

// ArchiveCachePath returns the cache path for a fileName fetched from any
// repository (shared across repos, as spec §3's Lifecycles table implies).
func (p Paths) ArchiveCachePath(fileName string) string {
	return filepath.Join(p.CacheDir(), fileName)
}

// SigCachePath returns the cache path for fileName's detached signature.
func (p Paths) SigCachePath(fileName string) string {
	return filepath.Join(p.CacheDir(), fileName+".sig")
}
