// Package repoindex implements the repository manifest model (C5) and the
// indexer that builds and augments it by scanning a directory of archives
// (C6).
package repoindex

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cperrin88/starpack/pkg/errs"
	"github.com/cperrin88/starpack/pkg/model"
)

// Load reads and parses a repo.db.yaml manifest from path.
func Load(path string) (model.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Manifest{}, errs.Wrap(err, "failed to read manifest")
	}
	var m model.Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return model.Manifest{}, errs.Wrap(err, "failed to parse manifest")
	}
	return m, nil
}

// Save serializes m to path, creating or truncating the file.
func Save(path string, m model.Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return errs.Wrap(err, "failed to marshal manifest")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errs.Wrap(err, "failed to write manifest")
	}
	return nil
}

// UnionEntry is the manifest entry Union chose for one package name, with
// the base URL (RepoURL) and configured position (RepoDir) of the
// repository it came from, so callers can resolve file_name against the
// right repository base URL.
type UnionEntry struct {
	Entry   model.ManifestEntry
	RepoURL string
	RepoDir int
}

// Union builds the first-wins view of a sequence of (repoURL, manifest)
// pairs, in configured order.
func Union(manifests []RepoManifest) map[string]UnionEntry {
	result := make(map[string]UnionEntry)
	for i, rm := range manifests {
		for _, entry := range rm.Manifest.Packages {
			if _, exists := result[entry.Name]; exists {
				continue
			}
			result[entry.Name] = UnionEntry{Entry: entry, RepoURL: rm.URL, RepoDir: i}
		}
	}
	return result
}

// RepoManifest pairs a loaded manifest with the base URL it came from.
type RepoManifest struct {
	URL      string
	Manifest model.Manifest
}
