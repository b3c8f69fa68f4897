package repoindex

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/cperrin88/starpack/internal/logger"
	"github.com/cperrin88/starpack/pkg/archive"
	"github.com/cperrin88/starpack/pkg/errs"
	"github.com/cperrin88/starpack/pkg/model"
)

// packageMetadata is the shape of metadata.yaml inside a .starpack archive:
// the same fields as a manifest entry, minus file_name, files and
// strip_components, which are derived from the archive's own filename and
// contents.
type packageMetadata struct {
	Name         string             `yaml:"name"`
	Version      string             `yaml:"version"`
	Description  string             `yaml:"description,omitempty"`
	Dependencies []model.Dependency `yaml:"dependencies,omitempty"`
	UpdateTime   string             `yaml:"update_time,omitempty"`
	UpdateDirs   []string           `yaml:"update_dirs,omitempty"`
}

// Indexer scans a directory of .starpack archives and builds or augments
// its repo.db.yaml manifest.
type Indexer struct {
	archives *archive.Manager
}

// NewIndexer builds an Indexer backed by its own archive Manager.
func NewIndexer() *Indexer {
	return &Indexer{archives: archive.NewManager()}
}

// BuildIndex indexes every *.starpack file in dir and writes the combined
// manifest to <dir>/repo.db.yaml, overwriting any existing manifest.
func (ix *Indexer) BuildIndex(ctx context.Context, dir string) error {
	archives, err := filepath.Glob(filepath.Join(dir, "*.starpack"))
	if err != nil {
		return errs.Wrap(err, "failed to list archives")
	}
	entries := ix.indexArchives(ctx, archives)
	sort.Slice(entries, func(i, j int) bool { return entries[i].FileName < entries[j].FileName })
	return Save(filepath.Join(dir, "repo.db.yaml"), model.Manifest{Packages: entries})
}

// AugmentIndex indexes every *.starpack in dir not already represented by
// file_name in the existing manifest, appending new entries to it. If no
// manifest exists yet this behaves like BuildIndex.
func (ix *Indexer) AugmentIndex(ctx context.Context, dir string) error {
	manifestPath := filepath.Join(dir, "repo.db.yaml")
	existing, err := Load(manifestPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ix.BuildIndex(ctx, dir)
		}
		return err
	}

	indexed := make(map[string]bool, len(existing.Packages))
	for _, p := range existing.Packages {
		indexed[p.FileName] = true
	}

	all, err := filepath.Glob(filepath.Join(dir, "*.starpack"))
	if err != nil {
		return errs.Wrap(err, "failed to list archives")
	}
	var fresh []string
	for _, a := range all {
		if !indexed[filepath.Base(a)] {
			fresh = append(fresh, a)
		}
	}

	newEntries := ix.indexArchives(ctx, fresh)
	existing.Packages = append(existing.Packages, newEntries...)
	return Save(manifestPath, existing)
}

// indexArchives processes archivePaths with one worker per archive,
// bounded only by available goroutine scheduling (no semaphore: the spec
// calls for a worker per archive, not a bounded pool, for this component).
// Workers log under a shared lock so output lines do not interleave.
func (ix *Indexer) indexArchives(ctx context.Context, archivePaths []string) []model.ManifestEntry {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		logLock sync.Mutex
		results []model.ManifestEntry
	)

	for _, path := range archivePaths {
		wg.Add(1)
		go func(archivePath string) {
			defer wg.Done()
			entry, err := ix.indexOne(ctx, archivePath, &logLock)
			if err != nil {
				logLock.Lock()
				logger.Warn("failed to index archive", logger.Fields{"archive": archivePath, "error": err})
				logLock.Unlock()
				return
			}
			mu.Lock()
			results = append(results, entry)
			mu.Unlock()
		}(path)
	}
	wg.Wait()
	return results
}

// IndexArchive runs the same metadata-extraction and strip_components
// computation indexArchives uses internally, for callers (the updater) that
// need a single archive's manifest entry read straight from the archive
// itself rather than from a repository's cached manifest.
func (ix *Indexer) IndexArchive(ctx context.Context, archivePath string) (model.ManifestEntry, error) {
	var logLock sync.Mutex
	return ix.indexOne(ctx, archivePath, &logLock)
}

// indexOne extracts metadata.yaml and the files/ sub-tree of archivePath
// into a scratch directory, parses the metadata, computes strip_components,
// and assembles a manifest entry. The scratch directory is removed before
// return.
func (ix *Indexer) indexOne(ctx context.Context, archivePath string, logLock *sync.Mutex) (model.ManifestEntry, error) {
	scratch, err := os.MkdirTemp("", "starpack-index-*")
	if err != nil {
		return model.ManifestEntry{}, errs.Wrap(err, "failed to create scratch directory")
	}
	defer func() { _ = os.RemoveAll(scratch) }()

	logLock.Lock()
	logger.Info("indexing archive", logger.Fields{"archive": archivePath})
	logLock.Unlock()

	if err := ix.archives.ExtractEntry(ctx, archivePath, "metadata.yaml", scratch); err != nil {
		return model.ManifestEntry{}, errs.Wrap(err, "failed to extract metadata.yaml")
	}
	metaBytes, err := os.ReadFile(filepath.Join(scratch, "metadata.yaml"))
	if err != nil {
		return model.ManifestEntry{}, errs.Wrap(err, "failed to read metadata.yaml")
	}
	var meta packageMetadata
	if err := yaml.Unmarshal(metaBytes, &meta); err != nil {
		return model.ManifestEntry{}, errs.Wrap(err, "failed to parse metadata.yaml")
	}

	// strip_components is computed over every entry pathname in the archive
	// (metadata.yaml and hooks/ included, not just files/), per spec 4.6: a
	// depth of exactly 1 means the whole archive is wrapped in a single
	// <name>/ directory, and both that wrapper and the files/ section
	// prefix need stripping, hence the bump to 2.
	rawEntries, err := ix.archives.ListEntries(ctx, archivePath)
	if err != nil {
		return model.ManifestEntry{}, errs.Wrap(err, "failed to list archive entries")
	}
	strip := archive.LongestCommonPrefixDepth(rawEntries)
	if strip == 1 {
		strip = 2
	}

	filesDir := filepath.Join(scratch, "files-extracted")
	if err := ix.archives.ExtractSubtree(ctx, archivePath, "files/", filesDir, strip); err != nil {
		return model.ManifestEntry{}, errs.Wrap(err, "failed to extract files/ sub-tree")
	}
	files, err := enumerateFiles(filesDir)
	if err != nil {
		return model.ManifestEntry{}, err
	}

	return model.ManifestEntry{
		Name:            meta.Name,
		Version:         meta.Version,
		Description:     meta.Description,
		FileName:        filepath.Base(archivePath),
		Dependencies:    meta.Dependencies,
		Files:           files,
		StripComponents: strip,
		UpdateTime:      meta.UpdateTime,
		UpdateDirs:      meta.UpdateDirs,
	}, nil
}

// enumerateFiles recursively lists every regular file and symlink under
// root, as root-relative paths using forward slashes.
func enumerateFiles(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if p == root {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if d.Type().IsRegular() || d.Type()&os.ModeSymlink != 0 {
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			out = append(out, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(err, "failed to enumerate extracted files")
	}
	sort.Strings(out)
	return out, nil
}
