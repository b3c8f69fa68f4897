package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/cperrin88/starpack/pkg/download"
	"github.com/cperrin88/starpack/pkg/errs"
	"github.com/cperrin88/starpack/pkg/hook"
	"github.com/cperrin88/starpack/pkg/model"
	"github.com/cperrin88/starpack/pkg/repoindex"
	"github.com/cperrin88/starpack/pkg/version"
)

// Update runs the update state machine for requested, or for every
// installed package when requested is empty.
func (o *Orchestrator) Update(ctx context.Context, requested []string) error {
	manifests, repos, err := o.loadManifests(ctx)
	if err != nil {
		return err
	}

	names := requested
	if len(names) == 0 {
		names, err = o.DB.AllInstalledNames()
		if err != nil {
			return err
		}
	}

	for _, name := range names {
		if err := o.updateOnePackage(ctx, name, manifests, repos); err != nil {
			return errs.Wrapf(err, "failed to update %s", name)
		}
	}
	return nil
}

// bestCandidate scans every repository manifest (in configured order) and
// returns the candidate with the highest (version, then update-time) per
// spec 4.10 Update. Ties are broken by configured repository order: the
// first manifest reaching the winning (version, update-time) pair wins,
// since later manifests are only preferred when they are strictly better.
func bestCandidate(manifests []repoindex.RepoManifest, name string) (repoindex.UnionEntry, bool) {
	var best repoindex.UnionEntry
	found := false
	for i, rm := range manifests {
		for _, entry := range rm.Manifest.Packages {
			if entry.Name != name {
				continue
			}
			if !found {
				best = repoindex.UnionEntry{Entry: entry, RepoURL: rm.URL, RepoDir: i}
				found = true
				continue
			}
			better, err := isNewerCandidate(best.Entry.Version, best.Entry.UpdateTime, entry.Version, entry.UpdateTime)
			if err != nil {
				continue
			}
			if better {
				best = repoindex.UnionEntry{Entry: entry, RepoURL: rm.URL, RepoDir: i}
			}
		}
	}
	return best, found
}

// updateOnePackage chooses the highest (version, update-time) candidate
// for name across every repository manifest and applies it if it is newer
// than the installed record.
func (o *Orchestrator) updateOnePackage(ctx context.Context, name string, manifests []repoindex.RepoManifest, repos []string) error {
	installed, err := o.DB.IsInstalled(name)
	if err != nil {
		return err
	}
	if !installed {
		return nil
	}

	candidate, ok := bestCandidate(manifests, name)
	if !ok {
		return nil
	}

	installedVersion, err := o.DB.GetVersion(name)
	if err != nil {
		return err
	}
	installedUpdateTime, err := o.DB.GetUpdateTime(name)
	if err != nil {
		return err
	}

	needsUpdate, err := isNewerCandidate(installedVersion, installedUpdateTime, candidate.Entry.Version, candidate.Entry.UpdateTime)
	if err != nil {
		return err
	}
	if !needsUpdate {
		return nil
	}

	entry := candidate.Entry
	repoURL := candidate.RepoURL

	archivePath := o.Paths.ArchiveCachePath(entry.FileName)
	sigPath := o.Paths.SigCachePath(entry.FileName)
	jobs := []download.Job{
		{URL: repoURL + entry.FileName, Path: archivePath},
		{URL: repoURL + entry.FileName + ".sig", Path: sigPath},
	}
	if !o.Download.ParallelFetch(ctx, jobs) {
		return errs.ErrDownloadFailed
	}
	if err := o.Verify.Verify(ctx, archivePath, sigPath, o.Paths.InstallRoot, repos); err != nil {
		return err
	}

	meta, metaErr := o.Indexer.IndexArchive(ctx, archivePath)
	if metaErr != nil {
		meta = entry // fall back to repository metadata
	}

	hooks := o.discoverHooks(name)
	oldFiles, err := o.DB.GetFiles(name)
	if err != nil {
		return err
	}
	if _, err := o.Hooks.Run(ctx, o.Paths.InstallRoot, hooks, hook.PreUpdate, "update", oldFiles); err != nil {
		return errs.Wrap(err, "PreUpdate hook failed")
	}

	staging, err := os.MkdirTemp("", "starpack-update-*")
	if err != nil {
		return errs.Wrap(err, "failed to create staging directory")
	}
	defer func() { _ = os.RemoveAll(staging) }()

	if err := o.Archives.ExtractSubtree(ctx, archivePath, "files/", staging, meta.StripComponents); err != nil {
		return errs.Wrap(err, "failed to extract files/ to staging")
	}

	filesToMove := meta.Files
	if len(entry.UpdateDirs) > 0 {
		filesToMove = filterByUpdateDirs(meta.Files, entry.UpdateDirs)
	}
	if err := moveStagedFiles(staging, o.Paths.InstallRoot, filesToMove); err != nil {
		return err
	}

	if err := o.DB.UpdateVersionAndTime(name, meta.Version, meta.UpdateTime); err != nil {
		return errs.Wrap(err, "failed to update database record")
	}

	if len(entry.UpdateDirs) == 0 {
		if err := o.removeObsoleteFiles(oldFiles, absoluteFiles(o.Paths.InstallRoot, meta.Files)); err != nil {
			return err
		}
	}

	newFiles := absoluteFiles(o.Paths.InstallRoot, meta.Files)
	if _, err := o.Hooks.Run(ctx, o.Paths.InstallRoot, hooks, hook.PostUpdate, "update", newFiles); err != nil {
		return errs.Wrap(err, "PostUpdate hook failed")
	}

	return nil
}

// isNewerCandidate implements the installed-version comparison described
// in spec 4.10 Update: equal version with no candidate update-time means
// skip; equal version with candidate update-time <= installed means skip;
// otherwise it is an update if the candidate version is >= installed (a
// higher version is always an update; an equal version only updates when
// its update-time strictly advances).
func isNewerCandidate(installedVersion, installedUpdateTime, candidateVersion, candidateUpdateTime string) (bool, error) {
	iv, err := version.Parse(installedVersion)
	if err != nil {
		return false, errs.Wrap(err, "invalid installed version")
	}
	cv, err := version.Parse(candidateVersion)
	if err != nil {
		return false, errs.Wrap(err, "invalid candidate version")
	}

	cmp := cv.Compare(iv)
	if cmp > 0 {
		return true, nil
	}
	if cmp < 0 {
		return false, nil
	}
	if candidateUpdateTime == "" {
		return false, nil
	}
	return model.CompareUpdateTimes(candidateUpdateTime, installedUpdateTime) > 0, nil
}

// filterByUpdateDirs keeps only the files whose path begins with one of
// allowedDirs.
func filterByUpdateDirs(files []string, allowedDirs []string) []string {
	var out []string
	for _, f := range files {
		for _, dir := range allowedDirs {
			if strings.HasPrefix(f, strings.TrimSuffix(dir, "/")+"/") || f == dir {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

// moveStagedFiles renames every file in files from staging into
// installRoot, creating parent directories and removing any existing
// destination first.
func moveStagedFiles(staging, installRoot string, files []string) error {
	for _, f := range files {
		src := filepath.Join(staging, f)
		dst := filepath.Join(installRoot, f)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return errs.Wrap(err, "failed to create destination parent directory")
		}
		_ = os.RemoveAll(dst)
		if err := os.Rename(src, dst); err != nil {
			return errs.Wrap(err, "failed to move staged file into place")
		}
	}
	return nil
}

// removeObsoleteFiles deletes every path in oldFiles not present in
// newFiles.
func (o *Orchestrator) removeObsoleteFiles(oldFiles, newFiles []string) error {
	keep := make(map[string]bool, len(newFiles))
	for _, f := range newFiles {
		keep[f] = true
	}
	var obsolete []string
	for _, f := range oldFiles {
		if !keep[f] {
			obsolete = append(obsolete, f)
		}
	}
	return removeFiles(obsolete)
}
