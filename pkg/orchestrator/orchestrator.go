// Package orchestrator drives the three transactional state machines
// (install, remove, update) described in spec section 4.10, wiring the
// archive, download, sigverify, installdb, repoindex, resolve, hook, and
// chroot components together.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cperrin88/starpack/internal/logger"
	"github.com/cperrin88/starpack/pkg/archive"
	"github.com/cperrin88/starpack/pkg/config"
	"github.com/cperrin88/starpack/pkg/download"
	"github.com/cperrin88/starpack/pkg/errs"
	"github.com/cperrin88/starpack/pkg/hook"
	"github.com/cperrin88/starpack/pkg/installdb"
	"github.com/cperrin88/starpack/pkg/repoindex"
	"github.com/cperrin88/starpack/pkg/resolve"
	"github.com/cperrin88/starpack/pkg/sigverify"
)

// Event is a progress notification emitted as the orchestrator moves
// through a transaction's states.
type Event struct {
	Phase string // load_repos|download_manifests|resolve|fetch|verify|apply|summary
	ID    string
	Msg   string
}

// Hooks carries an optional progress callback.
type Hooks struct {
	OnEvent func(Event)
}

func emit(h Hooks, e Event) {
	if h.OnEvent != nil {
		h.OnEvent(e)
	}
}

// Orchestrator ties every component together for a single install root.
type Orchestrator struct {
	Paths    config.Paths
	Archives *archive.Manager
	Download *download.Manager
	Verify   *sigverify.Verifier
	DB       *installdb.DB
	Indexer  *repoindex.Indexer
	Hooks    *hook.Runner

	ProgressHooks Hooks
}

// New wires a fresh Orchestrator rooted at installRoot.
func New(installRoot string) (*Orchestrator, error) {
	paths := config.New(installRoot)
	db, err := installdb.Open(paths.InstalledDB())
	if err != nil {
		return nil, err
	}
	dl := download.NewManager()
	return &Orchestrator{
		Paths:    paths,
		Archives: archive.NewManager(),
		Download: dl,
		Verify:   sigverify.NewVerifier(dl),
		DB:       db,
		Indexer:  repoindex.NewIndexer(),
		Hooks:    hook.NewRunner(),
	}, nil
}

// loadManifests performs LOAD_REPOS -> DOWNLOAD_MANIFESTS -> PARSE_MANIFESTS:
// reads repos.conf, fetches (or reuses the cached copy of) each repository's
// manifest, and returns every successfully parsed manifest in configured
// repository order plus the ordered repo URL list used for signature key
// recovery.
func (o *Orchestrator) loadManifests(ctx context.Context) ([]repoindex.RepoManifest, []string, error) {
	emit(o.ProgressHooks, Event{Phase: "load_repos"})
	repos, err := config.LoadRepos(o.Paths.ReposConf())
	if err != nil {
		return nil, nil, err
	}

	var manifests []repoindex.RepoManifest
	for _, repoURL := range repos {
		emit(o.ProgressHooks, Event{Phase: "download_manifests", ID: repoURL})
		cachePath := o.Paths.ManifestCachePath(repoURL)
		manifestURL := repoURL + "repo.db.yaml"
		if err := o.Download.SyncFetch(ctx, manifestURL, cachePath); err != nil {
			logger.Warn("failed to fetch repository manifest; disabling repository for this transaction", logger.Fields{"repo": repoURL, "error": err})
			continue
		}
		m, err := repoindex.Load(cachePath)
		if err != nil {
			logger.Warn("failed to parse repository manifest; disabling repository for this transaction", logger.Fields{"repo": repoURL, "error": err})
			continue
		}
		manifests = append(manifests, repoindex.RepoManifest{URL: repoURL, Manifest: m})
	}

	return manifests, repos, nil
}

// loadCatalog builds the first-wins view of every repository manifest, used
// by Install/Resolve where the earliest-configured repository providing a
// name always wins.
func (o *Orchestrator) loadCatalog(ctx context.Context) (map[string]repoindex.UnionEntry, []string, error) {
	manifests, repos, err := o.loadManifests(ctx)
	if err != nil {
		return nil, nil, err
	}
	return repoindex.Union(manifests), repos, nil
}

// fetchAndVerify runs FETCH then VERIFY for every planned package: both the
// archive and its detached signature go through parallel_fetch, then each
// archive's signature is checked with key recovery against repos.
func (o *Orchestrator) fetchAndVerify(ctx context.Context, plan resolve.Plan, repos []string) error {
	emit(o.ProgressHooks, Event{Phase: "fetch"})

	var jobs []download.Job
	for _, name := range plan.Names {
		entry := plan.Entries[name].Entry
		repoURL := plan.Entries[name].RepoURL
		archiveURL := repoURL + entry.FileName
		sigURL := archiveURL + ".sig"
		jobs = append(jobs,
			download.Job{URL: archiveURL, Path: o.Paths.ArchiveCachePath(entry.FileName)},
			download.Job{URL: sigURL, Path: o.Paths.SigCachePath(entry.FileName)},
		)
	}
	if !o.Download.ParallelFetch(ctx, jobs) {
		return fmt.Errorf("%w: one or more archives or signatures failed to download", errs.ErrDownloadFailed)
	}

	emit(o.ProgressHooks, Event{Phase: "verify"})
	for _, name := range plan.Names {
		entry := plan.Entries[name].Entry
		archivePath := o.Paths.ArchiveCachePath(entry.FileName)
		sigPath := o.Paths.SigCachePath(entry.FileName)
		if err := o.Verify.Verify(ctx, archivePath, sigPath, o.Paths.InstallRoot, repos); err != nil {
			return errs.Wrapf(err, "signature verification failed for %s", name)
		}
	}
	return nil
}

// populateSkel copies <root>/etc/skel into <root>/root and every
// first-level directory under <root>/home, if etc/skel exists.
func (o *Orchestrator) populateSkel() error {
	skel := filepath.Join(o.Paths.InstallRoot, "etc", "skel")
	if _, err := os.Stat(skel); err != nil {
		return nil
	}

	targets := []string{filepath.Join(o.Paths.InstallRoot, "root")}
	homeDir := filepath.Join(o.Paths.InstallRoot, "home")
	if entries, err := os.ReadDir(homeDir); err == nil {
		for _, e := range entries {
			if e.IsDir() {
				targets = append(targets, filepath.Join(homeDir, e.Name()))
			}
		}
	}

	for _, target := range targets {
		if err := copyTree(skel, target); err != nil {
			return errs.Wrapf(err, "failed to populate skeleton into %s", target)
		}
	}
	return nil
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		if info.Mode()&os.ModeSymlink != 0 {
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			_ = os.Remove(target)
			return os.Symlink(link, target)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, info.Mode())
	})
}
