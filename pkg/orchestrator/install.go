package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/cperrin88/starpack/internal/logger"
	"github.com/cperrin88/starpack/pkg/errs"
	"github.com/cperrin88/starpack/pkg/hook"
	"github.com/cperrin88/starpack/pkg/installdb"
	"github.com/cperrin88/starpack/pkg/model"
	"github.com/cperrin88/starpack/pkg/resolve"
)

// Install runs the LOAD_REPOS -> ... -> SUMMARY state machine for the
// given requested package names.
func (o *Orchestrator) Install(ctx context.Context, requested []string) error {
	catalog, repos, err := o.loadCatalog(ctx)
	if err != nil {
		return err
	}

	emit(o.ProgressHooks, Event{Phase: "resolve"})
	resolver := resolve.NewResolver(catalog, o.DB)
	plan, err := resolver.Resolve(requested)
	if err != nil {
		return err
	}
	if len(plan.Names) == 0 {
		emit(o.ProgressHooks, Event{Phase: "summary", Msg: "nothing to do"})
		return nil
	}

	if err := o.fetchAndVerify(ctx, plan, repos); err != nil {
		return err
	}

	emit(o.ProgressHooks, Event{Phase: "apply"})
	var installedNames []string
	for _, name := range plan.Names {
		if err := o.applyOnePackage(ctx, name, plan.Entries[name].Entry); err != nil {
			return errs.Wrapf(err, "failed to install %s", name)
		}
		installedNames = append(installedNames, name)
		emit(o.ProgressHooks, Event{Phase: "apply", ID: name, Msg: "installed"})
	}

	for _, name := range installedNames {
		if _, err := o.Hooks.Run(ctx, o.Paths.InstallRoot, o.discoverHooks(name), hook.PostInstall, "install", nil); err != nil {
			return errs.Wrapf(err, "PostInstall hook failed for %s", name)
		}
	}

	emit(o.ProgressHooks, Event{Phase: "summary", Msg: fmt.Sprintf("installed %d packages", len(plan.Names))})
	return nil
}

// discoverHooks gathers the universal+package hook union for pkgName,
// logging but not failing on a discovery error so hook-less transactions
// are never blocked.
func (o *Orchestrator) discoverHooks(pkgName string) []hook.Hook {
	hooks, err := hook.Discover(o.Paths.InstallRoot, pkgName)
	if err != nil {
		logger.Warn("failed to discover hooks", logger.Fields{"package": pkgName, "error": err})
		return nil
	}
	return hooks
}

// applyOnePackage runs PRE_HOOKS -> EXTRACT_FILES -> POPULATE_SKEL ->
// EXTRACT_HOOKS -> DB_APPEND for a single planned package.
func (o *Orchestrator) applyOnePackage(ctx context.Context, name string, entry model.ManifestEntry) error {
	hooks := o.discoverHooks(name)
	affectedPaths := absoluteFiles(o.Paths.InstallRoot, entry.Files)

	if _, err := o.Hooks.Run(ctx, o.Paths.InstallRoot, hooks, hook.PreInstall, "install", affectedPaths); err != nil {
		return errs.Wrap(err, "PreInstall hook failed")
	}

	archivePath := o.Paths.ArchiveCachePath(entry.FileName)
	if err := o.Archives.ExtractSubtree(ctx, archivePath, "files/", o.Paths.InstallRoot, entry.StripComponents); err != nil {
		return errs.Wrap(err, "failed to extract files/")
	}

	if err := o.populateSkel(); err != nil {
		return err
	}

	if err := o.Archives.ExtractSubtree(ctx, archivePath, "hooks/", o.Paths.HooksDir(name), 0); err != nil {
		return errs.Wrap(err, "failed to extract hooks/")
	}

	depNames := make([]string, 0, len(entry.Dependencies))
	for _, d := range entry.Dependencies {
		depNames = append(depNames, d.Name)
	}

	record := installdb.AppendInput{
		Name:         entry.Name,
		Version:      entry.Version,
		Description:  entry.Description,
		UpdateTime:   entry.UpdateTime,
		Files:        affectedPaths,
		Dependencies: depNames,
	}
	if err := o.DB.AppendRecord(record); err != nil {
		return errs.Wrap(err, "failed to append database record")
	}

	return nil
}

// absoluteFiles joins installRoot onto every archive-relative path,
// producing the absolute form the installed database records under
// Files:.
func absoluteFiles(installRoot string, rel []string) []string {
	out := make([]string, len(rel))
	for i, r := range rel {
		out[i] = filepath.Join(installRoot, r)
	}
	return out
}
