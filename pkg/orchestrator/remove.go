package orchestrator

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"sort"
	"strings"

	"github.com/cperrin88/starpack/internal/logger"
	"github.com/cperrin88/starpack/pkg/errs"
	"github.com/cperrin88/starpack/pkg/hook"
	"github.com/cperrin88/starpack/pkg/model"
)

// criticalPackages may not be removed without force, grounded on
// remove.cpp's criticalPackages set.
var criticalPackages = map[string]bool{
	"glibc":             true,
	"linux":             true,
	"coreutils":         true,
	"bash":              true,
	"systemd":           true,
	"util-linux":        true,
	"linux-zen":         true,
	"linux-api-headers": true,
	"dracut":            true,
	"linux-zen-headers": true,
	"sh":                true,
}

// criticalMessages is the refusal-message pool, grounded on remove.cpp's
// criticalMessages.
var criticalMessages = []string{
	"Refusing to remove {pkg}: this package is critical to system operation.",
	"{pkg} looks important. Removing it would probably ruin your day.",
	"Nope. {pkg} stays. Your system needs it to boot.",
	"Removing {pkg} is a one-way trip to an unbootable system. Declined.",
	"{pkg} is on the critical list. Use your judgement elsewhere.",
	"I can't let you remove {pkg}. That's how systems die.",
	"{pkg} is load-bearing. Request denied.",
	"Not today. {pkg} keeps the lights on.",
	"Removing {pkg} would be catastrophic. Refusing.",
}

const starpackRemovalMessage = "Removing starpack would remove the only thing capable of reinstalling it. Refusing."

// recentMessages is a size-5 ring buffer of recently used indices into
// criticalMessages, avoiding immediate repeats across refusals.
type recentMessages struct {
	history [5]int
	next    int
	filled  int
}

func (r *recentMessages) inHistory(i int) bool {
	for k := 0; k < r.filled; k++ {
		if r.history[k] == i {
			return true
		}
	}
	return false
}

func (r *recentMessages) record(i int) {
	r.history[r.next] = i
	r.next = (r.next + 1) % len(r.history)
	if r.filled < len(r.history) {
		r.filled++
	}
}

func (r *recentMessages) pick() string {
	var candidates []int
	for i := range criticalMessages {
		if !r.inHistory(i) {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		for i := range criticalMessages {
			candidates = append(candidates, i)
		}
	}
	idx := candidates[rand.IntN(len(candidates))]
	r.record(idx)
	return criticalMessages[idx]
}

// RemoveOptions controls Remove's reverse-dependency and cascade behavior.
type RemoveOptions struct {
	Force bool
}

// Remove runs the breadth-first, queue-driven remove state machine over
// the initial list of package names.
func (o *Orchestrator) Remove(ctx context.Context, requested []string, opts RemoveOptions) error {
	msgs := &recentMessages{}

	queue := append([]string{}, requested...)
	queued := make(map[string]bool)
	processed := make(map[string]bool)
	for _, n := range queue {
		queued[n] = true
	}

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if processed[name] {
			continue
		}

		canon := model.CanonicalName(name)
		if canon == "starpack" {
			return fmt.Errorf("%w: %s", errs.ErrCriticalPackage, starpackRemovalMessage)
		}
		if criticalPackages[canon] && !opts.Force {
			msg := strings.ReplaceAll(msgs.pick(), "{pkg}", canon)
			return fmt.Errorf("%w: %s", errs.ErrCriticalPackage, msg)
		}

		installed, err := o.DB.IsInstalled(canon)
		if err != nil {
			return err
		}
		if !installed {
			processed[name] = true
			continue
		}

		if !opts.Force {
			revDeps, err := o.DB.GetReverseDependencies(canon)
			if err != nil {
				return err
			}
			var blocking []string
			for _, dep := range revDeps {
				if queued[dep] || processed[dep] {
					continue
				}
				blocking = append(blocking, dep)
			}
			if len(blocking) > 0 {
				sort.Strings(blocking)
				return fmt.Errorf("%w: %s is required by %s", errs.ErrReverseDependency, canon, strings.Join(blocking, ", "))
			}
		}

		deps, err := o.DB.GetDependencies(canon)
		if err != nil {
			return err
		}

		if err := o.removeOnePackage(ctx, canon); err != nil {
			return errs.Wrapf(err, "failed to remove %s", canon)
		}
		processed[canon] = true

		for _, dep := range deps {
			if queued[dep] || processed[dep] {
				continue
			}
			orphaned, err := o.isOrphan(dep, processed)
			if err != nil {
				return err
			}
			if orphaned {
				queue = append(queue, dep)
				queued[dep] = true
			}
		}
	}

	return nil
}

// isOrphan reports whether name has no remaining reverse dependencies once
// the already-processed (removed) set is excluded.
func (o *Orchestrator) isOrphan(name string, processed map[string]bool) (bool, error) {
	revDeps, err := o.DB.GetReverseDependencies(name)
	if err != nil {
		return false, err
	}
	for _, dep := range revDeps {
		if !processed[dep] {
			return false, nil
		}
	}
	return true, nil
}

// removeOnePackage runs PRE_HOOKS -> REMOVE_FILES -> DB_SPLICE -> POST_HOOKS
// for a single package already confirmed installed and unblocked.
func (o *Orchestrator) removeOnePackage(ctx context.Context, name string) error {
	files, err := o.DB.GetFiles(name)
	if err != nil {
		return err
	}

	hooks := o.discoverHooks(name)
	if _, err := o.Hooks.Run(ctx, o.Paths.InstallRoot, hooks, hook.PreRemove, "remove", files); err != nil {
		return errs.Wrap(err, "PreRemove hook failed")
	}

	if err := removeFiles(files); err != nil {
		return err
	}

	if err := o.DB.SpliceRecord(name); err != nil {
		return errs.Wrap(err, "failed to splice database record")
	}

	if _, err := o.Hooks.Run(ctx, o.Paths.InstallRoot, hooks, hook.PostRemove, "remove", files); err != nil {
		return errs.Wrap(err, "PostRemove hook failed")
	}

	return nil
}

// removeFiles implements the remove-files policy: sort by descending path
// length, skip anything containing "..", delete regular files and symlinks
// unconditionally, delete directories only if empty, then sweep
// newly-emptied directories in ascending length order.
func removeFiles(files []string) error {
	sorted := append([]string{}, files...)
	sort.Slice(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })

	var dirCandidates []string
	for _, f := range sorted {
		if strings.Contains(f, "..") {
			logger.Warn("skipping file with .. path component during removal", logger.Fields{"path": f})
			continue
		}
		st, err := os.Lstat(f)
		if err != nil {
			continue
		}
		if st.IsDir() {
			if err := os.Remove(f); err == nil || os.IsNotExist(err) {
				continue
			}
			dirCandidates = append(dirCandidates, f)
			continue
		}
		_ = os.Remove(f)
	}

	sort.Slice(dirCandidates, func(i, j int) bool { return len(dirCandidates[i]) < len(dirCandidates[j]) })
	for _, dir := range dirCandidates {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		if len(entries) == 0 {
			_ = os.Remove(dir)
		}
	}
	return nil
}
