// Package hook implements the declarative INI-like hook grammar, discovery,
// matching, and execution described in spec section 4.8, grounded on the
// original implementation's NewStyleUniversalHook parser and matcher.
package hook

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cperrin88/starpack/internal/logger"
	"github.com/cperrin88/starpack/pkg/chroot"
	"github.com/cperrin88/starpack/pkg/errs"
)

// Phase is one of the six lifecycle points a hook can fire at.
type Phase string

const (
	PreInstall  Phase = "PreInstall"
	PostInstall Phase = "PostInstall"
	PreUpdate   Phase = "PreUpdate"
	PostUpdate  Phase = "PostUpdate"
	PreRemove   Phase = "PreRemove"
	PostRemove  Phase = "PostRemove"
)

// Hook is a parsed .hook file.
type Hook struct {
	SourceFilePath string

	Name        string
	Description string

	Phase      Phase
	Operations []string
	Paths      []string
	Negations  []string

	Command    string
	NeedsPaths bool
}

// parseFile parses a single .hook file at path. Missing Phase or Command is
// a warning, not a fatal error; malformed lines are warnings and skipped.
func parseFile(path string) (Hook, error) {
	f, err := os.Open(path)
	if err != nil {
		return Hook{}, errs.Wrap(err, "failed to open hook file")
	}
	defer func() { _ = f.Close() }()

	h := Hook{SourceFilePath: path}
	section := ""

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.TrimSuffix(strings.TrimPrefix(line, "["), "]")
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			logger.Warn("malformed line, skipping", logger.Fields{"hook": path, "line": line})
			continue
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])

		switch section {
		case "Hook":
			switch key {
			case "Name":
				h.Name = value
			case "Description":
				h.Description = value
			default:
				logger.Warn("unknown key in [Hook]", logger.Fields{"hook": path, "key": key})
			}
		case "When":
			switch key {
			case "Phase":
				h.Phase = Phase(value)
			case "Operation":
				h.Operations = append(h.Operations, value)
			case "Paths":
				warnIfOpaqueGlob(path, value)
				h.Paths = append(h.Paths, value)
			case "Negation":
				warnIfOpaqueGlob(path, value)
				h.Negations = append(h.Negations, value)
			default:
				logger.Warn("unknown key in [When]", logger.Fields{"hook": path, "key": key})
			}
		case "Exec":
			switch key {
			case "Command":
				h.Command = value
			case "NeedsPaths":
				b, err := strconv.ParseBool(value)
				if err != nil {
					logger.Warn("invalid NeedsPaths value", logger.Fields{"hook": path, "value": value})
				} else {
					h.NeedsPaths = b
				}
			default:
				logger.Warn("unknown key in [Exec]", logger.Fields{"hook": path, "key": key})
			}
		default:
			logger.Warn("key outside any section", logger.Fields{"hook": path, "key": key})
		}
	}
	if err := scanner.Err(); err != nil {
		return Hook{}, errs.Wrap(err, "failed to read hook file")
	}

	if h.Phase == "" {
		logger.Warn("hook file missing Phase", logger.Fields{"hook": path})
	}
	if h.Command == "" {
		logger.Warn("hook file missing Command", logger.Fields{"hook": path})
	}
	return h, nil
}

// Discover returns the union of universal hooks under
// /etc/starpack.d/universal-hooks/*.hook and, if pkgName is non-empty,
// package hooks under <installRoot>/etc/starpack/hooks/<pkgName>/*.hook.
// A package hook is shadowed by a universal hook of the same filename.
func Discover(installRoot, pkgName string) ([]Hook, error) {
	seen := make(map[string]bool)
	var hooks []Hook

	universal, err := globHooks("/etc/starpack.d/universal-hooks")
	if err != nil {
		return nil, err
	}
	for _, path := range universal {
		h, err := parseFile(path)
		if err != nil {
			logger.Warn("failed to parse universal hook", logger.Fields{"hook": path, "error": err})
			continue
		}
		hooks = append(hooks, h)
		seen[filepath.Base(path)] = true
	}

	if pkgName != "" {
		pkgDir := filepath.Join(installRoot, "etc", "starpack", "hooks", pkgName)
		pkgHooks, err := globHooks(pkgDir)
		if err != nil {
			return nil, err
		}
		for _, path := range pkgHooks {
			if seen[filepath.Base(path)] {
				continue
			}
			h, err := parseFile(path)
			if err != nil {
				logger.Warn("failed to parse package hook", logger.Fields{"hook": path, "error": err})
				continue
			}
			hooks = append(hooks, h)
		}
	}

	return hooks, nil
}

func globHooks(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.hook"))
	if err != nil {
		return nil, errs.Wrap(err, "failed to glob hook directory")
	}
	return matches, nil
}

// warnIfOpaqueGlob warns at parse time for any pattern that does not match
// one of the four recognized glob shapes, since it will be treated as a
// plain literal at match time.
func warnIfOpaqueGlob(path, pattern string) {
	if pattern == "*" {
		return
	}
	leading := strings.HasPrefix(pattern, "*")
	trailing := strings.HasSuffix(pattern, "*")
	if leading || trailing {
		return
	}
	if strings.ContainsAny(pattern, "*?[]") {
		logger.Warn("pattern is not one of the recognized glob shapes, treated as a literal", logger.Fields{"hook": path, "pattern": pattern})
	}
}

// matchWildcard implements the deliberately restricted four-case glob
// subset: "*" matches everything, "*X*" substring, "*X" suffix, "X*"
// prefix, anything else is a literal match (with a caller-side warning).
func matchWildcard(pattern, candidate string) bool {
	switch {
	case pattern == "*":
		return true
	case strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*") && len(pattern) > 1:
		return strings.Contains(candidate, pattern[1:len(pattern)-1])
	case strings.HasPrefix(pattern, "*"):
		return strings.HasSuffix(candidate, pattern[1:])
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(candidate, pattern[:len(pattern)-1])
	default:
		return pattern == candidate
	}
}

// Matches reports whether h fires for the given phase, operation, and set
// of affected paths.
func (h Hook) Matches(phase Phase, operation string, affectedPaths []string) bool {
	if h.Phase != phase {
		return false
	}
	if len(h.Operations) > 0 {
		found := false
		for _, op := range h.Operations {
			if op == operation {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(h.Paths) > 0 {
		found := false
		for _, p := range affectedPaths {
			for _, pattern := range h.Paths {
				if matchWildcard(pattern, p) {
					found = true
					break
				}
			}
			if found {
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, p := range affectedPaths {
		for _, pattern := range h.Negations {
			if matchWildcard(pattern, p) {
				return false
			}
		}
	}
	return true
}

// Runner executes matched hooks, choosing between direct and chroot
// execution by comparing canonicalized installRoot against canonicalized
// "/".
type Runner struct {
	chroot *chroot.Executor
}

// NewRunner builds a Runner.
func NewRunner() *Runner {
	return &Runner{chroot: chroot.NewExecutor()}
}

func canonicalize(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return filepath.Clean(abs)
	}
	return resolved
}

// Run executes every hook matching (phase, operation, affectedPaths) out of
// candidates, in ascending SourceFilePath order, stopping at the first
// failure. It returns the count of hooks actually executed.
func (r *Runner) Run(ctx context.Context, installRoot string, candidates []Hook, phase Phase, operation string, affectedPaths []string) (int, error) {
	var matched []Hook
	for _, h := range candidates {
		if h.Matches(phase, operation, affectedPaths) {
			matched = append(matched, h)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].SourceFilePath < matched[j].SourceFilePath })

	executed := 0
	for _, h := range matched {
		if err := r.execute(ctx, installRoot, h); err != nil {
			return executed, err
		}
		executed++
	}
	return executed, nil
}

func (r *Runner) execute(ctx context.Context, installRoot string, h Hook) error {
	useChroot := canonicalize(installRoot) != canonicalize("/")

	if useChroot {
		shPath := filepath.Join(installRoot, "bin", "sh")
		if _, err := os.Stat(shPath); err != nil {
			return fmt.Errorf("%w: %s", errs.ErrChrootShellMissing, shPath)
		}
		ok, err := r.chroot.Run(ctx, installRoot, "/bin/sh", []string{"-c", h.Command}, "/")
		if err != nil {
			return errs.Wrap(err, "chroot hook execution failed")
		}
		if !ok {
			return fmt.Errorf("%w: %s", errs.ErrHookExecution, h.SourceFilePath)
		}
		return nil
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", h.Command)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s: %v", errs.ErrHookExecution, h.SourceFilePath, err)
	}
	return nil
}
