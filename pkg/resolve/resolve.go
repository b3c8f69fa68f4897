// Package resolve closes a requested-package set over declared dependency
// edges, validates version constraints, and emits a cycle-tolerant
// topological install order (C7).
package resolve

import (
	"fmt"
	"sort"

	"github.com/cperrin88/starpack/pkg/errs"
	"github.com/cperrin88/starpack/pkg/repoindex"
	"github.com/cperrin88/starpack/pkg/version"
)

// InstalledChecker reports whether a package is installed, without pulling
// in the full installdb.DB type as a hard dependency of the signature.
type InstalledChecker interface {
	IsInstalled(name string) (bool, error)
}

// Resolver closes dependency sets and produces install plans.
type Resolver struct {
	catalog map[string]repoindex.UnionEntry
	db      InstalledChecker
}

// NewResolver builds a Resolver over the first-wins manifest union and an
// installed-database handle used for already-installed short-circuiting.
func NewResolver(catalog map[string]repoindex.UnionEntry, db InstalledChecker) *Resolver {
	return &Resolver{catalog: catalog, db: db}
}

// Plan is the ordered, already-installed-filtered result of a resolution.
type Plan struct {
	// Names is the install order: dependencies before dependents, with
	// cycle participants appended lexicographically.
	Names []string
	// Entries maps each planned name to its chosen manifest entry.
	Entries map[string]repoindex.UnionEntry
}

// Resolve closes requested over the catalog and already-installed set,
// validates version constraints, and returns an install plan.
func (r *Resolver) Resolve(requested []string) (Plan, error) {
	closure, discoveryOrder, err := r.closeSet(requested)
	if err != nil {
		return Plan{}, err
	}
	if err := r.validateConstraints(closure); err != nil {
		return Plan{}, err
	}

	order := topoSort(closure, discoveryOrder)

	filtered := make([]string, 0, len(order))
	for _, name := range order {
		installed, err := r.db.IsInstalled(name)
		if err != nil {
			return Plan{}, err
		}
		if installed {
			continue
		}
		filtered = append(filtered, name)
	}

	entries := make(map[string]repoindex.UnionEntry, len(filtered))
	for _, name := range filtered {
		if e, ok := r.catalog[name]; ok {
			entries[name] = e
		}
	}

	return Plan{Names: filtered, Entries: entries}, nil
}

// closeSet performs a depth-first walk from requested, pushing declared
// dependency names for every manifest-present package, treating
// already-installed-but-not-in-any-manifest names as satisfied leaves, and
// failing otherwise. It also returns the closed names in first-discovered
// order, which topoSort uses as its insertion-order tie-break.
func (r *Resolver) closeSet(requested []string) (map[string]repoindex.UnionEntry, []string, error) {
	closure := make(map[string]repoindex.UnionEntry)
	visited := make(map[string]bool)
	var discoveryOrder []string

	var visit func(name string) error
	visit = func(name string) error {
		if visited[name] {
			return nil
		}
		visited[name] = true

		entry, inManifest := r.catalog[name]
		if !inManifest {
			installed, err := r.db.IsInstalled(name)
			if err != nil {
				return err
			}
			if installed {
				return nil
			}
			return fmt.Errorf("%w: %s", errs.ErrPackageNotFound, name)
		}

		closure[name] = entry
		discoveryOrder = append(discoveryOrder, name)
		for _, dep := range entry.Entry.Dependencies {
			if err := visit(dep.Name); err != nil {
				return err
			}
		}
		return nil
	}

	for _, name := range requested {
		if err := visit(name); err != nil {
			return nil, nil, err
		}
	}
	return closure, discoveryOrder, nil
}

// validateConstraints checks every dependency edge's version constraint
// against the dependency's chosen manifest version.
func (r *Resolver) validateConstraints(closure map[string]repoindex.UnionEntry) error {
	for _, entry := range closure {
		for _, dep := range entry.Entry.Dependencies {
			if dep.VersionConstraint == "" {
				continue
			}
			depEntry, ok := closure[dep.Name]
			if !ok {
				continue // already-installed leaf; not constrained against a manifest entry
			}
			constraint, err := version.ParseConstraint(dep.VersionConstraint)
			if err != nil {
				return errs.Wrap(err, "invalid version constraint")
			}
			available, err := version.Parse(depEntry.Entry.Version)
			if err != nil {
				return errs.Wrap(err, "invalid available version")
			}
			if !constraint.Check(available) {
				return fmt.Errorf("%w: %s requires %s%s, have %s",
					errs.ErrConstraintNotMet, entry.Entry.Name, dep.Name, dep.VersionConstraint, depEntry.Entry.Version)
			}
		}
	}
	return nil
}

// topoSort runs Kahn's algorithm over the dependency->dependent edges of
// closure, emitting zero-in-degree nodes in first-discovered (insertion)
// order. Any nodes left once the queue empties are cycle participants and
// are appended sorted lexicographically so the result is always a total
// order over closure's keys.
func topoSort(closure map[string]repoindex.UnionEntry, insertionOrder []string) []string {
	inDegree := make(map[string]int, len(closure))
	adj := make(map[string][]string) // dep -> dependents, in discovery order
	for name := range closure {
		inDegree[name] = 0
	}
	for _, name := range insertionOrder {
		entry := closure[name]
		for _, dep := range entry.Entry.Dependencies {
			if _, ok := closure[dep.Name]; !ok {
				continue
			}
			adj[dep.Name] = append(adj[dep.Name], name)
			inDegree[name]++
		}
	}

	var queue []string
	for _, name := range insertionOrder {
		if inDegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	var order []string
	processed := make(map[string]bool)
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if processed[name] {
			continue
		}
		processed[name] = true
		order = append(order, name)

		for _, dependent := range adj[name] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(order) < len(closure) {
		var remaining []string
		for name := range closure {
			if !processed[name] {
				remaining = append(remaining, name)
			}
		}
		sort.Strings(remaining)
		order = append(order, remaining...)
	}
	return order
}
