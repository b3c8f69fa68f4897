// Package model holds the data types shared by the repository index, the
// installed database, the resolver, and the orchestrator: package
// identifiers, dependency declarations, and the manifest/record shapes
// described in spec section 3 of the design.
package model

import (
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// CanonicalName strips everything from the first '/' or '\' onward, so that
// "foo/qualifier" and "foo" both canonicalize to "foo". Mirrors the
// original implementation's removeSlashAndAfter helper.
func CanonicalName(raw string) string {
	slash := strings.IndexByte(raw, '/')
	backslash := strings.IndexByte(raw, '\\')
	pos := -1
	if slash >= 0 {
		pos = slash
	}
	if backslash >= 0 && (pos < 0 || backslash < pos) {
		pos = backslash
	}
	if pos >= 0 {
		return raw[:pos]
	}
	return raw
}

// Dependency is a declared dependency name with an optional version
// constraint expression (operator + dotted version, or empty for "any").
type Dependency struct {
	Name              string
	VersionConstraint string
}

// ManifestEntry is one package entry in a repository's repo.db.yaml.
type ManifestEntry struct {
	Name            string       `yaml:"name"`
	Version         string       `yaml:"version"`
	Description     string       `yaml:"description,omitempty"`
	FileName        string       `yaml:"file_name"`
	Dependencies    []Dependency `yaml:"dependencies,omitempty"`
	Files           []string     `yaml:"files,omitempty"`
	StripComponents int          `yaml:"strip_components"`
	UpdateTime      string       `yaml:"update_time,omitempty"`
	UpdateDirs      []string     `yaml:"update_dirs,omitempty"`
}

// Manifest is the top-level shape of repo.db.yaml: { packages: [...] }.
type Manifest struct {
	Packages []ManifestEntry `yaml:"packages"`
}

// MarshalYAML renders a Dependency the same way the legacy manifests do:
// "name" when unconstrained, "name constraint" otherwise.
func (d Dependency) MarshalYAML() (interface{}, error) {
	if d.VersionConstraint == "" {
		return d.Name, nil
	}
	return d.Name + " " + d.VersionConstraint, nil
}

// UnmarshalYAML accepts either a bare name or "name constraint".
func (d *Dependency) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	fields := strings.Fields(raw)
	switch len(fields) {
	case 0:
		return nil
	case 1:
		d.Name = CanonicalName(fields[0])
	default:
		d.Name = CanonicalName(fields[0])
		d.VersionConstraint = strings.Join(fields[1:], "")
	}
	return nil
}

// update-time layouts that must both be accepted when reading. The legacy
// ISO forms come from repository manifests and installed-db records; the
// DD/MM/YYYY form comes from the legacy Updater's date comparator.
var updateTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05",
	time.RFC1123,
	time.RFC1123Z,
	"02/01/2006",
}

// ParseUpdateTime parses an update-time string in any of the formats that
// coexist in repository manifests and installed-db records.
func ParseUpdateTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range updateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// CompareUpdateTimes parses both strings in any accepted layout and compares
// the results; unparsable times sort as the zero time.
func CompareUpdateTimes(a, b string) int {
	ta, okA := ParseUpdateTime(a)
	tb, okB := ParseUpdateTime(b)
	if !okA {
		ta = time.Time{}
	}
	if !okB {
		tb = time.Time{}
	}
	switch {
	case ta.Before(tb):
		return -1
	case ta.After(tb):
		return 1
	default:
		return 0
	}
}
