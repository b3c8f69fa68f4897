// Package version implements the dotted-integer version comparator and the
// constraint operator grammar (>, >=, <, <=, =, ==, !=) used by the resolver
// and updater. It is a thin domain layer over hashicorp/go-version, whose
// segment comparison already treats missing trailing components as zero.
package version

import (
	"fmt"
	"strings"

	hcversion "github.com/hashicorp/go-version"
)

// Version wraps a parsed dotted version.
type Version struct {
	v *hcversion.Version
}

// Parse parses a dotted version string such as "1.2.3" or "1".
func Parse(s string) (Version, error) {
	v, err := hcversion.NewVersion(strings.TrimSpace(s))
	if err != nil {
		return Version{}, fmt.Errorf("invalid version %q: %w", s, err)
	}
	return Version{v: v}, nil
}

// Compare returns -1, 0, or 1 as this version is less than, equal to, or
// greater than other. Missing trailing components compare as zero, so
// Compare(Parse("1"), Parse("1.0.0")) == 0.
func (v Version) Compare(other Version) int {
	return v.v.Compare(other.v)
}

func (v Version) String() string {
	if v.v == nil {
		return ""
	}
	return v.v.String()
}

// Constraint represents a single version-constraint operator/operand pair,
// or the empty constraint that accepts any version.
type Constraint struct {
	op  string
	ver Version
	any bool
}

// ParseConstraint parses a constraint expression such as ">= 1.2.0",
// "!=2.0", or "" (accepts any version).
func ParseConstraint(expr string) (Constraint, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Constraint{any: true}, nil
	}

	var op string
	for _, candidate := range []string{">=", "<=", "==", "!=", ">", "<", "="} {
		if strings.HasPrefix(expr, candidate) {
			op = candidate
			expr = strings.TrimSpace(strings.TrimPrefix(expr, candidate))
			break
		}
	}
	if op == "" {
		// Bare version string implies equality, matching the legacy
		// dependency-line grammar ("foo 1.2.0").
		op = "="
	}

	ver, err := Parse(expr)
	if err != nil {
		return Constraint{}, err
	}
	return Constraint{op: op, ver: ver}, nil
}

// Check reports whether candidate satisfies the constraint.
func (c Constraint) Check(candidate Version) bool {
	if c.any {
		return true
	}
	cmp := candidate.Compare(c.ver)
	switch c.op {
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case "=", "==":
		return cmp == 0
	case "!=":
		return cmp != 0
	default:
		return false
	}
}

func (c Constraint) String() string {
	if c.any {
		return ""
	}
	return c.op + c.ver.String()
}
