// Package crate defines the version and source vocabulary shared by the
// configuration resolver, the build driver, and the matrix runner: the
// things a test matrix is made of, independent of how a given cell is run.
package crate

import (
	"fmt"

	"github.com/Masterminds/semver"
)

// versionKind discriminates the tagged union that is Version. A Version is
// one of a semver string, a VCS revision identifier, or the Latest sentinel
// resolved lazily by the runner against the package index.
type versionKind uint8

const (
	kindSemver versionKind = iota
	kindRevision
	kindLatest
)

// Version is a tagged value: a semver string, a VCS revision, or Latest.
// The zero Version is not valid; always construct one of the three
// constructors below.
type Version struct {
	kind versionKind
	raw  string
	sv   *semver.Version // non-nil only for kindSemver
}

// Latest is the sentinel resolved lazily by the runner against the package
// index. It must never reach the build driver unresolved.
var Latest = Version{kind: kindLatest}

// NewSemverVersion parses body as a semver string. If it does not parse as
// strict semver, the raw string is still retained (crates.io tolerates a few
// pre-1.0 and build-metadata shapes semver.NewVersion rejects), and Equal
// compares such a version by its raw string. This package defines no
// ordering comparison.
func NewSemverVersion(body string) Version {
	sv, err := semver.NewVersion(body)
	if err != nil {
		return Version{kind: kindSemver, raw: body}
	}
	return Version{kind: kindSemver, raw: body, sv: sv}
}

// NewRevisionVersion wraps a VCS revision identifier (a git SHA, typically).
func NewRevisionVersion(rev string) Version {
	return Version{kind: kindRevision, raw: rev}
}

// IsLatest reports whether v is the unresolved Latest sentinel.
func (v Version) IsLatest() bool { return v.kind == kindLatest }

// IsRevision reports whether v names a VCS revision rather than a semver.
func (v Version) IsRevision() bool { return v.kind == kindRevision }

// String renders the version the way it would appear in a Cargo.toml
// dependency row or on the command line.
func (v Version) String() string {
	switch v.kind {
	case kindLatest:
		return "latest"
	default:
		return v.raw
	}
}

// Equal compares two resolved (non-Latest) versions by their semver value
// when both parsed as semver, falling back to raw string equality
// otherwise. Equal never resolves Latest; callers must resolve first.
func (v Version) Equal(o Version) bool {
	if v.sv != nil && o.sv != nil {
		return v.sv.Equal(o.sv)
	}
	return v.raw == o.raw
}

// sameSemverAsLatest reports the spec.md 8 boundary case: an offered version
// string that denotes exactly the same release as whatever Latest resolves
// to. Nothing in this module calls it; the matrix always carries two
// distinct VersionSpec entries regardless.
func (v Version) sameSemverAsLatest(latest Version) bool {
	if v.sv == nil || latest.sv == nil {
		return v.raw == latest.raw
	}
	return v.sv.Equal(latest.sv)
}

var _ fmt.Stringer = Version{}
