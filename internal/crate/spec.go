package crate

import "fmt"

// OverrideMode declares how an offered version should be injected into a
// dependent's manifest when it is built.
type OverrideMode uint8

const (
	// OverrideNone lets the package manager resolve naturally: no manifest
	// mutation at all.
	OverrideNone OverrideMode = iota
	// OverridePatch adds a [patch.<registry>] section mapping the base
	// crate to a path override.
	OverridePatch
	// OverrideForce overwrites the direct dependency row with an exact
	// version pin.
	OverrideForce
)

func (m OverrideMode) String() string {
	switch m {
	case OverridePatch:
		return "patch"
	case OverrideForce:
		return "force"
	default:
		return "none"
	}
}

// VersionSpec is one offered version (or the baseline, or a dependent)
// within the matrix.
type VersionSpec struct {
	Crate      VersionedCrate
	Override   OverrideMode
	IsBaseline bool
}

// NewBaselineSpec builds the one VersionSpec per base crate that Invariant
// B1/B2 require: is_baseline = true, override_mode = None, version left
// unresolved (Latest) for the runner to resolve at entry. Constructing the
// baseline through this function, rather than composing a VersionSpec
// literal, is what makes B1/B2 structurally true instead of merely
// documented.
func NewBaselineSpec(name string, src Source) VersionSpec {
	return VersionSpec{
		Crate:      VersionedCrate{Name: name, Version: Latest, Source: src},
		Override:   OverrideNone,
		IsBaseline: true,
	}
}

// NewOfferedSpec builds one offered (non-baseline) matrix entry for a
// user-supplied version string under the given override mode. Per spec.md
// 4.1, a version supplied via both -patch and -force yields two distinct
// VersionSpec entries - callers get that by calling NewOfferedSpec twice,
// once per mode; this constructor only guards against the degenerate
// OverrideNone case, which would be indistinguishable from a second
// baseline.
func NewOfferedSpec(c VersionedCrate, mode OverrideMode) (VersionSpec, error) {
	if mode == OverrideNone {
		return VersionSpec{}, fmt.Errorf("offered version %s for %s must use patch or force override, not none", c.Version, c.Name)
	}
	return VersionSpec{Crate: c, Override: mode, IsBaseline: false}, nil
}

// NewDependentSpec wraps a resolved dependent reference. Dependents are
// always "baseline" in the sense spec.md 4.1 describes - their own versions
// are never overridden - so IsBaseline is set true here, distinct from
// (and not to be confused with) the base_versions baseline flag.
func NewDependentSpec(c VersionedCrate) VersionSpec {
	return VersionSpec{Crate: c, Override: OverrideNone, IsBaseline: true}
}

// Valid reports whether the spec satisfies Invariant B2: a baseline spec
// must carry OverrideNone.
func (v VersionSpec) Valid() bool {
	if v.IsBaseline && v.Override != OverrideNone {
		return false
	}
	return true
}
