package matrix

import "github.com/imazen/cargo-copter/internal/crate"

// TestMatrix is the immutable record produced once by the config resolver
// and consumed by the runner. There are no setters; every field is plain
// data fixed at construction time, matching golang-dep's treatment of a
// parsed manifest as a value the solver only ever reads.
type TestMatrix struct {
	BaseCrateName string
	BaseVersions  []crate.VersionSpec
	Dependents    []crate.VersionSpec
	StagingDir    string
	SkipCheck     bool
	SkipTest      bool
	ErrorLines    int
	Features      []string
}

// New constructs a TestMatrix, defensively copying the slices so that a
// caller mutating its own backing arrays afterward cannot reach back into
// the matrix. It does not validate Invariant B1 itself - that is the config
// resolver's job, since only the resolver knows enough to produce a good
// error message; New is the low-level constructor the resolver calls once
// it has already checked.
func New(baseCrateName string, baseVersions, dependents []crate.VersionSpec, stagingDir string, skipCheck, skipTest bool, errorLines int, features []string) *TestMatrix {
	m := &TestMatrix{
		BaseCrateName: baseCrateName,
		BaseVersions:  append([]crate.VersionSpec(nil), baseVersions...),
		Dependents:    append([]crate.VersionSpec(nil), dependents...),
		StagingDir:    stagingDir,
		SkipCheck:     skipCheck,
		SkipTest:      skipTest,
		ErrorLines:    errorLines,
		Features:      append([]string(nil), features...),
	}
	return m
}

// Baseline returns the unique VersionSpec with IsBaseline = true among
// BaseVersions, and whether exactly one was found (Invariant B1).
func (m *TestMatrix) Baseline() (crate.VersionSpec, bool) {
	var found crate.VersionSpec
	count := 0
	for _, v := range m.BaseVersions {
		if v.IsBaseline {
			found = v
			count++
		}
	}
	return found, count == 1
}

// Offered returns every non-baseline entry of BaseVersions, in declared
// order.
func (m *TestMatrix) Offered() []crate.VersionSpec {
	out := make([]crate.VersionSpec, 0, len(m.BaseVersions))
	for _, v := range m.BaseVersions {
		if !v.IsBaseline {
			out = append(out, v)
		}
	}
	return out
}
