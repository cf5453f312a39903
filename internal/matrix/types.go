// Package matrix defines the immutable TestMatrix produced by the config
// resolver and the per-cell result types produced by the build driver and
// consumed by the classifier. Nothing in this package mutates a TestMatrix
// after construction; see New.
package matrix

import (
	"time"

	"github.com/imazen/cargo-copter/internal/crate"
)

// PatchDepth describes the manifest-override strategy actually applied by
// the end of a cell's build attempt. The ordering None < Force < Patch <
// DeepPatch mirrors the escalation path of the driver's state machine.
type PatchDepth uint8

const (
	DepthNone PatchDepth = iota
	DepthForce
	DepthPatch
	DepthDeepPatch
)

func (d PatchDepth) String() string {
	switch d {
	case DepthForce:
		return "force"
	case DepthPatch:
		return "patch"
	case DepthDeepPatch:
		return "deep-patch"
	default:
		return "none"
	}
}

// Diagnostic is a single structured entry parsed out of a cargo step's
// --message-format=json stream. Only the fields the driver and classifier
// actually consume are retained.
type Diagnostic struct {
	Level   string // "error", "warning", ...
	Message string
	Package string
}

// StepOutcome records one fetch/check/test invocation.
type StepOutcome struct {
	Success     bool
	Elapsed     time.Duration
	ExitCode    int
	Stdout      []byte
	Stderr      []byte
	Diagnostics []Diagnostic
}

// ThreeStepResult is the return value of the per-cell build driver: which
// steps ran, which failed, and what patch depth was effectively applied.
// Check is present iff Fetch.Success and check was not skipped by
// configuration; Test is present iff fetch succeeded, check succeeded or
// was skipped, and test was not skipped.
type ThreeStepResult struct {
	Fetch           StepOutcome
	Check           *StepOutcome
	Test            *StepOutcome
	PatchDepth      PatchDepth
	ResolvedVersion string

	// Degenerate is set when Override was Force and ResolvedVersion does not
	// equal the offered version - reported to the caller but, per spec.md
	// 4.2, never itself grounds for a Regressed classification.
	Degenerate bool

	// BlockingCrates is populated only when PatchDepth is DepthDeepPatch: the
	// set of crates the persistent conflict diagnostic named as pinning an
	// incompatible version of the base crate.
	BlockingCrates []string
}

// BaselineComparison is attached to every non-baseline TestResult.
type BaselineComparison struct {
	BaselinePassed  bool
	BaselineVersion crate.Version
}

// TestResult is one cell's outcome. Baseline is nil exactly when this
// result IS the baseline row for its dependent.
type TestResult struct {
	BaseVersion crate.VersionedCrate
	Dependent   crate.VersionedCrate
	Execution   ThreeStepResult
	Baseline    *BaselineComparison
}

// Status is the classifier's derived output. It is never stored on
// TestResult; compute it with classify.Classify.
type Status uint8

const (
	StatusBaseline Status = iota
	StatusPassed
	StatusRegressed
	StatusFixed
	StatusStillBroken
)

func (s Status) String() string {
	switch s {
	case StatusPassed:
		return "passed"
	case StatusRegressed:
		return "regressed"
	case StatusFixed:
		return "fixed"
	case StatusStillBroken:
		return "still-broken"
	default:
		return "baseline"
	}
}
