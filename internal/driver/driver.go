package driver

import (
	"bytes"
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/imazen/cargo-copter/internal/cerrors"
	"github.com/imazen/cargo-copter/internal/crate"
	"github.com/imazen/cargo-copter/internal/manifest"
	"github.com/imazen/cargo-copter/internal/matrix"
)

// Step wall-clock budgets, per spec.md 5.
const (
	fetchBudget = 5 * time.Minute
	checkBudget = 10 * time.Minute
	testBudget  = 30 * time.Minute
)

// conflictSubstrings are the fetch-stderr markers that trigger patch-depth
// escalation, per spec.md 4.2 verbatim.
var conflictSubstrings = []string{
	"multiple different versions of crate",
	"two different versions of crate",
}

// detectConflict reports whether stderr names a version conflict cargo
// could not resolve on its own.
func detectConflict(stderr []byte) bool {
	for _, s := range conflictSubstrings {
		if bytes.Contains(stderr, []byte(s)) {
			return true
		}
	}
	return false
}

// DriveOptions carries the matrix-wide settings every cell needs.
type DriveOptions struct {
	SkipCheck  bool
	SkipTest   bool
	Features   []string
	ErrorLines int
	Registry   string // the [patch.<registry>] table name Patch/DeepPatch write into
}

// Driver runs the per-cell build pipeline against a staged dependent
// directory.
type Driver struct {
	Exec CargoExecutor
	Log  *log.Logger
}

// New returns a Driver using the real cargo subprocess executor.
func New(log *log.Logger) *Driver {
	return &Driver{Exec: NewExecCargoExecutor(), Log: log}
}

// Drive runs dependentDir's build pipeline against base under target,
// implementing spec.md 4.2's state machine: None and Patch targets are
// terminal on their first run; Force escalates to Patch on a detected
// conflict, and Patch (reached via escalation) escalates once more to the
// terminal, advisory-only DeepPatch.
//
// overridePath is the staged local directory for base, used when base's
// Source is Local; it is ignored for registry-sourced base crates, which
// are pinned by version string instead.
func (d *Driver) Drive(ctx context.Context, dependentDir string, base crate.VersionedCrate, target crate.OverrideMode, overridePath string, opts DriveOptions) (matrix.ThreeStepResult, error) {
	switch target {
	case crate.OverrideNone:
		return d.run(ctx, dependentDir, base, matrix.DepthNone, overridePath, opts)
	case crate.OverridePatch:
		return d.run(ctx, dependentDir, base, matrix.DepthPatch, overridePath, opts)
	default: // OverrideForce
		result, err := d.run(ctx, dependentDir, base, matrix.DepthForce, overridePath, opts)
		if err != nil || !detectConflict(result.Fetch.Stderr) {
			return result, err
		}

		patched, err := d.run(ctx, dependentDir, base, matrix.DepthPatch, overridePath, opts)
		if err != nil || !detectConflict(patched.Fetch.Stderr) {
			return patched, err
		}

		deep, err := d.run(ctx, dependentDir, base, matrix.DepthDeepPatch, overridePath, opts)
		if err != nil {
			return deep, err
		}
		deep.BlockingCrates = parseBlockingCrates(deep.Fetch.Stderr)
		return deep, nil
	}
}

// run executes one RUN(depth) from spec.md 4.2's state machine: acquire the
// manifest guard, apply depth's mutation, run fetch (then check, then
// test), collect resolved_version, and restore the manifest unconditionally
// on the way out.
func (d *Driver) run(ctx context.Context, dependentDir string, base crate.VersionedCrate, depth matrix.PatchDepth, overridePath string, opts DriveOptions) (matrix.ThreeStepResult, error) {
	manifestPath := filepath.Join(dependentDir, "Cargo.toml")
	lockPath := filepath.Join(dependentDir, "Cargo.lock")

	guard, err := manifest.Begin(manifestPath)
	if err != nil {
		return matrix.ThreeStepResult{}, err
	}
	defer guard.Close()

	if err := d.applyDepth(guard, base, depth, overridePath, opts); err != nil {
		return matrix.ThreeStepResult{}, err
	}
	if depth != matrix.DepthNone {
		if err := guard.Flush(); err != nil {
			return matrix.ThreeStepResult{}, err
		}
	}

	result := matrix.ThreeStepResult{PatchDepth: depth}

	fetchArgs := append([]string{"fetch", "--message-format=json"}, featureArgs(opts.Features)...)
	result.Fetch = d.runStep(ctx, dependentDir, fetchArgs, fetchBudget)

	if result.Fetch.Success && !opts.SkipCheck {
		checkArgs := append([]string{"check", "--message-format=json"}, featureArgs(opts.Features)...)
		check := d.runStep(ctx, dependentDir, checkArgs, checkBudget)
		result.Check = &check
	}

	checkPassed := result.Fetch.Success && (opts.SkipCheck || result.Check.Success)
	if checkPassed && !opts.SkipTest {
		testArgs := append([]string{"test", "--no-fail-fast", "--message-format=json"}, featureArgs(opts.Features)...)
		test := d.runStep(ctx, dependentDir, testArgs, testBudget)
		result.Test = &test
	}

	if resolved, err := manifest.ResolvedVersion(lockPath, base.Name); err == nil {
		result.ResolvedVersion = resolved
	}

	if depth == matrix.DepthForce && result.ResolvedVersion != "" && result.ResolvedVersion != base.Version.String() {
		result.Degenerate = true
	}

	if err := guard.Restore(); err != nil {
		return result, err
	}

	return result, nil
}

// applyDepth performs the manifest mutation spec.md 4.2 assigns to depth.
func (d *Driver) applyDepth(guard *manifest.Guard, base crate.VersionedCrate, depth matrix.PatchDepth, overridePath string, opts DriveOptions) error {
	switch depth {
	case matrix.DepthNone:
		return nil
	case matrix.DepthForce:
		if base.Source.IsLocal() {
			_, err := guard.ApplyForcePath(base.Name, overridePath)
			return err
		}
		_, err := guard.ApplyForce(base.Name, "="+base.Version.String())
		return err
	case matrix.DepthPatch, matrix.DepthDeepPatch:
		var pin map[string]string
		if base.Source.IsLocal() {
			pin = map[string]string{"path": overridePath}
		} else {
			pin = map[string]string{"version": base.Version.String()}
		}
		return guard.ApplyPatch(opts.Registry, base.Name, pin)
	}
	return nil
}

// runStep invokes one cargo subcommand under its own wall-clock budget,
// merged with ctx via constext.Cons so the caller's own cancellation also
// terminates the subprocess.
func (d *Driver) runStep(ctx context.Context, dir string, args []string, budget time.Duration) matrix.StepOutcome {
	stepCtx, cancel := withStepTimeout(ctx, budget)
	defer cancel()

	start := time.Now()
	stdout, stderr, exitCode, err := d.Exec.Run(stepCtx, dir, args)
	elapsed := time.Since(start)

	outcome := matrix.StepOutcome{
		Elapsed:  elapsed,
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
	}

	if err != nil {
		outcome.Success = false
		outcome.Diagnostics = append(outcome.Diagnostics, matrix.Diagnostic{
			Level:   "error",
			Message: cerrors.NormalizeSignature(err.Error()),
		})
		return outcome
	}

	outcome.Success = exitCode == 0
	outcome.Diagnostics = parseDiagnostics(stdout)
	return outcome
}

func featureArgs(features []string) []string {
	if len(features) == 0 {
		return nil
	}
	out := make([]string, 0, 2)
	out = append(out, "--features")
	joined := ""
	for i, f := range features {
		if i > 0 {
			joined += ","
		}
		joined += f
	}
	out = append(out, joined)
	return out
}
