// Package runner executes a matrix.TestMatrix end to end: staging each
// dependent, driving its baseline cell first, then every offered cell,
// attaching baseline comparisons, and streaming results to a caller-
// supplied callback, per spec.md 4.4.
package runner

import (
	"context"
	"log"

	"github.com/pkg/errors"

	"github.com/imazen/cargo-copter/internal/classify"
	"github.com/imazen/cargo-copter/internal/crate"
	"github.com/imazen/cargo-copter/internal/driver"
	"github.com/imazen/cargo-copter/internal/matrix"
	"github.com/imazen/cargo-copter/internal/registry"
	"github.com/imazen/cargo-copter/internal/stage"
)

// Runner ties the driver, stager, and registry client together to execute
// a whole matrix.
type Runner struct {
	Driver *driver.Driver
	Stage  stage.Stager
	Reg    registry.Registry
	Log    *log.Logger
}

// Run executes every cell of m in order, calling onResult synchronously
// once per cell before the next cell begins, per spec.md 4.4's ordering
// guarantee. It returns the accumulated results, or an error if resolving
// crate.Latest failed or a cell returned a matrix-fatal error (manifest
// unreadable/unwritable, restore failed).
func (r *Runner) Run(ctx context.Context, m *matrix.TestMatrix, onResult func(matrix.TestResult)) ([]matrix.TestResult, error) {
	baseVersions, err := r.resolveLatest(ctx, m.BaseCrateName, m.BaseVersions)
	if err != nil {
		return nil, err
	}

	baseline, ok := findBaseline(baseVersions)
	if !ok {
		return nil, errors.New("matrix has no unique baseline entry (Invariant B1 violated)")
	}
	offered := nonBaseline(baseVersions)

	overridePaths, err := r.stageOverrides(ctx, offered)
	if err != nil {
		return nil, err
	}

	var results []matrix.TestResult

	for _, dependent := range m.Dependents {
		dependentDir, err := r.Stage.Prepare(ctx, dependent.Crate)
		if err != nil {
			return results, errors.Wrapf(err, "staging dependent %s", dependent.Crate.Name)
		}

		opts := driver.DriveOptions{
			SkipCheck:  m.SkipCheck,
			SkipTest:   m.SkipTest,
			Features:   m.Features,
			ErrorLines: m.ErrorLines,
			Registry:   "cargo-copter",
		}

		baseExec, err := r.Driver.Drive(ctx, dependentDir, baseline.Crate, crate.OverrideNone, "", opts)
		if err != nil {
			return results, err
		}
		baselinePassed := classify.IsSuccess(baseExec, m.SkipCheck, m.SkipTest)

		baseResult := matrix.TestResult{
			BaseVersion: baseline.Crate,
			Dependent:   dependent.Crate,
			Execution:   baseExec,
			Baseline:    nil,
		}
		results = append(results, baseResult)
		onResult(baseResult)

		for _, spec := range offered {
			exec, err := r.Driver.Drive(ctx, dependentDir, spec.Crate, spec.Override, overridePaths[spec.Crate.Version.String()], opts)
			if err != nil {
				return results, err
			}

			res := matrix.TestResult{
				BaseVersion: spec.Crate,
				Dependent:   dependent.Crate,
				Execution:   exec,
				Baseline: &matrix.BaselineComparison{
					BaselinePassed:  baselinePassed,
					BaselineVersion: baseline.Crate.Version,
				},
			}
			results = append(results, res)
			onResult(res)
		}
	}

	return results, nil
}

// resolveLatest substitutes a concrete version for every crate.Latest
// entry in baseVersions, querying the registry once per distinct Latest
// entry, per spec.md 4.4 step 1.
func (r *Runner) resolveLatest(ctx context.Context, name string, specs []crate.VersionSpec) ([]crate.VersionSpec, error) {
	out := make([]crate.VersionSpec, len(specs))
	copy(out, specs)

	for i, spec := range out {
		if !spec.Crate.Version.IsLatest() {
			continue
		}
		if r.Reg == nil {
			return nil, errors.New("matrix contains an unresolved Latest version but no registry client was configured")
		}
		v, err := r.Reg.LatestVersion(ctx, name)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving latest version of %s", name)
		}
		out[i].Crate.Version = v
	}
	return out, nil
}

// stageOverrides prepares a staged override directory for every offered
// local-sourced base version, keyed by version string, since the driver
// needs a filesystem path for path-table patches/forces. Registry-sourced
// offered versions need no staged directory: they are pinned by version
// string directly in the manifest.
func (r *Runner) stageOverrides(ctx context.Context, offered []crate.VersionSpec) (map[string]string, error) {
	paths := make(map[string]string, len(offered))
	for _, spec := range offered {
		if !spec.Crate.Source.IsLocal() {
			continue
		}
		dir, err := r.Stage.PrepareOverride(ctx, spec.Crate)
		if err != nil {
			return nil, errors.Wrapf(err, "staging override for %s", spec.Crate.Name)
		}
		paths[spec.Crate.Version.String()] = dir
	}
	return paths, nil
}

func findBaseline(specs []crate.VersionSpec) (crate.VersionSpec, bool) {
	var found crate.VersionSpec
	count := 0
	for _, v := range specs {
		if v.IsBaseline {
			found = v
			count++
		}
	}
	return found, count == 1
}

func nonBaseline(specs []crate.VersionSpec) []crate.VersionSpec {
	out := make([]crate.VersionSpec, 0, len(specs))
	for _, v := range specs {
		if !v.IsBaseline {
			out = append(out, v)
		}
	}
	return out
}
