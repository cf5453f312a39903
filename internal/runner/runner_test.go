package runner

import (
	"context"
	"errors"
	"io/ioutil"
	"log"
	"path/filepath"
	"testing"

	"github.com/imazen/cargo-copter/internal/crate"
	"github.com/imazen/cargo-copter/internal/driver"
	"github.com/imazen/cargo-copter/internal/matrix"
	"github.com/imazen/cargo-copter/internal/registry"
)

const depManifest = `[package]
name = "consumer"
version = "0.1.0"

[dependencies]
base-crate = "1.0"
`

// alwaysSucceedExecutor makes every cargo invocation exit 0.
type alwaysSucceedExecutor struct{}

func (alwaysSucceedExecutor) Run(ctx context.Context, dir string, args []string) ([]byte, []byte, int, error) {
	return nil, nil, 0, nil
}

// fakeStager stages every dependent/override into one shared pre-built
// directory containing a manifest, skipping real file copying.
type fakeStager struct {
	dir string
}

func (f *fakeStager) Prepare(ctx context.Context, dependent crate.VersionedCrate) (string, error) {
	return f.dir, nil
}
func (f *fakeStager) PrepareOverride(ctx context.Context, base crate.VersionedCrate) (string, error) {
	return f.dir, nil
}
func (f *fakeStager) Purge() error { return nil }

type fakeRegistry struct{ latest crate.Version }

func (f *fakeRegistry) TopDependents(ctx context.Context, name string, n int) ([]registry.DependentRef, error) {
	return nil, nil
}
func (f *fakeRegistry) LatestVersion(ctx context.Context, name string) (crate.Version, error) {
	if f.latest.String() == "" {
		return crate.Version{}, errors.New("no latest configured")
	}
	return f.latest, nil
}

func newTestRunner(t *testing.T, reg *fakeRegistry) (*Runner, string) {
	t.Helper()
	dir := t.TempDir()
	if err := ioutil.WriteFile(filepath.Join(dir, "Cargo.toml"), []byte(depManifest), 0644); err != nil {
		t.Fatal(err)
	}

	d := &driver.Driver{Exec: alwaysSucceedExecutor{}, Log: log.New(ioutil.Discard, "", 0)}
	var r *Runner
	if reg != nil {
		r = &Runner{Driver: d, Stage: &fakeStager{dir: dir}, Reg: reg, Log: log.New(ioutil.Discard, "", 0)}
	} else {
		r = &Runner{Driver: d, Stage: &fakeStager{dir: dir}, Log: log.New(ioutil.Discard, "", 0)}
	}
	return r, dir
}

func buildMatrix(t *testing.T, baseVersion crate.Version) *matrix.TestMatrix {
	t.Helper()
	baseline := crate.NewBaselineSpec("base-crate", crate.Registry())
	baseline.Crate.Version = baseVersion
	offered, err := crate.NewOfferedSpec(
		crate.VersionedCrate{Name: "base-crate", Version: crate.NewSemverVersion("2.0.0"), Source: crate.Registry()},
		crate.OverrideForce,
	)
	if err != nil {
		t.Fatal(err)
	}
	dependent := crate.NewDependentSpec(crate.VersionedCrate{Name: "consumer", Version: crate.NewSemverVersion("0.1.0"), Source: crate.Registry()})

	return matrix.New("base-crate", []crate.VersionSpec{baseline, offered}, []crate.VersionSpec{dependent}, t.TempDir(), true, true, 20, nil)
}

func TestRunEmitsBaselineBeforeOffered(t *testing.T) {
	r, _ := newTestRunner(t, nil)
	m := buildMatrix(t, crate.NewSemverVersion("1.0.0"))

	var order []bool // true = has baseline comparison
	results, err := r.Run(context.Background(), m, func(res matrix.TestResult) {
		order = append(order, res.Baseline != nil)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 (baseline + one offered)", len(results))
	}
	if order[0] != false || order[1] != true {
		t.Errorf("expected baseline (false) emitted before offered (true), got %v", order)
	}
}

func TestRunResolvesLatestBaseline(t *testing.T) {
	reg := &fakeRegistry{latest: crate.NewSemverVersion("9.9.9")}
	r, _ := newTestRunner(t, reg)
	m := buildMatrix(t, crate.Latest)

	results, err := r.Run(context.Background(), m, func(matrix.TestResult) {})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if results[0].BaseVersion.Version.IsLatest() {
		t.Error("expected baseline version resolved away from crate.Latest before driving")
	}
}

func TestRunFailsWithoutRegistryWhenLatestUnresolved(t *testing.T) {
	r, _ := newTestRunner(t, nil)
	m := buildMatrix(t, crate.Latest)

	if _, err := r.Run(context.Background(), m, func(matrix.TestResult) {}); err == nil {
		t.Fatal("expected an error resolving Latest with no registry configured")
	}
}

func TestRunAttachesSameBaselineComparisonToEveryOfferedResult(t *testing.T) {
	r, _ := newTestRunner(t, nil)
	m := buildMatrix(t, crate.NewSemverVersion("1.0.0"))

	results, err := r.Run(context.Background(), m, func(matrix.TestResult) {})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	offeredResult := results[1]
	if offeredResult.Baseline == nil {
		t.Fatal("expected offered result to carry a baseline comparison")
	}
	if !offeredResult.Baseline.BaselinePassed {
		t.Error("expected baseline to have passed, since alwaysSucceedExecutor never fails")
	}
}
