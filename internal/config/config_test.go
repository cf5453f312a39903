package config

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/imazen/cargo-copter/internal/crate"
	"github.com/imazen/cargo-copter/internal/registry"
)

type fakeRegistry struct {
	topDependents map[string][]registry.DependentRef
	latest        map[string]crate.Version
}

func (f *fakeRegistry) TopDependents(ctx context.Context, name string, n int) ([]registry.DependentRef, error) {
	refs := f.topDependents[name]
	if len(refs) > n {
		refs = refs[:n]
	}
	return refs, nil
}

func (f *fakeRegistry) LatestVersion(ctx context.Context, name string) (crate.Version, error) {
	v, ok := f.latest[name]
	if !ok {
		return crate.Version{}, errors.New("no such crate: " + name)
	}
	return v, nil
}

func fakeReadName(names map[string]string) manifestNameReader {
	return func(path string) (string, error) {
		name, ok := names[path]
		if !ok {
			return "", errors.New("no manifest at " + path)
		}
		return name, nil
	}
}

func TestResolveRejectsPathAndCrateNameTogether(t *testing.T) {
	_, err := resolve(context.Background(), Options{
		Path:      "/some/path",
		CrateName: "widget",
		Dependents: []string{"consumer"},
	}, nil, fakeReadName(nil))
	if err == nil {
		t.Fatal("expected error when both Path and CrateName are set")
	}
}

func TestResolveRejectsNoBaseSource(t *testing.T) {
	_, err := resolve(context.Background(), Options{
		Dependents: []string{"consumer"},
	}, nil, fakeReadName(nil))
	if err == nil {
		t.Fatal("expected error when neither Path nor CrateName is set")
	}
}

func TestResolveRejectsZeroDependents(t *testing.T) {
	_, err := resolve(context.Background(), Options{
		CrateName: "widget",
	}, nil, fakeReadName(nil))
	if err == nil {
		t.Fatal("expected error when no dependents are selected")
	}
}

func TestResolveInsertsUniqueBaseline(t *testing.T) {
	m, err := resolve(context.Background(), Options{
		CrateName:     "widget",
		Dependents:    []string{"consumer:1.0.0"},
		PatchVersions: []string{"2.0.0"},
		ForceVersions: []string{"2.0.0"},
	}, nil, fakeReadName(nil))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	baseline, ok := m.Baseline()
	if !ok {
		t.Fatal("expected exactly one baseline entry (Invariant B1)")
	}
	if !baseline.Crate.Version.IsLatest() {
		t.Error("baseline version should be Latest, to be resolved by the runner")
	}

	offered := m.Offered()
	if len(offered) != 2 {
		t.Fatalf("got %d offered entries, want 2 (one patch, one force, same version string)", len(offered))
	}
	if offered[0].Override != crate.OverridePatch || offered[1].Override != crate.OverrideForce {
		t.Errorf("expected patch-then-force order, got %v then %v", offered[0].Override, offered[1].Override)
	}
}

func TestResolveLocalBasePathReadsManifestName(t *testing.T) {
	dir := t.TempDir()
	names := map[string]string{dir: "widget-core"}

	m, err := resolve(context.Background(), Options{
		Path:       dir,
		Dependents: []string{"consumer"},
	}, nil, fakeReadName(names))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if m.BaseCrateName != "widget-core" {
		t.Errorf("BaseCrateName = %q, want %q (read from manifest, not a user label)", m.BaseCrateName, "widget-core")
	}
}

func TestResolveInvalidLocalPath(t *testing.T) {
	_, err := resolve(context.Background(), Options{
		Path:       "/nonexistent",
		Dependents: []string{"consumer"},
	}, nil, fakeReadName(nil))
	if err == nil {
		t.Fatal("expected error for a local path with no readable manifest")
	}
}

func TestResolveTopDependentsOrdering(t *testing.T) {
	reg := &fakeRegistry{
		topDependents: map[string][]registry.DependentRef{
			"widget": {
				{Name: "zeta", LatestVersion: crate.NewSemverVersion("1.0.0"), DownloadCount: 100},
				{Name: "alpha", LatestVersion: crate.NewSemverVersion("1.0.0"), DownloadCount: 100},
				{Name: "beta", LatestVersion: crate.NewSemverVersion("1.0.0"), DownloadCount: 200},
			},
		},
	}

	m, err := resolve(context.Background(), Options{
		CrateName:     "widget",
		TopDependents: 3,
	}, reg, fakeReadName(nil))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(m.Dependents) != 3 {
		t.Fatalf("got %d dependents, want 3", len(m.Dependents))
	}
	want := []string{"beta", "alpha", "zeta"}
	for i, w := range want {
		if m.Dependents[i].Crate.Name != w {
			t.Errorf("dependent[%d] = %q, want %q (by download count desc, then lexicographic)", i, m.Dependents[i].Crate.Name, w)
		}
	}
}

func TestResolveExplicitDependentWithoutVersionUsesRegistryLatest(t *testing.T) {
	reg := &fakeRegistry{
		latest: map[string]crate.Version{"consumer": crate.NewSemverVersion("3.1.4")},
	}

	m, err := resolve(context.Background(), Options{
		CrateName:  "widget",
		Dependents: []string{"consumer"},
	}, reg, fakeReadName(nil))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	got := m.Dependents[0].Crate.Version
	want := crate.NewSemverVersion("3.1.4")
	if !got.Equal(want) {
		t.Errorf("resolved dependent version = %v, want %v", got, want)
	}
}

func TestResolveDependentPaths(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "dep1")
	names := map[string]string{dir: "consumer-crate"}

	m, err := resolve(context.Background(), Options{
		CrateName:      "widget",
		DependentPaths: []string{dir},
	}, nil, fakeReadName(names))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(m.Dependents) != 1 || m.Dependents[0].Crate.Name != "consumer-crate" {
		t.Fatalf("unexpected dependents: %+v", m.Dependents)
	}
	if !m.Dependents[0].Crate.Source.IsLocal() {
		t.Error("path-supplied dependent should have a Local source")
	}
}

func TestResolveMalformedExplicitDependent(t *testing.T) {
	_, err := resolve(context.Background(), Options{
		CrateName:  "widget",
		Dependents: []string{":1.0.0"},
	}, nil, fakeReadName(nil))
	if err == nil {
		t.Fatal("expected error for a dependent entry with no crate name")
	}
}
