// Package config resolves raw user intent (CLI flag values) into an
// immutable matrix.TestMatrix, failing fast on any contradiction per
// spec.md 4.1. Modeled on golang-dep's context.go LoadProject: find/open/
// parse, wrapping parse errors with path context, returning a typed error
// the caller can act on rather than a bare string.
package config

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/imazen/cargo-copter/internal/cerrors"
	"github.com/imazen/cargo-copter/internal/crate"
	"github.com/imazen/cargo-copter/internal/manifest"
	"github.com/imazen/cargo-copter/internal/matrix"
	"github.com/imazen/cargo-copter/internal/registry"
)

// Options mirrors the CLI's effect-on-the-matrix table (spec.md 6.3)
// exactly: one field per flag, no derived or convenience fields.
type Options struct {
	Path      string
	CrateName string

	TopDependents  int
	Dependents     []string
	DependentPaths []string

	PatchVersions []string
	ForceVersions []string

	StagingDir string
	SkipCheck  bool
	SkipTest   bool
	ErrorLines int
	Features   []string
	Clean      bool
}

// manifestNameReader abstracts reading a crate's name out of its manifest
// at a local path, so tests can supply a fake without touching disk via
// the real TOML parser. The production implementation is backed by
// internal/manifest's TOML tree, mirroring golang-dep's LoadProject
// "open manifest, parse, recover name" sequence.
type manifestNameReader func(path string) (string, error)

// Resolve builds a matrix.TestMatrix from opts, consulting reg for
// dependent discovery and version parsing where the CLI didn't supply
// enough information directly. Every contradiction in opts maps to a
// *cerrors.ConfigInvalid carrying a Reason identifying which one fired
// (spec.md 4.1's enumerated failure modes); a failing registry call maps to
// a *cerrors.ExternalUnavailable.
func Resolve(ctx context.Context, opts Options, reg registry.Registry) (*matrix.TestMatrix, error) {
	return resolve(ctx, opts, reg, readManifestName)
}

func resolve(ctx context.Context, opts Options, reg registry.Registry, readName manifestNameReader) (*matrix.TestMatrix, error) {
	baseSrc, baseName, err := resolveBaseSource(opts, readName)
	if err != nil {
		return nil, err
	}

	baseVersions := []crate.VersionSpec{crate.NewBaselineSpec(baseName, baseSrc)}

	offered, err := resolveOfferedVersions(opts, baseName, baseSrc)
	if err != nil {
		return nil, err
	}
	baseVersions = append(baseVersions, offered...)

	dependents, err := resolveDependents(ctx, opts, reg, readName)
	if err != nil {
		return nil, err
	}
	if len(dependents) == 0 {
		return nil, &cerrors.ConfigInvalid{Reason: "no dependents selected"}
	}

	m := matrix.New(baseName, baseVersions, dependents, opts.StagingDir, opts.SkipCheck, opts.SkipTest, opts.ErrorLines, opts.Features)

	if _, ok := m.Baseline(); !ok {
		return nil, &cerrors.ConfigInvalid{Reason: "internal: base_versions must contain exactly one baseline entry"}
	}

	return m, nil
}

// resolveBaseSource implements spec.md 6.3's path/crate_name rows: exactly
// one of Path or CrateName must be set. A local path is validated by
// reading its manifest to recover the crate's real name, rather than
// trusting a user-supplied name to match.
func resolveBaseSource(opts Options, readName manifestNameReader) (crate.Source, string, error) {
	havePath := opts.Path != ""
	haveName := opts.CrateName != ""

	switch {
	case havePath && haveName:
		return crate.Source{}, "", &cerrors.ConfigInvalid{Reason: "base crate must be specified by path or by name, not both"}
	case !havePath && !haveName:
		return crate.Source{}, "", &cerrors.ConfigInvalid{Reason: "no base crate source: supply -path or -crate-name"}
	case havePath:
		name, err := readName(opts.Path)
		if err != nil {
			return crate.Source{}, "", &cerrors.ConfigInvalid{Reason: fmt.Sprintf("invalid local base crate path %q: %v", opts.Path, err)}
		}
		return crate.Local(opts.Path), name, nil
	default:
		return crate.Registry(), opts.CrateName, nil
	}
}

// resolveOfferedVersions implements spec.md 4.1's rule 2: one VersionSpec
// per (version, mode) pair, in patch-then-force order, with a version
// supplied to both flags yielding two distinct entries rather than being
// deduplicated.
func resolveOfferedVersions(opts Options, baseName string, baseSrc crate.Source) ([]crate.VersionSpec, error) {
	var out []crate.VersionSpec

	for _, v := range opts.PatchVersions {
		spec, err := offeredSpec(baseName, baseSrc, v, crate.OverridePatch)
		if err != nil {
			return nil, err
		}
		out = append(out, spec)
	}
	for _, v := range opts.ForceVersions {
		spec, err := offeredSpec(baseName, baseSrc, v, crate.OverrideForce)
		if err != nil {
			return nil, err
		}
		out = append(out, spec)
	}

	return out, nil
}

func offeredSpec(baseName string, baseSrc crate.Source, raw string, mode crate.OverrideMode) (crate.VersionSpec, error) {
	if raw == "" {
		return crate.VersionSpec{}, &cerrors.ConfigInvalid{Reason: "empty offered version string"}
	}
	vc := crate.VersionedCrate{Name: baseName, Version: crate.NewSemverVersion(raw), Source: baseSrc}
	spec, err := crate.NewOfferedSpec(vc, mode)
	if err != nil {
		return crate.VersionSpec{}, &cerrors.ConfigInvalid{Reason: err.Error()}
	}
	return spec, nil
}

// resolveDependents implements spec.md 4.1's three dependent-selection
// modes. Exactly one of TopDependents, Dependents, DependentPaths is
// expected to be populated; if more than one is, all are honored and
// their results concatenated in top-N, explicit-list, local-path order -
// the spec does not forbid combining modes, only silence about all three.
func resolveDependents(ctx context.Context, opts Options, reg registry.Registry, readName manifestNameReader) ([]crate.VersionSpec, error) {
	var out []crate.VersionSpec

	if opts.TopDependents > 0 {
		if reg == nil {
			return nil, &cerrors.ConfigInvalid{Reason: "top-N dependent selection requires a registry client"}
		}
		refs, err := reg.TopDependents(ctx, opts.CrateName, opts.TopDependents)
		if err != nil {
			return nil, &cerrors.ExternalUnavailable{Op: "TopDependents", Err: err}
		}
		sort.SliceStable(refs, func(i, j int) bool {
			if refs[i].DownloadCount != refs[j].DownloadCount {
				return refs[i].DownloadCount > refs[j].DownloadCount
			}
			return refs[i].Name < refs[j].Name
		})
		for _, ref := range refs {
			vc := crate.VersionedCrate{Name: ref.Name, Version: ref.LatestVersion, Source: crate.Registry()}
			out = append(out, crate.NewDependentSpec(vc))
		}
	}

	for _, entry := range opts.Dependents {
		spec, err := parseExplicitDependent(ctx, entry, reg)
		if err != nil {
			return nil, err
		}
		out = append(out, spec)
	}

	for _, path := range opts.DependentPaths {
		name, err := readName(path)
		if err != nil {
			return nil, &cerrors.ConfigInvalid{Reason: fmt.Sprintf("invalid dependent path %q: %v", path, err)}
		}
		vc := crate.VersionedCrate{Name: name, Version: crate.Latest, Source: crate.Local(path)}
		out = append(out, crate.NewDependentSpec(vc))
	}

	return out, nil
}

// parseExplicitDependent parses one "name[:version]" entry, resolving the
// registry's latest version when the version suffix is absent.
func parseExplicitDependent(ctx context.Context, entry string, reg registry.Registry) (crate.VersionSpec, error) {
	name, rawVersion, hasVersion := strings.Cut(entry, ":")
	if name == "" {
		return crate.VersionSpec{}, &cerrors.ConfigInvalid{Reason: fmt.Sprintf("malformed dependent entry %q: missing crate name", entry)}
	}

	var version crate.Version
	switch {
	case hasVersion && rawVersion != "":
		version = crate.NewSemverVersion(rawVersion)
	case reg != nil:
		v, err := reg.LatestVersion(ctx, name)
		if err != nil {
			return crate.VersionSpec{}, &cerrors.ExternalUnavailable{Op: "LatestVersion", Err: err}
		}
		version = v
	default:
		version = crate.Latest
	}

	vc := crate.VersionedCrate{Name: name, Version: version, Source: crate.Registry()}
	return crate.NewDependentSpec(vc), nil
}

// readManifestName opens the Cargo.toml at dir/Cargo.toml and returns the
// crate name from its [package] table.
func readManifestName(dir string) (string, error) {
	path := dir + "/Cargo.toml"
	name, err := manifest.ReadPackageName(path)
	if err != nil {
		return "", errors.Wrapf(err, "reading package name from %s", path)
	}
	return name, nil
}
