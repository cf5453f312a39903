// Package stage owns the on-disk staging layout the matrix runner and
// build driver read and write (spec.md 6.2): one directory per dependent
// version, one override directory per offered base-crate version. The
// external crate downloader itself is out of scope (spec.md Non-goals);
// this package owns the directory layout and local-source population,
// and defers to an injected Downloader for registry-sourced crates.
package stage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Masterminds/vcs"
	"github.com/karrick/godirwalk"
	"github.com/pkg/errors"

	"github.com/imazen/cargo-copter/internal/crate"
	"github.com/imazen/cargo-copter/internal/fs"
)

// Downloader fetches a registry-sourced crate and unpacks it to dir. A
// production implementation talks to crates.io's tarball API; this
// package only declares the seam (spec.md 6.1's "Crate downloader"
// consumed interface).
type Downloader interface {
	FetchAndUnpack(ctx context.Context, name string, version crate.Version, dir string) error
}

// Stager lays out and reuses staging directories for dependents and for
// base-crate override copies.
type Stager interface {
	// Prepare stages dependent's source under the staging root, returning
	// its directory. A prior extraction for the same name+version is
	// reused rather than redone.
	Prepare(ctx context.Context, dependent crate.VersionedCrate) (string, error)

	// PrepareOverride stages base's source under the staging root for use
	// as a Patch/Force override target, returning its directory.
	PrepareOverride(ctx context.Context, base crate.VersionedCrate) (string, error)

	// Purge removes the entire staging root, for the -clean flag.
	Purge() error
}

// dirStager is the default Stager: local sources are populated via
// CopyDir, registry sources via the injected Downloader. Directory names
// are sanitized <name>-<version> strings, mirroring golang-dep's
// source_manager.go pattern of keying its on-disk source cache by a
// sanitized import path so repeated resolutions of the same dependency
// reuse one cached checkout instead of re-fetching.
type dirStager struct {
	root       string
	downloader Downloader
}

// New returns the default Stager, rooted at stagingDir.
func New(stagingDir string, downloader Downloader) Stager {
	return &dirStager{root: stagingDir, downloader: downloader}
}

func (s *dirStager) Prepare(ctx context.Context, dependent crate.VersionedCrate) (string, error) {
	return s.prepare(ctx, dependent)
}

func (s *dirStager) PrepareOverride(ctx context.Context, base crate.VersionedCrate) (string, error) {
	return s.prepare(ctx, base)
}

func (s *dirStager) prepare(ctx context.Context, vc crate.VersionedCrate) (string, error) {
	dir := filepath.Join(s.root, sanitize(vc.Name, vc.Version.String()))

	if reused, err := fs.IsNonEmptyDir(dir); err == nil && reused {
		return dir, nil
	}

	if err := os.MkdirAll(filepath.Dir(dir), 0755); err != nil {
		return "", errors.Wrapf(err, "creating staging root for %s", vc.Name)
	}

	switch {
	case vc.Source.IsLocal():
		if err := fs.CopyDir(vc.Source.Path(), dir); err != nil {
			return "", errors.Wrapf(err, "staging local source for %s", vc.Name)
		}
	case vc.Source.IsRegistry():
		if s.downloader == nil {
			return "", errors.Errorf("no downloader configured: cannot stage registry crate %s", vc.Name)
		}
		if err := s.downloader.FetchAndUnpack(ctx, vc.Name, vc.Version, dir); err != nil {
			return "", errors.Wrapf(err, "fetching %s@%s", vc.Name, vc.Version)
		}
	case vc.Source.IsGit():
		if err := cloneGit(vc.Source.GitURL(), vc.Source.GitRev(), dir); err != nil {
			return "", errors.Wrapf(err, "staging git source for %s", vc.Name)
		}
	}

	return dir, nil
}

// cloneGit clones url into dir and checks out rev, mirroring golang-dep's
// vcs_repo.go gitRepo.Get/UpdateVersion pair built on Masterminds/vcs.
func cloneGit(url, rev, dir string) error {
	repo, err := vcs.NewGitRepo(url, dir)
	if err != nil {
		return err
	}
	if err := repo.Get(); err != nil {
		return err
	}
	if rev == "" {
		return nil
	}
	return repo.UpdateVersion(rev)
}

// Purge removes the staging root entirely, walking it first with
// godirwalk so a permission-denied node is reported with its own path
// rather than a generic os.RemoveAll error.
func (s *dirStager) Purge() error {
	if _, err := os.Stat(s.root); os.IsNotExist(err) {
		return nil
	}

	err := godirwalk.Walk(s.root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(osPathname string, de *godirwalk.Dirent) error {
			return nil
		},
	})
	if err != nil {
		return errors.Wrapf(err, "walking staging root %s before purge", s.root)
	}

	return errors.Wrapf(os.RemoveAll(s.root), "purging staging root %s", s.root)
}

// sanitize turns a crate name and version into a filesystem-safe
// directory name, per spec.md 6.2's "<name>-<version>" layout.
func sanitize(name, version string) string {
	return fmt.Sprintf("%s-%s", escapePathSegment(name), escapePathSegment(version))
}

func escapePathSegment(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r == filepath.Separator || r == '/' || r == '\\' || r == ':':
			out = append(out, '_')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}
