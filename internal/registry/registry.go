// Package registry declares the interface cargo-copter needs from a crate
// index: the top-N dependents of a crate by download count, and a crate's
// latest published version. Wire protocol, HTTP client, and response caching
// are out of scope (spec.md Non-goals); this package exists so
// internal/config and internal/runner have something to call, and so tests
// can supply a fake without touching a network.
//
// Modeled on golang-dep's SourceManager interface (source_manager.go): kept
// thin, with ordering and tie-breaking left to the caller rather than baked
// into the client.
package registry

import (
	"context"

	"github.com/imazen/cargo-copter/internal/crate"
)

// DependentRef is one entry in a crate's reverse-dependency list.
type DependentRef struct {
	Name          string
	LatestVersion crate.Version
	DownloadCount uint64
}

// Registry is the consumed interface: everything cargo-copter needs from a
// crate index. A real implementation talks to crates.io; tests supply an
// in-memory fake.
type Registry interface {
	// TopDependents returns up to n crates that depend on name, ordered by
	// descending download count as the index reports it. Callers that need
	// a stable, lexicographic tie-break (spec.md 4.1) must impose it
	// themselves; this method makes no ordering guarantee beyond what the
	// backing index returns.
	TopDependents(ctx context.Context, name string, n int) ([]DependentRef, error)

	// LatestVersion resolves crate.Latest for name against the index's
	// current view of the most recently published, non-yanked version.
	LatestVersion(ctx context.Context, name string) (crate.Version, error)
}
