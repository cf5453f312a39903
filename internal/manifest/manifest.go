// Package manifest implements the RAII-style backup/patch/restore guard
// around a dependent's Cargo.toml (and its sibling Cargo.lock), following
// spec.md 4.3/6.3's restoration invariants (M1: byte-identical restore; M2:
// stable, non-colliding backup filename).
//
// Modeled on golang-dep's toml.go for tree-based TOML access and on fs.go's
// CopyFile/RenameWithFallback for the actual byte-mover behind Begin and
// Restore. The advisory file lock follows the same reasoning golang-dep
// vendors github.com/theckman/go-flock for: a staging directory accidentally
// reused by two concurrent runner invocations must not interleave writes to
// the same manifest.
package manifest

import (
	"io/ioutil"
	"os"
	"strings"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"github.com/theckman/go-flock"

	"github.com/imazen/cargo-copter/internal/cerrors"
)

// backupSuffix names the sibling backup file. Fixed and crate-tool-specific
// (rather than a random temp name) so Invariant M2's "non-colliding" promise
// only needs to hold against other cargo-copter runs, not against every
// process on the machine; a stale one left by a crashed prior run is simply
// overwritten on the next Begin.
const backupSuffix = ".cargo-copter-backup"

// lockPath returns the advisory lock file's path: the manifest path plus
// this module's tool name.
func lockPath(manifestPath string) string { return manifestPath + ".cargo-copter-lock" }

// Guard holds everything needed to restore a manifest (and its lockfile) to
// its pre-cell bytes. The zero Guard is not usable; always obtain one from
// Begin.
type Guard struct {
	path       string
	backupPath string
	lockPath   string
	lockPath2  string // Cargo.lock backup path, empty if no lockfile present
	lockFile   string // Cargo.lock path itself, empty if absent

	lock *flock.Flock

	tree *toml.Tree

	closed bool
}

// dependencyTables are the manifest sections ApplyForce rewrites a pinned
// dependency row in, in priority order.
var dependencyTables = []string{"dependencies", "dev-dependencies", "build-dependencies"}

// ReadPackageName opens the manifest at path and returns its
// [package].name value, without taking a lock or producing a Guard. Used
// by the config resolver to recover a local base crate's or dependent's
// name from its manifest rather than trusting a user-supplied label.
func ReadPackageName(path string) (string, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return "", &cerrors.ManifestUnreadable{Path: path, Err: err}
	}
	tree, err := toml.LoadBytes(raw)
	if err != nil {
		return "", &cerrors.ManifestUnreadable{Path: path, Err: errors.Wrap(err, "parsing TOML")}
	}
	name, ok := tree.Get("package.name").(string)
	if !ok || name == "" {
		return "", &cerrors.ManifestUnreadable{Path: path, Err: errors.New("missing [package].name")}
	}
	return name, nil
}

// ResolvedVersion inspects a Cargo.lock file for the version actually
// selected for crateName, per spec.md 4.2's step 6. Returns "" with no
// error if the lockfile is absent (cargo has not run fetch yet) or the
// crate is not present in it.
func ResolvedVersion(lockPath, crateName string) (string, error) {
	raw, err := ioutil.ReadFile(lockPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", errors.Wrapf(err, "reading lockfile %s", lockPath)
	}

	tree, err := toml.LoadBytes(raw)
	if err != nil {
		return "", errors.Wrapf(err, "parsing lockfile %s", lockPath)
	}

	packages, ok := tree.Get("package").([]*toml.Tree)
	if !ok {
		return "", nil
	}
	for _, pkg := range packages {
		if name, _ := pkg.Get("name").(string); name == crateName {
			version, _ := pkg.Get("version").(string)
			return version, nil
		}
	}
	return "", nil
}

// Begin opens manifestPath, takes an advisory lock on it for the cell's
// duration, backs up its bytes (and its sibling Cargo.lock's bytes, if
// present) to a sibling file per Invariant M2, and parses the manifest into
// a mutable TOML tree. The lockfile's content is preserved byte-for-byte
// across the guard's lifetime regardless of override mode; it is the
// driver's job, not this package's, to decide whether to let cargo rewrite
// it.
func Begin(manifestPath string) (*Guard, error) {
	raw, err := ioutil.ReadFile(manifestPath)
	if err != nil {
		return nil, &cerrors.ManifestUnreadable{Path: manifestPath, Err: err}
	}

	tree, err := toml.LoadBytes(raw)
	if err != nil {
		return nil, &cerrors.ManifestUnreadable{Path: manifestPath, Err: errors.Wrap(err, "parsing TOML")}
	}

	fl := flock.New(lockPath(manifestPath))
	if err := fl.Lock(); err != nil {
		return nil, &cerrors.ManifestUnreadable{Path: manifestPath, Err: errors.Wrap(err, "acquiring manifest lock")}
	}

	g := &Guard{
		path:       manifestPath,
		backupPath: manifestPath + backupSuffix,
		lockPath:   lockPath(manifestPath),
		tree:       tree,
		lock:       fl,
	}

	if err := writeFileAtomic(g.backupPath, raw); err != nil {
		fl.Unlock()
		return nil, &cerrors.ManifestUnwritable{Path: g.backupPath, Err: err}
	}

	lockFile := siblingLockfile(manifestPath)
	if lraw, err := ioutil.ReadFile(lockFile); err == nil {
		g.lockFile = lockFile
		g.lockPath2 = lockFile + backupSuffix
		if err := writeFileAtomic(g.lockPath2, lraw); err != nil {
			fl.Unlock()
			return nil, &cerrors.ManifestUnwritable{Path: g.lockPath2, Err: err}
		}
	} else if !os.IsNotExist(err) {
		fl.Unlock()
		return nil, &cerrors.ManifestUnreadable{Path: lockFile, Err: err}
	}

	return g, nil
}

// siblingLockfile derives Cargo.lock's path from Cargo.toml's.
func siblingLockfile(manifestPath string) string {
	dir := manifestPath[:len(manifestPath)-len("Cargo.toml")]
	return dir + "Cargo.lock"
}

// ApplyForce overwrites crateName's version pin across every dependency
// table it appears in with pin, per spec.md 4.2's Force depth. Returns the
// number of tables touched; zero means crateName is not a direct dependency
// anywhere in the manifest. The driver does not act on the count.
func (g *Guard) ApplyForce(crateName, pin string) (int, error) {
	touched := 0
	for _, table := range dependencyTables {
		key := table + "." + crateName
		// Inline-table dependency rows (name = { version = "..." }) are a
		// nested tree rather than a scalar; detect via the table-qualified
		// key form used by go-toml's dotted Get.
		if sub, ok := g.tree.Get(key).(*toml.Tree); ok && sub != nil {
			sub.Set("version", pin)
			touched++
			continue
		}
		if g.tree.Has(key) {
			if err := g.setDependencyVersion(table, crateName, pin); err != nil {
				return touched, &cerrors.ManifestUnwritable{Path: g.path, Err: err}
			}
			touched++
		}
	}
	return touched, nil
}

// setDependencyVersion rewrites a dependency row that is a bare version
// string ('foo = "1.2"') into the pinned version, leaving every other key
// in the manifest untouched.
func (g *Guard) setDependencyVersion(table, crateName, pin string) error {
	key := table + "." + crateName
	switch g.tree.Get(key).(type) {
	case string, nil:
		g.tree.Set(key, pin)
		return nil
	default:
		return errors.Errorf("dependency row %s has an unexpected shape", key)
	}
}

// ApplyForcePath overwrites crateName's dependency row with a path-table
// override ({ path = "..." }), the local-source analogue of ApplyForce's
// exact version pin.
func (g *Guard) ApplyForcePath(crateName, path string) (int, error) {
	touched := 0
	sub, err := toml.TreeFromMap(map[string]interface{}{"path": path})
	if err != nil {
		return 0, &cerrors.ManifestUnwritable{Path: g.path, Err: err}
	}
	for _, table := range dependencyTables {
		key := table + "." + crateName
		if g.tree.Has(key) || g.tree.Get(key) != nil {
			g.tree.SetPath([]string{table, crateName}, sub)
			touched++
		}
	}
	return touched, nil
}

// ApplyPatch merges a [patch.<registryName>] table entry pointing
// crateName at pin (the table's keys, e.g. {"path": ...} for a local
// override or {"version": ...} for a registry pin), per spec.md 4.2's
// Patch depth. Idempotent: re-applying
// the same crate/pin pair is a no-op, detected by comparing the existing
// entry before writing.
func (g *Guard) ApplyPatch(registryName, crateName string, pin map[string]string) error {
	key := "patch." + registryName + "." + crateName
	if existing, ok := g.tree.Get(key).(*toml.Tree); ok && existing != nil {
		if patchEqual(existing, pin) {
			return nil
		}
	}

	sub, err := toml.TreeFromMap(toStringMap(pin))
	if err != nil {
		return &cerrors.ManifestUnwritable{Path: g.path, Err: errors.Wrap(err, "building patch table")}
	}
	g.tree.SetPath(strings.Split(key, "."), sub)
	return nil
}

func toStringMap(m map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func patchEqual(existing *toml.Tree, pin map[string]string) bool {
	for k, v := range pin {
		if ev, ok := existing.Get(k).(string); !ok || ev != v {
			return false
		}
	}
	return true
}

// Flush serializes the current tree back over the manifest on disk. The
// driver calls this once after ApplyForce/ApplyPatch, before invoking
// cargo; Restore undoes it unconditionally regardless of whether Flush was
// ever called.
func (g *Guard) Flush() error {
	out, err := g.tree.ToTomlString()
	if err != nil {
		return &cerrors.ManifestUnwritable{Path: g.path, Err: err}
	}
	if err := writeFileAtomic(g.path, []byte(out)); err != nil {
		return &cerrors.ManifestUnwritable{Path: g.path, Err: err}
	}
	return nil
}

// Restore copies the backed-up bytes back over the manifest (and the
// lockfile, if one was backed up), satisfying Invariant M1, then removes
// the backup files and releases the advisory lock. Safe to call multiple
// times; subsequent calls are no-ops.
func (g *Guard) Restore() error {
	if g.closed {
		return nil
	}
	g.closed = true

	defer g.lock.Unlock()

	if err := restoreFile(g.backupPath, g.path); err != nil {
		return &cerrors.RestoreFailed{Path: g.path, Err: err}
	}
	if g.lockFile != "" {
		if err := restoreFile(g.lockPath2, g.lockFile); err != nil {
			return &cerrors.RestoreFailed{Path: g.lockFile, Err: err}
		}
	}
	return nil
}

func restoreFile(backupPath, targetPath string) error {
	raw, err := ioutil.ReadFile(backupPath)
	if err != nil {
		return errors.Wrapf(err, "reading backup %s", backupPath)
	}
	if err := writeFileAtomic(targetPath, raw); err != nil {
		return err
	}
	return errors.Wrapf(os.Remove(backupPath), "removing backup %s", backupPath)
}

// Close calls Restore and swallows its error, for use with defer as a
// last-resort cleanup when the caller already has a more specific error to
// report. Callers on the success path should call Restore directly so a
// restoration failure is not silently dropped.
func (g *Guard) Close() {
	_ = g.Restore()
}

// writeFileAtomic writes data to a temp file in the same directory as path
// and renames it into place, so a crash mid-write never leaves path
// truncated. Mirrors golang-dep's fs.go CopyFile/RenameWithFallback
// discipline of never mutating a destination file in place.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := ioutil.WriteFile(tmp, data, 0644); err != nil {
		return errors.Wrapf(err, "writing temp file for %s", path)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "renaming temp file into %s", path)
	}
	return nil
}
