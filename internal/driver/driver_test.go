package driver

import (
	"context"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/imazen/cargo-copter/internal/crate"
	"github.com/imazen/cargo-copter/internal/matrix"
)

const testManifest = `[package]
name = "consumer"
version = "0.1.0"

[dependencies]
base-crate = "1.0"
`

// scriptedExecutor returns a fixed sequence of outcomes, one per call to
// Run, in order: fetch, then check, then test (when reached). Extra calls
// beyond the script return a zero-exit success.
type scriptedExecutor struct {
	calls   [][]string
	script  []scriptedCall
	callIdx int
}

type scriptedCall struct {
	stdout, stderr []byte
	exitCode       int
}

func (s *scriptedExecutor) Run(ctx context.Context, dir string, args []string) ([]byte, []byte, int, error) {
	s.calls = append(s.calls, args)
	if s.callIdx >= len(s.script) {
		return nil, nil, 0, nil
	}
	c := s.script[s.callIdx]
	s.callIdx++
	return c.stdout, c.stderr, c.exitCode, nil
}

func setupDependent(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := ioutil.WriteFile(filepath.Join(dir, "Cargo.toml"), []byte(testManifest), 0644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func testLogger() *log.Logger { return log.New(ioutil.Discard, "", 0) }

func TestDriveNoneIsTerminalAndSuccessful(t *testing.T) {
	dir := setupDependent(t)
	exec := &scriptedExecutor{script: []scriptedCall{
		{exitCode: 0}, // fetch
		{exitCode: 0}, // check
		{exitCode: 0}, // test
	}}
	d := &Driver{Exec: exec, Log: testLogger()}

	base := crate.VersionedCrate{Name: "base-crate", Version: crate.NewSemverVersion("1.0.0"), Source: crate.Registry()}
	result, err := d.Drive(context.Background(), dir, base, crate.OverrideNone, "", DriveOptions{})
	if err != nil {
		t.Fatalf("Drive: %v", err)
	}
	if result.PatchDepth != matrix.DepthNone {
		t.Errorf("PatchDepth = %v, want DepthNone", result.PatchDepth)
	}
	if !result.Fetch.Success || result.Check == nil || !result.Check.Success || result.Test == nil || !result.Test.Success {
		t.Errorf("expected all three steps to succeed, got %+v", result)
	}

	// Manifest must be restored byte-identical (Invariant M1).
	got, err := ioutil.ReadFile(filepath.Join(dir, "Cargo.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != testManifest {
		t.Errorf("manifest not restored to original bytes:\n%s", got)
	}
}

func TestDriveEarlyStopOnFetchFailure(t *testing.T) {
	dir := setupDependent(t)
	exec := &scriptedExecutor{script: []scriptedCall{
		{exitCode: 1, stderr: []byte("some unrelated fetch error")},
	}}
	d := &Driver{Exec: exec, Log: testLogger()}

	base := crate.VersionedCrate{Name: "base-crate", Version: crate.NewSemverVersion("1.0.0"), Source: crate.Registry()}
	result, err := d.Drive(context.Background(), dir, base, crate.OverrideNone, "", DriveOptions{})
	if err != nil {
		t.Fatalf("Drive: %v", err)
	}
	if result.Fetch.Success {
		t.Fatal("expected fetch to fail")
	}
	if result.Check != nil || result.Test != nil {
		t.Errorf("expected check/test to be truncated (nil) after fetch failure, got %+v / %+v", result.Check, result.Test)
	}
}

func TestDriveForceEscalatesOnConflict(t *testing.T) {
	dir := setupDependent(t)
	conflictStderr := []byte("error: failed to select a version\nmultiple different versions of crate `base-crate` are in use")
	exec := &scriptedExecutor{script: []scriptedCall{
		{exitCode: 101, stderr: conflictStderr}, // RUN(Force) fetch: conflict
		{exitCode: 0},                           // RUN(Patch) fetch: succeeds
		{exitCode: 0},                           // check
		{exitCode: 0},                           // test
	}}
	d := &Driver{Exec: exec, Log: testLogger()}

	base := crate.VersionedCrate{Name: "base-crate", Version: crate.NewSemverVersion("2.0.0"), Source: crate.Registry()}
	result, err := d.Drive(context.Background(), dir, base, crate.OverrideForce, "", DriveOptions{})
	if err != nil {
		t.Fatalf("Drive: %v", err)
	}
	if result.PatchDepth != matrix.DepthPatch {
		t.Errorf("PatchDepth = %v, want DepthPatch after escalation", result.PatchDepth)
	}
}

func TestDriveForceEscalatesToDeepPatchOnPersistentConflict(t *testing.T) {
	dir := setupDependent(t)
	conflictStderr := []byte("error: two different versions of crate `base-crate` are in use, required by package `helper v0.3.0` and package `other v1.1.0`")
	exec := &scriptedExecutor{script: []scriptedCall{
		{exitCode: 101, stderr: conflictStderr}, // RUN(Force): conflict
		{exitCode: 101, stderr: conflictStderr}, // RUN(Patch): still conflict
		{exitCode: 101, stderr: conflictStderr}, // RUN(DeepPatch): conflict persists
	}}
	d := &Driver{Exec: exec, Log: testLogger()}

	base := crate.VersionedCrate{Name: "base-crate", Version: crate.NewSemverVersion("2.0.0"), Source: crate.Registry()}
	result, err := d.Drive(context.Background(), dir, base, crate.OverrideForce, "", DriveOptions{})
	if err != nil {
		t.Fatalf("Drive: %v", err)
	}
	if result.PatchDepth != matrix.DepthDeepPatch {
		t.Errorf("PatchDepth = %v, want DepthDeepPatch", result.PatchDepth)
	}
	got := append([]string(nil), result.BlockingCrates...)
	sort.Strings(got)
	want := []string{"helper", "other"}
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("BlockingCrates mismatch (-want +got):\n%s", diff)
	}
}

func TestDrivePatchTargetDoesNotEscalate(t *testing.T) {
	dir := setupDependent(t)
	conflictStderr := []byte("multiple different versions of crate `base-crate` are in use")
	exec := &scriptedExecutor{script: []scriptedCall{
		{exitCode: 101, stderr: conflictStderr},
	}}
	d := &Driver{Exec: exec, Log: testLogger()}

	base := crate.VersionedCrate{Name: "base-crate", Version: crate.NewSemverVersion("2.0.0"), Source: crate.Registry()}
	result, err := d.Drive(context.Background(), dir, base, crate.OverridePatch, "", DriveOptions{})
	if err != nil {
		t.Fatalf("Drive: %v", err)
	}
	if result.PatchDepth != matrix.DepthPatch {
		t.Errorf("PatchDepth = %v, want DepthPatch (a direct Patch target must not escalate to DeepPatch)", result.PatchDepth)
	}
}

func TestDetectConflict(t *testing.T) {
	cases := []struct {
		stderr string
		want   bool
	}{
		{"multiple different versions of crate `foo` are in use", true},
		{"two different versions of crate `foo` are in use", true},
		{"error: could not compile `foo`", false},
		{"", false},
	}
	for _, c := range cases {
		if got := detectConflict([]byte(c.stderr)); got != c.want {
			t.Errorf("detectConflict(%q) = %v, want %v", c.stderr, got, c.want)
		}
	}
}

func TestDriveWithSkippedStepsRestoresWithoutError(t *testing.T) {
	dir := setupDependent(t)
	// The directory stays writable (0755); with check and test skipped only
	// fetch runs, and Drive must restore the manifest and return no error.
	if err := os.Chmod(dir, 0755); err != nil {
		t.Fatal(err)
	}
	exec := &scriptedExecutor{script: []scriptedCall{{exitCode: 0}}}
	d := &Driver{Exec: exec, Log: testLogger()}

	base := crate.VersionedCrate{Name: "base-crate", Version: crate.NewSemverVersion("1.0.0"), Source: crate.Registry()}
	_, err := d.Drive(context.Background(), dir, base, crate.OverrideNone, "", DriveOptions{SkipCheck: true, SkipTest: true})
	if err != nil {
		t.Fatalf("Drive: %v", err)
	}
}
