package crate

// sourceKind discriminates Source's tagged union.
type sourceKind uint8

const (
	sourceRegistry sourceKind = iota
	sourceLocal
	sourceGit
)

// Source identifies where a crate's code comes from. It does not carry the
// version itself - that's VersionedCrate's job.
type Source struct {
	kind sourceKind
	path string // sourceLocal
	url  string // sourceGit
	rev  string // sourceGit
}

// Registry is the crates.io-backed source: the ordinary case.
func Registry() Source { return Source{kind: sourceRegistry} }

// Local identifies a base crate or dependent living at a local path, as
// opposed to being fetched from the registry.
func Local(path string) Source { return Source{kind: sourceLocal, path: path} }

// Git identifies a crate pinned to a revision in a remote repository.
func Git(url, rev string) Source { return Source{kind: sourceGit, url: url, rev: rev} }

// IsLocal reports whether the source is a local path.
func (s Source) IsLocal() bool { return s.kind == sourceLocal }

// IsRegistry reports whether the source is the default crates.io registry.
func (s Source) IsRegistry() bool { return s.kind == sourceRegistry }

// IsGit reports whether the source is a pinned git checkout.
func (s Source) IsGit() bool { return s.kind == sourceGit }

// Path returns the local path, or "" if the source is not Local.
func (s Source) Path() string { return s.path }

// GitURL and GitRev return the git remote and pinned revision, or "" if the
// source is not Git.
func (s Source) GitURL() string { return s.url }
func (s Source) GitRev() string { return s.rev }

func (s Source) String() string {
	switch s.kind {
	case sourceLocal:
		return "local:" + s.path
	case sourceGit:
		return "git:" + s.url + "@" + s.rev
	default:
		return "registry"
	}
}

// VersionedCrate is the universal reference used for both the base crate
// under test and each dependent: a name, a version, and where to get it.
type VersionedCrate struct {
	Name    string
	Version Version
	Source  Source
}
