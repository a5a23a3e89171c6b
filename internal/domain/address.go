package domain

import (
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

// OriginKind identifies which addressing space an Address lives in.
type OriginKind int

const (
	// OriginLocal is the live, unversioned working tree.
	OriginLocal OriginKind = iota
	// OriginGitRemote is a commit of a repository reached over the network.
	OriginGitRemote
	// OriginGitLocal is a commit of a repository on the local filesystem.
	OriginGitLocal
)

// String returns the flag-style name of the origin kind.
func (k OriginKind) String() string {
	switch k {
	case OriginLocal:
		return "local"
	case OriginGitRemote:
		return "git-remote"
	case OriginGitLocal:
		return "git-local"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Origin is the directory tree half of an Address.
//
// Location is an absolute directory for OriginLocal, a repository URL for
// OriginGitRemote and an absolute repository path for OriginGitLocal.
// Commit is empty for OriginLocal and a full commit id otherwise.
type Origin struct {
	Kind     OriginKind
	Location string
	Commit   string
}

// LocalOrigin returns the origin of a live directory tree.
func LocalOrigin(dir string) Origin {
	return Origin{Kind: OriginLocal, Location: filepath.Clean(dir)}
}

// GitRemoteOrigin returns the origin of a commit in a remote repository.
func GitRemoteOrigin(repoURL, commit string) Origin {
	return Origin{Kind: OriginGitRemote, Location: strings.TrimSpace(repoURL), Commit: commit}
}

// GitLocalOrigin returns the origin of a commit in a repository on disk.
func GitLocalOrigin(repoPath, commit string) Origin {
	return Origin{Kind: OriginGitLocal, Location: filepath.Clean(repoPath), Commit: commit}
}

// IsGit reports whether the origin is addressed by commit.
func (o Origin) IsGit() bool {
	return o.Kind == OriginGitRemote || o.Kind == OriginGitLocal
}

// Identity is the repository (or directory) identity used for cache keys and
// secret scopes. It never includes the commit.
func (o Origin) Identity() string {
	return o.Location
}

// Validate checks that the origin is concrete. A Git origin whose commit is
// still a symbolic ref is an invalid intermediate state.
func (o Origin) Validate() error {
	if o.Location == "" {
		return fmt.Errorf("%w: empty %s location", ErrInvalidAddress, o.Kind)
	}
	switch o.Kind {
	case OriginLocal:
		if o.Commit != "" {
			return fmt.Errorf("%w: local origin cannot carry commit %s", ErrInvalidAddress, o.Commit)
		}
	case OriginGitRemote, OriginGitLocal:
		if !IsCommitID(o.Commit) {
			return fmt.Errorf("%w: %q is not a commit id", ErrUnresolvedRef, o.Commit)
		}
	default:
		return fmt.Errorf("%w: unknown origin kind %d", ErrInvalidAddress, int(o.Kind))
	}
	return nil
}

// String renders the origin for logs and error chains.
func (o Origin) String() string {
	if o.Commit == "" {
		return o.Kind.String() + ":" + o.Location
	}
	return o.Kind.String() + ":" + o.Location + "@" + ShortCommit(o.Commit)
}

// RelativePath is a clean, slash separated path that never escapes its root.
// The empty RelativePath denotes the root itself.
type RelativePath string

// NewRelativePath validates and normalizes p.
func NewRelativePath(p string) (RelativePath, error) {
	p = strings.TrimSpace(filepath.ToSlash(p))
	if p == "" || p == "." {
		return "", nil
	}
	if path.IsAbs(p) || filepath.IsAbs(p) {
		return "", fmt.Errorf("%w: %q is absolute", ErrInvalidPath, p)
	}
	cleaned := path.Clean(p)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q escapes its root", ErrInvalidPath, p)
	}
	if cleaned == "." {
		return "", nil
	}
	return RelativePath(cleaned), nil
}

// MustRelativePath is NewRelativePath for literals known to be valid.
func MustRelativePath(p string) RelativePath {
	rp, err := NewRelativePath(p)
	if err != nil {
		panic(err)
	}
	return rp
}

// IsRoot reports whether the path points at the root.
func (p RelativePath) IsRoot() bool {
	return p == ""
}

// Under joins the path onto an OS directory.
func (p RelativePath) Under(base string) string {
	if p.IsRoot() {
		return filepath.Clean(base)
	}
	return filepath.Join(base, filepath.FromSlash(string(p)))
}

// String returns "." for the root.
func (p RelativePath) String() string {
	if p.IsRoot() {
		return "."
	}
	return string(p)
}

// Address identifies a directory at a specific revision plus the state path
// within it. Addresses are comparable and usable as map keys.
type Address struct {
	Origin Origin
	Path   RelativePath
}

// Validate checks that the address may be handed to the config loader.
func (a Address) Validate() error {
	return a.Origin.Validate()
}

// WithPath returns a copy of a pointing at p.
func (a Address) WithPath(p RelativePath) Address {
	a.Path = p
	return a
}

// String renders the address as origin:path.
func (a Address) String() string {
	return a.Origin.String() + ":" + a.Path.String()
}

// IsCommitID reports whether s is a full SHA-1 or SHA-256 hex object id.
func IsCommitID(s string) bool {
	if len(s) != 40 && len(s) != 64 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// ShortCommit abbreviates a commit id for display.
func ShortCommit(commit string) string {
	if len(commit) > 12 {
		return commit[:12]
	}
	return commit
}

// scpURLPattern matches SCP-style remotes such as git@github.com:owner/repo.git.
var scpURLPattern = regexp.MustCompile(`^[\w.-]+@[^:/]+:.+$`)

// IsRemoteURL reports whether location names a network repository rather
// than a path on disk. file:// URLs count as paths.
func IsRemoteURL(location string) bool {
	location = strings.TrimSpace(location)
	if strings.Contains(location, "://") {
		return !strings.HasPrefix(location, "file://")
	}
	return scpURLPattern.MatchString(location)
}
