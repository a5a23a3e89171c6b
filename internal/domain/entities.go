// Package domain defines the core entities and ports for slipway.
package domain

import (
	"fmt"
	"time"
)

// ContextMode controls how the initial Address is inferred.
type ContextMode string

const (
	// ContextNone uses the working directory as a Local origin without inference.
	ContextNone ContextMode = "none"
	// ContextGitRemote infers the 'origin' remote of the enclosing repository.
	ContextGitRemote ContextMode = "git-remote"
	// ContextGitLocal infers the enclosing repository on disk.
	ContextGitLocal ContextMode = "git-local"
)

// ParseContextMode validates a context flag value. Empty means ContextGitLocal.
func ParseContextMode(s string) (ContextMode, error) {
	switch ContextMode(s) {
	case "":
		return ContextGitLocal, nil
	case ContextNone, ContextGitRemote, ContextGitLocal:
		return ContextMode(s), nil
	default:
		return "", fmt.Errorf("%w: context %q is not one of none, git-remote, git-local", ErrInvalidAddress, s)
	}
}

// DefaultRef is resolved when a Git address names no ref.
const DefaultRef = "HEAD"

// DefaultExecutable is used when no layer names an executable.
const DefaultExecutable = "entrypoint.sh"

// DefaultMaxRedirects bounds the convergence loop.
const DefaultMaxRedirects = 32

// ConfigFileName is the configuration document looked up at every state path.
const ConfigFileName = "slipway.toml"

// AddressInput holds the CLI-level hints used to build the initial Address.
type AddressInput struct {
	// Repo is an explicit repository URL or local repository path.
	Repo string

	// Ref is a symbolic ref or commit id. Empty means DefaultRef for Git origins.
	Ref string

	// DeployPath is the state path. When empty under a Git context it is
	// inferred from the working directory relative to the repository root.
	DeployPath string

	// Context selects how the origin is inferred.
	Context ContextMode

	// WorkDir is the directory the invocation started from.
	WorkDir string

	// Latest forces ref resolution to bypass the ref cache.
	Latest bool
}

// LocalRepository describes a Git repository found on disk.
type LocalRepository struct {
	// Root is the absolute path of the working tree.
	Root string

	// OriginURL is the first URL of the 'origin' remote, empty if none.
	OriginURL string
}

// VarBinding pairs a secret key with the environment variable it populates.
type VarBinding struct {
	SecretKey string
	EnvName   string
}

// Redirect asks the resolver to continue at a different Address.
// Nil fields inherit from the current Address.
type Redirect struct {
	Repo   *string
	GitRef *string
	Path   *RelativePath
}

// ConfigDocument is the partial view of one configuration file.
// Nil fields are unset; a pointer to "" is set-to-empty.
type ConfigDocument struct {
	// Source is the most specific file the document was read from, empty
	// when absent.
	Source string

	// Sources lists every file that contributed, outermost first.
	Sources []string

	ExecutableName *string
	ExecutionPath  *string
	Variables      []VarBinding
	Redirect       *Redirect
}

// Empty reports whether the document contributes nothing.
func (d *ConfigDocument) Empty() bool {
	return d == nil || (d.ExecutableName == nil && d.ExecutionPath == nil &&
		len(d.Variables) == 0 && d.Redirect == nil)
}

// ScopeKind distinguishes repo-scoped from global secrets.
type ScopeKind int

const (
	// ScopeRepo secrets belong to one repository identity.
	ScopeRepo ScopeKind = iota
	// ScopeGlobal secrets are shared by every repository.
	ScopeGlobal
)

// Scope is the namespace a secret is stored under.
type Scope struct {
	Kind ScopeKind
	Repo string
}

// RepoScope returns the scope of a repository identity.
func RepoScope(identity string) Scope {
	return Scope{Kind: ScopeRepo, Repo: identity}
}

// GlobalScope returns the shared scope.
func GlobalScope() Scope {
	return Scope{Kind: ScopeGlobal}
}

// String is the storage prefix of the scope.
func (s Scope) String() string {
	if s.Kind == ScopeGlobal {
		return "global"
	}
	return "repo:" + s.Repo
}

// Binding is one resolved secret-to-environment pairing.
// Scope is the preferred (repo) scope; lookup falls back to global.
type Binding struct {
	SecretKey string
	EnvName   string
	Scope     Scope
}

// BoundSecret is a Binding with its value and the scope it was found in.
type BoundSecret struct {
	Binding
	Value      string
	FoundScope Scope
}

// Env renders the binding as KEY=VALUE.
func (b BoundSecret) Env() string {
	return b.EnvName + "=" + b.Value
}

// ResolvedState is the immutable output of one resolution.
type ResolvedState struct {
	// Root is the Address resolution started from.
	Root Address

	// Final is the Address resolution converged at.
	Final Address

	// Chain lists every Address visited, root first.
	Chain []Address

	// ExecutablePath is the absolute path of the executable.
	ExecutablePath string

	// ExecutionPath is the absolute working directory for the executable.
	ExecutionPath string

	// Bindings keep the first-appearance order of their secret keys.
	Bindings []Binding
}

// RunOverrides are invocation arguments that take precedence over every layer.
type RunOverrides struct {
	Executable    *string
	ExecutionPath *string
	Variables     []VarBinding
}

// ProcessSpec is the fully resolved triple handed to the process launcher.
type ProcessSpec struct {
	Path string
	Dir  string
	// Env holds extra KEY=VALUE entries appended to the inherited environment.
	Env []string
}

// RefCacheEntry is a persisted (repo, ref) -> commit resolution.
type RefCacheEntry struct {
	RepoURL    string
	RefName    string
	CommitID   string
	ResolvedAt time.Time
}
