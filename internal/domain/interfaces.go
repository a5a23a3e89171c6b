package domain

import (
	"context"
)

// RepositoryLocator finds Git repositories on the local filesystem.
type RepositoryLocator interface {
	// FindEnclosing walks upward from dir to the nearest repository.
	// Returns ErrNoGitRepository if none is found.
	FindEnclosing(ctx context.Context, dir string) (*LocalRepository, error)
}

// RefLister asks a repository which commit a ref currently points to.
// It never consults a cache.
type RefLister interface {
	// LookupRef returns the commit id for ref in the repository at location.
	// kind must be OriginGitRemote or OriginGitLocal.
	// Returns ErrRefNotFound or ErrNetwork on failure.
	LookupRef(ctx context.Context, kind OriginKind, location, ref string) (string, error)
}

// Materializer produces a local directory for an origin.
type Materializer interface {
	// Materialize returns the directory holding the origin's tree. For Git
	// origins the result is cached by (identity, commit) and reused.
	Materialize(ctx context.Context, origin Origin) (string, error)
}

// RefCache persists ref resolutions across invocations.
type RefCache interface {
	// Get returns the entry for (repoURL, refName), or nil if absent.
	Get(ctx context.Context, repoURL, refName string) (*RefCacheEntry, error)

	// Put inserts or replaces an entry. Writes must be atomic.
	Put(ctx context.Context, entry RefCacheEntry) error

	// List returns all entries ordered by repo and ref.
	List(ctx context.Context) ([]RefCacheEntry, error)

	// Close flushes and releases the store.
	Close() error
}

// RefResolver turns a symbolic ref into a commit id, consulting the ref cache.
type RefResolver interface {
	Resolve(ctx context.Context, kind OriginKind, location, ref string, latest bool) (string, error)
}

// ConfigLoader reads the configuration document of a state path.
type ConfigLoader interface {
	// Load parses ConfigFileName under root/path. A missing file yields an
	// empty document unless required is set, in which case ErrConfigNotFound
	// is returned. Malformed files yield a *ConfigParseError.
	Load(ctx context.Context, root string, path RelativePath, required bool) (*ConfigDocument, error)
}

// ResolveOptions tunes one resolution run.
type ResolveOptions struct {
	// Latest re-resolves every symbolic ref met during redirects.
	Latest bool

	// Overrides win over every layer.
	Overrides RunOverrides
}

// StateResolver runs the convergence loop from a root Address.
type StateResolver interface {
	Resolve(ctx context.Context, root Address, opts ResolveOptions) (*ResolvedState, error)
}

// SecretStore is the secret storage capability.
type SecretStore interface {
	// Get returns the secret stored under scope and key.
	// Returns an error wrapping ErrSecretNotFound if absent.
	Get(ctx context.Context, scope Scope, key string) (string, error)

	// Set stores value under scope and key.
	Set(ctx context.Context, scope Scope, key, value string) error
}

// SecretBinder fills bindings with secret values.
type SecretBinder interface {
	Bind(ctx context.Context, bindings []Binding, addr Address) ([]BoundSecret, error)
}

// ProcessRunner launches the resolved executable.
type ProcessRunner interface {
	// Run blocks until the process exits and returns its exit code.
	Run(ctx context.Context, spec ProcessSpec) (int, error)
}

// OutputWriter renders command results.
type OutputWriter interface {
	// WriteResolvedState writes the converged state without secret values.
	WriteResolvedState(state *ResolvedState) error

	// WriteRefCacheEntries writes cached ref resolutions.
	WriteRefCacheEntries(entries []RefCacheEntry) error
}
