// Package usecases contains the application business logic.
// This package orchestrates domain entities and interfaces to fulfill use cases.
package usecases

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MyCarrier-DevOps/slipway/internal/domain"
)

// Logger defines the logging interface required by the use cases.
// This abstracts the logger dependency to avoid coupling to a specific implementation.
type Logger interface {
	Info(ctx context.Context, msg string, fields map[string]interface{})
	Debug(ctx context.Context, msg string, fields map[string]interface{})
	Warn(ctx context.Context, msg string, fields map[string]interface{})
	Error(ctx context.Context, msg string, err error, fields map[string]interface{})
}

// Resolution outcomes reported to Metrics.
const (
	OutcomeConverged = "converged"
	OutcomeCycle     = "cycle"
	OutcomeLimit     = "limit"
	OutcomeFailed    = "failed"
)

// ResolverSettings bounds and defaults the convergence loop.
type ResolverSettings struct {
	// MaxRedirects is the most redirects one resolution may follow.
	MaxRedirects int

	// DefaultExecutable is used when no layer names an executable.
	// Empty means there is no default.
	DefaultExecutable string
}

// DefaultResolverSettings returns the settings used when none are configured.
func DefaultResolverSettings() ResolverSettings {
	return ResolverSettings{
		MaxRedirects:      domain.DefaultMaxRedirects,
		DefaultExecutable: domain.DefaultExecutable,
	}
}

// StateResolver runs the convergence loop: starting from a root Address it
// loads the document at each state path, merges it into the accumulator and
// follows redirects until a document has none.
//
// Scalars are first-write-wins, so the root layer beats later layers.
// Variables are override-by-key, so later layers win per key while keeping
// the order keys first appeared in.
type StateResolver struct {
	materializer domain.Materializer
	loader       domain.ConfigLoader
	refs         domain.RefResolver
	logger       Logger
	metrics      Metrics
	settings     ResolverSettings
}

// NewStateResolver creates a StateResolver. metrics may be nil.
func NewStateResolver(
	materializer domain.Materializer,
	loader domain.ConfigLoader,
	refs domain.RefResolver,
	log Logger,
	metrics Metrics,
	settings ResolverSettings,
) *StateResolver {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if settings.MaxRedirects <= 0 {
		settings.MaxRedirects = domain.DefaultMaxRedirects
	}
	return &StateResolver{
		materializer: materializer,
		loader:       loader,
		refs:         refs,
		logger:       log,
		metrics:      metrics,
		settings:     settings,
	}
}

// accumulator is the state threaded through one resolution.
type accumulator struct {
	current  domain.Address
	visited  map[domain.Address]struct{}
	chain    []domain.Address
	rootDir  string
	finalDir string

	executable    *string
	executionPath *string
	vars          domain.VarMap
}

// merge applies one layer.
func (a *accumulator) merge(doc *domain.ConfigDocument) {
	if a.executable == nil && doc.ExecutableName != nil {
		a.executable = doc.ExecutableName
	}
	if a.executionPath == nil && doc.ExecutionPath != nil {
		a.executionPath = doc.ExecutionPath
	}
	a.vars.Merge(doc.Variables)
}

// Resolve implements domain.StateResolver.
func (r *StateResolver) Resolve(
	ctx context.Context,
	root domain.Address,
	opts domain.ResolveOptions,
) (*domain.ResolvedState, error) {
	r.logger.Info(ctx, "starting state resolution", map[string]interface{}{
		"root":   root.String(),
		"latest": opts.Latest,
	})

	acc, err := r.converge(ctx, root, opts.Latest)
	if err != nil {
		return nil, err
	}

	state, err := r.finish(acc, opts.Overrides)
	if err != nil {
		return nil, &domain.LayerError{
			Step:    len(acc.chain) - 1,
			Address: acc.current,
			Op:      "finish",
			Err:     err,
		}
	}

	r.logger.Info(ctx, "state converged", map[string]interface{}{
		"final":      state.Final.String(),
		"redirects":  len(state.Chain) - 1,
		"executable": state.ExecutablePath,
		"workdir":    state.ExecutionPath,
		"bindings":   len(state.Bindings),
	})

	return state, nil
}

// FinalAddress follows redirects from root and returns the Address the loop
// converges at, without requiring an executable.
func (r *StateResolver) FinalAddress(ctx context.Context, root domain.Address, latest bool) (domain.Address, error) {
	acc, err := r.converge(ctx, root, latest)
	if err != nil {
		return domain.Address{}, err
	}
	return acc.current, nil
}

func (r *StateResolver) converge(ctx context.Context, root domain.Address, latest bool) (*accumulator, error) {
	if err := root.Validate(); err != nil {
		r.metrics.ResolutionFinished(OutcomeFailed, 0)
		return nil, err
	}

	acc := &accumulator{
		current: root,
		visited: make(map[domain.Address]struct{}),
	}
	required := false

	for step := 0; ; step++ {
		if _, seen := acc.visited[acc.current]; seen {
			r.metrics.ResolutionFinished(OutcomeCycle, step)
			return nil, &domain.CyclicRedirectError{Chain: append(acc.chain, acc.current)}
		}
		if step > r.settings.MaxRedirects {
			r.metrics.ResolutionFinished(OutcomeLimit, step)
			return nil, fmt.Errorf("%w: followed %d redirects from %s", domain.ErrRedirectLimit, r.settings.MaxRedirects, root)
		}

		acc.visited[acc.current] = struct{}{}
		acc.chain = append(acc.chain, acc.current)

		layerErr := func(op string, err error) error {
			r.metrics.ResolutionFinished(OutcomeFailed, step)
			return &domain.LayerError{Step: step, Address: acc.current, Op: op, Err: err}
		}

		dir, err := r.materializer.Materialize(ctx, acc.current.Origin)
		if err != nil {
			return nil, layerErr("materialize", err)
		}
		if step == 0 {
			acc.rootDir = acc.current.Path.Under(dir)
		}
		acc.finalDir = acc.current.Path.Under(dir)

		doc, err := r.loader.Load(ctx, dir, acc.current.Path, required)
		if err != nil {
			return nil, layerErr("load config", err)
		}

		acc.merge(doc)

		r.logger.Debug(ctx, "merged layer", map[string]interface{}{
			"step":     step,
			"address":  acc.current.String(),
			"sources":  doc.Sources,
			"vars":     len(doc.Variables),
			"redirect": doc.Redirect != nil,
		})

		if doc.Redirect == nil {
			r.metrics.ResolutionFinished(OutcomeConverged, step)
			return acc, nil
		}

		next, err := r.redirectTarget(ctx, acc.current, doc.Redirect, latest)
		if err != nil {
			return nil, layerErr("redirect", err)
		}

		r.logger.Debug(ctx, "following redirect", map[string]interface{}{
			"step": step,
			"from": acc.current.String(),
			"to":   next.String(),
		})

		required = doc.Redirect.Path != nil
		acc.current = next
	}
}

// redirectTarget computes the next Address. Unset fields inherit from the
// current Address, and symbolic refs are resolved before the Address is used.
func (r *StateResolver) redirectTarget(
	ctx context.Context,
	current domain.Address,
	redirect *domain.Redirect,
	latest bool,
) (domain.Address, error) {
	next := current
	if redirect.Path != nil {
		next.Path = *redirect.Path
	}

	repo := trimmed(redirect.Repo)
	ref := trimmed(redirect.GitRef)

	switch {
	case repo != "":
		kind := domain.OriginGitRemote
		location := repo
		if !domain.IsRemoteURL(repo) {
			kind = domain.OriginGitLocal
			if !filepath.IsAbs(repo) {
				if current.Origin.Kind == domain.OriginGitRemote {
					return domain.Address{}, fmt.Errorf("%w: relative repository %q from remote %s",
						domain.ErrInvalidAddress, repo, current.Origin.Location)
				}
				location = filepath.Join(current.Origin.Location, repo)
			}
		}
		if ref == "" {
			ref = domain.DefaultRef
		}

		commit, err := r.refs.Resolve(ctx, kind, location, ref, latest)
		if err != nil {
			return domain.Address{}, err
		}
		next.Origin = newGitOrigin(kind, location, commit)

	case ref != "":
		kind := current.Origin.Kind
		if kind == domain.OriginLocal {
			kind = domain.OriginGitLocal
		}

		commit, err := r.refs.Resolve(ctx, kind, current.Origin.Location, ref, latest)
		if err != nil {
			return domain.Address{}, err
		}
		next.Origin = newGitOrigin(kind, current.Origin.Location, commit)
	}

	if err := next.Validate(); err != nil {
		return domain.Address{}, err
	}
	return next, nil
}

// finish applies defaults and overrides to a converged accumulator.
func (r *StateResolver) finish(acc *accumulator, overrides domain.RunOverrides) (*domain.ResolvedState, error) {
	name := r.settings.DefaultExecutable
	switch {
	case overrides.Executable != nil:
		name = *overrides.Executable
	case acc.executable != nil:
		name = *acc.executable
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: no executable name configured", domain.ErrMissingExecutable)
	}

	executable := resolveAgainst(acc.finalDir, name)
	info, err := os.Stat(executable)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s does not exist", domain.ErrMissingExecutable, executable)
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrMissingExecutable, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", domain.ErrMissingExecutable, executable)
	}

	workdir := acc.rootDir
	switch {
	case overrides.ExecutionPath != nil:
		workdir = resolveAgainst(acc.finalDir, *overrides.ExecutionPath)
	case acc.executionPath != nil:
		workdir = resolveAgainst(acc.finalDir, *acc.executionPath)
	}

	vars := acc.vars
	vars.Merge(overrides.Variables)

	scope := domain.RepoScope(acc.current.Origin.Identity())
	pairs := vars.Bindings()
	bindings := make([]domain.Binding, 0, len(pairs))
	for _, p := range pairs {
		bindings = append(bindings, domain.Binding{SecretKey: p.SecretKey, EnvName: p.EnvName, Scope: scope})
	}

	return &domain.ResolvedState{
		Root:           acc.chain[0],
		Final:          acc.current,
		Chain:          append([]domain.Address(nil), acc.chain...),
		ExecutablePath: executable,
		ExecutionPath:  workdir,
		Bindings:       bindings,
	}, nil
}

func newGitOrigin(kind domain.OriginKind, location, commit string) domain.Origin {
	if kind == domain.OriginGitRemote {
		return domain.GitRemoteOrigin(location, commit)
	}
	return domain.GitLocalOrigin(location, commit)
}

// resolveAgainst returns p unchanged when absolute, else joined onto dir.
func resolveAgainst(dir, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(dir, filepath.FromSlash(p))
}

func trimmed(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
