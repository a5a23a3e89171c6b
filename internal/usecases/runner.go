package usecases

import (
	"context"
	"errors"
	"fmt"

	"github.com/MyCarrier-DevOps/slipway/internal/domain"
)

// AddressBuilder produces the root Address of an invocation.
type AddressBuilder interface {
	Build(ctx context.Context, in domain.AddressInput) (domain.Address, error)
}

// AddressFollower follows redirects to the Address resolution converges at.
type AddressFollower interface {
	FinalAddress(ctx context.Context, root domain.Address, latest bool) (domain.Address, error)
}

// Runner drives one invocation end to end: root Address, convergence loop,
// secret binding and process launch.
type Runner struct {
	addresses AddressBuilder
	resolver  domain.StateResolver
	binder    domain.SecretBinder
	process   domain.ProcessRunner
	logger    Logger
}

// NewRunner creates a Runner.
func NewRunner(
	addresses AddressBuilder,
	resolver domain.StateResolver,
	binder domain.SecretBinder,
	process domain.ProcessRunner,
	log Logger,
) *Runner {
	return &Runner{
		addresses: addresses,
		resolver:  resolver,
		binder:    binder,
		process:   process,
		logger:    log,
	}
}

// Resolve converges the state for in without binding secrets.
func (r *Runner) Resolve(ctx context.Context, in domain.AddressInput, overrides domain.RunOverrides) (*domain.ResolvedState, error) {
	root, err := r.addresses.Build(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("failed to build root address: %w", err)
	}

	state, err := r.resolver.Resolve(ctx, root, domain.ResolveOptions{
		Latest:    in.Latest,
		Overrides: overrides,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve state: %w", err)
	}

	return state, nil
}

// Run resolves the state, binds its secrets and runs the executable.
// It returns the exit code of the executable.
func (r *Runner) Run(ctx context.Context, in domain.AddressInput, overrides domain.RunOverrides) (int, error) {
	state, err := r.Resolve(ctx, in, overrides)
	if err != nil {
		return -1, err
	}

	bound, err := r.binder.Bind(ctx, state.Bindings, state.Final)
	if err != nil {
		return -1, fmt.Errorf("failed to bind secrets: %w", err)
	}

	env := make([]string, 0, len(bound))
	for _, s := range bound {
		env = append(env, s.Env())
	}

	r.logger.Info(ctx, "running executable", map[string]interface{}{
		"executable": state.ExecutablePath,
		"workdir":    state.ExecutionPath,
		"env_vars":   len(env),
	})

	code, err := r.process.Run(ctx, domain.ProcessSpec{
		Path: state.ExecutablePath,
		Dir:  state.ExecutionPath,
		Env:  env,
	})
	if err != nil {
		return code, fmt.Errorf("failed to run executable: %w", err)
	}

	r.logger.Info(ctx, "executable exited", map[string]interface{}{
		"executable": state.ExecutablePath,
		"exit_code":  code,
	})

	return code, nil
}

// SecretWriter stores secrets under the scope resolution would look them up in.
type SecretWriter struct {
	addresses AddressBuilder
	follower  AddressFollower
	store     domain.SecretStore
	logger    Logger
}

// NewSecretWriter creates a SecretWriter.
func NewSecretWriter(addresses AddressBuilder, follower AddressFollower, store domain.SecretStore, log Logger) *SecretWriter {
	return &SecretWriter{addresses: addresses, follower: follower, store: store, logger: log}
}

// Set stores value under key. With global set the global scope is used,
// otherwise the repo scope of the Address resolution converges at.
func (w *SecretWriter) Set(ctx context.Context, in domain.AddressInput, key, value string, global bool) (domain.Scope, error) {
	if key == "" {
		return domain.Scope{}, errors.New("secret key must not be empty")
	}

	scope := domain.GlobalScope()
	if !global {
		root, err := w.addresses.Build(ctx, in)
		if err != nil {
			return domain.Scope{}, fmt.Errorf("failed to build root address: %w", err)
		}
		final, err := w.follower.FinalAddress(ctx, root, in.Latest)
		if err != nil {
			return domain.Scope{}, fmt.Errorf("failed to resolve state: %w", err)
		}
		scope = domain.RepoScope(final.Origin.Identity())
	}

	if err := w.store.Set(ctx, scope, key, value); err != nil {
		return domain.Scope{}, fmt.Errorf("failed to store secret: %w", err)
	}

	w.logger.Info(ctx, "stored secret", map[string]interface{}{
		"key":   key,
		"scope": scope.String(),
	})

	return scope, nil
}
