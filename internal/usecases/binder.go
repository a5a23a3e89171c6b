package usecases

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/MyCarrier-DevOps/slipway/internal/domain"
)

// maxConcurrentLookups bounds parallel secret store requests.
const maxConcurrentLookups = 8

// SecretObserver is told about every secret value that gets bound,
// typically so the logger can redact it.
type SecretObserver interface {
	AddSecret(value string)
}

// SecretBinder looks up the value of every binding, preferring the repo
// scope over the global scope. Lookups run concurrently; results keep the
// order of the bindings.
type SecretBinder struct {
	store    domain.SecretStore
	logger   Logger
	metrics  Metrics
	observer SecretObserver
}

// NewSecretBinder creates a SecretBinder. metrics and observer may be nil.
func NewSecretBinder(store domain.SecretStore, log Logger, metrics Metrics, observer SecretObserver) *SecretBinder {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &SecretBinder{store: store, logger: log, metrics: metrics, observer: observer}
}

// Bind implements domain.SecretBinder. Bindings without a repo scope are
// scoped to addr's origin.
func (b *SecretBinder) Bind(ctx context.Context, bindings []domain.Binding, addr domain.Address) ([]domain.BoundSecret, error) {
	bound := make([]domain.BoundSecret, len(bindings))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentLookups)

	for i, binding := range bindings {
		if binding.Scope.Kind == domain.ScopeRepo && binding.Scope.Repo == "" {
			binding.Scope = domain.RepoScope(addr.Origin.Identity())
		}

		g.Go(func() error {
			value, found, err := b.lookup(gctx, binding)
			if err != nil {
				return err
			}
			bound[i] = domain.BoundSecret{Binding: binding, Value: value, FoundScope: found}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, s := range bound {
		if b.observer != nil {
			b.observer.AddSecret(s.Value)
		}
		counts[scopeLabel(s.FoundScope)]++
	}
	for label, n := range counts {
		b.metrics.SecretsBound(label, n)
	}

	b.logger.Info(ctx, "bound secrets", map[string]interface{}{
		"address":  addr.String(),
		"bindings": len(bound),
		"repo":     counts["repo"],
		"global":   counts["global"],
	})

	return bound, nil
}

// lookup tries the binding's scope, then the global scope.
func (b *SecretBinder) lookup(ctx context.Context, binding domain.Binding) (string, domain.Scope, error) {
	scopes := []domain.Scope{binding.Scope}
	if binding.Scope.Kind != domain.ScopeGlobal {
		scopes = append(scopes, domain.GlobalScope())
	}

	for _, scope := range scopes {
		value, err := b.store.Get(ctx, scope, binding.SecretKey)
		if err == nil {
			b.logger.Debug(ctx, "found secret", map[string]interface{}{
				"key":   binding.SecretKey,
				"env":   binding.EnvName,
				"scope": scope.String(),
			})
			return value, scope, nil
		}
		if !errors.Is(err, domain.ErrSecretNotFound) {
			return "", domain.Scope{}, fmt.Errorf("looking up %q in %s: %w", binding.SecretKey, scope, err)
		}
	}

	return "", domain.Scope{}, &domain.SecretNotFoundError{Key: binding.SecretKey, Scopes: scopes}
}

func scopeLabel(s domain.Scope) string {
	if s.Kind == domain.ScopeGlobal {
		return "global"
	}
	return "repo"
}
