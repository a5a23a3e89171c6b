// Package secrets provides secret store adapters: the OS keyring, Vault KV v2
// and an in-memory store.
package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/MyCarrier-DevOps/slipway/internal/domain"
)

// DefaultService is the keyring service secrets are filed under.
const DefaultService = "slipway"

// KeyringStore implements domain.SecretStore on the OS keyring.
// Entries are stored under service with user "<scope>:<key>".
type KeyringStore struct {
	service string
}

// NewKeyringStore creates a KeyringStore. An empty service means DefaultService.
func NewKeyringStore(service string) *KeyringStore {
	if service == "" {
		service = DefaultService
	}
	return &KeyringStore{service: service}
}

// Get implements domain.SecretStore.
func (s *KeyringStore) Get(_ context.Context, scope domain.Scope, key string) (string, error) {
	value, err := keyring.Get(s.service, keyringUser(scope, key))
	if errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("%w: %s in %s", domain.ErrSecretNotFound, key, scope)
	}
	if err != nil {
		return "", fmt.Errorf("reading %s from keyring: %w", key, err)
	}
	return value, nil
}

// Set implements domain.SecretStore.
func (s *KeyringStore) Set(_ context.Context, scope domain.Scope, key, value string) error {
	if err := keyring.Set(s.service, keyringUser(scope, key), value); err != nil {
		return fmt.Errorf("writing %s to keyring: %w", key, err)
	}
	return nil
}

func keyringUser(scope domain.Scope, key string) string {
	return scope.String() + ":" + key
}
