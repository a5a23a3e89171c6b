package secrets

import (
	"context"
	"fmt"
	"sync"

	"github.com/MyCarrier-DevOps/slipway/internal/domain"
)

// MemoryStore implements domain.SecretStore in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	secrets map[domain.Scope]map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{secrets: make(map[domain.Scope]map[string]string)}
}

// Get implements domain.SecretStore.
func (s *MemoryStore) Get(_ context.Context, scope domain.Scope, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.secrets[scope][key]
	if !ok {
		return "", fmt.Errorf("%w: %s in %s", domain.ErrSecretNotFound, key, scope)
	}
	return value, nil
}

// Set implements domain.SecretStore.
func (s *MemoryStore) Set(_ context.Context, scope domain.Scope, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.secrets[scope] == nil {
		s.secrets[scope] = make(map[string]string)
	}
	s.secrets[scope][key] = value
	return nil
}
