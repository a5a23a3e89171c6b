package secrets

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/vault-client-go"
	"github.com/hashicorp/vault-client-go/schema"

	"github.com/MyCarrier-DevOps/slipway/internal/domain"
)

// Vault layout defaults.
const (
	DefaultVaultMount  = "secret"
	DefaultVaultPrefix = "slipway"
)

// KVReader reads a KV v2 secret as a map of keys to values.
type KVReader interface {
	GetKVSecret(ctx context.Context, path, mount string) (map[string]interface{}, error)
}

// KVWriter replaces a KV v2 secret.
type KVWriter interface {
	PutKVSecret(ctx context.Context, path, mount string, data map[string]interface{}) error
}

// VaultStore implements domain.SecretStore on Vault KV v2. Every scope is one
// KV secret at <prefix>/global or <prefix>/repos/<encoded identity>, whose
// data keys are the secret keys.
type VaultStore struct {
	reader KVReader
	writer KVWriter
	mount  string
	prefix string
}

// NewVaultStore creates a VaultStore. writer may be nil for read-only use.
func NewVaultStore(reader KVReader, writer KVWriter, mount, prefix string) *VaultStore {
	if mount == "" {
		mount = DefaultVaultMount
	}
	if prefix == "" {
		prefix = DefaultVaultPrefix
	}
	return &VaultStore{reader: reader, writer: writer, mount: mount, prefix: strings.Trim(prefix, "/")}
}

// ScopePath returns the KV path of a scope.
func (s *VaultStore) ScopePath(scope domain.Scope) string {
	if scope.Kind == domain.ScopeGlobal {
		return path.Join(s.prefix, "global")
	}
	return path.Join(s.prefix, "repos", base64.RawURLEncoding.EncodeToString([]byte(scope.Repo)))
}

// Get implements domain.SecretStore.
func (s *VaultStore) Get(ctx context.Context, scope domain.Scope, key string) (string, error) {
	data, err := s.read(ctx, scope)
	if err != nil {
		return "", err
	}

	raw, ok := data[key]
	if !ok || raw == nil {
		return "", fmt.Errorf("%w: %s in %s", domain.ErrSecretNotFound, key, scope)
	}
	if value, ok := raw.(string); ok {
		return value, nil
	}
	return fmt.Sprint(raw), nil
}

// Set implements domain.SecretStore. Other keys of the scope are preserved.
func (s *VaultStore) Set(ctx context.Context, scope domain.Scope, key, value string) error {
	if s.writer == nil {
		return errors.New("vault secret store is read-only")
	}

	data, err := s.read(ctx, scope)
	if err != nil && !errors.Is(err, domain.ErrSecretNotFound) {
		return err
	}

	updated := make(map[string]interface{}, len(data)+1)
	for k, v := range data {
		updated[k] = v
	}
	updated[key] = value

	if err := s.writer.PutKVSecret(ctx, s.ScopePath(scope), s.mount, updated); err != nil {
		return fmt.Errorf("writing %s to vault: %w", key, err)
	}
	return nil
}

func (s *VaultStore) read(ctx context.Context, scope domain.Scope) (map[string]interface{}, error) {
	p := s.ScopePath(scope)

	data, err := s.reader.GetKVSecret(ctx, p, s.mount)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: no secrets in %s", domain.ErrSecretNotFound, scope)
		}
		return nil, fmt.Errorf("reading %s from vault: %w", p, err)
	}
	if data == nil {
		return nil, fmt.Errorf("%w: no secrets in %s", domain.ErrSecretNotFound, scope)
	}
	return data, nil
}

// isNotFound reports a missing KV secret. Only a 404 response counts; other
// failures such as a denied policy or a wrong mount surface as errors.
func isNotFound(err error) bool {
	return vault.IsErrorStatus(err, http.StatusNotFound)
}

// ClientWriter writes KV v2 secrets with hashicorp/vault-client-go.
type ClientWriter struct {
	client *vault.Client
}

// NewClientWriter logs in with AppRole credentials and returns a ClientWriter.
func NewClientWriter(ctx context.Context, address, roleID, secretID string) (*ClientWriter, error) {
	client, err := vault.New(
		vault.WithAddress(address),
		vault.WithRequestTimeout(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("creating vault client: %w", err)
	}

	resp, err := client.Auth.AppRoleLogin(ctx, schema.AppRoleLoginRequest{
		RoleId:   roleID,
		SecretId: secretID,
	})
	if err != nil {
		return nil, fmt.Errorf("vault approle login: %w", err)
	}
	if resp.Auth == nil {
		return nil, errors.New("vault approle login returned no token")
	}

	if err := client.SetToken(resp.Auth.ClientToken); err != nil {
		return nil, fmt.Errorf("setting vault token: %w", err)
	}

	return &ClientWriter{client: client}, nil
}

// PutKVSecret implements KVWriter.
func (w *ClientWriter) PutKVSecret(ctx context.Context, path, mount string, data map[string]interface{}) error {
	_, err := w.client.Secrets.KvV2Write(ctx, path, schema.KvV2WriteRequest{Data: data}, vault.WithMountPath(mount))
	return err
}

// LazyWriter connects on the first write, so invocations that only read
// secrets never perform a second login.
type LazyWriter struct {
	connect func(ctx context.Context) (KVWriter, error)

	mu     sync.Mutex
	writer KVWriter
}

// NewLazyWriter creates a LazyWriter that obtains its KVWriter from connect.
func NewLazyWriter(connect func(ctx context.Context) (KVWriter, error)) *LazyWriter {
	return &LazyWriter{connect: connect}
}

// PutKVSecret implements KVWriter. A failed connect is retried on the next write.
func (w *LazyWriter) PutKVSecret(ctx context.Context, path, mount string, data map[string]interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.writer == nil {
		writer, err := w.connect(ctx)
		if err != nil {
			return err
		}
		w.writer = writer
	}
	return w.writer.PutKVSecret(ctx, path, mount, data)
}
