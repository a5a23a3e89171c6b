// Package config provides settings loading for the slipway application.
// It layers defaults, an optional settings file and environment variables
// through viper, and creates HashiCorp Vault clients for the vault secret backend.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MyCarrier-DevOps/goLibMyCarrier/vault"
	"github.com/spf13/viper"

	"github.com/MyCarrier-DevOps/slipway/internal/domain"
)

// Environment variable names.
const (
	// EnvPrefix prefixes every settings key read from the environment,
	// e.g. SLIPWAY_CACHE_DIR or SLIPWAY_REF_CACHE_BACKEND.
	EnvPrefix = "SLIPWAY"

	// EnvConfigFile names an explicit settings file.
	EnvConfigFile = "SLIPWAY_CONFIG"

	// EnvLogLevel is the log level (debug, info, error).
	EnvLogLevel = "LOG_LEVEL"

	// EnvLogAppName is the application name for log context.
	EnvLogAppName = "LOG_APP_NAME"

	// EnvVaultAddress, EnvVaultRoleID and EnvVaultSecretID configure AppRole login.
	EnvVaultAddress  = "VAULT_ADDRESS"
	EnvVaultRoleID   = "VAULT_ROLE_ID"
	EnvVaultSecretID = "VAULT_SECRET_ID"
)

// Backend names.
const (
	RefCacheFile   = "file"
	RefCacheSQLite = "sqlite"
	RefCacheMemory = "memory"

	SecretsKeyring = "keyring"
	SecretsVault   = "vault"
	SecretsMemory  = "memory"
)

// Default values.
const (
	DefaultLogLevel        = "info"
	DefaultLogAppName      = "slipway"
	DefaultRefCacheBackend = RefCacheFile
	DefaultSecretsBackend  = SecretsKeyring
	DefaultSecretsService  = "slipway"
	DefaultVaultMount      = "secret"
	DefaultVaultPathPrefix = "slipway"

	// SettingsFileName is the settings file looked up in the user config dir,
	// with any extension viper understands.
	SettingsFileName = "config"
)

// Configuration errors.
var (
	// ErrInvalidConfig indicates a settings value outside its allowed set.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConfigFileNotFound indicates an explicitly named settings file does not exist.
	ErrConfigFileNotFound = errors.New("settings file not found")

	// ErrVaultClientFailed indicates failure to create or authenticate with Vault.
	ErrVaultClientFailed = errors.New("failed to create Vault client")
)

// VaultClient defines the interface for Vault operations.
// This interface allows for dependency injection and testing.
type VaultClient interface {
	// GetKVSecret retrieves a secret from Vault's KV v2 secrets engine.
	GetKVSecret(ctx context.Context, path, mount string) (map[string]interface{}, error)
}

// VaultClientFactory creates a VaultClient using AppRole authentication.
// This is the default factory used in production.
type VaultClientFactory func(ctx context.Context) (VaultClient, error)

// DefaultVaultClientFactory creates a VaultClient using goLibMyCarrier/vault with AppRole auth.
func DefaultVaultClientFactory(ctx context.Context) (VaultClient, error) {
	// Uses: VAULT_ADDRESS, VAULT_ROLE_ID, VAULT_SECRET_ID
	vaultConfig, err := vault.VaultLoadConfig()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVaultClientFailed, err)
	}

	client, err := vault.CreateVaultClient(ctx, vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVaultClientFailed, err)
	}

	return client, nil
}

// Config holds all application settings.
type Config struct {
	// CacheDir holds materialized snapshots and the ref cache.
	CacheDir string `mapstructure:"cache_dir"`

	RefCache RefCacheConfig `mapstructure:"ref_cache"`
	Secrets  SecretsConfig  `mapstructure:"secrets"`
	Vault    VaultConfig    `mapstructure:"vault"`
	Resolve  ResolveConfig  `mapstructure:"resolve"`

	// MetricsFile receives Prometheus text exposition at exit when set.
	MetricsFile string `mapstructure:"metrics_file"`

	// LogLevel is the logging level (debug, info, error).
	LogLevel string `mapstructure:"log_level"`

	// LogAppName is the application name for log context.
	LogAppName string `mapstructure:"log_app_name"`

	// Source is the settings file that was read, empty if none.
	Source string `mapstructure:"-"`
}

// RefCacheConfig selects the ref cache backend.
type RefCacheConfig struct {
	// Backend is one of file, sqlite or memory.
	Backend string `mapstructure:"backend"`

	// Path overrides the backend's file location under CacheDir.
	Path string `mapstructure:"path"`
}

// SecretsConfig selects the secret store backend.
type SecretsConfig struct {
	// Backend is one of keyring, vault or memory.
	Backend string `mapstructure:"backend"`

	// Service is the keyring service name.
	Service string `mapstructure:"service"`
}

// VaultConfig locates secrets in Vault KV v2.
type VaultConfig struct {
	Address    string `mapstructure:"address"`
	RoleID     string `mapstructure:"role_id"`
	SecretID   string `mapstructure:"secret_id"`
	Mount      string `mapstructure:"mount"`
	PathPrefix string `mapstructure:"path_prefix"`
}

// ResolveConfig tunes the convergence loop.
type ResolveConfig struct {
	MaxRedirects      int    `mapstructure:"max_redirects"`
	DefaultExecutable string `mapstructure:"default_executable"`
}

// RefCachePath is where the file and sqlite backends keep their data.
func (c *Config) RefCachePath() string {
	if c.RefCache.Path != "" {
		return c.RefCache.Path
	}
	if c.RefCache.Backend == RefCacheSQLite {
		return filepath.Join(c.CacheDir, "refs.db")
	}
	return filepath.Join(c.CacheDir, "refs.json")
}

// SnapshotDir is where materialized commits are kept.
func (c *Config) SnapshotDir() string {
	return c.CacheDir
}

// VaultReader creates the Vault client used to read secrets.
// If factory is nil, DefaultVaultClientFactory is used.
func (c *Config) VaultReader(ctx context.Context, factory VaultClientFactory) (VaultClient, error) {
	if c.Vault.Address == "" {
		return nil, fmt.Errorf("%w: %s is not set", ErrVaultClientFailed, EnvVaultAddress)
	}
	if factory == nil {
		factory = DefaultVaultClientFactory
	}
	return factory(ctx)
}

// LoadOptions controls where settings are read from.
type LoadOptions struct {
	// ConfigFile is an explicit settings file. It must exist.
	ConfigFile string

	// ConfigDir overrides the directory searched for SettingsFileName.
	ConfigDir string
}

// Load loads the application settings from the default locations.
//
// Precedence, highest first:
//   - SLIPWAY_* environment variables (LOG_LEVEL, LOG_APP_NAME and VAULT_* are also read)
//   - the settings file named by SLIPWAY_CONFIG, or <user config dir>/slipway/config.*
//   - built-in defaults
func Load() (*Config, error) {
	return LoadWithOptions(context.Background(), LoadOptions{ConfigFile: os.Getenv(EnvConfigFile)})
}

// LoadWithOptions loads settings using explicit file locations.
// This function enables dependency injection for testing.
func LoadWithOptions(ctx context.Context, opts LoadOptions) (*Config, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	source, err := readSettingsFile(v, opts)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	cfg.Source = source

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cache_dir", defaultCacheDir())
	v.SetDefault("ref_cache.backend", DefaultRefCacheBackend)
	v.SetDefault("ref_cache.path", "")
	v.SetDefault("secrets.backend", DefaultSecretsBackend)
	v.SetDefault("secrets.service", DefaultSecretsService)
	v.SetDefault("vault.address", "")
	v.SetDefault("vault.role_id", "")
	v.SetDefault("vault.secret_id", "")
	v.SetDefault("vault.mount", DefaultVaultMount)
	v.SetDefault("vault.path_prefix", DefaultVaultPathPrefix)
	v.SetDefault("resolve.max_redirects", domain.DefaultMaxRedirects)
	v.SetDefault("resolve.default_executable", domain.DefaultExecutable)
	v.SetDefault("metrics_file", "")
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("log_app_name", DefaultLogAppName)
}

// bindEnv lets the unprefixed variables shared with goLibMyCarrier apply
// when no SLIPWAY_ variant is set.
func bindEnv(v *viper.Viper) error {
	bindings := [][]string{
		{"log_level", EnvPrefix + "_LOG_LEVEL", EnvLogLevel},
		{"log_app_name", EnvPrefix + "_LOG_APP_NAME", EnvLogAppName},
		{"vault.address", EnvPrefix + "_VAULT_ADDRESS", EnvVaultAddress},
		{"vault.role_id", EnvPrefix + "_VAULT_ROLE_ID", EnvVaultRoleID},
		{"vault.secret_id", EnvPrefix + "_VAULT_SECRET_ID", EnvVaultSecretID},
	}
	for _, b := range bindings {
		if err := v.BindEnv(b...); err != nil {
			return fmt.Errorf("%w: binding %s: %w", ErrInvalidConfig, b[0], err)
		}
	}
	return nil
}

// readSettingsFile merges the settings file into v and returns its path.
// A missing file in the default location is not an error.
func readSettingsFile(v *viper.Viper, opts LoadOptions) (string, error) {
	if opts.ConfigFile != "" {
		if _, err := os.Stat(opts.ConfigFile); err != nil {
			return "", fmt.Errorf("%w: %s", ErrConfigFileNotFound, opts.ConfigFile)
		}
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return "", fmt.Errorf("%w: %s: %w", ErrInvalidConfig, opts.ConfigFile, err)
		}
		return opts.ConfigFile, nil
	}

	dir := opts.ConfigDir
	if dir == "" {
		userDir, err := os.UserConfigDir()
		if err != nil {
			return "", nil
		}
		dir = filepath.Join(userDir, "slipway")
	}

	v.SetConfigName(SettingsFileName)
	v.AddConfigPath(dir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return v.ConfigFileUsed(), nil
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "slipway")
	}
	return filepath.Join(os.TempDir(), "slipway")
}

// Validate checks backend names and bounds.
func (c *Config) Validate() error {
	switch c.RefCache.Backend {
	case RefCacheFile, RefCacheSQLite, RefCacheMemory:
	default:
		return fmt.Errorf("%w: ref_cache.backend %q is not one of file, sqlite, memory",
			ErrInvalidConfig, c.RefCache.Backend)
	}

	switch c.Secrets.Backend {
	case SecretsKeyring, SecretsVault, SecretsMemory:
	default:
		return fmt.Errorf("%w: secrets.backend %q is not one of keyring, vault, memory",
			ErrInvalidConfig, c.Secrets.Backend)
	}

	if c.Resolve.MaxRedirects <= 0 {
		return fmt.Errorf("%w: resolve.max_redirects must be positive, got %d",
			ErrInvalidConfig, c.Resolve.MaxRedirects)
	}

	if c.CacheDir == "" {
		return fmt.Errorf("%w: cache_dir must not be empty", ErrInvalidConfig)
	}

	return nil
}
