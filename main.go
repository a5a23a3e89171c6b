// Package main is the entry point for the slipway CLI application.
// slipway resolves versioned deployment configuration across redirects,
// binds secrets to environment variables and runs the configured executable.
package main

import (
	"context"
	"os"
	"sync"

	"github.com/MyCarrier-DevOps/goLibMyCarrier/logger"
	"github.com/google/uuid"

	"github.com/MyCarrier-DevOps/slipway/cmd"
	"github.com/MyCarrier-DevOps/slipway/internal/adapters/configfile"
	"github.com/MyCarrier-DevOps/slipway/internal/adapters/git"
	logadapter "github.com/MyCarrier-DevOps/slipway/internal/adapters/logger"
	"github.com/MyCarrier-DevOps/slipway/internal/adapters/output"
	"github.com/MyCarrier-DevOps/slipway/internal/adapters/process"
	"github.com/MyCarrier-DevOps/slipway/internal/adapters/secrets"
	"github.com/MyCarrier-DevOps/slipway/internal/adapters/store"
	"github.com/MyCarrier-DevOps/slipway/internal/domain"
	"github.com/MyCarrier-DevOps/slipway/internal/infrastructure/config"
	"github.com/MyCarrier-DevOps/slipway/internal/infrastructure/metrics"
	"github.com/MyCarrier-DevOps/slipway/internal/usecases"
)

func main() {
	a := newApp(func() logadapter.Logger {
		return logger.NewZapLoggerFromConfig()
	})

	deps := &cmd.Dependencies{
		LoggerFactory: func() cmd.Logger {
			return a.logger()
		},

		ConfigLoader: func() (*cmd.AppConfig, error) {
			cfg, err := config.Load()
			if err != nil {
				return nil, err
			}
			return appConfigFrom(cfg), nil
		},

		RefCacheFactory: func(cfg *cmd.AppConfig, log cmd.Logger) (domain.RefCache, error) {
			settings, err := settingsOf(cfg)
			if err != nil {
				return nil, err
			}
			return openRefCache(context.Background(), settings, log)
		},

		SecretStoreFactory: func(ctx context.Context, cfg *cmd.AppConfig, _ cmd.Logger) (domain.SecretStore, error) {
			settings, err := settingsOf(cfg)
			if err != nil {
				return nil, err
			}
			return openSecretStore(ctx, settings, config.DefaultVaultClientFactory)
		},

		RunnerFactory: a.runner,

		SecretSetterFactory: a.secretSetter,

		OutputWriterFactory: func(format string) (domain.OutputWriter, error) {
			f, err := output.ParseFormat(format)
			if err != nil {
				return nil, err
			}
			return output.NewWriterWithOutput(os.Stdout, f), nil
		},

		MetricsFlusher: func(cfg *cmd.AppConfig) error {
			return a.metrics.WriteToTextfile(cfg.MetricsFile)
		},

		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}

	cmd.SetDefaultDependencies(deps)
	cmd.Execute()
}

// app holds the process-wide logger and metrics shared by every component.
type app struct {
	newLogger func() logadapter.Logger
	runID     string
	metrics   *metrics.Recorder

	once sync.Once
	log  *logadapter.ZapAdapter
}

func newApp(newLogger func() logadapter.Logger) *app {
	return &app{
		newLogger: newLogger,
		runID:     uuid.NewString(),
		metrics:   metrics.NewRecorder(),
	}
}

// logger builds the logger on first use, after --verbose had a chance to
// set LOG_LEVEL.
func (a *app) logger() *logadapter.ZapAdapter {
	a.once.Do(func() {
		a.log = logadapter.NewZapAdapter(a.newLogger()).With(map[string]any{
			"run_id": a.runID,
		})
	})
	return a.log
}

// services wires the use cases shared by the runner and the secret setter.
type services struct {
	addresses *usecases.OriginBuilder
	resolver  *usecases.StateResolver
}

func (a *app) services(cfg *cmd.AppConfig, cache domain.RefCache, log cmd.Logger) services {
	refs := usecases.NewRefService(git.NewRefLister(log), cache, log, a.metrics)
	resolver := usecases.NewStateResolver(
		git.NewMaterializer(cfg.CacheDir, log),
		configfile.NewLoader(log),
		refs,
		log,
		a.metrics,
		usecases.ResolverSettings{
			MaxRedirects:      cfg.MaxRedirects,
			DefaultExecutable: cfg.DefaultExecutable,
		},
	)
	return services{
		addresses: usecases.NewOriginBuilder(git.NewLocator(log), refs, log),
		resolver:  resolver,
	}
}

func (a *app) runner(cfg *cmd.AppConfig, cache domain.RefCache, store domain.SecretStore, log cmd.Logger) cmd.Runner {
	s := a.services(cfg, cache, log)

	var observer usecases.SecretObserver
	if o, ok := log.(usecases.SecretObserver); ok {
		observer = o
	}
	binder := usecases.NewSecretBinder(store, log, a.metrics, observer)

	return usecases.NewRunner(s.addresses, s.resolver, binder, process.NewRunner(), log)
}

func (a *app) secretSetter(cfg *cmd.AppConfig, cache domain.RefCache, store domain.SecretStore, log cmd.Logger) cmd.SecretSetter {
	s := a.services(cfg, cache, log)
	return usecases.NewSecretWriter(s.addresses, s.resolver, store, log)
}

// appConfigFrom exposes the settings the commands need directly.
func appConfigFrom(cfg *config.Config) *cmd.AppConfig {
	return &cmd.AppConfig{
		Settings:          cfg,
		CacheDir:          cfg.SnapshotDir(),
		RefCacheBackend:   cfg.RefCache.Backend,
		SecretsBackend:    cfg.Secrets.Backend,
		MaxRedirects:      cfg.Resolve.MaxRedirects,
		DefaultExecutable: cfg.Resolve.DefaultExecutable,
		MetricsFile:       cfg.MetricsFile,
		LogLevel:          cfg.LogLevel,
		LogAppName:        cfg.LogAppName,
	}
}

func settingsOf(cfg *cmd.AppConfig) (*config.Config, error) {
	settings, ok := cfg.Settings.(*config.Config)
	if !ok || settings == nil {
		return nil, newConfigTypeError("*config.Config")
	}
	return settings, nil
}

func openRefCache(ctx context.Context, settings *config.Config, log store.Logger) (domain.RefCache, error) {
	switch settings.RefCache.Backend {
	case config.RefCacheMemory:
		return store.NewMemoryRefCache(), nil
	case config.RefCacheSQLite:
		cache, err := store.OpenSQLite(settings.RefCachePath())
		if err != nil {
			return nil, err
		}
		return cache, nil
	default:
		cache, err := store.OpenFile(ctx, settings.RefCachePath(), log)
		if err != nil {
			return nil, err
		}
		return cache, nil
	}
}

func openSecretStore(ctx context.Context, settings *config.Config, factory config.VaultClientFactory) (domain.SecretStore, error) {
	switch settings.Secrets.Backend {
	case config.SecretsMemory:
		return secrets.NewMemoryStore(), nil
	case config.SecretsVault:
		reader, err := settings.VaultReader(ctx, factory)
		if err != nil {
			return nil, err
		}
		v := settings.Vault
		writer := secrets.NewLazyWriter(func(ctx context.Context) (secrets.KVWriter, error) {
			w, err := secrets.NewClientWriter(ctx, v.Address, v.RoleID, v.SecretID)
			if err != nil {
				return nil, err
			}
			return w, nil
		})
		return secrets.NewVaultStore(reader, writer, v.Mount, v.PathPrefix), nil
	default:
		return secrets.NewKeyringStore(settings.Secrets.Service), nil
	}
}

func newConfigTypeError(expected string) error {
	return &configTypeError{expected: expected}
}

// configTypeError is returned when configuration type assertion fails.
type configTypeError struct {
	expected string
}

func (e *configTypeError) Error() string {
	return "invalid configuration type: expected " + e.expected
}
