// Package cmd provides the CLI commands for slipway.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MyCarrier-DevOps/slipway/internal/domain"
)

// Environment fallbacks for the address flags. Flags win over env.
const (
	EnvRepo       = "SLIPWAY_REPO"
	EnvTag        = "SLIPWAY_TAG"
	EnvDeployPath = "SLIPWAY_DEPLOY_PATH"
	EnvContext    = "SLIPWAY_CONTEXT"
)

// Logger defines the logging interface used by the commands.
type Logger interface {
	Info(ctx context.Context, msg string, fields map[string]interface{})
	Debug(ctx context.Context, msg string, fields map[string]interface{})
	Warn(ctx context.Context, msg string, fields map[string]interface{})
	Error(ctx context.Context, msg string, err error, fields map[string]interface{})
}

// Runner resolves and runs one execution state.
type Runner interface {
	Resolve(ctx context.Context, in domain.AddressInput, overrides domain.RunOverrides) (*domain.ResolvedState, error)
	Run(ctx context.Context, in domain.AddressInput, overrides domain.RunOverrides) (int, error)
}

// SecretSetter stores a secret under the scope resolution would read it from.
type SecretSetter interface {
	Set(ctx context.Context, in domain.AddressInput, key, value string, global bool) (domain.Scope, error)
}

// Dependencies holds all injectable dependencies for the commands.
// This enables testing by allowing mock implementations to be injected.
type Dependencies struct {
	// LoggerFactory creates a logger instance.
	LoggerFactory func() Logger

	// ConfigLoader loads application settings.
	ConfigLoader func() (*AppConfig, error)

	// RefCacheFactory opens the ref cache selected by the settings.
	RefCacheFactory func(cfg *AppConfig, log Logger) (domain.RefCache, error)

	// SecretStoreFactory opens the secret store selected by the settings.
	SecretStoreFactory func(ctx context.Context, cfg *AppConfig, log Logger) (domain.SecretStore, error)

	// RunnerFactory creates a Runner. secrets is nil when only resolving.
	RunnerFactory func(cfg *AppConfig, cache domain.RefCache, secrets domain.SecretStore, log Logger) Runner

	// SecretSetterFactory creates a SecretSetter.
	SecretSetterFactory func(cfg *AppConfig, cache domain.RefCache, secrets domain.SecretStore, log Logger) SecretSetter

	// OutputWriterFactory creates an OutputWriter for the given format.
	OutputWriterFactory func(format string) (domain.OutputWriter, error)

	// MetricsFlusher persists collected metrics. Optional.
	MetricsFlusher func(cfg *AppConfig) error

	// WorkDir returns the directory the invocation started from. Defaults to os.Getwd.
	WorkDir func() (string, error)

	// Stdin is read by 'secret set' when no terminal is attached.
	Stdin io.Reader

	// Stdout is the writer for command output.
	Stdout io.Writer

	// Stderr is the writer for prompts, warnings and errors.
	Stderr io.Writer
}

// AppConfig holds application settings loaded by ConfigLoader.
type AppConfig struct {
	// Settings is passed through to the factories.
	Settings any

	// CacheDir is where remote snapshots are materialized.
	CacheDir string

	// MaxRedirects bounds the redirects followed by one resolution.
	MaxRedirects int

	// DefaultExecutable is used when no layer names an executable.
	DefaultExecutable string

	// RefCacheBackend names the ref cache backend.
	RefCacheBackend string

	// SecretsBackend names the secret store backend.
	SecretsBackend string

	// MetricsFile is where metrics are written at exit, empty to skip.
	MetricsFile string

	// LogLevel is the log level setting.
	LogLevel string

	// LogAppName is the application name for logging.
	LogAppName string
}

// ExitCodeError reports a non-zero exit of the launched executable.
type ExitCodeError struct {
	Code int
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("executable exited with code %d", e.Code)
}

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	repo       string
	tag        string
	deployPath string
	context    string
	latest     bool
	verbose    bool
	output     string
}

// defaultDeps holds the production dependencies.
// This is set by the production wiring in main or via SetDefaultDependencies.
var defaultDeps *Dependencies

// SetDefaultDependencies sets the default dependencies for production use.
// This should be called from main() before Execute().
func SetDefaultDependencies(deps *Dependencies) {
	defaultDeps = deps
}

// NewRootCmd creates the root command for slipway.
func NewRootCmd() *cobra.Command {
	return NewRootCmdWithDeps(defaultDeps)
}

// NewRootCmdWithDeps creates the root command with explicit dependencies.
// This is the primary constructor that enables testing via dependency injection.
func NewRootCmdWithDeps(deps *Dependencies) *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "slipway",
		Short: "Resolve versioned deployment state and run its executable",
		Long: `slipway resolves the configuration for a deployment executable and runs it.

Starting from a state path in the working tree (or an explicit repository and
tag), slipway reads slipway.toml, follows redirects into other commits, paths
or repositories until the configuration converges, binds the configured
secrets to environment variables and runs the executable.

Examples:
  # Run the state of the current directory
  slipway run

  # Run the state of a tagged release of another repository
  slipway run --repo https://github.com/acme/deploy.git --tag v1.4.0 --deploy-path services/api

  # Show what would run, without secrets
  slipway resolve --output json

  # Store a secret for the resolved repository
  slipway secret set DB_PASSWORD`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.repo, "repo", "",
		"Repository URL or local repository path (env "+EnvRepo+")")
	flags.StringVar(&opts.tag, "tag", "",
		"Git ref or commit id; defaults to HEAD for repositories (env "+EnvTag+")")
	flags.StringVar(&opts.deployPath, "deploy-path", "",
		"State path relative to the repository root (env "+EnvDeployPath+")")
	flags.StringVar(&opts.context, "context", "",
		"Origin inference: none, git-remote or git-local (env "+EnvContext+", default git-local)")
	flags.BoolVar(&opts.latest, "latest", false,
		"Re-resolve refs upstream instead of trusting the ref cache")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false,
		"Enable verbose/debug logging")
	flags.StringVarP(&opts.output, "output", "o", "text",
		"Output format: text or json")

	rootCmd.AddCommand(
		newRunCmd(opts, deps),
		newResolveCmd(opts, deps),
		newSecretCmd(opts, deps),
		newCacheCmd(opts, deps),
	)

	return rootCmd
}

// session holds what every command sets up before doing its work.
type session struct {
	ctx    context.Context
	deps   *Dependencies
	log    Logger
	cfg    *AppConfig
	cache  domain.RefCache
	input  domain.AddressInput
	stdout io.Writer
	stderr io.Writer
}

// openSession loads settings, opens the ref cache and builds the address
// input from flags and env. close must be called when done.
func openSession(cmd *cobra.Command, opts *globalOptions, deps *Dependencies) (*session, error) {
	if deps == nil {
		return nil, errors.New("dependencies not configured")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	stdout := deps.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := deps.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	// Set log level based on verbose flag (best-effort)
	if opts.verbose {
		if err := os.Setenv("LOG_LEVEL", "debug"); err != nil {
			writeWarningf(stderr, "warning: could not set log level: %v\n", err)
		}
	}

	log := deps.LoggerFactory()

	input, err := addressInput(cmd, opts, deps)
	if err != nil {
		return nil, err
	}

	log.Info(ctx, "starting slipway", map[string]interface{}{
		"command":     cmd.Name(),
		"repo":        input.Repo,
		"tag":         input.Ref,
		"deploy_path": input.DeployPath,
		"context":     string(input.Context),
		"latest":      input.Latest,
		"workdir":     input.WorkDir,
	})

	cfg, err := deps.ConfigLoader()
	if err != nil {
		log.Error(ctx, "failed to load configuration", err, nil)
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	cache, err := deps.RefCacheFactory(cfg, log)
	if err != nil {
		log.Error(ctx, "failed to open ref cache", err, map[string]interface{}{
			"backend": cfg.RefCacheBackend,
		})
		return nil, fmt.Errorf("ref cache error: %w", err)
	}

	return &session{
		ctx:    ctx,
		deps:   deps,
		log:    log,
		cfg:    cfg,
		cache:  cache,
		input:  input,
		stdout: stdout,
		stderr: stderr,
	}, nil
}

// close releases the ref cache and flushes metrics.
func (s *session) close() {
	if err := s.cache.Close(); err != nil {
		s.log.Warn(s.ctx, "failed to close ref cache", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if s.deps.MetricsFlusher != nil && s.cfg.MetricsFile != "" {
		if err := s.deps.MetricsFlusher(s.cfg); err != nil {
			s.log.Warn(s.ctx, "failed to write metrics", map[string]interface{}{
				"file":  s.cfg.MetricsFile,
				"error": err.Error(),
			})
		}
	}
}

// secretStore opens the configured secret store.
func (s *session) secretStore() (domain.SecretStore, error) {
	store, err := s.deps.SecretStoreFactory(s.ctx, s.cfg, s.log)
	if err != nil {
		s.log.Error(s.ctx, "failed to open secret store", err, map[string]interface{}{
			"backend": s.cfg.SecretsBackend,
		})
		return nil, fmt.Errorf("secret store error: %w", err)
	}
	return store, nil
}

// addressInput merges the address flags with their env fallbacks.
func addressInput(cmd *cobra.Command, opts *globalOptions, deps *Dependencies) (domain.AddressInput, error) {
	flags := cmd.Flags()

	mode, err := domain.ParseContextMode(flagOrEnv(flags.Changed("context"), opts.context, EnvContext))
	if err != nil {
		return domain.AddressInput{}, err
	}

	getwd := deps.WorkDir
	if getwd == nil {
		getwd = os.Getwd
	}
	workDir, err := getwd()
	if err != nil {
		return domain.AddressInput{}, fmt.Errorf("failed to determine working directory: %w", err)
	}

	return domain.AddressInput{
		Repo:       flagOrEnv(flags.Changed("repo"), opts.repo, EnvRepo),
		Ref:        flagOrEnv(flags.Changed("tag"), opts.tag, EnvTag),
		DeployPath: flagOrEnv(flags.Changed("deploy-path"), opts.deployPath, EnvDeployPath),
		Context:    mode,
		WorkDir:    workDir,
		Latest:     opts.latest,
	}, nil
}

func flagOrEnv(changed bool, value, env string) string {
	if changed {
		return strings.TrimSpace(value)
	}
	if v, ok := os.LookupEnv(env); ok {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(value)
}

// describeError adds a short hint to well-known failures. Failures inside a
// redirect layer keep their layer and Address context.
func describeError(err error) error {
	var layerErr *domain.LayerError
	inLayer := errors.As(err, &layerErr)

	switch {
	case errors.Is(err, domain.ErrNoGitRepository):
		if inLayer {
			return fmt.Errorf("%w (redirects with a tag need a git repository)", err)
		}
		return fmt.Errorf("%w (not inside a git repository; use --context none or --repo)", err)
	case errors.Is(err, domain.ErrNoRemoteOrigin):
		return fmt.Errorf("%w (no 'origin' remote configured; cannot use --context git-remote)", err)
	case errors.Is(err, domain.ErrSecretNotFound):
		return fmt.Errorf("%w (store it with 'slipway secret set')", err)
	case errors.Is(err, domain.ErrNetwork):
		return fmt.Errorf("%w (retry, or drop --latest to use cached refs)", err)
	default:
		return err
	}
}

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	rootCmd := NewRootCmd()
	err := rootCmd.Execute()
	if err == nil {
		return
	}

	var exitErr *ExitCodeError
	if errors.As(err, &exitErr) {
		os.Exit(exitErr.Code)
	}

	stderr := io.Writer(os.Stderr)
	if defaultDeps != nil && defaultDeps.Stderr != nil {
		stderr = defaultDeps.Stderr
	}
	writeWarningf(stderr, "Error: %v\n", err)
	os.Exit(1)
}

// writeWarningf writes a warning message to the given writer.
// This is a best-effort operation; errors are intentionally ignored
// because there is no recovery action if stderr writes fail.
func writeWarningf(w io.Writer, format string, args ...any) {
	_, err := fmt.Fprintf(w, format, args...)
	if err != nil {
		return
	}
}
