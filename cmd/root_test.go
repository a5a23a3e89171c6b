package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MyCarrier-DevOps/slipway/internal/domain"
)

// Test mocks for dependency injection testing.

// mockLogger implements the Logger interface for testing.
type mockLogger struct{}

func (m *mockLogger) Info(_ context.Context, _ string, _ map[string]interface{})           {}
func (m *mockLogger) Debug(_ context.Context, _ string, _ map[string]interface{})          {}
func (m *mockLogger) Warn(_ context.Context, _ string, _ map[string]interface{})           {}
func (m *mockLogger) Error(_ context.Context, _ string, _ error, _ map[string]interface{}) {}

// mockRefCache implements domain.RefCache for testing.
type mockRefCache struct {
	entries     []domain.RefCacheEntry
	listErr     error
	closeErr    error
	closeCalled bool
}

func (m *mockRefCache) Get(_ context.Context, _, _ string) (*domain.RefCacheEntry, error) {
	return nil, nil
}

func (m *mockRefCache) Put(_ context.Context, _ domain.RefCacheEntry) error { return nil }

func (m *mockRefCache) List(_ context.Context) ([]domain.RefCacheEntry, error) {
	return m.entries, m.listErr
}

func (m *mockRefCache) Close() error {
	m.closeCalled = true
	return m.closeErr
}

// mockSecretStore implements domain.SecretStore for testing.
type mockSecretStore struct{}

func (m *mockSecretStore) Get(_ context.Context, _ domain.Scope, key string) (string, error) {
	return "", &domain.SecretNotFoundError{Key: key}
}

func (m *mockSecretStore) Set(_ context.Context, _ domain.Scope, _, _ string) error { return nil }

// mockRunner implements Runner for testing.
type mockRunner struct {
	state     *domain.ResolvedState
	code      int
	err       error
	input     domain.AddressInput
	overrides domain.RunOverrides
	runCalled bool
}

func (m *mockRunner) Resolve(_ context.Context, in domain.AddressInput, overrides domain.RunOverrides) (*domain.ResolvedState, error) {
	m.input = in
	m.overrides = overrides
	return m.state, m.err
}

func (m *mockRunner) Run(_ context.Context, in domain.AddressInput, overrides domain.RunOverrides) (int, error) {
	m.runCalled = true
	m.input = in
	m.overrides = overrides
	return m.code, m.err
}

// mockSecretSetter implements SecretSetter for testing.
type mockSecretSetter struct {
	scope  domain.Scope
	err    error
	key    string
	value  string
	global bool
}

func (m *mockSecretSetter) Set(_ context.Context, _ domain.AddressInput, key, value string, global bool) (domain.Scope, error) {
	m.key = key
	m.value = value
	m.global = global
	return m.scope, m.err
}

// mockOutputWriter implements domain.OutputWriter for testing.
type mockOutputWriter struct {
	state    *domain.ResolvedState
	entries  []domain.RefCacheEntry
	writeErr error
}

func (m *mockOutputWriter) WriteResolvedState(state *domain.ResolvedState) error {
	m.state = state
	return m.writeErr
}

func (m *mockOutputWriter) WriteRefCacheEntries(entries []domain.RefCacheEntry) error {
	m.entries = entries
	return m.writeErr
}

// testHarness collects the mocks behind a Dependencies value.
type testHarness struct {
	deps         *Dependencies
	cfg          *AppConfig
	cache        *mockRefCache
	runner       *mockRunner
	setter       *mockSecretSetter
	writer       *mockOutputWriter
	stdout       *bytes.Buffer
	stderr       *bytes.Buffer
	format       string
	runnerSecret domain.SecretStore
	flushed      int
}

func newHarness() *testHarness {
	h := &testHarness{
		cfg:    &AppConfig{RefCacheBackend: "memory", SecretsBackend: "memory"},
		cache:  &mockRefCache{},
		runner: &mockRunner{},
		setter: &mockSecretSetter{scope: domain.GlobalScope()},
		writer: &mockOutputWriter{},
		stdout: &bytes.Buffer{},
		stderr: &bytes.Buffer{},
	}

	h.deps = &Dependencies{
		LoggerFactory: func() Logger { return &mockLogger{} },
		ConfigLoader:  func() (*AppConfig, error) { return h.cfg, nil },
		RefCacheFactory: func(_ *AppConfig, _ Logger) (domain.RefCache, error) {
			return h.cache, nil
		},
		SecretStoreFactory: func(_ context.Context, _ *AppConfig, _ Logger) (domain.SecretStore, error) {
			return &mockSecretStore{}, nil
		},
		RunnerFactory: func(_ *AppConfig, _ domain.RefCache, secrets domain.SecretStore, _ Logger) Runner {
			h.runnerSecret = secrets
			return h.runner
		},
		SecretSetterFactory: func(_ *AppConfig, _ domain.RefCache, _ domain.SecretStore, _ Logger) SecretSetter {
			return h.setter
		},
		OutputWriterFactory: func(format string) (domain.OutputWriter, error) {
			h.format = format
			return h.writer, nil
		},
		MetricsFlusher: func(_ *AppConfig) error {
			h.flushed++
			return nil
		},
		WorkDir: func() (string, error) { return "/work/app", nil },
		Stdin:   strings.NewReader(""),
		Stdout:  h.stdout,
		Stderr:  h.stderr,
	}
	return h
}

// execute runs the root command with args and no address env fallbacks.
func (h *testHarness) execute(t *testing.T, args ...string) error {
	t.Helper()
	for _, env := range []string{EnvRepo, EnvTag, EnvDeployPath, EnvContext} {
		t.Setenv(env, "")
	}
	cmd := NewRootCmdWithDeps(h.deps)
	cmd.SetArgs(args)
	cmd.SetOut(h.stdout)
	cmd.SetErr(h.stderr)
	return cmd.ExecuteContext(context.Background())
}

func TestNewRootCmd(t *testing.T) {
	SetDefaultDependencies(&Dependencies{})
	cmd := NewRootCmd()

	require.NotNil(t, cmd)
	assert.Equal(t, "slipway", cmd.Use)
	assert.NotEmpty(t, cmd.Short)
	assert.NotEmpty(t, cmd.Long)
	assert.True(t, cmd.SilenceUsage)

	for _, name := range []string{"repo", "tag", "deploy-path", "context", "latest", "verbose", "output"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "flag %s", name)
	}
	assert.Equal(t, "v", cmd.PersistentFlags().Lookup("verbose").Shorthand)
	assert.Equal(t, "text", cmd.PersistentFlags().Lookup("output").DefValue)

	for _, path := range [][]string{{"run"}, {"resolve"}, {"secret", "set"}, {"cache", "refs"}} {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err)
		assert.Equal(t, path[len(path)-1], sub.Name())
	}
}

func TestRun_Success(t *testing.T) {
	h := newHarness()
	h.cfg.MetricsFile = "/tmp/slipway.prom"

	err := h.execute(t, "run", "--repo", "https://example.com/o/r.git", "--tag", "v1",
		"--deploy-path", "svc", "--context", "none", "--latest")
	require.NoError(t, err)

	assert.True(t, h.runner.runCalled)
	assert.Equal(t, domain.AddressInput{
		Repo:       "https://example.com/o/r.git",
		Ref:        "v1",
		DeployPath: "svc",
		Context:    domain.ContextNone,
		WorkDir:    "/work/app",
		Latest:     true,
	}, h.runner.input)
	assert.NotNil(t, h.runnerSecret)
	assert.True(t, h.cache.closeCalled)
	assert.Equal(t, 1, h.flushed)
}

func TestRun_NoMetricsFile(t *testing.T) {
	h := newHarness()

	require.NoError(t, h.execute(t, "run"))
	assert.Zero(t, h.flushed)
}

func TestRun_ExitCode(t *testing.T) {
	h := newHarness()
	h.runner.code = 3

	err := h.execute(t, "run")
	var exitErr *ExitCodeError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.Code)
	assert.Equal(t, "executable exited with code 3", exitErr.Error())
}

func TestRun_Overrides(t *testing.T) {
	h := newHarness()

	err := h.execute(t, "run", "--exe", "bin/deploy", "--execution-path", "",
		"--var", "db=DB_PASSWORD", "--var", "token = API_TOKEN")
	require.NoError(t, err)

	require.NotNil(t, h.runner.overrides.Executable)
	assert.Equal(t, "bin/deploy", *h.runner.overrides.Executable)
	require.NotNil(t, h.runner.overrides.ExecutionPath, "explicitly set to empty")
	assert.Equal(t, "", *h.runner.overrides.ExecutionPath)
	assert.Equal(t, []domain.VarBinding{
		{SecretKey: "db", EnvName: "DB_PASSWORD"},
		{SecretKey: "token", EnvName: "API_TOKEN"},
	}, h.runner.overrides.Variables)
}

func TestRun_NoOverrides(t *testing.T) {
	h := newHarness()

	require.NoError(t, h.execute(t, "run"))
	assert.Nil(t, h.runner.overrides.Executable)
	assert.Nil(t, h.runner.overrides.ExecutionPath)
	assert.Empty(t, h.runner.overrides.Variables)
}

func TestRun_InvalidVar(t *testing.T) {
	h := newHarness()

	err := h.execute(t, "run", "--var", "missing-equals")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KEY=ENV_NAME")
	assert.False(t, h.runner.runCalled)
}

func TestRun_EnvFallbacks(t *testing.T) {
	h := newHarness()
	cmd := NewRootCmdWithDeps(h.deps)
	t.Setenv(EnvRepo, "https://example.com/env/repo.git")
	t.Setenv(EnvTag, "v9")
	t.Setenv(EnvDeployPath, "from-env")
	t.Setenv(EnvContext, "git-remote")
	cmd.SetArgs([]string{"run", "--tag", "v2"})

	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Equal(t, "https://example.com/env/repo.git", h.runner.input.Repo)
	assert.Equal(t, "v2", h.runner.input.Ref, "flag wins over env")
	assert.Equal(t, "from-env", h.runner.input.DeployPath)
	assert.Equal(t, domain.ContextGitRemote, h.runner.input.Context)
}

func TestRun_InvalidContext(t *testing.T) {
	h := newHarness()

	err := h.execute(t, "run", "--context", "bogus")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidAddress)
	assert.False(t, h.runner.runCalled)
}

func TestRun_ErrorMessages(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		contains string
		absent   string
		is       error
	}{
		{
			name:     "no git repository",
			err:      domain.ErrNoGitRepository,
			contains: "use --context none or --repo",
			is:       domain.ErrNoGitRepository,
		},
		{
			name: "no git repository in a redirect layer",
			err: fmt.Errorf("failed to resolve state: %w", &domain.LayerError{
				Step:    2,
				Address: domain.Address{Origin: domain.LocalOrigin("/srv/deploy"), Path: "svc"},
				Op:      "redirect",
				Err:     fmt.Errorf("%w: /srv/deploy", domain.ErrNoGitRepository),
			}),
			contains: "layer 2 (local:/srv/deploy:svc): redirect",
			absent:   "use --context none",
			is:       domain.ErrNoGitRepository,
		},
		{
			name:     "no remote origin",
			err:      domain.ErrNoRemoteOrigin,
			contains: "cannot use --context git-remote",
			is:       domain.ErrNoRemoteOrigin,
		},
		{
			name:     "secret not found",
			err:      &domain.SecretNotFoundError{Key: "db", Scopes: []domain.Scope{domain.GlobalScope()}},
			contains: "slipway secret set",
			is:       domain.ErrSecretNotFound,
		},
		{
			name:     "network",
			err:      domain.ErrNetwork,
			contains: "drop --latest",
			is:       domain.ErrNetwork,
		},
		{
			name:     "layer error passes through",
			err:      &domain.LayerError{Step: 1, Op: "load config", Err: domain.ErrConfigParse},
			contains: "layer 1",
			is:       domain.ErrConfigParse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.runner.err = tt.err

			err := h.execute(t, "run")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
			if tt.absent != "" {
				assert.NotContains(t, err.Error(), tt.absent)
			}
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
			assert.True(t, h.cache.closeCalled)
		})
	}
}

func TestRun_SetupErrors(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(h *testHarness)
		contains string
	}{
		{
			name: "configuration",
			mutate: func(h *testHarness) {
				h.deps.ConfigLoader = func() (*AppConfig, error) { return nil, errors.New("bad backend") }
			},
			contains: "configuration error",
		},
		{
			name: "ref cache",
			mutate: func(h *testHarness) {
				h.deps.RefCacheFactory = func(_ *AppConfig, _ Logger) (domain.RefCache, error) {
					return nil, errors.New("locked")
				}
			},
			contains: "ref cache error",
		},
		{
			name: "secret store",
			mutate: func(h *testHarness) {
				h.deps.SecretStoreFactory = func(_ context.Context, _ *AppConfig, _ Logger) (domain.SecretStore, error) {
					return nil, errors.New("vault sealed")
				}
			},
			contains: "secret store error",
		},
		{
			name: "working directory",
			mutate: func(h *testHarness) {
				h.deps.WorkDir = func() (string, error) { return "", errors.New("removed") }
			},
			contains: "working directory",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			tt.mutate(h)

			err := h.execute(t, "run")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
			assert.False(t, h.runner.runCalled)
		})
	}
}

func TestRun_NilDependencies(t *testing.T) {
	cmd := NewRootCmdWithDeps(nil)
	cmd.SetArgs([]string{"run"})

	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dependencies not configured")
}

func TestResolve(t *testing.T) {
	h := newHarness()
	h.runner.state = &domain.ResolvedState{ExecutablePath: "/cache/run.sh"}

	err := h.execute(t, "resolve", "--output", "json", "--exe", "run.sh")
	require.NoError(t, err)

	assert.Same(t, h.runner.state, h.writer.state)
	assert.Equal(t, "json", h.format)
	assert.Nil(t, h.runnerSecret, "resolve never opens the secret store")
	assert.False(t, h.runner.runCalled)
	require.NotNil(t, h.runner.overrides.Executable)
	assert.Equal(t, "run.sh", *h.runner.overrides.Executable)
}

func TestResolve_Errors(t *testing.T) {
	t.Run("output format", func(t *testing.T) {
		h := newHarness()
		h.deps.OutputWriterFactory = func(string) (domain.OutputWriter, error) {
			return nil, errors.New("unknown output format")
		}
		err := h.execute(t, "resolve", "-o", "yaml")
		assert.ErrorContains(t, err, "unknown output format")
	})

	t.Run("write", func(t *testing.T) {
		h := newHarness()
		h.runner.state = &domain.ResolvedState{}
		h.writer.writeErr = errors.New("broken pipe")
		err := h.execute(t, "resolve")
		assert.ErrorContains(t, err, "output error")
	})

	t.Run("resolution", func(t *testing.T) {
		h := newHarness()
		h.runner.err = &domain.CyclicRedirectError{}
		err := h.execute(t, "resolve")
		assert.ErrorIs(t, err, domain.ErrCyclicRedirect)
		assert.Nil(t, h.writer.state)
	})
}

func TestSecretSet(t *testing.T) {
	h := newHarness()
	h.deps.Stdin = strings.NewReader("hunter2\n")
	h.setter.scope = domain.RepoScope("https://example.com/o/r.git")

	err := h.execute(t, "secret", "set", "DB_PASSWORD")
	require.NoError(t, err)

	assert.Equal(t, "DB_PASSWORD", h.setter.key)
	assert.Equal(t, "hunter2", h.setter.value)
	assert.False(t, h.setter.global)
	assert.Equal(t, "stored DB_PASSWORD in repo:https://example.com/o/r.git\n", h.stdout.String())
}

func TestSecretSet_Global(t *testing.T) {
	h := newHarness()
	h.deps.Stdin = strings.NewReader("value-without-newline")

	require.NoError(t, h.execute(t, "secret", "set", "TOKEN", "--global"))
	assert.True(t, h.setter.global)
	assert.Equal(t, "value-without-newline", h.setter.value)
	assert.Equal(t, "stored TOKEN in global\n", h.stdout.String())
}

func TestSecretSet_Errors(t *testing.T) {
	t.Run("empty value", func(t *testing.T) {
		h := newHarness()
		h.deps.Stdin = strings.NewReader("\n")
		err := h.execute(t, "secret", "set", "K")
		assert.ErrorContains(t, err, "must not be empty")
		assert.Empty(t, h.setter.key)
	})

	t.Run("missing key argument", func(t *testing.T) {
		h := newHarness()
		err := h.execute(t, "secret", "set")
		assert.Error(t, err)
	})

	t.Run("store failure", func(t *testing.T) {
		h := newHarness()
		h.deps.Stdin = strings.NewReader("v\n")
		h.setter.err = errors.New("read-only store")
		err := h.execute(t, "secret", "set", "K", "--global")
		assert.ErrorContains(t, err, "read-only store")
	})
}

func TestCacheRefs(t *testing.T) {
	h := newHarness()
	h.cache.entries = []domain.RefCacheEntry{
		{RepoURL: "https://example.com/o/r.git", RefName: "main", CommitID: strings.Repeat("a", 40), ResolvedAt: time.Unix(0, 0)},
	}

	require.NoError(t, h.execute(t, "cache", "refs"))
	assert.Equal(t, h.cache.entries, h.writer.entries)
	assert.True(t, h.cache.closeCalled)
}

func TestCacheRefs_ListError(t *testing.T) {
	h := newHarness()
	h.cache.listErr = errors.New("corrupt")

	err := h.execute(t, "cache", "refs")
	assert.ErrorContains(t, err, "ref cache error")
}

func TestParseVar(t *testing.T) {
	tests := []struct {
		in      string
		want    domain.VarBinding
		wantErr bool
	}{
		{in: "db=DB", want: domain.VarBinding{SecretKey: "db", EnvName: "DB"}},
		{in: " db = DB ", want: domain.VarBinding{SecretKey: "db", EnvName: "DB"}},
		{in: "a=b=c", want: domain.VarBinding{SecretKey: "a", EnvName: "b=c"}},
		{in: "db", wantErr: true},
		{in: "=DB", wantErr: true},
		{in: "db=", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseVar(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadSecret(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "line", in: "s3cret\nignored\n", want: "s3cret"},
		{name: "crlf", in: "s3cret\r\n", want: "s3cret"},
		{name: "no newline", in: "s3cret", want: "s3cret"},
		{name: "keeps spaces", in: " padded \n", want: " padded "},
		{name: "empty", in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var prompt bytes.Buffer
			got, err := readSecret(strings.NewReader(tt.in), &prompt, "K")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Empty(t, prompt.String(), "no prompt without a terminal")
		})
	}
}

func TestWriteWarningf(t *testing.T) {
	var buf bytes.Buffer
	writeWarningf(&buf, "warning: %s\n", "test")
	assert.Equal(t, "warning: test\n", buf.String())
}
