package configfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MyCarrier-DevOps/slipway/internal/domain"
)

// recordingLogger captures warnings for assertions.
type recordingLogger struct {
	warnings []map[string]interface{}
}

func (l *recordingLogger) Debug(_ context.Context, _ string, _ map[string]interface{}) {}
func (l *recordingLogger) Warn(_ context.Context, _ string, fields map[string]interface{}) {
	l.warnings = append(l.warnings, fields)
}

func writeConfig(t *testing.T, dir, rel, content string) {
	t.Helper()
	full := filepath.Join(dir, filepath.FromSlash(rel), domain.ConfigFileName)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func strPtr(s string) *string { return &s }

func TestLoader_Load(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "deploy/prod", `
exe_name = "deploy.sh"
execution_path = "scripts"

[[vars]]
key = "db_password"
env_name = "DB_PASSWORD"

[[vars]]
key = "api_token"
env_name = "API_TOKEN"

[redirect]
repo = "https://github.com/owner/infra.git"
tag = "v1.2.0"
deploy_pth = "./envs//prod"
`)

	doc, err := NewLoader(&recordingLogger{}).Load(context.Background(), root, "deploy/prod", false)
	require.NoError(t, err)

	p := domain.MustRelativePath("envs/prod")
	source := filepath.Join(root, "deploy", "prod", domain.ConfigFileName)
	want := &domain.ConfigDocument{
		Source:         source,
		Sources:        []string{source},
		ExecutableName: strPtr("deploy.sh"),
		ExecutionPath:  strPtr("scripts"),
		Variables: []domain.VarBinding{
			{SecretKey: "db_password", EnvName: "DB_PASSWORD"},
			{SecretKey: "api_token", EnvName: "API_TOKEN"},
		},
		Redirect: &domain.Redirect{
			Repo:   strPtr("https://github.com/owner/infra.git"),
			GitRef: strPtr("v1.2.0"),
			Path:   &p,
		},
	}
	assert.Equal(t, want, doc)
}

func TestLoader_Load_Partial(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "", `
exe_name = ""

[redirect]
deploy_pth = "other"
`)

	doc, err := NewLoader(&recordingLogger{}).Load(context.Background(), root, "", false)
	require.NoError(t, err)

	require.NotNil(t, doc.ExecutableName, "set-to-empty is distinct from unset")
	assert.Equal(t, "", *doc.ExecutableName)
	assert.Nil(t, doc.ExecutionPath)
	assert.Empty(t, doc.Variables)
	require.NotNil(t, doc.Redirect)
	assert.Nil(t, doc.Redirect.Repo)
	assert.Nil(t, doc.Redirect.GitRef)
	require.NotNil(t, doc.Redirect.Path)
	assert.Equal(t, domain.RelativePath("other"), *doc.Redirect.Path)
}

func TestLoader_Load_Missing(t *testing.T) {
	root := t.TempDir()
	loader := NewLoader(&recordingLogger{})

	doc, err := loader.Load(context.Background(), root, "nowhere", false)
	require.NoError(t, err)
	assert.True(t, doc.Empty())

	_, err = loader.Load(context.Background(), root, "nowhere", true)
	assert.ErrorIs(t, err, domain.ErrConfigNotFound)
}

func TestLoader_Load_UnknownKeysWarned(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "", `
exe_name = "run.sh"
colour = "blue"

[redirect]
tag = "v2"
branch = "main"
`)

	log := &recordingLogger{}
	doc, err := NewLoader(log).Load(context.Background(), root, "", false)
	require.NoError(t, err)

	assert.Equal(t, "run.sh", *doc.ExecutableName)
	assert.Equal(t, "v2", *doc.Redirect.GitRef)

	require.Len(t, log.warnings, 1)
	assert.ElementsMatch(t, []string{"colour", "redirect.branch"}, log.warnings[0]["keys"])
}

func TestLoader_Load_ParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantMsg string
	}{
		{name: "malformed toml", content: `exe_name = "unterminated`, wantMsg: "line 1"},
		{name: "wrong type", content: `exe_name = 3`},
		{name: "var without env name", content: "[[vars]]\nkey = \"k\"\n", wantMsg: "vars[0]"},
		{name: "escaping redirect path", content: "[redirect]\ndeploy_pth = \"../../etc\"\n", wantMsg: "redirect.deploy_pth"},
		{name: "absolute redirect path", content: "[redirect]\ndeploy_pth = \"/etc\"\n", wantMsg: "redirect.deploy_pth"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeConfig(t, root, "", tt.content)

			_, err := NewLoader(&recordingLogger{}).Load(context.Background(), root, "", false)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrConfigParse)

			var parseErr *domain.ConfigParseError
			require.ErrorAs(t, err, &parseErr)
			assert.Equal(t, filepath.Join(root, domain.ConfigFileName), parseErr.Path)
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestLoader_Load_TraversesFromRoot(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "", `
exe_name = "shared.sh"
execution_path = "bin"

[[vars]]
key = "registry_token"
env_name = "REGISTRY_TOKEN"

[[vars]]
key = "db_password"
env_name = "DB_PASSWORD"

[redirect]
repo = "https://example.com/owner/infra.git"
tag = "v1"
`)
	writeConfig(t, root, "deploy/svc", `
exe_name = "svc.sh"

[[vars]]
key = "db_password"
env_name = "SVC_DB_PASSWORD"

[[vars]]
key = "svc_key"
env_name = "SVC_KEY"

[redirect]
tag = "v2"
`)

	doc, err := NewLoader(&recordingLogger{}).Load(context.Background(), root, "deploy/svc", true)
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(root, domain.ConfigFileName),
		filepath.Join(root, "deploy", "svc", domain.ConfigFileName),
	}, doc.Sources)
	assert.Equal(t, filepath.Join(root, "deploy", "svc", domain.ConfigFileName), doc.Source)

	assert.Equal(t, "svc.sh", *doc.ExecutableName, "deeper document wins")
	assert.Equal(t, "bin", *doc.ExecutionPath, "unset fields are inherited")
	assert.Equal(t, []domain.VarBinding{
		{SecretKey: "registry_token", EnvName: "REGISTRY_TOKEN"},
		{SecretKey: "db_password", EnvName: "SVC_DB_PASSWORD"},
		{SecretKey: "svc_key", EnvName: "SVC_KEY"},
	}, doc.Variables)

	require.NotNil(t, doc.Redirect)
	assert.Nil(t, doc.Redirect.Repo, "redirects are not inherited from parent directories")
	assert.Equal(t, "v2", *doc.Redirect.GitRef)
	assert.Nil(t, doc.Redirect.Path)
}

func TestLoader_Load_ParentRedirectIgnored(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "", `
[redirect]
deploy_pth = "deploy/svc"
`)
	writeConfig(t, root, "deploy/svc", `exe_name = "svc.sh"`)
	log := &recordingLogger{}

	doc, err := NewLoader(log).Load(context.Background(), root, "deploy/svc", true)
	require.NoError(t, err)
	assert.Nil(t, doc.Redirect)
	require.Len(t, log.warnings, 1)
	assert.Equal(t, "deploy/svc", log.warnings[0]["state_path"])

	doc, err = NewLoader(&recordingLogger{}).Load(context.Background(), root, "", false)
	require.NoError(t, err)
	require.NotNil(t, doc.Redirect)
	assert.Equal(t, domain.RelativePath("deploy/svc"), *doc.Redirect.Path)
}

func TestLoader_Load_RequiredAppliesToStatePathOnly(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "deploy/svc", `exe_name = "svc.sh"`)
	loader := NewLoader(&recordingLogger{})

	doc, err := loader.Load(context.Background(), root, "deploy/svc", true)
	require.NoError(t, err)
	assert.Equal(t, "svc.sh", *doc.ExecutableName)

	writeConfig(t, root, "", `exe_name = "shared.sh"`)
	_, err = loader.Load(context.Background(), root, "deploy/other", true)
	assert.ErrorIs(t, err, domain.ErrConfigNotFound)

	doc, err = loader.Load(context.Background(), root, "deploy/other", false)
	require.NoError(t, err)
	assert.Equal(t, "shared.sh", *doc.ExecutableName)
}

func TestLoader_Load_ParseErrorInParentDirectory(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "deploy", `exe_name = `)
	writeConfig(t, root, "deploy/svc", `exe_name = "svc.sh"`)

	_, err := NewLoader(&recordingLogger{}).Load(context.Background(), root, "deploy/svc", false)

	var parseErr *domain.ConfigParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, filepath.Join(root, "deploy", domain.ConfigFileName), parseErr.Path)
}

func TestLevels(t *testing.T) {
	assert.Equal(t, []domain.RelativePath{""}, levels(""))
	assert.Equal(t, []domain.RelativePath{"", "deploy", "deploy/svc"}, levels("deploy/svc"))
}
