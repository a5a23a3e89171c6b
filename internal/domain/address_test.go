package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCommit = "0123456789abcdef0123456789abcdef01234567"

func TestNewRelativePath(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    RelativePath
		wantErr bool
	}{
		{name: "empty is root", in: "", want: ""},
		{name: "dot is root", in: ".", want: ""},
		{name: "simple", in: "deploy/prod", want: "deploy/prod"},
		{name: "cleans dot segments", in: "./deploy//prod/../staging/", want: "deploy/staging"},
		{name: "single segment", in: "deploy", want: "deploy"},
		{name: "collapses to root", in: "a/..", want: ""},
		{name: "absolute rejected", in: "/etc", wantErr: true},
		{name: "escape rejected", in: "../outside", wantErr: true},
		{name: "nested escape rejected", in: "a/../../b", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewRelativePath(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidPath)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRelativePath_Under(t *testing.T) {
	assert.Equal(t, "/srv/app", RelativePath("").Under("/srv/app/"))
	assert.Equal(t, "/srv/app/deploy/prod", MustRelativePath("deploy/prod").Under("/srv/app"))
	assert.Equal(t, ".", RelativePath("").String())
}

func TestOrigin_Validate(t *testing.T) {
	tests := []struct {
		name    string
		origin  Origin
		wantErr error
	}{
		{name: "local ok", origin: LocalOrigin("/work")},
		{name: "remote ok", origin: GitRemoteOrigin("https://example.com/o/r.git", testCommit)},
		{name: "git local ok", origin: GitLocalOrigin("/repo", testCommit)},
		{name: "symbolic ref rejected", origin: GitRemoteOrigin("https://example.com/o/r.git", "v1.0.0"), wantErr: ErrUnresolvedRef},
		{name: "empty commit rejected", origin: GitLocalOrigin("/repo", ""), wantErr: ErrUnresolvedRef},
		{name: "empty location rejected", origin: Origin{Kind: OriginGitRemote, Commit: testCommit}, wantErr: ErrInvalidAddress},
		{name: "local with commit rejected", origin: Origin{Kind: OriginLocal, Location: "/w", Commit: testCommit}, wantErr: ErrInvalidAddress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.origin.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestAddress_StructuralEquality(t *testing.T) {
	a := Address{Origin: GitRemoteOrigin("https://example.com/o/r.git", testCommit), Path: "deploy"}
	b := Address{Origin: GitRemoteOrigin(" https://example.com/o/r.git ", testCommit), Path: MustRelativePath("./deploy")}
	c := a.WithPath("other")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	visited := map[Address]struct{}{a: {}}
	_, ok := visited[b]
	assert.True(t, ok)
}

func TestAddress_String(t *testing.T) {
	a := Address{Origin: GitLocalOrigin("/repo", testCommit), Path: "deploy"}
	assert.Equal(t, "git-local:/repo@0123456789ab:deploy", a.String())

	l := Address{Origin: LocalOrigin("/work")}
	assert.Equal(t, "local:/work:.", l.String())
}

func TestIsCommitID(t *testing.T) {
	assert.True(t, IsCommitID(testCommit))
	assert.True(t, IsCommitID(strings.ToUpper(testCommit)))
	assert.True(t, IsCommitID(strings.Repeat("a", 64)))
	assert.False(t, IsCommitID("0123456"))
	assert.False(t, IsCommitID(strings.Repeat("g", 40)))
	assert.False(t, IsCommitID("main"))
}

func TestParseContextMode(t *testing.T) {
	mode, err := ParseContextMode("")
	require.NoError(t, err)
	assert.Equal(t, ContextGitLocal, mode)

	for _, valid := range []string{"none", "git-remote", "git-local"} {
		mode, err := ParseContextMode(valid)
		require.NoError(t, err)
		assert.Equal(t, ContextMode(valid), mode)
	}

	_, err = ParseContextMode("git")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestIsRemoteURL(t *testing.T) {
	tests := []struct {
		location string
		want     bool
	}{
		{"https://github.com/owner/repo.git", true},
		{"ssh://git@github.com/owner/repo.git", true},
		{"git@github.com:owner/repo.git", true},
		{" deploy@git.example.com:team/app ", true},
		{"file:///srv/repos/app", false},
		{"/srv/repos/app", false},
		{"../app", false},
		{"app", false},
		{"user@host/no-colon", false},
	}

	for _, tt := range tests {
		t.Run(tt.location, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRemoteURL(tt.location))
		})
	}
}
