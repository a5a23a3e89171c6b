// Package git provides adapters for interacting with Git repositories.
// It implements the domain repository, ref and materialization ports using go-git/v5.
package git

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-git/go-git/v5"

	"github.com/MyCarrier-DevOps/slipway/internal/domain"
)

// Logger defines the logging interface for the git adapter.
// This interface enables dependency injection and testability.
type Logger interface {
	Debug(ctx context.Context, msg string, fields map[string]interface{})
	Warn(ctx context.Context, msg string, fields map[string]interface{})
}

// Locator implements domain.RepositoryLocator using go-git/v5.
type Locator struct {
	logger Logger
}

// NewLocator creates a Locator.
func NewLocator(log Logger) *Locator {
	return &Locator{logger: log}
}

// FindEnclosing opens the nearest repository at or above dir.
// Returns domain.ErrNoGitRepository if none is found.
// A missing 'origin' remote is logged and leaves OriginURL empty.
func (l *Locator) FindEnclosing(ctx context.Context, dir string) (*domain.LocalRepository, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: searched upward from %s", domain.ErrNoGitRepository, dir)
		}
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrNoGitRepository, dir, err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("%w: repository at %s has no working tree: %w", domain.ErrNoGitRepository, dir, err)
	}

	found := &domain.LocalRepository{Root: wt.Filesystem.Root()}

	remote, err := repo.Remote("origin")
	switch {
	case err != nil:
		l.logger.Warn(ctx, "repository has no origin remote", map[string]interface{}{
			"root":  found.Root,
			"error": err.Error(),
		})
	case len(remote.Config().URLs) == 0:
		l.logger.Warn(ctx, "origin remote has no URLs configured", map[string]interface{}{
			"root": found.Root,
		})
	default:
		found.OriginURL = remote.Config().URLs[0]
	}

	l.logger.Debug(ctx, "found enclosing repository", map[string]interface{}{
		"dir":        dir,
		"root":       found.Root,
		"origin_url": found.OriginURL,
	})

	return found, nil
}

// Regular expressions for parsing Git remote URLs.
var (
	// httpsURLPattern matches HTTPS URLs like:
	// https://github.com/owner/repo.git
	// https://github.com/owner/repo
	httpsURLPattern = regexp.MustCompile(`^https?://[^/]+/([^/]+)/([^/]+?)(?:\.git)?/?$`)

	// sshURLPattern matches SCP-style SSH URLs like:
	// git@github.com:owner/repo.git
	// git@github.com:owner/repo
	sshURLPattern = regexp.MustCompile(`^[\w.-]+@[^:]+:([^/]+)/([^/]+?)(?:\.git)?/?$`)

	// sshSchemePattern matches ssh:// URLs like:
	// ssh://git@github.com/owner/repo.git
	sshSchemePattern = regexp.MustCompile(`^ssh://[^/]+/([^/]+)/([^/]+?)(?:\.git)?/?$`)
)

// parseRepoFromURL extracts owner/repo from a Git remote URL.
// Supports HTTPS, SCP-style SSH and ssh:// formats:
//   - https://github.com/owner/repo.git -> owner/repo
//   - git@github.com:owner/repo -> owner/repo
//   - ssh://git@github.com/owner/repo.git -> owner/repo
func parseRepoFromURL(url string) (string, error) {
	url = strings.TrimSpace(url)

	for _, pattern := range []*regexp.Regexp{httpsURLPattern, sshURLPattern, sshSchemePattern} {
		if matches := pattern.FindStringSubmatch(url); len(matches) == 3 {
			return matches[1] + "/" + matches[2], nil
		}
	}

	return "", fmt.Errorf("%w: %s", domain.ErrInvalidRemoteURL, url)
}

// cacheDirName names the cache directory of a repository identity. The
// readable part comes from the URL or path, the hash keeps identities apart.
func cacheDirName(identity string) string {
	sum := sha256.Sum256([]byte(identity))
	digest := hex.EncodeToString(sum[:])[:16]

	name, err := parseRepoFromURL(identity)
	if err != nil {
		name = filepath.Base(strings.TrimSuffix(filepath.ToSlash(identity), "/"))
	}
	name = strings.TrimSuffix(name, ".git")
	name = strings.NewReplacer("/", "_", ":", "_", "\\", "_").Replace(name)
	if name == "" || name == "." {
		name = "repo"
	}

	return name + "_" + digest
}
