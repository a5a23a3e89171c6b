package usecases

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/MyCarrier-DevOps/slipway/internal/domain"
)

// OriginBuilder turns invocation hints into the root Address.
//
// An explicit repository wins. Otherwise the context mode decides:
// none uses the working directory as is, git-remote uses the 'origin' remote
// of the enclosing repository and git-local uses the enclosing repository
// itself. Refs are always resolved, so the result is concrete.
type OriginBuilder struct {
	locator domain.RepositoryLocator
	refs    domain.RefResolver
	logger  Logger
}

// NewOriginBuilder creates an OriginBuilder.
func NewOriginBuilder(locator domain.RepositoryLocator, refs domain.RefResolver, log Logger) *OriginBuilder {
	return &OriginBuilder{locator: locator, refs: refs, logger: log}
}

// Build returns the root Address for in.
func (b *OriginBuilder) Build(ctx context.Context, in domain.AddressInput) (domain.Address, error) {
	if in.WorkDir == "" {
		return domain.Address{}, fmt.Errorf("%w: no working directory", domain.ErrInvalidAddress)
	}
	workDir, err := filepath.Abs(in.WorkDir)
	if err != nil {
		return domain.Address{}, fmt.Errorf("%w: %w", domain.ErrInvalidAddress, err)
	}

	addr, err := b.build(ctx, in, workDir)
	if err != nil {
		return domain.Address{}, err
	}

	if err := addr.Validate(); err != nil {
		return domain.Address{}, err
	}

	b.logger.Debug(ctx, "built root address", map[string]interface{}{
		"address": addr.String(),
		"context": string(in.Context),
	})

	return addr, nil
}

func (b *OriginBuilder) build(ctx context.Context, in domain.AddressInput, workDir string) (domain.Address, error) {
	repo := strings.TrimSpace(in.Repo)
	if repo != "" {
		return b.explicit(ctx, in, repo, workDir)
	}

	mode := in.Context
	if mode == "" {
		mode = domain.ContextGitLocal
	}

	if mode == domain.ContextNone {
		if in.Ref != "" {
			return domain.Address{}, fmt.Errorf("%w: ref %q needs a git context or an explicit repository",
				domain.ErrInvalidAddress, in.Ref)
		}
		path, err := domain.NewRelativePath(in.DeployPath)
		if err != nil {
			return domain.Address{}, err
		}
		return domain.Address{Origin: domain.LocalOrigin(workDir), Path: path}, nil
	}

	found, err := b.locator.FindEnclosing(ctx, workDir)
	if err != nil {
		return domain.Address{}, err
	}

	path, err := b.statePath(in.DeployPath, found.Root, workDir)
	if err != nil {
		return domain.Address{}, err
	}

	switch mode {
	case domain.ContextGitRemote:
		if found.OriginURL == "" {
			return domain.Address{}, fmt.Errorf("%w: repository at %s", domain.ErrNoRemoteOrigin, found.Root)
		}
		commit, err := b.refs.Resolve(ctx, domain.OriginGitRemote, found.OriginURL, in.Ref, in.Latest)
		if err != nil {
			return domain.Address{}, err
		}
		return domain.Address{Origin: domain.GitRemoteOrigin(found.OriginURL, commit), Path: path}, nil

	case domain.ContextGitLocal:
		if in.Ref == "" {
			return domain.Address{Origin: domain.LocalOrigin(found.Root), Path: path}, nil
		}
		commit, err := b.refs.Resolve(ctx, domain.OriginGitLocal, found.Root, in.Ref, in.Latest)
		if err != nil {
			return domain.Address{}, err
		}
		return domain.Address{Origin: domain.GitLocalOrigin(found.Root, commit), Path: path}, nil

	default:
		return domain.Address{}, fmt.Errorf("%w: unknown context %q", domain.ErrInvalidAddress, mode)
	}
}

// explicit builds the Address of a repository named on the command line.
// The deploy path is taken relative to the repository root.
func (b *OriginBuilder) explicit(ctx context.Context, in domain.AddressInput, repo, workDir string) (domain.Address, error) {
	path, err := domain.NewRelativePath(in.DeployPath)
	if err != nil {
		return domain.Address{}, err
	}

	kind := domain.OriginGitRemote
	location := repo
	if !domain.IsRemoteURL(repo) {
		kind = domain.OriginGitLocal
		location = strings.TrimPrefix(repo, "file://")
		if !filepath.IsAbs(location) {
			location = filepath.Join(workDir, location)
		}
	}

	commit, err := b.refs.Resolve(ctx, kind, location, in.Ref, in.Latest)
	if err != nil {
		return domain.Address{}, err
	}

	return domain.Address{Origin: newGitOrigin(kind, location, commit), Path: path}, nil
}

// statePath is the explicit deploy path, or the working directory relative
// to the repository root.
func (b *OriginBuilder) statePath(deployPath, root, workDir string) (domain.RelativePath, error) {
	if deployPath != "" {
		return domain.NewRelativePath(deployPath)
	}

	rel, err := filepath.Rel(evalSymlinks(root), evalSymlinks(workDir))
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrInvalidPath, err)
	}
	return domain.NewRelativePath(rel)
}

func evalSymlinks(p string) string {
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}
	return p
}
