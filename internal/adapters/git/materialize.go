package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"golang.org/x/sync/singleflight"

	"github.com/MyCarrier-DevOps/slipway/internal/domain"
)

// commitsDir holds snapshots under the cache directory.
const commitsDir = "commits"

// Materializer implements domain.Materializer. Git origins are checked out
// into <cacheDir>/commits/<repo>/<commit> once and reused afterwards.
type Materializer struct {
	cacheDir string
	logger   Logger
	group    singleflight.Group
}

// NewMaterializer creates a Materializer rooted at cacheDir.
func NewMaterializer(cacheDir string, log Logger) *Materializer {
	return &Materializer{cacheDir: cacheDir, logger: log}
}

// Materialize returns the directory holding origin's tree.
func (m *Materializer) Materialize(ctx context.Context, origin domain.Origin) (string, error) {
	if err := origin.Validate(); err != nil {
		return "", err
	}

	if origin.Kind == domain.OriginLocal {
		info, err := os.Stat(origin.Location)
		if err != nil {
			return "", fmt.Errorf("%w: %w", domain.ErrMaterialize, err)
		}
		if !info.IsDir() {
			return "", fmt.Errorf("%w: %s is not a directory", domain.ErrMaterialize, origin.Location)
		}
		return origin.Location, nil
	}

	target := m.SnapshotDir(origin)
	dir, err, _ := m.group.Do(target, func() (interface{}, error) {
		return m.materializeGit(ctx, origin, target)
	})
	if err != nil {
		return "", err
	}
	return dir.(string), nil
}

// SnapshotDir is the cache directory of a Git origin's commit.
func (m *Materializer) SnapshotDir(origin domain.Origin) string {
	return filepath.Join(m.cacheDir, commitsDir, cacheDirName(origin.Identity()), origin.Commit)
}

func (m *Materializer) materializeGit(ctx context.Context, origin domain.Origin, target string) (string, error) {
	if info, err := os.Stat(target); err == nil && info.IsDir() {
		m.logger.Debug(ctx, "snapshot cache hit", map[string]interface{}{
			"origin": origin.String(),
			"dir":    target,
		})
		return target, nil
	}

	parent := filepath.Dir(target)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", fmt.Errorf("%w: creating %s: %w", domain.ErrMaterialize, parent, err)
	}

	tmp, err := os.MkdirTemp(parent, "."+domain.ShortCommit(origin.Commit)+"-*")
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrMaterialize, err)
	}

	if err := m.checkout(ctx, origin, tmp); err != nil {
		_ = os.RemoveAll(tmp)
		return "", err
	}

	if err := os.Rename(tmp, target); err != nil {
		_ = os.RemoveAll(tmp)
		// Another process finished the same snapshot first.
		if info, statErr := os.Stat(target); statErr == nil && info.IsDir() {
			return target, nil
		}
		return "", fmt.Errorf("%w: moving snapshot into %s: %w", domain.ErrMaterialize, target, err)
	}

	m.logger.Debug(ctx, "materialized snapshot", map[string]interface{}{
		"origin": origin.String(),
		"dir":    target,
	})

	return target, nil
}

// checkout clones origin into dir, checks out its commit and strips .git.
func (m *Materializer) checkout(ctx context.Context, origin domain.Origin, dir string) error {
	repo, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:        origin.Location,
		NoCheckout: true,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: cloning %s: %w", domain.ErrMaterialize, origin.Location, err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrMaterialize, err)
	}

	err = wt.Checkout(&git.CheckoutOptions{
		Hash:  plumbing.NewHash(origin.Commit),
		Force: true,
	})
	if err != nil {
		return fmt.Errorf("%w: checking out %s: %w", domain.ErrMaterialize, domain.ShortCommit(origin.Commit), err)
	}

	if err := os.RemoveAll(filepath.Join(dir, git.GitDirName)); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrMaterialize, err)
	}

	return nil
}
