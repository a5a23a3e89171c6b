package git

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/MyCarrier-DevOps/slipway/internal/domain"
)

// peeledSuffix marks the commit an annotated tag points to in ls-remote output.
const peeledSuffix = "^{}"

// Ref classes in precedence order. Lower wins.
const (
	classAnnotatedTag = iota
	classBranch
	classOther
)

// RefLister implements domain.RefLister. Remote repositories are queried
// ls-remote style, local repositories are read directly.
type RefLister struct {
	logger Logger

	// listRemote is replaceable in tests.
	listRemote func(ctx context.Context, url string) ([]*plumbing.Reference, error)
}

// NewRefLister creates a RefLister.
func NewRefLister(log Logger) *RefLister {
	return &RefLister{logger: log, listRemote: listRemoteRefs}
}

// LookupRef returns the commit ref currently points to.
func (l *RefLister) LookupRef(ctx context.Context, kind domain.OriginKind, location, ref string) (string, error) {
	if ref == "" {
		ref = domain.DefaultRef
	}

	switch kind {
	case domain.OriginGitRemote:
		return l.lookupRemote(ctx, location, ref)
	case domain.OriginGitLocal:
		return l.lookupLocal(ctx, location, ref)
	default:
		return "", fmt.Errorf("%w: cannot look up ref %q in a %s origin", domain.ErrInvalidAddress, ref, kind)
	}
}

func (l *RefLister) lookupRemote(ctx context.Context, url, ref string) (string, error) {
	refs, err := l.listRemote(ctx, url)
	if err != nil {
		if errors.Is(err, transport.ErrEmptyRemoteRepository) {
			return "", fmt.Errorf("%w: %s has no refs", domain.ErrRefNotFound, url)
		}
		return "", fmt.Errorf("%w: listing refs of %s: %w", domain.ErrNetwork, url, err)
	}

	commit, matched, ok := selectRef(refs, ref)
	if !ok {
		return "", fmt.Errorf("%w: %q in %s", domain.ErrRefNotFound, ref, url)
	}

	l.logger.Debug(ctx, "resolved remote ref", map[string]interface{}{
		"repo":    url,
		"ref":     ref,
		"matched": matched,
		"commit":  commit,
	})

	return commit, nil
}

func (l *RefLister) lookupLocal(ctx context.Context, path, ref string) (string, error) {
	repo, err := openLocal(path)
	if err != nil {
		return "", err
	}

	refs, err := localRefs(repo)
	if err != nil {
		return "", fmt.Errorf("reading refs of %s: %w", path, err)
	}

	if commit, matched, ok := selectRef(refs, ref); ok {
		l.logger.Debug(ctx, "resolved local ref", map[string]interface{}{
			"repo":    path,
			"ref":     ref,
			"matched": matched,
			"commit":  commit,
		})
		return commit, nil
	}

	// Abbreviated ids and revision expressions only make sense locally.
	hash, err := repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return "", fmt.Errorf("%w: %q in %s", domain.ErrRefNotFound, ref, path)
	}

	return hash.String(), nil
}

// openLocal opens the repository whose root is path. A path inside a
// repository is rejected with the repository root in the message, since the
// state path of a git origin is taken relative to that root.
func openLocal(path string) (*git.Repository, error) {
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrNoGitRepository, path, err)
	}

	enclosing, detectErr := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if detectErr != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrNoGitRepository, path, err)
	}
	root := path
	if wt, wtErr := enclosing.Worktree(); wtErr == nil {
		root = wt.Filesystem.Root()
	}
	return nil, fmt.Errorf("%w: %s is inside the git repository at %s; use the repository root as origin with the state path relative to it",
		domain.ErrInvalidAddress, path, root)
}

// listRemoteRefs performs the ls-remote equivalent without a local clone.
func listRemoteRefs(ctx context.Context, url string) ([]*plumbing.Reference, error) {
	remote := git.NewRemote(memory.NewStorage(), &config.RemoteConfig{
		Name: "origin",
		URLs: []string{url},
	})

	return remote.ListContext(ctx, &git.ListOptions{PeelingOption: git.AppendPeeled})
}

// localRefs lists the references of an on-disk repository in ls-remote shape:
// HEAD and symbolic refs resolved to hashes, annotated tags followed by a
// peeled "^{}" entry.
func localRefs(repo *git.Repository) ([]*plumbing.Reference, error) {
	var refs []*plumbing.Reference

	if head, err := repo.Head(); err == nil {
		refs = append(refs, plumbing.NewHashReference(plumbing.HEAD, head.Hash()))
	}

	iter, err := repo.References()
	if err != nil {
		return nil, err
	}

	err = iter.ForEach(func(ref *plumbing.Reference) error {
		if ref.Name() == plumbing.HEAD {
			return nil
		}

		resolved := ref
		if ref.Type() == plumbing.SymbolicReference {
			target, err := repo.Reference(ref.Name(), true)
			if err != nil {
				return nil
			}
			resolved = plumbing.NewHashReference(ref.Name(), target.Hash())
		}
		refs = append(refs, resolved)

		if !ref.Name().IsTag() {
			return nil
		}

		tag, err := repo.TagObject(resolved.Hash())
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		commit, err := peelTag(tag)
		if err != nil {
			return nil
		}
		refs = append(refs, plumbing.NewHashReference(
			plumbing.ReferenceName(ref.Name().String()+peeledSuffix), commit))

		return nil
	})

	return refs, err
}

// peelTag follows nested annotated tags down to a commit.
func peelTag(tag *object.Tag) (plumbing.Hash, error) {
	commit, err := tag.Commit()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	return commit.Hash, nil
}

type refCandidate struct {
	class  int
	name   string
	commit string
}

// selectRef picks the commit ref resolves to. Names match ls-remote style: a
// full ref name, or a trailing path of one. Annotated tags win over branches,
// branches over lightweight tags and other refs, and ties go to the
// lexicographically smallest full name.
func selectRef(refs []*plumbing.Reference, ref string) (commit, matched string, ok bool) {
	hashes := make(map[string]string, len(refs))
	peeled := make(map[string]string)
	var symbolic []*plumbing.Reference

	for _, r := range refs {
		name := r.Name().String()
		switch {
		case r.Type() == plumbing.SymbolicReference:
			symbolic = append(symbolic, r)
		case strings.HasSuffix(name, peeledSuffix):
			peeled[strings.TrimSuffix(name, peeledSuffix)] = r.Hash().String()
		default:
			hashes[name] = r.Hash().String()
		}
	}
	for _, r := range symbolic {
		if target, found := hashes[r.Target().String()]; found {
			hashes[r.Name().String()] = target
		}
	}

	var candidates []refCandidate
	for name, hash := range hashes {
		if name != ref && !strings.HasSuffix(name, "/"+ref) {
			continue
		}

		c := refCandidate{class: classOther, name: name, commit: hash}
		switch {
		case strings.HasPrefix(name, "refs/tags/"):
			if target, annotated := peeled[name]; annotated {
				c.class = classAnnotatedTag
				c.commit = target
			}
		case strings.HasPrefix(name, "refs/heads/"):
			c.class = classBranch
		}
		candidates = append(candidates, c)
	}

	if len(candidates) == 0 {
		return "", "", false
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].class != candidates[j].class {
			return candidates[i].class < candidates[j].class
		}
		return candidates[i].name < candidates[j].name
	})

	best := candidates[0]
	return best.commit, best.name, true
}
