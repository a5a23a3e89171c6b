package usecases

import (
	"context"
	"time"

	"github.com/MyCarrier-DevOps/slipway/internal/domain"
)

// Ref lookup sources reported to Metrics.
const (
	RefSourceLiteral  = "literal"
	RefSourceCache    = "cache"
	RefSourceUpstream = "upstream"
)

// RefService resolves symbolic refs to commit ids through the ref cache.
// Full commit ids are returned verbatim. Otherwise the cache is trusted
// unless latest is set, and upstream answers are written back.
type RefService struct {
	lister  domain.RefLister
	cache   domain.RefCache
	logger  Logger
	metrics Metrics
	now     func() time.Time
}

// NewRefService creates a RefService. metrics may be nil.
func NewRefService(lister domain.RefLister, cache domain.RefCache, log Logger, metrics Metrics) *RefService {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &RefService{
		lister:  lister,
		cache:   cache,
		logger:  log,
		metrics: metrics,
		now:     time.Now,
	}
}

// Resolve implements domain.RefResolver.
func (s *RefService) Resolve(
	ctx context.Context,
	kind domain.OriginKind,
	location, ref string,
	latest bool,
) (string, error) {
	if ref == "" {
		ref = domain.DefaultRef
	}

	if domain.IsCommitID(ref) {
		s.metrics.RefLookup(RefSourceLiteral)
		return ref, nil
	}

	if !latest {
		entry, err := s.cache.Get(ctx, location, ref)
		switch {
		case err != nil:
			// The cache is advisory; fall through to upstream.
			s.logger.Warn(ctx, "ref cache read failed", map[string]interface{}{
				"repo":  location,
				"ref":   ref,
				"error": err.Error(),
			})
		case entry != nil && domain.IsCommitID(entry.CommitID):
			s.metrics.RefLookup(RefSourceCache)
			s.logger.Debug(ctx, "ref cache hit", map[string]interface{}{
				"repo":        location,
				"ref":         ref,
				"commit":      entry.CommitID,
				"resolved_at": entry.ResolvedAt,
			})
			return entry.CommitID, nil
		}
	}

	commit, err := s.lister.LookupRef(ctx, kind, location, ref)
	if err != nil {
		return "", err
	}
	s.metrics.RefLookup(RefSourceUpstream)

	s.logger.Info(ctx, "resolved ref upstream", map[string]interface{}{
		"repo":   location,
		"ref":    ref,
		"commit": commit,
		"latest": latest,
	})

	err = s.cache.Put(ctx, domain.RefCacheEntry{
		RepoURL:    location,
		RefName:    ref,
		CommitID:   commit,
		ResolvedAt: s.now(),
	})
	if err != nil {
		s.logger.Warn(ctx, "ref cache write failed", map[string]interface{}{
			"repo":  location,
			"ref":   ref,
			"error": err.Error(),
		})
	}

	return commit, nil
}
