package store

import (
	"context"
	"sort"
	"sync"

	"github.com/MyCarrier-DevOps/slipway/internal/domain"
)

type refKey struct {
	repo string
	ref  string
}

// MemoryRefCache keeps ref resolutions for the lifetime of the process.
type MemoryRefCache struct {
	mu      sync.RWMutex
	entries map[refKey]domain.RefCacheEntry
}

// NewMemoryRefCache creates an empty MemoryRefCache.
func NewMemoryRefCache() *MemoryRefCache {
	return &MemoryRefCache{entries: make(map[refKey]domain.RefCacheEntry)}
}

// Get implements domain.RefCache.
func (c *MemoryRefCache) Get(_ context.Context, repoURL, refName string) (*domain.RefCacheEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[refKey{repo: repoURL, ref: refName}]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

// Put implements domain.RefCache.
func (c *MemoryRefCache) Put(_ context.Context, entry domain.RefCacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry.ResolvedAt = entry.ResolvedAt.UTC()
	c.entries[refKey{repo: entry.RepoURL, ref: entry.RefName}] = entry
	return nil
}

// List implements domain.RefCache.
func (c *MemoryRefCache) List(_ context.Context) ([]domain.RefCacheEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries := make([]domain.RefCacheEntry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	sortEntries(entries)
	return entries, nil
}

// Close implements domain.RefCache.
func (c *MemoryRefCache) Close() error {
	return nil
}

func sortEntries(entries []domain.RefCacheEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].RepoURL != entries[j].RepoURL {
			return entries[i].RepoURL < entries[j].RepoURL
		}
		return entries[i].RefName < entries[j].RefName
	})
}
