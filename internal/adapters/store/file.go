// Package store provides adapters for ref cache storage backends.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MyCarrier-DevOps/slipway/internal/domain"
)

// fileFormatVersion is bumped when the on-disk layout changes.
const fileFormatVersion = 1

// unreadableSuffix is appended to a cache file that OpenFile moved aside.
const unreadableSuffix = ".unreadable"

// errUnreadable marks a cache file that exists but cannot be used.
var errUnreadable = errors.New("unreadable ref cache")

// Logger defines the logging interface for the store adapters.
type Logger interface {
	Warn(ctx context.Context, msg string, fields map[string]interface{})
}

type fileDocument struct {
	Version int         `json:"version"`
	Entries []fileEntry `json:"entries"`
}

type fileEntry struct {
	RepoURL    string    `json:"repo_url"`
	RefName    string    `json:"ref_name"`
	CommitID   string    `json:"commit_id"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// FileRefCache stores ref resolutions in a single JSON file.
//
// Every write replaces the file with write-temp-then-rename, so readers in
// other processes see either the old or the new document, never a partial
// one. Concurrent writers may lose each other's entries, which is acceptable
// for an advisory cache.
type FileRefCache struct {
	path string
	mu   sync.Mutex
}

// OpenFile returns a FileRefCache at path, creating its directory.
// A corrupt or newer-format file is moved aside to path+".unreadable" and
// the cache starts empty.
func OpenFile(ctx context.Context, path string, log Logger) (*FileRefCache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create ref cache directory: %w", err)
	}

	c := &FileRefCache{path: path}
	_, err := c.read()
	if errors.Is(err, errUnreadable) {
		aside := path + unreadableSuffix
		if renameErr := os.Rename(path, aside); renameErr != nil {
			return nil, fmt.Errorf("%w (moving it aside failed: %w)", err, renameErr)
		}
		log.Warn(ctx, "discarded unreadable ref cache", map[string]interface{}{
			"path":  path,
			"moved": aside,
			"error": err.Error(),
		})
		return c, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Get implements domain.RefCache.
func (c *FileRefCache) Get(_ context.Context, repoURL, refName string) (*domain.RefCacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.read()
	if err != nil {
		return nil, err
	}

	entry, ok := entries[refKey{repo: repoURL, ref: refName}]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

// Put implements domain.RefCache.
func (c *FileRefCache) Put(_ context.Context, entry domain.RefCacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.read()
	if err != nil {
		return err
	}

	entry.ResolvedAt = entry.ResolvedAt.UTC()
	entries[refKey{repo: entry.RepoURL, ref: entry.RefName}] = entry

	return c.write(entries)
}

// List implements domain.RefCache.
func (c *FileRefCache) List(_ context.Context) ([]domain.RefCacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.read()
	if err != nil {
		return nil, err
	}

	list := make([]domain.RefCacheEntry, 0, len(entries))
	for _, e := range entries {
		list = append(list, e)
	}
	sortEntries(list)
	return list, nil
}

// Close implements domain.RefCache. Writes are flushed as they happen.
func (c *FileRefCache) Close() error {
	return nil
}

func (c *FileRefCache) read() (map[refKey]domain.RefCacheEntry, error) {
	entries := make(map[refKey]domain.RefCacheEntry)

	data, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return entries, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading ref cache %s: %w", c.path, err)
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s is corrupt: %w", errUnreadable, c.path, err)
	}
	if doc.Version > fileFormatVersion {
		return nil, fmt.Errorf("%w: %s has unsupported version %d", errUnreadable, c.path, doc.Version)
	}

	for _, e := range doc.Entries {
		entries[refKey{repo: e.RepoURL, ref: e.RefName}] = domain.RefCacheEntry{
			RepoURL:    e.RepoURL,
			RefName:    e.RefName,
			CommitID:   e.CommitID,
			ResolvedAt: e.ResolvedAt.UTC(),
		}
	}
	return entries, nil
}

func (c *FileRefCache) write(entries map[refKey]domain.RefCacheEntry) error {
	list := make([]domain.RefCacheEntry, 0, len(entries))
	for _, e := range entries {
		list = append(list, e)
	}
	sortEntries(list)

	doc := fileDocument{Version: fileFormatVersion, Entries: make([]fileEntry, 0, len(list))}
	for _, e := range list {
		doc.Entries = append(doc.Entries, fileEntry(e))
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding ref cache: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.path), "."+filepath.Base(c.path)+"-*")
	if err != nil {
		return fmt.Errorf("writing ref cache: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing ref cache: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("writing ref cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing ref cache: %w", err)
	}

	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("replacing ref cache %s: %w", c.path, err)
	}
	return nil
}
