package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/MyCarrier-DevOps/slipway/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - ref_cache table
const currentSchemaVersion = 1

// SQLiteRefCache stores ref resolutions in a SQLite database.
// WAL mode and a busy timeout let concurrent invocations share the file.
type SQLiteRefCache struct {
	db *sql.DB
}

// OpenSQLite creates or opens the ref cache database at path.
func OpenSQLite(path string) (*SQLiteRefCache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create ref cache directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ref cache database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to ref cache database: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteRefCache{db: db}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("ref cache schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// Get implements domain.RefCache.
func (s *SQLiteRefCache) Get(ctx context.Context, repoURL, refName string) (*domain.RefCacheEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT repo_url, ref_name, commit_id, resolved_at FROM ref_cache WHERE repo_url = ? AND ref_name = ?`,
		repoURL, refName)

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading ref cache entry: %w", err)
	}
	return entry, nil
}

// Put implements domain.RefCache. Each statement is its own transaction.
func (s *SQLiteRefCache) Put(ctx context.Context, entry domain.RefCacheEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ref_cache (repo_url, ref_name, commit_id, resolved_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (repo_url, ref_name) DO UPDATE SET
			commit_id = excluded.commit_id,
			resolved_at = excluded.resolved_at`,
		entry.RepoURL, entry.RefName, entry.CommitID, entry.ResolvedAt.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("writing ref cache entry: %w", err)
	}
	return nil
}

// List implements domain.RefCache.
func (s *SQLiteRefCache) List(ctx context.Context) ([]domain.RefCacheEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT repo_url, ref_name, commit_id, resolved_at FROM ref_cache
		ORDER BY repo_url ASC, ref_name ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing ref cache: %w", err)
	}
	defer rows.Close()

	var entries []domain.RefCacheEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("listing ref cache: %w", err)
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// Close implements domain.RefCache.
func (s *SQLiteRefCache) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*domain.RefCacheEntry, error) {
	var (
		entry    domain.RefCacheEntry
		resolved int64
	)
	if err := row.Scan(&entry.RepoURL, &entry.RefName, &entry.CommitID, &resolved); err != nil {
		return nil, err
	}
	entry.ResolvedAt = time.Unix(0, resolved).UTC()
	return &entry, nil
}
