package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// CacheEntry indexes one committed content-cache entry on disk.
type CacheEntry struct {
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	LastAccessedAt time.Time `db:"last_accessed_at" json:"last_accessed_at"`
	Hash           string    `db:"hash" json:"hash"`
	Kind           string    `db:"kind" json:"kind"`
	Path           string    `db:"path" json:"path"`
	SizeBytes      int64     `db:"size_bytes" json:"size_bytes"`
	Artifacts      int       `db:"artifacts" json:"artifacts"`
	Hits           int64     `db:"hits" json:"hits"`
}

// CacheStats summarizes the index for one kind.
type CacheStats struct {
	Kind      string `db:"kind" json:"kind"`
	Entries   int64  `db:"entries" json:"entries"`
	SizeBytes int64  `db:"size_bytes" json:"size_bytes"`
	Hits      int64  `db:"hits" json:"hits"`
}

// RecordEntry inserts or refreshes an entry after a commit.
func (db *DB) RecordEntry(ctx context.Context, e *CacheEntry) error {
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.LastAccessedAt.IsZero() {
		e.LastAccessedAt = now
	}

	_, err := db.NamedExecContext(ctx, `
		INSERT INTO cache_entries (hash, kind, path, size_bytes, artifacts, hits, created_at, last_accessed_at)
		VALUES (:hash, :kind, :path, :size_bytes, :artifacts, :hits, :created_at, :last_accessed_at)
		ON CONFLICT(hash, kind) DO UPDATE SET
			path = excluded.path,
			size_bytes = excluded.size_bytes,
			artifacts = excluded.artifacts,
			last_accessed_at = excluded.last_accessed_at
	`, e)
	return err
}

// TouchEntry counts a cache hit. Unknown entries are ignored.
func (db *DB) TouchEntry(ctx context.Context, hash, kind string) error {
	_, err := db.ExecContext(ctx,
		"UPDATE cache_entries SET hits = hits + 1, last_accessed_at = ? WHERE hash = ? AND kind = ?",
		time.Now().UTC(), hash, kind)
	return err
}

func (db *DB) GetEntry(ctx context.Context, hash, kind string) (*CacheEntry, error) {
	var e CacheEntry
	err := db.GetContext(ctx, &e, "SELECT * FROM cache_entries WHERE hash = ? AND kind = ?", hash, kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListEntries returns entries least recently used first. An empty kind lists all kinds.
func (db *DB) ListEntries(ctx context.Context, kind string) ([]CacheEntry, error) {
	var entries []CacheEntry
	var err error
	if kind == "" {
		err = db.SelectContext(ctx, &entries, "SELECT * FROM cache_entries ORDER BY last_accessed_at ASC, hash ASC")
	} else {
		err = db.SelectContext(ctx, &entries, "SELECT * FROM cache_entries WHERE kind = ? ORDER BY last_accessed_at ASC, hash ASC", kind)
	}
	return entries, err
}

func (db *DB) DeleteEntry(ctx context.Context, hash, kind string) error {
	_, err := db.ExecContext(ctx, "DELETE FROM cache_entries WHERE hash = ? AND kind = ?", hash, kind)
	return err
}

func (db *DB) Stats(ctx context.Context) ([]CacheStats, error) {
	var stats []CacheStats
	err := db.SelectContext(ctx, &stats, `
		SELECT kind, COUNT(*) AS entries, COALESCE(SUM(size_bytes), 0) AS size_bytes, COALESCE(SUM(hits), 0) AS hits
		FROM cache_entries GROUP BY kind ORDER BY kind
	`)
	return stats, err
}
