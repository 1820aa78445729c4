package store

const Schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	hash TEXT NOT NULL,
	kind TEXT NOT NULL,
	path TEXT NOT NULL,
	size_bytes INTEGER NOT NULL DEFAULT 0,
	artifacts INTEGER NOT NULL DEFAULT 0,
	hits INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	last_accessed_at DATETIME NOT NULL,
	PRIMARY KEY (hash, kind)
);

CREATE INDEX IF NOT EXISTS idx_cache_entries_lru ON cache_entries(kind, last_accessed_at);
`
