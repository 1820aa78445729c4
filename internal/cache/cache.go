// Package cache stores finished job outputs keyed by the SHA-256 of their input.
//
// Multi-artifact entries live in <root>/<hash>/<artifact>; scalar entries live
// in <root>/<hash>.json. Entries are written to a staging sibling and renamed
// into place once complete, so a reader either sees a whole entry or none.
package cache

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/cesargomez89/stemdeck/internal/constants"
	"github.com/cesargomez89/stemdeck/internal/domain"
	"github.com/cesargomez89/stemdeck/internal/logger"
	"github.com/cesargomez89/stemdeck/internal/storage"
	"github.com/cesargomez89/stemdeck/internal/store"
)

// Index records committed entries and hits. It is optional.
type Index interface {
	RecordEntry(ctx context.Context, e *store.CacheEntry) error
	TouchEntry(ctx context.Context, hash, kind string) error
	DeleteEntry(ctx context.Context, hash, kind string) error
}

type Cache struct {
	index  Index
	logger *logger.Logger
	group  singleflight.Group
	root   string
	kind   domain.TaskKind
}

func New(root string, kind domain.TaskKind, index Index, log *logger.Logger) *Cache {
	if log == nil {
		log = logger.Default()
	}
	return &Cache{
		root:   root,
		kind:   kind,
		index:  index,
		logger: log.WithComponent("cache").WithAttrs("kind", string(kind)),
	}
}

func (c *Cache) Root() string { return c.root }

func (c *Cache) Kind() domain.TaskKind { return c.kind }

// Init creates the cache root.
func (c *Cache) Init() error {
	if err := storage.EnsureDir(c.root); err != nil {
		return domain.IO(err, "create cache root %s", c.root)
	}
	return nil
}

// Hash computes the content key of the file at path.
func (c *Cache) Hash(ctx context.Context, path string) (string, error) {
	h, err := storage.HashFile(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		return "", domain.IO(err, "hash %s", filepath.Base(path))
	}
	return h, nil
}

func validHash(hash string) error {
	if len(hash) != 64 {
		return domain.InvalidInput("malformed content hash %q", hash)
	}
	if _, err := hex.DecodeString(hash); err != nil {
		return domain.InvalidInput("malformed content hash %q", hash)
	}
	return nil
}

// EntryDir is the canonical directory of a multi-artifact entry.
func (c *Cache) EntryDir(hash string) string {
	return filepath.Join(c.root, hash)
}

// JSONPath is the canonical file of a scalar entry.
func (c *Cache) JSONPath(hash string) string {
	return filepath.Join(c.root, hash+constants.ExtJSON)
}

// Lookup returns the artifact paths when every named artifact is present.
// A directory missing any artifact is a miss.
func (c *Cache) Lookup(ctx context.Context, hash string, names []string) (map[string]string, bool) {
	paths, ok := c.complete(hash, names)
	if ok {
		c.touch(ctx, hash)
	}
	return paths, ok
}

func (c *Cache) complete(hash string, names []string) (map[string]string, bool) {
	if validHash(hash) != nil || len(names) == 0 {
		return nil, false
	}

	dir := c.EntryDir(hash)
	paths := make(map[string]string, len(names))
	for _, name := range names {
		p := filepath.Join(dir, name)
		if !storage.Exists(p) {
			return nil, false
		}
		paths[name] = p
	}
	return paths, true
}

// Staging is an in-progress entry that becomes visible only on Commit.
type Staging struct {
	cache *Cache
	hash  string
	dir   string
	done  bool
}

// Stage creates a private staging directory for hash next to the final location.
func (c *Cache) Stage(hash string) (*Staging, error) {
	if err := validHash(hash); err != nil {
		return nil, err
	}
	if err := c.Init(); err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp(c.root, constants.StagingPrefix+hash+"-*")
	if err != nil {
		return nil, domain.IO(err, "create staging dir")
	}
	return &Staging{cache: c, hash: hash, dir: dir}, nil
}

func (s *Staging) Dir() string { return s.dir }

// Path is where the artifact must be written before Commit.
func (s *Staging) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// Commit verifies every named artifact exists and renames the staging
// directory into place. If another writer committed the same hash first, its
// entry wins and this staging copy is discarded.
func (s *Staging) Commit(ctx context.Context, names []string) (map[string]string, error) {
	if s.done {
		return nil, domain.Internal("staging for %s already finished", s.hash)
	}
	for _, name := range names {
		if !storage.Exists(s.Path(name)) {
			_ = s.Discard()
			return nil, domain.IO(os.ErrNotExist, "artifact %s missing from staged entry", name)
		}
	}

	c := s.cache
	final := c.EntryDir(s.hash)

	if paths, ok := c.complete(s.hash, names); ok {
		c.logger.Debug("Entry committed concurrently, keeping first", "hash", s.hash)
		_ = s.Discard()
		return paths, nil
	}

	// A leftover partial directory can only come from an interrupted run.
	if _, err := os.Stat(final); err == nil {
		c.logger.Warn("Replacing incomplete cache entry", "hash", s.hash)
		if err := os.RemoveAll(final); err != nil {
			_ = s.Discard()
			return nil, domain.IO(err, "remove incomplete entry %s", s.hash)
		}
	}

	if err := os.Rename(s.dir, final); err != nil {
		_ = s.Discard()
		return nil, domain.IO(err, "finalize entry %s", s.hash)
	}
	s.done = true

	paths := make(map[string]string, len(names))
	for _, name := range names {
		paths[name] = filepath.Join(final, name)
	}

	size, _ := storage.DirSize(final)
	c.record(ctx, s.hash, final, size, len(names))
	return paths, nil
}

// Discard removes the staging directory. Safe to call after Commit.
func (s *Staging) Discard() error {
	if s.done {
		return nil
	}
	s.done = true
	if err := os.RemoveAll(s.dir); err != nil {
		return domain.IO(err, "discard staging %s", s.hash)
	}
	return nil
}

// LookupJSON decodes a scalar entry into v. A missing or corrupt entry is a miss.
func (c *Cache) LookupJSON(ctx context.Context, hash string, v any) bool {
	if validHash(hash) != nil {
		return false
	}
	data, err := os.ReadFile(c.JSONPath(hash))
	if err != nil {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		c.logger.Warn("Ignoring corrupt cache entry", "hash", hash, "error", err)
		return false
	}
	c.touch(ctx, hash)
	return true
}

// StoreJSON writes a scalar entry atomically and returns its path.
func (c *Cache) StoreJSON(ctx context.Context, hash string, v any) (string, error) {
	if err := validHash(hash); err != nil {
		return "", err
	}
	if err := c.Init(); err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", domain.Internal("encode cache entry: %v", err)
	}

	path := c.JSONPath(hash)
	if err := storage.WriteFileAtomic(path, data); err != nil {
		return "", domain.IO(err, "write cache entry %s", hash)
	}
	c.record(ctx, hash, path, int64(len(data)), 1)
	return path, nil
}

// Remove deletes any entry for hash, complete or partial.
func (c *Cache) Remove(ctx context.Context, hash string) error {
	if err := validHash(hash); err != nil {
		return err
	}

	var errs []error
	if err := os.RemoveAll(c.EntryDir(hash)); err != nil {
		errs = append(errs, err)
	}
	if err := os.Remove(c.JSONPath(hash)); err != nil && !storage.IsNotExist(err) {
		errs = append(errs, err)
	}
	if c.index != nil {
		if err := c.index.DeleteEntry(ctx, hash, string(c.kind)); err != nil {
			c.logger.Warn("Failed to drop index entry", "hash", hash, "error", err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return domain.IO(err, "remove entry %s", hash)
	}
	return nil
}

// RemoveIncomplete deletes the entry for hash unless it is a complete hit for
// names. Used after a failed computation so no partial entry survives.
func (c *Cache) RemoveIncomplete(ctx context.Context, hash string, names []string) error {
	if validHash(hash) != nil {
		return nil
	}
	if _, err := os.Stat(c.EntryDir(hash)); storage.IsNotExist(err) {
		return nil
	}
	if _, ok := c.complete(hash, names); ok {
		return nil
	}
	return c.Remove(ctx, hash)
}

// Do runs fn once per hash among concurrent callers; later callers receive the
// first caller's result. shared reports whether the result was shared.
func (c *Cache) Do(hash string, fn func() (any, error)) (v any, err error, shared bool) {
	return c.group.Do(hash, fn)
}

// Entry is a committed entry on disk.
type Entry struct {
	storage.Entry
	Hash string
}

// Entries lists committed entries, skipping staging directories.
func (c *Cache) Entries() ([]Entry, error) {
	des, err := os.ReadDir(c.root)
	if err != nil {
		if storage.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []Entry
	for _, d := range des {
		name := d.Name()
		if strings.HasPrefix(name, constants.StagingPrefix) || strings.HasPrefix(name, ".") {
			continue
		}
		hash := strings.TrimSuffix(name, constants.ExtJSON)
		if validHash(hash) != nil {
			continue
		}
		info, err := d.Info()
		if err != nil {
			continue
		}
		out = append(out, Entry{
			Entry: storage.Entry{Name: name, Path: filepath.Join(c.root, name), ModTime: info.ModTime()},
			Hash:  hash,
		})
	}
	return out, nil
}

func (c *Cache) record(ctx context.Context, hash, path string, size int64, artifacts int) {
	if c.index == nil {
		return
	}
	err := c.index.RecordEntry(ctx, &store.CacheEntry{
		Hash:      hash,
		Kind:      string(c.kind),
		Path:      path,
		SizeBytes: size,
		Artifacts: artifacts,
	})
	if err != nil {
		c.logger.Warn("Failed to index cache entry", "hash", hash, "error", err)
	}
}

func (c *Cache) touch(ctx context.Context, hash string) {
	if c.index == nil {
		return
	}
	if err := c.index.TouchEntry(ctx, hash, string(c.kind)); err != nil {
		c.logger.Warn("Failed to record cache hit", "hash", hash, "error", err)
	}
}
