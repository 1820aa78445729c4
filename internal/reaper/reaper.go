// Package reaper periodically removes expired downloads and task records and
// keeps the downloads directory under its disk quota.
package reaper

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/cesargomez89/stemdeck/internal/cache"
	"github.com/cesargomez89/stemdeck/internal/logger"
	"github.com/cesargomez89/stemdeck/internal/storage"
	"github.com/cesargomez89/stemdeck/internal/store"
)

// Tasks is the part of the task registry the reaper needs.
type Tasks interface {
	EvictExpired(now time.Time, expiry time.Duration) []string
	IsActive(id string) bool
}

// Pruner drops stale in-memory state, such as rate limiter windows.
type Pruner interface {
	Prune() int
}

// LRUIndex orders cache entries by last access.
type LRUIndex interface {
	ListEntries(ctx context.Context, kind string) ([]store.CacheEntry, error)
}

type Config struct {
	DownloadsDir string
	Interval     time.Duration
	Expiry       time.Duration
	Quota        int64
	// CacheQuota bounds the content caches. Zero leaves them unbounded.
	CacheQuota int64
	DryRun     bool
}

// Report lists what one sweep removed, or would remove in dry-run mode.
type Report struct {
	Aged         []string `json:"aged"`
	OverQuota    []string `json:"over_quota"`
	Tasks        []string `json:"tasks"`
	CacheEntries []string `json:"cache_entries"`
	Errors       []string `json:"errors,omitempty"`
	Pruned       int      `json:"pruned_keys"`
	FreedBytes   int64    `json:"freed_bytes"`
	DryRun       bool     `json:"dry_run"`
}

type Reaper struct {
	tasks   Tasks
	index   LRUIndex
	logger  *logger.Logger
	now     func() time.Time
	sizeOf  func(path string) (int64, error)
	cancel  context.CancelFunc
	caches  []*cache.Cache
	pruners []Pruner
	cfg     Config
	wg      sync.WaitGroup
	mu      sync.Mutex
}

func New(cfg Config, tasks Tasks, log *logger.Logger) *Reaper {
	if log == nil {
		log = logger.Default()
	}
	return &Reaper{
		cfg:    cfg,
		tasks:  tasks,
		logger: log.WithComponent("reaper"),
		now:    time.Now,
		sizeOf: storage.DirSize,
	}
}

// WithCaches enables the cache quota over the given caches. index may be nil,
// in which case entries are ordered by modification time.
func (r *Reaper) WithCaches(index LRUIndex, caches ...*cache.Cache) *Reaper {
	r.index = index
	r.caches = append(r.caches, caches...)
	return r
}

func (r *Reaper) WithPruners(p ...Pruner) *Reaper {
	r.pruners = append(r.pruners, p...)
	return r
}

func (r *Reaper) WithClock(now func() time.Time) *Reaper {
	r.now = now
	return r
}

// WithSizeFunc replaces the directory size function.
func (r *Reaper) WithSizeFunc(f func(path string) (int64, error)) *Reaper {
	r.sizeOf = f
	return r
}

// Start runs a sweep every interval until Stop or ctx is cancelled.
// Cancellation interrupts the wait between sweeps, never a sweep in progress.
func (r *Reaper) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.logger.Info("Starting reaper", "interval", r.cfg.Interval, "expiry", r.cfg.Expiry, "quota_bytes", r.cfg.Quota)

	r.wg.Add(1)
	go r.loop(ctx)
}

func (r *Reaper) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.logger.Info("Reaper stopped")
}

func (r *Reaper) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rep := r.Sweep(context.WithoutCancel(ctx))
			if n := len(rep.Aged) + len(rep.OverQuota) + len(rep.Tasks) + len(rep.CacheEntries); n > 0 {
				r.logger.Info("Sweep finished",
					"aged", len(rep.Aged),
					"over_quota", len(rep.OverQuota),
					"tasks", len(rep.Tasks),
					"cache_entries", len(rep.CacheEntries),
					"freed_bytes", rep.FreedBytes)
			}
		}
	}
}

// Sweep runs every step once. A failing step is logged and does not stop the
// others.
func (r *Reaper) Sweep(ctx context.Context) Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	rep := Report{DryRun: r.cfg.DryRun}

	r.step(&rep, "prune_aged", func() error {
		return r.pruneAged(now, &rep)
	})
	r.step(&rep, "enforce_quota", func() error {
		return r.enforceQuota(&rep)
	})
	r.step(&rep, "evict_tasks", func() error {
		if !r.cfg.DryRun && r.tasks != nil {
			rep.Tasks = r.tasks.EvictExpired(now, r.cfg.Expiry)
		}
		return nil
	})
	if r.cfg.CacheQuota > 0 && len(r.caches) > 0 {
		r.step(&rep, "cache_quota", func() error {
			return r.enforceCacheQuota(ctx, &rep)
		})
	}
	r.step(&rep, "prune_limiters", func() error {
		if r.cfg.DryRun {
			return nil
		}
		for _, p := range r.pruners {
			rep.Pruned += p.Prune()
		}
		return nil
	})
	return rep
}

func (r *Reaper) step(rep *Report, name string, fn func() error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Sweep step panicked", "step", name, "panic", p)
			rep.Errors = append(rep.Errors, fmt.Sprintf("%s: panic: %v", name, p))
		}
	}()
	if err := fn(); err != nil {
		r.logger.Error("Sweep step failed", "step", name, "error", err)
		rep.Errors = append(rep.Errors, fmt.Sprintf("%s: %v", name, err))
	}
}

// pruneAged removes download directories last modified more than Expiry ago.
func (r *Reaper) pruneAged(now time.Time, rep *Report) error {
	dirs, err := storage.ListDirs(r.cfg.DownloadsDir)
	if err != nil {
		return err
	}

	cutoff := now.Add(-r.cfg.Expiry)
	for _, d := range dirs {
		if !d.ModTime.Before(cutoff) || r.active(d.Name) {
			continue
		}
		size, _ := r.sizeOf(d.Path)
		if r.remove(d.Path) {
			rep.Aged = append(rep.Aged, d.Name)
			rep.FreedBytes += size
		}
	}
	return nil
}

type sized struct {
	storage.Entry
	size int64
}

// enforceQuota removes the oldest download directories until the total is at
// or below Quota.
func (r *Reaper) enforceQuota(rep *Report) error {
	if r.cfg.Quota <= 0 {
		return nil
	}
	dirs, err := storage.ListDirs(r.cfg.DownloadsDir)
	if err != nil {
		return err
	}

	gone := make(map[string]bool, len(rep.Aged))
	for _, name := range rep.Aged {
		gone[name] = true
	}

	var total int64
	items := make([]sized, 0, len(dirs))
	for _, d := range dirs {
		if gone[d.Name] {
			continue
		}
		size, err := r.sizeOf(d.Path)
		if err != nil {
			r.logger.Warn("Failed to size directory", "path", d.Path, "error", err)
			continue
		}
		total += size
		items = append(items, sized{Entry: d, size: size})
	}
	if total <= r.cfg.Quota {
		return nil
	}

	sort.Slice(items, func(i, j int) bool { return items[i].ModTime.Before(items[j].ModTime) })

	r.logger.Warn("Downloads over quota", "total_bytes", total, "quota_bytes", r.cfg.Quota)
	for _, it := range items {
		if total <= r.cfg.Quota {
			break
		}
		if r.active(it.Name) {
			continue
		}
		if r.remove(it.Path) {
			total -= it.size
			rep.OverQuota = append(rep.OverQuota, it.Name)
			rep.FreedBytes += it.size
		}
	}
	return nil
}

// enforceCacheQuota evicts least recently used cache entries across all
// caches until their combined size is at or below CacheQuota.
func (r *Reaper) enforceCacheQuota(ctx context.Context, rep *Report) error {
	type candidate struct {
		cache    *cache.Cache
		lastUsed time.Time
		hash     string
		size     int64
	}

	lastUsed := r.lastAccess(ctx)

	var total int64
	var all []candidate
	for _, c := range r.caches {
		entries, err := c.Entries()
		if err != nil {
			return err
		}
		for _, e := range entries {
			size, err := r.sizeOf(e.Path)
			if err != nil {
				continue
			}
			used := e.ModTime
			if t, ok := lastUsed[string(c.Kind())+"/"+e.Hash]; ok {
				used = t
			}
			total += size
			all = append(all, candidate{cache: c, hash: e.Hash, size: size, lastUsed: used})
		}
	}
	if total <= r.cfg.CacheQuota {
		return nil
	}

	sort.Slice(all, func(i, j int) bool { return all[i].lastUsed.Before(all[j].lastUsed) })

	for _, cand := range all {
		if total <= r.cfg.CacheQuota {
			break
		}
		if !r.cfg.DryRun {
			if err := cand.cache.Remove(ctx, cand.hash); err != nil {
				r.logger.Warn("Failed to evict cache entry", "hash", cand.hash, "error", err)
				continue
			}
		}
		total -= cand.size
		rep.CacheEntries = append(rep.CacheEntries, cand.hash)
		rep.FreedBytes += cand.size
	}
	return nil
}

func (r *Reaper) lastAccess(ctx context.Context) map[string]time.Time {
	out := make(map[string]time.Time)
	if r.index == nil {
		return out
	}
	entries, err := r.index.ListEntries(ctx, "")
	if err != nil {
		r.logger.Warn("Cache index unavailable, ordering by mtime", "error", err)
		return out
	}
	for _, e := range entries {
		out[e.Kind+"/"+e.Hash] = e.LastAccessedAt
	}
	return out
}

func (r *Reaper) active(name string) bool {
	return r.tasks != nil && r.tasks.IsActive(name)
}

func (r *Reaper) remove(path string) bool {
	if r.cfg.DryRun {
		return true
	}
	if err := os.RemoveAll(path); err != nil {
		r.logger.Warn("Failed to remove directory", "path", path, "error", err)
		return false
	}
	return true
}
