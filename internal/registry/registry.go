// Package registry keeps the in-memory task table and enforces the task
// lifecycle: monotonic status and progress, write-once content hash, and
// results only on completion.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cesargomez89/stemdeck/internal/constants"
	"github.com/cesargomez89/stemdeck/internal/domain"
)

// ErrInvalidUpdate is wrapped by every rejected Update.
var ErrInvalidUpdate = errors.New("invalid task update")

type Registry struct {
	now   func() time.Time
	tasks map[string]*domain.Task
	mu    sync.RWMutex
}

type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func New(opts ...Option) *Registry {
	r := &Registry{
		tasks: make(map[string]*domain.Task),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create allocates a pending task with progress 0.
func (r *Registry) Create(kind domain.TaskKind) (domain.Task, error) {
	if !kind.Valid() {
		return domain.Task{}, domain.InvalidInput("unknown task kind %q", kind)
	}

	now := r.now()
	t := &domain.Task{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	r.tasks[t.ID] = t
	r.mu.Unlock()

	return t.Clone(), nil
}

// Get returns a snapshot of the task.
func (r *Registry) Get(id string) (domain.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[id]
	if !ok {
		return domain.Task{}, domain.NotFound("task %s not found", id)
	}
	return t.Clone(), nil
}

// Update applies fn to a copy of the task and stores it if the result is a
// legal successor of the current state. fn runs under the registry lock and
// must not call back into the registry.
func (r *Registry) Update(id string, fn func(t *domain.Task)) (domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.tasks[id]
	if !ok {
		return domain.Task{}, domain.NotFound("task %s not found", id)
	}

	next := cur.Clone()
	fn(&next)

	if err := checkUpdate(cur, &next); err != nil {
		return cur.Clone(), &domain.Error{Kind: domain.ErrKindInternal, Message: "task " + id, Err: err}
	}

	next.UpdatedAt = r.now()
	if next.Status.Terminal() && next.FinishedAt == nil {
		ft := next.UpdatedAt
		next.FinishedAt = &ft
	}
	r.tasks[id] = &next
	return next.Clone(), nil
}

func checkUpdate(cur, next *domain.Task) error {
	if next.ID != cur.ID || next.Kind != cur.Kind || !next.CreatedAt.Equal(cur.CreatedAt) {
		return fmt.Errorf("%w: identity fields are immutable", ErrInvalidUpdate)
	}
	if !domain.CanTransition(cur.Status, next.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidUpdate, cur.Status, next.Status)
	}
	if cur.ContentHash != "" && next.ContentHash != cur.ContentHash {
		return fmt.Errorf("%w: content hash already set", ErrInvalidUpdate)
	}

	switch next.Status {
	case domain.StatusCompleted:
		if next.Progress != constants.ProgressDone {
			return fmt.Errorf("%w: completed with progress %.1f", ErrInvalidUpdate, next.Progress)
		}
		if next.Result.Empty(next.Kind) {
			return fmt.Errorf("%w: completed without result", ErrInvalidUpdate)
		}
		if next.Error != nil {
			return fmt.Errorf("%w: completed with error", ErrInvalidUpdate)
		}
	case domain.StatusFailed:
		if next.Progress != constants.ProgressFailed {
			return fmt.Errorf("%w: failed with progress %.1f", ErrInvalidUpdate, next.Progress)
		}
		if next.Error == nil || next.Error.Message == "" {
			return fmt.Errorf("%w: failed without error", ErrInvalidUpdate)
		}
		if next.Result != nil {
			return fmt.Errorf("%w: failed with result", ErrInvalidUpdate)
		}
	default:
		if next.Progress < cur.Progress || next.Progress > constants.ProgressDone {
			return fmt.Errorf("%w: progress %.1f -> %.1f", ErrInvalidUpdate, cur.Progress, next.Progress)
		}
		if next.Result != nil || next.Error != nil {
			return fmt.Errorf("%w: result or error before terminal status", ErrInvalidUpdate)
		}
	}
	return nil
}

// Remove deletes the record and reports whether it existed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.tasks[id]
	delete(r.tasks, id)
	return ok
}

// List returns snapshots of all tasks, oldest first.
func (r *Registry) List() []domain.Task {
	r.mu.RLock()
	out := make([]domain.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// ActiveCount returns the number of non-terminal tasks per kind.
func (r *Registry) ActiveCount() map[domain.TaskKind]int {
	counts := make(map[domain.TaskKind]int, len(domain.Kinds))
	for _, k := range domain.Kinds {
		counts[k] = 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tasks {
		if !t.Status.Terminal() {
			counts[t.Kind]++
		}
	}
	return counts
}

// EvictExpired removes terminal tasks created before now-expiry and returns
// their ids. Non-terminal tasks are kept regardless of age.
func (r *Registry) EvictExpired(now time.Time, expiry time.Duration) []string {
	cutoff := now.Add(-expiry)

	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []string
	for id, t := range r.tasks {
		if t.Status.Terminal() && t.CreatedAt.Before(cutoff) {
			delete(r.tasks, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

// IsActive reports whether id names a task that has not finished yet.
func (r *Registry) IsActive(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	return ok && !t.Status.Terminal()
}
