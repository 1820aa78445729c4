package registry

import (
	"time"

	"github.com/cesargomez89/stemdeck/internal/constants"
	"github.com/cesargomez89/stemdeck/internal/domain"
)

// SetStatus moves the task to a non-terminal status with a stage label.
func (r *Registry) SetStatus(id string, status domain.TaskStatus, stage string) (domain.Task, error) {
	return r.Update(id, func(t *domain.Task) {
		t.Status = status
		t.Stage = stage
	})
}

// SetProgress records progress for a running task. Values below the current
// progress are raised to it, so out-of-order reports never move it backwards.
func (r *Registry) SetProgress(id string, progress float64, stage string, eta time.Duration) (domain.Task, error) {
	return r.Update(id, func(t *domain.Task) {
		t.Progress = clamp(progress, t.Progress, constants.ProgressDone)
		if stage != "" {
			t.Stage = stage
		}
		t.EstimatedRemaining = eta
	})
}

// SetContentHash records the input hash. Setting the same value again is allowed.
func (r *Registry) SetContentHash(id, hash string) (domain.Task, error) {
	return r.Update(id, func(t *domain.Task) { t.ContentHash = hash })
}

// SetTitle attaches a human-facing label to the task.
func (r *Registry) SetTitle(id, title string) (domain.Task, error) {
	return r.Update(id, func(t *domain.Task) { t.Title = title })
}

// Complete finishes the task with result at progress 100.
func (r *Registry) Complete(id string, result *domain.Result) (domain.Task, error) {
	return r.Update(id, func(t *domain.Task) {
		t.Status = domain.StatusCompleted
		t.Progress = constants.ProgressDone
		t.Stage = "completed"
		t.EstimatedRemaining = 0
		t.Result = result
	})
}

// Fail finishes the task with the classified error and the -1 progress sentinel.
func (r *Registry) Fail(id string, err error) (domain.Task, error) {
	return r.Update(id, func(t *domain.Task) {
		t.Status = domain.StatusFailed
		t.Progress = constants.ProgressFailed
		t.Stage = "failed"
		t.EstimatedRemaining = 0
		t.Result = nil
		t.Error = domain.TaskErrorFrom(err)
	})
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
