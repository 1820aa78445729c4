package progress

import (
	"context"
	"errors"
	"time"

	"github.com/cesargomez89/stemdeck/internal/constants"
	"github.com/cesargomez89/stemdeck/internal/domain"
	"github.com/cesargomez89/stemdeck/internal/logger"
)

// Getter is the read side of the task registry.
type Getter interface {
	Get(id string) (domain.Task, error)
}

// Decorator adjusts an event before it is sent, e.g. to add links.
type Decorator func(e *Event, t domain.Task)

type Reporter struct {
	tasks    Getter
	logger   *logger.Logger
	decorate Decorator
	interval time.Duration
}

func NewReporter(tasks Getter, interval time.Duration, log *logger.Logger) *Reporter {
	if interval <= 0 {
		interval = constants.DefaultStreamInterval
	}
	return &Reporter{
		tasks:    tasks,
		interval: interval,
		logger:   log.WithComponent("progress"),
	}
}

// WithDecorator sets the event decorator and returns r.
func (r *Reporter) WithDecorator(d Decorator) *Reporter {
	r.decorate = d
	return r
}

func (r *Reporter) Interval() time.Duration { return r.interval }

// Snapshot returns the current event for id.
func (r *Reporter) Snapshot(id string) (Event, error) {
	t, err := r.tasks.Get(id)
	if err != nil {
		return Event{}, err
	}
	return r.event(t), nil
}

func (r *Reporter) event(t domain.Task) Event {
	e := FromTask(t)
	if r.decorate != nil {
		r.decorate(&e, t)
	}
	return e
}

// Stream emits one event immediately and then one per interval until a
// terminal event has been emitted, ctx is done, or emit fails. An unknown id
// is reported before anything is emitted. If the task disappears mid-stream a
// final not_found event is emitted.
func (r *Reporter) Stream(ctx context.Context, id string, emit func(Event) error) error {
	t, err := r.tasks.Get(id)
	if err != nil {
		return err
	}
	return r.stream(ctx, id, t, emit)
}

// stream runs the emit loop starting from an already fetched snapshot.
func (r *Reporter) stream(ctx context.Context, id string, t domain.Task, emit func(Event) error) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		e := r.event(t)
		if err := emit(e); err != nil {
			return err
		}
		if e.Terminal() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		var err error
		t, err = r.tasks.Get(id)
		if errors.Is(err, domain.ErrNotFound) {
			r.logger.Debug("Task vanished during stream", "task_id", id)
			return emit(Event{
				TaskID:    id,
				Status:    string(domain.StatusFailed),
				Progress:  constants.ProgressFailed,
				ErrorType: string(domain.ErrKindNotFound),
				Message:   "Task not found",
			})
		}
		if err != nil {
			return err
		}
	}
}
