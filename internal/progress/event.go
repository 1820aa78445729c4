// Package progress turns task snapshots into client-facing progress events and
// delivers them over server-sent events or websockets until the task finishes.
package progress

import (
	"math"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cesargomez89/stemdeck/internal/domain"
)

// Event is one progress update as seen by clients.
type Event struct {
	EstimatedRemaining *float64         `json:"estimated_remaining,omitempty"`
	Analysis           *domain.Analysis `json:"result,omitempty"`
	TaskID             string           `json:"task_id"`
	Kind               string           `json:"kind"`
	Status             string           `json:"status"`
	Stage              string           `json:"stage,omitempty"`
	Title              string           `json:"title,omitempty"`
	Filename           string           `json:"filename,omitempty"`
	DownloadURL        string           `json:"download_url,omitempty"`
	ErrorType          string           `json:"error_type,omitempty"`
	Message            string           `json:"message,omitempty"`
	Stems              []string         `json:"stems,omitempty"`
	Progress           float64          `json:"progress"`
}

// Terminal reports whether this is the last event of a stream.
func (e Event) Terminal() bool {
	return domain.TaskStatus(e.Status).Terminal()
}

// FromTask builds the event for a task snapshot. Result pointers carry stem
// names or a file name, never filesystem paths.
func FromTask(t domain.Task) Event {
	e := Event{
		TaskID:   t.ID,
		Kind:     string(t.Kind),
		Status:   string(t.Status),
		Stage:    t.Stage,
		Title:    t.Title,
		Progress: math.Round(t.Progress*10) / 10,
	}

	if t.EstimatedRemaining > 0 && !t.Status.Terminal() {
		secs := math.Round(t.EstimatedRemaining.Seconds())
		e.EstimatedRemaining = &secs
	}

	switch t.Status {
	case domain.StatusCompleted:
		e.Message = completedMessage(t.Kind)
		if t.Result != nil {
			for name := range t.Result.Stems {
				e.Stems = append(e.Stems, strings.TrimSuffix(name, filepath.Ext(name)))
			}
			sort.Strings(e.Stems)
			if t.Result.File != nil {
				e.Filename = t.Result.File.Filename
			}
			e.Analysis = t.Result.Analysis
		}
	case domain.StatusFailed:
		if t.Error != nil {
			e.ErrorType = string(t.Error.Kind)
			e.Message = t.Error.Message
		}
	case domain.StatusQueued:
		e.Message = "Waiting for a free slot"
	}
	return e
}

func completedMessage(kind domain.TaskKind) string {
	switch kind {
	case domain.KindConversion:
		return "Conversion complete"
	case domain.KindSeparation:
		return "Separation complete"
	case domain.KindAnalysis:
		return "Analysis complete"
	default:
		return "Done"
	}
}
