package domain

import (
	"maps"
	"slices"
	"time"
)

type TaskKind string

const (
	KindConversion TaskKind = "conversion"
	KindSeparation TaskKind = "separation"
	KindAnalysis   TaskKind = "analysis"
)

// Kinds lists every job kind in a stable order.
var Kinds = []TaskKind{KindConversion, KindSeparation, KindAnalysis}

func (k TaskKind) Valid() bool {
	return slices.Contains(Kinds, k)
}

type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusQueued     TaskStatus = "queued"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s TaskStatus) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusQueued:
		return 1
	case StatusProcessing:
		return 2
	case StatusCompleted, StatusFailed:
		return 3
	default:
		return -1
	}
}

// CanTransition reports whether a task may move from one status to another.
// Staying in the same non-terminal status is allowed so progress can be bumped.
func CanTransition(from, to TaskStatus) bool {
	if from.rank() < 0 || to.rank() < 0 || from.Terminal() {
		return false
	}
	if from == to {
		return true
	}
	if to == StatusCompleted {
		return from == StatusProcessing
	}
	return to.rank() > from.rank()
}

// Task is the envelope shared by every job kind. Kind-specific output lives in Result.
type Task struct {
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
	FinishedAt         *time.Time    `json:"finished_at,omitempty"`
	Result             *Result       `json:"result,omitempty"`
	Error              *TaskError    `json:"error,omitempty"`
	ID                 string        `json:"id"`
	Kind               TaskKind      `json:"kind"`
	Status             TaskStatus    `json:"status"`
	Stage              string        `json:"stage,omitempty"`
	ContentHash        string        `json:"content_hash,omitempty"`
	Title              string        `json:"title,omitempty"`
	Progress           float64       `json:"progress"`
	EstimatedRemaining time.Duration `json:"estimated_remaining,omitempty"`
}

// TaskError is the failure recorded on a task.
type TaskError struct {
	Kind    ErrorKind `json:"type"`
	Message string    `json:"message"`
}

// Result holds exactly one kind-specific payload.
type Result struct {
	Stems    map[string]string `json:"stems,omitempty"`
	File     *FileResult       `json:"file,omitempty"`
	Analysis *Analysis         `json:"analysis,omitempty"`
}

// FileResult is the output of a conversion.
type FileResult struct {
	Path     string `json:"path"`
	Filename string `json:"filename"`
	Title    string `json:"title,omitempty"`
	SourceID string `json:"source_id,omitempty"`
}

// Analysis is the output of tempo and beat detection.
type Analysis struct {
	Beats      []float64 `json:"beats"`
	FileHash   string    `json:"file_hash"`
	Method     string    `json:"method,omitempty"`
	BPM        float64   `json:"bpm"`
	Confidence float64   `json:"confidence"`
}

// Empty reports whether the result carries no payload for the given kind.
func (r *Result) Empty(kind TaskKind) bool {
	if r == nil {
		return true
	}
	switch kind {
	case KindSeparation:
		return len(r.Stems) == 0
	case KindConversion:
		return r.File == nil || r.File.Path == ""
	case KindAnalysis:
		return r.Analysis == nil
	default:
		return true
	}
}

// Clone returns a deep copy safe to hand out of the registry.
func (t Task) Clone() Task {
	c := t
	if t.FinishedAt != nil {
		ft := *t.FinishedAt
		c.FinishedAt = &ft
	}
	if t.Error != nil {
		e := *t.Error
		c.Error = &e
	}
	if t.Result != nil {
		r := Result{Stems: maps.Clone(t.Result.Stems)}
		if t.Result.File != nil {
			f := *t.Result.File
			r.File = &f
		}
		if t.Result.Analysis != nil {
			a := *t.Result.Analysis
			a.Beats = slices.Clone(a.Beats)
			r.Analysis = &a
		}
		c.Result = &r
	}
	return c
}
