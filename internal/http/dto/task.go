package dto

import (
	"time"

	"github.com/cesargomez89/stemdeck/internal/constants"
	"github.com/cesargomez89/stemdeck/internal/domain"
)

type ConvertRequest struct {
	URL string `json:"url" validate:"required,max=2048,http_url"`
}

// TaskAccepted is returned when a job has been admitted.
type TaskAccepted struct {
	TaskID      string `json:"task_id"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	Message     string `json:"message"`
	ProgressURL string `json:"progress_url"`
}

func NewTaskAccepted(t domain.Task, progressURL string) TaskAccepted {
	return TaskAccepted{
		TaskID:      t.ID,
		Kind:        string(t.Kind),
		Status:      string(t.Status),
		Message:     acceptedMessage(t.Kind),
		ProgressURL: progressURL,
	}
}

func acceptedMessage(kind domain.TaskKind) string {
	switch kind {
	case domain.KindConversion:
		return "Conversion started"
	case domain.KindSeparation:
		return "Separation started"
	case domain.KindAnalysis:
		return "Analysis started"
	default:
		return "Task started"
	}
}

// TaskResponse is the polling view of a task.
type TaskResponse struct {
	Error       *domain.TaskError `json:"error,omitempty"`
	Analysis    *domain.Analysis  `json:"analysis,omitempty"`
	FinishedAt  string            `json:"finished_at,omitempty"`
	ID          string            `json:"id"`
	Kind        string            `json:"kind"`
	Status      string            `json:"status"`
	Stage       string            `json:"stage,omitempty"`
	Title       string            `json:"title,omitempty"`
	ContentHash string            `json:"content_hash,omitempty"`
	CreatedAt   string            `json:"created_at"`
	Filename    string            `json:"filename,omitempty"`
	Stems       []string          `json:"stems,omitempty"`
	Progress    float64           `json:"progress"`
}

// NewTaskResponse hides filesystem paths: stems are listed by name and a
// converted file by its download name.
func NewTaskResponse(t domain.Task) TaskResponse {
	resp := TaskResponse{
		ID:          t.ID,
		Kind:        string(t.Kind),
		Status:      string(t.Status),
		Stage:       t.Stage,
		Title:       t.Title,
		ContentHash: t.ContentHash,
		Progress:    t.Progress,
		Error:       t.Error,
		CreatedAt:   t.CreatedAt.Format(time.RFC3339),
	}
	if t.FinishedAt != nil {
		resp.FinishedAt = t.FinishedAt.Format(time.RFC3339)
	}
	if r := t.Result; r != nil {
		resp.Stems = OrderedStems(r.Stems)
		if r.File != nil {
			resp.Filename = r.File.Filename
		}
		resp.Analysis = r.Analysis
	}
	return resp
}

// AnalysisResponse is the result body of a finished tempo analysis.
type AnalysisResponse struct {
	Beats      []float64 `json:"beats"`
	FileHash   string    `json:"file_hash"`
	Method     string    `json:"method,omitempty"`
	BPM        float64   `json:"bpm"`
	Confidence float64   `json:"confidence"`
}

func NewAnalysisResponse(a *domain.Analysis) AnalysisResponse {
	return AnalysisResponse{
		Beats:      a.Beats,
		FileHash:   a.FileHash,
		Method:     a.Method,
		BPM:        a.BPM,
		Confidence: a.Confidence,
	}
}

type ErrorResponse struct {
	Error   string            `json:"error"`
	Type    string            `json:"type"`
	Details map[string]string `json:"details,omitempty"`
}

type HealthResponse struct {
	Gates           any            `json:"gates"`
	ActiveTasks     map[string]int `json:"active_tasks"`
	Status          string         `json:"status"`
	DiskFreeMB      uint64         `json:"disk_free_mb"`
	TrackedTasks    int            `json:"tracked_tasks"`
	FFmpegAvailable bool           `json:"ffmpeg_available"`
}

// OrderedStems returns the stem names present in stems in canonical order.
func OrderedStems(stems map[string]string) []string {
	var out []string
	for _, name := range constants.StemNames {
		if _, ok := stems[name]; ok {
			out = append(out, name)
		}
	}
	return out
}
