package app

import (
	"slices"

	"github.com/cesargomez89/stemdeck/internal/constants"
	"github.com/cesargomez89/stemdeck/internal/domain"
	"github.com/cesargomez89/stemdeck/internal/gate"
	"github.com/cesargomez89/stemdeck/internal/storage"
)

// Task returns a snapshot of the task.
func (s *Service) Task(id string) (domain.Task, error) {
	return s.tasks.Get(id)
}

// Tasks lists every known task, oldest first.
func (s *Service) Tasks() []domain.Task {
	return s.tasks.List()
}

// completed returns the task if it is a finished task of the given kind.
func (s *Service) completed(id string, kind domain.TaskKind) (domain.Task, error) {
	t, err := s.tasks.Get(id)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Kind != kind {
		return domain.Task{}, domain.NotFound("no %s task %s", kind, id)
	}
	if t.Status != domain.StatusCompleted {
		return domain.Task{}, domain.InvalidInput("task %s is %s, not completed", id, t.Status)
	}
	return t, nil
}

// ConvertedFile returns the converted file of a completed conversion. The
// file may already have been reaped, which is reported as NotFound.
func (s *Service) ConvertedFile(id string) (*domain.FileResult, error) {
	t, err := s.completed(id, domain.KindConversion)
	if err != nil {
		return nil, err
	}
	f := t.Result.File
	if f == nil || !storage.Exists(f.Path) {
		return nil, domain.NotFound("file for task %s no longer exists", id)
	}
	out := *f
	return &out, nil
}

// Stems returns the stem paths of a completed separation.
func (s *Service) Stems(id string) (map[string]string, error) {
	t, err := s.completed(id, domain.KindSeparation)
	if err != nil {
		return nil, err
	}
	for stem, p := range t.Result.Stems {
		if !storage.Exists(p) {
			return nil, domain.NotFound("stem %s for task %s no longer exists", stem, id)
		}
	}
	return t.Result.Stems, nil
}

// Stem returns the path of one stem of a completed separation.
func (s *Service) Stem(id, stem string) (string, error) {
	if !slices.Contains(constants.StemNames, stem) {
		return "", domain.InvalidInput("unknown stem %q, expected one of %v", stem, constants.StemNames)
	}
	stems, err := s.Stems(id)
	if err != nil {
		return "", err
	}
	p, ok := stems[stem]
	if !ok {
		return "", domain.NotFound("stem %s for task %s not found", stem, id)
	}
	return p, nil
}

// Analysis returns the result of a completed tempo analysis.
func (s *Service) Analysis(id string) (*domain.Analysis, error) {
	t, err := s.completed(id, domain.KindAnalysis)
	if err != nil {
		return nil, err
	}
	return t.Result.Analysis, nil
}

// Load is the occupancy snapshot reported by health checks.
type Load struct {
	Active map[domain.TaskKind]int        `json:"active_tasks"`
	Gates  map[domain.TaskKind]gate.Stats `json:"gates"`
	Tasks  int                            `json:"tracked_tasks"`
}

func (s *Service) Load() Load {
	return Load{
		Active: s.tasks.ActiveCount(),
		Gates:  s.gates.Stats(),
		Tasks:  s.tasks.Len(),
	}
}

// DownloadsDir is where conversions write their output.
func (s *Service) DownloadsDir() string { return s.opts.DownloadsDir }
