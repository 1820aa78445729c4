package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"

	"github.com/cesargomez89/stemdeck/internal/backend"
	"github.com/cesargomez89/stemdeck/internal/constants"
	"github.com/cesargomez89/stemdeck/internal/domain"
	"github.com/cesargomez89/stemdeck/internal/logger"
	"github.com/cesargomez89/stemdeck/internal/storage"
	"github.com/cesargomez89/stemdeck/internal/tagging"
)

type runFunc func(ctx context.Context, log *logger.Logger) (*domain.Result, error)

// launch runs the task in the background: wait for a gate slot, run, and
// record the outcome. cleanup runs after the outcome is recorded.
func (s *Service) launch(t domain.Task, cleanup func(), run runFunc) {
	log := s.logger.WithTask(t.ID, string(t.Kind))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if cleanup != nil {
			defer cleanup()
		}

		res, err := s.execute(s.ctx, t, log, run)
		if err != nil {
			log.Error("Task failed", "error", err, "kind_of_error", domain.KindOf(err))
			if _, uerr := s.tasks.Fail(t.ID, err); uerr != nil {
				log.Error("Failed to record task failure", "error", uerr)
			}
			return
		}
		if _, err := s.tasks.Complete(t.ID, res); err != nil {
			log.Error("Failed to record task completion", "error", err)
			if _, ferr := s.tasks.Fail(t.ID, domain.Internal("record result: %v", err)); ferr != nil {
				log.Error("Failed to record task failure", "error", ferr)
			}
			return
		}
		log.Info("Task completed")
	}()
}

func (s *Service) execute(ctx context.Context, t domain.Task, log *logger.Logger, run runFunc) (res *domain.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Task panicked", "panic", r, "stack", string(debug.Stack()))
			res, err = nil, domain.Internal("task panicked: %v", r)
		}
	}()

	release, err := s.acquire(ctx, t)
	if err != nil {
		return nil, err
	}
	defer release()

	if _, err := s.tasks.SetStatus(t.ID, domain.StatusProcessing, "starting"); err != nil {
		return nil, err
	}
	return run(ctx, log)
}

// acquire takes a gate slot, marking the task queued while it waits.
func (s *Service) acquire(ctx context.Context, t domain.Task) (func(), error) {
	g := s.gates.For(t.Kind)
	if release, ok := g.TryAcquire(); ok {
		return release, nil
	}

	if _, err := s.tasks.SetStatus(t.ID, domain.StatusQueued, "queued"); err != nil {
		return nil, err
	}
	release, err := g.Acquire(ctx)
	if err != nil {
		return nil, shutdownError(err)
	}
	return release, nil
}

// shutdownError gives cancellation by Stop a readable task error.
func shutdownError(err error) error {
	if errors.Is(err, context.Canceled) {
		return domain.Internal("service shutting down")
	}
	return err
}

// progressFunc forwards backend reports for task id. scale maps the
// backend's percent onto the task's progress range.
func (s *Service) progressFunc(id string, log *logger.Logger, scale func(float64) float64) backend.ProgressFunc {
	return func(p backend.Progress) {
		pct := p.Percent
		if scale != nil {
			pct = scale(pct)
		}
		if _, err := s.tasks.SetProgress(id, pct, p.Stage, p.ETA); err != nil {
			log.Debug("Dropped progress report", "error", err)
		}
	}
}

func (s *Service) setProgress(id string, log *logger.Logger, pct float64, stage string) {
	if _, err := s.tasks.SetProgress(id, pct, stage, 0); err != nil {
		log.Debug("Dropped progress report", "error", err)
	}
}

// runBackend bounds one backend step by the task timeout. Any failure once
// the deadline has passed is reported as a Timeout naming the limit, whatever
// the backend returned.
func (s *Service) runBackend(ctx context.Context, what string, step func(context.Context) error) error {
	bctx, cancel := context.WithTimeout(ctx, s.opts.TaskTimeout)
	defer cancel()

	err := step(bctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(bctx.Err(), context.DeadlineExceeded),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, domain.ErrTimeout):
		return domain.Timeout("%s timed out after %s", what, s.opts.TaskTimeout)
	default:
		return shutdownError(err)
	}
}

func (s *Service) convert(ctx context.Context, log *logger.Logger, id, locator string, meta *backend.Metadata) (*domain.Result, error) {
	dir := filepath.Join(s.opts.DownloadsDir, id)
	if err := storage.EnsureDir(dir); err != nil {
		return nil, domain.IO(err, "create download dir")
	}
	ok := false
	defer func() {
		if !ok {
			if err := os.RemoveAll(dir); err != nil {
				log.Warn("Failed to remove download dir", "dir", dir, "error", err)
			}
		}
	}()

	s.setProgress(id, log, 0, "downloading")
	scale := func(p float64) float64 { return p * constants.ProgressDownloadCeiling / 100 }

	var path string
	err := s.runBackend(ctx, "download", func(bctx context.Context) error {
		var err error
		path, err = s.fetcher.Fetch(bctx, locator, dir, s.progressFunc(id, log, scale))
		return err
	})
	if err != nil {
		return nil, err
	}
	if !storage.Within(dir, path) || !storage.Exists(path) {
		return nil, domain.Upstream(nil, "download produced no file")
	}

	s.setProgress(id, log, constants.ProgressTagging, "tagging")
	tags := tagging.Tags{Title: meta.Title, Artist: meta.Uploader, Source: locator, SourceID: meta.ID}
	if err := tagging.TagFile(path, tags); err != nil {
		log.Warn("Failed to tag converted file", "path", path, "error", err)
	}

	hash, err := storage.HashFile(ctx, path)
	if err != nil {
		return nil, domain.IO(err, "hash converted file")
	}
	if _, err := s.tasks.SetContentHash(id, hash); err != nil {
		return nil, err
	}

	filename, err := storage.BuildFilename(s.opts.FilenameTemplate, &storage.FilenameData{
		Title:    meta.Title,
		Uploader: meta.Uploader,
		SourceID: meta.ID,
	}, constants.ExtMP3)
	if err != nil {
		log.Warn("Bad filename template, using source id", "error", err)
		filename = storage.Sanitize(meta.ID) + constants.ExtMP3
	}

	ok = true
	return &domain.Result{File: &domain.FileResult{
		Path:     path,
		Filename: filename,
		Title:    meta.Title,
		SourceID: meta.ID,
	}}, nil
}

// stemFiles are the artifact names of a separation entry.
func stemFiles() []string {
	names := make([]string, len(constants.StemNames))
	for i, stem := range constants.StemNames {
		names[i] = stem + constants.ExtWAV
	}
	return names
}

func stemsResult(paths map[string]string) *domain.Result {
	stems := make(map[string]string, len(paths))
	for name, p := range paths {
		stems[strings.TrimSuffix(name, constants.ExtWAV)] = p
	}
	return &domain.Result{Stems: stems}
}

func (s *Service) hashInput(ctx context.Context, log *logger.Logger, id, input string, hash func(context.Context, string) (string, error)) (string, error) {
	s.setProgress(id, log, 5, "hashing")
	h, err := hash(ctx, input)
	if err != nil {
		return "", shutdownError(err)
	}
	if _, err := s.tasks.SetContentHash(id, h); err != nil {
		return "", err
	}
	return h, nil
}

func (s *Service) separate(ctx context.Context, log *logger.Logger, id, input string) (*domain.Result, error) {
	hash, err := s.hashInput(ctx, log, id, input, s.stems.Hash)
	if err != nil {
		return nil, err
	}

	names := stemFiles()
	if paths, ok := s.stems.Lookup(ctx, hash, names); ok {
		log.Info("Stems served from cache", "hash", hash)
		return stemsResult(paths), nil
	}

	v, err, shared := s.stems.Do(hash, func() (any, error) {
		if paths, ok := s.stems.Lookup(ctx, hash, names); ok {
			return paths, nil
		}
		return s.runSeparator(ctx, log, id, hash, input, names)
	})
	if shared {
		log.Info("Joined in-flight separation", "hash", hash)
	}
	if err != nil {
		return nil, err
	}
	return stemsResult(v.(map[string]string)), nil
}

func (s *Service) runSeparator(ctx context.Context, log *logger.Logger, id, hash, input string, names []string) (map[string]string, error) {
	staging, err := s.stems.Stage(hash)
	if err != nil {
		return nil, err
	}

	err = s.runBackend(ctx, "separation", func(bctx context.Context) error {
		return s.separator.Separate(bctx, input, staging.Dir(), s.progressFunc(id, log, nil))
	})
	if err != nil {
		s.discard(log, staging.Discard, hash, names)
		return nil, err
	}

	s.setProgress(id, log, 95, "finalizing")
	paths, err := staging.Commit(context.WithoutCancel(ctx), names)
	if err != nil {
		s.discard(log, staging.Discard, hash, names)
		return nil, err
	}
	return paths, nil
}

// discard removes a failed computation's staging directory and any partial
// entry, so no incomplete result is ever served.
func (s *Service) discard(log *logger.Logger, discard func() error, hash string, names []string) {
	if err := discard(); err != nil {
		log.Warn("Failed to discard staging", "hash", hash, "error", err)
	}
	if err := s.stems.RemoveIncomplete(context.WithoutCancel(s.ctx), hash, names); err != nil {
		log.Warn("Failed to remove partial cache entry", "hash", hash, "error", err)
	}
}

func (s *Service) analyze(ctx context.Context, log *logger.Logger, id, input string) (*domain.Result, error) {
	hash, err := s.hashInput(ctx, log, id, input, s.bpm.Hash)
	if err != nil {
		return nil, err
	}

	var cached domain.Analysis
	if s.bpm.LookupJSON(ctx, hash, &cached) {
		log.Info("Analysis served from cache", "hash", hash)
		return &domain.Result{Analysis: &cached}, nil
	}

	v, err, _ := s.bpm.Do(hash, func() (any, error) {
		var hit domain.Analysis
		if s.bpm.LookupJSON(ctx, hash, &hit) {
			return &hit, nil
		}

		s.setProgress(id, log, 30, "analyzing")
		var res *domain.Analysis
		err := s.runBackend(ctx, "analysis", func(bctx context.Context) error {
			var err error
			res, err = s.analyzer.Analyze(bctx, input)
			return err
		})
		if err != nil {
			return nil, err
		}
		if res == nil {
			return nil, domain.Upstream(nil, "analyzer returned no result")
		}
		res.FileHash = hash

		s.setProgress(id, log, 90, "saving")
		if _, err := s.bpm.StoreJSON(context.WithoutCancel(ctx), hash, res); err != nil {
			return nil, fmt.Errorf("store analysis: %w", err)
		}
		return res, nil
	})
	if err != nil {
		return nil, err
	}

	a := *v.(*domain.Analysis)
	a.Beats = append([]float64(nil), a.Beats...)
	return &domain.Result{Analysis: &a}, nil
}
