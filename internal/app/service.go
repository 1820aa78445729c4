// Package app admits jobs, runs them in the background under the per-kind
// gates and serves their results.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cesargomez89/stemdeck/internal/backend"
	"github.com/cesargomez89/stemdeck/internal/cache"
	"github.com/cesargomez89/stemdeck/internal/constants"
	"github.com/cesargomez89/stemdeck/internal/domain"
	"github.com/cesargomez89/stemdeck/internal/gate"
	"github.com/cesargomez89/stemdeck/internal/logger"
	"github.com/cesargomez89/stemdeck/internal/probe"
	"github.com/cesargomez89/stemdeck/internal/registry"
	"github.com/cesargomez89/stemdeck/internal/reaper"
	"github.com/cesargomez89/stemdeck/internal/storage"
)

// Options are the limits and locations the service enforces.
type Options struct {
	DownloadsDir        string
	UploadsDir          string
	FilenameTemplate    string
	MaxDuration         time.Duration
	TaskTimeout         time.Duration
	MaxSeparationUpload int64
	MaxAnalysisUpload   int64
}

// Deps are the collaborators the service is built from. Reaper and Prober
// are optional.
type Deps struct {
	Tasks     *registry.Registry
	Gates     *gate.Set
	Stems     *cache.Cache
	BPM       *cache.Cache
	Fetcher   backend.Fetcher
	Separator backend.Separator
	Analyzer  backend.Analyzer
	Prober    *probe.Prober
	Reaper    *reaper.Reaper
	Logger    *logger.Logger
}

type Service struct {
	tasks     *registry.Registry
	gates     *gate.Set
	stems     *cache.Cache
	bpm       *cache.Cache
	fetcher   backend.Fetcher
	separator backend.Separator
	analyzer  backend.Analyzer
	prober    *probe.Prober
	reaper    *reaper.Reaper
	logger    *logger.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	opts      Options
	wg        sync.WaitGroup
}

func New(opts Options, deps Deps) *Service {
	log := deps.Logger
	if log == nil {
		log = logger.Default()
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = constants.DefaultTaskTimeout
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = constants.DefaultMaxDuration
	}
	if opts.FilenameTemplate == "" {
		opts.FilenameTemplate = constants.DefaultFilenameTemplate
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		tasks:     deps.Tasks,
		gates:     deps.Gates,
		stems:     deps.Stems,
		bpm:       deps.BPM,
		fetcher:   deps.Fetcher,
		separator: deps.Separator,
		analyzer:  deps.Analyzer,
		prober:    deps.Prober,
		reaper:    deps.Reaper,
		logger:    log.WithComponent("service"),
		ctx:       ctx,
		cancel:    cancel,
		opts:      opts,
	}
}

// Start prepares the working directories and starts the reaper. Uploads left
// over from a previous run are removed since their tasks no longer exist.
func (s *Service) Start(ctx context.Context) error {
	if err := os.RemoveAll(s.opts.UploadsDir); err != nil {
		s.logger.Warn("Failed to clear stale uploads", "dir", s.opts.UploadsDir, "error", err)
	}
	for _, dir := range []string{s.opts.DownloadsDir, s.opts.UploadsDir} {
		if err := storage.EnsureDir(dir); err != nil {
			return domain.IO(err, "create %s", dir)
		}
	}
	if err := s.stems.Init(); err != nil {
		return err
	}
	if err := s.bpm.Init(); err != nil {
		return err
	}

	if s.reaper != nil {
		s.reaper.Start(ctx)
	}
	s.logger.Info("Service started",
		"downloads_dir", s.opts.DownloadsDir,
		"stems_cache", s.stems.Root(),
		"bpm_cache", s.bpm.Root(),
	)
	return nil
}

// Stop stops the reaper, cancels running tasks and waits for them to record
// their outcome or for ctx to end.
func (s *Service) Stop(ctx context.Context) error {
	if s.reaper != nil {
		s.reaper.Stop()
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("All tasks drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for tasks: %w", ctx.Err())
	}
}

// Upload is a client file already written to the uploads directory. The
// service owns Path from the moment it is submitted and removes it when done.
type Upload struct {
	Path string
	Name string
	Size int64
}

// NewUploadPath returns a fresh path in the uploads directory for a file named name.
func (s *Service) NewUploadPath(name string) (string, error) {
	if err := storage.EnsureDir(s.opts.UploadsDir); err != nil {
		return "", domain.IO(err, "create uploads dir")
	}
	f, err := os.CreateTemp(s.opts.UploadsDir, "upload-*"+filepath.Ext(storage.Sanitize(name)))
	if err != nil {
		return "", domain.IO(err, "create upload file")
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		return "", domain.IO(err, "create upload file")
	}
	return path, nil
}

// SubmitConversion validates the locator, checks the remote duration and
// starts a conversion task.
func (s *Service) SubmitConversion(ctx context.Context, locator string) (domain.Task, error) {
	sourceID, err := backend.ValidateLocator(locator)
	if err != nil {
		return domain.Task{}, err
	}

	meta, err := s.fetcher.Probe(ctx, locator)
	if err != nil {
		return domain.Task{}, err
	}
	if err := s.checkDuration(meta.Duration); err != nil {
		return domain.Task{}, err
	}
	if meta.ID == "" {
		meta.ID = sourceID
	}

	t, err := s.create(domain.KindConversion, meta.Title)
	if err != nil {
		return domain.Task{}, err
	}
	s.launch(t, nil, func(ctx context.Context, log *logger.Logger) (*domain.Result, error) {
		return s.convert(ctx, log, t.ID, locator, meta)
	})
	return t, nil
}

// SubmitSeparation checks the upload and starts a separation task.
func (s *Service) SubmitSeparation(ctx context.Context, up Upload) (domain.Task, error) {
	return s.submitUpload(ctx, domain.KindSeparation, up, s.opts.MaxSeparationUpload, s.separate)
}

// SubmitAnalysis checks the upload and starts a tempo analysis task.
func (s *Service) SubmitAnalysis(ctx context.Context, up Upload) (domain.Task, error) {
	return s.submitUpload(ctx, domain.KindAnalysis, up, s.opts.MaxAnalysisUpload, s.analyze)
}

type uploadRunner func(ctx context.Context, log *logger.Logger, id, input string) (*domain.Result, error)

func (s *Service) submitUpload(ctx context.Context, kind domain.TaskKind, up Upload, limit int64, run uploadRunner) (task domain.Task, err error) {
	defer func() {
		if err != nil {
			removeUpload(s.logger, up.Path)
		}
	}()

	info, err := os.Stat(up.Path)
	if err != nil {
		return domain.Task{}, domain.IO(err, "read upload")
	}
	if info.Size() == 0 {
		return domain.Task{}, domain.InvalidInput("uploaded file is empty")
	}
	if limit > 0 && info.Size() > limit {
		return domain.Task{}, domain.LimitExceeded("file too large: %d bytes exceeds the %d MB limit", info.Size(), limit>>20)
	}

	title := up.Name
	if s.prober != nil {
		res := s.prober.Probe(ctx, up.Path)
		if res.Duration == 0 {
			s.logger.Info("Accepting upload of unknown duration", "name", up.Name, "format", res.Format)
		}
		if err := s.checkDuration(res.Duration); err != nil {
			return domain.Task{}, err
		}
		if res.Title != "" {
			title = res.Title
		}
	}

	t, err := s.create(kind, title)
	if err != nil {
		return domain.Task{}, err
	}
	s.launch(t, func() { removeUpload(s.logger, up.Path) }, func(ctx context.Context, log *logger.Logger) (*domain.Result, error) {
		return run(ctx, log, t.ID, up.Path)
	})
	return t, nil
}

func (s *Service) checkDuration(d time.Duration) error {
	if d > s.opts.MaxDuration {
		return domain.InvalidInput("media is too long: %s exceeds the %s limit", d.Round(time.Second), s.opts.MaxDuration)
	}
	return nil
}

func (s *Service) create(kind domain.TaskKind, title string) (domain.Task, error) {
	t, err := s.tasks.Create(kind)
	if err != nil {
		return domain.Task{}, err
	}
	if title != "" {
		if t, err = s.tasks.SetTitle(t.ID, title); err != nil {
			return domain.Task{}, err
		}
	}
	s.logger.Info("Task created", "task_id", t.ID, "kind", kind, "title", title)
	return t, nil
}

func removeUpload(log *logger.Logger, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("Failed to remove upload", "path", path, "error", err)
	}
}
