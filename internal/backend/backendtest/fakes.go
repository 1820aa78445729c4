// Package backendtest provides in-memory backends that count their calls.
package backendtest

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/cesargomez89/stemdeck/internal/backend"
	"github.com/cesargomez89/stemdeck/internal/constants"
	"github.com/cesargomez89/stemdeck/internal/domain"
)

// Gate lets a test hold a fake inside its work until released. A nil Gate
// never blocks.
type Gate chan struct{}

// wait blocks on gate and then delay. When ctx ends first it returns killed,
// or ctx.Err() if killed is nil. A non-nil killed stands in for a subprocess
// that reports its own error once its context kills it.
func wait(ctx context.Context, gate Gate, delay time.Duration, killed error) error {
	done := func() error {
		if killed != nil {
			return killed
		}
		return ctx.Err()
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return done()
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return done()
		}
	}
	return nil
}

type Fetcher struct {
	Meta      backend.Metadata
	ProbeErr  error
	FetchErr  error
	KilledErr error
	Gate      Gate
	Delay     time.Duration
	probes    atomic.Int32
	fetches   atomic.Int32
}

func (f *Fetcher) Probes() int  { return int(f.probes.Load()) }
func (f *Fetcher) Fetches() int { return int(f.fetches.Load()) }

func (f *Fetcher) Probe(_ context.Context, _ string) (*backend.Metadata, error) {
	f.probes.Add(1)
	if f.ProbeErr != nil {
		return nil, f.ProbeErr
	}
	m := f.Meta
	return &m, nil
}

func (f *Fetcher) Fetch(ctx context.Context, _ string, dir string, progress backend.ProgressFunc) (string, error) {
	f.fetches.Add(1)
	if progress != nil {
		progress(backend.Progress{Stage: "downloading", Percent: 50, ETA: time.Second})
	}
	if err := wait(ctx, f.Gate, f.Delay, f.KilledErr); err != nil {
		return "", err
	}
	if f.FetchErr != nil {
		return "", f.FetchErr
	}

	id := f.Meta.ID
	if id == "" {
		id = "media"
	}
	path := filepath.Join(dir, id+constants.ExtMP3)
	if err := os.WriteFile(path, []byte("fake mp3 "+id), constants.FilePermissions); err != nil {
		return "", err
	}
	if progress != nil {
		progress(backend.Progress{Stage: "converting", Percent: 100})
	}
	return path, nil
}

// Separator writes every stem, or only Partial of them before returning Err.
type Separator struct {
	Err       error
	KilledErr error
	Gate      Gate
	Delay     time.Duration
	Partial   int
	calls     atomic.Int32
}

func (s *Separator) Calls() int { return int(s.calls.Load()) }

func (s *Separator) Separate(ctx context.Context, input, outDir string, progress backend.ProgressFunc) error {
	s.calls.Add(1)
	if progress != nil {
		progress(backend.Progress{Stage: "separating", Percent: 30})
	}
	if err := wait(ctx, s.Gate, s.Delay, s.KilledErr); err != nil {
		return err
	}

	stems := constants.StemNames
	if s.Err != nil {
		stems = stems[:min(s.Partial, len(stems))]
	}
	for _, stem := range stems {
		path := filepath.Join(outDir, stem+constants.ExtWAV)
		if err := os.WriteFile(path, []byte(stem+" of "+filepath.Base(input)), constants.FilePermissions); err != nil {
			return err
		}
	}
	if s.Err != nil {
		return s.Err
	}
	if progress != nil {
		progress(backend.Progress{Stage: "finalizing", Percent: 95})
	}
	return nil
}

type Analyzer struct {
	Result    domain.Analysis
	Err       error
	KilledErr error
	Gate      Gate
	Delay     time.Duration
	calls     atomic.Int32
}

func (a *Analyzer) Calls() int { return int(a.calls.Load()) }

func (a *Analyzer) Analyze(ctx context.Context, _ string) (*domain.Analysis, error) {
	a.calls.Add(1)
	if err := wait(ctx, a.Gate, a.Delay, a.KilledErr); err != nil {
		return nil, err
	}
	if a.Err != nil {
		return nil, a.Err
	}
	r := a.Result
	r.Beats = append([]float64(nil), a.Result.Beats...)
	return &r, nil
}

// Transcoder reports a fixed duration and writes one second of silence on ToWAV.
type Transcoder struct {
	Err    error
	Length time.Duration
	calls  atomic.Int32
}

func (t *Transcoder) Calls() int { return int(t.calls.Load()) }

func (t *Transcoder) ToWAV(_ context.Context, _, output string, sampleRate, channels int) error {
	t.calls.Add(1)
	if t.Err != nil {
		return t.Err
	}
	return backend.WriteSilentWAV(output, 1, sampleRate, channels)
}

func (t *Transcoder) Duration(context.Context, string) (time.Duration, error) {
	if t.Err != nil {
		return 0, t.Err
	}
	return t.Length, nil
}
