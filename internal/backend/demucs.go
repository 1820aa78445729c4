package backend

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"

	"github.com/cesargomez89/stemdeck/internal/constants"
	"github.com/cesargomez89/stemdeck/internal/domain"
	"github.com/cesargomez89/stemdeck/internal/logger"
	"github.com/cesargomez89/stemdeck/internal/storage"
)

var tqdmPercent = regexp.MustCompile(`^\s*(\d{1,3})%\|`)

// Demucs separates stems with the demucs program. The program is probed
// lazily on first use; a failed probe is retried on the next call. While it is
// unavailable, separation falls back to degraded output.
type Demucs struct {
	fallback *Degraded
	logger   *logger.Logger
	Bin      string
	Model    string
	mu       sync.Mutex
	ready    bool
}

func NewDemucs(bin, model string, fallback *Degraded, log *logger.Logger) *Demucs {
	if bin == "" {
		bin = constants.DefaultDemucsBin
	}
	if model == "" {
		model = constants.DefaultDemucsArgs
	}
	if log == nil {
		log = logger.Default()
	}
	if fallback == nil {
		fallback = NewDegraded(nil, log)
	}
	return &Demucs{
		Bin:      bin,
		Model:    model,
		fallback: fallback,
		logger:   log.WithComponent("demucs"),
	}
}

// Ready probes the program once and caches a success.
func (d *Demucs) Ready(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ready {
		return nil
	}
	if _, err := capture(ctx, d.Bin, "--help"); err != nil {
		return err
	}
	d.ready = true
	d.logger.Info("Separation model available", "bin", d.Bin, "model", d.Model)
	return nil
}

func (d *Demucs) Separate(ctx context.Context, input, outDir string, progress ProgressFunc) error {
	progress.report(Progress{Stage: "loading model", Percent: 10})
	if err := d.Ready(ctx); err != nil {
		if ctx.Err() != nil {
			return err
		}
		d.logger.Warn("Separation model unavailable, writing degraded stems", "error", err)
		return d.fallback.Separate(ctx, input, outDir, progress)
	}

	progress.report(Progress{Stage: "loading audio", Percent: 20})
	work, err := os.MkdirTemp(outDir, ".demucs-*")
	if err != nil {
		return domain.IO(err, "create separation work dir")
	}
	defer os.RemoveAll(work)

	progress.report(Progress{Stage: "separating", Percent: 30})
	args := []string{"-n", d.Model, "-o", work, input}
	err = stream(ctx, d.Bin, args, func(line string) {
		m := tqdmPercent.FindStringSubmatch(line)
		if m == nil {
			return
		}
		pct, _ := strconv.Atoi(m[1])
		progress.report(Progress{Stage: "separating", Percent: 30 + float64(min(pct, 100))*0.6})
	})
	if err != nil {
		return err
	}

	progress.report(Progress{Stage: "writing stems", Percent: 90})
	src := trackDir(work)

	var missing []string
	for _, stem := range constants.StemNames {
		from := filepath.Join(src, stem+constants.ExtWAV)
		if src == "" || !storage.Exists(from) {
			missing = append(missing, stem)
			continue
		}
		if err := storage.MoveFile(from, filepath.Join(outDir, stem+constants.ExtWAV)); err != nil {
			return domain.IO(err, "move stem %s", stem)
		}
	}
	if len(missing) > 0 {
		d.logger.Warn("Model did not produce every stem, filling the rest", "missing", missing)
		if err := d.fallback.fill(ctx, input, outDir, missing, nil); err != nil {
			return err
		}
	}

	progress.report(Progress{Stage: "finalizing", Percent: 95})
	return nil
}

// trackDir finds <work>/<model>/<track>, the directory demucs writes into.
func trackDir(work string) string {
	matches, _ := filepath.Glob(filepath.Join(work, "*", "*"))
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.IsDir() {
			return m
		}
	}
	return ""
}
