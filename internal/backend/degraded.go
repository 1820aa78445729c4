package backend

import (
	"context"
	"path/filepath"

	"github.com/cesargomez89/stemdeck/internal/constants"
	"github.com/cesargomez89/stemdeck/internal/logger"
	"github.com/cesargomez89/stemdeck/internal/storage"
)

// Degraded fills every stem without a separation model: the input is
// transcoded to stereo WAV and copied to each stem, or, when transcoding is
// impossible, each stem is a short silent WAV. Output always satisfies the
// stem contract so clients keep working.
type Degraded struct {
	transcoder Transcoder
	logger     *logger.Logger
}

// NewDegraded returns a degraded separator. transcoder may be nil.
func NewDegraded(transcoder Transcoder, log *logger.Logger) *Degraded {
	if log == nil {
		log = logger.Default()
	}
	return &Degraded{transcoder: transcoder, logger: log.WithComponent("degraded-separator")}
}

func (d *Degraded) Separate(ctx context.Context, input, outDir string, progress ProgressFunc) error {
	return d.fill(ctx, input, outDir, constants.StemNames, progress)
}

// fill writes only the named stems.
func (d *Degraded) fill(ctx context.Context, input, outDir string, stems []string, progress ProgressFunc) error {
	if len(stems) == 0 {
		return nil
	}
	progress.report(Progress{Stage: "separating", Percent: 30})

	first := filepath.Join(outDir, stems[0]+constants.ExtWAV)
	copied := false
	if d.transcoder != nil {
		err := d.transcoder.ToWAV(ctx, input, first, constants.SampleRate, constants.Channels)
		if ctx.Err() != nil {
			return err
		}
		if err != nil {
			d.logger.Warn("Transcode failed, writing silent stems", "error", err)
		} else {
			copied = storage.Exists(first)
		}
	}

	for i, stem := range stems {
		path := filepath.Join(outDir, stem+constants.ExtWAV)
		switch {
		case copied && i == 0:
		case copied:
			if err := storage.CopyFile(first, path); err != nil {
				return err
			}
		default:
			if err := WriteSilentWAV(path, constants.SilenceSeconds, constants.SampleRate, constants.Channels); err != nil {
				return err
			}
		}
		progress.report(Progress{Stage: "separating", Percent: float64(30 + (i+1)*15)})
	}
	return nil
}
