package backend

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/cesargomez89/stemdeck/internal/constants"
	"github.com/cesargomez89/stemdeck/internal/domain"
)

// FFmpeg transcodes with ffmpeg and measures durations with ffprobe.
type FFmpeg struct {
	Bin      string
	ProbeBin string
}

func NewFFmpeg(bin, probeBin string) *FFmpeg {
	if bin == "" {
		bin = constants.DefaultFFmpegBin
	}
	if probeBin == "" {
		probeBin = constants.DefaultFFprobeBin
	}
	return &FFmpeg{Bin: bin, ProbeBin: probeBin}
}

func (f *FFmpeg) Available() bool {
	return Available(f.Bin)
}

// ToWAV converts input to 16-bit PCM at the given rate and channel count.
func (f *FFmpeg) ToWAV(ctx context.Context, input, output string, sampleRate, channels int) error {
	_, err := capture(ctx, f.Bin,
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", input,
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(channels),
		"-sample_fmt", "s16",
		output,
	)
	return err
}

// Duration asks ffprobe for the container duration.
func (f *FFmpeg) Duration(ctx context.Context, input string) (time.Duration, error) {
	out, err := capture(ctx, f.ProbeBin,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		input,
	)
	if err != nil {
		return 0, err
	}

	secs, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, domain.Upstream(err, "unreadable duration from %s", f.ProbeBin)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

