// Package probe determines what an uploaded audio file is and how long it plays.
package probe

import (
	"bytes"
	"context"
	"io"
	"os"
	"time"

	"github.com/cesargomez89/stemdeck/internal/backend"
	"github.com/cesargomez89/stemdeck/internal/logger"
	"github.com/cesargomez89/stemdeck/internal/tagging"
)

type Format string

const (
	FormatUnknown Format = ""
	FormatMP3     Format = "mp3"
	FormatFLAC    Format = "flac"
	FormatWAV     Format = "wav"
)

// Durationer measures files the header readers cannot, e.g. ffprobe.
type Durationer interface {
	Duration(ctx context.Context, input string) (time.Duration, error)
}

// Result is what was learned about a file. Duration is zero when unknown.
type Result struct {
	Format   Format
	Title    string
	Artist   string
	Duration time.Duration
}

type Prober struct {
	fallback Durationer
	logger   *logger.Logger
}

// New returns a Prober; fallback may be nil.
func New(fallback Durationer, log *logger.Logger) *Prober {
	if log == nil {
		log = logger.Default()
	}
	return &Prober{fallback: fallback, logger: log.WithComponent("probe")}
}

// Sniff identifies the container from the first bytes of the file.
func Sniff(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown, err
	}
	defer f.Close()

	head := make([]byte, 12)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return FormatUnknown, err
	}
	return sniff(head[:n]), nil
}

func sniff(head []byte) Format {
	switch {
	case bytes.HasPrefix(head, []byte("fLaC")):
		return FormatFLAC
	case len(head) >= 12 && bytes.Equal(head[:4], []byte("RIFF")) && bytes.Equal(head[8:12], []byte("WAVE")):
		return FormatWAV
	case bytes.HasPrefix(head, []byte("ID3")):
		return FormatMP3
	case len(head) >= 2 && head[0] == 0xFF && head[1]&0xE0 == 0xE0:
		return FormatMP3
	default:
		return FormatUnknown
	}
}

// Probe reads the file's headers and tags. Failures are logged, not returned:
// a file whose duration cannot be determined yields a zero Duration.
func (p *Prober) Probe(ctx context.Context, path string) Result {
	format, err := Sniff(path)
	if err != nil {
		p.logger.Warn("Failed to read upload header", "path", path, "error", err)
	}

	res := Result{Format: format}
	switch format {
	case FormatWAV:
		if d, err := backend.WAVDuration(path); err == nil {
			res.Duration = d
		} else {
			p.logger.Debug("Unreadable wav header", "path", path, "error", err)
		}
	case FormatFLAC:
		p.fromTags(&res, path, tagging.ReadFLAC)
	case FormatMP3:
		p.fromTags(&res, path, tagging.ReadMP3)
	}

	if res.Duration == 0 && p.fallback != nil {
		d, err := p.fallback.Duration(ctx, path)
		if err != nil {
			p.logger.Debug("Fallback duration probe failed", "path", path, "error", err)
		} else {
			res.Duration = d
		}
	}
	return res
}

func (p *Prober) fromTags(res *Result, path string, read func(string) (*tagging.Info, error)) {
	info, err := read(path)
	if err != nil {
		p.logger.Debug("Unreadable tags", "path", path, "error", err)
		return
	}
	res.Title = info.Title
	res.Artist = info.Artist
	res.Duration = info.Duration
}
