// Package backend wraps the external programs that do the heavy media work:
// yt-dlp for fetching, ffmpeg for transcoding, demucs for stem separation and
// an optional beat tracker for tempo analysis.
package backend

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/cesargomez89/stemdeck/internal/domain"
)

// ErrUnavailable is wrapped when a backend program is not installed or not configured.
var ErrUnavailable = errors.New("backend unavailable")

// Metadata describes a remote media item before it is fetched.
type Metadata struct {
	ID       string
	Title    string
	Uploader string
	Duration time.Duration
}

// Progress is one report from a running backend.
type Progress struct {
	Stage   string
	Percent float64
	ETA     time.Duration
}

type ProgressFunc func(Progress)

func (f ProgressFunc) report(p Progress) {
	if f != nil {
		f(p)
	}
}

// Fetcher downloads remote media and converts it to MP3.
type Fetcher interface {
	Probe(ctx context.Context, locator string) (*Metadata, error)
	// Fetch writes the converted file into dir and returns its path.
	// Percent in progress reports is the download fraction, 0 to 100.
	Fetch(ctx context.Context, locator, dir string, progress ProgressFunc) (string, error)
}

// Separator writes one <stem>.wav per name in constants.StemNames into outDir.
// Percent in progress reports is the overall task progress.
type Separator interface {
	Separate(ctx context.Context, input, outDir string, progress ProgressFunc) error
}

// Analyzer detects tempo and beat positions. Results are not rounded.
type Analyzer interface {
	Analyze(ctx context.Context, input string) (*domain.Analysis, error)
}

// Transcoder converts between audio formats and reports durations.
type Transcoder interface {
	ToWAV(ctx context.Context, input, output string, sampleRate, channels int) error
	Duration(ctx context.Context, input string) (time.Duration, error)
}

const tailSize = 2048

// tail keeps the last bytes written to it, for error messages.
type tail struct {
	buf []byte
	mu  sync.Mutex
}

func (t *tail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > tailSize {
		t.buf = t.buf[len(t.buf)-tailSize:]
	}
	return len(p), nil
}

func (t *tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}

func command(ctx context.Context, bin string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.WaitDelay = 5 * time.Second
	return cmd
}

// capture runs bin and returns its stdout.
func capture(ctx context.Context, bin string, args ...string) ([]byte, error) {
	cmd := command(ctx, bin, args...)
	var stderr tail
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return nil, classify(ctx, bin, err, stderr.String())
	}
	return out, nil
}

// stream runs bin and calls onLine for every line on stdout or stderr.
// Carriage returns end a line too, so progress bars are seen as they redraw.
func stream(ctx context.Context, bin string, args []string, onLine func(string)) error {
	cmd := command(ctx, bin, args...)

	pr, pw := io.Pipe()
	var last tail
	w := io.MultiWriter(pw, &last)
	cmd.Stdout = w
	cmd.Stderr = w

	if err := cmd.Start(); err != nil {
		pw.Close()
		return classify(ctx, bin, err, "")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		sc := bufio.NewScanner(pr)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		sc.Split(scanLinesOrCR)
		for sc.Scan() {
			if line := strings.TrimSpace(sc.Text()); line != "" && onLine != nil {
				onLine(line)
			}
		}
		_, _ = io.Copy(io.Discard, pr)
	}()

	err := cmd.Wait()
	pw.Close()
	<-done

	if err != nil {
		return classify(ctx, bin, err, last.String())
	}
	return nil
}

func scanLinesOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// classify maps a process failure onto the error taxonomy.
func classify(ctx context.Context, bin string, err error, stderr string) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return domain.Timeout("%s did not finish in time", bin)
	case ctx.Err() != nil:
		return fmt.Errorf("%s: %w", bin, ctx.Err())
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, bin, err)
	}

	msg := lastLine(stderr)
	if msg == "" {
		msg = err.Error()
	}
	return domain.Upstream(err, "%s failed: %s", bin, msg)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexAny(s, "\r\n"); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}

// Available reports whether bin can be found on PATH.
func Available(bin string) bool {
	_, err := exec.LookPath(bin)
	return err == nil
}
