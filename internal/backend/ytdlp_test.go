package backend

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cesargomez89/stemdeck/internal/domain"
	"github.com/cesargomez89/stemdeck/internal/logger"
)

// fakeProgram writes an executable shell script and returns its path.
func fakeProgram(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	path := filepath.Join(t.TempDir(), "prog")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestParseProgress(t *testing.T) {
	p, ok := parseProgress("stemdeck-progress 512 2048 NA 7")
	require.True(t, ok)
	assert.Equal(t, "downloading", p.Stage)
	assert.Equal(t, 25.0, p.Percent)
	assert.Equal(t, 7*time.Second, p.ETA)

	p, ok = parseProgress("stemdeck-progress 300 NA 600 NA")
	require.True(t, ok)
	assert.Equal(t, 50.0, p.Percent, "falls back to the estimate")
	assert.Zero(t, p.ETA)

	p, ok = parseProgress("stemdeck-progress 10 NA NA NA")
	require.True(t, ok)
	assert.Zero(t, p.Percent)

	_, ok = parseProgress("[download] Destination: x.webm")
	assert.False(t, ok)
}

func TestWriteCookies(t *testing.T) {
	dir := t.TempDir()
	jar := "# Netscape HTTP Cookie File\n.youtube.com\tTRUE\t/\tTRUE\t0\tSID\tabc\n"

	path, err := WriteCookies(base64.StdEncoding.EncodeToString([]byte(jar)), dir)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, jar, string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	_, err = WriteCookies("%%%not base64", dir)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestYTDLP_Probe(t *testing.T) {
	bin := fakeProgram(t, `echo '{"id":"abc123","title":"Song","uploader":"Band","duration":213.5}'`)
	y := NewYTDLP(bin, "", "", logger.Discard())

	meta, err := y.Probe(context.Background(), "https://youtu.be/abc123")
	require.NoError(t, err)
	assert.Equal(t, "abc123", meta.ID)
	assert.Equal(t, "Song", meta.Title)
	assert.Equal(t, "Band", meta.Uploader)
	assert.Equal(t, 213500*time.Millisecond, meta.Duration)
}

func TestYTDLP_ProbeFailureIsUpstream(t *testing.T) {
	bin := fakeProgram(t, `echo "ERROR: Video unavailable" >&2; exit 1`)
	y := NewYTDLP(bin, "", "", logger.Discard())

	_, err := y.Probe(context.Background(), "https://youtu.be/gone")
	assert.ErrorIs(t, err, domain.ErrUpstreamFailure)
	assert.Contains(t, err.Error(), "Video unavailable")
}

func TestYTDLP_Fetch(t *testing.T) {
	// the output template is the argument after --output
	bin := fakeProgram(t, `
out=""
while [ $# -gt 0 ]; do
  if [ "$1" = "--output" ]; then out="$2"; fi
  shift
done
echo "stemdeck-progress 50 100 NA 3"
echo "stemdeck-progress 100 100 NA 0"
echo "[ExtractAudio] Destination: x.mp3"
dir=$(dirname "$out")
printf 'mp3' > "$dir/abc123.mp3"
`)
	y := NewYTDLP(bin, "", "", logger.Discard())
	dir := t.TempDir()

	var reports []Progress
	path, err := y.Fetch(context.Background(), "https://youtu.be/abc123", dir, func(p Progress) {
		reports = append(reports, p)
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "abc123.mp3"), path)

	require.Len(t, reports, 3)
	assert.Equal(t, 50.0, reports[0].Percent)
	assert.Equal(t, 3*time.Second, reports[0].ETA)
	assert.Equal(t, "converting", reports[2].Stage)
}

func TestYTDLP_FetchWithoutOutput(t *testing.T) {
	bin := fakeProgram(t, `exit 0`)
	y := NewYTDLP(bin, "", "", logger.Discard())

	_, err := y.Fetch(context.Background(), "https://youtu.be/abc123", t.TempDir(), nil)
	assert.ErrorIs(t, err, domain.ErrUpstreamFailure)
}

func TestStream_Timeout(t *testing.T) {
	bin := fakeProgram(t, `exec sleep 5`)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := stream(ctx, bin, nil, nil)
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestCapture_MissingProgram(t *testing.T) {
	_, err := capture(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, ErrUnavailable)
}
