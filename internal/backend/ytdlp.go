package backend

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cesargomez89/stemdeck/internal/constants"
	"github.com/cesargomez89/stemdeck/internal/domain"
	"github.com/cesargomez89/stemdeck/internal/logger"
)

const progressMarker = "stemdeck-progress"

// YTDLP fetches media with the yt-dlp program and extracts MP3 audio.
type YTDLP struct {
	logger      *logger.Logger
	Bin         string
	FFmpegBin   string
	CookiesFile string
}

func NewYTDLP(bin, ffmpegBin, cookiesFile string, log *logger.Logger) *YTDLP {
	if bin == "" {
		bin = constants.DefaultYTDLPBin
	}
	if log == nil {
		log = logger.Default()
	}
	return &YTDLP{
		Bin:         bin,
		FFmpegBin:   ffmpegBin,
		CookiesFile: cookiesFile,
		logger:      log.WithComponent("ytdlp"),
	}
}

func (y *YTDLP) baseArgs() []string {
	args := []string{"--no-playlist", "--no-warnings", "--socket-timeout", "30"}
	if y.CookiesFile != "" {
		args = append(args, "--cookies", y.CookiesFile)
	}
	return args
}

type ytInfo struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Uploader string  `json:"uploader"`
	Duration float64 `json:"duration"`
}

func (y *YTDLP) Probe(ctx context.Context, locator string) (*Metadata, error) {
	args := append(y.baseArgs(), "--dump-json", "--skip-download", locator)
	out, err := capture(ctx, y.Bin, args...)
	if err != nil {
		return nil, err
	}

	var info ytInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, domain.Upstream(err, "unreadable metadata from %s", y.Bin)
	}
	y.logger.Debug("Probed media", "id", info.ID, "duration", info.Duration)

	meta := &Metadata{
		ID:       info.ID,
		Title:    info.Title,
		Uploader: info.Uploader,
		Duration: time.Duration(info.Duration * float64(time.Second)),
	}
	if meta.Title == "" {
		meta.Title = "Unknown"
	}
	if meta.Uploader == "" {
		meta.Uploader = "Unknown"
	}
	return meta, nil
}

func (y *YTDLP) Fetch(ctx context.Context, locator, dir string, progress ProgressFunc) (string, error) {
	args := append(y.baseArgs(),
		"--format", "bestaudio/best",
		"--extract-audio",
		"--audio-format", "mp3",
		"--audio-quality", "192K",
		"--restrict-filenames",
		"--newline",
		"--progress-template", "download:"+progressMarker+" %(progress.downloaded_bytes)s %(progress.total_bytes)s %(progress.total_bytes_estimate)s %(progress.eta)s",
		"--output", filepath.Join(dir, "%(id)s.%(ext)s"),
	)
	if y.FFmpegBin != "" && y.FFmpegBin != constants.DefaultFFmpegBin {
		args = append(args, "--ffmpeg-location", y.FFmpegBin)
	}
	args = append(args, locator)

	converting := false
	err := stream(ctx, y.Bin, args, func(line string) {
		if p, ok := parseProgress(line); ok {
			progress.report(p)
			return
		}
		if !converting && strings.HasPrefix(line, "[ExtractAudio]") {
			converting = true
			progress.report(Progress{Stage: "converting", Percent: 100})
		}
	})
	if err != nil {
		return "", err
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "*"+constants.ExtMP3))
	if len(matches) == 0 {
		return "", domain.Upstream(nil, "conversion produced no mp3 file")
	}
	y.logger.Debug("Fetched audio", "path", matches[0])
	return matches[0], nil
}

// parseProgress reads one line printed by the progress template. Fields yt-dlp
// does not know are printed as NA.
func parseProgress(line string) (Progress, bool) {
	fields := strings.Fields(line)
	if len(fields) != 5 || fields[0] != progressMarker {
		return Progress{}, false
	}

	num := func(s string) float64 {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		return v
	}

	downloaded := num(fields[1])
	total := num(fields[2])
	if total <= 0 {
		total = num(fields[3])
	}

	p := Progress{Stage: "downloading"}
	if total > 0 {
		p.Percent = min(100, downloaded/total*100)
	}
	if eta := num(fields[4]); eta > 0 {
		p.ETA = time.Duration(eta) * time.Second
	}
	return p, true
}

// WriteCookies decodes a base64 cookie jar into a private file under dir and
// returns its path.
func WriteCookies(encoded, dir string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", domain.InvalidInput("youtube cookies are not valid base64: %v", err)
	}
	if err := os.MkdirAll(dir, constants.DirPermissions); err != nil {
		return "", domain.IO(err, "create cookie dir")
	}

	path := filepath.Join(dir, "yt_cookies.txt")
	if err := os.WriteFile(path, data, constants.PrivatePerms); err != nil {
		return "", domain.IO(err, "write cookie file")
	}
	if err := os.Chmod(path, constants.PrivatePerms); err != nil {
		return "", domain.IO(err, "restrict cookie file")
	}
	return path, nil
}
