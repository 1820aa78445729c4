package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/cesargomez89/stemdeck/internal/constants"
	"github.com/cesargomez89/stemdeck/internal/domain"
	"github.com/cesargomez89/stemdeck/internal/logger"
)

// Analysis method names recorded on results.
const (
	MethodTracker = "tracker"
	MethodOnset   = "onset"
)

// CommandAnalyzer runs an external beat tracker. The command receives the
// audio path as its last argument and prints {"bpm": .., "beats": [..]}.
type CommandAnalyzer struct {
	args []string
}

// NewCommandAnalyzer splits cmdline on whitespace. An empty cmdline yields an
// analyzer that always reports ErrUnavailable.
func NewCommandAnalyzer(cmdline string) *CommandAnalyzer {
	return &CommandAnalyzer{args: strings.Fields(cmdline)}
}

type trackerOutput struct {
	Beats []float64 `json:"beats"`
	BPM   float64   `json:"bpm"`
}

func (a *CommandAnalyzer) Analyze(ctx context.Context, input string) (*domain.Analysis, error) {
	if len(a.args) == 0 {
		return nil, fmt.Errorf("%w: no analyzer command configured", ErrUnavailable)
	}

	args := append(append([]string(nil), a.args[1:]...), input)
	out, err := capture(ctx, a.args[0], args...)
	if err != nil {
		return nil, err
	}

	var res trackerOutput
	if err := json.Unmarshal(out, &res); err != nil {
		return nil, domain.Upstream(err, "unreadable output from %s", a.args[0])
	}
	return &domain.Analysis{BPM: res.BPM, Beats: res.Beats, Method: MethodTracker}, nil
}

// OnsetAnalyzer is an in-process beat tracker over the energy envelope of a
// mono transcode. It is less reliable than a dedicated tracker.
type OnsetAnalyzer struct {
	transcoder Transcoder
}

func NewOnsetAnalyzer(transcoder Transcoder) *OnsetAnalyzer {
	return &OnsetAnalyzer{transcoder: transcoder}
}

const (
	onsetRate = 22050
	onsetHop  = 512
	minBPM    = 60.0
	maxBPM    = 200.0
)

func (a *OnsetAnalyzer) Analyze(ctx context.Context, input string) (*domain.Analysis, error) {
	tmp, err := os.MkdirTemp("", "stemdeck-onset-*")
	if err != nil {
		return nil, domain.IO(err, "create temp dir")
	}
	defer os.RemoveAll(tmp)

	wav := filepath.Join(tmp, "mono.wav")
	if err := a.transcoder.ToWAV(ctx, input, wav, onsetRate, 1); err != nil {
		return nil, err
	}
	samples, rate, err := ReadMonoPCM(wav)
	if err != nil {
		return nil, domain.Upstream(err, "decode transcoded audio")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &domain.Analysis{Beats: TrackBeats(samples, rate), Method: MethodOnset}, nil
}

// TrackBeats returns beat times in seconds found in mono samples.
func TrackBeats(samples []float64, rate int) []float64 {
	env := onsetEnvelope(samples, onsetHop)
	if len(env) < 4 || rate <= 0 {
		return nil
	}
	fps := float64(rate) / onsetHop

	period := bestPeriod(env, fps)
	if period == 0 {
		return nil
	}

	// start on the strongest onset within the first period
	start := 0
	for i := 1; i < period && i < len(env); i++ {
		if env[i] > env[start] {
			start = i
		}
	}

	tol := max(1, period/10)
	var beats []float64
	for pos := start; pos < len(env); {
		best := pos
		for j := max(0, pos-tol); j <= min(len(env)-1, pos+tol); j++ {
			if env[j] > env[best] {
				best = j
			}
		}
		beats = append(beats, float64(best)/fps)
		pos = best + period
	}
	return beats
}

// onsetEnvelope is the half-wave rectified difference of log frame energy.
func onsetEnvelope(samples []float64, hop int) []float64 {
	frames := len(samples) / hop
	if frames < 2 {
		return nil
	}

	energy := make([]float64, frames)
	for f := 0; f < frames; f++ {
		var e float64
		for _, s := range samples[f*hop : (f+1)*hop] {
			e += s * s
		}
		energy[f] = math.Log1p(1000 * e / float64(hop))
	}

	env := make([]float64, frames)
	for f := 1; f < frames; f++ {
		env[f] = math.Max(0, energy[f]-energy[f-1])
	}
	return env
}

// bestPeriod picks the lag, in frames, with the highest autocorrelation in the
// plausible tempo range. Neighbouring lags are pooled so a period that falls
// between two frames still scores, and a log-normal prior around 120 BPM
// breaks ties between a tempo and its multiples.
func bestPeriod(env []float64, fps float64) int {
	lo := max(int(math.Floor(fps*60/maxBPM)), 2)
	hi := min(int(math.Ceil(fps*60/minBPM)), len(env)-2)

	ac := func(lag int) float64 {
		var sum float64
		for i := lag; i < len(env); i++ {
			sum += env[i] * env[i-lag]
		}
		return sum / float64(len(env)-lag)
	}

	best, bestScore := 0, 0.0
	for lag := lo; lag <= hi; lag++ {
		bpm := 60 * fps / float64(lag)
		prior := math.Exp(-0.5 * math.Pow(math.Log2(bpm/120), 2))
		score := (ac(lag-1) + ac(lag) + ac(lag+1)) * prior
		if score > bestScore {
			best, bestScore = lag, score
		}
	}
	return best
}

// Chain tries the primary analyzer and falls back when it is unavailable.
// Fallback results are capped at constants.FallbackMaxConf confidence.
type Chain struct {
	primary  Analyzer
	fallback Analyzer
	logger   *logger.Logger
}

func NewChain(primary, fallback Analyzer, log *logger.Logger) *Chain {
	if log == nil {
		log = logger.Default()
	}
	return &Chain{primary: primary, fallback: fallback, logger: log.WithComponent("analyzer")}
}

// Analyze returns a summarized, rounded analysis.
func (c *Chain) Analyze(ctx context.Context, input string) (*domain.Analysis, error) {
	maxConf := 1.0
	res, err := c.primary.Analyze(ctx, input)
	if errors.Is(err, ErrUnavailable) && c.fallback != nil {
		c.logger.Debug("Primary analyzer unavailable, using fallback", "error", err)
		maxConf = constants.FallbackMaxConf
		res, err = c.fallback.Analyze(ctx, input)
	}
	if err != nil {
		return nil, err
	}

	s := Summarize(res.Beats, maxConf)
	return &domain.Analysis{
		BPM:        s.BPM,
		Beats:      s.Beats,
		Confidence: s.Confidence,
		Method:     res.Method,
	}, nil
}
