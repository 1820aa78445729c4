package backend

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cesargomez89/stemdeck/internal/domain"
	"github.com/cesargomez89/stemdeck/internal/logger"
)

type stubAnalyzer struct {
	res   *domain.Analysis
	err   error
	calls int
}

func (s *stubAnalyzer) Analyze(context.Context, string) (*domain.Analysis, error) {
	s.calls++
	return s.res, s.err
}

func TestCommandAnalyzer(t *testing.T) {
	bin := fakeProgram(t, `echo '{"bpm": 119.7, "beats": [0.5, 1.0, 1.5, 2.0]}'`)
	a := NewCommandAnalyzer(bin + " --json")

	res, err := a.Analyze(context.Background(), "/tmp/song.wav")
	require.NoError(t, err)
	assert.Equal(t, MethodTracker, res.Method)
	assert.Equal(t, []float64{0.5, 1.0, 1.5, 2.0}, res.Beats)
}

func TestCommandAnalyzer_Unconfigured(t *testing.T) {
	_, err := NewCommandAnalyzer("  ").Analyze(context.Background(), "x.wav")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCommandAnalyzer_BadOutput(t *testing.T) {
	bin := fakeProgram(t, `echo 'not json'`)
	_, err := NewCommandAnalyzer(bin).Analyze(context.Background(), "x.wav")
	assert.ErrorIs(t, err, domain.ErrUpstreamFailure)
}

func TestChain_UsesPrimary(t *testing.T) {
	primary := &stubAnalyzer{res: &domain.Analysis{Beats: steady(16, 0.5), Method: MethodTracker}}
	fallback := &stubAnalyzer{}
	c := NewChain(primary, fallback, logger.Discard())

	res, err := c.Analyze(context.Background(), "x.wav")
	require.NoError(t, err)
	assert.Equal(t, 120.0, res.BPM)
	assert.Equal(t, 1.0, res.Confidence)
	assert.Equal(t, MethodTracker, res.Method)
	assert.Zero(t, fallback.calls)
}

func TestChain_FallbackConfidenceIsCapped(t *testing.T) {
	primary := &stubAnalyzer{err: fmt.Errorf("%w: tracker", ErrUnavailable)}
	fallback := &stubAnalyzer{res: &domain.Analysis{Beats: steady(16, 0.5), Method: MethodOnset}}
	c := NewChain(primary, fallback, logger.Discard())

	res, err := c.Analyze(context.Background(), "x.wav")
	require.NoError(t, err)
	assert.Equal(t, 0.8, res.Confidence)
	assert.Equal(t, 120.0, res.BPM)
	assert.Equal(t, MethodOnset, res.Method)
	assert.Equal(t, 1, fallback.calls)
}

func TestChain_PrimaryFailureIsNotMasked(t *testing.T) {
	primary := &stubAnalyzer{err: domain.Upstream(nil, "tracker crashed")}
	fallback := &stubAnalyzer{}
	c := NewChain(primary, fallback, logger.Discard())

	_, err := c.Analyze(context.Background(), "x.wav")
	assert.ErrorIs(t, err, domain.ErrUpstreamFailure)
	assert.Zero(t, fallback.calls)
}

// clicks renders short bursts every interval seconds.
func clicks(rate int, seconds, interval float64) []float64 {
	samples := make([]float64, int(float64(rate)*seconds))
	for t := 0.25; t < seconds; t += interval {
		start := int(t * float64(rate))
		for i := 0; i < 64 && start+i < len(samples); i++ {
			samples[start+i] = 0.9 * math.Sin(float64(i))
		}
	}
	return samples
}

func TestTrackBeats_ClickTrack(t *testing.T) {
	beats := TrackBeats(clicks(22050, 20, 0.5), 22050)
	require.Greater(t, len(beats), 30)

	s := Summarize(beats, 0.8)
	assert.InDelta(t, 120, s.BPM, 5)
	assert.Greater(t, s.Confidence, 0.5)
}

func TestTrackBeats_Silence(t *testing.T) {
	assert.Empty(t, TrackBeats(make([]float64, 22050*5), 22050))
	assert.Empty(t, TrackBeats(nil, 22050))
}

func TestOnsetAnalyzer(t *testing.T) {
	a := NewOnsetAnalyzer(&stubTranscoder{err: fmt.Errorf("%w: ffmpeg", ErrUnavailable)})
	_, err := a.Analyze(context.Background(), "x.mp3")
	assert.ErrorIs(t, err, ErrUnavailable)
}
