package backend

import (
	"math"
	"sort"

	"github.com/cesargomez89/stemdeck/internal/constants"
)

// SmoothBeats replaces each inter-beat interval with the median of its
// neighbourhood (window/2 on either side) and rebuilds the timestamps from the
// first beat. Fewer than four beats are returned unchanged.
func SmoothBeats(beats []float64, window int) []float64 {
	if len(beats) < 4 {
		return beats
	}

	intervals := diff(beats)
	half := window / 2
	smoothed := make([]float64, len(intervals))
	for i := range intervals {
		lo := max(0, i-half)
		hi := min(len(intervals), i+half+1)
		smoothed[i] = median(intervals[lo:hi])
	}

	out := make([]float64, len(beats))
	out[0] = beats[0]
	for i, iv := range smoothed {
		out[i+1] = out[i] + iv
	}
	return out
}

// Tempo is 60 divided by the median inter-beat interval, or 0 with fewer than
// two beats.
func Tempo(beats []float64) float64 {
	if len(beats) < 2 {
		return 0
	}
	m := median(diff(beats))
	if m <= 0 {
		return 0
	}
	return 60 / m
}

// Confidence is 1 minus the coefficient of variation of the inter-beat
// intervals, clamped to [0, 1].
func Confidence(beats []float64) float64 {
	if len(beats) < 2 {
		return 0
	}
	intervals := diff(beats)

	var sum float64
	for _, v := range intervals {
		sum += v
	}
	mean := sum / float64(len(intervals))
	if mean == 0 {
		return 0
	}

	var sq float64
	for _, v := range intervals {
		sq += (v - mean) * (v - mean)
	}
	std := math.Sqrt(sq / float64(len(intervals)))

	return math.Max(0, math.Min(1, 1-std/mean))
}

// Summary is the post-processed outcome of beat tracking.
type Summary struct {
	Beats      []float64
	BPM        float64
	Confidence float64
}

// Summarize smooths raw beats, derives tempo and confidence, caps confidence
// at maxConfidence and rounds the results for storage.
func Summarize(raw []float64, maxConfidence float64) Summary {
	beats := SmoothBeats(raw, constants.BeatSmoothWindow)
	conf := math.Min(Confidence(beats), maxConfidence)

	rounded := make([]float64, len(beats))
	for i, b := range beats {
		rounded[i] = round(b, 3)
	}
	return Summary{
		Beats:      rounded,
		BPM:        round(Tempo(beats), 1),
		Confidence: round(conf, 3),
	}
}

func diff(v []float64) []float64 {
	if len(v) < 2 {
		return nil
	}
	out := make([]float64, len(v)-1)
	for i := 1; i < len(v); i++ {
		out[i-1] = v[i] - v[i-1]
	}
	return out
}

func median(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	s := append([]float64(nil), v...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 0 {
		return (s[mid-1] + s[mid]) / 2
	}
	return s[mid]
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
