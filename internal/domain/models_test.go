package domain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
)

func TestTaskKind_Valid(t *testing.T) {
	tests := []struct {
		kind TaskKind
		want bool
	}{
		{KindConversion, true},
		{KindSeparation, true},
		{KindAnalysis, true},
		{TaskKind("karaoke"), false},
		{TaskKind(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := tt.kind.Valid(); got != tt.want {
				t.Errorf("Valid(%q) = %v, want %v", tt.kind, got, tt.want)
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to TaskStatus
		want     bool
	}{
		{StatusPending, StatusQueued, true},
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusCompleted, false},
		{StatusQueued, StatusProcessing, true},
		{StatusQueued, StatusFailed, true},
		{StatusQueued, StatusPending, false},
		{StatusProcessing, StatusProcessing, true},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusQueued, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusCompleted, false},
		{StatusFailed, StatusFailed, false},
		{TaskStatus("bogus"), StatusFailed, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestResult_Empty(t *testing.T) {
	var nilResult *Result
	if !nilResult.Empty(KindSeparation) {
		t.Error("nil result should be empty")
	}

	r := &Result{Stems: map[string]string{"vocals": "/c/h/vocals.wav"}}
	if r.Empty(KindSeparation) {
		t.Error("stems result should not be empty for separation")
	}
	if !r.Empty(KindAnalysis) {
		t.Error("stems result should be empty for analysis")
	}

	if (&Result{File: &FileResult{}}).Empty(KindConversion) == false {
		t.Error("file result without path should be empty")
	}
}

func TestTask_Clone(t *testing.T) {
	orig := Task{
		ID:     "t1",
		Result: &Result{Stems: map[string]string{"bass": "a"}, Analysis: &Analysis{Beats: []float64{0.5}}},
		Error:  &TaskError{Kind: ErrKindTimeout, Message: "slow"},
	}

	c := orig.Clone()
	c.Result.Stems["bass"] = "b"
	c.Result.Analysis.Beats[0] = 9
	c.Error.Message = "changed"

	if orig.Result.Stems["bass"] != "a" {
		t.Error("Clone shares stems map")
	}
	if orig.Result.Analysis.Beats[0] != 0.5 {
		t.Error("Clone shares beats slice")
	}
	if orig.Error.Message != "slow" {
		t.Error("Clone shares error")
	}
}

func TestError_Is(t *testing.T) {
	err := fmt.Errorf("lookup: %w", NotFound("task %s not found", "abc"))

	if !errors.Is(err, ErrNotFound) {
		t.Error("expected errors.Is(err, ErrNotFound)")
	}
	if errors.Is(err, ErrTimeout) {
		t.Error("NotFound should not match ErrTimeout")
	}
	if err.Error() != "lookup: task abc not found" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestKindOf(t *testing.T) {
	_, statErr := os.Stat("/definitely/not/here")

	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"typed", InvalidInput("bad"), ErrKindInvalidInput},
		{"wrapped typed", fmt.Errorf("x: %w", Upstream(errors.New("exit 1"), "demucs")), ErrKindUpstreamFailure},
		{"deadline", fmt.Errorf("run: %w", context.DeadlineExceeded), ErrKindTimeout},
		{"path error", statErr, ErrKindIOFailure},
		{"plain", errors.New("boom"), ErrKindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTaskErrorFrom(t *testing.T) {
	te := TaskErrorFrom(nil)
	if te.Kind != ErrKindInternal || te.Message == "" {
		t.Errorf("TaskErrorFrom(nil) = %+v", te)
	}

	te = TaskErrorFrom(Timeout("took too long"))
	if te.Kind != ErrKindTimeout || te.Message != "took too long" {
		t.Errorf("TaskErrorFrom(timeout) = %+v", te)
	}
}
