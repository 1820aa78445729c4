package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	for _, format := range []string{"text", "json"} {
		for _, level := range []string{"debug", "info", "warn", "error", "invalid"} {
			if New(Config{Level: level, Format: format}) == nil {
				t.Errorf("Expected logger for level=%s format=%s", level, format)
			}
		}
	}
}

func TestParseLevel(t *testing.T) {
	if got := parseLevel("bogus"); got.String() != "INFO" {
		t.Errorf("parseLevel(bogus) = %v, want INFO", got)
	}
	if got := parseLevel("warn"); got.String() != "WARN" {
		t.Errorf("parseLevel(warn) = %v, want WARN", got)
	}
}

func TestNewWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stemdeck.log")

	l, err := NewWithFile(Config{Level: "info", Format: "text", File: path})
	if err != nil {
		t.Fatalf("NewWithFile() error = %v", err)
	}
	l.WithTask("task-1", "separation").Info("hello")
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), `"task_id":"task-1"`) {
		t.Errorf("log file missing task attribute: %s", data)
	}
}

func TestNewWithFile_NoFile(t *testing.T) {
	l, err := NewWithFile(Config{Level: "info"})
	if err != nil {
		t.Fatalf("NewWithFile() error = %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("Close() without file should be a no-op, got %v", err)
	}
}

func TestWithComponent(t *testing.T) {
	componentLogger := Default().WithComponent("reaper")
	if componentLogger == nil {
		t.Fatal("Expected component logger to not be nil")
	}
	if componentLogger.WithComponent("nested") == nil {
		t.Error("Expected nested component logger to not be nil")
	}
}

func TestDiscard(t *testing.T) {
	Discard().Error("dropped")
}
