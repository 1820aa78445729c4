package storage

import (
	"path/filepath"
	"testing"
)

func TestBuildFilename(t *testing.T) {
	tests := []struct {
		name     string
		template string
		data     *FilenameData
		ext      string
		want     string
		wantErr  bool
	}{
		{
			name:     "title only",
			template: "{{.Title}}",
			data:     &FilenameData{Title: "Never Gonna Give You Up", SourceID: "dQw4w9WgXcQ"},
			ext:      ".mp3",
			want:     "Never Gonna Give You Up.mp3",
		},
		{
			name:     "uploader and title sanitized",
			template: "{{.Uploader}} - {{.Title}}",
			data:     &FilenameData{Title: "AC/DC: Live?", Uploader: "Channel"},
			ext:      "mp3",
			want:     "Channel - ACDC Live.mp3",
		},
		{
			name:     "empty title falls back to source id",
			template: "{{.Title}}",
			data:     &FilenameData{SourceID: "abc123"},
			ext:      ".mp3",
			want:     "abc123.mp3",
		},
		{
			name:     "nothing usable",
			template: "{{.Title}}",
			data:     &FilenameData{},
			ext:      ".mp3",
			want:     "download.mp3",
		},
		{
			name:     "invalid template syntax",
			template: "{{.Title",
			data:     &FilenameData{},
			wantErr:  true,
		},
		{
			name:     "unknown field",
			template: "{{.Album}}",
			data:     &FilenameData{},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildFilename(tt.template, tt.data, tt.ext)
			if (err != nil) != tt.wantErr {
				t.Fatalf("BuildFilename() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("BuildFilename() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseExtension(t *testing.T) {
	tests := map[string]string{"": "", "mp3": ".mp3", ".wav": ".wav"}
	for in, want := range tests {
		if got := ParseExtension(in); got != want {
			t.Errorf("ParseExtension(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWithin(t *testing.T) {
	root := filepath.FromSlash("/tmp/stems_cache")
	tests := []struct {
		path string
		want bool
	}{
		{"/tmp/stems_cache/abc/vocals.wav", true},
		{"/tmp/stems_cache", true},
		{"/tmp/stems_cache/../etc/passwd", false},
		{"/tmp/other", false},
		{"/tmp/stems_cache/..foo", true},
	}
	for _, tt := range tests {
		if got := Within(root, filepath.FromSlash(tt.path)); got != tt.want {
			t.Errorf("Within(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
