package storage

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"
)

// FilenameData holds the fields available to download filename templates.
type FilenameData struct {
	Title    string
	Uploader string
	SourceID string
}

// BuildFilename executes the template and returns a sanitized file name with ext.
// An empty result falls back to the source id.
func BuildFilename(templateStr string, data *FilenameData, ext string) (string, error) {
	tmpl, err := template.New("filename").Option("missingkey=error").Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	name := Sanitize(buf.String())
	if name == "" {
		name = Sanitize(data.SourceID)
	}
	if name == "" {
		name = "download"
	}
	return name + ParseExtension(ext), nil
}

// ParseExtension parses an extension string, ensuring it starts with a dot
func ParseExtension(ext string) string {
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		return "." + ext
	}
	return ext
}

// Within reports whether path resolves inside root.
func Within(root, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
