// Package prompt assembles model prompts for turns, summaries and topics.
package prompt

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// DefaultSystemPrompt is used when the system prompt file is missing.
const DefaultSystemPrompt = "Participate in a talk show. Be concise."

// SystemFile loads the base instructions from disk on every call so edits take
// effect on the next turn.
type SystemFile struct {
	path string
}

// NewSystemFile returns a loader for path.
func NewSystemFile(path string) *SystemFile {
	return &SystemFile{path: path}
}

// Load returns the file contents, or the default when the file does not exist.
func (s *SystemFile) Load() string {
	if s == nil || s.path == "" {
		return DefaultSystemPrompt
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Warn("System prompt not found, using default", "path", s.path)
		} else {
			slog.Error("Failed to read system prompt, using default", "path", s.path, "error", err)
		}
		return DefaultSystemPrompt
	}
	return string(data)
}

// Save replaces the system prompt file.
func (s *SystemFile) Save(text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("prompt: system prompt cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("prompt: create system prompt directory: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("prompt: write system prompt: %w", err)
	}
	return nil
}
