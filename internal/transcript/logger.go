// Package transcript writes an asynchronous NDJSON log of every conversation,
// one file per user and tab session.
package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/triadic/internal/domain"
)

// Event types written to the log.
const (
	EventHostMessage = "host_message"
	EventAIMessage   = "ai_message"
	EventTurnFailed  = "turn_failed"
	EventSummary     = "summary"
	EventReboot      = "reboot"
)

// Config controls the logger.
type Config struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Event is one line in a transcript file.
type Event struct {
	Timestamp  time.Time         `json:"timestamp"`
	UserID     string            `json:"user_id"`
	SessionID  string            `json:"session_id"`
	Speaker    string            `json:"speaker,omitempty"`
	EventType  string            `json:"event_type"`
	ContentRaw string            `json:"content_raw,omitempty"`
	Content    string            `json:"content,omitempty"`
	Meta       map[string]string `json:"meta,omitempty"`
}

// Logger queues events and writes them from a single goroutine.
type Logger struct {
	dir    string
	queue  chan Event
	logger *slog.Logger
	done   chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

// New starts a logger. A disabled config returns a logger whose Log is a no-op.
func New(cfg Config, logger *slog.Logger) (*Logger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Enabled {
		return &Logger{logger: logger}, nil
	}
	if cfg.QueueSize <= 0 {
		return nil, errors.New("transcript: queue size must be positive")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("transcript: create dir: %w", err)
	}
	l := &Logger{
		dir:    cfg.Dir,
		queue:  make(chan Event, cfg.QueueSize),
		logger: logger,
		done:   make(chan struct{}),
	}
	go l.run()
	return l, nil
}

// Log enqueues ev without blocking. Events are dropped when the queue is full.
func (l *Logger) Log(ev Event) {
	if l == nil || l.queue == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.Content == "" && ev.ContentRaw != "" {
		ev.Content = normalize(ev.ContentRaw)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- ev:
	default:
		l.logger.Warn("Transcript log queue full, dropping event",
			"user_id", ev.UserID, "session_id", ev.SessionID, "event_type", ev.EventType)
	}
}

// Close stops accepting events and waits for the queue to drain.
func (l *Logger) Close() error {
	if l == nil || l.queue == nil {
		return nil
	}
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.queue)
		l.mu.Unlock()
		<-l.done
	})
	return nil
}

func (l *Logger) run() {
	defer close(l.done)
	for ev := range l.queue {
		if err := l.write(ev); err != nil {
			l.logger.Warn("Failed to write transcript event", "error", err, "user_id", ev.UserID)
		}
	}
}

func (l *Logger) write(ev Event) error {
	userDir := filepath.Join(l.dir, domain.SanitizeFilename(ev.UserID))
	if err := os.MkdirAll(userDir, 0o750); err != nil {
		return err
	}
	path := filepath.Join(userDir, domain.SanitizeFilename(ev.SessionID)+".ndjson")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	line, err := json.Marshal(ev)
	if err != nil {
		_ = f.Close()
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

var (
	ansiPattern  = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z]`)
	spacePattern = regexp.MustCompile(`\s+`)
)

func normalize(raw string) string {
	clean := ansiPattern.ReplaceAllString(raw, "")
	return strings.TrimSpace(spacePattern.ReplaceAllString(clean, " "))
}
