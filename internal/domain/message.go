package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	// ErrorMarker prefixes the content of a failed turn.
	ErrorMarker = "(Error"
	// SystemErrorMarker prefixes failures raised outside the model call itself.
	SystemErrorMarker = "(System Error)"

	timestampLayout = "15:04:05"
)

// Message is a single transcript entry.
type Message struct {
	ID        string     `json:"id"`
	Speaker   SpeakerKey `json:"speaker"`
	Content   string     `json:"content"`
	Audio     []byte     `json:"audio,omitempty"`
	Timestamp string     `json:"timestamp"`
	CharCount int        `json:"char_count"`
	CreatedAt time.Time  `json:"created_at"`
}

// HasAudio reports whether synthesized audio is attached.
func (m Message) HasAudio() bool {
	return len(m.Audio) > 0
}

// NewMessage builds a message stamped at now.
func NewMessage(speaker SpeakerKey, content string, audio []byte, now time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Speaker:   speaker,
		Content:   content,
		Audio:     audio,
		Timestamp: now.Format(timestampLayout),
		CharCount: utf8.RuneCountInString(content),
		CreatedAt: now,
	}
}

// IsErrorContent reports whether content carries a failed-turn marker.
func IsErrorContent(content string) bool {
	trimmed := strings.TrimSpace(content)
	return strings.HasPrefix(trimmed, ErrorMarker) || strings.HasPrefix(trimmed, SystemErrorMarker)
}

// ErrorContent formats reason as failed-turn content.
func ErrorContent(reason string) string {
	return "(Error: " + reason + ")"
}

// SystemErrorContent formats reason as a failure outside the model call.
func SystemErrorContent(reason string) string {
	return SystemErrorMarker + " " + reason
}
