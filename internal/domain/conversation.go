package domain

import (
	"strings"
	"time"
)

// ConversationState is the ordered transcript plus rotation bookkeeping.
type ConversationState struct {
	Messages    []Message  `json:"messages"`
	NextSpeaker SpeakerKey `json:"next_speaker"`
	TurnCount   int        `json:"turn_count"`

	// lastAttempt holds the most recent content offered per speaker.
	lastAttempt map[SpeakerKey]string
}

// NewConversation returns an empty conversation where persona A speaks first.
func NewConversation() ConversationState {
	return ConversationState{
		Messages:    []Message{},
		NextSpeaker: SpeakerA,
	}
}

// AddMessage appends a message and reports whether it was accepted.
// Empty content, failed-turn content and a repeat of the previous attempt by the
// same speaker are rejected. Host messages leave the rotation untouched.
func (c *ConversationState) AddMessage(speaker SpeakerKey, content string, audio []byte, now time.Time) (Message, bool) {
	if !speaker.Valid() || strings.TrimSpace(content) == "" || IsErrorContent(content) {
		return Message{}, false
	}
	if c.lastAttempt == nil {
		c.seedAttempts()
	}
	if prev, ok := c.lastAttempt[speaker]; ok && prev == content {
		return Message{}, false
	}
	c.lastAttempt[speaker] = content

	msg := NewMessage(speaker, content, audio, now)
	c.Messages = append(c.Messages, msg)
	if speaker.IsAI() {
		c.TurnCount++
		c.NextSpeaker = NextSpeaker(speaker)
	}
	if !c.NextSpeaker.IsAI() {
		c.NextSpeaker = SpeakerA
	}
	return msg, true
}

// seedAttempts rebuilds the duplicate memory from the transcript, so a restored
// conversation still rejects a replay of its own last lines.
func (c *ConversationState) seedAttempts() {
	c.lastAttempt = make(map[SpeakerKey]string, 3)
	for _, m := range c.Messages {
		c.lastAttempt[m.Speaker] = m.Content
	}
}

// AttachAudio stores synthesized audio on the message with the given id.
func (c *ConversationState) AttachAudio(id string, audio []byte) bool {
	for i := range c.Messages {
		if c.Messages[i].ID == id {
			c.Messages[i].Audio = audio
			return true
		}
	}
	return false
}

// Find returns the message with the given id.
func (c *ConversationState) Find(id string) (Message, bool) {
	for _, m := range c.Messages {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

// LastFrom returns the latest message by speaker.
func (c *ConversationState) LastFrom(speaker SpeakerKey) (Message, bool) {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Speaker == speaker {
			return c.Messages[i], true
		}
	}
	return Message{}, false
}

// HasMessages reports whether the transcript is non-empty.
func (c *ConversationState) HasMessages() bool {
	return len(c.Messages) > 0
}

// Reset clears the transcript back to a fresh conversation.
func (c *ConversationState) Reset() {
	*c = NewConversation()
}

// Normalize repairs fields decoded from storage.
func (c *ConversationState) Normalize() {
	if c.Messages == nil {
		c.Messages = []Message{}
	}
	if !c.NextSpeaker.IsAI() {
		c.NextSpeaker = SpeakerA
	}
	turns := 0
	for _, m := range c.Messages {
		if m.Speaker.IsAI() {
			turns++
		}
	}
	c.TurnCount = turns
	c.lastAttempt = nil
}

// Recent returns up to n of the latest messages that are not failed turns.
func (c *ConversationState) Recent(n int) []Message {
	out := make([]Message, 0, n)
	for i := len(c.Messages) - 1; i >= 0 && len(out) < n; i-- {
		if IsErrorContent(c.Messages[i].Content) {
			continue
		}
		out = append(out, c.Messages[i])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// ConversationStats summarizes the transcript for the telemetry panel.
type ConversationStats struct {
	TotalMessages int                `json:"total_messages"`
	TotalTurns    int                `json:"total_turns"`
	TotalChars    int                `json:"total_chars"`
	AvgChars      float64            `json:"avg_chars"`
	MaxChars      int                `json:"max_chars"`
	BySpeaker     map[SpeakerKey]int `json:"by_speaker"`
	LastLatency   float64            `json:"last_latency_seconds"`
}

// Stats computes transcript statistics.
func (c *ConversationState) Stats() ConversationStats {
	st := ConversationStats{
		TotalMessages: len(c.Messages),
		TotalTurns:    c.TurnCount,
		BySpeaker:     map[SpeakerKey]int{SpeakerHost: 0, SpeakerA: 0, SpeakerB: 0},
	}
	for _, m := range c.Messages {
		st.TotalChars += m.CharCount
		if m.CharCount > st.MaxChars {
			st.MaxChars = m.CharCount
		}
		st.BySpeaker[m.Speaker]++
	}
	if st.TotalMessages > 0 {
		st.AvgChars = float64(st.TotalChars) / float64(st.TotalMessages)
	}
	return st
}
