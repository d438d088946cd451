package domain

import "time"

// Personas holds the instruction text for each AI guest.
type Personas struct {
	A string `json:"gpt_a"`
	B string `json:"gpt_b"`
}

// For returns the persona text for speaker.
func (p Personas) For(speaker SpeakerKey) string {
	switch speaker {
	case SpeakerA:
		return p.A
	case SpeakerB:
		return p.B
	default:
		return ""
	}
}

// TurnRange is the inclusive span of AI turns a summary covers.
type TurnRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// SummaryEntry records one generated rolling summary.
type SummaryEntry struct {
	Text         string    `json:"summary_text"`
	TurnNumber   int       `json:"turn_number"`
	MessageCount int       `json:"message_count"`
	TurnRange    TurnRange `json:"turn_range"`
	CreatedAt    time.Time `json:"timestamp"`
}

// UploadedFile is a document attached to the session's vector store.
type UploadedFile struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	FileID     string    `json:"file_id"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// FileKey returns the dedup key for a document.
func FileKey(name string, size int64) string {
	return SanitizeFilename(name) + ":" + itoa64(size)
}

// SessionState is everything one talk show session owns. Components receive it
// by pointer and the session service serializes access.
type SessionState struct {
	UserID    string `json:"-"`
	SessionID string `json:"-"`

	Conversation ConversationState `json:"conversation"`
	AutoRun      AutoRunState      `json:"autorun"`
	Settings     Settings          `json:"settings"`
	Personas     Personas          `json:"personas"`

	Summary          string                  `json:"summary"`
	SummaryHistory   []SummaryEntry          `json:"summary_history"`
	TopicSuggestions []string                `json:"topic_suggestions"`
	VectorStoreID    string                  `json:"vector_store_id"`
	UploadedFiles    map[string]UploadedFile `json:"uploaded_file_index"`
	LastLatency      float64                 `json:"last_latency"`
}

// NewSessionState returns a fresh session with default settings and personas.
func NewSessionState(userID, sessionID string, personas Personas) *SessionState {
	return &SessionState{
		UserID:        userID,
		SessionID:     sessionID,
		Conversation:  NewConversation(),
		Settings:      DefaultSettings(),
		Personas:      personas,
		UploadedFiles: map[string]UploadedFile{},
	}
}

// Key returns the identity the session is tracked under.
func (s *SessionState) Key() string {
	return SessionKey(s.UserID, s.SessionID)
}

// SessionKey joins a user and tab session into one key.
func SessionKey(userID, sessionID string) string {
	return userID + ":" + sessionID
}

// Reboot resets the conversation and everything derived from it.
func (s *SessionState) Reboot() {
	s.Conversation.Reset()
	s.Summary = ""
	s.SummaryHistory = nil
	s.LastLatency = 0
	s.AutoRun.ClearWait()
	s.AutoRun.ClearInProgress()
	s.AutoRun.JustExecuted = false
}
