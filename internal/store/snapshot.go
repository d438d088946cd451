package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/ashureev/triadic/internal/domain"
)

// snapshotSettings carries auto-run enablement next to the tuning record.
type snapshotSettings struct {
	domain.Settings
	AutoMode bool `json:"auto_mode"`
}

// Snapshot is the persisted subset of a session. In-flight and waiting flags are
// never stored.
type Snapshot struct {
	Messages         []domain.Message               `json:"messages,omitempty"`
	NextSpeaker      domain.SpeakerKey              `json:"next_speaker,omitempty"`
	TurnCount        *int                           `json:"turn_count,omitempty"`
	LastLatency      *float64                       `json:"last_latency,omitempty"`
	Settings         *snapshotSettings              `json:"settings,omitempty"`
	Personas         *domain.Personas               `json:"personas,omitempty"`
	Summary          *string                        `json:"summary,omitempty"`
	SummaryHistory   []domain.SummaryEntry          `json:"summary_history,omitempty"`
	VectorStoreID    *string                        `json:"vector_store_id,omitempty"`
	UploadedFiles    map[string]domain.UploadedFile `json:"uploaded_file_index,omitempty"`
	TopicSuggestions []string                       `json:"topic_suggestions,omitempty"`
}

// TakeSnapshot copies the allow-listed fields of s.
func TakeSnapshot(s *domain.SessionState) Snapshot {
	turns := s.Conversation.TurnCount
	latency := s.LastLatency
	summary := s.Summary
	vs := s.VectorStoreID
	personas := s.Personas
	return Snapshot{
		Messages:         slices.Clone(s.Conversation.Messages),
		NextSpeaker:      s.Conversation.NextSpeaker,
		TurnCount:        &turns,
		LastLatency:      &latency,
		Settings:         &snapshotSettings{Settings: s.Settings, AutoMode: s.AutoRun.Enabled},
		Personas:         &personas,
		Summary:          &summary,
		SummaryHistory:   slices.Clone(s.SummaryHistory),
		VectorStoreID:    &vs,
		UploadedFiles:    maps.Clone(s.UploadedFiles),
		TopicSuggestions: slices.Clone(s.TopicSuggestions),
	}
}

// Encode returns the JSON body and its content hash.
func (snap Snapshot) Encode() (string, string, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return "", "", fmt.Errorf("encode snapshot: %w", err)
	}
	sum := sha256.Sum256(raw)
	return string(raw), hex.EncodeToString(sum[:]), nil
}

// DecodeSnapshot parses a stored body. Missing keys stay nil.
func DecodeSnapshot(body string) (Snapshot, error) {
	var snap Snapshot
	if body == "" {
		return snap, nil
	}
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

// MergeInto fills fields of live that still hold the fresh defaults. Fields the
// live session already changed are kept. Auto-run comes back armed.
func (snap Snapshot) MergeInto(live, fresh *domain.SessionState) {
	if !live.Conversation.HasMessages() && len(snap.Messages) > 0 {
		live.Conversation.Messages = slices.Clone(snap.Messages)
		if snap.NextSpeaker != "" {
			live.Conversation.NextSpeaker = snap.NextSpeaker
		}
		live.Conversation.Normalize()
	}
	if snap.LastLatency != nil && live.LastLatency == 0 {
		live.LastLatency = *snap.LastLatency
	}
	if snap.Settings != nil && live.Settings == fresh.Settings {
		live.Settings = snap.Settings.Settings.Normalize()
		if snap.Settings.AutoMode && !live.AutoRun.Enabled {
			live.AutoRun.Enabled = true
			live.AutoRun.ClearWait()
			live.AutoRun.ClearInProgress()
		}
	}
	if snap.Personas != nil && live.Personas == fresh.Personas {
		p := *snap.Personas
		if p.A == "" {
			p.A = fresh.Personas.A
		}
		if p.B == "" {
			p.B = fresh.Personas.B
		}
		live.Personas = p
	}
	if snap.Summary != nil && live.Summary == "" {
		live.Summary = *snap.Summary
	}
	if len(snap.SummaryHistory) > 0 && len(live.SummaryHistory) == 0 {
		live.SummaryHistory = slices.Clone(snap.SummaryHistory)
	}
	if snap.VectorStoreID != nil && live.VectorStoreID == "" {
		live.VectorStoreID = *snap.VectorStoreID
	}
	if len(snap.UploadedFiles) > 0 && len(live.UploadedFiles) == 0 {
		live.UploadedFiles = maps.Clone(snap.UploadedFiles)
	}
	if len(snap.TopicSuggestions) > 0 && len(live.TopicSuggestions) == 0 {
		live.TopicSuggestions = slices.Clone(snap.TopicSuggestions)
	}
}
