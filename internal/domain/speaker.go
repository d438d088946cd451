// Package domain contains core domain types for the triadic talk show server.
package domain

// SpeakerKey identifies a conversation participant.
type SpeakerKey string

const (
	SpeakerHost SpeakerKey = "host"
	SpeakerA    SpeakerKey = "gpt_a"
	SpeakerB    SpeakerKey = "gpt_b"
)

// Label returns the display label used in transcripts and prompts.
func (s SpeakerKey) Label() string {
	switch s {
	case SpeakerHost:
		return "Host"
	case SpeakerA:
		return "GPT-A"
	case SpeakerB:
		return "GPT-B"
	default:
		return string(s)
	}
}

// IsAI reports whether the speaker is one of the two AI personas.
func (s SpeakerKey) IsAI() bool {
	return s == SpeakerA || s == SpeakerB
}

// Valid reports whether s is a known speaker.
func (s SpeakerKey) Valid() bool {
	return s == SpeakerHost || s.IsAI()
}

// ParseSpeaker converts a raw value into a SpeakerKey.
func ParseSpeaker(v string) (SpeakerKey, bool) {
	s := SpeakerKey(v)
	return s, s.Valid()
}

// NextSpeaker maps the last speaker to the AI persona that speaks next.
// Unknown input defaults to persona A.
func NextSpeaker(last SpeakerKey) SpeakerKey {
	switch last {
	case SpeakerA:
		return SpeakerB
	case SpeakerB:
		return SpeakerA
	default:
		return SpeakerA
	}
}
