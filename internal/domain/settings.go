package domain

import "slices"

const (
	DefaultModel           = "gpt-5-mini"
	DefaultEffort          = "low"
	DefaultVerbosity       = "medium"
	DefaultAutoDelay       = 4.0
	MinAutoDelay           = 2.0
	MaxAutoDelay           = 15.0
	DefaultSummaryInterval = 5
	MinSummaryInterval     = 3
	MaxSummaryInterval     = 20
)

var (
	// Models lists the selectable model names.
	Models = []string{"gpt-5-mini", "gpt-5-nano", "gpt-5.1"}
	// Efforts lists the selectable reasoning effort levels.
	Efforts = []string{"minimal", "low", "medium", "high"}
	// Verbosities lists the selectable text verbosity levels.
	Verbosities = []string{"low", "medium", "high"}
)

// Voices maps each AI persona to its speech voice.
type Voices struct {
	A string `json:"gpt_a"`
	B string `json:"gpt_b"`
}

// For returns the voice configured for speaker.
func (v Voices) For(speaker SpeakerKey) string {
	if speaker == SpeakerB {
		return v.B
	}
	return v.A
}

// Settings is the per-session tuning record.
type Settings struct {
	ModelName               string  `json:"model_name"`
	ReasoningEffort         string  `json:"reasoning_effort"`
	TextVerbosity           string  `json:"text_verbosity"`
	StreamEnabled           bool    `json:"stream_enabled"`
	TTSEnabled              bool    `json:"tts_enabled"`
	TTSAutoplay             bool    `json:"tts_autoplay"`
	WebSearchEnabled        bool    `json:"web_search_enabled"`
	ReasoningSummaryEnabled bool    `json:"reasoning_summary_enabled"`
	AutoDelay               float64 `json:"auto_delay"`
	SummaryInterval         int     `json:"summary_interval"`
	Voices                  Voices  `json:"voices"`
}

// DefaultSettings returns the settings a fresh session starts with.
func DefaultSettings() Settings {
	return Settings{
		ModelName:       DefaultModel,
		ReasoningEffort: DefaultEffort,
		TextVerbosity:   DefaultVerbosity,
		StreamEnabled:   true,
		AutoDelay:       DefaultAutoDelay,
		SummaryInterval: DefaultSummaryInterval,
		Voices:          Voices{A: "alloy", B: "verse"},
	}
}

// Normalize replaces out-of-range values with defaults. It never fails.
func (s Settings) Normalize() Settings {
	def := DefaultSettings()
	if !slices.Contains(Models, s.ModelName) {
		s.ModelName = def.ModelName
	}
	if !slices.Contains(Efforts, s.ReasoningEffort) {
		s.ReasoningEffort = def.ReasoningEffort
	}
	if !slices.Contains(Verbosities, s.TextVerbosity) {
		s.TextVerbosity = def.TextVerbosity
	}
	if s.AutoDelay < MinAutoDelay || s.AutoDelay > MaxAutoDelay {
		s.AutoDelay = def.AutoDelay
	}
	if s.SummaryInterval < MinSummaryInterval || s.SummaryInterval > MaxSummaryInterval {
		s.SummaryInterval = def.SummaryInterval
	}
	if s.Voices.A == "" {
		s.Voices.A = def.Voices.A
	}
	if s.Voices.B == "" {
		s.Voices.B = def.Voices.B
	}
	return s
}

// IsModel reports whether name is a selectable model.
func IsModel(name string) bool {
	return slices.Contains(Models, name)
}
