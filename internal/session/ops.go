package session

import (
	"context"
	"slices"
	"strings"

	"github.com/ashureev/triadic/internal/autorun"
	"github.com/ashureev/triadic/internal/domain"
	"github.com/ashureev/triadic/internal/events"
	"github.com/ashureev/triadic/internal/gateway"
	"github.com/ashureev/triadic/internal/live"
	"github.com/ashureev/triadic/internal/prompt"
	"github.com/ashureev/triadic/internal/transcript"
)

// ErrMessageNotFound is returned for an unknown message id.
var ErrMessageNotFound = domain.NewError(domain.KindSession, "message not found", nil)

// SetAutoRun switches auto-run on or off.
func (s *Service) SetAutoRun(ctx context.Context, userID, sessionID string, enabled bool) (View, error) {
	e, err := s.get(ctx, userID, sessionID)
	if err != nil {
		return View{}, err
	}
	e.mu.Lock()
	if enabled {
		if err := autorun.Enable(e.state, s.now()); err != nil {
			e.mu.Unlock()
			return View{}, err
		}
	} else {
		autorun.Disable(e.state)
	}
	v := s.viewLocked(e)
	e.mu.Unlock()

	s.publish(ctx, events.NewEvent(events.AutoRunChanged, domain.SessionKey(userID, sessionID), map[string]any{
		"enabled": enabled,
		"phase":   v.Phase,
	}))
	s.broadcastState(e)
	s.persist(ctx, e)
	return v, nil
}

// SettingsPatch carries the settings fields a client wants changed.
type SettingsPatch struct {
	ModelName               *string        `json:"model_name,omitempty"`
	ReasoningEffort         *string        `json:"reasoning_effort,omitempty"`
	TextVerbosity           *string        `json:"text_verbosity,omitempty"`
	StreamEnabled           *bool          `json:"stream_enabled,omitempty"`
	TTSEnabled              *bool          `json:"tts_enabled,omitempty"`
	TTSAutoplay             *bool          `json:"tts_autoplay,omitempty"`
	WebSearchEnabled        *bool          `json:"web_search_enabled,omitempty"`
	ReasoningSummaryEnabled *bool          `json:"reasoning_summary_enabled,omitempty"`
	AutoDelay               *float64       `json:"auto_delay,omitempty"`
	SummaryInterval         *int           `json:"summary_interval,omitempty"`
	Voices                  *domain.Voices `json:"voices,omitempty"`
}

// Apply returns base with the patch applied and normalized.
func (p SettingsPatch) Apply(base domain.Settings) domain.Settings {
	setIf(&base.ModelName, p.ModelName)
	setIf(&base.ReasoningEffort, p.ReasoningEffort)
	setIf(&base.TextVerbosity, p.TextVerbosity)
	setIf(&base.StreamEnabled, p.StreamEnabled)
	setIf(&base.TTSEnabled, p.TTSEnabled)
	setIf(&base.TTSAutoplay, p.TTSAutoplay)
	setIf(&base.WebSearchEnabled, p.WebSearchEnabled)
	setIf(&base.ReasoningSummaryEnabled, p.ReasoningSummaryEnabled)
	setIf(&base.AutoDelay, p.AutoDelay)
	setIf(&base.SummaryInterval, p.SummaryInterval)
	if p.Voices != nil {
		if p.Voices.A != "" {
			base.Voices.A = p.Voices.A
		}
		if p.Voices.B != "" {
			base.Voices.B = p.Voices.B
		}
	}
	return base.Normalize()
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// UpdateSettings applies a patch. Out-of-range values fall back to defaults.
func (s *Service) UpdateSettings(ctx context.Context, userID, sessionID string, patch SettingsPatch) (domain.Settings, error) {
	e, err := s.get(ctx, userID, sessionID)
	if err != nil {
		return domain.Settings{}, err
	}
	e.mu.Lock()
	e.state.Settings = patch.Apply(e.state.Settings)
	out := e.state.Settings
	e.mu.Unlock()

	s.broadcastState(e)
	s.persist(ctx, e)
	return out, nil
}

// UpdatePersonas replaces persona texts. An empty text restores the default.
func (s *Service) UpdatePersonas(ctx context.Context, userID, sessionID string, p domain.Personas) (domain.Personas, error) {
	e, err := s.get(ctx, userID, sessionID)
	if err != nil {
		return domain.Personas{}, err
	}
	if strings.TrimSpace(p.A) == "" {
		p.A = s.personas.A
	}
	if strings.TrimSpace(p.B) == "" {
		p.B = s.personas.B
	}
	e.mu.Lock()
	e.state.Personas = p
	e.mu.Unlock()

	s.persist(ctx, e)
	return p, nil
}

// Reboot clears the conversation and switches auto-run off. A turn still
// running is discarded when it returns.
func (s *Service) Reboot(ctx context.Context, userID, sessionID string) (View, error) {
	e, err := s.get(ctx, userID, sessionID)
	if err != nil {
		return View{}, err
	}
	e.mu.Lock()
	e.gen++
	autorun.Disable(e.state)
	e.state.Reboot()
	e.state.TopicSuggestions = nil
	v := s.viewLocked(e)
	e.mu.Unlock()

	key := domain.SessionKey(userID, sessionID)
	s.publish(ctx, events.NewEvent(events.SessionRebooted, key, nil))
	s.recorder.Log(transcript.Event{UserID: userID, SessionID: sessionID, EventType: transcript.EventReboot})
	s.broadcastState(e)
	s.persist(ctx, e)
	s.logger.Info("Session rebooted", "user_id", userID, "session_id", sessionID)
	return v, nil
}

// Transcribe converts recorded audio to a host message. It does not start a
// turn. A transcript repeating the last host message returns that message.
func (s *Service) Transcribe(ctx context.Context, userID, sessionID string, audio []byte, filename string) (domain.Message, error) {
	if s.stt == nil {
		return domain.Message{}, domain.NewError(domain.KindConfiguration, "speech transcription is not configured", nil)
	}
	if len(audio) == 0 {
		return domain.Message{}, domain.NewError(domain.KindValidation, "audio is empty", nil)
	}
	e, err := s.get(ctx, userID, sessionID)
	if err != nil {
		return domain.Message{}, err
	}

	text, err := s.stt.Transcribe(ctx, audio, filename)
	if err != nil {
		s.metrics.RecordSTTFailure()
		if kind, ok := domain.KindOf(err); ok && kind == domain.KindConfiguration {
			return domain.Message{}, err
		}
		return domain.Message{}, domain.NewError(domain.KindTranscription, "transcription failed", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		s.metrics.RecordSTTFailure()
		return domain.Message{}, domain.NewError(domain.KindTranscription, "no speech detected", nil)
	}

	e.mu.Lock()
	msg, added := e.state.Conversation.AddMessage(domain.SpeakerHost, text, nil, s.now())
	key := e.state.Key()
	if !added {
		last, ok := e.state.Conversation.LastFrom(domain.SpeakerHost)
		e.mu.Unlock()
		if ok && last.Content == text {
			return last, nil
		}
		return domain.Message{}, domain.NewError(domain.KindValidation, "transcribed message rejected", nil)
	}
	e.mu.Unlock()

	s.hub.Broadcast(key, live.TypeMessage, msg)
	s.recorder.Log(transcript.Event{
		UserID: userID, SessionID: sessionID, Speaker: string(domain.SpeakerHost),
		EventType: transcript.EventHostMessage, ContentRaw: text,
		Meta: map[string]string{"source": "voice"},
	})
	s.persist(ctx, e)
	return msg, nil
}

// Document is one uploaded file.
type Document struct {
	Name    string
	Content []byte
}

// IndexReport lists the outcome of each uploaded document.
type IndexReport struct {
	VectorStoreID string                `json:"vector_store_id"`
	Uploaded      []domain.UploadedFile `json:"uploaded"`
	Skipped       []string              `json:"skipped"`
	Failed        map[string]string     `json:"failed"`
}

// IndexDocuments uploads documents to the session's index. Files already
// indexed under the same name and size are skipped.
func (s *Service) IndexDocuments(ctx context.Context, userID, sessionID string, docs []Document) (IndexReport, error) {
	if s.indexer == nil {
		return IndexReport{}, domain.NewError(domain.KindConfiguration, "document indexing is not configured", nil)
	}
	if len(docs) == 0 {
		return IndexReport{}, domain.NewError(domain.KindValidation, "no documents provided", nil)
	}
	e, err := s.get(ctx, userID, sessionID)
	if err != nil {
		return IndexReport{}, err
	}
	e.mu.Lock()
	gen := e.gen
	e.mu.Unlock()

	report := IndexReport{Uploaded: []domain.UploadedFile{}, Skipped: []string{}, Failed: map[string]string{}}
	vsID, err := s.ensureIndex(ctx, e, gen)
	if err != nil {
		return report, err
	}
	report.VectorStoreID = vsID

	for _, doc := range docs {
		name := domain.SanitizeFilename(doc.Name)
		size := int64(len(doc.Content))
		key := domain.FileKey(name, size)

		e.mu.Lock()
		_, seen := e.state.UploadedFiles[key]
		e.mu.Unlock()
		if seen {
			report.Skipped = append(report.Skipped, name)
			continue
		}

		fileID, err := s.indexer.AddDocument(ctx, vsID, name, doc.Content)
		if err != nil {
			s.logger.Warn("Document upload failed", "file", name, "error", err)
			report.Failed[name] = err.Error()
			continue
		}
		f := domain.UploadedFile{Name: name, Size: size, FileID: fileID, UploadedAt: s.now()}
		e.mu.Lock()
		if e.state.UploadedFiles == nil {
			e.state.UploadedFiles = map[string]domain.UploadedFile{}
		}
		e.state.UploadedFiles[key] = f
		e.mu.Unlock()
		report.Uploaded = append(report.Uploaded, f)
	}

	s.persist(ctx, e)
	if len(report.Uploaded) == 0 && len(report.Failed) > 0 {
		return report, domain.NewError(domain.KindIndexing, "no document could be indexed", nil)
	}
	return report, nil
}

// SuggestTopics asks the model for discussion topics. Model failures fall
// back to the fixed topic list.
func (s *Service) SuggestTopics(ctx context.Context, userID, sessionID string) ([]string, error) {
	e, err := s.get(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	hasDocs := len(e.state.UploadedFiles) > 0
	vsID := e.state.VectorStoreID
	model := e.state.Settings.Normalize().ModelName
	e.mu.Unlock()

	cfg := gateway.Config{Model: model, Effort: "minimal", Verbosity: "low"}
	if hasDocs && vsID != "" {
		cfg.Tools = []domain.Tool{domain.ToolFileSearch}
		cfg.VectorStoreID = vsID
	}
	topics := prompt.Fallback()
	text, err := s.gen.Generate(ctx, prompt.Topics(hasDocs && vsID != ""), cfg)
	if err != nil {
		s.logger.Warn("Topic suggestion failed, using fallback topics", "error", err)
	} else {
		topics = prompt.ParseTopics(text)
	}

	e.mu.Lock()
	e.state.TopicSuggestions = slices.Clone(topics)
	e.mu.Unlock()
	s.persist(ctx, e)
	return topics, nil
}

// Message returns one transcript message.
func (s *Service) Message(ctx context.Context, userID, sessionID, id string) (domain.Message, error) {
	e, err := s.get(ctx, userID, sessionID)
	if err != nil {
		return domain.Message{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	msg, ok := e.state.Conversation.Find(id)
	if !ok {
		return domain.Message{}, ErrMessageNotFound
	}
	return msg, nil
}

// SynthesizeMessage attaches speech to a stored message if it has none.
func (s *Service) SynthesizeMessage(ctx context.Context, userID, sessionID, id string) (domain.Message, error) {
	msg, err := s.Message(ctx, userID, sessionID, id)
	if err != nil {
		return domain.Message{}, err
	}
	if msg.HasAudio() {
		return msg, nil
	}
	if s.tts == nil {
		return domain.Message{}, domain.NewError(domain.KindConfiguration, "speech synthesis is not configured", nil)
	}
	e, err := s.get(ctx, userID, sessionID)
	if err != nil {
		return domain.Message{}, err
	}
	e.mu.Lock()
	voice := e.state.Settings.Normalize().Voices.For(msg.Speaker)
	e.mu.Unlock()

	audio, err := s.tts.Synthesize(ctx, msg.Content, voice)
	if err != nil {
		s.metrics.RecordSynthFailure()
		return domain.Message{}, domain.NewError(domain.KindSynthesis, "speech synthesis failed", err)
	}

	e.mu.Lock()
	attached := e.state.Conversation.AttachAudio(id, audio)
	e.mu.Unlock()
	if !attached {
		return domain.Message{}, ErrMessageNotFound
	}
	msg.Audio = audio
	s.persist(ctx, e)
	return msg, nil
}

// Stats is the telemetry panel view.
type Stats struct {
	domain.ConversationStats
	Phase        autorun.Phase `json:"phase"`
	Summaries    int           `json:"summaries"`
	Documents    int           `json:"documents"`
	NextSpeaker  string        `json:"next_speaker"`
	AutoRunDelay float64       `json:"auto_delay"`
}

// Stats computes transcript statistics.
func (s *Service) Stats(ctx context.Context, userID, sessionID string) (Stats, error) {
	e, err := s.get(ctx, userID, sessionID)
	if err != nil {
		return Stats{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	st := Stats{
		ConversationStats: e.state.Conversation.Stats(),
		Phase:             autorun.PhaseOf(e.state),
		Summaries:         len(e.state.SummaryHistory),
		Documents:         len(e.state.UploadedFiles),
		NextSpeaker:       e.state.Conversation.NextSpeaker.Label(),
		AutoRunDelay:      e.state.Settings.Normalize().AutoDelay,
	}
	st.LastLatency = e.state.LastLatency
	return st, nil
}

// Summaries returns the current summary and its history.
func (s *Service) Summaries(ctx context.Context, userID, sessionID string) (string, []domain.SummaryEntry, error) {
	e, err := s.get(ctx, userID, sessionID)
	if err != nil {
		return "", nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	history := slices.Clone(e.state.SummaryHistory)
	if history == nil {
		history = []domain.SummaryEntry{}
	}
	return e.state.Summary, history, nil
}
