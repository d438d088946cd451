// Package turn runs a single AI turn: prompt, model call, optional speech.
package turn

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/ashureev/triadic/internal/domain"
	"github.com/ashureev/triadic/internal/gateway"
	"github.com/ashureev/triadic/internal/prompt"
)

// DeltaBatch is the number of stream deltas grouped into one onDelta call.
const DeltaBatch = 5

// Generator is the retrying model gateway.
type Generator interface {
	Generate(ctx context.Context, prompt string, cfg gateway.Config) (string, error)
	GenerateStream(ctx context.Context, prompt string, cfg gateway.Config) iter.Seq2[string, error]
}

// IndexResolver returns the retrieval index for the session, creating it if needed.
type IndexResolver func(ctx context.Context) (string, error)

// Inputs is the copy of session state a turn works from.
type Inputs struct {
	Speaker       domain.SpeakerKey
	History       []domain.Message
	Settings      domain.Settings
	Personas      domain.Personas
	VectorStoreID string
	HasDocuments  bool
	StartedAt     time.Time
}

// Result is the outcome of one turn. A failed turn carries error content and
// must not be appended to the transcript.
type Result struct {
	Speaker   domain.SpeakerKey
	Content   string
	Audio     []byte
	Prompt    string
	Tools     []domain.Tool
	StartedAt time.Time
	Elapsed   time.Duration
	Err       error
}

// Failed reports whether the turn produced error content.
func (r Result) Failed() bool {
	return r.Err != nil
}

// Executor runs turns. It never mutates the transcript.
type Executor struct {
	gen     Generator
	builder *prompt.Builder
	tts     gateway.Synthesizer
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithSynthesizer enables speech for turns whose settings ask for it.
func WithSynthesizer(tts gateway.Synthesizer) Option {
	return func(e *Executor) { e.tts = tts }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// NewExecutor creates an Executor.
func NewExecutor(gen Generator, builder *prompt.Builder, opts ...Option) *Executor {
	e := &Executor{
		gen:     gen,
		builder: builder,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Begin marks a turn in progress and copies what it needs. It returns false
// without side effects when a turn is already running. Callers hold the
// session lock.
func (e *Executor) Begin(s *domain.SessionState) (Inputs, bool) {
	if s.AutoRun.TurnInProgress {
		return Inputs{}, false
	}
	now := e.now()
	s.AutoRun.MarkInProgress(now)
	return Inputs{
		Speaker:       s.Conversation.NextSpeaker,
		History:       slices.Clone(s.Conversation.Messages),
		Settings:      s.Settings.Normalize(),
		Personas:      s.Personas,
		VectorStoreID: s.VectorStoreID,
		HasDocuments:  len(s.UploadedFiles) > 0,
		StartedAt:     now,
	}, true
}

// End clears the in-progress flag if it still belongs to the turn that began
// at in.StartedAt. Callers hold the session lock.
func End(s *domain.SessionState, in Inputs) {
	if Owns(s, in) {
		s.AutoRun.ClearInProgress()
	}
}

// Owns reports whether the in-progress flag still belongs to the turn that
// began at in.StartedAt. It is false once stuck recovery or a reboot took the
// flag away. Callers hold the session lock.
func Owns(s *domain.SessionState, in Inputs) bool {
	return s.AutoRun.TurnInProgress && s.AutoRun.TurnStartedAt.Equal(in.StartedAt)
}

// Heartbeat marks the turn as alive at now if it still owns the flag.
// Callers hold the session lock.
func Heartbeat(s *domain.SessionState, in Inputs, now time.Time) bool {
	if !Owns(s, in) {
		return false
	}
	s.AutoRun.TurnHeartbeat = now
	return true
}

// Run performs the turn without touching session state.
func (e *Executor) Run(ctx context.Context, in Inputs, resolve IndexResolver, onDelta func(string)) (res Result) {
	res = Result{Speaker: in.Speaker, StartedAt: in.StartedAt}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Turn panicked", "speaker", in.Speaker, "panic", r)
			res.Content = domain.SystemErrorContent(fmt.Sprint(r))
			res.Audio = nil
			res.Err = domain.NewError(domain.KindGeneration, "turn panicked", fmt.Errorf("%v", r))
		}
		res.Elapsed = e.now().Sub(in.StartedAt)
	}()

	if !in.Speaker.IsAI() {
		res.Content = domain.SystemErrorContent("next speaker is not an AI persona")
		res.Err = domain.NewError(domain.KindSession, "next speaker is not an AI persona", nil)
		return res
	}

	var vsID string
	res.Tools, vsID = e.resolveTools(ctx, in, resolve)
	res.Prompt = e.builder.Build(in.Speaker, in.History, res.Tools, in.Personas)
	cfg := gateway.ConfigFromSettings(in.Settings, res.Tools, vsID)

	var content string
	var err error
	if in.Settings.StreamEnabled {
		content, err = e.stream(ctx, res.Prompt, cfg, onDelta)
	} else {
		content, err = e.gen.Generate(ctx, res.Prompt, cfg)
	}
	if err != nil {
		e.logger.Warn("Turn failed", "speaker", in.Speaker, "error", err)
		res.Content = domain.ErrorContent(domain.ReasonOf(err))
		res.Err = err
		return res
	}

	content = strings.TrimSpace(content)
	if content == "" {
		res.Content = domain.SystemErrorContent("model returned an empty reply")
		res.Err = domain.NewError(domain.KindGeneration, "model returned an empty reply", nil)
		return res
	}
	res.Content = content

	if in.Settings.TTSEnabled && e.tts != nil {
		audio, err := e.tts.Synthesize(ctx, content, in.Settings.Voices.For(in.Speaker))
		if err != nil {
			e.logger.Warn("Speech synthesis failed, continuing without audio", "speaker", in.Speaker, "error", err)
		} else {
			res.Audio = audio
		}
	}
	return res
}

// Execute runs Begin, Run and End for callers that already serialize access
// to s. It returns false when a turn was already in progress.
func (e *Executor) Execute(ctx context.Context, s *domain.SessionState, resolve IndexResolver, onDelta func(string)) (Result, bool) {
	in, ok := e.Begin(s)
	if !ok {
		return Result{}, false
	}
	defer End(s, in)
	return e.Run(ctx, in, resolve, onDelta), true
}

// resolveTools picks the tools for this turn. A document index that cannot be
// resolved drops file_search for the turn only.
func (e *Executor) resolveTools(ctx context.Context, in Inputs, resolve IndexResolver) ([]domain.Tool, string) {
	var tools []domain.Tool
	if in.Settings.WebSearchEnabled {
		tools = append(tools, domain.ToolWebSearch)
	}
	vsID := in.VectorStoreID
	if vsID == "" && in.HasDocuments && resolve != nil {
		id, err := resolve(ctx)
		if err != nil {
			e.logger.Warn("Document index unavailable, skipping file search", "error", err)
		} else {
			vsID = id
		}
	}
	if vsID != "" {
		tools = append(tools, domain.ToolFileSearch)
	}
	return tools, vsID
}

func (e *Executor) stream(ctx context.Context, p string, cfg gateway.Config, onDelta func(string)) (string, error) {
	var full, batch strings.Builder
	pending := 0
	flush := func() {
		if pending == 0 {
			return
		}
		if onDelta != nil {
			onDelta(batch.String())
		}
		batch.Reset()
		pending = 0
	}

	for delta, err := range e.gen.GenerateStream(ctx, p, cfg) {
		if err != nil {
			return "", err
		}
		full.WriteString(delta)
		batch.WriteString(delta)
		pending++
		if pending >= DeltaBatch {
			flush()
		}
	}
	flush()
	return full.String(), nil
}
