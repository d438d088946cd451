// Package session owns the live talk show sessions. Every operation on a
// session runs under that session's lock; model and speech calls run with
// the lock released.
package session

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/triadic/internal/autorun"
	"github.com/ashureev/triadic/internal/domain"
	"github.com/ashureev/triadic/internal/events"
	"github.com/ashureev/triadic/internal/gateway"
	"github.com/ashureev/triadic/internal/live"
	"github.com/ashureev/triadic/internal/metrics"
	"github.com/ashureev/triadic/internal/prompt"
	"github.com/ashureev/triadic/internal/store"
	"github.com/ashureev/triadic/internal/transcript"
	"github.com/ashureev/triadic/internal/turn"
)

// Turn origins recorded in metrics and events.
const (
	OriginManual = "manual"
	OriginHost   = "host"
	OriginAuto   = "auto"
)

// TurnTimeout bounds a turn started in the background.
const TurnTimeout = 2 * time.Minute

// ErrTurnInProgress is returned when a manual turn finds another one running.
var ErrTurnInProgress = errors.New("session: a turn is already in progress")

// Publisher receives domain events.
type Publisher interface {
	Publish(ctx context.Context, ev events.Event) error
}

// Broadcaster pushes events to open browser tabs.
type Broadcaster interface {
	Broadcast(key, eventType string, data any) live.Event
}

// Recorder writes transcript log lines.
type Recorder interface {
	Log(ev transcript.Event)
}

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(string, string, any) live.Event { return live.Event{} }

type nopRecorder struct{}

func (nopRecorder) Log(transcript.Event) {}

// Key identifies one live session.
type Key struct {
	UserID    string
	SessionID string
}

func (k Key) String() string {
	return domain.SessionKey(k.UserID, k.SessionID)
}

type entry struct {
	mu       sync.Mutex
	state    *domain.SessionState
	gen      uint64 // bumped on reboot so older turn results are dropped
	lastHash string
	lastSeen time.Time

	loadOnce sync.Once
	saveMu   sync.Mutex
	indexMu  sync.Mutex
}

// Service manages sessions.
type Service struct {
	exec *turn.Executor
	gen  turn.Generator

	repo    store.Repository
	stt     gateway.Transcriber
	tts     gateway.Synthesizer
	indexer gateway.DocumentIndexer

	publisher Publisher
	hub       Broadcaster
	recorder  Recorder
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time

	settings  domain.Settings
	personas  domain.Personas
	heartbeat time.Duration

	mu       sync.Mutex
	sessions map[string]*entry
	wg       sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithStore enables snapshot persistence.
func WithStore(repo store.Repository) Option {
	return func(s *Service) { s.repo = repo }
}

// WithTranscriber enables voice input.
func WithTranscriber(t gateway.Transcriber) Option {
	return func(s *Service) { s.stt = t }
}

// WithSynthesizer enables on-demand speech for stored messages.
func WithSynthesizer(t gateway.Synthesizer) Option {
	return func(s *Service) { s.tts = t }
}

// WithIndexer enables document upload and file search.
func WithIndexer(i gateway.DocumentIndexer) Option {
	return func(s *Service) { s.indexer = i }
}

// WithPublisher sets the event publisher.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithBroadcaster sets the live hub.
func WithBroadcaster(b Broadcaster) Option {
	return func(s *Service) {
		if b != nil {
			s.hub = b
		}
	}
}

// WithRecorder sets the transcript log.
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithHeartbeat sets how often a running turn reports that it is alive.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.heartbeat = d
		}
	}
}

// WithDefaults sets the settings and personas a fresh session starts with.
func WithDefaults(settings domain.Settings, personas domain.Personas) Option {
	return func(s *Service) {
		s.settings = settings.Normalize()
		if personas.A != "" {
			s.personas.A = personas.A
		}
		if personas.B != "" {
			s.personas.B = personas.B
		}
	}
}

// New creates a Service. gen is used directly for summaries and topics.
func New(exec *turn.Executor, gen turn.Generator, opts ...Option) *Service {
	s := &Service{
		exec:      exec,
		gen:       gen,
		hub:       nopBroadcaster{},
		recorder:  nopRecorder{},
		logger:    slog.Default(),
		now:       time.Now,
		settings:  domain.DefaultSettings(),
		personas:  prompt.DefaultPersonas(),
		heartbeat: autorun.StuckThreshold / 3,
		sessions:  make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) fresh(userID, sessionID string) *domain.SessionState {
	st := domain.NewSessionState(userID, sessionID, s.personas)
	st.Settings = s.settings
	return st
}

// get returns the live entry for the pair, restoring it from storage the
// first time it is seen. It counts as client activity for idle eviction.
func (s *Service) get(ctx context.Context, userID, sessionID string) (*entry, error) {
	return s.lookup(ctx, userID, sessionID, true)
}

// lookup is get with control over whether the access refreshes idleness.
// A new entry is always stamped as seen.
func (s *Service) lookup(ctx context.Context, userID, sessionID string, touch bool) (*entry, error) {
	if userID == "" || sessionID == "" {
		return nil, domain.NewError(domain.KindValidation, "missing session identity", nil)
	}
	key := domain.SessionKey(userID, sessionID)

	s.mu.Lock()
	e, ok := s.sessions[key]
	if !ok {
		e = &entry{state: s.fresh(userID, sessionID), lastSeen: s.now()}
		s.sessions[key] = e
		s.metrics.SetActiveSessions(len(s.sessions))
	}
	if touch {
		e.lastSeen = s.now()
	}
	s.mu.Unlock()

	e.loadOnce.Do(func() { s.restore(ctx, e) })
	return e, nil
}

func (s *Service) restore(ctx context.Context, e *entry) {
	if s.repo == nil {
		return
	}
	userID, sessionID := e.state.UserID, e.state.SessionID
	rec, err := s.repo.GetSession(ctx, userID, sessionID)
	if err != nil {
		s.logger.Warn("Failed to load session snapshot", "user_id", userID, "session_id", sessionID, "error", err)
		return
	}
	if rec == nil {
		return
	}
	snap, err := store.DecodeSnapshot(rec.StateJSON)
	if err != nil {
		s.logger.Warn("Discarding unreadable session snapshot", "user_id", userID, "session_id", sessionID, "error", err)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	snap.MergeInto(e.state, s.fresh(userID, sessionID))
	e.lastHash = rec.ContentHash
	s.logger.Info("Session restored", "user_id", userID, "session_id", sessionID,
		"messages", len(e.state.Conversation.Messages), "auto_run", e.state.AutoRun.Enabled)
}

// View is the read model of a session.
type View struct {
	UserID           string                `json:"user_id"`
	SessionID        string                `json:"session_id"`
	Messages         []domain.Message      `json:"messages"`
	NextSpeaker      domain.SpeakerKey     `json:"next_speaker"`
	TurnCount        int                   `json:"turn_count"`
	Phase            autorun.Phase         `json:"phase"`
	AutoRun          domain.AutoRunState   `json:"autorun"`
	WaitRemaining    float64               `json:"wait_remaining_seconds"`
	Settings         domain.Settings       `json:"settings"`
	Personas         domain.Personas       `json:"personas"`
	Summary          string                `json:"summary"`
	TopicSuggestions []string              `json:"topic_suggestions"`
	Documents        []domain.UploadedFile `json:"documents"`
	LastLatency      float64               `json:"last_latency"`
}

// viewLocked builds the view. Callers hold e.mu.
func (s *Service) viewLocked(e *entry) View {
	st := e.state
	docs := slices.Collect(maps.Values(st.UploadedFiles))
	sort.Slice(docs, func(i, j int) bool { return docs[i].Name < docs[j].Name })
	if docs == nil {
		docs = []domain.UploadedFile{}
	}
	return View{
		UserID:           st.UserID,
		SessionID:        st.SessionID,
		Messages:         slices.Clone(st.Conversation.Messages),
		NextSpeaker:      st.Conversation.NextSpeaker,
		TurnCount:        st.Conversation.TurnCount,
		Phase:            autorun.PhaseOf(st),
		AutoRun:          st.AutoRun,
		WaitRemaining:    autorun.Remaining(st, s.now()).Seconds(),
		Settings:         st.Settings,
		Personas:         st.Personas,
		Summary:          st.Summary,
		TopicSuggestions: slices.Clone(st.TopicSuggestions),
		Documents:        docs,
		LastLatency:      st.LastLatency,
	}
}

// View returns the current state of a session.
func (s *Service) View(ctx context.Context, userID, sessionID string) (View, error) {
	e, err := s.get(ctx, userID, sessionID)
	if err != nil {
		return View{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return s.viewLocked(e), nil
}

// ActiveKeys lists the sessions held in memory.
func (s *Service) ActiveKeys() []Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]Key, 0, len(s.sessions))
	for _, e := range s.sessions {
		keys = append(keys, Key{UserID: e.state.UserID, SessionID: e.state.SessionID})
	}
	return keys
}

// Evict saves and drops one session from memory.
func (s *Service) Evict(ctx context.Context, userID, sessionID string) {
	key := domain.SessionKey(userID, sessionID)
	s.mu.Lock()
	e, ok := s.sessions[key]
	s.mu.Unlock()
	if !ok {
		return
	}
	s.persist(ctx, e)

	s.mu.Lock()
	delete(s.sessions, key)
	s.metrics.SetActiveSessions(len(s.sessions))
	s.mu.Unlock()
	if c, ok := s.hub.(interface{ Close(string) }); ok {
		c.Close(key)
	}
	s.logger.Info("Session evicted", "user_id", userID, "session_id", sessionID)
}

// EvictIdle drops sessions no client touched within ttl. Auto-run ticks do
// not count as activity. Sessions with a running turn are kept.
func (s *Service) EvictIdle(ctx context.Context, ttl time.Duration) int {
	now := s.now()
	var idle []Key
	s.mu.Lock()
	for _, e := range s.sessions {
		if now.Sub(e.lastSeen) > ttl {
			idle = append(idle, Key{UserID: e.state.UserID, SessionID: e.state.SessionID})
		}
	}
	s.mu.Unlock()

	evicted := 0
	for _, k := range idle {
		s.mu.Lock()
		e, ok := s.sessions[k.String()]
		s.mu.Unlock()
		if !ok {
			continue
		}
		e.mu.Lock()
		busy := e.state.AutoRun.TurnInProgress && !autorun.IsStuck(e.state.AutoRun, now)
		e.mu.Unlock()
		if busy {
			continue
		}
		s.Evict(ctx, k.UserID, k.SessionID)
		evicted++
	}
	return evicted
}

// Wait blocks until background turns have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}
