package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/triadic/internal/domain"
	"github.com/ashureev/triadic/internal/identity"
	"github.com/ashureev/triadic/internal/session"
)

const (
	maxAudioUpload    = 25 << 20
	maxDocumentUpload = 50 << 20
)

// Capabilities reports which optional providers are wired.
type Capabilities struct {
	Speech        bool `json:"speech"`
	Transcription bool `json:"transcription"`
	Documents     bool `json:"documents"`
}

// SessionHandler serves /api/session.
type SessionHandler struct {
	svc     *session.Service
	limiter *RateLimiter
	caps    Capabilities
}

// NewSessionHandler creates the session routes. limiter may be nil.
func NewSessionHandler(svc *session.Service, limiter *RateLimiter, caps Capabilities) *SessionHandler {
	return &SessionHandler{svc: svc, limiter: limiter, caps: caps}
}

// RegisterRoutes mounts the session API.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/config", h.GetConfig)
	r.Route("/api/session", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Post("/refresh", h.Refresh)
		r.Put("/autorun", h.SetAutoRun)
		r.Put("/settings", h.UpdateSettings)
		r.Put("/personas", h.UpdatePersonas)
		r.Post("/reboot", h.Reboot)
		r.Post("/transcribe", h.Transcribe)
		r.Post("/documents", h.UploadDocuments)
		r.Get("/topics", h.SuggestTopics)
		r.Get("/stats", h.Stats)
		r.Get("/summaries", h.Summaries)
		r.Post("/messages/{id}/audio", h.SynthesizeMessage)
		r.Get("/messages/{id}/audio", h.MessageAudio)

		r.Group(func(r chi.Router) {
			r.Use(h.rateLimit)
			r.Post("/messages", h.PostMessage)
			r.Post("/turn", h.RunTurn)
			r.Post("/topics/start", h.StartTopic)
		})
	})
}

func ids(r *http.Request) (string, string) {
	return identity.UserIDFromContext(r.Context()), identity.SessionIDFromContext(r.Context())
}

func (h *SessionHandler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limiter != nil && !h.limiter.Allow(identity.UserIDFromContext(r.Context())) {
			Error(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetConfig returns selectable values and enabled capabilities.
func (h *SessionHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"models":       domain.Models,
		"efforts":      domain.Efforts,
		"verbosities":  domain.Verbosities,
		"auto_delay":   map[string]float64{"min": domain.MinAutoDelay, "max": domain.MaxAutoDelay},
		"capabilities": h.caps,
	})
}

// GetSession returns the session view.
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	userID, sessionID := ids(r)
	v, err := h.svc.View(r.Context(), userID, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, v)
}

// Refresh runs one auto-run evaluation and returns the resulting view.
func (h *SessionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	userID, sessionID := ids(r)
	d, err := h.svc.Tick(r.Context(), userID, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	v, err := h.svc.View(r.Context(), userID, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"decision": d, "session": v})
}

type messageRequest struct {
	Content string `json:"content"`
}

// PostMessage appends a host message and runs the next turn.
func (h *SessionHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID, sessionID := ids(r)
	h.streamTurn(w, r, func(ctx context.Context, onDelta func(string)) (session.TurnOutcome, error) {
		return h.svc.PostHostMessage(ctx, userID, sessionID, req.Content, onDelta)
	})
}

// RunTurn runs one manual turn.
func (h *SessionHandler) RunTurn(w http.ResponseWriter, r *http.Request) {
	userID, sessionID := ids(r)
	h.streamTurn(w, r, func(ctx context.Context, onDelta func(string)) (session.TurnOutcome, error) {
		return h.svc.RunTurn(ctx, userID, sessionID, onDelta)
	})
}

type topicRequest struct {
	Topic string `json:"topic"`
}

// StartTopic opens a discussion on the chosen topic.
func (h *SessionHandler) StartTopic(w http.ResponseWriter, r *http.Request) {
	var req topicRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID, sessionID := ids(r)
	h.streamTurn(w, r, func(ctx context.Context, onDelta func(string)) (session.TurnOutcome, error) {
		return h.svc.StartTopic(ctx, userID, sessionID, req.Topic, onDelta)
	})
}

// sseStream writes server-sent events, sending headers on the first event.
type sseStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
	broken  bool
}

func (s *sseStream) send(event string, v any) {
	if s.broken {
		return
	}
	if !s.started {
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("Connection", "keep-alive")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed to marshal SSE payload", "event", event, "error", err)
		return
	}
	if err := writeSSE(s.w, event, string(data)); err != nil {
		slog.Debug("Failed to write SSE event", "event", event, "error", err)
		s.broken = true
		return
	}
	s.flusher.Flush()
}

func wantsStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// streamTurn runs fn and replies with JSON, or with delta/message/error/done
// events when the client accepts an event stream.
func (h *SessionHandler) streamTurn(w http.ResponseWriter, r *http.Request, fn func(context.Context, func(string)) (session.TurnOutcome, error)) {
	flusher, ok := w.(http.Flusher)
	if !wantsStream(r) || !ok {
		out, err := fn(r.Context(), nil)
		if err != nil {
			writeError(w, err)
			return
		}
		JSON(w, http.StatusOK, out)
		return
	}

	stream := &sseStream{w: w, flusher: flusher}
	out, err := fn(r.Context(), func(chunk string) {
		stream.send("delta", map[string]string{"text": chunk})
	})
	if err != nil {
		if !stream.started {
			writeError(w, err)
			return
		}
		stream.send("error", map[string]string{"error": domain.ReasonOf(err)})
		stream.send("done", map[string]bool{"ok": false})
		return
	}
	if out.Failed {
		stream.send("error", map[string]string{"error": out.Content})
	} else {
		stream.send("message", out)
	}
	stream.send("done", map[string]bool{"ok": !out.Failed})
}

type autorunRequest struct {
	Enabled bool `json:"enabled"`
}

// SetAutoRun toggles auto-run.
func (h *SessionHandler) SetAutoRun(w http.ResponseWriter, r *http.Request) {
	var req autorunRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID, sessionID := ids(r)
	v, err := h.svc.SetAutoRun(r.Context(), userID, sessionID, req.Enabled)
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, v)
}

// UpdateSettings applies a partial settings update.
func (h *SessionHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var patch session.SettingsPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	userID, sessionID := ids(r)
	s, err := h.svc.UpdateSettings(r.Context(), userID, sessionID, patch)
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, s)
}

// UpdatePersonas replaces persona texts.
func (h *SessionHandler) UpdatePersonas(w http.ResponseWriter, r *http.Request) {
	var p domain.Personas
	if !decodeJSON(w, r, &p) {
		return
	}
	userID, sessionID := ids(r)
	out, err := h.svc.UpdatePersonas(r.Context(), userID, sessionID, p)
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, out)
}

// Reboot resets the conversation.
func (h *SessionHandler) Reboot(w http.ResponseWriter, r *http.Request) {
	userID, sessionID := ids(r)
	v, err := h.svc.Reboot(r.Context(), userID, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, v)
}

// Transcribe turns an uploaded recording into a host message.
func (h *SessionHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAudioUpload)
	if err := r.ParseMultipartForm(maxAudioUpload); err != nil {
		Error(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		Error(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer func() { _ = file.Close() }()
	audio, err := io.ReadAll(file)
	if err != nil {
		Error(w, http.StatusBadRequest, "failed to read audio")
		return
	}

	userID, sessionID := ids(r)
	msg, err := h.svc.Transcribe(r.Context(), userID, sessionID, audio, header.Filename)
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, msg)
}

// UploadDocuments indexes uploaded files for file search.
func (h *SessionHandler) UploadDocuments(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxDocumentUpload)
	if err := r.ParseMultipartForm(maxDocumentUpload); err != nil {
		Error(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	var docs []session.Document
	for _, fh := range r.MultipartForm.File["files"] {
		f, err := fh.Open()
		if err != nil {
			Error(w, http.StatusBadRequest, "failed to open "+fh.Filename)
			return
		}
		content, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			Error(w, http.StatusBadRequest, "failed to read "+fh.Filename)
			return
		}
		docs = append(docs, session.Document{Name: fh.Filename, Content: content})
	}

	userID, sessionID := ids(r)
	report, err := h.svc.IndexDocuments(r.Context(), userID, sessionID, docs)
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, report)
}

// SuggestTopics returns topic suggestions.
func (h *SessionHandler) SuggestTopics(w http.ResponseWriter, r *http.Request) {
	userID, sessionID := ids(r)
	topics, err := h.svc.SuggestTopics(r.Context(), userID, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string][]string{"topics": topics})
}

// Stats returns transcript statistics.
func (h *SessionHandler) Stats(w http.ResponseWriter, r *http.Request) {
	userID, sessionID := ids(r)
	st, err := h.svc.Stats(r.Context(), userID, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, st)
}

// Summaries returns the rolling summary and its history.
func (h *SessionHandler) Summaries(w http.ResponseWriter, r *http.Request) {
	userID, sessionID := ids(r)
	current, history, err := h.svc.Summaries(r.Context(), userID, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"summary": current, "history": history})
}

// SynthesizeMessage attaches speech to a message.
func (h *SessionHandler) SynthesizeMessage(w http.ResponseWriter, r *http.Request) {
	userID, sessionID := ids(r)
	msg, err := h.svc.SynthesizeMessage(r.Context(), userID, sessionID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"id": msg.ID, "has_audio": msg.HasAudio()})
}

// MessageAudio streams the stored audio of a message.
func (h *SessionHandler) MessageAudio(w http.ResponseWriter, r *http.Request) {
	userID, sessionID := ids(r)
	msg, err := h.svc.Message(r.Context(), userID, sessionID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !msg.HasAudio() {
		Error(w, http.StatusNotFound, "message has no audio")
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(msg.Audio); err != nil {
		slog.Debug("Failed to write audio", "error", err)
	}
}
