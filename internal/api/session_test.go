package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/triadic/internal/credentials"
	"github.com/ashureev/triadic/internal/domain"
	"github.com/ashureev/triadic/internal/gateway"
	"github.com/ashureev/triadic/internal/identity"
	"github.com/ashureev/triadic/internal/prompt"
	"github.com/ashureev/triadic/internal/session"
	"github.com/ashureev/triadic/internal/turn"
)

type staticSystem string

func (s staticSystem) Load() string { return string(s) }

type stubGen struct {
	mu sync.Mutex
	n  int
}

func (g *stubGen) Generate(_ context.Context, p string, _ gateway.Config) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if strings.Contains(p, "discussion topics") {
		return "Alpha\nBeta\nGamma", nil
	}
	g.n++
	return fmt.Sprintf("reply %d", g.n), nil
}

func (g *stubGen) GenerateStream(ctx context.Context, p string, cfg gateway.Config) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		text, err := g.Generate(ctx, p, cfg)
		if err != nil {
			yield("", err)
			return
		}
		half := len(text) / 2
		if !yield(text[:half], nil) {
			return
		}
		yield(text[half:], nil)
	}
}

type stubSpeech struct{}

func (stubSpeech) Transcribe(context.Context, []byte, string) (string, error) {
	return "hello from the mic", nil
}

func (stubSpeech) Synthesize(context.Context, string, string) ([]byte, error) {
	return []byte("mp3"), nil
}

func withTestIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(identity.WithIdentity(r.Context(), "user-1", "tab-1")))
	})
}

func newTestRouter(t *testing.T, limiter *RateLimiter, opts ...session.Option) (http.Handler, *session.Service) {
	t.Helper()
	gen := &stubGen{}
	exec := turn.NewExecutor(gen, prompt.NewBuilder(staticSystem("sys")))
	svc := session.New(exec, gen, opts...)
	t.Cleanup(svc.Wait)

	r := chi.NewRouter()
	r.Use(withTestIdentity)
	NewSessionHandler(svc, limiter, Capabilities{Speech: true}).RegisterRoutes(r)
	return r, svc
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(method, path, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestGetSession(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	w := do(t, h, http.MethodGet, "/api/session/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var v session.View
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.UserID != "user-1" || v.SessionID != "tab-1" {
		t.Errorf("identity = %s/%s", v.UserID, v.SessionID)
	}
	if v.NextSpeaker != domain.SpeakerA {
		t.Errorf("next speaker = %s, want %s", v.NextSpeaker, domain.SpeakerA)
	}
}

func TestPostMessageJSON(t *testing.T) {
	h, svc := newTestRouter(t, nil)

	w := do(t, h, http.MethodPost, "/api/session/messages", `{"content":"What is love?"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var out session.TurnOutcome
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Failed || out.Message == nil || out.Message.Content != "reply 1" {
		t.Fatalf("outcome = %+v", out)
	}

	v, err := svc.View(context.Background(), "user-1", "tab-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(v.Messages) != 2 {
		t.Errorf("messages = %d, want 2", len(v.Messages))
	}
}

func TestPostMessageEmpty(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	w := do(t, h, http.MethodPost, "/api/session/messages", `{"content":"   "}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestStartTopicTwiceIsSkipped(t *testing.T) {
	h, svc := newTestRouter(t, nil)

	first := do(t, h, http.MethodPost, "/api/session/topics/start", `{"topic":"Tides"}`)
	if first.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", first.Code, first.Body.String())
	}
	w := do(t, h, http.MethodPost, "/api/session/topics/start", `{"topic":"Tides"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("repeat status = %d, body = %s", w.Code, w.Body.String())
	}
	var out session.TurnOutcome
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Skipped || out.Host == nil || out.Host.Content != "Let's discuss: Tides" || out.Message != nil {
		t.Fatalf("outcome = %+v", out)
	}

	v, err := svc.View(context.Background(), "user-1", "tab-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(v.Messages) != 2 {
		t.Errorf("messages = %d, want 2", len(v.Messages))
	}
}

func TestRunTurnStreams(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	r := httptest.NewRequest(http.MethodPost, "/api/session/turn", nil)
	r.Header.Set("Accept", "text/event-stream")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	body := w.Body.String()
	for _, want := range []string{"event: delta", "event: message", "event: done"} {
		if !strings.Contains(body, want) {
			t.Errorf("stream missing %q:\n%s", want, body)
		}
	}
	if strings.Contains(body, "event: error") {
		t.Errorf("unexpected error event:\n%s", body)
	}
}

func TestTurnRateLimited(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h, _ := newTestRouter(t, NewRateLimiter(ctx, 1, time.Minute))

	if w := do(t, h, http.MethodPost, "/api/session/turn", ""); w.Code != http.StatusOK {
		t.Fatalf("first turn status = %d", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/session/turn", ""); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second turn status = %d, want 429", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/api/session/", ""); w.Code != http.StatusOK {
		t.Fatalf("reads are not limited, got %d", w.Code)
	}
}

func TestSettingsAndAutoRun(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	w := do(t, h, http.MethodPut, "/api/session/settings", `{"model_name":"not-a-model","auto_delay":100,"tts_enabled":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var s domain.Settings
	if err := json.Unmarshal(w.Body.Bytes(), &s); err != nil {
		t.Fatal(err)
	}
	if s.ModelName != domain.DefaultModel {
		t.Errorf("model = %q, want fallback %q", s.ModelName, domain.DefaultModel)
	}
	if s.AutoDelay != domain.DefaultAutoDelay {
		t.Errorf("auto delay = %v, want fallback %v", s.AutoDelay, domain.DefaultAutoDelay)
	}
	if !s.TTSEnabled {
		t.Error("tts_enabled should be applied")
	}

	w = do(t, h, http.MethodPut, "/api/session/autorun", `{"enabled":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("autorun status = %d", w.Code)
	}
	var v session.View
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatal(err)
	}
	if !v.AutoRun.Enabled {
		t.Error("auto-run should be enabled")
	}
}

func TestRebootClearsConversation(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	do(t, h, http.MethodPost, "/api/session/messages", `{"content":"hi"}`)
	w := do(t, h, http.MethodPost, "/api/session/reboot", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var v session.View
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatal(err)
	}
	if len(v.Messages) != 0 || v.TurnCount != 0 {
		t.Errorf("after reboot messages = %d turns = %d", len(v.Messages), v.TurnCount)
	}
}

func TestTopicsFallbackWithoutDocuments(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	w := do(t, h, http.MethodGet, "/api/session/topics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var got map[string][]string
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got["topics"]) == 0 {
		t.Error("expected topic suggestions")
	}
}

func TestTranscribeMultipart(t *testing.T) {
	h, _ := newTestRouter(t, nil, session.WithTranscriber(stubSpeech{}))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("audio", "clip.webm")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write([]byte("RIFF...."))
	_ = mw.Close()

	r := httptest.NewRequest(http.MethodPost, "/api/session/transcribe", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var msg domain.Message
	if err := json.Unmarshal(w.Body.Bytes(), &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Speaker != domain.SpeakerHost || msg.Content != "hello from the mic" {
		t.Errorf("message = %+v", msg)
	}
}

func TestTranscribeWithoutProvider(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("audio", "clip.webm")
	_, _ = fw.Write([]byte("data"))
	_ = mw.Close()

	r := httptest.NewRequest(http.MethodPost, "/api/session/transcribe", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestMessageAudio(t *testing.T) {
	h, _ := newTestRouter(t, nil, session.WithSynthesizer(stubSpeech{}))

	w := do(t, h, http.MethodPost, "/api/session/messages", `{"content":"hi"}`)
	var out session.TurnOutcome
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil || out.Message == nil {
		t.Fatalf("turn failed: %v %s", err, w.Body.String())
	}
	id := out.Message.ID

	if w := do(t, h, http.MethodGet, "/api/session/messages/"+id+"/audio", ""); w.Code != http.StatusNotFound {
		t.Fatalf("audio before synthesis status = %d, want 404", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/session/messages/"+id+"/audio", ""); w.Code != http.StatusOK {
		t.Fatalf("synthesize status = %d, body = %s", w.Code, w.Body.String())
	}
	w = do(t, h, http.MethodGet, "/api/session/messages/"+id+"/audio", "")
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "audio/mpeg" {
		t.Fatalf("audio status = %d type = %q", w.Code, w.Header().Get("Content-Type"))
	}
	if w.Body.String() != "mp3" {
		t.Errorf("audio body = %q", w.Body.String())
	}
}

func TestUnknownMessageAudio(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	if w := do(t, h, http.MethodGet, "/api/session/messages/nope/audio", ""); w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestGetConfig(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	w := do(t, h, http.MethodGet, "/api/config", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var got struct {
		Models       []string     `json:"models"`
		Capabilities Capabilities `json:"capabilities"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got.Models) != len(domain.Models) || !got.Capabilities.Speech {
		t.Errorf("config = %+v", got)
	}
}

func TestCredentials(t *testing.T) {
	override := &credentials.Override{}
	r := chi.NewRouter()
	NewCredentialsHandler(override, credentials.Chain{override, credentials.Static("")}).RegisterRoutes(r)

	w := do(t, r, http.MethodGet, "/api/credentials/openai", "")
	var got map[string]bool
	_ = json.Unmarshal(w.Body.Bytes(), &got)
	if got["configured"] || got["override"] {
		t.Fatalf("expected no key, got %v", got)
	}

	w = do(t, r, http.MethodPut, "/api/credentials/openai", `{"api_key":" sk-test "}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	_ = json.Unmarshal(w.Body.Bytes(), &got)
	if !got["configured"] || !got["override"] {
		t.Fatalf("expected key, got %v", got)
	}
	if strings.Contains(w.Body.String(), "sk-test") {
		t.Error("response must not echo the key")
	}
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealth(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"healthy", nil, http.StatusOK},
		{"degraded", fmt.Errorf("down"), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := chi.NewRouter()
			NewHealthHandler(pingFunc(func(context.Context) error { return tt.err })).RegisterHealth(r)
			if w := do(t, r, http.MethodGet, "/api/health", ""); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}
