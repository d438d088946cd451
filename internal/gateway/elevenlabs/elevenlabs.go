// Package elevenlabs synthesizes speech over the ElevenLabs stream-input websocket.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ashureev/triadic/internal/domain"
	"github.com/ashureev/triadic/internal/gateway"
)

const (
	DefaultWSBase       = "wss://api.elevenlabs.io/v1/text-to-speech/{voice_id}/stream-input"
	DefaultModel        = "eleven_flash_v2_5"
	DefaultOutputFormat = "mp3_44100_128"
)

var _ gateway.Synthesizer = (*Synthesizer)(nil)

// Synthesizer renders text with ElevenLabs voices.
type Synthesizer struct {
	apiKey string
	wsBase string
	voices map[string]string
	dialer *websocket.Dialer
}

// New creates a Synthesizer. voices maps OpenAI voice names to ElevenLabs voice ids;
// unmapped names are passed through as ids.
func New(apiKey string, voices map[string]string) *Synthesizer {
	return &Synthesizer{
		apiKey: strings.TrimSpace(apiKey),
		wsBase: DefaultWSBase,
		voices: voices,
		dialer: websocket.DefaultDialer,
	}
}

// WithWSBase overrides the websocket URL template.
func (s *Synthesizer) WithWSBase(base string) *Synthesizer {
	if base = strings.TrimSpace(base); base != "" {
		s.wsBase = base
	}
	return s
}

type inbound struct {
	Audio      string `json:"audio"`
	IsFinal    *bool  `json:"isFinal"`
	IsFinalAlt *bool  `json:"is_final"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

func (m inbound) final() bool {
	return (m.IsFinal != nil && *m.IsFinal) || (m.IsFinalAlt != nil && *m.IsFinalAlt)
}

// Synthesize collects the full audio for text.
func (s *Synthesizer) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if s.apiKey == "" {
		return nil, domain.NewError(domain.KindConfiguration, "ElevenLabs API key is not configured", nil)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("elevenlabs: text must not be empty")
	}
	voiceID := s.voiceID(voice)
	if voiceID == "" {
		return nil, errors.New("elevenlabs: voice id is required")
	}

	wsURL, err := buildURL(s.wsBase, voiceID)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("xi-api-key", s.apiKey)
	conn, _, err := s.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := conn.WriteJSON(map[string]any{"text": " ", "voice_id": voiceID}); err != nil {
		return nil, fmt.Errorf("elevenlabs: send init: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(map[string]any{"text": text + " ", "flush": true}); err != nil {
		return nil, fmt.Errorf("elevenlabs: send text: %w", err)
	}
	if err := conn.WriteJSON(map[string]any{"text": ""}); err != nil {
		return nil, fmt.Errorf("elevenlabs: send close: %w", err)
	}

	var audio []byte
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && len(audio) > 0 {
				return audio, nil
			}
			return nil, fmt.Errorf("elevenlabs: read: %w", err)
		}
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Error != "" {
			return nil, fmt.Errorf("elevenlabs: %s: %s", msg.Error, msg.Message)
		}
		if msg.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err == nil {
				audio = append(audio, chunk...)
			}
		}
		if msg.final() {
			if len(audio) == 0 {
				return nil, errors.New("elevenlabs: no audio returned")
			}
			return audio, nil
		}
	}
}

func (s *Synthesizer) voiceID(voice string) string {
	if id, ok := s.voices[voice]; ok && id != "" {
		return id
	}
	return strings.TrimSpace(voice)
}

func buildURL(base, voiceID string) (string, error) {
	raw := strings.ReplaceAll(base, "{voice_id}", url.PathEscape(voiceID))
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("elevenlabs: invalid url: %w", err)
	}
	q := u.Query()
	if q.Get("model_id") == "" {
		q.Set("model_id", DefaultModel)
	}
	if q.Get("output_format") == "" {
		q.Set("output_format", DefaultOutputFormat)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
