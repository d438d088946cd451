// Package googlestt transcribes recorded clips with Google Cloud Speech-to-Text.
package googlestt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/googleapis/gax-go/v2"

	"github.com/ashureev/triadic/internal/gateway"
)

const wavHeaderSize = 44

var _ gateway.Transcriber = (*Transcriber)(nil)

type recognizer interface {
	Recognize(ctx context.Context, req *speechpb.RecognizeRequest, opts ...gax.CallOption) (*speechpb.RecognizeResponse, error)
}

// Config holds recognition parameters.
type Config struct {
	LanguageCode string
	SampleRateHz int32
}

// DefaultConfig returns the recognition defaults.
func DefaultConfig() Config {
	return Config{LanguageCode: "en-US", SampleRateHz: 16000}
}

// Transcriber implements gateway.Transcriber.
type Transcriber struct {
	client recognizer
	closer func() error
	cfg    Config
}

// New dials the Speech API using application default credentials.
func New(ctx context.Context, cfg Config) (*Transcriber, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("googlestt: create client: %w", err)
	}
	t := newWithRecognizer(c, cfg)
	t.closer = c.Close
	return t, nil
}

func newWithRecognizer(r recognizer, cfg Config) *Transcriber {
	def := DefaultConfig()
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = def.LanguageCode
	}
	if cfg.SampleRateHz <= 0 {
		cfg.SampleRateHz = def.SampleRateHz
	}
	return &Transcriber{client: r, cfg: cfg}
}

// Transcribe sends one synchronous recognition request.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, _ string) (string, error) {
	pcm, rate := stripWAV(audio, t.cfg.SampleRateHz)
	if len(pcm) == 0 {
		return "", errors.New("googlestt: audio must not be empty")
	}

	resp, err := t.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:        speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz: rate,
			LanguageCode:    t.cfg.LanguageCode,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: pcm},
		},
	})
	if err != nil {
		return "", fmt.Errorf("googlestt: recognize: %w", err)
	}

	var parts []string
	for _, r := range resp.GetResults() {
		if alts := r.GetAlternatives(); len(alts) > 0 {
			if s := strings.TrimSpace(alts[0].GetTranscript()); s != "" {
				parts = append(parts, s)
			}
		}
	}
	return strings.Join(parts, " "), nil
}

// Close releases the underlying gRPC connection.
func (t *Transcriber) Close() error {
	if t.closer != nil {
		return t.closer()
	}
	return nil
}

// stripWAV drops a canonical RIFF header and reads its sample rate.
func stripWAV(audio []byte, fallback int32) ([]byte, int32) {
	if len(audio) < wavHeaderSize || !bytes.HasPrefix(audio, []byte("RIFF")) || !bytes.Equal(audio[8:12], []byte("WAVE")) {
		return audio, fallback
	}
	rate := int32(audio[24]) | int32(audio[25])<<8 | int32(audio[26])<<16 | int32(audio[27])<<24
	if rate <= 0 {
		rate = fallback
	}
	return audio[wavHeaderSize:], rate
}
