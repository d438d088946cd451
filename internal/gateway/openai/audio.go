package openai

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/ashureev/triadic/internal/gateway"
)

var (
	_ gateway.Synthesizer = (*Client)(nil)
	_ gateway.Transcriber = (*Client)(nil)
)

type speechRequest struct {
	Model          string  `json:"model"`
	Voice          string  `json:"voice"`
	Input          string  `json:"input"`
	Speed          float64 `json:"speed"`
	ResponseFormat string  `json:"response_format"`
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Synthesize renders text as MP3 audio.
func (c *Client) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("openai: speech input must not be empty")
	}
	if voice == "" {
		voice = "alloy"
	}
	req, url, err := c.newJSONRequest(ctx, http.MethodPost, "/audio/speech", speechRequest{
		Model:          c.ttsModel,
		Voice:          voice,
		Input:          text,
		Speed:          1.0,
		ResponseFormat: "mp3",
	})
	if err != nil {
		return nil, err
	}
	audio, err := c.do(req, url, 32<<20)
	if err != nil {
		return nil, fmt.Errorf("openai: speech request failed: %w", err)
	}
	return audio, nil
}

// Transcribe converts recorded audio to text.
func (c *Client) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("openai: audio must not be empty")
	}
	if filename == "" {
		filename = "audio.wav"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("model", c.sttModel); err != nil {
		return "", fmt.Errorf("openai: write model field: %w", err)
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("openai: create file part: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("openai: write audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("openai: close multipart: %w", err)
	}

	headers, err := c.authHeaders(ctx)
	if err != nil {
		return "", err
	}
	url := endpointURL(c.baseURL, "/audio/transcriptions")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return "", fmt.Errorf("openai: create request: %w", err)
	}
	req.Header = headers
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out transcriptionResponse
	if err := c.doJSON(req, url, &out); err != nil {
		return "", fmt.Errorf("openai: transcription request failed: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}
