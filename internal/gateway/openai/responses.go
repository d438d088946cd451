package openai

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ashureev/triadic/internal/domain"
	"github.com/ashureev/triadic/internal/gateway"
)

type reasoningConfig struct {
	Effort  string `json:"effort"`
	Summary string `json:"summary,omitempty"`
}

type textConfig struct {
	Verbosity string `json:"verbosity"`
}

type tool struct {
	Type           string   `json:"type"`
	VectorStoreIDs []string `json:"vector_store_ids,omitempty"`
}

// responsesRequest is the request shape for the Responses endpoint.
type responsesRequest struct {
	Model           string          `json:"model"`
	Input           string          `json:"input"`
	Reasoning       reasoningConfig `json:"reasoning"`
	Text            textConfig      `json:"text"`
	MaxOutputTokens int             `json:"max_output_tokens"`
	Stream          bool            `json:"stream,omitempty"`
	Tools           []tool          `json:"tools,omitempty"`
	Temperature     *float64        `json:"temperature,omitempty"`
}

// responsesResponse is the minimal non-streaming response shape.
type responsesResponse struct {
	OutputText *string `json:"output_text"`
	Output     []struct {
		Type    string `json:"type"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
}

type streamEvent struct {
	Type     string `json:"type"`
	Delta    string `json:"delta"`
	Message  string `json:"message"`
	Response *struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	} `json:"response"`
}

var _ gateway.Provider = (*Client)(nil)

func buildRequest(prompt string, cfg gateway.Config, stream bool) responsesRequest {
	model := cfg.Model
	if model == "" {
		model = domain.DefaultModel
	}
	effort := cfg.Effort
	if effort == "" {
		effort = domain.DefaultEffort
	}
	verbosity := cfg.Verbosity
	if verbosity == "" {
		verbosity = domain.DefaultVerbosity
	}
	if model == "gpt-5-mini" && effort == "none" {
		effort = "minimal"
	}

	req := responsesRequest{
		Model:           model,
		Input:           prompt,
		Reasoning:       reasoningConfig{Effort: effort},
		Text:            textConfig{Verbosity: verbosity},
		MaxOutputTokens: gateway.MaxOutputTokens,
		Stream:          stream,
	}
	if cfg.ReasoningSummary {
		req.Reasoning.Summary = "auto"
	}
	if strings.HasPrefix(model, "gpt-5.1") && effort == "none" {
		t := 0.4
		req.Temperature = &t
	}
	if cfg.VectorStoreID != "" && domain.HasTool(cfg.Tools, domain.ToolFileSearch) {
		req.Tools = append(req.Tools, tool{Type: "file_search", VectorStoreIDs: []string{cfg.VectorStoreID}})
	}
	if domain.HasTool(cfg.Tools, domain.ToolWebSearch) {
		req.Tools = append(req.Tools, tool{Type: "web_search"})
	}
	return req
}

// Generate issues one blocking Responses call.
func (c *Client) Generate(ctx context.Context, prompt string, cfg gateway.Config) (string, error) {
	req, url, err := c.newJSONRequest(ctx, http.MethodPost, "/responses", buildRequest(prompt, cfg, false))
	if err != nil {
		return "", err
	}

	var payload responsesResponse
	if err := c.doJSON(req, url, &payload); err != nil {
		return "", fmt.Errorf("openai: responses request failed: %w", err)
	}
	return payload.text()
}

func (r responsesResponse) text() (string, error) {
	if r.OutputText != nil {
		return *r.OutputText, nil
	}
	var b strings.Builder
	found := false
	for _, item := range r.Output {
		for _, part := range item.Content {
			if part.Type == "output_text" {
				b.WriteString(part.Text)
				found = true
			}
		}
	}
	if !found {
		return "", errors.New("openai: response missing output_text")
	}
	return b.String(), nil
}

// OpenStream starts a streaming Responses call.
func (c *Client) OpenStream(ctx context.Context, prompt string, cfg gateway.Config) (gateway.Stream, error) {
	req, url, err := c.newJSONRequest(ctx, http.MethodPost, "/responses", buildRequest(prompt, cfg, true))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai: open stream: %w", err)
	}
	if err := checkStatus(res, url); err != nil {
		_ = res.Body.Close()
		return nil, err
	}
	return newEventStream(res.Body), nil
}

// eventStream reads server-sent events from a Responses stream.
type eventStream struct {
	reader *bufio.Reader
	closer io.Closer
	done   bool
	err    error
}

func newEventStream(body io.ReadCloser) *eventStream {
	return &eventStream{reader: bufio.NewReader(body), closer: body}
}

// Next returns the next text delta, or io.EOF once the response completes.
// A body that ends before a terminal event is io.ErrUnexpectedEOF.
func (s *eventStream) Next() (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if s.done {
		return "", io.EOF
	}

	for {
		line, readErr := s.reader.ReadString('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			s.err = readErr
			return "", readErr
		}
		atEOF := readErr != nil

		delta, ok, err := s.handleLine(line)
		switch {
		case err != nil:
			return "", err
		case ok:
			return delta, nil
		case s.done:
			return "", io.EOF
		case atEOF:
			s.err = fmt.Errorf("openai: stream ended before completion: %w", io.ErrUnexpectedEOF)
			return "", s.err
		}
	}
}

// handleLine parses one SSE line. ok reports a delta to return.
func (s *eventStream) handleLine(line string) (string, bool, error) {
	line = strings.TrimSpace(line)
	if line == "" || !strings.HasPrefix(line, "data:") {
		return "", false, nil
	}
	data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if data == "[DONE]" {
		s.done = true
		return "", false, nil
	}

	var ev streamEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return "", false, nil
	}
	switch ev.Type {
	case "response.output_text.delta":
		if ev.Delta != "" {
			return ev.Delta, true, nil
		}
	case "response.completed":
		s.done = true
	case "response.failed", "error":
		msg := ev.Message
		if ev.Response != nil && ev.Response.Error != nil {
			msg = ev.Response.Error.Message
		}
		if msg == "" {
			msg = "stream failed"
		}
		s.err = fmt.Errorf("openai: %s", msg)
		return "", false, s.err
	}
	return "", false, nil
}

// Close releases the response body.
func (s *eventStream) Close() error {
	return s.closer.Close()
}
