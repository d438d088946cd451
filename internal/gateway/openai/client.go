// Package openai is a focused HTTP client for the OpenAI Responses, audio and
// vector store endpoints used by the talk show.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/triadic/internal/domain"
)

const (
	DefaultBaseURL  = "https://api.openai.com/v1"
	DefaultTTSModel = "gpt-4o-mini-tts"
	DefaultSTTModel = "whisper-1"
)

// KeySource yields the API key for each request.
type KeySource interface {
	APIKey(ctx context.Context) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// HTTPStatusCode exposes the status for retry classification.
func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client talks to an OpenAI-compatible API. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	keys       KeySource
	ttsModel   string
	sttModel   string

	mu       sync.Mutex
	lastKey  string
	auth     http.Header
	rebuilds int
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another API root.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// NewClient creates a Client that resolves its key from keys on every call.
func NewClient(keys KeySource, opts ...Option) (*Client, error) {
	if keys == nil {
		return nil, fmt.Errorf("openai: key source must not be nil")
	}
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		keys:       keys,
		ttsModel:   DefaultTTSModel,
		sttModel:   DefaultSTTModel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// authHeaders returns request headers for the current key. The header set is
// rebuilt only when the key value changes.
func (c *Client) authHeaders(ctx context.Context) (http.Header, error) {
	key, err := c.keys.APIKey(ctx)
	if err != nil {
		return nil, err
	}
	if key == "" {
		return nil, domain.NewError(domain.KindConfiguration, "OpenAI API key is not configured", nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.auth == nil || key != c.lastKey {
		c.auth = http.Header{"Authorization": []string{"Bearer " + key}}
		c.lastKey = key
		c.rebuilds++
	}
	return c.auth.Clone(), nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 120 * time.Second}
}

func endpointURL(baseURL, path string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if strings.HasSuffix(base, "/v1") {
		return base + path
	}
	return base + "/v1" + path
}

func (c *Client) newJSONRequest(ctx context.Context, method, path string, payload any) (*http.Request, string, error) {
	headers, err := c.authHeaders(ctx)
	if err != nil {
		return nil, "", err
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, "", fmt.Errorf("openai: marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	url := endpointURL(c.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, "", fmt.Errorf("openai: create request: %w", err)
	}
	req.Header = headers
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, url, nil
}

// do sends req and returns the body limited to limit bytes.
func (c *Client) do(req *http.Request, url string, limit int64) ([]byte, error) {
	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if err := checkStatus(res, url); err != nil {
		return nil, err
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

func (c *Client) doJSON(req *http.Request, url string, out any) error {
	raw, err := c.do(req, url, 1<<20)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("openai: decode response: %w", err)
	}
	return nil
}

func checkStatus(res *http.Response, url string) error {
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}
	buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	return &HTTPStatusError{
		StatusCode: res.StatusCode,
		URL:        url,
		Body:       string(buf),
	}
}
