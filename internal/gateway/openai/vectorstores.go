package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/ashureev/triadic/internal/gateway"
)

// DefaultStoreName names vector stores created for sessions.
const DefaultStoreName = "triadic-session-store"

var _ gateway.DocumentIndexer = (*Client)(nil)

type idResponse struct {
	ID string `json:"id"`
}

// CreateIndex creates a vector store and returns its id.
func (c *Client) CreateIndex(ctx context.Context, name string) (string, error) {
	if name == "" {
		name = DefaultStoreName
	}
	req, url, err := c.newJSONRequest(ctx, http.MethodPost, "/vector_stores", map[string]string{"name": name})
	if err != nil {
		return "", err
	}
	var out idResponse
	if err := c.doJSON(req, url, &out); err != nil {
		return "", fmt.Errorf("openai: create vector store: %w", err)
	}
	if out.ID == "" {
		return "", errors.New("openai: vector store response missing id")
	}
	return out.ID, nil
}

// AddDocument uploads content and attaches it to the vector store.
func (c *Client) AddDocument(ctx context.Context, indexID, filename string, content []byte) (string, error) {
	if indexID == "" {
		return "", errors.New("openai: vector store id must not be empty")
	}
	fileID, err := c.uploadFile(ctx, filename, content)
	if err != nil {
		return "", err
	}

	req, url, err := c.newJSONRequest(ctx, http.MethodPost, "/vector_stores/"+indexID+"/files", map[string]string{"file_id": fileID})
	if err != nil {
		return "", err
	}
	var out idResponse
	if err := c.doJSON(req, url, &out); err != nil {
		return "", fmt.Errorf("openai: attach file to vector store: %w", err)
	}
	return fileID, nil
}

func (c *Client) uploadFile(ctx context.Context, filename string, content []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("purpose", "assistants"); err != nil {
		return "", fmt.Errorf("openai: write purpose field: %w", err)
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("openai: create file part: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return "", fmt.Errorf("openai: write file content: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("openai: close multipart: %w", err)
	}

	headers, err := c.authHeaders(ctx)
	if err != nil {
		return "", err
	}
	url := endpointURL(c.baseURL, "/files")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return "", fmt.Errorf("openai: create request: %w", err)
	}
	req.Header = headers
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out idResponse
	if err := c.doJSON(req, url, &out); err != nil {
		return "", fmt.Errorf("openai: upload file: %w", err)
	}
	if out.ID == "" {
		return "", errors.New("openai: file upload response missing id")
	}
	return out.ID, nil
}
