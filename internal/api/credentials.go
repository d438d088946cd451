package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/triadic/internal/credentials"
)

// CredentialsHandler lets the UI set the OpenAI key at runtime.
type CredentialsHandler struct {
	override *credentials.Override
	source   credentials.Source
}

// NewCredentialsHandler creates the handler. source is the full chain used
// to report whether any key is available.
func NewCredentialsHandler(override *credentials.Override, source credentials.Source) *CredentialsHandler {
	return &CredentialsHandler{override: override, source: source}
}

// RegisterRoutes mounts the credential routes.
func (h *CredentialsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/credentials/openai", h.Status)
	r.Put("/api/credentials/openai", h.SetOpenAI)
}

type keyRequest struct {
	APIKey string `json:"api_key"`
}

// SetOpenAI sets or clears the override key.
func (h *CredentialsHandler) SetOpenAI(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.override.Set(req.APIKey)
	h.Status(w, r)
}

// Status reports whether a key is configured, without revealing it.
func (h *CredentialsHandler) Status(w http.ResponseWriter, r *http.Request) {
	available := false
	if h.source != nil {
		if key, err := h.source.APIKey(r.Context()); err == nil && key != "" {
			available = true
		}
	}
	JSON(w, http.StatusOK, map[string]bool{
		"override":   h.override.IsSet(),
		"configured": available,
	})
}
