package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/coder/websocket"

	"github.com/ashureev/triadic/internal/domain"
	"github.com/ashureev/triadic/internal/identity"
)

// StateFunc returns the current view of a session for the initial frame.
type StateFunc func(ctx context.Context, userID, sessionID string) (any, error)

// Handler upgrades /ws/session requests and streams hub events.
type Handler struct {
	hub           *Hub
	state         StateFunc
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a websocket handler. state may be nil.
func NewHandler(hub *Hub, state StateFunc, allowedOrigin string, isDev bool) *Handler {
	return &Handler{hub: hub, state: state, allowedOrigin: allowedOrigin, isDev: isDev}
}

type inbound struct {
	Type string `json:"type"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	key := domain.SessionKey(userID, sessionID)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if h.state != nil {
		if view, err := h.state(ctx, userID, sessionID); err == nil {
			h.send(ctx, ws, Event{Type: TypeState, Data: view})
		} else {
			slog.Warn("Failed to load session state for live channel", "session_key", key, "error", err)
		}
	}

	if after, err := strconv.ParseInt(r.URL.Query().Get("after"), 10, 64); err == nil {
		for _, ev := range h.hub.Missed(key, after) {
			h.send(ctx, ws, ev)
		}
	}

	h.hub.Register(key, ws)
	defer h.hub.Unregister(key, ws)

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "session_key", key)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "session_key", key)
			}
			return
		}
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			h.send(ctx, ws, Event{Type: "pong"})
		}
	}
}

func (h *Handler) send(ctx context.Context, ws *websocket.Conn, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := ws.Write(ctx, websocket.MessageText, payload); err != nil {
		slog.Debug("Live send failed", "type", ev.Type, "error", err)
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}
