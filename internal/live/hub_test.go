package live

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/triadic/internal/domain"
	"github.com/ashureev/triadic/internal/identity"
)

func TestHub_RegisterUnregister(t *testing.T) {
	h := NewHub(0)
	conn := &websocket.Conn{}

	h.Register("u:tab", conn)
	if got := h.Connections("u:tab"); got != 1 {
		t.Fatalf("expected 1 connection, got %d", got)
	}
	h.Unregister("u:tab", &websocket.Conn{})
	if got := h.Connections("u:tab"); got != 1 {
		t.Fatalf("unregistering a stale conn must not remove the live one, got %d", got)
	}
	h.Unregister("u:tab", conn)
	if got := h.Connections("u:tab"); got != 0 {
		t.Fatalf("expected 0 connections, got %d", got)
	}
}

func TestHub_BacklogIsBoundedPerSession(t *testing.T) {
	h := NewHub(3)
	for i := 0; i < 5; i++ {
		h.Broadcast("a", TypeMessage, i)
	}
	h.Broadcast("b", TypeMessage, "other")
	h.Broadcast("a", TypeDelta, "chunk")

	missed := h.Missed("a", 0)
	if len(missed) != 3 {
		t.Fatalf("expected 3 retained events, got %d", len(missed))
	}
	if missed[0].Data != 2 || missed[2].Data != 4 {
		t.Errorf("unexpected retained events: %+v", missed)
	}
	if after := h.Missed("a", missed[1].ID); len(after) != 1 {
		t.Errorf("expected 1 event after id %d, got %d", missed[1].ID, len(after))
	}
	if len(h.Missed("b", 0)) != 1 {
		t.Error("other sessions keep their own backlog")
	}

	h.Close("a")
	if h.Missed("a", 0) != nil {
		t.Error("Close should drop the backlog")
	}
}

func TestHandler_ReplaysAndStreams(t *testing.T) {
	hub := NewHub(10)
	key := domain.SessionKey("u", "tab")
	first := hub.Broadcast(key, TypeMessage, "before")
	hub.Broadcast(key, TypeMessage, "missed")

	handler := NewHandler(hub, func(context.Context, string, string) (any, error) {
		return map[string]string{"phase": "IDLE"}, nil
	}, "*", true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r.WithContext(identity.WithIdentity(r.Context(), "u", "tab")))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/session?after=" + strconv.FormatInt(first.ID, 10)
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	read := func() Event {
		t.Helper()
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return ev
	}

	if ev := read(); ev.Type != TypeState {
		t.Fatalf("first frame should be state, got %+v", ev)
	}
	if ev := read(); ev.Data != "missed" {
		t.Fatalf("expected replayed event, got %+v", ev)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.Connections(key) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	hub.Broadcast(key, TypeDelta, "live")
	if ev := read(); ev.Type != TypeDelta || ev.Data != "live" {
		t.Fatalf("expected live delta, got %+v", ev)
	}
}
