// Package live pushes session events to browser tabs over websockets.
package live

import (
	"container/list"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// DefaultBacklog is the number of events kept per session for replay.
const DefaultBacklog = 100

// Event types pushed to clients.
const (
	TypeDelta   = "delta"
	TypeMessage = "message"
	TypeState   = "state"
	TypeSummary = "summary"
)

// Event is one frame sent to a tab.
type Event struct {
	ID   int64     `json:"id"`
	Type string    `json:"type"`
	Data any       `json:"data,omitempty"`
	Time time.Time `json:"time"`
}

// Hub tracks connections and a bounded replay backlog per session key.
type Hub struct {
	mu         sync.RWMutex
	conns      map[string]map[*websocket.Conn]struct{}
	backlog    map[string]*list.List
	maxBacklog int
	counter    int64
}

// NewHub creates an empty hub.
func NewHub(maxBacklog int) *Hub {
	if maxBacklog <= 0 {
		maxBacklog = DefaultBacklog
	}
	return &Hub{
		conns:      make(map[string]map[*websocket.Conn]struct{}),
		backlog:    make(map[string]*list.List),
		maxBacklog: maxBacklog,
	}
}

// Register adds conn under key.
func (h *Hub) Register(key string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[key]; !ok {
		h.conns[key] = make(map[*websocket.Conn]struct{})
	}
	h.conns[key][conn] = struct{}{}
	slog.Info("Live connection registered", "session_key", key, "connections", len(h.conns[key]))
}

// Unregister removes conn from key.
func (h *Hub) Unregister(key string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.conns[key]
	if !ok {
		return
	}
	if _, exists := conns[conn]; exists {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.conns, key)
		}
		slog.Info("Live connection unregistered", "session_key", key)
	}
}

// Connections returns the number of connections under key.
func (h *Hub) Connections(key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[key])
}

// Broadcast records an event and writes it to every connection under key.
// Deltas are not kept in the backlog.
func (h *Hub) Broadcast(key, eventType string, data any) Event {
	h.mu.Lock()
	h.counter++
	ev := Event{ID: h.counter, Type: eventType, Data: data, Time: time.Now().UTC()}
	if eventType != TypeDelta {
		l, ok := h.backlog[key]
		if !ok {
			l = list.New()
			h.backlog[key] = l
		}
		l.PushBack(ev)
		for l.Len() > h.maxBacklog {
			l.Remove(l.Front())
		}
	}
	targets := make([]*websocket.Conn, 0, len(h.conns[key]))
	for c := range h.conns[key] {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	if len(targets) == 0 {
		return ev
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Error("Failed to marshal live event", "type", eventType, "error", err)
		return ev
	}
	for _, c := range targets {
		if err := writeFrame(c, payload); err != nil {
			slog.Debug("Live write failed", "session_key", key, "error", err)
		}
	}
	return ev
}

// Missed returns backlog events with an id greater than after.
func (h *Hub) Missed(key string, after int64) []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	l, ok := h.backlog[key]
	if !ok {
		return nil
	}
	var missed []Event
	for e := l.Front(); e != nil; e = e.Next() {
		if ev := e.Value.(Event); ev.ID > after {
			missed = append(missed, ev)
		}
	}
	return missed
}

// Close terminates every connection under key and drops its backlog.
func (h *Hub) Close(key string) {
	h.mu.Lock()
	conns := h.conns[key]
	delete(h.conns, key)
	delete(h.backlog, key)
	h.mu.Unlock()

	for c := range conns {
		_ = c.Close(websocket.StatusNormalClosure, "session closed")
	}
}

func writeFrame(c *websocket.Conn, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.Write(ctx, websocket.MessageText, payload)
}
