package ws

import (
	"context"
	"log"
	"sync"
	"time"

	"whisper-service/internal/models"
	"whisper-service/internal/observability"
)

// Hub is the presence registry: the single source of truth for which users
// currently have a live connection on this process. At most one session is
// registered per user; a reconnect supersedes the previous session.
type Hub struct {
	mu       sync.RWMutex
	sessions map[int]*Session
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{sessions: make(map[int]*Session)}
}

// Register records the session as the active connection for its user and
// returns the session it superseded, if any. Registering the same session
// twice is a no-op. Callers close the evicted session.
func (h *Hub) Register(s *Session) *Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev := h.sessions[s.UserID]
	h.sessions[s.UserID] = s
	if prev == s || (prev != nil && prev.ConnID == s.ConnID) {
		return nil
	}
	return prev
}

// Unregister removes the entry for userID only when the registered session
// still carries the given connection id. A stale disconnect of a superseded
// connection must not evict the newer one.
func (h *Hub) Unregister(userID int, connID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	cur, ok := h.sessions[userID]
	if !ok || cur.ConnID != connID {
		return false
	}
	delete(h.sessions, userID)
	return true
}

// Snapshot returns a copy of the current online set.
func (h *Hub) Snapshot() []models.PresenceInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	online := make([]models.PresenceInfo, 0, len(h.sessions))
	for _, s := range h.sessions {
		online = append(online, models.PresenceInfo{UserID: s.UserID, Username: s.Username})
	}
	return online
}

// SendTo delivers an event to the user's active session. It reports false
// when the user has no live connection; delivery is best effort.
func (h *Hub) SendTo(userID int, event any) bool {
	h.mu.RLock()
	s := h.sessions[userID]
	h.mu.RUnlock()
	if s == nil {
		return false
	}
	if err := s.Send(event); err != nil {
		h.dropBroken(s, err)
		return false
	}
	return true
}

// BroadcastExcept sends an event to every session except the given user's.
func (h *Hub) BroadcastExcept(userID int, event any) {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		if s.UserID != userID {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range targets {
		if err := s.Send(event); err != nil {
			h.dropBroken(s, err)
		}
	}
}

// dropBroken closes and unregisters a session whose connection failed a
// write, and publishes the failure.
func (h *Hub) dropBroken(s *Session, err error) {
	log.Printf("websocket write error user=%d conn=%s: %v", s.UserID, s.ConnID, err)
	s.Close()
	if !h.Unregister(s.UserID, s.ConnID) {
		return
	}

	observability.IncWSEvent("ws_error")
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       "ws_error",
			"conn_id":     s.ConnID,
			"duration_ms": time.Since(s.ConnectedAt).Milliseconds(),
			"reason":      err.Error(),
		},
		"identity": map[string]interface{}{
			"user_id":  s.UserID,
			"username": s.Username,
			"ip":       s.IP,
		},
	}
	headers := observability.BuildHeaders(s.RequestID, s.TraceID)
	_ = observability.PublishEvent(context.Background(), "ws_events.sessions", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_error",
		Payload:   payload,
	}, headers)
}
