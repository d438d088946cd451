package session

import (
	"context"
	"time"

	"github.com/ashureev/triadic/internal/domain"
	"github.com/ashureev/triadic/internal/store"
)

const persistTimeout = 5 * time.Second

// persist writes the session snapshot unless it is unchanged since the last
// successful write.
func (s *Service) persist(ctx context.Context, e *entry) {
	if s.repo == nil {
		return
	}
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	e.mu.Lock()
	body, hash, err := store.TakeSnapshot(e.state).Encode()
	same := err == nil && hash == e.lastHash
	userID, sessionID := e.state.UserID, e.state.SessionID
	e.mu.Unlock()

	if err != nil {
		s.metrics.RecordPersistence("error")
		s.logger.Error("Failed to encode session snapshot", "user_id", userID, "session_id", sessionID, "error", err)
		return
	}
	if same {
		s.metrics.RecordPersistence("skipped")
		return
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	now := s.now()
	rec := &domain.SessionRecord{
		UserID:      userID,
		SessionID:   sessionID,
		StateJSON:   body,
		ContentHash: hash,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.UpsertSession(saveCtx, rec); err != nil {
		s.metrics.RecordPersistence("error")
		s.logger.Warn("Failed to save session snapshot", "user_id", userID, "session_id", sessionID, "error", err)
		return
	}

	e.mu.Lock()
	e.lastHash = hash
	e.mu.Unlock()
	s.metrics.RecordPersistence("written")
}
