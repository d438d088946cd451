package domain

import "time"

// SessionRecord is a persisted session snapshot row.
type SessionRecord struct {
	UserID      string
	SessionID   string
	StateJSON   string
	ContentHash string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
