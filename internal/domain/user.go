package domain

import "time"

// User is an anonymous per-device identity.
type User struct {
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Idle reports whether the user has been inactive longer than ttl.
func (u *User) Idle(ttl time.Duration, now time.Time) bool {
	return now.Sub(u.LastSeenAt) > ttl
}
