package domain

import "time"

// AutoRunState carries every field the auto-run machine needs to resume from
// a cold evaluation.
type AutoRunState struct {
	Enabled        bool      `json:"enabled"`
	Waiting        bool      `json:"waiting"`
	WaitStartedAt  time.Time `json:"wait_started_at,omitzero"`
	TurnInProgress bool      `json:"turn_in_progress"`
	TurnStartedAt  time.Time `json:"turn_started_at,omitzero"`

	// JustExecuted skips one evaluation after a turn completes.
	JustExecuted  bool      `json:"-"`
	// TurnHeartbeat is refreshed by the running turn while it is alive.
	TurnHeartbeat time.Time `json:"-"`
}

// ClearWait drops any pending post-turn delay.
func (a *AutoRunState) ClearWait() {
	a.Waiting = false
	a.WaitStartedAt = time.Time{}
}

// StartWait arms the post-turn delay at now.
func (a *AutoRunState) StartWait(now time.Time) {
	a.Waiting = true
	a.WaitStartedAt = now
}

// MarkInProgress flags a turn as running since now.
func (a *AutoRunState) MarkInProgress(now time.Time) {
	a.ClearWait()
	a.TurnInProgress = true
	a.TurnStartedAt = now
	a.TurnHeartbeat = now
}

// ClearInProgress drops the running-turn flag.
func (a *AutoRunState) ClearInProgress() {
	a.TurnInProgress = false
	a.TurnStartedAt = time.Time{}
	a.TurnHeartbeat = time.Time{}
}

// LastAlive returns the later of the turn start and its last heartbeat.
func (a AutoRunState) LastAlive() time.Time {
	if a.TurnHeartbeat.After(a.TurnStartedAt) {
		return a.TurnHeartbeat
	}
	return a.TurnStartedAt
}
