// Package autorun decides, on every driver tick or UI refresh, whether the
// next AI turn should fire. All of its memory lives in domain.SessionState so a
// cold evaluation resumes exactly where the last one stopped.
package autorun

import (
	"time"

	"github.com/ashureev/triadic/internal/domain"
)

// StuckThreshold is how long a turn may hold the in-progress flag without a
// heartbeat before it is treated as crashed.
const StuckThreshold = 30 * time.Second

// Phase is the externally visible auto-run state.
type Phase int

const (
	Idle Phase = iota
	Armed
	Executing
	Waiting
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "IDLE"
	case Armed:
		return "ARMED"
	case Executing:
		return "EXECUTING"
	case Waiting:
		return "WAITING"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the phase name in JSON payloads.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Phase Phase
	// Fire asks the caller to start a turn now, under the same session lock.
	Fire bool
	// Recovered is set when a stale in-progress flag was force-cleared.
	Recovered bool
	// Resumed is set when a post-turn delay elapsed during this evaluation.
	Resumed bool
}

// ErrEmptyConversation rejects enabling auto-run before any turn completed.
var ErrEmptyConversation = domain.NewError(domain.KindValidation, "auto-run needs at least one completed turn", nil)

// IsStuck reports whether the in-progress flag has outlived its turn. A turn
// that keeps sending heartbeats is never stuck.
func IsStuck(a domain.AutoRunState, now time.Time) bool {
	if !a.TurnInProgress {
		return false
	}
	last := a.LastAlive()
	return last.IsZero() || now.Sub(last) > StuckThreshold
}

// Enable switches auto-run on. It is rejected on a conversation with no
// completed turn unless auto-run was already on, which covers restored state.
func Enable(s *domain.SessionState, now time.Time) error {
	if s.Conversation.TurnCount == 0 && !s.AutoRun.Enabled {
		return ErrEmptyConversation
	}
	s.AutoRun.Enabled = true
	s.AutoRun.ClearWait()
	s.AutoRun.JustExecuted = false
	if IsStuck(s.AutoRun, now) {
		s.AutoRun.ClearInProgress()
	}
	return nil
}

// Disable switches auto-run off. A running turn keeps its flag and finishes.
func Disable(s *domain.SessionState) {
	s.AutoRun.Enabled = false
	s.AutoRun.ClearWait()
	s.AutoRun.JustExecuted = false
}

// Evaluate advances the machine by one step.
func Evaluate(s *domain.SessionState, now time.Time) Decision {
	var d Decision
	a := &s.AutoRun

	if IsStuck(*a, now) {
		a.ClearInProgress()
		d.Recovered = true
	}

	if !a.Enabled {
		a.ClearWait()
		a.JustExecuted = false
		d.Phase = Idle
		return d
	}

	if a.TurnInProgress {
		d.Phase = Executing
		return d
	}

	if a.JustExecuted {
		a.JustExecuted = false
		d.Phase = Armed
		if a.Waiting {
			d.Phase = Waiting
		}
		return d
	}

	if a.Waiting {
		if !a.WaitStartedAt.IsZero() && now.Sub(a.WaitStartedAt) < delay(s.Settings) {
			d.Phase = Waiting
			return d
		}
		a.ClearWait()
		d.Resumed = true
	}

	d.Phase = Armed
	d.Fire = s.Conversation.HasMessages()
	return d
}

// TurnFinished records the end of a turn, successful or not. Under auto-run
// it arms the post-turn delay and skips the next evaluation.
func TurnFinished(s *domain.SessionState, now time.Time) {
	if !s.AutoRun.Enabled {
		return
	}
	s.AutoRun.StartWait(now)
	s.AutoRun.JustExecuted = true
}

// PhaseOf reports the current phase without mutating state.
func PhaseOf(s *domain.SessionState) Phase {
	switch {
	case !s.AutoRun.Enabled:
		return Idle
	case s.AutoRun.TurnInProgress:
		return Executing
	case s.AutoRun.Waiting:
		return Waiting
	default:
		return Armed
	}
}

// Remaining returns how much of the post-turn delay is left.
func Remaining(s *domain.SessionState, now time.Time) time.Duration {
	if !s.AutoRun.Waiting || s.AutoRun.WaitStartedAt.IsZero() {
		return 0
	}
	left := delay(s.Settings) - now.Sub(s.AutoRun.WaitStartedAt)
	if left < 0 {
		return 0
	}
	return left
}

func delay(st domain.Settings) time.Duration {
	return time.Duration(st.Normalize().AutoDelay * float64(time.Second))
}
