// Package driver runs the background loops that advance auto-run sessions
// and sweep idle state.
package driver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/ashureev/triadic/internal/autorun"
	"github.com/ashureev/triadic/internal/session"
	"github.com/ashureev/triadic/internal/shared"
)

const (
	defaultSweepInterval = 5 * time.Minute
	cleanupRetries       = 3
	cleanupBaseDelay     = 50 * time.Millisecond
)

// Sessions is the subset of the session service the driver needs.
type Sessions interface {
	ActiveKeys() []session.Key
	Tick(ctx context.Context, userID, sessionID string) (autorun.Decision, error)
	EvictIdle(ctx context.Context, ttl time.Duration) int
}

// Cleaner removes snapshots that have not been written within maxAge.
type Cleaner interface {
	CleanupExpiredSessions(ctx context.Context, maxAge time.Duration) (int64, error)
}

// Config controls loop cadence.
type Config struct {
	TickInterval   time.Duration
	SweepInterval  time.Duration
	SessionTTL     time.Duration
	SnapshotMaxAge time.Duration
}

// Driver owns the auto-run ticker and the expiry worker.
type Driver struct {
	sessions Sessions
	cleaner  Cleaner
	cfg      Config
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// New creates a driver. cleaner may be nil.
func New(sessions Sessions, cleaner Cleaner, cfg Config, logger *slog.Logger) *Driver {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{sessions: sessions, cleaner: cleaner, cfg: cfg, logger: logger}
}

// Start launches both loops. They stop when ctx is cancelled.
func (d *Driver) Start(ctx context.Context) {
	d.wg.Add(2)
	go d.loop(ctx, "auto-run ticker", d.cfg.TickInterval, d.TickAll)
	go d.loop(ctx, "expiry worker", d.cfg.SweepInterval, d.Sweep)
}

// Wait blocks until both loops have returned.
func (d *Driver) Wait() {
	d.wg.Wait()
}

func (d *Driver) loop(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	defer d.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	d.logger.Info("Background loop started", "loop", name, "interval", interval)

	for {
		select {
		case <-ticker.C:
			fn(ctx)
		case <-ctx.Done():
			d.logger.Info("Background loop shutting down", "loop", name, "reason", ctx.Err())
			return
		}
	}
}

// TickAll evaluates auto-run for every resident session.
func (d *Driver) TickAll(ctx context.Context) {
	for _, k := range d.sessions.ActiveKeys() {
		if ctx.Err() != nil {
			return
		}
		dec, err := d.sessions.Tick(ctx, k.UserID, k.SessionID)
		if err != nil {
			d.logger.Warn("Auto-run tick failed", "session", k.String(), "error", err)
			continue
		}
		if dec.Fire {
			d.logger.Debug("Auto-run fired", "session", k.String())
		}
	}
}

// Sweep evicts idle sessions and prunes old snapshots.
func (d *Driver) Sweep(ctx context.Context) {
	if d.cfg.SessionTTL > 0 {
		if n := d.sessions.EvictIdle(ctx, d.cfg.SessionTTL); n > 0 {
			d.logger.Info("Expiry worker evicted idle sessions", "count", n)
		}
	}
	if d.cleaner == nil || d.cfg.SnapshotMaxAge <= 0 {
		return
	}
	deleted, err := d.cleanup(ctx)
	if err != nil {
		d.logger.Error("Expiry worker failed to cleanup snapshots", "error", err)
		return
	}
	if deleted > 0 {
		d.logger.Info("Expiry worker removed stale snapshots", "count", deleted)
	}
}

// cleanup retries on SQLite lock contention with exponential backoff.
func (d *Driver) cleanup(ctx context.Context) (int64, error) {
	var deleted int64
	backoff := retry.WithMaxRetries(cleanupRetries-1, retry.NewExponential(cleanupBaseDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		n, err := d.cleaner.CleanupExpiredSessions(ctx, d.cfg.SnapshotMaxAge)
		if err != nil {
			if shared.IsSQLiteConflictError(err) {
				d.logger.Debug("Snapshot cleanup hit a locked database, retrying", "error", err)
				return retry.RetryableError(err)
			}
			return err
		}
		deleted = n
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("cleanup expired sessions: %w", err)
	}
	return deleted, nil
}
