package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/sethvargo/go-retry"
	_ "modernc.org/sqlite"

	"github.com/ashureev/triadic/internal/domain"
	"github.com/ashureev/triadic/internal/shared"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Repository = (*SQLiteStore)(nil)

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, errors.New("sqlite path must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS session_snapshots (
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		state_json TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, session_id)
	);
	CREATE INDEX IF NOT EXISTS idx_session_snapshots_updated ON session_snapshots(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// withBusyRetry retries fn on SQLITE_BUSY with 100ms, 200ms backoff.
func withBusyRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	b := retry.WithMaxRetries(2, retry.NewExponential(100*time.Millisecond))
	attempt := 0
	return retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err != nil && shared.IsSQLiteConflictError(err) {
			slog.Debug("SQLite busy, retrying", "op", op, "attempt", attempt)
			return retry.RetryableError(err)
		}
		return err
	})
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	var user domain.User
	var lastSeen, createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.UserID, &user.Username, &lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)
	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	return withBusyRetry(ctx, "upsert_user", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, query,
			user.UserID, user.Username, user.LastSeenAt.Unix(),
			user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}
		return nil
	})
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	return withBusyRetry(ctx, "update_last_seen", func(ctx context.Context) error {
		result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), userID)
		if err != nil {
			return fmt.Errorf("update last_seen: %w", err)
		}
		if rows, err := result.RowsAffected(); err == nil && rows == 0 {
			slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
		}
		return nil
	})
}

// GetSession retrieves the snapshot for one tab session.
func (s *SQLiteStore) GetSession(ctx context.Context, userID, sessionID string) (*domain.SessionRecord, error) {
	query := `
		SELECT user_id, session_id, state_json, content_hash, created_at, updated_at
		FROM session_snapshots WHERE user_id = ? AND session_id = ?`

	var rec domain.SessionRecord
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, userID, sessionID).Scan(
		&rec.UserID, &rec.SessionID, &rec.StateJSON, &rec.ContentHash, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session snapshot: %w", err)
	}
	rec.CreatedAt = time.Unix(createdAt, 0)
	rec.UpdatedAt = time.Unix(updatedAt, 0)
	return &rec, nil
}

// UpsertSession creates or replaces a snapshot.
func (s *SQLiteStore) UpsertSession(ctx context.Context, rec *domain.SessionRecord) error {
	query := `
		INSERT INTO session_snapshots (user_id, session_id, state_json, content_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, session_id) DO UPDATE SET
			state_json = excluded.state_json,
			content_hash = excluded.content_hash,
			updated_at = excluded.updated_at`

	now := time.Now()
	created := rec.CreatedAt
	if created.IsZero() {
		created = now
	}
	return withBusyRetry(ctx, "upsert_session", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, query,
			rec.UserID, rec.SessionID, rec.StateJSON, rec.ContentHash,
			created.Unix(), now.Unix(),
		)
		if err != nil {
			return fmt.Errorf("upsert session snapshot: %w", err)
		}
		return nil
	})
}

// DeleteSession removes a snapshot.
func (s *SQLiteStore) DeleteSession(ctx context.Context, userID, sessionID string) error {
	query := `DELETE FROM session_snapshots WHERE user_id = ? AND session_id = ?`
	return withBusyRetry(ctx, "delete_session", func(ctx context.Context) error {
		if _, err := s.db.ExecContext(ctx, query, userID, sessionID); err != nil {
			return fmt.Errorf("delete session snapshot: %w", err)
		}
		return nil
	})
}

// CleanupExpiredSessions removes snapshots older than ttl.
func (s *SQLiteStore) CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).Unix()
	var n int64
	err := withBusyRetry(ctx, "cleanup_sessions", func(ctx context.Context) error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM session_snapshots WHERE updated_at < ?`, threshold)
		if err != nil {
			return fmt.Errorf("cleanup expired sessions: %w", err)
		}
		n, err = result.RowsAffected()
		return err
	})
	return n, err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
