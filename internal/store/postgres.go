package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/ashureev/triadic/internal/domain"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresStore implements Repository on a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Repository = (*PostgresStore)(nil)

// NewPostgres connects, applies migrations, and returns the store.
func NewPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn must not be empty")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := migrate(pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func migrate(pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer func() { _ = db.Close() }()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// GetUser retrieves a user by their user ID.
func (s *PostgresStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	var u domain.User
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, username, last_seen_at, created_at, updated_at FROM users WHERE user_id = $1`,
		userID,
	).Scan(&u.UserID, &u.Username, &u.LastSeenAt, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	return &u, nil
}

// UpsertUser creates or updates a user record.
func (s *PostgresStore) UpsertUser(ctx context.Context, user *domain.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (user_id, username, last_seen_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			username = EXCLUDED.username,
			last_seen_at = EXCLUDED.last_seen_at,
			updated_at = EXCLUDED.updated_at`,
		user.UserID, user.Username, user.LastSeenAt, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *PostgresStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE users SET last_seen_at = $1, updated_at = now() WHERE user_id = $2`,
		lastSeen, userID,
	)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}
	return nil
}

// GetSession retrieves the snapshot for one tab session.
func (s *PostgresStore) GetSession(ctx context.Context, userID, sessionID string) (*domain.SessionRecord, error) {
	var rec domain.SessionRecord
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, session_id, state_json::text, content_hash, created_at, updated_at
		FROM session_snapshots WHERE user_id = $1 AND session_id = $2`,
		userID, sessionID,
	).Scan(&rec.UserID, &rec.SessionID, &rec.StateJSON, &rec.ContentHash, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session snapshot: %w", err)
	}
	return &rec, nil
}

// UpsertSession creates or replaces a snapshot.
func (s *PostgresStore) UpsertSession(ctx context.Context, rec *domain.SessionRecord) error {
	now := time.Now()
	created := rec.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO session_snapshots (user_id, session_id, state_json, content_hash, created_at, updated_at)
		VALUES ($1, $2, $3::jsonb, $4, $5, $6)
		ON CONFLICT (user_id, session_id) DO UPDATE SET
			state_json = EXCLUDED.state_json,
			content_hash = EXCLUDED.content_hash,
			updated_at = EXCLUDED.updated_at`,
		rec.UserID, rec.SessionID, rec.StateJSON, rec.ContentHash, created, now,
	)
	if err != nil {
		return fmt.Errorf("upsert session snapshot: %w", err)
	}
	return nil
}

// DeleteSession removes a snapshot.
func (s *PostgresStore) DeleteSession(ctx context.Context, userID, sessionID string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM session_snapshots WHERE user_id = $1 AND session_id = $2`, userID, sessionID,
	); err != nil {
		return fmt.Errorf("delete session snapshot: %w", err)
	}
	return nil
}

// CleanupExpiredSessions removes snapshots older than ttl.
func (s *PostgresStore) CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM session_snapshots WHERE updated_at < $1`, time.Now().Add(-ttl),
	)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
