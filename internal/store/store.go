// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/ashureev/triadic/internal/domain"
)

// Supported backend drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverDynamoDB = "dynamodb"
)

// Repository persists users and session snapshots. Lookups return nil, nil
// when no row exists.
type Repository interface {
	// GetUser retrieves a user by their user ID.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// GetSession retrieves the snapshot for one tab session.
	GetSession(ctx context.Context, userID, sessionID string) (*domain.SessionRecord, error)

	// UpsertSession creates or replaces a snapshot.
	UpsertSession(ctx context.Context, rec *domain.SessionRecord) error

	// DeleteSession removes a snapshot.
	DeleteSession(ctx context.Context, userID, sessionID string) error

	// CleanupExpiredSessions removes snapshots not updated within ttl.
	CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Driver      string
	SQLitePath  string
	PostgresDSN string
	DynamoTable string
	// SnapshotTTL sets the DynamoDB expiry attribute on snapshots.
	SnapshotTTL time.Duration
}

// Open builds the Repository named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Repository, error) {
	switch cfg.Driver {
	case "", DriverSQLite:
		s, err := NewSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverPostgres:
		s, err := NewPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverDynamoDB:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		s, err := NewDynamo(dynamodb.NewFromConfig(awsCfg), cfg.DynamoTable, cfg.SnapshotTTL)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
