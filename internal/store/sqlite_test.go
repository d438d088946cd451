package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/triadic/internal/domain"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteUserRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestSQLite(t)
	ctx := context.Background()

	got, err := s.GetUser(ctx, "anon_missing")
	if err != nil || got != nil {
		t.Fatalf("expected nil user, got %v err=%v", got, err)
	}

	now := time.Unix(1_700_000_000, 0)
	user := &domain.User{UserID: "anon_1", Username: "guest", LastSeenAt: now, CreatedAt: now, UpdatedAt: now}
	if err := s.UpsertUser(ctx, user); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}

	later := now.Add(time.Hour)
	if err := s.UpdateLastSeen(ctx, "anon_1", later); err != nil {
		t.Fatalf("UpdateLastSeen: %v", err)
	}

	got, err = s.GetUser(ctx, "anon_1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.Username != "guest" || !got.LastSeenAt.Equal(later) || !got.CreatedAt.Equal(now) {
		t.Errorf("unexpected user: %+v", got)
	}
}

func TestSQLiteSessionLifecycle(t *testing.T) {
	t.Parallel()
	s := newTestSQLite(t)
	ctx := context.Background()

	rec := &domain.SessionRecord{UserID: "u", SessionID: "tab-1", StateJSON: `{"summary":"a"}`, ContentHash: "h1"}
	if err := s.UpsertSession(ctx, rec); err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}
	rec.StateJSON = `{"summary":"b"}`
	rec.ContentHash = "h2"
	if err := s.UpsertSession(ctx, rec); err != nil {
		t.Fatalf("UpsertSession update: %v", err)
	}

	got, err := s.GetSession(ctx, "u", "tab-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got == nil || got.StateJSON != `{"summary":"b"}` || got.ContentHash != "h2" {
		t.Fatalf("unexpected record: %+v", got)
	}

	other, err := s.GetSession(ctx, "u", "tab-2")
	if err != nil || other != nil {
		t.Fatalf("expected no record for other tab, got %+v err=%v", other, err)
	}

	if err := s.DeleteSession(ctx, "u", "tab-1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	got, err = s.GetSession(ctx, "u", "tab-1")
	if err != nil || got != nil {
		t.Fatalf("expected deleted record, got %+v err=%v", got, err)
	}
}

func TestSQLiteCleanupExpiredSessions(t *testing.T) {
	t.Parallel()
	s := newTestSQLite(t)
	ctx := context.Background()

	if err := s.UpsertSession(ctx, &domain.SessionRecord{UserID: "u", SessionID: "old", StateJSON: "{}", ContentHash: "x"}); err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE session_snapshots SET updated_at = ? WHERE session_id = 'old'`,
		time.Now().Add(-48*time.Hour).Unix()); err != nil {
		t.Fatalf("age row: %v", err)
	}
	if err := s.UpsertSession(ctx, &domain.SessionRecord{UserID: "u", SessionID: "fresh", StateJSON: "{}", ContentHash: "y"}); err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}

	n, err := s.CleanupExpiredSessions(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("CleanupExpiredSessions: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 row removed, got %d", n)
	}
	if got, _ := s.GetSession(ctx, "u", "fresh"); got == nil {
		t.Error("fresh session should survive cleanup")
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(context.Background(), Config{Driver: "mongo"}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestOpenDefaultsToSQLite(t *testing.T) {
	t.Parallel()
	repo, err := Open(context.Background(), Config{SQLitePath: filepath.Join(t.TempDir(), "db.sqlite")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = repo.Close() }()
	if err := repo.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
