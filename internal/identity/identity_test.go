package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ashureev/triadic/internal/domain"
)

type memUsers struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func (m *memUsers) GetUser(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id], nil
}

func (m *memUsers) UpsertUser(_ context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.UserID] = u
	return nil
}

func TestSanitizeSessionID(t *testing.T) {
	t.Parallel()
	tests := []struct{ in, want string }{
		{"", DefaultSessionIDValue},
		{"tab-1", "tab-1"},
		{"  tab.2:x  ", "tab.2:x"},
		{"bad id", DefaultSessionIDValue},
		{strings.Repeat("a", 129), DefaultSessionIDValue},
	}
	for _, tt := range tests {
		if got := sanitizeSessionID(tt.in); got != tt.want {
			t.Errorf("sanitizeSessionID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMiddlewareMintsIdentity(t *testing.T) {
	t.Parallel()
	users := &memUsers{users: map[string]*domain.User{}}

	var gotUser, gotSession string
	h := Middleware(users, true)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		gotSession = SessionIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set(SessionHeaderName, "tab-7")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if !anonIDPattern.MatchString(gotUser) {
		t.Fatalf("unexpected user id %q", gotUser)
	}
	if gotSession != "tab-7" {
		t.Errorf("session = %q", gotSession)
	}
	if users.users[gotUser] == nil {
		t.Error("user row should be created")
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != AnonCookieName || cookies[0].Value != gotUser || !cookies[0].HttpOnly {
		t.Errorf("unexpected cookies: %+v", cookies)
	}
}

func TestMiddlewareReusesCookie(t *testing.T) {
	t.Parallel()
	users := &memUsers{users: map[string]*domain.User{}}
	id := "anon_" + strings.Repeat("ab", 16)

	var gotUser, gotSession string
	h := Middleware(users, false)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		gotSession = SessionIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/ws/session?session_id=tab-9", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: id})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if gotUser != id || gotSession != "tab-9" {
		t.Errorf("user=%q session=%q", gotUser, gotSession)
	}
	if c := rec.Result().Cookies(); len(c) != 1 || !c[0].Secure {
		t.Errorf("cookie should be refreshed as Secure outside dev: %+v", c)
	}
}

func TestWithIdentity(t *testing.T) {
	t.Parallel()
	ctx := WithIdentity(context.Background(), "u", "bad id")
	if UserIDFromContext(ctx) != "u" || SessionIDFromContext(ctx) != DefaultSessionIDValue {
		t.Errorf("unexpected identity in context")
	}
}
