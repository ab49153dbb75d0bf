package http

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"quizdesk/internal/auth"
	"quizdesk/internal/config"
	"quizdesk/internal/session"
	"quizdesk/internal/storage"
)

const testPassword = "correct-horse"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testBackend is an in-memory provider, profile store and registry.
type testBackend struct {
	provider *auth.MemoryProvider
	profiles *auth.InMemoryRepository
	store    *storage.MemoryStore
	registry *session.Registry
}

func newTestBackend(t *testing.T, opts ...auth.MemoryOption) *testBackend {
	t.Helper()
	b := &testBackend{
		provider: auth.NewMemoryProvider("test-secret", opts...),
		profiles: auth.NewInMemoryRepository(nil),
		store:    storage.NewMemoryStore(),
	}
	b.registry = session.NewRegistry(func(clientID string) (*session.Manager, error) {
		client := session.NewClient(b.provider, b.store, session.ClientConfig{
			Namespace:  clientID,
			StorageKey: "sb-test-auth-token",
			Logger:     discardLogger(),
		})
		return session.NewManager(client, b.profiles, session.WithLogger(discardLogger())), nil
	}, session.WithRegistryLogger(discardLogger()))
	t.Cleanup(b.registry.CloseAll)
	return b
}

// addAccount registers a confirmed account and, when role is set, its profile.
func (b *testBackend) addAccount(t *testing.T, email string, role auth.Role) auth.Identity {
	t.Helper()
	identity, err := b.provider.AddUser(email, testPassword, true)
	if err != nil {
		t.Fatalf("failed to add user: %v", err)
	}
	if role != "" {
		profile := auth.Profile{ID: identity.ID, Email: email, Role: role, CreatedAt: time.Now().UTC()}
		if _, err := b.profiles.CreateProfile(context.Background(), profile); err != nil {
			t.Fatalf("failed to add profile: %v", err)
		}
	}
	return identity
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>quizdesk</html>"), 0o600); err != nil {
		t.Fatalf("failed to write index.html: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "assets"), 0o755); err != nil {
		t.Fatalf("failed to create assets dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "assets", "app.js"), []byte("console.log('quiz')"), 0o600); err != nil {
		t.Fatalf("failed to write asset: %v", err)
	}
	return config.Config{
		Environment:    "development",
		AllowedOrigins: []string{"http://localhost:5173"},
		StaticDir:      dir,
		SiteURL:        "http://localhost:8080",
	}
}

func newTestRouter(t *testing.T, b *testBackend) http.Handler {
	t.Helper()
	return NewRouter(testConfig(t), b.registry, nil, nil, nil, discardLogger())
}

func doRequest(t *testing.T, h http.Handler, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func responseCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func signInBody(email string) string {
	return `{"email":"` + email + `","password":"` + testPassword + `"}`
}

func newClientCookie() *http.Cookie {
	return &http.Cookie{Name: clientCookieName, Value: uuid.NewString()}
}

type managerSourceStub struct {
	get   func(ctx context.Context, clientID string) (*session.Manager, error)
	evict func(clientID string) bool
}

func (s *managerSourceStub) Get(ctx context.Context, clientID string) (*session.Manager, error) {
	if s.get != nil {
		return s.get(ctx, clientID)
	}
	return nil, nil
}

func (s *managerSourceStub) Evict(clientID string) bool {
	if s.evict != nil {
		return s.evict(clientID)
	}
	return false
}
