package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"quizdesk/internal/auth"
	"quizdesk/internal/storage"
)

type providerStub struct {
	signIn  func(ctx context.Context, email, password string) (*auth.Session, error)
	signUp  func(ctx context.Context, email, password, redirectTo string) (*auth.SignUpResult, error)
	signOut func(ctx context.Context, accessToken string, scope auth.SignOutScope) error
	getUser func(ctx context.Context, accessToken string) (*auth.Identity, error)
	refresh func(ctx context.Context, refreshToken string) (*auth.Session, error)
}

func (p *providerStub) SignInWithPassword(ctx context.Context, email, password string) (*auth.Session, error) {
	if p.signIn != nil {
		return p.signIn(ctx, email, password)
	}
	return nil, errors.New("not implemented")
}

func (p *providerStub) SignUp(ctx context.Context, email, password, redirectTo string) (*auth.SignUpResult, error) {
	if p.signUp != nil {
		return p.signUp(ctx, email, password, redirectTo)
	}
	return nil, errors.New("not implemented")
}

func (p *providerStub) SignOut(ctx context.Context, accessToken string, scope auth.SignOutScope) error {
	if p.signOut != nil {
		return p.signOut(ctx, accessToken, scope)
	}
	return nil
}

func (p *providerStub) GetUser(ctx context.Context, accessToken string) (*auth.Identity, error) {
	if p.getUser != nil {
		return p.getUser(ctx, accessToken)
	}
	return nil, errors.New("not implemented")
}

func (p *providerStub) RefreshSession(ctx context.Context, refreshToken string) (*auth.Session, error) {
	if p.refresh != nil {
		return p.refresh(ctx, refreshToken)
	}
	return nil, &auth.ProviderError{Status: http.StatusBadRequest, Code: "refresh_token_not_found", Message: "Invalid Refresh Token"}
}

type profileRepoStub struct {
	findProfile   func(ctx context.Context, id uuid.UUID) (*auth.Profile, error)
	createProfile func(ctx context.Context, profile auth.Profile) (auth.Profile, error)
}

func (r *profileRepoStub) FindProfile(ctx context.Context, id uuid.UUID) (*auth.Profile, error) {
	if r.findProfile != nil {
		return r.findProfile(ctx, id)
	}
	return nil, nil
}

func (r *profileRepoStub) FindProfileByEmail(ctx context.Context, email string) (*auth.Profile, error) {
	return nil, nil
}

func (r *profileRepoStub) ListProfiles(ctx context.Context) ([]auth.Profile, error) {
	return nil, nil
}

func (r *profileRepoStub) CreateProfile(ctx context.Context, profile auth.Profile) (auth.Profile, error) {
	if r.createProfile != nil {
		return r.createProfile(ctx, profile)
	}
	return profile, nil
}

func (r *profileRepoStub) UpdateRole(ctx context.Context, id uuid.UUID, role auth.Role) (auth.Profile, error) {
	return auth.Profile{}, nil
}

// stateRecorder collects the state names a manager publishes.
type stateRecorder struct {
	mu    sync.Mutex
	names []string
}

func (r *stateRecorder) record(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.names); n > 0 && r.names[n-1] == s.State.Name() {
		return
	}
	r.names = append(r.names, s.State.Name())
}

func (r *stateRecorder) sequence() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSession(identity auth.Identity, expiresIn time.Duration) *auth.Session {
	return &auth.Session{
		AccessToken:  "access-" + uuid.NewString(),
		RefreshToken: "refresh-" + uuid.NewString(),
		TokenType:    "bearer",
		ExpiresAt:    time.Now().Add(expiresIn),
		User:         identity,
	}
}

func newTestClient(provider auth.Provider, store storage.Store, namespace string) *Client {
	return NewClient(provider, store, ClientConfig{
		Namespace:  namespace,
		StorageKey: "sb-test-auth-token",
		Logger:     discardLogger(),
	})
}

func newTestManager(t *testing.T, provider auth.Provider, store storage.Store, profiles auth.ProfileRepository) *Manager {
	t.Helper()
	manager := NewManager(newTestClient(provider, store, "browser-1"), profiles, WithLogger(discardLogger()))
	t.Cleanup(manager.Close)
	return manager
}

func awaitSettled(t *testing.T, m *Manager) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := m.Await(ctx, Settled)
	if err != nil {
		t.Fatalf("manager did not settle: %v (state %s)", err, snap.State.Name())
	}
	return snap
}
