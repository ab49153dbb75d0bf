package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"quizdesk/internal/session"
)

func TestClientMiddlewareIssuesCookieWithoutCreatingManager(t *testing.T) {
	source := &managerSourceStub{
		get: func(ctx context.Context, clientID string) (*session.Manager, error) {
			t.Errorf("unexpected manager lookup for new client %q", clientID)
			return nil, nil
		},
	}
	var gotID string
	var gotManager *session.Manager
	next := newClientMiddleware(source, true, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = ClientIDFromContext(r.Context())
		gotManager = ManagerFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	next.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/state", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if _, err := uuid.Parse(gotID); err != nil {
		t.Fatalf("expected uuid client id, got %q", gotID)
	}
	if gotManager != nil {
		t.Fatal("expected no manager for a new client")
	}
	cookie := responseCookie(rec, clientCookieName)
	if cookie == nil || cookie.Value != gotID {
		t.Fatalf("expected cookie carrying %q, got %+v", gotID, cookie)
	}
	if !cookie.Secure || !cookie.HttpOnly {
		t.Fatalf("expected secure HttpOnly cookie, got %+v", cookie)
	}
}

func TestClientMiddlewareReusesValidCookie(t *testing.T) {
	existing := uuid.NewString()
	var gotID string
	source := &managerSourceStub{
		get: func(ctx context.Context, clientID string) (*session.Manager, error) {
			gotID = clientID
			return nil, nil
		},
	}
	next := newClientMiddleware(source, false, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/state", nil)
	req.AddCookie(&http.Cookie{Name: clientCookieName, Value: existing})
	rec := httptest.NewRecorder()
	next.ServeHTTP(rec, req)

	if gotID != existing {
		t.Fatalf("expected client id %q, got %q", existing, gotID)
	}
	if cookie := responseCookie(rec, clientCookieName); cookie != nil {
		t.Fatalf("expected no new cookie, got %+v", cookie)
	}
}

func TestClientMiddlewareReplacesMalformedCookie(t *testing.T) {
	source := &managerSourceStub{
		get: func(ctx context.Context, clientID string) (*session.Manager, error) {
			t.Errorf("unexpected manager lookup for %q", clientID)
			return nil, nil
		},
	}
	var gotID string
	next := newClientMiddleware(source, false, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = ClientIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/state", nil)
	req.AddCookie(&http.Cookie{Name: clientCookieName, Value: "../../etc/passwd"})
	rec := httptest.NewRecorder()
	next.ServeHTTP(rec, req)

	if _, err := uuid.Parse(gotID); err != nil {
		t.Fatalf("expected fresh uuid client id, got %q", gotID)
	}
	cookie := responseCookie(rec, clientCookieName)
	if cookie == nil || cookie.Value != gotID {
		t.Fatalf("expected replacement cookie carrying %q, got %+v", gotID, cookie)
	}
}

func TestClientMiddlewareReportsUnavailableManager(t *testing.T) {
	source := &managerSourceStub{
		get: func(ctx context.Context, clientID string) (*session.Manager, error) {
			return nil, errors.New("restore session: redis down")
		},
	}
	called := false
	next := newClientMiddleware(source, false, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/state", nil)
	req.AddCookie(newClientCookie())
	rec := httptest.NewRecorder()
	next.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}
	if called {
		t.Fatal("expected handler not to run")
	}
}

func TestSecurityHeaders(t *testing.T) {
	tests := []struct {
		env      string
		wantHSTS bool
	}{
		{env: "development", wantHSTS: false},
		{env: "production", wantHSTS: true},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			next := newSecurityHeadersMiddleware(tt.env)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
			rec := httptest.NewRecorder()
			next.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			if rec.Header().Get("X-Frame-Options") != "DENY" {
				t.Fatalf("expected X-Frame-Options DENY, got %q", rec.Header().Get("X-Frame-Options"))
			}
			if got := rec.Header().Get("Strict-Transport-Security") != ""; got != tt.wantHSTS {
				t.Fatalf("expected HSTS=%v, got %v", tt.wantHSTS, got)
			}
		})
	}
}

type statusCounter struct {
	statuses []int
}

func (s *statusCounter) RecordAuthOperation(string, string) {}
func (s *statusCounter) RecordProfileFetch(string, time.Duration) {}
func (s *statusCounter) RecordStateTransition(string, string) {}
func (s *statusCounter) SetActiveManagers(int) {}
func (s *statusCounter) RecordHTTPStatus(status int) { s.statuses = append(s.statuses, status) }
func (s *statusCounter) RecordRateLimited(string) {}

func TestSlogMiddlewareRecordsStatus(t *testing.T) {
	recorder := &statusCounter{}
	next := newSlogMiddleware(discardLogger(), recorder)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	next.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	if len(recorder.statuses) != 1 || recorder.statuses[0] != http.StatusTeapot {
		t.Fatalf("expected one 418 status, got %v", recorder.statuses)
	}
}
