package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"quizdesk/internal/metrics"
	"quizdesk/internal/session"
)

const (
	clientCookieName = "quizdesk_client"
	clientCookieTTL  = 30 * 24 * time.Hour
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func newSlogMiddleware(logger *slog.Logger, recorder metrics.Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			duration := time.Since(start)
			recorder.RecordHTTPStatus(rec.status)
			logger.Info("http request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", duration.String())
		})
	}
}

// ManagerSource hands out the session manager bound to a browser client.
type ManagerSource interface {
	Get(ctx context.Context, clientID string) (*session.Manager, error)
	Evict(clientID string) bool
}

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	managerContextKey  contextKey = "session-manager"
	clientIDContextKey contextKey = "client-id"
)

// ManagerFromContext returns the session manager injected by the client middleware.
func ManagerFromContext(ctx context.Context) *session.Manager {
	manager, _ := ctx.Value(managerContextKey).(*session.Manager)
	return manager
}

// ClientIDFromContext returns the browser client identifier, if any.
func ClientIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(clientIDContextKey).(string)
	return id
}

// newClientMiddleware binds each request to its browser client and injects that
// client's session manager. A request without a client cookie gets a new one
// but no manager; handlers create it only when the client signs in or up.
func newClientMiddleware(source ManagerSource, secure bool, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID, ok := clientIDFromCookie(r)
			if !ok {
				clientID = uuid.NewString()
				http.SetCookie(w, clientCookie(clientID, clientCookieTTL, secure))
				ctx := context.WithValue(r.Context(), clientIDContextKey, clientID)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			manager, err := source.Get(r.Context(), clientID)
			if err != nil {
				logger.Error("failed to load session manager", "error", err)
				writeError(w, http.StatusServiceUnavailable, "session service unavailable")
				return
			}

			ctx := context.WithValue(r.Context(), managerContextKey, manager)
			ctx = context.WithValue(ctx, clientIDContextKey, clientID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func clientIDFromCookie(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(clientCookieName)
	if err != nil {
		return "", false
	}
	id, err := uuid.Parse(strings.TrimSpace(cookie.Value))
	if err != nil {
		return "", false
	}
	return id.String(), true
}

func clientCookie(value string, ttl time.Duration, secure bool) *http.Cookie {
	cookie := &http.Cookie{
		Name:     clientCookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
		MaxAge:   int(ttl.Seconds()),
		Expires:  time.Now().Add(ttl),
	}
	if ttl <= 0 {
		cookie.Value = ""
		cookie.MaxAge = -1
		cookie.Expires = time.Unix(0, 0)
	}
	return cookie
}

func newSecurityHeadersMiddleware(environment string) func(http.Handler) http.Handler {
	isDev := strings.EqualFold(environment, "development")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("X-XSS-Protection", "1; mode=block")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("Permissions-Policy", "geolocation=(), camera=(), microphone=()")

			if !isDev {
				w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}

			next.ServeHTTP(w, r)
		})
	}
}
