package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"quizdesk/internal/auth"
	"quizdesk/internal/session"
)

const defaultSettleTimeout = 5 * time.Second

// AuthHandler exposes the session manager of the calling browser client.
type AuthHandler struct {
	sessions      ManagerSource
	siteURL       string
	secureCookie  bool
	settleTimeout time.Duration
	logger        *slog.Logger
}

// NewAuthHandler builds the auth endpoints. siteURL is the base for email
// confirmation redirects.
func NewAuthHandler(sessions ManagerSource, siteURL, env string, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		sessions:      sessions,
		siteURL:       siteURL,
		secureCookie:  !strings.EqualFold(env, "development"),
		settleTimeout: defaultSettleTimeout,
		logger:        logger,
	}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signUpRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RedirectTo string `json:"redirectTo"`
}

type stateResponse struct {
	Status        string                  `json:"status"`
	Authenticated bool                    `json:"authenticated"`
	Loading       bool                    `json:"loading"`
	User          *auth.AuthenticatedUser `json:"user,omitempty"`
	Identity      *auth.Identity          `json:"identity,omitempty"`
	Error         string                  `json:"error,omitempty"`
	Version       uint64                  `json:"version"`
}

func newStateResponse(snap session.Snapshot) stateResponse {
	resp := stateResponse{
		Status:  snap.State.Name(),
		Loading: !session.Settled(snap),
		Error:   snap.Message(),
		Version: snap.Version,
	}
	switch s := snap.State.(type) {
	case session.Authenticated:
		user := s.User
		identity := s.User.Identity
		resp.Authenticated = true
		resp.User = &user
		resp.Identity = &identity
	case session.PendingProfile:
		identity := s.Identity
		resp.Identity = &identity
	}
	return resp
}

// State reports the current session state. With ?wait=true it first waits for
// any outstanding operation or profile lookup to finish.
func (h *AuthHandler) State(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newStateResponse(h.snapshot(r)))
}

// snapshot returns the caller's session snapshot. A client without a manager
// has nothing to restore and is unauthenticated.
func (h *AuthHandler) snapshot(r *http.Request) session.Snapshot {
	manager := ManagerFromContext(r.Context())
	if manager == nil {
		return session.Snapshot{State: session.Unauthenticated{}}
	}
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		return h.awaitSettled(r.Context(), manager)
	}
	return manager.Snapshot()
}

// manager returns the caller's session manager, creating it on first use.
func (h *AuthHandler) manager(w http.ResponseWriter, r *http.Request) (*session.Manager, bool) {
	if manager := ManagerFromContext(r.Context()); manager != nil {
		return manager, true
	}
	clientID := ClientIDFromContext(r.Context())
	if clientID == "" {
		writeError(w, http.StatusServiceUnavailable, "session service unavailable")
		return nil, false
	}
	manager, err := h.sessions.Get(r.Context(), clientID)
	if err != nil || manager == nil {
		h.logger.Error("failed to load session manager", "error", err)
		writeError(w, http.StatusServiceUnavailable, "session service unavailable")
		return nil, false
	}
	return manager, true
}

// SignIn authenticates with email and password and waits for the profile.
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	manager, ok := h.manager(w, r)
	if !ok {
		return
	}

	var payload credentialsRequest
	if err := decodeJSONBody(w, r, &payload); err != nil {
		writeJSONError(w, err)
		return
	}

	if _, err := manager.SignIn(r.Context(), payload.Email, payload.Password); err != nil {
		h.writeOperationError(w, err)
		return
	}

	snap := h.awaitSettled(r.Context(), manager)
	if _, ok := snap.State.(session.Unauthenticated); ok && snap.Err != nil {
		writeError(w, http.StatusUnauthorized, snap.Message())
		return
	}
	writeJSON(w, http.StatusOK, newStateResponse(snap))
}

// SignUp creates an account. When the provider requires email confirmation the
// response says so and no session is started.
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	manager, ok := h.manager(w, r)
	if !ok {
		return
	}

	var payload signUpRequest
	if err := decodeJSONBody(w, r, &payload); err != nil {
		writeJSONError(w, err)
		return
	}

	redirectTo := confirmationRedirect(h.siteURL, payload.RedirectTo)
	result, err := manager.SignUp(r.Context(), payload.Email, payload.Password, redirectTo)
	if err != nil {
		h.writeOperationError(w, err)
		return
	}

	snap := manager.Snapshot()
	if !result.ConfirmationRequired {
		snap = h.awaitSettled(r.Context(), manager)
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"confirmationRequired": result.ConfirmationRequired,
		"state":                newStateResponse(snap),
	})
}

// SignOut ends the session, discards the client's manager and expires its cookie.
// It always succeeds.
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if manager := ManagerFromContext(r.Context()); manager != nil {
		manager.SignOut(r.Context())
	}
	if clientID := ClientIDFromContext(r.Context()); clientID != "" {
		h.sessions.Evict(clientID)
	}

	http.SetCookie(w, clientCookie("", 0, h.secureCookie))
	w.Header().Set("Clear-Site-Data", `"storage"`)
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   session.Unauthenticated{}.Name(),
		"redirect": "/",
	})
}

func (h *AuthHandler) awaitSettled(ctx context.Context, manager *session.Manager) session.Snapshot {
	ctx, cancel := context.WithTimeout(ctx, h.settleTimeout)
	defer cancel()
	snap, err := manager.Await(ctx, session.Settled)
	if err != nil {
		h.logger.Warn("session did not settle", "state", snap.State.Name(), "error", err)
	}
	return snap
}

func (h *AuthHandler) writeOperationError(w http.ResponseWriter, err error) {
	var credErr *auth.CredentialError
	var signUpErr *auth.SignUpError
	switch {
	case errors.As(err, &credErr):
		writeError(w, http.StatusUnauthorized, credErr.Message)
	case errors.As(err, &signUpErr):
		writeError(w, http.StatusBadRequest, signUpErr.Message)
	case errors.Is(err, session.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "session ended, please retry")
	default:
		h.logger.Error("auth operation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
