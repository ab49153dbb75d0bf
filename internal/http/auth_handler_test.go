package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"quizdesk/internal/auth"
	"quizdesk/internal/session"
)

func decodeState(t *testing.T, body []byte) stateResponse {
	t.Helper()
	var resp stateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("failed to decode state: %v (%s)", err, body)
	}
	return resp
}

func TestSignInReturnsAuthenticatedUserAndIssuesClientCookie(t *testing.T) {
	backend := newTestBackend(t)
	backend.addAccount(t, "admin@lge.com", auth.RoleAdmin)
	router := newTestRouter(t, backend)

	rec := doRequest(t, router, http.MethodPost, "/api/auth/signin", signInBody("admin@lge.com"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	cookie := responseCookie(rec, clientCookieName)
	if cookie == nil || cookie.Value == "" {
		t.Fatal("expected client cookie to be issued")
	}
	if !cookie.HttpOnly || cookie.SameSite != http.SameSiteLaxMode {
		t.Fatalf("expected HttpOnly lax cookie, got %+v", cookie)
	}

	body := rec.Body.Bytes()
	if strings.Contains(string(body), "accessToken") || strings.Contains(string(body), "refreshToken") {
		t.Fatalf("response must not expose tokens: %s", body)
	}

	state := decodeState(t, body)
	if state.Status != "authenticated" || !state.Authenticated || state.Loading {
		t.Fatalf("unexpected state: %+v", state)
	}
	if state.User == nil || state.User.Role() != auth.RoleAdmin {
		t.Fatalf("expected admin user, got %+v", state.User)
	}
	if state.User.DisplayName != "admin" {
		t.Fatalf("expected display name from email, got %q", state.User.DisplayName)
	}
}

func TestSignInRejectsInvalidCredentials(t *testing.T) {
	backend := newTestBackend(t)
	backend.addAccount(t, "john.doe@lge.com", auth.RoleUser)
	router := newTestRouter(t, backend)

	rec := doRequest(t, router, http.MethodPost, "/api/auth/signin", `{"email":"john.doe@lge.com","password":"wrong-password"}`)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
	var payload map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload["error"] != "Invalid login credentials" {
		t.Fatalf("expected provider message, got %q", payload["error"])
	}
}

func TestSignInRejectsMalformedEmail(t *testing.T) {
	router := newTestRouter(t, newTestBackend(t))

	rec := doRequest(t, router, http.MethodPost, "/api/auth/signin", `{"email":"not-an-email","password":"secret123"}`)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "email") {
		t.Fatalf("expected validation message about email, got %s", rec.Body.String())
	}
}

func TestSignInRejectsUnknownFields(t *testing.T) {
	router := newTestRouter(t, newTestBackend(t))

	rec := doRequest(t, router, http.MethodPost, "/api/auth/signin", `{"email":"a@b.co","password":"secret123","role":"admin"}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestSignInWithoutProfileReportsProfileFailure(t *testing.T) {
	backend := newTestBackend(t)
	backend.addAccount(t, "orphan@lge.com", "")
	router := newTestRouter(t, backend)
	cookie := newClientCookie()

	rec := doRequest(t, router, http.MethodPost, "/api/auth/signin", signInBody("orphan@lge.com"), cookie)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Failed to load user profile") {
		t.Fatalf("expected profile failure message, got %s", rec.Body.String())
	}

	state := decodeState(t, doRequest(t, router, http.MethodGet, "/api/auth/state", "", cookie).Body.Bytes())
	if state.Status != "unauthenticated" || state.Error != "Failed to load user profile" {
		t.Fatalf("unexpected state after profile failure: %+v", state)
	}
}

func TestStateWaitsForRestoredSession(t *testing.T) {
	backend := newTestBackend(t)
	backend.addAccount(t, "john.doe@lge.com", auth.RoleUser)
	router := newTestRouter(t, backend)
	cookie := newClientCookie()

	if rec := doRequest(t, router, http.MethodPost, "/api/auth/signin", signInBody("john.doe@lge.com"), cookie); rec.Code != http.StatusOK {
		t.Fatalf("sign-in failed: %d %s", rec.Code, rec.Body.String())
	}

	// A fresh manager for the same client restores the persisted session.
	backend.registry.CloseAll()

	rec := doRequest(t, router, http.MethodGet, "/api/auth/state?wait=true", "", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	state := decodeState(t, rec.Body.Bytes())
	if state.Status != "authenticated" || state.User == nil || state.User.Email != "john.doe@lge.com" {
		t.Fatalf("expected restored session, got %+v", state)
	}
}

func TestStateForNewClientIsUnauthenticated(t *testing.T) {
	router := newTestRouter(t, newTestBackend(t))

	rec := doRequest(t, router, http.MethodGet, "/api/auth/state?wait=true", "")

	state := decodeState(t, rec.Body.Bytes())
	if state.Status != "unauthenticated" || state.Authenticated || state.Loading {
		t.Fatalf("unexpected state: %+v", state)
	}
	if state.User != nil || state.Identity != nil {
		t.Fatalf("expected no user, got %+v", state)
	}
}

func TestCookielessRequestsDoNotCreateManagers(t *testing.T) {
	backend := newTestBackend(t)
	router := newTestRouter(t, backend)

	for i := 0; i < 200; i++ {
		path := "/api/auth/state"
		if i%2 == 1 {
			path = "/api/views/dashboard?wait=true"
		}
		rec := doRequest(t, router, http.MethodGet, path, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected status 200, got %d", i, rec.Code)
		}
		if responseCookie(rec, clientCookieName) == nil {
			t.Fatalf("request %d: expected a client cookie", i)
		}
	}

	if backend.registry.Len() != 0 {
		t.Fatalf("expected no managers for cookie-less reads, got %d", backend.registry.Len())
	}
}

func TestSignInCreatesManagerForNewClient(t *testing.T) {
	backend := newTestBackend(t)
	backend.addAccount(t, "john.doe@lge.com", auth.RoleUser)
	router := newTestRouter(t, backend)

	first := doRequest(t, router, http.MethodGet, "/api/auth/state", "")
	cookie := responseCookie(first, clientCookieName)
	if cookie == nil {
		t.Fatal("expected a client cookie")
	}
	if backend.registry.Len() != 0 {
		t.Fatalf("expected no manager before sign-in, got %d", backend.registry.Len())
	}

	if rec := doRequest(t, router, http.MethodPost, "/api/auth/signin", signInBody("john.doe@lge.com"), cookie); rec.Code != http.StatusOK {
		t.Fatalf("sign-in failed: %d %s", rec.Code, rec.Body.String())
	}
	if backend.registry.Len() != 1 {
		t.Fatalf("expected one manager after sign-in, got %d", backend.registry.Len())
	}

	state := decodeState(t, doRequest(t, router, http.MethodGet, "/api/auth/state", "", cookie).Body.Bytes())
	if state.Status != "authenticated" {
		t.Fatalf("expected authenticated state for the cookie, got %+v", state)
	}
}

func TestSignUpRequiresConfirmation(t *testing.T) {
	backend := newTestBackend(t)
	router := newTestRouter(t, backend)

	rec := doRequest(t, router, http.MethodPost, "/api/auth/signup", `{"email":"new.hire@lge.com","password":"secret123","redirectTo":"https://evil.com"}`)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		ConfirmationRequired bool          `json:"confirmationRequired"`
		State                stateResponse `json:"state"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !payload.ConfirmationRequired {
		t.Fatal("expected confirmation to be required")
	}
	if payload.State.Authenticated {
		t.Fatalf("expected no session before confirmation, got %+v", payload.State)
	}

	profile, err := backend.profiles.FindProfileByEmail(t.Context(), "new.hire@lge.com")
	if err != nil || profile == nil {
		t.Fatalf("expected profile to be created, got %v, %v", profile, err)
	}
	if profile.Role != auth.RoleUser {
		t.Fatalf("expected default user role, got %q", profile.Role)
	}
}

func TestSignUpWithAutoConfirmSignsIn(t *testing.T) {
	backend := newTestBackend(t, auth.WithAutoConfirm(true))
	router := newTestRouter(t, backend)

	rec := doRequest(t, router, http.MethodPost, "/api/auth/signup", `{"email":"new.hire@lge.com","password":"secret123"}`)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		ConfirmationRequired bool          `json:"confirmationRequired"`
		State                stateResponse `json:"state"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload.ConfirmationRequired || payload.State.Status != "authenticated" {
		t.Fatalf("expected immediate sign-in, got %+v", payload)
	}
}

func TestSignUpRejectsDuplicateAccount(t *testing.T) {
	backend := newTestBackend(t)
	backend.addAccount(t, "john.doe@lge.com", auth.RoleUser)
	router := newTestRouter(t, backend)

	rec := doRequest(t, router, http.MethodPost, "/api/auth/signup", signInBody("john.doe@lge.com"))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "User already registered") {
		t.Fatalf("expected duplicate message, got %s", rec.Body.String())
	}
}

func TestSignOutClearsSessionAndCookie(t *testing.T) {
	backend := newTestBackend(t)
	backend.addAccount(t, "john.doe@lge.com", auth.RoleUser)
	router := newTestRouter(t, backend)
	cookie := newClientCookie()

	if rec := doRequest(t, router, http.MethodPost, "/api/auth/signin", signInBody("john.doe@lge.com"), cookie); rec.Code != http.StatusOK {
		t.Fatalf("sign-in failed: %d %s", rec.Code, rec.Body.String())
	}

	rec := doRequest(t, router, http.MethodPost, "/api/auth/signout", "", cookie)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if rec.Header().Get("Clear-Site-Data") != `"storage"` {
		t.Fatalf("expected Clear-Site-Data header, got %q", rec.Header().Get("Clear-Site-Data"))
	}
	cleared := responseCookie(rec, clientCookieName)
	if cleared == nil || cleared.MaxAge >= 0 {
		t.Fatalf("expected client cookie to be expired, got %+v", cleared)
	}
	var payload map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload["status"] != "unauthenticated" || payload["redirect"] != "/" {
		t.Fatalf("unexpected sign-out payload: %v", payload)
	}
	if backend.registry.Len() != 0 {
		t.Fatalf("expected manager to be evicted, %d remain", backend.registry.Len())
	}

	keys, err := backend.store.Keys(t.Context(), cookie.Value)
	if err != nil {
		t.Fatalf("failed to list keys: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("expected persisted session to be purged, got %v", keys)
	}

	state := decodeState(t, doRequest(t, router, http.MethodGet, "/api/auth/state?wait=true", "", cookie).Body.Bytes())
	if state.Status != "unauthenticated" {
		t.Fatalf("expected unauthenticated after sign-out, got %+v", state)
	}
}

func TestSignOutWithoutSessionSucceeds(t *testing.T) {
	router := newTestRouter(t, newTestBackend(t))

	for i := 0; i < 2; i++ {
		rec := doRequest(t, router, http.MethodPost, "/api/auth/signout", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("sign-out %d: expected status 200, got %d", i, rec.Code)
		}
	}
}

func TestNewStateResponseExposesPendingIdentity(t *testing.T) {
	identity := auth.Identity{Email: "pending@lge.com"}
	resp := newStateResponse(session.Snapshot{State: session.PendingProfile{Identity: identity}, Version: 3})

	if resp.Status != "pending_profile" || !resp.Loading || resp.Authenticated {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Identity == nil || resp.Identity.Email != identity.Email {
		t.Fatalf("expected pending identity, got %+v", resp.Identity)
	}
	if resp.Version != 3 {
		t.Fatalf("expected version 3, got %d", resp.Version)
	}
}
