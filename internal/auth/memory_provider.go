package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const memoryAudience = "authenticated"

// MemoryProvider is an in-process identity provider for local development and tests.
// It mirrors the error codes of the hosted provider so callers behave the same against both.
type MemoryProvider struct {
	mu          sync.Mutex
	secret      []byte
	accessTTL   time.Duration
	autoConfirm bool
	now         func() time.Time

	users     map[string]*memoryUser
	sessions  map[string]uuid.UUID
	refreshes map[string]string
}

type memoryUser struct {
	identity  Identity
	hash      []byte
	confirmed bool
}

type memoryClaims struct {
	Email     string `json:"email"`
	SessionID string `json:"session_id"`
	jwt.RegisteredClaims
}

// MemoryOption customizes a MemoryProvider.
type MemoryOption func(*MemoryProvider)

// WithAccessTTL sets the access token lifetime.
func WithAccessTTL(ttl time.Duration) MemoryOption {
	return func(p *MemoryProvider) { p.accessTTL = ttl }
}

// WithAutoConfirm makes sign-ups usable immediately, without an email confirmation step.
func WithAutoConfirm(enabled bool) MemoryOption {
	return func(p *MemoryProvider) { p.autoConfirm = enabled }
}

// WithClock overrides the provider clock.
func WithClock(now func() time.Time) MemoryOption {
	return func(p *MemoryProvider) { p.now = now }
}

// NewMemoryProvider creates a provider that signs access tokens with secret.
func NewMemoryProvider(secret string, opts ...MemoryOption) *MemoryProvider {
	p := &MemoryProvider{
		secret:    []byte(secret),
		accessTTL: time.Hour,
		now:       time.Now,
		users:     make(map[string]*memoryUser),
		sessions:  make(map[string]uuid.UUID),
		refreshes: make(map[string]string),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AddUser registers an account directly, bypassing sign-up. Used for seeding.
func (p *MemoryProvider) AddUser(email, password string, confirmed bool) (Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addUserLocked(email, password, confirmed)
}

// ConfirmEmail marks a pending account as confirmed.
func (p *MemoryProvider) ConfirmEmail(email string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	user, ok := p.users[normalizeEmail(email)]
	if !ok {
		return &ProviderError{Status: http.StatusNotFound, Code: "user_not_found", Message: "User not found"}
	}
	user.confirmed = true
	return nil
}

// SignInWithPassword verifies the password and issues a session.
func (p *MemoryProvider) SignInWithPassword(_ context.Context, email, password string) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	user, ok := p.users[normalizeEmail(email)]
	if !ok || bcrypt.CompareHashAndPassword(user.hash, []byte(password)) != nil {
		return nil, &ProviderError{Status: http.StatusBadRequest, Code: "invalid_credentials", Message: "Invalid login credentials"}
	}
	if !user.confirmed {
		return nil, &ProviderError{Status: http.StatusBadRequest, Code: "email_not_confirmed", Message: "Email not confirmed"}
	}
	return p.issueLocked(user.identity, uuid.NewString())
}

// SignUp registers an account. Without auto-confirm no session is issued.
func (p *MemoryProvider) SignUp(_ context.Context, email, password, _ string) (*SignUpResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(password) < 6 {
		return nil, &ProviderError{Status: http.StatusUnprocessableEntity, Code: "weak_password", Message: "Password should be at least 6 characters."}
	}
	identity, err := p.addUserLocked(email, password, p.autoConfirm)
	if err != nil {
		return nil, err
	}
	if !p.autoConfirm {
		return &SignUpResult{Identity: identity, ConfirmationRequired: true}, nil
	}

	session, err := p.issueLocked(identity, uuid.NewString())
	if err != nil {
		return nil, err
	}
	return &SignUpResult{Identity: identity, Session: session}, nil
}

// SignOut revokes the session behind accessToken. The global scope revokes every
// session of the user, the others scope every session except this one.
func (p *MemoryProvider) SignOut(_ context.Context, accessToken string, scope SignOutScope) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	claims, err := p.parseLocked(accessToken)
	if err != nil {
		return err
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return p.invalidToken()
	}

	for sid, owner := range p.sessions {
		if owner != userID {
			continue
		}
		switch scope {
		case ScopeGlobal:
			p.revokeLocked(sid)
		case ScopeOthers:
			if sid != claims.SessionID {
				p.revokeLocked(sid)
			}
		default:
			if sid == claims.SessionID {
				p.revokeLocked(sid)
			}
		}
	}
	return nil
}

// GetUser returns the identity for a live access token.
func (p *MemoryProvider) GetUser(_ context.Context, accessToken string) (*Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	claims, err := p.parseLocked(accessToken)
	if err != nil {
		return nil, err
	}
	user, ok := p.users[normalizeEmail(claims.Email)]
	if !ok {
		return nil, p.invalidToken()
	}
	identity := user.identity
	return &identity, nil
}

// RefreshSession rotates a refresh token into a new session.
func (p *MemoryProvider) RefreshSession(_ context.Context, refreshToken string) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sid, ok := p.refreshes[refreshToken]
	if !ok {
		return nil, &ProviderError{Status: http.StatusBadRequest, Code: "refresh_token_not_found", Message: "Invalid Refresh Token: Refresh Token Not Found"}
	}
	delete(p.refreshes, refreshToken)

	userID, ok := p.sessions[sid]
	if !ok {
		return nil, &ProviderError{Status: http.StatusBadRequest, Code: "session_not_found", Message: "Session not found"}
	}
	for _, user := range p.users {
		if user.identity.ID == userID {
			return p.issueLocked(user.identity, sid)
		}
	}
	return nil, &ProviderError{Status: http.StatusBadRequest, Code: "user_not_found", Message: "User not found"}
}

func (p *MemoryProvider) addUserLocked(email, password string, confirmed bool) (Identity, error) {
	key := normalizeEmail(email)
	if _, exists := p.users[key]; exists {
		return Identity{}, &ProviderError{Status: http.StatusUnprocessableEntity, Code: "user_already_exists", Message: "User already registered"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Identity{}, fmt.Errorf("hash password: %w", err)
	}

	identity := Identity{ID: uuid.New(), Email: key}
	p.users[key] = &memoryUser{identity: identity, hash: hash, confirmed: confirmed}
	return identity, nil
}

func (p *MemoryProvider) issueLocked(identity Identity, sessionID string) (*Session, error) {
	now := p.now()
	expiresAt := now.Add(p.accessTTL)

	claims := memoryClaims{
		Email:     identity.Email,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID.String(),
			Audience:  jwt.ClaimStrings{memoryAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refreshToken, err := randomToken()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	p.sessions[sessionID] = identity.ID
	p.refreshes[refreshToken] = sessionID

	return &Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		ExpiresAt:    expiresAt,
		User:         identity,
	}, nil
}

func (p *MemoryProvider) parseLocked(accessToken string) (*memoryClaims, error) {
	claims := &memoryClaims{}
	_, err := jwt.ParseWithClaims(accessToken, claims, func(*jwt.Token) (any, error) {
		return p.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(memoryAudience),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, &ProviderError{Status: http.StatusUnauthorized, Code: "bad_jwt", Message: "invalid JWT: token is expired"}
		}
		return nil, p.invalidToken()
	}
	if _, ok := p.sessions[claims.SessionID]; !ok {
		return nil, &ProviderError{Status: http.StatusForbidden, Code: "session_not_found", Message: "Session from session_id claim in JWT does not exist"}
	}
	return claims, nil
}

func (p *MemoryProvider) revokeLocked(sessionID string) {
	delete(p.sessions, sessionID)
	for token, sid := range p.refreshes {
		if sid == sessionID {
			delete(p.refreshes, token)
		}
	}
}

func (p *MemoryProvider) invalidToken() error {
	return &ProviderError{Status: http.StatusUnauthorized, Code: "bad_jwt", Message: "invalid JWT"}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
