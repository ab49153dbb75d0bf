package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

const maxProviderResponseBytes = 1 << 20

// GoTrueProvider talks to a Supabase Auth (GoTrue) server over its REST API.
type GoTrueProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
	now     func() time.Time
}

// NewGoTrueProvider creates a provider for the project at projectURL, authenticating
// requests with the project's anon key.
func NewGoTrueProvider(projectURL, apiKey string, client *http.Client) *GoTrueProvider {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &GoTrueProvider{
		baseURL: strings.TrimSuffix(projectURL, "/") + "/auth/v1",
		apiKey:  apiKey,
		client:  client,
		now:     time.Now,
	}
}

type gotrueUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type gotrueSession struct {
	AccessToken  string     `json:"access_token"`
	TokenType    string     `json:"token_type"`
	ExpiresIn    int64      `json:"expires_in"`
	ExpiresAt    int64      `json:"expires_at"`
	RefreshToken string     `json:"refresh_token"`
	User         gotrueUser `json:"user"`
}

type gotrueError struct {
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Message          string `json:"message"`
}

// SignInWithPassword exchanges an email and password for a session.
func (p *GoTrueProvider) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	body := map[string]string{"email": email, "password": password}
	query := url.Values{"grant_type": {"password"}}

	var payload gotrueSession
	if err := p.do(ctx, http.MethodPost, "/token", query, body, "", &payload); err != nil {
		return nil, err
	}
	return p.toSession(payload)
}

// SignUp registers a new account. The confirmation email links back to redirectTo.
func (p *GoTrueProvider) SignUp(ctx context.Context, email, password, redirectTo string) (*SignUpResult, error) {
	body := map[string]string{"email": email, "password": password}
	query := url.Values{}
	if redirectTo != "" {
		query.Set("redirect_to", redirectTo)
	}

	// With autoconfirm the server answers with a session; otherwise with the bare user.
	var payload struct {
		gotrueSession
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	if err := p.do(ctx, http.MethodPost, "/signup", query, body, "", &payload); err != nil {
		return nil, err
	}

	if payload.AccessToken != "" {
		session, err := p.toSession(payload.gotrueSession)
		if err != nil {
			return nil, err
		}
		return &SignUpResult{Identity: session.User, Session: session}, nil
	}

	identity, err := toIdentity(gotrueUser{ID: payload.ID, Email: payload.Email})
	if err != nil {
		return nil, err
	}
	return &SignUpResult{Identity: identity, ConfirmationRequired: true}, nil
}

// SignOut revokes the session behind accessToken using the given scope.
func (p *GoTrueProvider) SignOut(ctx context.Context, accessToken string, scope SignOutScope) error {
	query := url.Values{}
	if scope != "" {
		query.Set("scope", string(scope))
	}
	return p.do(ctx, http.MethodPost, "/logout", query, nil, accessToken, nil)
}

// GetUser returns the identity that owns accessToken.
func (p *GoTrueProvider) GetUser(ctx context.Context, accessToken string) (*Identity, error) {
	var payload gotrueUser
	if err := p.do(ctx, http.MethodGet, "/user", nil, nil, accessToken, &payload); err != nil {
		return nil, err
	}
	identity, err := toIdentity(payload)
	if err != nil {
		return nil, err
	}
	return &identity, nil
}

// RefreshSession trades a refresh token for a new session.
func (p *GoTrueProvider) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	body := map[string]string{"refresh_token": refreshToken}
	query := url.Values{"grant_type": {"refresh_token"}}

	var payload gotrueSession
	if err := p.do(ctx, http.MethodPost, "/token", query, body, "", &payload); err != nil {
		return nil, err
	}
	return p.toSession(payload)
}

func (p *GoTrueProvider) do(ctx context.Context, method, path string, query url.Values, body any, accessToken string, out any) error {
	endpoint := p.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("apikey", p.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}).SetAuthHeader(req)
	} else {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeProviderError(resp.StatusCode, data)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeProviderError(status int, data []byte) error {
	var payload gotrueError
	_ = json.Unmarshal(data, &payload)

	return &ProviderError{
		Status:  status,
		Code:    firstNonEmpty(payload.ErrorCode, payload.Error),
		Message: firstNonEmpty(payload.Msg, payload.ErrorDescription, payload.Message, http.StatusText(status)),
	}
}

func (p *GoTrueProvider) toSession(payload gotrueSession) (*Session, error) {
	if payload.AccessToken == "" {
		return nil, fmt.Errorf("identity provider returned no access token")
	}
	identity, err := toIdentity(payload.User)
	if err != nil {
		return nil, err
	}

	expiresAt := time.Unix(payload.ExpiresAt, 0)
	if payload.ExpiresAt == 0 {
		expiresAt = p.now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	}

	return &Session{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		TokenType:    payload.TokenType,
		ExpiresAt:    expiresAt,
		User:         identity,
	}, nil
}

func toIdentity(user gotrueUser) (Identity, error) {
	id, err := uuid.Parse(user.ID)
	if err != nil {
		return Identity{}, fmt.Errorf("identity provider returned invalid user id %q: %w", user.ID, err)
	}
	return Identity{ID: id, Email: user.Email}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
