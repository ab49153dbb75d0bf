package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// Role is the application role stored on a profile.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ParseRole validates a raw role value.
func ParseRole(value string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	if !role.Valid() {
		return "", fmt.Errorf("invalid role %q", value)
	}
	return role, nil
}

// Valid reports whether the role is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Identity is the user record returned by the identity provider.
type Identity struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
}

// Profile is the application record keyed by identity ID.
type Profile struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

// Session holds the provider-issued tokens for one signed-in identity.
type Session struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	TokenType    string    `json:"tokenType"`
	ExpiresAt    time.Time `json:"expiresAt"`
	User         Identity  `json:"user"`
}

// Token converts the session into an oauth2 token.
func (s Session) Token() *oauth2.Token {
	tokenType := s.TokenType
	if tokenType == "" {
		tokenType = "bearer"
	}
	return &oauth2.Token{
		AccessToken:  s.AccessToken,
		TokenType:    tokenType,
		RefreshToken: s.RefreshToken,
		Expiry:       s.ExpiresAt,
	}
}

// Valid reports whether the access token is present and not about to expire.
func (s Session) Valid() bool {
	return s.Token().Valid()
}

// AuthenticatedUser is the view model built from a resolved identity and profile.
type AuthenticatedUser struct {
	Identity    Identity `json:"identity"`
	Profile     Profile  `json:"profile"`
	DisplayName string   `json:"displayName"`
	Email       string   `json:"email"`
}

// NewAuthenticatedUser builds the view model. It reports false unless both
// identity and profile are present.
func NewAuthenticatedUser(identity *Identity, profile *Profile) (AuthenticatedUser, bool) {
	if identity == nil || profile == nil {
		return AuthenticatedUser{}, false
	}
	return AuthenticatedUser{
		Identity:    *identity,
		Profile:     *profile,
		DisplayName: DisplayName(identity.Email),
		Email:       identity.Email,
	}, true
}

// Role returns the profile role.
func (u AuthenticatedUser) Role() Role {
	return u.Profile.Role
}

// DisplayName derives a display name from the local part of an email address.
func DisplayName(email string) string {
	local, _, _ := strings.Cut(strings.TrimSpace(email), "@")
	if local == "" {
		return "User"
	}
	return local
}
