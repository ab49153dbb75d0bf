package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
)

// TokenVerifier checks provider-issued access tokens against the project's JWKS
// without a round trip to the provider.
type TokenVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewTokenVerifier creates a verifier for the project at projectURL. Keys are
// fetched lazily and cached; ctx bounds those background fetches.
func NewTokenVerifier(ctx context.Context, projectURL string) *TokenVerifier {
	issuer := strings.TrimSuffix(projectURL, "/") + "/auth/v1"
	keySet := oidc.NewRemoteKeySet(ctx, issuer+"/.well-known/jwks.json")
	return newTokenVerifier(issuer, keySet)
}

func newTokenVerifier(issuer string, keySet oidc.KeySet) *TokenVerifier {
	return &TokenVerifier{
		verifier: oidc.NewVerifier(issuer, keySet, &oidc.Config{
			ClientID:             memoryAudience,
			SupportedSigningAlgs: []string{oidc.RS256, oidc.ES256},
		}),
	}
}

// Verify validates the token signature, issuer, audience and expiry, and returns its identity.
func (v *TokenVerifier) Verify(ctx context.Context, accessToken string) (*Identity, error) {
	token, err := v.verifier.Verify(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("verify access token: %w", err)
	}

	var claims struct {
		Email string `json:"email"`
	}
	if err := token.Claims(&claims); err != nil {
		return nil, fmt.Errorf("parse claims: %w", err)
	}

	id, err := uuid.Parse(token.Subject)
	if err != nil {
		return nil, fmt.Errorf("invalid subject %q: %w", token.Subject, err)
	}
	return &Identity{ID: id, Email: claims.Email}, nil
}
