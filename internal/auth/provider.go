package auth

import "context"

// SignOutScope selects which sessions a remote sign-out revokes.
type SignOutScope string

const (
	ScopeGlobal SignOutScope = "global"
	ScopeLocal  SignOutScope = "local"
	ScopeOthers SignOutScope = "others"
)

// SignUpResult describes the outcome of an account creation request.
// Session is nil whenever the provider requires email confirmation first.
type SignUpResult struct {
	Identity             Identity
	Session              *Session
	ConfirmationRequired bool
}

// Provider is the remote identity service. Implementations are stateless;
// per-browser session state lives in the session client.
type Provider interface {
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	SignUp(ctx context.Context, email, password, redirectTo string) (*SignUpResult, error)
	SignOut(ctx context.Context, accessToken string, scope SignOutScope) error
	GetUser(ctx context.Context, accessToken string) (*Identity, error)
	RefreshSession(ctx context.Context, refreshToken string) (*Session, error)
}
