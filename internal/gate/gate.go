// Package gate decides which view a client may see for a requested area.
package gate

import (
	"quizdesk/internal/auth"
	"quizdesk/internal/session"
)

// Kind is the view selected for a request.
type Kind string

const (
	KindLoading   Kind = "loading"
	KindLogin     Kind = "login"
	KindDenied    Kind = "denied"
	KindDashboard Kind = "dashboard"
)

const (
	LoginMessage       = "You must be logged in to access this page."
	AdminDeniedMessage = "You don't have administrator privileges. Only administrators can access this area."
	DeniedMessage      = "You don't have the required permissions to access this page."
)

// Decision is the outcome of Resolve.
type Decision struct {
	Kind Kind `json:"kind"`
	// Role is the dashboard role for dashboard decisions and the user's role for denials.
	Role       auth.Role               `json:"role,omitempty"`
	Message    string                  `json:"message,omitempty"`
	Home       string                  `json:"home,omitempty"`
	CanSignOut bool                    `json:"canSignOut"`
	User       *auth.AuthenticatedUser `json:"user,omitempty"`
}

// Resolve maps a session state and the role an area requires to a decision.
// An empty required role admits any authenticated user.
func Resolve(state session.State, required auth.Role) Decision {
	switch s := state.(type) {
	case session.Authenticated:
		user := s.User
		role := user.Role()
		if required == "" || required == role {
			return Decision{Kind: KindDashboard, Role: role, Home: HomePath(role), CanSignOut: true, User: &user}
		}
		message := DeniedMessage
		if required == auth.RoleAdmin {
			message = AdminDeniedMessage
		}
		return Decision{Kind: KindDenied, Role: role, Message: message, Home: HomePath(role), CanSignOut: true, User: &user}
	case session.Unauthenticated, session.PendingProfile:
		return Decision{Kind: KindLogin, Message: LoginMessage}
	default:
		return Decision{Kind: KindLoading}
	}
}

// HomePath is the dashboard a role lands on.
func HomePath(role auth.Role) string {
	if role == auth.RoleAdmin {
		return "/admin"
	}
	return "/employee"
}

// Area is a screen of the application and the role it requires.
type Area struct {
	Name     string    `json:"name"`
	Required auth.Role `json:"requiredRole,omitempty"`
}

var areas = map[string]Area{
	"dashboard":    {Name: "dashboard"},
	"leaderboard":  {Name: "leaderboard"},
	"employee":     {Name: "employee", Required: auth.RoleUser},
	"avatar":       {Name: "avatar", Required: auth.RoleUser},
	"admin":        {Name: "admin", Required: auth.RoleAdmin},
	"analytics":    {Name: "analytics", Required: auth.RoleAdmin},
	"reports":      {Name: "reports", Required: auth.RoleAdmin},
	"quiz-builder": {Name: "quiz-builder", Required: auth.RoleAdmin},
}

// LookupArea returns the area registered under name.
func LookupArea(name string) (Area, bool) {
	area, ok := areas[name]
	return area, ok
}
