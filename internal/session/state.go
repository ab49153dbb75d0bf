package session

import (
	"errors"

	"quizdesk/internal/auth"
)

// State is the lifecycle position of a manager. The concrete types below are
// the only implementations; switch on them exhaustively.
type State interface {
	Name() string
	isState()
}

// Initializing is the state of a manager that has not started restoration.
type Initializing struct{}

// RestoringSession is the state while a persisted session is being looked up.
type RestoringSession struct{}

// Unauthenticated means no identity is current.
type Unauthenticated struct{}

// Authenticating is the state while a sign-in or sign-up call is in flight.
// Previous is restored when the call fails.
type Authenticating struct {
	Previous State
}

// PendingProfile means an identity is current but its profile has not been resolved.
type PendingProfile struct {
	Identity auth.Identity
	Session  auth.Session
}

// Authenticated means both identity and profile are resolved.
type Authenticated struct {
	User    auth.AuthenticatedUser
	Session auth.Session
}

func (Initializing) Name() string { return "initializing" }
func (RestoringSession) Name() string { return "restoring_session" }
func (Unauthenticated) Name() string { return "unauthenticated" }
func (Authenticating) Name() string { return "authenticating" }
func (PendingProfile) Name() string { return "pending_profile" }
func (Authenticated) Name() string { return "authenticated" }

func (Initializing) isState() {}
func (RestoringSession) isState() {}
func (Unauthenticated) isState() {}
func (Authenticating) isState() {}
func (PendingProfile) isState() {}
func (Authenticated) isState() {}

// Snapshot is an immutable view of a manager. Version increases with every change.
type Snapshot struct {
	State   State
	Err     error
	Version uint64
}

// User returns the authenticated user, if any.
func (s Snapshot) User() (auth.AuthenticatedUser, bool) {
	if authenticated, ok := s.State.(Authenticated); ok {
		return authenticated.User, true
	}
	return auth.AuthenticatedUser{}, false
}

// Message returns the user-facing error message, or an empty string.
func (s Snapshot) Message() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}

// Settled reports whether no operation or profile lookup is outstanding.
func Settled(s Snapshot) bool {
	switch s.State.(type) {
	case Unauthenticated, Authenticated:
		return true
	default:
		return false
	}
}

var (
	// ErrClosed is returned by operations on a closed manager.
	ErrClosed = errors.New("session manager closed")
	// ErrAlreadyRestored is returned when RestoreSession is called more than once.
	ErrAlreadyRestored = errors.New("session already restored")
	// ErrSignedOut is returned when a sign-out overtook a sign-in in flight.
	ErrSignedOut = errors.New("signed out while signing in")
)
