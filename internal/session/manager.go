// Package session manages the sign-in lifecycle of one browser client: the
// current identity, its profile and the user-facing error slot.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"quizdesk/internal/auth"
	"quizdesk/internal/metrics"
)

const (
	defaultProfileTimeout = 10 * time.Second

	signInFallbackMessage  = "Unable to sign in. Please try again."
	signUpFallbackMessage  = "Unable to create the account. Please try again."
	profileFailureMessage  = "Failed to load user profile"
	signInCancelledMessage = "Signed out before sign-in completed."
)

// AuthClient is the per-browser auth client driven by a Manager.
type AuthClient interface {
	OnAuthStateChange(listener AuthChangeListener) func()
	SignInWithPassword(ctx context.Context, email, password string) (*auth.Session, error)
	SignUp(ctx context.Context, email, password, redirectTo string) (*auth.SignUpResult, error)
	SetSession(ctx context.Context, session *auth.Session, epoch uint64) error
	SignOutEpoch() uint64
	GetSession(ctx context.Context) (*auth.Session, error)
	SignOut(ctx context.Context) error
	Close()
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(recorder metrics.Recorder) Option {
	return func(m *Manager) {
		if recorder != nil {
			m.metrics = recorder
		}
	}
}

// WithValidator sets the credential validator.
func WithValidator(validator *auth.CredentialValidator) Option {
	return func(m *Manager) {
		if validator != nil {
			m.validator = validator
		}
	}
}

// WithProfileTimeout bounds each profile lookup.
func WithProfileTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		if timeout > 0 {
			m.profileTimeout = timeout
		}
	}
}

// WithClock overrides the clock used for profile timestamps and latency.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager owns the identity lifecycle of one client. All state changes run on
// its scheduler goroutine; readers use Snapshot, Subscribe or Await.
type Manager struct {
	client         AuthClient
	profiles       auth.ProfileRepository
	logger         *slog.Logger
	metrics        metrics.Recorder
	validator      *auth.CredentialValidator
	profileTimeout time.Duration
	now            func() time.Time

	sched       *scheduler
	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	restoreOnce sync.Once
	closeOnce   sync.Once

	// Owned by the scheduler goroutine.
	state      State
	err        error
	generation uint64

	mu          sync.RWMutex
	snapshot    Snapshot
	changed     chan struct{}
	subscribers map[uint64]func(Snapshot)
	nextSub     uint64
}

// NewManager creates a manager in the Initializing state. Call RestoreSession once
// before serving it, and Close when it is no longer needed.
func NewManager(client AuthClient, profiles auth.ProfileRepository, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		client:         client,
		profiles:       profiles,
		logger:         slog.Default(),
		metrics:        metrics.Noop{},
		validator:      auth.NewCredentialValidator(),
		profileTimeout: defaultProfileTimeout,
		now:            time.Now,
		ctx:            ctx,
		cancel:         cancel,
		state:          Initializing{},
		changed:        make(chan struct{}),
		subscribers:    make(map[uint64]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.snapshot = Snapshot{State: m.state}
	m.sched = newScheduler()
	m.unsubscribe = client.OnAuthStateChange(func(event AuthEvent, session *auth.Session) {
		m.sched.post(func() { m.handleAuthEvent(event, session) })
	})
	return m
}

// Snapshot returns the current state and error.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// Subscribe calls fn with every new snapshot and returns a function that stops
// delivery. fn runs on the manager goroutine; it must not block or call the
// manager's operations, although Snapshot is safe.
func (m *Manager) Subscribe(fn func(Snapshot)) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subscribers[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subscribers, id)
		m.mu.Unlock()
	}
}

// Await blocks until pred holds for the current snapshot, ctx is done or the
// manager is closed. The last observed snapshot is always returned.
func (m *Manager) Await(ctx context.Context, pred func(Snapshot) bool) (Snapshot, error) {
	for {
		m.mu.RLock()
		snap, changed := m.snapshot, m.changed
		m.mu.RUnlock()

		if pred(snap) {
			return snap, nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-m.sched.done:
			return m.Snapshot(), ErrClosed
		}
	}
}

// RestoreSession adopts a persisted session if one exists. It runs once per manager.
func (m *Manager) RestoreSession(ctx context.Context) error {
	first := false
	m.restoreOnce.Do(func() { first = true })
	if !first {
		return ErrAlreadyRestored
	}

	if err := m.call(func() { m.transition(RestoringSession{}, nil) }); err != nil {
		return err
	}

	session, err := m.client.GetSession(ctx)
	switch {
	case err != nil:
		m.logger.Warn("session restore failed", "error", err)
		m.metrics.RecordAuthOperation("restore", metrics.OutcomeFailure)
	case session == nil:
		m.metrics.RecordAuthOperation("restore", metrics.OutcomeEmpty)
	default:
		m.metrics.RecordAuthOperation("restore", metrics.OutcomeSuccess)
	}

	return m.call(func() {
		if _, ok := m.state.(RestoringSession); !ok {
			return
		}
		if session == nil {
			m.transition(Unauthenticated{}, nil)
			return
		}
		m.becomePending(session.User, *session)
	})
}

// SignIn submits credentials. On success the identity becomes current and its
// profile is resolved in a later task. On failure the previous state is kept and
// the error is placed in the error slot and returned.
func (m *Manager) SignIn(ctx context.Context, email, password string) (auth.Identity, error) {
	if err := m.validator.Validate(auth.Credentials{Email: email, Password: password}); err != nil {
		credErr := &auth.CredentialError{Message: err.Error(), Err: err}
		m.metrics.RecordAuthOperation("signin", metrics.OutcomeRejected)
		if callErr := m.call(func() { m.setError(credErr) }); callErr != nil {
			return auth.Identity{}, callErr
		}
		return auth.Identity{}, credErr
	}

	if err := m.call(m.beginAuthenticating); err != nil {
		return auth.Identity{}, err
	}

	session, err := m.client.SignInWithPassword(ctx, email, password)
	if errors.Is(err, ErrSignedOut) {
		// The sign-out that overtook this call already settled the state.
		m.metrics.RecordAuthOperation("signin", metrics.OutcomeFailure)
		return auth.Identity{}, &auth.CredentialError{Message: signInCancelledMessage, Err: err}
	}
	if err != nil {
		credErr := &auth.CredentialError{Message: auth.UserMessage(err, signInFallbackMessage), Err: err}
		m.recordRemoteOutcome("signin", err)
		m.logger.Info("sign-in failed", "error", err)
		if callErr := m.call(func() { m.endAuthenticating(credErr) }); callErr != nil {
			return auth.Identity{}, callErr
		}
		return auth.Identity{}, credErr
	}

	m.metrics.RecordAuthOperation("signin", metrics.OutcomeSuccess)
	return session.User, nil
}

// SignUp requests a new account with an email confirmation redirect and makes sure
// a user profile exists for it. A session is only adopted when the provider issues
// one without confirmation.
func (m *Manager) SignUp(ctx context.Context, email, password, redirectTo string) (auth.SignUpResult, error) {
	if err := m.validator.Validate(auth.Credentials{Email: email, Password: password}); err != nil {
		signUpErr := &auth.SignUpError{Message: err.Error(), Err: err}
		m.metrics.RecordAuthOperation("signup", metrics.OutcomeRejected)
		if callErr := m.call(func() { m.setError(signUpErr) }); callErr != nil {
			return auth.SignUpResult{}, callErr
		}
		return auth.SignUpResult{}, signUpErr
	}

	if err := m.call(m.beginAuthenticating); err != nil {
		return auth.SignUpResult{}, err
	}

	epoch := m.client.SignOutEpoch()
	result, err := m.client.SignUp(ctx, email, password, redirectTo)
	if err != nil {
		signUpErr := &auth.SignUpError{Message: auth.UserMessage(err, signUpFallbackMessage), Err: err}
		m.recordRemoteOutcome("signup", err)
		m.logger.Info("sign-up failed", "error", err)
		if callErr := m.call(func() { m.endAuthenticating(signUpErr) }); callErr != nil {
			return auth.SignUpResult{}, callErr
		}
		return auth.SignUpResult{}, signUpErr
	}

	profile := auth.Profile{
		ID:        result.Identity.ID,
		Email:     result.Identity.Email,
		Role:      auth.RoleUser,
		CreatedAt: m.now().UTC(),
	}
	if _, err := m.profiles.CreateProfile(ctx, profile); err != nil {
		m.logger.Error("failed to create profile for new account", "user_id", profile.ID, "error", err)
	}

	if result.Session != nil {
		if err := m.client.SetSession(ctx, result.Session, epoch); err != nil {
			m.logger.Warn("failed to adopt sign-up session", "error", err)
		}
	}

	m.metrics.RecordAuthOperation("signup", metrics.OutcomeSuccess)
	if err := m.call(func() { m.endAuthenticating(nil) }); err != nil {
		return auth.SignUpResult{}, err
	}
	return *result, nil
}

// SignOut clears the local session unconditionally. Remote revocation is best
// effort; its failure is logged and never surfaced. Calling it repeatedly is safe.
func (m *Manager) SignOut(ctx context.Context) {
	if err := m.client.SignOut(ctx); err != nil {
		var remoteErr *auth.RemoteSignOutError
		if errors.As(err, &remoteErr) {
			m.metrics.RecordAuthOperation("signout", metrics.OutcomeFailure)
		}
		m.logger.Warn("sign-out cleanup incomplete", "error", err)
	} else {
		m.metrics.RecordAuthOperation("signout", metrics.OutcomeSuccess)
	}

	_ = m.call(func() {
		m.generation++
		m.transition(Unauthenticated{}, nil)
	})
}

// Close stops the manager and its client. Pending operations return ErrClosed.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.unsubscribe()
		m.cancel()
		m.client.Close()
		m.sched.close()

		m.mu.Lock()
		m.subscribers = make(map[uint64]func(Snapshot))
		m.mu.Unlock()
	})
}

// call runs fn on the scheduler and waits for it.
func (m *Manager) call(fn func()) error {
	finished := make(chan struct{})
	if !m.sched.post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrClosed
	}

	select {
	case <-finished:
		return nil
	case <-m.sched.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrClosed
		}
	}
}

func (m *Manager) recordRemoteOutcome(operation string, err error) {
	var providerErr *auth.ProviderError
	if errors.As(err, &providerErr) && providerErr.Rejected() {
		m.metrics.RecordAuthOperation(operation, metrics.OutcomeRejected)
		return
	}
	m.metrics.RecordAuthOperation(operation, metrics.OutcomeFailure)
}

// The methods below run on the scheduler goroutine only.

func (m *Manager) handleAuthEvent(event AuthEvent, session *auth.Session) {
	switch event {
	case EventSignedIn:
		if session != nil {
			m.becomePending(session.User, *session)
		}
	case EventTokenRefreshed:
		if session != nil {
			m.refreshSession(*session)
		}
	case EventSignedOut:
		m.generation++
		m.transition(Unauthenticated{}, nil)
	}
}

// refreshSession swaps in renewed tokens for the current identity without a new
// profile lookup. A refresh for a different identity means the client switched
// users, so the profile is resolved again. States without an identity are left
// alone.
func (m *Manager) refreshSession(session auth.Session) {
	switch current := m.state.(type) {
	case Authenticated:
		if current.User.Identity.ID != session.User.ID {
			m.becomePending(session.User, session)
			return
		}
		m.transition(Authenticated{User: current.User, Session: session}, m.err)
	case PendingProfile:
		if current.Identity.ID != session.User.ID {
			m.becomePending(session.User, session)
			return
		}
		m.transition(PendingProfile{Identity: current.Identity, Session: session}, m.err)
	}
}

func (m *Manager) beginAuthenticating() {
	previous := m.state
	if authenticating, ok := previous.(Authenticating); ok {
		previous = authenticating.Previous
	}
	m.transition(Authenticating{Previous: previous}, nil)
}

// endAuthenticating restores the state that preceded a failed or session-less
// call. Nothing happens if an auth event already replaced it.
func (m *Manager) endAuthenticating(err error) {
	authenticating, ok := m.state.(Authenticating)
	if !ok {
		if err != nil {
			m.setError(err)
		}
		return
	}

	switch previous := authenticating.Previous.(type) {
	case PendingProfile:
		m.generation++
		m.transition(previous, err)
		m.scheduleProfile(m.generation, previous.Identity)
	case nil, Initializing, RestoringSession:
		m.transition(Unauthenticated{}, err)
	default:
		m.transition(previous, err)
	}
}

func (m *Manager) becomePending(identity auth.Identity, session auth.Session) {
	m.generation++
	m.transition(PendingProfile{Identity: identity, Session: session}, nil)
	m.scheduleProfile(m.generation, identity)
}

// scheduleProfile defers the lookup to a later task so it never starts inside
// the notification that made identity current.
func (m *Manager) scheduleProfile(generation uint64, identity auth.Identity) {
	m.sched.post(func() { m.fetchProfile(generation, identity) })
}

func (m *Manager) fetchProfile(generation uint64, identity auth.Identity) {
	if generation != m.generation {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(m.ctx, m.profileTimeout)
		defer cancel()

		started := m.now()
		profile, err := m.profiles.FindProfile(ctx, identity.ID)
		elapsed := m.now().Sub(started)

		m.sched.post(func() { m.applyProfile(generation, identity, profile, err, elapsed) })
	}()
}

func (m *Manager) applyProfile(generation uint64, identity auth.Identity, profile *auth.Profile, err error, elapsed time.Duration) {
	if generation != m.generation {
		m.logger.Debug("discarding stale profile result", "user_id", identity.ID)
		return
	}
	pending, ok := m.state.(PendingProfile)
	if !ok || pending.Identity.ID != identity.ID {
		return
	}

	if err == nil && profile == nil {
		err = auth.ErrProfileNotFound
	}
	if err != nil {
		m.metrics.RecordProfileFetch(metrics.OutcomeFailure, elapsed)
		m.logger.Error("failed to load user profile", "user_id", identity.ID, "error", err)
		m.transition(Unauthenticated{}, &auth.ProfileFetchError{Message: profileFailureMessage, Err: err})
		return
	}

	user, _ := auth.NewAuthenticatedUser(&identity, profile)
	m.metrics.RecordProfileFetch(metrics.OutcomeSuccess, elapsed)
	m.transition(Authenticated{User: user, Session: pending.Session}, nil)
}

func (m *Manager) setError(err error) {
	m.transition(m.state, err)
}

func (m *Manager) transition(next State, err error) {
	if previous := m.state; previous.Name() != next.Name() {
		m.metrics.RecordStateTransition(previous.Name(), next.Name())
	}
	m.state = next
	m.err = err

	m.mu.Lock()
	m.snapshot = Snapshot{State: next, Err: err, Version: m.snapshot.Version + 1}
	snap := m.snapshot
	close(m.changed)
	m.changed = make(chan struct{})
	subscribers := make([]func(Snapshot), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subscribers = append(subscribers, fn)
	}
	m.mu.Unlock()

	for _, fn := range subscribers {
		fn(snap)
	}
}
