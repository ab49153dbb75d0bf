package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"quizdesk/internal/auth"
	"quizdesk/internal/storage"
)

// AuthEvent names a change of the client's session.
type AuthEvent string

const (
	EventSignedIn       AuthEvent = "SIGNED_IN"
	EventSignedOut      AuthEvent = "SIGNED_OUT"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
)

const (
	defaultStorageKey    = "sb-local-auth-token"
	defaultRefreshMargin = 30 * time.Second
	defaultPersistTTL    = 30 * 24 * time.Hour
	refreshRetryDelay    = 5 * time.Second
	refreshTimeout       = 10 * time.Second
)

// AuthChangeListener receives session changes. Listeners run synchronously on the
// goroutine that caused the change and must not block or call back into the client.
type AuthChangeListener func(event AuthEvent, session *auth.Session)

// SessionVerifier checks an access token locally.
type SessionVerifier interface {
	Verify(ctx context.Context, accessToken string) (*auth.Identity, error)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// Namespace isolates this client's keys in the store, one per browser.
	Namespace string
	// StorageKey is the key the serialized session is kept under.
	StorageKey string
	// Verifier, when set, validates restored access tokens.
	Verifier      SessionVerifier
	Logger        *slog.Logger
	RefreshMargin time.Duration
	PersistTTL    time.Duration
}

// Client holds the session of one browser, persists it and keeps it fresh.
type Client struct {
	provider auth.Provider
	store    storage.Store
	cfg      ClientConfig
	logger   *slog.Logger
	now      func() time.Time

	// emitMu orders session changes with their notifications.
	emitMu sync.Mutex

	mu        sync.Mutex
	session   *auth.Session
	timer     *time.Timer
	listeners map[int]AuthChangeListener
	nextID    int
	closed    bool
	// signOutEpoch counts SignOut calls. Sessions obtained before the latest
	// sign-out are revoked instead of adopted.
	signOutEpoch uint64
}

// NewClient creates a client backed by provider and store.
func NewClient(provider auth.Provider, store storage.Store, cfg ClientConfig) *Client {
	if cfg.StorageKey == "" {
		cfg.StorageKey = defaultStorageKey
	}
	if cfg.RefreshMargin <= 0 {
		cfg.RefreshMargin = defaultRefreshMargin
	}
	if cfg.PersistTTL <= 0 {
		cfg.PersistTTL = defaultPersistTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		provider:  provider,
		store:     store,
		cfg:       cfg,
		logger:    logger.With("client", cfg.Namespace),
		now:       time.Now,
		listeners: make(map[int]AuthChangeListener),
	}
}

// OnAuthStateChange registers listener and returns a function that removes it.
func (c *Client) OnAuthStateChange(listener AuthChangeListener) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.listeners[id] = listener

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Session returns a copy of the current session, or nil.
func (c *Client) Session() *auth.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	session := *c.session
	return &session
}

// SignOutEpoch returns the number of sign-outs so far. Pass it to SetSession to
// drop sessions that a later sign-out has superseded.
func (c *Client) SignOutEpoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signOutEpoch
}

// SignInWithPassword authenticates with the provider and adopts the new session.
// If SignOut runs while the provider call is in flight, the new session is
// revoked and ErrSignedOut is returned.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*auth.Session, error) {
	epoch := c.SignOutEpoch()
	session, err := c.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if err := c.adopt(ctx, session, EventSignedIn, epoch); err != nil {
		return nil, err
	}
	return session, nil
}

// SignUp requests a new account. The returned session, if any, is not adopted;
// call SetSession to adopt it.
func (c *Client) SignUp(ctx context.Context, email, password, redirectTo string) (*auth.SignUpResult, error) {
	return c.provider.SignUp(ctx, email, password, redirectTo)
}

// SetSession adopts an externally obtained session. epoch is the SignOutEpoch
// read before the session was requested; a session older than the latest
// sign-out is revoked and ErrSignedOut is returned.
func (c *Client) SetSession(ctx context.Context, session *auth.Session, epoch uint64) error {
	if session == nil || session.AccessToken == "" {
		return errors.New("set session: missing access token")
	}
	return c.adopt(ctx, session, EventSignedIn, epoch)
}

// GetSession returns the current session, loading it from the store when none is
// held. Expired sessions are refreshed; unusable ones are discarded. It returns
// (nil, nil) when there is no session to restore.
func (c *Client) GetSession(ctx context.Context) (*auth.Session, error) {
	epoch := c.SignOutEpoch()
	session := c.Session()
	if session == nil {
		stored, err := c.load(ctx)
		if err != nil {
			return nil, err
		}
		if stored == nil {
			return nil, nil
		}
		session = stored
	}

	persist := false
	if c.expiring(*session) {
		refreshed, err := c.provider.RefreshSession(ctx, session.RefreshToken)
		if err != nil {
			var providerErr *auth.ProviderError
			if errors.As(err, &providerErr) && providerErr.Rejected() {
				c.logger.Info("stored session could not be refreshed", "error", err)
				c.discard(ctx)
				return nil, nil
			}
			return nil, fmt.Errorf("refresh stored session: %w", err)
		}
		session = refreshed
		persist = true
	}

	if c.cfg.Verifier != nil {
		identity, err := c.cfg.Verifier.Verify(ctx, session.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("verify stored session: %w", err)
		}
		if identity.ID != session.User.ID {
			return nil, fmt.Errorf("verify stored session: subject %s does not match user %s", identity.ID, session.User.ID)
		}
	}

	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.signOutEpoch != epoch {
		c.mu.Unlock()
		return nil, nil
	}
	held := *session
	c.session = &held
	c.scheduleRefreshLocked(held)
	c.mu.Unlock()

	if persist {
		c.persist(ctx, held)
	}
	out := held
	return &out, nil
}

// SignOut forgets the session, purges auth keys from the store and revokes the
// session remotely. The local session is cleared even when revocation fails.
func (c *Client) SignOut(ctx context.Context) error {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	current := c.session
	c.session = nil
	c.signOutEpoch++
	c.stopTimerLocked()
	c.mu.Unlock()

	var errs []error
	if _, err := c.PurgeStorage(ctx); err != nil {
		errs = append(errs, fmt.Errorf("purge auth storage: %w", err))
	}

	if current != nil {
		if err := c.provider.SignOut(ctx, current.AccessToken, auth.ScopeGlobal); err != nil {
			errs = append(errs, &auth.RemoteSignOutError{Err: err})
		}
	}

	c.emit(EventSignedOut, nil)
	return errors.Join(errs...)
}

// PurgeStorage deletes every auth related key of this client's namespace and
// returns how many were removed.
func (c *Client) PurgeStorage(ctx context.Context) (int, error) {
	keys, err := c.store.Keys(ctx, c.cfg.Namespace)
	if err != nil {
		return 0, err
	}

	removed := 0
	var errs []error
	for _, key := range keys {
		if !isAuthKey(key) {
			continue
		}
		if err := c.store.Delete(ctx, c.cfg.Namespace, key); err != nil {
			errs = append(errs, fmt.Errorf("delete %q: %w", key, err))
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// Close stops background refreshes and drops all listeners.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.stopTimerLocked()
	c.listeners = make(map[int]AuthChangeListener)
}

func isAuthKey(key string) bool {
	return strings.HasPrefix(key, "supabase.auth.") || strings.Contains(key, "sb-")
}

func (c *Client) adopt(ctx context.Context, session *auth.Session, event AuthEvent, epoch uint64) error {
	if !c.adoptCurrent(ctx, session, event, epoch) {
		return nil
	}
	c.logger.Info("discarding session obtained before sign-out", "user_id", session.User.ID)
	if err := c.provider.SignOut(context.WithoutCancel(ctx), session.AccessToken, auth.ScopeLocal); err != nil {
		c.logger.Warn("failed to revoke superseded session", "error", err)
	}
	return ErrSignedOut
}

// adoptCurrent installs session unless the client is closed, and reports
// whether it was superseded by a sign-out after epoch.
func (c *Client) adoptCurrent(ctx context.Context, session *auth.Session, event AuthEvent, epoch uint64) (superseded bool) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	held := *session
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	if c.signOutEpoch != epoch {
		c.mu.Unlock()
		return true
	}
	c.session = &held
	c.scheduleRefreshLocked(held)
	c.mu.Unlock()

	c.persist(ctx, held)
	out := held
	c.emit(event, &out)
	return false
}

func (c *Client) emit(event AuthEvent, session *auth.Session) {
	c.mu.Lock()
	listeners := make([]AuthChangeListener, 0, len(c.listeners))
	for _, listener := range c.listeners {
		listeners = append(listeners, listener)
	}
	c.mu.Unlock()

	for _, listener := range listeners {
		var payload *auth.Session
		if session != nil {
			copied := *session
			payload = &copied
		}
		listener(event, payload)
	}
}

func (c *Client) load(ctx context.Context) (*auth.Session, error) {
	raw, ok, err := c.store.Get(ctx, c.cfg.Namespace, c.cfg.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("read stored session: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var session auth.Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil || session.AccessToken == "" {
		c.logger.Warn("discarding unreadable stored session", "error", err)
		c.discard(ctx)
		return nil, nil
	}
	return &session, nil
}

func (c *Client) persist(ctx context.Context, session auth.Session) {
	data, err := json.Marshal(session)
	if err != nil {
		c.logger.Error("failed to encode session", "error", err)
		return
	}
	if err := c.store.Set(ctx, c.cfg.Namespace, c.cfg.StorageKey, string(data), c.cfg.PersistTTL); err != nil {
		c.logger.Warn("failed to persist session", "error", err)
	}
}

func (c *Client) discard(ctx context.Context) {
	if err := c.store.Delete(ctx, c.cfg.Namespace, c.cfg.StorageKey); err != nil {
		c.logger.Warn("failed to delete stored session", "error", err)
	}
}

func (c *Client) expiring(session auth.Session) bool {
	if session.ExpiresAt.IsZero() {
		return false
	}
	return !c.now().Add(c.cfg.RefreshMargin).Before(session.ExpiresAt)
}

func (c *Client) scheduleRefreshLocked(session auth.Session) {
	c.stopTimerLocked()
	if session.ExpiresAt.IsZero() || session.RefreshToken == "" {
		return
	}
	delay := session.ExpiresAt.Sub(c.now()) - c.cfg.RefreshMargin
	if delay < 0 {
		delay = 0
	}
	c.armLocked(delay, session.RefreshToken)
}

func (c *Client) armLocked(delay time.Duration, refreshToken string) {
	c.timer = time.AfterFunc(delay, func() { c.autoRefresh(refreshToken) })
}

func (c *Client) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// autoRefresh renews the session identified by refreshToken. When renewal keeps
// failing past expiry the session is dropped and SIGNED_OUT is emitted.
func (c *Client) autoRefresh(refreshToken string) {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	refreshed, err := c.provider.RefreshSession(ctx, refreshToken)

	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if c.closed || c.session == nil || c.session.RefreshToken != refreshToken {
		c.mu.Unlock()
		return
	}

	if err == nil {
		held := *refreshed
		c.session = &held
		c.scheduleRefreshLocked(held)
		c.mu.Unlock()

		c.persist(ctx, held)
		out := held
		c.emit(EventTokenRefreshed, &out)
		return
	}

	expiresAt := c.session.ExpiresAt
	now := c.now()
	var providerErr *auth.ProviderError
	rejected := errors.As(err, &providerErr) && providerErr.Rejected()
	if rejected || !now.Before(expiresAt) {
		c.session = nil
		c.stopTimerLocked()
		c.mu.Unlock()

		c.logger.Info("session expired", "error", err)
		c.discard(ctx)
		c.emit(EventSignedOut, nil)
		return
	}

	delay := refreshRetryDelay
	if remaining := expiresAt.Sub(now); remaining < delay {
		delay = remaining
	}
	c.armLocked(delay, refreshToken)
	c.mu.Unlock()
	c.logger.Warn("session refresh failed, retrying", "error", err, "retry_in", delay)
}
