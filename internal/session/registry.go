package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"quizdesk/internal/metrics"
	"quizdesk/internal/storage"
)

const (
	defaultIdleTTL        = 30 * time.Minute
	defaultRestoreTimeout = 15 * time.Second
	defaultMaxManagers    = 10000
)

// Factory builds the manager for a client ID.
type Factory func(clientID string) (*Manager, error)

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the registry logger.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRegistryMetrics sets the recorder for the live manager gauge.
func WithRegistryMetrics(recorder metrics.Recorder) RegistryOption {
	return func(r *Registry) {
		if recorder != nil {
			r.metrics = recorder
		}
	}
}

// WithIdleTTL sets how long an unused manager is kept.
func WithIdleTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) {
		if ttl > 0 {
			r.idleTTL = ttl
		}
	}
}

// WithRestoreTimeout bounds the session restoration of a new manager.
func WithRestoreTimeout(timeout time.Duration) RegistryOption {
	return func(r *Registry) {
		if timeout > 0 {
			r.restoreTimeout = timeout
		}
	}
}

// WithMaxManagers caps the number of live managers. When the cap is reached the
// least recently used manager is closed to make room.
func WithMaxManagers(limit int) RegistryOption {
	return func(r *Registry) {
		if limit > 0 {
			r.maxManagers = limit
		}
	}
}

// WithStorageSweeper makes Run purge expired auth storage entries.
func WithStorageSweeper(sweeper storage.Sweeper) RegistryOption {
	return func(r *Registry) {
		r.sweeper = sweeper
	}
}

type registryEntry struct {
	manager  *Manager
	lastSeen time.Time
}

// Registry holds one restored manager per client ID.
type Registry struct {
	factory        Factory
	logger         *slog.Logger
	metrics        metrics.Recorder
	sweeper        storage.Sweeper
	idleTTL        time.Duration
	restoreTimeout time.Duration
	maxManagers    int
	now            func() time.Time

	group   singleflight.Group
	mu      sync.Mutex
	entries map[string]*registryEntry
}

// NewRegistry creates a registry that builds managers with factory.
func NewRegistry(factory Factory, opts ...RegistryOption) *Registry {
	r := &Registry{
		factory:        factory,
		logger:         slog.Default(),
		metrics:        metrics.Noop{},
		idleTTL:        defaultIdleTTL,
		restoreTimeout: defaultRestoreTimeout,
		maxManagers:    defaultMaxManagers,
		now:            time.Now,
		entries:        make(map[string]*registryEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the manager for clientID, creating and restoring it on first use.
// Concurrent first calls share one manager and one restoration.
func (r *Registry) Get(ctx context.Context, clientID string) (*Manager, error) {
	if manager, ok := r.lookup(clientID); ok {
		return manager, nil
	}

	value, err, _ := r.group.Do(clientID, func() (any, error) {
		if manager, ok := r.lookup(clientID); ok {
			return manager, nil
		}

		manager, err := r.factory(clientID)
		if err != nil {
			return nil, fmt.Errorf("create session manager: %w", err)
		}

		restoreCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.restoreTimeout)
		defer cancel()
		if err := manager.RestoreSession(restoreCtx); err != nil && !errors.Is(err, ErrAlreadyRestored) {
			manager.Close()
			return nil, fmt.Errorf("restore session: %w", err)
		}

		r.mu.Lock()
		evicted := r.evictOldestLocked()
		r.entries[clientID] = &registryEntry{manager: manager, lastSeen: r.now()}
		count := len(r.entries)
		r.mu.Unlock()

		if evicted != nil {
			evicted.Close()
			r.logger.Warn("session manager limit reached, evicted least recently used", "limit", r.maxManagers)
		}
		r.metrics.SetActiveManagers(count)

		return manager, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(*Manager), nil
}

// Evict closes and forgets the manager for clientID.
func (r *Registry) Evict(clientID string) bool {
	r.mu.Lock()
	entry, ok := r.entries[clientID]
	delete(r.entries, clientID)
	count := len(r.entries)
	r.mu.Unlock()

	if !ok {
		return false
	}
	entry.manager.Close()
	r.metrics.SetActiveManagers(count)
	return true
}

// Sweep closes managers idle for longer than the idle TTL and returns how many.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.idleTTL)

	r.mu.Lock()
	var idle []*Manager
	for clientID, entry := range r.entries {
		if entry.lastSeen.Before(cutoff) {
			idle = append(idle, entry.manager)
			delete(r.entries, clientID)
		}
	}
	count := len(r.entries)
	r.mu.Unlock()

	for _, manager := range idle {
		manager.Close()
	}
	if len(idle) > 0 {
		r.metrics.SetActiveManagers(count)
	}
	return len(idle)
}

// Run sweeps idle managers and expired storage every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if removed := r.Sweep(); removed > 0 {
				r.logger.Info("evicted idle session managers", "count", removed)
			}
			if r.sweeper != nil {
				removed, err := r.sweeper.DeleteExpired(ctx)
				if err != nil {
					r.logger.Warn("failed to delete expired auth storage", "error", err)
				} else if removed > 0 {
					r.logger.Info("deleted expired auth storage", "count", removed)
				}
			}
		}
	}
}

// CloseAll closes every manager.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*registryEntry)
	r.mu.Unlock()

	for _, entry := range entries {
		entry.manager.Close()
	}
	r.metrics.SetActiveManagers(0)
}

// Len returns the number of live managers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// evictOldestLocked removes the least recently used entry when the registry is
// full and returns its manager for the caller to close outside the lock.
func (r *Registry) evictOldestLocked() *Manager {
	if len(r.entries) < r.maxManagers {
		return nil
	}
	var (
		oldestID string
		oldest   *registryEntry
	)
	for clientID, entry := range r.entries {
		if oldest == nil || entry.lastSeen.Before(oldest.lastSeen) {
			oldestID, oldest = clientID, entry
		}
	}
	delete(r.entries, oldestID)
	return oldest.manager
}

func (r *Registry) lookup(clientID string) (*Manager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[clientID]
	if !ok {
		return nil, false
	}
	entry.lastSeen = r.now()
	return entry.manager, true
}
