package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepository stores profiles in an in-process map, ideal for local development or tests.
type InMemoryRepository struct {
	mu    sync.RWMutex
	data  map[uuid.UUID]Profile
	order []uuid.UUID
}

// NewInMemoryRepository constructs a repository seeded with optional initial profiles.
func NewInMemoryRepository(initial []Profile) *InMemoryRepository {
	data := make(map[uuid.UUID]Profile, len(initial))
	order := make([]uuid.UUID, 0, len(initial))
	for _, profile := range initial {
		if _, exists := data[profile.ID]; !exists {
			order = append(order, profile.ID)
		}
		data[profile.ID] = profile
	}
	return &InMemoryRepository{data: data, order: order}
}

// FindProfile returns the profile for an identity ID.
func (r *InMemoryRepository) FindProfile(_ context.Context, id uuid.UUID) (*Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profile, ok := r.data[id]
	if !ok {
		return nil, nil
	}
	return &profile, nil
}

// FindProfileByEmail returns the first profile with a matching email.
func (r *InMemoryRepository) FindProfileByEmail(_ context.Context, email string) (*Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	email = strings.TrimSpace(email)
	for _, id := range r.order {
		profile := r.data[id]
		if profile.Email != "" && strings.EqualFold(profile.Email, email) {
			return &profile, nil
		}
	}
	return nil, nil
}

// ListProfiles returns all stored profiles in insertion order.
func (r *InMemoryRepository) ListProfiles(_ context.Context) ([]Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profiles := make([]Profile, 0, len(r.order))
	for _, id := range r.order {
		profiles = append(profiles, r.data[id])
	}
	return profiles, nil
}

// CreateProfile stores a profile unless one already exists for its ID.
func (r *InMemoryRepository) CreateProfile(_ context.Context, profile Profile) (Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.data[profile.ID]; ok {
		return existing, nil
	}
	if profile.Role == "" {
		profile.Role = RoleUser
	}
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = time.Now().UTC()
	}
	r.data[profile.ID] = profile
	r.order = append(r.order, profile.ID)
	return profile, nil
}

// UpdateRole changes the role of an existing profile.
func (r *InMemoryRepository) UpdateRole(_ context.Context, id uuid.UUID, role Role) (Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	profile, ok := r.data[id]
	if !ok {
		return Profile{}, ErrProfileNotFound
	}
	profile.Role = role
	r.data[id] = profile
	return profile, nil
}
