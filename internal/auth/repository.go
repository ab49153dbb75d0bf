package auth

import (
	"context"

	"github.com/google/uuid"
)

// ProfileRepository defines the interface for profile persistence.
// Lookups return (nil, nil) when no profile matches.
type ProfileRepository interface {
	FindProfile(ctx context.Context, id uuid.UUID) (*Profile, error)
	FindProfileByEmail(ctx context.Context, email string) (*Profile, error)
	ListProfiles(ctx context.Context) ([]Profile, error)
	// CreateProfile inserts the profile unless one already exists for its ID,
	// and returns the stored record either way.
	CreateProfile(ctx context.Context, profile Profile) (Profile, error)
	UpdateRole(ctx context.Context, id uuid.UUID, role Role) (Profile, error)
}
