package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// PostgresRepository implements ProfileRepository using PostgreSQL.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const profileColumns = `id, COALESCE(email, '') AS email, role, created_at`

// FindProfile looks up the profile for an identity ID.
func (r *PostgresRepository) FindProfile(ctx context.Context, id uuid.UUID) (*Profile, error) {
	const query = `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1`
	return r.getOne(ctx, query, id)
}

// FindProfileByEmail looks up a profile by email, case-insensitively.
func (r *PostgresRepository) FindProfileByEmail(ctx context.Context, email string) (*Profile, error) {
	const query = `SELECT ` + profileColumns + ` FROM profiles WHERE lower(email) = lower($1)`
	return r.getOne(ctx, query, strings.TrimSpace(email))
}

// ListProfiles returns every profile, oldest first.
func (r *PostgresRepository) ListProfiles(ctx context.Context) ([]Profile, error) {
	const query = `SELECT ` + profileColumns + ` FROM profiles ORDER BY created_at, id`

	var rows []profileRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}

	profiles := make([]Profile, 0, len(rows))
	for i := range rows {
		profiles = append(profiles, rows[i].toProfile())
	}
	return profiles, nil
}

// CreateProfile inserts a profile, leaving an existing row for the same ID untouched.
func (r *PostgresRepository) CreateProfile(ctx context.Context, profile Profile) (Profile, error) {
	const query = `
		INSERT INTO profiles (id, email, role, created_at)
		VALUES ($1, NULLIF($2, ''), $3, $4)
		ON CONFLICT (id) DO NOTHING
	`
	if profile.Role == "" {
		profile.Role = RoleUser
	}
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = time.Now().UTC()
	}

	if _, err := r.db.ExecContext(ctx, query, profile.ID, profile.Email, profile.Role, profile.CreatedAt); err != nil {
		return Profile{}, err
	}

	stored, err := r.FindProfile(ctx, profile.ID)
	if err != nil {
		return Profile{}, err
	}
	if stored == nil {
		return Profile{}, ErrProfileNotFound
	}
	return *stored, nil
}

// UpdateRole changes the role of an existing profile.
func (r *PostgresRepository) UpdateRole(ctx context.Context, id uuid.UUID, role Role) (Profile, error) {
	const query = `UPDATE profiles SET role = $2 WHERE id = $1 RETURNING ` + profileColumns

	profile, err := r.getOne(ctx, query, id, role)
	if err != nil {
		return Profile{}, err
	}
	if profile == nil {
		return Profile{}, ErrProfileNotFound
	}
	return *profile, nil
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, args ...any) (*Profile, error) {
	var row profileRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	profile := row.toProfile()
	return &profile, nil
}

// profileRow is a database row representation of Profile.
type profileRow struct {
	ID        uuid.UUID `db:"id"`
	Email     string    `db:"email"`
	Role      string    `db:"role"`
	CreatedAt time.Time `db:"created_at"`
}

func (r *profileRow) toProfile() Profile {
	return Profile{
		ID:        r.ID,
		Email:     r.Email,
		Role:      Role(r.Role),
		CreatedAt: r.CreatedAt,
	}
}
