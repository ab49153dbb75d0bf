package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const profileSelect = "id,email,role,created_at"

// PostgrestRepository implements ProfileRepository against the project's REST
// (PostgREST) endpoint using the service key.
type PostgrestRepository struct {
	baseURL    string
	serviceKey string
	client     *http.Client
}

// NewPostgrestRepository creates a repository for the project at projectURL.
func NewPostgrestRepository(projectURL, serviceKey string, client *http.Client) *PostgrestRepository {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &PostgrestRepository{
		baseURL:    strings.TrimSuffix(projectURL, "/") + "/rest/v1/profiles",
		serviceKey: serviceKey,
		client:     client,
	}
}

type postgrestProfile struct {
	ID        uuid.UUID `json:"id"`
	Email     *string   `json:"email"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

func (p postgrestProfile) toProfile() Profile {
	profile := Profile{ID: p.ID, Role: p.Role, CreatedAt: p.CreatedAt}
	if p.Email != nil {
		profile.Email = *p.Email
	}
	return profile
}

// FindProfile looks up the profile for an identity ID.
func (r *PostgrestRepository) FindProfile(ctx context.Context, id uuid.UUID) (*Profile, error) {
	query := url.Values{"select": {profileSelect}, "id": {"eq." + id.String()}}
	return r.findOne(ctx, query)
}

// FindProfileByEmail looks up a profile by email, case-insensitively.
func (r *PostgrestRepository) FindProfileByEmail(ctx context.Context, email string) (*Profile, error) {
	query := url.Values{"select": {profileSelect}, "email": {"ilike." + escapeLike(strings.TrimSpace(email))}}
	return r.findOne(ctx, query)
}

// ListProfiles returns every profile, oldest first.
func (r *PostgrestRepository) ListProfiles(ctx context.Context) ([]Profile, error) {
	query := url.Values{"select": {profileSelect}, "order": {"created_at.asc,id.asc"}}

	var rows []postgrestProfile
	if err := r.do(ctx, http.MethodGet, query, nil, "", &rows); err != nil {
		return nil, err
	}
	profiles := make([]Profile, 0, len(rows))
	for _, row := range rows {
		profiles = append(profiles, row.toProfile())
	}
	return profiles, nil
}

// CreateProfile inserts a profile, ignoring duplicates, and returns the stored row.
func (r *PostgrestRepository) CreateProfile(ctx context.Context, profile Profile) (Profile, error) {
	if profile.Role == "" {
		profile.Role = RoleUser
	}
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = time.Now().UTC()
	}

	row := postgrestProfile{ID: profile.ID, Role: profile.Role, CreatedAt: profile.CreatedAt}
	if profile.Email != "" {
		row.Email = &profile.Email
	}

	query := url.Values{"on_conflict": {"id"}}
	if err := r.do(ctx, http.MethodPost, query, row, "resolution=ignore-duplicates,return=minimal", nil); err != nil {
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
func (r *PostgrestRepository) UpdateRole(ctx context.Context, id uuid.UUID, role Role) (Profile, error) {
	query := url.Values{"select": {profileSelect}, "id": {"eq." + id.String()}}
	body := map[string]Role{"role": role}

	var rows []postgrestProfile
	if err := r.do(ctx, http.MethodPatch, query, body, "return=representation", &rows); err != nil {
		return Profile{}, err
	}
	if len(rows) == 0 {
		return Profile{}, ErrProfileNotFound
	}
	return rows[0].toProfile(), nil
}

func (r *PostgrestRepository) findOne(ctx context.Context, query url.Values) (*Profile, error) {
	query.Set("limit", "1")

	var rows []postgrestProfile
	if err := r.do(ctx, http.MethodGet, query, nil, "", &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	profile := rows[0].toProfile()
	return &profile, nil
}

func (r *PostgrestRepository) do(ctx context.Context, method string, query url.Values, body any, prefer string, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+"?"+query.Encode(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("apikey", r.serviceKey)
	req.Header.Set("Authorization", "Bearer "+r.serviceKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("profiles %s: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var payload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(data, &payload)
		return fmt.Errorf("profiles %s: status %d: %s", method, resp.StatusCode, firstNonEmpty(payload.Message, payload.Code, http.StatusText(resp.StatusCode)))
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`, `*`, `\*`)
	return replacer.Replace(value)
}
