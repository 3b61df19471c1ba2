package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrNotConfigured is returned by profile writes when no database is attached.
var ErrNotConfigured = errors.New("profile database not configured")

// ErrNotFound is returned when a profile update matches no row.
var ErrNotFound = errors.New("profile not found")

// Profile is the application-level record kept next to the identity provider's user.
type Profile struct {
	ID                string    `json:"id"`
	FullName          string    `json:"full_name"`
	HasSeenOnboarding bool      `json:"has_seen_onboarding"`
	Is2FAEnabled      bool      `json:"is_2fa_enabled"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Profiles reads and writes profile rows.
type Profiles interface {
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	EnsureProfile(ctx context.Context, userID, fullName string) (*Profile, error)
	MarkOnboardingSeen(ctx context.Context, userID string) error
	SetTwoFactor(ctx context.Context, userID string, enabled bool) error
}

const profileColumns = `id::text, coalesce(full_name, ''), has_seen_onboarding, is_2fa_enabled, created_at, updated_at`

const getProfileSQL = `select ` + profileColumns + ` from profiles where id = $1`

const ensureProfileSQL = `insert into profiles (id, full_name) values ($1, nullif($2, '')) ` +
	`on conflict (id) do update set full_name = coalesce(profiles.full_name, excluded.full_name) ` +
	`returning ` + profileColumns

const markOnboardingSeenSQL = `update profiles set has_seen_onboarding = true, updated_at = now() where id = $1`

const setTwoFactorSQL = `update profiles set is_2fa_enabled = $2, updated_at = now() where id = $1`

// ProfileStore implements Profiles on Postgres.
type ProfileStore struct {
	q Querier
}

var _ Profiles = (*ProfileStore)(nil)

func NewProfileStore(q Querier) *ProfileStore {
	return &ProfileStore{q: q}
}

// GetProfile returns the profile for userID, or nil when none exists yet.
func (s *ProfileStore) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	row := s.q.QueryRow(ctx, getProfileSQL, userID)
	profile, err := scanProfile(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return profile, nil
}

// EnsureProfile creates the profile on first sign-up and keeps an existing name.
func (s *ProfileStore) EnsureProfile(ctx context.Context, userID, fullName string) (*Profile, error) {
	row := s.q.QueryRow(ctx, ensureProfileSQL, userID, fullName)
	profile, err := scanProfile(row)
	if err != nil {
		return nil, fmt.Errorf("ensure profile: %w", err)
	}
	return profile, nil
}

func (s *ProfileStore) MarkOnboardingSeen(ctx context.Context, userID string) error {
	tag, err := s.q.Exec(ctx, markOnboardingSeenSQL, userID)
	if err != nil {
		return fmt.Errorf("mark onboarding seen: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *ProfileStore) SetTwoFactor(ctx context.Context, userID string, enabled bool) error {
	tag, err := s.q.Exec(ctx, setTwoFactorSQL, userID, enabled)
	if err != nil {
		return fmt.Errorf("set two factor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanProfile(row pgx.Row) (*Profile, error) {
	var p Profile
	if err := row.Scan(&p.ID, &p.FullName, &p.HasSeenOnboarding, &p.Is2FAEnabled, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// NopProfiles is used when no database is configured. Every visitor looks like
// a first-time user.
type NopProfiles struct{}

var _ Profiles = NopProfiles{}

func (NopProfiles) GetProfile(context.Context, string) (*Profile, error) { return nil, nil }

func (NopProfiles) EnsureProfile(context.Context, string, string) (*Profile, error) {
	return nil, ErrNotConfigured
}

func (NopProfiles) MarkOnboardingSeen(context.Context, string) error { return ErrNotConfigured }

func (NopProfiles) SetTwoFactor(context.Context, string, bool) error { return ErrNotConfigured }
