// Package account handles what happens when a signed-in user starts a
// session: admin role reconciliation, profile bootstrap and adoption of the
// audio they generated as a guest.
package account

import (
	"context"
	"fmt"
	"strings"

	"github.com/bobarin/audiodesc/internal/db"
	"github.com/bobarin/audiodesc/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SessionAdopter moves a guest session's records to a user.
type SessionAdopter interface {
	AdoptSession(ctx context.Context, sessionID string, userID uuid.UUID) (int64, error)
}

type Options struct {
	DefaultPlan       string
	DefaultDailyLimit int
	// IsAdminEmail reports whether an email is on the administrator list.
	IsAdminEmail func(email string) bool
}

type Service struct {
	profiles db.ProfileRepository
	roles    db.RoleRepository
	files    SessionAdopter
	opts     Options
}

func NewService(profiles db.ProfileRepository, roles db.RoleRepository, files SessionAdopter, opts Options) *Service {
	if opts.IsAdminEmail == nil {
		opts.IsAdminEmail = func(string) bool { return false }
	}
	return &Service{profiles: profiles, roles: roles, files: files, opts: opts}
}

// ReconcileAdminRole grants the admin role when email is on the configured
// list and reports whether the user is an admin afterwards. Roles granted by
// other means are never revoked here.
func (s *Service) ReconcileAdminRole(ctx context.Context, email string, userID uuid.UUID) (bool, error) {
	if s.opts.IsAdminEmail(strings.TrimSpace(email)) {
		if err := s.roles.Assign(ctx, userID, models.RoleAdmin); err != nil {
			return false, fmt.Errorf("failed to grant admin role: %w", err)
		}
		zerolog.Ctx(ctx).Info().Str("user_id", userID.String()).Msg("admin role reconciled")
		return true, nil
	}

	return s.IsAdmin(ctx, userID)
}

func (s *Service) IsAdmin(ctx context.Context, userID uuid.UUID) (bool, error) {
	ok, err := s.roles.HasRole(ctx, userID, models.RoleAdmin)
	if err != nil {
		return false, fmt.Errorf("failed to check admin role: %w", err)
	}
	return ok, nil
}

// AdoptGuestRecords transfers the guest session's temporary records to the
// user. Calling it again for the same session adopts nothing.
func (s *Service) AdoptGuestRecords(ctx context.Context, sessionID string, userID uuid.UUID) (int64, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return 0, nil
	}

	n, err := s.files.AdoptSession(ctx, sessionID, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to adopt guest records: %w", err)
	}
	if n > 0 {
		zerolog.Ctx(ctx).Info().Str("user_id", userID.String()).Int64("records", n).Msg("guest records adopted")
	}
	return n, nil
}

// StartSession runs everything a fresh sign-in needs.
func (s *Service) StartSession(ctx context.Context, userID uuid.UUID, email, sessionID string) (*models.SessionStartResponse, error) {
	isAdmin, err := s.ReconcileAdminRole(ctx, email, userID)
	if err != nil {
		return nil, err
	}

	profile, err := s.profiles.GetOrCreate(ctx, userID, s.opts.DefaultPlan, s.opts.DefaultDailyLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	adopted, err := s.AdoptGuestRecords(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}

	return &models.SessionStartResponse{
		Profile:        profile,
		IsAdmin:        isAdmin,
		AdoptedRecords: adopted,
	}, nil
}
