package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/bobarin/audiodesc/internal/db"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	ReasonDailyLimit      = "daily limit reached"
	ReasonGuestDailyLimit = "guest daily limit reached, sign in to keep generating"

	guestWindow = 24 * time.Hour
)

// Decision is the outcome of a quota check. Checking never consumes anything.
type Decision struct {
	Allowed   bool
	Reason    string
	Remaining int
	Unlimited bool
}

// SessionCounter counts a guest session's records since a point in time.
type SessionCounter interface {
	CountSessionSince(ctx context.Context, sessionID string, since time.Time) (int, error)
}

type Options struct {
	DefaultPlan       string
	DefaultDailyLimit int
	GuestDailyLimit   int
}

// Guard decides whether a caller may run one more generation.
type Guard struct {
	profiles db.ProfileRepository
	settings db.SettingsRepository
	sessions SessionCounter
	opts     Options
	now      func() time.Time
}

func NewGuard(profiles db.ProfileRepository, settings db.SettingsRepository, sessions SessionCounter, opts Options) *Guard {
	return &Guard{
		profiles: profiles,
		settings: settings,
		sessions: sessions,
		opts:     opts,
		now:      time.Now,
	}
}

// Check allows the call when the global unlimited override is on or the
// caller still has generations left today. A missing profile is created
// with the default plan first.
func (g *Guard) Check(ctx context.Context, callerID uuid.UUID) (Decision, error) {
	unlimited, err := g.unlimited(ctx)
	if err != nil {
		return Decision{}, err
	}
	if unlimited {
		return Decision{Allowed: true, Unlimited: true}, nil
	}

	profile, err := g.profiles.GetOrCreate(ctx, callerID, g.opts.DefaultPlan, g.opts.DefaultDailyLimit)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to load profile: %w", err)
	}

	if profile.RemainingGenerations <= 0 {
		return Decision{Allowed: false, Reason: ReasonDailyLimit}, nil
	}
	return Decision{Allowed: true, Remaining: profile.RemainingGenerations}, nil
}

// CheckGuest counts the session's records over the trailing 24 hours.
func (g *Guard) CheckGuest(ctx context.Context, sessionID string) (Decision, error) {
	unlimited, err := g.unlimited(ctx)
	if err != nil {
		return Decision{}, err
	}
	if unlimited {
		return Decision{Allowed: true, Unlimited: true}, nil
	}

	used, err := g.sessions.CountSessionSince(ctx, sessionID, g.now().Add(-guestWindow))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to count guest generations: %w", err)
	}

	remaining := g.opts.GuestDailyLimit - used
	if remaining <= 0 {
		return Decision{Allowed: false, Reason: ReasonGuestDailyLimit}, nil
	}
	return Decision{Allowed: true, Remaining: remaining}, nil
}

// Consume charges one generation. It must only be called once the audio
// has been persisted; while the unlimited override is on it is a no-op.
func (g *Guard) Consume(ctx context.Context, callerID uuid.UUID) error {
	unlimited, err := g.unlimited(ctx)
	if err != nil {
		return err
	}
	if unlimited {
		zerolog.Ctx(ctx).Debug().Str("caller_id", callerID.String()).Msg("unlimited override on, quota untouched")
		return nil
	}

	if err := g.profiles.DecrementRemaining(ctx, callerID); err != nil {
		return fmt.Errorf("failed to consume quota: %w", err)
	}
	return nil
}

func (g *Guard) unlimited(ctx context.Context) (bool, error) {
	s, err := g.settings.Get(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read app settings: %w", err)
	}
	return s.UnlimitedGenerationsForAll, nil
}
