package db

import (
	"context"
	"fmt"

	"github.com/bobarin/audiodesc/internal/models"
	"github.com/google/uuid"
)

// ProfileRepository is the typed surface over the profiles table (plan and quota fields).
type ProfileRepository interface {
	// GetOrCreate returns the profile, inserting one with the given plan and limit when missing.
	GetOrCreate(ctx context.Context, id uuid.UUID, plan string, dailyLimit int) (*models.Profile, error)
	// DecrementRemaining consumes one generation, never going below zero.
	DecrementRemaining(ctx context.Context, id uuid.UUID) error
}

type profiles struct {
	db *DB
}

// Profiles returns the Postgres-backed ProfileRepository.
func (db *DB) Profiles() ProfileRepository {
	return &profiles{db: db}
}

func (r *profiles) GetOrCreate(ctx context.Context, id uuid.UUID, plan string, dailyLimit int) (*models.Profile, error) {
	// DO UPDATE with a no-op assignment so RETURNING yields the existing row too
	query := `
		INSERT INTO profiles (id, plan, daily_limit, remaining_generations)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (id) DO UPDATE SET id = profiles.id
		RETURNING id, plan, daily_limit, remaining_generations, created_at, updated_at
	`

	profile := &models.Profile{}
	err := r.db.QueryRowContext(ctx, query, id, plan, dailyLimit).Scan(
		&profile.ID, &profile.Plan, &profile.DailyLimit,
		&profile.RemainingGenerations, &profile.CreatedAt, &profile.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create profile: %w", err)
	}

	return profile, nil
}

func (r *profiles) DecrementRemaining(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE profiles
		SET remaining_generations = GREATEST(remaining_generations - 1, 0),
		    updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to decrement remaining generations: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("profile %s: %w", id, ErrNotFound)
	}

	return nil
}
