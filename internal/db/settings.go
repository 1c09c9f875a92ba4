package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bobarin/audiodesc/internal/models"
	"github.com/google/uuid"
)

// SettingsRepository reads and writes the single app_settings row.
type SettingsRepository interface {
	Get(ctx context.Context) (*models.AppSettings, error)
	SetUnlimitedGenerations(ctx context.Context, enabled bool) (*models.AppSettings, error)
}

// RoleRepository manages user_roles assignments.
type RoleRepository interface {
	HasRole(ctx context.Context, userID uuid.UUID, role models.Role) (bool, error)
	// Assign is idempotent: assigning an existing role is a no-op.
	Assign(ctx context.Context, userID uuid.UUID, role models.Role) error
}

// FeedbackRepository stores user feedback on generated audio.
type FeedbackRepository interface {
	Create(ctx context.Context, fb *models.Feedback) error
}

type settings struct {
	db *DB
}

// Settings returns the Postgres-backed SettingsRepository.
func (db *DB) Settings() SettingsRepository {
	return &settings{db: db}
}

// Get returns the settings row; a missing row reads as all defaults.
func (r *settings) Get(ctx context.Context) (*models.AppSettings, error) {
	query := `
		SELECT unlimited_generations_for_all, updated_at
		FROM app_settings
		WHERE id = 1
	`

	s := &models.AppSettings{}
	err := r.db.QueryRowContext(ctx, query).Scan(&s.UnlimitedGenerationsForAll, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.AppSettings{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get app settings: %w", err)
	}
	return s, nil
}

func (r *settings) SetUnlimitedGenerations(ctx context.Context, enabled bool) (*models.AppSettings, error) {
	query := `
		INSERT INTO app_settings (id, unlimited_generations_for_all)
		VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET
			unlimited_generations_for_all = EXCLUDED.unlimited_generations_for_all,
			updated_at = NOW()
		RETURNING unlimited_generations_for_all, updated_at
	`

	s := &models.AppSettings{}
	if err := r.db.QueryRowContext(ctx, query, enabled).Scan(&s.UnlimitedGenerationsForAll, &s.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to update app settings: %w", err)
	}
	return s, nil
}

type roles struct {
	db *DB
}

// Roles returns the Postgres-backed RoleRepository.
func (db *DB) Roles() RoleRepository {
	return &roles{db: db}
}

func (r *roles) HasRole(ctx context.Context, userID uuid.UUID, role models.Role) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM user_roles WHERE user_id = $1 AND role = $2)`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, userID, role).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check role: %w", err)
	}
	return exists, nil
}

func (r *roles) Assign(ctx context.Context, userID uuid.UUID, role models.Role) error {
	query := `
		INSERT INTO user_roles (user_id, role)
		VALUES ($1, $2)
		ON CONFLICT (user_id, role) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, userID, role); err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}
	return nil
}

type feedback struct {
	db *DB
}

// Feedback returns the Postgres-backed FeedbackRepository.
func (db *DB) Feedback() FeedbackRepository {
	return &feedback{db: db}
}

func (r *feedback) Create(ctx context.Context, fb *models.Feedback) error {
	query := `
		INSERT INTO feedback (id, user_id, audio_id, rating, comment)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`

	err := r.db.QueryRowContext(
		ctx, query,
		fb.ID, fb.UserID, fb.AudioID, fb.Rating, fb.Comment,
	).Scan(&fb.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create feedback: %w", err)
	}
	return nil
}
