package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bobarin/audiodesc/internal/models"
	"github.com/google/uuid"
)

const audioFileColumns = `
	id, user_id, session_id, title, description, language,
	voice_name, audio_url, file_path, is_temporary, created_at
`

// AudioFileRepository is the typed surface over the audio_files table.
type AudioFileRepository interface {
	Create(ctx context.Context, file *models.AudioFile) error
	Get(ctx context.Context, id uuid.UUID) (*models.AudioFile, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.AudioFile, error)
	ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]models.AudioFile, error)
	ListAll(ctx context.Context, limit, offset int) ([]models.AudioFile, error)
	CountSessionSince(ctx context.Context, sessionID string, since time.Time) (int, error)
	AdoptSession(ctx context.Context, sessionID string, userID uuid.UUID) (int64, error)
	ListExpiredTemporary(ctx context.Context, olderThan time.Time, limit int) ([]models.AudioFile, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type audioFiles struct {
	db *DB
}

// AudioFiles returns the Postgres-backed AudioFileRepository.
func (db *DB) AudioFiles() AudioFileRepository {
	return &audioFiles{db: db}
}

func (r *audioFiles) Create(ctx context.Context, file *models.AudioFile) error {
	query := `
		INSERT INTO audio_files (
			id, user_id, session_id, title, description, language,
			voice_name, audio_url, file_path, is_temporary
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`

	err := r.db.QueryRowContext(
		ctx, query,
		file.ID, file.UserID, file.SessionID, file.Title, file.Description,
		file.Language, file.VoiceName, file.AudioURL, file.FilePath, file.IsTemporary,
	).Scan(&file.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create audio file: %w", err)
	}
	return nil
}

func (r *audioFiles) Get(ctx context.Context, id uuid.UUID) (*models.AudioFile, error) {
	query := `SELECT ` + audioFileColumns + ` FROM audio_files WHERE id = $1`

	file, err := scanAudioFile(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("audio file %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audio file: %w", err)
	}
	return file, nil
}

func (r *audioFiles) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.AudioFile, error) {
	query := `
		SELECT ` + audioFileColumns + `
		FROM audio_files
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	return r.list(ctx, query, userID, limit, offset)
}

func (r *audioFiles) ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]models.AudioFile, error) {
	query := `
		SELECT ` + audioFileColumns + `
		FROM audio_files
		WHERE session_id = $1 AND is_temporary
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	return r.list(ctx, query, sessionID, limit, offset)
}

func (r *audioFiles) ListAll(ctx context.Context, limit, offset int) ([]models.AudioFile, error) {
	query := `
		SELECT ` + audioFileColumns + `
		FROM audio_files
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`
	return r.list(ctx, query, limit, offset)
}

func (r *audioFiles) CountSessionSince(ctx context.Context, sessionID string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM audio_files
		WHERE session_id = $1 AND created_at >= $2
	`

	var count int
	if err := r.db.QueryRowContext(ctx, query, sessionID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count session audio files: %w", err)
	}
	return count, nil
}

// AdoptSession transfers every temporary record of a guest session to userID.
// Rows are updated in place, so a repeated call adopts nothing and never duplicates.
func (r *audioFiles) AdoptSession(ctx context.Context, sessionID string, userID uuid.UUID) (int64, error) {
	query := `
		UPDATE audio_files
		SET user_id = $1, session_id = NULL, is_temporary = FALSE
		WHERE session_id = $2 AND is_temporary
	`

	result, err := r.db.ExecContext(ctx, query, userID, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to adopt session audio files: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return rows, nil
}

func (r *audioFiles) ListExpiredTemporary(ctx context.Context, olderThan time.Time, limit int) ([]models.AudioFile, error) {
	query := `
		SELECT ` + audioFileColumns + `
		FROM audio_files
		WHERE is_temporary AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`
	return r.list(ctx, query, olderThan, limit)
}

func (r *audioFiles) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM audio_files WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete audio file: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("audio file %s: %w", id, ErrNotFound)
	}

	return nil
}

func (r *audioFiles) list(ctx context.Context, query string, args ...interface{}) ([]models.AudioFile, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audio files: %w", err)
	}
	defer rows.Close()

	files := []models.AudioFile{}
	for rows.Next() {
		file, err := scanAudioFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audio file: %w", err)
		}
		files = append(files, *file)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audio files: %w", err)
	}

	return files, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAudioFile(row rowScanner) (*models.AudioFile, error) {
	file := &models.AudioFile{}
	err := row.Scan(
		&file.ID, &file.UserID, &file.SessionID, &file.Title, &file.Description,
		&file.Language, &file.VoiceName, &file.AudioURL, &file.FilePath,
		&file.IsTemporary, &file.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return file, nil
}
