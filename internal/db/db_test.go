package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/bobarin/audiodesc/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests run against a real Postgres and are skipped unless
// TEST_DATABASE_URL is set. Every test works on fresh ids, so a shared
// database is fine.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" || testing.Short() {
		t.Skip("TEST_DATABASE_URL not set")
	}

	database, err := New(url)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	schema, err := os.ReadFile("../../migrations/001_init.sql")
	require.NoError(t, err)
	_, err = database.Exec(string(schema))
	require.NoError(t, err)

	return database
}

func newGuestFile(sessionID string) *models.AudioFile {
	path := "guests/" + sessionID + "/" + uuid.NewString() + ".mp3"
	return &models.AudioFile{
		ID:          uuid.New(),
		SessionID:   &sessionID,
		Title:       "Wireless Headphones",
		Description: "Premium wireless headphones.",
		Language:    "en-US",
		VoiceName:   "alloy",
		AudioURL:    "https://cdn.test/" + path,
		FilePath:    &path,
		IsTemporary: true,
	}
}

func cleanupFiles(t *testing.T, database *DB, ids ...uuid.UUID) {
	t.Cleanup(func() {
		for _, id := range ids {
			database.ExecContext(context.Background(), `DELETE FROM audio_files WHERE id = $1`, id)
		}
	})
}

func TestProfileGetOrCreateKeepsExistingRow(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	repo := database.Profiles()
	id := uuid.New()
	t.Cleanup(func() { database.Exec(`DELETE FROM profiles WHERE id = $1`, id) })

	created, err := repo.GetOrCreate(ctx, id, "free", 10)
	require.NoError(t, err)
	assert.Equal(t, "free", created.Plan)
	assert.Equal(t, 10, created.RemainingGenerations)

	require.NoError(t, repo.DecrementRemaining(ctx, id))

	again, err := repo.GetOrCreate(ctx, id, "pro", 100)
	require.NoError(t, err)
	assert.Equal(t, "free", again.Plan)
	assert.Equal(t, 10, again.DailyLimit)
	assert.Equal(t, 9, again.RemainingGenerations)
}

func TestProfileDecrementStopsAtZero(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	repo := database.Profiles()
	id := uuid.New()
	t.Cleanup(func() { database.Exec(`DELETE FROM profiles WHERE id = $1`, id) })

	_, err := repo.GetOrCreate(ctx, id, "free", 1)
	require.NoError(t, err)

	require.NoError(t, repo.DecrementRemaining(ctx, id))
	require.NoError(t, repo.DecrementRemaining(ctx, id))

	p, err := repo.GetOrCreate(ctx, id, "free", 1)
	require.NoError(t, err)
	assert.Equal(t, 0, p.RemainingGenerations)

	assert.ErrorIs(t, repo.DecrementRemaining(ctx, uuid.New()), ErrNotFound)
}

func TestAdoptSessionMovesRowsOnce(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	files := database.AudioFiles()

	session := "sess-" + uuid.NewString()
	other := "sess-" + uuid.NewString()
	userID := uuid.New()

	a, b, c := newGuestFile(session), newGuestFile(session), newGuestFile(other)
	cleanupFiles(t, database, a.ID, b.ID, c.ID)
	for _, f := range []*models.AudioFile{a, b, c} {
		require.NoError(t, files.Create(ctx, f))
	}

	n, err := files.AdoptSession(ctx, session, userID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	owned, err := files.ListByUser(ctx, userID, 10, 0)
	require.NoError(t, err)
	require.Len(t, owned, 2)
	ids := []uuid.UUID{owned[0].ID, owned[1].ID}
	assert.ElementsMatch(t, []uuid.UUID{a.ID, b.ID}, ids)
	for _, f := range owned {
		assert.False(t, f.IsTemporary)
		assert.Nil(t, f.SessionID)
		require.NotNil(t, f.UserID)
		assert.Equal(t, userID, *f.UserID)
	}

	left, err := files.ListBySession(ctx, session, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, left)

	n, err = files.AdoptSession(ctx, session, userID)
	require.NoError(t, err)
	assert.Zero(t, n)

	owned, err = files.ListByUser(ctx, userID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, owned, 2)

	untouched, err := files.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, untouched.IsTemporary)
}

func TestCountSessionAndExpiry(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	files := database.AudioFiles()

	session := "sess-" + uuid.NewString()
	f := newGuestFile(session)
	cleanupFiles(t, database, f.ID)
	require.NoError(t, files.Create(ctx, f))
	assert.False(t, f.CreatedAt.IsZero())

	count, err := files.CountSessionSince(ctx, session, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	expired, err := files.ListExpiredTemporary(ctx, f.CreatedAt.Add(time.Second), 1000)
	require.NoError(t, err)
	found := false
	for _, e := range expired {
		if e.ID == f.ID {
			found = true
		}
	}
	assert.True(t, found)

	require.NoError(t, files.Delete(ctx, f.ID))
	_, err = files.Get(ctx, f.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, files.Delete(ctx, f.ID), ErrNotFound)
}

func TestRoleAssignIsIdempotent(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	roles := database.Roles()
	id := uuid.New()
	t.Cleanup(func() { database.Exec(`DELETE FROM user_roles WHERE user_id = $1`, id) })

	ok, err := roles.HasRole(ctx, id, models.RoleAdmin)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, roles.Assign(ctx, id, models.RoleAdmin))
	require.NoError(t, roles.Assign(ctx, id, models.RoleAdmin))

	ok, err = roles.HasRole(ctx, id, models.RoleAdmin)
	require.NoError(t, err)
	assert.True(t, ok)
}
