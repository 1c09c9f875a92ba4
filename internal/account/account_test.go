package account

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bobarin/audiodesc/internal/db/dbtest"
	"github.com/bobarin/audiodesc/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(store *dbtest.Store) *Service {
	return NewService(store.ProfileRepo(), store.RoleRepo(), store.AudioFiles(), Options{
		DefaultPlan:       "free",
		DefaultDailyLimit: 10,
		IsAdminEmail: func(email string) bool {
			return strings.EqualFold(email, "owner@shop.test")
		},
	})
}

func TestReconcileAdminRoleGrants(t *testing.T) {
	store := dbtest.New()
	svc := newTestService(store)
	id := uuid.New()

	isAdmin, err := svc.ReconcileAdminRole(context.Background(), " Owner@Shop.test ", id)
	require.NoError(t, err)
	assert.True(t, isAdmin)
	assert.True(t, store.Roles[id][models.RoleAdmin])

	// idempotent
	isAdmin, err = svc.ReconcileAdminRole(context.Background(), "owner@shop.test", id)
	require.NoError(t, err)
	assert.True(t, isAdmin)
}

func TestReconcileAdminRoleKeepsExistingGrant(t *testing.T) {
	store := dbtest.New()
	svc := newTestService(store)
	id := uuid.New()
	require.NoError(t, store.RoleRepo().Assign(context.Background(), id, models.RoleAdmin))

	isAdmin, err := svc.ReconcileAdminRole(context.Background(), "someone@else.test", id)
	require.NoError(t, err)
	assert.True(t, isAdmin)
}

func TestReconcileAdminRoleRegularUser(t *testing.T) {
	store := dbtest.New()

	isAdmin, err := newTestService(store).ReconcileAdminRole(context.Background(), "shopper@mail.test", uuid.New())
	require.NoError(t, err)
	assert.False(t, isAdmin)
}

func TestStartSessionAdoptsGuestRecordsOnce(t *testing.T) {
	store := dbtest.New()
	svc := newTestService(store)
	id := uuid.New()
	sess := "guest-123"
	other := "guest-999"

	for i := 0; i < 3; i++ {
		store.AddFile(models.AudioFile{SessionID: &sess, IsTemporary: true, CreatedAt: time.Now()})
	}
	store.AddFile(models.AudioFile{SessionID: &other, IsTemporary: true, CreatedAt: time.Now()})

	resp, err := svc.StartSession(context.Background(), id, "shopper@mail.test", sess)
	require.NoError(t, err)
	assert.Equal(t, int64(3), resp.AdoptedRecords)
	assert.False(t, resp.IsAdmin)
	require.NotNil(t, resp.Profile)
	assert.Equal(t, 10, resp.Profile.RemainingGenerations)

	owned, err := store.AudioFiles().ListByUser(context.Background(), id, 0, 0)
	require.NoError(t, err)
	assert.Len(t, owned, 3)
	for _, f := range owned {
		assert.False(t, f.IsTemporary)
		assert.Nil(t, f.SessionID)
	}

	// a second sign-in with the same session neither duplicates nor re-adopts
	resp, err = svc.StartSession(context.Background(), id, "shopper@mail.test", sess)
	require.NoError(t, err)
	assert.Zero(t, resp.AdoptedRecords)
	assert.Equal(t, 4, store.FileCount())
}

func TestAdoptGuestRecordsBlankSession(t *testing.T) {
	n, err := newTestService(dbtest.New()).AdoptGuestRecords(context.Background(), "  ", uuid.New())
	require.NoError(t, err)
	assert.Zero(t, n)
}
