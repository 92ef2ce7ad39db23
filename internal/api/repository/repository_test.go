package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ctchen222/otaku-list/internal/api/models"
	"ctchen222/otaku-list/internal/apperror"
	"ctchen222/otaku-list/internal/db"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	pool, err := db.OpenAndMigrate(context.Background(), filepath.Join(t.TempDir(), "otaku.db"))
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return pool
}

func newUser(email, token string) *models.User {
	now := time.Now().UTC()
	return &models.User{
		Email:        email,
		Username:     "spike",
		PasswordHash: "digest",
		PasswordSalt: "salt",
		Token:        token,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestUserRepository_CreateAndLookup(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(newTestDB(t), time.Second)

	u := newUser("spike@bebop.test", "tok-1")
	require.NoError(t, repo.CreateUser(ctx, u))
	require.NotZero(t, u.ID)

	byEmail, err := repo.GetUserByEmail(ctx, "spike@bebop.test")
	require.NoError(t, err)
	require.NotNil(t, byEmail)
	assert.Equal(t, u.ID, byEmail.ID)

	byToken, err := repo.GetUserByToken(ctx, "tok-1")
	require.NoError(t, err)
	require.NotNil(t, byToken)
	assert.Equal(t, "spike@bebop.test", byToken.Email)

	byID, err := repo.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, "tok-1", byID.Token)

	missing, err := repo.GetUserByToken(ctx, "tok-2")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUserRepository_DuplicateEmailConflicts(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(newTestDB(t), time.Second)

	require.NoError(t, repo.CreateUser(ctx, newUser("faye@bebop.test", "tok-1")))
	err := repo.CreateUser(ctx, newUser("faye@bebop.test", "tok-2"))
	assert.ErrorIs(t, err, apperror.ErrConflict)
}

func TestUserRepository_UpdateProfileAndToken(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(newTestDB(t), time.Second)

	u := newUser("jet@bebop.test", "old-token")
	require.NoError(t, repo.CreateUser(ctx, u))

	u.Username = "black dog"
	u.AvatarURL = "https://cdn.test/jet.png"
	u.UpdatedAt = time.Now().UTC()
	require.NoError(t, repo.UpdateProfile(ctx, u))

	require.NoError(t, repo.UpdateToken(ctx, u.ID, "new-token", time.Now()))
	old, err := repo.GetUserByToken(ctx, "old-token")
	require.NoError(t, err)
	assert.Nil(t, old)

	got, err := repo.GetUserByToken(ctx, "new-token")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "black dog", got.Username)
	assert.Equal(t, "https://cdn.test/jet.png", got.AvatarURL)

	err = repo.UpdateToken(ctx, u.ID+100, "other", time.Now())
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestListRepository_UpsertCreatesThenUpdates(t *testing.T) {
	ctx := context.Background()
	pool := newTestDB(t)
	users := NewUserRepository(pool, time.Second)
	lists := NewListRepository(pool, time.Second)

	u := newUser("ed@bebop.test", "tok")
	require.NoError(t, users.CreateUser(ctx, u))

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	first, err := lists.Upsert(ctx, u.ID, "21", models.ListFields{Title: "One Piece", Status: "watching"}, t0)
	require.NoError(t, err)
	assert.Equal(t, "watching", first.Status)

	t1 := t0.Add(time.Hour)
	second, err := lists.Upsert(ctx, u.ID, "21", models.ListFields{Title: "One Piece", Status: "completed"}, t1)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "completed", second.Status)
	assert.True(t, second.CreatedAt.Equal(t0), "created_at must survive an update")
	assert.True(t, second.UpdatedAt.Equal(t1))

	entries, err := lists.ListByUser(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "completed", entries[0].Status)
}

func TestListRepository_UnknownUserIsNotFound(t *testing.T) {
	lists := NewListRepository(newTestDB(t), time.Second)

	_, err := lists.Upsert(context.Background(), 999, "21", models.ListFields{}, time.Now())
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestListRepository_ListByUserOrderAndEmpty(t *testing.T) {
	ctx := context.Background()
	pool := newTestDB(t)
	users := NewUserRepository(pool, time.Second)
	lists := NewListRepository(pool, time.Second)

	u := newUser("vicious@redDragon.test", "tok")
	require.NoError(t, users.CreateUser(ctx, u))

	empty, err := lists.ListByUser(ctx, u.ID)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, item := range []string{"a", "b", "c"} {
		_, err := lists.Upsert(ctx, u.ID, item, models.ListFields{}, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}
	// Touch "a" so it becomes the most recent.
	_, err = lists.Upsert(ctx, u.ID, "a", models.ListFields{Status: "dropped"}, base.Add(time.Hour))
	require.NoError(t, err)

	entries, err := lists.ListByUser(ctx, u.ID)
	require.NoError(t, err)
	var order []string
	for _, e := range entries {
		order = append(order, e.ItemID)
	}
	assert.Equal(t, []string{"a", "c", "b"}, order)
}

func TestListRepository_ConcurrentUpsertsLeaveOneRow(t *testing.T) {
	ctx := context.Background()
	pool := newTestDB(t)
	users := NewUserRepository(pool, 5*time.Second)
	lists := NewListRepository(pool, 5*time.Second)

	u := newUser("julia@bebop.test", "tok")
	require.NoError(t, users.CreateUser(ctx, u))

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = lists.Upsert(ctx, u.ID, "1", models.ListFields{Status: fmt.Sprintf("s%d", i)}, time.Now())
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	entries, err := lists.ListByUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
