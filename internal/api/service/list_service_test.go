package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ctchen222/otaku-list/internal/api/models"
	"ctchen222/otaku-list/internal/api/repository"
	"ctchen222/otaku-list/internal/api/repository/mocks"
	"ctchen222/otaku-list/internal/apperror"
	"ctchen222/otaku-list/internal/db"
	"ctchen222/otaku-list/internal/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.ListEntryUpsertedPayload
	err    error
}

func (p *recordingPublisher) PublishListEntryUpserted(_ context.Context, e events.ListEntryUpsertedPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

// newListFixture wires a ListService to a migrated sqlite file with one user.
func newListFixture(t *testing.T, pub events.Publisher) (ListService, int64) {
	t.Helper()
	ctx := context.Background()
	pool, err := db.OpenAndMigrate(ctx, filepath.Join(t.TempDir(), "list.db"))
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	users := repository.NewUserRepository(pool, 5*time.Second)
	now := time.Now().UTC()
	u := &models.User{Email: "ein@bebop.test", Username: "ein", PasswordHash: "h", PasswordSalt: "s", Token: "t", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, users.CreateUser(ctx, u))

	return NewListService(repository.NewListRepository(pool, 5*time.Second), pub), u.ID
}

func TestListService_UpsertCreatesThenUpdates(t *testing.T) {
	pub := &recordingPublisher{}
	svc, userID := newListFixture(t, pub)
	ctx := context.Background()

	first, err := svc.Upsert(ctx, userID, "21", models.ListFields{Title: "One Piece", ImageRef: "op.jpg", Status: "watching"})
	require.NoError(t, err)
	assert.True(t, first.Created)

	second, err := svc.Upsert(ctx, userID, "21", models.ListFields{Title: "One Piece", ImageRef: "op.jpg", Status: "completed"})
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Entry.ID, second.Entry.ID)

	entries, err := svc.ListForUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "completed", entries[0].Status)

	require.Len(t, pub.events, 2)
	assert.True(t, pub.events[0].Created)
	assert.False(t, pub.events[1].Created)
	assert.Equal(t, "completed", pub.events[1].Status)
}

func TestListService_ConcurrentUpsertsCreateExactlyOnce(t *testing.T) {
	svc, userID := newListFixture(t, nil)
	ctx := context.Background()

	const n = 20
	results := make([]*models.UpsertResult, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Upsert(ctx, userID, "1535", models.ListFields{Status: fmt.Sprintf("s%d", i)})
		}(i)
	}
	wg.Wait()

	created := 0
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		if results[i].Created {
			created++
		}
	}
	assert.Equal(t, 1, created)

	entries, err := svc.ListForUser(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestListService_UpsertValidation(t *testing.T) {
	svc, userID := newListFixture(t, nil)

	_, err := svc.Upsert(context.Background(), userID, "  ", models.ListFields{})
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)
}

func TestListService_UpsertUnknownUser(t *testing.T) {
	svc, userID := newListFixture(t, nil)

	_, err := svc.Upsert(context.Background(), userID+1, "21", models.ListFields{})
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestListService_EmptyStatusAccepted(t *testing.T) {
	svc, userID := newListFixture(t, nil)

	res, err := svc.Upsert(context.Background(), userID, "5114", models.ListFields{Title: "FMA"})
	require.NoError(t, err)
	assert.Equal(t, "", res.Entry.Status)
}

func TestListService_ListForUserEmpty(t *testing.T) {
	svc, userID := newListFixture(t, nil)

	entries, err := svc.ListForUser(context.Background(), userID)
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestListService_PublishFailureDoesNotFailUpsert(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockListRepository(ctrl)
	pub := &recordingPublisher{err: errors.New("redis down")}
	svc := NewListService(repo, pub)

	entry := &models.ListEntry{ID: 1, UserID: 3, ItemID: "21", Status: "watching"}
	repo.EXPECT().Get(gomock.Any(), int64(3), "21").Return(nil, nil)
	repo.EXPECT().Upsert(gomock.Any(), int64(3), "21", models.ListFields{Status: "watching"}, gomock.Any()).Return(entry, nil)

	res, err := svc.Upsert(context.Background(), 3, "21", models.ListFields{Status: "watching"})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Len(t, pub.events, 1)
}

func TestListService_RepositoryErrorsPropagate(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockListRepository(ctrl)
	svc := NewListService(repo, nil)

	repo.EXPECT().Get(gomock.Any(), int64(3), "21").Return(nil, nil)
	repo.EXPECT().Upsert(gomock.Any(), int64(3), "21", gomock.Any(), gomock.Any()).
		Return(nil, apperror.Conflict("list entry was written concurrently", nil))

	_, err := svc.Upsert(context.Background(), 3, "21", models.ListFields{})
	assert.ErrorIs(t, err, apperror.ErrConflict)
}

func TestListService_UpsertGivesUpWaitingForBusyEntry(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockListRepository(ctrl)
	svc := NewListService(repo, nil).(*listService)
	svc.lockWait = 20 * time.Millisecond

	unlock, err := svc.locks.Lock(context.Background(), listKey{userID: 3, itemID: "21"})
	require.NoError(t, err)
	defer unlock()

	_, err = svc.Upsert(context.Background(), 3, "21", models.ListFields{})
	assert.ErrorIs(t, err, apperror.ErrUpstreamUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// A different entry of the same user is not held up.
	repo.EXPECT().Get(gomock.Any(), int64(3), "22").Return(nil, nil)
	repo.EXPECT().Upsert(gomock.Any(), int64(3), "22", gomock.Any(), gomock.Any()).
		Return(&models.ListEntry{ID: 9, UserID: 3, ItemID: "22"}, nil)
	res, err := svc.Upsert(context.Background(), 3, "22", models.ListFields{})
	require.NoError(t, err)
	assert.True(t, res.Created)
}
