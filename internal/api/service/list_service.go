package service

import (
	"context"
	"strings"
	"time"

	"ctchen222/otaku-list/internal/api/models"
	"ctchen222/otaku-list/internal/api/repository"
	"ctchen222/otaku-list/internal/apperror"
	"ctchen222/otaku-list/internal/events"
	"ctchen222/otaku-list/internal/keylock"
	"ctchen222/otaku-list/internal/logger"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

//go:generate mockgen -source=list_service.go -destination=mocks/list_service_mock.go -package=mocks

// ListService defines the interface for watch list logic.
type ListService interface {
	Upsert(ctx context.Context, userID int64, itemID string, fields models.ListFields) (*models.UpsertResult, error)
	ListForUser(ctx context.Context, userID int64) ([]models.ListEntry, error)
}

type listKey struct {
	userID int64
	itemID string
}

type listService struct {
	listRepo  repository.ListRepository
	publisher events.Publisher
	locks     keylock.Map[listKey]
	lockWait  time.Duration
	now       func() time.Time
}

// defaultLockWait bounds how long an upsert queues behind writes to the same
// entry.
const defaultLockWait = 10 * time.Second

// NewListService creates a new ListService. A nil publisher drops events.
func NewListService(listRepo repository.ListRepository, publisher events.Publisher) ListService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &listService{listRepo: listRepo, publisher: publisher, lockWait: defaultLockWait, now: time.Now}
}

// Upsert creates the (userID, itemID) entry or replaces its fields. Writes to
// the same pair are serialised so Created is exact; other pairs proceed in
// parallel.
func (s *listService) Upsert(ctx context.Context, userID int64, itemID string, fields models.ListFields) (*models.UpsertResult, error) {
	ctx, span := tracer.Start(ctx, "ListService.Upsert", trace.WithAttributes(
		attribute.Int64("list.user_id", userID),
		attribute.String("list.item_id", itemID),
	))
	defer span.End()

	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return nil, apperror.InvalidInput("animeId is required")
	}

	lockCtx, cancel := context.WithTimeout(ctx, s.lockWait)
	unlock, err := s.locks.Lock(lockCtx, listKey{userID: userID, itemID: itemID})
	cancel()
	if err != nil {
		return nil, apperror.UpstreamUnavailable("timed out waiting for a concurrent write to the same entry", err)
	}
	defer unlock()

	existing, err := s.listRepo.Get(ctx, userID, itemID)
	if err != nil {
		return nil, err
	}
	entry, err := s.listRepo.Upsert(ctx, userID, itemID, fields, s.now())
	if err != nil {
		return nil, err
	}

	result := &models.UpsertResult{Entry: *entry, Created: existing == nil}
	span.SetAttributes(attribute.Bool("list.created", result.Created))

	err = s.publisher.PublishListEntryUpserted(ctx, events.ListEntryUpsertedPayload{
		UserID:    entry.UserID,
		ItemID:    entry.ItemID,
		Status:    entry.Status,
		Created:   result.Created,
		UpdatedAt: entry.UpdatedAt,
	})
	if err != nil {
		logger.FromContext(ctx).WarnContext(ctx, "failed to publish list event", "user.id", userID, "item.id", itemID, "error", err)
	}
	return result, nil
}

// ListForUser returns the user's entries, most recently updated first. No
// entries is an empty slice, not an error.
func (s *listService) ListForUser(ctx context.Context, userID int64) ([]models.ListEntry, error) {
	ctx, span := tracer.Start(ctx, "ListService.ListForUser", trace.WithAttributes(
		attribute.Int64("list.user_id", userID),
	))
	defer span.End()

	entries, err := s.listRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []models.ListEntry{}
	}
	return entries, nil
}
