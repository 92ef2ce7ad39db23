package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ctchen222/otaku-list/internal/api/models"
	"ctchen222/otaku-list/internal/apperror"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

//go:generate mockgen -source=list_repository.go -destination=mocks/list_repository_mock.go -package=mocks

// ListRepository defines the interface for watch list data operations.
type ListRepository interface {
	Upsert(ctx context.Context, userID int64, itemID string, fields models.ListFields, at time.Time) (*models.ListEntry, error)
	Get(ctx context.Context, userID int64, itemID string) (*models.ListEntry, error)
	ListByUser(ctx context.Context, userID int64) ([]models.ListEntry, error)
}

type sqliteListRepository struct {
	db           *sqlx.DB
	queryTimeout time.Duration
}

// NewListRepository creates a new SQLite-based ListRepository.
func NewListRepository(db *sqlx.DB, queryTimeout time.Duration) ListRepository {
	return &sqliteListRepository{db: db, queryTimeout: queryTimeout}
}

const listColumns = `id, user_id, item_id, title, image_ref, status, created_at, updated_at`

// Upsert creates the (userID, itemID) entry or overwrites its fields in a
// single statement. An unknown user is NotFound.
func (r *sqliteListRepository) Upsert(ctx context.Context, userID int64, itemID string, fields models.ListFields, at time.Time) (*models.ListEntry, error) {
	ctx, span := tracer.Start(ctx, "ListRepository.Upsert", trace.WithAttributes(
		attribute.Int64("list.user_id", userID),
		attribute.String("list.item_id", itemID),
	))
	defer span.End()
	ctx, cancel := withTimeout(ctx, r.queryTimeout)
	defer cancel()

	at = at.UTC()
	query := `INSERT INTO list_entries (user_id, item_id, title, image_ref, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, item_id) DO UPDATE SET
			title = excluded.title,
			image_ref = excluded.image_ref,
			status = excluded.status,
			updated_at = excluded.updated_at
		RETURNING id`

	var id int64
	err := r.db.GetContext(ctx, &id, query, userID, itemID, fields.Title, fields.ImageRef, fields.Status, at, at)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upsert list entry")
		switch {
		case isForeignKeyViolation(err):
			return nil, apperror.NotFound("user not found")
		case isUniqueViolation(err):
			return nil, apperror.Conflict("list entry was written concurrently", err)
		}
		return nil, fmt.Errorf("failed to upsert list entry: %w", err)
	}

	var entry models.ListEntry
	if err := r.db.GetContext(ctx, &entry, `SELECT `+listColumns+` FROM list_entries WHERE id = ?`, id); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read upserted list entry: %w", err)
	}
	return &entry, nil
}

// Get returns the entry for (userID, itemID), or nil when there is none.
func (r *sqliteListRepository) Get(ctx context.Context, userID int64, itemID string) (*models.ListEntry, error) {
	ctx, span := tracer.Start(ctx, "ListRepository.Get")
	defer span.End()
	ctx, cancel := withTimeout(ctx, r.queryTimeout)
	defer cancel()

	var entry models.ListEntry
	err := r.db.GetContext(ctx, &entry,
		`SELECT `+listColumns+` FROM list_entries WHERE user_id = ? AND item_id = ?`, userID, itemID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get list entry")
		return nil, fmt.Errorf("failed to get list entry: %w", err)
	}
	return &entry, nil
}

// ListByUser returns every entry of userID, most recently updated first.
func (r *sqliteListRepository) ListByUser(ctx context.Context, userID int64) ([]models.ListEntry, error) {
	ctx, span := tracer.Start(ctx, "ListRepository.ListByUser", trace.WithAttributes(
		attribute.Int64("list.user_id", userID),
	))
	defer span.End()
	ctx, cancel := withTimeout(ctx, r.queryTimeout)
	defer cancel()

	entries := []models.ListEntry{}
	err := r.db.SelectContext(ctx, &entries,
		`SELECT `+listColumns+` FROM list_entries WHERE user_id = ? ORDER BY updated_at DESC, id DESC`, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list entries")
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	span.SetAttributes(attribute.Int("list.count", len(entries)))
	return entries, nil
}
