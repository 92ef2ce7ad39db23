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

//go:generate mockgen -source=user_repository.go -destination=mocks/user_repository_mock.go -package=mocks

// UserRepository defines the interface for user data operations. Lookups
// return (nil, nil) when no user matches.
type UserRepository interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByToken(ctx context.Context, token string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	UpdateProfile(ctx context.Context, user *models.User) error
	UpdateToken(ctx context.Context, id int64, token string, at time.Time) error
}

type sqliteUserRepository struct {
	db           *sqlx.DB
	queryTimeout time.Duration
}

// NewUserRepository creates a new SQLite-based UserRepository.
func NewUserRepository(db *sqlx.DB, queryTimeout time.Duration) UserRepository {
	return &sqliteUserRepository{db: db, queryTimeout: queryTimeout}
}

const userColumns = `id, email, username, password_hash, password_salt, token, avatar_url, avatar_public_id, created_at, updated_at`

// CreateUser inserts a new user and fills in its id. An existing email or
// token is reported as a Conflict.
func (r *sqliteUserRepository) CreateUser(ctx context.Context, user *models.User) error {
	ctx, span := tracer.Start(ctx, "UserRepository.CreateUser")
	defer span.End()
	ctx, cancel := withTimeout(ctx, r.queryTimeout)
	defer cancel()

	query := `INSERT INTO users (email, username, password_hash, password_salt, token, avatar_url, avatar_public_id, created_at, updated_at)
		VALUES (:email, :username, :password_hash, :password_salt, :token, :avatar_url, :avatar_public_id, :created_at, :updated_at)`
	res, err := r.db.NamedExecContext(ctx, query, user)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create user")
		if isUniqueViolation(err) {
			return apperror.Conflict("email already registered", err)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read new user id: %w", err)
	}
	user.ID = id
	span.SetAttributes(attribute.Int64("user.id", id))
	return nil
}

func (r *sqliteUserRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	ctx, span := tracer.Start(ctx, "UserRepository.GetUserByEmail")
	defer span.End()
	return r.getOne(ctx, span, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
}

// GetUserByToken resolves a bearer token by exact match.
func (r *sqliteUserRepository) GetUserByToken(ctx context.Context, token string) (*models.User, error) {
	ctx, span := tracer.Start(ctx, "UserRepository.GetUserByToken")
	defer span.End()
	return r.getOne(ctx, span, `SELECT `+userColumns+` FROM users WHERE token = ?`, token)
}

func (r *sqliteUserRepository) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	ctx, span := tracer.Start(ctx, "UserRepository.GetUserByID", trace.WithAttributes(
		attribute.Int64("user.id", id),
	))
	defer span.End()
	return r.getOne(ctx, span, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (r *sqliteUserRepository) getOne(ctx context.Context, span trace.Span, query string, arg any) (*models.User, error) {
	ctx, cancel := withTimeout(ctx, r.queryTimeout)
	defer cancel()

	var user models.User
	err := r.db.GetContext(ctx, &user, query, arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get user")
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// UpdateProfile writes the username and avatar of user.
func (r *sqliteUserRepository) UpdateProfile(ctx context.Context, user *models.User) error {
	ctx, span := tracer.Start(ctx, "UserRepository.UpdateProfile", trace.WithAttributes(
		attribute.Int64("user.id", user.ID),
	))
	defer span.End()
	ctx, cancel := withTimeout(ctx, r.queryTimeout)
	defer cancel()

	query := `UPDATE users SET username = :username, avatar_url = :avatar_url, avatar_public_id = :avatar_public_id, updated_at = :updated_at
		WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, user)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to update user")
		return fmt.Errorf("failed to update user: %w", err)
	}
	return requireRow(res, "user not found")
}

func (r *sqliteUserRepository) UpdateToken(ctx context.Context, id int64, token string, at time.Time) error {
	ctx, span := tracer.Start(ctx, "UserRepository.UpdateToken", trace.WithAttributes(
		attribute.Int64("user.id", id),
	))
	defer span.End()
	ctx, cancel := withTimeout(ctx, r.queryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `UPDATE users SET token = ?, updated_at = ? WHERE id = ?`, token, at.UTC(), id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to update token")
		if isUniqueViolation(err) {
			return apperror.Conflict("token collision", err)
		}
		return fmt.Errorf("failed to update token: %w", err)
	}
	return requireRow(res, "user not found")
}

func requireRow(res sql.Result, msg string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return apperror.NotFound(msg)
	}
	return nil
}
