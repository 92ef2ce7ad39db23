package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ctchen222/otaku-list/internal/api/models"
	"ctchen222/otaku-list/internal/api/repository"
	"ctchen222/otaku-list/internal/apperror"
	"ctchen222/otaku-list/internal/credential"
	"ctchen222/otaku-list/internal/logger"
	"ctchen222/otaku-list/internal/media"
	"ctchen222/otaku-list/internal/validator"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("api.service")

//go:generate mockgen -source=user_service.go -destination=mocks/user_service_mock.go -package=mocks

// AuthService defines the interface for account and authentication logic.
type AuthService interface {
	Signup(ctx context.Context, req *models.SignupRequest, avatar *models.Upload) (*models.AuthResponse, error)
	Login(ctx context.Context, req *models.LoginRequest) (*models.AuthResponse, error)
	Authorize(ctx context.Context, token string) (*models.User, error)
	Me(ctx context.Context, userID int64) (*models.User, error)
	UpdateProfile(ctx context.Context, user *models.User, req *models.UpdateProfileRequest, avatar *models.Upload) (*models.User, error)
	ReissueToken(ctx context.Context, user *models.User, req *models.ReissueTokenRequest) (*models.AuthResponse, error)
}

type authService struct {
	userRepo repository.UserRepository
	media    media.Store
	now      func() time.Time
}

// NewAuthService creates a new AuthService.
func NewAuthService(userRepo repository.UserRepository, mediaStore media.Store) AuthService {
	if mediaStore == nil {
		mediaStore = media.Disabled{}
	}
	return &authService{userRepo: userRepo, media: mediaStore, now: time.Now}
}

// Signup registers a new account and issues its permanent token.
func (s *authService) Signup(ctx context.Context, req *models.SignupRequest, avatar *models.Upload) (*models.AuthResponse, error) {
	ctx, span := tracer.Start(ctx, "AuthService.Signup")
	defer span.End()

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Username = strings.TrimSpace(req.Username)
	if err := validator.Struct(req); err != nil {
		return nil, err
	}

	existing, err := s.userRepo.GetUserByEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperror.Conflict("email already registered", nil)
	}

	salt, err := credential.NewSalt()
	if err != nil {
		return nil, apperror.Internal("failed to generate salt", err)
	}
	token, err := credential.NewToken()
	if err != nil {
		return nil, apperror.Internal("failed to generate token", err)
	}

	now := s.now().UTC()
	user := &models.User{
		Email:        req.Email,
		Username:     req.Username,
		PasswordHash: credential.Hash(req.Password, salt),
		PasswordSalt: salt,
		Token:        token,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if avatar != nil {
		uploaded, err := s.media.Upload(ctx, avatar.Filename, avatar.ContentType, avatar.Size, avatar.Body)
		if err != nil {
			return nil, err
		}
		user.AvatarURL = uploaded.URL
		user.AvatarPublicID = uploaded.PublicID
	}

	if err := s.userRepo.CreateUser(ctx, user); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create user")
		return nil, err
	}
	span.SetAttributes(attribute.Int64("user.id", user.ID))
	logger.FromContext(ctx).InfoContext(ctx, "User signed up", "user.id", user.ID)

	return authResponse(user), nil
}

// Login checks the password and returns the account's existing token.
func (s *authService) Login(ctx context.Context, req *models.LoginRequest) (*models.AuthResponse, error) {
	ctx, span := tracer.Start(ctx, "AuthService.Login")
	defer span.End()

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := validator.Struct(req); err != nil {
		return nil, err
	}

	user, err := s.userRepo.GetUserByEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if user == nil || !credential.Verify(req.Password, user.PasswordSalt, user.PasswordHash) {
		return nil, apperror.Unauthorized(apperror.ReasonInvalid, "invalid email or password")
	}
	return authResponse(user), nil
}

// Authorize resolves a bearer token to its user. An empty token is missing, an
// unknown one is invalid, and a failing store is never reported as either.
func (s *authService) Authorize(ctx context.Context, token string) (*models.User, error) {
	ctx, span := tracer.Start(ctx, "AuthService.Authorize")
	defer span.End()

	if token == "" {
		return nil, apperror.Unauthorized(apperror.ReasonMissing, "missing bearer token")
	}

	user, err := s.userRepo.GetUserByToken(ctx, token)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token lookup failed")
		return nil, apperror.Internal("failed to look up token", err)
	}
	if user == nil {
		return nil, apperror.Unauthorized(apperror.ReasonInvalid, "invalid bearer token")
	}
	span.SetAttributes(attribute.Int64("user.id", user.ID))
	return user, nil
}

func (s *authService) Me(ctx context.Context, userID int64) (*models.User, error) {
	ctx, span := tracer.Start(ctx, "AuthService.Me")
	defer span.End()

	user, err := s.userRepo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperror.NotFound("user not found")
	}
	return user, nil
}

// UpdateProfile applies the optional username and avatar changes.
func (s *authService) UpdateProfile(ctx context.Context, user *models.User, req *models.UpdateProfileRequest, avatar *models.Upload) (*models.User, error) {
	ctx, span := tracer.Start(ctx, "AuthService.UpdateProfile")
	defer span.End()

	if req.Username != nil {
		trimmed := strings.TrimSpace(*req.Username)
		req.Username = &trimmed
	}
	if err := validator.Struct(req); err != nil {
		return nil, err
	}
	if req.Username == nil && avatar == nil {
		return nil, apperror.InvalidInput("nothing to update")
	}

	updated := *user
	if req.Username != nil {
		updated.Username = *req.Username
	}
	if avatar != nil {
		uploaded, err := s.media.Upload(ctx, avatar.Filename, avatar.ContentType, avatar.Size, avatar.Body)
		if err != nil {
			return nil, err
		}
		updated.AvatarURL = uploaded.URL
		updated.AvatarPublicID = uploaded.PublicID
	}
	updated.UpdatedAt = s.now().UTC()

	if err := s.userRepo.UpdateProfile(ctx, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// ReissueToken replaces the user's token after re-checking the password. The
// previous token stops working immediately.
func (s *authService) ReissueToken(ctx context.Context, user *models.User, req *models.ReissueTokenRequest) (*models.AuthResponse, error) {
	ctx, span := tracer.Start(ctx, "AuthService.ReissueToken")
	defer span.End()

	if err := validator.Struct(req); err != nil {
		return nil, err
	}
	if !credential.Verify(req.Password, user.PasswordSalt, user.PasswordHash) {
		return nil, apperror.Unauthorized(apperror.ReasonInvalid, "invalid password")
	}

	token, err := credential.NewToken()
	if err != nil {
		return nil, apperror.Internal("failed to generate token", err)
	}
	if err := s.userRepo.UpdateToken(ctx, user.ID, token, s.now()); err != nil {
		return nil, fmt.Errorf("failed to reissue token: %w", err)
	}
	logger.FromContext(ctx).InfoContext(ctx, "Token reissued", "user.id", user.ID)

	updated := *user
	updated.Token = token
	return authResponse(&updated), nil
}

func authResponse(u *models.User) *models.AuthResponse {
	return &models.AuthResponse{
		ID:        u.ID,
		Username:  u.Username,
		Token:     u.Token,
		AvatarURL: u.AvatarURL,
	}
}
