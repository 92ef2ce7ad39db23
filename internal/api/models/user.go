package models

import (
	"io"
	"time"
)

// User represents a user in the database.
type User struct {
	ID             int64     `db:"id" json:"id"`
	Email          string    `db:"email" json:"email"`
	Username       string    `db:"username" json:"username"`
	PasswordHash   string    `db:"password_hash" json:"-"`
	PasswordSalt   string    `db:"password_salt" json:"-"`
	Token          string    `db:"token" json:"-"`
	AvatarURL      string    `db:"avatar_url" json:"avatarUrl,omitempty"`
	AvatarPublicID string    `db:"avatar_public_id" json:"avatarPublicId,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time `db:"updated_at" json:"updatedAt"`
}

// Upload is an avatar file received with a request. The caller owns Body.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// SignupRequest defines the structure for a user registration request.
type SignupRequest struct {
	Email    string `json:"email" form:"email" validate:"required,email,max=254"`
	Username string `json:"username" form:"username" validate:"required,min=2,max=50"`
	Password string `json:"password" form:"password" validate:"required,min=6,max=72"`
}

// LoginRequest defines the structure for a user login request.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// UpdateProfileRequest carries the optional profile changes.
type UpdateProfileRequest struct {
	Username *string `json:"username" form:"username" validate:"omitempty,min=2,max=50"`
}

// ReissueTokenRequest re-authenticates before a new token is minted.
type ReissueTokenRequest struct {
	Password string `json:"password" validate:"required"`
}

// AuthResponse is returned by signup, login and token reissue.
type AuthResponse struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Token     string `json:"token"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}
