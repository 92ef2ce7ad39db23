package controller

import (
	"errors"
	"net/http"

	"ctchen222/otaku-list/internal/api/middleware"
	"ctchen222/otaku-list/internal/api/models"
	"ctchen222/otaku-list/internal/api/response"
	"ctchen222/otaku-list/internal/api/service"
	"ctchen222/otaku-list/internal/apperror"

	"github.com/gin-gonic/gin"
)

// UserController handles account-related HTTP requests.
type UserController struct {
	authService    service.AuthService
	maxUploadBytes int64
}

// NewUserController creates a new UserController. Avatar uploads larger than
// maxUploadBytes are rejected.
func NewUserController(authService service.AuthService, maxUploadBytes int64) *UserController {
	return &UserController{
		authService:    authService,
		maxUploadBytes: maxUploadBytes,
	}
}

// Signup accepts JSON, or multipart form data with an optional "avatar" file.
func (uc *UserController) Signup(c *gin.Context) {
	var req models.SignupRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, apperror.InvalidInput("malformed signup request"))
		return
	}

	avatar, closeAvatar, err := uc.avatar(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer closeAvatar()

	resp, err := uc.authService.Signup(c.Request.Context(), &req, avatar)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.CreatedResponse(c, resp)
}

// Login handles the user login endpoint.
func (uc *UserController) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.InvalidInput("malformed login request"))
		return
	}

	resp, err := uc.authService.Login(c.Request.Context(), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessResponse(c, resp)
}

// Me returns the authenticated user's profile.
func (uc *UserController) Me(c *gin.Context) {
	user, err := uc.authService.Me(c.Request.Context(), middleware.CurrentUser(c).ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessResponse(c, user)
}

// UpdateProfile changes the username and/or avatar.
func (uc *UserController) UpdateProfile(c *gin.Context) {
	var req models.UpdateProfileRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, apperror.InvalidInput("malformed profile update"))
		return
	}

	avatar, closeAvatar, err := uc.avatar(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer closeAvatar()

	user, err := uc.authService.UpdateProfile(c.Request.Context(), middleware.CurrentUser(c), &req, avatar)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessResponse(c, user)
}

// ReissueToken replaces the caller's bearer token.
func (uc *UserController) ReissueToken(c *gin.Context) {
	var req models.ReissueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.InvalidInput("malformed reissue request"))
		return
	}

	resp, err := uc.authService.ReissueToken(c.Request.Context(), middleware.CurrentUser(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessResponse(c, resp)
}

// avatar returns the uploaded "avatar" file of a multipart request, or nil
// when there is none. The returned func closes the file.
func (uc *UserController) avatar(c *gin.Context) (*models.Upload, func(), error) {
	noop := func() {}
	if c.ContentType() != gin.MIMEMultipartPOSTForm {
		return nil, noop, nil
	}

	fh, err := c.FormFile("avatar")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, noop, nil
	}
	if err != nil {
		return nil, noop, apperror.InvalidInput("malformed avatar upload")
	}
	if uc.maxUploadBytes > 0 && fh.Size > uc.maxUploadBytes {
		return nil, noop, apperror.InvalidInput("avatar is too large")
	}

	f, err := fh.Open()
	if err != nil {
		return nil, noop, apperror.Internal("failed to open avatar upload", err)
	}
	upload := &models.Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Body:        f,
	}
	return upload, func() { f.Close() }, nil
}
