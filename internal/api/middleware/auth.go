package middleware

import (
	"strconv"
	"strings"

	"ctchen222/otaku-list/internal/api/models"
	"ctchen222/otaku-list/internal/api/response"
	"ctchen222/otaku-list/internal/api/service"
	"ctchen222/otaku-list/internal/apperror"

	"github.com/gin-gonic/gin"
)

const userContextKey = "auth.user"

// BearerToken extracts the credential from an Authorization header value.
// A blank header yields "" and no error, which the gate reports as missing.
// "Bearer <token>" and a bare token are accepted; any other present value is
// an invalid credential.
func BearerToken(header string) (string, error) {
	h := strings.TrimSpace(header)
	if h == "" {
		return "", nil
	}

	scheme, rest, hasSpace := strings.Cut(h, " ")
	if !hasSpace {
		if strings.EqualFold(h, "Bearer") {
			return "", malformedCredential()
		}
		return h, nil
	}

	token := strings.TrimSpace(rest)
	if !strings.EqualFold(scheme, "Bearer") || token == "" || strings.ContainsAny(token, " \t") {
		return "", malformedCredential()
	}
	return token, nil
}

func malformedCredential() error {
	return apperror.Unauthorized(apperror.ReasonInvalid, "malformed authorization header")
}

// RequireAuth resolves the bearer token and stores the user on the context.
func RequireAuth(auth service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := BearerToken(c.GetHeader("Authorization"))
		if err != nil {
			response.Error(c, err)
			return
		}
		user, err := auth.Authorize(c.Request.Context(), token)
		if err != nil {
			response.Error(c, err)
			return
		}
		c.Set(userContextKey, user)
		c.Next()
	}
}

// CurrentUser returns the user stored by RequireAuth, or nil.
func CurrentUser(c *gin.Context) *models.User {
	v, ok := c.Get(userContextKey)
	if !ok {
		return nil
	}
	user, _ := v.(*models.User)
	return user
}

// RequireOwner rejects requests whose path parameter param does not name the
// authenticated user. It must run after RequireAuth.
func RequireOwner(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil {
			response.Error(c, apperror.Unauthorized(apperror.ReasonMissing, "missing bearer token"))
			return
		}

		ownerID, err := strconv.ParseInt(c.Param(param), 10, 64)
		if err != nil {
			response.Error(c, apperror.InvalidInput(param+" must be an integer"))
			return
		}
		if ownerID != user.ID {
			response.Error(c, apperror.Forbidden("cannot access another user's resources"))
			return
		}
		c.Next()
	}
}
