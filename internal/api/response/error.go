package response

import (
	"errors"
	"net/http"

	"ctchen222/otaku-list/internal/apperror"
	"ctchen222/otaku-list/internal/logger"

	"github.com/gin-gonic/gin"
)

// RetryAfterSeconds is sent with every 429 response.
const RetryAfterSeconds = "60"

var statusByKind = map[apperror.Kind]int{
	apperror.KindUnauthorized:        http.StatusUnauthorized,
	apperror.KindForbidden:           http.StatusForbidden,
	apperror.KindNotFound:            http.StatusNotFound,
	apperror.KindConflict:            http.StatusConflict,
	apperror.KindUpstreamUnavailable: http.StatusServiceUnavailable,
	apperror.KindRateLimited:         http.StatusTooManyRequests,
	apperror.KindInvalidInput:        http.StatusBadRequest,
	apperror.KindInternal:            http.StatusInternalServerError,
}

// StatusOf returns the HTTP status for err.
func StatusOf(err error) int {
	if code, ok := statusByKind[apperror.KindOf(err)]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// Error writes err in the response envelope and aborts the handler chain.
// Internal failures are logged and their detail is not sent to the client.
func Error(c *gin.Context, err error) {
	code := StatusOf(err)
	message := err.Error()

	var appErr *apperror.Error
	if errors.As(err, &appErr) && appErr.Message != "" {
		message = appErr.Message
	}

	ctx := c.Request.Context()
	if code >= http.StatusInternalServerError {
		logger.FromContext(ctx).ErrorContext(ctx, "request failed", "status", code, "error", err)
		if code == http.StatusInternalServerError {
			message = http.StatusText(code)
		}
	}

	extras := map[string]any{"message": message}
	if appErr != nil && appErr.Reason != "" {
		extras["reason"] = appErr.Reason
	}
	if code == http.StatusTooManyRequests {
		c.Header("Retry-After", RetryAfterSeconds)
	}

	c.AbortWithStatusJSON(code, NewResponse(false, code, extras))
}
