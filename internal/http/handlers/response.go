// Package handlers implements the queue, session and preferences endpoints.
//
// Every failure leaves through fail, which writes the shared envelope:
//
//	HTTP/1.1 409 Conflict
//	{
//	  "request_id": "0b6f3c1e-5d0a-4a53-9a43-2f0f6b7f4e21",
//	  "code": "already_in_session",
//	  "message": "user already participates in an open session"
//	}
//
// Service errors are translated in one place (failService) so the status a
// client sees for a given domain error never drifts between routes.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/spark-backend/internal/http/middleware"
	"github.com/tbourn/spark-backend/internal/services"
)

// ErrorResponse is the error envelope of every endpoint.
type ErrorResponse struct {
	// Echo of X-Request-ID.
	RequestID string `json:"request_id,omitempty" example:"0b6f3c1e-5d0a-4a53-9a43-2f0f6b7f4e21"`
	// Machine-readable code from errors.go.
	Code    string `json:"code" example:"not_queued"`
	Message string `json:"message" example:"user is not in the matchmaking queue"`
}

// fail aborts with the error envelope. 5xx responses are logged on the
// request-scoped logger; 4xx are left to the access log.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Msg(msg)
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// Fail lets the router answer 404/405 fallbacks with the same envelope.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// failService maps a service error onto the response envelope. notQueued is
// the status used for ErrNotQueued, which differs between the queue routes
// (404) and the session routes (403).
func failService(c *gin.Context, err error, notQueued int) {
	switch {
	case errors.Is(err, services.ErrAlreadyQueued):
		fail(c, http.StatusConflict, ErrCodeAlreadyQueued, err.Error())
	case errors.Is(err, services.ErrNotQueued):
		fail(c, notQueued, ErrCodeNotQueued, err.Error())
	case errors.Is(err, services.ErrAlreadyInSession):
		fail(c, http.StatusConflict, ErrCodeAlreadyInSession, err.Error())
	case errors.Is(err, services.ErrNotInSession):
		fail(c, http.StatusNotFound, ErrCodeNotInSession, err.Error())
	case errors.Is(err, services.ErrNoSessionAvailable):
		fail(c, http.StatusNotFound, ErrCodeNoSessionAvailable, err.Error())
	case errors.Is(err, services.ErrSessionNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrInvalidAgeRange),
		errors.Is(err, services.ErrInvalidDistance),
		errors.Is(err, services.ErrInvalidGender),
		errors.Is(err, services.ErrInvalidLocation):
		fail(c, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
	case errors.Is(err, services.ErrStorageUnavailable):
		c.Header("Retry-After", "1")
		fail(c, http.StatusServiceUnavailable, ErrCodeStorageUnavailable, "storage temporarily unavailable")
	default:
		middleware.LoggerFrom(c).Error().Err(err).Msg("unmapped service error")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal error")
	}
}
