// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants that are mapped to HTTP responses
// (via the `fail()` helper in this package). These codes provide clients with a stable,
// machine-readable error taxonomy that supplements human-readable messages.
//
// Conventions:
//   - Codes are lowercase, snake_case.
//   - Generic codes (e.g., bad_request, unauthorized) mirror common HTTP status
//     semantics.
//   - Matchmaking codes name the rejected precondition, so clients can tell a
//     403 not_queued from a 403 forbidden without parsing messages.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "already_in_session",
//	  "message": "user is already in an open session"
//	}
package handlers

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeValidation   = "validation_failed"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Matchmaking:
	ErrCodeAlreadyQueued      = "already_queued"
	ErrCodeNotQueued          = "not_queued"
	ErrCodeAlreadyInSession   = "already_in_session"
	ErrCodeNotInSession       = "not_in_session"
	ErrCodeNoSessionAvailable = "no_session_available"
	ErrCodeStorageUnavailable = "storage_unavailable"
)
