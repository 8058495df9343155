// Package services defines the business logic for the matchmaking queue and
// the session lifecycle. This file centralizes service-level error values so
// that they can be consistently returned by service methods and checked by
// callers with errors.Is.
//
// The first five values are logical errors: each maps 1:1 to a rejected
// precondition and is never retried. ErrStorageUnavailable is the only
// transient kind; it is returned after local retries were exhausted.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import "errors"

// Queue and session errors.
var (
	// ErrAlreadyQueued is returned by Enqueue when the user already has a
	// live queue entry.
	ErrAlreadyQueued = errors.New("user is already queued")

	// ErrNotQueued is returned when an operation requires a live queue entry
	// and none exists (missing or expired).
	ErrNotQueued = errors.New("user is not queued")

	// ErrAlreadyInSession is returned when the user is already host or guest
	// of an open session.
	ErrAlreadyInSession = errors.New("user is already in an open session")

	// ErrNotInSession is returned by LeaveSession when the user is neither
	// host nor guest of any open session.
	ErrNotInSession = errors.New("user is not in an open session")

	// ErrNoSessionAvailable is returned by JoinSession when no open session
	// with a vacant guest slot could be claimed.
	ErrNoSessionAvailable = errors.New("no session available")

	// ErrSessionNotFound is returned by GetActiveSession when the user has no
	// open session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrStorageUnavailable wraps transient storage failures that persisted
	// after bounded retries.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Preference validation errors.
var (
	// ErrInvalidAgeRange is returned when age_min < 18, age_max > 120 or
	// age_min > age_max.
	ErrInvalidAgeRange = errors.New("age range must satisfy 18 <= age_min <= age_max <= 120")

	// ErrInvalidDistance is returned when max_distance is not positive.
	ErrInvalidDistance = errors.New("max_distance must be positive")

	// ErrInvalidGender is returned when target_gender is not one of the
	// accepted values.
	ErrInvalidGender = errors.New("target_gender must be one of any, men, women, nonbinary")

	// ErrInvalidLocation is returned when a location payload is not a JSON object.
	ErrInvalidLocation = errors.New("location must be a JSON object")
)
