// Package handlers provides HTTP handler implementations for the public API.
//
// This file declares the service contracts the handlers depend on and the
// Handlers value that groups them. Handlers are transport-thin: they read the
// caller identity and inputs, call one service method, and translate the
// result or error into a response.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/spark-backend/internal/domain"
	"github.com/tbourn/spark-backend/internal/http/middleware"
	"github.com/tbourn/spark-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// QueueService manages the caller's matchmaking queue entry.
//
// Implementations must be safe for concurrent use and honor ctx.
type QueueService interface {
	// EnqueueCurrent admits userID with a snapshot of their stored
	// preferences and location.
	EnqueueCurrent(ctx context.Context, userID string) (*domain.QueueEntry, error)
	// Dequeue removes and returns userID's live entry.
	Dequeue(ctx context.Context, userID string) (*domain.QueueEntry, error)
	// Peek returns userID's live entry without modifying it.
	Peek(ctx context.Context, userID string) (*domain.QueueEntry, error)
}

// SessionService applies session lifecycle transitions.
//
// Implementations must be safe for concurrent use and honor ctx.
type SessionService interface {
	CreateSession(ctx context.Context, hostID, modeID string) (*domain.Session, error)
	JoinSession(ctx context.Context, guestID string) (*domain.Session, error)
	LeaveSession(ctx context.Context, userID string) (*domain.Session, error)
	GetActiveSession(ctx context.Context, userID string) (*domain.Session, error)
	History(ctx context.Context, userID string, page, pageSize int) ([]domain.Session, int64, error)

	// Replay returns the session recorded for (userID, scope, key), if any.
	Replay(ctx context.Context, userID, scope, key string) (*domain.Session, bool)
	// Remember records the session produced for (userID, scope, key).
	Remember(ctx context.Context, userID, scope, key, sessionID string, status int)
}

// PreferencesService maintains the data that queue snapshots are taken from.
type PreferencesService interface {
	Get(ctx context.Context, userID string) (*domain.Preferences, error)
	Update(ctx context.Context, userID string, p domain.Preferences) (*domain.Preferences, error)
	SetLocation(ctx context.Context, userID string, raw json.RawMessage) (*domain.Location, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for the queue, sessions and preferences.
type Handlers struct {
	queueSvc QueueService
	sessSvc  SessionService
	prefSvc  PreferencesService
}

// New constructs and returns a Handlers instance bound to the given services.
func New(queueSvc QueueService, sessSvc SessionService, prefSvc PreferencesService) *Handlers {
	return &Handlers{queueSvc: queueSvc, sessSvc: sessSvc, prefSvc: prefSvc}
}

// userID returns the authenticated caller. Routes are mounted behind
// RequireAuth, so an empty value only happens when a handler is wired
// without it.
func userID(c *gin.Context) (string, bool) {
	uid := middleware.UserID(c)
	if uid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
		return "", false
	}
	return uid, true
}

//
// DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// newPagination derives the metadata for one page of total items.
func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := utils.TotalPages(total, pageSize)
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// clampPagination reads page and page_size from the query string and bounds
// them with utils.ClampPage.
func clampPagination(c *gin.Context) (page, pageSize int) {
	return utils.ClampPage(
		utils.AtoiDefault(c.Query("page"), utils.DefaultPage),
		utils.AtoiDefault(c.Query("page_size"), utils.DefaultPageSize),
	)
}
