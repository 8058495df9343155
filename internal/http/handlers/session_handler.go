// Session HTTP handlers.
//
// This file exposes the session lifecycle:
//   - POST   /session           (create; host must be queued)
//   - POST   /session/join      (claim the guest slot of an open session)
//   - GET    /session           (the caller's open session)
//   - DELETE /session           (leave; closes, abandons or vacates)
//   - GET    /session/history   (every session the caller took part in)
//
// Idempotency:
// Both POSTs honour an Idempotency-Key header. The first successful call
// records the session it produced; a retry with the same key is answered
// with that session and `Idempotency-Replayed: true` instead of failing
// because the queue entry was already consumed.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/spark-backend/internal/domain"
	"github.com/tbourn/spark-backend/internal/http/middleware"
	"github.com/tbourn/spark-backend/internal/services"
)

//
// DTOs
//

// CreateSessionRequest is the JSON payload for creating a session.
type CreateSessionRequest struct {
	// ModeID is the opaque category chosen by the host.
	ModeID string `json:"mode_id" binding:"required,min=1,max=64" example:"video"`
}

// ListSessionsResponse wraps a page of sessions and pagination information.
type ListSessionsResponse struct {
	Sessions   []domain.Session `json:"sessions"`
	Pagination Pagination       `json:"pagination"`
}

// replay answers the request with a previously recorded session when the
// idempotency middleware flagged it. It reports whether it responded.
func (h *Handlers) replay(c *gin.Context, uid, scope string) bool {
	key, hasKey := middleware.GetIdempotencyKey(c)
	if !hasKey || !middleware.IsReplay(c) {
		return false
	}
	prev, found := h.sessSvc.Replay(c.Request.Context(), uid, scope, key)
	if !found {
		return false
	}
	c.Header("Idempotency-Replayed", "true")
	ok(c, http.StatusOK, prev)
	return true
}

// remember stores the produced session for later replays (best effort).
func (h *Handlers) remember(c *gin.Context, uid, scope string, s *domain.Session) {
	if key, hasKey := middleware.GetIdempotencyKey(c); hasKey {
		h.sessSvc.Remember(c.Request.Context(), uid, scope, key, s.ID, http.StatusOK)
	}
}

//
// Handlers
//

// CreateSession godoc
// @ID          createSession
// @Summary     Create a session
// @Description Opens a session hosted by the caller and consumes their queue entry.
// @Description Supports idempotency via the Idempotency-Key header (same key → same session).
// @Tags        Sessions
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.CreateSessionRequest  true  "Create session payload"
//
// @Success     200  {object}  domain.Session
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     403  {object}  handlers.ErrorResponse  "Not queued"
// @Failure     409  {object}  handlers.ErrorResponse  "Already in session"
// @Failure     503  {object}  handlers.ErrorResponse  "Storage unavailable"
// @Router      /session [post]
func (h *Handlers) CreateSession(c *gin.Context) {
	uid, okUID := userID(c)
	if !okUID {
		return
	}
	if h.replay(c, uid, services.ScopeCreateSession) {
		return
	}

	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.ModeID) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "mode_id required (1–64 chars)")
		return
	}

	s, err := h.sessSvc.CreateSession(c.Request.Context(), uid, strings.TrimSpace(req.ModeID))
	if err != nil {
		failService(c, err, http.StatusForbidden)
		return
	}
	h.remember(c, uid, services.ScopeCreateSession, s)
	ok(c, http.StatusOK, s)
}

// JoinSession godoc
// @ID          joinSession
// @Summary     Join a session
// @Description Claims the guest slot of an open session and consumes the caller's queue entry.
// @Description Supports idempotency via the Idempotency-Key header.
// @Tags        Sessions
// @Produce     json
// @Security    BearerAuth
//
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"
//
// @Success     200  {object}  domain.Session
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     403  {object}  handlers.ErrorResponse  "Not queued"
// @Failure     404  {object}  handlers.ErrorResponse  "No session available"
// @Failure     409  {object}  handlers.ErrorResponse  "Already in session"
// @Failure     503  {object}  handlers.ErrorResponse  "Storage unavailable"
// @Router      /session/join [post]
func (h *Handlers) JoinSession(c *gin.Context) {
	uid, okUID := userID(c)
	if !okUID {
		return
	}
	if h.replay(c, uid, services.ScopeJoinSession) {
		return
	}

	s, err := h.sessSvc.JoinSession(c.Request.Context(), uid)
	if err != nil {
		failService(c, err, http.StatusForbidden)
		return
	}
	h.remember(c, uid, services.ScopeJoinSession, s)
	ok(c, http.StatusOK, s)
}

// GetSession godoc
// @ID          getSession
// @Summary     Show the caller's open session
// @Tags        Sessions
// @Produce     json
// @Security    BearerAuth
//
// @Success     200  {object}  domain.Session
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     404  {object}  handlers.ErrorResponse  "No open session"
// @Failure     503  {object}  handlers.ErrorResponse  "Storage unavailable"
// @Router      /session [get]
func (h *Handlers) GetSession(c *gin.Context) {
	uid, okUID := userID(c)
	if !okUID {
		return
	}
	s, err := h.sessSvc.GetActiveSession(c.Request.Context(), uid)
	if err != nil {
		failService(c, err, http.StatusForbidden)
		return
	}
	ok(c, http.StatusOK, s)
}

// LeaveSession godoc
// @ID          leaveSession
// @Summary     Leave the caller's open session
// @Description A host without guest closes the session; a host with guest abandons it and
// @Description the guest is re-queued; a guest vacates the slot. Returns the session after the transition.
// @Tags        Sessions
// @Produce     json
// @Security    BearerAuth
//
// @Success     200  {object}  domain.Session
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     404  {object}  handlers.ErrorResponse  "Not in session"
// @Failure     503  {object}  handlers.ErrorResponse  "Storage unavailable"
// @Router      /session [delete]
func (h *Handlers) LeaveSession(c *gin.Context) {
	uid, okUID := userID(c)
	if !okUID {
		return
	}
	s, err := h.sessSvc.LeaveSession(c.Request.Context(), uid)
	if err != nil {
		failService(c, err, http.StatusForbidden)
		return
	}
	ok(c, http.StatusOK, s)
}

// SessionHistory godoc
// @ID          sessionHistory
// @Summary     List the caller's sessions (paginated)
// @Description Every session the caller hosted or currently guests, newest first, in any status.
// @Tags        Sessions
// @Produce     json
// @Security    BearerAuth
//
// @Param       page       query  int  false "Page number"     minimum(1) default(1)
// @Param       page_size  query  int  false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListSessionsResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     503  {object}  handlers.ErrorResponse  "Storage unavailable"
// @Router      /session/history [get]
func (h *Handlers) SessionHistory(c *gin.Context) {
	uid, okUID := userID(c)
	if !okUID {
		return
	}
	page, pageSize := clampPagination(c)

	items, total, err := h.sessSvc.History(c.Request.Context(), uid, page, pageSize)
	if err != nil {
		failService(c, err, http.StatusForbidden)
		return
	}
	ok(c, http.StatusOK, ListSessionsResponse{
		Sessions:   items,
		Pagination: newPagination(page, pageSize, total),
	})
}
