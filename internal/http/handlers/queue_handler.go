// Queue HTTP handlers.
//
// This file exposes the caller's matchmaking queue entry:
//   - POST   /queue   (enqueue with a snapshot of stored preferences/location)
//   - GET    /queue   (peek)
//   - DELETE /queue   (dequeue)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Enqueue godoc
// @ID          enqueue
// @Summary     Join the matchmaking queue
// @Description Admits the caller with a frozen snapshot of their current preferences and location.
// @Tags        Queue
// @Produce     json
// @Security    BearerAuth
//
// @Success     200  {object}  domain.QueueEntry
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     409  {object}  handlers.ErrorResponse  "Already queued"
// @Failure     503  {object}  handlers.ErrorResponse  "Storage unavailable"
// @Router      /queue [post]
func (h *Handlers) Enqueue(c *gin.Context) {
	uid, okUID := userID(c)
	if !okUID {
		return
	}
	e, err := h.queueSvc.EnqueueCurrent(c.Request.Context(), uid)
	if err != nil {
		failService(c, err, http.StatusNotFound)
		return
	}
	ok(c, http.StatusOK, e)
}

// PeekQueue godoc
// @ID          peekQueue
// @Summary     Show the caller's queue entry
// @Tags        Queue
// @Produce     json
// @Security    BearerAuth
//
// @Success     200  {object}  domain.QueueEntry
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     404  {object}  handlers.ErrorResponse  "Not queued"
// @Failure     503  {object}  handlers.ErrorResponse  "Storage unavailable"
// @Router      /queue [get]
func (h *Handlers) PeekQueue(c *gin.Context) {
	uid, okUID := userID(c)
	if !okUID {
		return
	}
	e, err := h.queueSvc.Peek(c.Request.Context(), uid)
	if err != nil {
		failService(c, err, http.StatusNotFound)
		return
	}
	ok(c, http.StatusOK, e)
}

// Dequeue godoc
// @ID          dequeue
// @Summary     Leave the matchmaking queue
// @Description Removes and returns the caller's live queue entry.
// @Tags        Queue
// @Produce     json
// @Security    BearerAuth
//
// @Success     200  {object}  domain.QueueEntry
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     404  {object}  handlers.ErrorResponse  "Not queued"
// @Failure     503  {object}  handlers.ErrorResponse  "Storage unavailable"
// @Router      /queue [delete]
func (h *Handlers) Dequeue(c *gin.Context) {
	uid, okUID := userID(c)
	if !okUID {
		return
	}
	e, err := h.queueSvc.Dequeue(c.Request.Context(), uid)
	if err != nil {
		failService(c, err, http.StatusNotFound)
		return
	}
	ok(c, http.StatusOK, e)
}
