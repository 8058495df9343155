// Preferences HTTP handlers.
//
//   - GET /me/preferences
//   - PUT /me/preferences
//   - PUT /me/location
//
// Changes apply to future queue entries only; a pending entry keeps the
// snapshot taken when it was created.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"

	"github.com/tbourn/spark-backend/internal/domain"
)

// UpdatePreferencesRequest is the JSON payload for replacing preferences.
type UpdatePreferencesRequest struct {
	TargetGender string         `json:"target_gender" example:"any"`
	AgeMin       int            `json:"age_min"       binding:"required" example:"18"`
	AgeMax       int            `json:"age_max"       binding:"required" example:"70"`
	MaxDistance  int            `json:"max_distance"  binding:"required" example:"50"`
	ExtraOptions datatypes.JSON `json:"extra_options,omitempty" swaggertype:"object"`
}

// GetPreferences godoc
// @ID          getPreferences
// @Summary     Show the caller's matchmaking preferences
// @Description Returns stored preferences, or the defaults when none were saved.
// @Tags        Preferences
// @Produce     json
// @Security    BearerAuth
//
// @Success     200  {object}  domain.Preferences
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     503  {object}  handlers.ErrorResponse  "Storage unavailable"
// @Router      /me/preferences [get]
func (h *Handlers) GetPreferences(c *gin.Context) {
	uid, okUID := userID(c)
	if !okUID {
		return
	}
	p, err := h.prefSvc.Get(c.Request.Context(), uid)
	if err != nil {
		failService(c, err, http.StatusNotFound)
		return
	}
	ok(c, http.StatusOK, p)
}

// UpdatePreferences godoc
// @ID          updatePreferences
// @Summary     Replace the caller's matchmaking preferences
// @Tags        Preferences
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  handlers.UpdatePreferencesRequest  true  "Preferences"
//
// @Success     200  {object}  domain.Preferences
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     422  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     503  {object}  handlers.ErrorResponse  "Storage unavailable"
// @Router      /me/preferences [put]
func (h *Handlers) UpdatePreferences(c *gin.Context) {
	uid, okUID := userID(c)
	if !okUID {
		return
	}
	var req UpdatePreferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "age_min, age_max and max_distance required")
		return
	}

	p, err := h.prefSvc.Update(c.Request.Context(), uid, domain.Preferences{
		TargetGender: req.TargetGender,
		AgeMin:       req.AgeMin,
		AgeMax:       req.AgeMax,
		MaxDistance:  req.MaxDistance,
		ExtraOptions: req.ExtraOptions,
	})
	if err != nil {
		failService(c, err, http.StatusNotFound)
		return
	}
	ok(c, http.StatusOK, p)
}

// SetLocation godoc
// @ID          setLocation
// @Summary     Store the caller's last known location
// @Description The body is an arbitrary JSON object, stored as-is and copied into future queue entries.
// @Tags        Preferences
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  object  true  "Location object"
//
// @Success     200  {object}  domain.Location
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     422  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     503  {object}  handlers.ErrorResponse  "Storage unavailable"
// @Router      /me/location [put]
func (h *Handlers) SetLocation(c *gin.Context) {
	uid, okUID := userID(c)
	if !okUID {
		return
	}
	var raw json.RawMessage
	if err := c.ShouldBindJSON(&raw); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	l, err := h.prefSvc.SetLocation(c.Request.Context(), uid, raw)
	if err != nil {
		failService(c, err, http.StatusNotFound)
		return
	}
	ok(c, http.StatusOK, l)
}
