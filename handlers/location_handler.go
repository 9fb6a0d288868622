// Package handlers contains the gin HTTP handlers.
package handlers

import (
	"net/http"
	"time"

	apperrors "github.com/NomadCrew/presence-service/errors"
	"github.com/NomadCrew/presence-service/internal/presence"
	"github.com/NomadCrew/presence-service/logger"
	"github.com/NomadCrew/presence-service/middleware"
	"github.com/NomadCrew/presence-service/services"
	"github.com/NomadCrew/presence-service/types"
	"github.com/gin-gonic/gin"
)

// LocationHandler handles location-related API requests.
type LocationHandler struct {
	locationService *services.LocationService
	staleAfter      time.Duration
}

// NewLocationHandler creates a new LocationHandler. staleAfter controls the
// isActive annotation on read responses.
func NewLocationHandler(locationService *services.LocationService, staleAfter time.Duration) *LocationHandler {
	if staleAfter <= 0 {
		staleAfter = presence.DefaultStaleAfter
	}
	return &LocationHandler{
		locationService: locationService,
		staleAfter:      staleAfter,
	}
}

// MemberLocationResponse is a stored location annotated with the staleness
// verdict at response time.
type MemberLocationResponse struct {
	types.UserLocation
	IsActive bool `json:"isActive"`
}

// stopSharingRequest is the body of a DELETE /location request.
type stopSharingRequest struct {
	TripID string `json:"tripId" binding:"required"`
}

// UpdateLocationHandler godoc
// @Summary Update user location
// @Description Upserts the authenticated user's location for a trip
// @Tags location
// @Accept json
// @Produce json
// @Param request body types.LocationUpdate true "Location update data"
// @Success 200 {object} types.UserLocation "Stored location"
// @Failure 400 {object} middleware.ErrorResponse "Invalid location data"
// @Failure 401 {object} middleware.ErrorResponse "Unauthorized"
// @Failure 403 {object} middleware.ErrorResponse "Not a trip member"
// @Router /location [put]
// @Security BearerAuth
func (h *LocationHandler) UpdateLocationHandler(c *gin.Context) {
	log := logger.GetLogger()

	userID := c.GetString(middleware.UserIDKey)
	if userID == "" {
		log.Warn("UpdateLocationHandler: User ID not found in context")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User ID missing from context"})
		return
	}

	var update types.LocationUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		log.Warnw("UpdateLocationHandler: Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format: " + err.Error()})
		return
	}

	location, err := h.locationService.SaveLocation(c.Request.Context(), userID, update)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, location)
}

// StopSharingHandler godoc
// @Summary Stop sharing location
// @Description Removes the authenticated user's location for a trip
// @Tags location
// @Accept json
// @Produce json
// @Param request body stopSharingRequest true "Trip to stop sharing in"
// @Success 204 "Location removed"
// @Failure 400 {object} middleware.ErrorResponse "Invalid request"
// @Failure 401 {object} middleware.ErrorResponse "Unauthorized"
// @Router /location [delete]
// @Security BearerAuth
func (h *LocationHandler) StopSharingHandler(c *gin.Context) {
	log := logger.GetLogger()

	userID := c.GetString(middleware.UserIDKey)
	if userID == "" {
		log.Warn("StopSharingHandler: User ID not found in context")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User ID missing from context"})
		return
	}

	var req stopSharingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnw("StopSharingHandler: Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format: " + err.Error()})
		return
	}

	if err := h.locationService.StopSharing(c.Request.Context(), userID, req.TripID); err != nil {
		_ = c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

// GetTripMemberLocationsHandler godoc
// @Summary Get trip member locations
// @Description Retrieves the latest location of every member of a trip
// @Tags location
// @Produce json
// @Param id path string true "Trip ID"
// @Success 200 {object} map[string]interface{} "List of member locations"
// @Failure 400 {object} middleware.ErrorResponse "Missing trip ID"
// @Failure 401 {object} middleware.ErrorResponse "Unauthorized"
// @Failure 403 {object} middleware.ErrorResponse "Not a trip member"
// @Router /trips/{id}/locations [get]
// @Security BearerAuth
func (h *LocationHandler) GetTripMemberLocationsHandler(c *gin.Context) {
	log := logger.GetLogger()

	userID := c.GetString(middleware.UserIDKey)
	if userID == "" {
		log.Warn("GetTripMemberLocationsHandler: User ID not found in context")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User ID missing from context"})
		return
	}

	tripID := c.Param("id")
	if tripID == "" {
		_ = c.Error(apperrors.ValidationFailed("invalid_trip", "trip id is required"))
		return
	}

	locations, err := h.locationService.GetTripMemberLocations(c.Request.Context(), tripID, userID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	now := time.Now()
	response := make([]MemberLocationResponse, 0, len(locations))
	for _, loc := range locations {
		response = append(response, MemberLocationResponse{
			UserLocation: loc,
			IsActive:     presence.IsActiveWithin(loc, now, h.staleAfter),
		})
	}

	c.JSON(http.StatusOK, gin.H{"locations": response})
}
