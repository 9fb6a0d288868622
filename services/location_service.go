// Package services holds the business logic between the HTTP handlers and
// the stores.
package services

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/NomadCrew/presence-service/errors"
	"github.com/NomadCrew/presence-service/internal/events"
	"github.com/NomadCrew/presence-service/logger"
	"github.com/NomadCrew/presence-service/store"
	"github.com/NomadCrew/presence-service/types"
)

// LocationService handles location-related operations: accepting pushes from
// sharing devices, removing rows when sharing stops, and reading back the
// member roster for subscribers.
type LocationService struct {
	locationStore store.LocationStore
	eventService  types.EventPublisher
}

// NewLocationService creates a new LocationService.
func NewLocationService(locationStore store.LocationStore, eventService types.EventPublisher) *LocationService {
	return &LocationService{
		locationStore: locationStore,
		eventService:  eventService,
	}
}

// SaveLocation validates and upserts a user's location for a trip, then
// publishes the stored row on the trip's change feed. A failed publish does
// not fail the request: the row is durable and subscribers reconcile on
// resubscribe.
func (s *LocationService) SaveLocation(ctx context.Context, userID string, update types.LocationUpdate) (*types.UserLocation, error) {
	log := logger.GetLogger()

	if err := s.validateLocationUpdate(update); err != nil {
		return nil, err
	}

	member, err := s.locationStore.IsTripMember(ctx, update.TripID, userID)
	if err != nil {
		log.Errorw("Failed to check trip membership", "userID", userID, "tripID", update.TripID, "error", err)
		return nil, apperrors.NewDatabaseError(err)
	}
	if !member {
		return nil, apperrors.Forbidden("not_trip_member", "user is not a member of this trip")
	}

	location, err := s.locationStore.SaveLocation(ctx, userID, update)
	if err != nil {
		log.Errorw("Failed to save location", "userID", userID, "tripID", update.TripID, "error", err)
		return nil, apperrors.NewDatabaseError(err)
	}

	if err := events.PublishLocationUpserted(ctx, s.eventService, location, "location_service"); err != nil {
		log.Warnw("Failed to publish location update event", "userID", userID, "tripID", update.TripID, "error", err)
	}

	return location, nil
}

// StopSharing removes the user's row for the trip and announces the removal
// on the change feed. Idempotent: stopping when no row exists succeeds.
func (s *LocationService) StopSharing(ctx context.Context, userID string, tripID string) error {
	log := logger.GetLogger()

	if tripID == "" {
		return apperrors.ValidationFailed("invalid_trip", "trip id is required")
	}

	if err := s.locationStore.DeleteLocation(ctx, userID, tripID); err != nil {
		log.Errorw("Failed to delete location", "userID", userID, "tripID", tripID, "error", err)
		return apperrors.NewDatabaseError(err)
	}

	if err := events.PublishLocationRemoved(ctx, s.eventService, tripID, userID, "location_service"); err != nil {
		log.Warnw("Failed to publish location removal event", "userID", userID, "tripID", tripID, "error", err)
	}

	return nil
}

// GetTripMemberLocations returns the latest location per member of the trip.
// The requesting user must be a member.
func (s *LocationService) GetTripMemberLocations(ctx context.Context, tripID string, requestingUserID string) ([]types.UserLocation, error) {
	log := logger.GetLogger()

	member, err := s.locationStore.IsTripMember(ctx, tripID, requestingUserID)
	if err != nil {
		log.Errorw("Failed to check trip membership", "userID", requestingUserID, "tripID", tripID, "error", err)
		return nil, apperrors.NewDatabaseError(err)
	}
	if !member {
		return nil, apperrors.Forbidden("not_trip_member", "user is not a member of this trip")
	}

	locations, err := s.locationStore.GetTripMemberLocations(ctx, tripID)
	if err != nil {
		log.Errorw("Failed to get trip member locations", "tripID", tripID, "error", err)
		return nil, apperrors.NewDatabaseError(err)
	}
	return locations, nil
}

// validateLocationUpdate checks coordinate ranges and the timestamp window.
func (s *LocationService) validateLocationUpdate(update types.LocationUpdate) error {
	if update.TripID == "" {
		return apperrors.ValidationFailed("invalid_trip", "trip id is required")
	}
	if update.Latitude < -90 || update.Latitude > 90 {
		return apperrors.ValidationFailed("invalid_latitude", fmt.Sprintf("invalid latitude: %f", update.Latitude))
	}
	if update.Longitude < -180 || update.Longitude > 180 {
		return apperrors.ValidationFailed("invalid_longitude", fmt.Sprintf("invalid longitude: %f", update.Longitude))
	}
	if update.Accuracy != nil && *update.Accuracy < 0 {
		return apperrors.ValidationFailed("invalid_accuracy", fmt.Sprintf("invalid accuracy: %f", *update.Accuracy))
	}
	if update.Heading != nil && (*update.Heading < 0 || *update.Heading >= 360) {
		return apperrors.ValidationFailed("invalid_heading", fmt.Sprintf("invalid heading: %f", *update.Heading))
	}

	// Devices buffer fixes briefly when offline, so the window is generous in
	// the past but tight in the future.
	timestamp := time.UnixMilli(update.Timestamp)
	now := time.Now()
	if timestamp.Before(now.Add(-2 * time.Hour)) {
		return apperrors.ValidationFailed("stale_timestamp", fmt.Sprintf("timestamp too old: %v", timestamp))
	}
	if timestamp.After(now.Add(5 * time.Minute)) {
		return apperrors.ValidationFailed("future_timestamp", fmt.Sprintf("timestamp in the future: %v", timestamp))
	}

	return nil
}
