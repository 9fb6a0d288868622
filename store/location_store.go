// Package store defines the persistence interfaces consumed by the service
// layer. Implementations live under internal/store.
package store

import (
	"context"

	"github.com/NomadCrew/presence-service/types"
)

// LocationStore is the durable side of presence: one row per (user, trip),
// overwritten on every accepted push.
type LocationStore interface {
	// SaveLocation upserts a user's location for a trip and returns the stored
	// row, whose UpdatedAt is set by the database at write time.
	SaveLocation(ctx context.Context, userID string, update types.LocationUpdate) (*types.UserLocation, error)

	// DeleteLocation removes a user's row for a trip. No-op if absent.
	DeleteLocation(ctx context.Context, userID string, tripID string) error

	// GetTripMemberLocations retrieves the latest location for each member of
	// the given trip, with display metadata joined in.
	GetTripMemberLocations(ctx context.Context, tripID string) ([]types.UserLocation, error)

	// IsTripMember reports whether the user belongs to the trip. Used for
	// permission checks before exposing member locations.
	IsTripMember(ctx context.Context, tripID string, userID string) (bool, error)
}
