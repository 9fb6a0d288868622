// Package postgres contains the pgx-backed store implementations.
package postgres

import (
	"context"
	"time"

	"github.com/NomadCrew/presence-service/store"
	"github.com/NomadCrew/presence-service/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the stores use. pgxmock satisfies it in
// tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type LocationStore struct {
	db DB
}

func NewLocationStore(db DB) store.LocationStore {
	return &LocationStore{db: db}
}

// SaveLocation upserts the (user, trip) row. updated_at is set by the
// database, making it the authoritative staleness reference across devices
// with skewed clocks.
func (s *LocationStore) SaveLocation(ctx context.Context, userID string, update types.LocationUpdate) (*types.UserLocation, error) {
	query := `
		INSERT INTO locations (trip_id, user_id, latitude, longitude, accuracy, heading, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (trip_id, user_id) DO UPDATE SET
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			accuracy = EXCLUDED.accuracy,
			heading = EXCLUDED.heading,
			recorded_at = EXCLUDED.recorded_at,
			updated_at = NOW()
		RETURNING id, trip_id, user_id, latitude, longitude, accuracy, heading, updated_at
	`

	loc := &types.UserLocation{}
	var id, tripID, ownerID uuid.UUID
	err := s.db.QueryRow(ctx, query,
		update.TripID,
		userID,
		update.Latitude,
		update.Longitude,
		update.Accuracy,
		update.Heading,
		time.UnixMilli(update.Timestamp).UTC(),
	).Scan(
		&id,
		&tripID,
		&ownerID,
		&loc.Latitude,
		&loc.Longitude,
		&loc.Accuracy,
		&loc.Heading,
		&loc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	loc.ID = id.String()
	loc.TripID = tripID.String()
	loc.UserID = ownerID.String()

	return loc, nil
}

// DeleteLocation removes the (user, trip) row. Deleting a row that does not
// exist is not an error: stopping twice must stay idempotent.
func (s *LocationStore) DeleteLocation(ctx context.Context, userID string, tripID string) error {
	query := `DELETE FROM locations WHERE user_id = $1 AND trip_id = $2`
	_, err := s.db.Exec(ctx, query, userID, tripID)
	return err
}

// GetTripMemberLocations returns the latest location per member of the trip,
// joined with display metadata. Users without a profile row still appear,
// with empty display fields.
func (s *LocationStore) GetTripMemberLocations(ctx context.Context, tripID string) ([]types.UserLocation, error) {
	query := `
		SELECT l.id, l.trip_id, l.user_id, l.latitude, l.longitude, l.accuracy, l.heading, l.updated_at,
			   COALESCE(u.name, '') AS user_name,
			   COALESCE(u.avatar_url, '') AS user_avatar
		FROM locations l
		LEFT JOIN users u ON u.id = l.user_id
		WHERE l.trip_id = $1
		ORDER BY l.updated_at DESC
	`

	rows, err := s.db.Query(ctx, query, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var locations []types.UserLocation
	for rows.Next() {
		var loc types.UserLocation
		var id, locTripID, userID uuid.UUID
		err := rows.Scan(
			&id,
			&locTripID,
			&userID,
			&loc.Latitude,
			&loc.Longitude,
			&loc.Accuracy,
			&loc.Heading,
			&loc.UpdatedAt,
			&loc.UserName,
			&loc.UserAvatar,
		)
		if err != nil {
			return nil, err
		}
		loc.ID = id.String()
		loc.TripID = locTripID.String()
		loc.UserID = userID.String()
		locations = append(locations, loc)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return locations, nil
}

// IsTripMember reports whether userID belongs to tripID.
func (s *LocationStore) IsTripMember(ctx context.Context, tripID string, userID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM trip_memberships WHERE trip_id = $1 AND user_id = $2)`

	var exists bool
	if err := s.db.QueryRow(ctx, query, tripID, userID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}
