package types

import (
	"time"
)

// Location represents a user's last known geographic position within a trip.
// There is at most one row per (user, trip); a newer fix overwrites the
// previous one, no history is kept.
type Location struct {
	ID        string    `json:"id"`
	TripID    string    `json:"tripId"`
	UserID    string    `json:"userId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	Heading   *float64  `json:"heading,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// LocationUpdate represents the payload for updating a user's location.
// Accuracy and Heading are optional: heading is absent when the device is
// stationary or the sensor lacks it.
type LocationUpdate struct {
	TripID    string   `json:"tripId" binding:"required"`
	Latitude  float64  `json:"latitude" binding:"required"`
	Longitude float64  `json:"longitude" binding:"required"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Heading   *float64 `json:"heading,omitempty"`
	Timestamp int64    `json:"timestamp" binding:"required"` // Unix timestamp in milliseconds
}

// UserLocation is the shared presence unit: a member's last known location
// with display metadata joined server-side.
type UserLocation struct {
	Location
	UserName   string `json:"userName,omitempty"`
	UserAvatar string `json:"userAvatar,omitempty"`
}

// LocationRemoval identifies a presence entry withdrawn by its owner.
// Used as the payload of removal events.
type LocationRemoval struct {
	TripID string `json:"tripId"`
	UserID string `json:"userId"`
}
