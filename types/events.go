package types

import (
	"context"
	"encoding/json"
	"time"

	"github.com/NomadCrew/presence-service/errors"
)

type EventType string

const (
	CategoryLocation = "LOCATION"
)

const (
	// Location events. Upserts carry a UserLocation payload, removals a
	// LocationRemoval payload.
	EventTypeLocationUpserted EventType = CategoryLocation + "_UPSERTED"
	EventTypeLocationRemoved  EventType = CategoryLocation + "_REMOVED"
)

// BaseEvent carries the fields common to every feed event.
type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	TripID    string    `json:"tripId"`
	UserID    string    `json:"userId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Version   int       `json:"version"`
}

// EventMetadata for tracking and debugging
type EventMetadata struct {
	CorrelationID string `json:"correlationId,omitempty"`
	Source        string `json:"source"`
}

// Event is the envelope delivered on the per-trip change feed.
type Event struct {
	BaseEvent
	Metadata EventMetadata   `json:"metadata"`
	Payload  json.RawMessage `json:"payload"`
}

// Validate checks the event carries the fields every consumer relies on.
func (e Event) Validate() error {
	if e.ID == "" {
		return errors.ValidationFailed("invalid event", "event ID is required")
	}
	if e.Type == "" {
		return errors.ValidationFailed("invalid event", "event type is required")
	}
	if e.TripID == "" {
		return errors.ValidationFailed("invalid event", "trip ID is required")
	}
	if e.Timestamp.IsZero() {
		return errors.ValidationFailed("invalid event", "timestamp is required")
	}
	return nil
}

// EventPublisher is the change-feed transport boundary: publish into a trip's
// channel, or attach to it as a subscriber.
type EventPublisher interface {
	Publish(ctx context.Context, tripID string, event Event) error
	Subscribe(ctx context.Context, tripID string, userID string, filters ...EventType) (<-chan Event, error)
	Unsubscribe(ctx context.Context, tripID string, userID string) error
}
