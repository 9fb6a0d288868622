package events

import (
	"context"
	"encoding/json"
	"time"

	apperrors "github.com/NomadCrew/presence-service/errors"
	"github.com/NomadCrew/presence-service/types"
	"github.com/google/uuid"
)

// PublishLocationUpserted publishes an upsert for the given location on its
// trip's feed channel.
func PublishLocationUpserted(ctx context.Context, publisher types.EventPublisher, loc *types.UserLocation, source string) error {
	payload, err := json.Marshal(loc)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ServerError, "failed to marshal location payload")
	}
	return publish(ctx, publisher, types.EventTypeLocationUpserted, loc.TripID, loc.UserID, payload, source)
}

// PublishLocationRemoved publishes a removal for the given (user, trip) pair.
// Subscribers drop the matching entry from their presence cache.
func PublishLocationRemoved(ctx context.Context, publisher types.EventPublisher, tripID, userID, source string) error {
	payload, err := json.Marshal(types.LocationRemoval{TripID: tripID, UserID: userID})
	if err != nil {
		return apperrors.Wrap(err, apperrors.ServerError, "failed to marshal removal payload")
	}
	return publish(ctx, publisher, types.EventTypeLocationRemoved, tripID, userID, payload, source)
}

func publish(ctx context.Context, publisher types.EventPublisher, eventType types.EventType, tripID, userID string, payload json.RawMessage, source string) error {
	event := types.Event{
		BaseEvent: types.BaseEvent{
			ID:        uuid.New().String(),
			Type:      eventType,
			TripID:    tripID,
			UserID:    userID,
			Timestamp: time.Now(),
			Version:   1,
		},
		Metadata: types.EventMetadata{
			Source: source,
		},
		Payload: payload,
	}

	if err := publisher.Publish(ctx, tripID, event); err != nil {
		return apperrors.Wrap(err, apperrors.ServerError, "failed to publish event")
	}
	return nil
}
