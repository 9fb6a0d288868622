package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	apperrors "github.com/NomadCrew/presence-service/errors"
	"github.com/NomadCrew/presence-service/logger"
	"github.com/NomadCrew/presence-service/types"
	"go.uber.org/zap"
)

// BaselineLoader loads the rows already present for a trip when the feed
// attaches, covering writes that happened before the channel existed.
type BaselineLoader interface {
	GetTripMemberLocations(ctx context.Context, tripID string) ([]types.UserLocation, error)
}

// SubscriberConfig holds resubscribe backoff tunables.
type SubscriberConfig struct {
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// DefaultSubscriberConfig returns the default backoff settings.
func DefaultSubscriberConfig() SubscriberConfig {
	return SubscriberConfig{
		BackoffInitial: time.Second,
		BackoffMax:     30 * time.Second,
	}
}

// Subscriber maintains a live view of every participant's last known location
// for one trip at a time. It attaches to the per-trip change feed, performs a
// baseline reconciliation load, and applies upsert/remove events to the
// injected Store in arrival order, discarding events older than the cached
// record for that user.
//
// When the feed drops, the subscriber resubscribes with capped exponential
// backoff and jitter rather than stalling silently.
type Subscriber struct {
	log    *zap.SugaredLogger
	feed   types.EventPublisher
	store  *Store
	loader BaselineLoader
	userID string
	config SubscriberConfig

	mu     sync.Mutex
	tripID string
	cancel context.CancelFunc
	done   chan struct{}

	errMu   sync.Mutex
	lastErr error
}

// NewSubscriber creates a subscriber for the given consuming user.
// loader may be nil: without it the view is built from live events only.
func NewSubscriber(feed types.EventPublisher, store *Store, loader BaselineLoader, userID string, cfg ...SubscriberConfig) *Subscriber {
	config := DefaultSubscriberConfig()
	if len(cfg) > 0 {
		config = cfg[0]
	}

	return &Subscriber{
		log:    logger.GetLogger().Named("presence_subscriber"),
		feed:   feed,
		store:  store,
		loader: loader,
		userID: userID,
		config: config,
	}
}

// Start attaches to tripID's change feed. Calling Start again for the same
// trip while active is a no-op; switching trips requires Stop first.
func (s *Subscriber) Start(tripID string) error {
	if tripID == "" {
		return apperrors.ValidationFailed("invalid subscription", "trip ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		if s.tripID == tripID {
			return nil
		}
		return fmt.Errorf("already subscribed to trip %s", s.tripID)
	}

	// The run loop outlives the caller's request context; Stop is the only
	// release path.
	ctx, cancel := context.WithCancel(context.Background())
	s.tripID = tripID
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(ctx, tripID, s.done)
	return nil
}

// Stop detaches from the feed, marks the store unsubscribed, and clears the
// trip's entries so stale presence cannot bleed into a reused view.
// Safe to call multiple times; no events are applied after it returns.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.tripID = ""
}

// Err returns the most recent subscription error, or nil while healthy.
// Cleared automatically when the feed attaches successfully.
func (s *Subscriber) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.lastErr
}

func (s *Subscriber) setErr(err error) {
	s.errMu.Lock()
	s.lastErr = err
	s.errMu.Unlock()
}

func (s *Subscriber) run(ctx context.Context, tripID string, done chan struct{}) {
	defer func() {
		unsubCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.feed.Unsubscribe(unsubCtx, tripID, s.userID); err != nil {
			s.log.Debugw("Unsubscribe on teardown", "tripID", tripID, "error", err)
		}
		cancel()
		s.store.SetSubscribed(false)
		s.store.ClearTrip(tripID)
		close(done)
	}()

	backoff := s.config.BackoffInitial
	for {
		events, err := s.feed.Subscribe(ctx, tripID, s.userID, types.EventTypeLocationUpserted, types.EventTypeLocationRemoved)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.setErr(apperrors.SubscriptionDegraded(err))
			s.log.Warnw("Feed subscribe failed, retrying",
				"tripID", tripID,
				"backoff", backoff,
				"error", err,
			)
			if !sleepCtx(ctx, withJitter(backoff)) {
				return
			}
			backoff = nextBackoff(backoff, s.config.BackoffMax)
			continue
		}

		// Channel is live: reconcile rows written before it attached, then
		// consume until the transport drops or we are stopped.
		s.store.SetSubscribed(true)
		s.setErr(nil)
		backoff = s.config.BackoffInitial
		s.reconcile(ctx, tripID)

		if !s.consume(ctx, tripID, events) {
			return
		}

		// Transport drop. Release the old subscription key before retrying.
		s.store.SetSubscribed(false)
		if err := s.feed.Unsubscribe(context.Background(), tripID, s.userID); err != nil {
			s.log.Debugw("Unsubscribe after feed drop", "tripID", tripID, "error", err)
		}
		s.setErr(apperrors.SubscriptionDegraded(fmt.Errorf("feed channel closed")))
		s.log.Warnw("Feed channel closed, resubscribing", "tripID", tripID, "backoff", backoff)
		if !sleepCtx(ctx, withJitter(backoff)) {
			return
		}
		backoff = nextBackoff(backoff, s.config.BackoffMax)
	}
}

// consume applies feed events until the channel closes (returns true) or the
// subscriber is stopped (returns false).
func (s *Subscriber) consume(ctx context.Context, tripID string, events <-chan types.Event) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case event, ok := <-events:
			if !ok {
				return true
			}
			s.applyEvent(tripID, event)
		}
	}
}

// reconcile performs the baseline load. Failure degrades gracefully: the view
// keeps working off live events only.
func (s *Subscriber) reconcile(ctx context.Context, tripID string) {
	if s.loader == nil {
		return
	}

	locations, err := s.loader.GetTripMemberLocations(ctx, tripID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.setErr(apperrors.SubscriptionDegraded(err))
		s.log.Warnw("Baseline reconciliation failed, continuing with live events only",
			"tripID", tripID,
			"error", err,
		)
		return
	}

	for _, loc := range locations {
		s.upsert(loc)
	}
}

func (s *Subscriber) applyEvent(tripID string, event types.Event) {
	if event.TripID != tripID {
		return
	}

	switch event.Type {
	case types.EventTypeLocationUpserted:
		var loc types.UserLocation
		if err := json.Unmarshal(event.Payload, &loc); err != nil {
			s.log.Errorw("Failed to unmarshal location payload", "eventID", event.ID, "error", err)
			return
		}
		if loc.UserID == "" || loc.TripID != tripID {
			s.log.Warnw("Dropping malformed location event", "eventID", event.ID)
			return
		}
		s.upsert(loc)
	case types.EventTypeLocationRemoved:
		var removal types.LocationRemoval
		if err := json.Unmarshal(event.Payload, &removal); err != nil {
			s.log.Errorw("Failed to unmarshal removal payload", "eventID", event.ID, "error", err)
			return
		}
		s.store.RemoveLocation(removal.UserID, removal.TripID)
	default:
		// Filters should prevent this; ignore rather than fail.
	}
}

// upsert writes loc into the store unless a strictly newer record for the
// same user is already cached. Transport retries can deliver events out of
// order; updated_at is authoritative, so older fixes are discarded.
func (s *Subscriber) upsert(loc types.UserLocation) {
	if prev, ok := s.store.GetLocation(loc.UserID); ok {
		if prev.TripID == loc.TripID && prev.UpdatedAt.After(loc.UpdatedAt) {
			s.log.Debugw("Discarding stale location event",
				"userID", loc.UserID,
				"cached", prev.UpdatedAt,
				"received", loc.UpdatedAt,
			)
			return
		}
	}
	s.store.UpdateLocation(loc)
}

// sleepCtx sleeps for d, returning false if ctx is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// withJitter spreads a backoff delay over [d/2, d) so a burst of dropped
// subscribers does not reconnect in lockstep.
func withJitter(d time.Duration) time.Duration {
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}
