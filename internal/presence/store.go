// Package presence holds the in-memory presence cache and the change-feed
// subscriber that keeps it current. The store is a pure cache: only the
// subscriber writes into it, consumers read copies.
package presence

import (
	"sync"
	"time"

	"github.com/NomadCrew/presence-service/types"
)

// DefaultStaleAfter is how long a shared location stays "active" after its
// last server-side write.
const DefaultStaleAfter = 10 * time.Minute

// Store caches the last known location per user. At most one entry exists per
// user ID; a newer location for the same user overwrites the previous one.
//
// One instance is constructed per process and injected into whatever needs it.
// All methods are safe for concurrent use.
type Store struct {
	mu         sync.RWMutex
	locations  map[string]types.UserLocation
	subscribed bool
	lastUpdate time.Time
}

// NewStore creates an empty presence store.
func NewStore() *Store {
	return &Store{
		locations: make(map[string]types.UserLocation),
	}
}

// UpdateLocation upserts the entry for loc.UserID, overwriting any prior
// entry unconditionally. Ordering decisions (discarding stale events) belong
// to the caller; the store trusts its single writer.
func (s *Store) UpdateLocation(loc types.UserLocation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locations[loc.UserID] = loc
	s.lastUpdate = time.Now()
}

// RemoveLocation deletes the entry for userID if it belongs to tripID.
// A removal scoped to a different trip leaves the entry alone, so a stale
// delete from a previously viewed trip cannot drop a user's live entry.
// No-op if the user is absent.
func (s *Store) RemoveLocation(userID, tripID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc, ok := s.locations[userID]
	if !ok || loc.TripID != tripID {
		return
	}
	delete(s.locations, userID)
	s.lastUpdate = time.Now()
}

// ClearTrip removes every entry belonging to tripID. Entries from other trips
// observed in the same session remain.
func (s *Store) ClearTrip(tripID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for userID, loc := range s.locations {
		if loc.TripID == tripID {
			delete(s.locations, userID)
		}
	}
	s.lastUpdate = time.Now()
}

// Clear empties the store entirely, used on sign-out.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locations = make(map[string]types.UserLocation)
	s.subscribed = false
	s.lastUpdate = time.Now()
}

// SetSubscribed records whether the change-feed channel is currently live.
// Purely observational, it has no effect on cached entries.
func (s *Store) SetSubscribed(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = v
}

// Subscribed reports whether the change-feed channel is currently live.
func (s *Store) Subscribed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subscribed
}

// LastUpdate returns the time of the most recent local mutation. It is a
// cache-invalidation hint for consumers, not a correctness signal.
func (s *Store) LastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}

// GetLocation returns the cached entry for userID, if any.
func (s *Store) GetLocation(userID string) (types.UserLocation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loc, ok := s.locations[userID]
	return loc, ok
}

// GetLocationsByTrip returns a fresh slice of all entries for tripID.
// Trip membership counts are small (tens, not thousands), so a linear scan
// per call is fine and nothing caches the derived view.
func (s *Store) GetLocationsByTrip(tripID string) []types.UserLocation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]types.UserLocation, 0)
	for _, loc := range s.locations {
		if loc.TripID == tripID {
			result = append(result, loc)
		}
	}
	return result
}

// Len returns the number of cached entries across all trips.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.locations)
}

// IsActive classifies a location as active when its last server-side write is
// younger than DefaultStaleAfter. This is a display policy layered on top of
// the raw cache, so it lives in a pure function rather than on the store.
func IsActive(loc types.UserLocation, now time.Time) bool {
	return IsActiveWithin(loc, now, DefaultStaleAfter)
}

// IsActiveWithin is IsActive with an explicit threshold.
func IsActiveWithin(loc types.UserLocation, now time.Time, staleAfter time.Duration) bool {
	return now.Sub(loc.UpdatedAt) < staleAfter
}
