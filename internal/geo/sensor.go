// Package geo implements the device-side half of location sharing: a sharing
// state machine over a positioning sensor, a throttle gate on outgoing
// updates, and an authenticated push client.
package geo

import (
	"context"
	"time"
)

// Fix is an ephemeral reading from the positioning sensor. It is either
// dropped by the throttle gate or turned into a network payload; it is never
// persisted on the device.
type Fix struct {
	Latitude  float64
	Longitude float64
	Accuracy  *float64
	Heading   *float64 // absent when stationary or the sensor lacks heading
	Timestamp time.Time
}

// WatchOptions mirror the platform watch parameters.
type WatchOptions struct {
	// Timeout is how long a single position request may take before the
	// source reports a timeout error.
	Timeout time.Duration
	// MaximumAge is the oldest cached fix the source may deliver; older
	// cached fixes are treated as a timeout by the platform.
	MaximumAge time.Duration
	// HighAccuracy requests the precise positioning mode.
	HighAccuracy bool
}

// LocationSource abstracts the platform positioning API. Implementations
// deliver fixes and sensor errors on the provided callbacks until the
// returned stop function is called; stop must release the underlying watch
// handle synchronously, after which no further callbacks fire. Errors
// reported through onError carry the taxonomy from the errors package
// (PermissionDenied, PositionUnavailable, Timeout).
type LocationSource interface {
	WatchPosition(opts WatchOptions, onFix func(Fix), onError func(error)) (stop func(), err error)
}

// PermissionStatus is the pre-flight sensor permission state.
type PermissionStatus string

const (
	PermissionGranted PermissionStatus = "granted"
	PermissionDenied  PermissionStatus = "denied"
	PermissionPrompt  PermissionStatus = "prompt"
	// PermissionUnknown is the degraded answer on platforms without a
	// permissions API; an attempt is still allowed.
	PermissionUnknown PermissionStatus = "unknown"
)

// PermissionChecker answers the pre-flight permission query. Best-effort:
// implementations on platforms without the API return PermissionUnknown
// rather than failing.
type PermissionChecker interface {
	Query(ctx context.Context) PermissionStatus
}

// Pusher sends one sanitized location update to the remote store.
type Pusher interface {
	Push(ctx context.Context, update LocationPush) error
}

// LocationPush is the network payload for one accepted fix.
type LocationPush struct {
	TripID    string   `json:"tripId"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Heading   *float64 `json:"heading,omitempty"`
	Timestamp int64    `json:"timestamp"`
}
