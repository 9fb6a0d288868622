package geo

import (
	apperrors "github.com/NomadCrew/presence-service/errors"
)

// Phase is the sharing lifecycle state. A single tagged value rather than
// independent booleans, so an errored sharer is never also "sharing".
type Phase string

const (
	PhaseIdle                 Phase = "idle"
	PhaseRequestingPermission Phase = "requesting_permission"
	PhaseWatching             Phase = "watching"
	PhaseErrored              Phase = "errored"
)

// Status is a point-in-time snapshot of the sharer, safe to hand to callers.
type Status struct {
	Phase      Phase
	Permission PermissionStatus
	// Err carries the terminal error in PhaseErrored, or a recoverable push
	// error while still watching. Cleared on the next successful operation.
	Err *apperrors.AppError
}

// Sharing reports whether the sensor watch is live.
func (s Status) Sharing() bool {
	return s.Phase == PhaseWatching
}

// ErrorMessage returns a short user-facing message, or "" when healthy.
func (s Status) ErrorMessage() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Message
}
