package geo

import (
	"context"
	"errors"
	"sync"
	"time"

	apperrors "github.com/NomadCrew/presence-service/errors"
	"github.com/NomadCrew/presence-service/logger"
	"go.uber.org/zap"
)

// Config holds the sharing pipeline tunables.
type Config struct {
	// UpdateInterval is the minimum time between accepted pushes.
	UpdateInterval time.Duration
	// WatchTimeout is the per-request sensor timeout.
	WatchTimeout time.Duration
	// MaxFixAge is the oldest cached fix the sensor may deliver.
	MaxFixAge time.Duration
	// PushTimeout bounds a single network push.
	PushTimeout time.Duration
	// Now is the clock; tests override it.
	Now func() time.Time
}

// DefaultConfig returns default sharing settings.
func DefaultConfig() Config {
	return Config{
		UpdateInterval: 10 * time.Second,
		WatchTimeout:   15 * time.Second,
		MaxFixAge:      5 * time.Second,
		PushTimeout:    10 * time.Second,
		Now:            time.Now,
	}
}

// Sharer samples the device's position while sharing is enabled and pushes
// throttled, sanitized updates to the remote store.
//
// Lifecycle: Idle -> RequestingPermission -> Watching -> (Idle | Errored).
// Sensor errors are terminal for the current attempt and stop the watch;
// network push failures are recoverable and leave the watch running, with the
// throttle interval acting as the retry interval.
type Sharer struct {
	log     *zap.SugaredLogger
	source  LocationSource
	perms   PermissionChecker
	pusher  Pusher
	session SessionProvider
	tripID  string
	cfg     Config

	mu         sync.Mutex
	phase      Phase
	permission PermissionStatus
	errState   *apperrors.AppError
	stopWatch  func()
	lastPush   time.Time
	lastFix    *Fix
	inFlight   bool
	visible    bool
	enabled    bool
	generation uint64
}

// NewSharer creates a sharer for one trip. source may be nil on platforms
// without a positioning sensor; StartSharing then fails with Unsupported.
func NewSharer(source LocationSource, perms PermissionChecker, pusher Pusher, session SessionProvider, tripID string, cfg ...Config) *Sharer {
	config := DefaultConfig()
	if len(cfg) > 0 {
		config = cfg[0]
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Sharer{
		log:        logger.GetLogger().Named("geo_sharer"),
		source:     source,
		perms:      perms,
		pusher:     pusher,
		session:    session,
		tripID:     tripID,
		cfg:        config,
		phase:      PhaseIdle,
		permission: PermissionUnknown,
		visible:    true,
		enabled:    true,
	}
}

// StartSharing requests permission and starts the sensor watch. Idempotent:
// calling it while already requesting or watching is a no-op. Requires an
// authenticated identity and sharing to be enabled.
func (s *Sharer) StartSharing(ctx context.Context) error {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return nil
	}
	if s.phase == PhaseWatching || s.phase == PhaseRequestingPermission {
		s.mu.Unlock()
		return nil
	}
	if s.session == nil || s.session.UserID() == "" {
		appErr := apperrors.AuthenticationRequired("sign in to share your location")
		s.errState = appErr
		s.phase = PhaseErrored
		s.mu.Unlock()
		return appErr
	}
	if s.source == nil {
		appErr := apperrors.Unsupported("no positioning sensor available")
		s.errState = appErr
		s.phase = PhaseErrored
		s.mu.Unlock()
		return appErr
	}
	s.phase = PhaseRequestingPermission
	s.errState = nil
	gen := s.generation
	s.mu.Unlock()

	// Permission query and watch setup happen outside the lock: both may
	// block, and the sensor may begin delivering callbacks immediately.
	status := PermissionUnknown
	if s.perms != nil {
		status = s.perms.Query(ctx)
	}

	s.mu.Lock()
	if s.generation != gen || s.phase != PhaseRequestingPermission {
		// Stopped while we were querying.
		s.mu.Unlock()
		return nil
	}
	s.permission = status
	if status == PermissionDenied {
		appErr := apperrors.PermissionDenied("location permission was denied")
		s.errState = appErr
		s.phase = PhaseErrored
		s.mu.Unlock()
		return appErr
	}
	s.mu.Unlock()

	opts := WatchOptions{
		Timeout:      s.cfg.WatchTimeout,
		MaximumAge:   s.cfg.MaxFixAge,
		HighAccuracy: true,
	}
	stop, err := s.source.WatchPosition(opts, s.onFix, s.onSensorError)
	if err != nil {
		appErr := s.classify(err)
		s.mu.Lock()
		s.errState = appErr
		s.phase = PhaseErrored
		s.mu.Unlock()
		return appErr
	}

	s.mu.Lock()
	if s.generation != gen || s.phase != PhaseRequestingPermission {
		// Stopped during watch setup; release the handle we just acquired.
		s.mu.Unlock()
		stop()
		return nil
	}
	s.phase = PhaseWatching
	s.stopWatch = stop
	s.mu.Unlock()

	s.log.Infow("Location sharing started", "tripID", s.tripID)
	return nil
}

// StopSharing releases the sensor watch. Safe to call multiple times and on
// teardown; no pushes happen after it returns.
func (s *Sharer) StopSharing() {
	s.release(PhaseIdle, nil)
}

// SetEnabled toggles the sharing feature. Disabling stops any active watch.
func (s *Sharer) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
	if !enabled {
		s.StopSharing()
	}
}

// SetVisible records whether the consuming surface is foregrounded. Fixes
// arriving while hidden are dropped by the throttle gate.
func (s *Sharer) SetVisible(visible bool) {
	s.mu.Lock()
	s.visible = visible
	s.mu.Unlock()
}

// Status returns a snapshot of the sharing state.
func (s *Sharer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Phase:      s.phase,
		Permission: s.permission,
		Err:        s.errState,
	}
}

// LastFix returns a copy of the last accepted fix, if any.
func (s *Sharer) LastFix() *Fix {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastFix == nil {
		return nil
	}
	fix := *s.lastFix
	return &fix
}

// release stops the watch handle (if any) and moves to the given phase.
// The handle is invoked outside the lock: its implementation may wait for an
// in-progress callback that is itself blocked on the lock.
func (s *Sharer) release(phase Phase, errState *apperrors.AppError) {
	s.mu.Lock()
	stop := s.stopWatch
	s.stopWatch = nil
	s.phase = phase
	s.errState = errState
	s.inFlight = false
	s.generation++
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
}

// onFix is the sensor callback. It runs the throttle gate and, on acceptance,
// hands the fix to an async push so the sensor thread never blocks on the
// network.
func (s *Sharer) onFix(fix Fix) {
	s.mu.Lock()
	if s.phase != PhaseWatching {
		s.mu.Unlock()
		return
	}
	if !s.visible {
		s.mu.Unlock()
		return
	}
	now := s.cfg.Now()
	if !s.lastPush.IsZero() && now.Sub(s.lastPush) < s.cfg.UpdateInterval {
		s.mu.Unlock()
		return
	}
	if s.inFlight {
		// A previous push has not completed. Drop rather than queue: only
		// the current position matters.
		s.mu.Unlock()
		return
	}
	s.inFlight = true
	s.lastPush = now
	gen := s.generation
	s.mu.Unlock()

	go s.push(fix, gen)
}

func (s *Sharer) push(fix Fix, gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PushTimeout)
	defer cancel()

	update := LocationPush{
		TripID:    s.tripID,
		Latitude:  fix.Latitude,
		Longitude: fix.Longitude,
		Accuracy:  fix.Accuracy,
		Heading:   fix.Heading,
		Timestamp: fix.Timestamp.UnixMilli(),
	}
	err := s.pusher.Push(ctx, update)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		// Sharing was stopped or restarted while this push was in flight;
		// its outcome no longer describes the current session.
		return
	}
	s.inFlight = false
	if err != nil {
		appErr := s.classify(err)
		s.errState = appErr
		s.log.Warnw("Location push failed, watch continues",
			"tripID", s.tripID,
			"error", err,
		)
		return
	}
	s.lastFix = &fix
	s.errState = nil
}

// onSensorError is the sensor error callback. Sensor errors are terminal for
// the current attempt: the watch is released and the phase becomes Errored.
func (s *Sharer) onSensorError(err error) {
	appErr := s.classify(err)

	s.mu.Lock()
	if s.phase != PhaseWatching && s.phase != PhaseRequestingPermission {
		s.mu.Unlock()
		return
	}
	if appErr.Type == apperrors.PermissionDeniedError {
		s.permission = PermissionDenied
	}
	s.mu.Unlock()

	s.log.Warnw("Sensor error, stopping watch", "tripID", s.tripID, "error", err)
	s.release(PhaseErrored, appErr)
}

// classify maps an arbitrary error onto the sharing taxonomy. Anything that
// is not already classified is a network failure from the sharer's point of
// view.
func (s *Sharer) classify(err error) *apperrors.AppError {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperrors.NewNetworkError(err)
}
