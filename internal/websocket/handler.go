package websocket

import (
	"context"
	"net/http"
	"time"

	"github.com/NomadCrew/presence-service/config"
	"github.com/NomadCrew/presence-service/internal/presence"
	"github.com/NomadCrew/presence-service/logger"
	"github.com/NomadCrew/presence-service/middleware"
	"github.com/NomadCrew/presence-service/services"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Handler upgrades presence WebSocket requests and runs the connection
// lifecycle.
type Handler struct {
	log             *zap.SugaredLogger
	hub             *Hub
	locationService *services.LocationService
	membership      MembershipChecker
	pingInterval    time.Duration
	writeTimeout    time.Duration
	staleAfter      time.Duration
	allowedOrigins  []string
	isDevelopment   bool
}

// NewHandler creates a new WebSocket handler.
func NewHandler(hub *Hub, locationService *services.LocationService, membership MembershipChecker, cfg *config.Config) *Handler {
	hubCfg := DefaultHubConfig()
	return &Handler{
		log:             logger.GetLogger().Named("websocket_handler"),
		hub:             hub,
		locationService: locationService,
		membership:      membership,
		pingInterval:    hubCfg.PingInterval,
		writeTimeout:    hubCfg.WriteTimeout,
		staleAfter:      cfg.Location.StaleAfter(),
		allowedOrigins:  cfg.Server.AllowedOrigins,
		isDevelopment:   cfg.IsDevelopment(),
	}
}

func (h *Handler) acceptOptions() *websocket.AcceptOptions {
	opts := &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	}
	if h.isDevelopment {
		opts.InsecureSkipVerify = true
	} else {
		opts.OriginPatterns = h.allowedOrigins
	}
	return opts
}

// ServerMessage is the envelope for everything sent to the client.
type ServerMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// snapshotEntry is one member's location in the initial snapshot.
type snapshotEntry struct {
	Location interface{} `json:"location"`
	IsActive bool        `json:"isActive"`
}

// HandleWebSocket godoc
// @Summary Watch trip presence
// @Description Streams location upserts and removals for a trip over WebSocket
// @Tags location
// @Param id path string true "Trip ID"
// @Success 101 "Switching protocols"
// @Failure 401 {object} middleware.ErrorResponse "Unauthorized"
// @Failure 403 {object} middleware.ErrorResponse "Not a trip member"
// @Router /trips/{id}/presence/ws [get]
// @Security BearerAuth
func (h *Handler) HandleWebSocket(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	tripID := c.Param("id")
	if tripID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Trip ID is required"})
		return
	}

	member, err := h.membership.IsTripMember(c.Request.Context(), tripID, userID)
	if err != nil {
		h.log.Errorw("Membership check failed", "userID", userID, "tripID", tripID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not a member of this trip"})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, h.acceptOptions())
	if err != nil {
		h.log.Errorw("Failed to accept WebSocket connection", "userID", userID, "error", err)
		return
	}

	connection, err := h.hub.Register(c.Request.Context(), userID, tripID, conn)
	if err != nil {
		h.log.Errorw("Failed to register presence connection", "userID", userID, "tripID", tripID, "error", err)
		_ = conn.Close(websocket.StatusInternalError, "registration failed")
		return
	}
	defer h.hub.Unregister(userID, tripID)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Feed events arriving between Register and the snapshot are buffered in
	// the connection's send channel, so the client sees snapshot first, then
	// deltas, without a gap.
	if err := h.sendSnapshot(ctx, conn, tripID, userID); err != nil {
		h.log.Warnw("Failed to send presence snapshot", "userID", userID, "tripID", tripID, "error", err)
		return
	}

	// Reads are discarded, but the read loop is what detects a client close.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	h.writeLoop(ctx, conn, connection)
}

func (h *Handler) sendSnapshot(ctx context.Context, conn *websocket.Conn, tripID, userID string) error {
	locations, err := h.locationService.GetTripMemberLocations(ctx, tripID, userID)
	if err != nil {
		return err
	}

	now := time.Now()
	entries := make([]snapshotEntry, 0, len(locations))
	for _, loc := range locations {
		entries = append(entries, snapshotEntry{
			Location: loc,
			IsActive: presence.IsActiveWithin(loc, now, h.staleAfter),
		})
	}

	return h.write(ctx, conn, ServerMessage{Type: "snapshot", Payload: entries})
}

func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, connection *Connection) {
	pingTicker := time.NewTicker(h.pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-connection.Events():
			if !ok {
				return
			}
			if err := h.write(ctx, conn, ServerMessage{Type: string(event.Type), Payload: event}); err != nil {
				h.log.Debugw("Presence write failed, closing",
					"userID", connection.UserID,
					"tripID", connection.TripID,
					"error", err,
				)
				return
			}
		case <-pingTicker.C:
			pingCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (h *Handler) write(ctx context.Context, conn *websocket.Conn, msg ServerMessage) error {
	writeCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, msg)
}
