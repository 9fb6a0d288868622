// Package websocket fans trip presence events out to connected clients.
package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/NomadCrew/presence-service/logger"
	"github.com/NomadCrew/presence-service/types"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// EventSubscriber is the change-feed side the hub consumes.
type EventSubscriber interface {
	Subscribe(ctx context.Context, tripID string, userID string, filters ...types.EventType) (<-chan types.Event, error)
	Unsubscribe(ctx context.Context, tripID string, userID string) error
}

// MembershipChecker authorizes a user to watch a trip's presence.
type MembershipChecker interface {
	IsTripMember(ctx context.Context, tripID, userID string) (bool, error)
}

// Connection is one client watching one trip's presence feed.
type Connection struct {
	UserID string
	TripID string
	Conn   *websocket.Conn
	sendCh chan types.Event
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// Events is the outbound event stream for this connection.
func (c *Connection) Events() <-chan types.Event {
	return c.sendCh
}

// HubConfig contains configuration options for the Hub.
type HubConfig struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
}

// DefaultHubConfig returns the default hub settings.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		PingInterval: 30 * time.Second,
		WriteTimeout: 10 * time.Second,
		SendBuffer:   64,
	}
}

// Hub tracks live presence connections, one per (user, trip) pair. A user
// opening the same trip again replaces the previous connection.
type Hub struct {
	log    *zap.SugaredLogger
	feed   EventSubscriber
	config HubConfig

	mu          sync.RWMutex
	connections map[connKey]*Connection
}

type connKey struct {
	userID string
	tripID string
}

// NewHub creates a presence fan-out hub over the given change feed.
func NewHub(feed EventSubscriber, cfg ...HubConfig) *Hub {
	config := DefaultHubConfig()
	if len(cfg) > 0 {
		config = cfg[0]
	}

	return &Hub{
		log:         logger.GetLogger().Named("websocket_hub"),
		feed:        feed,
		config:      config,
		connections: make(map[connKey]*Connection),
	}
}

// Register attaches conn to the trip's presence feed and starts forwarding
// location events to it. An existing connection for the same (user, trip) is
// closed and replaced.
func (h *Hub) Register(ctx context.Context, userID, tripID string, conn *websocket.Conn) (*Connection, error) {
	key := connKey{userID: userID, tripID: tripID}

	subCtx, cancel := context.WithCancel(context.Background())
	connection := &Connection{
		UserID: userID,
		TripID: tripID,
		Conn:   conn,
		sendCh: make(chan types.Event, h.config.SendBuffer),
		cancel: cancel,
	}

	h.mu.Lock()
	existing := h.connections[key]
	h.connections[key] = connection
	h.mu.Unlock()

	if existing != nil {
		h.closeConnection(existing, "replaced by new connection")
	}

	eventCh, err := h.feed.Subscribe(subCtx, tripID, userID,
		types.EventTypeLocationUpserted, types.EventTypeLocationRemoved)
	if err != nil {
		h.mu.Lock()
		if h.connections[key] == connection {
			delete(h.connections, key)
		}
		h.mu.Unlock()
		cancel()
		return nil, err
	}

	go h.forward(subCtx, connection, eventCh)

	h.log.Infow("Presence connection registered", "userID", userID, "tripID", tripID)
	return connection, nil
}

// forward copies feed events into the connection's send buffer. A slow client
// loses events rather than backpressuring the feed; the next snapshot request
// reconciles.
//
// forward is the only writer to sendCh and the only goroutine that closes it.
// Teardown cancels ctx and lets forward close the channel on exit, so a send
// can never race a close.
func (h *Hub) forward(ctx context.Context, conn *Connection, eventCh <-chan types.Event) {
	defer close(conn.sendCh)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			select {
			case conn.sendCh <- event:
			default:
				h.log.Warnw("Connection send buffer full, dropping event",
					"userID", conn.UserID,
					"tripID", conn.TripID,
					"eventType", event.Type,
				)
			}
		}
	}
}

// Unregister detaches and closes the user's connection for the trip.
func (h *Hub) Unregister(userID, tripID string) {
	key := connKey{userID: userID, tripID: tripID}

	h.mu.Lock()
	conn, ok := h.connections[key]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.connections, key)
	h.mu.Unlock()

	h.closeConnection(conn, "unregistered")
}

func (h *Hub) closeConnection(conn *Connection, reason string) {
	conn.mu.Lock()
	if conn.closed {
		conn.mu.Unlock()
		return
	}
	conn.closed = true
	conn.mu.Unlock()

	// Cancelling the context and releasing the feed subscription both stop
	// the forward goroutine; sendCh is closed there, not here.
	conn.cancel()
	_ = h.feed.Unsubscribe(context.Background(), conn.TripID, conn.UserID)
	if conn.Conn != nil {
		_ = conn.Conn.Close(websocket.StatusNormalClosure, reason)
	}

	h.log.Infow("Presence connection closed",
		"userID", conn.UserID,
		"tripID", conn.TripID,
		"reason", reason,
	)
}

// ConnectedCount returns the number of live connections, used by health
// reporting.
func (h *Hub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Shutdown closes every connection.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.connections))
	for _, conn := range h.connections {
		conns = append(conns, conn)
	}
	h.connections = make(map[connKey]*Connection)
	h.mu.Unlock()

	for _, conn := range conns {
		h.closeConnection(conn, "server shutting down")
	}
}
