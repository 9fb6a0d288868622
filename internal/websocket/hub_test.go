package websocket

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/NomadCrew/presence-service/logger"
	"github.com/NomadCrew/presence-service/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestMain(m *testing.M) {
	logger.IsTest = true
	m.Run()
}

// MockEventSubscriber implements EventSubscriber for testing.
type MockEventSubscriber struct {
	mock.Mock
	subscriptions map[string]chan types.Event
	mu            sync.Mutex
}

func NewMockEventSubscriber() *MockEventSubscriber {
	return &MockEventSubscriber{
		subscriptions: make(map[string]chan types.Event),
	}
}

func (m *MockEventSubscriber) Subscribe(ctx context.Context, tripID string, userID string, filters ...types.EventType) (<-chan types.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	args := m.Called(ctx, tripID, userID, filters)
	if args.Error(1) != nil {
		return nil, args.Error(1)
	}

	ch := make(chan types.Event, 10)
	m.subscriptions[tripID+":"+userID] = ch
	return ch, nil
}

func (m *MockEventSubscriber) Unsubscribe(ctx context.Context, tripID string, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	args := m.Called(ctx, tripID, userID)
	if ch, ok := m.subscriptions[tripID+":"+userID]; ok {
		close(ch)
		delete(m.subscriptions, tripID+":"+userID)
	}
	return args.Error(0)
}

func TestNewHub(t *testing.T) {
	hub := NewHub(NewMockEventSubscriber())

	assert.NotNil(t, hub)
	assert.NotNil(t, hub.connections)
	assert.Equal(t, 0, hub.ConnectedCount())
}

func TestHubUnregisterNotExists(t *testing.T) {
	hub := NewHub(NewMockEventSubscriber())
	hub.Unregister("ghost", "trip-1")
	assert.Equal(t, 0, hub.ConnectedCount())
}

func TestHubShutdownEmpty(t *testing.T) {
	hub := NewHub(NewMockEventSubscriber())
	hub.Shutdown()
	assert.Equal(t, 0, hub.ConnectedCount())
}

func TestDefaultHubConfig(t *testing.T) {
	config := DefaultHubConfig()

	assert.Equal(t, 30*time.Second, config.PingInterval)
	assert.Equal(t, 10*time.Second, config.WriteTimeout)
	assert.Equal(t, 64, config.SendBuffer)
}

func TestConnectionEvents(t *testing.T) {
	conn := &Connection{
		UserID: "user-1",
		TripID: "trip-1",
		sendCh: make(chan types.Event, 16),
	}

	event := types.Event{
		BaseEvent: types.BaseEvent{
			ID:     "evt-1",
			Type:   types.EventTypeLocationUpserted,
			TripID: "trip-1",
		},
	}
	conn.sendCh <- event

	select {
	case received := <-conn.Events():
		assert.Equal(t, event.ID, received.ID)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestHubForward(t *testing.T) {
	hub := NewHub(NewMockEventSubscriber())
	conn := &Connection{
		UserID: "user-1",
		TripID: "trip-1",
		sendCh: make(chan types.Event, 2),
	}

	eventCh := make(chan types.Event)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		hub.forward(ctx, conn, eventCh)
		close(done)
	}()

	for i := 0; i < 2; i++ {
		eventCh <- types.Event{BaseEvent: types.BaseEvent{
			ID:     "evt",
			Type:   types.EventTypeLocationUpserted,
			TripID: "trip-1",
		}}
	}
	// Buffer is full: the next event is dropped rather than blocking.
	eventCh <- types.Event{BaseEvent: types.BaseEvent{
		ID:     "evt-dropped",
		Type:   types.EventTypeLocationUpserted,
		TripID: "trip-1",
	}}

	assert.Len(t, conn.sendCh, 2)

	// Closing the feed channel ends the forwarder.
	close(eventCh)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("forward did not exit on channel close")
	}
}

// drainUntilClosed consumes events until the channel closes, failing the test
// if it never does.
func drainUntilClosed(t *testing.T, ch <-chan types.Event) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("send channel was not closed after teardown")
		}
	}
}

func TestHubUnregisterWhileEventsFlowing(t *testing.T) {
	feed := NewMockEventSubscriber()
	feed.On("Subscribe", mock.Anything, "trip-1", "user-1", mock.Anything).Return(nil, nil)
	feed.On("Unsubscribe", mock.Anything, "trip-1", "user-1").Return(nil)
	hub := NewHub(feed)

	// Tearing down a connection while buffered feed events are still being
	// forwarded must never send on a closed channel.
	for i := 0; i < 500; i++ {
		connection, err := hub.Register(context.Background(), "user-1", "trip-1", nil)
		if err != nil {
			t.Fatalf("register: %v", err)
		}

		feed.mu.Lock()
		eventCh := feed.subscriptions["trip-1:user-1"]
		feed.mu.Unlock()
		for j := 0; j < cap(eventCh); j++ {
			eventCh <- types.Event{BaseEvent: types.BaseEvent{
				ID:     "evt",
				Type:   types.EventTypeLocationUpserted,
				TripID: "trip-1",
			}}
		}

		hub.Unregister("user-1", "trip-1")
		drainUntilClosed(t, connection.Events())
	}

	assert.Equal(t, 0, hub.ConnectedCount())
}

func TestHubShutdownWhileEventsFlowing(t *testing.T) {
	feed := NewMockEventSubscriber()
	feed.On("Subscribe", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	feed.On("Unsubscribe", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	hub := NewHub(feed)

	conns := make([]*Connection, 0, 8)
	for i := 0; i < 8; i++ {
		userID := "user-" + string(rune('a'+i))
		connection, err := hub.Register(context.Background(), userID, "trip-1", nil)
		if err != nil {
			t.Fatalf("register: %v", err)
		}
		conns = append(conns, connection)

		feed.mu.Lock()
		eventCh := feed.subscriptions["trip-1:"+userID]
		feed.mu.Unlock()
		for j := 0; j < cap(eventCh); j++ {
			eventCh <- types.Event{BaseEvent: types.BaseEvent{
				ID:     "evt",
				Type:   types.EventTypeLocationUpserted,
				TripID: "trip-1",
			}}
		}
	}

	hub.Shutdown()
	for _, connection := range conns {
		drainUntilClosed(t, connection.Events())
	}
	assert.Equal(t, 0, hub.ConnectedCount())
}

func TestMembershipCheckerInterface(t *testing.T) {
	var _ MembershipChecker = (*mockMembership)(nil)
}

type mockMembership struct {
	mock.Mock
}

func (m *mockMembership) IsTripMember(ctx context.Context, tripID, userID string) (bool, error) {
	args := m.Called(ctx, tripID, userID)
	return args.Bool(0), args.Error(1)
}
