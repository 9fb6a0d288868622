// Package events implements the per-trip change feed on Redis Pub/Sub.
// Each trip has one channel; location upserts and removals fan out to every
// subscribed device.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/NomadCrew/presence-service/logger"
	"github.com/NomadCrew/presence-service/types"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config holds configuration for RedisPublisher
type Config struct {
	PublishTimeout   time.Duration
	SubscribeTimeout time.Duration
	EventBufferSize  int
}

// DefaultConfig returns default configuration values
func DefaultConfig() Config {
	return Config{
		PublishTimeout:   5 * time.Second,
		SubscribeTimeout: 10 * time.Second,
		EventBufferSize:  100,
	}
}

// metrics holds Prometheus metrics for the publisher
type metrics struct {
	publishLatency    prometheus.Histogram
	subscribeLatency  prometheus.Histogram
	errorCount        *prometheus.CounterVec
	eventCount        *prometheus.CounterVec
	activeSubscribers prometheus.Gauge
}

var (
	metricsInstance *metrics
	metricsOnce     sync.Once
	defaultRegistry = prometheus.DefaultRegisterer
)

// newMetrics initializes and registers Prometheus metrics using a singleton
// so repeated publisher construction does not re-register collectors.
func newMetrics() *metrics {
	metricsOnce.Do(func() {
		metricsInstance = &metrics{
			publishLatency: promauto.With(defaultRegistry).NewHistogram(prometheus.HistogramOpts{
				Name:    "presence_event_publish_duration_seconds",
				Help:    "Time taken to publish presence events",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			}),
			subscribeLatency: promauto.With(defaultRegistry).NewHistogram(prometheus.HistogramOpts{
				Name:    "presence_event_subscribe_duration_seconds",
				Help:    "Time taken to establish feed subscriptions",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			}),
			errorCount: promauto.With(defaultRegistry).NewCounterVec(prometheus.CounterOpts{
				Name: "presence_event_errors_total",
				Help: "Total number of feed-related errors",
			}, []string{"operation", "type"}),
			eventCount: promauto.With(defaultRegistry).NewCounterVec(prometheus.CounterOpts{
				Name: "presence_events_total",
				Help: "Total number of feed events by operation and type",
			}, []string{"operation", "type"}),
			activeSubscribers: promauto.With(defaultRegistry).NewGauge(prometheus.GaugeOpts{
				Name: "presence_event_active_subscribers",
				Help: "Current number of active feed subscribers",
			}),
		}
	})
	return metricsInstance
}

// For testing purposes - reset metrics
func resetMetricsForTesting() {
	reg := prometheus.NewRegistry()
	defaultRegistry = reg

	metricsInstance = nil
	metricsOnce = sync.Once{}
}

// RedisPublisher implements types.EventPublisher using Redis Pub/Sub
type RedisPublisher struct {
	rdb     redis.UniversalClient
	log     *zap.SugaredLogger
	metrics *metrics
	config  Config
	mu      sync.RWMutex
	subs    map[string]*subscription
	wg      sync.WaitGroup
}

type subscription struct {
	pubsub    *redis.PubSub
	cancelCtx context.CancelFunc
	closeOnce sync.Once // Ensures pubsub is closed exactly once
}

// NewRedisPublisher creates a new RedisPublisher instance
func NewRedisPublisher(rdb redis.UniversalClient, cfg ...Config) *RedisPublisher {
	config := DefaultConfig()
	if len(cfg) > 0 {
		config = cfg[0]
	}

	return &RedisPublisher{
		rdb:     rdb,
		log:     logger.GetLogger().Named("events"),
		metrics: newMetrics(),
		config:  config,
		subs:    make(map[string]*subscription),
	}
}

func tripChannel(tripID string) string {
	return fmt.Sprintf("trip:%s", tripID)
}

// Publish publishes an event to the trip's feed channel.
func (p *RedisPublisher) Publish(ctx context.Context, tripID string, event types.Event) error {
	start := time.Now()
	defer func() {
		p.metrics.publishLatency.Observe(time.Since(start).Seconds())
	}()

	// Set defaults if needed
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Version == 0 {
		event.Version = 1
	}

	if err := event.Validate(); err != nil {
		p.metrics.errorCount.WithLabelValues("publish", "validation").Inc()
		return fmt.Errorf("invalid event: %w", err)
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.metrics.errorCount.WithLabelValues("publish", "marshal").Inc()
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.PublishTimeout)
	defer cancel()

	if err := p.rdb.Publish(ctx, tripChannel(tripID), data).Err(); err != nil {
		p.metrics.errorCount.WithLabelValues("publish", "redis").Inc()
		return fmt.Errorf("redis publish: %w", err)
	}

	p.metrics.eventCount.WithLabelValues("publish", string(event.Type)).Inc()
	return nil
}

// Subscribe subscribes to the feed for a specific trip. One subscription is
// allowed per (tripID, userID) pair; a second attempt fails until the first
// is released.
func (p *RedisPublisher) Subscribe(ctx context.Context, tripID string, userID string, filters ...types.EventType) (<-chan types.Event, error) {
	start := time.Now()
	defer func() {
		p.metrics.subscribeLatency.Observe(time.Since(start).Seconds())
	}()

	subKey := fmt.Sprintf("%s:%s", tripID, userID)

	p.mu.Lock()
	if _, exists := p.subs[subKey]; exists {
		p.mu.Unlock()
		p.metrics.errorCount.WithLabelValues("subscribe", "duplicate").Inc()
		return nil, fmt.Errorf("subscription already exists for trip %s and user %s", tripID, userID)
	}

	pubsub := p.rdb.Subscribe(ctx, tripChannel(tripID))
	subCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{pubsub: pubsub, cancelCtx: cancel}
	p.subs[subKey] = sub
	p.mu.Unlock()

	p.metrics.activeSubscribers.Inc()

	events := make(chan types.Event, p.config.EventBufferSize)
	readyCh := make(chan struct{})

	p.wg.Add(1)
	go p.processMessages(subCtx, pubsub, events, filters, subKey, readyCh)

	// Wait for subscription to be ready (with timeout)
	select {
	case <-readyCh:
		// Subscription established
	case <-time.After(p.config.SubscribeTimeout):
		p.log.Warnw("Subscription ready timeout", "subKey", subKey)
	case <-ctx.Done():
		// Roll back the registration so a retry can claim the key; the
		// processMessages goroutine exits on the cancelled context.
		cancel()
		sub.closeOnce.Do(func() {
			if err := pubsub.Close(); err != nil {
				p.log.Errorw("Error closing pubsub after cancelled subscribe", "error", err, "subKey", subKey)
			}
		})
		p.mu.Lock()
		delete(p.subs, subKey)
		p.mu.Unlock()
		return nil, ctx.Err()
	}

	return events, nil
}

// processMessages handles incoming Redis messages
func (p *RedisPublisher) processMessages(ctx context.Context, pubsub *redis.PubSub, events chan<- types.Event, filters []types.EventType, subKey string, readyCh chan<- struct{}) {
	defer p.wg.Done()
	defer func() {
		// Close pubsub connection exactly once using the subscription's closeOnce
		p.mu.RLock()
		sub, exists := p.subs[subKey]
		p.mu.RUnlock()

		if exists {
			sub.closeOnce.Do(func() {
				if err := pubsub.Close(); err != nil {
					p.log.Errorw("Error closing pubsub in processMessages", "error", err, "subKey", subKey)
				}
			})
		}

		close(events)
		p.metrics.activeSubscribers.Dec()
		p.log.Infow("Subscription closed", "subKey", subKey)
	}()

	ch := pubsub.Channel()

	// Signal that subscription is ready
	close(readyCh)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event types.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				p.metrics.errorCount.WithLabelValues("process", "unmarshal").Inc()
				p.log.Errorw("Failed to unmarshal event", "error", err, "subKey", subKey)
				continue
			}

			// Apply filters if any
			if len(filters) > 0 {
				matched := false
				for _, filter := range filters {
					if event.Type == filter {
						matched = true
						break
					}
				}
				if !matched {
					continue
				}
			}

			// Try to send event, drop if channel is full
			select {
			case events <- event:
				p.metrics.eventCount.WithLabelValues("receive", string(event.Type)).Inc()
			default:
				p.metrics.errorCount.WithLabelValues("process", "channel_full").Inc()
				p.log.Warnw("Dropped event due to full channel", "subKey", subKey, "eventType", event.Type)
			}
		}
	}
}

// Unsubscribe removes a subscription
func (p *RedisPublisher) Unsubscribe(ctx context.Context, tripID string, userID string) error {
	subKey := fmt.Sprintf("%s:%s", tripID, userID)

	p.mu.Lock()
	sub, exists := p.subs[subKey]
	if !exists {
		p.mu.Unlock()
		return fmt.Errorf("no subscription found for trip %s and user %s", tripID, userID)
	}

	// Cancel the context to signal processMessages to stop
	sub.cancelCtx()

	// Close the pubsub connection exactly once; processMessages may also try.
	sub.closeOnce.Do(func() {
		if err := sub.pubsub.Close(); err != nil {
			p.log.Errorw("Error closing pubsub during unsubscribe", "error", err, "subKey", subKey)
		}
	})

	delete(p.subs, subKey)
	p.mu.Unlock()

	return nil
}

// Shutdown gracefully shuts down the publisher
func (p *RedisPublisher) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	localSubs := make(map[string]*subscription, len(p.subs))
	for k, v := range p.subs {
		localSubs[k] = v
	}
	p.subs = make(map[string]*subscription)
	p.mu.Unlock()

	p.log.Infow("Shutting down RedisPublisher, cancelling subscriptions...", "count", len(localSubs))

	for subKey, sub := range localSubs {
		p.log.Debugw("Cancelling context for subscription", "subKey", subKey)
		sub.cancelCtx()
	}

	p.wg.Wait()
	p.log.Infow("All subscription goroutines finished. RedisPublisher shutdown complete.")

	return nil
}
