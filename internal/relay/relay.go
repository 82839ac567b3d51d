// Package relay mirrors bus events to a Redis pub/sub channel so that other
// strumspace instances, dashboards or bridges can follow sessions handled
// by this process.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dreamware/strumspace/internal/events"
	"github.com/dreamware/strumspace/internal/logging"
)

// Publisher sends one payload to a channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// RedisPublisher publishes through a go-redis client.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher connects to addr and verifies the connection with PING.
func NewRedisPublisher(ctx context.Context, addr, password string, db int) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return &RedisPublisher{client: client}, nil
}

// Publish implements Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	return p.client.Publish(ctx, channel, payload).Err()
}

// Close releases the connection pool.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// Envelope is the JSON message written to the channel.
type Envelope struct {
	Origin string       `json:"origin"`
	Event  events.Event `json:"event"`
}

// Stats counts relay outcomes.
type Stats struct {
	Published uint64 `json:"published"`
	Failed    uint64 `json:"failed"`
}

// Relay forwards every event on a bus to a Publisher.
type Relay struct {
	bus       *events.Bus
	pub       Publisher
	channel   string
	origin    string
	timeout   time.Duration
	published atomic.Uint64
	failed    atomic.Uint64
}

// New creates a relay. Each relay tags its messages with a random origin id.
func New(bus *events.Bus, pub Publisher, channel string) *Relay {
	return &Relay{
		bus:     bus,
		pub:     pub,
		channel: channel,
		origin:  uuid.NewString(),
		timeout: 2 * time.Second,
	}
}

// Origin returns the id stamped on outgoing envelopes.
func (r *Relay) Origin() string { return r.origin }

// Stats returns the current counters.
func (r *Relay) Stats() Stats {
	return Stats{Published: r.published.Load(), Failed: r.failed.Load()}
}

// Run subscribes to every topic and forwards events until ctx is cancelled
// or the bus is closed. Publish failures are logged and counted, never fatal.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.bus.SubscribeAll()
	defer r.bus.Unsubscribe(sub)

	logging.Info("Relay", "Relaying events to Redis channel %s", r.channel)

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			r.forward(ctx, ev)
		case <-ctx.Done():
			logging.Debug("Relay", "Relay stopping (%d published, %d failed)", r.published.Load(), r.failed.Load())
			return nil
		}
	}
}

func (r *Relay) forward(ctx context.Context, ev events.Event) {
	payload, err := json.Marshal(Envelope{Origin: r.origin, Event: ev})
	if err != nil {
		r.failed.Add(1)
		logging.Error("Relay", err, "Cannot encode %s event", ev.Type)
		return
	}

	pctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.pub.Publish(pctx, r.channel, payload); err != nil {
		r.failed.Add(1)
		logging.Warn("Relay", "Publishing %s event failed: %v", ev.Type, err)
		return
	}
	r.published.Add(1)
}
