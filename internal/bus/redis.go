package bus

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	// redisOpTimeout bounds every publish/subscribe round trip.
	redisOpTimeout = 3 * time.Second
	// redisRetryDelay is the pause after a failed receive.
	redisRetryDelay = time.Second
)

// RedisBus is the distributed backend built on Redis pub/sub. The broker
// channel name is the routing key, so every process subscribed to a pair
// receives its messages.
type RedisBus struct {
	dispatcher

	client       *goredis.Client
	pubsub       *goredis.PubSub
	pollInterval time.Duration

	subMu sync.Mutex // serializes broker subscription changes
}

// NewRedisBus wraps an open client. A zero pollInterval uses
// DefaultPollInterval.
func NewRedisBus(client *goredis.Client, pollInterval time.Duration) *RedisBus {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	b := &RedisBus{
		client:       client,
		pubsub:       client.Subscribe(context.Background()),
		pollInterval: pollInterval,
	}
	b.init("redis", b.next)
	return b
}

// Publish sends msg to the broker.
func (b *RedisBus) Publish(msg Message) bool {
	data, err := msg.Encode()
	if err != nil {
		logf("redis publish %s: %v", msg.RoutingKey(), err)
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := b.client.Publish(ctx, msg.RoutingKey(), data).Err(); err != nil {
		logf("redis publish %s failed: %v", msg.RoutingKey(), err)
		return false
	}
	return true
}

// Subscribe registers listener for (channel, dir). Subscribing a pair that is
// already subscribed keeps the existing listener.
func (b *RedisBus) Subscribe(channel string, dir Direction, listener Listener) bool {
	if listener == nil {
		return false
	}
	key := RoutingKey(channel, dir)
	b.subMu.Lock()
	defer b.subMu.Unlock()
	if !b.has(key) {
		ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
		defer cancel()
		if err := b.pubsub.Subscribe(ctx, key); err != nil {
			logf("redis subscribe %s failed: %v", key, err)
			return false
		}
		b.set(key, listener)
	}
	b.start()
	return true
}

// Unsubscribe removes the listener for (channel, dir).
func (b *RedisBus) Unsubscribe(channel string, dir Direction) bool {
	key := RoutingKey(channel, dir)
	b.subMu.Lock()
	defer b.subMu.Unlock()
	if !b.has(key) {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := b.pubsub.Unsubscribe(ctx, key); err != nil {
		logf("redis unsubscribe %s failed: %v", key, err)
		return false
	}
	b.remove(key)
	return true
}

// Close stops the consumption loop and releases the Redis connections.
func (b *RedisBus) Close() error {
	b.stop()
	err := b.pubsub.Close()
	if cerr := b.client.Close(); err == nil {
		err = cerr
	}
	return err
}

func (b *RedisBus) next(ctx context.Context) (Message, bool) {
	raw, err := b.pubsub.ReceiveTimeout(ctx, b.pollInterval)
	if err != nil {
		if ctx.Err() != nil || isTimeout(err) {
			return Message{}, false
		}
		logf("redis receive failed: %v", err)
		select {
		case <-ctx.Done():
		case <-time.After(redisRetryDelay):
		}
		return Message{}, false
	}

	m, ok := raw.(*goredis.Message)
	if !ok {
		// subscription confirmations and pongs
		return Message{}, false
	}
	msg, err := DecodeMessage([]byte(m.Payload))
	if err != nil {
		logf("redis message on %s dropped: %v", m.Channel, err)
		return Message{}, false
	}
	if msg.RoutingKey() != m.Channel {
		logf("redis message on %s carries routing key %s, dropped", m.Channel, msg.RoutingKey())
		return Message{}, false
	}
	return msg, true
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
