package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/dayuer/tgchat-go/internal/redis"
)

// Listener handles one delivered message. Listeners of a single bus are
// never invoked concurrently.
type Listener func(ctx context.Context, msg Message)

// Bus routes each published message to the single listener registered for
// its (channel, direction) pair. Publish never blocks the caller; failures are
// logged and reported as false.
type Bus interface {
	Publish(msg Message) bool
	Subscribe(channel string, dir Direction, listener Listener) bool
	Unsubscribe(channel string, dir Direction) bool
	Close() error
}

// Backend kinds.
const (
	KindInternal = "internal"
	KindRedis    = "redis"
)

// DefaultPollInterval bounds how long the consumption loop waits for a
// message before checking again.
const DefaultPollInterval = 10 * time.Millisecond

// Config selects and configures a backend.
type Config struct {
	Kind         string
	PollInterval time.Duration
	Redis        redis.Config
}

// New returns the backend selected by cfg.Kind.
func New(ctx context.Context, cfg Config) (Bus, error) {
	switch cfg.Kind {
	case "", KindInternal:
		return NewInternalBus(cfg.PollInterval), nil
	case KindRedis:
		client, err := redis.Open(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("redis bus: %w", err)
		}
		return NewRedisBus(client, cfg.PollInterval), nil
	default:
		return nil, fmt.Errorf("bus %q is not supported", cfg.Kind)
	}
}

// Publish builds a message from payload and publishes it on b.
func Publish(b Bus, channel string, dir Direction, payload any) bool {
	msg, err := NewMessage(channel, dir, payload)
	if err != nil {
		logf("publish %s: %v", RoutingKey(channel, dir), err)
		return false
	}
	return b.Publish(msg)
}
