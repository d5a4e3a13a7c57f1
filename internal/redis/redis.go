// Package redis opens the Redis connection shared by the distributed bus and
// the cross-process session presence registry.
//
// Graceful fallback: presence operations that fail are logged and treated as
// "unknown" instead of blocking the relay.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key prefixes.
const (
	KeyPresence = "presence:" // session key -> owning relay instance
)

// Config holds Redis connection settings.
type Config struct {
	URL      string `json:"url,omitempty" env:"REDIS_URL"` // redis://host:port
	Password string `json:"password,omitempty" env:"REDIS_PASSWORD"`
	DB       int    `json:"db,omitempty" env:"REDIS_DB"`
}

// Open parses cfg, connects and pings the server.
func Open(ctx context.Context, cfg Config) (*redis.Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.MaxRetries = 3

	c := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.Ping(ctx).Err(); err != nil {
		c.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	logf("✅ Connected to %s (db %d)", opts.Addr, opts.DB)
	return c, nil
}

// PresenceKey returns the Redis key recording which relay holds a session.
func PresenceKey(session string) string {
	return fmt.Sprintf("%s%s", KeyPresence, session)
}
