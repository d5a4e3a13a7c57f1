package redis

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultPresenceTTL is how long a presence mark survives without refresh.
const DefaultPresenceTTL = 2 * time.Minute

// clearIfOwner deletes the key only while it still names this instance, so a
// reconnect on another relay is not erased by the old one closing.
var clearIfOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Presence records which relay instance holds the live connection of a
// session, so an instance without the connection can tell "left" apart from
// "connected elsewhere".
type Presence struct {
	client *redis.Client
	owner  string
	ttl    time.Duration
}

// NewPresence creates a registry for the relay instance named owner.
func NewPresence(client *redis.Client, owner string, ttl time.Duration) *Presence {
	if ttl <= 0 {
		ttl = DefaultPresenceTTL
	}
	return &Presence{client: client, owner: owner, ttl: ttl}
}

// Owner returns the instance name written into presence keys.
func (p *Presence) Owner() string { return p.owner }

// Mark claims session for this instance, refreshing the TTL.
func (p *Presence) Mark(ctx context.Context, session string) bool {
	key := PresenceKey(session)
	if err := p.client.Set(ctx, key, p.owner, p.ttl).Err(); err != nil {
		logf("presence mark failed (%s): %v", key, err)
		return false
	}
	return true
}

// Clear drops the claim if this instance still holds it.
func (p *Presence) Clear(ctx context.Context, session string) bool {
	key := PresenceKey(session)
	if err := clearIfOwner.Run(ctx, p.client, []string{key}, p.owner).Err(); err != nil {
		logf("presence clear failed (%s): %v", key, err)
		return false
	}
	return true
}

// Elsewhere reports whether another instance holds session.
func (p *Presence) Elsewhere(ctx context.Context, session string) bool {
	key := PresenceKey(session)
	owner, err := p.client.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			logf("presence lookup failed (%s): %v", key, err)
		}
		return false
	}
	return owner != "" && owner != p.owner
}

func logf(format string, args ...any) {
	log.Printf("[Redis] "+format, args...)
}
