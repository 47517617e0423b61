package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Presence marks live rooms in Redis so operators (and, later, sibling
// instances) can see which room codes are active on this deployment.
// Best-effort: a room works fine even when Redis is down.
type Presence struct {
	client *redis.Client
	ttl    time.Duration
}

func NewPresence(client *redis.Client, ttl time.Duration) *Presence {
	return &Presence{client: client, ttl: ttl}
}

func (p *Presence) MarkLive(ctx context.Context, roomCode string) {
	_ = p.client.Set(ctx, p.key(roomCode), "1", p.ttl).Err()
}

func (p *Presence) Clear(ctx context.Context, roomCode string) {
	_ = p.client.Del(ctx, p.key(roomCode)).Err()
}

// IsLive reports whether a room is marked live. Used by tests and ops
// tooling; the orchestrator itself never reads presence.
func (p *Presence) IsLive(ctx context.Context, roomCode string) bool {
	n, err := p.client.Exists(ctx, p.key(roomCode)).Result()
	return err == nil && n > 0
}

func (p *Presence) key(roomCode string) string {
	return "room:live:" + roomCode
}
