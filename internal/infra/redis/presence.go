package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"quizzana/internal/domain"
)

// Presence tracks connections per player in a Redis hash so all instances see
// the same waiting room:
//
//	HINCRBY room:{roomID}:presence {playerID} 1
//
// The hash expires after ttl without activity, clearing presence left behind by
// crashed instances.
type Presence struct {
	client *redis.Client
	ttl    time.Duration
}

func NewPresence(client *redis.Client, ttl time.Duration) *Presence {
	return &Presence{client: client, ttl: ttl}
}

func (p *Presence) Connect(ctx context.Context, roomID, playerID string) error {
	key := p.key(roomID)
	pipe := p.client.TxPipeline()
	pipe.HIncrBy(ctx, key, playerID, 1)
	if p.ttl > 0 {
		pipe.Expire(ctx, key, p.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.Transient("presence connect", err)
	}
	return nil
}

func (p *Presence) Disconnect(ctx context.Context, roomID, playerID string) error {
	key := p.key(roomID)
	left, err := p.client.HIncrBy(ctx, key, playerID, -1).Result()
	if err != nil {
		return domain.Transient("presence disconnect", err)
	}
	if left <= 0 {
		if err := p.client.HDel(ctx, key, playerID).Err(); err != nil {
			return domain.Transient("presence disconnect", err)
		}
	}
	return nil
}

func (p *Presence) Online(ctx context.Context, roomID string) (map[string]bool, error) {
	conns, err := p.client.HGetAll(ctx, p.key(roomID)).Result()
	if err != nil {
		return nil, domain.Transient("presence online", err)
	}
	out := make(map[string]bool, len(conns))
	for id, n := range conns {
		if n != "0" && n != "" && n[0] != '-' {
			out[id] = true
		}
	}
	return out, nil
}

func (p *Presence) key(roomID string) string {
	return "room:" + roomID + ":presence"
}
