package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"quizzana/internal/domain"
)

// Denylist stores revoked token ids with a TTL matching the token expiry.
type Denylist struct {
	client *redis.Client
	clock  func() time.Time
}

func NewDenylist(client *redis.Client) *Denylist {
	return &Denylist{client: client, clock: time.Now}
}

func (d *Denylist) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	ttl := until.Sub(d.clock())
	if ttl <= 0 {
		return nil
	}
	if err := d.client.Set(ctx, d.key(tokenID), "1", ttl).Err(); err != nil {
		return domain.Transient("revoke token", err)
	}
	return nil
}

func (d *Denylist) Revoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := d.client.Exists(ctx, d.key(tokenID)).Result()
	if err != nil {
		return false, domain.Transient("check token", err)
	}
	return n > 0, nil
}

func (d *Denylist) key(tokenID string) string {
	return "auth:revoked:" + tokenID
}
