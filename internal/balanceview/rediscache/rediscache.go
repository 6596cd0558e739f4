// Package rediscache implements balanceview.Cache on top of go-redis,
// mirroring internal/queue/redisqueue's thin client-wrapper pattern.
package rediscache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/centralbank/ledgerd/internal/balanceview"
)

type client struct {
	conn *redis.Client
}

var _ balanceview.Cache = (*client)(nil)

// New adapts an already-connected *redis.Client to balanceview.Cache. It is
// expected to share the connection opened for internal/queue/redisqueue, so
// the composition root only dials Redis once.
func New(conn *redis.Client) *client {
	return &client{conn: conn}
}

func (c *client) Get(ctx context.Context, key string) (string, error) {
	val, err := c.conn.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", balanceview.ErrCacheMiss
	}
	return val, err
}

func (c *client) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return c.conn.Set(ctx, key, value, ttl).Err()
}

func (c *client) Del(ctx context.Context, key string) error {
	return c.conn.Del(ctx, key).Err()
}
