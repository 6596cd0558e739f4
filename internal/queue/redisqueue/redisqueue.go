// Package redisqueue implements queue.Queue on top of go-redis, grounded on
// the teacher's internal/infra/storage/redis client wrapper: a thin struct
// holding a *redis.Client, with one method per collaborator contract
// operation and a compile-time interface assertion.
package redisqueue

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/centralbank/ledgerd/internal/queue"
)

// client adapts a *redis.Client to queue.Queue.
type client struct {
	conn *redis.Client
}

var _ queue.Queue = (*client)(nil)

// New opens a connection to addr and verifies it with a PING, mirroring the
// teacher's redis.NewClient constructor.
func New(ctx context.Context, addr, username, password string, db int) (*client, error) {
	conn := redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: username,
		Password: password,
		DB:       db,
	})

	if err := conn.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &client{conn: conn}, nil
}

// Close releases the underlying connection.
func (c *client) Close() error {
	return c.conn.Close()
}

// Conn exposes the underlying *redis.Client so the composition root can
// share one Redis connection between the mempool queue and BalanceView's
// cache rather than dialing twice.
func (c *client) Conn() *redis.Client {
	return c.conn
}

func (c *client) Push(ctx context.Context, list string, value string) error {
	return c.conn.LPush(ctx, list, value).Err()
}

// PushFront uses the same LPUSH as Push: the Queue contract (spec.md §6)
// only defines one push primitive, and re-queuing a collected id after a
// failed seal is spelled out as going through that same head-side LPUSH,
// not a distinct tail-side operation.
func (c *client) PushFront(ctx context.Context, list string, value string) error {
	return c.conn.LPush(ctx, list, value).Err()
}

func (c *client) Pop(ctx context.Context, list string, n int) ([]string, error) {
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		val, err := c.conn.RPop(ctx, list).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return out, err
		}
		out = append(out, val)
	}
	return out, nil
}

func (c *client) AcquireLease(ctx context.Context, key string, ttl queue.Seconds) (bool, error) {
	return c.conn.SetNX(ctx, key, "1", time.Duration(ttl)*time.Second).Result()
}

func (c *client) ReleaseLease(ctx context.Context, key string) error {
	return c.conn.Del(ctx, key).Err()
}
