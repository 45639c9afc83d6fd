// Package dataver tracks a monotonic data version so clients can cheaply
// poll whether any planning data changed since their last fetch.
package dataver

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

const counterKey = "planwise:data-version"

// Counter is a monotonic change counter. With a Redis client it is shared
// across instances; without one it degrades to a process-local counter.
type Counter struct {
	client *redis.Client
	local  atomic.Int64
}

func NewCounter(client *redis.Client) *Counter {
	return &Counter{client: client}
}

// Bump increments the version after a mutation. Redis failures fall through
// to the local counter so writes never fail on version bookkeeping.
func (c *Counter) Bump(ctx context.Context) int64 {
	if c.client != nil {
		value, err := c.client.Incr(ctx, counterKey).Result()
		if err == nil {
			c.local.Store(value)
			return value
		}
	}
	return c.local.Add(1)
}

// Value returns the current version without incrementing.
func (c *Counter) Value(ctx context.Context) (int64, error) {
	if c.client != nil {
		value, err := c.client.Get(ctx, counterKey).Int64()
		if err == redis.Nil {
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("read data version: %w", err)
		}
		return value, nil
	}
	return c.local.Load(), nil
}
