package dataver

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestCounterRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	counter := NewCounter(client)

	value, err := counter.Value(ctx)
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}
	if value != 0 {
		t.Errorf("expected initial version 0, got %d", value)
	}

	if got := counter.Bump(ctx); got != 1 {
		t.Errorf("expected version 1 after first bump, got %d", got)
	}
	if got := counter.Bump(ctx); got != 2 {
		t.Errorf("expected version 2 after second bump, got %d", got)
	}

	value, err = counter.Value(ctx)
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}
	if value != 2 {
		t.Errorf("expected version 2, got %d", value)
	}
}

func TestCounterLocalFallback(t *testing.T) {
	ctx := context.Background()
	counter := NewCounter(nil)

	for want := int64(1); want <= 3; want++ {
		if got := counter.Bump(ctx); got != want {
			t.Errorf("bump %d: expected %d, got %d", want, want, got)
		}
	}

	value, err := counter.Value(ctx)
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}
	if value != 3 {
		t.Errorf("expected version 3, got %d", value)
	}
}

func TestCounterRedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	counter := NewCounter(client)
	counter.Bump(ctx)

	// Redis drops; bumps keep going on the local counter.
	mr.Close()
	if got := counter.Bump(ctx); got != 2 {
		t.Errorf("expected fallback version 2, got %d", got)
	}
}
