package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestLocal_BurstThenRefill(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLocal(Config{Limit: 3, Window: time.Second})
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if ok, _ := l.Allow(ctx, "c1"); !ok {
			t.Fatalf("Allow() #%d = false, want true", i+1)
		}
	}
	if ok, _ := l.Allow(ctx, "c1"); ok {
		t.Error("Allow() over burst = true, want false")
	}

	// Other keys have their own bucket.
	if ok, _ := l.Allow(ctx, "c2"); !ok {
		t.Error("Allow(c2) = false, want true")
	}

	// Half the window refills one and a half tokens.
	now = now.Add(time.Second / 2)
	if ok, _ := l.Allow(ctx, "c1"); !ok {
		t.Error("Allow() after refill = false, want true")
	}
	if ok, _ := l.Allow(ctx, "c1"); ok {
		t.Error("Allow() with half a token = true, want false")
	}

	// Refill never exceeds the burst.
	now = now.Add(time.Hour)
	allowed := 0
	for i := 0; i < 10; i++ {
		if ok, _ := l.Allow(ctx, "c1"); ok {
			allowed++
		}
	}
	if allowed != 3 {
		t.Errorf("allowed after long idle = %d, want 3", allowed)
	}
}

func TestLocal_Forget(t *testing.T) {
	l := NewLocal(Config{Limit: 1, Window: time.Minute})
	ctx := context.Background()

	_, _ = l.Allow(ctx, "c1")
	if ok, _ := l.Allow(ctx, "c1"); ok {
		t.Fatal("Allow() = true, want false")
	}
	if err := l.Forget(ctx, "c1"); err != nil {
		t.Fatalf("Forget() error = %v", err)
	}
	if l.Len() != 0 {
		t.Errorf("Len() = %d, want 0", l.Len())
	}
	if ok, _ := l.Allow(ctx, "c1"); !ok {
		t.Error("Allow() after Forget = false, want true")
	}
}

func TestConfig_Normalized(t *testing.T) {
	got := Config{}.normalized()
	if got != DefaultConfig() {
		t.Errorf("normalized() = %+v, want %+v", got, DefaultConfig())
	}
}

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
	})

	if err := client.Ping(t.Context()).Err(); err != nil {
		t.Skip("Redis not available, skipping integration test")
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisLimiter_Allow(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	l := NewRedisLimiter(client, Config{Limit: 3, Window: time.Minute}, "test:collab:ratelimit:")
	key := fmt.Sprintf("conn-%d", time.Now().UnixNano())
	t.Cleanup(func() { _ = l.Forget(ctx, key) })

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, key)
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !ok {
			t.Fatalf("Allow() #%d = false, want true", i+1)
		}
	}
	if ok, _ := l.Allow(ctx, key); ok {
		t.Error("Allow() over limit = true, want false")
	}

	if err := l.Forget(ctx, key); err != nil {
		t.Fatalf("Forget() error = %v", err)
	}
	if ok, _ := l.Allow(ctx, key); !ok {
		t.Error("Allow() after Forget = false, want true")
	}
}
