package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// setupTestRedis creates a test Redis client.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestTracker_NoState(t *testing.T) {
	tracker := NewTracker(setupTestRedis(t), 1001, zerolog.Nop())
	ctx := context.Background()

	wait, err := tracker.Cooldown(ctx)
	if err != nil {
		t.Fatalf("Cooldown() error = %v", err)
	}
	if wait != 0 {
		t.Errorf("Cooldown() = %v, want 0", wait)
	}

	state, err := tracker.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.CoolingDown() || state.Throttles != 0 {
		t.Errorf("GetState() = %+v, want empty state", state)
	}
}

func TestTracker_RecordThrottle(t *testing.T) {
	tracker := NewTracker(setupTestRedis(t), 1001, zerolog.Nop())
	ctx := context.Background()

	if err := tracker.RecordThrottle(ctx, 3*time.Second); err != nil {
		t.Fatalf("RecordThrottle() error = %v", err)
	}

	wait, err := tracker.Cooldown(ctx)
	if err != nil {
		t.Fatalf("Cooldown() error = %v", err)
	}
	if wait <= 2*time.Second || wait > 3*time.Second {
		t.Errorf("Cooldown() = %v, want ~3s", wait)
	}

	// A shorter throttle does not shrink the open window.
	if err := tracker.RecordThrottle(ctx, time.Second); err != nil {
		t.Fatalf("RecordThrottle() error = %v", err)
	}
	wait, _ = tracker.Cooldown(ctx)
	if wait <= 2*time.Second {
		t.Errorf("Cooldown() after shorter throttle = %v, want still ~3s", wait)
	}

	state, err := tracker.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.Throttles != 2 {
		t.Errorf("Throttles = %d, want 2", state.Throttles)
	}
}

func TestTracker_CooldownCapped(t *testing.T) {
	tracker := NewTracker(setupTestRedis(t), 1001, zerolog.Nop())
	ctx := context.Background()

	if err := tracker.RecordThrottle(ctx, time.Hour); err != nil {
		t.Fatalf("RecordThrottle() error = %v", err)
	}
	wait, _ := tracker.Cooldown(ctx)
	if wait > MaxCooldown {
		t.Errorf("Cooldown() = %v, want <= %v", wait, MaxCooldown)
	}
}
