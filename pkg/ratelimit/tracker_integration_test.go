//go:build integration

package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client
func setupRedis(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestTracker_Integration_SharedAcrossInstances(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	first := NewTracker(redisClient, 1001, logger)
	second := NewTracker(redisClient, 1001, logger)
	otherPartner := NewTracker(redisClient, 2002, logger)
	ctx := context.Background()

	if err := first.RecordThrottle(ctx, 2*time.Second); err != nil {
		t.Fatalf("RecordThrottle() error = %v", err)
	}

	wait, err := second.Cooldown(ctx)
	if err != nil {
		t.Fatalf("Cooldown() error = %v", err)
	}
	if wait <= 0 {
		t.Error("second tracker should see the cooldown opened by the first")
	}

	wait, _ = otherPartner.Cooldown(ctx)
	if wait != 0 {
		t.Errorf("other partner Cooldown() = %v, want 0", wait)
	}

	time.Sleep(2100 * time.Millisecond)
	wait, _ = second.Cooldown(ctx)
	if wait != 0 {
		t.Errorf("Cooldown() after expiry = %v, want 0", wait)
	}
}
