package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/catalog-sync/pkg/credentials"
	"github.com/rs/zerolog"
)

func TestCoordinator_StoresToken(t *testing.T) {
	cell := &credentials.TokenCell{}
	c := NewCoordinator(RefresherFunc(func(context.Context) (string, error) {
		return "new-token", nil
	}), cell, zerolog.Nop())

	token, err := c.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if token != "new-token" || cell.Load() != "new-token" {
		t.Errorf("token = %q, cell = %q", token, cell.Load())
	}
}

func TestCoordinator_ErrorLeavesCell(t *testing.T) {
	cell := &credentials.TokenCell{}
	cell.Store("old")
	boom := errors.New("boom")
	c := NewCoordinator(RefresherFunc(func(context.Context) (string, error) {
		return "", boom
	}), cell, zerolog.Nop())

	if _, err := c.Refresh(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Expected wrapped refresher error, got %v", err)
	}
	if cell.Load() != "old" {
		t.Errorf("cell = %q, want old", cell.Load())
	}
}

func TestCoordinator_SingleFlight(t *testing.T) {
	const waiters = 20

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var calls int32
	c := NewCoordinator(RefresherFunc(func(context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		started <- struct{}{}
		<-release
		return "shared", nil
	}), &credentials.TokenCell{}, zerolog.Nop())

	var wg sync.WaitGroup
	results := make(chan string, waiters)

	wg.Add(1)
	go func() {
		defer wg.Done()
		token, _ := c.Refresh(context.Background())
		results <- token
	}()
	<-started

	for i := 1; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, _ := c.Refresh(context.Background())
			results <- token
		}()
	}

	// Give the joiners time to attach to the in-flight call.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	for token := range results {
		if token != "shared" {
			t.Errorf("token = %q, want shared", token)
		}
	}
	if calls != 1 {
		t.Errorf("refresher calls = %d, want 1", calls)
	}
}

func TestCoordinator_NewRefreshAfterSettle(t *testing.T) {
	var calls int32
	c := NewCoordinator(RefresherFunc(func(context.Context) (string, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return "", errors.New("first fails")
		}
		return "second", nil
	}), &credentials.TokenCell{}, zerolog.Nop())

	if _, err := c.Refresh(context.Background()); err == nil {
		t.Fatal("Expected first refresh to fail")
	}
	token, err := c.Refresh(context.Background())
	if err != nil || token != "second" {
		t.Errorf("second refresh = %q, %v", token, err)
	}
	if calls != 2 {
		t.Errorf("refresher calls = %d, want 2", calls)
	}
}

func TestCoordinator_WaiterCancelDoesNotAbortRefresh(t *testing.T) {
	release := make(chan struct{})
	done := make(chan struct{})
	cell := &credentials.TokenCell{}
	c := NewCoordinator(RefresherFunc(func(ctx context.Context) (string, error) {
		defer close(done)
		<-release
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "survived", nil
	}), cell, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Refresh(ctx)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("waiter error = %v, want context.Canceled", err)
	}

	close(release)
	<-done
	// The store happens right after the refresher returns.
	deadline := time.Now().Add(time.Second)
	for cell.Load() != "survived" && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if cell.Load() != "survived" {
		t.Errorf("cell = %q, want survived", cell.Load())
	}
}
