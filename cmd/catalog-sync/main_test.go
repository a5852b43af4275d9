package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/catalog-sync/pkg/credentials"
	"github.com/Sternrassler/catalog-sync/pkg/store"
	"github.com/Sternrassler/catalog-sync/pkg/syncer"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type fakeRunner struct {
	running atomic.Bool
	calls   atomic.Int32
	err     error
	ran     chan struct{}
}

func (f *fakeRunner) Run(context.Context) (syncer.Summary, error) {
	f.calls.Add(1)
	if f.ran != nil {
		f.ran <- struct{}{}
	}
	return syncer.Summary{RunID: uuid.New()}, f.err
}

func (f *fakeRunner) Running() bool { return f.running.Load() }

type fakeRuns struct {
	run *store.Run
	err error
}

func (f *fakeRuns) Latest(context.Context, int64) (*store.Run, error) {
	return f.run, f.err
}

func newAdmin(runner syncRunner, runs runLookup, trigger chan struct{}) *adminServer {
	return &adminServer{
		runner:  runner,
		runs:    runs,
		shopID:  42,
		trigger: trigger,
		checks:  map[string]func(context.Context) error{},
		logger:  zerolog.Nop(),
	}
}

func do(t *testing.T, h http.Handler, method, path string) (*http.Response, string) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func TestHealthEndpoint(t *testing.T) {
	resp, body := do(t, newAdmin(&fakeRunner{}, &fakeRuns{}, nil).routes(), http.MethodGet, "/health")

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if body != "OK" {
		t.Errorf("Expected body 'OK', got %s", body)
	}
}

func TestReadyEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]func(context.Context) error
		wantStatus int
	}{
		{
			name:       "all healthy",
			checks:     map[string]func(context.Context) error{"postgres": func(context.Context) error { return nil }},
			wantStatus: http.StatusOK,
		},
		{
			name: "one failing",
			checks: map[string]func(context.Context) error{
				"postgres": func(context.Context) error { return nil },
				"redis":    func(context.Context) error { return errors.New("connection refused") },
			},
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			admin := newAdmin(&fakeRunner{}, &fakeRuns{}, nil)
			admin.checks = tt.checks

			resp, body := do(t, admin.routes(), http.MethodGet, "/ready")
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d (%s)", resp.StatusCode, tt.wantStatus, body)
			}
			var result map[string]string
			if err := json.Unmarshal([]byte(body), &result); err != nil {
				t.Fatalf("body is not JSON: %v", err)
			}
			if len(result) != len(tt.checks) {
				t.Errorf("result = %v", result)
			}
		})
	}
}

// setupTestRedis connects to a local Redis or skips.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestReadyEndpoint_Redis(t *testing.T) {
	redisClient := setupTestRedis(t)

	admin := newAdmin(&fakeRunner{}, &fakeRuns{}, nil)
	admin.checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }

	resp, body := do(t, admin.routes(), http.MethodGet, "/ready")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, body %s", resp.StatusCode, body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	resp, body := do(t, newAdmin(&fakeRunner{}, &fakeRuns{}, nil).routes(), http.MethodGet, "/metrics")

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Error("Expected default Go collector metrics")
	}
}

func TestSyncEndpoint(t *testing.T) {
	t.Run("queues a pass", func(t *testing.T) {
		trigger := make(chan struct{}, 1)
		resp, _ := do(t, newAdmin(&fakeRunner{}, &fakeRuns{}, trigger).routes(), http.MethodPost, "/sync")
		if resp.StatusCode != http.StatusAccepted {
			t.Errorf("status = %d, want 202", resp.StatusCode)
		}
		if len(trigger) != 1 {
			t.Error("trigger should be queued")
		}
	})

	t.Run("already queued", func(t *testing.T) {
		trigger := make(chan struct{}, 1)
		trigger <- struct{}{}
		resp, _ := do(t, newAdmin(&fakeRunner{}, &fakeRuns{}, trigger).routes(), http.MethodPost, "/sync")
		if resp.StatusCode != http.StatusConflict {
			t.Errorf("status = %d, want 409", resp.StatusCode)
		}
	})

	t.Run("pass running", func(t *testing.T) {
		runner := &fakeRunner{}
		runner.running.Store(true)
		trigger := make(chan struct{}, 1)
		resp, body := do(t, newAdmin(runner, &fakeRuns{}, trigger).routes(), http.MethodPost, "/sync")
		if resp.StatusCode != http.StatusConflict || !strings.Contains(body, "running") {
			t.Errorf("status = %d body %s, want 409 running", resp.StatusCode, body)
		}
		if len(trigger) != 0 {
			t.Error("nothing should be queued while running")
		}
	})

	t.Run("wrong method", func(t *testing.T) {
		resp, _ := do(t, newAdmin(&fakeRunner{}, &fakeRuns{}, nil).routes(), http.MethodGet, "/sync")
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("status = %d, want 405", resp.StatusCode)
		}
	})
}

func TestLatestRunEndpoint(t *testing.T) {
	id := uuid.New()

	tests := []struct {
		name       string
		runs       *fakeRuns
		wantStatus int
		wantBody   string
	}{
		{"found", &fakeRuns{run: &store.Run{ID: id, ShopID: 42, Status: store.RunSucceeded, ItemCount: 3}}, http.StatusOK, id.String()},
		{"none yet", &fakeRuns{err: store.ErrRunNotFound}, http.StatusNotFound, "not found"},
		{"journal error", &fakeRuns{err: errors.New("conn reset")}, http.StatusInternalServerError, "journal unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, newAdmin(&fakeRunner{}, tt.runs, nil).routes(), http.MethodGet, "/runs/latest")
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if !strings.Contains(body, tt.wantBody) {
				t.Errorf("body %s should contain %q", body, tt.wantBody)
			}
		})
	}
}

func TestSyncLoop(t *testing.T) {
	runner := &fakeRunner{ran: make(chan struct{}, 4), err: errors.New("list failed")}
	trigger := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		syncLoop(ctx, runner, time.Hour, trigger, zerolog.Nop())
	}()

	wait := func(what string) {
		select {
		case <-runner.ran:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s pass", what)
		}
	}

	wait("startup")
	// A failed pass does not stop the loop.
	trigger <- struct{}{}
	wait("manual")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop on cancel")
	}
	if got := runner.calls.Load(); got != 2 {
		t.Errorf("passes = %d, want 2", got)
	}
}

func TestSyncLoop_Interval(t *testing.T) {
	runner := &fakeRunner{ran: make(chan struct{}, 8)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go syncLoop(ctx, runner, 10*time.Millisecond, nil, zerolog.Nop())

	for i := 0; i < 3; i++ {
		select {
		case <-runner.ran:
		case <-time.After(2 * time.Second):
			t.Fatalf("pass %d did not run", i)
		}
	}
}

type memoryTokens struct {
	mu     sync.Mutex
	tokens map[int64]credentials.Token
}

func (m *memoryTokens) Get(_ context.Context, shopID int64) (credentials.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[shopID]
	if !ok {
		return credentials.Token{}, credentials.ErrNoToken
	}
	return tok, nil
}

func (m *memoryTokens) Put(_ context.Context, shopID int64, tok credentials.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[shopID] = tok
	return nil
}

type countingRefresher struct {
	calls atomic.Int32
	cell  *credentials.TokenCell
}

func (c *countingRefresher) Refresh(context.Context) (string, error) {
	c.calls.Add(1)
	c.cell.Store("fresh")
	return "fresh", nil
}

func TestLoadToken(t *testing.T) {
	ctx := context.Background()

	t.Run("stored token", func(t *testing.T) {
		tokens := &memoryTokens{tokens: map[int64]credentials.Token{42: {AccessToken: "stored"}}}
		creds := credentials.New(1, "key", "http://example.invalid", 42)
		ref := &countingRefresher{cell: creds.Token}

		if err := loadToken(ctx, credentials.NewStore(creds, tokens, zerolog.Nop()), ref, "seed"); err != nil {
			t.Fatalf("loadToken() error = %v", err)
		}
		if creds.Token.Load() != "stored" || ref.calls.Load() != 0 {
			t.Errorf("cell = %q, refreshes = %d", creds.Token.Load(), ref.calls.Load())
		}
	})

	t.Run("seed and refresh", func(t *testing.T) {
		tokens := &memoryTokens{tokens: map[int64]credentials.Token{}}
		creds := credentials.New(1, "key", "http://example.invalid", 42)
		ref := &countingRefresher{cell: creds.Token}

		if err := loadToken(ctx, credentials.NewStore(creds, tokens, zerolog.Nop()), ref, "seed"); err != nil {
			t.Fatalf("loadToken() error = %v", err)
		}
		if ref.calls.Load() != 1 || creds.Token.Load() != "fresh" {
			t.Errorf("cell = %q, refreshes = %d", creds.Token.Load(), ref.calls.Load())
		}
		if tokens.tokens[42].RefreshToken != "seed" {
			t.Error("refresh token should be seeded")
		}
	})

	t.Run("empty without seed", func(t *testing.T) {
		tokens := &memoryTokens{tokens: map[int64]credentials.Token{}}
		creds := credentials.New(1, "key", "http://example.invalid", 42)

		err := loadToken(ctx, credentials.NewStore(creds, tokens, zerolog.Nop()), &countingRefresher{cell: creds.Token}, "")
		if !errors.Is(err, credentials.ErrNoToken) {
			t.Errorf("err = %v, want ErrNoToken", err)
		}
	})
}
