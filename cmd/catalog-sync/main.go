package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sternrassler/catalog-sync/internal/config"
	"github.com/Sternrassler/catalog-sync/pkg/catalog"
	"github.com/Sternrassler/catalog-sync/pkg/client"
	"github.com/Sternrassler/catalog-sync/pkg/credentials"
	"github.com/Sternrassler/catalog-sync/pkg/logging"
	"github.com/Sternrassler/catalog-sync/pkg/pagination"
	"github.com/Sternrassler/catalog-sync/pkg/ratelimit"
	"github.com/Sternrassler/catalog-sync/pkg/signer"
	"github.com/Sternrassler/catalog-sync/pkg/store"
	"github.com/Sternrassler/catalog-sync/pkg/syncer"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logging.Setup(logging.Config{
		Level:   logging.Level(cfg.Log.Level),
		Pretty:  cfg.Log.Pretty,
		Output:  os.Stderr,
		Service: "catalog-sync",
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("catalog-sync stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("catalog-sync stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logging.NewLogger("main")

	// Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
	}
	logger.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")

	// PostgreSQL
	dsn := cfg.Database.DSN()
	if cfg.Database.Migrate {
		if err := store.Migrate(ctx, dsn); err != nil {
			return err
		}
		logger.Info().Msg("Database migrations applied")
	}
	db, err := store.New(ctx, dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	svc, err := buildSyncer(ctx, cfg, redisClient, db)
	if err != nil {
		return err
	}

	trigger := make(chan struct{}, 1)
	admin := &adminServer{
		runner:  svc,
		runs:    store.NewRuns(db),
		shopID:  cfg.Marketplace.ShopID,
		trigger: trigger,
		checks: map[string]func(context.Context) error{
			"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
			"postgres": db.Ping,
		},
		logger: logging.NewLogger("admin"),
	}

	if cfg.Sync.RunOnce {
		_, err := svc.Run(ctx)
		return err
	}

	srv := &http.Server{
		Addr:         cfg.Admin.Addr,
		Handler:      admin.routes(),
		ReadTimeout:  cfg.Admin.ReadTimeout,
		WriteTimeout: cfg.Admin.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Admin.Addr).Msg("Admin server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		syncLoop(ctx, svc, cfg.Sync.Interval, trigger, logging.NewLogger("sync-loop"))
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutting down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("admin server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Admin.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Admin server shutdown error")
	}
	<-loopDone
	return nil
}

// buildSyncer wires credentials, the resilient client and storage into a
// sync service.
func buildSyncer(ctx context.Context, cfg *config.Config, redisClient *redis.Client, db *store.DB) (*syncer.Service, error) {
	m := cfg.Marketplace

	creds := credentials.New(m.PartnerID, m.PartnerKey, m.Host, m.ShopID)
	tokens := credentials.NewRedisTokenStore(redisClient)
	credStore := credentials.NewStore(creds, tokens, logging.NewLogger("credentials"))
	sig := signer.NewHMAC(m.PartnerKey)

	clientCfg := client.DefaultConfig(creds, credentials.NewEndpointRefresher(creds, tokens, sig, logging.NewLogger("token-refresher")))
	clientCfg.Signer = sig
	clientCfg.Timeout = m.Timeout
	clientCfg.Pacer = ratelimit.NewPacer(m.RPS, m.Burst)
	if m.SharedCooldown {
		clientCfg.Cooldown = ratelimit.NewTracker(redisClient, m.PartnerID, logging.NewLogger("ratelimit"))
	}

	api, err := client.New(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create marketplace client: %w", err)
	}

	if err := loadToken(ctx, credStore, api.Coordinator(), m.RefreshToken); err != nil {
		return nil, err
	}

	products := catalog.New(api)
	lister := pagination.NewOrchestrator(products, pagination.Config{
		PageSize:   m.PageSize,
		GroupWidth: m.GroupWidth,
	})

	return syncer.New(syncer.Config{
		ShopID:            m.ShopID,
		Statuses:          m.Statuses,
		DetailConcurrency: cfg.Sync.DetailConcurrency,
		BatchSize:         cfg.Database.BatchSize,
	}, lister, products, store.NewPipeline(db), store.NewRuns(db)), nil
}

// loadToken fills the token cell from durable storage. When storage is
// empty and a refresh token is configured, it seeds storage and performs
// the first refresh.
func loadToken(ctx context.Context, credStore *credentials.Store, refresher client.Refresher, refreshToken string) error {
	_, err := credStore.LoadToken(ctx)
	if err == nil || !errors.Is(err, credentials.ErrNoToken) || refreshToken == "" {
		return err
	}

	if _, err := credStore.Seed(ctx, refreshToken); err != nil {
		return err
	}
	if _, err := refresher.Refresh(ctx); err != nil {
		return fmt.Errorf("initial token refresh: %w", err)
	}
	return nil
}
