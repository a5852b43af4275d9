// Package syncer runs a full catalog sync pass for one shop.
//
// A pass lists every item id across the configured status partitions,
// enriches the ids with base info and model lists under a bounded worker
// limit, then upserts the projected records in batches. Each pass is
// recorded in the sync-run journal.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/catalog-sync/pkg/catalog"
	"github.com/Sternrassler/catalog-sync/pkg/pagination"
	"github.com/Sternrassler/catalog-sync/pkg/store"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// DefaultDetailConcurrency bounds in-flight base info and model list calls.
const DefaultDetailConcurrency = 10

// ErrAlreadyRunning is returned by Run while another pass is in progress.
var ErrAlreadyRunning = errors.New("sync already running")

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_sync_runs_total",
		Help: "Total number of sync passes by result",
	}, []string{"result"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "catalog_sync_run_duration_seconds",
		Help:    "Duration of full sync passes",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	})

	skippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_sync_skipped_objects_total",
		Help: "Marketplace objects dropped because they carry no usable id",
	}, []string{"kind"})
)

// Lister lists all item ids across status partitions.
type Lister interface {
	ListAllStatuses(ctx context.Context, statuses []string) ([]int64, error)
}

// Catalog fetches item details.
type Catalog interface {
	ItemBaseInfo(ctx context.Context, ids []int64) ([]catalog.Object, error)
	ModelList(ctx context.Context, itemID int64) ([]catalog.Object, error)
}

// Upserter persists projected records.
type Upserter interface {
	UpsertItems(ctx context.Context, items []store.Item, batchSize int) (store.BatchResult, error)
	UpsertModels(ctx context.Context, models []store.Model, batchSize int) (store.BatchResult, error)
}

// Journal records sync passes.
type Journal interface {
	Start(ctx context.Context, shopID int64) (store.Run, error)
	Finish(ctx context.Context, run store.Run, runErr error) (store.Run, error)
}

// Config holds the sync pass settings.
type Config struct {
	ShopID int64

	// Statuses are the item-status partitions to list.
	Statuses []string

	// DetailConcurrency bounds concurrent detail calls.
	DetailConcurrency int

	// BatchSize is the upsert batch size.
	BatchSize int
}

// DefaultConfig returns the default configuration for shopID.
func DefaultConfig(shopID int64) Config {
	return Config{
		ShopID:            shopID,
		Statuses:          pagination.DefaultStatuses,
		DetailConcurrency: DefaultDetailConcurrency,
		BatchSize:         store.DefaultBatchSize,
	}
}

// Summary describes a finished pass.
type Summary struct {
	RunID        uuid.UUID     `json:"run_id"`
	ListedIDs    int           `json:"listed_ids"`
	Items        int           `json:"items"`
	Models       int           `json:"models"`
	ItemBatches  int           `json:"item_batches"`
	ModelBatches int           `json:"model_batches"`
	Duration     time.Duration `json:"duration"`
}

// Service runs sync passes. At most one pass runs at a time.
type Service struct {
	config   Config
	lister   Lister
	catalog  Catalog
	upserter Upserter
	journal  Journal
	logger   zerolog.Logger
	running  atomic.Bool

	now func() time.Time
}

// New creates a sync service.
func New(config Config, lister Lister, cat Catalog, upserter Upserter, journal Journal) *Service {
	if len(config.Statuses) == 0 {
		config.Statuses = pagination.DefaultStatuses
	}
	if config.DetailConcurrency <= 0 {
		config.DetailConcurrency = DefaultDetailConcurrency
	}
	if config.BatchSize <= 0 {
		config.BatchSize = store.DefaultBatchSize
	}

	return &Service{
		config:   config,
		lister:   lister,
		catalog:  cat,
		upserter: upserter,
		journal:  journal,
		logger:   log.With().Str("component", "syncer").Int64("shop_id", config.ShopID).Logger(),
		now:      time.Now,
	}
}

// Running reports whether a pass is in progress.
func (s *Service) Running() bool {
	return s.running.Load()
}

// Run executes one full sync pass.
func (s *Service) Run(ctx context.Context) (Summary, error) {
	if !s.running.CompareAndSwap(false, true) {
		return Summary{}, ErrAlreadyRunning
	}
	defer s.running.Store(false)

	start := s.now()
	run, err := s.journal.Start(ctx, s.config.ShopID)
	if err != nil {
		runsTotal.WithLabelValues("failed").Inc()
		return Summary{}, err
	}

	logger := s.logger.With().Str("run_id", run.ID.String()).Logger()
	logger.Info().Strs("statuses", s.config.Statuses).Msg("Sync started")

	summary, runErr := s.pass(ctx, logger)
	summary.RunID = run.ID
	summary.Duration = s.now().Sub(start)

	run.ItemCount = summary.Items
	run.ModelCount = summary.Models
	// The journal entry is closed even when ctx was cancelled mid-pass.
	if _, err := s.journal.Finish(context.WithoutCancel(ctx), run, runErr); err != nil {
		logger.Error().Err(err).Msg("Failed to finish sync run")
		if runErr == nil {
			runErr = err
		}
	}

	runDuration.Observe(summary.Duration.Seconds())
	if runErr != nil {
		runsTotal.WithLabelValues("failed").Inc()
		logger.Error().Err(runErr).Dur("duration", summary.Duration).Msg("Sync failed")
		return summary, runErr
	}

	runsTotal.WithLabelValues("succeeded").Inc()
	logger.Info().
		Int("listed_ids", summary.ListedIDs).
		Int("items", summary.Items).
		Int("models", summary.Models).
		Dur("duration", summary.Duration).
		Msg("Sync finished")
	return summary, nil
}

func (s *Service) pass(ctx context.Context, logger zerolog.Logger) (Summary, error) {
	var summary Summary

	ids, err := s.lister.ListAllStatuses(ctx, s.config.Statuses)
	if err != nil {
		return summary, fmt.Errorf("list items: %w", err)
	}
	summary.ListedIDs = len(ids)
	logger.Debug().Int("ids", len(ids)).Msg("Listed item ids")

	syncedAt := s.now().UTC()

	items, err := s.fetchItems(ctx, ids, syncedAt)
	if err != nil {
		return summary, err
	}
	models, err := s.fetchModels(ctx, items, syncedAt)
	if err != nil {
		return summary, err
	}

	res, err := s.upserter.UpsertItems(ctx, items, s.config.BatchSize)
	summary.ItemBatches = res.Batches
	if err != nil {
		return summary, err
	}
	summary.Items = res.Rows

	res, err = s.upserter.UpsertModels(ctx, models, s.config.BatchSize)
	summary.ModelBatches = res.Batches
	if err != nil {
		return summary, err
	}
	summary.Models = res.Rows

	return summary, nil
}

// fetchItems enriches ids with base info, MaxBaseInfoIDs per call. The result
// keeps listing order.
func (s *Service) fetchItems(ctx context.Context, ids []int64, syncedAt time.Time) ([]store.Item, error) {
	chunks := catalog.Chunk(ids, catalog.MaxBaseInfoIDs)
	results := make([][]catalog.Object, len(chunks))

	var g errgroup.Group
	g.SetLimit(s.config.DetailConcurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			objs, err := s.catalog.ItemBaseInfo(ctx, chunk)
			if err != nil {
				return fmt.Errorf("base info for %d items: %w", len(chunk), err)
			}
			results[i] = objs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	items := make([]store.Item, 0, len(ids))
	for _, objs := range results {
		for _, obj := range objs {
			item, ok := catalog.ProjectItem(s.config.ShopID, obj, syncedAt)
			if !ok {
				skippedTotal.WithLabelValues("item").Inc()
				continue
			}
			items = append(items, item)
		}
	}
	return items, nil
}

// fetchModels lists the models of every item that reports has_model.
func (s *Service) fetchModels(ctx context.Context, items []store.Item, syncedAt time.Time) ([]store.Model, error) {
	var parents []int64
	for _, item := range items {
		if item.HasModel != nil && *item.HasModel {
			parents = append(parents, item.ItemID)
		}
	}
	results := make([][]catalog.Object, len(parents))

	var g errgroup.Group
	g.SetLimit(s.config.DetailConcurrency)
	for i, itemID := range parents {
		g.Go(func() error {
			objs, err := s.catalog.ModelList(ctx, itemID)
			if err != nil {
				return fmt.Errorf("models of item %d: %w", itemID, err)
			}
			results[i] = objs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var models []store.Model
	for i, objs := range results {
		for _, obj := range objs {
			model, ok := catalog.ProjectModel(s.config.ShopID, parents[i], obj, syncedAt)
			if !ok {
				skippedTotal.WithLabelValues("model").Inc()
				continue
			}
			models = append(models, model)
		}
	}
	return models, nil
}
