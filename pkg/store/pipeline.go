package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultBatchSize is the number of records written per transaction.
const DefaultBatchSize = 1000

var (
	storeBatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_store_batches_total",
		Help: "Total number of upsert batches by record kind and result",
	}, []string{"kind", "result"})

	storeRowsUpsertedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_store_rows_upserted_total",
		Help: "Total number of records upserted by record kind",
	}, []string{"kind"})

	storeBatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "catalog_store_batch_duration_seconds",
		Help:    "Duration of one upsert batch transaction in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
	}, []string{"kind"})
)

// Upsert statements. Each column arrives as one array argument and UNNEST
// expands the arrays into rows server-side.
const (
	upsertItemsSQL = `
INSERT INTO catalog_items (
	shop_id, item_id, category_id, name, sku, status, condition, brand_name,
	has_model, is_pre_order, current_price, original_price, currency, stock,
	create_time, update_time, raw, last_synced_at
)
SELECT
	t.shop_id, t.item_id, t.category_id, t.name, t.sku, t.status, t.condition, t.brand_name,
	t.has_model, t.is_pre_order, t.current_price, t.original_price, t.currency, t.stock,
	t.create_time, t.update_time, t.raw::jsonb, t.last_synced_at
FROM UNNEST(
	$1::bigint[], $2::bigint[], $3::bigint[], $4::text[], $5::text[], $6::text[], $7::text[], $8::text[],
	$9::boolean[], $10::boolean[], $11::numeric[], $12::numeric[], $13::text[], $14::bigint[],
	$15::timestamptz[], $16::timestamptz[], $17::text[], $18::timestamptz[]
) AS t(
	shop_id, item_id, category_id, name, sku, status, condition, brand_name,
	has_model, is_pre_order, current_price, original_price, currency, stock,
	create_time, update_time, raw, last_synced_at
)
ON CONFLICT (shop_id, item_id) DO UPDATE SET
	category_id    = EXCLUDED.category_id,
	name           = EXCLUDED.name,
	sku            = EXCLUDED.sku,
	status         = EXCLUDED.status,
	condition      = EXCLUDED.condition,
	brand_name     = EXCLUDED.brand_name,
	has_model      = EXCLUDED.has_model,
	is_pre_order   = EXCLUDED.is_pre_order,
	current_price  = EXCLUDED.current_price,
	original_price = EXCLUDED.original_price,
	currency       = EXCLUDED.currency,
	stock          = EXCLUDED.stock,
	create_time    = COALESCE(EXCLUDED.create_time, catalog_items.create_time),
	update_time    = GREATEST(EXCLUDED.update_time, catalog_items.update_time),
	raw            = EXCLUDED.raw,
	last_synced_at = EXCLUDED.last_synced_at`

	upsertModelsSQL = `
INSERT INTO catalog_models (
	shop_id, model_id, item_id, sku, name, status, is_pre_order,
	current_price, original_price, currency, stock, raw, last_synced_at
)
SELECT
	t.shop_id, t.model_id, t.item_id, t.sku, t.name, t.status, t.is_pre_order,
	t.current_price, t.original_price, t.currency, t.stock, t.raw::jsonb, t.last_synced_at
FROM UNNEST(
	$1::bigint[], $2::bigint[], $3::bigint[], $4::text[], $5::text[], $6::text[], $7::boolean[],
	$8::numeric[], $9::numeric[], $10::text[], $11::bigint[], $12::text[], $13::timestamptz[]
) AS t(
	shop_id, model_id, item_id, sku, name, status, is_pre_order,
	current_price, original_price, currency, stock, raw, last_synced_at
)
ON CONFLICT (shop_id, model_id) DO UPDATE SET
	item_id        = EXCLUDED.item_id,
	sku            = EXCLUDED.sku,
	name           = EXCLUDED.name,
	status         = EXCLUDED.status,
	is_pre_order   = EXCLUDED.is_pre_order,
	current_price  = EXCLUDED.current_price,
	original_price = EXCLUDED.original_price,
	currency       = EXCLUDED.currency,
	stock          = EXCLUDED.stock,
	raw            = EXCLUDED.raw,
	last_synced_at = EXCLUDED.last_synced_at`
)

// BatchResult summarizes an upsert run. Rows counts submitted records.
type BatchResult struct {
	Batches int
	Rows    int
}

// Pipeline writes records in fixed-size batches, one transaction per batch.
// Batches run strictly one after another.
type Pipeline struct {
	db     *DB
	logger zerolog.Logger
}

// NewPipeline creates an upsert pipeline on db.
func NewPipeline(db *DB) *Pipeline {
	return &Pipeline{
		db:     db,
		logger: log.With().Str("component", "upsert-pipeline").Logger(),
	}
}

// UpsertItems inserts or updates items keyed by (shop_id, item_id).
// batchSize <= 0 uses DefaultBatchSize.
func (p *Pipeline) UpsertItems(ctx context.Context, items []Item, batchSize int) (BatchResult, error) {
	return runBatches(ctx, p, "items", items, batchSize, func(ctx context.Context, tx pgx.Tx, batch []Item) error {
		batch = collapse(batch, Item.key)
		n := len(batch)
		var (
			shopIDs, itemIDs                  = make([]int64, n), make([]int64, n)
			categoryIDs, stocks               = make([]*int64, n), make([]*int64, n)
			names, skus, statuses, conditions = make([]string, n), make([]string, n), make([]string, n), make([]string, n)
			brands, currencies, raws          = make([]string, n), make([]string, n), make([]string, n)
			hasModels, preOrders              = make([]*bool, n), make([]*bool, n)
			currentPrices, originalPrices     = make([]*float64, n), make([]*float64, n)
			createTimes, updateTimes          = make([]*time.Time, n), make([]*time.Time, n)
			syncedAt                          = make([]time.Time, n)
		)
		for i, it := range batch {
			shopIDs[i], itemIDs[i] = it.ShopID, it.ItemID
			categoryIDs[i], stocks[i] = it.CategoryID, it.Stock
			names[i], skus[i], statuses[i], conditions[i] = it.Name, it.SKU, it.Status, it.Condition
			brands[i], currencies[i], raws[i] = it.BrandName, it.Currency, rawText(it.Raw)
			hasModels[i], preOrders[i] = it.HasModel, it.IsPreOrder
			currentPrices[i], originalPrices[i] = it.CurrentPrice, it.OriginalPrice
			createTimes[i], updateTimes[i] = it.CreateTime, it.UpdateTime
			syncedAt[i] = it.LastSyncedAt
		}

		return retryOnce(p.logger, "upsert_items", func() error {
			_, err := tx.Exec(ctx, upsertItemsSQL,
				shopIDs, itemIDs, categoryIDs, names, skus, statuses, conditions, brands,
				hasModels, preOrders, currentPrices, originalPrices, currencies, stocks,
				createTimes, updateTimes, raws, syncedAt,
			)
			return err
		})
	})
}

// UpsertModels inserts or updates models keyed by (shop_id, model_id).
// batchSize <= 0 uses DefaultBatchSize.
func (p *Pipeline) UpsertModels(ctx context.Context, models []Model, batchSize int) (BatchResult, error) {
	return runBatches(ctx, p, "models", models, batchSize, func(ctx context.Context, tx pgx.Tx, batch []Model) error {
		batch = collapse(batch, Model.key)
		n := len(batch)
		var (
			shopIDs, modelIDs, itemIDs    = make([]int64, n), make([]int64, n), make([]int64, n)
			skus, names, statuses         = make([]string, n), make([]string, n), make([]string, n)
			currencies, raws              = make([]string, n), make([]string, n)
			preOrders                     = make([]*bool, n)
			currentPrices, originalPrices = make([]*float64, n), make([]*float64, n)
			stocks                        = make([]*int64, n)
			syncedAt                      = make([]time.Time, n)
		)
		for i, m := range batch {
			shopIDs[i], modelIDs[i], itemIDs[i] = m.ShopID, m.ModelID, m.ItemID
			skus[i], names[i], statuses[i] = m.SKU, m.Name, m.Status
			currencies[i], raws[i] = m.Currency, rawText(m.Raw)
			preOrders[i] = m.IsPreOrder
			currentPrices[i], originalPrices[i] = m.CurrentPrice, m.OriginalPrice
			stocks[i] = m.Stock
			syncedAt[i] = m.LastSyncedAt
		}

		return retryOnce(p.logger, "upsert_models", func() error {
			_, err := tx.Exec(ctx, upsertModelsSQL,
				shopIDs, modelIDs, itemIDs, skus, names, statuses, preOrders,
				currentPrices, originalPrices, currencies, stocks, raws, syncedAt,
			)
			return err
		})
	})
}

// runBatches splits records into consecutive batches and writes each in its
// own transaction. The first failing batch is rolled back and stops the run;
// batches committed before it stay committed.
func runBatches[T any](
	ctx context.Context, p *Pipeline, kind string, records []T, batchSize int,
	write func(ctx context.Context, tx pgx.Tx, batch []T) error,
) (BatchResult, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	var res BatchResult
	for start := 0; start < len(records); start += batchSize {
		end := min(start+batchSize, len(records))
		batch := records[start:end]

		batchStart := time.Now()
		err := writeBatch(ctx, p, batch, write)
		storeBatchDuration.WithLabelValues(kind).Observe(time.Since(batchStart).Seconds())
		if err != nil {
			storeBatchesTotal.WithLabelValues(kind, "failure").Inc()
			p.logger.Error().
				Err(err).
				Str("kind", kind).
				Int("batch", res.Batches+1).
				Int("rows", len(batch)).
				Msg("Upsert batch failed")
			return res, fmt.Errorf("upsert %s batch %d: %w", kind, res.Batches+1, err)
		}

		storeBatchesTotal.WithLabelValues(kind, "success").Inc()
		storeRowsUpsertedTotal.WithLabelValues(kind).Add(float64(len(batch)))
		res.Batches++
		res.Rows += len(batch)

		p.logger.Debug().
			Str("kind", kind).
			Int("batch", res.Batches).
			Int("rows", len(batch)).
			Msg("Upsert batch committed")
	}

	return res, nil
}

// writeBatch runs write inside one transaction: BEGIN, the statement, COMMIT.
// Any error rolls the transaction back.
func writeBatch[T any](
	ctx context.Context, p *Pipeline, batch []T,
	write func(ctx context.Context, tx pgx.Tx, batch []T) error,
) (err error) {
	var tx pgx.Tx
	if err = retryOnce(p.logger, "begin", func() error {
		var beginErr error
		tx, beginErr = p.db.Pool.BeginTx(ctx, pgx.TxOptions{})
		return beginErr
	}); err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = fmt.Errorf("commit: %w", e)
		}
	}()

	return write(ctx, tx, batch)
}

// collapse drops earlier records sharing a key with a later one, so a single
// statement never touches the same row twice. The last record wins and keeps
// the position of the first.
func collapse[T any, K comparable](batch []T, key func(T) K) []T {
	pos := make(map[K]int, len(batch))
	out := make([]T, 0, len(batch))
	for _, r := range batch {
		k := key(r)
		if i, ok := pos[k]; ok {
			out[i] = r
			continue
		}
		pos[k] = len(out)
		out = append(out, r)
	}
	return out
}
