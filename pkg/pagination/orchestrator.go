package pagination

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// DefaultStatuses are the item-status partitions walked by a full sync.
var DefaultStatuses = []string{"NORMAL", "BANNED", "UNLIST", "REVIEWING", "SELLER_DELETE", "SHOPEE_DELETE"}

// ErrMalformedPage is returned when a page after the first carries an item
// field that is not a list.
var ErrMalformedPage = errors.New("malformed item page")

// Config holds orchestrator configuration
type Config struct {
	// PageSize is the number of items requested per page
	PageSize int
	// GroupWidth is the number of pages in flight at once
	GroupWidth int
	// PageTimeout bounds a single page fetch. 0 disables it; the client
	// already bounds rate-limit waits per call.
	PageTimeout time.Duration
}

// DefaultConfig returns the default listing configuration
func DefaultConfig() Config {
	return Config{
		PageSize:   100,
		GroupWidth: 10,
	}
}

// Page is one page of the item listing.
type Page struct {
	// Items is the raw item array; each element carries "item_id".
	Items json.RawMessage
	// TotalCount is the total number of items for the status.
	TotalCount int
}

// PageFetcher fetches a single page of the listing for a status.
type PageFetcher interface {
	FetchPage(ctx context.Context, status string, offset, size int) (Page, error)
}

// Orchestrator lists every item id of a status.
type Orchestrator struct {
	fetcher PageFetcher
	config  Config
	logger  zerolog.Logger
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(fetcher PageFetcher, config Config) *Orchestrator {
	if config.PageSize <= 0 {
		config.PageSize = 100
	}
	if config.GroupWidth <= 0 {
		config.GroupWidth = 10
	}

	return &Orchestrator{
		fetcher: fetcher,
		config:  config,
		logger:  log.With().Str("component", "pagination").Logger(),
	}
}

// ListAll returns the de-duplicated item ids of status in page order.
func (o *Orchestrator) ListAll(ctx context.Context, status string) ([]int64, error) {
	start := time.Now()

	first, err := o.fetch(ctx, status, 0)
	if err != nil {
		return nil, fmt.Errorf("list %s at offset 0: %w", status, err)
	}

	firstIDs, ok := parseIDs(first.Items)
	if !ok {
		o.logger.Warn().
			Str("status_filter", status).
			Int("total_count", first.TotalCount).
			Msg("First page item list is malformed - skipping status")
		return []int64{}, nil
	}

	pages := pageCount(first.TotalCount, o.config.PageSize)

	o.logger.Info().
		Str("status_filter", status).
		Int("total_count", first.TotalCount).
		Int("pages", pages).
		Msg("Starting paged listing")

	all := firstIDs
	for groupStart := 1; groupStart < pages; groupStart += o.config.GroupWidth {
		groupEnd := min(groupStart+o.config.GroupWidth, pages)

		ids, err := o.fetchGroup(ctx, status, groupStart, groupEnd)
		if err != nil {
			return nil, err
		}
		all = append(all, ids...)

		o.logger.Debug().
			Str("status_filter", status).
			Int("fetched_pages", groupEnd).
			Int("pages", pages).
			Msg("Page group complete")
	}

	result := Dedup(all)

	o.logger.Info().
		Str("status_filter", status).
		Int("items", len(result)).
		Dur("duration", time.Since(start)).
		Msg("Listing complete")

	return result, nil
}

// ListAllStatuses lists each status in turn and de-duplicates across them.
func (o *Orchestrator) ListAllStatuses(ctx context.Context, statuses []string) ([]int64, error) {
	var all []int64
	for _, status := range statuses {
		ids, err := o.ListAll(ctx, status)
		if err != nil {
			return nil, err
		}
		all = append(all, ids...)
	}
	return Dedup(all), nil
}

// fetchGroup fetches pages [from, to) concurrently. A failing page does not
// cancel its siblings; the first error is returned once all have settled.
func (o *Orchestrator) fetchGroup(ctx context.Context, status string, from, to int) ([]int64, error) {
	results := make([][]int64, to-from)

	var g errgroup.Group
	for page := from; page < to; page++ {
		offset := page * o.config.PageSize
		g.Go(func() error {
			p, err := o.fetch(ctx, status, offset)
			if err != nil {
				return fmt.Errorf("list %s at offset %d: %w", status, offset, err)
			}
			ids, ok := parseIDs(p.Items)
			if !ok {
				return fmt.Errorf("list %s at offset %d: %w", status, offset, ErrMalformedPage)
			}
			results[page-from] = ids
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		o.logger.Warn().
			Err(err).
			Str("status_filter", status).
			Msg("Page group failed")
		return nil, err
	}

	var ids []int64
	for _, r := range results {
		ids = append(ids, r...)
	}
	return ids, nil
}

func (o *Orchestrator) fetch(ctx context.Context, status string, offset int) (Page, error) {
	if o.config.PageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.PageTimeout)
		defer cancel()
	}
	return o.fetcher.FetchPage(ctx, status, offset, o.config.PageSize)
}

// parseIDs extracts item ids from a raw item array. An absent or null array
// is an empty page; anything other than a list is malformed.
func parseIDs(raw json.RawMessage) ([]int64, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []int64{}, true
	}
	if trimmed[0] != '[' {
		return nil, false
	}

	var items []struct {
		ItemID int64 `json:"item_id"`
	}
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, false
	}

	ids := make([]int64, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ItemID)
	}
	return ids, true
}

func pageCount(total, size int) int {
	if total <= 0 {
		return 1
	}
	return (total + size - 1) / size
}

// Dedup drops repeated ids, keeping the first occurrence.
func Dedup(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
