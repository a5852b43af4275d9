// Package catalog wraps the marketplace product endpoints used by a sync pass.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Sternrassler/catalog-sync/pkg/client"
	"github.com/Sternrassler/catalog-sync/pkg/pagination"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Product endpoint paths.
const (
	PathItemList     = "/api/v2/product/get_item_list"
	PathItemBaseInfo = "/api/v2/product/get_item_base_info"
	PathModelList    = "/api/v2/product/get_model_list"
)

// MaxBaseInfoIDs is the most item ids get_item_base_info accepts per call.
const MaxBaseInfoIDs = 50

var businessErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "catalog_business_errors_total",
	Help: "Total number of marketplace business errors by endpoint and code",
}, []string{"endpoint", "code"})

// Doer performs one logical marketplace call.
type Doer interface {
	Do(ctx context.Context, req client.Request) client.Outcome
}

// Object is a decoded marketplace object together with its raw bytes.
// Numbers in Fields are json.Number.
type Object struct {
	Fields map[string]any
	Raw    json.RawMessage
}

// API calls the product endpoints for one shop.
type API struct {
	client Doer
	logger zerolog.Logger
}

// New creates a product API on c.
func New(c Doer) *API {
	return &API{
		client: c,
		logger: log.With().Str("component", "catalog").Logger(),
	}
}

// FetchPage returns one page of the item listing. It implements pagination.PageFetcher.
func (a *API) FetchPage(ctx context.Context, status string, offset, size int) (pagination.Page, error) {
	env, err := a.require(PathItemList, a.client.Do(ctx, client.Request{
		Path: PathItemList,
		Auth: client.AuthTokenAndShop,
		Params: map[string]any{
			"offset":      offset,
			"page_size":   size,
			"item_status": status,
		},
	}))
	if err != nil {
		return pagination.Page{}, err
	}

	var resp struct {
		Item       json.RawMessage `json:"item"`
		TotalCount int             `json:"total_count"`
	}
	if !isNull(env.Response) {
		if err := json.Unmarshal(env.Response, &resp); err != nil {
			return pagination.Page{}, fmt.Errorf("decode item list: %w", err)
		}
	}

	return pagination.Page{Items: resp.Item, TotalCount: resp.TotalCount}, nil
}

// ItemBaseInfo returns base info objects for ids, calling the endpoint once
// per MaxBaseInfoIDs ids. Unknown ids are silently absent from the result.
func (a *API) ItemBaseInfo(ctx context.Context, ids []int64) ([]Object, error) {
	var out []Object
	for _, chunk := range Chunk(ids, MaxBaseInfoIDs) {
		env, err := a.require(PathItemBaseInfo, a.client.Do(ctx, client.Request{
			Path:   PathItemBaseInfo,
			Auth:   client.AuthTokenAndShop,
			Params: map[string]any{"item_id_list": chunk},
		}))
		if err != nil {
			return nil, err
		}

		objs, err := decodeList(env.Response, "item_list")
		if err != nil {
			return nil, fmt.Errorf("decode item base info: %w", err)
		}
		if len(objs) < len(chunk) {
			a.logger.Debug().
				Int("requested", len(chunk)).
				Int("returned", len(objs)).
				Msg("Base info omitted some items")
		}
		out = append(out, objs...)
	}
	return out, nil
}

// ModelList returns the model (variant) objects of an item.
func (a *API) ModelList(ctx context.Context, itemID int64) ([]Object, error) {
	env, err := a.require(PathModelList, a.client.Do(ctx, client.Request{
		Path:   PathModelList,
		Auth:   client.AuthTokenAndShop,
		Params: map[string]any{"item_id": itemID},
	}))
	if err != nil {
		return nil, err
	}

	objs, err := decodeList(env.Response, "model")
	if err != nil {
		return nil, fmt.Errorf("decode model list of item %d: %w", itemID, err)
	}
	return objs, nil
}

// require applies RequireOK and records business errors.
func (a *API) require(path string, out client.Outcome) (*client.Envelope, error) {
	env, err := RequireOK(out)
	var be *BusinessError
	if errors.As(err, &be) {
		businessErrorsTotal.WithLabelValues(path, be.Code).Inc()
		a.logger.Warn().
			Str("endpoint", path).
			Str("code", be.Code).
			Str("message", be.Message).
			Str("request_id", be.RequestID).
			Msg("Marketplace business error")
	}
	return env, err
}

// Chunk splits ids into consecutive slices of at most size ids.
func Chunk(ids []int64, size int) [][]int64 {
	if size <= 0 {
		size = MaxBaseInfoIDs
	}
	var chunks [][]int64
	for start := 0; start < len(ids); start += size {
		chunks = append(chunks, ids[start:min(start+size, len(ids))])
	}
	return chunks
}

// decodeList reads response[field] as a list of objects. A missing or null
// list is empty.
func decodeList(response json.RawMessage, field string) ([]Object, error) {
	if isNull(response) {
		return nil, nil
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(response, &wrapper); err != nil {
		return nil, err
	}
	list := wrapper[field]
	if isNull(list) {
		return nil, nil
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(list, &raws); err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}

	objs := make([]Object, 0, len(raws))
	for i, raw := range raws {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var fields map[string]any
		if err := dec.Decode(&fields); err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", field, i, err)
		}
		objs = append(objs, Object{Fields: fields, Raw: raw})
	}
	return objs, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
