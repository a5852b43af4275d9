package catalog

import (
	"encoding/json"
	"time"

	"github.com/Sternrassler/catalog-sync/pkg/store"
)

// ProjectItem flattens a base-info object into a store record. ok is false
// when the object carries no usable item_id.
func ProjectItem(shopID int64, obj Object, syncedAt time.Time) (store.Item, bool) {
	f := obj.Fields
	id := store.Int64(f["item_id"])
	if id == nil || *id <= 0 {
		return store.Item{}, false
	}

	price := first(f["price_info"])
	return store.Item{
		ShopID:        shopID,
		ItemID:        *id,
		CategoryID:    store.Int64(f["category_id"]),
		Name:          store.String(f["item_name"]),
		SKU:           store.String(f["item_sku"]),
		Status:        store.String(f["item_status"]),
		Condition:     store.String(f["condition"]),
		BrandName:     store.String(dig(f, "brand", "original_brand_name")),
		HasModel:      store.Bool(f["has_model"]),
		IsPreOrder:    store.Bool(dig(f, "pre_order", "is_pre_order")),
		CurrentPrice:  store.Float64(price["current_price"]),
		OriginalPrice: store.Float64(price["original_price"]),
		Currency:      store.String(price["currency"]),
		Stock:         stock(f),
		CreateTime:    store.Epoch(f["create_time"]),
		UpdateTime:    store.Epoch(f["update_time"]),
		Raw:           rawOf(obj),
		LastSyncedAt:  syncedAt,
	}, true
}

// ProjectModel flattens a model object of itemID into a store record.
func ProjectModel(shopID, itemID int64, obj Object, syncedAt time.Time) (store.Model, bool) {
	f := obj.Fields
	id := store.Int64(f["model_id"])
	if id == nil || *id <= 0 {
		return store.Model{}, false
	}

	price := first(f["price_info"])
	return store.Model{
		ShopID:        shopID,
		ModelID:       *id,
		ItemID:        itemID,
		SKU:           store.String(f["model_sku"]),
		Name:          store.String(f["model_name"]),
		Status:        store.String(f["model_status"]),
		IsPreOrder:    store.Bool(dig(f, "pre_order", "is_pre_order")),
		CurrentPrice:  store.Float64(price["current_price"]),
		OriginalPrice: store.Float64(price["original_price"]),
		Currency:      store.String(price["currency"]),
		Stock:         stock(f),
		Raw:           rawOf(obj),
		LastSyncedAt:  syncedAt,
	}, true
}

// stock reads the available stock from stock_info_v2, falling back to the
// first legacy stock_info entry.
func stock(f map[string]any) *int64 {
	if v := store.Int64(dig(f, "stock_info_v2", "summary_info", "total_available_stock")); v != nil {
		return v
	}
	return store.Int64(first(f["stock_info"])["current_stock"])
}

// dig walks nested objects by key. Missing levels yield nil.
func dig(m map[string]any, keys ...string) any {
	var cur any = m
	for _, k := range keys {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = obj[k]
	}
	return cur
}

// first returns the first element of a list of objects, or nil.
func first(v any) map[string]any {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return nil
	}
	obj, _ := list[0].(map[string]any)
	return obj
}

func rawOf(obj Object) json.RawMessage {
	if len(obj.Raw) > 0 {
		return obj.Raw
	}
	raw, err := json.Marshal(obj.Fields)
	if err != nil {
		return json.RawMessage("{}")
	}
	return raw
}
