package store

import (
	"encoding/json"
	"time"
)

// Item is the flat projection of a catalog item. Identity is (ShopID, ItemID).
// Nil pointers are stored as NULL.
type Item struct {
	ShopID        int64
	ItemID        int64
	CategoryID    *int64
	Name          string
	SKU           string
	Status        string
	Condition     string
	BrandName     string
	HasModel      *bool
	IsPreOrder    *bool
	CurrentPrice  *float64
	OriginalPrice *float64
	Currency      string
	Stock         *int64
	CreateTime    *time.Time
	UpdateTime    *time.Time
	// Raw is the full marketplace object.
	Raw          json.RawMessage
	LastSyncedAt time.Time
}

// Model is the flat projection of an item variant. Identity is (ShopID, ModelID).
type Model struct {
	ShopID        int64
	ModelID       int64
	ItemID        int64
	SKU           string
	Name          string
	Status        string
	IsPreOrder    *bool
	CurrentPrice  *float64
	OriginalPrice *float64
	Currency      string
	Stock         *int64
	Raw           json.RawMessage
	LastSyncedAt  time.Time
}

type itemKey struct{ shopID, itemID int64 }

type modelKey struct{ shopID, modelID int64 }

func (it Item) key() itemKey { return itemKey{it.ShopID, it.ItemID} }

func (m Model) key() modelKey { return modelKey{m.ShopID, m.ModelID} }

// rawText returns raw as JSON text, substituting an empty object for nil.
func rawText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}
