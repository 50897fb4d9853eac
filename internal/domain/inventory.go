package domain

import (
	"strings"
	"time"
)

// StockKey identifies an inventory item: a product, or one variant of it.
type StockKey struct {
	ProductID string
	VariantID string
}

// String renders the key for logs and document ids.
func (k StockKey) String() string {
	if k.VariantID == "" {
		return k.ProductID
	}
	return k.ProductID + "__" + k.VariantID
}

// Less orders keys deterministically so multi-line reservations apply in a stable order.
func (k StockKey) Less(other StockKey) bool {
	if c := strings.Compare(k.ProductID, other.ProductID); c != 0 {
		return c < 0
	}
	return k.VariantID < other.VariantID
}

// AdjustmentReason records why stock moved.
type AdjustmentReason string

const (
	AdjustmentReasonOrderCreate      AdjustmentReason = "order-create"
	AdjustmentReasonOrderCancel      AdjustmentReason = "order-cancel"
	AdjustmentReasonOrderRefund      AdjustmentReason = "order-refund"
	AdjustmentReasonManualAdjustment AdjustmentReason = "manual-adjustment"
)

// Valid reports whether the reason is recognised.
func (r AdjustmentReason) Valid() bool {
	switch r {
	case AdjustmentReasonOrderCreate, AdjustmentReasonOrderCancel, AdjustmentReasonOrderRefund, AdjustmentReasonManualAdjustment:
		return true
	}
	return false
}

// InventoryItem is the stock record of a product or variant.
type InventoryItem struct {
	ProductID     string
	VariantID     string
	Stock         int64
	InitialStock  int64
	SalesCount    int64
	AllowNegative bool
	UpdatedAt     time.Time
}

// Key returns the item's stock key.
func (i InventoryItem) Key() StockKey {
	return StockKey{ProductID: i.ProductID, VariantID: i.VariantID}
}

// StockAdjustment is an immutable audit record. NewStock always equals PreviousStock + Delta.
type StockAdjustment struct {
	ID            string
	ProductID     string
	VariantID     string
	Delta         int64
	Reason        AdjustmentReason
	PreviousStock int64
	NewStock      int64
	Actor         string
	OrderID       string
	Note          string
	CreatedAt     time.Time
}
