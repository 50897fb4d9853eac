package repositories

import (
	"context"
	"time"

	"github.com/hanko-field/fulfillment/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderMutator edits a loaded order in place. Returning an error aborts the write.
type OrderMutator func(order *domain.Order) error

// OrderRepository persists the order aggregate. Every change after creation is a
// read-modify-write through Mutate so concurrent handlers never lose updates.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	// Mutate loads the order, applies fn and writes the result atomically. fn may run more
	// than once under contention and must not call external services.
	Mutate(ctx context.Context, orderID string, fn OrderMutator) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	FindByPaymentReference(ctx context.Context, reference string) (domain.Order, error)
	// ListPending returns pending orders, least recently reconciled first and then oldest first.
	ListPending(ctx context.Context, limit int) ([]domain.Order, error)
}

// StockMutation is one conditional stock change plus the audit record it produces.
type StockMutation struct {
	Key          domain.StockKey
	Delta        int64
	SalesDelta   int64
	Reason       domain.AdjustmentReason
	Actor        string
	OrderID      string
	Note         string
	AdjustmentID string
	// AllowNegative permits the result to drop below zero for this mutation only.
	AllowNegative bool
	At            time.Time
}

// InventoryRepository owns stock documents and their append-only adjustment ledger.
type InventoryRepository interface {
	// Apply changes stock by m.Delta only when the result stays non-negative (or negative
	// stock is permitted), and appends exactly one adjustment record in the same write.
	// A failed condition returns an InventoryError with InventoryErrorInsufficientStock.
	Apply(ctx context.Context, m StockMutation) (domain.StockAdjustment, error)
	Get(ctx context.Context, key domain.StockKey) (domain.InventoryItem, error)
	// ListAdjustments returns the newest adjustments first.
	ListAdjustments(ctx context.Context, key domain.StockKey, limit int) ([]domain.StockAdjustment, error)
	ListLowStock(ctx context.Context, threshold int64, limit int) ([]domain.InventoryItem, error)
}

// CatalogRepository is the read-only view of the catalog store.
type CatalogRepository interface {
	// FindProducts returns the products that exist, keyed by id. Missing ids are absent from the map.
	FindProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
}

// OrderNumberRepository guarantees order number uniqueness.
type OrderNumberRepository interface {
	// Claim records number for orderID. A taken number returns a RepositoryError with IsConflict.
	Claim(ctx context.Context, number, orderID string, at time.Time) error
}

// HealthRepository probes downstream dependencies for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}
