package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/repositories"
)

// InventoryRepository keeps stock and its ledger together so each Apply is one
// conditional update under the mutex.
type InventoryRepository struct {
	mu          sync.Mutex
	items       map[domain.StockKey]domain.InventoryItem
	adjustments map[domain.StockKey][]domain.StockAdjustment
}

var _ repositories.InventoryRepository = (*InventoryRepository)(nil)

// NewInventoryRepository constructs an empty inventory store.
func NewInventoryRepository() *InventoryRepository {
	return &InventoryRepository{
		items:       make(map[domain.StockKey]domain.InventoryItem),
		adjustments: make(map[domain.StockKey][]domain.StockAdjustment),
	}
}

// Put seeds a stock record. InitialStock defaults to Stock.
func (r *InventoryRepository) Put(item domain.InventoryItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if item.InitialStock == 0 {
		item.InitialStock = item.Stock
	}
	r.items[item.Key()] = item
}

func (r *InventoryRepository) Apply(_ context.Context, m repositories.StockMutation) (domain.StockAdjustment, error) {
	if err := repositories.ValidateMutation(m); err != nil {
		return domain.StockAdjustment{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[m.Key]
	if !ok {
		return domain.StockAdjustment{}, repositories.NewInventoryError(repositories.InventoryErrorStockNotFound, fmt.Sprintf("stock %s not found", m.Key), nil)
	}
	next := item.Stock + m.Delta
	if next < 0 && !m.AllowNegative && !item.AllowNegative {
		err := repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock, fmt.Sprintf("insufficient stock for %s", m.Key), nil)
		err.Available = item.Stock
		return domain.StockAdjustment{}, err
	}

	adjustment := domain.StockAdjustment{
		ID:            m.AdjustmentID,
		ProductID:     m.Key.ProductID,
		VariantID:     m.Key.VariantID,
		Delta:         m.Delta,
		Reason:        m.Reason,
		PreviousStock: item.Stock,
		NewStock:      next,
		Actor:         m.Actor,
		OrderID:       m.OrderID,
		Note:          m.Note,
		CreatedAt:     m.At,
	}
	item.Stock = next
	item.SalesCount += m.SalesDelta
	if item.SalesCount < 0 {
		item.SalesCount = 0
	}
	item.UpdatedAt = m.At
	r.items[m.Key] = item
	r.adjustments[m.Key] = append(r.adjustments[m.Key], adjustment)
	return adjustment, nil
}

func (r *InventoryRepository) Get(_ context.Context, key domain.StockKey) (domain.InventoryItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[key]
	if !ok {
		return domain.InventoryItem{}, repositories.NewInventoryError(repositories.InventoryErrorStockNotFound, fmt.Sprintf("stock %s not found", key), nil)
	}
	return item, nil
}

func (r *InventoryRepository) ListAdjustments(_ context.Context, key domain.StockKey, limit int) ([]domain.StockAdjustment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	history := r.adjustments[key]
	out := make([]domain.StockAdjustment, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		out = append(out, history[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *InventoryRepository) ListLowStock(_ context.Context, threshold int64, limit int) ([]domain.InventoryItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var low []domain.InventoryItem
	for _, item := range r.items {
		if item.Stock <= threshold {
			low = append(low, item)
		}
	}
	sort.Slice(low, func(i, j int) bool {
		if low[i].Stock != low[j].Stock {
			return low[i].Stock < low[j].Stock
		}
		return low[i].Key().Less(low[j].Key())
	})
	if limit > 0 && len(low) > limit {
		low = low[:limit]
	}
	return low, nil
}

// CatalogRepository serves products seeded with Put.
type CatalogRepository struct {
	mu       sync.RWMutex
	products map[string]domain.Product
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)

// NewCatalogRepository constructs an empty catalog.
func NewCatalogRepository() *CatalogRepository {
	return &CatalogRepository{products: make(map[string]domain.Product)}
}

// Put seeds or replaces a product.
func (r *CatalogRepository) Put(product domain.Product) {
	r.mu.Lock()
	r.products[product.ID] = product
	r.mu.Unlock()
}

func (r *CatalogRepository) FindProducts(_ context.Context, productIDs []string) (map[string]domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		if product, ok := r.products[id]; ok {
			out[id] = product
		}
	}
	return out, nil
}
