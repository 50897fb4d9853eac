package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hanko-field/fulfillment/internal/domain"
	pfirestore "github.com/hanko-field/fulfillment/internal/platform/firestore"
	"github.com/hanko-field/fulfillment/internal/repositories"
)

const (
	inventoryCollection   = "inventory"
	adjustmentsCollection = "adjustments"
)

type stockDocument struct {
	ProductID     string    `firestore:"productId"`
	VariantID     string    `firestore:"variantId"`
	Stock         int64     `firestore:"stock"`
	InitialStock  int64     `firestore:"initialStock"`
	SalesCount    int64     `firestore:"salesCount"`
	AllowNegative bool      `firestore:"allowNegative"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
}

func (d stockDocument) toDomain() domain.InventoryItem {
	item := domain.InventoryItem(d)
	item.UpdatedAt = item.UpdatedAt.UTC()
	return item
}

type adjustmentDocument struct {
	ProductID     string    `firestore:"productId"`
	VariantID     string    `firestore:"variantId"`
	Delta         int64     `firestore:"delta"`
	Reason        string    `firestore:"reason"`
	PreviousStock int64     `firestore:"previousStock"`
	NewStock      int64     `firestore:"newStock"`
	Actor         string    `firestore:"actor"`
	OrderID       string    `firestore:"orderId,omitempty"`
	Note          string    `firestore:"note,omitempty"`
	CreatedAt     time.Time `firestore:"createdAt"`
}

func (d adjustmentDocument) toDomain(id string) domain.StockAdjustment {
	return domain.StockAdjustment{
		ID:            id,
		ProductID:     d.ProductID,
		VariantID:     d.VariantID,
		Delta:         d.Delta,
		Reason:        domain.AdjustmentReason(d.Reason),
		PreviousStock: d.PreviousStock,
		NewStock:      d.NewStock,
		Actor:         d.Actor,
		OrderID:       d.OrderID,
		Note:          d.Note,
		CreatedAt:     d.CreatedAt.UTC(),
	}
}

// InventoryRepository stores one document per product or variant under inventory/{key}
// with the ledger in inventory/{key}/adjustments. Apply runs as a single transaction so
// the stock change and its adjustment record commit together.
type InventoryRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.InventoryRepository = (*InventoryRepository)(nil)

// NewInventoryRepository constructs a Firestore-backed inventory ledger.
func NewInventoryRepository(provider *pfirestore.Provider) (*InventoryRepository, error) {
	if provider == nil {
		return nil, errors.New("inventory repository requires firestore provider")
	}
	return &InventoryRepository{provider: provider}, nil
}

func (r *InventoryRepository) stockRef(ctx context.Context, key domain.StockKey) (*firestore.DocumentRef, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(inventoryCollection).Doc(key.String()), nil
}

func (r *InventoryRepository) Apply(ctx context.Context, m repositories.StockMutation) (domain.StockAdjustment, error) {
	if err := repositories.ValidateMutation(m); err != nil {
		return domain.StockAdjustment{}, err
	}
	ref, err := r.stockRef(ctx, m.Key)
	if err != nil {
		return domain.StockAdjustment{}, err
	}
	at := m.At.UTC()
	adjRef := ref.Collection(adjustmentsCollection).Doc(m.AdjustmentID)

	var result domain.StockAdjustment
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewInventoryError(repositories.InventoryErrorStockNotFound, fmt.Sprintf("stock %s not found", m.Key), err)
			}
			return pfirestore.WrapError("inventory.apply", err)
		}
		var doc stockDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode inventory stock %s: %w", m.Key, err)
		}

		next := doc.Stock + m.Delta
		if next < 0 && !m.AllowNegative && !doc.AllowNegative {
			invErr := repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock, fmt.Sprintf("insufficient stock for %s", m.Key), nil)
			invErr.Available = doc.Stock
			return invErr
		}
		sales := doc.SalesCount + m.SalesDelta
		if sales < 0 {
			sales = 0
		}

		adj := adjustmentDocument{
			ProductID:     m.Key.ProductID,
			VariantID:     m.Key.VariantID,
			Delta:         m.Delta,
			Reason:        string(m.Reason),
			PreviousStock: doc.Stock,
			NewStock:      next,
			Actor:         m.Actor,
			OrderID:       m.OrderID,
			Note:          m.Note,
			CreatedAt:     at,
		}
		if err := tx.Update(ref, []firestore.Update{
			{Path: "stock", Value: next},
			{Path: "salesCount", Value: sales},
			{Path: "updatedAt", Value: at},
		}); err != nil {
			return err
		}
		if err := tx.Create(adjRef, adj); err != nil {
			return err
		}
		result = adj.toDomain(m.AdjustmentID)
		return nil
	})
	if err != nil {
		return domain.StockAdjustment{}, err
	}
	return result, nil
}

func (r *InventoryRepository) Get(ctx context.Context, key domain.StockKey) (domain.InventoryItem, error) {
	ref, err := r.stockRef(ctx, key)
	if err != nil {
		return domain.InventoryItem{}, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return domain.InventoryItem{}, repositories.NewInventoryError(repositories.InventoryErrorStockNotFound, fmt.Sprintf("stock %s not found", key), err)
		}
		return domain.InventoryItem{}, pfirestore.WrapError("inventory.get", err)
	}
	var doc stockDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.InventoryItem{}, fmt.Errorf("decode inventory stock %s: %w", key, err)
	}
	return doc.toDomain(), nil
}

func (r *InventoryRepository) ListAdjustments(ctx context.Context, key domain.StockKey, limit int) ([]domain.StockAdjustment, error) {
	ref, err := r.stockRef(ctx, key)
	if err != nil {
		return nil, err
	}
	query := ref.Collection(adjustmentsCollection).OrderBy("createdAt", firestore.Desc)
	if limit > 0 {
		query = query.Limit(limit)
	}
	iter := query.Documents(ctx)
	defer iter.Stop()

	var out []domain.StockAdjustment
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, pfirestore.WrapError("inventory.listAdjustments", err)
		}
		var doc adjustmentDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode adjustment %s: %w", snap.Ref.ID, err)
		}
		out = append(out, doc.toDomain(snap.Ref.ID))
	}
}

func (r *InventoryRepository) ListLowStock(ctx context.Context, threshold int64, limit int) ([]domain.InventoryItem, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	query := client.Collection(inventoryCollection).Where("stock", "<=", threshold).OrderBy("stock", firestore.Asc)
	if limit > 0 {
		query = query.Limit(limit)
	}
	docs, err := query.Documents(ctx).GetAll()
	if err != nil {
		return nil, pfirestore.WrapError("inventory.listLowStock", err)
	}
	items := make([]domain.InventoryItem, 0, len(docs))
	for _, snap := range docs {
		var doc stockDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode inventory stock %s: %w", snap.Ref.ID, err)
		}
		items = append(items, doc.toDomain())
	}
	return items, nil
}
