package services

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/repositories"
)

const snapshotConcurrency = 8

// CatalogReader answers price, stock and availability questions at order-build time.
// It never writes.
type CatalogReader struct {
	catalog   repositories.CatalogRepository
	inventory repositories.InventoryRepository
}

// NewCatalogReader wires the catalog and stock stores.
func NewCatalogReader(catalog repositories.CatalogRepository, inventory repositories.InventoryRepository) (*CatalogReader, error) {
	if catalog == nil {
		return nil, errors.New("catalog reader: catalog repository is required")
	}
	if inventory == nil {
		return nil, errors.New("catalog reader: inventory repository is required")
	}
	return &CatalogReader{catalog: catalog, inventory: inventory}, nil
}

// Snapshot returns one snapshot per key in the order given. Any missing or inactive
// product fails the whole call.
func (r *CatalogReader) Snapshot(ctx context.Context, keys []domain.StockKey) ([]domain.CatalogSnapshot, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no products requested", ErrInvalidInput)
	}

	ids := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if key.ProductID == "" {
			return nil, fmt.Errorf("%w: product id is required", ErrInvalidInput)
		}
		if _, ok := seen[key.ProductID]; ok {
			continue
		}
		seen[key.ProductID] = struct{}{}
		ids = append(ids, key.ProductID)
	}

	products, err := r.catalog.FindProducts(ctx, ids)
	if err != nil {
		return nil, mapRepositoryError(err, ErrProductNotFound)
	}

	snapshots := make([]domain.CatalogSnapshot, len(keys))
	for i, key := range keys {
		product, ok := products[key.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, key.ProductID)
		}
		if product.Status != domain.ProductStatusActive {
			return nil, fmt.Errorf("%w: %s is %s", ErrProductUnavailable, product.ID, product.Status)
		}
		snapshot := domain.CatalogSnapshot{
			Key:            key,
			Name:           product.Name,
			BasePrice:      product.BasePrice,
			EffectivePrice: product.BasePrice,
			Active:         true,
			ImageRef:       product.Image,
		}
		if key.VariantID != "" {
			variant, ok := product.Variant(key.VariantID)
			if !ok {
				return nil, fmt.Errorf("%w: %s variant %s", ErrProductNotFound, key.ProductID, key.VariantID)
			}
			if !variant.Active {
				return nil, fmt.Errorf("%w: %s variant %s is inactive", ErrProductUnavailable, key.ProductID, key.VariantID)
			}
			snapshot.EffectivePrice += variant.PriceAdjustment
			if variant.Name != "" {
				snapshot.Name = product.Name + " - " + variant.Name
			}
			if variant.Image != "" {
				snapshot.ImageRef = variant.Image
			}
		}
		if snapshot.EffectivePrice < 0 {
			return nil, fmt.Errorf("%w: %s has a negative price", ErrProductUnavailable, key)
		}
		snapshots[i] = snapshot
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(snapshotConcurrency)
	for i := range snapshots {
		i := i
		g.Go(func() error {
			item, err := r.inventory.Get(gctx, snapshots[i].Key)
			if err != nil {
				return mapInventoryError(err, snapshots[i].Key)
			}
			snapshots[i].AvailableStock = item.Stock
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snapshots, nil
}
