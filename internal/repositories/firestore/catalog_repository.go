package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"

	"github.com/hanko-field/fulfillment/internal/domain"
	pfirestore "github.com/hanko-field/fulfillment/internal/platform/firestore"
	"github.com/hanko-field/fulfillment/internal/repositories"
)

const productsCollection = "products"

type productDocument struct {
	Name      string              `firestore:"name"`
	BasePrice int64               `firestore:"basePrice"`
	Status    string              `firestore:"status"`
	Image     string              `firestore:"image"`
	Variants  []productVariantDoc `firestore:"variants"`
}

type productVariantDoc struct {
	ID              string `firestore:"id"`
	Name            string `firestore:"name"`
	PriceAdjustment int64  `firestore:"priceAdjustment"`
	Active          bool   `firestore:"active"`
	Image           string `firestore:"image"`
}

// CatalogRepository reads products written by the catalog admin service.
type CatalogRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)

// NewCatalogRepository constructs a Firestore-backed catalog reader.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{provider: provider}, nil
}

// FindProducts loads every requested product in one batched read.
func (r *CatalogRepository) FindProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	refs := make([]*firestore.DocumentRef, 0, len(productIDs))
	for _, id := range productIDs {
		refs = append(refs, client.Collection(productsCollection).Doc(id))
	}
	snaps, err := client.GetAll(ctx, refs)
	if err != nil {
		return nil, pfirestore.WrapError("catalog.findProducts", err)
	}

	out := make(map[string]domain.Product, len(snaps))
	for _, snap := range snaps {
		if !snap.Exists() {
			continue
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
		}
		product := domain.Product{
			ID:        snap.Ref.ID,
			Name:      doc.Name,
			BasePrice: doc.BasePrice,
			Status:    domain.ProductStatus(doc.Status),
			Image:     doc.Image,
		}
		for _, v := range doc.Variants {
			product.Variants = append(product.Variants, domain.ProductVariant(v))
		}
		out[product.ID] = product
	}
	return out, nil
}
