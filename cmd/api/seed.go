package main

import (
	"time"

	"github.com/hanko-field/fulfillment/internal/domain"
	memoryRepo "github.com/hanko-field/fulfillment/internal/repositories/memory"
)

// seedDemoCatalog loads a small catalog so the in-memory profile can take orders immediately.
func seedDemoCatalog(catalog *memoryRepo.CatalogRepository, inventory *memoryRepo.InventoryRepository, now time.Time) {
	products := []struct {
		product domain.Product
		stock   map[string]int64
	}{
		{
			product: domain.Product{
				ID:        "adire-tote",
				Name:      "Adire Tote Bag",
				BasePrice: 1200000,
				Status:    domain.ProductStatusActive,
			},
			stock: map[string]int64{"": 40},
		},
		{
			product: domain.Product{
				ID:        "aso-oke-cap",
				Name:      "Aso Oke Cap",
				BasePrice: 850000,
				Status:    domain.ProductStatusActive,
				Variants: []domain.ProductVariant{
					{ID: "indigo", Name: "Indigo", Active: true},
					{ID: "gold", Name: "Gold", PriceAdjustment: 150000, Active: true},
				},
			},
			stock: map[string]int64{"indigo": 12, "gold": 3},
		},
		{
			product: domain.Product{
				ID:        "kente-scarf",
				Name:      "Kente Scarf",
				BasePrice: 2500000,
				Status:    domain.ProductStatusDraft,
			},
			stock: map[string]int64{"": 10},
		},
	}

	for _, p := range products {
		catalog.Put(p.product)
		for variant, qty := range p.stock {
			inventory.Put(domain.InventoryItem{
				ProductID:    p.product.ID,
				VariantID:    variant,
				Stock:        qty,
				InitialStock: qty,
				UpdatedAt:    now,
			})
		}
	}
}
