package domain

// ProductStatus enumerates catalog publication states.
type ProductStatus string

const (
	ProductStatusActive   ProductStatus = "active"
	ProductStatusDraft    ProductStatus = "draft"
	ProductStatusArchived ProductStatus = "archived"
)

// Product is the catalog record read at order time.
type Product struct {
	ID        string
	Name      string
	BasePrice int64
	Status    ProductStatus
	Image     string
	Variants  []ProductVariant
}

// Variant returns the variant with the given id.
func (p Product) Variant(id string) (ProductVariant, bool) {
	for _, v := range p.Variants {
		if v.ID == id {
			return v, true
		}
	}
	return ProductVariant{}, false
}

// ProductVariant adjusts the base price of a product.
type ProductVariant struct {
	ID              string
	Name            string
	PriceAdjustment int64
	Active          bool
	Image           string
}

// CatalogSnapshot is the read-only view of a line at order-build time.
type CatalogSnapshot struct {
	Key            StockKey
	Name           string
	BasePrice      int64
	EffectivePrice int64
	AvailableStock int64
	Active         bool
	ImageRef       string
}
