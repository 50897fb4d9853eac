package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CommerceSettings is the immutable configuration snapshot consulted while pricing orders.
type CommerceSettings struct {
	Currency     string
	Shipping     ShippingSettings
	Tax          TaxSettings
	Inventory    InventorySettings
	OrderNumbers OrderNumberSettings
	Payments     PaymentSettings
}

// ShippingSettings lists zones and the designated catch-all zone.
type ShippingSettings struct {
	Zones          []ShippingZone
	CatchAllZoneID string
}

// ShippingZone groups regions that share shipping rates.
type ShippingZone struct {
	ID      string
	Name    string
	Regions []string
	Active  bool
	Rates   []ShippingRate
}

// ShippingRate is a priced delivery option within a zone. A zero FreeShippingThreshold disables the override.
type ShippingRate struct {
	ID                    string
	Name                  string
	Description           string
	Price                 int64
	FreeShippingThreshold int64
	Active                bool
}

// TaxSettings configures the flat tax percentage.
type TaxSettings struct {
	Enabled bool
	Rate    decimal.Decimal
	Label   string
}

// InventorySettings configures stock policies.
type InventorySettings struct {
	LowStockThreshold int64
	RestockOnRefund   bool
}

// OrderNumberSettings configures human readable order numbers.
type OrderNumberSettings struct {
	Prefix      string
	MaxAttempts int
}

// PaymentSettings configures gateway redirects and stale payment handling.
type PaymentSettings struct {
	CallbackURL   string
	PendingExpiry time.Duration
}
