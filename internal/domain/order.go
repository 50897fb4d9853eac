package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus enumerates the lifecycle states of an order.
type OrderStatus string

const (
	// OrderStatusPending indicates the order is persisted and awaiting payment.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing indicates payment was confirmed and fulfilment is underway.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the parcel left the warehouse.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the parcel reached the buyer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled is terminal; reserved stock has been returned.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded is terminal; the payment was returned to the buyer.
	OrderStatusRefunded OrderStatus = "refunded"
)

// Terminal reports whether no further transitions are permitted from the status.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusRefunded
}

// PaymentStatus enumerates payment states recorded on an order.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// PaymentMethod enumerates the payment options a buyer may select.
type PaymentMethod string

const (
	// PaymentMethodPaystack settles through the Paystack hosted checkout.
	PaymentMethodPaystack PaymentMethod = "paystack"
	// PaymentMethodStripe settles through a Stripe Checkout session.
	PaymentMethodStripe PaymentMethod = "stripe"
	// PaymentMethodBankTransfer is settled offline and confirmed by an operator.
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
)

// Valid reports whether the method is one of the recognised options.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodPaystack, PaymentMethodStripe, PaymentMethodBankTransfer:
		return true
	}
	return false
}

// Online reports whether the method is settled through a payment gateway.
func (m PaymentMethod) Online() bool {
	return m == PaymentMethodPaystack || m == PaymentMethodStripe
}

// Order is the aggregate persisted for every checkout. Monetary amounts are in the
// smallest currency unit. ReconciledAt is the last reconciliation sweep that looked at
// the order and stays zero until the first one.
type Order struct {
	ID              string
	OrderNumber     string
	UserID          *string
	Email           string
	Status          OrderStatus
	Currency        string
	Items           []OrderItem
	Totals          OrderTotals
	ShippingAddress Address
	ShippingMethod  ShippingMethod
	Payment         PaymentInfo
	Timeline        []TimelineEntry
	Notes           []OrderNote
	Restocked       bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ReconciledAt    time.Time
	ShippedAt       *time.Time
	DeliveredAt     *time.Time
	CancelledAt     *time.Time
	RefundedAt      *time.Time
}

// OwnedBy reports whether the order belongs to the given authenticated buyer.
func (o Order) OwnedBy(userID string) bool {
	return o.UserID != nil && userID != "" && *o.UserID == userID
}

// Guest reports whether the order was placed without an account.
func (o Order) Guest() bool {
	return o.UserID == nil
}

// OrderItem snapshots a purchased line at order time.
type OrderItem struct {
	ProductID string
	VariantID string
	Name      string
	UnitPrice int64
	Quantity  int
	Subtotal  int64
	ImageRef  string
}

// Key returns the inventory key the line reserves against.
func (i OrderItem) Key() StockKey {
	return StockKey{ProductID: i.ProductID, VariantID: i.VariantID}
}

// OrderTotals holds the monetary summary of an order.
type OrderTotals struct {
	Subtotal    int64
	ShippingFee int64
	Tax         int64
	TaxRate     decimal.Decimal
	Discount    int64
	Total       int64
}

// Balanced reports whether Total equals Subtotal + ShippingFee + Tax - Discount.
func (t OrderTotals) Balanced() bool {
	return t.Total == t.Subtotal+t.ShippingFee+t.Tax-t.Discount
}

// Address is the shipping destination captured at checkout.
type Address struct {
	Recipient  string
	Email      string
	Phone      string
	Line1      string
	Line2      string
	City       string
	Region     string
	PostalCode string
	Country    string
}

// ShippingMethod snapshots the rate charged for an order.
type ShippingMethod struct {
	RateID       string
	ZoneID       string
	Name         string
	Description  string
	Price        int64
	Charged      int64
	FreeShipping bool
}

// PaymentInfo records the payment state and gateway references of an order.
// Attempts counts gateway sessions opened for the order; each retry after a failed
// session gets a fresh reference. RefundClaimedAt is set while a gateway refund is in
// flight.
type PaymentInfo struct {
	Method           PaymentMethod
	Status           PaymentStatus
	Reference        string
	AccessCode       string
	AuthorizationURL string
	Attempts         int
	TransactionID    string
	Channel          string
	PaidAt           *time.Time
	PaidAmount       int64
	RefundReference  string
	RefundedAmount   int64
	RefundedAt       *time.Time
	RefundClaimedAt  *time.Time
	Details          map[string]any
}

// TimelineEntry is one append-only record of a status change.
type TimelineEntry struct {
	Status OrderStatus
	Note   string
	Actor  string
	At     time.Time
}

// OrderNote is an append-only annotation attached to an order.
type OrderNote struct {
	ID        string
	Content   string
	Actor     string
	Internal  bool
	CreatedAt time.Time
}
