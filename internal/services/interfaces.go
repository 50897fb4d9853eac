package services

import (
	"context"
	"time"

	"github.com/hanko-field/fulfillment/internal/domain"
)

// OrderService exposes order creation and the lifecycle operations buyers and operators invoke.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error)
	GetOrder(ctx context.Context, query OrderQuery) (domain.Order, error)
	Tracking(ctx context.Context, query OrderQuery) (OrderTracking, error)
	ShippingRates(ctx context.Context, region string) ([]ShippingOption, error)
	TransitionStatus(ctx context.Context, cmd TransitionStatusCommand) (domain.Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (domain.Order, error)
	AddNote(ctx context.Context, cmd AddNoteCommand) (domain.Order, error)
}

// PaymentService reconciles gateway payments with orders.
type PaymentService interface {
	InitializePayment(ctx context.Context, cmd InitializePaymentCommand) (PaymentSession, error)
	VerifyPayment(ctx context.Context, reference string) (domain.Order, error)
	HandleWebhook(ctx context.Context, method domain.PaymentMethod, payload []byte, signature string) error
	Refund(ctx context.Context, cmd RefundCommand) (domain.Order, error)
	ConfirmManualPayment(ctx context.Context, cmd ManualPaymentCommand) (domain.Order, error)
	SendConfirmation(ctx context.Context, orderID string, actor domain.Actor) (domain.Order, error)
	ReconcilePending(ctx context.Context, limit int) (ReconcileSummary, error)
}

// InventoryService is the operator view of the stock ledger.
type InventoryService interface {
	Adjust(ctx context.Context, cmd AdjustStockCommand) (domain.StockAdjustment, error)
	History(ctx context.Context, key domain.StockKey, limit int) ([]domain.StockAdjustment, error)
	LowStock(ctx context.Context, limit int) ([]domain.InventoryItem, error)
}

var _ InventoryService = (*InventoryLedger)(nil)

// CartLine is a requested product quantity.
type CartLine struct {
	ProductID string
	VariantID string
	Quantity  int
}

// CreateOrderCommand carries a validated checkout request.
type CreateOrderCommand struct {
	Actor           domain.Actor
	Email           string
	Items           []CartLine
	ShippingAddress domain.Address
	PaymentMethod   domain.PaymentMethod
	ShippingRateID  string
}

// OrderQuery identifies an order and the caller reading it. Guests prove access with the
// contact email of a guest order.
type OrderQuery struct {
	OrderID string
	Actor   domain.Actor
	Email   string
}

// OrderTracking is the public view of an order's progress.
type OrderTracking struct {
	OrderNumber string
	Status      domain.OrderStatus
	Timeline    []domain.TimelineEntry
}

// TransitionStatusCommand moves an order through the lifecycle on behalf of an operator.
type TransitionStatusCommand struct {
	OrderID string
	Status  domain.OrderStatus
	Note    string
	Actor   domain.Actor
}

// CancelOrderCommand cancels a pending or processing order.
type CancelOrderCommand struct {
	OrderID string
	Reason  string
	Actor   domain.Actor
}

// AddNoteCommand appends an annotation.
type AddNoteCommand struct {
	OrderID  string
	Content  string
	Internal bool
	Actor    domain.Actor
}

// InitializePaymentCommand starts a gateway checkout for an order.
type InitializePaymentCommand struct {
	OrderID string
	Actor   domain.Actor
	Email   string
}

// PaymentSession is the redirect handle returned by the gateway.
type PaymentSession struct {
	AuthorizationURL string
	Reference        string
	AccessCode       string
}

// RefundCommand refunds part or all of a paid order.
type RefundCommand struct {
	OrderID string
	Amount  int64
	Reason  string
	Actor   domain.Actor
}

// ManualPaymentCommand records an offline payment confirmed by an operator.
type ManualPaymentCommand struct {
	OrderID   string
	Reference string
	Actor     domain.Actor
}

// ReconcileSummary reports the outcome of a pending payment sweep.
type ReconcileSummary struct {
	Checked   int
	Confirmed int
	Expired   int
	Failed    int
}

// PaymentGateway is the contract each payment provider adapter implements. Amounts are in
// the smallest currency unit.
type PaymentGateway interface {
	Initialize(ctx context.Context, req GatewayInitRequest) (GatewayInitResult, error)
	Verify(ctx context.Context, req GatewayVerifyRequest) (GatewayVerification, error)
	Refund(ctx context.Context, req GatewayRefundRequest) (GatewayRefundResult, error)
	// ParseWebhook authenticates payload and extracts the payment reference. Events that do
	// not concern a payment return an empty reference.
	ParseWebhook(payload []byte, signature string) (WebhookEvent, error)
}

// GatewayRouter resolves the gateway for a payment method.
type GatewayRouter interface {
	Gateway(method domain.PaymentMethod) (PaymentGateway, bool)
}

// GatewayInitRequest starts a transaction.
type GatewayInitRequest struct {
	Reference   string
	Amount      int64
	Currency    string
	Email       string
	CallbackURL string
	Metadata    map[string]string
}

// GatewayInitResult is the handle the buyer is redirected with.
type GatewayInitResult struct {
	AuthorizationURL string
	AccessCode       string
	Reference        string
}

// GatewayVerifyRequest identifies a transaction to verify.
type GatewayVerifyRequest struct {
	Reference  string
	AccessCode string
}

// GatewayVerification is the gateway's view of a transaction. Failed is set only for
// terminal failures; abandoned or in-flight transactions leave both flags false.
type GatewayVerification struct {
	Confirmed     bool
	Failed        bool
	Status        string
	Amount        int64
	Currency      string
	PaidAt        time.Time
	TransactionID string
	Channel       string
	Details       map[string]any
}

// GatewayRefundRequest refunds a settled transaction. OrderID keys gateway-side
// idempotency so a repeated refund of the same order is collapsed by the provider.
type GatewayRefundRequest struct {
	OrderID       string
	TransactionID string
	Reference     string
	Amount        int64
	Currency      string
	Reason        string
}

// GatewayRefundResult reports the refund outcome.
type GatewayRefundResult struct {
	Confirmed bool
	Reference string
	Status    string
}

// WebhookEvent is the authenticated content of a gateway callback.
type WebhookEvent struct {
	Type      string
	Reference string
}
