package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/repositories"
	"github.com/hanko-field/fulfillment/internal/repositories/memory"
)

var (
	buyer    = domain.Actor{ID: "user-1", Role: domain.ActorCustomer}
	stranger = domain.Actor{ID: "user-2", Role: domain.ActorCustomer}
	guest    = domain.Actor{Role: domain.ActorCustomer}
	operator = domain.Actor{ID: "staff-1", Role: domain.ActorOperator}
)

func testSettings() domain.CommerceSettings {
	return domain.CommerceSettings{
		Currency: "NGN",
		Shipping: domain.ShippingSettings{
			CatchAllZoneID: "other",
			Zones: []domain.ShippingZone{
				{
					ID: "lagos", Name: "Lagos", Regions: []string{"Lagos"}, Active: true,
					Rates: []domain.ShippingRate{
						{ID: "lagos-standard", Name: "Standard", Description: "2-3 days", Price: 150000, FreeShippingThreshold: 5000000, Active: true},
						{ID: "lagos-express", Name: "Express", Price: 350000, Active: false},
					},
				},
				{
					ID: "abuja", Name: "Abuja", Regions: []string{"FCT", "Abuja"}, Active: true,
					Rates: []domain.ShippingRate{{ID: "abuja-standard", Name: "Standard", Price: 250000, Active: true}},
				},
				{
					ID: "other", Name: "Other Regions", Active: true,
					Rates: []domain.ShippingRate{{ID: "other-standard", Name: "Nationwide", Price: 400000, Active: true}},
				},
			},
		},
		Tax:          domain.TaxSettings{Rate: decimal.Zero},
		Inventory:    domain.InventorySettings{LowStockThreshold: 3},
		OrderNumbers: domain.OrderNumberSettings{Prefix: "ORD", MaxAttempts: 5},
	}
}

type fixture struct {
	t         *testing.T
	orders    *memory.OrderRepository
	inventory *memory.InventoryRepository
	catalog   *memory.CatalogRepository
	numbers   *memory.OrderNumberRepository
	ledger    *InventoryLedger
	orderSvc  OrderService
	payments  PaymentService
	gateway   *stubGateway
	notifier  *stubNotifier
	settings  domain.CommerceSettings

	mu  sync.Mutex
	now time.Time
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	settings domain.CommerceSettings
}

func withSettings(mutate func(*domain.CommerceSettings)) fixtureOption {
	return func(cfg *fixtureConfig) {
		mutate(&cfg.settings)
	}
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	cfg := fixtureConfig{settings: testSettings()}
	for _, opt := range opts {
		opt(&cfg)
	}

	f := &fixture{
		t:         t,
		orders:    memory.NewOrderRepository(),
		inventory: memory.NewInventoryRepository(),
		catalog:   memory.NewCatalogRepository(),
		numbers:   memory.NewOrderNumberRepository(),
		gateway:   newStubGateway(),
		notifier:  &stubNotifier{},
		settings:  cfg.settings,
		now:       time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC),
	}

	f.catalog.Put(domain.Product{ID: "P1", Name: "Ankara Tote", BasePrice: 100000, Status: domain.ProductStatusActive, Image: "p1.jpg"})
	f.catalog.Put(domain.Product{
		ID: "P2", Name: "Adire Shirt", BasePrice: 800000, Status: domain.ProductStatusActive,
		Variants: []domain.ProductVariant{
			{ID: "large", Name: "Large", PriceAdjustment: 50000, Active: true},
			{ID: "small", Name: "Small", Active: false},
		},
	})
	f.catalog.Put(domain.Product{ID: "P3", Name: "Draft Hat", BasePrice: 5000, Status: domain.ProductStatusDraft})
	f.inventory.Put(domain.InventoryItem{ProductID: "P1", Stock: 10})
	f.inventory.Put(domain.InventoryItem{ProductID: "P2", VariantID: "large", Stock: 4})
	f.inventory.Put(domain.InventoryItem{ProductID: "P2", VariantID: "small", Stock: 4})
	f.inventory.Put(domain.InventoryItem{ProductID: "P3", Stock: 4})

	f.build(f.orders)
	return f
}

// build wires the services over orders, which tests may wrap to inject failures.
func (f *fixture) build(orders repositories.OrderRepository) {
	f.t.Helper()
	ledger, err := NewInventoryLedger(InventoryLedgerDeps{
		Inventory:         f.inventory,
		LowStockThreshold: f.settings.Inventory.LowStockThreshold,
		Clock:             f.clock,
	})
	if err != nil {
		f.t.Fatalf("new ledger: %v", err)
	}
	reader, err := NewCatalogReader(f.catalog, f.inventory)
	if err != nil {
		f.t.Fatalf("new catalog reader: %v", err)
	}
	orderSvc, err := NewOrderService(OrderServiceDeps{
		Orders:   orders,
		Numbers:  f.numbers,
		Catalog:  reader,
		Ledger:   ledger,
		Settings: f.settings,
		Clock:    f.clock,
	})
	if err != nil {
		f.t.Fatalf("new order service: %v", err)
	}
	payments, err := NewPaymentService(PaymentServiceDeps{
		Orders:    orders,
		Gateways:  stubRouter{domain.PaymentMethodPaystack: f.gateway, domain.PaymentMethodStripe: f.gateway},
		Ledger:    ledger,
		Notifier:  f.notifier,
		Settings:  f.settings,
		Clock:     f.clock,
		Lifecycle: orderSvc,
	})
	if err != nil {
		f.t.Fatalf("new payment service: %v", err)
	}
	f.ledger = ledger
	f.orderSvc = orderSvc
	f.payments = payments
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *fixture) stock(key domain.StockKey) int64 {
	f.t.Helper()
	item, err := f.inventory.Get(context.Background(), key)
	if err != nil {
		f.t.Fatalf("get stock %s: %v", key, err)
	}
	return item.Stock
}

func (f *fixture) history(key domain.StockKey) []domain.StockAdjustment {
	f.t.Helper()
	history, err := f.inventory.ListAdjustments(context.Background(), key, 0)
	if err != nil {
		f.t.Fatalf("list adjustments %s: %v", key, err)
	}
	return history
}

func (f *fixture) createOrder(actor domain.Actor, method domain.PaymentMethod, lines ...CartLine) domain.Order {
	f.t.Helper()
	order, err := f.orderSvc.CreateOrder(context.Background(), lagosCommand(actor, method, lines...))
	if err != nil {
		f.t.Fatalf("create order: %v", err)
	}
	return order
}

// payOrder drives an order through initialisation and a successful verification.
func (f *fixture) payOrder(order domain.Order) domain.Order {
	f.t.Helper()
	ctx := context.Background()
	session, err := f.payments.InitializePayment(ctx, InitializePaymentCommand{OrderID: order.ID, Actor: operator})
	if err != nil {
		f.t.Fatalf("initialize payment: %v", err)
	}
	f.gateway.confirm(session.Reference, order.Totals.Total)
	paid, err := f.payments.VerifyPayment(ctx, session.Reference)
	if err != nil {
		f.t.Fatalf("verify payment: %v", err)
	}
	return paid
}

func lagosCommand(actor domain.Actor, method domain.PaymentMethod, lines ...CartLine) CreateOrderCommand {
	if len(lines) == 0 {
		lines = []CartLine{{ProductID: "P1", Quantity: 2}}
	}
	return CreateOrderCommand{
		Actor: actor,
		Items: lines,
		ShippingAddress: domain.Address{
			Recipient: "Ada Obi",
			Email:     "ada@example.com",
			Phone:     "+2348000000000",
			Line1:     "12 Admiralty Way",
			City:      "Lekki",
			Region:    "Lagos",
			Country:   "NG",
		},
		PaymentMethod:  method,
		ShippingRateID: "lagos-standard",
	}
}

type stubRouter map[domain.PaymentMethod]PaymentGateway

func (r stubRouter) Gateway(method domain.PaymentMethod) (PaymentGateway, bool) {
	gateway, ok := r[method]
	return gateway, ok
}

type stubGateway struct {
	mu            sync.Mutex
	verifications map[string]GatewayVerification
	initCalls     int
	verifyCalls   int
	refunds       []GatewayRefundRequest
	refundCalls   int
	refundErr     error
	refundFn      func(req GatewayRefundRequest) (GatewayRefundResult, error)
	webhookFn     func(payload []byte, signature string) (WebhookEvent, error)
}

func newStubGateway() *stubGateway {
	return &stubGateway{verifications: make(map[string]GatewayVerification)}
}

func (g *stubGateway) confirm(reference string, amount int64) {
	g.set(reference, GatewayVerification{
		Confirmed:     true,
		Status:        "success",
		Amount:        amount,
		Currency:      "NGN",
		PaidAt:        time.Date(2024, 5, 1, 9, 45, 0, 0, time.UTC),
		TransactionID: "txn-" + reference,
		Channel:       "card",
		Details:       map[string]any{"last4": "4081"},
	})
}

func (g *stubGateway) set(reference string, v GatewayVerification) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifications[reference] = v
}

func (g *stubGateway) Initialize(_ context.Context, req GatewayInitRequest) (GatewayInitResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initCalls++
	return GatewayInitResult{
		AuthorizationURL: "https://checkout.example.com/" + req.Reference,
		AccessCode:       "access-" + req.Reference,
		Reference:        req.Reference,
	}, nil
}

func (g *stubGateway) Verify(_ context.Context, req GatewayVerifyRequest) (GatewayVerification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifyCalls++
	v, ok := g.verifications[req.Reference]
	if !ok {
		return GatewayVerification{Status: "abandoned"}, nil
	}
	return v, nil
}

func (g *stubGateway) Refund(_ context.Context, req GatewayRefundRequest) (GatewayRefundResult, error) {
	g.mu.Lock()
	g.refundCalls++
	fn := g.refundFn
	g.mu.Unlock()
	if fn != nil {
		return fn(req)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return GatewayRefundResult{}, g.refundErr
	}
	g.refunds = append(g.refunds, req)
	return GatewayRefundResult{Confirmed: true, Reference: "rfnd-" + req.TransactionID, Status: "processed"}, nil
}

func (g *stubGateway) calls() (initCalls, refundCalls int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.initCalls, g.refundCalls
}

func (g *stubGateway) ParseWebhook(payload []byte, signature string) (WebhookEvent, error) {
	if g.webhookFn == nil {
		return WebhookEvent{}, nil
	}
	return g.webhookFn(payload, signature)
}

type stubNotifier struct {
	mu       sync.Mutex
	err      error
	messages []Notification
}

func (n *stubNotifier) Notify(_ context.Context, message Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.messages = append(n.messages, message)
	return nil
}

func (n *stubNotifier) sent() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.messages...)
}
