package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/platform/auth"
	"github.com/hanko-field/fulfillment/internal/services"
)

type stubOrderService struct {
	create     func(context.Context, services.CreateOrderCommand) (domain.Order, error)
	get        func(context.Context, services.OrderQuery) (domain.Order, error)
	tracking   func(context.Context, services.OrderQuery) (services.OrderTracking, error)
	rates      func(context.Context, string) ([]services.ShippingOption, error)
	transition func(context.Context, services.TransitionStatusCommand) (domain.Order, error)
	cancel     func(context.Context, services.CancelOrderCommand) (domain.Order, error)
	addNote    func(context.Context, services.AddNoteCommand) (domain.Order, error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (domain.Order, error) {
	return s.create(ctx, cmd)
}

func (s *stubOrderService) GetOrder(ctx context.Context, query services.OrderQuery) (domain.Order, error) {
	return s.get(ctx, query)
}

func (s *stubOrderService) Tracking(ctx context.Context, query services.OrderQuery) (services.OrderTracking, error) {
	return s.tracking(ctx, query)
}

func (s *stubOrderService) ShippingRates(ctx context.Context, region string) ([]services.ShippingOption, error) {
	return s.rates(ctx, region)
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.TransitionStatusCommand) (domain.Order, error) {
	return s.transition(ctx, cmd)
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (domain.Order, error) {
	return s.cancel(ctx, cmd)
}

func (s *stubOrderService) AddNote(ctx context.Context, cmd services.AddNoteCommand) (domain.Order, error) {
	return s.addNote(ctx, cmd)
}

type stubPaymentService struct {
	initialize func(context.Context, services.InitializePaymentCommand) (services.PaymentSession, error)
	verify     func(context.Context, string) (domain.Order, error)
	webhook    func(context.Context, domain.PaymentMethod, []byte, string) error
	refund     func(context.Context, services.RefundCommand) (domain.Order, error)
	manual     func(context.Context, services.ManualPaymentCommand) (domain.Order, error)
	confirm    func(context.Context, string, domain.Actor) (domain.Order, error)
	reconcile  func(context.Context, int) (services.ReconcileSummary, error)
}

func (s *stubPaymentService) InitializePayment(ctx context.Context, cmd services.InitializePaymentCommand) (services.PaymentSession, error) {
	return s.initialize(ctx, cmd)
}

func (s *stubPaymentService) VerifyPayment(ctx context.Context, reference string) (domain.Order, error) {
	return s.verify(ctx, reference)
}

func (s *stubPaymentService) HandleWebhook(ctx context.Context, method domain.PaymentMethod, payload []byte, signature string) error {
	return s.webhook(ctx, method, payload, signature)
}

func (s *stubPaymentService) Refund(ctx context.Context, cmd services.RefundCommand) (domain.Order, error) {
	return s.refund(ctx, cmd)
}

func (s *stubPaymentService) ConfirmManualPayment(ctx context.Context, cmd services.ManualPaymentCommand) (domain.Order, error) {
	return s.manual(ctx, cmd)
}

func (s *stubPaymentService) SendConfirmation(ctx context.Context, orderID string, actor domain.Actor) (domain.Order, error) {
	return s.confirm(ctx, orderID, actor)
}

func (s *stubPaymentService) ReconcilePending(ctx context.Context, limit int) (services.ReconcileSummary, error) {
	return s.reconcile(ctx, limit)
}

type stubInventoryService struct {
	adjust   func(context.Context, services.AdjustStockCommand) (domain.StockAdjustment, error)
	history  func(context.Context, domain.StockKey, int) ([]domain.StockAdjustment, error)
	lowStock func(context.Context, int) ([]domain.InventoryItem, error)
}

func (s *stubInventoryService) Adjust(ctx context.Context, cmd services.AdjustStockCommand) (domain.StockAdjustment, error) {
	return s.adjust(ctx, cmd)
}

func (s *stubInventoryService) History(ctx context.Context, key domain.StockKey, limit int) ([]domain.StockAdjustment, error) {
	return s.history(ctx, key, limit)
}

func (s *stubInventoryService) LowStock(ctx context.Context, limit int) ([]domain.InventoryItem, error) {
	return s.lowStock(ctx, limit)
}

// routesWithIdentity mounts a registrar behind a middleware that attaches identity, standing
// in for the Firebase authenticator.
func routesWithIdentity(routes RouteRegistrar, identity *auth.Identity) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if identity != nil {
				req = req.WithContext(auth.WithIdentity(req.Context(), identity))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Group(func(g chi.Router) { routes(g) })
	return r
}

func serve(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body, got %q: %v", rr.Body.String(), err)
	}
	return body
}

var (
	buyerIdentity    = &auth.Identity{UID: "u1", Email: "ada@example.com", Roles: []string{auth.RoleUser}}
	operatorIdentity = &auth.Identity{UID: "staff-1", Email: "ops@example.com", Roles: []string{auth.RoleStaff}}
)

func sampleOrder() domain.Order {
	uid := "u1"
	return domain.Order{
		ID:          "O1",
		OrderNumber: "ORD-20240501-0001",
		UserID:      &uid,
		Email:       "ada@example.com",
		Status:      domain.OrderStatusPending,
		Currency:    "NGN",
		Items: []domain.OrderItem{{
			ProductID: "P1", Name: "Tote", UnitPrice: 1000000, Quantity: 2, Subtotal: 2000000,
		}},
		Totals: domain.OrderTotals{Subtotal: 2000000, ShippingFee: 150000, Total: 2150000},
		Payment: domain.PaymentInfo{
			Method: domain.PaymentMethodPaystack,
			Status: domain.PaymentStatusPending,
		},
		Timeline: []domain.TimelineEntry{{Status: domain.OrderStatusPending, Actor: "customer:u1"}},
		Notes: []domain.OrderNote{
			{ID: "n1", Content: "gift wrap please", Actor: "customer:u1"},
			{ID: "n2", Content: "fraud check passed", Actor: "operator:staff-1", Internal: true},
		},
	}
}
