package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/repositories"
	"github.com/hanko-field/fulfillment/internal/repositories/memory"
)

var p1 = domain.StockKey{ProductID: "P1"}

func TestOrderService_CreateOrderLagosScenario(t *testing.T) {
	f := newFixture(t)

	order := f.createOrder(buyer, domain.PaymentMethodPaystack)

	if order.Totals.Subtotal != 200000 || order.Totals.ShippingFee != 150000 || order.Totals.Tax != 0 || order.Totals.Total != 350000 {
		t.Fatalf("unexpected totals %+v", order.Totals)
	}
	if !order.Totals.Balanced() {
		t.Fatalf("totals do not balance: %+v", order.Totals)
	}
	if order.Status != domain.OrderStatusPending || order.Payment.Status != domain.PaymentStatusPending {
		t.Fatalf("expected pending order and payment, got %s/%s", order.Status, order.Payment.Status)
	}
	if len(order.Timeline) != 1 || order.Timeline[0].Status != domain.OrderStatusPending || order.Timeline[0].Actor != "customer:user-1" {
		t.Fatalf("expected a single placement timeline entry, got %+v", order.Timeline)
	}
	if !regexp.MustCompile(`^ORD-20240501-\d{4}$`).MatchString(order.OrderNumber) {
		t.Fatalf("unexpected order number %q", order.OrderNumber)
	}
	if order.UserID == nil || *order.UserID != "user-1" || order.Email != "ada@example.com" {
		t.Fatalf("unexpected ownership %v %s", order.UserID, order.Email)
	}
	if order.ShippingMethod.RateID != "lagos-standard" || order.ShippingMethod.Name != "Standard" || order.ShippingMethod.Charged != 150000 {
		t.Fatalf("unexpected shipping snapshot %+v", order.ShippingMethod)
	}
	if item := order.Items[0]; item.UnitPrice != 100000 || item.Subtotal != 200000 || item.ImageRef != "p1.jpg" {
		t.Fatalf("unexpected line snapshot %+v", item)
	}

	if got := f.stock(p1); got != 8 {
		t.Fatalf("expected stock 8 after reservation, got %d", got)
	}
	history := f.history(p1)
	if len(history) != 1 || history[0].Reason != domain.AdjustmentReasonOrderCreate || history[0].OrderID != order.ID || history[0].Delta != -2 {
		t.Fatalf("expected one order-create adjustment, got %+v", history)
	}
}

func TestOrderService_CreateOrderFreeShippingAndTax(t *testing.T) {
	f := newFixture(t, withSettings(func(s *domain.CommerceSettings) {
		s.Tax = domain.TaxSettings{Enabled: true, Rate: decimal.RequireFromString("7.5")}
	}))

	cmd := lagosCommand(guest, domain.PaymentMethodPaystack, CartLine{ProductID: "P2", VariantID: "large", Quantity: 4}, CartLine{ProductID: "P1", Quantity: 3})
	order, err := f.orderSvc.CreateOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	// 4 x 8500 + 3 x 1000 = 37000 naira; below the 50000 threshold
	if order.Totals.Subtotal != 3700000 {
		t.Fatalf("unexpected subtotal %d", order.Totals.Subtotal)
	}
	if order.Totals.Tax != 277500 || !order.Totals.TaxRate.Equal(decimal.RequireFromString("7.5")) {
		t.Fatalf("unexpected tax %d at %s", order.Totals.Tax, order.Totals.TaxRate)
	}
	if order.Totals.Total != 3700000+150000+277500 {
		t.Fatalf("unexpected total %d", order.Totals.Total)
	}
	if order.Items[0].Name != "Adire Shirt - Large" || order.Items[0].UnitPrice != 850000 {
		t.Fatalf("unexpected variant line %+v", order.Items[0])
	}
	if order.UserID != nil {
		t.Fatalf("guest order must not have an owner")
	}

	f.inventory.Put(domain.InventoryItem{ProductID: "P1", Stock: 100})
	big, err := f.orderSvc.CreateOrder(context.Background(), lagosCommand(buyer, domain.PaymentMethodPaystack, CartLine{ProductID: "P1", Quantity: 50}))
	if err != nil {
		t.Fatalf("create large order: %v", err)
	}
	if !big.ShippingMethod.FreeShipping || big.ShippingMethod.Charged != 0 || big.ShippingMethod.Price != 150000 || big.ShippingMethod.Name != "Standard" {
		t.Fatalf("expected free shipping with the rate name kept, got %+v", big.ShippingMethod)
	}
	if big.Totals.ShippingFee != 0 || !big.Totals.Balanced() {
		t.Fatalf("unexpected totals %+v", big.Totals)
	}
}

func TestOrderService_CreateOrderRejectsInvalidRequests(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateOrderCommand)
		want   error
	}{
		{name: "empty cart", mutate: func(c *CreateOrderCommand) { c.Items = nil }, want: ErrInvalidInput},
		{name: "zero quantity", mutate: func(c *CreateOrderCommand) { c.Items[0].Quantity = 0 }, want: ErrInvalidInput},
		{name: "missing email", mutate: func(c *CreateOrderCommand) { c.ShippingAddress.Email = "" }, want: ErrInvalidInput},
		{name: "missing region", mutate: func(c *CreateOrderCommand) { c.ShippingAddress.Region = " " }, want: ErrInvalidInput},
		{name: "unknown payment method", mutate: func(c *CreateOrderCommand) { c.PaymentMethod = "cash" }, want: ErrInvalidInput},
		{name: "missing rate", mutate: func(c *CreateOrderCommand) { c.ShippingRateID = "" }, want: ErrInvalidInput},
		{name: "unknown rate", mutate: func(c *CreateOrderCommand) { c.ShippingRateID = "drone" }, want: ErrShippingRateNotFound},
		{name: "rate for another region", mutate: func(c *CreateOrderCommand) { c.ShippingRateID = "abuja-standard" }, want: ErrShippingRegionMismatch},
		{name: "inactive rate", mutate: func(c *CreateOrderCommand) { c.ShippingRateID = "lagos-express" }, want: ErrNoShippingAvailable},
		{name: "unknown product", mutate: func(c *CreateOrderCommand) { c.Items[0].ProductID = "P404" }, want: ErrProductNotFound},
		{name: "unknown variant", mutate: func(c *CreateOrderCommand) { c.Items[0] = CartLine{ProductID: "P2", VariantID: "xl", Quantity: 1} }, want: ErrProductNotFound},
		{name: "draft product", mutate: func(c *CreateOrderCommand) { c.Items[0].ProductID = "P3" }, want: ErrProductUnavailable},
		{name: "inactive variant", mutate: func(c *CreateOrderCommand) { c.Items[0] = CartLine{ProductID: "P2", VariantID: "small", Quantity: 1} }, want: ErrProductUnavailable},
		{name: "more than in stock", mutate: func(c *CreateOrderCommand) { c.Items[0].Quantity = 11 }, want: ErrInsufficientStock},
		{name: "duplicate lines exceed stock", mutate: func(c *CreateOrderCommand) {
			c.Items = []CartLine{{ProductID: "P1", Quantity: 6}, {ProductID: "P1", Quantity: 5}}
		}, want: ErrInsufficientStock},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			cmd := lagosCommand(buyer, domain.PaymentMethodPaystack)
			tc.mutate(&cmd)

			_, err := f.orderSvc.CreateOrder(context.Background(), cmd)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if got := f.stock(p1); got != 10 {
				t.Fatalf("rejected order must not move stock, got %d", got)
			}
			if history := f.history(p1); len(history) != 0 {
				t.Fatalf("rejected order must not write the ledger, got %+v", history)
			}
		})
	}
}

func TestOrderService_CatchAllRateServesUnlistedRegion(t *testing.T) {
	f := newFixture(t)
	cmd := lagosCommand(buyer, domain.PaymentMethodPaystack)
	cmd.ShippingAddress.Region = "Kano"
	cmd.ShippingRateID = "other-standard"

	order, err := f.orderSvc.CreateOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.ShippingMethod.ZoneID != "other" || order.Totals.ShippingFee != 400000 {
		t.Fatalf("unexpected catch-all shipping %+v", order.ShippingMethod)
	}
}

func TestOrderService_ConcurrentBuyersForLastUnit(t *testing.T) {
	f := newFixture(t)
	f.inventory.Put(domain.InventoryItem{ProductID: "P1", Stock: 1})

	const buyers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		rejected  int
		other     []error
	)
	start := make(chan struct{})
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.orderSvc.CreateOrder(context.Background(), lagosCommand(guest, domain.PaymentMethodPaystack, CartLine{ProductID: "P1", Quantity: 1}))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrInsufficientStock):
				rejected++
			default:
				other = append(other, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if len(other) > 0 {
		t.Fatalf("unexpected errors: %v", other)
	}
	if successes != 1 || rejected != buyers-1 {
		t.Fatalf("expected 1 success and %d rejections, got %d and %d", buyers-1, successes, rejected)
	}
	if got := f.stock(p1); got != 0 {
		t.Fatalf("expected stock 0, got %d", got)
	}
	history := f.history(p1)
	if len(history) != 1 || history[0].Reason != domain.AdjustmentReasonOrderCreate {
		t.Fatalf("expected exactly one order-create entry, got %+v", history)
	}
}

type stubOrderRepository struct {
	*memory.OrderRepository
	insertFn   func(ctx context.Context, order domain.Order) error
	findByIDFn func(ctx context.Context, orderID string) (domain.Order, error)
}

func (r stubOrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r.insertFn != nil {
		return r.insertFn(ctx, order)
	}
	return r.OrderRepository.Insert(ctx, order)
}

func (r stubOrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r.findByIDFn != nil {
		return r.findByIDFn(ctx, orderID)
	}
	return r.OrderRepository.FindByID(ctx, orderID)
}

func TestOrderService_CreateOrderReleasesStockWhenPersistFails(t *testing.T) {
	f := newFixture(t)
	f.build(stubOrderRepository{
		OrderRepository: f.orders,
		insertFn: func(context.Context, domain.Order) error {
			return repositories.NewUnavailableError("orders.insert", "backend offline")
		},
	})

	_, err := f.orderSvc.CreateOrder(context.Background(), lagosCommand(buyer, domain.PaymentMethodPaystack))
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	if got := f.stock(p1); got != 10 {
		t.Fatalf("expected reservation released, stock %d", got)
	}
	history := f.history(p1)
	if len(history) != 2 {
		t.Fatalf("expected reservation and rollback entries, got %+v", history)
	}
	rollback := history[0]
	if rollback.Delta != 2 || rollback.Reason != domain.AdjustmentReasonOrderCreate || rollback.Note != "rollback" {
		t.Fatalf("unexpected rollback entry %+v", rollback)
	}
	if item, _ := f.inventory.Get(context.Background(), p1); item.SalesCount != 0 {
		t.Fatalf("expected sales count restored, got %d", item.SalesCount)
	}
}

func TestOrderService_CreateOrderKeepsOrderWrittenDespiteInsertError(t *testing.T) {
	f := newFixture(t)
	f.build(stubOrderRepository{
		OrderRepository: f.orders,
		insertFn: func(ctx context.Context, order domain.Order) error {
			if err := f.orders.Insert(ctx, order); err != nil {
				return err
			}
			return repositories.NewUnavailableError("orders.insert", "connection reset after commit")
		},
	})

	order, err := f.orderSvc.CreateOrder(context.Background(), lagosCommand(buyer, domain.PaymentMethodPaystack))
	if err != nil {
		t.Fatalf("expected the committed order returned, got %v", err)
	}
	stored, err := f.orders.FindByID(context.Background(), order.ID)
	if err != nil || stored.OrderNumber != order.OrderNumber {
		t.Fatalf("expected order persisted, got %+v %v", stored, err)
	}
	if got := f.stock(p1); got != 8 {
		t.Fatalf("expected reservation kept for the saved order, stock %d", got)
	}
	if history := f.history(p1); len(history) != 1 {
		t.Fatalf("expected no rollback entry, got %+v", history)
	}
}

func TestOrderService_CreateOrderKeepsReservationWhenOutcomeUnknown(t *testing.T) {
	f := newFixture(t)
	f.build(stubOrderRepository{
		OrderRepository: f.orders,
		insertFn: func(context.Context, domain.Order) error {
			return context.DeadlineExceeded
		},
		findByIDFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{}, repositories.NewUnavailableError("orders.findByID", "backend offline")
		},
	})

	_, err := f.orderSvc.CreateOrder(context.Background(), lagosCommand(buyer, domain.PaymentMethodPaystack))
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	if got := f.stock(p1); got != 8 {
		t.Fatalf("expected reservation kept while the insert outcome is unknown, stock %d", got)
	}
	if history := f.history(p1); len(history) != 1 {
		t.Fatalf("expected no rollback entry, got %+v", history)
	}
}

func TestOrderService_CreateOrderReleasesStockOnDefiniteInsertFailure(t *testing.T) {
	f := newFixture(t)
	var lookups int
	f.build(stubOrderRepository{
		OrderRepository: f.orders,
		insertFn: func(context.Context, domain.Order) error {
			return errors.New("invalid document")
		},
		findByIDFn: func(ctx context.Context, orderID string) (domain.Order, error) {
			lookups++
			return f.orders.FindByID(ctx, orderID)
		},
	})

	if _, err := f.orderSvc.CreateOrder(context.Background(), lagosCommand(buyer, domain.PaymentMethodPaystack)); err == nil {
		t.Fatalf("expected insert failure")
	}
	if lookups != 0 {
		t.Fatalf("definite failures must not read the order back, got %d lookups", lookups)
	}
	if got := f.stock(p1); got != 10 {
		t.Fatalf("expected reservation released, stock %d", got)
	}
}

func TestOrderService_CancelPendingOrderRestocks(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(buyer, domain.PaymentMethodPaystack)
	before := len(f.history(p1))

	cancelled, err := f.orderSvc.Cancel(context.Background(), CancelOrderCommand{OrderID: order.ID, Reason: "changed my mind", Actor: buyer})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled || cancelled.CancelledAt == nil || !cancelled.Restocked {
		t.Fatalf("unexpected cancelled order %+v", cancelled)
	}
	if got := f.stock(p1); got != 10 {
		t.Fatalf("expected stock restored to 10, got %d", got)
	}
	history := f.history(p1)
	if len(history) != before+1 {
		t.Fatalf("expected exactly one new adjustment, got %d", len(history)-before)
	}
	if history[0].Reason != domain.AdjustmentReasonOrderCancel || history[0].Delta != 2 {
		t.Fatalf("unexpected cancel adjustment %+v", history[0])
	}
	if n := len(cancelled.Notes); n != 1 || !strings.Contains(cancelled.Notes[0].Content, "customer:user-1") {
		t.Fatalf("expected a note naming the actor, got %+v", cancelled.Notes)
	}

	if _, err := f.orderSvc.Cancel(context.Background(), CancelOrderCommand{OrderID: order.ID, Actor: operator}); !errors.Is(err, ErrOrderNotCancellable) {
		t.Fatalf("expected second cancel to fail, got %v", err)
	}
	if got := f.stock(p1); got != 10 {
		t.Fatalf("second cancel must not restock again, got %d", got)
	}
}

func TestOrderService_CancelAuthorization(t *testing.T) {
	f := newFixture(t)
	owned := f.createOrder(buyer, domain.PaymentMethodPaystack)
	guestOrder := f.createOrder(guest, domain.PaymentMethodPaystack)

	tests := []struct {
		name  string
		order string
		actor domain.Actor
		want  error
	}{
		{name: "anonymous caller", order: owned.ID, actor: guest, want: ErrUnauthorized},
		{name: "another buyer", order: owned.ID, actor: stranger, want: ErrForbidden},
		{name: "buyer on guest order", order: guestOrder.ID, actor: stranger, want: ErrForbidden},
		{name: "unknown order", order: "missing", actor: operator, want: ErrOrderNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.orderSvc.Cancel(context.Background(), CancelOrderCommand{OrderID: tc.order, Actor: tc.actor})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	if _, err := f.orderSvc.Cancel(context.Background(), CancelOrderCommand{OrderID: guestOrder.ID, Actor: operator}); err != nil {
		t.Fatalf("operator cancel of guest order: %v", err)
	}
}

func TestOrderService_CancelRejectedAfterDelivery(t *testing.T) {
	f := newFixture(t)
	order := f.payOrder(f.createOrder(buyer, domain.PaymentMethodPaystack))
	ctx := context.Background()

	for _, status := range []domain.OrderStatus{domain.OrderStatusShipped, domain.OrderStatusDelivered} {
		if _, err := f.orderSvc.TransitionStatus(ctx, TransitionStatusCommand{OrderID: order.ID, Status: status, Actor: operator}); err != nil {
			t.Fatalf("transition to %s: %v", status, err)
		}
	}
	_, err := f.orderSvc.Cancel(ctx, CancelOrderCommand{OrderID: order.ID, Actor: operator})
	if !errors.Is(err, ErrOrderNotCancellable) {
		t.Fatalf("expected delivered order to be non-cancellable, got %v", err)
	}
	if KindOf(err) != KindConflict {
		t.Fatalf("unexpected kind %s", KindOf(err))
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to domain.OrderStatus
		want     bool
	}{
		{domain.OrderStatusPending, domain.OrderStatusProcessing, true},
		{domain.OrderStatusPending, domain.OrderStatusCancelled, true},
		{domain.OrderStatusPending, domain.OrderStatusShipped, false},
		{domain.OrderStatusProcessing, domain.OrderStatusShipped, true},
		{domain.OrderStatusProcessing, domain.OrderStatusRefunded, true},
		{domain.OrderStatusShipped, domain.OrderStatusDelivered, true},
		{domain.OrderStatusShipped, domain.OrderStatusPending, false},
		{domain.OrderStatusShipped, domain.OrderStatusCancelled, false},
		{domain.OrderStatusDelivered, domain.OrderStatusRefunded, true},
		{domain.OrderStatusDelivered, domain.OrderStatusCancelled, false},
		{domain.OrderStatusCancelled, domain.OrderStatusPending, false},
		{domain.OrderStatusRefunded, domain.OrderStatusProcessing, false},
		{domain.OrderStatusShipped, domain.OrderStatusShipped, true},
	}
	for _, tc := range tests {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestOrderService_TransitionStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(buyer, domain.PaymentMethodPaystack)

	if _, err := f.orderSvc.TransitionStatus(ctx, TransitionStatusCommand{OrderID: order.ID, Status: domain.OrderStatusShipped, Actor: buyer}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected buyers to be refused, got %v", err)
	}
	if _, err := f.orderSvc.TransitionStatus(ctx, TransitionStatusCommand{OrderID: order.ID, Status: domain.OrderStatusProcessing, Actor: operator}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected unpaid order to stay pending, got %v", err)
	}
	if _, err := f.orderSvc.TransitionStatus(ctx, TransitionStatusCommand{OrderID: order.ID, Status: "lost", Actor: operator}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected unknown status rejected, got %v", err)
	}

	paid := f.payOrder(order)
	if _, err := f.orderSvc.TransitionStatus(ctx, TransitionStatusCommand{OrderID: order.ID, Status: domain.OrderStatusRefunded, Actor: operator}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected refunded to require the refund operation, got %v", err)
	}

	shipped, err := f.orderSvc.TransitionStatus(ctx, TransitionStatusCommand{OrderID: order.ID, Status: domain.OrderStatusShipped, Note: "GIG Logistics #123", Actor: operator})
	if err != nil {
		t.Fatalf("ship: %v", err)
	}
	if shipped.ShippedAt == nil || len(shipped.Timeline) != len(paid.Timeline)+1 {
		t.Fatalf("expected shipped timestamp and one timeline entry, got %+v", shipped)
	}
	last := shipped.Timeline[len(shipped.Timeline)-1]
	if last.Note != "GIG Logistics #123" || last.Actor != "operator:staff-1" {
		t.Fatalf("unexpected timeline entry %+v", last)
	}
	firstShipped := *shipped.ShippedAt

	f.advance(time.Hour)
	again, err := f.orderSvc.TransitionStatus(ctx, TransitionStatusCommand{OrderID: order.ID, Status: domain.OrderStatusShipped, Actor: operator})
	if err != nil {
		t.Fatalf("same-status transition: %v", err)
	}
	if len(again.Timeline) != len(shipped.Timeline) || !again.ShippedAt.Equal(firstShipped) {
		t.Fatalf("same-status transition must be a no-op, got %+v", again)
	}

	if _, err := f.orderSvc.TransitionStatus(ctx, TransitionStatusCommand{OrderID: order.ID, Status: domain.OrderStatusPending, Actor: operator}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected shipped -> pending to fail, got %v", err)
	}
}

func TestOrderService_AddNoteSanitises(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(buyer, domain.PaymentMethodPaystack)

	noted, err := f.orderSvc.AddNote(ctx, AddNoteCommand{OrderID: order.ID, Content: `<script>alert(1)</script><b>Fragile</b>`, Internal: true, Actor: operator})
	if err != nil {
		t.Fatalf("add note: %v", err)
	}
	note := noted.Notes[len(noted.Notes)-1]
	if note.Content != "Fragile" || !note.Internal || note.Actor != "operator:staff-1" {
		t.Fatalf("unexpected note %+v", note)
	}
	if noted.Status != order.Status || len(noted.Timeline) != len(order.Timeline) {
		t.Fatalf("notes must not touch the lifecycle")
	}

	if _, err := f.orderSvc.AddNote(ctx, AddNoteCommand{OrderID: order.ID, Content: "<img src=x>", Actor: operator}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected empty sanitised note rejected, got %v", err)
	}

	own, err := f.orderSvc.AddNote(ctx, AddNoteCommand{OrderID: order.ID, Content: "Leave at the gate", Internal: true, Actor: buyer})
	if err != nil {
		t.Fatalf("buyer note: %v", err)
	}
	if own.Notes[len(own.Notes)-1].Internal {
		t.Fatalf("buyer notes are never internal")
	}
	if _, err := f.orderSvc.AddNote(ctx, AddNoteCommand{OrderID: order.ID, Content: "hi", Actor: stranger}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected stranger refused, got %v", err)
	}
}

func TestOrderService_GetOrderAndTracking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(guest, domain.PaymentMethodPaystack)

	if _, err := f.orderSvc.GetOrder(ctx, OrderQuery{OrderID: order.ID, Actor: guest}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected guests without email refused, got %v", err)
	}
	if _, err := f.orderSvc.GetOrder(ctx, OrderQuery{OrderID: order.ID, Actor: guest, Email: "ADA@example.com"}); err != nil {
		t.Fatalf("expected matching email accepted, got %v", err)
	}

	tracking, err := f.orderSvc.Tracking(ctx, OrderQuery{OrderID: order.OrderNumber, Actor: operator})
	if err != nil {
		t.Fatalf("tracking by order number: %v", err)
	}
	if tracking.OrderNumber != order.OrderNumber || tracking.Status != domain.OrderStatusPending || len(tracking.Timeline) != 1 {
		t.Fatalf("unexpected tracking %+v", tracking)
	}

	rates, err := f.orderSvc.ShippingRates(ctx, "lagos")
	if err != nil || len(rates) != 1 || rates[0].Rate.ID != "lagos-standard" {
		t.Fatalf("expected only the active lagos rate, got %+v %v", rates, err)
	}
	if _, err := f.orderSvc.ShippingRates(ctx, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected empty region rejected, got %v", err)
	}
}
