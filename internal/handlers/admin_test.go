package handlers

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/services"
)

func TestAdminRoutesRequireOperator(t *testing.T) {
	orders := &stubOrderService{transition: func(context.Context, services.TransitionStatusCommand) (domain.Order, error) {
		t.Fatalf("service must not be reached")
		return domain.Order{}, nil
	}}
	routes := NewAdminHandlers(nil, orders, nil, nil).Routes

	if rr := serve(t, routesWithIdentity(routes, nil), http.MethodPut, "/orders/O1/status", `{"status":"shipped"}`); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without identity, got %d", rr.Code)
	}
	if rr := serve(t, routesWithIdentity(routes, buyerIdentity), http.MethodPut, "/orders/O1/status", `{"status":"shipped"}`); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for buyer, got %d", rr.Code)
	}
}

func TestAdminTransitionStatus(t *testing.T) {
	var cmd services.TransitionStatusCommand
	orders := &stubOrderService{transition: func(_ context.Context, c services.TransitionStatusCommand) (domain.Order, error) {
		cmd = c
		if c.Status == domain.OrderStatusDelivered {
			return domain.Order{}, fmt.Errorf("%w: pending -> delivered", services.ErrInvalidTransition)
		}
		order := sampleOrder()
		order.Status = c.Status
		return order, nil
	}}
	h := routesWithIdentity(NewAdminHandlers(nil, orders, nil, nil).Routes, operatorIdentity)

	rr := serve(t, h, http.MethodPut, "/orders/O1/status", `{"status":"processing","note":"paid by transfer"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if cmd.OrderID != "O1" || cmd.Note != "paid by transfer" || cmd.Actor != (domain.Actor{ID: "staff-1", Role: domain.ActorOperator}) {
		t.Fatalf("unexpected command %+v", cmd)
	}
	order := decodeBody(t, rr)["order"].(map[string]any)
	if order["status"] != "processing" {
		t.Fatalf("unexpected order %v", order)
	}

	if rr := serve(t, h, http.MethodPut, "/orders/O1/status", `{"status":"delivered"}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected invalid transition to map to 400, got %d", rr.Code)
	}
	if rr := serve(t, h, http.MethodPut, "/orders/O1/status", `{"status":"lost"}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected unknown status rejected, got %d", rr.Code)
	}
}

func TestAdminNotesRefundAndPayments(t *testing.T) {
	var (
		note      services.AddNoteCommand
		refund    services.RefundCommand
		manual    services.ManualPaymentCommand
		confirmed string
	)
	orders := &stubOrderService{addNote: func(_ context.Context, c services.AddNoteCommand) (domain.Order, error) {
		note = c
		return sampleOrder(), nil
	}}
	payments := &stubPaymentService{
		refund: func(_ context.Context, c services.RefundCommand) (domain.Order, error) {
			refund = c
			if c.Amount > 2150000 {
				return domain.Order{}, fmt.Errorf("%w: refund exceeds order total", services.ErrInvalidInput)
			}
			return sampleOrder(), nil
		},
		manual: func(_ context.Context, c services.ManualPaymentCommand) (domain.Order, error) {
			manual = c
			return sampleOrder(), nil
		},
		confirm: func(_ context.Context, orderID string, actor domain.Actor) (domain.Order, error) {
			confirmed = orderID + "|" + actor.Label()
			return sampleOrder(), nil
		},
	}
	h := routesWithIdentity(NewAdminHandlers(nil, orders, payments, nil).Routes, operatorIdentity)

	if rr := serve(t, h, http.MethodPost, "/orders/O1/notes", `{"content":"called buyer","internal":true}`); rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	if note.Content != "called buyer" || !note.Internal || note.OrderID != "O1" {
		t.Fatalf("unexpected note command %+v", note)
	}
	if rr := serve(t, h, http.MethodPost, "/orders/O1/notes", `{"content":""}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected empty note rejected, got %d", rr.Code)
	}

	if rr := serve(t, h, http.MethodPost, "/orders/O1/refund", `{"amount":100000,"reason":"damaged"}`); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if refund.Amount != 100000 || refund.Reason != "damaged" {
		t.Fatalf("unexpected refund command %+v", refund)
	}
	if rr := serve(t, h, http.MethodPost, "/orders/O1/refund", `{"amount":0}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected zero refund rejected, got %d", rr.Code)
	}
	rr := serve(t, h, http.MethodPost, "/orders/O1/refund", `{"amount":9000000}`)
	if rr.Code != http.StatusBadRequest || decodeBody(t, rr)["error"] != "invalid_input" {
		t.Fatalf("expected over-refund rejected, got %d", rr.Code)
	}

	if rr := serve(t, h, http.MethodPost, "/orders/O1/payments/manual", `{"reference":"TRF-991"}`); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if manual.Reference != "TRF-991" || manual.Actor.ID != "staff-1" {
		t.Fatalf("unexpected manual payment command %+v", manual)
	}

	if rr := serve(t, h, http.MethodPost, "/orders/O1/send-confirmation", ""); rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
	if confirmed != "O1|operator:staff-1" {
		t.Fatalf("unexpected confirmation call %q", confirmed)
	}
}

func TestAdminInventory(t *testing.T) {
	var (
		adjust  services.AdjustStockCommand
		histKey domain.StockKey
		limits  []int
	)
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	inventory := &stubInventoryService{
		adjust: func(_ context.Context, c services.AdjustStockCommand) (domain.StockAdjustment, error) {
			adjust = c
			return domain.StockAdjustment{ID: "A1", ProductID: c.Key.ProductID, Delta: c.Delta, PreviousStock: 10, NewStock: 15, Reason: domain.AdjustmentReasonManualAdjustment, Actor: c.Actor.Label(), CreatedAt: at}, nil
		},
		history: func(_ context.Context, key domain.StockKey, limit int) ([]domain.StockAdjustment, error) {
			histKey = key
			limits = append(limits, limit)
			return []domain.StockAdjustment{{ID: "A1", ProductID: key.ProductID, Delta: 5}}, nil
		},
		lowStock: func(_ context.Context, limit int) ([]domain.InventoryItem, error) {
			limits = append(limits, limit)
			return []domain.InventoryItem{{ProductID: "P2", Stock: 1}}, nil
		},
	}
	h := routesWithIdentity(NewAdminHandlers(nil, nil, nil, inventory).Routes, operatorIdentity)

	rr := serve(t, h, http.MethodPost, "/inventory/adjustments", `{"product_id":"P1","delta":5,"note":"delivery"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if adjust.Key.ProductID != "P1" || adjust.Delta != 5 || adjust.Note != "delivery" || !adjust.Actor.IsOperator() {
		t.Fatalf("unexpected adjust command %+v", adjust)
	}
	adj := decodeBody(t, rr)["adjustment"].(map[string]any)
	if adj["new_stock"].(float64) != 15 || adj["actor"] != "operator:staff-1" || adj["created_at"] != "2024-05-01T10:00:00Z" {
		t.Fatalf("unexpected adjustment payload %v", adj)
	}
	if rr := serve(t, h, http.MethodPost, "/inventory/adjustments", `{"product_id":"P1","delta":0}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected zero delta rejected, got %d", rr.Code)
	}

	if rr := serve(t, h, http.MethodGet, "/inventory/P1/adjustments?variantId=red&limit=500", ""); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if histKey != (domain.StockKey{ProductID: "P1", VariantID: "red"}) {
		t.Fatalf("unexpected history key %+v", histKey)
	}
	if rr := serve(t, h, http.MethodGet, "/inventory/P1/adjustments?limit=abc", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected invalid limit rejected, got %d", rr.Code)
	}

	rr = serve(t, h, http.MethodGet, "/inventory/low-stock", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if items := decodeBody(t, rr)["items"].([]any); len(items) != 1 {
		t.Fatalf("unexpected low stock items %v", items)
	}
	if len(limits) != 2 || limits[0] != maxAdminListSize || limits[1] != defaultAdminListSize {
		t.Fatalf("unexpected limits %v", limits)
	}
}
