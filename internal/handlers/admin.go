package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/platform/auth"
	"github.com/hanko-field/fulfillment/internal/platform/httpx"
	"github.com/hanko-field/fulfillment/internal/services"
)

const (
	defaultAdminListSize = 50
	maxAdminListSize     = 200
)

type transitionStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending processing shipped delivered cancelled refunded"`
	Note   string `json:"note" validate:"max=1000"`
}

type addNoteRequest struct {
	Content  string `json:"content" validate:"required,max=4000"`
	Internal bool   `json:"internal"`
}

type refundRequest struct {
	Amount int64  `json:"amount" validate:"required,gt=0"`
	Reason string `json:"reason" validate:"max=500"`
}

type manualPaymentRequest struct {
	Reference string `json:"reference" validate:"max=128"`
}

type adjustStockRequest struct {
	ProductID     string `json:"product_id" validate:"required,max=128"`
	VariantID     string `json:"variant_id" validate:"max=128"`
	Delta         int64  `json:"delta" validate:"required,ne=0"`
	Note          string `json:"note" validate:"max=500"`
	AllowNegative bool   `json:"allow_negative"`
}

// AdminHandlers exposes back-office order and inventory operations to staff.
type AdminHandlers struct {
	authn     *auth.Authenticator
	orders    services.OrderService
	payments  services.PaymentService
	inventory services.InventoryService
}

// NewAdminHandlers constructs a new AdminHandlers instance.
func NewAdminHandlers(authn *auth.Authenticator, orders services.OrderService, payments services.PaymentService, inventory services.InventoryService) *AdminHandlers {
	return &AdminHandlers{
		authn:     authn,
		orders:    orders,
		payments:  payments,
		inventory: inventory,
	}
}

// Routes registers the /admin endpoints.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin))
	}
	r.Use(requireOperator)

	r.Route("/orders/{orderID}", func(rt chi.Router) {
		rt.Put("/status", h.transitionStatus)
		rt.Post("/notes", h.addNote)
		rt.Post("/refund", h.refund)
		rt.Post("/payments/manual", h.confirmManualPayment)
		rt.Post("/send-confirmation", h.sendConfirmation)
	})
	r.Route("/inventory", func(rt chi.Router) {
		rt.Post("/adjustments", h.adjustStock)
		rt.Get("/low-stock", h.lowStock)
		rt.Get("/{productID}/adjustments", h.stockHistory)
	})
}

// requireOperator rejects callers without a staff identity, whatever authenticated them.
func requireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := auth.IdentityFromContext(r.Context())
		switch {
		case !ok:
			httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		case !identity.IsOperator():
			httpx.WriteError(r.Context(), w, httpx.NewError("forbidden", "operator role required", http.StatusForbidden))
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func (h *AdminHandlers) transitionStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}
	var req transitionStatusRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}
	order, err := h.orders.TransitionStatus(ctx, services.TransitionStatusCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Status:  domain.OrderStatus(req.Status),
		Note:    strings.TrimSpace(req.Note),
		Actor:   actorFromRequest(r),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, true)})
}

func (h *AdminHandlers) addNote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}
	var req addNoteRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}
	order, err := h.orders.AddNote(ctx, services.AddNoteCommand{
		OrderID:  chi.URLParam(r, "orderID"),
		Content:  req.Content,
		Internal: req.Internal,
		Actor:    actorFromRequest(r),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order, true)})
}

func (h *AdminHandlers) refund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		writeServiceUnavailable(ctx, w, "payment")
		return
	}
	var req refundRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}
	order, err := h.payments.Refund(ctx, services.RefundCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Amount:  req.Amount,
		Reason:  strings.TrimSpace(req.Reason),
		Actor:   actorFromRequest(r),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, true)})
}

func (h *AdminHandlers) confirmManualPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		writeServiceUnavailable(ctx, w, "payment")
		return
	}
	var req manualPaymentRequest
	if !decodeRequest(w, r, &req, true) {
		return
	}
	order, err := h.payments.ConfirmManualPayment(ctx, services.ManualPaymentCommand{
		OrderID:   chi.URLParam(r, "orderID"),
		Reference: strings.TrimSpace(req.Reference),
		Actor:     actorFromRequest(r),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, true)})
}

func (h *AdminHandlers) sendConfirmation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		writeServiceUnavailable(ctx, w, "payment")
		return
	}
	order, err := h.payments.SendConfirmation(ctx, chi.URLParam(r, "orderID"), actorFromRequest(r))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, orderResponse{Order: buildOrderPayload(order, true)})
}

func (h *AdminHandlers) adjustStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		writeServiceUnavailable(ctx, w, "inventory")
		return
	}
	var req adjustStockRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}
	adjustment, err := h.inventory.Adjust(ctx, services.AdjustStockCommand{
		Key:           domain.StockKey{ProductID: req.ProductID, VariantID: req.VariantID},
		Delta:         req.Delta,
		Note:          req.Note,
		Actor:         actorFromRequest(r),
		AllowNegative: req.AllowNegative,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"adjustment": buildAdjustment(adjustment)})
}

func (h *AdminHandlers) stockHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		writeServiceUnavailable(ctx, w, "inventory")
		return
	}
	limit, ok := listLimit(w, r)
	if !ok {
		return
	}
	key := domain.StockKey{
		ProductID: strings.TrimSpace(chi.URLParam(r, "productID")),
		VariantID: strings.TrimSpace(r.URL.Query().Get("variantId")),
	}
	history, err := h.inventory.History(ctx, key, limit)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]adjustmentPayload, 0, len(history))
	for _, adj := range history {
		items = append(items, buildAdjustment(adj))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *AdminHandlers) lowStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		writeServiceUnavailable(ctx, w, "inventory")
		return
	}
	limit, ok := listLimit(w, r)
	if !ok {
		return
	}
	low, err := h.inventory.LowStock(ctx, limit)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]inventoryItemPayload, 0, len(low))
	for _, item := range low {
		items = append(items, buildInventoryItem(item))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func listLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return defaultAdminListSize, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "limit must be a positive integer", http.StatusBadRequest))
		return 0, false
	}
	if limit > maxAdminListSize {
		limit = maxAdminListSize
	}
	return limit, true
}
