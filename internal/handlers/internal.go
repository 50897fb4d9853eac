package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/fulfillment/internal/platform/auth"
	"github.com/hanko-field/fulfillment/internal/platform/httpx"
	"github.com/hanko-field/fulfillment/internal/platform/observability"
	"github.com/hanko-field/fulfillment/internal/services"
)

type reconcileRequest struct {
	Limit int `json:"limit" validate:"omitempty,min=1,max=500"`
}

type reconcileResponse struct {
	Checked   int `json:"checked"`
	Confirmed int `json:"confirmed"`
	Expired   int `json:"expired"`
	Failed    int `json:"failed"`
}

// InternalPaymentHandlers serves scheduler-triggered maintenance jobs.
type InternalPaymentHandlers struct {
	payments services.PaymentService
}

// NewInternalPaymentHandlers constructs a new InternalPaymentHandlers instance.
func NewInternalPaymentHandlers(payments services.PaymentService) *InternalPaymentHandlers {
	return &InternalPaymentHandlers{payments: payments}
}

// Routes registers the /internal endpoints.
func (h *InternalPaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/reconcile", h.reconcile)
}

func (h *InternalPaymentHandlers) reconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		writeServiceUnavailable(ctx, w, "payment")
		return
	}
	var req reconcileRequest
	if !decodeRequest(w, r, &req, true) {
		return
	}

	summary, err := h.payments.ReconcilePending(ctx, req.Limit)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	fields := []zap.Field{
		zap.Int("checked", summary.Checked),
		zap.Int("confirmed", summary.Confirmed),
		zap.Int("expired", summary.Expired),
		zap.Int("failed", summary.Failed),
	}
	if caller, ok := auth.ServiceIdentityFromContext(ctx); ok {
		fields = append(fields, zap.String("caller", caller.Email))
	}
	observability.FromContext(ctx).Info("pending payments reconciled", fields...)

	httpx.WriteJSON(w, http.StatusOK, reconcileResponse(summary))
}
