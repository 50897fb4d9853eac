package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/payments"
	"github.com/hanko-field/fulfillment/internal/platform/httpx"
	"github.com/hanko-field/fulfillment/internal/platform/observability"
	"github.com/hanko-field/fulfillment/internal/services"
)

var webhookSignatureHeaders = map[domain.PaymentMethod]string{
	domain.PaymentMethodPaystack: payments.PaystackSignatureHeader,
	domain.PaymentMethodStripe:   payments.StripeSignatureHeader,
}

// PaymentWebhookHandlers receives gateway callbacks. Requests are authenticated by the
// gateway signature, not by a bearer token.
type PaymentWebhookHandlers struct {
	payments services.PaymentService
}

// NewPaymentWebhookHandlers constructs a new PaymentWebhookHandlers instance.
func NewPaymentWebhookHandlers(payments services.PaymentService) *PaymentWebhookHandlers {
	return &PaymentWebhookHandlers{payments: payments}
}

// Routes registers the /webhooks endpoints.
func (h *PaymentWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/{provider}", h.handlePayment)
}

func (h *PaymentWebhookHandlers) handlePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		writeServiceUnavailable(ctx, w, "payment")
		return
	}

	method := domain.PaymentMethod(strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider"))))
	header, ok := webhookSignatureHeaders[method]
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unknown_provider", "unknown payment provider", http.StatusNotFound))
		return
	}
	signature := strings.TrimSpace(r.Header.Get(header))
	if signature == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature missing", http.StatusUnauthorized))
		return
	}

	payload, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	if err := h.payments.HandleWebhook(ctx, method, payload, signature); err != nil {
		if errors.Is(err, services.ErrInvalidSignature) {
			observability.FromContext(ctx).Warn("payment webhook rejected",
				zap.String("provider", string(method)),
				zap.Error(err),
			)
			httpx.WriteError(ctx, w, httpx.NewError(services.ErrInvalidSignature.Code, services.ErrInvalidSignature.Message, http.StatusUnauthorized))
			return
		}
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"received": true})
}
