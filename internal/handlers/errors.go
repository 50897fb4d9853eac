package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/hanko-field/fulfillment/internal/platform/httpx"
	"github.com/hanko-field/fulfillment/internal/platform/observability"
	"github.com/hanko-field/fulfillment/internal/services"
)

// Business rule violations that surface as 400 rather than 409.
var badRequestConflicts = map[string]struct{}{
	services.ErrInsufficientStock.Code:   {},
	services.ErrInvalidTransition.Code:   {},
	services.ErrOrderNotCancellable.Code: {},
	services.ErrPaymentNotConfirmed.Code: {},
	services.ErrPaymentNotPaid.Code:      {},
}

func statusForKind(svcErr *services.ServiceError) int {
	switch svcErr.Kind {
	case services.KindValidation:
		return http.StatusBadRequest
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindUnauthorized:
		return http.StatusUnauthorized
	case services.KindForbidden:
		return http.StatusForbidden
	case services.KindConflict:
		if _, ok := badRequestConflicts[svcErr.Code]; ok {
			return http.StatusBadRequest
		}
		return http.StatusConflict
	case services.KindGateway:
		return http.StatusBadGateway
	case services.KindSecurityAlert:
		return http.StatusPaymentRequired
	case services.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError renders a service failure. Unclassified errors are logged and hidden.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	svcErr, ok := services.AsServiceError(err)
	if !ok {
		observability.FromContext(ctx).Error("unhandled service error", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to process request", http.StatusInternalServerError))
		return
	}

	status := statusForKind(svcErr)
	message := err.Error()
	if status >= http.StatusInternalServerError && svcErr.Kind != services.KindGateway {
		observability.FromContext(ctx).Warn("service unavailable", zap.Error(err))
		message = svcErr.Message
	}
	httpx.WriteError(ctx, w, httpx.NewError(svcErr.Code, message, status))
}

func writeServiceUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_unavailable", name+" service unavailable", http.StatusServiceUnavailable))
}
