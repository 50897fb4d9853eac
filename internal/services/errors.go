package services

import (
	"errors"
	"fmt"

	"github.com/hanko-field/fulfillment/internal/repositories"
)

// ErrorKind classifies service failures for transport mapping.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindNotFound      ErrorKind = "not_found"
	KindUnauthorized  ErrorKind = "unauthorized"
	KindForbidden     ErrorKind = "forbidden"
	KindConflict      ErrorKind = "conflict"
	KindGateway       ErrorKind = "gateway"
	KindSecurityAlert ErrorKind = "security_alert"
	KindUnavailable   ErrorKind = "unavailable"
)

// ServiceError is a sentinel carrying a machine readable code. Callers wrap it with
// fmt.Errorf("%w: detail") and match with errors.Is.
type ServiceError struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *ServiceError) Error() string {
	return e.Message
}

func newServiceError(kind ErrorKind, code, message string) *ServiceError {
	return &ServiceError{Kind: kind, Code: code, Message: message}
}

var (
	// ErrInvalidInput signals malformed or missing input.
	ErrInvalidInput = newServiceError(KindValidation, "invalid_input", "invalid input")
	// ErrProductNotFound indicates a cart line references an unknown product or variant.
	ErrProductNotFound = newServiceError(KindNotFound, "product_not_found", "product not found")
	// ErrProductUnavailable indicates the product or variant is not sellable.
	ErrProductUnavailable = newServiceError(KindValidation, "product_unavailable", "product unavailable")
	// ErrStockNotFound indicates no stock record exists for the key.
	ErrStockNotFound = newServiceError(KindNotFound, "stock_not_found", "stock record not found")
	// ErrInsufficientStock indicates a reservation would oversell.
	ErrInsufficientStock = newServiceError(KindConflict, "insufficient_stock", "insufficient stock")
	// ErrShippingRateNotFound indicates the selected rate id is unknown.
	ErrShippingRateNotFound = newServiceError(KindNotFound, "shipping_rate_not_found", "shipping rate not found")
	// ErrShippingRegionMismatch indicates the rate does not serve the destination region.
	ErrShippingRegionMismatch = newServiceError(KindValidation, "shipping_region_mismatch", "shipping rate does not serve region")
	// ErrNoShippingAvailable indicates no active zone or rate serves the destination.
	ErrNoShippingAvailable = newServiceError(KindNotFound, "no_shipping_available", "no shipping available")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = newServiceError(KindNotFound, "order_not_found", "order not found")
	// ErrInvalidTransition indicates the requested status change is not in the transition graph.
	ErrInvalidTransition = newServiceError(KindConflict, "invalid_transition", "invalid status transition")
	// ErrOrderNotCancellable indicates the order left the cancellable states.
	ErrOrderNotCancellable = newServiceError(KindConflict, "order_not_cancellable", "order cannot be cancelled")
	// ErrUnauthorized indicates the caller must authenticate.
	ErrUnauthorized = newServiceError(KindUnauthorized, "unauthenticated", "authentication required")
	// ErrForbidden indicates the caller may not act on the order.
	ErrForbidden = newServiceError(KindForbidden, "forbidden", "not permitted")
	// ErrAlreadyPaid indicates the order payment was already confirmed.
	ErrAlreadyPaid = newServiceError(KindConflict, "already_paid", "order already paid")
	// ErrPaymentNotPaid indicates the operation requires a confirmed payment.
	ErrPaymentNotPaid = newServiceError(KindConflict, "payment_not_paid", "payment is not in paid state")
	// ErrRefundInProgress indicates another refund for the order is still awaiting the gateway.
	ErrRefundInProgress = newServiceError(KindConflict, "refund_in_progress", "refund already in progress")
	// ErrPaymentNotConfirmed indicates the gateway did not report success.
	ErrPaymentNotConfirmed = newServiceError(KindConflict, "payment_not_confirmed", "payment not confirmed by gateway")
	// ErrPaymentMethodUnsupported indicates no gateway handles the payment method.
	ErrPaymentMethodUnsupported = newServiceError(KindValidation, "payment_method_unsupported", "payment method unsupported")
	// ErrPaymentAmountMismatch indicates the gateway confirmed less than the order total.
	ErrPaymentAmountMismatch = newServiceError(KindSecurityAlert, "payment_amount_mismatch", "payment amount mismatch")
	// ErrInvalidSignature indicates a webhook failed signature verification.
	ErrInvalidSignature = newServiceError(KindUnauthorized, "invalid_signature", "invalid webhook signature")
	// ErrGateway wraps payment provider failures; the provider message is passed through.
	ErrGateway = newServiceError(KindGateway, "gateway_error", "payment gateway error")
	// ErrOrderNumberExhausted indicates every order number attempt collided.
	ErrOrderNumberExhausted = newServiceError(KindUnavailable, "order_number_exhausted", "order number attempts exhausted")
	// ErrConflict indicates a concurrent write or duplicate record.
	ErrConflict = newServiceError(KindConflict, "conflict", "conflict")
	// ErrUnavailable indicates the backing store is unavailable.
	ErrUnavailable = newServiceError(KindUnavailable, "unavailable", "service unavailable")
)

// AsServiceError returns the sentinel wrapped in err.
func AsServiceError(err error) (*ServiceError, bool) {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr, true
	}
	return nil, false
}

// KindOf returns the kind of the wrapped sentinel, or an empty kind for unclassified errors.
func KindOf(err error) ErrorKind {
	if svcErr, ok := AsServiceError(err); ok {
		return svcErr.Kind
	}
	return ""
}

func mapRepositoryError(err error, notFound *ServiceError) error {
	if err == nil {
		return nil
	}
	if _, ok := AsServiceError(err); ok {
		return err
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", notFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return err
}
