package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/platform/observability"
	"github.com/hanko-field/fulfillment/internal/repositories"
)

const (
	paymentEventInitialized     = "payment.initialized"
	paymentEventConfirmed       = "payment.confirmed"
	paymentEventNotConfirmed    = "payment.not_confirmed"
	paymentEventAmountMismatch  = "payment.amount_mismatch"
	paymentEventWebhookIgnored  = "payment.webhook.ignored"
	paymentEventRefunded        = "payment.refunded"
	paymentEventRefundPersist   = "payment.refund.persist_failed"
	paymentEventRefundRelease   = "payment.refund.release_failed"
	paymentEventManualConfirmed = "payment.manual.confirmed"
	paymentEventNotifyFailed    = "notification.failed"
	paymentEventReconciled      = "payment.reconcile.completed"
	paymentEventReconcileFailed = "payment.reconcile.order_failed"

	manualRefundPrefix    = "MANUAL-"
	defaultReconcileLimit = 100
	refundClaimTTL        = 15 * time.Minute
)

// PaymentServiceDeps bundles collaborators required to construct the payment service.
type PaymentServiceDeps struct {
	Orders      repositories.OrderRepository
	Gateways    GatewayRouter
	Ledger      *InventoryLedger
	Notifier    Notifier
	Settings    domain.CommerceSettings
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)

	// Lifecycle cancels expired unpaid orders during reconciliation. Expiry is skipped when nil.
	Lifecycle OrderService
}

type paymentService struct {
	orders    repositories.OrderRepository
	lifecycle OrderService
	gateways  GatewayRouter
	ledger    *InventoryLedger
	notifier  Notifier
	settings  domain.CommerceSettings
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
	alerts    metric.Int64Counter
}

// NewPaymentService wires dependencies into a concrete PaymentService implementation.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Gateways == nil {
		return nil, errors.New("payment service: gateway router is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("payment service: inventory ledger is required")
	}

	notifier := deps.Notifier
	if notifier == nil {
		notifier = noopNotifier{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	alerts, err := observability.Meter("payments").Int64Counter(
		"payments.security_alerts",
		metric.WithDescription("Gateway confirmations that did not cover the order total"),
	)
	if err != nil {
		return nil, fmt.Errorf("payment service: create alert counter: %w", err)
	}

	return &paymentService{
		orders:    deps.Orders,
		lifecycle: deps.Lifecycle,
		gateways:  deps.Gateways,
		ledger:    deps.Ledger,
		notifier:  notifier,
		settings:  deps.Settings,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
		alerts: alerts,
	}, nil
}

func (s *paymentService) InitializePayment(ctx context.Context, cmd InitializePaymentCommand) (PaymentSession, error) {
	order, err := loadOrder(ctx, s.orders, cmd.OrderID)
	if err != nil {
		return PaymentSession{}, err
	}
	if err := authorizeOrderAccess(order, cmd.Actor, cmd.Email); err != nil {
		return PaymentSession{}, err
	}
	if settled(order.Payment.Status) {
		return PaymentSession{}, fmt.Errorf("%w: %s", ErrAlreadyPaid, order.OrderNumber)
	}
	if order.Status != domain.OrderStatusPending {
		return PaymentSession{}, fmt.Errorf("%w: order is %s", ErrInvalidTransition, order.Status)
	}
	gateway, err := s.gateway(order.Payment.Method)
	if err != nil {
		return PaymentSession{}, err
	}

	retry := order.Payment.Status == domain.PaymentStatusFailed
	if order.Payment.AuthorizationURL != "" && !retry {
		return PaymentSession{
			AuthorizationURL: order.Payment.AuthorizationURL,
			Reference:        order.Payment.Reference,
			AccessCode:       order.Payment.AccessCode,
		}, nil
	}

	// A failed session is dead at the gateway, so a retry opens a new one under a fresh
	// reference.
	attempt := order.Payment.Attempts + 1
	reference := order.Payment.Reference
	if reference == "" || retry {
		reference = sessionReference(order.OrderNumber, attempt)
	}

	result, err := gateway.Initialize(ctx, GatewayInitRequest{
		Reference:   reference,
		Amount:      order.Totals.Total,
		Currency:    order.Currency,
		Email:       order.Email,
		CallbackURL: s.settings.Payments.CallbackURL,
		Metadata: map[string]string{
			"orderId":     order.ID,
			"orderNumber": order.OrderNumber,
			"attempt":     strconv.Itoa(attempt),
		},
	})
	if err != nil {
		return PaymentSession{}, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	if result.Reference != "" {
		reference = result.Reference
	}

	now := s.now()
	opened := PaymentSession{
		AuthorizationURL: result.AuthorizationURL,
		Reference:        reference,
		AccessCode:       result.AccessCode,
	}
	var session PaymentSession
	if _, err := s.orders.Mutate(ctx, order.ID, func(o *domain.Order) error {
		session = opened
		if settled(o.Payment.Status) {
			return fmt.Errorf("%w: %s", ErrAlreadyPaid, o.OrderNumber)
		}
		if o.Payment.Attempts >= attempt {
			// A concurrent call already stored this attempt's session.
			if o.Payment.Status == domain.PaymentStatusFailed {
				return fmt.Errorf("%w: payment session %s was superseded", ErrConflict, reference)
			}
			session = PaymentSession{
				AuthorizationURL: o.Payment.AuthorizationURL,
				Reference:        o.Payment.Reference,
				AccessCode:       o.Payment.AccessCode,
			}
			return nil
		}
		o.Payment.Status = domain.PaymentStatusPending
		o.Payment.Attempts = attempt
		o.Payment.Reference = reference
		o.Payment.AccessCode = result.AccessCode
		o.Payment.AuthorizationURL = result.AuthorizationURL
		o.UpdatedAt = now
		return nil
	}); err != nil {
		return PaymentSession{}, mapRepositoryError(err, ErrOrderNotFound)
	}

	s.logger(ctx, paymentEventInitialized, map[string]any{
		"orderId":   order.ID,
		"reference": session.Reference,
		"attempt":   attempt,
		"method":    string(order.Payment.Method),
	})
	return session, nil
}

// sessionReference is the order number for the first session and carries the attempt
// number for retries.
func sessionReference(orderNumber string, attempt int) string {
	if attempt <= 1 {
		return orderNumber
	}
	return orderNumber + "-" + strconv.Itoa(attempt)
}

func (s *paymentService) VerifyPayment(ctx context.Context, reference string) (domain.Order, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return domain.Order{}, fmt.Errorf("%w: payment reference is required", ErrInvalidInput)
	}
	order, err := s.orders.FindByPaymentReference(ctx, reference)
	if err != nil {
		return domain.Order{}, mapRepositoryError(err, ErrOrderNotFound)
	}
	if settled(order.Payment.Status) {
		return order, nil
	}
	gateway, err := s.gateway(order.Payment.Method)
	if err != nil {
		return domain.Order{}, err
	}

	verification, err := gateway.Verify(ctx, GatewayVerifyRequest{
		Reference:  reference,
		AccessCode: order.Payment.AccessCode,
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("%w: %v", ErrGateway, err)
	}

	if !verification.Confirmed {
		s.logger(ctx, paymentEventNotConfirmed, map[string]any{
			"orderId":       order.ID,
			"reference":     reference,
			"gatewayStatus": verification.Status,
		})
		if verification.Failed {
			if _, err := s.orders.Mutate(ctx, order.ID, func(o *domain.Order) error {
				if o.Payment.Status == domain.PaymentStatusPending {
					o.Payment.Status = domain.PaymentStatusFailed
					o.UpdatedAt = s.now()
				}
				return nil
			}); err != nil {
				return domain.Order{}, mapRepositoryError(err, ErrOrderNotFound)
			}
		}
		return domain.Order{}, fmt.Errorf("%w: gateway status %q", ErrPaymentNotConfirmed, verification.Status)
	}

	currencyMismatch := verification.Currency != "" && !strings.EqualFold(verification.Currency, order.Currency)
	if verification.Amount < order.Totals.Total || currencyMismatch {
		s.raiseAmountMismatch(ctx, order, verification)
		return domain.Order{}, fmt.Errorf("%w: gateway confirmed %s, order total %s",
			ErrPaymentAmountMismatch,
			domain.FormatMinor(verification.Amount, verification.Currency),
			domain.FormatMinor(order.Totals.Total, order.Currency))
	}

	now := s.now()
	paidAt := verification.PaidAt.UTC()
	if verification.PaidAt.IsZero() {
		paidAt = now
	}
	actor := domain.GatewayActor.Label()
	noteID := s.newID()

	var transitioned bool
	updated, err := s.orders.Mutate(ctx, order.ID, func(o *domain.Order) error {
		transitioned = false
		if settled(o.Payment.Status) {
			return nil
		}
		o.Payment.Status = domain.PaymentStatusPaid
		o.Payment.TransactionID = verification.TransactionID
		o.Payment.Channel = verification.Channel
		o.Payment.PaidAt = &paidAt
		o.Payment.PaidAmount = verification.Amount
		if len(verification.Details) > 0 {
			details := maps.Clone(o.Payment.Details)
			if details == nil {
				details = make(map[string]any, len(verification.Details))
			}
			maps.Copy(details, verification.Details)
			o.Payment.Details = details
		}
		o.UpdatedAt = now

		if o.Status != domain.OrderStatusPending {
			o.Notes = append(o.Notes, domain.OrderNote{
				ID:        noteID,
				Content:   fmt.Sprintf("Payment %s confirmed while order was %s; review required", reference, o.Status),
				Actor:     actor,
				Internal:  true,
				CreatedAt: now,
			})
			return nil
		}
		changed, err := applyTransition(o, domain.OrderStatusProcessing, actor, "Payment confirmed", now)
		transitioned = changed
		return err
	})
	if err != nil {
		return domain.Order{}, mapRepositoryError(err, ErrOrderNotFound)
	}

	if transitioned {
		s.logger(ctx, paymentEventConfirmed, map[string]any{
			"orderId":       updated.ID,
			"reference":     reference,
			"transactionId": verification.TransactionID,
			"amount":        verification.Amount,
		})
		updated = s.notify(ctx, updated, NotificationOrderConfirmation, updated.Totals.Total, "", updated.ID+":paid")
	}
	return updated, nil
}

// raiseAmountMismatch records the single reconciliation note a failed verification may leave.
func (s *paymentService) raiseAmountMismatch(ctx context.Context, order domain.Order, v GatewayVerification) {
	s.alerts.Add(ctx, 1, metric.WithAttributes(attribute.String("method", string(order.Payment.Method))))
	s.logger(ctx, paymentEventAmountMismatch, map[string]any{
		"securityAlert":    true,
		"orderId":          order.ID,
		"reference":        order.Payment.Reference,
		"transactionId":    v.TransactionID,
		"expectedAmount":   order.Totals.Total,
		"expectedCurrency": order.Currency,
		"receivedAmount":   v.Amount,
		"receivedCurrency": v.Currency,
	})

	content := fmt.Sprintf("Payment amount mismatch on transaction %s: gateway confirmed %s, order total %s. Manual review required.",
		v.TransactionID,
		domain.FormatMinor(v.Amount, v.Currency),
		domain.FormatMinor(order.Totals.Total, order.Currency))
	now := s.now()
	noteID := s.newID()
	if _, err := s.orders.Mutate(ctx, order.ID, func(o *domain.Order) error {
		for _, note := range o.Notes {
			if note.Internal && note.Content == content {
				return nil
			}
		}
		o.Notes = append(o.Notes, domain.OrderNote{
			ID:        noteID,
			Content:   content,
			Actor:     domain.GatewayActor.Label(),
			Internal:  true,
			CreatedAt: now,
		})
		o.UpdatedAt = now
		return nil
	}); err != nil {
		s.logger(ctx, paymentEventAmountMismatch, map[string]any{
			"securityAlert": true,
			"orderId":       order.ID,
			"error":         err,
		})
	}
}

func (s *paymentService) HandleWebhook(ctx context.Context, method domain.PaymentMethod, payload []byte, signature string) error {
	gateway, err := s.gateway(method)
	if err != nil {
		return err
	}
	event, err := gateway.ParseWebhook(payload, signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if event.Reference == "" {
		s.logger(ctx, paymentEventWebhookIgnored, map[string]any{"method": string(method), "type": event.Type})
		return nil
	}

	_, err = s.VerifyPayment(ctx, event.Reference)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrPaymentNotConfirmed), errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrPaymentAmountMismatch):
		// Acknowledge so the gateway stops redelivering; the outcome is already logged.
		s.logger(ctx, paymentEventWebhookIgnored, map[string]any{
			"method":    string(method),
			"type":      event.Type,
			"reference": event.Reference,
			"reason":    err.Error(),
		})
		return nil
	default:
		return err
	}
}

func (s *paymentService) Refund(ctx context.Context, cmd RefundCommand) (domain.Order, error) {
	if !privileged(cmd.Actor) {
		return domain.Order{}, fmt.Errorf("%w: refunds require an operator", ErrForbidden)
	}
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		return domain.Order{}, fmt.Errorf("%w: refund reason is required", ErrInvalidInput)
	}
	order, err := loadOrder(ctx, s.orders, cmd.OrderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.Payment.Status != domain.PaymentStatusPaid {
		return domain.Order{}, fmt.Errorf("%w: payment is %s", ErrPaymentNotPaid, order.Payment.Status)
	}
	if cmd.Amount <= 0 || cmd.Amount > order.Totals.Total {
		return domain.Order{}, fmt.Errorf("%w: refund amount %s must be positive and at most the order total %s",
			ErrInvalidInput,
			domain.FormatMinor(cmd.Amount, order.Currency),
			domain.FormatMinor(order.Totals.Total, order.Currency))
	}

	refundRef := manualRefundPrefix + s.newID()
	if order.Payment.TransactionID != "" {
		gateway, err := s.gateway(order.Payment.Method)
		if err != nil {
			return domain.Order{}, err
		}
		if err := s.claimRefund(ctx, order.ID); err != nil {
			return domain.Order{}, err
		}
		result, err := gateway.Refund(ctx, GatewayRefundRequest{
			OrderID:       order.ID,
			TransactionID: order.Payment.TransactionID,
			Reference:     order.Payment.Reference,
			Amount:        cmd.Amount,
			Currency:      order.Currency,
			Reason:        reason,
		})
		if err == nil && !result.Confirmed {
			err = fmt.Errorf("refund not confirmed (status %q)", result.Status)
		}
		if err != nil {
			s.releaseRefundClaim(context.WithoutCancel(ctx), order.ID)
			return domain.Order{}, fmt.Errorf("%w: %v", ErrGateway, err)
		}
		if result.Reference != "" {
			refundRef = result.Reference
		}
	}

	actor := cmd.Actor.Label()
	now := s.now()
	noteID := s.newID()
	restockPolicy := s.settings.Inventory.RestockOnRefund
	content := fmt.Sprintf("Refunded %s: %s (reference %s)", domain.FormatMinor(cmd.Amount, order.Currency), reason, refundRef)

	var restock bool
	updated, err := s.orders.Mutate(ctx, order.ID, func(o *domain.Order) error {
		restock = false
		if o.Payment.Status != domain.PaymentStatusPaid {
			return fmt.Errorf("%w: payment is %s", ErrPaymentNotPaid, o.Payment.Status)
		}
		o.Payment.Status = domain.PaymentStatusRefunded
		o.Payment.RefundClaimedAt = nil
		o.Payment.RefundReference = refundRef
		o.Payment.RefundedAmount = cmd.Amount
		o.Payment.RefundedAt = &now
		if o.Status != domain.OrderStatusCancelled {
			if _, err := applyTransition(o, domain.OrderStatusRefunded, actor, reason, now); err != nil {
				return err
			}
		}
		o.Notes = append(o.Notes, domain.OrderNote{
			ID:        noteID,
			Content:   content,
			Actor:     actor,
			Internal:  true,
			CreatedAt: now,
		})
		if restockPolicy && !o.Restocked {
			o.Restocked = true
			restock = true
		}
		o.UpdatedAt = now
		return nil
	})
	if err != nil {
		s.logger(ctx, paymentEventRefundPersist, map[string]any{
			"orderId":         order.ID,
			"refundReference": refundRef,
			"severity":        "error",
			"error":           err,
		})
		return domain.Order{}, mapRepositoryError(err, ErrOrderNotFound)
	}

	if restock {
		ref := LedgerRef{OrderID: updated.ID, Actor: actor, Reason: domain.AdjustmentReasonOrderRefund}
		if err := s.ledger.Release(ctx, stockLinesFor(updated.Items), ref); err != nil {
			s.logger(ctx, orderEventRestockFailed, map[string]any{"orderId": updated.ID, "severity": "error", "error": err})
			if noted, noteErr := appendInternalNote(ctx, s.orders, updated.ID, s.newID(), "Stock release failed: "+err.Error(), domain.SystemActor.Label(), s.now()); noteErr == nil {
				updated = noted
			}
		}
	}

	s.logger(ctx, paymentEventRefunded, map[string]any{
		"orderId":         updated.ID,
		"amount":          cmd.Amount,
		"refundReference": refundRef,
		"restocked":       restock,
		"actor":           actor,
	})
	updated = s.notify(ctx, updated, NotificationRefund, cmd.Amount, reason, updated.ID+":"+refundRef)
	return updated, nil
}

// claimRefund marks the order as having a gateway refund in flight. Only one caller wins
// the claim; a claim older than refundClaimTTL is treated as abandoned.
func (s *paymentService) claimRefund(ctx context.Context, orderID string) error {
	now := s.now()
	_, err := s.orders.Mutate(ctx, orderID, func(o *domain.Order) error {
		if o.Payment.Status != domain.PaymentStatusPaid {
			return fmt.Errorf("%w: payment is %s", ErrPaymentNotPaid, o.Payment.Status)
		}
		if claimed := o.Payment.RefundClaimedAt; claimed != nil && now.Sub(*claimed) < refundClaimTTL {
			return fmt.Errorf("%w: claimed at %s", ErrRefundInProgress, claimed.Format(time.RFC3339))
		}
		claimedAt := now
		o.Payment.RefundClaimedAt = &claimedAt
		o.UpdatedAt = now
		return nil
	})
	if err != nil {
		return mapRepositoryError(err, ErrOrderNotFound)
	}
	return nil
}

func (s *paymentService) releaseRefundClaim(ctx context.Context, orderID string) {
	if _, err := s.orders.Mutate(ctx, orderID, func(o *domain.Order) error {
		o.Payment.RefundClaimedAt = nil
		return nil
	}); err != nil {
		s.logger(ctx, paymentEventRefundRelease, map[string]any{"orderId": orderID, "severity": "error", "error": err})
	}
}

func (s *paymentService) ConfirmManualPayment(ctx context.Context, cmd ManualPaymentCommand) (domain.Order, error) {
	if !privileged(cmd.Actor) {
		return domain.Order{}, fmt.Errorf("%w: manual payments require an operator", ErrForbidden)
	}
	reference := strings.TrimSpace(cmd.Reference)
	if reference == "" {
		return domain.Order{}, fmt.Errorf("%w: payment reference is required", ErrInvalidInput)
	}
	order, err := loadOrder(ctx, s.orders, cmd.OrderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.Payment.Method.Online() {
		return domain.Order{}, fmt.Errorf("%w: %s payments are confirmed by the gateway", ErrPaymentMethodUnsupported, order.Payment.Method)
	}

	actor := cmd.Actor.Label()
	now := s.now()
	updated, err := s.orders.Mutate(ctx, order.ID, func(o *domain.Order) error {
		if settled(o.Payment.Status) {
			return fmt.Errorf("%w: %s", ErrAlreadyPaid, o.OrderNumber)
		}
		if o.Status != domain.OrderStatusPending {
			return fmt.Errorf("%w: order is %s", ErrInvalidTransition, o.Status)
		}
		paidAt := now
		o.Payment.Status = domain.PaymentStatusPaid
		o.Payment.Reference = reference
		o.Payment.Channel = string(domain.PaymentMethodBankTransfer)
		o.Payment.PaidAt = &paidAt
		o.Payment.PaidAmount = o.Totals.Total
		_, err := applyTransition(o, domain.OrderStatusProcessing, actor, "Manual payment confirmed: "+reference, now)
		return err
	})
	if err != nil {
		return domain.Order{}, mapRepositoryError(err, ErrOrderNotFound)
	}

	s.logger(ctx, paymentEventManualConfirmed, map[string]any{
		"orderId":   updated.ID,
		"reference": reference,
		"actor":     actor,
	})
	return s.notify(ctx, updated, NotificationOrderConfirmation, updated.Totals.Total, "", updated.ID+":paid"), nil
}

func (s *paymentService) SendConfirmation(ctx context.Context, orderID string, actor domain.Actor) (domain.Order, error) {
	if !privileged(actor) {
		return domain.Order{}, fmt.Errorf("%w: confirmations are sent by an operator", ErrForbidden)
	}
	order, err := loadOrder(ctx, s.orders, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return s.notify(ctx, order, NotificationOrderConfirmation, order.Totals.Total, "", order.ID+":"+s.newID()), nil
}

// ReconcilePending re-verifies pending payments and cancels orders left unpaid past the
// configured expiry. Every order left pending is stamped with the sweep time so the next
// sweep starts with orders it has not looked at yet.
func (s *paymentService) ReconcilePending(ctx context.Context, limit int) (ReconcileSummary, error) {
	if limit <= 0 {
		limit = defaultReconcileLimit
	}
	orders, err := s.orders.ListPending(ctx, limit)
	if err != nil {
		return ReconcileSummary{}, mapRepositoryError(err, ErrOrderNotFound)
	}

	var summary ReconcileSummary
	for _, order := range orders {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Checked++
		switch s.reconcileOrder(ctx, order) {
		case reconcileConfirmed:
			summary.Confirmed++
		case reconcileExpired:
			summary.Expired++
		case reconcileFailed:
			summary.Failed++
			s.markReconciled(ctx, order.ID)
		default:
			s.markReconciled(ctx, order.ID)
		}
	}

	s.logger(ctx, paymentEventReconciled, map[string]any{
		"checked":   summary.Checked,
		"confirmed": summary.Confirmed,
		"expired":   summary.Expired,
		"failed":    summary.Failed,
	})
	return summary, nil
}

type reconcileOutcome int

const (
	reconcileUnchanged reconcileOutcome = iota
	reconcileConfirmed
	reconcileExpired
	reconcileFailed
)

func (s *paymentService) reconcileOrder(ctx context.Context, order domain.Order) reconcileOutcome {
	if order.Payment.Reference != "" && order.Payment.Method.Online() {
		_, err := s.VerifyPayment(ctx, order.Payment.Reference)
		switch {
		case err == nil:
			return reconcileConfirmed
		case !errors.Is(err, ErrPaymentNotConfirmed):
			s.logger(ctx, paymentEventReconcileFailed, map[string]any{"orderId": order.ID, "error": err})
			return reconcileFailed
		}
	}

	expiry := s.settings.Payments.PendingExpiry
	if expiry <= 0 || s.lifecycle == nil || s.now().Sub(order.CreatedAt) < expiry {
		return reconcileUnchanged
	}
	if _, err := s.lifecycle.Cancel(ctx, CancelOrderCommand{
		OrderID: order.ID,
		Reason:  fmt.Sprintf("payment not received within %s", expiry),
		Actor:   domain.SystemActor,
	}); err != nil {
		s.logger(ctx, paymentEventReconcileFailed, map[string]any{"orderId": order.ID, "error": err})
		return reconcileFailed
	}
	return reconcileExpired
}

// markReconciled moves a still-pending order to the back of the reconciliation queue.
func (s *paymentService) markReconciled(ctx context.Context, orderID string) {
	now := s.now()
	if _, err := s.orders.Mutate(ctx, orderID, func(o *domain.Order) error {
		if o.Status == domain.OrderStatusPending {
			o.ReconciledAt = now
		}
		return nil
	}); err != nil {
		s.logger(ctx, paymentEventReconcileFailed, map[string]any{"orderId": orderID, "error": err})
	}
}

// notify is fire-and-forget: a dispatch failure becomes an internal note on the order.
func (s *paymentService) notify(ctx context.Context, order domain.Order, kind NotificationKind, amount int64, reason, key string) domain.Order {
	err := s.notifier.Notify(ctx, Notification{
		Kind:           kind,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		Email:          order.Email,
		Currency:       order.Currency,
		Amount:         amount,
		Reason:         reason,
		IdempotencyKey: string(kind) + ":" + key,
		QueuedAt:       s.now(),
	})
	if err == nil {
		return order
	}
	s.logger(ctx, paymentEventNotifyFailed, map[string]any{
		"orderId": order.ID,
		"kind":    string(kind),
		"error":   err,
	})
	noted, noteErr := appendInternalNote(ctx, s.orders, order.ID, s.newID(), fmt.Sprintf("Notification %s failed: %v", kind, err), domain.SystemActor.Label(), s.now())
	if noteErr != nil {
		return order
	}
	return noted
}

func (s *paymentService) gateway(method domain.PaymentMethod) (PaymentGateway, error) {
	if !method.Online() {
		return nil, fmt.Errorf("%w: %s has no gateway", ErrPaymentMethodUnsupported, method)
	}
	gateway, ok := s.gateways.Gateway(method)
	if !ok || gateway == nil {
		return nil, fmt.Errorf("%w: %s gateway is not configured", ErrPaymentMethodUnsupported, method)
	}
	return gateway, nil
}

func (s *paymentService) now() time.Time {
	return s.clock()
}

func settled(status domain.PaymentStatus) bool {
	return status == domain.PaymentStatusPaid || status == domain.PaymentStatusRefunded
}
