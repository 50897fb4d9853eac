package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/hanko-field/fulfillment/internal/services"
)

// StripeSignatureHeader carries the Stripe webhook signature.
const StripeSignatureHeader = "Stripe-Signature"

var sessionKeyNamespace = uuid.MustParse("6f1c1c0e-4a52-4b8e-9a53-1f0b6f3d2a10")

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripeClients struct {
	sessions stripeSessionAPI
	refunds  stripeRefundAPI
}

// StripeConfig configures the Stripe gateway.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
	AccountID     string
	Backends      *stripe.Backends
	Logger        Logger
	Clients       *stripeClients
}

// StripeGateway implements services.PaymentGateway with Stripe Checkout sessions. The
// session id is stored as the payment access code.
type StripeGateway struct {
	api           stripeClients
	webhookSecret string
	account       string
	logger        Logger
}

var _ services.PaymentGateway = (*StripeGateway)(nil)

// NewStripeGateway constructs a Stripe gateway using the given configuration.
func NewStripeGateway(cfg StripeConfig) (*StripeGateway, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			sessions: sc.CheckoutSessions,
			refunds:  sc.Refunds,
		}
	}
	if clients.sessions == nil || clients.refunds == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = nopLogger
	}
	return &StripeGateway{
		api:           clients,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		account:       strings.TrimSpace(cfg.AccountID),
		logger:        logger,
	}, nil
}

// Initialize creates a Checkout session for the reference. The idempotency key is derived
// from the reference so a retried call returns the same session.
func (g *StripeGateway) Initialize(ctx context.Context, req services.GatewayInitRequest) (services.GatewayInitResult, error) {
	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		return services.GatewayInitResult{}, errors.New("stripe: reference is required")
	}
	currency := strings.ToLower(req.Currency)
	returnURL := callbackWithReference(req.CallbackURL, reference)

	metadata := make(map[string]string, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata["reference"] = reference

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(reference),
		Metadata:          metadata,
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(req.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Order " + reference),
				},
			},
		}},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		},
	}
	if returnURL != "" {
		params.SuccessURL = stripe.String(returnURL)
		params.CancelURL = stripe.String(returnURL)
	}
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	params.Context = ctx
	params.SetIdempotencyKey(uuid.NewSHA1(sessionKeyNamespace, []byte(reference)).String())
	if g.account != "" {
		params.SetStripeAccount(g.account)
	}

	session, err := g.api.sessions.New(params)
	if err != nil {
		return services.GatewayInitResult{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	g.logger(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId": session.ID,
		"reference": reference,
	})
	return services.GatewayInitResult{
		AuthorizationURL: session.URL,
		AccessCode:       session.ID,
		Reference:        reference,
	}, nil
}

// Verify reads the Checkout session and its latest charge.
func (g *StripeGateway) Verify(ctx context.Context, req services.GatewayVerifyRequest) (services.GatewayVerification, error) {
	sessionID := strings.TrimSpace(req.AccessCode)
	if sessionID == "" {
		return services.GatewayVerification{}, errors.New("stripe: checkout session id is required")
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent.latest_charge")
	if g.account != "" {
		params.SetStripeAccount(g.account)
	}
	session, err := g.api.sessions.Get(sessionID, params)
	if err != nil {
		return services.GatewayVerification{}, fmt.Errorf("stripe: lookup checkout session: %w", err)
	}
	return stripeVerification(session), nil
}

func stripeVerification(session *stripe.CheckoutSession) services.GatewayVerification {
	if session == nil {
		return services.GatewayVerification{Status: "missing"}
	}
	result := services.GatewayVerification{
		Confirmed: session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		Failed:    session.Status == stripe.CheckoutSessionStatusExpired,
		Status:    string(session.PaymentStatus),
		Amount:    session.AmountTotal,
		Currency:  strings.ToUpper(string(session.Currency)),
	}
	if result.Failed {
		result.Status = string(session.Status)
	}

	details := map[string]any{"sessionId": session.ID}
	if intent := session.PaymentIntent; intent != nil {
		result.TransactionID = intent.ID
		if charge := intent.LatestCharge; charge != nil {
			if charge.Created != 0 {
				result.PaidAt = time.Unix(charge.Created, 0).UTC()
			}
			if pm := charge.PaymentMethodDetails; pm != nil {
				result.Channel = string(pm.Type)
				if pm.Card != nil {
					details["last4"] = strings.TrimSpace(pm.Card.Last4)
					details["cardType"] = strings.ToLower(string(pm.Card.Brand))
				}
			}
		}
	}
	result.Details = details
	return result
}

// Refund refunds amount of the payment intent. The idempotency key is derived from the
// order, so Stripe collapses a repeated refund of the same order into the first one.
func (g *StripeGateway) Refund(ctx context.Context, req services.GatewayRefundRequest) (services.GatewayRefundResult, error) {
	intentID := strings.TrimSpace(req.TransactionID)
	if intentID == "" {
		return services.GatewayRefundResult{}, errors.New("stripe: payment intent is required")
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return services.GatewayRefundResult{}, errors.New("stripe: order id is required")
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intentID),
		Amount:        stripe.Int64(req.Amount),
		Metadata: map[string]string{
			"orderId":   orderID,
			"reference": req.Reference,
			"reason":    req.Reason,
		},
	}
	if reason := mapStripeRefundReason(req.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}
	params.Context = ctx
	params.SetIdempotencyKey(refundIdempotencyKey(orderID))
	if g.account != "" {
		params.SetStripeAccount(g.account)
	}

	refund, err := g.api.refunds.New(params)
	if err != nil {
		return services.GatewayRefundResult{}, fmt.Errorf("stripe: refund payment intent: %w", err)
	}
	g.logger(ctx, "payments.stripe.refunded", map[string]any{
		"paymentIntent": intentID,
		"refundId":      refund.ID,
		"status":        refund.Status,
	})
	return services.GatewayRefundResult{
		Confirmed: refund.Status == stripe.RefundStatusSucceeded || refund.Status == stripe.RefundStatusPending,
		Reference: refund.ID,
		Status:    string(refund.Status),
	}, nil
}

func refundIdempotencyKey(orderID string) string {
	return uuid.NewSHA1(sessionKeyNamespace, []byte(orderID+":refund")).String()
}

// ParseWebhook verifies the Stripe-Signature header and extracts the session reference
// from checkout session events.
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (services.WebhookEvent, error) {
	if g.webhookSecret == "" {
		return services.WebhookEvent{}, errors.New("stripe: webhook secret is not configured")
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return services.WebhookEvent{}, fmt.Errorf("stripe: verify webhook: %w", err)
	}

	result := services.WebhookEvent{Type: string(event.Type)}
	if !strings.HasPrefix(result.Type, "checkout.session.") || event.Data == nil {
		return result, nil
	}
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return services.WebhookEvent{}, fmt.Errorf("stripe: decode checkout session: %w", err)
	}
	result.Reference = strings.TrimSpace(session.ClientReferenceID)
	if result.Reference == "" {
		result.Reference = strings.TrimSpace(session.Metadata["reference"])
	}
	return result, nil
}

func callbackWithReference(callback, reference string) string {
	callback = strings.TrimSpace(callback)
	if callback == "" {
		return ""
	}
	u, err := url.Parse(callback)
	if err != nil {
		return callback
	}
	query := u.Query()
	query.Set("reference", reference)
	u.RawQuery = query.Encode()
	return u.String()
}

func mapStripeRefundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case string(stripe.RefundReasonDuplicate):
		return string(stripe.RefundReasonDuplicate)
	case string(stripe.RefundReasonFraudulent):
		return string(stripe.RefundReasonFraudulent)
	case string(stripe.RefundReasonRequestedByCustomer):
		return string(stripe.RefundReasonRequestedByCustomer)
	default:
		return ""
	}
}
