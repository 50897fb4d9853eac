package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hanko-field/fulfillment/internal/services"
)

const (
	// PaystackSignatureHeader carries the hex HMAC-SHA512 of a webhook body.
	PaystackSignatureHeader = "x-paystack-signature"

	defaultPaystackBaseURL = "https://api.paystack.co"
	defaultPaystackTimeout = 10 * time.Second
	maxPaystackResponse    = 1 << 20

	paystackEventChargeSuccess = "charge.success"
)

// PaystackConfig configures the Paystack gateway.
type PaystackConfig struct {
	SecretKey  string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     Logger
}

// PaystackGateway implements services.PaymentGateway against the Paystack REST API.
type PaystackGateway struct {
	secret  string
	baseURL string
	http    *http.Client
	logger  Logger
}

var _ services.PaymentGateway = (*PaystackGateway)(nil)

// PaystackError carries the message Paystack returned for a rejected call.
type PaystackError struct {
	StatusCode int
	Message    string
}

func (e *PaystackError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("paystack: status %d", e.StatusCode)
	}
	return "paystack: " + e.Message
}

// NewPaystackGateway constructs a Paystack gateway.
func NewPaystackGateway(cfg PaystackConfig) (*PaystackGateway, error) {
	secret := strings.TrimSpace(cfg.SecretKey)
	if secret == "" {
		return nil, errors.New("paystack: secret key is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultPaystackBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultPaystackTimeout
		}
		client = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = nopLogger
	}
	return &PaystackGateway{
		secret:  secret,
		baseURL: baseURL,
		http:    client,
		logger:  logger,
	}, nil
}

type paystackEnvelope[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type paystackInitData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type paystackTransaction struct {
	ID              int64  `json:"id"`
	Status          string `json:"status"`
	Reference       string `json:"reference"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	PaidAt          string `json:"paid_at"`
	Channel         string `json:"channel"`
	GatewayResponse string `json:"gateway_response"`
	Authorization   struct {
		Last4    string `json:"last4"`
		CardType string `json:"card_type"`
		Bank     string `json:"bank"`
	} `json:"authorization"`
}

type paystackRefund struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

// Initialize opens a hosted checkout for the reference.
func (g *PaystackGateway) Initialize(ctx context.Context, req services.GatewayInitRequest) (services.GatewayInitResult, error) {
	body := map[string]any{
		"email":     req.Email,
		"amount":    req.Amount,
		"currency":  strings.ToUpper(req.Currency),
		"reference": req.Reference,
	}
	if req.CallbackURL != "" {
		body["callback_url"] = req.CallbackURL
	}
	if len(req.Metadata) > 0 {
		body["metadata"] = req.Metadata
	}

	var env paystackEnvelope[paystackInitData]
	if err := g.do(ctx, http.MethodPost, "/transaction/initialize", body, &env); err != nil {
		return services.GatewayInitResult{}, err
	}
	reference := env.Data.Reference
	if reference == "" {
		reference = req.Reference
	}
	g.logger(ctx, "payments.paystack.initialized", map[string]any{
		"reference": reference,
		"amount":    req.Amount,
	})
	return services.GatewayInitResult{
		AuthorizationURL: env.Data.AuthorizationURL,
		AccessCode:       env.Data.AccessCode,
		Reference:        reference,
	}, nil
}

// Verify fetches the transaction state for the reference.
func (g *PaystackGateway) Verify(ctx context.Context, req services.GatewayVerifyRequest) (services.GatewayVerification, error) {
	if strings.TrimSpace(req.Reference) == "" {
		return services.GatewayVerification{}, errors.New("paystack: reference is required")
	}
	var env paystackEnvelope[paystackTransaction]
	if err := g.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(req.Reference), nil, &env); err != nil {
		return services.GatewayVerification{}, err
	}
	txn := env.Data
	status := strings.ToLower(txn.Status)

	result := services.GatewayVerification{
		Confirmed: status == "success",
		Failed:    status == "failed" || status == "reversed",
		Status:    status,
		Amount:    txn.Amount,
		Currency:  strings.ToUpper(txn.Currency),
		Channel:   txn.Channel,
	}
	if txn.ID != 0 {
		result.TransactionID = strconv.FormatInt(txn.ID, 10)
	}
	if paidAt, err := time.Parse(time.RFC3339, txn.PaidAt); err == nil {
		result.PaidAt = paidAt.UTC()
	}
	details := map[string]any{}
	for key, value := range map[string]string{
		"gatewayResponse": txn.GatewayResponse,
		"last4":           txn.Authorization.Last4,
		"cardType":        strings.TrimSpace(txn.Authorization.CardType),
		"bank":            txn.Authorization.Bank,
	} {
		if value != "" {
			details[key] = value
		}
	}
	if len(details) > 0 {
		result.Details = details
	}

	g.logger(ctx, "payments.paystack.verified", map[string]any{
		"reference": req.Reference,
		"status":    status,
	})
	return result, nil
}

// Refund refunds amount of the transaction. Paystack queues refunds, so a pending refund
// counts as accepted.
func (g *PaystackGateway) Refund(ctx context.Context, req services.GatewayRefundRequest) (services.GatewayRefundResult, error) {
	transaction := strings.TrimSpace(req.TransactionID)
	if transaction == "" {
		transaction = strings.TrimSpace(req.Reference)
	}
	if transaction == "" {
		return services.GatewayRefundResult{}, errors.New("paystack: transaction is required")
	}
	body := map[string]any{
		"transaction": transaction,
		"amount":      req.Amount,
	}
	if req.Currency != "" {
		body["currency"] = strings.ToUpper(req.Currency)
	}
	if req.Reason != "" {
		body["merchant_note"] = req.Reason
	}

	var env paystackEnvelope[paystackRefund]
	if err := g.do(ctx, http.MethodPost, "/refund", body, &env); err != nil {
		return services.GatewayRefundResult{}, err
	}
	status := strings.ToLower(env.Data.Status)
	result := services.GatewayRefundResult{
		Confirmed: status == "pending" || status == "processing" || status == "processed",
		Status:    status,
	}
	if env.Data.ID != 0 {
		result.Reference = strconv.FormatInt(env.Data.ID, 10)
	}
	g.logger(ctx, "payments.paystack.refunded", map[string]any{
		"transaction": transaction,
		"amount":      req.Amount,
		"status":      status,
	})
	return result, nil
}

// ParseWebhook authenticates the body with the secret key. Only successful charges carry
// a reference.
func (g *PaystackGateway) ParseWebhook(payload []byte, signature string) (services.WebhookEvent, error) {
	given, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(given) == 0 {
		return services.WebhookEvent{}, errors.New("paystack: malformed signature")
	}
	mac := hmac.New(sha512.New, []byte(g.secret))
	mac.Write(payload)
	if !hmac.Equal(given, mac.Sum(nil)) {
		return services.WebhookEvent{}, errors.New("paystack: signature mismatch")
	}

	var event struct {
		Event string `json:"event"`
		Data  struct {
			Reference string `json:"reference"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return services.WebhookEvent{}, fmt.Errorf("paystack: decode webhook: %w", err)
	}
	result := services.WebhookEvent{Type: event.Event}
	if event.Event == paystackEventChargeSuccess {
		result.Reference = strings.TrimSpace(event.Data.Reference)
	}
	return result, nil
}

func (g *PaystackGateway) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("paystack: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("paystack: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.secret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return fmt.Errorf("paystack: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxPaystackResponse))
	if err != nil {
		return fmt.Errorf("paystack: read response: %w", err)
	}

	var head paystackEnvelope[json.RawMessage]
	decodeErr := json.Unmarshal(raw, &head)
	if resp.StatusCode >= http.StatusBadRequest || decodeErr != nil || !head.Status {
		message := strings.TrimSpace(head.Message)
		if decodeErr != nil && message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return &PaystackError{StatusCode: resp.StatusCode, Message: message}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("paystack: decode response: %w", err)
	}
	return nil
}
