package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/platform/auth"
	"github.com/hanko-field/fulfillment/internal/platform/httpx"
	"github.com/hanko-field/fulfillment/internal/services"
)

type createOrderRequest struct {
	Email           string             `json:"email" validate:"omitempty,email"`
	Items           []orderLineRequest `json:"items" validate:"required,min=1,max=100,dive"`
	ShippingAddress addressRequest     `json:"shipping_address" validate:"required"`
	PaymentMethod   string             `json:"payment_method" validate:"required,oneof=paystack stripe bank_transfer"`
	ShippingRateID  string             `json:"shipping_rate_id" validate:"required,max=64"`
}

type orderLineRequest struct {
	ProductID string `json:"product_id" validate:"required,max=128"`
	VariantID string `json:"variant_id" validate:"max=128"`
	Quantity  int    `json:"quantity" validate:"required,min=1,max=1000"`
}

type addressRequest struct {
	Recipient  string `json:"recipient" validate:"required,max=200"`
	Email      string `json:"email" validate:"omitempty,email"`
	Phone      string `json:"phone" validate:"max=40"`
	Line1      string `json:"line1" validate:"required,max=200"`
	Line2      string `json:"line2" validate:"max=200"`
	City       string `json:"city" validate:"required,max=100"`
	Region     string `json:"region" validate:"required,max=100"`
	PostalCode string `json:"postal_code" validate:"max=20"`
	Country    string `json:"country" validate:"max=60"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type initializePaymentRequest struct {
	Email string `json:"email" validate:"omitempty,email"`
}

type paymentSessionResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	Reference        string `json:"reference"`
	AccessCode       string `json:"access_code,omitempty"`
}

// OrderHandlers exposes checkout and order endpoints to buyers. Guests are allowed; an
// authenticated caller is attached when a valid token is presented.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	payments    services.PaymentService
	idempotency func(http.Handler) http.Handler
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithOrderIdempotency wraps order creation with the idempotency middleware.
func WithOrderIdempotency(mw func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.idempotency = mw
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, payments services.PaymentService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:    authn,
		orders:   orders,
		payments: payments,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.OptionalFirebaseAuth())
	}
	create := http.Handler(http.HandlerFunc(h.createOrder))
	if h.idempotency != nil {
		create = h.idempotency(create)
	}
	r.Method(http.MethodPost, "/", create)
	r.Get("/shipping-rates", h.shippingRates)
	r.Get("/verify-payment/{reference}", h.verifyPayment)
	r.Get("/{orderID}", h.getOrder)
	r.Get("/{orderID}/tracking", h.tracking)
	r.Post("/{orderID}/initialize-payment", h.initializePayment)
	r.Post("/{orderID}/cancel", h.cancelOrder)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}

	var req createOrderRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}

	cmd := services.CreateOrderCommand{
		Actor:          actorFromRequest(r),
		Email:          strings.TrimSpace(req.Email),
		Items:          make([]services.CartLine, 0, len(req.Items)),
		PaymentMethod:  domain.PaymentMethod(req.PaymentMethod),
		ShippingRateID: strings.TrimSpace(req.ShippingRateID),
		ShippingAddress: domain.Address{
			Recipient:  req.ShippingAddress.Recipient,
			Email:      req.ShippingAddress.Email,
			Phone:      strings.TrimSpace(req.ShippingAddress.Phone),
			Line1:      req.ShippingAddress.Line1,
			Line2:      strings.TrimSpace(req.ShippingAddress.Line2),
			City:       req.ShippingAddress.City,
			Region:     req.ShippingAddress.Region,
			PostalCode: strings.TrimSpace(req.ShippingAddress.PostalCode),
			Country:    strings.TrimSpace(req.ShippingAddress.Country),
		},
	}
	if cmd.Email == "" {
		cmd.Email = identityEmail(r)
	}
	for _, line := range req.Items {
		cmd.Items = append(cmd.Items, services.CartLine{
			ProductID: line.ProductID,
			VariantID: line.VariantID,
			Quantity:  line.Quantity,
		})
	}

	order, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order, cmd.Actor.IsOperator())})
}

func (h *OrderHandlers) shippingRates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}
	region := strings.TrimSpace(r.URL.Query().Get("region"))
	if region == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "region is required", http.StatusBadRequest))
		return
	}
	options, err := h.orders.ShippingRates(ctx, region)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildShippingRates(region, options))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}
	query, ok := orderQueryFrom(w, r)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(ctx, query)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, query.Actor.IsOperator())})
}

func (h *OrderHandlers) tracking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}
	query, ok := orderQueryFrom(w, r)
	if !ok {
		return
	}
	tracking, err := h.orders.Tracking(ctx, query)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, trackingResponse{
		OrderNumber: tracking.OrderNumber,
		Status:      string(tracking.Status),
		Timeline:    buildTimeline(tracking.Timeline),
	})
}

func (h *OrderHandlers) initializePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		writeServiceUnavailable(ctx, w, "payment")
		return
	}
	query, ok := orderQueryFrom(w, r)
	if !ok {
		return
	}
	var req initializePaymentRequest
	if !decodeRequest(w, r, &req, true) {
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		email = query.Email
	}

	session, err := h.payments.InitializePayment(ctx, services.InitializePaymentCommand{
		OrderID: query.OrderID,
		Actor:   query.Actor,
		Email:   email,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, paymentSessionResponse{
		AuthorizationURL: session.AuthorizationURL,
		Reference:        session.Reference,
		AccessCode:       session.AccessCode,
	})
}

func (h *OrderHandlers) verifyPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		writeServiceUnavailable(ctx, w, "payment")
		return
	}
	reference := strings.TrimSpace(chi.URLParam(r, "reference"))
	if reference == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment reference is required", http.StatusBadRequest))
		return
	}
	order, err := h.payments.VerifyPayment(ctx, reference)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	// The reference is the only credential here, so the view omits contact and address data.
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"order_number": order.OrderNumber,
		"status":       string(order.Status),
		"payment":      buildOrderPayload(order, false).Payment,
		"total":        order.Totals.Total,
		"currency":     order.Currency,
	})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}
	var req cancelOrderRequest
	if !decodeRequest(w, r, &req, true) {
		return
	}

	actor := actorFromRequest(r)
	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: orderID,
		Reason:  strings.TrimSpace(req.Reason),
		Actor:   actor,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, actor.IsOperator())})
}

func orderQueryFrom(w http.ResponseWriter, r *http.Request) (services.OrderQuery, bool) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return services.OrderQuery{}, false
	}
	return services.OrderQuery{
		OrderID: orderID,
		Actor:   actorFromRequest(r),
		Email:   strings.TrimSpace(r.URL.Query().Get("email")),
	}, true
}
