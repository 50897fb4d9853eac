package handlers

import (
	"github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/services"
)

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID              string                `json:"id"`
	OrderNumber     string                `json:"order_number"`
	UserID          string                `json:"user_id,omitempty"`
	Email           string                `json:"email"`
	Status          string                `json:"status"`
	Currency        string                `json:"currency"`
	Items           []orderItemPayload    `json:"items"`
	Totals          orderTotalsPayload    `json:"totals"`
	ShippingAddress addressPayload        `json:"shipping_address"`
	ShippingMethod  shippingMethodPayload `json:"shipping_method"`
	Payment         paymentPayload        `json:"payment"`
	Timeline        []timelinePayload     `json:"timeline"`
	Notes           []notePayload         `json:"notes,omitempty"`
	CreatedAt       string                `json:"created_at"`
	UpdatedAt       string                `json:"updated_at,omitempty"`
	ShippedAt       string                `json:"shipped_at,omitempty"`
	DeliveredAt     string                `json:"delivered_at,omitempty"`
	CancelledAt     string                `json:"cancelled_at,omitempty"`
	RefundedAt      string                `json:"refunded_at,omitempty"`
}

type orderItemPayload struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	Subtotal  int64  `json:"subtotal"`
	ImageRef  string `json:"image_ref,omitempty"`
}

type orderTotalsPayload struct {
	Subtotal    int64  `json:"subtotal"`
	ShippingFee int64  `json:"shipping_fee"`
	Tax         int64  `json:"tax"`
	TaxRate     string `json:"tax_rate"`
	Discount    int64  `json:"discount"`
	Total       int64  `json:"total"`
}

type addressPayload struct {
	Recipient  string `json:"recipient"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country"`
}

type shippingMethodPayload struct {
	RateID       string `json:"rate_id"`
	ZoneID       string `json:"zone_id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	Price        int64  `json:"price"`
	Charged      int64  `json:"charged"`
	FreeShipping bool   `json:"free_shipping"`
}

type paymentPayload struct {
	Method           string `json:"method"`
	Status           string `json:"status"`
	Reference        string `json:"reference,omitempty"`
	AuthorizationURL string `json:"authorization_url,omitempty"`
	Channel          string `json:"channel,omitempty"`
	PaidAt           string `json:"paid_at,omitempty"`
	PaidAmount       int64  `json:"paid_amount,omitempty"`
	RefundReference  string `json:"refund_reference,omitempty"`
	RefundedAmount   int64  `json:"refunded_amount,omitempty"`
	RefundedAt       string `json:"refunded_at,omitempty"`
}

type timelinePayload struct {
	Status string `json:"status"`
	Note   string `json:"note,omitempty"`
	Actor  string `json:"actor"`
	At     string `json:"at"`
}

type notePayload struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Actor     string `json:"actor"`
	Internal  bool   `json:"internal"`
	CreatedAt string `json:"created_at"`
}

// buildOrderPayload renders an order. Internal notes are only included for operators.
func buildOrderPayload(order domain.Order, operator bool) orderPayload {
	payload := orderPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		Email:       order.Email,
		Status:      string(order.Status),
		Currency:    order.Currency,
		Items:       make([]orderItemPayload, 0, len(order.Items)),
		Totals: orderTotalsPayload{
			Subtotal:    order.Totals.Subtotal,
			ShippingFee: order.Totals.ShippingFee,
			Tax:         order.Totals.Tax,
			TaxRate:     order.Totals.TaxRate.String(),
			Discount:    order.Totals.Discount,
			Total:       order.Totals.Total,
		},
		ShippingAddress: addressPayload(order.ShippingAddress),
		ShippingMethod:  shippingMethodPayload(order.ShippingMethod),
		Payment: paymentPayload{
			Method:           string(order.Payment.Method),
			Status:           string(order.Payment.Status),
			Reference:        order.Payment.Reference,
			AuthorizationURL: order.Payment.AuthorizationURL,
			Channel:          order.Payment.Channel,
			PaidAt:           formatTimePtr(order.Payment.PaidAt),
			PaidAmount:       order.Payment.PaidAmount,
			RefundReference:  order.Payment.RefundReference,
			RefundedAmount:   order.Payment.RefundedAmount,
			RefundedAt:       formatTimePtr(order.Payment.RefundedAt),
		},
		Timeline:    buildTimeline(order.Timeline),
		CreatedAt:   formatTime(order.CreatedAt),
		UpdatedAt:   formatTime(order.UpdatedAt),
		ShippedAt:   formatTimePtr(order.ShippedAt),
		DeliveredAt: formatTimePtr(order.DeliveredAt),
		CancelledAt: formatTimePtr(order.CancelledAt),
		RefundedAt:  formatTimePtr(order.RefundedAt),
	}
	if order.UserID != nil {
		payload.UserID = *order.UserID
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload(item))
	}
	for _, note := range order.Notes {
		if note.Internal && !operator {
			continue
		}
		payload.Notes = append(payload.Notes, notePayload{
			ID:        note.ID,
			Content:   note.Content,
			Actor:     note.Actor,
			Internal:  note.Internal,
			CreatedAt: formatTime(note.CreatedAt),
		})
	}
	return payload
}

func buildTimeline(entries []domain.TimelineEntry) []timelinePayload {
	timeline := make([]timelinePayload, 0, len(entries))
	for _, entry := range entries {
		timeline = append(timeline, timelinePayload{
			Status: string(entry.Status),
			Note:   entry.Note,
			Actor:  entry.Actor,
			At:     formatTime(entry.At),
		})
	}
	return timeline
}

type trackingResponse struct {
	OrderNumber string            `json:"order_number"`
	Status      string            `json:"status"`
	Timeline    []timelinePayload `json:"timeline"`
}

type shippingRatesResponse struct {
	Region string                `json:"region"`
	Rates  []shippingRatePayload `json:"rates"`
}

type shippingRatePayload struct {
	ID                    string `json:"id"`
	ZoneID                string `json:"zone_id"`
	ZoneName              string `json:"zone_name"`
	Name                  string `json:"name"`
	Description           string `json:"description,omitempty"`
	Price                 int64  `json:"price"`
	FreeShippingThreshold int64  `json:"free_shipping_threshold,omitempty"`
}

func buildShippingRates(region string, options []services.ShippingOption) shippingRatesResponse {
	resp := shippingRatesResponse{Region: region, Rates: make([]shippingRatePayload, 0, len(options))}
	for _, option := range options {
		resp.Rates = append(resp.Rates, shippingRatePayload{
			ID:                    option.Rate.ID,
			ZoneID:                option.ZoneID,
			ZoneName:              option.ZoneName,
			Name:                  option.Rate.Name,
			Description:           option.Rate.Description,
			Price:                 option.Rate.Price,
			FreeShippingThreshold: option.Rate.FreeShippingThreshold,
		})
	}
	return resp
}

type adjustmentPayload struct {
	ID            string `json:"id"`
	ProductID     string `json:"product_id"`
	VariantID     string `json:"variant_id,omitempty"`
	Delta         int64  `json:"delta"`
	Reason        string `json:"reason"`
	PreviousStock int64  `json:"previous_stock"`
	NewStock      int64  `json:"new_stock"`
	Actor         string `json:"actor"`
	OrderID       string `json:"order_id,omitempty"`
	Note          string `json:"note,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func buildAdjustment(adj domain.StockAdjustment) adjustmentPayload {
	return adjustmentPayload{
		ID:            adj.ID,
		ProductID:     adj.ProductID,
		VariantID:     adj.VariantID,
		Delta:         adj.Delta,
		Reason:        string(adj.Reason),
		PreviousStock: adj.PreviousStock,
		NewStock:      adj.NewStock,
		Actor:         adj.Actor,
		OrderID:       adj.OrderID,
		Note:          adj.Note,
		CreatedAt:     formatTime(adj.CreatedAt),
	}
}

type inventoryItemPayload struct {
	ProductID  string `json:"product_id"`
	VariantID  string `json:"variant_id,omitempty"`
	Stock      int64  `json:"stock"`
	SalesCount int64  `json:"sales_count"`
	UpdatedAt  string `json:"updated_at,omitempty"`
}

func buildInventoryItem(item domain.InventoryItem) inventoryItemPayload {
	return inventoryItemPayload{
		ProductID:  item.ProductID,
		VariantID:  item.VariantID,
		Stock:      item.Stock,
		SalesCount: item.SalesCount,
		UpdatedAt:  formatTime(item.UpdatedAt),
	}
}
