package firestore

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/hanko-field/fulfillment/internal/domain"
)

type orderDocument struct {
	OrderNumber     string         `firestore:"orderNumber"`
	UserID          *string        `firestore:"userId"`
	Email           string         `firestore:"email"`
	Status          string         `firestore:"status"`
	Currency        string         `firestore:"currency"`
	Items           []orderItemDoc `firestore:"items"`
	Totals          totalsDoc      `firestore:"totals"`
	ShippingAddress addressDoc     `firestore:"shippingAddress"`
	ShippingMethod  shippingDoc    `firestore:"shippingMethod"`
	Payment         paymentDoc     `firestore:"payment"`
	Timeline        []timelineDoc  `firestore:"timeline"`
	Notes           []noteDoc      `firestore:"notes"`
	Restocked       bool           `firestore:"restocked"`
	CreatedAt       time.Time      `firestore:"createdAt"`
	UpdatedAt       time.Time      `firestore:"updatedAt"`
	ReconciledAt    time.Time      `firestore:"reconciledAt"`
	ShippedAt       *time.Time     `firestore:"shippedAt,omitempty"`
	DeliveredAt     *time.Time     `firestore:"deliveredAt,omitempty"`
	CancelledAt     *time.Time     `firestore:"cancelledAt,omitempty"`
	RefundedAt      *time.Time     `firestore:"refundedAt,omitempty"`
}

type orderItemDoc struct {
	ProductID string `firestore:"productId"`
	VariantID string `firestore:"variantId,omitempty"`
	Name      string `firestore:"name"`
	UnitPrice int64  `firestore:"unitPrice"`
	Quantity  int    `firestore:"quantity"`
	Subtotal  int64  `firestore:"subtotal"`
	ImageRef  string `firestore:"imageRef,omitempty"`
}

type totalsDoc struct {
	Subtotal    int64  `firestore:"subtotal"`
	ShippingFee int64  `firestore:"shippingFee"`
	Tax         int64  `firestore:"tax"`
	TaxRate     string `firestore:"taxRate"`
	Discount    int64  `firestore:"discount"`
	Total       int64  `firestore:"total"`
}

type addressDoc struct {
	Recipient  string `firestore:"recipient"`
	Email      string `firestore:"email"`
	Phone      string `firestore:"phone,omitempty"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	Region     string `firestore:"region"`
	PostalCode string `firestore:"postalCode,omitempty"`
	Country    string `firestore:"country"`
}

type shippingDoc struct {
	RateID       string `firestore:"rateId"`
	ZoneID       string `firestore:"zoneId"`
	Name         string `firestore:"name"`
	Description  string `firestore:"description,omitempty"`
	Price        int64  `firestore:"price"`
	Charged      int64  `firestore:"charged"`
	FreeShipping bool   `firestore:"freeShipping"`
}

type paymentDoc struct {
	Method           string         `firestore:"method"`
	Status           string         `firestore:"status"`
	Reference        string         `firestore:"reference"`
	AccessCode       string         `firestore:"accessCode,omitempty"`
	AuthorizationURL string         `firestore:"authorizationUrl,omitempty"`
	Attempts         int            `firestore:"attempts"`
	TransactionID    string         `firestore:"transactionId,omitempty"`
	Channel          string         `firestore:"channel,omitempty"`
	PaidAt           *time.Time     `firestore:"paidAt,omitempty"`
	PaidAmount       int64          `firestore:"paidAmount"`
	RefundReference  string         `firestore:"refundReference,omitempty"`
	RefundedAmount   int64          `firestore:"refundedAmount"`
	RefundedAt       *time.Time     `firestore:"refundedAt,omitempty"`
	RefundClaimedAt  *time.Time     `firestore:"refundClaimedAt,omitempty"`
	Details          map[string]any `firestore:"details,omitempty"`
}

type timelineDoc struct {
	Status string    `firestore:"status"`
	Note   string    `firestore:"note,omitempty"`
	Actor  string    `firestore:"actor"`
	At     time.Time `firestore:"at"`
}

type noteDoc struct {
	ID        string    `firestore:"id"`
	Content   string    `firestore:"content"`
	Actor     string    `firestore:"actor"`
	Internal  bool      `firestore:"internal"`
	CreatedAt time.Time `firestore:"createdAt"`
}

func newOrderDocument(o domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber: o.OrderNumber,
		UserID:      o.UserID,
		Email:       o.Email,
		Status:      string(o.Status),
		Currency:    o.Currency,
		Totals: totalsDoc{
			Subtotal:    o.Totals.Subtotal,
			ShippingFee: o.Totals.ShippingFee,
			Tax:         o.Totals.Tax,
			TaxRate:     o.Totals.TaxRate.String(),
			Discount:    o.Totals.Discount,
			Total:       o.Totals.Total,
		},
		ShippingAddress: addressDoc(o.ShippingAddress),
		ShippingMethod:  shippingDoc(o.ShippingMethod),
		Payment: paymentDoc{
			Method:           string(o.Payment.Method),
			Status:           string(o.Payment.Status),
			Reference:        o.Payment.Reference,
			AccessCode:       o.Payment.AccessCode,
			AuthorizationURL: o.Payment.AuthorizationURL,
			Attempts:         o.Payment.Attempts,
			TransactionID:    o.Payment.TransactionID,
			Channel:          o.Payment.Channel,
			PaidAt:           o.Payment.PaidAt,
			PaidAmount:       o.Payment.PaidAmount,
			RefundReference:  o.Payment.RefundReference,
			RefundedAmount:   o.Payment.RefundedAmount,
			RefundedAt:       o.Payment.RefundedAt,
			RefundClaimedAt:  o.Payment.RefundClaimedAt,
			Details:          o.Payment.Details,
		},
		Restocked:    o.Restocked,
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
		ReconciledAt: o.ReconciledAt,
		ShippedAt:    o.ShippedAt,
		DeliveredAt:  o.DeliveredAt,
		CancelledAt:  o.CancelledAt,
		RefundedAt:   o.RefundedAt,
	}
	for _, item := range o.Items {
		doc.Items = append(doc.Items, orderItemDoc(item))
	}
	for _, entry := range o.Timeline {
		doc.Timeline = append(doc.Timeline, timelineDoc{Status: string(entry.Status), Note: entry.Note, Actor: entry.Actor, At: entry.At})
	}
	for _, note := range o.Notes {
		doc.Notes = append(doc.Notes, noteDoc(note))
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	rate, err := decimal.NewFromString(d.Totals.TaxRate)
	if err != nil {
		rate = decimal.Zero
	}
	order := domain.Order{
		ID:          id,
		OrderNumber: d.OrderNumber,
		UserID:      d.UserID,
		Email:       d.Email,
		Status:      domain.OrderStatus(d.Status),
		Currency:    d.Currency,
		Totals: domain.OrderTotals{
			Subtotal:    d.Totals.Subtotal,
			ShippingFee: d.Totals.ShippingFee,
			Tax:         d.Totals.Tax,
			TaxRate:     rate,
			Discount:    d.Totals.Discount,
			Total:       d.Totals.Total,
		},
		ShippingAddress: domain.Address(d.ShippingAddress),
		ShippingMethod:  domain.ShippingMethod(d.ShippingMethod),
		Payment: domain.PaymentInfo{
			Method:           domain.PaymentMethod(d.Payment.Method),
			Status:           domain.PaymentStatus(d.Payment.Status),
			Reference:        d.Payment.Reference,
			AccessCode:       d.Payment.AccessCode,
			AuthorizationURL: d.Payment.AuthorizationURL,
			Attempts:         d.Payment.Attempts,
			TransactionID:    d.Payment.TransactionID,
			Channel:          d.Payment.Channel,
			PaidAt:           utcPtr(d.Payment.PaidAt),
			PaidAmount:       d.Payment.PaidAmount,
			RefundReference:  d.Payment.RefundReference,
			RefundedAmount:   d.Payment.RefundedAmount,
			RefundedAt:       utcPtr(d.Payment.RefundedAt),
			RefundClaimedAt:  utcPtr(d.Payment.RefundClaimedAt),
			Details:          d.Payment.Details,
		},
		Restocked:    d.Restocked,
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
		ReconciledAt: d.ReconciledAt.UTC(),
		ShippedAt:    utcPtr(d.ShippedAt),
		DeliveredAt:  utcPtr(d.DeliveredAt),
		CancelledAt:  utcPtr(d.CancelledAt),
		RefundedAt:   utcPtr(d.RefundedAt),
	}
	for _, item := range d.Items {
		order.Items = append(order.Items, domain.OrderItem(item))
	}
	for _, entry := range d.Timeline {
		order.Timeline = append(order.Timeline, domain.TimelineEntry{Status: domain.OrderStatus(entry.Status), Note: entry.Note, Actor: entry.Actor, At: entry.At.UTC()})
	}
	for _, note := range d.Notes {
		n := domain.OrderNote(note)
		n.CreatedAt = n.CreatedAt.UTC()
		order.Notes = append(order.Notes, n)
	}
	return order
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
