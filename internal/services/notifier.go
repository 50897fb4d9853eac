package services

import (
	"context"
	"time"
)

// NotificationKind identifies the email template the mailer should render.
type NotificationKind string

const (
	NotificationOrderConfirmation NotificationKind = "order.confirmation"
	NotificationRefund            NotificationKind = "order.refund"
)

// Notification is the fire-and-forget message handed to the mail pipeline.
type Notification struct {
	Kind           NotificationKind `json:"kind"`
	OrderID        string           `json:"orderId"`
	OrderNumber    string           `json:"orderNumber"`
	Email          string           `json:"email"`
	Currency       string           `json:"currency"`
	Amount         int64            `json:"amount"`
	Reason         string           `json:"reason,omitempty"`
	IdempotencyKey string           `json:"idempotencyKey"`
	QueuedAt       time.Time        `json:"queuedAt"`
}

// Notifier dispatches customer notifications. Failures never abort the calling operation.
type Notifier interface {
	Notify(ctx context.Context, message Notification) error
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, Notification) error { return nil }
