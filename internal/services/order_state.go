package services

import (
	"fmt"
	"slices"
	"time"

	"github.com/hanko-field/fulfillment/internal/domain"
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled, domain.OrderStatusRefunded},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered, domain.OrderStatusRefunded},
	domain.OrderStatusDelivered:  {domain.OrderStatusRefunded},
}

var cancellableStatuses = []domain.OrderStatus{
	domain.OrderStatusPending,
	domain.OrderStatusProcessing,
}

// CanTransition reports whether the graph allows current to move to target. Staying in
// the same status is always allowed and has no effect.
func CanTransition(current, target domain.OrderStatus) bool {
	if current == target {
		return true
	}
	return slices.Contains(orderStateTransitions[current], target)
}

// ValidStatus reports whether status is a known lifecycle state.
func ValidStatus(status domain.OrderStatus) bool {
	if _, ok := orderStateTransitions[status]; ok {
		return true
	}
	return status.Terminal()
}

// applyTransition is the only place order.Status is assigned after creation. It appends one
// timeline entry per real change and reports whether anything changed.
func applyTransition(order *domain.Order, target domain.OrderStatus, actor, note string, now time.Time) (bool, error) {
	current := order.Status
	if current == target {
		return false, nil
	}
	if !CanTransition(current, target) {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, target)
	}

	order.Status = target
	order.UpdatedAt = now
	order.Timeline = append(order.Timeline, domain.TimelineEntry{
		Status: target,
		Note:   note,
		Actor:  actor,
		At:     now,
	})
	updateStatusTimestamps(order, target, now)
	return true, nil
}

func updateStatusTimestamps(order *domain.Order, status domain.OrderStatus, now time.Time) {
	stamp := func(field **time.Time) {
		if *field == nil {
			at := now
			*field = &at
		}
	}
	switch status {
	case domain.OrderStatusShipped:
		stamp(&order.ShippedAt)
	case domain.OrderStatusDelivered:
		stamp(&order.DeliveredAt)
	case domain.OrderStatusCancelled:
		stamp(&order.CancelledAt)
	case domain.OrderStatusRefunded:
		stamp(&order.RefundedAt)
	}
}

func cancellable(status domain.OrderStatus) bool {
	return slices.Contains(cancellableStatuses, status)
}
