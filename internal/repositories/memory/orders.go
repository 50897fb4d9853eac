// Package memory implements the repository contracts in process. It backs local mode
// (API_PERSISTENCE=memory) and the service tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/repositories"
)

// OrderRepository stores orders in a map guarded by a mutex held only for the
// duration of each pure read or mutation.
type OrderRepository struct {
	mu     sync.Mutex
	orders map[string]domain.Order
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs an empty order store.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{orders: make(map[string]domain.Order)}
}

func (r *OrderRepository) Insert(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.orders[order.ID]; exists {
		return repositories.NewConflictError("orders.insert", fmt.Sprintf("order %s already exists", order.ID))
	}
	r.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r *OrderRepository) Mutate(_ context.Context, orderID string, fn repositories.OrderMutator) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NewNotFoundError("orders.mutate", fmt.Sprintf("order %s not found", orderID))
	}
	working := cloneOrder(current)
	if err := fn(&working); err != nil {
		return domain.Order{}, err
	}
	r.orders[orderID] = cloneOrder(working)
	return working, nil
}

func (r *OrderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	return r.find("orders.findByID", func(o domain.Order) bool { return o.ID == orderID })
}

func (r *OrderRepository) FindByNumber(_ context.Context, orderNumber string) (domain.Order, error) {
	return r.find("orders.findByNumber", func(o domain.Order) bool { return o.OrderNumber == orderNumber })
}

func (r *OrderRepository) FindByPaymentReference(_ context.Context, reference string) (domain.Order, error) {
	return r.find("orders.findByPaymentReference", func(o domain.Order) bool {
		return reference != "" && o.Payment.Reference == reference
	})
}

func (r *OrderRepository) ListPending(_ context.Context, limit int) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var pending []domain.Order
	for _, order := range r.orders {
		if order.Status == domain.OrderStatusPending {
			pending = append(pending, cloneOrder(order))
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if !pending[i].ReconciledAt.Equal(pending[j].ReconciledAt) {
			return pending[i].ReconciledAt.Before(pending[j].ReconciledAt)
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (r *OrderRepository) find(op string, match func(domain.Order) bool) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, order := range r.orders {
		if match(order) {
			return cloneOrder(order), nil
		}
	}
	return domain.Order{}, repositories.NewNotFoundError(op, "order not found")
}

func cloneOrder(o domain.Order) domain.Order {
	out := o
	out.Items = append([]domain.OrderItem(nil), o.Items...)
	out.Timeline = append([]domain.TimelineEntry(nil), o.Timeline...)
	out.Notes = append([]domain.OrderNote(nil), o.Notes...)
	if o.UserID != nil {
		uid := *o.UserID
		out.UserID = &uid
	}
	if o.Payment.Details != nil {
		out.Payment.Details = make(map[string]any, len(o.Payment.Details))
		for k, v := range o.Payment.Details {
			out.Payment.Details[k] = v
		}
	}
	return out
}

// OrderNumberRepository records claimed order numbers.
type OrderNumberRepository struct {
	mu     sync.Mutex
	claims map[string]string
}

var _ repositories.OrderNumberRepository = (*OrderNumberRepository)(nil)

// NewOrderNumberRepository constructs an empty claim set.
func NewOrderNumberRepository() *OrderNumberRepository {
	return &OrderNumberRepository{claims: make(map[string]string)}
}

func (r *OrderNumberRepository) Claim(_ context.Context, number, orderID string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.claims[number]; taken {
		return repositories.NewConflictError("orderNumbers.claim", fmt.Sprintf("order number %s already claimed", number))
	}
	r.claims[number] = orderID
	return nil
}
