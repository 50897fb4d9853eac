package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/hanko-field/fulfillment/internal/domain"
	pfirestore "github.com/hanko-field/fulfillment/internal/platform/firestore"
	"github.com/hanko-field/fulfillment/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository implements repositories.OrderRepository on the orders collection.
type OrderRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{provider: provider}, nil
}

func (r *OrderRepository) collection(ctx context.Context) (*firestore.CollectionRef, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(ordersCollection), nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	coll, err := r.collection(ctx)
	if err != nil {
		return err
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("orders.insert: id is required")
	}
	_, err = coll.Doc(order.ID).Create(ctx, newOrderDocument(order))
	return pfirestore.WrapError("orders.insert", err)
}

func (r *OrderRepository) Mutate(ctx context.Context, orderID string, fn repositories.OrderMutator) (domain.Order, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	ref := coll.Doc(orderID)

	var result domain.Order
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return pfirestore.WrapError("orders.mutate", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}
		order := doc.toDomain(orderID)
		if err := fn(&order); err != nil {
			return err
		}
		result = order
		return tx.Set(ref, newOrderDocument(order))
	})
	if err != nil {
		return domain.Order{}, err
	}
	return result, nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	snap, err := coll.Doc(orderID).Get(ctx)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.findByID", err)
	}
	return decodeOrder(snap)
}

func (r *OrderRepository) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	return r.findOne(ctx, "orders.findByNumber", "orderNumber", orderNumber)
}

func (r *OrderRepository) FindByPaymentReference(ctx context.Context, reference string) (domain.Order, error) {
	return r.findOne(ctx, "orders.findByPaymentReference", "payment.reference", reference)
}

func (r *OrderRepository) ListPending(ctx context.Context, limit int) ([]domain.Order, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return nil, err
	}
	// Requires the composite index (status, reconciledAt, createdAt).
	query := coll.Where("status", "==", string(domain.OrderStatusPending)).
		OrderBy("reconciledAt", firestore.Asc).
		OrderBy("createdAt", firestore.Asc)
	if limit > 0 {
		query = query.Limit(limit)
	}
	iter := query.Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return orders, nil
		}
		if err != nil {
			return nil, pfirestore.WrapError("orders.listPending", err)
		}
		order, err := decodeOrder(snap)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
}

func (r *OrderRepository) findOne(ctx context.Context, op, field, value string) (domain.Order, error) {
	if strings.TrimSpace(value) == "" {
		return domain.Order{}, repositories.NewNotFoundError(op, "empty lookup value")
	}
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	iter := coll.Where(field, "==", value).Limit(1).Documents(ctx)
	defer iter.Stop()
	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return domain.Order{}, repositories.NewNotFoundError(op, "order not found")
	}
	if err != nil {
		return domain.Order{}, pfirestore.WrapError(op, err)
	}
	return decodeOrder(snap)
}

func decodeOrder(snap *firestore.DocumentSnapshot) (domain.Order, error) {
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}
