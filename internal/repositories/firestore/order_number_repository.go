package firestore

import (
	"context"
	"errors"
	"time"

	pfirestore "github.com/hanko-field/fulfillment/internal/platform/firestore"
	"github.com/hanko-field/fulfillment/internal/repositories"
)

const orderNumbersCollection = "orderNumbers"

type orderNumberDocument struct {
	OrderID   string    `firestore:"orderId"`
	ClaimedAt time.Time `firestore:"claimedAt"`
}

// OrderNumberRepository claims order numbers by creating orderNumbers/{number}. Create
// fails with AlreadyExists when the number is taken, which WrapError reports as a conflict.
type OrderNumberRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.OrderNumberRepository = (*OrderNumberRepository)(nil)

// NewOrderNumberRepository constructs a Firestore-backed order number registry.
func NewOrderNumberRepository(provider *pfirestore.Provider) (*OrderNumberRepository, error) {
	if provider == nil {
		return nil, errors.New("order number repository requires firestore provider")
	}
	return &OrderNumberRepository{provider: provider}, nil
}

func (r *OrderNumberRepository) Claim(ctx context.Context, number, orderID string, at time.Time) error {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	_, err = client.Collection(orderNumbersCollection).Doc(number).Create(ctx, orderNumberDocument{OrderID: orderID, ClaimedAt: at.UTC()})
	return pfirestore.WrapError("orderNumbers.claim", err)
}
