package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/hanko-field/fulfillment/internal/platform/observability"
	"github.com/hanko-field/fulfillment/internal/repositories"
)

const (
	orderNumberEventCollision = "order.number.collision"
	orderNumberEventExhausted = "order.number.exhausted"

	orderNumberSuffixSpace = 10000
)

// OrderNumberGenerator issues PREFIX-YYYYMMDD-NNNN numbers, claiming each one in the store
// and retrying a bounded number of times on collision.
type OrderNumberGenerator struct {
	repo      repositories.OrderNumberRepository
	prefix    string
	attempts  int
	suffix    func() (int, error)
	logger    func(context.Context, string, map[string]any)
	exhausted metric.Int64Counter
}

func newOrderNumberGenerator(repo repositories.OrderNumberRepository, prefix string, attempts int, suffix func() (int, error), logger func(context.Context, string, map[string]any)) (*OrderNumberGenerator, error) {
	if repo == nil {
		return nil, errors.New("order number generator: repository is required")
	}
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		prefix = "ORD"
	}
	if attempts <= 0 {
		attempts = 5
	}
	if suffix == nil {
		suffix = randomOrderSuffix
	}
	exhausted, err := observability.Meter("orders").Int64Counter(
		"orders.number.exhausted",
		metric.WithDescription("Order creations that ran out of order number attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("order number generator: create counter: %w", err)
	}
	return &OrderNumberGenerator{
		repo:      repo,
		prefix:    prefix,
		attempts:  attempts,
		suffix:    suffix,
		logger:    logger,
		exhausted: exhausted,
	}, nil
}

// Next claims a fresh number for orderID.
func (g *OrderNumberGenerator) Next(ctx context.Context, orderID string, now time.Time) (string, error) {
	day := now.UTC().Format("20060102")
	for attempt := 1; attempt <= g.attempts; attempt++ {
		n, err := g.suffix()
		if err != nil {
			return "", fmt.Errorf("order number: random suffix: %w", err)
		}
		number := fmt.Sprintf("%s-%s-%04d", g.prefix, day, n%orderNumberSuffixSpace)

		err = g.repo.Claim(ctx, number, orderID, now)
		if err == nil {
			return number, nil
		}
		var repoErr repositories.RepositoryError
		if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
			return "", mapRepositoryError(err, ErrOrderNotFound)
		}
		g.logger(ctx, orderNumberEventCollision, map[string]any{
			"orderId": orderID,
			"number":  number,
			"attempt": attempt,
		})
	}

	g.exhausted.Add(ctx, 1)
	g.logger(ctx, orderNumberEventExhausted, map[string]any{
		"orderId":  orderID,
		"attempts": g.attempts,
		"severity": "error",
	})
	return "", fmt.Errorf("%w: %d attempts for %s", ErrOrderNumberExhausted, g.attempts, day)
}

func randomOrderSuffix() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(orderNumberSuffixSpace))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}
