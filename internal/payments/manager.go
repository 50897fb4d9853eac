package payments

import (
	"context"
	"fmt"
	"slices"

	"github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/services"
)

// Logger receives structured gateway events.
type Logger func(ctx context.Context, event string, fields map[string]any)

func nopLogger(context.Context, string, map[string]any) {}

// Manager routes each online payment method to its gateway adapter.
type Manager struct {
	gateways map[domain.PaymentMethod]services.PaymentGateway
}

var _ services.GatewayRouter = (*Manager)(nil)

// NewManager constructs a Manager over the supplied gateways. Methods without a gateway are
// reported as unsupported by the payment service.
func NewManager(gateways map[domain.PaymentMethod]services.PaymentGateway) (*Manager, error) {
	registered := make(map[domain.PaymentMethod]services.PaymentGateway, len(gateways))
	for method, gateway := range gateways {
		if !method.Online() || gateway == nil {
			return nil, fmt.Errorf("payments: invalid gateway registration for method %q", method)
		}
		registered[method] = gateway
	}
	return &Manager{gateways: registered}, nil
}

// Gateway returns the adapter registered for method.
func (m *Manager) Gateway(method domain.PaymentMethod) (services.PaymentGateway, bool) {
	if m == nil {
		return nil, false
	}
	gateway, ok := m.gateways[method]
	return gateway, ok
}

// Methods lists the registered methods in a stable order.
func (m *Manager) Methods() []domain.PaymentMethod {
	if m == nil {
		return nil
	}
	methods := make([]domain.PaymentMethod, 0, len(m.gateways))
	for method := range m.gateways {
		methods = append(methods, method)
	}
	slices.Sort(methods)
	return methods
}
