//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hanko-field/fulfillment/internal/domain"
	pconfig "github.com/hanko-field/fulfillment/internal/platform/config"
	pfirestore "github.com/hanko-field/fulfillment/internal/platform/firestore"
	"github.com/hanko-field/fulfillment/internal/repositories"
)

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

func TestInventoryApplyIntegration(t *testing.T) {
	provider := startEmulatorProvider(t, "inventory-test")
	repo, err := NewInventoryRepository(provider)
	if err != nil {
		t.Fatalf("new inventory repository: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client, err := provider.Client(ctx)
	if err != nil {
		t.Fatalf("provider client: %v", err)
	}
	key := domain.StockKey{ProductID: "P1", VariantID: "large"}
	now := time.Now().UTC().Truncate(time.Second)
	if _, err := client.Collection(inventoryCollection).Doc(key.String()).Set(ctx, stockDocument{
		ProductID: "P1", VariantID: "large", Stock: 1, InitialStock: 1, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("seed stock: %v", err)
	}

	const buyers = 8
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		successes    int
		insufficient int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.Apply(ctx, repositories.StockMutation{
				Key:          key,
				Delta:        -1,
				SalesDelta:   1,
				Reason:       domain.AdjustmentReasonOrderCreate,
				Actor:        "customer:guest",
				OrderID:      fmt.Sprintf("o%d", i),
				AdjustmentID: fmt.Sprintf("adj-%d", i),
				At:           now,
			})
			mu.Lock()
			defer mu.Unlock()
			var invErr *repositories.InventoryError
			switch {
			case err == nil:
				successes++
			case errors.As(err, &invErr) && invErr.Code == repositories.InventoryErrorInsufficientStock:
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if successes != 1 || insufficient != buyers-1 {
		t.Fatalf("expected exactly one reservation, got %d successes and %d rejections", successes, insufficient)
	}
	item, err := repo.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if item.Stock != 0 || item.SalesCount != 1 {
		t.Fatalf("unexpected stock after race %+v", item)
	}
	history, err := repo.ListAdjustments(ctx, key, 10)
	if err != nil {
		t.Fatalf("list adjustments: %v", err)
	}
	if len(history) != 1 || history[0].PreviousStock != 1 || history[0].NewStock != 0 {
		t.Fatalf("expected a single balanced ledger entry, got %+v", history)
	}

	low, err := repo.ListLowStock(ctx, 0, 10)
	if err != nil || len(low) != 1 {
		t.Fatalf("expected item reported as low stock, got %v %v", low, err)
	}
}

func TestOrderRepositoryIntegration(t *testing.T) {
	provider := startEmulatorProvider(t, "orders-test")
	orders, _ := NewOrderRepository(provider)
	numbers, _ := NewOrderNumberRepository(provider)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Millisecond)
	order := domain.Order{
		ID:          "01HORDER",
		OrderNumber: "ORD-20240501-1234",
		Email:       "buyer@example.com",
		Status:      domain.OrderStatusPending,
		Currency:    "NGN",
		Items:       []domain.OrderItem{{ProductID: "P1", Name: "Tee", UnitPrice: 100000, Quantity: 2, Subtotal: 200000}},
		Totals:      domain.OrderTotals{Subtotal: 200000, ShippingFee: 150000, Total: 350000},
		Payment:     domain.PaymentInfo{Method: domain.PaymentMethodPaystack, Status: domain.PaymentStatusPending, Reference: "ORD-20240501-1234"},
		Timeline:    []domain.TimelineEntry{{Status: domain.OrderStatusPending, Actor: "customer:guest", At: now}},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := numbers.Claim(ctx, order.OrderNumber, order.ID, now); err != nil {
		t.Fatalf("claim: %v", err)
	}
	var repoErr repositories.RepositoryError
	if err := numbers.Claim(ctx, order.OrderNumber, "other", now); !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict on second claim, got %v", err)
	}
	if err := orders.Insert(ctx, order); err != nil {
		t.Fatalf("insert: %v", err)
	}

	byRef, err := orders.FindByPaymentReference(ctx, order.Payment.Reference)
	if err != nil || byRef.ID != order.ID || !byRef.Totals.Balanced() {
		t.Fatalf("lookup by reference failed: %+v %v", byRef, err)
	}

	updated, err := orders.Mutate(ctx, order.ID, func(o *domain.Order) error {
		o.Status = domain.OrderStatusProcessing
		o.Timeline = append(o.Timeline, domain.TimelineEntry{Status: domain.OrderStatusProcessing, Actor: "gateway:payment-gateway", At: now})
		return nil
	})
	if err != nil || updated.Status != domain.OrderStatusProcessing || len(updated.Timeline) != 2 {
		t.Fatalf("mutate failed: %+v %v", updated, err)
	}

	pending, err := orders.ListPending(ctx, 10)
	if err != nil || len(pending) != 0 {
		t.Fatalf("expected no pending orders after transition, got %d %v", len(pending), err)
	}

	claimed := now.Add(time.Minute)
	stamped, err := orders.Mutate(ctx, order.ID, func(o *domain.Order) error {
		o.Payment.Attempts = 2
		o.Payment.RefundClaimedAt = &claimed
		o.ReconciledAt = claimed
		return nil
	})
	if err != nil {
		t.Fatalf("stamp: %v", err)
	}
	reloaded, err := orders.FindByID(ctx, order.ID)
	if err != nil || reloaded.Payment.Attempts != 2 || reloaded.Payment.RefundClaimedAt == nil || !reloaded.ReconciledAt.Equal(stamped.ReconciledAt) {
		t.Fatalf("expected payment bookkeeping persisted, got %+v %v", reloaded.Payment, err)
	}

	abort := errors.New("abort")
	if _, err := orders.Mutate(ctx, order.ID, func(o *domain.Order) error { return abort }); !errors.Is(err, abort) {
		t.Fatalf("expected mutator error to pass through, got %v", err)
	}
	if _, err := orders.Mutate(ctx, "missing", func(*domain.Order) error { return nil }); !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found, got %v", err)
	}
}

func startEmulatorProvider(t *testing.T, project string) *pfirestore.Provider {
	t.Helper()
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })
	waitForEndpoint(t, endpoint, 30*time.Second)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: project, EmulatorHost: endpoint})
	t.Cleanup(func() { _ = provider.Close() })
	return provider
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	out, err := exec.Command("docker", "run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080", "--quiet",
	).CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, "docker", "info").Run(); err != nil {
		t.Fatalf("docker daemon not available: %v", err)
	}
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = exec.CommandContext(ctx, "docker", "stop", id).Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("firestore emulator at %s did not become ready within %s", endpoint, timeout)
}
