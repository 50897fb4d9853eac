package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/repositories"
)

func TestInventoryApplyKeepsLedgerConsistent(t *testing.T) {
	repo := NewInventoryRepository()
	key := domain.StockKey{ProductID: "p1", VariantID: "red"}
	repo.Put(domain.InventoryItem{ProductID: "p1", VariantID: "red", Stock: 3})
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	deltas := []int64{-2, 5, -6}
	for i, delta := range deltas {
		_, err := repo.Apply(ctx, repositories.StockMutation{
			Key:          key,
			Delta:        delta,
			Reason:       domain.AdjustmentReasonManualAdjustment,
			AdjustmentID: string(rune('a' + i)),
			At:           at,
		})
		if err != nil {
			t.Fatalf("apply %d: %v", delta, err)
		}
	}

	item, _ := repo.Get(ctx, key)
	history, _ := repo.ListAdjustments(ctx, key, 0)
	var sum int64
	for _, adj := range history {
		if adj.NewStock != adj.PreviousStock+adj.Delta {
			t.Fatalf("adjustment %s does not balance: %+v", adj.ID, adj)
		}
		sum += adj.Delta
	}
	if item.Stock != item.InitialStock+sum {
		t.Fatalf("stock %d != initial %d + deltas %d", item.Stock, item.InitialStock, sum)
	}
	if history[0].ID != "c" {
		t.Fatalf("expected newest adjustment first, got %s", history[0].ID)
	}
}

func TestInventoryApplyRejectsOversell(t *testing.T) {
	repo := NewInventoryRepository()
	key := domain.StockKey{ProductID: "p1"}
	repo.Put(domain.InventoryItem{ProductID: "p1", Stock: 1})

	_, err := repo.Apply(context.Background(), repositories.StockMutation{
		Key: key, Delta: -2, Reason: domain.AdjustmentReasonOrderCreate, AdjustmentID: "x",
	})
	var invErr *repositories.InventoryError
	if !errors.As(err, &invErr) || invErr.Code != repositories.InventoryErrorInsufficientStock || invErr.Available != 1 {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}
	if history, _ := repo.ListAdjustments(context.Background(), key, 0); len(history) != 0 {
		t.Fatalf("failed mutation must not append a ledger entry, got %d", len(history))
	}

	if _, err := repo.Apply(context.Background(), repositories.StockMutation{
		Key: key, Delta: -2, Reason: domain.AdjustmentReasonManualAdjustment, AdjustmentID: "y", AllowNegative: true,
	}); err != nil {
		t.Fatalf("expected override to permit negative stock: %v", err)
	}
}

func TestOrderMutateDiscardsFailedEdits(t *testing.T) {
	repo := NewOrderRepository()
	ctx := context.Background()
	if err := repo.Insert(ctx, domain.Order{ID: "o1", Status: domain.OrderStatusPending}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_, err := repo.Mutate(ctx, "o1", func(o *domain.Order) error {
		o.Status = domain.OrderStatusCancelled
		o.Notes = append(o.Notes, domain.OrderNote{ID: "n1"})
		return errors.New("abort")
	})
	if err == nil {
		t.Fatal("expected mutator error")
	}
	stored, _ := repo.FindByID(ctx, "o1")
	if stored.Status != domain.OrderStatusPending || len(stored.Notes) != 0 {
		t.Fatalf("failed mutation leaked into store: %+v", stored)
	}

	var repoErr repositories.RepositoryError
	if _, err := repo.Mutate(ctx, "missing", func(*domain.Order) error { return nil }); !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOrderNumberClaimConflicts(t *testing.T) {
	repo := NewOrderNumberRepository()
	ctx := context.Background()
	if err := repo.Claim(ctx, "ORD-20240101-0001", "o1", time.Now()); err != nil {
		t.Fatalf("claim: %v", err)
	}
	var repoErr repositories.RepositoryError
	if err := repo.Claim(ctx, "ORD-20240101-0001", "o2", time.Now()); !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict, got %v", err)
	}
}
