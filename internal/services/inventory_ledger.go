package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/platform/observability"
	"github.com/hanko-field/fulfillment/internal/repositories"
)

const (
	ledgerEventReserved        = "inventory.reserved"
	ledgerEventReserveConflict = "inventory.reserve.conflict"
	ledgerEventRollbackFailed  = "inventory.rollback.failed"
	ledgerEventReleased        = "inventory.released"
	ledgerEventAdjusted        = "inventory.adjusted"

	rollbackNote         = "rollback"
	defaultHistoryLimit  = 50
	defaultLowStockLimit = 100
	maxLedgerPageSize    = 500
)

// StockLine is a quantity requested against one inventory item.
type StockLine struct {
	Key      domain.StockKey
	Quantity int
}

// LedgerRef describes who moved stock and why.
type LedgerRef struct {
	OrderID string
	Actor   string
	Reason  domain.AdjustmentReason
	Note    string
}

// AdjustStockCommand is a manual correction issued by an operator.
type AdjustStockCommand struct {
	Key           domain.StockKey
	Delta         int64
	Note          string
	Actor         domain.Actor
	AllowNegative bool
}

// InventoryLedgerDeps bundles collaborators required to construct the ledger.
type InventoryLedgerDeps struct {
	Inventory         repositories.InventoryRepository
	LowStockThreshold int64
	Clock             func() time.Time
	IDGenerator       func() string
	Logger            func(ctx context.Context, event string, fields map[string]any)
}

// InventoryLedger is the only writer of stock. Each line is one conditional repository
// update; multi-line reservations are compensated on failure.
type InventoryLedger struct {
	repo      repositories.InventoryRepository
	threshold int64
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
	conflicts metric.Int64Counter
}

// NewInventoryLedger wires dependencies into the ledger.
func NewInventoryLedger(deps InventoryLedgerDeps) (*InventoryLedger, error) {
	if deps.Inventory == nil {
		return nil, errors.New("inventory ledger: inventory repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	conflicts, err := observability.Meter("inventory").Int64Counter(
		"inventory.reservation.conflicts",
		metric.WithDescription("Reservations rejected because stock ran out"),
	)
	if err != nil {
		return nil, fmt.Errorf("inventory ledger: create conflict counter: %w", err)
	}

	return &InventoryLedger{
		repo:      deps.Inventory,
		threshold: deps.LowStockThreshold,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:     idGen,
		logger:    logger,
		conflicts: conflicts,
	}, nil
}

// Reserve decrements stock for every line or for none. Lines for the same key are merged
// and applied in key order. On failure the lines already applied are restored, newest first,
// before the error is returned.
func (l *InventoryLedger) Reserve(ctx context.Context, lines []StockLine, ref LedgerRef) error {
	merged, err := mergeStockLines(lines)
	if err != nil {
		return err
	}
	if ref.Reason == "" {
		ref.Reason = domain.AdjustmentReasonOrderCreate
	}

	applied := make([]StockLine, 0, len(merged))
	for _, line := range merged {
		qty := int64(line.Quantity)
		_, err := l.repo.Apply(ctx, repositories.StockMutation{
			Key:          line.Key,
			Delta:        -qty,
			SalesDelta:   qty,
			Reason:       ref.Reason,
			Actor:        ref.Actor,
			OrderID:      ref.OrderID,
			Note:         ref.Note,
			AdjustmentID: l.newID(),
			At:           l.clock(),
		})
		if err == nil {
			applied = append(applied, line)
			continue
		}

		mapped := mapInventoryError(err, line.Key)
		if errors.Is(mapped, ErrInsufficientStock) {
			l.conflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("product_id", line.Key.ProductID)))
			l.logger(ctx, ledgerEventReserveConflict, map[string]any{
				"orderId":  ref.OrderID,
				"stockKey": line.Key.String(),
				"quantity": line.Quantity,
			})
		}
		l.compensate(ctx, applied, ref)
		return mapped
	}

	l.logger(ctx, ledgerEventReserved, map[string]any{
		"orderId": ref.OrderID,
		"lines":   len(merged),
	})
	return nil
}

func (l *InventoryLedger) compensate(ctx context.Context, applied []StockLine, ref LedgerRef) {
	for i := len(applied) - 1; i >= 0; i-- {
		line := applied[i]
		if err := l.restore(ctx, line, ref, rollbackNote); err != nil {
			l.logger(ctx, ledgerEventRollbackFailed, map[string]any{
				"orderId":  ref.OrderID,
				"stockKey": line.Key.String(),
				"quantity": line.Quantity,
				"severity": "error",
				"error":    err,
			})
		}
	}
}

// Release returns stock for every line unconditionally. Every line is attempted; failures
// are joined into the returned error.
func (l *InventoryLedger) Release(ctx context.Context, lines []StockLine, ref LedgerRef) error {
	merged, err := mergeStockLines(lines)
	if err != nil {
		return err
	}
	if !ref.Reason.Valid() {
		return fmt.Errorf("%w: release reason is required", ErrInvalidInput)
	}

	var errs []error
	for _, line := range merged {
		if err := l.restore(ctx, line, ref, ref.Note); err != nil {
			errs = append(errs, mapInventoryError(err, line.Key))
		}
	}
	l.logger(ctx, ledgerEventReleased, map[string]any{
		"orderId": ref.OrderID,
		"reason":  string(ref.Reason),
		"lines":   len(merged),
		"failed":  len(errs),
	})
	return errors.Join(errs...)
}

func (l *InventoryLedger) restore(ctx context.Context, line StockLine, ref LedgerRef, note string) error {
	qty := int64(line.Quantity)
	_, err := l.repo.Apply(ctx, repositories.StockMutation{
		Key:           line.Key,
		Delta:         qty,
		SalesDelta:    -qty,
		Reason:        ref.Reason,
		Actor:         ref.Actor,
		OrderID:       ref.OrderID,
		Note:          note,
		AdjustmentID:  l.newID(),
		AllowNegative: true,
		At:            l.clock(),
	})
	return err
}

// Adjust applies a manual correction. Negative results require AllowNegative.
func (l *InventoryLedger) Adjust(ctx context.Context, cmd AdjustStockCommand) (domain.StockAdjustment, error) {
	if !cmd.Actor.IsOperator() {
		return domain.StockAdjustment{}, fmt.Errorf("%w: stock adjustments require an operator", ErrForbidden)
	}
	key := normaliseStockKey(cmd.Key)
	if key.ProductID == "" {
		return domain.StockAdjustment{}, fmt.Errorf("%w: product id is required", ErrInvalidInput)
	}
	if cmd.Delta == 0 {
		return domain.StockAdjustment{}, fmt.Errorf("%w: delta must not be zero", ErrInvalidInput)
	}

	adjustment, err := l.repo.Apply(ctx, repositories.StockMutation{
		Key:           key,
		Delta:         cmd.Delta,
		Reason:        domain.AdjustmentReasonManualAdjustment,
		Actor:         cmd.Actor.Label(),
		Note:          strings.TrimSpace(cmd.Note),
		AdjustmentID:  l.newID(),
		AllowNegative: cmd.AllowNegative,
		At:            l.clock(),
	})
	if err != nil {
		return domain.StockAdjustment{}, mapInventoryError(err, key)
	}
	l.logger(ctx, ledgerEventAdjusted, map[string]any{
		"stockKey": key.String(),
		"delta":    cmd.Delta,
		"newStock": adjustment.NewStock,
		"actor":    adjustment.Actor,
	})
	return adjustment, nil
}

// History returns the newest adjustments for key.
func (l *InventoryLedger) History(ctx context.Context, key domain.StockKey, limit int) ([]domain.StockAdjustment, error) {
	key = normaliseStockKey(key)
	if key.ProductID == "" {
		return nil, fmt.Errorf("%w: product id is required", ErrInvalidInput)
	}
	history, err := l.repo.ListAdjustments(ctx, key, clampLimit(limit, defaultHistoryLimit))
	if err != nil {
		return nil, mapInventoryError(err, key)
	}
	return history, nil
}

// LowStock lists items at or below the configured threshold.
func (l *InventoryLedger) LowStock(ctx context.Context, limit int) ([]domain.InventoryItem, error) {
	items, err := l.repo.ListLowStock(ctx, l.threshold, clampLimit(limit, defaultLowStockLimit))
	if err != nil {
		return nil, mapRepositoryError(err, ErrStockNotFound)
	}
	return items, nil
}

func mergeStockLines(lines []StockLine) ([]StockLine, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: no stock lines", ErrInvalidInput)
	}
	totals := make(map[domain.StockKey]int, len(lines))
	for _, line := range lines {
		key := normaliseStockKey(line.Key)
		if key.ProductID == "" {
			return nil, fmt.Errorf("%w: product id is required", ErrInvalidInput)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for %s must be positive", ErrInvalidInput, key)
		}
		totals[key] += line.Quantity
	}
	merged := make([]StockLine, 0, len(totals))
	for key, qty := range totals {
		merged = append(merged, StockLine{Key: key, Quantity: qty})
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Key.Less(merged[j].Key)
	})
	return merged, nil
}

func normaliseStockKey(key domain.StockKey) domain.StockKey {
	return domain.StockKey{
		ProductID: strings.TrimSpace(key.ProductID),
		VariantID: strings.TrimSpace(key.VariantID),
	}
}

func mapInventoryError(err error, key domain.StockKey) error {
	if err == nil {
		return nil
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorInsufficientStock:
			return fmt.Errorf("%w: %s has %d available", ErrInsufficientStock, key, invErr.Available)
		case repositories.InventoryErrorStockNotFound:
			return fmt.Errorf("%w: %s", ErrStockNotFound, key)
		case repositories.InventoryErrorInvalidMutation:
			return fmt.Errorf("%w: %s", ErrInvalidInput, invErr.Message)
		}
	}
	return mapRepositoryError(err, ErrStockNotFound)
}

func clampLimit(limit, fallback int) int {
	switch {
	case limit <= 0:
		return fallback
	case limit > maxLedgerPageSize:
		return maxLedgerPageSize
	}
	return limit
}

func stockLinesFor(items []domain.OrderItem) []StockLine {
	lines := make([]StockLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, StockLine{Key: item.Key(), Quantity: item.Quantity})
	}
	return lines
}
