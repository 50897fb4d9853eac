package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"slices"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	"github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/repositories"
)

const (
	orderEventCreated        = "order.created"
	orderEventStatusChanged  = "order.status.changed"
	orderEventCancelled      = "order.cancelled"
	orderEventNoteAdded      = "order.note.added"
	orderEventRollbackFailed = "order.reservation.rollback.failed"
	orderEventRestockFailed  = "order.restock.failed"
	orderEventPersistFailed  = "order.persist.failed"

	orderEventInsertRecovered  = "order.persist.recovered"
	orderEventInsertUnresolved = "order.persist.unresolved"

	maxNoteLength      = 2000
	insertCheckTimeout = 10 * time.Second
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders            repositories.OrderRepository
	Numbers           repositories.OrderNumberRepository
	Catalog           *CatalogReader
	Ledger            *InventoryLedger
	Settings          domain.CommerceSettings
	OrderNumberSuffix func() (int, error)
	Clock             func() time.Time
	IDGenerator       func() string
	Logger            func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders  repositories.OrderRepository
	catalog *CatalogReader
	ledger  *InventoryLedger
	rates   *RateResolver
	numbers *OrderNumberGenerator
	policy  *bluemonday.Policy
	clock   func() time.Time
	newID   func() string
	logger  func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("order service: catalog reader is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("order service: inventory ledger is required")
	}
	if strings.TrimSpace(deps.Settings.Currency) == "" {
		return nil, errors.New("order service: settings currency is required")
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

	numbers, err := newOrderNumberGenerator(deps.Numbers, deps.Settings.OrderNumbers.Prefix, deps.Settings.OrderNumbers.MaxAttempts, deps.OrderNumberSuffix, logger)
	if err != nil {
		return nil, fmt.Errorf("order service: %w", err)
	}

	return &orderService{
		orders:  deps.Orders,
		catalog: deps.Catalog,
		ledger:  deps.Ledger,
		rates:   NewRateResolver(deps.Settings),
		numbers: numbers,
		policy:  bluemonday.StrictPolicy(),
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error) {
	if err := normaliseCreateOrder(&cmd); err != nil {
		return domain.Order{}, err
	}

	option, err := s.rates.SelectRate(cmd.ShippingAddress.Region, cmd.ShippingRateID)
	if err != nil {
		return domain.Order{}, err
	}

	lines := mergeCartLines(cmd.Items)
	keys := make([]domain.StockKey, len(lines))
	for i, line := range lines {
		keys[i] = line.Key
	}
	snapshots, err := s.catalog.Snapshot(ctx, keys)
	if err != nil {
		return domain.Order{}, err
	}

	items := make([]domain.OrderItem, len(lines))
	var subtotal int64
	for i, line := range lines {
		snap := snapshots[i]
		if int64(line.Quantity) > snap.AvailableStock {
			return domain.Order{}, fmt.Errorf("%w: %s requested %d, available %d", ErrInsufficientStock, line.Key, line.Quantity, snap.AvailableStock)
		}
		lineTotal := snap.EffectivePrice * int64(line.Quantity)
		items[i] = domain.OrderItem{
			ProductID: line.Key.ProductID,
			VariantID: line.Key.VariantID,
			Name:      snap.Name,
			UnitPrice: snap.EffectivePrice,
			Quantity:  line.Quantity,
			Subtotal:  lineTotal,
			ImageRef:  snap.ImageRef,
		}
		subtotal += lineTotal
	}

	shipping := s.rates.Quote(option, subtotal)
	tax, taxRate := s.rates.ResolveTax(subtotal)
	totals := domain.OrderTotals{
		Subtotal:    subtotal,
		ShippingFee: shipping.Charged,
		Tax:         tax,
		TaxRate:     taxRate,
	}
	totals.Total = totals.Subtotal + totals.ShippingFee + totals.Tax - totals.Discount

	now := s.now()
	orderID := s.newID()
	actor := cmd.Actor.Label()
	ref := LedgerRef{OrderID: orderID, Actor: actor, Reason: domain.AdjustmentReasonOrderCreate}

	if err := s.ledger.Reserve(ctx, lines, ref); err != nil {
		return domain.Order{}, err
	}

	number, err := s.numbers.Next(ctx, orderID, now)
	if err != nil {
		s.rollbackReservation(ctx, lines, ref, err)
		return domain.Order{}, err
	}

	order := domain.Order{
		ID:              orderID,
		OrderNumber:     number,
		Email:           cmd.Email,
		Status:          domain.OrderStatusPending,
		Currency:        s.rates.Currency(),
		Items:           items,
		Totals:          totals,
		ShippingAddress: cmd.ShippingAddress,
		ShippingMethod:  shipping,
		Payment: domain.PaymentInfo{
			Method: cmd.PaymentMethod,
			Status: domain.PaymentStatusPending,
		},
		Timeline: []domain.TimelineEntry{{
			Status: domain.OrderStatusPending,
			Note:   "Order placed",
			Actor:  actor,
			At:     now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if cmd.Actor.Role == domain.ActorCustomer && cmd.Actor.ID != "" {
		userID := cmd.Actor.ID
		order.UserID = &userID
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		stored, err := s.resolveFailedInsert(ctx, order.ID, lines, ref, err)
		if err != nil {
			return domain.Order{}, err
		}
		order = stored
	}

	s.logger(ctx, orderEventCreated, map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"total":       order.Totals.Total,
		"currency":    order.Currency,
		"lines":       len(order.Items),
	})
	return order, nil
}

// resolveFailedInsert releases the reservation only when the order is known not to have
// been written. A timeout or unavailable store may still have committed the insert, so
// the order is read back first.
func (s *orderService) resolveFailedInsert(ctx context.Context, orderID string, lines []StockLine, ref LedgerRef, cause error) (domain.Order, error) {
	s.logger(ctx, orderEventPersistFailed, map[string]any{"orderId": orderID, "error": cause})
	if !ambiguousWrite(cause) {
		s.rollbackReservation(ctx, lines, ref, cause)
		return domain.Order{}, mapRepositoryError(cause, ErrOrderNotFound)
	}

	checkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), insertCheckTimeout)
	defer cancel()
	stored, err := s.orders.FindByID(checkCtx, orderID)
	if err == nil {
		s.logger(ctx, orderEventInsertRecovered, map[string]any{"orderId": orderID, "cause": cause.Error()})
		return stored, nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		s.rollbackReservation(checkCtx, lines, ref, cause)
		return domain.Order{}, mapRepositoryError(cause, ErrOrderNotFound)
	}
	s.logger(ctx, orderEventInsertUnresolved, map[string]any{
		"orderId":  orderID,
		"cause":    cause.Error(),
		"severity": "error",
		"error":    err,
	})
	return domain.Order{}, fmt.Errorf("%w: order %s may have been saved; stock stays reserved: %v", ErrUnavailable, orderID, cause)
}

// ambiguousWrite reports whether a failed write may nevertheless have been applied.
func ambiguousWrite(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && (repoErr.IsUnavailable() || repoErr.IsConflict())
}

func (s *orderService) rollbackReservation(ctx context.Context, lines []StockLine, ref LedgerRef, cause error) {
	ref.Note = rollbackNote
	if err := s.ledger.Release(ctx, lines, ref); err != nil {
		s.logger(ctx, orderEventRollbackFailed, map[string]any{
			"orderId":  ref.OrderID,
			"cause":    cause.Error(),
			"severity": "error",
			"error":    err,
		})
	}
}

func (s *orderService) GetOrder(ctx context.Context, query OrderQuery) (domain.Order, error) {
	order, err := loadOrder(ctx, s.orders, query.OrderID)
	if err != nil {
		return domain.Order{}, err
	}
	if err := authorizeOrderAccess(order, query.Actor, query.Email); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (s *orderService) Tracking(ctx context.Context, query OrderQuery) (OrderTracking, error) {
	order, err := s.GetOrder(ctx, query)
	if err != nil {
		return OrderTracking{}, err
	}
	return OrderTracking{
		OrderNumber: order.OrderNumber,
		Status:      order.Status,
		Timeline:    slices.Clone(order.Timeline),
	}, nil
}

func (s *orderService) ShippingRates(_ context.Context, region string) ([]ShippingOption, error) {
	if strings.TrimSpace(region) == "" {
		return nil, fmt.Errorf("%w: region is required", ErrInvalidInput)
	}
	return s.rates.RatesForRegion(region)
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd TransitionStatusCommand) (domain.Order, error) {
	if !privileged(cmd.Actor) {
		return domain.Order{}, fmt.Errorf("%w: status changes require an operator", ErrForbidden)
	}
	target := domain.OrderStatus(strings.ToLower(strings.TrimSpace(string(cmd.Status))))
	if !ValidStatus(target) {
		return domain.Order{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, cmd.Status)
	}
	switch target {
	case domain.OrderStatusRefunded:
		return domain.Order{}, fmt.Errorf("%w: refunds must be processed through the refund operation", ErrInvalidTransition)
	case domain.OrderStatusCancelled:
		return s.Cancel(ctx, CancelOrderCommand{OrderID: cmd.OrderID, Reason: cmd.Note, Actor: cmd.Actor})
	}

	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}
	note := s.sanitize(cmd.Note)
	actor := cmd.Actor.Label()
	now := s.now()

	var previous domain.OrderStatus
	var changed bool
	order, err := s.orders.Mutate(ctx, orderID, func(o *domain.Order) error {
		previous = o.Status
		if target == domain.OrderStatusProcessing && o.Payment.Status != domain.PaymentStatusPaid {
			return fmt.Errorf("%w: payment for %s is not confirmed", ErrInvalidTransition, o.OrderNumber)
		}
		var err error
		changed, err = applyTransition(o, target, actor, note, now)
		return err
	})
	if err != nil {
		return domain.Order{}, mapRepositoryError(err, ErrOrderNotFound)
	}
	if changed {
		s.logger(ctx, orderEventStatusChanged, map[string]any{
			"orderId": order.ID,
			"from":    string(previous),
			"to":      string(order.Status),
			"actor":   actor,
		})
	}
	return order, nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (domain.Order, error) {
	order, err := loadOrder(ctx, s.orders, cmd.OrderID)
	if err != nil {
		return domain.Order{}, err
	}
	if err := authorizeCancel(order, cmd.Actor); err != nil {
		return domain.Order{}, err
	}
	if !cancellable(order.Status) {
		return domain.Order{}, fmt.Errorf("%w: order is %s", ErrOrderNotCancellable, order.Status)
	}

	actor := cmd.Actor.Label()
	reason := s.sanitize(cmd.Reason)
	content := "Order cancelled by " + actor
	if reason != "" {
		content += ": " + reason
	}
	noteID := s.newID()
	now := s.now()

	var restock bool
	updated, err := s.orders.Mutate(ctx, order.ID, func(o *domain.Order) error {
		restock = false
		if !cancellable(o.Status) {
			return fmt.Errorf("%w: order is %s", ErrOrderNotCancellable, o.Status)
		}
		if _, err := applyTransition(o, domain.OrderStatusCancelled, actor, reason, now); err != nil {
			return err
		}
		restock = !o.Restocked
		o.Restocked = true
		o.Notes = append(o.Notes, domain.OrderNote{
			ID:        noteID,
			Content:   content,
			Actor:     actor,
			CreatedAt: now,
		})
		return nil
	})
	if err != nil {
		return domain.Order{}, mapRepositoryError(err, ErrOrderNotFound)
	}

	if restock {
		ref := LedgerRef{OrderID: updated.ID, Actor: actor, Reason: domain.AdjustmentReasonOrderCancel}
		if err := s.ledger.Release(ctx, stockLinesFor(updated.Items), ref); err != nil {
			updated = s.recordRestockFailure(ctx, updated, err)
		}
	}

	s.logger(ctx, orderEventCancelled, map[string]any{
		"orderId": updated.ID,
		"actor":   actor,
		"restock": restock,
	})
	return updated, nil
}

// recordRestockFailure keeps the cancellation and leaves an internal note so an operator
// can correct stock by hand.
func (s *orderService) recordRestockFailure(ctx context.Context, order domain.Order, cause error) domain.Order {
	s.logger(ctx, orderEventRestockFailed, map[string]any{
		"orderId":  order.ID,
		"severity": "error",
		"error":    cause,
	})
	noted, err := appendInternalNote(ctx, s.orders, order.ID, s.newID(), "Stock release failed: "+cause.Error(), domain.SystemActor.Label(), s.now())
	if err != nil {
		return order
	}
	return noted
}

func (s *orderService) AddNote(ctx context.Context, cmd AddNoteCommand) (domain.Order, error) {
	content := s.sanitize(cmd.Content)
	if content == "" {
		return domain.Order{}, fmt.Errorf("%w: note content is required", ErrInvalidInput)
	}
	if len([]rune(content)) > maxNoteLength {
		return domain.Order{}, fmt.Errorf("%w: note exceeds %d characters", ErrInvalidInput, maxNoteLength)
	}

	order, err := loadOrder(ctx, s.orders, cmd.OrderID)
	if err != nil {
		return domain.Order{}, err
	}
	internal := cmd.Internal
	if !privileged(cmd.Actor) {
		if !order.OwnedBy(cmd.Actor.ID) {
			return domain.Order{}, accessError(cmd.Actor)
		}
		internal = false
	}

	actor := cmd.Actor.Label()
	note := domain.OrderNote{
		ID:        s.newID(),
		Content:   content,
		Actor:     actor,
		Internal:  internal,
		CreatedAt: s.now(),
	}
	updated, err := s.orders.Mutate(ctx, order.ID, func(o *domain.Order) error {
		o.Notes = append(o.Notes, note)
		o.UpdatedAt = note.CreatedAt
		return nil
	})
	if err != nil {
		return domain.Order{}, mapRepositoryError(err, ErrOrderNotFound)
	}
	s.logger(ctx, orderEventNoteAdded, map[string]any{
		"orderId":  updated.ID,
		"actor":    actor,
		"internal": internal,
	})
	return updated, nil
}

func (s *orderService) sanitize(content string) string {
	return strings.TrimSpace(s.policy.Sanitize(strings.TrimSpace(content)))
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func normaliseCreateOrder(cmd *CreateOrderCommand) error {
	if len(cmd.Items) == 0 {
		return fmt.Errorf("%w: cart is empty", ErrInvalidInput)
	}
	for i := range cmd.Items {
		item := &cmd.Items[i]
		item.ProductID = strings.TrimSpace(item.ProductID)
		item.VariantID = strings.TrimSpace(item.VariantID)
		if item.ProductID == "" {
			return fmt.Errorf("%w: items[%d].productId is required", ErrInvalidInput, i)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: items[%d].quantity must be positive", ErrInvalidInput, i)
		}
	}

	addr := &cmd.ShippingAddress
	addr.Recipient = strings.TrimSpace(addr.Recipient)
	addr.Email = strings.TrimSpace(addr.Email)
	addr.Line1 = strings.TrimSpace(addr.Line1)
	addr.City = strings.TrimSpace(addr.City)
	addr.Region = strings.TrimSpace(addr.Region)
	switch {
	case addr.Recipient == "":
		return fmt.Errorf("%w: shipping recipient is required", ErrInvalidInput)
	case addr.Line1 == "":
		return fmt.Errorf("%w: shipping address line is required", ErrInvalidInput)
	case addr.City == "":
		return fmt.Errorf("%w: shipping city is required", ErrInvalidInput)
	case addr.Region == "":
		return fmt.Errorf("%w: shipping region is required", ErrInvalidInput)
	}

	email := strings.TrimSpace(cmd.Email)
	if email == "" {
		email = addr.Email
	}
	parsed, err := mail.ParseAddress(email)
	if email == "" || err != nil {
		return fmt.Errorf("%w: a valid contact email is required", ErrInvalidInput)
	}
	cmd.Email = strings.ToLower(parsed.Address)
	if addr.Email == "" {
		addr.Email = cmd.Email
	}

	if !cmd.PaymentMethod.Valid() {
		return fmt.Errorf("%w: unknown payment method %q", ErrInvalidInput, cmd.PaymentMethod)
	}
	if strings.TrimSpace(cmd.ShippingRateID) == "" {
		return fmt.Errorf("%w: shipping rate id is required", ErrInvalidInput)
	}
	return nil
}

// mergeCartLines folds duplicate keys while keeping first-seen order.
func mergeCartLines(items []CartLine) []StockLine {
	index := make(map[domain.StockKey]int, len(items))
	lines := make([]StockLine, 0, len(items))
	for _, item := range items {
		key := domain.StockKey{ProductID: item.ProductID, VariantID: item.VariantID}
		if i, ok := index[key]; ok {
			lines[i].Quantity += item.Quantity
			continue
		}
		index[key] = len(lines)
		lines = append(lines, StockLine{Key: key, Quantity: item.Quantity})
	}
	return lines
}

func loadOrder(ctx context.Context, orders repositories.OrderRepository, ref string) (domain.Order, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}
	order, err := orders.FindByID(ctx, ref)
	if err == nil {
		return order, nil
	}
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		return domain.Order{}, mapRepositoryError(err, ErrOrderNotFound)
	}
	order, err = orders.FindByNumber(ctx, ref)
	if err != nil {
		return domain.Order{}, mapRepositoryError(err, ErrOrderNotFound)
	}
	return order, nil
}

func appendInternalNote(ctx context.Context, orders repositories.OrderRepository, orderID, noteID, content, actor string, now time.Time) (domain.Order, error) {
	return orders.Mutate(ctx, orderID, func(o *domain.Order) error {
		o.Notes = append(o.Notes, domain.OrderNote{
			ID:        noteID,
			Content:   content,
			Actor:     actor,
			Internal:  true,
			CreatedAt: now,
		})
		o.UpdatedAt = now
		return nil
	})
}

func privileged(actor domain.Actor) bool {
	return actor.IsOperator() || actor.Role == domain.ActorSystem
}

func accessError(actor domain.Actor) error {
	if actor.ID == "" {
		return ErrUnauthorized
	}
	return fmt.Errorf("%w: order belongs to another buyer", ErrForbidden)
}

func authorizeOrderAccess(order domain.Order, actor domain.Actor, email string) error {
	if privileged(actor) || order.OwnedBy(actor.ID) {
		return nil
	}
	if order.Guest() && email != "" && strings.EqualFold(strings.TrimSpace(email), order.Email) {
		return nil
	}
	return accessError(actor)
}

func authorizeCancel(order domain.Order, actor domain.Actor) error {
	if privileged(actor) || order.OwnedBy(actor.ID) {
		return nil
	}
	if actor.ID == "" {
		return ErrUnauthorized
	}
	if order.Guest() {
		return fmt.Errorf("%w: guest orders are cancelled by an operator", ErrForbidden)
	}
	return accessError(actor)
}
